package reporttypes

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCustomValueRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		value *CustomValue
		json  string
	}{
		{name: "null", value: NullValue(), json: `null`},
		{name: "string", value: StringValue("hello"), json: `"hello"`},
		{name: "int", value: IntValue(42), json: `42`},
		{name: "negative int", value: IntValue(-7), json: `-7`},
		{name: "float", value: FloatValue(3.5), json: `3.5`},
		{name: "bool", value: BoolValue(true), json: `true`},
		{
			name:  "list",
			value: ListValue(StringValue("a"), IntValue(1), NullValue()),
			json:  `["a",1,null]`,
		},
		{
			name: "nested map",
			value: MapValue(map[string]*CustomValue{
				"user":  StringValue("dana"),
				"count": IntValue(3),
				"extra": MapValue(map[string]*CustomValue{
					"flags": ListValue(BoolValue(false)),
				}),
			}),
			json: `{"count":3,"extra":{"flags":[false]},"user":"dana"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := json.Marshal(tt.value)
			require.NoError(t, err)
			assert.JSONEq(t, tt.json, string(encoded))

			var decoded CustomValue
			require.NoError(t, json.Unmarshal(encoded, &decoded))
			assert.Equal(t, tt.value, &decoded)
		})
	}
}

func TestCustomValueNumberDecoding(t *testing.T) {
	var v CustomValue

	require.NoError(t, json.Unmarshal([]byte(`3`), &v))
	assert.Equal(t, ValueInt, v.Kind)
	assert.Equal(t, int64(3), v.Int)

	require.NoError(t, json.Unmarshal([]byte(`3.0`), &v))
	assert.Equal(t, ValueFloat, v.Kind, "a fractional literal stays a float")

	require.NoError(t, json.Unmarshal([]byte(`1e2`), &v))
	assert.Equal(t, ValueFloat, v.Kind)
	assert.Equal(t, float64(100), v.Float)

	// Beyond int64: falls back to float rather than failing
	require.NoError(t, json.Unmarshal([]byte(`92233720368547758080`), &v))
	assert.Equal(t, ValueFloat, v.Kind)
}

func TestCustomValueRejectsInvalidInput(t *testing.T) {
	var v CustomValue
	assert.Error(t, json.Unmarshal([]byte(`{broken`), &v))

	_, err := json.Marshal(&CustomValue{Kind: ValueKind(99)})
	assert.Error(t, err, "an unknown kind must not serialize silently")
}
