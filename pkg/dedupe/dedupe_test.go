package dedupe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bugrelay/bugrelay/pkg/storage"
)

func TestFingerprintNormalization(t *testing.T) {
	tests := []struct {
		name string
		a    [3]string
		b    [3]string
		same bool
	}{
		{
			name: "identical",
			a:    [3]string{"Crash on save", "NPE in handler", "sig"},
			b:    [3]string{"Crash on save", "NPE in handler", "sig"},
			same: true,
		},
		{
			name: "case and whitespace insensitive",
			a:    [3]string{"Crash  on save", "NPE   in handler", ""},
			b:    [3]string{"crash on SAVE", " npe in handler ", ""},
			same: true,
		},
		{
			name: "different description",
			a:    [3]string{"Crash on save", "NPE in handler", ""},
			b:    [3]string{"Crash on save", "OOB in handler", ""},
			same: false,
		},
		{
			name: "field boundaries preserved",
			a:    [3]string{"ab", "c", ""},
			b:    [3]string{"a", "bc", ""},
			same: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fpA := Fingerprint(tt.a[0], tt.a[1], tt.a[2])
			fpB := Fingerprint(tt.b[0], tt.b[1], tt.b[2])
			if tt.same {
				assert.Equal(t, fpA, fpB)
			} else {
				assert.NotEqual(t, fpA, fpB)
			}
		})
	}
}

func TestIndexSuppressesWithinWindow(t *testing.T) {
	idx, err := NewIndex(&Config{WindowHours: 1}, storage.NewMemory())
	require.NoError(t, err)

	fp := Fingerprint("Crash on save", "NPE in handler", "")
	assert.False(t, idx.ShouldSuppress(fp))

	require.NoError(t, idx.Record(fp))
	assert.True(t, idx.ShouldSuppress(fp))
	assert.Equal(t, 1, idx.Count(fp))

	require.NoError(t, idx.Record(fp))
	assert.Equal(t, 2, idx.Count(fp))
}

func TestIndexWindowSlidesPerFingerprint(t *testing.T) {
	idx, err := NewIndex(&Config{WindowHours: 1}, nil)
	require.NoError(t, err)

	base := time.Now()
	idx.now = func() time.Time { return base }
	require.NoError(t, idx.Record("fp-1"))

	// Recording again later refreshes the expiry from the latest sighting
	idx.now = func() time.Time { return base.Add(50 * time.Minute) }
	require.NoError(t, idx.Record("fp-1"))
	assert.True(t, idx.ShouldSuppress("fp-1"))
	assert.Equal(t, 2, idx.Count("fp-1"))
}

func TestIndexReloadsPersistedEntries(t *testing.T) {
	store := storage.NewMemory()

	idx, err := NewIndex(&Config{WindowHours: 2}, store)
	require.NoError(t, err)
	require.NoError(t, idx.Record("fp-live"))

	// Simulated restart: a fresh index over the same storage
	reloaded, err := NewIndex(&Config{WindowHours: 2}, store)
	require.NoError(t, err)
	assert.True(t, reloaded.ShouldSuppress("fp-live"))
	assert.Equal(t, 1, reloaded.Count("fp-live"))
	assert.False(t, reloaded.ShouldSuppress("fp-never-seen"))
}

func TestIndexDropsExpiredOnReload(t *testing.T) {
	store := storage.NewMemory()

	idx, err := NewIndex(&Config{WindowHours: 1}, store)
	require.NoError(t, err)
	idx.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	require.NoError(t, idx.Record("fp-stale"))

	reloaded, err := NewIndex(&Config{WindowHours: 1}, store)
	require.NoError(t, err)
	assert.False(t, reloaded.ShouldSuppress("fp-stale"))

	// The stale record was also evicted from storage
	_, err = store.Get("dedupe/fp-stale")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
