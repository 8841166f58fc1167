package pii

import (
	"fmt"
	"regexp"
	"strconv"
)

// Kind identifies the category of PII a span belongs to
type Kind string

const (
	KindEmail      Kind = "email"
	KindPhone      Kind = "phone"
	KindSSN        Kind = "ssn"
	KindCreditCard Kind = "cc"
	KindIPv4       Kind = "ipv4"
	KindIPv6       Kind = "ipv6"
	KindAPIKey     Kind = "apikey"
	KindCustom     Kind = "custom"
)

// BuiltinKinds lists every built-in detector kind in default priority order
var BuiltinKinds = []Kind{
	KindCreditCard, KindSSN, KindEmail, KindIPv6, KindIPv4, KindAPIKey, KindPhone,
}

// Span is a contiguous text range identified as PII. Offsets are byte offsets
// into the scanned string.
type Span struct {
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Kind       Kind    `json:"kind"`
	Confidence float64 `json:"confidence"`
}

// Len returns the span length in bytes
func (s Span) Len() int { return s.End - s.Start }

// Overlaps reports whether two spans share at least one byte
func (s Span) Overlaps(other Span) bool {
	return s.Start < other.End && other.Start < s.End
}

// Detector finds sensitive spans in text. Spans returned by a single detector
// never overlap each other; cross-detector overlaps are resolved by the
// sanitizer.
type Detector interface {
	ID() string
	Kind() Kind
	Priority() int
	Match(text string) []Span
}

// regexDetector matches a compiled regex, optionally post-validating each match
type regexDetector struct {
	id         string
	kind       Kind
	priority   int
	confidence float64
	re         *regexp.Regexp
	validate   func(match string) bool
}

func (d *regexDetector) ID() string    { return d.id }
func (d *regexDetector) Kind() Kind    { return d.kind }
func (d *regexDetector) Priority() int { return d.priority }

func (d *regexDetector) Match(text string) []Span {
	locs := d.re.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return nil
	}
	spans := make([]Span, 0, len(locs))
	for _, loc := range locs {
		if d.validate != nil && !d.validate(text[loc[0]:loc[1]]) {
			continue
		}
		spans = append(spans, Span{
			Start:      loc[0],
			End:        loc[1],
			Kind:       d.kind,
			Confidence: d.confidence,
		})
	}
	return spans
}

// NewRegexDetector builds a custom detector from a caller-supplied pattern.
// Custom detectors run with the same contract as built-ins and may be given a
// priority above or below them.
func NewRegexDetector(id string, kind Kind, pattern string, priority int) (Detector, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern for detector %q: %w", id, err)
	}
	if kind == "" {
		kind = KindCustom
	}
	return &regexDetector{
		id:         id,
		kind:       kind,
		priority:   priority,
		confidence: 0.7,
		re:         re,
	}, nil
}

// builtinDetector constructs one of the built-in detectors
func builtinDetector(kind Kind) Detector {
	switch kind {
	case KindEmail:
		return &regexDetector{
			id: "builtin-email", kind: KindEmail, priority: 50, confidence: 0.95,
			re: regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
		}
	case KindPhone:
		return &regexDetector{
			id: "builtin-phone", kind: KindPhone, priority: 30, confidence: 0.8,
			re: regexp.MustCompile(`(?:\+\d{1,2}[-.\s]?)?\(?\d{3}\)?[-.\s]\d{3}[-.\s]\d{4}\b|\+\d{10,15}\b`),
		}
	case KindSSN:
		return &regexDetector{
			id: "builtin-ssn", kind: KindSSN, priority: 55, confidence: 0.9,
			re: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
		}
	case KindCreditCard:
		return &regexDetector{
			id: "builtin-cc", kind: KindCreditCard, priority: 60, confidence: 0.95,
			re:       regexp.MustCompile(`\b(?:\d{4}[-\s]?){3}\d{4}\b`),
			validate: isValidCreditCard,
		}
	case KindIPv4:
		return &regexDetector{
			id: "builtin-ipv4", kind: KindIPv4, priority: 40, confidence: 0.9,
			re: regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\b`),
		}
	case KindIPv6:
		return &regexDetector{
			id: "builtin-ipv6", kind: KindIPv6, priority: 45, confidence: 0.9,
			re: regexp.MustCompile(`\b(?:[0-9a-fA-F]{1,4}:){7}[0-9a-fA-F]{1,4}\b`),
		}
	case KindAPIKey:
		return &regexDetector{
			id: "builtin-apikey", kind: KindAPIKey, priority: 35, confidence: 0.85,
			re: regexp.MustCompile(`AKIA[0-9A-Z]{16}` +
				`|eyJ[A-Za-z0-9_-]+\.eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+` +
				`|(?i:bearer)\s+[A-Za-z0-9\-._~+/]+=*` +
				`|(?i:api[_-]?key|access[_-]?token|secret)\s*[:=]\s*[A-Za-z0-9._\-+/]{6,}`),
		}
	default:
		return nil
	}
}

// isValidCreditCard checks if a credit card number passes the Luhn algorithm
func isValidCreditCard(cc string) bool {
	digits := make([]byte, 0, len(cc))
	for i := 0; i < len(cc); i++ {
		switch {
		case cc[i] >= '0' && cc[i] <= '9':
			digits = append(digits, cc[i])
		case cc[i] == '-' || cc[i] == ' ':
			// separator
		default:
			return false
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}

	sum := 0
	alternate := false
	for i := len(digits) - 1; i >= 0; i-- {
		digit, _ := strconv.Atoi(string(digits[i]))
		if alternate {
			digit *= 2
			if digit > 9 {
				digit = (digit % 10) + 1
			}
		}
		sum += digit
		alternate = !alternate
	}
	return sum%10 == 0
}
