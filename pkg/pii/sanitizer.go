package pii

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kumarabd/gokit/logger"

	"github.com/bugrelay/bugrelay/pkg/reporttypes"
)

// CustomPattern is a caller-supplied regex detector definition
type CustomPattern struct {
	ID       string `json:"id" yaml:"id"`
	Kind     string `json:"kind" yaml:"kind"`
	Pattern  string `json:"pattern" yaml:"pattern"`
	Priority int    `json:"priority" yaml:"priority" default:"20"`
}

// Config contains configuration for the text sanitizer
type Config struct {
	EnabledKinds   []string          `json:"enabled_kinds" yaml:"enabled_kinds"`
	CustomPatterns []CustomPattern   `json:"custom_patterns" yaml:"custom_patterns"`
	Tokens         map[string]string `json:"tokens" yaml:"tokens"` // kind -> redaction token
}

// Sanitizer applies an ordered registry of PII detectors to text, resolving
// cross-detector overlaps and replacing winning spans with per-kind tokens
type Sanitizer struct {
	detectors []Detector // registration order is the final tie-break
	tokens    map[Kind]string
	log       *logger.Handler
}

// New creates a sanitizer with the configured built-in and custom detectors.
// A nil or empty EnabledKinds enables every built-in.
func New(config *Config, log *logger.Handler) (*Sanitizer, error) {
	s := &Sanitizer{
		tokens: make(map[Kind]string),
		log:    log,
	}

	enabled := BuiltinKinds
	if config != nil && len(config.EnabledKinds) > 0 {
		enabled = make([]Kind, 0, len(config.EnabledKinds))
		for _, k := range config.EnabledKinds {
			enabled = append(enabled, Kind(k))
		}
	}
	for _, kind := range enabled {
		d := builtinDetector(kind)
		if d == nil {
			return nil, fmt.Errorf("unknown detector kind: %s", kind)
		}
		s.Register(d)
	}

	if config != nil {
		for _, cp := range config.CustomPatterns {
			d, err := NewRegexDetector(cp.ID, Kind(cp.Kind), cp.Pattern, cp.Priority)
			if err != nil {
				return nil, err
			}
			s.Register(d)
		}
		for kind, token := range config.Tokens {
			s.tokens[Kind(kind)] = token
		}
	}

	return s, nil
}

// Register appends a detector to the registry. Later registrations lose
// exact-length, equal-priority overlap ties against earlier ones.
func (s *Sanitizer) Register(d Detector) {
	s.detectors = append(s.detectors, d)
}

// Token returns the redaction token used for a kind
func (s *Sanitizer) Token(kind Kind) string {
	if token, ok := s.tokens[kind]; ok {
		return token
	}
	return "<" + string(kind) + ">"
}

// candidate is a detected span annotated for overlap resolution
type candidate struct {
	Span
	priority int
	order    int // registration order of the detector
}

// knownSpanPriority ranks caller-supplied spans above every built-in on
// exact-length overlap ties; a prior detection pass already vouched for them.
const knownSpanPriority = 100

// Sanitize runs every registered detector over the text and replaces winning
// spans with their kind's redaction token. Text with no matches is returned
// unchanged with an empty report. A panicking detector is isolated: it
// contributes zero spans and never aborts the rest of the document.
func (s *Sanitizer) Sanitize(text string) (string, reporttypes.RedactionReport) {
	return s.SanitizeWithSpans(text, nil)
}

// SanitizeWithSpans is Sanitize with spans from a prior detection pass merged
// into the candidate set before overlap resolution. Out-of-range spans are
// dropped; a known span with no kind redacts with the custom token.
func (s *Sanitizer) SanitizeWithSpans(text string, known []Span) (string, reporttypes.RedactionReport) {
	report := reporttypes.RedactionReport{ByKind: map[string]int{}}
	if text == "" {
		return text, report
	}

	candidates := s.collect(text)
	for _, span := range known {
		if span.Start < 0 || span.End > len(text) || span.Start >= span.End {
			continue
		}
		if span.Kind == "" {
			span.Kind = KindCustom
		}
		candidates = append(candidates, candidate{Span: span, priority: knownSpanPriority, order: -1})
	}
	if len(candidates) == 0 {
		return text, report
	}

	winners := resolveOverlaps(candidates)

	// Replace right-to-left so earlier offsets stay valid
	var b strings.Builder
	out := text
	for i := len(winners) - 1; i >= 0; i-- {
		w := winners[i]
		b.Reset()
		b.WriteString(out[:w.Start])
		b.WriteString(s.Token(w.Kind))
		b.WriteString(out[w.End:])
		out = b.String()

		report.TotalSpans++
		report.ByKind[string(w.Kind)]++
	}
	report.Applied = report.TotalSpans > 0

	return out, report
}

// SanitizeSpans returns the winning spans without performing replacement.
// Used for mapping text PII onto on-screen regions.
func (s *Sanitizer) SanitizeSpans(text string) []Span {
	candidates := s.collect(text)
	if len(candidates) == 0 {
		return nil
	}
	winners := resolveOverlaps(candidates)
	spans := make([]Span, len(winners))
	for i, w := range winners {
		spans[i] = w.Span
	}
	return spans
}

// collect gathers in-range candidate spans from every registered detector
func (s *Sanitizer) collect(text string) []candidate {
	var candidates []candidate
	for order, d := range s.detectors {
		for _, span := range s.matchSafe(d, text) {
			if span.Start < 0 || span.End > len(text) || span.Start >= span.End {
				continue
			}
			candidates = append(candidates, candidate{Span: span, priority: d.Priority(), order: order})
		}
	}
	return candidates
}

// matchSafe runs a detector, converting a panic into zero spans
func (s *Sanitizer) matchSafe(d Detector, text string) (spans []Span) {
	defer func() {
		if r := recover(); r != nil {
			spans = nil
			if s.log != nil {
				s.log.Warn().
					Str("detector", d.ID()).
					Str("panic", fmt.Sprintf("%v", r)).
					Msg("detector failed; contributing zero spans")
			}
		}
	}()
	return d.Match(text)
}

// resolveOverlaps picks the winning spans: longest wins, exact-length ties go
// to the higher detector priority, remaining ties to the earliest registration.
// Returned winners are non-overlapping and sorted by start offset.
func resolveOverlaps(candidates []candidate) []candidate {
	ranked := make([]candidate, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Len() != ranked[j].Len() {
			return ranked[i].Len() > ranked[j].Len()
		}
		if ranked[i].priority != ranked[j].priority {
			return ranked[i].priority > ranked[j].priority
		}
		if ranked[i].order != ranked[j].order {
			return ranked[i].order < ranked[j].order
		}
		return ranked[i].Start < ranked[j].Start
	})

	var winners []candidate
	for _, c := range ranked {
		conflict := false
		for _, w := range winners {
			if c.Overlaps(w.Span) {
				conflict = true
				break
			}
		}
		if !conflict {
			winners = append(winners, c)
		}
	}

	sort.Slice(winners, func(i, j int) bool { return winners[i].Start < winners[j].Start })
	return winners
}
