package reporttypes

import (
	"time"
)

// Severity represents the reporter-assigned severity of a bug report
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// RedactionReport represents PII redaction information for a sanitized artifact.
// It never carries any of the original matched content.
type RedactionReport struct {
	Applied    bool           `json:"applied"`
	TotalSpans int            `json:"total_spans"`
	ByKind     map[string]int `json:"by_kind"`
}

// Merge folds another report into this one
func (r *RedactionReport) Merge(other RedactionReport) {
	if other.TotalSpans == 0 {
		return
	}
	r.Applied = true
	r.TotalSpans += other.TotalSpans
	if r.ByKind == nil {
		r.ByKind = make(map[string]int, len(other.ByKind))
	}
	for kind, count := range other.ByKind {
		r.ByKind[kind] += count
	}
}

// Rect is a rectangular region in an image's own pixel coordinate space
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Empty returns true if the rectangle covers no pixels
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// BugReport is a sanitized bug report ready for delivery. It is created once
// by the report builder and owned by the persistent queue until it reaches a
// terminal delivery state.
type BugReport struct {
	ID             string          `json:"id"` // stable fingerprint
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	Severity       Severity        `json:"severity"`
	Tags           []string        `json:"tags,omitempty"`
	CustomData     *CustomValue    `json:"custom_data,omitempty"`
	StackSignature string          `json:"stack_signature,omitempty"`
	Screenshot     []byte          `json:"screenshot,omitempty"` // sanitized PNG, nil if none
	Redaction      RedactionReport `json:"redaction"`
	CreatedAt      time.Time       `json:"created_at"`
}
