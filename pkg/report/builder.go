package report

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"time"

	"github.com/kumarabd/gokit/logger"

	"github.com/bugrelay/bugrelay/pkg/dedupe"
	"github.com/bugrelay/bugrelay/pkg/imaging"
	"github.com/bugrelay/bugrelay/pkg/pii"
	"github.com/bugrelay/bugrelay/pkg/reporttypes"
)

var (
	// ErrMalformedImage is returned when a screenshot cannot be decoded.
	// The report is not built: an unsanitizable image must never ship.
	ErrMalformedImage = errors.New("report: malformed screenshot image")

	// ErrMissingTitle is returned when the input carries no title
	ErrMissingTitle = errors.New("report: title is required")
)

// TextBox pairs a run of recognized screenshot text with its on-screen bounds
type TextBox struct {
	Text   string           `json:"text"`
	Bounds reporttypes.Rect `json:"bounds"`
}

// Input is a raw, unsanitized bug report submission
type Input struct {
	Title          string                   `json:"title"`
	Description    string                   `json:"description"`
	Severity       reporttypes.Severity     `json:"severity"`
	Tags           []string                 `json:"tags,omitempty"`
	CustomData     *reporttypes.CustomValue `json:"custom_data,omitempty"`
	StackSignature string                   `json:"stack_signature,omitempty"`
	Screenshot     []byte                   `json:"screenshot,omitempty"` // PNG or JPEG
	ManualRegions  []reporttypes.Rect       `json:"manual_regions,omitempty"`
	TextBoxes      []TextBox                `json:"text_boxes,omitempty"`
	KnownSpans     []pii.Span               `json:"known_spans,omitempty"` // prior detection passes, description offsets
}

// Builder turns raw submissions into sanitized, fingerprinted reports
type Builder struct {
	sanitizer *pii.Sanitizer
	imageOpts imaging.Options
	log       *logger.Handler
	now       func() time.Time
}

// New creates a report builder
func New(sanitizer *pii.Sanitizer, imageOpts imaging.Options, log *logger.Handler) *Builder {
	return &Builder{
		sanitizer: sanitizer,
		imageOpts: imageOpts,
		log:       log,
		now:       time.Now,
	}
}

// Build sanitizes every text field and the screenshot, then derives the
// report's stable identity from the sanitized content. Input is not mutated
// except for CustomData, whose string leaves are rewritten in place.
func (b *Builder) Build(input *Input) (*reporttypes.BugReport, error) {
	if input == nil || input.Title == "" {
		return nil, ErrMissingTitle
	}

	var redaction reporttypes.RedactionReport

	title, r := b.sanitizer.Sanitize(input.Title)
	redaction.Merge(r)
	description, r := b.sanitizer.SanitizeWithSpans(input.Description, input.KnownSpans)
	redaction.Merge(r)
	stackSignature, r := b.sanitizer.Sanitize(input.StackSignature)
	redaction.Merge(r)

	var tags []string
	if len(input.Tags) > 0 {
		tags = make([]string, len(input.Tags))
		for i, tag := range input.Tags {
			tags[i], r = b.sanitizer.Sanitize(tag)
			redaction.Merge(r)
		}
	}

	input.CustomData.WalkStrings(func(s string) string {
		out, r := b.sanitizer.Sanitize(s)
		redaction.Merge(r)
		return out
	})

	screenshot, r, err := b.sanitizeScreenshot(input)
	if err != nil {
		return nil, err
	}
	redaction.Merge(r)

	report := &reporttypes.BugReport{
		ID:             dedupe.Fingerprint(title, description, stackSignature),
		Title:          title,
		Description:    description,
		Severity:       input.Severity,
		Tags:           tags,
		CustomData:     input.CustomData,
		StackSignature: stackSignature,
		Screenshot:     screenshot,
		Redaction:      redaction,
		CreatedAt:      b.now(),
	}
	if report.Severity == "" {
		report.Severity = reporttypes.SeverityLow
	}

	if b.log != nil {
		b.log.Debug().
			Str("id", report.ID).
			Int("redacted_spans", redaction.TotalSpans).
			Bool("screenshot", screenshot != nil).
			Msg("Report built")
	}
	return report, nil
}

// sanitizeScreenshot decodes, redacts and re-encodes the screenshot. Regions
// come from the reporter's manual selection plus any recognized text box whose
// content trips a detector; in that case the whole box is obscured, since the
// exact sub-box position of the match is not known.
func (b *Builder) sanitizeScreenshot(input *Input) ([]byte, reporttypes.RedactionReport, error) {
	var redaction reporttypes.RedactionReport
	if len(input.Screenshot) == 0 {
		return nil, redaction, nil
	}

	img, _, err := image.Decode(bytes.NewReader(input.Screenshot))
	if err != nil {
		return nil, redaction, fmt.Errorf("%w: %v", ErrMalformedImage, err)
	}

	regions := append([]reporttypes.Rect(nil), input.ManualRegions...)
	for _, box := range input.TextBoxes {
		spans := b.sanitizer.SanitizeSpans(box.Text)
		if len(spans) == 0 {
			continue
		}
		regions = append(regions, box.Bounds)
		for _, span := range spans {
			redaction.TotalSpans++
			if redaction.ByKind == nil {
				redaction.ByKind = map[string]int{}
			}
			redaction.ByKind[string(span.Kind)]++
		}
	}
	redaction.Applied = redaction.TotalSpans > 0

	sanitized := imaging.Sanitize(img, regions, b.imageOpts)

	var buf bytes.Buffer
	if err := png.Encode(&buf, sanitized); err != nil {
		return nil, redaction, fmt.Errorf("encoding sanitized screenshot: %w", err)
	}
	return buf.Bytes(), redaction, nil
}
