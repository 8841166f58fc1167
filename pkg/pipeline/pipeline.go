package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kumarabd/gokit/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bugrelay/bugrelay/internal/metrics"
	"github.com/bugrelay/bugrelay/pkg/dedupe"
	"github.com/bugrelay/bugrelay/pkg/delivery"
	"github.com/bugrelay/bugrelay/pkg/imaging"
	"github.com/bugrelay/bugrelay/pkg/pii"
	"github.com/bugrelay/bugrelay/pkg/queue"
	"github.com/bugrelay/bugrelay/pkg/report"
	"github.com/bugrelay/bugrelay/pkg/storage"
)

// Config aggregates the configuration of every pipeline stage
type Config struct {
	Sanitizer *pii.Config      `json:"sanitizer" yaml:"sanitizer"`
	Image     *imaging.Config  `json:"image" yaml:"image"`
	Dedupe    *dedupe.Config   `json:"dedupe" yaml:"dedupe"`
	Queue     *queue.Config    `json:"queue" yaml:"queue"`
	Delivery  *delivery.Config `json:"delivery" yaml:"delivery"`
	Storage   *storage.Config  `json:"storage" yaml:"storage"`
}

// Result is the outcome of a submission
type Result struct {
	ID         string `json:"id"`
	Suppressed bool   `json:"suppressed"`
}

// Handler wires the sanitization and delivery stages together: every
// submission is built (sanitized, fingerprinted), checked against the
// duplicate index and either suppressed or enqueued for the engine.
type Handler struct {
	builder *report.Builder
	index   *dedupe.Index
	queue   *queue.Queue
	engine  *delivery.Engine
	store   storage.Store
	log     *logger.Handler
	metric  *metrics.Handler
	tracer  trace.Tracer
}

// New creates the full pipeline on top of a single storage handle
func New(config *Config, log *logger.Handler, metric *metrics.Handler, callbacks delivery.Callbacks) (*Handler, error) {
	if config == nil {
		config = &Config{}
	}
	if config.Delivery == nil {
		config.Delivery = &delivery.Config{}
	}

	store, err := storage.New(config.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	sanitizer, err := pii.New(config.Sanitizer, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sanitizer: %w", err)
	}

	index, err := dedupe.NewIndex(config.Dedupe, store)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize duplicate index: %w", err)
	}

	q, err := queue.New(config.Queue, store, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize queue: %w", err)
	}

	handler := &Handler{
		builder: report.New(sanitizer, imaging.OptionsFromConfig(config.Image), log),
		index:   index,
		queue:   q,
		engine:  delivery.New(config.Delivery, q, index, log, metric, callbacks),
		store:   store,
		log:     log,
		metric:  metric,
		tracer:  otel.Tracer("bugrelay/pipeline"),
	}
	return handler, nil
}

// Start starts the delivery engine
func (h *Handler) Start() error {
	return h.engine.Start()
}

// Stop stops the delivery engine and releases the storage handle. In-flight
// entries return to pending and survive in storage for the next start.
func (h *Handler) Stop() error {
	if err := h.engine.Stop(); err != nil {
		return err
	}
	return h.store.Close()
}

// Queue exposes the underlying queue for inspection tooling
func (h *Handler) Queue() *queue.Queue {
	return h.queue
}

// Submit runs one report through the pipeline. A fingerprint already inside
// the duplicate window is recorded and suppressed without ever touching the
// queue; everything else is enqueued for delivery.
func (h *Handler) Submit(ctx context.Context, input *report.Input) (*Result, error) {
	start := time.Now()
	_, span := h.tracer.Start(ctx, "pipeline.submit")
	defer span.End()

	built, err := h.builder.Build(input)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build failed")
		if h.metric != nil {
			h.metric.IncReportsRejectedTotal(rejectReason(err))
			h.metric.ObserveSubmitLatency(time.Since(start), false)
		}
		return nil, err
	}
	span.SetAttributes(
		attribute.String("report.id", built.ID),
		attribute.Int("report.redacted_spans", built.Redaction.TotalSpans),
	)

	if h.metric != nil {
		for kind, count := range built.Redaction.ByKind {
			for i := 0; i < count; i++ {
				h.metric.IncPIIRedactionsTotal(kind)
			}
		}
	}

	if h.index.ShouldSuppress(built.ID) {
		if err := h.index.Record(built.ID); err != nil && h.log != nil {
			h.log.Warn().Err(err).Str("id", built.ID).Msg("Failed to record duplicate sighting")
		}
		span.SetAttributes(attribute.Bool("report.suppressed", true))
		if h.metric != nil {
			h.metric.ReportsSuppressedTotal.Inc()
			h.metric.ObserveSubmitLatency(time.Since(start), true)
		}
		if h.log != nil {
			h.log.Info().
				Str("id", built.ID).
				Int("occurrences", h.index.Count(built.ID)).
				Msg("Duplicate report suppressed")
		}
		return &Result{ID: built.ID, Suppressed: true}, nil
	}

	if _, err := h.queue.Enqueue(built); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "enqueue failed")
		if h.metric != nil {
			h.metric.IncReportsRejectedTotal("storage")
			h.metric.ObserveSubmitLatency(time.Since(start), false)
		}
		return nil, fmt.Errorf("failed to enqueue report: %w", err)
	}

	if h.metric != nil {
		h.metric.IncReportsSubmittedTotal("api")
		h.metric.QueueDepth.Set(float64(h.queue.Len()))
		h.metric.ObserveSubmitLatency(time.Since(start), true)
	}
	if h.log != nil {
		h.log.Debug().
			Str("id", built.ID).
			Msg("Report enqueued for delivery")
	}
	return &Result{ID: built.ID, Suppressed: false}, nil
}

// rejectReason maps a build error onto a bounded metric label
func rejectReason(err error) string {
	switch {
	case errors.Is(err, report.ErrMissingTitle):
		return "missing_title"
	case errors.Is(err, report.ErrMalformedImage):
		return "malformed_image"
	default:
		return "build_failed"
	}
}
