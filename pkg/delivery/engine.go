package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/kumarabd/gokit/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bugrelay/bugrelay/internal/metrics"
	"github.com/bugrelay/bugrelay/pkg/dedupe"
	"github.com/bugrelay/bugrelay/pkg/queue"
	"github.com/bugrelay/bugrelay/pkg/reporttypes"
)

// Callbacks let the embedding application observe terminal outcomes and
// upload progress. All callbacks are invoked from the drain goroutine.
type Callbacks struct {
	OnDelivered        func(report *reporttypes.BugReport)
	OnPermanentFailure func(report *reporttypes.BugReport, err error)
	OnProgress         ProgressFunc
}

// engineMetrics contains metrics for the delivery engine
type engineMetrics struct {
	DeliveredTotal  *metrics.Counter
	SuppressedTotal *metrics.Counter
	RetriesTotal    *metrics.Counter
	PermanentTotal  *metrics.Counter
	DeliveryLatency *metrics.Histogram
	BreakerOpen     *metrics.Gauge
}

// Engine drains the persistent queue: one in-flight transmission at a time,
// exponential backoff on transient failures, duplicate suppression, and
// terminal outcome reporting.
type Engine struct {
	config    *Config
	queue     *queue.Queue
	index     *dedupe.Index
	client    *Client
	log       *logger.Handler
	metric    *metrics.Handler
	tracer    trace.Tracer
	breaker   *Breaker
	callbacks Callbacks

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics *engineMetrics
	now     func() time.Time
}

// New creates a delivery engine over a queue and duplicate index
func New(config *Config, q *queue.Queue, index *dedupe.Index, log *logger.Handler, metric *metrics.Handler, callbacks Callbacks) *Engine {
	ctx, cancel := context.WithCancel(context.Background())

	failures := config.BreakerFailures
	if failures <= 0 {
		failures = 5
	}
	reset := time.Duration(config.BreakerResetSeconds) * time.Second
	if reset <= 0 {
		reset = 30 * time.Second
	}

	engine := &Engine{
		config:    config,
		queue:     q,
		index:     index,
		client:    NewClient(config, log, callbacks.OnProgress),
		log:       log,
		metric:    metric,
		tracer:    otel.Tracer("bugrelay/delivery"),
		breaker:   NewBreaker(failures, reset),
		callbacks: callbacks,
		ctx:       ctx,
		cancel:    cancel,
		now:       time.Now,
	}
	engine.initMetrics()
	return engine
}

func (e *Engine) initMetrics() {
	if e.metric == nil {
		return
	}
	e.metrics = &engineMetrics{
		DeliveredTotal:  e.metric.NewCounter("delivery_delivered_total", "Total reports delivered to the collector"),
		SuppressedTotal: e.metric.NewCounter("delivery_suppressed_total", "Total queued reports suppressed as duplicates"),
		RetriesTotal:    e.metric.NewCounter("delivery_retries_total", "Total retriable delivery failures"),
		PermanentTotal:  e.metric.NewCounter("delivery_permanent_failures_total", "Total reports that failed permanently"),
		DeliveryLatency: e.metric.NewHistogram("delivery_latency_seconds", "Transmission latency in seconds"),
		BreakerOpen:     e.metric.NewGauge("delivery_breaker_open", "1 while the collector circuit breaker is open"),
	}
}

// Start launches the drain loop
func (e *Engine) Start() error {
	if e.log != nil {
		e.log.Info().Str("endpoint", e.config.Endpoint).Msg("Starting delivery engine")
	}
	e.wg.Add(1)
	go e.run()
	return nil
}

// Stop cancels any in-flight transmission and waits for the loop to exit.
// A cancelled transmission leaves its entry pending, never in_flight.
func (e *Engine) Stop() error {
	e.cancel()
	e.wg.Wait()
	if e.log != nil {
		e.log.Info().Msg("Delivery engine stopped")
	}
	return nil
}

// run is the single drain loop. It wakes when a new entry is enqueued or when
// the earliest NextAttemptAt elapses; there is no polling sleep.
func (e *Engine) run() {
	defer e.wg.Done()

	for {
		if e.ctx.Err() != nil {
			return
		}

		if e.breaker.Open() {
			// Collector is unhealthy: idle briefly instead of burning attempts
			if !e.sleep(time.Second) {
				return
			}
			continue
		}

		entry, ok := e.queue.PeekReady(e.now())
		if !ok {
			if !e.waitForWork() {
				return
			}
			continue
		}

		e.process(entry)
		e.updateQueueDepth()
	}
}

// waitForWork blocks until a new entry is enqueued, the earliest retry time
// elapses, or shutdown. Returns false on shutdown.
func (e *Engine) waitForWork() bool {
	var timerC <-chan time.Time
	if wake, found := e.queue.NextWake(); found {
		timer := time.NewTimer(time.Until(wake))
		defer timer.Stop()
		timerC = timer.C
	}

	select {
	case <-e.ctx.Done():
		return false
	case <-e.queue.Ready():
		return true
	case <-timerC:
		return true
	}
}

func (e *Engine) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-e.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// process handles exactly one entry: suppression check, transmission, and the
// resulting queue transition.
func (e *Engine) process(entry *queue.Entry) {
	ctx, span := e.tracer.Start(e.ctx, "delivery.process")
	defer span.End()
	span.SetAttributes(
		attribute.String("report.id", entry.Report.ID),
		attribute.Int("entry.attempts", entry.Attempts),
	)

	if err := e.queue.MarkInFlight(entry.ID); err != nil {
		if e.log != nil {
			e.log.Error().Err(err).Str("entry", entry.ID).Msg("Failed to mark entry in flight")
		}
		return
	}

	// A fingerprint already delivered within the window drains without
	// transmission so the queue keeps moving.
	if e.index != nil && e.index.ShouldSuppress(entry.Report.ID) {
		e.index.Record(entry.Report.ID)
		if err := e.queue.MarkDelivered(entry.ID); err != nil && e.log != nil {
			e.log.Error().Err(err).Str("entry", entry.ID).Msg("Failed to drain suppressed entry")
		}
		if e.metrics != nil {
			e.metrics.SuppressedTotal.Inc()
		}
		if e.metric != nil {
			e.metric.ReportsSuppressedTotal.Inc()
		}
		span.SetAttributes(attribute.Bool("suppressed", true))
		return
	}

	start := e.now()
	outcome := e.client.Submit(ctx, entry.Report)
	latency := e.now().Sub(start)
	if e.metrics != nil {
		e.metrics.DeliveryLatency.Observe(latency.Seconds())
	}

	switch outcome.Class {
	case ClassDelivered:
		if e.breaker.Success() {
			e.breakerClosed()
		}
		if e.index != nil {
			e.index.Record(entry.Report.ID)
		}
		if err := e.queue.MarkDelivered(entry.ID); err != nil && e.log != nil {
			e.log.Error().Err(err).Str("entry", entry.ID).Msg("Failed to remove delivered entry")
		}
		if e.metrics != nil {
			e.metrics.DeliveredTotal.Inc()
		}
		if e.callbacks.OnDelivered != nil {
			e.callbacks.OnDelivered(entry.Report)
		}
		if e.log != nil {
			e.log.Info().
				Str("report", entry.Report.ID).
				Int("status", outcome.StatusCode).
				Dur("latency", latency).
				Msg("Report delivered")
		}

	case ClassCancelled:
		// Shutdown mid-transmission: the entry goes back to pending
		if err := e.queue.Requeue(entry.ID); err != nil && e.log != nil {
			e.log.Error().Err(err).Str("entry", entry.ID).Msg("Failed to requeue cancelled entry")
		}
		span.SetStatus(codes.Error, "cancelled")

	case ClassRateLimited:
		// Rate limiting is transient and not a collector health problem
		e.failEntry(entry, outcome, true, outcome.RetryAfter)
		span.RecordError(outcome.Err)

	case ClassRetriable:
		if e.breaker.Fail() {
			e.breakerOpened()
		}
		e.failEntry(entry, outcome, true, 0)
		span.RecordError(outcome.Err)
		span.SetStatus(codes.Error, outcome.Err.Error())

	case ClassPermanent:
		e.failEntry(entry, outcome, false, 0)
		span.RecordError(outcome.Err)
		span.SetStatus(codes.Error, outcome.Err.Error())
	}
}

// failEntry applies a failed attempt and reports a terminal failure once
func (e *Engine) failEntry(entry *queue.Entry, outcome Outcome, retriable bool, retryAfter time.Duration) {
	failed, terminal, err := e.queue.MarkFailed(entry.ID, outcome.Err, retriable, retryAfter)
	if err != nil {
		if e.log != nil {
			e.log.Error().Err(err).Str("entry", entry.ID).Msg("Failed to record delivery failure")
		}
		return
	}

	if terminal {
		if e.metrics != nil {
			e.metrics.PermanentTotal.Inc()
		}
		if e.callbacks.OnPermanentFailure != nil {
			e.callbacks.OnPermanentFailure(failed.Report, outcome.Err)
		}
		if e.log != nil {
			e.log.Error().
				Err(outcome.Err).
				Str("report", failed.Report.ID).
				Int("attempts", failed.Attempts).
				Msg("Report failed permanently")
		}
		return
	}

	if e.metrics != nil {
		e.metrics.RetriesTotal.Inc()
	}
	if e.log != nil {
		e.log.Warn().
			Err(outcome.Err).
			Str("report", failed.Report.ID).
			Int("attempts", failed.Attempts).
			Msg("Delivery failed; will retry")
	}
}

func (e *Engine) breakerOpened() {
	if e.metrics != nil {
		e.metrics.BreakerOpen.Set(1)
	}
	if e.log != nil {
		e.log.Warn().
			Str("endpoint", e.config.Endpoint).
			Int("consecutive_failures", e.breaker.Consecutive()).
			Msg("Collector circuit opened; pausing transmissions")
	}
}

func (e *Engine) breakerClosed() {
	if e.metrics != nil {
		e.metrics.BreakerOpen.Set(0)
	}
	if e.log != nil {
		e.log.Info().Str("endpoint", e.config.Endpoint).Msg("Collector circuit closed")
	}
}

func (e *Engine) updateQueueDepth() {
	if e.metric != nil {
		e.metric.QueueDepth.Set(float64(e.queue.Len()))
	}
}
