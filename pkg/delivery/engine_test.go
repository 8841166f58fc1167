package delivery

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bugrelay/bugrelay/pkg/dedupe"
	"github.com/bugrelay/bugrelay/pkg/queue"
	"github.com/bugrelay/bugrelay/pkg/reporttypes"
	"github.com/bugrelay/bugrelay/pkg/storage"
)

func newEngineFixture(t *testing.T, endpoint string, callbacks Callbacks) (*Engine, *queue.Queue, *dedupe.Index) {
	t.Helper()
	store := storage.NewMemory()
	q, err := queue.New(&queue.Config{MaxAttempts: 2, BackoffBaseMS: 10, BackoffMaxMS: 50}, store, nil)
	require.NoError(t, err)
	idx, err := dedupe.NewIndex(&dedupe.Config{WindowHours: 1}, store)
	require.NoError(t, err)

	engine := New(&Config{
		Endpoint:           endpoint,
		CompressionEnabled: false,
		Timeout:            5 * time.Second,
		BreakerFailures:    100, // keep the breaker out of the way unless a test wants it
	}, q, idx, nil, nil, callbacks)
	return engine, q, idx
}

func enqueueReport(t *testing.T, q *queue.Queue, fingerprint, title string) {
	t.Helper()
	_, err := q.Enqueue(&reporttypes.BugReport{
		ID:          fingerprint,
		Title:       title,
		Description: "desc",
		Severity:    reporttypes.SeverityLow,
		CreatedAt:   time.Now(),
	})
	require.NoError(t, err)
}

func TestEngineDeliversQueuedReport(t *testing.T) {
	var transmissions int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&transmissions, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	delivered := make(chan *reporttypes.BugReport, 1)
	engine, q, _ := newEngineFixture(t, srv.URL, Callbacks{
		OnDelivered: func(r *reporttypes.BugReport) { delivered <- r },
	})
	require.NoError(t, engine.Start())
	defer engine.Stop()

	enqueueReport(t, q, "fp-deliver", "works")

	select {
	case report := <-delivered:
		assert.Equal(t, "fp-deliver", report.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("report was not delivered")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&transmissions))
	assert.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestEngineSuppressesDuplicateEntries(t *testing.T) {
	var transmissions int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&transmissions, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	delivered := make(chan *reporttypes.BugReport, 2)
	engine, q, _ := newEngineFixture(t, srv.URL, Callbacks{
		OnDelivered: func(r *reporttypes.BugReport) { delivered <- r },
	})

	// Two entries with the same fingerprint queued before the engine starts
	enqueueReport(t, q, "fp-same", "first sighting")
	enqueueReport(t, q, "fp-same", "second sighting")
	require.NoError(t, engine.Start())
	defer engine.Stop()

	select {
	case <-delivered:
	case <-time.After(5 * time.Second):
		t.Fatal("first report was not delivered")
	}
	assert.Eventually(t, func() bool { return q.Len() == 0 }, 2*time.Second, 10*time.Millisecond,
		"duplicate must drain without transmission")
	assert.Equal(t, int32(1), atomic.LoadInt32(&transmissions),
		"exactly one transmission for identical fingerprints")
}

func TestEngineRetriesThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	delivered := make(chan *reporttypes.BugReport, 1)
	engine, q, _ := newEngineFixture(t, srv.URL, Callbacks{
		OnDelivered: func(r *reporttypes.BugReport) { delivered <- r },
	})
	require.NoError(t, engine.Start())
	defer engine.Stop()

	enqueueReport(t, q, "fp-retry", "flaky collector")

	select {
	case <-delivered:
	case <-time.After(5 * time.Second):
		t.Fatal("report was not delivered after retry")
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestEnginePermanentFailureReportedOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	failures := make(chan error, 2)
	engine, q, _ := newEngineFixture(t, srv.URL, Callbacks{
		OnPermanentFailure: func(r *reporttypes.BugReport, err error) { failures <- err },
	})
	require.NoError(t, engine.Start())
	defer engine.Stop()

	enqueueReport(t, q, "fp-bad", "rejected payload")

	select {
	case err := <-failures:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("permanent failure was not reported")
	}
	assert.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, 10*time.Millisecond)

	select {
	case <-failures:
		t.Fatal("terminal failure reported more than once")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestEngineHonorsRetryAfter(t *testing.T) {
	var calls int32
	var gap atomic.Int64
	var firstAt atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			firstAt.Store(time.Now().UnixNano())
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		gap.Store(time.Now().UnixNano() - firstAt.Load())
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	delivered := make(chan *reporttypes.BugReport, 1)
	engine, q, _ := newEngineFixture(t, srv.URL, Callbacks{
		OnDelivered: func(r *reporttypes.BugReport) { delivered <- r },
	})
	require.NoError(t, engine.Start())
	defer engine.Stop()

	enqueueReport(t, q, "fp-limited", "rate limited")

	select {
	case <-delivered:
	case <-time.After(10 * time.Second):
		t.Fatal("report was not delivered after rate limit")
	}
	assert.GreaterOrEqual(t, time.Duration(gap.Load()), 900*time.Millisecond,
		"server-suggested delay must override the computed backoff")
}

func TestEngineShutdownRequeuesInFlight(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		time.Sleep(3 * time.Second)
	}))
	defer srv.Close()

	engine, q, _ := newEngineFixture(t, srv.URL, Callbacks{})
	require.NoError(t, engine.Start())

	enqueueReport(t, q, "fp-cancelled", "interrupted")

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("transmission never started")
	}
	require.NoError(t, engine.Stop())

	entries := q.Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, queue.StatePending, entries[0].State,
		"cancelled transmission must leave the entry pending")
	assert.Equal(t, 0, entries[0].Attempts)
}
