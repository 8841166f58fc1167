package queue

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bugrelay/bugrelay/pkg/reporttypes"
	"github.com/bugrelay/bugrelay/pkg/storage"
)

func testReport(title string) *reporttypes.BugReport {
	return &reporttypes.BugReport{
		ID:          "fp-" + title,
		Title:       title,
		Description: "something broke",
		Severity:    reporttypes.SeverityMedium,
		CreatedAt:   time.Now(),
	}
}

func newTestQueue(t *testing.T, store storage.Store) *Queue {
	t.Helper()
	q, err := New(&Config{MaxAttempts: 3, BackoffBaseMS: 100, BackoffMaxMS: 1000}, store, nil)
	require.NoError(t, err)
	return q
}

func TestEnqueuePeekFIFO(t *testing.T) {
	q := newTestQueue(t, storage.NewMemory())

	idA, err := q.Enqueue(testReport("first"))
	require.NoError(t, err)
	_, err = q.Enqueue(testReport("second"))
	require.NoError(t, err)

	entry, ok := q.PeekReady(time.Now())
	require.True(t, ok)
	assert.Equal(t, idA, entry.ID)
	assert.Equal(t, "first", entry.Report.Title)
	assert.Equal(t, StatePending, entry.State)

	// Peek does not consume
	again, ok := q.PeekReady(time.Now())
	require.True(t, ok)
	assert.Equal(t, idA, again.ID)

	// Delivering the head exposes the next entry
	require.NoError(t, q.MarkInFlight(idA))
	require.NoError(t, q.MarkDelivered(idA))
	next, ok := q.PeekReady(time.Now())
	require.True(t, ok)
	assert.Equal(t, "second", next.Report.Title)
}

func TestPeekSkipsNotYetDue(t *testing.T) {
	q := newTestQueue(t, storage.NewMemory())

	id, err := q.Enqueue(testReport("flaky"))
	require.NoError(t, err)
	require.NoError(t, q.MarkInFlight(id))
	_, terminal, err := q.MarkFailed(id, errors.New("http 503"), true, 0)
	require.NoError(t, err)
	require.False(t, terminal)

	// Entry is pending but backed off into the future
	_, ok := q.PeekReady(time.Now())
	assert.False(t, ok)

	wake, found := q.NextWake()
	require.True(t, found)
	_, ok = q.PeekReady(wake.Add(time.Millisecond))
	assert.True(t, ok)
}

func TestBackoffMonotonicAndBounded(t *testing.T) {
	q := newTestQueue(t, storage.NewMemory())
	maxDelay := q.config.backoffMax()

	id, err := q.Enqueue(testReport("retry-many"))
	require.NoError(t, err)

	// MaxAttempts=3 allows two retriable failures before the third is terminal
	var lastNext time.Time
	for attempt := 0; attempt < 2; attempt++ {
		require.NoError(t, q.MarkInFlight(id))
		before := time.Now()
		entry, terminal, err := q.MarkFailed(id, errors.New("timeout"), true, 0)
		require.NoError(t, err)
		require.False(t, terminal)

		delay := entry.NextAttemptAt.Sub(before)
		assert.Greater(t, delay, time.Duration(0))
		assert.LessOrEqual(t, delay, maxDelay)
		assert.False(t, entry.NextAttemptAt.Before(lastNext), "NextAttemptAt must be non-decreasing")
		lastNext = entry.NextAttemptAt
		assert.Equal(t, attempt+1, entry.BackoffExponent)

		// Make the entry due again for the next round
		require.NoError(t, func() error {
			q.mu.Lock()
			defer q.mu.Unlock()
			q.entries[id].NextAttemptAt = time.Now()
			return q.persist(q.entries[id])
		}())
	}
}

func TestAttemptBudgetExhaustionIsTerminal(t *testing.T) {
	q := newTestQueue(t, storage.NewMemory())

	id, err := q.Enqueue(testReport("doomed"))
	require.NoError(t, err)

	var terminal bool
	var entry *Entry
	for i := 0; i < 3; i++ {
		require.False(t, terminal)
		q.mu.Lock()
		q.entries[id].NextAttemptAt = time.Now()
		q.mu.Unlock()
		require.NoError(t, q.MarkInFlight(id))
		entry, terminal, err = q.MarkFailed(id, errors.New("http 500"), true, 0)
		require.NoError(t, err)
	}
	assert.True(t, terminal)
	assert.Equal(t, StateFailedPermanent, entry.State)
	assert.Equal(t, 3, entry.Attempts)
	assert.Equal(t, "http 500", entry.LastError)
	assert.Equal(t, 0, q.Len())
}

func TestNonRetriableFailureIsTerminal(t *testing.T) {
	q := newTestQueue(t, storage.NewMemory())

	id, err := q.Enqueue(testReport("rejected"))
	require.NoError(t, err)
	require.NoError(t, q.MarkInFlight(id))

	entry, terminal, err := q.MarkFailed(id, errors.New("http 400"), false, 0)
	require.NoError(t, err)
	assert.True(t, terminal)
	assert.Equal(t, StateFailedPermanent, entry.State)
	assert.Equal(t, 0, q.Len())
}

func TestRetryAfterOverridesBackoff(t *testing.T) {
	q := newTestQueue(t, storage.NewMemory())

	id, err := q.Enqueue(testReport("rate-limited"))
	require.NoError(t, err)
	require.NoError(t, q.MarkInFlight(id))

	before := time.Now()
	entry, terminal, err := q.MarkFailed(id, errors.New("http 429"), true, 10*time.Second)
	require.NoError(t, err)
	require.False(t, terminal)

	delay := entry.NextAttemptAt.Sub(before)
	assert.GreaterOrEqual(t, delay, 9*time.Second, "server-suggested delay must take precedence")
}

func TestDurabilityAcrossRestart(t *testing.T) {
	store, err := storage.NewFile(t.TempDir())
	require.NoError(t, err)

	q := newTestQueue(t, store)
	id, err := q.Enqueue(testReport("survivor"))
	require.NoError(t, err)
	require.NoError(t, q.MarkInFlight(id))

	// Simulated abrupt restart: reload queue state from storage only
	reloaded := newTestQueue(t, store)
	entry, ok := reloaded.PeekReady(time.Now())
	require.True(t, ok)
	assert.Equal(t, id, entry.ID)
	assert.Equal(t, StatePending, entry.State, "in_flight at restart must resume as pending")
	assert.Equal(t, "survivor", entry.Report.Title)

	require.NoError(t, reloaded.MarkInFlight(id))
	require.NoError(t, reloaded.MarkDelivered(id))
	assert.Equal(t, 0, reloaded.Len())
}

func TestRequeueDoesNotChargeAttempt(t *testing.T) {
	q := newTestQueue(t, storage.NewMemory())

	id, err := q.Enqueue(testReport("cancelled"))
	require.NoError(t, err)
	require.NoError(t, q.MarkInFlight(id))
	require.NoError(t, q.Requeue(id))

	entry, ok := q.PeekReady(time.Now())
	require.True(t, ok)
	assert.Equal(t, StatePending, entry.State)
	assert.Equal(t, 0, entry.Attempts)
	assert.Equal(t, 0, entry.BackoffExponent)
}

func TestReadySignalOnEnqueue(t *testing.T) {
	q := newTestQueue(t, storage.NewMemory())

	select {
	case <-q.Ready():
		t.Fatal("Ready signalled on empty queue")
	default:
	}

	_, err := q.Enqueue(testReport("wake"))
	require.NoError(t, err)

	select {
	case <-q.Ready():
	case <-time.After(time.Second):
		t.Fatal("Ready not signalled after enqueue")
	}
}
