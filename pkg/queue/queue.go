package queue

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kumarabd/gokit/logger"

	"github.com/bugrelay/bugrelay/pkg/reporttypes"
	"github.com/bugrelay/bugrelay/pkg/storage"
)

const storePrefix = "queue/"

// State is the delivery lifecycle state of a queue entry
type State string

const (
	StatePending         State = "pending"
	StateInFlight        State = "in_flight"
	StateDelivered       State = "delivered"        // terminal
	StateFailedPermanent State = "failed_permanent" // terminal
)

// Entry wraps a bug report with delivery bookkeeping. Entries are mutated only
// through the queue, which is the single writer of truth.
type Entry struct {
	ID              string                 `json:"id"`
	Seq             uint64                 `json:"seq"`
	Report          *reporttypes.BugReport `json:"report"`
	State           State                  `json:"state"`
	Attempts        int                    `json:"attempts"`
	BackoffExponent int                    `json:"backoff_exponent"`
	NextAttemptAt   time.Time              `json:"next_attempt_at"`
	LastError       string                 `json:"last_error,omitempty"`
	EnqueuedAt      time.Time              `json:"enqueued_at"`
}

// Config contains configuration for the persistent queue
type Config struct {
	MaxAttempts   int `json:"max_attempts" yaml:"max_attempts" default:"8"`
	BackoffBaseMS int `json:"backoff_base_ms" yaml:"backoff_base_ms" default:"500"`
	BackoffMaxMS  int `json:"backoff_max_ms" yaml:"backoff_max_ms" default:"300000"`
}

func (c *Config) maxAttempts() int {
	if c != nil && c.MaxAttempts > 0 {
		return c.MaxAttempts
	}
	return 8
}

func (c *Config) backoffBase() time.Duration {
	if c != nil && c.BackoffBaseMS > 0 {
		return time.Duration(c.BackoffBaseMS) * time.Millisecond
	}
	return 500 * time.Millisecond
}

func (c *Config) backoffMax() time.Duration {
	if c != nil && c.BackoffMaxMS > 0 {
		return time.Duration(c.BackoffMaxMS) * time.Millisecond
	}
	return 5 * time.Minute
}

// Queue is a durable, ordered store of pending and in-flight reports. Every
// state transition is persisted before it is acknowledged, so any entry that
// reached Enqueue survives an abrupt restart.
type Queue struct {
	mu      sync.Mutex
	config  *Config
	store   storage.Store
	log     *logger.Handler
	entries map[string]*Entry
	seq     uint64
	ready   chan struct{}
	now     func() time.Time
}

// New builds the queue and recovers persisted entries. Entries observed as
// in_flight at restart are treated as pending: at-least-once, never dropped.
func New(config *Config, store storage.Store, log *logger.Handler) (*Queue, error) {
	if store == nil {
		return nil, fmt.Errorf("queue: storage is required")
	}
	q := &Queue{
		config:  config,
		store:   store,
		log:     log,
		entries: make(map[string]*Entry),
		ready:   make(chan struct{}, 1),
		now:     time.Now,
	}

	persisted, err := store.List(storePrefix)
	if err != nil {
		return nil, fmt.Errorf("queue: loading entries: %w", err)
	}
	recovered := 0
	for key, raw := range persisted {
		var entry Entry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil, fmt.Errorf("queue: corrupt entry %s: %w", key, err)
		}
		if entry.State == StateInFlight {
			entry.State = StatePending
			if err := q.persist(&entry); err != nil {
				return nil, err
			}
			recovered++
		}
		q.entries[entry.ID] = &entry
		if entry.Seq >= q.seq {
			q.seq = entry.Seq + 1
		}
	}
	if log != nil && len(q.entries) > 0 {
		log.Info().
			Int("entries", len(q.entries)).
			Int("recovered_in_flight", recovered).
			Msg("Recovered queue state")
	}
	if len(q.entries) > 0 {
		q.signal()
	}

	return q, nil
}

// Enqueue persists a new pending entry and returns its id. A storage failure
// fails the enqueue loudly; the report is not retained anywhere else.
func (q *Queue) Enqueue(report *reporttypes.BugReport) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	entry := &Entry{
		ID:            uuid.NewString(),
		Seq:           q.seq,
		Report:        report,
		State:         StatePending,
		NextAttemptAt: now,
		EnqueuedAt:    now,
	}
	if err := q.persist(entry); err != nil {
		return "", err
	}
	q.seq++
	q.entries[entry.ID] = entry
	q.signal()
	return entry.ID, nil
}

// PeekReady returns a copy of the oldest pending entry whose NextAttemptAt has
// elapsed: strict FIFO among ready entries, ties broken by insertion order.
func (q *Queue) PeekReady(now time.Time) (*Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var best *Entry
	for _, entry := range q.entries {
		if entry.State != StatePending || entry.NextAttemptAt.After(now) {
			continue
		}
		if best == nil || entry.Seq < best.Seq {
			best = entry
		}
	}
	if best == nil {
		return nil, false
	}
	copied := *best
	return &copied, true
}

// MarkInFlight transitions a pending entry to in_flight
func (q *Queue) MarkInFlight(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.entries[id]
	if !ok {
		return fmt.Errorf("queue: no entry %s", id)
	}
	if entry.State != StatePending {
		return fmt.Errorf("queue: entry %s is %s, not pending", id, entry.State)
	}
	entry.State = StateInFlight
	return q.persist(entry)
}

// MarkDelivered removes a delivered entry
func (q *Queue) MarkDelivered(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.entries[id]; !ok {
		return fmt.Errorf("queue: no entry %s", id)
	}
	if err := q.store.Delete(storePrefix + id); err != nil {
		return err
	}
	delete(q.entries, id)
	return nil
}

// MarkFailed records a failed attempt. Retriable failures recompute
// NextAttemptAt with exponential backoff and jitter (bounded by the configured
// maximum) and return the entry to pending; a positive retryAfter overrides
// the computed delay. Non-retriable failures, or an exhausted attempt budget,
// transition to failed_permanent: the entry is removed and a copy returned so
// the caller can observe the terminal failure exactly once.
func (q *Queue) MarkFailed(id string, cause error, retriable bool, retryAfter time.Duration) (*Entry, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.entries[id]
	if !ok {
		return nil, false, fmt.Errorf("queue: no entry %s", id)
	}

	entry.Attempts++
	if cause != nil {
		entry.LastError = cause.Error()
	}

	if !retriable || entry.Attempts >= q.config.maxAttempts() {
		entry.State = StateFailedPermanent
		if err := q.store.Delete(storePrefix + id); err != nil {
			return nil, false, err
		}
		delete(q.entries, id)
		copied := *entry
		return &copied, true, nil
	}

	delay := q.backoffDelay(entry.BackoffExponent)
	if retryAfter > 0 {
		delay = retryAfter
	}
	entry.State = StatePending
	entry.BackoffExponent++
	entry.NextAttemptAt = q.now().Add(delay)
	if err := q.persist(entry); err != nil {
		return nil, false, err
	}
	copied := *entry
	return &copied, false, nil
}

// Requeue returns an in_flight entry to pending without charging an attempt.
// Used when a transmission is cancelled by shutdown.
func (q *Queue) Requeue(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.entries[id]
	if !ok {
		return fmt.Errorf("queue: no entry %s", id)
	}
	if entry.State != StateInFlight {
		return nil
	}
	entry.State = StatePending
	entry.NextAttemptAt = q.now()
	if err := q.persist(entry); err != nil {
		return err
	}
	q.signal()
	return nil
}

// Ready is signalled whenever a new entry becomes available
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

// NextWake returns the earliest NextAttemptAt among pending entries
func (q *Queue) NextWake() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var earliest time.Time
	found := false
	for _, entry := range q.entries {
		if entry.State != StatePending {
			continue
		}
		if !found || entry.NextAttemptAt.Before(earliest) {
			earliest = entry.NextAttemptAt
			found = true
		}
	}
	return earliest, found
}

// Len returns the number of live entries
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Snapshot returns copies of all live entries in FIFO order
func (q *Queue) Snapshot() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Entry, 0, len(q.entries))
	for _, entry := range q.entries {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// backoffDelay computes min(base * 2^exp, max) with half-range jitter. The
// jittered delay never exceeds the configured maximum.
func (q *Queue) backoffDelay(exponent int) time.Duration {
	base := q.config.backoffBase()
	max := q.config.backoffMax()

	delay := max
	if exponent < 32 {
		shifted := base << uint(exponent)
		if shifted < max && shifted > 0 {
			delay = shifted
		}
	}

	half := delay / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

func (q *Queue) persist(entry *Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("queue: encoding entry %s: %w", entry.ID, err)
	}
	if err := q.store.Put(storePrefix+entry.ID, raw); err != nil {
		return fmt.Errorf("queue: persisting entry %s: %w", entry.ID, err)
	}
	return nil
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
