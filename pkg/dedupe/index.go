package dedupe

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	cache_pkg "github.com/patrickmn/go-cache"

	"github.com/bugrelay/bugrelay/pkg/storage"
)

const storePrefix = "dedupe/"

// Config contains configuration for the duplicate filter
type Config struct {
	WindowHours int `json:"window_hours" yaml:"window_hours" default:"24"`
}

// Window returns the retention window as a duration
func (c *Config) Window() time.Duration {
	hours := 24
	if c != nil && c.WindowHours > 0 {
		hours = c.WindowHours
	}
	return time.Duration(hours) * time.Hour
}

// indexEntry is the per-fingerprint record. The window slides: every Record
// call refreshes the expiry.
type indexEntry struct {
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	Count       int       `json:"count"`
}

// Index is the duplicate index: fingerprint -> first-seen/count, bounded by a
// sliding retention window and persisted write-through so suppression survives
// restarts.
type Index struct {
	mu     sync.Mutex
	window time.Duration
	cache  *cache_pkg.Cache
	store  storage.Store
	now    func() time.Time
}

// NewIndex builds the index, reloading unexpired entries from storage
func NewIndex(config *Config, store storage.Store) (*Index, error) {
	window := config.Window()
	idx := &Index{
		window: window,
		cache:  cache_pkg.New(window, 2*window),
		store:  store,
		now:    time.Now,
	}

	if store != nil {
		persisted, err := store.List(storePrefix)
		if err != nil {
			return nil, fmt.Errorf("dedupe: loading index: %w", err)
		}
		now := idx.now()
		for key, raw := range persisted {
			var entry indexEntry
			if err := json.Unmarshal(raw, &entry); err != nil {
				// Unreadable record: drop it rather than suppressing forever
				store.Delete(key)
				continue
			}
			remaining := window - now.Sub(entry.LastSeenAt)
			if remaining <= 0 {
				store.Delete(key)
				continue
			}
			idx.cache.Set(key[len(storePrefix):], entry, remaining)
		}
	}

	return idx, nil
}

// ShouldSuppress reports whether the fingerprint was seen within the window
func (i *Index) ShouldSuppress(fingerprint string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, found := i.cache.Get(fingerprint)
	return found
}

// Record marks the fingerprint as seen now, refreshing its sliding window and
// incrementing its occurrence count for observability.
func (i *Index) Record(fingerprint string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	now := i.now()
	entry := indexEntry{FirstSeenAt: now, LastSeenAt: now, Count: 1}
	if existing, found := i.cache.Get(fingerprint); found {
		prev := existing.(indexEntry)
		entry.FirstSeenAt = prev.FirstSeenAt
		entry.Count = prev.Count + 1
	}
	i.cache.Set(fingerprint, entry, i.window)

	if i.store != nil {
		raw, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("dedupe: encoding entry: %w", err)
		}
		if err := i.store.Put(storePrefix+fingerprint, raw); err != nil {
			return fmt.Errorf("dedupe: persisting entry: %w", err)
		}
	}
	return nil
}

// Count returns the observed occurrence count within the window
func (i *Index) Count(fingerprint string) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	if existing, found := i.cache.Get(fingerprint); found {
		return existing.(indexEntry).Count
	}
	return 0
}
