package storage

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrNotFound is returned when a key has no record
var ErrNotFound = errors.New("storage: key not found")

// Store is a durable key to record mapping. The queue and the duplicate index
// persist through it; callers may plug in their own backend as long as writes
// are atomic with respect to a process restart.
type Store interface {
	Put(key string, value []byte) error
	Get(key string) ([]byte, error)
	Delete(key string) error
	List(prefix string) (map[string][]byte, error)
	Close() error
}

// Config selects and parameterizes the storage backend
type Config struct {
	Backend string `json:"backend" yaml:"backend" default:"file"` // file, memory, postgres
	Dir     string `json:"dir" yaml:"dir" default:"./bugrelay-state"`
	DSN     string `json:"dsn" yaml:"dsn" default:""`
}

// New creates the configured backend
func New(config *Config) (Store, error) {
	if config == nil {
		return NewMemory(), nil
	}
	switch config.Backend {
	case "", "file":
		return NewFile(config.Dir)
	case "memory":
		return NewMemory(), nil
	case "postgres":
		return NewPostgres(config.DSN)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", config.Backend)
	}
}

// Memory is an in-process store for tests and volatile deployments
type Memory struct {
	mu      sync.RWMutex
	records map[string][]byte
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{records: make(map[string][]byte)}
}

func (m *Memory) Put(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(value))
	copy(stored, value)
	m.records[key] = stored
	return nil
}

func (m *Memory) Get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, key)
	return nil
}

func (m *Memory) List(prefix string) (map[string][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]byte)
	for key, value := range m.records {
		if strings.HasPrefix(key, prefix) {
			copied := make([]byte, len(value))
			copy(copied, value)
			out[key] = copied
		}
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
