package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// Postgres stores records in a single key/value table. Each statement is a
// single transaction, so mutations are atomic with respect to a restart.
type Postgres struct {
	db *sql.DB
}

// NewPostgres connects and ensures the records table exists
func NewPostgres(dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres storage: dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres storage: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres storage: ping: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS bugrelay_records (
		key   TEXT PRIMARY KEY,
		value BYTEA NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres storage: ensure table: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Put(key string, value []byte) error {
	_, err := p.db.Exec(`INSERT INTO bugrelay_records (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	if err != nil {
		return fmt.Errorf("postgres storage: put %s: %w", key, err)
	}
	return nil
}

func (p *Postgres) Get(key string) ([]byte, error) {
	var value []byte
	err := p.db.QueryRow(`SELECT value FROM bugrelay_records WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres storage: get %s: %w", key, err)
	}
	return value, nil
}

func (p *Postgres) Delete(key string) error {
	if _, err := p.db.Exec(`DELETE FROM bugrelay_records WHERE key = $1`, key); err != nil {
		return fmt.Errorf("postgres storage: delete %s: %w", key, err)
	}
	return nil
}

func (p *Postgres) List(prefix string) (map[string][]byte, error) {
	rows, err := p.db.Query(`SELECT key, value FROM bugrelay_records WHERE key LIKE $1 || '%'`, prefix)
	if err != nil {
		return nil, fmt.Errorf("postgres storage: list: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("postgres storage: scan: %w", err)
		}
		out[key] = value
	}
	return out, rows.Err()
}

func (p *Postgres) Close() error { return p.db.Close() }
