package scanstore

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// ErrNotFound is returned by read operations that find no matching row.
var ErrNotFound = errors.New("scanstore: not found")

// Store is C4, backed by database/sql + lib/pq. A single Store is
// constructed once over a bounded connection pool (max open conns, idle
// timeout) per spec.md §5, and is safe for concurrent use — the pool
// itself serializes acquisition.
type Store struct {
	db *sql.DB
}

// Config bounds the connection pool per spec.md §5/§6.
type Config struct {
	DSN               string
	MaxOpenConns      int
	MaxIdleConns      int
	ConnMaxIdleTime   time.Duration
	ConnectionTimeout time.Duration
}

// Open connects to Postgres and applies the configured pool bounds
// (MaxOpenConns, MaxIdleConns, ConnMaxIdleTime). ConnectionTimeout is not
// applied, and there is no typed acquisition error: a call waiting for a
// connection under the bound waits until its own context is done.
func Open(cfg Config) (*Store, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("scanstore: open: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	return &Store{db: db}, nil
}

// New wraps an already-open *sql.DB — the path tests use with sqlmock.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}
