// Package offlinestore implements C7: a SQLite-backed local ticket cache
// that lets a checkpoint keep validating admissions while disconnected
// from the rules service, queuing deferred writes for replay once
// connectivity returns.
package offlinestore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/checkpointly/scanvalidator/pkg/contracts"
)

// ticketRecord is the in-memory "local map" spec.md §4.7 describes,
// consulted first; SQLite is the durable store a periodic snapshot
// writes to and process start reads back from.
type ticketRecord struct {
	entry   contracts.OfflineTicketEntry
	history []contracts.ScanInfo
}

// Config bounds the store's background loops and retry policy.
type Config struct {
	// MaxSyncAttempts is how many times a pending-sync entry is retried
	// before it moves to the dead letter list. Default 10 — SPEC_FULL.md
	// supplement #2.
	MaxSyncAttempts  int
	SnapshotInterval time.Duration
	RetentionSweep   time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxSyncAttempts <= 0 {
		c.MaxSyncAttempts = 10
	}
	if c.SnapshotInterval <= 0 {
		c.SnapshotInterval = 5 * time.Minute
	}
	if c.RetentionSweep <= 0 {
		c.RetentionSweep = time.Hour
	}
	return c
}

// Store is C7.
type Store struct {
	db  *sql.DB
	cfg Config

	mu              sync.Mutex
	tickets         map[string]*ticketRecord
	pending         map[string]*contracts.PendingSyncEntry
	pendingByTicket map[string][]string // ticketId -> pendingSyncIds
	deadLetter      []contracts.DeadLetterEntry

	syncing  sync.Mutex // held for the duration of a Sync call, to refuse overlap
	stopOnce sync.Once
	stopCh   chan struct{}
}

// Open opens (or creates) the SQLite file at path, migrates the schema,
// and restores the last snapshot into memory.
func Open(path string, cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("offlinestore: open: %w", err)
	}
	return New(db, cfg)
}

// New wraps an already-open *sql.DB — the path tests use against an
// in-memory SQLite database (":memory:").
func New(db *sql.DB, cfg Config) (*Store, error) {
	cfg = cfg.withDefaults()
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("offlinestore: migrate: %w", err)
	}
	s := &Store{
		db:              db,
		cfg:             cfg,
		tickets:         make(map[string]*ticketRecord),
		pending:         make(map[string]*contracts.PendingSyncEntry),
		pendingByTicket: make(map[string][]string),
		stopCh:          make(chan struct{}),
	}
	if err := s.loadSnapshot(context.Background()); err != nil {
		return nil, fmt.Errorf("offlinestore: load snapshot: %w", err)
	}
	go s.snapshotLoop()
	go s.retentionLoop()
	return s, nil
}

// Close stops the background loops, takes one final snapshot, and closes
// the database.
func (s *Store) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	if err := s.Snapshot(context.Background()); err != nil {
		return err
	}
	return s.db.Close()
}

// PutTicket seeds or overwrites the local cache entry for a ticket —
// called after a successful online validation, so the checkpoint has
// something to fall back on if connectivity drops.
func (s *Store) PutTicket(entry contracts.OfflineTicketEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.tickets[entry.TicketID]
	if !ok {
		r = &ticketRecord{}
		s.tickets[entry.TicketID] = r
	}
	r.entry = entry
}
