package offlinestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/checkpointly/scanvalidator/pkg/contracts"
)

func (s *Store) snapshotLoop() {
	ticker := time.NewTicker(s.cfg.SnapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = s.Snapshot(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

func (s *Store) retentionLoop() {
	ticker := time.NewTicker(s.cfg.RetentionSweep)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweepExpired()
		case <-s.stopCh:
			return
		}
	}
}

// sweepExpired removes local tickets whose expiresAt has passed, per
// spec.md §4.7's retention pass.
func (s *Store) sweepExpired() {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.tickets {
		if now.After(r.entry.ExpiresAt) {
			delete(s.tickets, id)
		}
	}
}

// Snapshot copies the in-memory state to the durable SQLite tables,
// replacing whatever was there, per spec.md §4.7's "periodic snapshot
// copies the in-memory state to durable storage."
func (s *Store) Snapshot(ctx context.Context) error {
	s.mu.Lock()
	tickets := make(map[string]*ticketRecord, len(s.tickets))
	for k, v := range s.tickets {
		tickets[k] = v
	}
	pending := make([]*contracts.PendingSyncEntry, 0, len(s.pending))
	for _, v := range s.pending {
		pending = append(pending, v)
	}
	deadLetter := make([]contracts.DeadLetterEntry, len(s.deadLetter))
	copy(deadLetter, s.deadLetter)
	s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("offlinestore: snapshot begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM offline_tickets`); err != nil {
		return fmt.Errorf("offlinestore: snapshot clear tickets: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM offline_scan_history`); err != nil {
		return fmt.Errorf("offlinestore: snapshot clear history: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_sync`); err != nil {
		return fmt.Errorf("offlinestore: snapshot clear pending: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM dead_letter`); err != nil {
		return fmt.Errorf("offlinestore: snapshot clear dead letter: %w", err)
	}

	for id, r := range tickets {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO offline_tickets (ticket_id, event_id, ticket_type, issued_at, expires_at, active, scan_count, max_scans, synced_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, r.entry.EventID, string(r.entry.TicketType), r.entry.IssuedAt, r.entry.ExpiresAt,
			boolToInt(r.entry.Active), r.entry.ScanCount, r.entry.MaxScans, r.entry.SyncedAt,
		)
		if err != nil {
			return fmt.Errorf("offlinestore: snapshot ticket %s: %w", id, err)
		}
		for _, h := range r.history {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO offline_scan_history (ticket_id, scan_id, timestamp, location, device_id)
				VALUES (?, ?, ?, ?, ?)`,
				id, h.ScanID, h.Timestamp, h.Location, h.DeviceID,
			)
			if err != nil {
				return fmt.Errorf("offlinestore: snapshot scan history %s: %w", id, err)
			}
		}
	}

	for _, p := range pending {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO pending_sync (pending_sync_id, ticket_id, action_type, payload, attempts, last_error, created_at, last_attempt_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			p.PendingSyncID, ticketIDFromPayload(p.Payload), string(p.ActionType), p.Payload, p.Attempts, p.LastError, p.CreatedAt, p.LastAttemptAt,
		); err != nil {
			return fmt.Errorf("offlinestore: snapshot pending %s: %w", p.PendingSyncID, err)
		}
	}

	for _, d := range deadLetter {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO dead_letter (pending_sync_id, ticket_id, action_type, payload, attempts, last_error, created_at, last_attempt_at, dead_lettered_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.PendingSyncID, ticketIDFromPayload(d.Payload), string(d.ActionType), d.Payload, d.Attempts, d.LastError, d.CreatedAt, d.LastAttemptAt, d.DeadLetteredAt,
		); err != nil {
			return fmt.Errorf("offlinestore: snapshot dead letter %s: %w", d.PendingSyncID, err)
		}
	}

	return tx.Commit()
}

// loadSnapshot restores in-memory state from SQLite on process start.
func (s *Store) loadSnapshot(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ticket_id, event_id, ticket_type, issued_at, expires_at, active, scan_count, max_scans, synced_at
		FROM offline_tickets`)
	if err != nil {
		return fmt.Errorf("offlinestore: load tickets: %w", err)
	}
	for rows.Next() {
		var (
			id, eventID, ticketType string
			issuedAt, expiresAt     time.Time
			active                  int
			scanCount, maxScans     int
			syncedAt                sql.NullTime
		)
		if err := rows.Scan(&id, &eventID, &ticketType, &issuedAt, &expiresAt, &active, &scanCount, &maxScans, &syncedAt); err != nil {
			rows.Close()
			return fmt.Errorf("offlinestore: scan ticket row: %w", err)
		}
		s.tickets[id] = &ticketRecord{entry: contracts.OfflineTicketEntry{
			TicketID:   id,
			EventID:    eventID,
			TicketType: contracts.TicketType(ticketType),
			IssuedAt:   issuedAt,
			ExpiresAt:  expiresAt,
			Active:     active != 0,
			ScanCount:  scanCount,
			MaxScans:   maxScans,
			SyncedAt:   syncedAt.Time,
		}}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	histRows, err := s.db.QueryContext(ctx, `
		SELECT ticket_id, scan_id, timestamp, location, device_id FROM offline_scan_history ORDER BY id ASC`)
	if err != nil {
		return fmt.Errorf("offlinestore: load scan history: %w", err)
	}
	for histRows.Next() {
		var ticketID string
		var info contracts.ScanInfo
		if err := histRows.Scan(&ticketID, &info.ScanID, &info.Timestamp, &info.Location, &info.DeviceID); err != nil {
			histRows.Close()
			return fmt.Errorf("offlinestore: scan history row: %w", err)
		}
		info.Offline = true
		if r, ok := s.tickets[ticketID]; ok {
			r.history = append(r.history, info)
		}
	}
	if err := histRows.Err(); err != nil {
		histRows.Close()
		return err
	}
	histRows.Close()

	pendRows, err := s.db.QueryContext(ctx, `
		SELECT pending_sync_id, action_type, payload, attempts, last_error, created_at, last_attempt_at FROM pending_sync`)
	if err != nil {
		return fmt.Errorf("offlinestore: load pending sync: %w", err)
	}
	for pendRows.Next() {
		var e contracts.PendingSyncEntry
		var actionType string
		var lastAttempt sql.NullTime
		var lastError sql.NullString
		if err := pendRows.Scan(&e.PendingSyncID, &actionType, &e.Payload, &e.Attempts, &lastError, &e.CreatedAt, &lastAttempt); err != nil {
			pendRows.Close()
			return fmt.Errorf("offlinestore: pending sync row: %w", err)
		}
		e.ActionType = contracts.SyncActionType(actionType)
		e.LastError = lastError.String
		e.LastAttemptAt = lastAttempt.Time
		s.pending[e.PendingSyncID] = &e
		tid := ticketIDFromPayload(e.Payload)
		s.pendingByTicket[tid] = append(s.pendingByTicket[tid], e.PendingSyncID)
	}
	if err := pendRows.Err(); err != nil {
		pendRows.Close()
		return err
	}
	pendRows.Close()

	dlRows, err := s.db.QueryContext(ctx, `
		SELECT pending_sync_id, action_type, payload, attempts, last_error, created_at, last_attempt_at, dead_lettered_at FROM dead_letter`)
	if err != nil {
		return fmt.Errorf("offlinestore: load dead letter: %w", err)
	}
	for dlRows.Next() {
		var d contracts.DeadLetterEntry
		var actionType string
		var lastAttempt, deadLetteredAt sql.NullTime
		var lastError sql.NullString
		if err := dlRows.Scan(&d.PendingSyncID, &actionType, &d.Payload, &d.Attempts, &lastError, &d.CreatedAt, &lastAttempt, &deadLetteredAt); err != nil {
			dlRows.Close()
			return fmt.Errorf("offlinestore: dead letter row: %w", err)
		}
		d.ActionType = contracts.SyncActionType(actionType)
		d.LastError = lastError.String
		d.LastAttemptAt = lastAttempt.Time
		d.DeadLetteredAt = deadLetteredAt.Time
		s.deadLetter = append(s.deadLetter, d)
	}
	if err := dlRows.Err(); err != nil {
		dlRows.Close()
		return err
	}
	dlRows.Close()

	return nil
}

func ticketIDFromPayload(payload []byte) string {
	var p struct {
		TicketID string `json:"ticketId"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return ""
	}
	return p.TicketID
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
