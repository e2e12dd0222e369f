package scanstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/checkpointly/scanvalidator/pkg/contracts"
)

const blockReasonTooManyScans = "Trop de scans"

// upsertTicketCacheTx implements spec.md §4.4's cache upsert semantics
// inside an already-open transaction: insert with scanCount=1 on first
// sight, otherwise bump lastScanAt/scanCount and add the location to
// the set; blocking kicks in once scanCount exceeds maxScansPerTicket.
func upsertTicketCacheTx(ctx context.Context, tx *sql.Tx, ticketID, location string, scannedAt time.Time, maxScansPerTicket int) error {
	var scanCount int
	var locationsRaw []byte
	err := tx.QueryRowContext(ctx, `SELECT scan_count, scan_locations FROM scanned_tickets_cache WHERE ticket_id = $1 FOR UPDATE`, ticketID).
		Scan(&scanCount, &locationsRaw)

	switch {
	case err == sql.ErrNoRows:
		locations, _ := json.Marshal([]string{location})
		_, err := tx.ExecContext(ctx, `
			INSERT INTO scanned_tickets_cache (ticket_id, first_scan_at, last_scan_at, scan_count, scan_locations, is_blocked, block_reason, updated_at)
			VALUES ($1, $2, $2, 1, $3, FALSE, NULL, $2)`,
			ticketID, scannedAt, locations,
		)
		if err != nil {
			return fmt.Errorf("scanstore: insert ticket cache row: %w", err)
		}
		return nil

	case err != nil:
		return fmt.Errorf("scanstore: read ticket cache row: %w", err)

	default:
		var locations []string
		_ = json.Unmarshal(locationsRaw, &locations)
		if !containsString(locations, location) {
			locations = append(locations, location)
		}
		newCount := scanCount + 1
		blocked := newCount > maxScansPerTicket
		var blockReason any
		if blocked {
			blockReason = blockReasonTooManyScans
		}
		newLocations, _ := json.Marshal(locations)

		_, err := tx.ExecContext(ctx, `
			UPDATE scanned_tickets_cache
			SET last_scan_at = $2, scan_count = $3, scan_locations = $4,
			    is_blocked = is_blocked OR $5, block_reason = COALESCE(block_reason, $6), updated_at = $2
			WHERE ticket_id = $1`,
			ticketID, scannedAt, newCount, newLocations, blocked, blockReason,
		)
		if err != nil {
			return fmt.Errorf("scanstore: update ticket cache row: %w", err)
		}
		return nil
	}
}

// forceBlockTicketCacheTx marks the ticket's cache row blocked
// unconditionally, independent of scan count — the confirmation
// callback's own `blocked`/`blockReason` verdict overrides whatever the
// count-based rule in upsertTicketCacheTx already decided.
func forceBlockTicketCacheTx(ctx context.Context, tx *sql.Tx, ticketID, reason string, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE scanned_tickets_cache
		SET is_blocked = TRUE, block_reason = COALESCE(block_reason, $2), updated_at = $3
		WHERE ticket_id = $1`,
		ticketID, reason, at,
	)
	if err != nil {
		return fmt.Errorf("scanstore: force-block ticket cache row: %w", err)
	}
	return nil
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// GetTicketCache reads the per-ticket cache row.
func (s *Store) GetTicketCache(ctx context.Context, ticketID string) (*contracts.TicketCacheRow, error) {
	var row contracts.TicketCacheRow
	var locationsRaw []byte
	var blockReason sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT ticket_id, scan_count, scan_locations, is_blocked, block_reason, last_scan_at, updated_at
		FROM scanned_tickets_cache WHERE ticket_id = $1`, ticketID,
	).Scan(&row.TicketID, &row.ScanCount, &locationsRaw, &row.Blocked, &blockReason, &row.LastScannedAt, &row.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanstore: get ticket cache: %w", err)
	}
	_ = json.Unmarshal(locationsRaw, &row.Locations)
	row.BlockReason = blockReason.String
	return &row, nil
}

// UpsertTicketCache runs the same count/location upsert as CreateScanLog
// in a transaction of its own, without writing a scan log. Like every
// upsert it can set the blocked flag but never clears it.
func (s *Store) UpsertTicketCache(ctx context.Context, ticketID, location string, scannedAt time.Time, maxScansPerTicket int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("scanstore: begin tx: %w", err)
	}
	defer tx.Rollback()
	if err := upsertTicketCacheTx(ctx, tx, ticketID, location, scannedAt, maxScansPerTicket); err != nil {
		return err
	}
	return tx.Commit()
}
