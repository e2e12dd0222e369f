package scanstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/checkpointly/scanvalidator/pkg/contracts"
)

// CreateScanLog inserts one append-only scan log row and upserts the
// ticket's cache row in the same call, matching the cache-upsert
// semantics of spec.md §4.4 ("on every scan involving a ticket").
// RecordScan is the orchestrator-facing name for the same operation.
func (s *Store) CreateScanLog(ctx context.Context, log contracts.ScanLog, maxScansPerTicket int) (*contracts.ScanLog, error) {
	if log.ScanLogID == "" {
		log.ScanLogID = uuid.NewString()
	}
	if log.UID == "" {
		log.UID = uuid.NewString()
	}
	if log.ScannedAt.IsZero() {
		log.ScannedAt = time.Now().UTC()
	}

	ticketData, err := json.Marshal(log.TicketData)
	if err != nil {
		return nil, fmt.Errorf("scanstore: marshal ticket data: %w", err)
	}
	validationDetails, err := json.Marshal(log.ValidationInfo)
	if err != nil {
		return nil, fmt.Errorf("scanstore: marshal validation details: %w", err)
	}
	fraudFlags, err := json.Marshal(log.FraudFlags)
	if err != nil {
		return nil, fmt.Errorf("scanstore: marshal fraud flags: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("scanstore: begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO scan_logs (id, uid, scan_session_id, scanned_at, result, location, device_id, ticket_id, event_id, ticket_data, validation_details, fraud_flags, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		log.ScanLogID, log.UID, log.SessionID, log.ScannedAt, string(log.Result), log.Location, log.DeviceID, log.TicketID, log.EventID,
		ticketData, validationDetails, fraudFlags, log.ScannedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scanstore: insert scan log: %w", err)
	}

	if err := upsertTicketCacheTx(ctx, tx, log.TicketID, log.Location, log.ScannedAt, maxScansPerTicket); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("scanstore: commit scan log: %w", err)
	}
	return &log, nil
}

// GetTicketLogs returns up to limit scan logs for a ticket, newest first.
func (s *Store) GetTicketLogs(ctx context.Context, ticketID string, limit int) ([]contracts.ScanLog, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryScanLogs(ctx, `
		SELECT id, uid, scan_session_id, ticket_id, event_id, scanned_at, result, location, device_id, ticket_data, validation_details, fraud_flags, created_at
		FROM scan_logs WHERE ticket_id = $1 ORDER BY scanned_at DESC LIMIT $2`,
		ticketID, limit)
}

// GetTicketScanHistory is GetTicketLogs with pagination, per spec.md
// §4.4: a limit outside [1,100] is replaced by the default of 50, and a
// negative offset by 0.
func (s *Store) GetTicketScanHistory(ctx context.Context, ticketID string, limit, offset int) ([]contracts.ScanLog, error) {
	if limit < 1 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.queryScanLogs(ctx, `
		SELECT id, uid, scan_session_id, ticket_id, event_id, scanned_at, result, location, device_id, ticket_data, validation_details, fraud_flags, created_at
		FROM scan_logs WHERE ticket_id = $1 ORDER BY scanned_at DESC LIMIT $2 OFFSET $3`,
		ticketID, limit, offset)
}

func (s *Store) queryScanLogs(ctx context.Context, query string, args ...any) ([]contracts.ScanLog, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scanstore: query scan logs: %w", err)
	}
	defer rows.Close()

	var out []contracts.ScanLog
	for rows.Next() {
		var (
			log                                                 contracts.ScanLog
			sessionID                                           *string
			eventID, location, deviceID, result                 string
			ticketDataRaw, validationDetailsRaw, fraudFlagsRaw   []byte
		)
		if err := rows.Scan(&log.ScanLogID, &log.UID, &sessionID, &log.TicketID, &eventID, &log.ScannedAt, &result, &location, &deviceID, &ticketDataRaw, &validationDetailsRaw, &fraudFlagsRaw, &log.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanstore: scan scan-log row: %w", err)
		}
		log.SessionID = sessionID
		log.EventID = eventID
		log.Location = location
		log.DeviceID = deviceID
		log.Result = contracts.ScanResult(result)
		_ = json.Unmarshal(ticketDataRaw, &log.TicketData)
		_ = json.Unmarshal(validationDetailsRaw, &log.ValidationInfo)
		_ = json.Unmarshal(fraudFlagsRaw, &log.FraudFlags)
		out = append(out, log)
	}
	return out, rows.Err()
}
