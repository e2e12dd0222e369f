package scanstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/checkpointly/scanvalidator/pkg/contracts"
)

// RecordConfirmation implements spec.md §6's rules-service callback:
// it derives the durable scan result from the reported verdict, updates
// the ticket's cache row, appends the scan log, and inserts one
// fraud_attempts row per reported flag, all in one transaction. This is
// the only write path that ever produces a non-valid scan log or a
// fraud_attempts row — the online ValidateTicket path never reaches
// these result values itself, since it answers the caller directly
// instead of waiting on an upstream confirmation.
func (s *Store) RecordConfirmation(ctx context.Context, confirmation contracts.ScanConfirmation, maxScansPerTicket int) (*contracts.ScanLog, error) {
	result := confirmationResult(confirmation.Result)

	log := contracts.ScanLog{
		ScanLogID: uuid.NewString(),
		UID:       uuid.NewString(),
		SessionID: nil,
		TicketID:  confirmation.TicketID,
		ScannedAt: confirmation.Result.ValidatedAt,
		Result:    result,
		Location:  confirmation.Result.Location,
		DeviceID:  confirmation.Result.DeviceID,
		ValidationInfo: map[string]any{
			"operatorId":       confirmation.Result.OperatorID,
			"checkpointId":     confirmation.Result.CheckpointID,
			"validationSource": confirmation.Metadata.ValidationSource,
			"validationType":   confirmation.Metadata.ValidationType,
			"processingTimeMs": confirmation.Metadata.ProcessingTimeMS,
		},
		FraudFlags: confirmation.Result.FraudFlags,
		CreatedAt:  time.Now().UTC(),
	}
	if log.ScannedAt.IsZero() {
		log.ScannedAt = log.CreatedAt
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

	// Updates the per-ticket cache row regardless of result, per
	// spec.md §6 ("Updates the per-ticket cache row"): the count/
	// location bump always runs, then the callback's own blocked
	// verdict is layered on top of whatever the count-based rule
	// already decided.
	if err := upsertTicketCacheTx(ctx, tx, log.TicketID, log.Location, log.ScannedAt, maxScansPerTicket); err != nil {
		return nil, err
	}
	if confirmation.Result.Blocked {
		reason := confirmation.Result.BlockReason
		if reason == "" {
			reason = "blocked by rules service"
		}
		if err := forceBlockTicketCacheTx(ctx, tx, log.TicketID, reason, log.ScannedAt); err != nil {
			return nil, err
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO scan_logs (id, uid, scan_session_id, scanned_at, result, location, device_id, ticket_id, event_id, ticket_data, validation_details, fraud_flags, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		log.ScanLogID, log.UID, log.SessionID, log.ScannedAt, string(log.Result), log.Location, log.DeviceID, log.TicketID, log.EventID,
		ticketData, validationDetails, fraudFlags, log.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scanstore: insert scan log: %w", err)
	}

	for _, flag := range confirmation.Result.FraudFlags {
		attempt := contracts.FraudAttempt{
			ScanLogID: log.ScanLogID,
			FraudType: flag.Type,
			Severity:  flag.Severity,
			Details:   flag.Details,
			Blocked:   confirmation.Result.Blocked,
		}
		if _, err := insertFraudAttempt(ctx, tx, attempt); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("scanstore: commit confirmation: %w", err)
	}
	return &log, nil
}

// confirmationResult derives the durable ScanResult from the callback's
// reported verdict: a fraud flag always wins (fraud review needs to see
// it regardless of whether the rules service still admitted the scan),
// otherwise an unsuccessful or blocked scan is invalid.
func confirmationResult(r contracts.ScanConfirmationResult) contracts.ScanResult {
	switch {
	case len(r.FraudFlags) > 0:
		return contracts.ScanResultFraudDetected
	case !r.Success || r.Blocked:
		return contracts.ScanResultInvalid
	default:
		return contracts.ScanResultValid
	}
}
