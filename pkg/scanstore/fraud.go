package scanstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/checkpointly/scanvalidator/pkg/contracts"
)

// execer is satisfied by both *sql.DB and *sql.Tx, so
// insertFraudAttempt's one SQL statement serves a standalone caller
// (CreateFraudAttempt) and a caller already inside another operation's
// transaction (RecordConfirmation) without duplicating it.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// CreateFraudAttempt inserts an append-only fraud-attempt row. Callers
// must supply a ScanLogID that already exists — the foreign key enforces
// P4's referential-intactness invariant ("every fraud_attempts.scan_log_id
// resolves to a scan_logs.id") at the database level.
func (s *Store) CreateFraudAttempt(ctx context.Context, attempt contracts.FraudAttempt) (*contracts.FraudAttempt, error) {
	return insertFraudAttempt(ctx, s.db, attempt)
}

func insertFraudAttempt(ctx context.Context, exec execer, attempt contracts.FraudAttempt) (*contracts.FraudAttempt, error) {
	if attempt.FraudAttemptID == "" {
		attempt.FraudAttemptID = uuid.NewString()
	}
	if attempt.UID == "" {
		attempt.UID = uuid.NewString()
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now().UTC()
	}

	details, err := json.Marshal(attempt.Details)
	if err != nil {
		return nil, fmt.Errorf("scanstore: marshal fraud attempt details: %w", err)
	}

	_, err = exec.ExecContext(ctx, `
		INSERT INTO fraud_attempts (id, uid, scan_log_id, fraud_type, severity, details, ip_address, user_agent, blocked, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		attempt.FraudAttemptID, attempt.UID, attempt.ScanLogID, string(attempt.FraudType), string(attempt.Severity),
		details, attempt.IPAddress, attempt.UserAgent, attempt.Blocked, attempt.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scanstore: insert fraud attempt: %w", err)
	}
	return &attempt, nil
}
