package scanstore

import (
	"context"
	"fmt"
	"time"
)

// CleanupResult reports what the retention sweep removed.
type CleanupResult struct {
	ScanLogsDeleted      int64
	SessionsDeleted      int64
	FraudAttemptsDeleted int64
}

// CleanupOldScans deletes scan logs, ended sessions, and fraud attempts
// older than retentionDays, per spec.md §4.4. Cache rows are preserved
// unless the ticket has since expired — that pruning is the orchestrator/
// hot cache's concern (C5's TTL sweep), not this retention pass, since
// scanstore has no notion of a ticket's expiresAt once the claims have
// been discarded from the append-only log.
func (s *Store) CleanupOldScans(ctx context.Context, retentionDays int) (*CleanupResult, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	result := &CleanupResult{}

	// Fraud attempts reference scan logs, so they must be deleted first
	// to respect the foreign key.
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM fraud_attempts WHERE created_at < $1`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("scanstore: cleanup fraud attempts: %w", err)
	}
	result.FraudAttemptsDeleted, _ = res.RowsAffected()

	res, err = s.db.ExecContext(ctx, `
		DELETE FROM scan_logs WHERE scanned_at < $1`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("scanstore: cleanup scan logs: %w", err)
	}
	result.ScanLogsDeleted, _ = res.RowsAffected()

	res, err = s.db.ExecContext(ctx, `
		DELETE FROM scan_sessions WHERE ended_at IS NOT NULL AND ended_at < $1`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("scanstore: cleanup scan sessions: %w", err)
	}
	result.SessionsDeleted, _ = res.RowsAffected()

	return result, nil
}
