package scanstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/checkpointly/scanvalidator/pkg/contracts"
)

// CreateScanSession inserts a new active session (EndedAt nil).
func (s *Store) CreateScanSession(ctx context.Context, session contracts.ScanSession) (*contracts.ScanSession, error) {
	if session.SessionID == "" {
		session.SessionID = uuid.NewString()
	}
	if session.UID == "" {
		session.UID = uuid.NewString()
	}
	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scan_sessions (id, uid, started_at, ended_at, scan_operator_id, event_id, location, device_info)
		VALUES ($1, $2, $3, NULL, $4, $5, $6, $7)`,
		session.SessionID, session.UID, session.StartedAt, session.OperatorID, session.EventID, session.Location, session.DeviceInfo,
	)
	if err != nil {
		return nil, fmt.Errorf("scanstore: create scan session: %w", err)
	}
	return &session, nil
}

// EndScanSession sets endedAt = now for an active session. It is an
// error to end a session more than once; the invariant endedAt ≥
// startedAt holds by construction since now is always ≥ startedAt.
func (s *Store) EndScanSession(ctx context.Context, sessionID string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE scan_sessions SET ended_at = $1 WHERE id = $2 AND ended_at IS NULL`,
		now, sessionID,
	)
	if err != nil {
		return fmt.Errorf("scanstore: end scan session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("scanstore: end scan session rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SessionFilter narrows GetActiveScanSessions.
type SessionFilter struct {
	EventID    string
	OperatorID string
}

// GetActiveScanSessions returns every session with ended_at IS NULL,
// optionally narrowed by event/operator.
func (s *Store) GetActiveScanSessions(ctx context.Context, filter SessionFilter) ([]contracts.ScanSession, error) {
	query := `SELECT id, uid, started_at, ended_at, scan_operator_id, event_id, location, device_info
	          FROM scan_sessions WHERE ended_at IS NULL`
	args := []any{}
	argIdx := 1
	if filter.EventID != "" {
		query += fmt.Sprintf(" AND event_id = $%d", argIdx)
		args = append(args, filter.EventID)
		argIdx++
	}
	if filter.OperatorID != "" {
		query += fmt.Sprintf(" AND scan_operator_id = $%d", argIdx)
		args = append(args, filter.OperatorID)
		argIdx++
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scanstore: get active scan sessions: %w", err)
	}
	defer rows.Close()

	var out []contracts.ScanSession
	for rows.Next() {
		var sess contracts.ScanSession
		var endedAt sql.NullTime
		var eventID, location, deviceInfo sql.NullString
		if err := rows.Scan(&sess.SessionID, &sess.UID, &sess.StartedAt, &endedAt, &sess.OperatorID, &eventID, &location, &deviceInfo); err != nil {
			return nil, fmt.Errorf("scanstore: scan active session row: %w", err)
		}
		if endedAt.Valid {
			t := endedAt.Time
			sess.EndedAt = &t
		}
		sess.EventID = eventID.String
		sess.Location = location.String
		sess.DeviceInfo = deviceInfo.String
		out = append(out, sess)
	}
	return out, rows.Err()
}
