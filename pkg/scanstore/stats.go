package scanstore

import (
	"context"
	"fmt"
	"time"
)

// EventScanStats is the response shape of GetEventScanStats, per
// spec.md §4.4.
type EventScanStats struct {
	TotalScans      int
	UniqueTickets   int
	SuccessfulScans int
	FailedScans     int
	FraudAttempts   int
	Locations       []string
	SuccessRate     string
}

// GetEventScanStats defaults to the last 24h when start/end are zero,
// per spec.md §4.4.
func (s *Store) GetEventScanStats(ctx context.Context, eventID string, start, end time.Time) (*EventScanStats, error) {
	if end.IsZero() {
		end = time.Now().UTC()
	}
	if start.IsZero() {
		start = end.Add(-24 * time.Hour)
	}

	stats := &EventScanStats{}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(DISTINCT ticket_id),
			COUNT(*) FILTER (WHERE result = 'valid'),
			COUNT(*) FILTER (WHERE result != 'valid'),
			COUNT(*) FILTER (WHERE result = 'fraud_detected')
		FROM scan_logs
		WHERE event_id = $1 AND scanned_at BETWEEN $2 AND $3`,
		eventID, start, end,
	).Scan(&stats.TotalScans, &stats.UniqueTickets, &stats.SuccessfulScans, &stats.FailedScans, &stats.FraudAttempts)
	if err != nil {
		return nil, fmt.Errorf("scanstore: get event scan stats: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT location FROM scan_logs
		WHERE event_id = $1 AND scanned_at BETWEEN $2 AND $3 AND location IS NOT NULL AND location != ''`,
		eventID, start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("scanstore: get event scan locations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var loc string
		if err := rows.Scan(&loc); err != nil {
			return nil, fmt.Errorf("scanstore: scan location row: %w", err)
		}
		stats.Locations = append(stats.Locations, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if stats.TotalScans > 0 {
		rate := float64(stats.SuccessfulScans) / float64(stats.TotalScans) * 100
		stats.SuccessRate = fmt.Sprintf("%.1f%%", rate)
	} else {
		stats.SuccessRate = "0.0%"
	}
	return stats, nil
}
