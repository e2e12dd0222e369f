package offlinestore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/checkpointly/scanvalidator/pkg/contracts"
	"github.com/checkpointly/scanvalidator/pkg/rulesclient"
)

// RulesSyncer is the subset of rulesclient.Client a sync pass needs. A
// narrow interface keeps offlinestore testable without a live C3.
type RulesSyncer interface {
	RecordScan(ctx context.Context, req rulesclient.RecordScanRequest) error
}

// SyncReport is what one Sync call returns, per spec.md §4.7.
type SyncReport struct {
	Synced       int
	Failed       int
	Pending      int
	SyncDuration time.Duration
}

type recordScanPayload struct {
	TicketID string             `json:"ticketId"`
	ScanInfo contracts.ScanInfo `json:"scanInfo"`
}

// Sync drains up to batchSize pending entries through client, moving
// each to success (removed) or back to the queue with an incremented
// attempt count. Overlapping calls are refused — the second caller gets
// ErrSyncInProgress immediately rather than blocking on the first.
func (s *Store) Sync(ctx context.Context, client RulesSyncer, batchSize int) (*SyncReport, error) {
	if !s.syncing.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer s.syncing.Unlock()

	start := time.Now()
	batch := s.takeBatchLocked(batchSize)

	report := &SyncReport{}
	for _, entry := range batch {
		if err := s.replay(ctx, client, entry); err != nil {
			report.Failed++
			s.requeueOrDeadLetter(entry, err)
			continue
		}
		report.Synced++
		s.removePending(entry.PendingSyncID)
	}

	report.Pending = s.PendingCount()
	report.SyncDuration = time.Since(start)
	return report, nil
}

func (s *Store) takeBatchLocked(batchSize int) []*contracts.PendingSyncEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := make([]*contracts.PendingSyncEntry, 0, batchSize)
	for _, entry := range s.pending {
		if len(batch) >= batchSize {
			break
		}
		batch = append(batch, entry)
	}
	return batch
}

func (s *Store) replay(ctx context.Context, client RulesSyncer, entry *contracts.PendingSyncEntry) error {
	switch entry.ActionType {
	case contracts.SyncActionRecordScan:
		var payload recordScanPayload
		if err := json.Unmarshal(entry.Payload, &payload); err != nil {
			return fmt.Errorf("offlinestore: unmarshal record-scan payload: %w", err)
		}
		return client.RecordScan(ctx, rulesclient.RecordScanRequest{
			TicketID: payload.TicketID,
			Decision: "admit",
			ScanInfo: rulesclient.ScanInfoWire{
				ScanID:    payload.ScanInfo.ScanID,
				Timestamp: payload.ScanInfo.Timestamp,
				Location:  payload.ScanInfo.Location,
			},
		})
	case contracts.SyncActionFraudAttempt:
		// Fraud-attempt sync reuses the same recordScan channel upstream —
		// the rules service classifies by the decision field.
		var payload recordScanPayload
		if err := json.Unmarshal(entry.Payload, &payload); err != nil {
			return fmt.Errorf("offlinestore: unmarshal fraud-attempt payload: %w", err)
		}
		return client.RecordScan(ctx, rulesclient.RecordScanRequest{
			TicketID: payload.TicketID,
			Decision: "flag",
			ScanInfo: rulesclient.ScanInfoWire{
				ScanID:    payload.ScanInfo.ScanID,
				Timestamp: payload.ScanInfo.Timestamp,
				Location:  payload.ScanInfo.Location,
			},
		})
	default:
		return fmt.Errorf("offlinestore: unknown sync action type %q", entry.ActionType)
	}
}

func (s *Store) requeueOrDeadLetter(entry *contracts.PendingSyncEntry, syncErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.Attempts++
	entry.LastError = syncErr.Error()
	entry.LastAttemptAt = time.Now().UTC()

	if entry.Attempts >= s.cfg.MaxSyncAttempts {
		s.deadLetter = append(s.deadLetter, contracts.DeadLetterEntry{
			PendingSyncEntry: *entry,
			DeadLetteredAt:   time.Now().UTC(),
		})
		delete(s.pending, entry.PendingSyncID)
		return
	}
	s.pending[entry.PendingSyncID] = entry
}

func (s *Store) removePending(pendingSyncID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, pendingSyncID)
}
