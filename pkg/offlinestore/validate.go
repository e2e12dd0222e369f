package offlinestore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/checkpointly/scanvalidator/pkg/contracts"
)

const maxOfflineValidations = 5

// ValidateOffline implements validateTicketOffline per spec.md §4.7: a
// staged local decision with no rules-service round trip, queuing a
// pending-sync entry on every successful admission.
func (s *Store) ValidateOffline(ticketID string, scanCtx contracts.ScanContext) (*contracts.ValidationOutcome, error) {
	started := time.Now()
	now := scanCtx.ScannedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.tickets[ticketID]
	if !ok {
		return &contracts.ValidationOutcome{
			Success:        false,
			ValidationID:   uuid.NewString(),
			ValidationTime: time.Since(started),
			ErrorCode:      contracts.ErrTicketNotFoundOffline,
			Reason:         "ticket not present in offline cache",
		}, nil
	}
	if now.After(r.entry.ExpiresAt) {
		return &contracts.ValidationOutcome{
			Success:        false,
			ValidationID:   uuid.NewString(),
			ValidationTime: time.Since(started),
			ErrorCode:      contracts.ErrTicketExpiredOffline,
			Reason:         "ticket expired in offline cache",
		}, nil
	}
	if !r.entry.Active {
		return &contracts.ValidationOutcome{
			Success:        false,
			ValidationID:   uuid.NewString(),
			ValidationTime: time.Since(started),
			ErrorCode:      contracts.ErrTicketInactiveOffline,
			Reason:         "ticket inactive in offline cache",
		}, nil
	}

	scanInfo := contracts.ScanInfo{
		ScanID:    uuid.NewString(),
		Timestamp: now,
		Location:  scanCtx.Location,
		DeviceID:  scanCtx.DeviceID,
		Offline:   true,
	}
	r.history = append(r.history, scanInfo)
	r.entry.ScanCount++

	if r.entry.ScanCount > maxOfflineValidations {
		return &contracts.ValidationOutcome{
			Success:        false,
			ValidationID:   uuid.NewString(),
			ValidationTime: time.Since(started),
			ErrorCode:      contracts.ErrMaxScansExceededOffline,
			Reason:         "offline validation count exceeds limit",
		}, nil
	}

	if err := s.enqueuePendingScanLocked(ticketID, scanInfo, now); err != nil {
		return nil, err
	}

	validationID := uuid.NewString()
	return &contracts.ValidationOutcome{
		Success:        true,
		ValidationID:   validationID,
		ValidationTime: time.Since(started),
		Ticket: &contracts.TicketSummary{
			ID:        ticketID,
			EventID:   r.entry.EventID,
			ScannedAt: now,
		},
		Scan: &scanInfo,
		Receipt: contracts.ValidationReceipt{
			ValidationID: validationID,
			Decision:     contracts.DecisionAdmit,
			Reason:       "offline validation",
			Timestamp:    now,
		},
	}, nil
}

// enqueuePendingScanLocked must be called with s.mu held.
func (s *Store) enqueuePendingScanLocked(ticketID string, scanInfo contracts.ScanInfo, now time.Time) error {
	payload, err := json.Marshal(struct {
		TicketID string             `json:"ticketId"`
		ScanInfo contracts.ScanInfo `json:"scanInfo"`
	}{TicketID: ticketID, ScanInfo: scanInfo})
	if err != nil {
		return fmt.Errorf("offlinestore: marshal pending sync payload: %w", err)
	}

	entry := &contracts.PendingSyncEntry{
		PendingSyncID: uuid.NewString(),
		ActionType:    contracts.SyncActionRecordScan,
		Payload:       payload,
		CreatedAt:     now,
	}
	s.pending[entry.PendingSyncID] = entry
	s.pendingByTicket[ticketID] = append(s.pendingByTicket[ticketID], entry.PendingSyncID)
	return nil
}

// PendingCount reports how many sync entries are currently queued, for
// the sync report and tests.
func (s *Store) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// DeadLetterCount reports how many entries exhausted their retry budget.
func (s *Store) DeadLetterCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.deadLetter)
}

// PendingForTicket lists the sync entries still queued for a given
// ticket, newest enqueue last.
func (s *Store) PendingForTicket(ticketID string) []contracts.PendingSyncEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.pendingByTicket[ticketID]
	out := make([]contracts.PendingSyncEntry, 0, len(ids))
	for _, id := range ids {
		if e, ok := s.pending[id]; ok {
			out = append(out, *e)
		}
	}
	return out
}
