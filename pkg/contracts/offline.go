package contracts

import "time"

// OfflineTicketEntry is the local, checkpoint-resident copy of a ticket's
// admission state, used by C7 when the rules service is unreachable.
type OfflineTicketEntry struct {
	TicketID   string
	EventID    string
	TicketType TicketType
	IssuedAt   time.Time
	ExpiresAt  time.Time
	Active     bool
	ScanCount  int
	MaxScans   int
	SyncedAt   time.Time
}

// SyncActionType enumerates the kinds of deferred work the offline store
// queues while disconnected, to be replayed against the rules service
// once connectivity returns.
type SyncActionType string

const (
	SyncActionRecordScan   SyncActionType = "record_scan"
	SyncActionFraudAttempt SyncActionType = "fraud_attempt"
)

// PendingSyncEntry is one deferred action awaiting replay. Attempts is
// bounded: once it reaches the configured maximum the entry moves to the
// dead letter list instead of being retried forever.
type PendingSyncEntry struct {
	PendingSyncID string
	ActionType    SyncActionType
	Payload       []byte
	Attempts      int
	LastError     string
	CreatedAt     time.Time
	LastAttemptAt time.Time
}

// DeadLetterEntry is a PendingSyncEntry that exhausted its retry budget,
// kept so nothing silently disappears from the offline queue.
type DeadLetterEntry struct {
	PendingSyncEntry
	DeadLetteredAt time.Time
}
