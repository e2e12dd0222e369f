// Package contracts holds the plain data types shared by every component
// of the ticket validation engine: decoded ticket claims, scan sessions,
// scan logs, the per-ticket cache row, fraud attempts, and the offline
// pending-sync record.
package contracts

import "time"

// TicketType enumerates the admission categories a ticket claim may carry.
type TicketType string

const (
	TicketTypeStandard  TicketType = "standard"
	TicketTypeVIP       TicketType = "vip"
	TicketTypePremium   TicketType = "premium"
	TicketTypeEarlyBird TicketType = "early-bird"
	TicketTypeStudent   TicketType = "student"
	TicketTypeStaff     TicketType = "staff"
)

// ValidTicketTypes lists every TicketType the decoder's structural
// validation accepts.
var ValidTicketTypes = map[TicketType]bool{
	TicketTypeStandard:  true,
	TicketTypeVIP:       true,
	TicketTypePremium:   true,
	TicketTypeEarlyBird: true,
	TicketTypeStudent:   true,
	TicketTypeStaff:     true,
}

// QRFormat identifies which of the four supported encodings a QR payload
// was decoded from. The orchestrator and scan log both record it, since
// a mismatch between expected and observed format is itself a signal.
type QRFormat string

const (
	FormatJWT        QRFormat = "jwt"
	FormatPNGBase64  QRFormat = "png_base64"
	FormatBase64JSON QRFormat = "base64_json"
	FormatRawJSON    QRFormat = "raw_json"
)

// SignatureAlgorithm is the algorithm a ticket claims to be signed with.
// The decoder must verify with the algorithm the claim names, never the
// algorithm the verifier happens to prefer.
type SignatureAlgorithm string

const (
	AlgorithmHMACSHA256 SignatureAlgorithm = "HS256"
	AlgorithmRSASHA256  SignatureAlgorithm = "RS256"
)

// TicketClaims is the canonical, decoded representation of a ticket's QR
// payload, after format detection and legacy-field normalization but
// before signature or temporal verification.
type TicketClaims struct {
	TicketID   string             `json:"ticketId"`
	EventID    string             `json:"eventId"`
	TicketType TicketType         `json:"ticketType"`
	UserID     string             `json:"userId"`
	IssuedAt   time.Time          `json:"issuedAt"`
	ExpiresAt  time.Time          `json:"expiresAt"`
	Version    int                `json:"version"`
	Algorithm  SignatureAlgorithm `json:"algorithm"`
	Signature  string             `json:"signature"`
	Metadata   map[string]any     `json:"metadata,omitempty"`
}

// ScanContext is everything the checkpoint device knows about a scan
// attempt beyond the QR payload itself: where, by whom, and with what
// client state.
type ScanContext struct {
	CheckpointID string
	ScannerID    string
	Location     string
	DeviceID     string
	ScannedAt    time.Time
	IPAddress    string
	UserAgent    string
}

// ScanSession groups the scans taken by one checkpoint device between an
// open and a close, so stats and fraud analysis can be scoped per shift.
// A session is active iff EndedAt is nil; EndedAt, when set, is never
// before StartedAt.
type ScanSession struct {
	SessionID  string
	UID        string
	StartedAt  time.Time
	EndedAt    *time.Time
	OperatorID string
	EventID    string
	Location   string
	DeviceInfo string
}

// Active reports whether the session has not yet been closed.
func (s ScanSession) Active() bool {
	return s.EndedAt == nil
}

// Decision is the outcome the validation orchestrator reached for one
// scan: admit, reject, or flag, plus the code/reason that justifies it.
// A typed carrier — not a bare error — so a failure code from any stage
// of the pipeline survives verbatim to the caller and to the persisted
// scan log.
type Decision string

const (
	DecisionAdmit  Decision = "admit"
	DecisionReject Decision = "reject"
	DecisionFlag   Decision = "flag"
)

// ScanResult is the outcome recorded against a ScanLog row, per spec.md
// §3 — finer-grained than Decision, since several reject reasons
// (expired, already used, fraud) each get their own durable value.
type ScanResult string

const (
	ScanResultValid         ScanResult = "valid"
	ScanResultInvalid       ScanResult = "invalid"
	ScanResultAlreadyUsed   ScanResult = "already_used"
	ScanResultExpired       ScanResult = "expired"
	ScanResultFraudDetected ScanResult = "fraud_detected"
)

// FraudFlagType enumerates the kinds of fraud flags any stage of the
// pipeline may attach to a failed or suspicious scan.
type FraudFlagType string

const (
	FraudFlagForgedQR              FraudFlagType = "FORGED_QR"
	FraudFlagConcurrentScanAttempt FraudFlagType = "CONCURRENT_SCAN_ATTEMPT"
)

// Severity is the severity level of a fraud flag or fraud attempt row.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// FraudFlag is a tagged record attached to a failed or suspicious scan,
// per the GLOSSARY's "Fraud flag" entry: `{type, severity, details}`.
type FraudFlag struct {
	Type     FraudFlagType  `json:"type"`
	Severity Severity       `json:"severity"`
	Details  map[string]any `json:"details,omitempty"`
}

// ScanLog is the durable, append-only record of one validation attempt,
// persisted by C4 regardless of whether the response already returned.
type ScanLog struct {
	ScanLogID      string
	UID            string
	SessionID      *string
	TicketID       string
	EventID        string
	ScannedAt      time.Time
	Result         ScanResult
	Location       string
	DeviceID       string
	TicketData     TicketClaims
	ValidationInfo map[string]any
	FraudFlags     []FraudFlag
	CreatedAt      time.Time
}

// TicketCacheRow is the per-ticket hot-path state: how many times it has
// been scanned, whether it is blocked, and which locations have scanned
// it — the row C5 keeps hot and C4 persists durably.
type TicketCacheRow struct {
	TicketID      string
	ScanCount     int
	Blocked       bool
	BlockReason   string
	Locations     []string
	LastScannedAt time.Time
	UpdatedAt     time.Time
}

// FraudAttempt is a durable, append-only record referencing the scan log
// it was raised against, kept independent of the scan log so fraud
// review can query it without scanning the full log table.
type FraudAttempt struct {
	FraudAttemptID string
	UID            string
	ScanLogID      string
	FraudType      FraudFlagType
	Severity       Severity
	Details        map[string]any
	IPAddress      string
	UserAgent      string
	Blocked        bool
	CreatedAt      time.Time
}

// ScanConfirmation is the body of the rules service's
// `POST /api/internal/scan-confirmation` callback (spec.md §6): the
// rules service reports back the outcome it reached for a ticket so C4
// can append the durable record the online path never got to write —
// the scan may have been decided entirely upstream, so SessionID is
// left nil rather than invented.
type ScanConfirmation struct {
	TicketID string
	Result   ScanConfirmationResult
	Metadata ScanConfirmationMetadata
}

// ScanConfirmationResult is the callback's `validationResult` object.
type ScanConfirmationResult struct {
	Success      bool
	ValidatedAt  time.Time
	OperatorID   string
	Location     string
	DeviceID     string
	CheckpointID string
	Blocked      bool
	BlockReason  string
	FraudFlags   []FraudFlag
}

// ScanConfirmationMetadata is the callback's `scanMetadata` object.
type ScanConfirmationMetadata struct {
	ValidationSource string
	ValidationType   string
	ProcessingTimeMS int
}

// TicketSummary is the ticket block of a successful ValidationOutcome.
type TicketSummary struct {
	ID         string     `json:"id"`
	EventID    string     `json:"eventId"`
	TicketType TicketType `json:"ticketType"`
	Status     string     `json:"status"`
	ScannedAt  time.Time  `json:"scannedAt"`
}

// ScanInfo is the scanInfo block of a successful ValidationOutcome.
type ScanInfo struct {
	ScanID    string    `json:"scanId"`
	Timestamp time.Time `json:"timestamp"`
	Location  string    `json:"location"`
	DeviceID  string    `json:"deviceId"`
	Offline   bool      `json:"offline,omitempty"`
}

// ValidationOutcome is the full result the orchestrator (C8) returns to
// its caller. On success it carries Ticket/Event/ScanInfo; on failure it
// carries ErrorCode/Reason/FraudFlags. Either way ValidationID is always
// present, so the caller can correlate the response with the (possibly
// deferred) scan log even when persistence races the response.
type ValidationOutcome struct {
	Success        bool
	ValidationID   string
	ValidationTime time.Duration

	Ticket *TicketSummary
	Event  map[string]any
	Scan   *ScanInfo

	ErrorCode  ErrorCode
	Reason     string
	FraudFlags []FraudFlag

	RiskScore int
	Receipt   ValidationReceipt
}

// ValidationReceipt is the small, stable join key threaded from the
// synchronous decision to the deferred persistence write, so C4 can
// correlate its eventually-written row back to the response the caller
// already received.
type ValidationReceipt struct {
	ValidationID string
	Decision     Decision
	Reason       string
	Timestamp    time.Time
}
