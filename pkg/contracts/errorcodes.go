package contracts

// ErrorCode is the machine-readable failure code the orchestrator and its
// components report. Codes are stable strings, never renumbered, since
// checkpoint clients branch on them (e.g. CORE_SERVICE_UNAVAILABLE
// triggers offline mode).
type ErrorCode string

const (
	// Input gate.
	ErrMissingOrInvalidQRCode ErrorCode = "MISSING_OR_INVALID_QR_CODE"
	ErrQRCodeTooLarge         ErrorCode = "QR_CODE_TOO_LARGE"
	ErrInvalidScanContext     ErrorCode = "INVALID_SCAN_CONTEXT"
	ErrMissingTicketID        ErrorCode = "MISSING_TICKET_ID"

	// Decoding (C2).
	ErrUnsupportedQRFormat      ErrorCode = "UNSUPPORTED_QR_FORMAT"
	ErrInvalidJWTFormat         ErrorCode = "INVALID_JWT_FORMAT"
	ErrInvalidJSONFormat        ErrorCode = "INVALID_JSON_FORMAT"
	ErrInvalidBase64Format      ErrorCode = "INVALID_BASE64_FORMAT"
	ErrInvalidPNGBase64Format   ErrorCode = "INVALID_PNG_BASE64_FORMAT"
	ErrUnsupportedJWTAlgorithm ErrorCode = "UNSUPPORTED_JWT_ALGORITHM"
	ErrUnsupportedQRVersion    ErrorCode = "UNSUPPORTED_QR_VERSION"
	ErrInvalidQRStructure      ErrorCode = "INVALID_QR_STRUCTURE"
	ErrQRCodeExpired           ErrorCode = "QR_CODE_EXPIRED"

	// Crypto / fraud.
	ErrInvalidCryptographicSignature ErrorCode = "INVALID_CRYPTOGRAPHIC_SIGNATURE"
	ErrConcurrentScanDetected        ErrorCode = "CONCURRENT_SCAN_DETECTED"

	// Business (mapped from the rules service, C3).
	ErrInvalid       ErrorCode = "INVALID"
	ErrAlreadyUsed   ErrorCode = "ALREADY_USED"
	ErrExpired       ErrorCode = "EXPIRED"
	ErrNotAuthorized ErrorCode = "NOT_AUTHORIZED"
	ErrEventClosed   ErrorCode = "EVENT_CLOSED"

	// Offline (C7).
	ErrTicketNotFoundOffline   ErrorCode = "TICKET_NOT_FOUND_OFFLINE"
	ErrTicketExpiredOffline    ErrorCode = "TICKET_EXPIRED_OFFLINE"
	ErrTicketInactiveOffline   ErrorCode = "TICKET_INACTIVE_OFFLINE"
	ErrMaxScansExceededOffline ErrorCode = "MAX_SCANS_EXCEEDED_OFFLINE"

	// Infrastructure.
	ErrCoreServiceUnavailable ErrorCode = "CORE_SERVICE_UNAVAILABLE"
	ErrCoreCommunicationError ErrorCode = "CORE_COMMUNICATION_ERROR"
	ErrValidationError        ErrorCode = "VALIDATION_ERROR"
	ErrScanRecordFailed       ErrorCode = "SCAN_RECORD_FAILED"
)
