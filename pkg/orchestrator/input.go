package orchestrator

import (
	"time"

	"github.com/checkpointly/scanvalidator/pkg/contracts"
)

// maxQRCodeLength is the input gate's hard ceiling on qrCode, independent
// of C2's own (configurable) maxSize check on the decoded payload.
const maxQRCodeLength = 10000

// inputFailure carries the code/message pair the input gate returns on a
// violation, kept unexported since only ValidateTicket consumes it.
type inputFailure struct {
	Code    contracts.ErrorCode
	Message string
}

// validateInput runs the pipeline's first gate: qrCode must be a
// non-empty string no longer than maxQRCodeLength, and scanContext must
// not carry a scan time implausibly far in the future (a clock that is
// wrong rather than malicious is still a malformed record).
func validateInput(qrCode string, scanCtx contracts.ScanContext) *inputFailure {
	if qrCode == "" {
		return &inputFailure{Code: contracts.ErrMissingOrInvalidQRCode, Message: "qrCode is required"}
	}
	if len(qrCode) > maxQRCodeLength {
		return &inputFailure{Code: contracts.ErrQRCodeTooLarge, Message: "qrCode exceeds maximum length"}
	}
	if !scanCtx.ScannedAt.IsZero() && scanCtx.ScannedAt.After(time.Now().Add(24*time.Hour)) {
		return &inputFailure{Code: contracts.ErrInvalidScanContext, Message: "scanContext.scannedAt is implausibly far in the future"}
	}
	return nil
}
