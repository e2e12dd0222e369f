package qrdecoder

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/checkpointly/scanvalidator/pkg/contracts"
)

// decodeError carries the machine code the orchestrator must surface
// verbatim, plus whether the failure is a cryptographic/fraud finding
// (in which case the caller attaches a FORGED_QR flag) as opposed to an
// ordinary structural or temporal rejection.
type decodeError struct {
	Code    contracts.ErrorCode
	Message string
	Fraud   bool
}

func (e *decodeError) Error() string { return e.Message }

func newDecodeError(code contracts.ErrorCode, message string) *decodeError {
	return &decodeError{Code: code, Message: message}
}

// validateStructure checks spec.md §4.1's structural rules. Required
// fields and ticketType enum membership run through the compiled
// claimsSchema; issuedAt < expiresAt ordering and the runtime-configured
// version allowlist are cross-field/dynamic checks JSON Schema can't
// express, so they stay as plain Go comparisons.
func validateStructure(c contracts.TicketClaims, supportedVersions map[int]bool) *decodeError {
	if c.TicketID == "" {
		return newDecodeError(contracts.ErrMissingTicketID, "missing required field ticketId")
	}

	raw, err := json.Marshal(c)
	if err != nil {
		return newDecodeError(contracts.ErrInvalidQRStructure, "claims not serializable for schema validation")
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return newDecodeError(contracts.ErrInvalidQRStructure, "claims not decodable for schema validation")
	}
	if err := claimsSchema.Validate(decoded); err != nil {
		return newDecodeError(contracts.ErrInvalidQRStructure, fmt.Sprintf("structural validation failed: %v", err))
	}

	if c.IssuedAt.IsZero() || c.ExpiresAt.IsZero() {
		return newDecodeError(contracts.ErrInvalidQRStructure, "issuedAt/expiresAt missing or unparseable")
	}
	if !c.IssuedAt.Before(c.ExpiresAt) {
		return newDecodeError(contracts.ErrInvalidQRStructure, "issuedAt must be strictly before expiresAt")
	}
	if len(supportedVersions) > 0 && !supportedVersions[c.Version] {
		return newDecodeError(contracts.ErrUnsupportedQRVersion, "ticket version not supported")
	}
	return nil
}

// validateTemporal checks spec.md §4.1/I1: now must not be after
// expiresAt and the ticket's age (now − issuedAt) must not exceed
// maxValidity. An issuedAt later than now is not rejected here.
func validateTemporal(c contracts.TicketClaims, now time.Time, maxValidity time.Duration) *decodeError {
	if now.After(c.ExpiresAt) {
		return newDecodeError(contracts.ErrQRCodeExpired, "ticket expired")
	}
	if now.Sub(c.IssuedAt) > maxValidity {
		return newDecodeError(contracts.ErrQRCodeExpired, "ticket exceeds maximum QR validity window")
	}
	return nil
}
