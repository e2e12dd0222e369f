// Package ticketcrypto implements C1: the HMAC-SHA256/RSA-SHA256
// signature primitives and the canonical-encoding helpers the QR
// decoder signs and verifies against. Canonicalization is a contract
// with the issuing service: field order and JSON shape are pinned here
// and must never drift silently.
package ticketcrypto

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/gowebpki/jcs"

	"github.com/checkpointly/scanvalidator/pkg/contracts"
)

// fieldSeparator joins the pipe-style canonical string fields. Changing
// it changes every previously issued ticket's expected signature.
const fieldSeparator = "|"

// CanonicalString builds the pipe-joined signing string per spec.md
// §4.1: `ticketId|eventId|ticketType|userId|issuedAt|expiresAt|version|algorithm`,
// empty string for any missing field. issuedAt/expiresAt are encoded as
// Unix seconds so the string is stable regardless of the claims'
// original time zone or string formatting.
func CanonicalString(c contracts.TicketClaims) string {
	fields := []string{
		c.TicketID,
		c.EventID,
		string(c.TicketType),
		c.UserID,
		strconv.FormatInt(c.IssuedAt.Unix(), 10),
		strconv.FormatInt(c.ExpiresAt.Unix(), 10),
		strconv.Itoa(c.Version),
		string(c.Algorithm),
	}
	out := fields[0]
	for _, f := range fields[1:] {
		out += fieldSeparator + f
	}
	return out
}

// signablePayload mirrors TicketClaims but omits the Signature field, so
// CanonicalJSON never signs over the value it is itself producing.
type signablePayload struct {
	TicketID   string                       `json:"ticketId"`
	EventID    string                       `json:"eventId"`
	TicketType contracts.TicketType         `json:"ticketType"`
	UserID     string                       `json:"userId,omitempty"`
	IssuedAt   int64                        `json:"issuedAt"`
	ExpiresAt  int64                        `json:"expiresAt"`
	Version    int                          `json:"version"`
	Algorithm  contracts.SignatureAlgorithm `json:"algorithm"`
	Metadata   map[string]any               `json:"metadata,omitempty"`
}

// CanonicalJSON encodes claims \ signature as RFC 8785 canonical JSON,
// for the PNG-Base64 and legacy record signature variant spec.md §4.1
// additionally accepts. Unlike CanonicalString, field order here comes
// from JCS's lexicographic key sort, not source order — this is a
// distinct, independently accepted canonical form, not a restatement of
// CanonicalString.
func CanonicalJSON(c contracts.TicketClaims) ([]byte, error) {
	payload := signablePayload{
		TicketID:   c.TicketID,
		EventID:    c.EventID,
		TicketType: c.TicketType,
		UserID:     c.UserID,
		IssuedAt:   c.IssuedAt.Unix(),
		ExpiresAt:  c.ExpiresAt.Unix(),
		Version:    c.Version,
		Algorithm:  c.Algorithm,
		Metadata:   c.Metadata,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ticketcrypto: marshal claims for canonical JSON: %w", err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("ticketcrypto: JCS transform: %w", err)
	}
	return canon, nil
}
