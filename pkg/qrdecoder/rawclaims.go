package qrdecoder

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/checkpointly/scanvalidator/pkg/contracts"
)

// rawClaims is the loosely typed shape every format decodes into before
// legacy-field normalization and structural validation run. The timestamp
// fields are pointers so an absent value stays distinguishable from an
// empty one.
type rawClaims struct {
	TicketID   string         `json:"ticketId"`
	ID         string         `json:"id"`
	EventID    string         `json:"eventId"`
	TicketType string         `json:"ticketType"`
	UserID     string         `json:"userId"`
	IssuedAt   *string        `json:"issuedAt"`
	CreatedAt  *string        `json:"createdAt"`
	ExpiresAt  *string        `json:"expiresAt"`
	Version    int            `json:"version"`
	Algorithm  string         `json:"algorithm"`
	Signature  string         `json:"signature"`
	Metadata   map[string]any `json:"metadata"`
}

func parseRawClaimsJSON(data []byte) (rawClaims, error) {
	var rc rawClaims
	if err := json.Unmarshal(data, &rc); err != nil {
		return rawClaims{}, fmt.Errorf("qrdecoder: parse claims JSON: %w", err)
	}
	return rc, nil
}

// normalize applies the legacy `{id, createdAt}` → `{ticketId, issuedAt}`
// rewrite from spec.md §4.1 and converts the loosely typed raw claims
// into contracts.TicketClaims. maxValidity fills a missing expiresAt
// from a legacy record's issuedAt.
func (rc rawClaims) normalize(maxValidity time.Duration) (contracts.TicketClaims, error) {
	ticketID := rc.TicketID
	if ticketID == "" {
		ticketID = rc.ID
	}

	issuedAtStr := rc.IssuedAt
	if issuedAtStr == nil {
		issuedAtStr = rc.CreatedAt
	}

	var issuedAt time.Time
	if issuedAtStr != nil && *issuedAtStr != "" {
		t, err := parseInstant(*issuedAtStr)
		if err != nil {
			return contracts.TicketClaims{}, err
		}
		issuedAt = t
	}

	var expiresAt time.Time
	if rc.ExpiresAt != nil && *rc.ExpiresAt != "" {
		t, err := parseInstant(*rc.ExpiresAt)
		if err != nil {
			return contracts.TicketClaims{}, err
		}
		expiresAt = t
	} else if !issuedAt.IsZero() {
		expiresAt = issuedAt.Add(maxValidity)
	}

	return contracts.TicketClaims{
		TicketID:   ticketID,
		EventID:    rc.EventID,
		TicketType: contracts.TicketType(rc.TicketType),
		UserID:     rc.UserID,
		IssuedAt:   issuedAt,
		ExpiresAt:  expiresAt,
		Version:    rc.Version,
		Algorithm:  contracts.SignatureAlgorithm(rc.Algorithm),
		Signature:  rc.Signature,
		Metadata:   rc.Metadata,
	}, nil
}

// parseInstant accepts RFC3339 and a handful of common variants issuers
// use; the spec only requires that both timestamps be "parseable as
// instants," not a single fixed format.
func parseInstant(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02T15:04:05Z0700",
	}
	var lastErr error
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, fmt.Errorf("qrdecoder: unparseable instant %q: %w", s, lastErr)
}
