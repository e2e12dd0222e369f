package ticketcrypto

import (
	"crypto"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/checkpointly/scanvalidator/pkg/contracts"
)

// ErrNoPublicKeyConfigured is returned when an RS256 claim must be
// verified but no public key is configured. Per spec.md §4.1 this is a
// cryptographic failure distinct from a forged signature — it is not
// classified as fraud.
var ErrNoPublicKeyConfigured = errors.New("ticketcrypto: no RSA public key configured")

// Verifier verifies a ticket's signature against either the pipe-joined
// canonical string or the canonical-JSON encoding of its claims,
// depending on algorithm and format. A single Verifier instance is
// constructed once from configuration and shared across decode calls.
type Verifier struct {
	hmacSecret []byte
	rsaPublic  *rsa.PublicKey
}

// NewVerifier builds a Verifier from the configured HMAC secret and an
// optional RSA public key (nil permitted — RS256 claims will then fail
// with ErrNoPublicKeyConfigured rather than panic).
func NewVerifier(hmacSecret []byte, rsaPublic *rsa.PublicKey) *Verifier {
	return &Verifier{hmacSecret: hmacSecret, rsaPublic: rsaPublic}
}

// VerifyHMAC computes HMAC-SHA256(secret, message) and compares it in
// constant time against the provided signature, which may be hex or
// base64url encoded (both are tried since QR issuers in the wild use
// either).
func (v *Verifier) VerifyHMAC(message []byte, signature string) bool {
	if len(v.hmacSecret) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, v.hmacSecret)
	mac.Write(message)
	expected := mac.Sum(nil)

	if sig, err := decodeSignature(signature); err == nil {
		if subtle.ConstantTimeCompare(expected, sig) == 1 {
			return true
		}
	}
	return false
}

// VerifyRSA verifies an RS256 signature over message's SHA-256 digest
// using PKCS#1 v1.5, as golang-jwt's RS256 does. Returns
// ErrNoPublicKeyConfigured when no key is configured, distinct from an
// ordinary verification failure.
func (v *Verifier) VerifyRSA(message []byte, signature string) error {
	if v.rsaPublic == nil {
		return ErrNoPublicKeyConfigured
	}
	sig, err := decodeSignature(signature)
	if err != nil {
		return fmt.Errorf("ticketcrypto: decode RSA signature: %w", err)
	}
	digest := sha256.Sum256(message)
	if err := rsa.VerifyPKCS1v15(v.rsaPublic, crypto.SHA256, digest[:], sig); err != nil {
		return fmt.Errorf("ticketcrypto: RSA signature mismatch: %w", err)
	}
	return nil
}

// VerifyClaims checks claims.Signature against both canonical forms the
// spec accepts for the claims' algorithm: the pipe-joined string always,
// and additionally canonical JSON for the PNG-Base64/legacy variants
// (signalled by allowJSONVariant). It returns true the moment either
// accepted form matches.
func (v *Verifier) VerifyClaims(c contracts.TicketClaims, allowJSONVariant bool) (bool, error) {
	str := CanonicalString(c)

	switch c.Algorithm {
	case contracts.AlgorithmHMACSHA256:
		if v.VerifyHMAC([]byte(str), c.Signature) {
			return true, nil
		}
		if allowJSONVariant {
			jsonCanon, err := CanonicalJSON(c)
			if err != nil {
				return false, err
			}
			if v.VerifyHMAC(jsonCanon, c.Signature) {
				return true, nil
			}
		}
		return false, nil

	case contracts.AlgorithmRSASHA256:
		if err := v.VerifyRSA([]byte(str), c.Signature); err == nil {
			return true, nil
		} else if errors.Is(err, ErrNoPublicKeyConfigured) {
			return false, err
		}
		if allowJSONVariant {
			jsonCanon, err := CanonicalJSON(c)
			if err != nil {
				return false, err
			}
			if err := v.VerifyRSA(jsonCanon, c.Signature); err == nil {
				return true, nil
			}
		}
		return false, nil

	default:
		return false, fmt.Errorf("ticketcrypto: unsupported algorithm %q", c.Algorithm)
	}
}

// SignHMAC is the inverse of VerifyHMAC — used by tests to build a ticket
// with a known-good signature, and available to callers that need to
// mint test fixtures without duplicating the HMAC construction.
func (v *Verifier) SignHMAC(message []byte) string {
	mac := hmac.New(sha256.New, v.hmacSecret)
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

func decodeSignature(signature string) ([]byte, error) {
	if b, err := hex.DecodeString(signature); err == nil {
		return b, nil
	}
	if b, err := base64.RawURLEncoding.DecodeString(signature); err == nil {
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(signature); err == nil {
		return b, nil
	}
	return nil, errors.New("ticketcrypto: signature is neither hex nor base64")
}
