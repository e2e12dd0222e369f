// Package qrdecoder implements C2: QR format detection, per-format
// decoding to the canonical claims shape, structural/temporal
// validation, and signature verification via ticketcrypto.
package qrdecoder

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

// Format is the wire encoding a QR payload was detected as, before
// decoding. It is recorded into the claims' validation info so the
// orchestrator and scan log both know which pipeline a ticket took.
type Format int

const (
	FormatUnknown Format = iota
	FormatJWT
	FormatPNGBase64
	FormatBase64JSON
	FormatJSON
)

func (f Format) String() string {
	switch f {
	case FormatJWT:
		return "jwt"
	case FormatPNGBase64:
		return "png_base64"
	case FormatBase64JSON:
		return "base64_json"
	case FormatJSON:
		return "json"
	default:
		return "unknown"
	}
}

const pngDataURLPrefix = "data:image/png;base64,"

// detectFormat runs the ordered, cheap detection spec.md §4.1 specifies:
// three-segment dot string first, then the PNG data URL prefix, then a
// base64url-decodable JSON document, then plain JSON. The first match
// wins; nothing after it is tried.
func detectFormat(raw string) Format {
	if looksLikeJWT(raw) {
		return FormatJWT
	}
	if strings.HasPrefix(raw, pngDataURLPrefix) {
		return FormatPNGBase64
	}
	if looksLikeBase64JSON(raw) {
		return FormatBase64JSON
	}
	if looksLikeJSON(raw) {
		return FormatJSON
	}
	return FormatUnknown
}

// looksLikeJWT checks for exactly three non-empty dot-separated segments,
// without yet decoding or verifying any of them.
func looksLikeJWT(raw string) bool {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
	}
	return true
}

func looksLikeBase64JSON(raw string) bool {
	decoded, err := decodeBase64Flexible(raw)
	if err != nil {
		return false
	}
	return json.Valid(decoded)
}

func looksLikeJSON(raw string) bool {
	return json.Valid([]byte(raw))
}

// decodeBase64Flexible tries both the URL-safe and standard alphabets,
// each with and without padding, since issuers in the wild are
// inconsistent about which they emit.
func decodeBase64Flexible(raw string) ([]byte, error) {
	trimmed := strings.TrimSpace(raw)
	encodings := []*base64.Encoding{
		base64.RawURLEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.StdEncoding,
	}
	var lastErr error
	for _, enc := range encodings {
		b, err := enc.DecodeString(trimmed)
		if err == nil {
			return b, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
