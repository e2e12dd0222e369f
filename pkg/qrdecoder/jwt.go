package qrdecoder

import (
	"encoding/json"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// parseJWTUnverified splits a three-segment dot string into its header
// and claims maps without trusting the library's own signature check —
// spec.md §4.1 mandates a custom canonical-string HMAC/RSA verification,
// so golang-jwt here is only a header/claims parser, never the verifier.
func parseJWTUnverified(raw string) (header map[string]any, claims jwt.MapClaims, err error) {
	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return nil, nil, fmt.Errorf("qrdecoder: parse JWT: %w", err)
	}
	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, nil, fmt.Errorf("qrdecoder: JWT claims are not a map")
	}
	return token.Header, mapClaims, nil
}

// jwtClaimsToRaw re-marshals the JWT's claim map through rawClaims so
// the JWT path shares exactly the same legacy-normalization and
// structural-validation code as every other format, per spec.md §9's
// "each variant contributes a decoder to a common pipeline."
func jwtClaimsToRaw(header map[string]any, claims jwt.MapClaims) (rawClaims, error) {
	merged := map[string]any{}
	for k, v := range claims {
		merged[k] = v
	}
	// Header fields {alg, version} merge into the claims, per spec.md §4.1.
	if alg, ok := header["alg"]; ok {
		merged["algorithm"] = alg
	}
	if version, ok := header["version"]; ok {
		merged["version"] = version
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return rawClaims{}, fmt.Errorf("qrdecoder: remarshal JWT claims: %w", err)
	}
	return parseRawClaimsJSON(data)
}
