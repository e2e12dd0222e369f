package qrdecoder

import (
	"time"

	"github.com/checkpointly/scanvalidator/pkg/contracts"
	"github.com/checkpointly/scanvalidator/pkg/ticketcrypto"
)

// Config is the decoder's construction-time policy, per spec.md §4.1's
// `{secret, publicKey?, maxValidity, maxSize, supportedVersions,
// supportedAlgorithms}` input record.
type Config struct {
	MaxValidity         time.Duration
	MaxSize             int
	SupportedVersions   []int
	SupportedAlgorithms []contracts.SignatureAlgorithm
}

// ValidationInfo is attached to every successfully decoded ticket, per
// spec.md §4.1's `validationInfo` block.
type ValidationInfo struct {
	FormatType          string
	Algorithm           contracts.SignatureAlgorithm
	Version             int
	ValidatedAt         time.Time
	CryptographicMethod string
}

// Result is what Decode returns on success.
type Result struct {
	Claims         contracts.TicketClaims
	ValidationInfo ValidationInfo
}

// Decoder implements C2: detect format, decode to canonical claims,
// verify signature, and check structural/temporal validity. A single
// Decoder is constructed once from Config and a ticketcrypto.Verifier
// and is safe for concurrent use — it holds no mutable state.
type Decoder struct {
	cfg      Config
	verifier *ticketcrypto.Verifier

	supportedVersions map[int]bool
	supportedAlgos    map[contracts.SignatureAlgorithm]bool
}

// New builds a Decoder from configuration and a verifier already
// constructed from the configured HMAC secret / RSA public key.
func New(cfg Config, verifier *ticketcrypto.Verifier) *Decoder {
	versions := make(map[int]bool, len(cfg.SupportedVersions))
	for _, v := range cfg.SupportedVersions {
		versions[v] = true
	}
	algos := make(map[contracts.SignatureAlgorithm]bool, len(cfg.SupportedAlgorithms))
	for _, a := range cfg.SupportedAlgorithms {
		algos[a] = true
	}
	return &Decoder{cfg: cfg, verifier: verifier, supportedVersions: versions, supportedAlgos: algos}
}

// DecodeError is the exported form of a decode failure, so callers
// outside this package (the orchestrator) can branch on Code and Fraud
// without importing an unexported type.
type DecodeError struct {
	Code    contracts.ErrorCode
	Message string
	Fraud   bool
}

func (e *DecodeError) Error() string { return e.Message }

// Decode runs the full C2 pipeline against a single opaque QR payload:
// format detection, per-format decode (recursing once through
// PNG-Base64), legacy normalization, structural validation, signature
// verification, and temporal validation — in that order, matching
// spec.md §4.1 exactly. Decode is deterministic and side-effect-free
// (P2, the Decode idempotence law): the same input always yields the
// same output.
func (d *Decoder) Decode(raw string) (*Result, *DecodeError) {
	return d.decode(raw, 0)
}

const maxRecursionDepth = 2

func (d *Decoder) decode(raw string, depth int) (*Result, *DecodeError) {
	if depth > maxRecursionDepth {
		return nil, &DecodeError{Code: contracts.ErrUnsupportedQRFormat, Message: "PNG payload recursion exceeded"}
	}
	if len(raw) == 0 {
		return nil, &DecodeError{Code: contracts.ErrMissingOrInvalidQRCode, Message: "empty QR payload"}
	}
	if d.cfg.MaxSize > 0 && len(raw) > d.cfg.MaxSize {
		return nil, &DecodeError{Code: contracts.ErrQRCodeTooLarge, Message: "QR payload exceeds configured maximum size"}
	}

	format := detectFormat(raw)

	var rc rawClaims
	// The JSON-serialization signature variant is accepted only for a
	// payload reached through the PNG wrapper (depth > 0) and, below, for
	// legacy records.
	jsonVariantAccepted := depth > 0

	switch format {
	case FormatJWT:
		header, claims, err := parseJWTUnverified(raw)
		if err != nil {
			return nil, &DecodeError{Code: contracts.ErrInvalidJWTFormat, Message: err.Error()}
		}
		if alg, _ := header["alg"].(string); alg != "" && len(d.supportedAlgos) > 0 && !d.supportedAlgos[contracts.SignatureAlgorithm(alg)] {
			return nil, &DecodeError{Code: contracts.ErrUnsupportedJWTAlgorithm, Message: "JWT alg not in supportedAlgorithms"}
		}
		rc, err = jwtClaimsToRaw(header, claims)
		if err != nil {
			return nil, &DecodeError{Code: contracts.ErrInvalidJWTFormat, Message: err.Error()}
		}

	case FormatPNGBase64:
		b64 := raw[len(pngDataURLPrefix):]
		pngBytes, err := decodeBase64Flexible(b64)
		if err != nil {
			return nil, &DecodeError{Code: contracts.ErrInvalidPNGBase64Format, Message: err.Error()}
		}
		payload, err := extractPNGPayload(pngBytes)
		if err != nil {
			return nil, &DecodeError{Code: contracts.ErrInvalidPNGBase64Format, Message: err.Error()}
		}
		result, decErr := d.decode(payload, depth+1)
		if decErr != nil {
			return nil, decErr
		}
		result.ValidationInfo.FormatType = FormatPNGBase64.String()
		return result, nil

	case FormatBase64JSON:
		decoded, err := decodeBase64Flexible(raw)
		if err != nil {
			return nil, &DecodeError{Code: contracts.ErrInvalidBase64Format, Message: err.Error()}
		}
		rc, err = parseRawClaimsJSON(decoded)
		if err != nil {
			return nil, &DecodeError{Code: contracts.ErrInvalidBase64Format, Message: err.Error()}
		}

	case FormatJSON:
		var err error
		rc, err = parseRawClaimsJSON([]byte(raw))
		if err != nil {
			return nil, &DecodeError{Code: contracts.ErrInvalidJSONFormat, Message: err.Error()}
		}

	default:
		return nil, &DecodeError{Code: contracts.ErrUnsupportedQRFormat, Message: "payload matches no supported QR format"}
	}

	isLegacy := rc.TicketID == "" && rc.ID != ""
	claims, err := rc.normalize(d.cfg.MaxValidity)
	if err != nil {
		return nil, &DecodeError{Code: contracts.ErrInvalidQRStructure, Message: err.Error()}
	}
	if isLegacy {
		jsonVariantAccepted = true
	}

	if structErr := validateStructure(claims, d.supportedVersions); structErr != nil {
		return nil, &DecodeError{Code: structErr.Code, Message: structErr.Message}
	}

	matched, err := d.verifier.VerifyClaims(claims, jsonVariantAccepted)
	if err != nil {
		// No key configured for the claimed algorithm: cryptographic
		// failure, but spec.md §4.1 says this is explicitly NOT
		// classified as fraud.
		return nil, &DecodeError{Code: contracts.ErrInvalidCryptographicSignature, Message: err.Error(), Fraud: false}
	}
	if !matched {
		return nil, &DecodeError{Code: contracts.ErrInvalidCryptographicSignature, Message: "signature verification failed", Fraud: true}
	}

	if temporalErr := validateTemporal(claims, time.Now().UTC(), d.cfg.MaxValidity); temporalErr != nil {
		return nil, &DecodeError{Code: temporalErr.Code, Message: temporalErr.Message}
	}

	method := "HMAC-SHA256"
	if claims.Algorithm == contracts.AlgorithmRSASHA256 {
		method = "RSA-SHA256"
	}

	return &Result{
		Claims: claims,
		ValidationInfo: ValidationInfo{
			FormatType:          format.String(),
			Algorithm:           claims.Algorithm,
			Version:             claims.Version,
			ValidatedAt:         time.Now().UTC(),
			CryptographicMethod: method,
		},
	}, nil
}
