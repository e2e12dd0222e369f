package ticketcrypto_test

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
)

// signRSAForTest signs message with PKCS#1 v1.5 over its SHA-256 digest
// and hex-encodes the result, mirroring the encoding VerifyRSA's
// decodeSignature expects from a real RS256-signing issuer.
func signRSAForTest(priv *rsa.PrivateKey, message []byte) (string, error) {
	digest := sha256.Sum256(message)
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig), nil
}
