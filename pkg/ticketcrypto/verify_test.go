package ticketcrypto_test

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/checkpointly/scanvalidator/pkg/contracts"
	"github.com/checkpointly/scanvalidator/pkg/ticketcrypto"
)

func sampleClaims() contracts.TicketClaims {
	return contracts.TicketClaims{
		TicketID:   "T1",
		EventID:    "E1",
		TicketType: contracts.TicketTypeStandard,
		UserID:     "U1",
		IssuedAt:   time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC),
		ExpiresAt:  time.Date(2026, 12, 31, 23, 59, 59, 0, time.UTC),
		Version:    1,
		Algorithm:  contracts.AlgorithmHMACSHA256,
	}
}

func TestCanonicalString_FieldOrderAndSeparators(t *testing.T) {
	c := sampleClaims()
	got := ticketcrypto.CanonicalString(c)
	want := "T1|E1|standard|U1|1769594400|1798761599|1|HS256"
	require.Equal(t, want, got)
}

func TestCanonicalString_EmptyUserID(t *testing.T) {
	c := sampleClaims()
	c.UserID = ""
	got := ticketcrypto.CanonicalString(c)
	require.Contains(t, got, "T1|E1|standard||1769594400")
}

func TestVerifier_VerifyHMAC_RoundTrip(t *testing.T) {
	v := ticketcrypto.NewVerifier([]byte("shared-secret"), nil)
	c := sampleClaims()
	sig := v.SignHMAC([]byte(ticketcrypto.CanonicalString(c)))
	c.Signature = sig

	ok, err := v.VerifyClaims(c, false)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifier_VerifyHMAC_RejectsMutatedSignature(t *testing.T) {
	v := ticketcrypto.NewVerifier([]byte("shared-secret"), nil)
	c := sampleClaims()
	sig := v.SignHMAC([]byte(ticketcrypto.CanonicalString(c)))
	// Flip a character so a single bit differs.
	c.Signature = sig[:len(sig)-1] + flipHexNibble(sig[len(sig)-1])

	ok, err := v.VerifyClaims(c, false)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifier_VerifyClaims_JSONVariant(t *testing.T) {
	v := ticketcrypto.NewVerifier([]byte("shared-secret"), nil)
	c := sampleClaims()
	canon, err := ticketcrypto.CanonicalJSON(c)
	require.NoError(t, err)
	c.Signature = v.SignHMAC(canon)

	// Pipe-string form should not match; JSON variant should.
	ok, err := v.VerifyClaims(c, false)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = v.VerifyClaims(c, true)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifier_VerifyRSA_NoKeyConfigured(t *testing.T) {
	v := ticketcrypto.NewVerifier(nil, nil)
	c := sampleClaims()
	c.Algorithm = contracts.AlgorithmRSASHA256
	c.Signature = "deadbeef"

	_, err := v.VerifyClaims(c, false)
	require.ErrorIs(t, err, ticketcrypto.ErrNoPublicKeyConfigured)
}

func TestVerifier_VerifyRSA_RoundTrip(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	v := ticketcrypto.NewVerifier(nil, &priv.PublicKey)
	c := sampleClaims()
	c.Algorithm = contracts.AlgorithmRSASHA256

	digest := ticketcrypto.CanonicalString(c)
	sig, err := signRSAForTest(priv, []byte(digest))
	require.NoError(t, err)
	c.Signature = sig

	ok, err := v.VerifyClaims(c, false)
	require.NoError(t, err)
	require.True(t, ok)
}

func flipHexNibble(b byte) string {
	if b == '0' {
		return "1"
	}
	return "0"
}
