package token

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erx-fd/erx-server/internal/logger"
	"github.com/erx-fd/erx-server/internal/model"
	"github.com/erx-fd/erx-server/internal/pki"
)

// ecdsaSignForTest signs signingString with priv using textbook ECDSA math
// over BrainpoolP256r1 with a fixed nonce, mirroring the inverse of
// SigningMethodBP256R1.Verify. The production signing method is
// verify-only, so tests need their own minimal signer.
func ecdsaSignForTest(signingString string, priv *big.Int) []byte {
	c := pki.BrainpoolP256r1
	sum := sha256.Sum256([]byte(signingString))
	z := new(big.Int).SetBytes(sum[:])
	k := big.NewInt(987654321)

	r := new(big.Int).Mod(c.ScalarBaseMult(k.Bytes()).X, c.N)
	kInv := new(big.Int).ModInverse(k, c.N)
	s := new(big.Int).Mul(r, priv)
	s.Add(s, z)
	s.Mul(s, kInv)
	s.Mod(s, c.N)

	sig := make([]byte, 64)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:])
	return sig
}

func signTestToken(t *testing.T, priv *big.Int, claims Claims) string {
	t.Helper()
	tok := jwt.NewWithClaims(SigningMethodBP256R1, claims)
	signingString, err := tok.SigningString()
	require.NoError(t, err)
	sig := ecdsaSignForTest(signingString, priv)
	return signingString + "." + jwt.EncodeSegment(sig)
}

// pukFixture writes a JWK document exposing pub as the IDP's current
// signing key, for a *pki.Store to load via its PUK_TOKEN refresh path.
func pukFixture(t *testing.T, dir string, pub pki.Point) string {
	t.Helper()
	doc := struct {
		Kty string `json:"kty"`
		Crv string `json:"crv"`
		X   string `json:"x"`
		Y   string `json:"y"`
	}{
		Kty: "EC",
		Crv: "brainpoolP256r1",
		X:   base64.RawURLEncoding.EncodeToString(leftPad32(pub.X)),
		Y:   base64.RawURLEncoding.EncodeToString(leftPad32(pub.Y)),
	}
	body, err := json.Marshal(doc)
	require.NoError(t, err)

	path := filepath.Join(dir, "puk_token.json")
	require.NoError(t, os.WriteFile(path, body, 0o644))
	return path
}

func leftPad32(n *big.Int) []byte {
	b := n.Bytes()
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

func newPrimedVerifier(t *testing.T, pub pki.Point) *Verifier {
	t.Helper()
	dir := t.TempDir()
	path := pukFixture(t, dir, pub)
	store := pki.NewStore(pki.Config{PukTokenURL: "file://" + path}, nil, logger.NewDefaultLogger())
	require.NoError(t, store.RefreshPukTokenOnce(t.Context()))
	return NewVerifier(store)
}

func TestVerifyAcceptsValidPrescriberToken(t *testing.T) {
	priv := big.NewInt(123456789)
	pub := pki.BrainpoolP256r1.ScalarBaseMult(priv.Bytes())
	v := newPrimedVerifier(t, pub)

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			NotBefore: jwt.NewNumericDate(now.Add(-time.Minute)),
		},
		ProfessionOID: model.ProfessionArzt,
		IDNumber:      "1-ARZT-TELEMATIK-ID",
	}
	raw := signTestToken(t, priv, claims)

	result, err := v.Verify("Bearer "+raw, now)
	require.NoError(t, err)
	assert.Equal(t, model.ProfessionArzt, result.Profession)
	assert.Equal(t, model.NewTelematikID("1-ARZT-TELEMATIK-ID"), result.Participant)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	priv := big.NewInt(123456789)
	pub := pki.BrainpoolP256r1.ScalarBaseMult(priv.Bytes())
	v := newPrimedVerifier(t, pub)

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(-time.Minute)),
		},
		ProfessionOID: model.ProfessionVersicherter,
		IDNumber:      "X123456789",
	}
	raw := signTestToken(t, priv, claims)

	_, err := v.Verify("Bearer "+raw, now)
	assert.Error(t, err)
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	priv := big.NewInt(123456789)
	pub := pki.BrainpoolP256r1.ScalarBaseMult(priv.Bytes())
	v := newPrimedVerifier(t, pub)

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour))},
		ProfessionOID:    model.ProfessionVersicherter,
		IDNumber:         "X123456789",
	}
	// Sign with a different private key than the one published in the
	// fixture's JWK, so the signature must fail verification.
	raw := signTestToken(t, big.NewInt(555), claims)

	_, err := v.Verify("Bearer "+raw, now)
	assert.Error(t, err)
}

func TestVerifyRejectsMissingBearerPrefix(t *testing.T) {
	priv := big.NewInt(123456789)
	pub := pki.BrainpoolP256r1.ScalarBaseMult(priv.Bytes())
	v := newPrimedVerifier(t, pub)

	_, err := v.Verify("not-a-bearer-token", time.Now())
	assert.Error(t, err)
}

func TestParticipantForInsuredUsesKVNR(t *testing.T) {
	p, err := participantFor(Claims{ProfessionOID: model.ProfessionVersicherter, IDNumber: "X123456789"})
	require.NoError(t, err)
	assert.Equal(t, model.NewKVNR("X123456789"), p)
}

func TestParticipantForPharmacyUsesTelematikID(t *testing.T) {
	p, err := participantFor(Claims{ProfessionOID: model.ProfessionOeffentlicheApo, IDNumber: "5-abc"})
	require.NoError(t, err)
	assert.Equal(t, model.NewTelematikID("5-abc"), p)
}

func TestParticipantForMissingIDNumberFails(t *testing.T) {
	_, err := participantFor(Claims{ProfessionOID: model.ProfessionVersicherter})
	assert.Error(t, err)
}

func TestSigningMethodBP256R1RejectsWrongKeyType(t *testing.T) {
	err := SigningMethodBP256R1.Verify("x.y", make([]byte, 64), "not-a-point")
	assert.Error(t, err)
}

func TestSigningMethodBP256R1RejectsShortSignature(t *testing.T) {
	err := SigningMethodBP256R1.Verify("x.y", []byte{1, 2, 3}, pki.Point{})
	assert.Error(t, err)
}

func TestSigningMethodBP256R1SignUnsupported(t *testing.T) {
	_, err := SigningMethodBP256R1.Sign("x.y", pki.Point{})
	assert.Error(t, err)
}
