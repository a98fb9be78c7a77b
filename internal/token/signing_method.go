// Package token implements the access-token verifier: JWS parsing and
// signature verification against the identity provider's current
// PUK_TOKEN, claim extraction, and construction of the caller's
// ParticipantID.
package token

import (
	"crypto"
	"errors"
	"fmt"
	"math/big"

	"github.com/golang-jwt/jwt/v5"

	"github.com/erx-fd/erx-server/internal/pki"
)

// SigningMethodBP256R1 implements jwt.SigningMethod for ECDSA over
// BrainpoolP256r1 with SHA-256, the algorithm the identity provider
// declares in its JWS header ("BP256R1"). Only Verify is meaningful here:
// the server is a relying party for access tokens, never an issuer, so
// Sign always fails.
type signingMethodBP256R1 struct{}

// SigningMethodBP256R1 is the process-wide instance registered with
// jwt-go's method registry under the "BP256R1" name.
var SigningMethodBP256R1 = &signingMethodBP256R1{}

func init() {
	jwt.RegisterSigningMethod(SigningMethodBP256R1.Alg(), func() jwt.SigningMethod {
		return SigningMethodBP256R1
	})
}

func (m *signingMethodBP256R1) Alg() string { return "BP256R1" }

// Verify checks sig against signingString using key, which must be a
// *pki.Point public key. The signature is the JOSE fixed-length r||s
// concatenation (two 32-byte big-endian halves), per RFC 7518 §3.4.
func (m *signingMethodBP256R1) Verify(signingString string, sig []byte, key interface{}) error {
	pub, ok := key.(pki.Point)
	if !ok {
		return fmt.Errorf("token: BP256R1 verify requires a pki.Point key, got %T", key)
	}
	if len(sig) != 64 {
		return fmt.Errorf("token: BP256R1 signature must be 64 bytes, got %d", len(sig))
	}

	hasher := crypto.SHA256.New()
	hasher.Write([]byte(signingString))
	digest := hasher.Sum(nil)

	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:])

	if !pki.BrainpoolP256r1.VerifyECDSA(pub, digest, r, s) {
		return jwt.ErrSignatureInvalid
	}
	return nil
}

// Sign is unsupported; the server never issues BP256R1-signed tokens.
func (m *signingMethodBP256R1) Sign(signingString string, key interface{}) ([]byte, error) {
	return nil, errors.New("token: BP256R1 signing is not supported, verify-only")
}
