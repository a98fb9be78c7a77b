package token

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/erx-fd/erx-server/internal/model"
	"github.com/erx-fd/erx-server/internal/pki"
)

// Claims is the subset of the access-token's payload the server cares
// about.
type Claims struct {
	jwt.RegisteredClaims
	ProfessionOID model.ProfessionOID `json:"profession_oid"`
	IDNumber      string              `json:"id_number"`
}

// Verified is the result of a successful Verify call: the caller's
// identity and profession, ready for route-level authorization.
type Verified struct {
	Profession  model.ProfessionOID
	Participant model.ParticipantID
}

// Verifier validates bearer access tokens against the identity provider's
// current PUK_TOKEN, as published through a *pki.Store.
type Verifier struct {
	pki *pki.Store
}

// NewVerifier builds a Verifier bound to store.
func NewVerifier(store *pki.Store) *Verifier {
	return &Verifier{pki: store}
}

// Verify parses and validates a "Bearer <jws>" string, returning the
// caller's profession and participant id. now is the verifier's clock,
// threaded through explicitly so tests can control it.
func (v *Verifier) Verify(bearer string, now time.Time) (Verified, error) {
	raw, ok := strings.CutPrefix(bearer, "Bearer ")
	if !ok {
		return Verified{}, fmt.Errorf("token: missing Bearer prefix")
	}

	puk, err := v.pki.PukToken()
	if err != nil {
		return Verified{}, fmt.Errorf("token: PUK_TOKEN unavailable: %w", err)
	}
	pub := pki.Point{
		X: new(big.Int).SetBytes(puk.PublicKeyX),
		Y: new(big.Int).SetBytes(puk.PublicKeyY),
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != SigningMethodBP256R1.Alg() {
			return nil, fmt.Errorf("token: unexpected signing algorithm %q", t.Method.Alg())
		}
		return pub, nil
	}, jwt.WithValidMethods([]string{SigningMethodBP256R1.Alg()}), jwt.WithTimeFunc(func() time.Time { return now }))
	if err != nil {
		return Verified{}, fmt.Errorf("token: invalid access token: %w", err)
	}
	if !parsed.Valid {
		return Verified{}, fmt.Errorf("token: access token failed validation")
	}

	participant, err := participantFor(claims)
	if err != nil {
		return Verified{}, err
	}

	return Verified{Profession: claims.ProfessionOID, Participant: participant}, nil
}

func participantFor(claims Claims) (model.ParticipantID, error) {
	if claims.IDNumber == "" {
		return model.ParticipantID{}, fmt.Errorf("token: missing id_number claim")
	}
	if claims.ProfessionOID.IsInsured() {
		return model.NewKVNR(claims.IDNumber), nil
	}
	return model.NewTelematikID(claims.IDNumber), nil
}
