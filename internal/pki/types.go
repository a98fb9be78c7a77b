// Package pki implements the trust store: periodic fetch and parse of the
// Trust Service Status List and BNetzA-VL, the server's own encryption
// certificate, the identity provider's signing key (PUK_TOKEN), OCSP
// freshness tracking, and certificate-chain verification against the
// currently installed trust material.
package pki

import (
	"crypto/x509"
	"time"
)

// CAItem is one trust anchor extracted from a TSL/BNetzA-VL service entry:
// a certificate keyed by its normalised distinguished name, alongside the
// service supply points used to reach its OCSP responder.
type CAItem struct {
	DistinguishedName string
	Certificate       *x509.Certificate
	ServiceSupplyURLs []string
}

// Snapshot is one atomically-installed trust list (TSL or BNetzA-VL): the
// raw XML body, its accompanying SHA-2 digest, the certificates it grants
// indexed by distinguished name, a ready-to-use verification pool, and the
// instant it was fetched.
type Snapshot struct {
	RawXML    []byte
	SHA2      []byte
	ByDN      map[string]CAItem
	Pool      *x509.CertPool
	FetchedAt time.Time
}

// PukToken is the identity provider's current signing material: the
// certificate carrying its public key and the raw big-endian X/Y
// coordinate bytes the access token verifier builds its pki.Point from.
type PukToken struct {
	Certificate *x509.Certificate
	PublicKeyX  []byte
	PublicKeyY  []byte
	FetchedAt   time.Time
}

// OCSPResponse is one cached OCSP staple, indexed by the end-entity
// certificate's SHA-256 fingerprint.
type OCSPResponse struct {
	Raw        []byte
	ThisUpdate time.Time
	Good       bool
}

// IsFresh reports whether the response is still within its validity
// window at the given instant (less than maxAge past ThisUpdate).
func (r OCSPResponse) IsFresh(at time.Time, maxAge time.Duration) bool {
	return at.Before(r.ThisUpdate.Add(maxAge))
}

// TimeCheck selects how verify_cert treats a certificate's validity
// window: skip it entirely, check it strictly against the verifier's
// clock, or check it against a supplied historical instant (used when
// verifying a signature made in the past).
type TimeCheck struct {
	mode    timeCheckMode
	instant time.Time
}

type timeCheckMode int

const (
	timeCheckNone timeCheckMode = iota
	timeCheckStrict
	timeCheckRelative
)

// TimeCheckNone skips the temporal check entirely.
func TimeCheckNone() TimeCheck { return TimeCheck{mode: timeCheckNone} }

// TimeCheckStrict checks not_before <= now <= not_after at verification time.
func TimeCheckStrict() TimeCheck { return TimeCheck{mode: timeCheckStrict} }

// TimeCheckRelative checks not_before <= instant <= not_after, used for
// historical signature verification.
func TimeCheckRelative(instant time.Time) TimeCheck {
	return TimeCheck{mode: timeCheckRelative, instant: instant}
}

func (t TimeCheck) resolve(now time.Time) (check bool, at time.Time) {
	switch t.mode {
	case timeCheckNone:
		return false, time.Time{}
	case timeCheckRelative:
		return true, t.instant
	default:
		return true, now
	}
}
