package sign

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/erx-fd/erx-server/internal/pki"
)

// strippedKeys are removed from the top-level JSON object before
// canonicalisation: they carry the signature itself or metadata that
// is not part of the signed content.
var strippedKeys = map[string]bool{
	"meta":      true,
	"text":      true,
	"signature": true,
}

// CanonicalizeJSON strips meta/text/signature from the top-level
// object and re-serialises the remainder compactly with
// lexicographically sorted keys, recursively, so the same logical
// document always produces the same byte string.
func CanonicalizeJSON(doc []byte) ([]byte, error) {
	var top map[string]interface{}
	if err := json.Unmarshal(doc, &top); err != nil {
		return nil, fmt.Errorf("sign: decode JSON document: %w", err)
	}
	for k := range strippedKeys {
		delete(top, k)
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, top); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v interface{}) error {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []interface{}:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("sign: encode canonical scalar: %w", err)
		}
		buf.Write(b)
	}
	return nil
}

// SignDetachedJSON canonicalises doc and produces an ASN.1 DER ECDSA
// signature over its SHA-256 digest using signerKey (the patient
// receipt's institution key; a standard NIST-curve ECDSA key, not the
// VAU tunnel's Brainpool curve).
func SignDetachedJSON(doc []byte, signerKey crypto.Signer) ([]byte, error) {
	canon, err := CanonicalizeJSON(doc)
	if err != nil {
		return nil, err
	}
	digest := sha256Sum(canon)
	sig, err := signerKey.Sign(rand.Reader, digest, crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("sign: detached JSON signature: %w", err)
	}
	return sig, nil
}

// VerifyDetachedJSON re-canonicalises doc and verifies sig against it
// with standard ECDSA, then chain-verifies signerCert against store at
// signingTime.
func VerifyDetachedJSON(doc, sig []byte, signerCert *x509.Certificate, store *pki.Store, signingTime time.Time) error {
	canon, err := CanonicalizeJSON(doc)
	if err != nil {
		return err
	}
	pub, ok := signerCert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("sign: signer certificate does not carry an ECDSA public key")
	}
	if !ecdsa.VerifyASN1(pub, sha256Sum(canon), sig) {
		return fmt.Errorf("sign: detached JSON signature verification failed")
	}
	if _, err := store.VerifyCert(signerCert, pki.TimeCheckRelative(signingTime), signingTime); err != nil {
		return fmt.Errorf("sign: signer certificate does not chain to a trusted CA: %w", err)
	}
	return nil
}
