package sign

import (
	"crypto"
	"crypto/x509"
	"fmt"
	"time"

	"go.mozilla.org/pkcs7"

	"github.com/erx-fd/erx-server/internal/pki"
)

// SignCAdES produces a detached CAdES (PKCS#7/CMS) signature over
// content, embedding signerCert and the rest of chain as the
// certificate set carried in the signature.
func SignCAdES(content []byte, signerCert *x509.Certificate, signerKey crypto.Signer, chain []*x509.Certificate) ([]byte, error) {
	sd, err := pkcs7.NewSignedData(content)
	if err != nil {
		return nil, fmt.Errorf("sign: build CMS SignedData: %w", err)
	}
	if err := sd.AddSigner(signerCert, signerKey, pkcs7.SignerInfoConfig{}); err != nil {
		return nil, fmt.Errorf("sign: add CMS signer: %w", err)
	}
	for _, c := range chain {
		sd.AddCertificate(c)
	}
	sd.Detach()

	signature, err := sd.Finish()
	if err != nil {
		return nil, fmt.Errorf("sign: finish CMS SignedData: %w", err)
	}
	return signature, nil
}

// VerifyCAdES checks a detached CAdES signature against content: the
// CMS signature itself must verify, and the embedded signer
// certificate must chain to a currently-trusted CA at signingTime.
//
// signingTime should come from the CMS signingTime authenticated
// attribute where the caller has one available; VerifyCAdES does not
// read that attribute from signature itself, so callers without it may
// pass the verification wall-clock time instead, at the cost of the
// temporal-strictness the signed attribute would give.
func VerifyCAdES(content, signature []byte, store *pki.Store, signingTime time.Time) (*x509.Certificate, error) {
	p7, err := pkcs7.Parse(signature)
	if err != nil {
		return nil, fmt.Errorf("sign: parse CMS SignedData: %w", err)
	}
	p7.Content = content

	if err := p7.Verify(); err != nil {
		return nil, fmt.Errorf("sign: CMS signature verification failed: %w", err)
	}

	signer := p7.GetOnlySigner()
	if signer == nil {
		return nil, fmt.Errorf("sign: CMS envelope does not carry exactly one signer certificate")
	}

	if _, err := store.VerifyCert(signer, pki.TimeCheckRelative(signingTime), signingTime); err != nil {
		return nil, fmt.Errorf("sign: signer certificate does not chain to a trusted CA: %w", err)
	}
	return signer, nil
}

// VerifyAttachedCMS verifies a non-detached CMS/PKCS#7 envelope (the
// KBV binary submitted at activate carries its content inline, not
// detached): the embedded content is extracted and returned, the
// signature is checked, and the signer certificate is chain-verified
// at the signing time recovered from the CMS signedAttrs where present
// (falling back to verifyAt when it cannot be recovered).
func VerifyAttachedCMS(raw []byte, store *pki.Store, verifyAt time.Time) (content []byte, signer *x509.Certificate, signingTime time.Time, err error) {
	p7, err := pkcs7.Parse(raw)
	if err != nil {
		return nil, nil, time.Time{}, fmt.Errorf("sign: parse CMS envelope: %w", err)
	}
	if err := p7.Verify(); err != nil {
		return nil, nil, time.Time{}, fmt.Errorf("sign: CMS signature verification failed: %w", err)
	}

	signer = p7.GetOnlySigner()
	if signer == nil {
		return nil, nil, time.Time{}, fmt.Errorf("sign: CMS envelope does not carry exactly one signer certificate")
	}

	signingTime = verifyAt
	if t, ok := cmsSigningTime(raw); ok {
		signingTime = t
	}

	if _, err := store.VerifyCert(signer, pki.TimeCheckRelative(signingTime), signingTime); err != nil {
		return nil, nil, time.Time{}, fmt.Errorf("sign: signer certificate does not chain to a trusted CA: %w", err)
	}
	return p7.Content, signer, signingTime, nil
}
