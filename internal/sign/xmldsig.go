package sign

import (
	"crypto/x509"
	"fmt"
	"time"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"

	"github.com/erx-fd/erx-server/internal/pki"
)

// ErrDigestMismatch and ErrSignatureMismatch distinguish the two
// failure kinds a KBV bundle verification can produce.
var (
	ErrDigestMismatch    = fmt.Errorf("sign: XML-DSig reference digest mismatch")
	ErrSignatureMismatch = fmt.Errorf("sign: XML-DSig signature value mismatch")
)

// VerifyXMLDSig validates the enveloped <Signature> element inside an
// XML KBV bundle: it walks the declared transform chain
// (C14N/exclusive-C14N, enveloped-signature, optional XPath) and
// digest (SHA-1 or SHA-256), verifies the signature value (RSA-SHA1 or
// RSA-MGF1-SHA256), then chain-verifies the embedded signer
// certificate against store at signingTime. The server only ever
// verifies KBV bundles, never produces this signature kind.
func VerifyXMLDSig(xmlDoc []byte, store *pki.Store, signingTime time.Time) (*x509.Certificate, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlDoc); err != nil {
		return nil, fmt.Errorf("sign: parse XML document: %w", err)
	}

	signerCert, err := signingCertificate(doc)
	if err != nil {
		return nil, err
	}

	// The embedded certificate is the only key the signature value is
	// checked against; whether it is trusted is decided by store below.
	ctx := dsig.NewDefaultValidationContext(&dsig.MemoryX509CertificateStore{
		Roots: []*x509.Certificate{signerCert},
	})
	ctx.Clock = dsig.NewFakeClockAt(signingTime)

	validated, err := ctx.Validate(doc.Root())
	if err != nil {
		if err == dsig.ErrDigestMismatch {
			return nil, ErrDigestMismatch
		}
		if err == dsig.ErrInvalidSignature {
			return nil, ErrSignatureMismatch
		}
		return nil, fmt.Errorf("sign: XML-DSig validation: %w", err)
	}
	_ = validated

	if _, err := store.VerifyCert(signerCert, pki.TimeCheckRelative(signingTime), signingTime); err != nil {
		return nil, fmt.Errorf("sign: signer certificate does not chain to a trusted CA: %w", err)
	}
	return signerCert, nil
}

// signingCertificate extracts the single X509Certificate carried in
// the document's Signature/KeyInfo/X509Data element.
func signingCertificate(doc *etree.Document) (*x509.Certificate, error) {
	certEl := doc.FindElement("//Signature/KeyInfo/X509Data/X509Certificate")
	if certEl == nil {
		return nil, fmt.Errorf("sign: Signature/KeyInfo carries no X509Certificate")
	}
	der, err := decodeBase64XMLText(certEl.Text())
	if err != nil {
		return nil, fmt.Errorf("sign: decode embedded certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("sign: parse embedded certificate: %w", err)
	}
	return cert, nil
}
