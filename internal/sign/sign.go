// Package sign implements the three signed-document modes the server
// needs: CAdES-detached (CMS/PKCS#7) pharmacy receipts, detached-JSON
// patient receipts, and enveloped XML-DSig verification of inbound KBV
// bundles.
package sign

import (
	"crypto"
	"crypto/x509"
)

// Signer bundles the server's own signing identity: the leaf
// certificate and private key used to produce CAdES/detached-JSON
// signatures, plus the intermediate chain to embed alongside the leaf.
type Signer struct {
	Cert  *x509.Certificate
	Key   crypto.Signer
	Chain []*x509.Certificate
}
