package workflow

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
	"github.com/stretchr/testify/require"
	"go.mozilla.org/pkcs7"

	"github.com/erx-fd/erx-server/internal/logger"
	"github.com/erx-fd/erx-server/internal/pki"
)

func writeTestFixture(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// multiCertTSLFixture trusts every cert in ders, matching the TSL shape
// internal/pki expects.
func multiCertTSLFixture(ders ...[]byte) []byte {
	var services string
	for _, der := range ders {
		services += fmt.Sprintf(`
        <TSPService>
          <ServiceInformation>
            <ServiceStatus>http://uri.etsi.org/TrstSvc/Svcstatus/granted</ServiceStatus>
            <ServiceDigitalIdentity>
              <DigitalId>
                <X509Certificate>%s</X509Certificate>
              </DigitalId>
            </ServiceDigitalIdentity>
          </ServiceInformation>
        </TSPService>`, base64.StdEncoding.EncodeToString(der))
	}
	return []byte(fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<TrustServiceStatusList xmlns="http://uri.etsi.org/02231/v2#">
  <TrustServiceProviderList>
    <TrustServiceProvider>
      <TSPServices>%s
      </TSPServices>
    </TrustServiceProvider>
  </TrustServiceProviderList>
</TrustServiceStatusList>`, services))
}

func pkiStoreTrustingAll(t *testing.T, certs ...*x509.Certificate) *pki.Store {
	t.Helper()
	ders := make([][]byte, len(certs))
	for i, c := range certs {
		ders[i] = c.Raw
	}
	dir := t.TempDir()
	tslPath := writeTestFixture(t, dir, "tsl.xml", multiCertTSLFixture(ders...))
	s := pki.NewStore(pki.Config{TslURL: "file://" + tslPath}, nil, logger.NewDefaultLogger())
	require.NoError(t, s.RefreshTSLOnce(t.Context()))
	return s
}

// selfSignedECDSA builds a self-signed ECDSA CA-flagged cert, used as
// the prescriber's CMS signing identity for the KBV binary.
func selfSignedECDSA(t *testing.T, cn string) (*x509.Certificate, *ecdsa.PrivateKey) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert, priv
}

// rsaKeyStore implements dsig.X509KeyStore for signing the inner KBV
// bundle XML, the same way internal/sign's own tests do.
type rsaKeyStore struct {
	key  *rsa.PrivateKey
	cert []byte
}

func (k *rsaKeyStore) GetKeyPair() (*rsa.PrivateKey, []byte, error) {
	return k.key, k.cert, nil
}

func newRSAKeyStore(t *testing.T) (*rsaKeyStore, *x509.Certificate) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: "KBV Bundle Signer"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return &rsaKeyStore{key: key, cert: der}, cert
}

// signedKBVBundle builds a minimal FHIR KBV Bundle carrying a Patient
// entry with a KVNR identifier, enveloped-signed with RSA-SHA256.
func signedKBVBundle(t *testing.T, ks *rsaKeyStore, kvnr string) []byte {
	t.Helper()
	doc := etree.NewDocument()
	root := doc.CreateElement("Bundle")
	root.CreateAttr("xmlns", "http://hl7.org/fhir")
	entry := root.CreateElement("entry")
	resource := entry.CreateElement("resource")
	patient := resource.CreateElement("Patient")
	identifier := patient.CreateElement("identifier")
	system := identifier.CreateElement("system")
	system.CreateAttr("value", "http://fhir.de/sid/gkv/kvid-10")
	value := identifier.CreateElement("value")
	value.CreateAttr("value", kvnr)

	ctx := dsig.NewDefaultSigningContext(ks)
	require.NoError(t, ctx.SetSignatureMethod(dsig.RSASHA256SignatureMethod))
	signed, err := ctx.SignEnveloped(root)
	require.NoError(t, err)

	out := etree.NewDocument()
	out.SetRoot(signed)
	bytes, err := out.WriteToBytes()
	require.NoError(t, err)
	return bytes
}

// kbvBinaryFixture wraps a signed KBV bundle in a non-detached CMS
// envelope, the shape submitted at activate.
func kbvBinaryFixture(t *testing.T, signerCert *x509.Certificate, signerKey *ecdsa.PrivateKey, bundleXML []byte) []byte {
	t.Helper()
	sd, err := pkcs7.NewSignedData(bundleXML)
	require.NoError(t, err)
	require.NoError(t, sd.AddSigner(signerCert, signerKey, pkcs7.SignerInfoConfig{}))
	raw, err := sd.Finish()
	require.NoError(t, err)
	return raw
}
