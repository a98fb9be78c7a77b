package sign

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erx-fd/erx-server/internal/logger"
	"github.com/erx-fd/erx-server/internal/pki"
)

func selfSignedCADES(t *testing.T, cn string) (*x509.Certificate, *ecdsa.PrivateKey) {
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

func pkiStoreTrusting(t *testing.T, cert *x509.Certificate) *pki.Store {
	t.Helper()
	dir := t.TempDir()
	tslPath := writeTestFixture(t, dir, "tsl.xml", testTSLFixture(cert.Raw))
	s := pki.NewStore(pki.Config{TslURL: "file://" + tslPath}, nil, logger.NewDefaultLogger())
	require.NoError(t, s.RefreshTSLOnce(t.Context()))
	return s
}

func TestCAdESSignAndVerifyRoundTrip(t *testing.T) {
	cert, priv := selfSignedCADES(t, "Pharmacy Receipt Signer")
	store := pkiStoreTrusting(t, cert)

	content := []byte(`{"resourceType":"Bundle"}`)
	sig, err := SignCAdES(content, cert, priv, []*x509.Certificate{cert})
	require.NoError(t, err)

	signer, err := VerifyCAdES(content, sig, store, time.Now())
	require.NoError(t, err)
	assert.Equal(t, cert.Raw, signer.Raw)
}

func TestCAdESVerifyRejectsTamperedContent(t *testing.T) {
	cert, priv := selfSignedCADES(t, "Pharmacy Receipt Signer")
	store := pkiStoreTrusting(t, cert)

	content := []byte(`{"resourceType":"Bundle"}`)
	sig, err := SignCAdES(content, cert, priv, []*x509.Certificate{cert})
	require.NoError(t, err)

	_, err = VerifyCAdES([]byte(`{"resourceType":"Tampered"}`), sig, store, time.Now())
	assert.Error(t, err)
}

func TestCAdESVerifyRejectsUntrustedSigner(t *testing.T) {
	cert, priv := selfSignedCADES(t, "Rogue Signer")
	otherTrusted, _ := selfSignedCADES(t, "Someone Else")
	store := pkiStoreTrusting(t, otherTrusted)

	content := []byte(`{"resourceType":"Bundle"}`)
	sig, err := SignCAdES(content, cert, priv, []*x509.Certificate{cert})
	require.NoError(t, err)

	_, err = VerifyCAdES(content, sig, store, time.Now())
	assert.Error(t, err)
}
