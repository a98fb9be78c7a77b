package pki

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func selfSignedTestCert(t *testing.T, cn string) (*x509.Certificate, []byte) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn, Organization: []string{"Test CA"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		IsCA:         true,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert, der
}

func tslFixture(der []byte) []byte {
	b64 := base64.StdEncoding.EncodeToString(der)
	return []byte(fmt.Sprintf(`<?xml version="1.0"?>
<TrustServiceStatusList>
  <TrustServiceProviderList>
    <TrustServiceProvider>
      <TSPServices>
        <TSPService>
          <ServiceInformation>
            <ServiceStatus>%s</ServiceStatus>
            <ServiceDigitalIdentity>
              <DigitalId>
                <X509Certificate>%s</X509Certificate>
              </DigitalId>
            </ServiceDigitalIdentity>
            <ServiceSupplyPoints>
              <ServiceSupplyPoint>http://ocsp.example.test</ServiceSupplyPoint>
            </ServiceSupplyPoints>
          </ServiceInformation>
        </TSPService>
      </TSPServices>
    </TrustServiceProvider>
  </TrustServiceProviderList>
</TrustServiceStatusList>`, serviceStatusGranted, b64))
}

func TestParseTSLGrantsOnlyGrantedEntries(t *testing.T) {
	cert, der := selfSignedTestCert(t, "Test Root CA")
	body := tslFixture(der)

	snap, err := parseTSL(body, nil, time.Now())
	require.NoError(t, err)
	assert.Len(t, snap.ByDN, 1)

	dn := normaliseDN(cert.Subject.Names)
	item, ok := snap.ByDN[dn]
	require.True(t, ok)
	assert.Equal(t, cert.Raw, item.Certificate.Raw)
	assert.Equal(t, []string{"http://ocsp.example.test"}, item.ServiceSupplyURLs)
}

func TestParseTSLRejectsNonGrantedServices(t *testing.T) {
	_, der := selfSignedTestCert(t, "Revoked CA")
	b64 := base64.StdEncoding.EncodeToString(der)
	body := []byte(fmt.Sprintf(`<?xml version="1.0"?>
<TrustServiceStatusList>
  <TrustServiceProviderList>
    <TrustServiceProvider>
      <TSPServices>
        <TSPService>
          <ServiceInformation>
            <ServiceStatus>http://uri.etsi.org/TrstSvc/Svcstatus/withdrawn</ServiceStatus>
            <ServiceDigitalIdentity>
              <DigitalId>
                <X509Certificate>%s</X509Certificate>
              </DigitalId>
            </ServiceDigitalIdentity>
          </ServiceInformation>
        </TSPService>
      </TSPServices>
    </TrustServiceProvider>
  </TrustServiceProviderList>
</TrustServiceStatusList>`, b64))

	_, err := parseTSL(body, nil, time.Now())
	assert.Error(t, err)
}

func TestSha2MatchesAcceptsAbsentDigest(t *testing.T) {
	assert.True(t, Sha2Matches([]byte("anything"), nil))
}

func TestSha2MatchesRejectsWrongDigest(t *testing.T) {
	assert.False(t, Sha2Matches([]byte("anything"), []byte("deadbeef")))
}
