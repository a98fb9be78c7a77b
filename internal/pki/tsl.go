package pki

import (
	"context"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"
)

// tslDocument is the subset of a TSL/BNetzA-VL XML document this store
// cares about: the granted ServiceInformation entries and the certificates
// they carry.
type tslDocument struct {
	XMLName xml.Name `xml:"TrustServiceStatusList"`
	Body    struct {
		Providers []tslProvider `xml:"TrustServiceProvider"`
	} `xml:"TrustServiceProviderList"`
}

type tslProvider struct {
	Services []tslService `xml:"TSPServices>TSPService"`
}

type tslService struct {
	Information tslServiceInformation `xml:"ServiceInformation"`
}

type tslServiceInformation struct {
	Status         string       `xml:"ServiceStatus"`
	Name           []tslName    `xml:"ServiceInformationExtensions>Extension>AdditionalServiceInformation>InternationalesServiceName>Name"`
	DigitalID      []tslDigital `xml:"ServiceDigitalIdentity>DigitalId"`
	SupplyPointURL []string     `xml:"ServiceSupplyPoints>ServiceSupplyPoint"`
}

type tslName struct {
	Lang  string `xml:"lang,attr"`
	Value string `xml:",chardata"`
}

type tslDigital struct {
	X509Certificate string `xml:"X509Certificate"`
}

const serviceStatusGranted = "http://uri.etsi.org/TrstSvc/Svcstatus/granted"

// fetchXML retrieves body bytes and, where present, an accompanying .sha2
// digest file from the same base URL. file:// URLs are supported for
// offline/test fixtures alongside https://.
func fetchXML(ctx context.Context, client *http.Client, url string) (body, sha2 []byte, err error) {
	body, err = fetchOne(ctx, client, url)
	if err != nil {
		return nil, nil, err
	}
	sha2, err = fetchOne(ctx, client, url+".sha2")
	if err != nil {
		// Not every fixture ships a detached digest; absence is tolerated,
		// the digest is merely an integrity cross-check when present.
		return body, nil, nil
	}
	return body, sha2, nil
}

func fetchOne(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	if strings.HasPrefix(url, "file://") {
		return readFileURL(url)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("pki: build request for %s: %w", url, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pki: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pki: fetch %s: unexpected status %d", url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func readFileURL(url string) ([]byte, error) {
	path := strings.TrimPrefix(url, "file://")
	return os.ReadFile(path)
}

// parseTSL parses body into a Snapshot: granted-status entries only, their
// certificates indexed by normalised distinguished name, and a ready-to-use
// x509.CertPool built from the same set.
func parseTSL(body, sha2 []byte, fetchedAt time.Time) (*Snapshot, error) {
	var doc tslDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("pki: parse TSL XML: %w", err)
	}

	snap := &Snapshot{
		RawXML:    body,
		SHA2:      sha2,
		ByDN:      make(map[string]CAItem),
		Pool:      x509.NewCertPool(),
		FetchedAt: fetchedAt,
	}

	for _, provider := range doc.Body.Providers {
		for _, svc := range provider.Services {
			info := svc.Information
			if info.Status != serviceStatusGranted {
				continue
			}
			for _, digital := range info.DigitalID {
				cert, err := decodeCertificate(digital.X509Certificate)
				if err != nil {
					continue // a malformed single entry must not abort the whole refresh
				}
				dn := normaliseDN(cert.Subject.Names)
				snap.ByDN[dn] = CAItem{
					DistinguishedName: dn,
					Certificate:       cert,
					ServiceSupplyURLs: info.SupplyPointURL,
				}
				snap.Pool.AddCert(cert)
			}
		}
	}

	if len(snap.ByDN) == 0 {
		return nil, fmt.Errorf("pki: TSL document granted zero usable certificates")
	}
	return snap, nil
}

func decodeCertificate(b64 string) (*x509.Certificate, error) {
	b64 = strings.TrimSpace(b64)
	der, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decode certificate base64: %w", err)
	}
	return x509.ParseCertificate(der)
}

// oidShortNames maps the handful of RDN attribute OIDs that appear in
// TSL/BNetzA-VL subjects to their conventional short names.
var oidShortNames = map[string]string{
	"2.5.4.3":  "CN",
	"2.5.4.6":  "C",
	"2.5.4.7":  "L",
	"2.5.4.8":  "ST",
	"2.5.4.10": "O",
	"2.5.4.11": "OU",
	"2.5.4.5":  "SERIALNUMBER",
}

func shortName(oid asn1.ObjectIdentifier) string {
	if s, ok := oidShortNames[oid.String()]; ok {
		return s
	}
	return oid.String()
}

// normaliseDN concatenates a certificate subject's attribute type/value
// pairs as SHORT_NAME=VALUE, sorted for a stable key.
func normaliseDN(names []pkix.AttributeTypeAndValue) string {
	pairs := make([]string, 0, len(names))
	for _, n := range names {
		pairs = append(pairs, fmt.Sprintf("%s=%v", shortName(n.Type), n.Value))
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}

// Sha2Matches verifies a TSL/BNetzA-VL body against its detached digest
// file, when one was fetched.
func Sha2Matches(body, sha2 []byte) bool {
	if len(sha2) == 0 {
		return true
	}
	sum := sha256.Sum256(body)
	want := strings.TrimSpace(strings.ToLower(string(sha2)))
	got := fmt.Sprintf("%x", sum)
	return strings.HasPrefix(want, got)
}
