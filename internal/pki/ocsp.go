package pki

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/x509"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/crypto/ocsp"
)

// OcspMaxAge is the freshness window for a cached OCSP staple: a response
// older than this relative to its ThisUpdate is no longer usable.
const OcspMaxAge = 24 * time.Hour

// Fingerprint returns the SHA-256 fingerprint used to index OCSP staples,
// hex-encoded.
func Fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return fmt.Sprintf("%x", sum)
}

// fetchOCSP builds and posts a DER OCSP request for leaf against issuer,
// to the first reachable responder URL, and parses the response.
func fetchOCSP(ctx context.Context, client *http.Client, leaf, issuer *x509.Certificate, responderURLs []string) (*OCSPResponse, error) {
	if len(responderURLs) == 0 {
		return nil, fmt.Errorf("pki: no OCSP responder configured for issuer %s", issuer.Subject)
	}

	reqDER, err := ocsp.CreateRequest(leaf, issuer, nil)
	if err != nil {
		return nil, fmt.Errorf("pki: build OCSP request: %w", err)
	}

	var lastErr error
	for _, url := range responderURLs {
		resp, err := postOCSP(ctx, client, url, reqDER)
		if err != nil {
			lastErr = err
			continue
		}
		parsed, err := ocsp.ParseResponseForCert(resp, leaf, issuer)
		if err != nil {
			lastErr = err
			continue
		}
		return &OCSPResponse{
			Raw:        resp,
			ThisUpdate: parsed.ThisUpdate,
			Good:       parsed.Status == ocsp.Good,
		}, nil
	}
	return nil, fmt.Errorf("pki: all OCSP responders failed: %w", lastErr)
}

func postOCSP(ctx context.Context, client *http.Client, url string, reqDER []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqDER))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/ocsp-request")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("OCSP responder %s returned status %d", url, resp.StatusCode)
	}

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
