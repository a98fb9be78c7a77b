package pki

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// pukJWK is the JSON Web Key document the identity provider publishes its
// signing material as: an EC public key plus an x5c certificate chain.
type pukJWK struct {
	Kty string   `json:"kty"`
	Crv string   `json:"crv"`
	X   string   `json:"x"`
	Y   string   `json:"y"`
	X5c []string `json:"x5c"`
}

// parsePukToken decodes the identity provider's published JWK into a
// PukToken, extracting both the raw EC coordinates (used to reconstruct a
// verification key independent of the certificate) and the leaf
// certificate from the x5c chain.
func parsePukToken(body []byte) (*PukToken, error) {
	var jwk pukJWK
	if err := json.Unmarshal(body, &jwk); err != nil {
		return nil, fmt.Errorf("pki: parse PUK_TOKEN JWK: %w", err)
	}
	if jwk.Kty != "EC" {
		return nil, fmt.Errorf("pki: PUK_TOKEN kty %q unsupported", jwk.Kty)
	}
	x, err := base64.RawURLEncoding.DecodeString(jwk.X)
	if err != nil {
		return nil, fmt.Errorf("pki: decode PUK_TOKEN x coordinate: %w", err)
	}
	y, err := base64.RawURLEncoding.DecodeString(jwk.Y)
	if err != nil {
		return nil, fmt.Errorf("pki: decode PUK_TOKEN y coordinate: %w", err)
	}

	var cert *x509.Certificate
	if len(jwk.X5c) > 0 {
		der, err := base64.StdEncoding.DecodeString(jwk.X5c[0])
		if err != nil {
			return nil, fmt.Errorf("pki: decode PUK_TOKEN x5c: %w", err)
		}
		cert, err = x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("pki: parse PUK_TOKEN certificate: %w", err)
		}
	}

	return &PukToken{
		Certificate: cert,
		PublicKeyX:  x,
		PublicKeyY:  y,
		FetchedAt:   time.Now(),
	}, nil
}
