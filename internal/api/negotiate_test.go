package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNegotiateFormatPrefersQueryParam(t *testing.T) {
	req := httptest.NewRequest("GET", "/metadata?_format=xml", nil)
	req.Header.Set("Accept", "application/fhir+json")

	format, ok := negotiateFormat(req)
	assert.True(t, ok)
	assert.Equal(t, "xml", format)
}

func TestNegotiateFormatFallsBackToAcceptHeader(t *testing.T) {
	req := httptest.NewRequest("GET", "/metadata", nil)
	req.Header.Set("Accept", "text/html, application/fhir+xml;q=0.9")

	format, ok := negotiateFormat(req)
	assert.True(t, ok)
	assert.Equal(t, "xml", format)
}

func TestNegotiateFormatRejectsUnknownMediaType(t *testing.T) {
	req := httptest.NewRequest("GET", "/metadata", nil)
	req.Header.Set("Accept", "application/pdf")

	_, ok := negotiateFormat(req)
	assert.False(t, ok)
}

func TestNegotiateFormatDefaultsToJSONWhenAcceptAbsent(t *testing.T) {
	req := httptest.NewRequest("GET", "/metadata", nil)
	format, ok := negotiateFormat(req)
	assert.True(t, ok)
	assert.Equal(t, "json", format)
}

func TestAcceptedRequestContentTypeAllowsKnownMediaTypes(t *testing.T) {
	for _, ct := range []string{"application/json", "application/fhir+json", "application/pkcs7-mime", ""} {
		req := &http.Request{Header: http.Header{}}
		if ct != "" {
			req.Header.Set("Content-Type", ct)
		}
		assert.True(t, acceptedRequestContentType(req), ct)
	}
}

func TestAcceptedRequestContentTypeRejectsUnknown(t *testing.T) {
	req := &http.Request{Header: http.Header{"Content-Type": {"application/pdf"}}}
	assert.False(t, acceptedRequestContentType(req))
}
