package apierror

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusMapping(t *testing.T) {
	assert.Equal(t, http.StatusConflict, Conflict.HTTPStatus())
	assert.Equal(t, http.StatusForbidden, Forbidden.HTTPStatus())
	assert.Equal(t, http.StatusInternalServerError, Internal.HTTPStatus())
}

func TestWrapReturnsNilForNilCause(t *testing.T) {
	assert.Nil(t, Wrap(Internal, "should not happen", nil))
}

func TestAsMatchesOnlyThroughErrorChain(t *testing.T) {
	base := New(Conflict, "task is not in Draft")
	wrapped := errors.New("handler: " + base.Error())
	_, ok := As(wrapped)
	assert.False(t, ok, "plain errors.New should not satisfy As")

	_, ok = As(base)
	assert.True(t, ok)
}

func TestIssueTypeMapping(t *testing.T) {
	assert.Equal(t, "not-found", NotFound.IssueType())
	assert.Equal(t, "security", Unauthorized.IssueType())
}
