package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/rentella/property-auth-api/pkg/errors"
)

func newCSRFService(t *testing.T) *CSRFService {
	t.Helper()
	svc, err := NewCSRFService(CSRFConfig{Secret: "csrf-secret", Expiry: time.Hour})
	require.NoError(t, err)
	return svc
}

func TestCSRFServiceRequiresSecret(t *testing.T) {
	_, err := NewCSRFService(CSRFConfig{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConfig.Code, appErrors.FromError(err).Code)
}

func TestCSRFServiceIssueValidate(t *testing.T) {
	svc := newCSRFService(t)

	issued, err := svc.Issue()
	require.NoError(t, err)
	assert.NotEmpty(t, issued.CompareValue)
	assert.NotEmpty(t, issued.CookieValue)
	assert.NotEqual(t, issued.CompareValue, issued.CookieValue)

	assert.NoError(t, svc.Validate(issued.CompareValue, issued.CookieValue))
}

func TestCSRFServiceMismatch(t *testing.T) {
	svc := newCSRFService(t)

	issued, err := svc.Issue()
	require.NoError(t, err)

	err = svc.Validate("deadbeef", issued.CookieValue)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrCsrfMismatch.Code, appErrors.FromError(err).Code)
}

func TestCSRFServiceMissingValues(t *testing.T) {
	svc := newCSRFService(t)
	issued, err := svc.Issue()
	require.NoError(t, err)

	assert.Error(t, svc.Validate("", issued.CookieValue))
	assert.Error(t, svc.Validate(issued.CompareValue, ""))
}

func TestCSRFServiceExpired(t *testing.T) {
	svc := newCSRFService(t)

	issued, err := svc.Issue()
	require.NoError(t, err)

	svc.now = func() time.Time { return issued.Expires.Add(time.Second) }
	err = svc.Validate(issued.CompareValue, issued.CookieValue)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrCsrfMismatch.Code, appErrors.FromError(err).Code)
}

func TestCSRFServiceForeignCookie(t *testing.T) {
	svc := newCSRFService(t)
	other, err := NewCSRFService(CSRFConfig{Secret: "other-secret", Expiry: time.Hour})
	require.NoError(t, err)

	issued, err := other.Issue()
	require.NoError(t, err)

	err = svc.Validate(issued.CompareValue, issued.CookieValue)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrCsrfMismatch.Code, appErrors.FromError(err).Code)
}
