package service

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rentella/property-auth-api/internal/models"
	appErrors "github.com/rentella/property-auth-api/pkg/errors"
)

// CSRFConfig defines signing parameters for the double-submit pair.
type CSRFConfig struct {
	Secret string
	Expiry time.Duration
}

// CSRFService implements double-submit CSRF protection: the comparison value
// goes to the client in the response body, its signed wrapper rides in a
// cookie, and mutating requests must present both. No server-side state.
type CSRFService struct {
	config CSRFConfig
	now    func() time.Time
}

// NewCSRFService constructs a CSRFService. A missing secret is fatal at
// startup.
func NewCSRFService(config CSRFConfig) (*CSRFService, error) {
	if config.Secret == "" {
		return nil, appErrors.Clone(appErrors.ErrConfig, "csrf signing secret is not set")
	}
	if config.Expiry <= 0 {
		config.Expiry = time.Hour
	}
	return &CSRFService{config: config, now: func() time.Time { return time.Now().UTC() }}, nil
}

// IssuedCSRF carries a freshly minted pair.
type IssuedCSRF struct {
	// CookieValue is the signed wrapper set as the csrf_token cookie.
	CookieValue string
	// CompareValue is returned in the response body; the client echoes it
	// back in the X-CSRF-Token header.
	CompareValue string
	Expires      time.Time
}

// Issue mints a random comparison value and its signed, time-bounded wrapper.
func (s *CSRFService) Issue() (*IssuedCSRF, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate csrf token")
	}
	compare := hex.EncodeToString(buf)

	issuedAt := s.now()
	expires := issuedAt.Add(s.config.Expiry)
	claims := &models.CSRFClaims{
		CSRF: compare,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.Secret))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign csrf token")
	}

	return &IssuedCSRF{CookieValue: signed, CompareValue: compare, Expires: expires}, nil
}

// Validate checks that the header value matches the one sealed inside the
// cookie and that the wrapper is authentic and unexpired. Every failure
// mode, expiry included, collapses to CSRF_MISMATCH.
func (s *CSRFService) Validate(headerValue, cookieValue string) error {
	if headerValue == "" || cookieValue == "" {
		return appErrors.Clone(appErrors.ErrCsrfMismatch, "csrf token missing")
	}

	claims := &models.CSRFClaims{}
	token, err := jwt.ParseWithClaims(cookieValue, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.Secret), nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return appErrors.Clone(appErrors.ErrCsrfMismatch, "")
	}

	if claims.CSRF == "" || subtle.ConstantTimeCompare([]byte(claims.CSRF), []byte(headerValue)) != 1 {
		return appErrors.Clone(appErrors.ErrCsrfMismatch, "")
	}
	return nil
}

// CookieMaxAge returns the cookie lifetime in seconds.
func (s *CSRFService) CookieMaxAge() int {
	return int(s.config.Expiry.Seconds())
}
