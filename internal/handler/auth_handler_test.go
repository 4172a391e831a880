package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/rentella/property-auth-api/internal/middleware"
	"github.com/rentella/property-auth-api/internal/models"
	"github.com/rentella/property-auth-api/internal/service"
	appErrors "github.com/rentella/property-auth-api/pkg/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeUserRepo struct {
	users map[string]*models.User
}

func (f *fakeUserRepo) FindByUsername(_ context.Context, username string) (*models.User, error) {
	if u, ok := f.users[username]; ok {
		clone := *u
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeUserRepo) FindByEmail(_ context.Context, email string) (*models.User, error) {
	for _, u := range f.users {
		if u.Email == email {
			clone := *u
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeUserRepo) Create(_ context.Context, user *models.User) error {
	clone := *user
	f.users[user.Username] = &clone
	return nil
}

func (f *fakeUserRepo) UpdateLastLogin(context.Context, string, time.Time) error { return nil }

func (f *fakeUserRepo) UpdatePassword(_ context.Context, username, hash string, _ time.Time) error {
	if u, ok := f.users[username]; ok {
		u.PasswordHash = hash
	}
	return nil
}

func (f *fakeUserRepo) CreateAuditLog(context.Context, *models.AuditLog) error { return nil }

type fakeTokenStore struct {
	mu   sync.Mutex
	rows map[string]*models.RefreshToken
}

func (f *fakeTokenStore) Create(_ context.Context, token *models.RefreshToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	clone := *token
	f.rows[token.TokenHash] = &clone
	return nil
}

func (f *fakeTokenStore) FindByHash(_ context.Context, tokenHash string) (*models.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rt, ok := f.rows[tokenHash]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *rt
	return &clone, nil
}

func (f *fakeTokenStore) Redeem(_ context.Context, tokenHash string, now time.Time, successor *models.RefreshToken) (*models.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rt, ok := f.rows[tokenHash]
	if !ok {
		return nil, appErrors.ErrTokenNotFound
	}
	if !now.Before(rt.ExpiresAt) {
		return nil, appErrors.ErrTokenExpired
	}
	if rt.Revoked {
		return nil, appErrors.WithDetails(appErrors.ErrTokenRevoked, rt.Username)
	}
	rt.Revoked = true
	successor.Username = rt.Username
	if successor.ID == "" {
		successor.ID = uuid.NewString()
	}
	clone := *successor
	f.rows[successor.TokenHash] = &clone
	consumed := *rt
	return &consumed, nil
}

func (f *fakeTokenStore) Revoke(_ context.Context, tokenHash string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rt, ok := f.rows[tokenHash]; ok {
		rt.Revoked = true
	}
	return nil
}

func (f *fakeTokenStore) RevokeAllForUser(_ context.Context, username string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rt := range f.rows {
		if rt.Username == username {
			rt.Revoked = true
		}
	}
	return nil
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("Corr3ct!horse"), bcrypt.MinCost)
	require.NoError(t, err)
	repo := &fakeUserRepo{users: map[string]*models.User{
		"mrossi": {
			Username:     "mrossi",
			Email:        "mrossi@rentella.test",
			PasswordHash: string(hash),
			Role:         models.RoleManager,
			Active:       true,
		},
	}}

	tokens, err := service.NewTokenService(service.TokenConfig{Secret: "test-secret", Expiry: 30 * time.Minute})
	require.NoError(t, err)
	csrfSvc, err := service.NewCSRFService(service.CSRFConfig{Secret: "csrf-secret", Expiry: time.Hour})
	require.NoError(t, err)
	ledger := service.NewLedgerService(&fakeTokenStore{rows: map[string]*models.RefreshToken{}}, nil, nil, service.LedgerConfig{Expiry: time.Hour})
	authSvc := service.NewAuthService(repo, ledger, tokens, nil, nil, nil)

	h := NewAuthHandler(authSvc, csrfSvc, "csrf_token", false)

	r := gin.New()
	auth := r.Group("/api/v1/auth")
	{
		auth.POST("/login", h.Login)
		auth.POST("/register", h.Register)
		auth.POST("/refresh-token", h.Refresh)
		auth.POST("/logout", h.Logout)
		auth.GET("/csrf-token", h.CSRFToken)

		protected := auth.Group("", middleware.JWT(authSvc))
		{
			protected.POST("/logout-all", h.LogoutAll)
			protected.GET("/verify-token", h.VerifyToken)
			protected.PUT("/change-password", h.ChangePassword)
		}
	}
	return r
}

func doJSON(r *gin.Engine, method, path string, payload interface{}, header map[string]string) *httptest.ResponseRecorder {
	var body *bytes.Buffer
	if payload != nil {
		raw, _ := json.Marshal(payload)
		body = bytes.NewBuffer(raw)
	} else {
		body = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func loginPair(t *testing.T, r *gin.Engine) models.TokenPairResponse {
	t.Helper()
	w := doJSON(r, http.MethodPost, "/api/v1/auth/login", gin.H{"username": "mrossi", "password": "Corr3ct!horse"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var envelope struct {
		Data models.TokenPairResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	return envelope.Data
}

func TestAuthHandlerLogin(t *testing.T) {
	r := newTestRouter(t)

	pair := loginPair(t, r)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, "bearer", pair.TokenType)
	assert.Equal(t, int64(1800), pair.ExpiresIn)
}

func TestAuthHandlerLoginCacheHeaders(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(r, http.MethodPost, "/api/v1/auth/login", gin.H{"username": "mrossi", "password": "Corr3ct!horse"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

func TestAuthHandlerLoginBadCredentials(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(r, http.MethodPost, "/api/v1/auth/login", gin.H{"username": "mrossi", "password": "wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_CREDENTIALS")
}

func TestAuthHandlerLoginMissingFields(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(r, http.MethodPost, "/api/v1/auth/login", gin.H{"username": "mrossi"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthHandlerRefreshFlow(t *testing.T) {
	r := newTestRouter(t)
	pair := loginPair(t, r)

	w := doJSON(r, http.MethodPost, "/api/v1/auth/refresh-token", gin.H{"refreshToken": pair.RefreshToken}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var envelope struct {
		Data models.TokenPairResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.NotEqual(t, pair.RefreshToken, envelope.Data.RefreshToken)

	// The consumed token is gone for good.
	w = doJSON(r, http.MethodPost, "/api/v1/auth/refresh-token", gin.H{"refreshToken": pair.RefreshToken}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "TOKEN_REVOKED")
}

func TestAuthHandlerLogout(t *testing.T) {
	r := newTestRouter(t)
	pair := loginPair(t, r)

	w := doJSON(r, http.MethodPost, "/api/v1/auth/logout", gin.H{"refreshToken": pair.RefreshToken}, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(r, http.MethodPost, "/api/v1/auth/refresh-token", gin.H{"refreshToken": pair.RefreshToken}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthHandlerVerifyToken(t *testing.T) {
	r := newTestRouter(t)
	pair := loginPair(t, r)

	w := doJSON(r, http.MethodGet, "/api/v1/auth/verify-token", nil, map[string]string{
		"Authorization": "Bearer " + pair.AccessToken,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var envelope struct {
		Data models.IdentityResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, "mrossi", envelope.Data.Username)
	assert.Equal(t, models.RoleManager, envelope.Data.Role)
}

func TestAuthHandlerLogoutAll(t *testing.T) {
	r := newTestRouter(t)
	first := loginPair(t, r)
	second := loginPair(t, r)

	w := doJSON(r, http.MethodPost, "/api/v1/auth/logout-all", nil, map[string]string{
		"Authorization": "Bearer " + first.AccessToken,
	})
	assert.Equal(t, http.StatusNoContent, w.Code)

	for _, pair := range []models.TokenPairResponse{first, second} {
		w = doJSON(r, http.MethodPost, "/api/v1/auth/refresh-token", gin.H{"refreshToken": pair.RefreshToken}, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}
}

func TestAuthHandlerChangePasswordPolicy(t *testing.T) {
	r := newTestRouter(t)
	pair := loginPair(t, r)

	w := doJSON(r, http.MethodPut, "/api/v1/auth/change-password", gin.H{
		"currentPassword": "Corr3ct!horse",
		"newPassword":     "weak",
	}, map[string]string{"Authorization": "Bearer " + pair.AccessToken})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "PASSWORD_POLICY_VIOLATION")
	assert.Contains(t, w.Body.String(), "details")
}

func TestAuthHandlerRegister(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(r, http.MethodPost, "/api/v1/auth/register", gin.H{
		"username": "lbianchi",
		"email":    "lbianchi@rentella.test",
		"password": "Str0ng!pass",
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"role":"staff"`)
	assert.NotContains(t, w.Body.String(), "Str0ng!pass")

	// Duplicate username conflicts.
	w = doJSON(r, http.MethodPost, "/api/v1/auth/register", gin.H{
		"username": "lbianchi",
		"email":    "other@rentella.test",
		"password": "Str0ng!pass",
	}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAuthHandlerCSRFToken(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(r, http.MethodGet, "/api/v1/auth/csrf-token", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var envelope struct {
		Data models.CSRFTokenResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.NotEmpty(t, envelope.Data.CSRFToken)
	assert.True(t, envelope.Data.Expires.After(time.Now()))

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "csrf_token", cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	assert.NotEqual(t, envelope.Data.CSRFToken, cookies[0].Value, "cookie carries the signed wrapper, not the compare value")
}
