package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/rentella/property-auth-api/internal/models"
	appErrors "github.com/rentella/property-auth-api/pkg/errors"
)

// refreshTokenStore abstracts persistence for the refresh-token ledger.
type refreshTokenStore interface {
	Create(ctx context.Context, token *models.RefreshToken) error
	FindByHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error)
	Redeem(ctx context.Context, tokenHash string, now time.Time, successor *models.RefreshToken) (*models.RefreshToken, error)
	Revoke(ctx context.Context, tokenHash string, revokedAt time.Time) error
	RevokeAllForUser(ctx context.Context, username string, revokedAt time.Time) error
}

// LedgerConfig defines lifetimes for refresh tokens.
type LedgerConfig struct {
	Expiry time.Duration
}

// LedgerService manages the long-lived opaque refresh tokens: creation,
// mandatory rotation on redemption, revocation, and theft containment when a
// consumed token is replayed.
type LedgerService struct {
	store   refreshTokenStore
	logger  *zap.Logger
	metrics *MetricsService
	config  LedgerConfig
	now     func() time.Time
}

// NewLedgerService constructs a LedgerService instance.
func NewLedgerService(store refreshTokenStore, logger *zap.Logger, metrics *MetricsService, config LedgerConfig) *LedgerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Expiry <= 0 {
		config.Expiry = 720 * time.Hour
	}
	return &LedgerService{store: store, logger: logger, metrics: metrics, config: config, now: func() time.Time { return time.Now().UTC() }}
}

// RedeemResult carries the outcome of a successful rotation.
type RedeemResult struct {
	Username     string
	RefreshToken string
}

// Create mints a new opaque token for the username, persists its digest and
// returns the plaintext. The plaintext is never retrievable again.
func (s *LedgerService) Create(ctx context.Context, username, ip, userAgent string) (string, error) {
	plaintext, err := generateOpaqueToken()
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate refresh token")
	}

	row := &models.RefreshToken{
		Username:  username,
		TokenHash: hashToken(plaintext),
		ExpiresAt: s.now().Add(s.config.Expiry),
		CreatedAt: s.now(),
		IPAddress: ip,
		UserAgent: userAgent,
	}
	if err := s.withRetry(ctx, func() error { return s.store.Create(ctx, row) }); err != nil {
		return "", s.storeFailure(err, "failed to persist refresh token")
	}
	return plaintext, nil
}

// Redeem rotates the presented token: the consumed row is revoked and a
// successor inserted in one atomic step. Replay of an already-consumed token
// is treated as a theft signal and revokes every remaining live token for
// the owning username.
func (s *LedgerService) Redeem(ctx context.Context, plaintext, ip, userAgent string) (*RedeemResult, error) {
	successorPlain, err := generateOpaqueToken()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate refresh token")
	}

	now := s.now()
	successor := &models.RefreshToken{
		TokenHash: hashToken(successorPlain),
		ExpiresAt: now.Add(s.config.Expiry),
		CreatedAt: now,
		IPAddress: ip,
		UserAgent: userAgent,
	}

	var consumed *models.RefreshToken
	err = s.withRetry(ctx, func() error {
		var redeemErr error
		consumed, redeemErr = s.store.Redeem(ctx, hashToken(plaintext), now, s.cloneSuccessor(successor))
		return redeemErr
	})
	if err != nil {
		if appErrors.Is(err, appErrors.ErrTokenRevoked) {
			s.containReplay(ctx, err, now)
			return nil, appErrors.Clone(appErrors.ErrTokenRevoked, "")
		}
		if appErrors.Is(err, appErrors.ErrTokenNotFound) || appErrors.Is(err, appErrors.ErrTokenExpired) {
			return nil, err
		}
		return nil, s.storeFailure(err, "failed to redeem refresh token")
	}

	if s.metrics != nil {
		s.metrics.RecordTokenRotation()
	}
	return &RedeemResult{Username: consumed.Username, RefreshToken: successorPlain}, nil
}

// cloneSuccessor gives each redeem attempt its own row, so a retried
// transaction cannot observe a half-filled ID from the failed attempt.
func (s *LedgerService) cloneSuccessor(successor *models.RefreshToken) *models.RefreshToken {
	clone := *successor
	return &clone
}

// containReplay revokes every live token for the username riding on the
// replayed row. The username travels in the error details so the cascade
// needs no extra lookup.
func (s *LedgerService) containReplay(ctx context.Context, err error, now time.Time) {
	appErr := appErrors.FromError(err)
	if len(appErr.Details) == 0 || appErr.Details[0] == "" {
		return
	}
	username := appErr.Details[0]
	s.logger.Warn("refresh token replay detected, revoking all sessions",
		zap.String("username", username))
	if s.metrics != nil {
		s.metrics.RecordReuseDetected()
	}
	if revokeErr := s.store.RevokeAllForUser(ctx, username, now); revokeErr != nil {
		s.logger.Error("failed to contain refresh token replay", zap.Error(revokeErr))
	}
}

// Revoke marks the presented token revoked and returns the username it
// belonged to. Idempotent: an unknown token yields an empty username, not an
// error.
func (s *LedgerService) Revoke(ctx context.Context, plaintext string) (string, error) {
	hash := hashToken(plaintext)

	var username string
	err := s.withRetry(ctx, func() error {
		rt, findErr := s.store.FindByHash(ctx, hash)
		if findErr != nil {
			return findErr
		}
		username = rt.Username
		return s.store.Revoke(ctx, hash, s.now())
	})
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", s.storeFailure(err, "failed to revoke refresh token")
	}
	return username, nil
}

// RevokeAll marks every live token for the username revoked.
func (s *LedgerService) RevokeAll(ctx context.Context, username string) error {
	err := s.withRetry(ctx, func() error { return s.store.RevokeAllForUser(ctx, username, s.now()) })
	if err != nil {
		return s.storeFailure(err, "failed to revoke user refresh tokens")
	}
	return nil
}

// withRetry runs op and retries exactly once when the failure looks like a
// store outage rather than a ledger verdict.
func (s *LedgerService) withRetry(ctx context.Context, op func() error) error {
	err := op()
	if err == nil || !s.retryable(err) {
		return err
	}
	s.logger.Warn("ledger store call failed, retrying once", zap.Error(err))
	return op()
}

func (s *LedgerService) retryable(err error) bool {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return false
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false
	}
	return true
}

func (s *LedgerService) storeFailure(err error, message string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.ErrTokenNotFound
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return appErrors.Wrap(err, appErrors.ErrBackendUnavailable.Code, appErrors.ErrBackendUnavailable.Status, message)
}

func generateOpaqueToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}
