package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/rentella/property-auth-api/internal/models"
	appErrors "github.com/rentella/property-auth-api/pkg/errors"
)

type authUserRepository interface {
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	UpdateLastLogin(ctx context.Context, username string, ts time.Time) error
	UpdatePassword(ctx context.Context, username, passwordHash string, updatedAt time.Time) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type refreshLedger interface {
	Create(ctx context.Context, username, ip, userAgent string) (string, error)
	Redeem(ctx context.Context, plaintext, ip, userAgent string) (*RedeemResult, error)
	Revoke(ctx context.Context, plaintext string) (string, error)
	RevokeAll(ctx context.Context, username string) error
}

type accessTokens interface {
	Issue(username string, role models.UserRole) (string, time.Time, error)
	Verify(tokenString string) (*models.AccessClaims, error)
	ExpiresIn() int64
}

// AuthService orchestrates credential verification, token issuance and the
// refresh ledger into the operations exposed to collaborators.
type AuthService struct {
	repo      authUserRepository
	ledger    refreshLedger
	tokens    accessTokens
	validator *validator.Validate
	logger    *zap.Logger
	metrics   *MetricsService
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(repo authUserRepository, ledger refreshLedger, tokens accessTokens, validate *validator.Validate, logger *zap.Logger, metrics *MetricsService) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &AuthService{repo: repo, ledger: ledger, tokens: tokens, validator: validate, logger: logger, metrics: metrics}
}

// Login authenticates a user and returns an access/refresh pair.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.TokenPairResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	user, err := s.repo.FindByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.metrics.RecordLogin(false)
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
		}
		return nil, s.storeFailure(err, "failed to fetch user")
	}

	if !user.Active {
		s.metrics.RecordLogin(false)
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		s.metrics.RecordLogin(false)
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
	}

	accessToken, _, err := s.tokens.Issue(user.Username, user.Role)
	if err != nil {
		return nil, err
	}

	refreshToken, err := s.ledger.Create(ctx, user.Username, req.IP, req.UserAgent)
	if err != nil {
		return nil, err
	}

	if err := s.repo.UpdateLastLogin(ctx, user.Username, time.Now().UTC()); err != nil {
		s.logger.Warn("failed to update last login", zap.Error(err))
	}

	s.audit(ctx, user.Username, models.AuditActionLogin, "login succeeded", req.IP, req.UserAgent)
	s.metrics.RecordLogin(true)

	return s.tokenPair(accessToken, refreshToken), nil
}

// Register creates a new account after uniqueness and policy checks.
func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}

	role := req.Role
	if role == "" {
		role = models.RoleStaff
	}
	if !role.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown role")
	}

	if violations := ValidatePassword(req.Password); len(violations) > 0 {
		return nil, appErrors.WithDetails(appErrors.ErrPasswordPolicy, violations...)
	}

	if _, err := s.repo.FindByUsername(ctx, req.Username); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "username already registered")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, s.storeFailure(err, "failed to check username")
	}

	if _, err := s.repo.FindByEmail(ctx, req.Email); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email already registered")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, s.storeFailure(err, "failed to check email")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := &models.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, s.storeFailure(err, "failed to create user")
	}

	s.audit(ctx, user.Username, models.AuditActionRegister, "account created", "", "")
	return user, nil
}

// Refresh rotates the presented refresh token and issues a new access token
// bound to the rotation's successor.
func (s *AuthService) Refresh(ctx context.Context, req models.RefreshTokenRequest) (*models.TokenPairResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid refresh payload")
	}

	result, err := s.ledger.Redeem(ctx, req.RefreshToken, req.IP, req.UserAgent)
	if err != nil {
		return nil, err
	}

	user, err := s.repo.FindByUsername(ctx, result.Username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrTokenInvalid, "associated user no longer exists")
		}
		return nil, s.storeFailure(err, "failed to load user")
	}
	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "")
	}

	accessToken, _, err := s.tokens.Issue(user.Username, user.Role)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, user.Username, models.AuditActionRefresh, "refresh token rotated", req.IP, req.UserAgent)

	return s.tokenPair(accessToken, result.RefreshToken), nil
}

// Verify validates an access token and returns the identity it asserts.
// Pure: no state transition, safe to call concurrently and repeatedly.
func (s *AuthService) Verify(tokenString string) (*models.AccessClaims, error) {
	return s.tokens.Verify(tokenString)
}

// Logout revokes the presented refresh token. Best-effort: revoking an
// already-dead token still succeeds from the client's point of view.
func (s *AuthService) Logout(ctx context.Context, refreshToken, ip, userAgent string) error {
	username, err := s.ledger.Revoke(ctx, refreshToken)
	if err != nil {
		return err
	}
	s.audit(ctx, username, models.AuditActionLogout, "session revoked", ip, userAgent)
	return nil
}

// LogoutAll revokes every outstanding refresh token for the username.
func (s *AuthService) LogoutAll(ctx context.Context, username, ip, userAgent string) error {
	if err := s.ledger.RevokeAll(ctx, username); err != nil {
		return err
	}
	s.audit(ctx, username, models.AuditActionLogoutAll, "all sessions revoked", ip, userAgent)
	return nil
}

// ChangePassword verifies the current credential, enforces the password
// policy, persists the new hash and unconditionally revokes every
// outstanding refresh token for the user.
func (s *AuthService) ChangePassword(ctx context.Context, username string, req models.ChangePasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid change password payload")
	}

	user, err := s.repo.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return s.storeFailure(err, "failed to load user")
	}
	if !user.Active {
		return appErrors.Clone(appErrors.ErrInactiveAccount, "")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.CurrentPassword)); err != nil {
		return appErrors.Clone(appErrors.ErrInvalidCredentials, "current password does not match")
	}

	if violations := ValidatePassword(req.NewPassword); len(violations) > 0 {
		return appErrors.WithDetails(appErrors.ErrPasswordPolicy, violations...)
	}

	newHash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	if err := s.repo.UpdatePassword(ctx, username, string(newHash), time.Now().UTC()); err != nil {
		return s.storeFailure(err, "failed to update password")
	}

	if err := s.ledger.RevokeAll(ctx, username); err != nil {
		s.logger.Warn("failed to revoke refresh tokens after password change", zap.Error(err))
	}

	s.audit(ctx, username, models.AuditActionPasswordChange, "password changed", "", "")
	return nil
}

func (s *AuthService) tokenPair(accessToken, refreshToken string) *models.TokenPairResponse {
	return &models.TokenPairResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		ExpiresIn:    s.tokens.ExpiresIn(),
	}
}

func (s *AuthService) audit(ctx context.Context, username string, action models.AuditAction, detail, ip, userAgent string) {
	entry := &models.AuditLog{
		Username:  username,
		Action:    action,
		Detail:    detail,
		IPAddress: ip,
		UserAgent: userAgent,
	}
	if err := s.repo.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", string(action)), zap.Error(err))
	}
}

func (s *AuthService) storeFailure(err error, message string) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return appErrors.Wrap(err, appErrors.ErrBackendUnavailable.Code, appErrors.ErrBackendUnavailable.Status, message)
}
