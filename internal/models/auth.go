package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Username  string `json:"username" binding:"required" validate:"required"`
	Password  string `json:"password" binding:"required" validate:"required"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// RegisterRequest holds the payload for creating a new account.
type RegisterRequest struct {
	Username string   `json:"username" binding:"required" validate:"required,min=3,max=64"`
	Email    string   `json:"email" binding:"required" validate:"required,email"`
	Password string   `json:"password" binding:"required" validate:"required"`
	Role     UserRole `json:"role" validate:"omitempty"`
}

// TokenPairResponse returns an access/refresh pair in the wire format the
// frontend expects.
type TokenPairResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// RefreshTokenRequest exchanges a refresh token for a new pair.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required" validate:"required"`
	IP           string `json:"-"`
	UserAgent    string `json:"-"`
}

// LogoutRequest revokes a single refresh token.
type LogoutRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required" validate:"required"`
}

// ChangePasswordRequest payload for updating the password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required" validate:"required"`
	NewPassword     string `json:"newPassword" binding:"required" validate:"required"`
}

// CSRFTokenResponse carries the comparison value the client must echo back
// in the X-CSRF-Token header on mutating requests.
type CSRFTokenResponse struct {
	CSRFToken string    `json:"csrfToken"`
	Expires   time.Time `json:"expires"`
}

// IdentityResponse describes the verified identity attached to a request.
type IdentityResponse struct {
	Username string   `json:"username"`
	Role     UserRole `json:"role"`
}

// AccessClaims represents the JWT payload for access tokens. The subject is
// the username.
type AccessClaims struct {
	Role UserRole `json:"role"`
	jwt.RegisteredClaims
}

// CSRFClaims wraps the random comparison value inside the signed cookie.
type CSRFClaims struct {
	CSRF string `json:"csrf"`
	jwt.RegisteredClaims
}
