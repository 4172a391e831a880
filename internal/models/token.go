package models

import "time"

// RefreshToken represents one outstanding session grant. Only the SHA-256
// digest of the opaque token is stored; the plaintext is returned to the
// client exactly once at creation.
type RefreshToken struct {
	ID        string     `db:"id" json:"id"`
	Username  string     `db:"username" json:"username"`
	TokenHash string     `db:"token_hash" json:"-"`
	ExpiresAt time.Time  `db:"expires_at" json:"expiresAt"`
	CreatedAt time.Time  `db:"created_at" json:"createdAt"`
	Revoked   bool       `db:"revoked" json:"revoked"`
	RevokedAt *time.Time `db:"revoked_at" json:"revokedAt,omitempty"`
	IPAddress string     `db:"ip_address" json:"-"`
	UserAgent string     `db:"user_agent" json:"-"`
}

// Live reports whether the row can still be redeemed at the given instant.
func (t *RefreshToken) Live(now time.Time) bool {
	return t != nil && !t.Revoked && now.Before(t.ExpiresAt)
}
