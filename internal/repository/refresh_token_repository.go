package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/rentella/property-auth-api/internal/models"
	appErrors "github.com/rentella/property-auth-api/pkg/errors"
)

// RefreshTokenRepository persists the refresh-token ledger. Rows store the
// SHA-256 digest of the opaque token, never the plaintext.
type RefreshTokenRepository struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewRefreshTokenRepository creates a new instance of RefreshTokenRepository.
func NewRefreshTokenRepository(db *sqlx.DB, timeout time.Duration) *RefreshTokenRepository {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RefreshTokenRepository{db: db, timeout: timeout}
}

func (r *RefreshTokenRepository) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

const refreshTokenColumns = `id, username, token_hash, expires_at, created_at, revoked, revoked_at, ip_address, user_agent`

// Create inserts a new ledger row.
func (r *RefreshTokenRepository) Create(ctx context.Context, token *models.RefreshToken) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO refresh_tokens (id, username, token_hash, expires_at, created_at, revoked, revoked_at, ip_address, user_agent) VALUES (:id, :username, :token_hash, :expires_at, :created_at, :revoked, :revoked_at, :ip_address, :user_agent)`
	if _, err := r.db.NamedExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

// FindByHash returns a ledger row by token digest.
func (r *RefreshTokenRepository) FindByHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM refresh_tokens WHERE token_hash = $1 LIMIT 1`, refreshTokenColumns)
	var rt models.RefreshToken
	if err := r.db.GetContext(ctx, &rt, query, tokenHash); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	return &rt, nil
}

// Redeem consumes the row matching tokenHash and inserts its successor in a
// single transaction. The conditional UPDATE serialises concurrent
// redemptions of the same token: exactly one caller flips the revoked flag,
// every other caller classifies against the already-consumed row and
// observes TOKEN_REVOKED. Returns the consumed row on success.
func (r *RefreshTokenRepository) Redeem(ctx context.Context, tokenHash string, now time.Time, successor *models.RefreshToken) (*models.RefreshToken, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin redeem tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	consumeQuery := fmt.Sprintf(`UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE token_hash = $1 AND revoked = FALSE AND expires_at > $2 RETURNING %s`, refreshTokenColumns)
	var consumed models.RefreshToken
	err = tx.GetContext(ctx, &consumed, consumeQuery, tokenHash, now)
	if err == sql.ErrNoRows {
		return nil, r.classifyDead(ctx, tx, tokenHash, now)
	}
	if err != nil {
		return nil, fmt.Errorf("consume refresh token: %w", err)
	}

	// The successor inherits its owner from the row just consumed; callers
	// cannot know the username before the consume step resolves.
	successor.Username = consumed.Username
	if successor.ID == "" {
		successor.ID = uuid.NewString()
	}
	if successor.CreatedAt.IsZero() {
		successor.CreatedAt = now
	}
	const insertQuery = `INSERT INTO refresh_tokens (id, username, token_hash, expires_at, created_at, revoked, revoked_at, ip_address, user_agent) VALUES (:id, :username, :token_hash, :expires_at, :created_at, :revoked, :revoked_at, :ip_address, :user_agent)`
	if _, err := tx.NamedExecContext(ctx, insertQuery, successor); err != nil {
		return nil, fmt.Errorf("insert successor token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit redeem tx: %w", err)
	}
	return &consumed, nil
}

// classifyDead explains why the conditional consume matched nothing.
func (r *RefreshTokenRepository) classifyDead(ctx context.Context, tx *sqlx.Tx, tokenHash string, now time.Time) error {
	query := fmt.Sprintf(`SELECT %s FROM refresh_tokens WHERE token_hash = $1 LIMIT 1`, refreshTokenColumns)
	var rt models.RefreshToken
	err := tx.GetContext(ctx, &rt, query, tokenHash)
	if err == sql.ErrNoRows {
		return appErrors.ErrTokenNotFound
	}
	if err != nil {
		return fmt.Errorf("classify refresh token: %w", err)
	}
	// Expiry wins over the revoked flag: a token past its expiry is never
	// redeemable and its replay carries no theft signal.
	if !now.Before(rt.ExpiresAt) {
		return appErrors.ErrTokenExpired
	}
	return appErrors.WithDetails(appErrors.ErrTokenRevoked, rt.Username)
}

// Revoke marks the row matching tokenHash revoked. Idempotent: revoking an
// unknown or already-revoked token is not an error.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, tokenHash string, revokedAt time.Time) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE token_hash = $1 AND revoked = FALSE`
	if _, err := r.db.ExecContext(ctx, query, tokenHash, revokedAt); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeAllForUser marks every live row for the username revoked.
func (r *RefreshTokenRepository) RevokeAllForUser(ctx context.Context, username string, revokedAt time.Time) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE username = $1 AND revoked = FALSE`
	if _, err := r.db.ExecContext(ctx, query, username, revokedAt); err != nil {
		return fmt.Errorf("revoke user refresh tokens: %w", err)
	}
	return nil
}

// DeleteExpired removes rows past expiry. Maintenance helper; the redeem
// path never depends on it because expired rows are unredeemable anyway.
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	const query = `DELETE FROM refresh_tokens WHERE expires_at < $1`
	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted refresh tokens: %w", err)
	}
	return n, nil
}
