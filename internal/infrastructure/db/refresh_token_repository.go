package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/bmstu-itstech/bitbattle/internal/domain"
	"github.com/bmstu-itstech/bitbattle/pkg/errors"
	"github.com/google/uuid"
)

// RefreshTokenRepository tracks issued refresh tokens for rotation/revocation bookkeeping.
// The blacklist itself lives in Redis (cache.TokenBlacklistCache); this table is the
// durable audit trail of which tokens were ever issued to which user.
type RefreshTokenRepository struct {
	db *DB
}

// NewRefreshTokenRepository создаёт новый репозиторий refresh токенов
func NewRefreshTokenRepository(db *DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

// Create records a newly issued refresh token.
func (r *RefreshTokenRepository) Create(ctx context.Context, token *domain.RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (token_id, user_id, expires_at)
		VALUES ($1, $2, $3)
	`
	_, err := r.db.ExecWithMetrics(ctx, "refresh_token_create", query, token.TokenID, token.UserID, token.ExpiresAt)
	if err != nil {
		return errors.Wrap(err, "failed to record refresh token")
	}
	return nil
}

// Revoke marks a refresh token as revoked, e.g. on rotation or logout.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, tokenID uuid.UUID) error {
	query := `UPDATE refresh_tokens SET revoked_at = $2 WHERE token_id = $1 AND revoked_at IS NULL`
	_, err := r.db.ExecWithMetrics(ctx, "refresh_token_revoke", query, tokenID, time.Now())
	if err != nil {
		return errors.Wrap(err, "failed to revoke refresh token")
	}
	return nil
}

// IsRevoked reports whether a refresh token has been revoked.
func (r *RefreshTokenRepository) IsRevoked(ctx context.Context, tokenID uuid.UUID) (bool, error) {
	var revokedAt sql.NullTime
	query := `SELECT revoked_at FROM refresh_tokens WHERE token_id = $1`
	err := r.db.QueryRowContext(ctx, query, tokenID).Scan(&revokedAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "failed to check refresh token revocation")
	}
	return revokedAt.Valid, nil
}
