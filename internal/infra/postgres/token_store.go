package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kislikjeka/booksync/internal/infra/gateway/quickbooks"
	"github.com/kislikjeka/booksync/internal/platform/mirror"
	"github.com/kislikjeka/booksync/pkg/secret"
)

// TokenStore keeps OAuth token pairs on the connection row, sealed at rest
type TokenStore struct {
	pool *pgxpool.Pool
	box  *secret.Box
}

var _ quickbooks.TokenStore = (*TokenStore)(nil)

// NewTokenStore creates a token store sealing values with box
func NewTokenStore(pool *pgxpool.Pool, box *secret.Box) *TokenStore {
	return &TokenStore{pool: pool, box: box}
}

// GetTokens opens the stored pair of a connection
func (s *TokenStore) GetTokens(ctx context.Context, connID uuid.UUID) (*quickbooks.Tokens, error) {
	query := `SELECT access_token, refresh_token, token_expires_at FROM connections WHERE id = $1`

	var access, refresh *string
	var expiresAt *time.Time
	err := s.pool.QueryRow(ctx, query, connID).Scan(&access, &refresh, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, mirror.ErrConnectionNotFound
		}
		return nil, fmt.Errorf("failed to get tokens: %w", err)
	}
	if refresh == nil || *refresh == "" {
		return nil, quickbooks.ErrNoTokens
	}

	t := &quickbooks.Tokens{}
	if t.RefreshToken, err = s.box.Open(*refresh); err != nil {
		return nil, fmt.Errorf("failed to open refresh token: %w", err)
	}
	if access != nil && *access != "" {
		if t.AccessToken, err = s.box.Open(*access); err != nil {
			return nil, fmt.Errorf("failed to open access token: %w", err)
		}
	}
	if expiresAt != nil {
		t.ExpiresAt = *expiresAt
	}
	return t, nil
}

// SaveTokens seals and stores a pair
func (s *TokenStore) SaveTokens(ctx context.Context, connID uuid.UUID, t *quickbooks.Tokens) error {
	access, err := s.box.Seal(t.AccessToken)
	if err != nil {
		return err
	}
	refresh, err := s.box.Seal(t.RefreshToken)
	if err != nil {
		return err
	}

	query := `
		UPDATE connections
		SET access_token = $2, refresh_token = $3, token_expires_at = $4, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := s.pool.Exec(ctx, query, connID, access, refresh, t.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to save tokens: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return mirror.ErrConnectionNotFound
	}
	return nil
}
