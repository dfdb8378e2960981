package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kislikjeka/booksync/internal/platform/mirror"
)

const connectionColumns = `id, realm_id, name, tier, auto_accept, last_sync_at, created_at, updated_at`

// CreateConnection registers an authorized remote company
func (r *MirrorRepository) CreateConnection(ctx context.Context, c *mirror.Connection) error {
	query := `
		INSERT INTO connections (id, realm_id, name, tier, auto_accept, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (realm_id) DO UPDATE SET
			name = EXCLUDED.name,
			tier = EXCLUDED.tier,
			auto_accept = EXCLUDED.auto_accept,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`

	now := time.Now().UTC()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CreatedAt = now
	c.UpdatedAt = now

	err := r.getQueryer(ctx).QueryRow(ctx, query,
		c.ID, c.RealmID, c.Name, c.Tier, c.AutoAccept, c.CreatedAt, c.UpdatedAt,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create connection: %w", err)
	}
	return nil
}

// DeleteConnection removes a connection and, by cascade, everything mirrored for it
func (r *MirrorRepository) DeleteConnection(ctx context.Context, id uuid.UUID) error {
	tag, err := r.getQueryer(ctx).Exec(ctx, `DELETE FROM connections WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return mirror.ErrConnectionNotFound
	}
	return nil
}

// GetConnection retrieves a connection by ID
func (r *MirrorRepository) GetConnection(ctx context.Context, id uuid.UUID) (*mirror.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE id = $1`

	c, err := scanConnection(r.getQueryer(ctx).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, mirror.ErrConnectionNotFound
		}
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return c, nil
}

// ListConnections returns every connection ordered by name
func (r *MirrorRepository) ListConnections(ctx context.Context) ([]*mirror.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections ORDER BY name, id`

	rows, err := r.getQueryer(ctx).Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	var out []*mirror.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// TouchConnectionSync records the time of the last finished sync pass
func (r *MirrorRepository) TouchConnectionSync(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.getQueryer(ctx).Exec(ctx,
		`UPDATE connections SET last_sync_at = $2, updated_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to update connection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return mirror.ErrConnectionNotFound
	}
	return nil
}

func scanConnection(row pgx.Row) (*mirror.Connection, error) {
	var c mirror.Connection
	err := row.Scan(
		&c.ID,
		&c.RealmID,
		&c.Name,
		&c.Tier,
		&c.AutoAccept,
		&c.LastSyncAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
