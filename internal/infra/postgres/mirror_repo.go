package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kislikjeka/booksync/internal/platform/mirror"
)

// MirrorRepository implements mirror.Repository using PostgreSQL
type MirrorRepository struct {
	txManager
}

var _ mirror.Repository = (*MirrorRepository)(nil)

// NewMirrorRepository creates a new PostgreSQL mirror repository
func NewMirrorRepository(pool *pgxpool.Pool) *MirrorRepository {
	return &MirrorRepository{txManager: txManager{pool: pool}}
}
