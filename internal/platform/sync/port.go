package sync

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kislikjeka/booksync/internal/platform/mirror"
)

// Store defines the mirror store operations needed by sync
type Store interface {
	ListConnections(ctx context.Context) ([]*mirror.Connection, error)
	GetConnection(ctx context.Context, id uuid.UUID) (*mirror.Connection, error)
	TouchConnectionSync(ctx context.Context, id uuid.UUID, at time.Time) error

	UpsertAccount(ctx context.Context, a *mirror.Account) error
	ListAccounts(ctx context.Context, connID uuid.UUID) ([]*mirror.Account, error)
	MarkAccountsDisconnected(ctx context.Context, connID uuid.UUID, seen []string) (int, error)
	UpsertCategory(ctx context.Context, c *mirror.Category) error
	UpsertVendor(ctx context.Context, v *mirror.Vendor) error
	ListVendors(ctx context.Context, connID uuid.UUID) ([]*mirror.Vendor, error)
	UpsertCustomer(ctx context.Context, c *mirror.Customer) error

	UpsertSynced(ctx context.Context, incoming *mirror.Transaction) (*mirror.Transaction, error)
	PruneTransactions(ctx context.Context, connID uuid.UUID, keep []string) (int, error)

	AppendAudit(ctx context.Context, e *mirror.AuditEntry) error
}
