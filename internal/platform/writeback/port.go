package writeback

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/kislikjeka/booksync/internal/platform/mirror"
)

// Store defines the mirror store operations needed by write-back
type Store interface {
	GetConnection(ctx context.Context, id uuid.UUID) (*mirror.Connection, error)
	GetTransaction(ctx context.Context, connID, id uuid.UUID) (*mirror.Transaction, error)
	ListSplits(ctx context.Context, txID uuid.UUID) ([]*mirror.Split, error)
	UpdateLocal(ctx context.Context, t *mirror.Transaction) error
	RecordWriteBack(ctx context.Context, connID, id uuid.UUID, versionToken string, payload json.RawMessage, vendorID string, at time.Time) error

	FindVendorByName(ctx context.Context, connID uuid.UUID, name string) (*mirror.Vendor, error)
	UpsertVendor(ctx context.Context, v *mirror.Vendor) error

	AppendAudit(ctx context.Context, e *mirror.AuditEntry) error
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
