package jobs

import (
	"context"

	"github.com/google/uuid"

	"github.com/kislikjeka/booksync/internal/platform/classify"
	"github.com/kislikjeka/booksync/internal/platform/mirror"
	pkgsync "github.com/kislikjeka/booksync/internal/platform/sync"
	"github.com/kislikjeka/booksync/internal/platform/writeback"
)

// Syncer runs one sync pass
type Syncer interface {
	SyncConnection(ctx context.Context, connID uuid.UUID) (*pkgsync.Report, error)
}

// Classifier runs the classification pipeline
type Classifier interface {
	Classify(ctx context.Context, req classify.Request) *classify.Report
}

// Approver writes approvals back to the remote system
type Approver interface {
	BulkApprove(ctx context.Context, connID uuid.UUID, ids []uuid.UUID) *writeback.BulkReport
}

// Store defines the mirror store operations needed by the dispatcher
type Store interface {
	GetConnection(ctx context.Context, id uuid.UUID) (*mirror.Connection, error)
	AppendAudit(ctx context.Context, e *mirror.AuditEntry) error
}
