package mirror

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ConnectionRepository stores remote connections
type ConnectionRepository interface {
	// CreateConnection registers a connection; an existing realm is updated in place
	// and keeps its id.
	CreateConnection(ctx context.Context, c *Connection) error
	DeleteConnection(ctx context.Context, id uuid.UUID) error
	GetConnection(ctx context.Context, id uuid.UUID) (*Connection, error)
	ListConnections(ctx context.Context) ([]*Connection, error)
	TouchConnectionSync(ctx context.Context, id uuid.UUID, at time.Time) error
}

// ReferenceRepository stores sync-owned reference data
type ReferenceRepository interface {
	// UpsertAccount inserts or refreshes an account. New accounts keep the
	// given IsActive value; existing accounts keep their stored IsActive and Nickname.
	UpsertAccount(ctx context.Context, a *Account) error
	GetAccount(ctx context.Context, connID uuid.UUID, remoteID string) (*Account, error)
	ListAccounts(ctx context.Context, connID uuid.UUID) ([]*Account, error)
	// MarkAccountsDisconnected flags every account whose remote id is not in seen.
	MarkAccountsDisconnected(ctx context.Context, connID uuid.UUID, seen []string) (int, error)
	SetAccountActive(ctx context.Context, connID uuid.UUID, remoteID string, active bool) error

	UpsertCategory(ctx context.Context, c *Category) error
	ListCategories(ctx context.Context, connID uuid.UUID) ([]*Category, error)

	UpsertVendor(ctx context.Context, v *Vendor) error
	ListVendors(ctx context.Context, connID uuid.UUID) ([]*Vendor, error)
	// FindVendorByName matches case-insensitively; nil, nil when absent.
	FindVendorByName(ctx context.Context, connID uuid.UUID, name string) (*Vendor, error)

	UpsertCustomer(ctx context.Context, c *Customer) error
	ListCustomers(ctx context.Context, connID uuid.UUID) ([]*Customer, error)
}

// TransactionRepository stores mirrored transactions and their splits
type TransactionRepository interface {
	// UpsertSynced merges a freshly synced record into the stored one with
	// MergeSynced, under a row lock, and returns the stored result.
	UpsertSynced(ctx context.Context, incoming *Transaction) (*Transaction, error)
	GetTransaction(ctx context.Context, connID, id uuid.UUID) (*Transaction, error)
	ListTransactions(ctx context.Context, f TransactionFilter) ([]*Transaction, error)

	// UpdateLocal writes classification, user and workflow fields only.
	UpdateLocal(ctx context.Context, t *Transaction) error

	// RecordWriteBack stores the version token and payload confirmed by the
	// remote system and marks the record approved.
	RecordWriteBack(ctx context.Context, connID, id uuid.UUID, versionToken string, payload json.RawMessage, vendorID string, at time.Time) error

	// UpdateResolution refreshes the evaluator output for one record
	UpdateResolution(ctx context.Context, connID, id uuid.UUID, resolved bool, reason string) error

	// PruneTransactions deletes every record of the connection whose key is not in keep
	PruneTransactions(ctx context.Context, connID uuid.UUID, keep []string) (int, error)

	// ApprovedHistory returns approved records, most recently approved first
	ApprovedHistory(ctx context.Context, connID uuid.UUID, limit int) ([]*Transaction, error)

	ListSplits(ctx context.Context, txID uuid.UUID) ([]*Split, error)
	// ReplaceSplits deletes the current split set and inserts splits
	ReplaceSplits(ctx context.Context, txID uuid.UUID, splits []*Split) error
}

// RuleRepository stores classification rules and vendor aliases
type RuleRepository interface {
	// ListRules returns enabled rules, highest priority first
	ListRules(ctx context.Context, connID uuid.UUID) ([]*Rule, error)
	CreateRule(ctx context.Context, r *Rule) error
	DeleteRule(ctx context.Context, connID, id uuid.UUID) error

	ListAliases(ctx context.Context, connID uuid.UUID) ([]*VendorAlias, error)
	CreateAlias(ctx context.Context, a *VendorAlias) error
}

// AuditRepository is the append-only operation log
type AuditRepository interface {
	AppendAudit(ctx context.Context, e *AuditEntry) error
	ListAudit(ctx context.Context, f AuditFilter) ([]*AuditEntry, error)
}

// Repository is the full mirror store
type Repository interface {
	ConnectionRepository
	ReferenceRepository
	TransactionRepository
	RuleRepository
	AuditRepository

	// WithinTx runs fn in one store transaction carried by the context
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
