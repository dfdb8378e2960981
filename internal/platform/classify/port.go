package classify

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kislikjeka/booksync/internal/platform/mirror"
)

// Store defines the mirror store operations needed by classification
type Store interface {
	GetConnection(ctx context.Context, id uuid.UUID) (*mirror.Connection, error)
	GetTransaction(ctx context.Context, connID, id uuid.UUID) (*mirror.Transaction, error)
	ListTransactions(ctx context.Context, f mirror.TransactionFilter) ([]*mirror.Transaction, error)
	UpdateLocal(ctx context.Context, t *mirror.Transaction) error
	ReplaceSplits(ctx context.Context, txID uuid.UUID, splits []*mirror.Split) error
	ApprovedHistory(ctx context.Context, connID uuid.UUID, limit int) ([]*mirror.Transaction, error)

	ListRules(ctx context.Context, connID uuid.UUID) ([]*mirror.Rule, error)
	ListAliases(ctx context.Context, connID uuid.UUID) ([]*mirror.VendorAlias, error)
	ListCategories(ctx context.Context, connID uuid.UUID) ([]*mirror.Category, error)
	ListVendors(ctx context.Context, connID uuid.UUID) ([]*mirror.Vendor, error)
	ListCustomers(ctx context.Context, connID uuid.UUID) ([]*mirror.Customer, error)

	AppendAudit(ctx context.Context, e *mirror.AuditEntry) error
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Meter is the metered classification allowance. One unit is one record.
type Meter interface {
	HasSufficientBalance(ctx context.Context, accountID string, cost int) (bool, error)
	Deduct(ctx context.Context, accountID string, cost int, reason string) error
	GetBalance(ctx context.Context, accountID string) (int, error)
}

// Provider is the generative classification port. Suggestions are keyed by
// TransactionSummary.ID; ids missing from the result got no suggestion.
type Provider interface {
	Classify(ctx context.Context, req BatchRequest) ([]Suggestion, error)
}

// TransactionSummary is what the provider sees of one record
type TransactionSummary struct {
	ID              string          `json:"id"`
	Direction       string          `json:"direction"`
	Subtype         string          `json:"subtype"`
	Description     string          `json:"description"`
	Payee           string          `json:"payee,omitempty"`
	Account         string          `json:"account"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Note            string          `json:"note,omitempty"`
	CurrentCategory string          `json:"current_category,omitempty"`
}

// HistoryPair is one approved description -> category precedent
type HistoryPair struct {
	Description string `json:"description"`
	Category    string `json:"category"`
}

// BatchRequest is one provider call
type BatchRequest struct {
	Transactions []TransactionSummary
	Categories   []string
	History      []HistoryPair
	Vocabulary   []string
}

// SuggestedSplit is one line of a provider-proposed split
type SuggestedSplit struct {
	Category    string          `json:"category"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

// Suggestion is the provider answer for one record
type Suggestion struct {
	ID         string           `json:"id"`
	Category   string           `json:"category"`
	Reasoning  mirror.Reasoning `json:"reasoning"`
	Payee      string           `json:"payee"`
	Confidence float64          `json:"confidence"`
	Tags       []string         `json:"tags"`
	Splits     []SuggestedSplit `json:"splits,omitempty"`
}
