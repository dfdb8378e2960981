package mirror

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kislikjeka/booksync/internal/platform/remote"
	"github.com/kislikjeka/booksync/pkg/money"
)

// Status is the workflow state of a mirrored transaction
type Status string

const (
	StatusUnmatched       Status = "unmatched"
	StatusPendingApproval Status = "pending_approval"
	StatusApproved        Status = "approved"
)

func (s Status) rank() int {
	switch s {
	case StatusPendingApproval:
		return 1
	case StatusApproved:
		return 2
	default:
		return 0
	}
}

// Advanced reports whether the workflow has reached pending_approval or beyond
func (s Status) Advanced() bool {
	return s.rank() >= StatusPendingApproval.rank()
}

// IsValid checks if the status is one of the known states
func (s Status) IsValid() bool {
	switch s {
	case StatusUnmatched, StatusPendingApproval, StatusApproved:
		return true
	}
	return false
}

// Source records which pipeline stage produced a suggestion
type Source string

const (
	SourceNone     Source = ""
	SourceRule     Source = "rule"
	SourceHistory  Source = "history"
	SourceProvider Source = "provider"
	SourceUser     Source = "user"
)

// Connection is one authorized remote company
type Connection struct {
	ID         uuid.UUID
	RealmID    string
	Name       string
	Tier       string
	AutoAccept bool
	LastSyncAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Remote returns the remote client address of the connection
func (c *Connection) Remote() remote.Connection {
	return remote.Connection{ID: c.ID, RealmID: c.RealmID}
}

// Account is a bank or credit-card account mirrored from the remote chart of accounts
type Account struct {
	ConnectionID uuid.UUID
	RemoteID     string
	Name         string
	Nickname     string
	AccountType  string
	Currency     string
	Balance      decimal.Decimal
	IsActive     bool
	IsConnected  bool
	UpdatedAt    time.Time
}

// DisplayName prefers the user-assigned nickname
func (a *Account) DisplayName() string {
	if a.Nickname != "" {
		return a.Nickname
	}
	return a.Name
}

// Category is a non-bank account of the remote chart of accounts
type Category struct {
	ConnectionID   uuid.UUID
	RemoteID       string
	Name           string
	AccountType    string
	Classification string
	Active         bool
	UpdatedAt      time.Time
}

// Vendor is a payee from the remote vendor list
type Vendor struct {
	ConnectionID uuid.UUID
	RemoteID     string
	Name         string
	Active       bool
	UpdatedAt    time.Time
}

// Customer is a payer from the remote customer list
type Customer struct {
	ConnectionID uuid.UUID
	RemoteID     string
	Name         string
	Active       bool
	UpdatedAt    time.Time
}

// Reasoning holds the free-text explanations attached to a suggestion
type Reasoning struct {
	Category   string `json:"category,omitempty"`
	Payee      string `json:"payee,omitempty"`
	Confidence string `json:"confidence,omitempty"`
	Context    string `json:"context,omitempty"`
}

// Transaction is the local mirror of one remote transaction-like record
type Transaction struct {
	ID           uuid.UUID
	ConnectionID uuid.UUID
	RemoteID     string
	RemoteKind   remote.Kind
	Subtype      remote.Subtype
	AccountID    string

	// Remote-owned. Refreshed only by sync or a confirmed write-back.
	Date             time.Time
	Amount           decimal.Decimal
	Currency         string
	Description      string
	Payee            string
	VersionToken     string
	Payload          json.RawMessage
	HintCategoryID   string
	HintCategoryName string
	Resolved         bool
	ResolutionReason string

	// Classification
	SuggestedCategoryID   string
	SuggestedCategoryName string
	SuggestedPayee        string
	SuggestedVendorID     string
	Reasoning             Reasoning
	Confidence            float64
	Tags                  []string
	ClassifiedBy          Source
	AutoAccept            bool

	// User-editable
	Note              string
	FinalCategoryID   string
	FinalCategoryName string
	FinalPayee        string
	VendorID          string

	Status         Status
	Excluded       bool
	ForcedReview   bool
	IsSplit        bool
	DiagnosticNote string

	ApprovedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Key is the remote identity of the record within its connection
func (t *Transaction) Key() string {
	return RecordKey(t.RemoteKind, t.RemoteID)
}

// RecordKey joins kind and id; remote ids are unique only per kind.
func RecordKey(kind remote.Kind, id string) string {
	return string(kind) + ":" + id
}

// Direction derives expense/income/transfer from amount sign and subtype
func (t *Transaction) Direction() money.Direction {
	return money.DirectionOf(t.Amount, t.Subtype == remote.SubtypeTransfer)
}

// NeedsReview reports whether the record should be surfaced in the review queue
func (t *Transaction) NeedsReview() bool {
	if t.Excluded {
		return false
	}
	return t.ForcedReview || !t.Resolved
}

// EffectiveCategory is the user's final category, falling back to the suggestion
func (t *Transaction) EffectiveCategory() (id, name string) {
	if t.FinalCategoryID != "" {
		return t.FinalCategoryID, t.FinalCategoryName
	}
	return t.SuggestedCategoryID, t.SuggestedCategoryName
}

// EffectivePayee is the user's final payee, falling back to the suggestion and then the raw payee
func (t *Transaction) EffectivePayee() string {
	for _, p := range []string{t.FinalPayee, t.SuggestedPayee, t.Payee} {
		if strings.TrimSpace(p) != "" {
			return strings.TrimSpace(p)
		}
	}
	return ""
}

// ClearSuggestion drops every classification field
func (t *Transaction) ClearSuggestion() {
	t.SuggestedCategoryID = ""
	t.SuggestedCategoryName = ""
	t.SuggestedPayee = ""
	t.SuggestedVendorID = ""
	t.Reasoning = Reasoning{}
	t.Confidence = 0
	t.Tags = nil
	t.ClassifiedBy = SourceNone
	t.AutoAccept = false
}

// Promote moves the status forward; it never moves it backwards.
func (t *Transaction) Promote(s Status) {
	if s.rank() > t.Status.rank() {
		t.Status = s
	}
}

// Split is one category line of a multi-category transaction
type Split struct {
	ID            uuid.UUID
	TransactionID uuid.UUID
	Position      int
	CategoryID    string
	CategoryName  string
	Amount        decimal.Decimal
	Description   string
	CreatedAt     time.Time
}

// RuleConditions are all required to match; a rule with no condition never matches.
type RuleConditions struct {
	DescriptionContains string
	AmountMin           *decimal.Decimal
	AmountMax           *decimal.Decimal
}

// Empty reports whether no condition is set
func (c RuleConditions) Empty() bool {
	return strings.TrimSpace(c.DescriptionContains) == "" && c.AmountMin == nil && c.AmountMax == nil
}

// RuleAction is applied when a rule matches
type RuleAction struct {
	CategoryID   string
	CategoryName string
	Tags         []string
}

// Rule is a user-authored classification rule
type Rule struct {
	ID           uuid.UUID
	ConnectionID uuid.UUID
	Name         string
	Priority     int
	Conditions   RuleConditions
	Action       RuleAction
	Enabled      bool
	CreatedAt    time.Time
}

// VendorAlias maps a description substring to a canonical vendor
type VendorAlias struct {
	ID           uuid.UUID
	ConnectionID uuid.UUID
	Match        string
	VendorID     string
	VendorName   string
	CreatedAt    time.Time
}

// Audit operations
const (
	OpSync       = "sync"
	OpPrune      = "prune"
	OpClassify   = "classify"
	OpApprove    = "approve"
	OpAttach     = "attach"
	OpReevaluate = "reevaluate"
	OpJob        = "job"
)

// Audit outcomes
const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
	OutcomeStarted = "started"
)

// AuditEntry is an append-only log line of one operation
type AuditEntry struct {
	ID           uuid.UUID
	ConnectionID uuid.UUID
	EntityKind   string
	Operation    string
	ItemCount    int
	Outcome      string
	Detail       map[string]any
	CreatedAt    time.Time
}

// NewAuditEntry fills the id and timestamp
func NewAuditEntry(connID uuid.UUID, entityKind, operation string, count int, outcome string, detail map[string]any) *AuditEntry {
	return &AuditEntry{
		ID:           uuid.New(),
		ConnectionID: connID,
		EntityKind:   entityKind,
		Operation:    operation,
		ItemCount:    count,
		Outcome:      outcome,
		Detail:       detail,
		CreatedAt:    time.Now().UTC(),
	}
}

// TransactionFilter narrows a transaction listing
type TransactionFilter struct {
	ConnectionID uuid.UUID
	Statuses     []Status
	AccountID    string
	NeedsReview  *bool
	Excluded     *bool
	IDs          []uuid.UUID
	Limit        int
	Offset       int
}

// AuditFilter narrows an audit listing
type AuditFilter struct {
	ConnectionID uuid.UUID
	Operation    string
	Since        *time.Time
	Limit        int
}
