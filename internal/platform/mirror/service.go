package mirror

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kislikjeka/booksync/internal/platform/resolution"
	"github.com/kislikjeka/booksync/pkg/logger"
	"github.com/kislikjeka/booksync/pkg/money"
)

const reevaluatePage = 500

// Service is the read/edit surface over the mirror store
type Service struct {
	repo   Repository
	logger *logger.Logger
}

// NewService creates a new mirror service
func NewService(repo Repository, log *logger.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: log.WithField("component", "mirror"),
	}
}

// GetConnection returns a connection by id
func (s *Service) GetConnection(ctx context.Context, id uuid.UUID) (*Connection, error) {
	return s.repo.GetConnection(ctx, id)
}

// ListConnections lists every registered connection
func (s *Service) ListConnections(ctx context.Context) ([]*Connection, error) {
	return s.repo.ListConnections(ctx)
}

// RegisterConnection creates a connection or refreshes the one with the same realm
func (s *Service) RegisterConnection(ctx context.Context, c *Connection) error {
	c.RealmID = strings.TrimSpace(c.RealmID)
	c.Name = strings.TrimSpace(c.Name)
	if c.RealmID == "" {
		return ErrInvalidConnection
	}
	if err := s.repo.CreateConnection(ctx, c); err != nil {
		return err
	}
	s.logger.WithContext(ctx).Info("connection registered", "connection_id", c.ID, "realm_id", c.RealmID)
	return nil
}

// DeleteConnection removes a connection with everything mirrored for it
func (s *Service) DeleteConnection(ctx context.Context, id uuid.UUID) error {
	return s.repo.DeleteConnection(ctx, id)
}

// ListTransactions lists mirrored transactions of a connection
func (s *Service) ListTransactions(ctx context.Context, f TransactionFilter) ([]*Transaction, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	return s.repo.ListTransactions(ctx, f)
}

// GetTransaction returns one transaction with its splits
func (s *Service) GetTransaction(ctx context.Context, connID, id uuid.UUID) (*Transaction, []*Split, error) {
	tx, err := s.repo.GetTransaction(ctx, connID, id)
	if err != nil {
		return nil, nil, err
	}
	splits, err := s.repo.ListSplits(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list splits: %w", err)
	}
	return tx, splits, nil
}

// SetExcluded suppresses or restores a record in review queues
func (s *Service) SetExcluded(ctx context.Context, connID, id uuid.UUID, excluded bool) (*Transaction, error) {
	return s.mutate(ctx, connID, id, func(t *Transaction) error {
		t.Excluded = excluded
		return nil
	})
}

// ForceReview puts a record back in review regardless of its resolved flag
func (s *Service) ForceReview(ctx context.Context, connID, id uuid.UUID, forced bool) (*Transaction, error) {
	return s.mutate(ctx, connID, id, func(t *Transaction) error {
		t.ForcedReview = forced
		return nil
	})
}

// Edit holds user changes to a transaction; nil fields are left as they are
type Edit struct {
	Note       *string
	CategoryID *string
	Payee      *string
	Tags       []string
}

// EditTransaction applies user edits. Choosing a category moves the record to pending_approval.
func (s *Service) EditTransaction(ctx context.Context, connID, id uuid.UUID, e Edit) (*Transaction, error) {
	var category *Category
	if e.CategoryID != nil && *e.CategoryID != "" {
		c, err := s.findCategory(ctx, connID, *e.CategoryID, "")
		if err != nil {
			return nil, err
		}
		category = c
	}

	return s.mutate(ctx, connID, id, func(t *Transaction) error {
		if e.Note != nil {
			t.Note = strings.TrimSpace(*e.Note)
		}
		if e.Payee != nil {
			t.FinalPayee = strings.TrimSpace(*e.Payee)
			t.VendorID = ""
		}
		if e.Tags != nil {
			t.Tags = normalizeTags(e.Tags)
		}
		if e.CategoryID != nil {
			if category == nil {
				t.FinalCategoryID, t.FinalCategoryName = "", ""
			} else {
				t.FinalCategoryID, t.FinalCategoryName = category.RemoteID, category.Name
				t.Promote(StatusPendingApproval)
			}
		}
		return nil
	})
}

// SplitInput is one requested split line. Amounts may be given as magnitudes;
// they are stored with the sign of the parent amount.
type SplitInput struct {
	CategoryID   string
	CategoryName string
	Amount       decimal.Decimal
	Description  string
}

// SplitTransaction replaces the split set of a record. The split amounts must add
// up to the transaction amount within money.SplitTolerance. An empty set removes the split.
func (s *Service) SplitTransaction(ctx context.Context, connID, id uuid.UUID, inputs []SplitInput) (*Transaction, []*Split, error) {
	tx, err := s.repo.GetTransaction(ctx, connID, id)
	if err != nil {
		return nil, nil, err
	}

	cats, err := s.repo.ListCategories(ctx, connID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list categories: %w", err)
	}

	splits, err := BuildSplits(tx, inputs, cats)
	if err != nil {
		return nil, nil, err
	}

	err = s.repo.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.ReplaceSplits(ctx, id, splits); err != nil {
			return fmt.Errorf("failed to replace splits: %w", err)
		}
		tx.IsSplit = len(splits) > 0
		if tx.IsSplit {
			tx.Promote(StatusPendingApproval)
		}
		tx.UpdatedAt = time.Now().UTC()
		return s.repo.UpdateLocal(ctx, tx)
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.WithContext(ctx).Info("transaction split updated",
		"transaction_id", id,
		"splits", len(splits))
	return tx, splits, nil
}

// BuildSplits validates split inputs against the parent and the live category list.
func BuildSplits(parent *Transaction, inputs []SplitInput, cats []*Category) ([]*Split, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	byID := make(map[string]*Category, len(cats))
	byName := make(map[string]*Category, len(cats))
	for _, c := range cats {
		byID[c.RemoteID] = c
		byName[strings.ToLower(c.Name)] = c
	}

	now := time.Now().UTC()
	splits := make([]*Split, 0, len(inputs))
	amounts := make([]decimal.Decimal, 0, len(inputs))
	for i, in := range inputs {
		if in.Amount.IsZero() {
			return nil, ErrInvalidSplit
		}
		cat := byID[in.CategoryID]
		if cat == nil && in.CategoryID == "" {
			cat = byName[strings.ToLower(strings.TrimSpace(in.CategoryName))]
		}
		if cat == nil {
			return nil, fmt.Errorf("%w: split %d category %q", ErrUnresolvedCategory, i+1, firstNonEmpty(in.CategoryID, in.CategoryName))
		}

		amount := in.Amount.Abs()
		if parent.Amount.IsNegative() {
			amount = amount.Neg()
		}
		amounts = append(amounts, amount)
		splits = append(splits, &Split{
			ID:            uuid.New(),
			TransactionID: parent.ID,
			Position:      i,
			CategoryID:    cat.RemoteID,
			CategoryName:  cat.Name,
			Amount:        amount,
			Description:   strings.TrimSpace(in.Description),
			CreatedAt:     now,
		})
	}

	if !money.WithinTolerance(money.Sum(amounts...), parent.Amount) {
		return nil, fmt.Errorf("%w: splits total %s, transaction %s",
			ErrSplitSumMismatch, money.Sum(amounts...).StringFixed(2), parent.Amount.StringFixed(2))
	}
	return splits, nil
}

// ListAccounts lists mirrored bank and credit-card accounts
func (s *Service) ListAccounts(ctx context.Context, connID uuid.UUID) ([]*Account, error) {
	return s.repo.ListAccounts(ctx, connID)
}

// SetAccountActive opts an account in or out of transaction sync
func (s *Service) SetAccountActive(ctx context.Context, connID uuid.UUID, remoteID string, active bool) (*Account, error) {
	if _, err := s.repo.GetAccount(ctx, connID, remoteID); err != nil {
		return nil, err
	}
	if err := s.repo.SetAccountActive(ctx, connID, remoteID, active); err != nil {
		return nil, fmt.Errorf("failed to update account: %w", err)
	}
	return s.repo.GetAccount(ctx, connID, remoteID)
}

// ListCategories lists the mirrored chart-of-accounts categories
func (s *Service) ListCategories(ctx context.Context, connID uuid.UUID) ([]*Category, error) {
	return s.repo.ListCategories(ctx, connID)
}

// ListAudit lists audit entries, newest first
func (s *Service) ListAudit(ctx context.Context, f AuditFilter) ([]*AuditEntry, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	return s.repo.ListAudit(ctx, f)
}

// CreateRule validates and stores a classification rule
func (s *Service) CreateRule(ctx context.Context, r *Rule) error {
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" || r.Conditions.Empty() {
		return ErrInvalidRule
	}
	if r.Action.CategoryID == "" && r.Action.CategoryName == "" && len(r.Action.Tags) == 0 {
		return ErrInvalidRule
	}
	if r.Action.CategoryID != "" || r.Action.CategoryName != "" {
		c, err := s.findCategory(ctx, r.ConnectionID, r.Action.CategoryID, r.Action.CategoryName)
		if err != nil {
			return err
		}
		r.Action.CategoryID, r.Action.CategoryName = c.RemoteID, c.Name
	}
	r.Action.Tags = normalizeTags(r.Action.Tags)
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	r.Enabled = true
	return s.repo.CreateRule(ctx, r)
}

// ListRules lists the enabled rules of a connection, highest priority first
func (s *Service) ListRules(ctx context.Context, connID uuid.UUID) ([]*Rule, error) {
	return s.repo.ListRules(ctx, connID)
}

// DeleteRule removes a rule
func (s *Service) DeleteRule(ctx context.Context, connID, id uuid.UUID) error {
	return s.repo.DeleteRule(ctx, connID, id)
}

// ListAliases lists the vendor aliases of a connection
func (s *Service) ListAliases(ctx context.Context, connID uuid.UUID) ([]*VendorAlias, error) {
	return s.repo.ListAliases(ctx, connID)
}

// CreateAlias validates and stores a vendor alias
func (s *Service) CreateAlias(ctx context.Context, a *VendorAlias) error {
	a.Match = strings.TrimSpace(a.Match)
	if a.Match == "" || (a.VendorID == "" && a.VendorName == "") {
		return ErrInvalidAlias
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	return s.repo.CreateAlias(ctx, a)
}

// ReevaluateReport summarizes a remediation pass
type ReevaluateReport struct {
	Checked int `json:"checked"`
	Changed int `json:"changed"`
	Failed  int `json:"failed"`
}

// Reevaluate re-runs the resolution evaluator over stored payloads and updates
// records whose decision changed.
func (s *Service) Reevaluate(ctx context.Context, connID uuid.UUID) (*ReevaluateReport, error) {
	log := s.logger.WithContext(ctx).WithField("connection_id", connID)
	start := time.Now()
	report := &ReevaluateReport{}

	for offset := 0; ; offset += reevaluatePage {
		page, err := s.repo.ListTransactions(ctx, TransactionFilter{
			ConnectionID: connID,
			Limit:        reevaluatePage,
			Offset:       offset,
		})
		if err != nil {
			return report, fmt.Errorf("failed to list transactions: %w", err)
		}

		for _, t := range page {
			report.Checked++
			d := resolution.Evaluate(t.RemoteKind, t.Payload)
			if d.Resolved == t.Resolved && d.Reason == t.ResolutionReason {
				continue
			}
			if err := s.repo.UpdateResolution(ctx, connID, t.ID, d.Resolved, d.Reason); err != nil {
				log.Error("failed to update resolution", "transaction_id", t.ID, "error", err)
				report.Failed++
				continue
			}
			report.Changed++
		}

		if len(page) < reevaluatePage {
			break
		}
	}

	outcome := OutcomeSuccess
	if report.Failed > 0 {
		outcome = OutcomePartial
	}
	entry := NewAuditEntry(connID, "transaction", OpReevaluate, report.Checked, outcome, map[string]any{
		"changed": report.Changed,
		"failed":  report.Failed,
	})
	if err := s.repo.AppendAudit(ctx, entry); err != nil {
		log.Warn("failed to write audit entry", "error", err)
	}

	log.WithDuration(time.Since(start)).Info("reevaluation completed",
		"checked", report.Checked,
		"changed", report.Changed,
		"failed", report.Failed)
	return report, nil
}

func (s *Service) mutate(ctx context.Context, connID, id uuid.UUID, fn func(*Transaction) error) (*Transaction, error) {
	var out *Transaction
	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		t, err := s.repo.GetTransaction(ctx, connID, id)
		if err != nil {
			return err
		}
		if err := fn(t); err != nil {
			return err
		}
		t.UpdatedAt = time.Now().UTC()
		if err := s.repo.UpdateLocal(ctx, t); err != nil {
			return fmt.Errorf("failed to update transaction: %w", err)
		}
		out = t
		return nil
	})
	return out, err
}

func (s *Service) findCategory(ctx context.Context, connID uuid.UUID, id, name string) (*Category, error) {
	cats, err := s.repo.ListCategories(ctx, connID)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	for _, c := range cats {
		if id != "" && c.RemoteID == id {
			return c, nil
		}
	}
	if id == "" {
		for _, c := range cats {
			if strings.EqualFold(c.Name, strings.TrimSpace(name)) {
				return c, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnresolvedCategory, firstNonEmpty(id, name))
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		key := strings.ToLower(tag)
		if tag == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, tag)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
