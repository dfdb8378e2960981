// Package memstore is an in-memory mirror.Repository for engine tests
package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kislikjeka/booksync/internal/platform/mirror"
)

// Store keeps every entity in maps guarded by one mutex
type Store struct {
	mu           sync.Mutex
	connections  map[uuid.UUID]*mirror.Connection
	accounts     map[string]*mirror.Account
	categories   map[string]*mirror.Category
	vendors      map[string]*mirror.Vendor
	customers    map[string]*mirror.Customer
	transactions map[uuid.UUID]*mirror.Transaction
	splits       map[uuid.UUID][]*mirror.Split
	rules        map[uuid.UUID]*mirror.Rule
	aliases      map[uuid.UUID]*mirror.VendorAlias
	audit        []*mirror.AuditEntry

	// Now is used for merge timestamps; defaults to time.Now
	Now func() time.Time
}

var _ mirror.Repository = (*Store)(nil)

// New creates an empty store
func New() *Store {
	return &Store{
		connections:  make(map[uuid.UUID]*mirror.Connection),
		accounts:     make(map[string]*mirror.Account),
		categories:   make(map[string]*mirror.Category),
		vendors:      make(map[string]*mirror.Vendor),
		customers:    make(map[string]*mirror.Customer),
		transactions: make(map[uuid.UUID]*mirror.Transaction),
		splits:       make(map[uuid.UUID][]*mirror.Split),
		rules:        make(map[uuid.UUID]*mirror.Rule),
		aliases:      make(map[uuid.UUID]*mirror.VendorAlias),
		Now:          time.Now,
	}
}

func refKey(connID uuid.UUID, remoteID string) string {
	return connID.String() + "/" + remoteID
}

// =============================================================================
// Connections
// =============================================================================

// AddConnection seeds a connection
func (s *Store) AddConnection(c *mirror.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.connections[c.ID] = &cp
}

func (s *Store) CreateConnection(_ context.Context, c *mirror.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, existing := range s.connections {
		if existing.RealmID == c.RealmID {
			existing.Name, existing.Tier, existing.AutoAccept = c.Name, c.Tier, c.AutoAccept
			existing.UpdatedAt = now
			c.ID, c.CreatedAt, c.UpdatedAt = existing.ID, existing.CreatedAt, now
			return nil
		}
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CreatedAt, c.UpdatedAt = now, now
	cp := *c
	s.connections[c.ID] = &cp
	return nil
}

func (s *Store) DeleteConnection(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.connections[id]; !ok {
		return mirror.ErrConnectionNotFound
	}
	delete(s.connections, id)
	return nil
}

func (s *Store) GetConnection(_ context.Context, id uuid.UUID) (*mirror.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.connections[id]
	if !ok {
		return nil, mirror.ErrConnectionNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) ListConnections(_ context.Context) ([]*mirror.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*mirror.Connection, 0, len(s.connections))
	for _, c := range s.connections {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) TouchConnectionSync(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.connections[id]
	if !ok {
		return mirror.ErrConnectionNotFound
	}
	c.LastSyncAt = &at
	return nil
}

// =============================================================================
// Reference data
// =============================================================================

func (s *Store) UpsertAccount(_ context.Context, a *mirror.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := refKey(a.ConnectionID, a.RemoteID)
	cp := *a
	if existing, ok := s.accounts[key]; ok {
		cp.IsActive = existing.IsActive
		cp.Nickname = existing.Nickname
	}
	s.accounts[key] = &cp
	return nil
}

func (s *Store) GetAccount(_ context.Context, connID uuid.UUID, remoteID string) (*mirror.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[refKey(connID, remoteID)]
	if !ok {
		return nil, mirror.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Store) ListAccounts(_ context.Context, connID uuid.UUID) ([]*mirror.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*mirror.Account
	for _, a := range s.accounts {
		if a.ConnectionID == connID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) MarkAccountsDisconnected(_ context.Context, connID uuid.UUID, seen []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keep := toSet(seen)
	n := 0
	for _, a := range s.accounts {
		if a.ConnectionID == connID && !keep[a.RemoteID] && a.IsConnected {
			a.IsConnected = false
			n++
		}
	}
	return n, nil
}

func (s *Store) SetAccountActive(_ context.Context, connID uuid.UUID, remoteID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[refKey(connID, remoteID)]
	if !ok {
		return mirror.ErrAccountNotFound
	}
	a.IsActive = active
	return nil
}

func (s *Store) UpsertCategory(_ context.Context, c *mirror.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.categories[refKey(c.ConnectionID, c.RemoteID)] = &cp
	return nil
}

func (s *Store) ListCategories(_ context.Context, connID uuid.UUID) ([]*mirror.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*mirror.Category
	for _, c := range s.categories {
		if c.ConnectionID == connID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) UpsertVendor(_ context.Context, v *mirror.Vendor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *v
	s.vendors[refKey(v.ConnectionID, v.RemoteID)] = &cp
	return nil
}

func (s *Store) ListVendors(_ context.Context, connID uuid.UUID) ([]*mirror.Vendor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*mirror.Vendor
	for _, v := range s.vendors {
		if v.ConnectionID == connID {
			cp := *v
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) FindVendorByName(_ context.Context, connID uuid.UUID, name string) (*mirror.Vendor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.vendors {
		if v.ConnectionID == connID && strings.EqualFold(v.Name, strings.TrimSpace(name)) {
			cp := *v
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *Store) UpsertCustomer(_ context.Context, c *mirror.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.customers[refKey(c.ConnectionID, c.RemoteID)] = &cp
	return nil
}

func (s *Store) ListCustomers(_ context.Context, connID uuid.UUID) ([]*mirror.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*mirror.Customer
	for _, c := range s.customers {
		if c.ConnectionID == connID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// =============================================================================
// Transactions
// =============================================================================

func (s *Store) UpsertSynced(_ context.Context, incoming *mirror.Transaction) (*mirror.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing *mirror.Transaction
	for _, t := range s.transactions {
		if t.ConnectionID == incoming.ConnectionID && t.RemoteKind == incoming.RemoteKind && t.RemoteID == incoming.RemoteID {
			existing = t
			break
		}
	}

	merged := mirror.MergeSynced(existing, incoming, s.Now().UTC())
	s.transactions[merged.ID] = merged
	return copyTx(merged), nil
}

// PutTransaction seeds a transaction as-is
func (s *Store) PutTransaction(t *mirror.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions[t.ID] = copyTx(t)
}

func (s *Store) GetTransaction(_ context.Context, connID, id uuid.UUID) (*mirror.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transactions[id]
	if !ok || t.ConnectionID != connID {
		return nil, mirror.ErrTransactionNotFound
	}
	return copyTx(t), nil
}

func (s *Store) ListTransactions(_ context.Context, f mirror.TransactionFilter) ([]*mirror.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make(map[mirror.Status]bool, len(f.Statuses))
	for _, st := range f.Statuses {
		statuses[st] = true
	}
	ids := make(map[uuid.UUID]bool, len(f.IDs))
	for _, id := range f.IDs {
		ids[id] = true
	}

	var out []*mirror.Transaction
	for _, t := range s.transactions {
		switch {
		case t.ConnectionID != f.ConnectionID:
			continue
		case len(statuses) > 0 && !statuses[t.Status]:
			continue
		case len(ids) > 0 && !ids[t.ID]:
			continue
		case f.AccountID != "" && t.AccountID != f.AccountID:
			continue
		case f.NeedsReview != nil && t.NeedsReview() != *f.NeedsReview:
			continue
		case f.Excluded != nil && t.Excluded != *f.Excluded:
			continue
		}
		out = append(out, copyTx(t))
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].Key() < out[j].Key()
	})

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) UpdateLocal(_ context.Context, t *mirror.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.transactions[t.ID]
	if !ok || cur.ConnectionID != t.ConnectionID {
		return mirror.ErrTransactionNotFound
	}

	cur.SuggestedCategoryID = t.SuggestedCategoryID
	cur.SuggestedCategoryName = t.SuggestedCategoryName
	cur.SuggestedPayee = t.SuggestedPayee
	cur.SuggestedVendorID = t.SuggestedVendorID
	cur.Reasoning = t.Reasoning
	cur.Confidence = t.Confidence
	cur.Tags = append([]string(nil), t.Tags...)
	cur.ClassifiedBy = t.ClassifiedBy
	cur.AutoAccept = t.AutoAccept
	cur.Note = t.Note
	cur.FinalCategoryID = t.FinalCategoryID
	cur.FinalCategoryName = t.FinalCategoryName
	cur.FinalPayee = t.FinalPayee
	cur.VendorID = t.VendorID
	cur.Status = t.Status
	cur.Excluded = t.Excluded
	cur.ForcedReview = t.ForcedReview
	cur.IsSplit = t.IsSplit
	cur.DiagnosticNote = t.DiagnosticNote
	cur.UpdatedAt = t.UpdatedAt
	return nil
}

func (s *Store) RecordWriteBack(_ context.Context, connID, id uuid.UUID, versionToken string, payload json.RawMessage, vendorID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.transactions[id]
	if !ok || cur.ConnectionID != connID {
		return mirror.ErrTransactionNotFound
	}
	if versionToken == "" {
		return mirror.ErrMissingVersionToken
	}
	cur.VersionToken = versionToken
	if len(payload) > 0 {
		cur.Payload = append(json.RawMessage(nil), payload...)
	}
	if vendorID != "" {
		cur.VendorID = vendorID
	}
	cur.Status = mirror.StatusApproved
	cur.ForcedReview = false
	cur.DiagnosticNote = ""
	cur.ApprovedAt = &at
	cur.UpdatedAt = at
	return nil
}

func (s *Store) UpdateResolution(_ context.Context, connID, id uuid.UUID, resolved bool, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.transactions[id]
	if !ok || cur.ConnectionID != connID {
		return mirror.ErrTransactionNotFound
	}
	cur.Resolved = resolved
	cur.ResolutionReason = reason
	return nil
}

func (s *Store) PruneTransactions(_ context.Context, connID uuid.UUID, keep []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keepSet := toSet(keep)
	n := 0
	for id, t := range s.transactions {
		if t.ConnectionID == connID && !keepSet[t.Key()] {
			delete(s.transactions, id)
			delete(s.splits, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) ApprovedHistory(_ context.Context, connID uuid.UUID, limit int) ([]*mirror.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*mirror.Transaction
	for _, t := range s.transactions {
		if t.ConnectionID == connID && t.Status == mirror.StatusApproved {
			out = append(out, copyTx(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return approvedAt(out[i]).After(approvedAt(out[j]))
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListSplits(_ context.Context, txID uuid.UUID) ([]*mirror.Split, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*mirror.Split, 0, len(s.splits[txID]))
	for _, sp := range s.splits[txID] {
		cp := *sp
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) ReplaceSplits(_ context.Context, txID uuid.UUID, splits []*mirror.Split) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(splits) == 0 {
		delete(s.splits, txID)
		return nil
	}
	set := make([]*mirror.Split, 0, len(splits))
	for _, sp := range splits {
		cp := *sp
		cp.TransactionID = txID
		set = append(set, &cp)
	}
	s.splits[txID] = set
	return nil
}

// =============================================================================
// Rules and aliases
// =============================================================================

func (s *Store) ListRules(_ context.Context, connID uuid.UUID) ([]*mirror.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*mirror.Rule
	for _, r := range s.rules {
		if r.ConnectionID == connID && r.Enabled {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) CreateRule(_ context.Context, r *mirror.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.rules[r.ID] = &cp
	return nil
}

func (s *Store) DeleteRule(_ context.Context, connID, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok || r.ConnectionID != connID {
		return mirror.ErrRuleNotFound
	}
	delete(s.rules, id)
	return nil
}

func (s *Store) ListAliases(_ context.Context, connID uuid.UUID) ([]*mirror.VendorAlias, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*mirror.VendorAlias
	for _, a := range s.aliases {
		if a.ConnectionID == connID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Match < out[j].Match })
	return out, nil
}

func (s *Store) CreateAlias(_ context.Context, a *mirror.VendorAlias) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.aliases[a.ID] = &cp
	return nil
}

// =============================================================================
// Audit
// =============================================================================

func (s *Store) AppendAudit(_ context.Context, e *mirror.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.audit = append(s.audit, &cp)
	return nil
}

func (s *Store) ListAudit(_ context.Context, f mirror.AuditFilter) ([]*mirror.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*mirror.AuditEntry
	for i := len(s.audit) - 1; i >= 0; i-- {
		e := s.audit[i]
		if e.ConnectionID != f.ConnectionID {
			continue
		}
		if f.Operation != "" && e.Operation != f.Operation {
			continue
		}
		if f.Since != nil && e.CreatedAt.Before(*f.Since) {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// Audit returns every entry in append order
func (s *Store) Audit() []*mirror.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*mirror.AuditEntry(nil), s.audit...)
}

// WithinTx runs fn directly; every store call is already atomic.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// =============================================================================
// Helpers
// =============================================================================

// Transactions returns every stored transaction of a connection
func (s *Store) Transactions(connID uuid.UUID) []*mirror.Transaction {
	out, _ := s.ListTransactions(context.Background(), mirror.TransactionFilter{ConnectionID: connID})
	return out
}

func copyTx(t *mirror.Transaction) *mirror.Transaction {
	cp := *t
	cp.Tags = append([]string(nil), t.Tags...)
	cp.Payload = append(json.RawMessage(nil), t.Payload...)
	return &cp
}

func approvedAt(t *mirror.Transaction) time.Time {
	if t.ApprovedAt != nil {
		return *t.ApprovedAt
	}
	return t.UpdatedAt
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
