package classify_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kislikjeka/booksync/internal/platform/classify"
	"github.com/kislikjeka/booksync/internal/platform/mirror"
	"github.com/kislikjeka/booksync/internal/platform/remote"
	"github.com/kislikjeka/booksync/pkg/logger"
	"github.com/kislikjeka/booksync/testutil/memstore"
)

// =============================================================================
// Mock Provider
// =============================================================================

type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Classify(ctx context.Context, req classify.BatchRequest) ([]classify.Suggestion, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]classify.Suggestion), args.Error(1)
}

// =============================================================================
// Fake Meter
// =============================================================================

type fakeMeter struct {
	mu      sync.Mutex
	balance map[string]int
	charges []int
}

func newFakeMeter() *fakeMeter {
	return &fakeMeter{balance: make(map[string]int)}
}

func (m *fakeMeter) HasSufficientBalance(_ context.Context, accountID string, cost int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance[accountID] >= cost, nil
}

func (m *fakeMeter) Deduct(_ context.Context, accountID string, cost int, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balance[accountID] -= cost
	m.charges = append(m.charges, cost)
	return nil
}

func (m *fakeMeter) GetBalance(_ context.Context, accountID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance[accountID], nil
}

// =============================================================================
// Fixture
// =============================================================================

type fixture struct {
	store    *memstore.Store
	provider *MockProvider
	meter    *fakeMeter
	pipeline *classify.Pipeline
	conn     *mirror.Connection
}

func newFixture(t *testing.T, tier string) *fixture {
	t.Helper()
	ctx := context.Background()

	store := memstore.New()
	conn := &mirror.Connection{ID: uuid.New(), RealmID: "9130", Tier: tier, CreatedAt: time.Now()}
	store.AddConnection(conn)

	for _, c := range []*mirror.Category{
		{ConnectionID: conn.ID, RemoteID: "56", Name: "Travel", Active: true},
		{ConnectionID: conn.ID, RemoteID: "57", Name: "Meals", Active: true},
		{ConnectionID: conn.ID, RemoteID: "60", Name: "Auto", Active: true},
		{ConnectionID: conn.ID, RemoteID: "61", Name: "Office Expenses:Software", Active: true},
		{ConnectionID: conn.ID, RemoteID: "99", Name: "Retired", Active: false},
	} {
		require.NoError(t, store.UpsertCategory(ctx, c))
	}
	require.NoError(t, store.UpsertVendor(ctx, &mirror.Vendor{ConnectionID: conn.ID, RemoteID: "7", Name: "Uber", Active: true}))
	require.NoError(t, store.UpsertVendor(ctx, &mirror.Vendor{ConnectionID: conn.ID, RemoteID: "9", Name: "Amazon", Active: true}))
	require.NoError(t, store.UpsertCustomer(ctx, &mirror.Customer{ConnectionID: conn.ID, RemoteID: "3", Name: "Acme Co", Active: true}))

	provider := &MockProvider{}
	meter := newFakeMeter()
	meter.balance[conn.ID.String()] = 100

	return &fixture{
		store:    store,
		provider: provider,
		meter:    meter,
		pipeline: classify.NewPipeline(nil, classify.DefaultPolicy(), store, provider, meter, logger.Discard()),
		conn:     conn,
	}
}

func (f *fixture) addTx(description, amount string) *mirror.Transaction {
	tx := &mirror.Transaction{
		ID:           uuid.New(),
		ConnectionID: f.conn.ID,
		RemoteID:     uuid.NewString()[:6],
		RemoteKind:   remote.KindPurchase,
		Subtype:      remote.SubtypeExpense,
		AccountID:    "35",
		Date:         time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC),
		Amount:       decimal.RequireFromString(amount),
		Currency:     "USD",
		Description:  description,
		VersionToken: "0",
		Status:       mirror.StatusUnmatched,
	}
	f.store.PutTransaction(tx)
	return tx
}

func (f *fixture) addApproved(description, categoryID, categoryName string, approvedAt time.Time) {
	tx := f.addTx(description, "-10")
	tx.Status = mirror.StatusApproved
	tx.Resolved = true
	tx.FinalCategoryID = categoryID
	tx.FinalCategoryName = categoryName
	tx.ApprovedAt = &approvedAt
	f.store.PutTransaction(tx)
}

func (f *fixture) get(t *testing.T, id uuid.UUID) *mirror.Transaction {
	t.Helper()
	tx, err := f.store.GetTransaction(context.Background(), f.conn.ID, id)
	require.NoError(t, err)
	return tx
}

func (f *fixture) classify(req classify.Request) *classify.Report {
	req.ConnectionID = f.conn.ID
	return f.pipeline.Classify(context.Background(), req)
}

func (f *fixture) addRule(t *testing.T, name string, priority int, cond mirror.RuleConditions, action mirror.RuleAction) {
	t.Helper()
	require.NoError(t, f.store.CreateRule(context.Background(), &mirror.Rule{
		ID:           uuid.New(),
		ConnectionID: f.conn.ID,
		Name:         name,
		Priority:     priority,
		Conditions:   cond,
		Action:       action,
		Enabled:      true,
		CreatedAt:    time.Now(),
	}))
}
