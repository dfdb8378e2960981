package mirror_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kislikjeka/booksync/internal/platform/mirror"
	"github.com/kislikjeka/booksync/internal/platform/remote"
	"github.com/kislikjeka/booksync/pkg/logger"
	"github.com/kislikjeka/booksync/testutil/memstore"
)

type fixture struct {
	store  *memstore.Store
	svc    *mirror.Service
	connID uuid.UUID
	tx     *mirror.Transaction
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()
	connID := uuid.New()
	store.AddConnection(&mirror.Connection{ID: connID, RealmID: "9130", Tier: "free", CreatedAt: time.Now()})

	for _, c := range []*mirror.Category{
		{ConnectionID: connID, RemoteID: "56", Name: "Travel", Active: true},
		{ConnectionID: connID, RemoteID: "57", Name: "Meals", Active: true},
	} {
		require.NoError(t, store.UpsertCategory(ctx, c))
	}

	tx, err := store.UpsertSynced(ctx, syncedTx(connID, "0", "-42.50"))
	require.NoError(t, err)

	return &fixture{
		store:  store,
		svc:    mirror.NewService(store, logger.Discard()),
		connID: connID,
		tx:     tx,
	}
}

func TestService_SplitTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tx, splits, err := f.svc.SplitTransaction(ctx, f.connID, f.tx.ID, []mirror.SplitInput{
		{CategoryID: "56", Amount: decimal.RequireFromString("30.00"), Description: "ride"},
		{CategoryName: "meals", Amount: decimal.RequireFromString("12.49")},
	})
	require.NoError(t, err)

	assert.True(t, tx.IsSplit)
	assert.Equal(t, mirror.StatusPendingApproval, tx.Status)
	require.Len(t, splits, 2)
	assert.Equal(t, "57", splits[1].CategoryID)
	assert.True(t, splits[0].Amount.Equal(decimal.RequireFromString("-30.00")))

	stored, err := f.store.ListSplits(ctx, f.tx.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	// replacing keeps a single set
	_, _, err = f.svc.SplitTransaction(ctx, f.connID, f.tx.ID, []mirror.SplitInput{
		{CategoryID: "56", Amount: decimal.RequireFromString("42.50")},
	})
	require.NoError(t, err)
	stored, err = f.store.ListSplits(ctx, f.tx.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestService_SplitTransaction_SumMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.SplitTransaction(ctx, f.connID, f.tx.ID, []mirror.SplitInput{
		{CategoryID: "56", Amount: decimal.RequireFromString("30.00")},
		{CategoryID: "57", Amount: decimal.RequireFromString("10.00")},
	})
	assert.ErrorIs(t, err, mirror.ErrSplitSumMismatch)

	stored, err := f.store.ListSplits(ctx, f.tx.ID)
	require.NoError(t, err)
	assert.Empty(t, stored)

	got, err := f.store.GetTransaction(ctx, f.connID, f.tx.ID)
	require.NoError(t, err)
	assert.False(t, got.IsSplit)
	assert.Equal(t, mirror.StatusUnmatched, got.Status)
}

func TestService_SplitTransaction_UnknownCategory(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.svc.SplitTransaction(context.Background(), f.connID, f.tx.ID, []mirror.SplitInput{
		{CategoryName: "Nonexistent", Amount: decimal.RequireFromString("42.50")},
	})
	assert.ErrorIs(t, err, mirror.ErrUnresolvedCategory)
}

func TestService_ExcludeAndForceReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tx, err := f.svc.SetExcluded(ctx, f.connID, f.tx.ID, true)
	require.NoError(t, err)
	assert.True(t, tx.Excluded)
	assert.False(t, tx.NeedsReview())

	tx, err = f.svc.SetExcluded(ctx, f.connID, f.tx.ID, false)
	require.NoError(t, err)
	assert.False(t, tx.Excluded)

	tx, err = f.svc.ForceReview(ctx, f.connID, f.tx.ID, true)
	require.NoError(t, err)
	assert.True(t, tx.ForcedReview)

	_, err = f.svc.SetExcluded(ctx, f.connID, uuid.New(), true)
	assert.ErrorIs(t, err, mirror.ErrTransactionNotFound)
}

func TestService_EditTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cat := "57"
	note := "  team lunch "
	tx, err := f.svc.EditTransaction(ctx, f.connID, f.tx.ID, mirror.Edit{
		CategoryID: &cat,
		Note:       &note,
		Tags:       []string{"food", "Food", " "},
	})
	require.NoError(t, err)

	assert.Equal(t, "Meals", tx.FinalCategoryName)
	assert.Equal(t, "team lunch", tx.Note)
	assert.Equal(t, []string{"food"}, tx.Tags)
	assert.Equal(t, mirror.StatusPendingApproval, tx.Status)

	bad := "999"
	_, err = f.svc.EditTransaction(ctx, f.connID, f.tx.ID, mirror.Edit{CategoryID: &bad})
	assert.ErrorIs(t, err, mirror.ErrUnresolvedCategory)
}

func TestService_Reevaluate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// stored reason is stale: a fresh manual entry is resolved
	stale := syncedTx(f.connID, "0", "-10")
	stale.RemoteID = "200"
	stale.Payload = json.RawMessage(`{"Id":"200","SyncToken":"0","TotalAmt":10}`)
	_, err := f.store.UpsertSynced(ctx, stale)
	require.NoError(t, err)

	report, err := f.svc.Reevaluate(ctx, f.connID)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, 2, report.Changed)
	assert.Zero(t, report.Failed)

	for _, tx := range f.store.Transactions(f.connID) {
		assert.True(t, tx.Resolved, tx.RemoteID)
	}

	// second pass changes nothing
	report, err = f.svc.Reevaluate(ctx, f.connID)
	require.NoError(t, err)
	assert.Zero(t, report.Changed)

	entries := f.store.Audit()
	require.Len(t, entries, 2)
	assert.Equal(t, mirror.OpReevaluate, entries[0].Operation)
}

func TestService_SetAccountActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.UpsertAccount(ctx, &mirror.Account{ConnectionID: f.connID, RemoteID: "35", Name: "Checking", IsConnected: true}))

	a, err := f.svc.SetAccountActive(ctx, f.connID, "35", true)
	require.NoError(t, err)
	assert.True(t, a.IsActive)

	// sync refresh keeps the user's choice
	require.NoError(t, f.store.UpsertAccount(ctx, &mirror.Account{ConnectionID: f.connID, RemoteID: "35", Name: "Checking", IsConnected: true}))
	a, err = f.store.GetAccount(ctx, f.connID, "35")
	require.NoError(t, err)
	assert.True(t, a.IsActive)

	_, err = f.svc.SetAccountActive(ctx, f.connID, "nope", true)
	assert.ErrorIs(t, err, mirror.ErrAccountNotFound)
}

func TestService_CreateRule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.svc.CreateRule(ctx, &mirror.Rule{ConnectionID: f.connID, Name: "empty", Action: mirror.RuleAction{CategoryID: "56"}})
	assert.ErrorIs(t, err, mirror.ErrInvalidRule)

	err = f.svc.CreateRule(ctx, &mirror.Rule{
		ConnectionID: f.connID,
		Name:         "unknown category",
		Conditions:   mirror.RuleConditions{DescriptionContains: "uber"},
		Action:       mirror.RuleAction{CategoryName: "Auto"},
	})
	assert.ErrorIs(t, err, mirror.ErrUnresolvedCategory)

	r := &mirror.Rule{
		ConnectionID: f.connID,
		Name:         "rides",
		Priority:     10,
		Conditions:   mirror.RuleConditions{DescriptionContains: "uber"},
		Action:       mirror.RuleAction{CategoryName: "travel", Tags: []string{"Weekend"}},
	}
	require.NoError(t, f.svc.CreateRule(ctx, r))
	assert.Equal(t, "56", r.Action.CategoryID)
	assert.Equal(t, "Travel", r.Action.CategoryName)

	rules, err := f.store.ListRules(ctx, f.connID)
	require.NoError(t, err)
	assert.Len(t, rules, 1)
}

func TestBuildSplits_PositiveParent(t *testing.T) {
	parent := &mirror.Transaction{ID: uuid.New(), Amount: decimal.RequireFromString("100"), RemoteKind: remote.KindDeposit}
	cats := []*mirror.Category{{RemoteID: "80", Name: "Sales"}, {RemoteID: "81", Name: "Interest"}}

	splits, err := mirror.BuildSplits(parent, []mirror.SplitInput{
		{CategoryID: "80", Amount: decimal.RequireFromString("60")},
		{CategoryID: "81", Amount: decimal.RequireFromString("-40.01")},
	}, cats)
	require.NoError(t, err)
	assert.True(t, splits[1].Amount.Equal(decimal.RequireFromString("40.01")))

	_, err = mirror.BuildSplits(parent, []mirror.SplitInput{{CategoryID: "80", Amount: decimal.Zero}}, cats)
	assert.ErrorIs(t, err, mirror.ErrInvalidSplit)
}
