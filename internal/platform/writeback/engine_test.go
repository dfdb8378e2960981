package writeback_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kislikjeka/booksync/internal/platform/lock"
	"github.com/kislikjeka/booksync/internal/platform/mirror"
	"github.com/kislikjeka/booksync/internal/platform/remote"
	"github.com/kislikjeka/booksync/internal/platform/writeback"
	"github.com/kislikjeka/booksync/pkg/logger"
	"github.com/kislikjeka/booksync/testutil/memstore"
	"github.com/kislikjeka/booksync/testutil/remotefake"
)

// =============================================================================
// Test Fixture
// =============================================================================

const purchasePayload = `{
	"Id": "101",
	"SyncToken": "3",
	"TxnDate": "2024-03-09",
	"TotalAmt": 42.50,
	"AccountRef": {"value": "35", "name": "Checking"},
	"EntityRef": {"value": "7", "name": "Uber"},
	"Line": [{
		"Id": "1",
		"Amount": 42.50,
		"Description": "airport ride",
		"DetailType": "AccountBasedExpenseLineDetail",
		"AccountBasedExpenseLineDetail": {"AccountRef": {"value": "90", "name": "Uncategorized Expense"}}
	}]
}`

const journalPayload = `{
	"Id": "300",
	"SyncToken": "0",
	"TxnDate": "2024-03-01",
	"Line": [
		{"Id": "0", "Amount": 100, "DetailType": "JournalEntryLineDetail",
		 "JournalEntryLineDetail": {"PostingType": "Credit", "AccountRef": {"value": "35", "name": "Checking"}}},
		{"Id": "1", "Amount": 100, "DetailType": "JournalEntryLineDetail",
		 "JournalEntryLineDetail": {"PostingType": "Debit", "AccountRef": {"value": "90", "name": "Uncategorized Expense"}}}
	]
}`

type fixture struct {
	client *remotefake.Client
	store  *memstore.Store
	locker *lock.Local
	engine *writeback.Engine
	conn   *mirror.Connection
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	conn := &mirror.Connection{ID: uuid.New(), RealmID: "9130", Tier: "pro", CreatedAt: time.Now()}
	store.AddConnection(conn)
	require.NoError(t, store.UpsertVendor(context.Background(), &mirror.Vendor{
		ConnectionID: conn.ID, RemoteID: "7", Name: "Uber", Active: true,
	}))

	client := remotefake.New()
	locker := lock.NewLocal()
	return &fixture{
		client: client,
		store:  store,
		locker: locker,
		engine: writeback.NewEngine(nil, client, store, locker, logger.Discard()),
		conn:   conn,
	}
}

// addPurchase seeds the same purchase remotely and locally, suggested as Travel
func (f *fixture) addPurchase(t *testing.T, payee string) *mirror.Transaction {
	t.Helper()
	f.client.Put(remote.KindPurchase, purchasePayload)
	tx := &mirror.Transaction{
		ID:                    uuid.New(),
		ConnectionID:          f.conn.ID,
		RemoteID:              "101",
		RemoteKind:            remote.KindPurchase,
		Subtype:               remote.SubtypeExpense,
		AccountID:             "35",
		Date:                  time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC),
		Amount:                decimal.RequireFromString("-42.50"),
		Currency:              "USD",
		Description:           payee,
		Payee:                 payee,
		VersionToken:          "3",
		Payload:               json.RawMessage(purchasePayload),
		SuggestedCategoryID:   "56",
		SuggestedCategoryName: "Travel",
		Confidence:            0.9,
		ClassifiedBy:          mirror.SourceProvider,
		Status:                mirror.StatusPendingApproval,
	}
	f.store.PutTransaction(tx)
	return tx
}

func (f *fixture) get(t *testing.T, id uuid.UUID) *mirror.Transaction {
	t.Helper()
	tx, err := f.store.GetTransaction(context.Background(), f.conn.ID, id)
	require.NoError(t, err)
	return tx
}

func (f *fixture) approve(id uuid.UUID) (*writeback.Result, error) {
	return f.engine.Approve(context.Background(), f.conn.ID, id)
}

func lineAt(t *testing.T, obj map[string]any, i int) map[string]any {
	t.Helper()
	lines, ok := obj["Line"].([]any)
	require.True(t, ok, "Line must be a list")
	require.Greater(t, len(lines), i)
	line, ok := lines[i].(map[string]any)
	require.True(t, ok)
	return line
}

func accountOf(t *testing.T, line map[string]any, detail string) string {
	t.Helper()
	d, ok := line[detail].(map[string]any)
	require.True(t, ok, "missing %s", detail)
	ref, ok := d["AccountRef"].(map[string]any)
	require.True(t, ok)
	return ref["value"].(string)
}

func lastAudit(t *testing.T, store *memstore.Store) *mirror.AuditEntry {
	t.Helper()
	entries := store.Audit()
	require.NotEmpty(t, entries)
	return entries[len(entries)-1]
}

// =============================================================================
// Single-category approval
// =============================================================================

func TestApprove_SingleCategory(t *testing.T) {
	f := newFixture(t)
	tx := f.addPurchase(t, "Uber")

	res, err := f.approve(tx.ID)
	require.NoError(t, err)

	assert.Equal(t, "4", res.VersionToken)
	assert.Equal(t, "7", res.VendorID)
	assert.False(t, res.VendorCreated)
	assert.False(t, res.Retried)
	assert.False(t, res.Split)

	require.Len(t, f.client.Updates, 1)
	sent := f.client.Updates[0]
	assert.Equal(t, "101", sent["Id"])
	assert.Equal(t, "3", sent["SyncToken"])
	assert.Equal(t, true, sent["sparse"])

	stored := f.client.Record(remote.KindPurchase, "101")
	line := lineAt(t, stored, 0)
	assert.Equal(t, "56", accountOf(t, line, "AccountBasedExpenseLineDetail"))
	assert.Equal(t, "airport ride", line["Description"], "other line fields are kept")
	assert.Equal(t, 42.5, line["Amount"])

	got := f.get(t, tx.ID)
	assert.Equal(t, mirror.StatusApproved, got.Status)
	assert.Equal(t, "4", got.VersionToken)
	assert.Equal(t, "56", got.FinalCategoryID)
	assert.Equal(t, "Travel", got.FinalCategoryName)
	assert.Equal(t, "7", got.VendorID)
	assert.NotNil(t, got.ApprovedAt)
	assert.Empty(t, got.DiagnosticNote)

	entry := lastAudit(t, f.store)
	assert.Equal(t, mirror.OpApprove, entry.Operation)
	assert.Equal(t, mirror.OutcomeSuccess, entry.Outcome)
}

func TestApprove_FinalCategoryWinsOverSuggestion(t *testing.T) {
	f := newFixture(t)
	tx := f.addPurchase(t, "Uber")
	tx.FinalCategoryID, tx.FinalCategoryName = "57", "Meals"
	f.store.PutTransaction(tx)

	_, err := f.approve(tx.ID)
	require.NoError(t, err)

	line := lineAt(t, f.client.Record(remote.KindPurchase, "101"), 0)
	assert.Equal(t, "57", accountOf(t, line, "AccountBasedExpenseLineDetail"))
}

func TestApprove_JournalEntrySkipsOwningAccountLine(t *testing.T) {
	f := newFixture(t)
	f.client.Put(remote.KindJournalEntry, journalPayload)
	tx := &mirror.Transaction{
		ID:                    uuid.New(),
		ConnectionID:          f.conn.ID,
		RemoteID:              "300",
		RemoteKind:            remote.KindJournalEntry,
		Subtype:               remote.SubtypeJournalEntry,
		AccountID:             "35",
		Amount:                decimal.RequireFromString("-100"),
		VersionToken:          "0",
		Payload:               json.RawMessage(journalPayload),
		SuggestedCategoryID:   "56",
		SuggestedCategoryName: "Travel",
		Status:                mirror.StatusPendingApproval,
	}
	f.store.PutTransaction(tx)

	res, err := f.approve(tx.ID)
	require.NoError(t, err)
	assert.Empty(t, res.VendorID)

	stored := f.client.Record(remote.KindJournalEntry, "300")
	assert.Equal(t, "35", accountOf(t, lineAt(t, stored, 0), "JournalEntryLineDetail"))
	assert.Equal(t, "56", accountOf(t, lineAt(t, stored, 1), "JournalEntryLineDetail"))
	assert.Empty(t, f.client.CreatedVendors)
}

// =============================================================================
// Vendor resolution
// =============================================================================

func TestApprove_VendorResolution(t *testing.T) {
	t.Run("local match", func(t *testing.T) {
		f := newFixture(t)
		tx := f.addPurchase(t, "UBER")

		res, err := f.approve(tx.ID)
		require.NoError(t, err)
		assert.Equal(t, "7", res.VendorID)
		assert.Empty(t, f.client.CreatedVendors)
	})

	t.Run("remote match is stored locally", func(t *testing.T) {
		f := newFixture(t)
		f.client.Put(remote.KindVendor, `{"Id": "8", "DisplayName": "Blue Bottle", "Active": true}`)
		tx := f.addPurchase(t, "Blue Bottle")

		res, err := f.approve(tx.ID)
		require.NoError(t, err)
		assert.Equal(t, "8", res.VendorID)
		assert.False(t, res.VendorCreated)
		assert.Empty(t, f.client.CreatedVendors)

		v, err := f.store.FindVendorByName(context.Background(), f.conn.ID, "blue bottle")
		require.NoError(t, err)
		require.NotNil(t, v)
		assert.Equal(t, "8", v.RemoteID)
	})

	t.Run("unknown payee creates a vendor", func(t *testing.T) {
		f := newFixture(t)
		tx := f.addPurchase(t, "Corner Bakery")

		res, err := f.approve(tx.ID)
		require.NoError(t, err)
		assert.True(t, res.VendorCreated)
		assert.Equal(t, []string{"Corner Bakery"}, f.client.CreatedVendors)

		v, err := f.store.FindVendorByName(context.Background(), f.conn.ID, "Corner Bakery")
		require.NoError(t, err)
		require.NotNil(t, v)
		assert.Equal(t, res.VendorID, v.RemoteID)

		entity := f.client.Record(remote.KindPurchase, "101")["EntityRef"].(map[string]any)
		assert.Equal(t, res.VendorID, entity["value"])
		assert.Equal(t, "Vendor", entity["type"])
	})

	t.Run("alias vendor is used without lookup", func(t *testing.T) {
		f := newFixture(t)
		tx := f.addPurchase(t, "AMZN Mktp US")
		tx.SuggestedPayee, tx.SuggestedVendorID = "Amazon Marketplace", "10"
		f.store.PutTransaction(tx)

		res, err := f.approve(tx.ID)
		require.NoError(t, err)
		assert.Equal(t, "10", res.VendorID)
		assert.Empty(t, f.client.CreatedVendors)

		entity := f.client.Record(remote.KindPurchase, "101")["EntityRef"].(map[string]any)
		assert.Equal(t, "Amazon Marketplace", entity["name"])
	})

	t.Run("vendor creation failure fails the approval", func(t *testing.T) {
		f := newFixture(t)
		f.client.CreateVendorErr = errors.New("duplicate name")
		tx := f.addPurchase(t, "Corner Bakery")

		_, err := f.approve(tx.ID)
		require.Error(t, err)
		assert.Empty(t, f.client.Updates)
		assert.Equal(t, mirror.StatusPendingApproval, f.get(t, tx.ID).Status)
	})
}

// =============================================================================
// Splits
// =============================================================================

func TestApprove_SplitPayload(t *testing.T) {
	f := newFixture(t)
	tx := f.addPurchase(t, "Uber")
	require.NoError(t, f.store.ReplaceSplits(context.Background(), tx.ID, []*mirror.Split{
		{ID: uuid.New(), TransactionID: tx.ID, Position: 0, CategoryID: "57", CategoryName: "Meals", Amount: decimal.RequireFromString("-30"), Description: "dinner"},
		{ID: uuid.New(), TransactionID: tx.ID, Position: 1, CategoryID: "61", CategoryName: "Office Expenses:Software", Amount: decimal.RequireFromString("-12.50")},
	}))

	res, err := f.approve(tx.ID)
	require.NoError(t, err)
	assert.True(t, res.Split)

	stored := f.client.Record(remote.KindPurchase, "101")
	lines := stored["Line"].([]any)
	require.Len(t, lines, 2)

	first := lineAt(t, stored, 0)
	assert.Equal(t, "57", accountOf(t, first, "AccountBasedExpenseLineDetail"))
	assert.Equal(t, 30.0, first["Amount"])
	assert.Equal(t, "dinner", first["Description"])
	assert.Equal(t, "AccountBasedExpenseLineDetail", first["DetailType"])

	second := lineAt(t, stored, 1)
	assert.Equal(t, "61", accountOf(t, second, "AccountBasedExpenseLineDetail"))
	assert.Equal(t, 12.5, second["Amount"])
	_, hasDescription := second["Description"]
	assert.False(t, hasDescription)

	assert.Equal(t, mirror.StatusApproved, f.get(t, tx.ID).Status)
}

func TestApprove_SplitWithoutCategoryIsEnough(t *testing.T) {
	f := newFixture(t)
	tx := f.addPurchase(t, "Uber")
	tx.SuggestedCategoryID, tx.SuggestedCategoryName = "", ""
	f.store.PutTransaction(tx)
	require.NoError(t, f.store.ReplaceSplits(context.Background(), tx.ID, []*mirror.Split{
		{ID: uuid.New(), TransactionID: tx.ID, CategoryID: "57", CategoryName: "Meals", Amount: decimal.RequireFromString("-42.50")},
	}))

	_, err := f.approve(tx.ID)
	require.NoError(t, err)
	assert.Empty(t, f.get(t, tx.ID).FinalCategoryID)
}

// =============================================================================
// Version conflicts
// =============================================================================

func TestApprove_StaleTokenRetriedOnce(t *testing.T) {
	f := newFixture(t)
	tx := f.addPurchase(t, "Uber")
	f.client.StaleUpdates = 1

	res, err := f.approve(tx.ID)
	require.NoError(t, err)
	assert.True(t, res.Retried)
	assert.Equal(t, "5", res.VersionToken)

	require.Len(t, f.client.Updates, 2)
	assert.Equal(t, "3", f.client.Updates[0]["SyncToken"])
	assert.Equal(t, "4", f.client.Updates[1]["SyncToken"])

	got := f.get(t, tx.ID)
	assert.Equal(t, mirror.StatusApproved, got.Status)
	assert.Equal(t, "5", got.VersionToken)
}

func TestApprove_RepeatedConflictLeavesRecordUnchanged(t *testing.T) {
	f := newFixture(t)
	tx := f.addPurchase(t, "Uber")
	f.client.StaleUpdates = 2

	_, err := f.approve(tx.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, remote.ErrStaleObject)
	assert.Len(t, f.client.Updates, 2)

	got := f.get(t, tx.ID)
	assert.Equal(t, mirror.StatusPendingApproval, got.Status)
	assert.Equal(t, "3", got.VersionToken)
	assert.Empty(t, got.FinalCategoryID)
	assert.Nil(t, got.ApprovedAt)
	assert.Contains(t, got.DiagnosticNote, "write-back failed")

	entry := lastAudit(t, f.store)
	assert.Equal(t, mirror.OpApprove, entry.Operation)
	assert.Equal(t, mirror.OutcomeFailed, entry.Outcome)
}

func TestApprove_RemoteErrorIsNotRetried(t *testing.T) {
	f := newFixture(t)
	tx := f.addPurchase(t, "Uber")
	f.client.UpdateErr = &remote.APIError{StatusCode: 400, Code: "6000", Message: "business validation error"}

	_, err := f.approve(tx.ID)
	require.Error(t, err)
	var apiErr *remote.APIError
	assert.ErrorAs(t, err, &apiErr)
	assert.Len(t, f.client.Updates, 1)
	assert.Equal(t, mirror.StatusPendingApproval, f.get(t, tx.ID).Status)
}

// =============================================================================
// Data errors
// =============================================================================

func TestApprove_DataErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*mirror.Transaction)
		wantErr error
	}{
		{
			name:    "missing version token",
			mutate:  func(tx *mirror.Transaction) { tx.VersionToken = "" },
			wantErr: mirror.ErrMissingVersionToken,
		},
		{
			name: "nothing to approve",
			mutate: func(tx *mirror.Transaction) {
				tx.SuggestedCategoryID, tx.SuggestedCategoryName = "", ""
			},
			wantErr: mirror.ErrNothingToApprove,
		},
		{
			name:    "excluded",
			mutate:  func(tx *mirror.Transaction) { tx.Excluded = true },
			wantErr: mirror.ErrExcluded,
		},
		{
			name: "unsupported kind",
			mutate: func(tx *mirror.Transaction) {
				tx.RemoteKind = remote.KindTransfer
				tx.Subtype = remote.SubtypeTransfer
			},
			wantErr: writeback.ErrUnsupportedKind,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tx := f.addPurchase(t, "Uber")
			tt.mutate(tx)
			f.store.PutTransaction(tx)

			_, err := f.approve(tx.ID)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, f.client.Updates)

			got := f.get(t, tx.ID)
			assert.Equal(t, mirror.StatusPendingApproval, got.Status)
			assert.Contains(t, got.DiagnosticNote, tt.wantErr.Error())
		})
	}
}

func TestApprove_LockedRecord(t *testing.T) {
	f := newFixture(t)
	tx := f.addPurchase(t, "Uber")

	release, err := f.locker.Acquire(context.Background(), lock.RecordKey(f.conn.ID, tx.ID), time.Minute)
	require.NoError(t, err)
	defer release(context.Background())

	_, err = f.approve(tx.ID)
	assert.ErrorIs(t, err, lock.ErrHeld)
	assert.Empty(t, f.client.Updates)
	assert.Empty(t, f.get(t, tx.ID).DiagnosticNote)
}

func TestApprove_UnknownRecord(t *testing.T) {
	f := newFixture(t)
	_, err := f.approve(uuid.New())
	assert.ErrorIs(t, err, mirror.ErrTransactionNotFound)
}

// =============================================================================
// Bulk approval
// =============================================================================

func TestBulkApprove_ContinuesPastFailures(t *testing.T) {
	f := newFixture(t)
	good := f.addPurchase(t, "Uber")

	bad := f.addPurchase(t, "Uber")
	bad.ID = uuid.New()
	bad.VersionToken = ""
	f.store.PutTransaction(bad)

	missing := uuid.New()

	report := f.engine.BulkApprove(context.Background(), f.conn.ID, []uuid.UUID{bad.ID, missing, good.ID})

	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 2, report.Failed)
	require.Len(t, report.Items, 3)
	assert.Contains(t, report.Items[0].Error, mirror.ErrMissingVersionToken.Error())
	assert.Contains(t, report.Items[1].Error, mirror.ErrTransactionNotFound.Error())
	require.NotNil(t, report.Items[2].Result)
	assert.Equal(t, "4", report.Items[2].Result.VersionToken)
	assert.Equal(t, []uuid.UUID{bad.ID, missing}, report.FailedIDs())

	assert.Equal(t, mirror.StatusApproved, f.get(t, good.ID).Status)
}

// =============================================================================
// Attachments
// =============================================================================

func TestAttachDocument(t *testing.T) {
	f := newFixture(t)
	tx := f.addPurchase(t, "Uber")

	id, err := f.engine.AttachDocument(context.Background(), f.conn.ID, tx.ID, writeback.Document{
		FileName: "receipt.pdf",
		Data:     []byte("%PDF-1.4"),
	})
	require.NoError(t, err)
	assert.Equal(t, "5001", id)

	require.Len(t, f.client.Attachments, 1)
	att := f.client.Attachments[0]
	assert.Equal(t, remote.KindPurchase, att.EntityKind)
	assert.Equal(t, "101", att.EntityID)
	assert.Equal(t, "application/octet-stream", att.ContentType)

	entry := lastAudit(t, f.store)
	assert.Equal(t, mirror.OpAttach, entry.Operation)
	assert.Equal(t, mirror.OutcomeSuccess, entry.Outcome)
}

func TestAttachDocument_Rejected(t *testing.T) {
	f := newFixture(t)
	tx := f.addPurchase(t, "Uber")

	_, err := f.engine.AttachDocument(context.Background(), f.conn.ID, tx.ID, writeback.Document{FileName: "empty.pdf"})
	assert.ErrorIs(t, err, writeback.ErrInvalidAttachment)

	f.client.Remove(remote.KindPurchase, "101")
	_, err = f.engine.AttachDocument(context.Background(), f.conn.ID, tx.ID, writeback.Document{
		FileName: "receipt.pdf",
		Data:     []byte("x"),
	})
	assert.ErrorIs(t, err, remote.ErrNotFound)
	assert.Equal(t, mirror.OutcomeFailed, lastAudit(t, f.store).Outcome)
}
