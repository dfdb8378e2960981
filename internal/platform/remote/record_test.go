package remote_test

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kislikjeka/booksync/internal/platform/remote"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decode(t *testing.T, kind remote.Kind, payload string) remote.Record {
	t.Helper()
	rec, err := remote.Decode(kind, json.RawMessage(payload))
	require.NoError(t, err)
	return rec
}

func TestDecode_Purchase(t *testing.T) {
	rec := decode(t, remote.KindPurchase, `{
		"Id": "145", "SyncToken": "2", "TxnDate": "2024-03-09", "TotalAmt": 42.50,
		"AccountRef": {"value": "35", "name": "Checking"},
		"EntityRef": {"value": "7", "name": "Uber"},
		"PaymentType": "CreditCard",
		"Line": [
			{"Id": "1", "Amount": 30.00, "Description": "ride", "DetailType": "AccountBasedExpenseLineDetail",
			 "AccountBasedExpenseLineDetail": {"AccountRef": {"value": "56", "name": "Travel"}}},
			{"Id": "2", "Amount": 12.50, "DetailType": "AccountBasedExpenseLineDetail",
			 "AccountBasedExpenseLineDetail": {"AccountRef": {"value": "57", "name": "Meals"}}}
		]
	}`)

	assert.Equal(t, remote.KindPurchase, rec.Kind())
	assert.Equal(t, remote.SubtypeExpense, rec.Subtype())
	assert.Equal(t, []string{"35"}, rec.AccountCandidates())
	assert.Equal(t, 2, rec.Header().Revision())
	assert.Equal(t, "Uber", rec.Payee().DisplayName())
	assert.Len(t, rec.CategoryLines(), 2)
	assert.Equal(t, "Travel", rec.AssignedCategories()[0].Name)
	assert.True(t, rec.SignedAmount("35").Equal(dec("-42.50")))
	assert.False(t, rec.HasLinkedTxn())
}

func TestDecode_PurchaseCredit(t *testing.T) {
	rec := decode(t, remote.KindPurchase, `{"Id": "9", "SyncToken": "0", "TotalAmt": 10, "Credit": true,
		"AccountRef": {"value": "41"}}`)

	assert.Equal(t, remote.SubtypeCreditCardCredit, rec.Subtype())
	assert.True(t, rec.SignedAmount("41").Equal(dec("10")))
}

func TestDecode_Deposit(t *testing.T) {
	rec := decode(t, remote.KindDeposit, `{
		"Id": "88", "SyncToken": "0", "TotalAmt": 1500,
		"DepositToAccountRef": {"value": "35"},
		"Line": [{"Amount": 1500, "Description": "invoice 12",
			"DepositLineDetail": {"AccountRef": {"value": "80", "name": "Sales"}, "Entity": {"value": "3", "name": "Acme Co"}}}]
	}`)

	assert.Equal(t, remote.SubtypeDeposit, rec.Subtype())
	assert.Equal(t, []string{"35"}, rec.AccountCandidates())
	assert.Equal(t, "Acme Co", rec.Payee().DisplayName())
	assert.Equal(t, []string{"invoice 12"}, rec.LineDescriptions())
	assert.True(t, rec.SignedAmount("35").Equal(dec("1500")))
}

func TestDecode_Transfer(t *testing.T) {
	rec := decode(t, remote.KindTransfer, `{"Id": "5", "SyncToken": "1", "Amount": 250,
		"FromAccountRef": {"value": "35", "name": "Checking"},
		"ToAccountRef": {"value": "36", "name": "Savings"}}`)

	assert.Equal(t, []string{"35", "36"}, rec.AccountCandidates())
	assert.Nil(t, rec.Payee())
	require.Len(t, rec.AssignedCategories(), 1)
	assert.Equal(t, "36", rec.AssignedCategories()[0].Value)
	assert.True(t, rec.SignedAmount("35").Equal(dec("-250")))
	assert.True(t, rec.SignedAmount("36").Equal(dec("250")))
}

func TestDecode_JournalEntry(t *testing.T) {
	rec := decode(t, remote.KindJournalEntry, `{"Id": "77", "SyncToken": "0",
		"Line": [
			{"Amount": 100, "Description": "reclass", "JournalEntryLineDetail": {"PostingType": "Debit", "AccountRef": {"value": "60", "name": "Rent"},
				"Entity": {"Type": "Vendor", "EntityRef": {"value": "9", "name": "Landlord LLC"}}}},
			{"Amount": 100, "JournalEntryLineDetail": {"PostingType": "Credit", "AccountRef": {"value": "35", "name": "Checking"}}}
		]}`)

	assert.Equal(t, []string{"60", "35"}, rec.AccountCandidates())
	assert.Equal(t, "Landlord LLC", rec.Payee().DisplayName())
	assert.Len(t, rec.AssignedCategories(), 2)
	assert.True(t, rec.SignedAmount("35").Equal(dec("-100")))
	assert.True(t, rec.SignedAmount("60").Equal(dec("100")))
}

func TestDecode_BillPayment(t *testing.T) {
	rec := decode(t, remote.KindBillPayment, `{"Id": "31", "SyncToken": "0", "TotalAmt": 80,
		"VendorRef": {"value": "12", "name": "Power Co"}, "PayType": "Check",
		"CheckPayment": {"BankAccountRef": {"value": "35"}},
		"Line": [{"Amount": 80, "LinkedTxn": [{"TxnId": "30", "TxnType": "Bill"}]}]}`)

	assert.Equal(t, []string{"35"}, rec.AccountCandidates())
	assert.Empty(t, rec.CategoryLines())
	assert.True(t, rec.HasLinkedTxn())
	assert.True(t, remote.LinksToBill(rec))
	assert.True(t, rec.SignedAmount("35").Equal(dec("-80")))
}

func TestDecode_UnknownKind(t *testing.T) {
	_, err := remote.Decode(remote.Kind("Invoice"), json.RawMessage(`{}`))
	assert.ErrorIs(t, err, remote.ErrUnknownKind)

	_, err = remote.Decode(remote.KindPurchase, json.RawMessage(`{not json`))
	assert.Error(t, err)
}

func TestLinksToBill_LineLink(t *testing.T) {
	rec := decode(t, remote.KindPurchase, `{"Id": "1", "SyncToken": "0", "Line": [{"Amount": 5, "LinkedTxn": [{"TxnId": "2", "TxnType": "Bill"}]}]}`)
	assert.True(t, remote.LinksToBill(rec))

	rec = decode(t, remote.KindPurchase, `{"Id": "1", "SyncToken": "0", "LinkedTxn": [{"TxnId": "2", "TxnType": "Deposit"}]}`)
	assert.False(t, remote.LinksToBill(rec))
	assert.True(t, rec.HasLinkedTxn())
}

func TestBase_Signals(t *testing.T) {
	tests := []struct {
		name      string
		base      remote.Base
		origin    remote.Origin
		clearance remote.Clearance
		revision  int
		removed   bool
	}{
		{"manual default", remote.Base{SyncToken: "0"}, remote.OriginManual, remote.ClearanceUnknown, 0, false},
		{"bank feed", remote.Base{SyncToken: "3", TxnSource: "BankFeed", ClearedStatus: "Cleared"}, remote.OriginBankFeed, remote.ClearanceCleared, 3, false},
		{"bank feed default", remote.Base{SyncToken: "1", TxnSource: "bank_feed_default", ClearedStatus: "Uncleared"}, remote.OriginBankFeedDefault, remote.ClearanceUncleared, 1, false},
		{"bad token", remote.Base{SyncToken: "x", ClearedStatus: "Reconciled"}, remote.OriginManual, remote.ClearanceReconciled, -1, false},
		{"deleted", remote.Base{SyncToken: "4", Status: "Deleted"}, remote.OriginManual, remote.ClearanceUnknown, 4, true},
		{"voided note", remote.Base{SyncToken: "4", PrivateNote: "Voided by admin"}, remote.OriginManual, remote.ClearanceUnknown, 4, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.origin, tt.base.Origin())
			assert.Equal(t, tt.clearance, tt.base.Clearance())
			assert.Equal(t, tt.revision, tt.base.Revision())
			assert.Equal(t, tt.removed, tt.base.Removed())
		})
	}
}

func TestKindForSubtype(t *testing.T) {
	k, err := remote.KindForSubtype(remote.SubtypeCreditCardCredit)
	require.NoError(t, err)
	assert.Equal(t, remote.KindPurchase, k)

	_, err = remote.KindForSubtype("invoice")
	assert.ErrorIs(t, err, remote.ErrUnknownKind)
}

func TestAccountRecord_IsBankLike(t *testing.T) {
	assert.True(t, (&remote.AccountRecord{AccountType: "Bank"}).IsBankLike())
	assert.True(t, (&remote.AccountRecord{AccountType: "Credit Card"}).IsBankLike())
	assert.False(t, (&remote.AccountRecord{AccountType: "Expense"}).IsBankLike())

	a := &remote.AccountRecord{Name: "Meals", FullyQualifiedName: "Travel:Meals"}
	assert.Equal(t, "Travel:Meals", a.DisplayName())
}
