package resolution_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kislikjeka/booksync/internal/platform/remote"
	"github.com/kislikjeka/booksync/internal/platform/resolution"
)

func TestEvaluate_ManualFreshWithoutCategory(t *testing.T) {
	payload := json.RawMessage(`{"Id": "1", "SyncToken": "0", "TotalAmt": 12.5, "AccountRef": {"value": "35"}}`)

	d := resolution.Evaluate(remote.KindPurchase, payload)

	assert.True(t, d.Resolved)
	assert.Contains(t, d.Reason, "fresh")
}

func TestEvaluate_ManualEditedWithoutCategory(t *testing.T) {
	payload := json.RawMessage(`{"Id": "1", "SyncToken": "1", "TotalAmt": 12.5, "AccountRef": {"value": "35"}}`)

	d := resolution.Evaluate(remote.KindPurchase, payload)

	assert.False(t, d.Resolved)
	assert.Equal(t, resolution.ReasonManualEdited, d.Reason)
}

func TestEvaluate_BankFeedLinkedAlwaysNeedsReview(t *testing.T) {
	payloads := []string{
		// no category
		`{"Id": "2", "SyncToken": "3", "TxnSource": "BankFeed", "ClearedStatus": "Reconciled",
		  "LinkedTxn": [{"TxnId": "9", "TxnType": "Deposit"}]}`,
		// fully categorized with payee
		`{"Id": "2", "SyncToken": "3", "TxnSource": "BankFeed", "ClearedStatus": "Reconciled",
		  "EntityRef": {"value": "4", "name": "Uber"},
		  "LinkedTxn": [{"TxnId": "9", "TxnType": "Deposit"}],
		  "Line": [{"Amount": 5, "AccountBasedExpenseLineDetail": {"AccountRef": {"value": "56", "name": "Travel"}}}]}`,
	}

	for _, p := range payloads {
		d := resolution.Evaluate(remote.KindPurchase, json.RawMessage(p))
		assert.False(t, d.Resolved)
		assert.Equal(t, resolution.ReasonFeedLinked, d.Reason)
	}
}

func TestEvaluate_DecisionOrder(t *testing.T) {
	tests := []struct {
		name     string
		kind     remote.Kind
		payload  string
		resolved bool
		reason   string
	}{
		{
			name:     "bill payment overrides a categorized manual entry",
			kind:     remote.KindBillPayment,
			payload:  `{"Id": "1", "SyncToken": "0", "VendorRef": {"value": "3", "name": "Power"}}`,
			resolved: false,
			reason:   resolution.ReasonBillPayment,
		},
		{
			name: "purchase linked to a bill",
			kind: remote.KindPurchase,
			payload: `{"Id": "1", "SyncToken": "0",
				"Line": [{"Amount": 5, "LinkedTxn": [{"TxnId": "8", "TxnType": "Bill"}],
				"AccountBasedExpenseLineDetail": {"AccountRef": {"value": "56", "name": "Travel"}}}]}`,
			resolved: false,
			reason:   resolution.ReasonBillPayment,
		},
		{
			name:     "manual with suggested match",
			kind:     remote.KindDeposit,
			payload:  `{"Id": "1", "SyncToken": "0", "LinkedTxn": [{"TxnId": "8", "TxnType": "Payment"}]}`,
			resolved: false,
			reason:   resolution.ReasonManualLinked,
		},
		{
			name: "manual with specific category",
			kind: remote.KindPurchase,
			payload: `{"Id": "1", "SyncToken": "5", "ClearedStatus": "Uncleared",
				"Line": [{"Amount": 5, "AccountBasedExpenseLineDetail": {"AccountRef": {"value": "56", "name": "Travel"}}}]}`,
			resolved: true,
			reason:   resolution.ReasonManualCategorized,
		},
		{
			name: "manual with placeholder category and uncleared",
			kind: remote.KindPurchase,
			payload: `{"Id": "1", "SyncToken": "0", "ClearedStatus": "Uncleared",
				"Line": [{"Amount": 5, "AccountBasedExpenseLineDetail": {"AccountRef": {"value": "2", "name": "Uncategorized Expense"}}}]}`,
			resolved: false,
			reason:   resolution.ReasonManualUncleared,
		},
		{
			name: "manual fresh with ask my accountant",
			kind: remote.KindPurchase,
			payload: `{"Id": "1", "SyncToken": "0",
				"Line": [{"Amount": 5, "AccountBasedExpenseLineDetail": {"AccountRef": {"value": "3", "name": "Ask My Accountant"}}}]}`,
			resolved: true,
			reason:   resolution.ReasonManualFresh,
		},
		{
			name:     "bank feed default not cleared",
			kind:     remote.KindPurchase,
			payload:  `{"Id": "1", "SyncToken": "0", "TxnSource": "BankFeedDefault", "ClearedStatus": "Uncleared"}`,
			resolved: false,
			reason:   resolution.ReasonFeedDefaultPending,
		},
		{
			name:     "bank feed without category",
			kind:     remote.KindPurchase,
			payload:  `{"Id": "1", "SyncToken": "0", "TxnSource": "BankFeedDefault", "ClearedStatus": "Cleared", "EntityRef": {"value": "4"}}`,
			resolved: false,
			reason:   resolution.ReasonFeedUncategorized,
		},
		{
			name: "bank feed without payee",
			kind: remote.KindPurchase,
			payload: `{"Id": "1", "SyncToken": "0", "TxnSource": "BankFeed",
				"Line": [{"Amount": 5, "AccountBasedExpenseLineDetail": {"AccountRef": {"value": "56", "name": "Travel"}}}]}`,
			resolved: false,
			reason:   resolution.ReasonFeedNoPayee,
		},
		{
			name: "bank feed check awaiting reconciliation",
			kind: remote.KindPurchase,
			payload: `{"Id": "1", "SyncToken": "0", "TxnSource": "BankFeed", "DocNumber": "1042", "ClearedStatus": "Cleared",
				"EntityRef": {"value": "4", "name": "Landlord"},
				"Line": [{"Amount": 5, "AccountBasedExpenseLineDetail": {"AccountRef": {"value": "60", "name": "Rent"}}}]}`,
			resolved: false,
			reason:   resolution.ReasonFeedCheckPending,
		},
		{
			name: "bank feed reconciled check",
			kind: remote.KindPurchase,
			payload: `{"Id": "1", "SyncToken": "0", "TxnSource": "BankFeed", "DocNumber": "1042", "ClearedStatus": "Reconciled",
				"EntityRef": {"value": "4", "name": "Landlord"},
				"Line": [{"Amount": 5, "AccountBasedExpenseLineDetail": {"AccountRef": {"value": "60", "name": "Rent"}}}]}`,
			resolved: true,
			reason:   resolution.ReasonFeedResolved,
		},
		{
			name:     "unreadable payload",
			kind:     remote.KindPurchase,
			payload:  `[1,2`,
			resolved: false,
			reason:   resolution.ReasonUnreadable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := resolution.Evaluate(tt.kind, json.RawMessage(tt.payload))
			assert.Equal(t, tt.resolved, d.Resolved)
			assert.Equal(t, tt.reason, d.Reason)
		})
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	payload := json.RawMessage(`{"Id": "1", "SyncToken": "2", "TxnSource": "BankFeed", "EntityRef": {"value": "4", "name": "Uber"},
		"Line": [{"Amount": 5, "AccountBasedExpenseLineDetail": {"AccountRef": {"value": "56", "name": "Travel"}}}]}`)

	first := resolution.Evaluate(remote.KindPurchase, payload)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, resolution.Evaluate(remote.KindPurchase, payload))
	}
}

func TestIsPlaceholder(t *testing.T) {
	assert.True(t, resolution.IsPlaceholder("Uncategorized Income"))
	assert.True(t, resolution.IsPlaceholder("  ask my accountant"))
	assert.True(t, resolution.IsPlaceholder("Opening Balance Equity"))
	assert.False(t, resolution.IsPlaceholder("Meals and Entertainment"))
	assert.False(t, resolution.IsPlaceholder(""))
}
