package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Kind is a remote entity kind as named by the remote query language
type Kind string

const (
	KindPurchase     Kind = "Purchase"
	KindDeposit      Kind = "Deposit"
	KindTransfer     Kind = "Transfer"
	KindJournalEntry Kind = "JournalEntry"
	KindBillPayment  Kind = "BillPayment"

	KindAccount  Kind = "Account"
	KindVendor   Kind = "Vendor"
	KindCustomer Kind = "Customer"
)

// TransactionKinds are the transaction-like kinds mirrored by sync, in processing order
var TransactionKinds = []Kind{
	KindPurchase,
	KindDeposit,
	KindTransfer,
	KindJournalEntry,
	KindBillPayment,
}

// ErrUnknownKind is returned when a payload kind has no decoder
var ErrUnknownKind = errors.New("unknown remote entity kind")

// Subtype is the local remote-subtype tag stored on a mirrored transaction
type Subtype string

const (
	SubtypeExpense          Subtype = "expense"
	SubtypeCreditCardCredit Subtype = "credit_card_credit"
	SubtypeDeposit          Subtype = "deposit"
	SubtypeTransfer         Subtype = "transfer"
	SubtypeJournalEntry     Subtype = "journal_entry"
	SubtypeBillPayment      Subtype = "bill_payment"
)

// Origin distinguishes hand-entered records from bank-feed imports
type Origin string

const (
	OriginManual          Origin = "manual"
	OriginBankFeed        Origin = "bank_feed"
	OriginBankFeedDefault Origin = "bank_feed_default"
)

// Clearance is the remote clearance tri-state; ClearanceUnknown when the payload carries none
type Clearance string

const (
	ClearanceUnknown    Clearance = ""
	ClearanceUncleared  Clearance = "uncleared"
	ClearanceCleared    Clearance = "cleared"
	ClearanceReconciled Clearance = "reconciled"
)

// Ref is a remote reference ({"value": id, "name": display name})
type Ref struct {
	Value string `json:"value"`
	Name  string `json:"name,omitempty"`
	Type  string `json:"type,omitempty"`
}

// ID returns the referenced id, empty for a nil ref
func (r *Ref) ID() string {
	if r == nil {
		return ""
	}
	return strings.TrimSpace(r.Value)
}

// DisplayName returns the referenced name, empty for a nil ref
func (r *Ref) DisplayName() string {
	if r == nil {
		return ""
	}
	return strings.TrimSpace(r.Name)
}

// LinkedTxn is the remote system's own link/match annotation
type LinkedTxn struct {
	TxnID   string `json:"TxnId"`
	TxnType string `json:"TxnType"`
}

// Base holds the header fields shared by every transaction kind
type Base struct {
	ID            string          `json:"Id"`
	SyncToken     string          `json:"SyncToken"`
	TxnDate       string          `json:"TxnDate"`
	DocNumber     string          `json:"DocNumber,omitempty"`
	PrivateNote   string          `json:"PrivateNote,omitempty"`
	CurrencyRef   *Ref            `json:"CurrencyRef,omitempty"`
	TxnSource     string          `json:"TxnSource,omitempty"`
	ClearedStatus string          `json:"ClearedStatus,omitempty"`
	Status        string          `json:"status,omitempty"`
	LinkedTxn     []LinkedTxn     `json:"LinkedTxn,omitempty"`
	TotalAmt      decimal.Decimal `json:"TotalAmt"`
}

// Revision parses the version token as the remote revision counter. -1 if absent or malformed.
func (b *Base) Revision() int {
	n, err := strconv.Atoi(strings.TrimSpace(b.SyncToken))
	if err != nil || n < 0 {
		return -1
	}
	return n
}

// Origin classifies TxnSource. Unknown non-empty sources count as bank-feed imports.
func (b *Base) Origin() Origin {
	src := strings.ToLower(strings.NewReplacer("_", "", " ", "", "-", "").Replace(b.TxnSource))
	switch src {
	case "", "manual", "qbo":
		return OriginManual
	case "bankfeeddefault":
		return OriginBankFeedDefault
	default:
		return OriginBankFeed
	}
}

// Clearance normalizes ClearedStatus
func (b *Base) Clearance() Clearance {
	switch strings.ToLower(strings.TrimSpace(b.ClearedStatus)) {
	case "uncleared", "notcleared", "not_cleared":
		return ClearanceUncleared
	case "cleared":
		return ClearanceCleared
	case "reconciled":
		return ClearanceReconciled
	default:
		return ClearanceUnknown
	}
}

// Currency returns the currency code, empty when the payload carries none
func (b *Base) Currency() string {
	return b.CurrencyRef.ID()
}

// Removed reports whether the record was voided or deleted upstream
func (b *Base) Removed() bool {
	switch strings.ToLower(b.Status) {
	case "deleted", "voided":
		return true
	}
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(b.PrivateNote)), "voided")
}

// Line is one detail line. Only the detail block matching the owning kind is populated.
type Line struct {
	ID                            string          `json:"Id,omitempty"`
	LineNum                       int             `json:"LineNum,omitempty"`
	Description                   string          `json:"Description,omitempty"`
	Amount                        decimal.Decimal `json:"Amount"`
	DetailType                    string          `json:"DetailType,omitempty"`
	AccountBasedExpenseLineDetail *ExpenseDetail  `json:"AccountBasedExpenseLineDetail,omitempty"`
	DepositLineDetail             *DepositDetail  `json:"DepositLineDetail,omitempty"`
	JournalEntryLineDetail        *JournalDetail  `json:"JournalEntryLineDetail,omitempty"`
	LinkedTxn                     []LinkedTxn     `json:"LinkedTxn,omitempty"`
}

// ExpenseDetail is the category assignment of an expense line
type ExpenseDetail struct {
	AccountRef *Ref `json:"AccountRef,omitempty"`
}

// DepositDetail is the category and payer of a deposit line
type DepositDetail struct {
	AccountRef *Ref `json:"AccountRef,omitempty"`
	Entity     *Ref `json:"Entity,omitempty"`
}

// JournalDetail is one posting of a journal entry
type JournalDetail struct {
	PostingType string         `json:"PostingType"`
	AccountRef  *Ref           `json:"AccountRef,omitempty"`
	Entity      *JournalEntity `json:"Entity,omitempty"`
}

// JournalEntity names the party of a journal posting
type JournalEntity struct {
	Type      string `json:"Type,omitempty"`
	EntityRef *Ref   `json:"EntityRef,omitempty"`
}

// CategoryLine is a kind-independent view of one line's account reference
type CategoryLine struct {
	Account     Ref
	Amount      decimal.Decimal
	Description string
}

// Record is implemented by every transaction-like kind. Each kind supplies all
// extraction methods, so adding a kind without its account and category rules
// does not compile.
type Record interface {
	Kind() Kind
	Subtype() Subtype
	Header() *Base

	// AccountCandidates lists the reference fields that may name the owning
	// account, in the order they should be tried.
	AccountCandidates() []string

	// CategoryLines lists every line-level account reference in payload order.
	CategoryLines() []CategoryLine

	// AssignedCategories lists the references the remote system considers the
	// record's category assignment.
	AssignedCategories() []Ref

	// Payee returns the payee/entity reference, nil if none.
	Payee() *Ref

	// LineDescriptions lists line memos in payload order.
	LineDescriptions() []string

	// HasLinkedTxn reports a remote match annotation at header or line level.
	HasLinkedTxn() bool

	// SignedAmount is the amount from the owning account's point of view:
	// negative for money leaving it.
	SignedAmount(owningAccountID string) decimal.Decimal
}

// Decode parses a verbatim payload into its kind-specific record
func Decode(kind Kind, raw json.RawMessage) (Record, error) {
	var rec Record
	switch kind {
	case KindPurchase:
		rec = &Purchase{}
	case KindDeposit:
		rec = &Deposit{}
	case KindTransfer:
		rec = &Transfer{}
	case KindJournalEntry:
		rec = &JournalEntry{}
	case KindBillPayment:
		rec = &BillPayment{}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	if err := json.Unmarshal(raw, rec); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", kind, err)
	}
	return rec, nil
}

// KindForSubtype maps a stored subtype tag back to the remote kind
func KindForSubtype(s Subtype) (Kind, error) {
	switch s {
	case SubtypeExpense, SubtypeCreditCardCredit:
		return KindPurchase, nil
	case SubtypeDeposit:
		return KindDeposit, nil
	case SubtypeTransfer:
		return KindTransfer, nil
	case SubtypeJournalEntry:
		return KindJournalEntry, nil
	case SubtypeBillPayment:
		return KindBillPayment, nil
	default:
		return "", fmt.Errorf("%w: subtype %s", ErrUnknownKind, s)
	}
}

func linesHaveLinks(lines []Line) bool {
	for _, l := range lines {
		if len(l.LinkedTxn) > 0 {
			return true
		}
	}
	return false
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
