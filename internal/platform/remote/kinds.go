package remote

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Purchase is an expense paid from a bank or credit-card account. Credit marks a
// credit-card credit (refund) rather than a charge.
type Purchase struct {
	Base
	AccountRef  *Ref   `json:"AccountRef,omitempty"`
	PaymentType string `json:"PaymentType,omitempty"`
	EntityRef   *Ref   `json:"EntityRef,omitempty"`
	Credit      bool   `json:"Credit,omitempty"`
	Line        []Line `json:"Line,omitempty"`
}

func (p *Purchase) Kind() Kind    { return KindPurchase }
func (p *Purchase) Header() *Base { return &p.Base }
func (p *Purchase) Payee() *Ref   { return p.EntityRef }
func (p *Purchase) HasLinkedTxn() bool {
	return len(p.LinkedTxn) > 0 || linesHaveLinks(p.Line)
}

func (p *Purchase) Subtype() Subtype {
	if p.Credit {
		return SubtypeCreditCardCredit
	}
	return SubtypeExpense
}

func (p *Purchase) AccountCandidates() []string {
	return nonEmpty(p.AccountRef.ID())
}

func (p *Purchase) CategoryLines() []CategoryLine {
	var out []CategoryLine
	for _, l := range p.Line {
		if l.AccountBasedExpenseLineDetail == nil || l.AccountBasedExpenseLineDetail.AccountRef.ID() == "" {
			continue
		}
		out = append(out, CategoryLine{
			Account:     *l.AccountBasedExpenseLineDetail.AccountRef,
			Amount:      l.Amount,
			Description: l.Description,
		})
	}
	return out
}

func (p *Purchase) AssignedCategories() []Ref {
	return accountsOf(p.CategoryLines())
}

func (p *Purchase) LineDescriptions() []string {
	return descriptionsOf(p.Line)
}

func (p *Purchase) SignedAmount(string) decimal.Decimal {
	if p.Credit {
		return p.TotalAmt.Abs()
	}
	return p.TotalAmt.Abs().Neg()
}

// Deposit is money received into a bank account
type Deposit struct {
	Base
	DepositToAccountRef *Ref   `json:"DepositToAccountRef,omitempty"`
	Line                []Line `json:"Line,omitempty"`
}

func (d *Deposit) Kind() Kind       { return KindDeposit }
func (d *Deposit) Subtype() Subtype { return SubtypeDeposit }
func (d *Deposit) Header() *Base    { return &d.Base }
func (d *Deposit) HasLinkedTxn() bool {
	return len(d.LinkedTxn) > 0 || linesHaveLinks(d.Line)
}

func (d *Deposit) AccountCandidates() []string {
	return nonEmpty(d.DepositToAccountRef.ID())
}

func (d *Deposit) CategoryLines() []CategoryLine {
	var out []CategoryLine
	for _, l := range d.Line {
		if l.DepositLineDetail == nil || l.DepositLineDetail.AccountRef.ID() == "" {
			continue
		}
		out = append(out, CategoryLine{
			Account:     *l.DepositLineDetail.AccountRef,
			Amount:      l.Amount,
			Description: l.Description,
		})
	}
	return out
}

func (d *Deposit) AssignedCategories() []Ref {
	return accountsOf(d.CategoryLines())
}

func (d *Deposit) Payee() *Ref {
	for _, l := range d.Line {
		if l.DepositLineDetail != nil && l.DepositLineDetail.Entity.ID() != "" {
			return l.DepositLineDetail.Entity
		}
	}
	return nil
}

func (d *Deposit) LineDescriptions() []string {
	return descriptionsOf(d.Line)
}

func (d *Deposit) SignedAmount(string) decimal.Decimal {
	return d.TotalAmt.Abs()
}

// Transfer moves money between two of the company's own accounts
type Transfer struct {
	Base
	FromAccountRef *Ref            `json:"FromAccountRef,omitempty"`
	ToAccountRef   *Ref            `json:"ToAccountRef,omitempty"`
	Amount         decimal.Decimal `json:"Amount"`
}

func (t *Transfer) Kind() Kind                 { return KindTransfer }
func (t *Transfer) Subtype() Subtype           { return SubtypeTransfer }
func (t *Transfer) Header() *Base              { return &t.Base }
func (t *Transfer) Payee() *Ref                { return nil }
func (t *Transfer) LineDescriptions() []string { return nil }
func (t *Transfer) HasLinkedTxn() bool         { return len(t.LinkedTxn) > 0 }

func (t *Transfer) AccountCandidates() []string {
	return nonEmpty(t.FromAccountRef.ID(), t.ToAccountRef.ID())
}

// CategoryLines presents both sides so the counter-account becomes the category hint
func (t *Transfer) CategoryLines() []CategoryLine {
	var out []CategoryLine
	if t.FromAccountRef.ID() != "" {
		out = append(out, CategoryLine{Account: *t.FromAccountRef, Amount: t.Amount})
	}
	if t.ToAccountRef.ID() != "" {
		out = append(out, CategoryLine{Account: *t.ToAccountRef, Amount: t.Amount})
	}
	return out
}

// AssignedCategories is the destination account once both sides are set
func (t *Transfer) AssignedCategories() []Ref {
	if t.FromAccountRef.ID() == "" || t.ToAccountRef.ID() == "" {
		return nil
	}
	return []Ref{*t.ToAccountRef}
}

func (t *Transfer) SignedAmount(owningAccountID string) decimal.Decimal {
	if owningAccountID != "" && owningAccountID == t.FromAccountRef.ID() {
		return t.Amount.Abs().Neg()
	}
	return t.Amount.Abs()
}

// JournalEntry is a set of debit/credit postings
type JournalEntry struct {
	Base
	Line []Line `json:"Line,omitempty"`
}

func (j *JournalEntry) Kind() Kind       { return KindJournalEntry }
func (j *JournalEntry) Subtype() Subtype { return SubtypeJournalEntry }
func (j *JournalEntry) Header() *Base    { return &j.Base }
func (j *JournalEntry) HasLinkedTxn() bool {
	return len(j.LinkedTxn) > 0 || linesHaveLinks(j.Line)
}

func (j *JournalEntry) AccountCandidates() []string {
	var refs []string
	for _, l := range j.Line {
		if l.JournalEntryLineDetail != nil {
			refs = append(refs, l.JournalEntryLineDetail.AccountRef.ID())
		}
	}
	return nonEmpty(refs...)
}

func (j *JournalEntry) CategoryLines() []CategoryLine {
	var out []CategoryLine
	for _, l := range j.Line {
		if l.JournalEntryLineDetail == nil || l.JournalEntryLineDetail.AccountRef.ID() == "" {
			continue
		}
		out = append(out, CategoryLine{
			Account:     *l.JournalEntryLineDetail.AccountRef,
			Amount:      l.Amount,
			Description: l.Description,
		})
	}
	return out
}

// AssignedCategories is every posting account; a journal entry with fewer than
// two postings has no meaningful assignment.
func (j *JournalEntry) AssignedCategories() []Ref {
	lines := j.CategoryLines()
	if len(lines) < 2 {
		return nil
	}
	return accountsOf(lines)
}

func (j *JournalEntry) Payee() *Ref {
	for _, l := range j.Line {
		d := l.JournalEntryLineDetail
		if d != nil && d.Entity != nil && d.Entity.EntityRef.ID() != "" {
			return d.Entity.EntityRef
		}
	}
	return nil
}

func (j *JournalEntry) LineDescriptions() []string {
	return descriptionsOf(j.Line)
}

// SignedAmount nets the owning account's postings: debits increase, credits decrease.
func (j *JournalEntry) SignedAmount(owningAccountID string) decimal.Decimal {
	total := decimal.Zero
	for _, l := range j.Line {
		d := l.JournalEntryLineDetail
		if d == nil || d.AccountRef.ID() != owningAccountID {
			continue
		}
		if strings.EqualFold(d.PostingType, "Credit") {
			total = total.Sub(l.Amount.Abs())
		} else {
			total = total.Add(l.Amount.Abs())
		}
	}
	return total
}

// BillPayment pays one or more vendor bills
type BillPayment struct {
	Base
	VendorRef         *Ref               `json:"VendorRef,omitempty"`
	PayType           string             `json:"PayType,omitempty"`
	CheckPayment      *CheckPayment      `json:"CheckPayment,omitempty"`
	CreditCardPayment *CreditCardPayment `json:"CreditCardPayment,omitempty"`
	Line              []Line             `json:"Line,omitempty"`
}

// CheckPayment names the bank account a bill payment was drawn on
type CheckPayment struct {
	BankAccountRef *Ref `json:"BankAccountRef,omitempty"`
}

// CreditCardPayment names the card a bill payment was charged to
type CreditCardPayment struct {
	CCAccountRef *Ref `json:"CCAccountRef,omitempty"`
}

func (b *BillPayment) Kind() Kind                    { return KindBillPayment }
func (b *BillPayment) Subtype() Subtype              { return SubtypeBillPayment }
func (b *BillPayment) Header() *Base                 { return &b.Base }
func (b *BillPayment) Payee() *Ref                   { return b.VendorRef }
func (b *BillPayment) CategoryLines() []CategoryLine { return nil }
func (b *BillPayment) AssignedCategories() []Ref     { return nil }
func (b *BillPayment) LineDescriptions() []string    { return descriptionsOf(b.Line) }
func (b *BillPayment) HasLinkedTxn() bool {
	return len(b.LinkedTxn) > 0 || linesHaveLinks(b.Line)
}

func (b *BillPayment) AccountCandidates() []string {
	var bank, card string
	if b.CheckPayment != nil {
		bank = b.CheckPayment.BankAccountRef.ID()
	}
	if b.CreditCardPayment != nil {
		card = b.CreditCardPayment.CCAccountRef.ID()
	}
	return nonEmpty(bank, card)
}

func (b *BillPayment) SignedAmount(string) decimal.Decimal {
	return b.TotalAmt.Abs().Neg()
}

// LinksToBill reports whether any header or line link of rec points at a bill
func LinksToBill(rec Record) bool {
	if rec.Kind() == KindBillPayment {
		return true
	}
	for _, l := range rec.Header().LinkedTxn {
		if strings.EqualFold(l.TxnType, "Bill") {
			return true
		}
	}
	for _, l := range linesOf(rec) {
		for _, link := range l.LinkedTxn {
			if strings.EqualFold(link.TxnType, "Bill") {
				return true
			}
		}
	}
	return false
}

func linesOf(rec Record) []Line {
	switch r := rec.(type) {
	case *Purchase:
		return r.Line
	case *Deposit:
		return r.Line
	case *JournalEntry:
		return r.Line
	case *BillPayment:
		return r.Line
	default:
		return nil
	}
}

func accountsOf(lines []CategoryLine) []Ref {
	out := make([]Ref, 0, len(lines))
	for _, l := range lines {
		out = append(out, l.Account)
	}
	return out
}

func descriptionsOf(lines []Line) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		out = append(out, l.Description)
	}
	return out
}
