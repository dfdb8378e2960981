package sync

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kislikjeka/booksync/internal/platform/mirror"
	"github.com/kislikjeka/booksync/internal/platform/remote"
	"github.com/kislikjeka/booksync/internal/platform/resolution"
)

// NoDescription is stored when neither payee nor line memo names the record
const NoDescription = "No description"

var (
	errRemoved         = errors.New("record is voided or deleted upstream")
	errNoActiveAccount = errors.New("record does not belong to an active account")
)

// Processor normalizes raw records of one connection into mirror upserts.
// It is built once per pass from the reference data synced at the start of it.
type Processor struct {
	connID   uuid.UUID
	accounts map[string]*mirror.Account
	vendors  map[string]string
}

// NewProcessor indexes the active accounts and vendor names of a connection
func NewProcessor(connID uuid.UUID, accounts []*mirror.Account, vendors []*mirror.Vendor) *Processor {
	p := &Processor{
		connID:   connID,
		accounts: make(map[string]*mirror.Account, len(accounts)),
		vendors:  make(map[string]string, len(vendors)),
	}
	for _, a := range accounts {
		if a.IsActive {
			p.accounts[a.RemoteID] = a
		}
	}
	for _, v := range vendors {
		p.vendors[v.RemoteID] = v.Name
	}
	return p
}

// ActiveAccounts is the number of accounts records can be mirrored under
func (p *Processor) ActiveAccounts() int {
	return len(p.accounts)
}

// Normalize converts one raw record. It returns errRemoved or errNoActiveAccount
// for records that are skipped, and a decode error for unreadable payloads.
func (p *Processor) Normalize(kind remote.Kind, raw json.RawMessage) (*mirror.Transaction, error) {
	rec, err := remote.Decode(kind, raw)
	if err != nil {
		return nil, err
	}
	h := rec.Header()
	if h.Removed() {
		return nil, errRemoved
	}

	owner := p.owningAccount(rec)
	if owner == nil {
		return nil, errNoActiveAccount
	}

	date, err := parseDate(h.TxnDate)
	if err != nil {
		return nil, fmt.Errorf("record %s %s: %w", kind, h.ID, err)
	}

	currency := h.Currency()
	if currency == "" {
		currency = owner.Currency
	}

	hintID, hintName := categoryHint(rec, owner.RemoteID)
	decision := resolution.EvaluateRecord(rec)

	return &mirror.Transaction{
		ConnectionID:     p.connID,
		RemoteID:         h.ID,
		RemoteKind:       kind,
		Subtype:          rec.Subtype(),
		AccountID:        owner.RemoteID,
		Date:             date,
		Amount:           rec.SignedAmount(owner.RemoteID),
		Currency:         currency,
		Description:      p.describe(rec),
		Payee:            p.payeeName(rec),
		VersionToken:     h.SyncToken,
		Payload:          append(json.RawMessage(nil), raw...),
		HintCategoryID:   hintID,
		HintCategoryName: hintName,
		Resolved:         decision.Resolved,
		ResolutionReason: decision.Reason,
	}, nil
}

// owningAccount walks the kind's reference fields and returns the first active account
func (p *Processor) owningAccount(rec remote.Record) *mirror.Account {
	for _, id := range rec.AccountCandidates() {
		if a, ok := p.accounts[id]; ok {
			return a
		}
	}
	return nil
}

// describe picks entity name, then local vendor name, then the first line memo
func (p *Processor) describe(rec remote.Record) string {
	if name := p.payeeName(rec); name != "" {
		return name
	}
	for _, d := range rec.LineDescriptions() {
		if d = strings.TrimSpace(d); d != "" {
			return d
		}
	}
	return NoDescription
}

func (p *Processor) payeeName(rec remote.Record) string {
	payee := rec.Payee()
	if name := payee.DisplayName(); name != "" {
		return name
	}
	return strings.TrimSpace(p.vendors[payee.ID()])
}

// categoryHint is the first line account that is not the owning account
func categoryHint(rec remote.Record, ownerID string) (string, string) {
	for _, l := range rec.CategoryLines() {
		if id := l.Account.ID(); id != "" && id != ownerID {
			return id, l.Account.DisplayName()
		}
	}
	return "", ""
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("missing transaction date")
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid transaction date %q", s)
}

// recordID pulls the id out of a payload that may not decode as its kind
func recordID(raw json.RawMessage) string {
	var head struct {
		ID string `json:"Id"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return ""
	}
	return head.ID
}
