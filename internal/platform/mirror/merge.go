package mirror

import (
	"time"

	"github.com/google/uuid"
)

// MergeSynced folds a freshly synced record into the stored one and returns the
// record to persist. It is the only place sync output meets local state:
//
//   - remote-owned fields always take the incoming values
//   - workflow status never moves backwards
//   - once status is pending_approval or approved, classification fields are kept
//   - an unclassified record picks up the remote category hint as its suggestion
//
// existing may be nil for a first sighting. Neither argument is modified.
func MergeSynced(existing, incoming *Transaction, now time.Time) *Transaction {
	if existing == nil {
		out := *incoming
		if out.ID == uuid.Nil {
			out.ID = uuid.New()
		}
		out.Status = StatusUnmatched
		out.ClearSuggestion()
		applyHint(&out)
		out.CreatedAt = now
		out.UpdatedAt = now
		return &out
	}

	out := *existing
	out.Tags = append([]string(nil), existing.Tags...)

	out.AccountID = incoming.AccountID
	out.Subtype = incoming.Subtype
	out.Date = incoming.Date
	out.Amount = incoming.Amount
	out.Currency = incoming.Currency
	out.Description = incoming.Description
	out.Payee = incoming.Payee
	out.VersionToken = incoming.VersionToken
	out.Payload = incoming.Payload
	out.HintCategoryID = incoming.HintCategoryID
	out.HintCategoryName = incoming.HintCategoryName
	out.Resolved = incoming.Resolved
	out.ResolutionReason = incoming.ResolutionReason

	if !out.Status.Advanced() && out.ClassifiedBy == SourceNone {
		applyHint(&out)
	}

	if !sameRemoteState(existing, &out) {
		out.UpdatedAt = now
	}
	return &out
}

func applyHint(t *Transaction) {
	t.SuggestedCategoryID = t.HintCategoryID
	t.SuggestedCategoryName = t.HintCategoryName
}

func sameRemoteState(a, b *Transaction) bool {
	return a.AccountID == b.AccountID &&
		a.Subtype == b.Subtype &&
		a.Date.Equal(b.Date) &&
		a.Amount.Equal(b.Amount) &&
		a.Currency == b.Currency &&
		a.Description == b.Description &&
		a.Payee == b.Payee &&
		a.VersionToken == b.VersionToken &&
		string(a.Payload) == string(b.Payload) &&
		a.HintCategoryID == b.HintCategoryID &&
		a.Resolved == b.Resolved &&
		a.ResolutionReason == b.ResolutionReason &&
		a.SuggestedCategoryID == b.SuggestedCategoryID
}
