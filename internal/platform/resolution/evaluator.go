// Package resolution decides whether a mirrored record is already settled in the
// remote system or still needs human review. Evaluation depends only on the
// verbatim payload, so it is safe to re-run on every sync and from remediation tooling.
package resolution

import (
	"encoding/json"
	"strings"

	"github.com/kislikjeka/booksync/internal/platform/remote"
)

// Decision is the outcome of evaluating one payload
type Decision struct {
	Resolved bool
	Reason   string
}

// Reasons. Stored on the mirrored record and shown in review queues.
const (
	ReasonBillPayment        = "payment against a bill always needs verification"
	ReasonManualLinked       = "manual entry carries a suggested match"
	ReasonManualCategorized  = "manual entry has a specific category"
	ReasonManualUncleared    = "manual entry is uncleared"
	ReasonManualFresh        = "manual entry is fresh (revision 0) and assumed intentional"
	ReasonManualEdited       = "manual entry was edited without a specific category"
	ReasonFeedLinked         = "bank-feed entry carries a suggested match"
	ReasonFeedDefaultPending = "bank-feed default suggestion is not cleared"
	ReasonFeedUncategorized  = "bank-feed entry has no specific category"
	ReasonFeedNoPayee        = "bank-feed entry has no payee"
	ReasonFeedCheckPending   = "bank-feed entry has a document number and is not reconciled"
	ReasonFeedResolved       = "bank-feed entry is categorized with a payee"
	ReasonUnreadable         = "payload could not be decoded"
)

// placeholderMarkers match the remote system's catch-all categories by name
var placeholderMarkers = []string{
	"uncategorized",
	"ask my accountant",
	"opening balance equity",
}

// Evaluate decodes a verbatim payload and evaluates it. An undecodable payload
// needs review.
func Evaluate(kind remote.Kind, raw json.RawMessage) Decision {
	rec, err := remote.Decode(kind, raw)
	if err != nil {
		return review(ReasonUnreadable)
	}
	return EvaluateRecord(rec)
}

// EvaluateRecord applies the ordered resolution rules; the first applicable rule wins.
func EvaluateRecord(rec remote.Record) Decision {
	if remote.LinksToBill(rec) {
		return review(ReasonBillPayment)
	}

	h := rec.Header()
	if h.Origin() == remote.OriginManual {
		return evaluateManual(rec, h)
	}
	return evaluateBankFeed(rec, h)
}

func evaluateManual(rec remote.Record, h *remote.Base) Decision {
	switch {
	case rec.HasLinkedTxn():
		return review(ReasonManualLinked)
	case HasSpecificCategory(rec):
		return resolved(ReasonManualCategorized)
	case h.Clearance() == remote.ClearanceUncleared:
		return review(ReasonManualUncleared)
	case h.Revision() == 0:
		return resolved(ReasonManualFresh)
	default:
		return review(ReasonManualEdited)
	}
}

func evaluateBankFeed(rec remote.Record, h *remote.Base) Decision {
	clearance := h.Clearance()
	settled := clearance == remote.ClearanceCleared || clearance == remote.ClearanceReconciled

	switch {
	case rec.HasLinkedTxn():
		return review(ReasonFeedLinked)
	case h.Origin() == remote.OriginBankFeedDefault && !settled:
		return review(ReasonFeedDefaultPending)
	case !HasSpecificCategory(rec):
		return review(ReasonFeedUncategorized)
	case rec.Payee().ID() == "":
		return review(ReasonFeedNoPayee)
	case strings.TrimSpace(h.DocNumber) != "" && clearance != remote.ClearanceReconciled:
		return review(ReasonFeedCheckPending)
	default:
		return resolved(ReasonFeedResolved)
	}
}

// HasSpecificCategory reports whether the record carries at least one category
// assignment and none of them is a placeholder.
func HasSpecificCategory(rec remote.Record) bool {
	cats := rec.AssignedCategories()
	if len(cats) == 0 {
		return false
	}
	for i := range cats {
		if IsPlaceholder(cats[i].Name) {
			return false
		}
	}
	return true
}

// IsPlaceholder reports whether a category name is one of the catch-all categories
func IsPlaceholder(name string) bool {
	n := strings.ToLower(strings.TrimSpace(name))
	for _, marker := range placeholderMarkers {
		if strings.Contains(n, marker) {
			return true
		}
	}
	return false
}

func resolved(reason string) Decision { return Decision{Resolved: true, Reason: reason} }
func review(reason string) Decision   { return Decision{Resolved: false, Reason: reason} }
