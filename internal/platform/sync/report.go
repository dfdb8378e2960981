package sync

import (
	"time"

	"github.com/google/uuid"

	"github.com/kislikjeka/booksync/internal/platform/mirror"
	"github.com/kislikjeka/booksync/internal/platform/remote"
)

// KindReport summarizes one entity kind of a sync pass
type KindReport struct {
	Kind     remote.Kind `json:"kind"`
	Fetched  int         `json:"fetched"`
	Upserted int         `json:"upserted"`
	Skipped  int         `json:"skipped"`
	Failed   int         `json:"failed"`
	Pages    int         `json:"pages"`
	Error    string      `json:"error,omitempty"`
}

// Outcome maps the kind result onto the audit outcome vocabulary
func (k *KindReport) Outcome() string {
	switch {
	case k.Error != "" && k.Upserted == 0:
		return mirror.OutcomeFailed
	case k.Error != "" || k.Failed > 0:
		return mirror.OutcomePartial
	default:
		return mirror.OutcomeSuccess
	}
}

// Report is the result of one sync pass over a connection
type Report struct {
	ConnectionID   uuid.UUID     `json:"connection_id"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
	Kinds          []*KindReport `json:"kinds"`
	Pruned         int           `json:"pruned"`
	PruneSkipped   bool          `json:"prune_skipped"`
	Disconnected   int           `json:"disconnected_accounts"`
	ActiveAccounts int           `json:"active_accounts"`
	Skipped        bool          `json:"skipped"`
	Error          string        `json:"error,omitempty"`
}

// FetchFailed reports whether any kind of the pass lost a page fetch
func (r *Report) FetchFailed() bool {
	for _, k := range r.Kinds {
		if k.Error != "" {
			return true
		}
	}
	return false
}

// Kind returns the report entry for kind, nil if the kind was not attempted
func (r *Report) Kind(kind remote.Kind) *KindReport {
	for _, k := range r.Kinds {
		if k.Kind == kind {
			return k
		}
	}
	return nil
}

// Totals sums the per-kind counters of the transaction kinds
func (r *Report) Totals() (upserted, skipped, failed int) {
	for _, k := range r.Kinds {
		if !isTransactionKind(k.Kind) {
			continue
		}
		upserted += k.Upserted
		skipped += k.Skipped
		failed += k.Failed
	}
	return upserted, skipped, failed
}

func isTransactionKind(kind remote.Kind) bool {
	for _, k := range remote.TransactionKinds {
		if k == kind {
			return true
		}
	}
	return false
}
