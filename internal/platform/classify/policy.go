package classify

import (
	"strings"

	"github.com/kislikjeka/booksync/internal/platform/mirror"
)

// Policy holds the confidence thresholds applied to provider suggestions
type Policy struct {
	// AutoAccept is the confidence at which premium connections approve unattended
	AutoAccept float64

	// Review is the confidence at which a suggestion is queued for approval
	Review float64

	// RejectPenalty multiplies the confidence of a suggestion whose category did not resolve
	RejectPenalty float64

	PremiumTiers []string
}

// DefaultPolicy returns the default thresholds
func DefaultPolicy() Policy {
	return Policy{
		AutoAccept:    0.95,
		Review:        0.8,
		RejectPenalty: 0.5,
		PremiumTiers:  []string{"pro", "business"},
	}
}

func (p Policy) isPremium(tier string) bool {
	for _, t := range p.PremiumTiers {
		if strings.EqualFold(strings.TrimSpace(t), strings.TrimSpace(tier)) {
			return true
		}
	}
	return false
}

// decide maps a provider confidence onto a workflow status. A suggestion
// without a resolved category never leaves unmatched.
func (p Policy) decide(confidence float64, hasCategory bool, tier string) (mirror.Status, bool) {
	if !hasCategory {
		return mirror.StatusUnmatched, false
	}
	switch {
	case confidence >= p.AutoAccept && p.isPremium(tier):
		return mirror.StatusPendingApproval, true
	case confidence >= p.Review:
		return mirror.StatusPendingApproval, false
	default:
		return mirror.StatusUnmatched, false
	}
}
