package classify

import (
	"github.com/google/uuid"

	"github.com/kislikjeka/booksync/internal/platform/mirror"
)

// Result outcomes
const (
	OutcomeClassified = "classified"
	OutcomeUnresolved = "unresolved"
	OutcomeMissing    = "missing"
	OutcomeDeferred   = "deferred"
	OutcomeFailed     = "failed"
)

// Result is the classification outcome of one record
type Result struct {
	TransactionID uuid.UUID     `json:"transaction_id"`
	RemoteID      string        `json:"remote_id"`
	Outcome       string        `json:"outcome"`
	Source        mirror.Source `json:"source,omitempty"`
	CategoryID    string        `json:"category_id,omitempty"`
	CategoryName  string        `json:"category_name,omitempty"`
	Confidence    float64       `json:"confidence"`
	Status        mirror.Status `json:"status"`
	AutoAccept    bool          `json:"auto_accept"`
	Splits        int           `json:"splits,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// Report is the result of one classification run
type Report struct {
	ConnectionID  uuid.UUID `json:"connection_id"`
	Candidates    int       `json:"candidates"`
	Results       []Result  `json:"results"`
	ProviderCalls int       `json:"provider_calls"`
	Charged       int       `json:"charged"`

	// Insufficient is set when the allowance truncated or prevented the provider stage
	Insufficient bool   `json:"insufficient"`
	Error        string `json:"error,omitempty"`
}

// Count returns the number of results with the given outcome
func (r *Report) Count(outcome string) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == outcome {
			n++
		}
	}
	return n
}

// BySource returns the number of classified results produced by a stage
func (r *Report) BySource(src mirror.Source) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == OutcomeClassified && res.Source == src {
			n++
		}
	}
	return n
}

// AutoAccepted lists the records eligible for unattended approval
func (r *Report) AutoAccepted() []uuid.UUID {
	var ids []uuid.UUID
	for _, res := range r.Results {
		if res.AutoAccept {
			ids = append(ids, res.TransactionID)
		}
	}
	return ids
}
