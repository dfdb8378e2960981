package llm

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/kislikjeka/booksync/internal/platform/classify"
	"github.com/kislikjeka/booksync/internal/platform/mirror"
)

const maxTags = 3

var errNoArray = errors.New("reply contains no JSON array")

// flexNumber accepts 0.9 as well as "0.9"
type flexNumber float64

func (f *flexNumber) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexNumber(v)
	return nil
}

// flexString accepts any scalar and keeps its text
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	if string(b) == "null" {
		*f = ""
		return nil
	}
	*f = flexString(strings.TrimSpace(string(b)))
	return nil
}

type rawReasoning struct {
	Category   flexString `json:"category"`
	Payee      flexString `json:"payee"`
	Confidence flexString `json:"confidence"`
	Context    flexString `json:"context"`
}

type rawSplit struct {
	Category    string          `json:"category"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

type rawSuggestion struct {
	ID         json.RawMessage `json:"id"`
	Category   string          `json:"category"`
	Payee      string          `json:"payee"`
	Reasoning  rawReasoning    `json:"reasoning"`
	Confidence flexNumber      `json:"confidence"`
	Tags       []string        `json:"tags"`
	Splits     []rawSplit      `json:"splits"`
}

// parseSuggestions extracts the outermost JSON array from content. Entries
// for ids that were not in the batch are dropped.
func parseSuggestions(content string, batch []classify.TransactionSummary) ([]classify.Suggestion, error) {
	start := strings.IndexByte(content, '[')
	end := strings.LastIndexByte(content, ']')
	if start < 0 || end <= start {
		return nil, errNoArray
	}

	var raw []rawSuggestion
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(batch))
	for _, t := range batch {
		known[t.ID] = true
	}

	out := make([]classify.Suggestion, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, r := range raw {
		id := strings.Trim(string(r.ID), `" `)
		if !known[id] || seen[id] {
			continue
		}
		seen[id] = true

		s := classify.Suggestion{
			ID:         id,
			Category:   strings.TrimSpace(r.Category),
			Payee:      strings.TrimSpace(r.Payee),
			Reasoning: mirror.Reasoning{
				Category:   string(r.Reasoning.Category),
				Payee:      string(r.Reasoning.Payee),
				Confidence: string(r.Reasoning.Confidence),
				Context:    string(r.Reasoning.Context),
			},
			Confidence: clamp01(float64(r.Confidence)),
			Tags:       cleanTags(r.Tags),
		}
		for _, sp := range r.Splits {
			s.Splits = append(s.Splits, classify.SuggestedSplit{
				Category:    strings.TrimSpace(sp.Category),
				Amount:      sp.Amount,
				Description: strings.TrimSpace(sp.Description),
			})
		}
		out = append(out, s)
	}
	return out, nil
}

func cleanTags(tags []string) []string {
	var out []string
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		out = append(out, t)
		if len(out) == maxTags {
			break
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
