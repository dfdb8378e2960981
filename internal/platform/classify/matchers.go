package classify

import (
	"sort"
	"strings"
	"time"

	"github.com/kislikjeka/booksync/internal/platform/mirror"
)

// ruleSet evaluates rules in descending priority; the first match wins
type ruleSet struct {
	rules []*mirror.Rule
}

// newRuleSet keeps enabled rules whose action is usable. A rule that assigns a
// category must point at an active one; others are passed to skipped.
func newRuleSet(rules []*mirror.Rule, active map[string]*mirror.Category, skipped func(*mirror.Rule)) *ruleSet {
	sorted := make([]*mirror.Rule, 0, len(rules))
	for _, r := range rules {
		if !r.Enabled || r.Conditions.Empty() {
			continue
		}
		if r.Action.CategoryID != "" && active[r.Action.CategoryID] == nil {
			if skipped != nil {
				skipped(r)
			}
			continue
		}
		sorted = append(sorted, r)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})
	return &ruleSet{rules: sorted}
}

func (s *ruleSet) match(tx *mirror.Transaction) *mirror.Rule {
	desc := fold(tx.Description)
	amount := tx.Amount.Abs()
	for _, r := range s.rules {
		c := r.Conditions
		if c.DescriptionContains != "" && !containsFolded(desc, c.DescriptionContains) {
			continue
		}
		if c.AmountMin != nil && amount.LessThan(c.AmountMin.Abs()) {
			continue
		}
		if c.AmountMax != nil && amount.GreaterThan(c.AmountMax.Abs()) {
			continue
		}
		return r
	}
	return nil
}

// aliasSet checks longer aliases first so "amazon web services" beats "amazon"
type aliasSet struct {
	aliases []*mirror.VendorAlias
	folded  []string
}

func newAliasSet(aliases []*mirror.VendorAlias) *aliasSet {
	sorted := append([]*mirror.VendorAlias(nil), aliases...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(fold(sorted[i].Match)) > len(fold(sorted[j].Match))
	})
	s := &aliasSet{aliases: sorted, folded: make([]string, len(sorted))}
	for i, a := range sorted {
		s.folded[i] = fold(a.Match)
	}
	return s
}

func (s *aliasSet) match(description string) *mirror.VendorAlias {
	desc := fold(description)
	for i, a := range s.aliases {
		if s.folded[i] != "" && containsFolded(desc, s.folded[i]) {
			return a
		}
	}
	return nil
}

type precedent struct {
	categoryID   string
	categoryName string
	payee        string
	at           time.Time
}

// historyIndex maps an approved description to its most recent category
type historyIndex map[string]precedent

func newHistoryIndex(approved []*mirror.Transaction) historyIndex {
	idx := make(historyIndex, len(approved))
	for _, t := range approved {
		id, name := t.EffectiveCategory()
		if id == "" {
			continue
		}
		at := t.UpdatedAt
		if t.ApprovedAt != nil {
			at = *t.ApprovedAt
		}
		key := fold(t.Description)
		if cur, ok := idx[key]; ok && !at.After(cur.at) {
			continue
		}
		idx[key] = precedent{categoryID: id, categoryName: name, payee: t.EffectivePayee(), at: at}
	}
	return idx
}

func (h historyIndex) lookup(description string) (precedent, bool) {
	p, ok := h[fold(description)]
	return p, ok
}

// window returns up to n description -> category pairs, newest first
func (h historyIndex) window(n int) []HistoryPair {
	out := make([]HistoryPair, 0, len(h))
	type entry struct {
		desc string
		p    precedent
	}
	entries := make([]entry, 0, len(h))
	for d, p := range h {
		entries = append(entries, entry{d, p})
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].p.at.Equal(entries[j].p.at) {
			return entries[i].p.at.After(entries[j].p.at)
		}
		return entries[i].desc < entries[j].desc
	})
	for _, e := range entries {
		if len(out) == n {
			break
		}
		out = append(out, HistoryPair{Description: e.desc, Category: e.p.categoryName})
	}
	return out
}

func containsFolded(haystack, needle string) bool {
	n := fold(needle)
	return n != "" && strings.Contains(haystack, n)
}
