package classify

import (
	"github.com/agnivade/levenshtein"

	"github.com/kislikjeka/booksync/internal/platform/mirror"
)

// Fuzzy-match thresholds on a 0-100 similarity scale
const (
	CategoryThreshold = 85
	SplitThreshold    = 80
)

// CategoryResolver maps provider-supplied category names onto the live category list
type CategoryResolver struct {
	cats  []*mirror.Category
	exact map[string]*mirror.Category
}

// NewCategoryResolver indexes active categories by folded full and leaf name
func NewCategoryResolver(cats []*mirror.Category) *CategoryResolver {
	r := &CategoryResolver{exact: make(map[string]*mirror.Category, len(cats)*2)}
	for _, c := range cats {
		if !c.Active {
			continue
		}
		r.cats = append(r.cats, c)
		if key := fold(c.Name); key != "" {
			r.exact[key] = c
		}
	}
	// leaf names only fill gaps left by full names
	for _, c := range r.cats {
		if key := fold(leafName(c.Name)); key != "" {
			if _, taken := r.exact[key]; !taken {
				r.exact[key] = c
			}
		}
	}
	return r
}

// Names lists the category vocabulary sent to the provider
func (r *CategoryResolver) Names() []string {
	out := make([]string, 0, len(r.cats))
	for _, c := range r.cats {
		out = append(out, c.Name)
	}
	return out
}

// Resolve tries an exact match first, then the most similar name at or above threshold.
// It returns nil when neither succeeds.
func (r *CategoryResolver) Resolve(name string, threshold int) *mirror.Category {
	key := fold(name)
	if key == "" {
		return nil
	}
	if c, ok := r.exact[key]; ok {
		return c
	}

	var best *mirror.Category
	bestScore := -1
	for _, c := range r.cats {
		score := similarity(key, fold(c.Name))
		if leaf := similarity(key, fold(leafName(c.Name))); leaf > score {
			score = leaf
		}
		if score > bestScore {
			best, bestScore = c, score
		}
	}
	if bestScore >= threshold {
		return best
	}
	return nil
}

// similarity is 100 * (1 - distance / longer length), on runes
func similarity(a, b string) int {
	la, lb := len([]rune(a)), len([]rune(b))
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 100
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 100 - dist*100/longest
}
