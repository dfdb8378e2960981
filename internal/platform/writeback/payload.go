package writeback

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kislikjeka/booksync/internal/platform/mirror"
	"github.com/kislikjeka/booksync/internal/platform/remote"
)

// layout describes where a kind keeps its category and payee
type layout struct {
	detail      string // line DetailType, also the key of the detail block
	payeeField  string // header field with the vendor reference, "" if the kind has none
	splittable  bool
	skipOwnLine bool // the owning account appears among the lines and must not be rewritten
}

var layouts = map[remote.Kind]layout{
	remote.KindPurchase:     {detail: "AccountBasedExpenseLineDetail", payeeField: "EntityRef", splittable: true},
	remote.KindDeposit:      {detail: "DepositLineDetail", splittable: true},
	remote.KindJournalEntry: {detail: "JournalEntryLineDetail", skipOwnLine: true},
}

func layoutFor(kind remote.Kind) (layout, error) {
	l, ok := layouts[kind]
	if !ok {
		return layout{}, fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
	}
	return l, nil
}

// change is what an approval writes
type change struct {
	categoryID   string
	categoryName string
	splits       []*mirror.Split
	vendor       *mirror.Vendor
}

// buildPayload turns the current remote object into a sparse update carrying
// token. Lines are sent in full because a sparse update replaces the line list.
func buildPayload(tx *mirror.Transaction, current json.RawMessage, token string, c change) (map[string]any, error) {
	l, err := layoutFor(tx.RemoteKind)
	if err != nil {
		return nil, err
	}

	obj, err := decodeObject(current)
	if err != nil {
		return nil, err
	}

	var lines []any
	if len(c.splits) > 0 {
		if !l.splittable {
			return nil, fmt.Errorf("%w: %s cannot carry split lines", ErrUnsupportedKind, tx.RemoteKind)
		}
		lines = splitLines(l, c.splits)
	} else {
		lines, err = rewriteCategory(l, obj, tx, c.categoryID, c.categoryName)
		if err != nil {
			return nil, err
		}
	}

	payload := map[string]any{
		"Id":        obj["Id"],
		"SyncToken": token,
		"sparse":    true,
		"Line":      lines,
	}
	if c.vendor != nil && l.payeeField != "" {
		payload[l.payeeField] = map[string]any{
			"value": c.vendor.RemoteID,
			"name":  c.vendor.Name,
			"type":  "Vendor",
		}
	}
	return payload, nil
}

// rewriteCategory keeps every line and points the first category line at the new account
func rewriteCategory(l layout, obj map[string]any, tx *mirror.Transaction, id, name string) ([]any, error) {
	lines, _ := obj["Line"].([]any)
	ref := map[string]any{"value": id, "name": name}

	for _, raw := range lines {
		line, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		detail, ok := line[l.detail].(map[string]any)
		if !ok {
			continue
		}
		if l.skipOwnLine && refValue(detail["AccountRef"]) == tx.AccountID {
			continue
		}
		detail["AccountRef"] = ref
		return lines, nil
	}

	if l.skipOwnLine {
		return nil, fmt.Errorf("%w: no category line to rewrite", ErrUnsupportedKind)
	}
	// no category line yet: book the whole amount to the category
	return append(lines, map[string]any{
		"Amount":     json.Number(tx.Amount.Abs().StringFixed(2)),
		"DetailType": l.detail,
		l.detail:     map[string]any{"AccountRef": ref},
	}), nil
}

func splitLines(l layout, splits []*mirror.Split) []any {
	lines := make([]any, 0, len(splits))
	for _, s := range splits {
		line := map[string]any{
			"Amount":     json.Number(s.Amount.Abs().StringFixed(2)),
			"DetailType": l.detail,
			l.detail: map[string]any{
				"AccountRef": map[string]any{"value": s.CategoryID, "name": s.CategoryName},
			},
		}
		if s.Description != "" {
			line["Description"] = s.Description
		}
		lines = append(lines, line)
	}
	return lines
}

func decodeObject(raw json.RawMessage) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("failed to decode remote payload: %w", err)
	}
	if obj == nil {
		return nil, fmt.Errorf("failed to decode remote payload: empty object")
	}
	return obj, nil
}

func refValue(v any) string {
	ref, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	s, _ := ref["value"].(string)
	return s
}

// versionOf reads the top-level version token of a remote object
func versionOf(raw json.RawMessage) string {
	var head struct {
		SyncToken json.RawMessage `json:"SyncToken"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return ""
	}
	token := strings.TrimSpace(string(head.SyncToken))
	if token == "null" {
		return ""
	}
	return strings.Trim(token, `"`)
}
