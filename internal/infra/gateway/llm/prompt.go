package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kislikjeka/booksync/internal/platform/classify"
)

const systemPrompt = `You are a bookkeeping assistant that categorizes business transactions.
Reply with ONLY a JSON array. Return one object per input transaction with keys:
"id" (copied from input), "category" (exactly one name from the category list),
"payee" (a clean vendor or customer name, preferring the known names list),
"reasoning" (object with string keys "category", "payee", "confidence", "context"),
"confidence" (number between 0 and 1), "tags" (1 to 3 short strings),
and optionally "splits" (array of {"category", "amount", "description"}) when
one transaction clearly covers several categories. Split amounts must add up
to the transaction amount. Do not invent categories.`

// buildUserPrompt renders the batch context as one user message
func buildUserPrompt(req classify.BatchRequest) (string, error) {
	txs, err := json.MarshalIndent(req.Transactions, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal transactions: %w", err)
	}

	var b strings.Builder
	b.WriteString("Categories:\n")
	for _, name := range req.Categories {
		b.WriteString("- ")
		b.WriteString(name)
		b.WriteByte('\n')
	}

	if len(req.History) > 0 {
		b.WriteString("\nPreviously approved examples (description => category):\n")
		for _, h := range req.History {
			fmt.Fprintf(&b, "%s => %s\n", h.Description, h.Category)
		}
	}

	if len(req.Vocabulary) > 0 {
		b.WriteString("\nKnown vendor and customer names: ")
		b.WriteString(strings.Join(req.Vocabulary, ", "))
		b.WriteByte('\n')
	}

	b.WriteString("\nTransactions:\n")
	b.Write(txs)
	return b.String(), nil
}
