package llm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kislikjeka/booksync/internal/infra/gateway/llm"
	"github.com/kislikjeka/booksync/internal/platform/classify"
	"github.com/kislikjeka/booksync/pkg/logger"
)

func newServer(t *testing.T, content string, status int) (*httptest.Server, *atomic.Value) {
	t.Helper()
	captured := &atomic.Value{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		captured.Store(body)

		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"boom"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{
				map[string]any{"message": map[string]any{"role": "assistant", "content": content}},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, captured
}

func newClient(url string) *llm.Client {
	return llm.NewClient(llm.Config{BaseURL: url, APIKey: "test-key", Model: "test-model"}, logger.Discard())
}

func batch() classify.BatchRequest {
	return classify.BatchRequest{
		Transactions: []classify.TransactionSummary{
			{ID: "a1", Direction: "expense", Description: "UBER TRIP 999", Amount: decimal.NewFromInt(25), Currency: "USD"},
			{ID: "b2", Direction: "expense", Description: "STAPLES 0042", Amount: decimal.NewFromInt(80), Currency: "USD"},
		},
		Categories: []string{"Auto", "Office Supplies", "Meals"},
		History:    []classify.HistoryPair{{Description: "LYFT RIDE", Category: "Auto"}},
		Vocabulary: []string{"Uber", "Staples"},
	}
}

func TestClassify_ParsesSuggestions(t *testing.T) {
	reply := "```json\n" + `[
	  {"id": "a1", "category": "Auto", "payee": "Uber", "confidence": 0.92,
	   "reasoning": {"category": "ride share", "payee": "known vendor", "confidence": "high", "context": ""},
	   "tags": ["travel", "rideshare", "ground", "extra"]},
	  {"id": "b2", "category": "Office Supplies", "payee": "Staples", "confidence": "0.7",
	   "reasoning": {"category": "store", "payee": "name", "confidence": 0.7, "context": "receipt"},
	   "tags": ["office"],
	   "splits": [{"category": "Office Supplies", "amount": 50, "description": "paper"},
	              {"category": "Meals", "amount": "30", "description": "snacks"}]}
	]` + "\n```"

	srv, captured := newServer(t, reply, http.StatusOK)
	got, err := newClient(srv.URL).Classify(context.Background(), batch())
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "a1", got[0].ID)
	assert.Equal(t, "Auto", got[0].Category)
	assert.Equal(t, "Uber", got[0].Payee)
	assert.InDelta(t, 0.92, got[0].Confidence, 1e-9)
	assert.Equal(t, []string{"travel", "rideshare", "ground"}, got[0].Tags)
	assert.Equal(t, "ride share", got[0].Reasoning.Category)

	assert.InDelta(t, 0.7, got[1].Confidence, 1e-9)
	assert.Equal(t, "0.7", got[1].Reasoning.Confidence)
	require.Len(t, got[1].Splits, 2)
	assert.True(t, got[1].Splits[1].Amount.Equal(decimal.NewFromInt(30)))

	body := captured.Load().(map[string]any)
	assert.Equal(t, "test-model", body["model"])
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 2)
	user := msgs[1].(map[string]any)["content"].(string)
	assert.Contains(t, user, "Office Supplies")
	assert.Contains(t, user, "LYFT RIDE => Auto")
	assert.Contains(t, user, "UBER TRIP 999")
}

func TestClassify_UnknownIDsDroppedAndConfidenceClamped(t *testing.T) {
	reply := `[{"id":"zzz","category":"Auto","confidence":0.9},
	           {"id":"a1","category":"Auto","confidence":1.7},
	           {"id":"a1","category":"Meals","confidence":0.1}]`
	srv, _ := newServer(t, reply, http.StatusOK)

	got, err := newClient(srv.URL).Classify(context.Background(), batch())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a1", got[0].ID)
	assert.Equal(t, "Auto", got[0].Category)
	assert.Equal(t, 1.0, got[0].Confidence)
}

func TestClassify_UnparsableReplyIsNoSuggestions(t *testing.T) {
	for _, reply := range []string{"", "I cannot help with that.", `{"id": "a1"}`, `[{"id": "a1", "confidence": "high"]`} {
		t.Run(strings.ReplaceAll(reply, " ", "_"), func(t *testing.T) {
			srv, _ := newServer(t, reply, http.StatusOK)
			got, err := newClient(srv.URL).Classify(context.Background(), batch())
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestClassify_HTTPErrorIsReturned(t *testing.T) {
	srv, _ := newServer(t, "", http.StatusInternalServerError)

	_, err := newClient(srv.URL).Classify(context.Background(), batch())
	require.Error(t, err)

	var apiErr *llm.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
}

func TestClassify_EmptyBatchSkipsCall(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	got, err := newClient(srv.URL).Classify(context.Background(), classify.BatchRequest{})
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Zero(t, atomic.LoadInt32(&calls))
}
