// Package llm implements classify.Provider over an OpenAI-compatible
// chat-completions endpoint.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kislikjeka/booksync/internal/platform/classify"
	"github.com/kislikjeka/booksync/pkg/logger"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModel     = "gpt-4o-mini"
	requestTimeout   = 90 * time.Second
	maxErrorBodySize = 512
)

// Config holds configuration for the provider client
type Config struct {
	BaseURL           string
	APIKey            string
	Model             string
	Temperature       float64
	RequestsPerSecond float64
}

// APIError is a non-2xx response from the provider
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("classification provider error %d: %s", e.StatusCode, e.Message)
}

// Client is a chat-completions client
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	httpClient  *http.Client
	limiter     *rate.Limiter
	logger      *logger.Logger
}

var _ classify.Provider = (*Client)(nil)

// NewClient creates a new provider client
func NewClient(cfg Config, log *logger.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		httpClient:  &http.Client{Timeout: requestTimeout},
		limiter:     rate.NewLimiter(limit, 1),
		logger:      log.WithField("component", "llm"),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Classify sends one batch and returns the suggestions the provider made.
// A reply without a parsable array yields no suggestions and no error.
func (c *Client) Classify(ctx context.Context, req classify.BatchRequest) ([]classify.Suggestion, error) {
	if len(req.Transactions) == 0 {
		return nil, nil
	}

	userPrompt, err := buildUserPrompt(req)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	content, err := c.complete(ctx, body)
	if err != nil {
		return nil, err
	}

	suggestions, err := parseSuggestions(content, req.Transactions)
	if err != nil {
		c.logger.Warn("unparsable provider reply, no suggestions for batch",
			"batch_size", len(req.Transactions), "error", err)
		return nil, nil
	}

	c.logger.Debug("batch classified", "batch_size", len(req.Transactions), "suggestions", len(suggestions))
	return suggestions, nil
}

func (c *Client) complete(ctx context.Context, body []byte) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	c.logger.Debug("provider response", "status_code", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := string(respBody)
		if len(msg) > maxErrorBodySize {
			msg = msg[:maxErrorBodySize]
		}
		return "", &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	var chat chatResponse
	if err := json.Unmarshal(respBody, &chat); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return "", nil
	}
	return chat.Choices[0].Message.Content, nil
}
