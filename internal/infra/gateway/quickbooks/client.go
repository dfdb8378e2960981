// Package quickbooks implements remote.Client over the QuickBooks Online
// accounting API.
package quickbooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/kislikjeka/booksync/internal/platform/remote"
	"github.com/kislikjeka/booksync/pkg/logger"
)

const (
	defaultBaseURL      = "https://quickbooks.api.intuit.com/v3/company"
	defaultMinorVersion = "75"
	requestTimeout      = 30 * time.Second
)

// Config holds configuration for the API client
type Config struct {
	BaseURL           string
	MinorVersion      string
	RequestsPerSecond float64
	Retry             RetryPolicy
}

// Client is an HTTP client for the accounting API
type Client struct {
	baseURL      string
	minorVersion string
	httpClient   *http.Client
	tokens       TokenSource
	limiter      *rate.Limiter
	retry        RetryPolicy
	logger       *logger.Logger
}

var _ remote.Client = (*Client)(nil)

// NewClient creates a new API client
func NewClient(cfg Config, tokens TokenSource, log *logger.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.MinorVersion == "" {
		cfg.MinorVersion = defaultMinorVersion
	}
	if cfg.Retry.MaxRetries <= 0 && cfg.Retry.BaseDelay <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &Client{
		baseURL:      cfg.BaseURL,
		minorVersion: cfg.MinorVersion,
		httpClient:   &http.Client{Timeout: requestTimeout},
		tokens:       tokens,
		limiter:      rate.NewLimiter(limit, 1),
		retry:        cfg.Retry,
		logger:       log.WithField("component", "quickbooks"),
	}
}

// SetBaseURL overrides the default base URL (useful for testing)
func (c *Client) SetBaseURL(u string) {
	c.baseURL = u
}

// request is one API call; body is re-read on every attempt
type request struct {
	method      string
	path        string
	query       url.Values
	body        []byte
	contentType string
}

// doRequest performs an authenticated request. A 401 triggers one token
// refresh and retry. A 429 is retried with the injected backoff policy.
func (c *Client) doRequest(ctx context.Context, conn remote.Connection, r request) ([]byte, error) {
	query := url.Values{}
	for k, v := range r.query {
		query[k] = v
	}
	query.Set("minorversion", c.minorVersion)
	reqURL := fmt.Sprintf("%s/%s/%s?%s", c.baseURL, url.PathEscape(conn.RealmID), r.path, query.Encode())

	token, err := c.tokens.Token(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}

	refreshed := false
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		c.logger.Debug("API request", "method", r.method, "path", r.path, "attempt", attempt)
		attemptStart := time.Now()

		req, err := http.NewRequestWithContext(ctx, r.method, reqURL, bytes.NewReader(r.body))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		if r.contentType != "" {
			req.Header.Set("Content-Type", r.contentType)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to execute request: %w", err)
		}
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("failed to read response body: %w", readErr)
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			c.logger.Debug("API response", "status_code", resp.StatusCode, "duration_ms", time.Since(attemptStart).Milliseconds())
			if err := faultOf(resp.StatusCode, body); err != nil {
				return nil, err
			}
			return body, nil

		case resp.StatusCode == http.StatusUnauthorized:
			if refreshed {
				return nil, remote.ErrUnauthorized
			}
			refreshed = true
			c.logger.Info("access token rejected, refreshing", "realm_id", conn.RealmID)
			token, err = c.tokens.Refresh(ctx, conn)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", remote.ErrUnauthorized, err)
			}
			attempt--
			continue

		case resp.StatusCode == http.StatusTooManyRequests:
			hint := parseRetryAfter(resp.Header)
			if attempt >= c.retry.MaxRetries {
				c.logger.Error("rate limit exhausted", "attempts", attempt+1)
				return nil, &RateLimitError{RetryAfter: c.retry.Delay(attempt, hint), Attempts: attempt + 1}
			}
			delay := c.retry.Delay(attempt, hint)
			c.logger.Warn("rate limited, retrying", "attempt", attempt, "backoff_ms", delay.Milliseconds())
			if err := c.retry.sleep(ctx, delay); err != nil {
				return nil, err
			}
			continue

		case resp.StatusCode == http.StatusNotFound:
			return nil, remote.ErrNotFound

		default:
			if err := faultOf(resp.StatusCode, body); err != nil {
				return nil, err
			}
			c.logger.Error("API error", "status_code", resp.StatusCode)
			return nil, &remote.APIError{StatusCode: resp.StatusCode, Message: truncate(string(body), 512)}
		}
	}
}

// faultOf maps a fault envelope to a domain error; nil when the body has none
func faultOf(status int, body []byte) error {
	var env faultEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.Fault == nil {
		return nil
	}
	fe := env.Fault.first()
	switch fe.Code {
	case faultStaleObject:
		return fmt.Errorf("%w: %s", remote.ErrStaleObject, fe.Detail)
	case faultObjectNotFound:
		return remote.ErrNotFound
	}
	msg := fe.Message
	if fe.Detail != "" {
		msg += ": " + fe.Detail
	}
	return &remote.APIError{StatusCode: status, Code: fe.Code, Message: msg}
}

// Query returns one page of a kind. Offsets are zero-based; the API counts from 1.
func (c *Client) Query(ctx context.Context, conn remote.Connection, kind remote.Kind, offset, limit int) ([]json.RawMessage, error) {
	stmt := fmt.Sprintf("SELECT * FROM %s STARTPOSITION %d MAXRESULTS %d", kind, offset+1, limit)
	return c.query(ctx, conn, kind, stmt)
}

func (c *Client) query(ctx context.Context, conn remote.Connection, kind remote.Kind, stmt string) ([]json.RawMessage, error) {
	body, err := c.doRequest(ctx, conn, request{
		method: http.MethodGet,
		path:   "query",
		query:  url.Values{"query": {stmt}},
	})
	if err != nil {
		return nil, fmt.Errorf("query %s failed: %w", kind, err)
	}

	var resp queryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode query response: %w", err)
	}
	list, ok := resp.QueryResponse[string(kind)]
	if !ok {
		return nil, nil
	}
	var out []json.RawMessage
	if err := json.Unmarshal(list, &out); err != nil {
		return nil, fmt.Errorf("failed to decode %s list: %w", kind, err)
	}
	return out, nil
}

// Get re-reads one entity
func (c *Client) Get(ctx context.Context, conn remote.Connection, kind remote.Kind, id string) (json.RawMessage, error) {
	body, err := c.doRequest(ctx, conn, request{
		method: http.MethodGet,
		path:   endpoint(kind) + "/" + url.PathEscape(id),
	})
	if err != nil {
		return nil, fmt.Errorf("get %s %s failed: %w", kind, id, err)
	}
	return entityOf(body, kind)
}

// Update posts a sparse update and returns the updated entity
func (c *Client) Update(ctx context.Context, conn remote.Connection, kind remote.Kind, payload map[string]any) (json.RawMessage, error) {
	if _, ok := payload["SyncToken"]; !ok {
		return nil, fmt.Errorf("update %s: payload has no SyncToken", kind)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal update: %w", err)
	}

	body, err := c.doRequest(ctx, conn, request{
		method:      http.MethodPost,
		path:        endpoint(kind),
		body:        data,
		contentType: "application/json",
	})
	if err != nil {
		return nil, fmt.Errorf("update %s failed: %w", kind, err)
	}
	return entityOf(body, kind)
}

// FindVendorByName looks up a vendor by exact display name
func (c *Client) FindVendorByName(ctx context.Context, conn remote.Connection, name string) (*remote.NameRecord, error) {
	stmt := fmt.Sprintf("SELECT * FROM Vendor WHERE DisplayName = %s", quote(name))
	list, err := c.query(ctx, conn, remote.KindVendor, stmt)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	var v remote.NameRecord
	if err := json.Unmarshal(list[0], &v); err != nil {
		return nil, fmt.Errorf("failed to decode vendor: %w", err)
	}
	return &v, nil
}

// CreateVendor creates a vendor with the given display name
func (c *Client) CreateVendor(ctx context.Context, conn remote.Connection, name string) (*remote.NameRecord, error) {
	data, err := json.Marshal(map[string]string{"DisplayName": name})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal vendor: %w", err)
	}
	body, err := c.doRequest(ctx, conn, request{
		method:      http.MethodPost,
		path:        endpoint(remote.KindVendor),
		body:        data,
		contentType: "application/json",
	})
	if err != nil {
		return nil, fmt.Errorf("create vendor failed: %w", err)
	}
	raw, err := entityOf(body, remote.KindVendor)
	if err != nil {
		return nil, err
	}
	var v remote.NameRecord
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("failed to decode vendor: %w", err)
	}
	return &v, nil
}

// UploadAttachment sends a multipart upload linking the file to the entity
func (c *Client) UploadAttachment(ctx context.Context, conn remote.Connection, att remote.Attachment) (string, error) {
	meta := attachableMetadata{FileName: att.FileName, ContentType: att.ContentType, Note: att.Note}
	var ref attachableRef
	ref.EntityRef.Type = string(att.EntityKind)
	ref.EntityRef.Value = att.EntityID
	meta.AttachableRef = []attachableRef{ref}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("failed to marshal attachment metadata: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	mh := textproto.MIMEHeader{}
	mh.Set("Content-Disposition", `form-data; name="file_metadata_01"; filename="attachment.json"`)
	mh.Set("Content-Type", "application/json")
	part, err := mw.CreatePart(mh)
	if err != nil {
		return "", fmt.Errorf("failed to create metadata part: %w", err)
	}
	if _, err := part.Write(metaJSON); err != nil {
		return "", fmt.Errorf("failed to write metadata part: %w", err)
	}

	fh := textproto.MIMEHeader{}
	fh.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file_content_01"; filename=%s`, strconv.Quote(att.FileName)))
	fh.Set("Content-Type", att.ContentType)
	part, err = mw.CreatePart(fh)
	if err != nil {
		return "", fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := part.Write(att.Data); err != nil {
		return "", fmt.Errorf("failed to write file part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to finish multipart body: %w", err)
	}

	body, err := c.doRequest(ctx, conn, request{
		method:      http.MethodPost,
		path:        "upload",
		body:        buf.Bytes(),
		contentType: mw.FormDataContentType(),
	})
	if err != nil {
		return "", fmt.Errorf("upload attachment failed: %w", err)
	}

	var resp attachableResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}
	if len(resp.AttachableResponse) == 0 {
		return "", errors.New("upload response has no attachable")
	}
	first := resp.AttachableResponse[0]
	if first.Fault != nil {
		fe := first.Fault.first()
		return "", &remote.APIError{StatusCode: http.StatusOK, Code: fe.Code, Message: fe.Message}
	}
	if first.Attachable == nil || first.Attachable.ID == "" {
		return "", errors.New("upload response has no attachable id")
	}
	return first.Attachable.ID, nil
}

// entityOf unwraps {"<Kind>": {...}}
func entityOf(body []byte, kind remote.Kind) (json.RawMessage, error) {
	var env map[string]json.RawMessage
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", kind, err)
	}
	raw, ok := env[string(kind)]
	if !ok {
		return nil, fmt.Errorf("response has no %s object", kind)
	}
	return raw, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
