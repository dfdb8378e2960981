package quickbooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kislikjeka/booksync/internal/platform/remote"
	"github.com/kislikjeka/booksync/pkg/logger"
)

// expirySkew refreshes access tokens shortly before they expire
const expirySkew = time.Minute

// ErrNoTokens is returned when a connection was never authorized
var ErrNoTokens = errors.New("connection has no stored OAuth tokens")

// Tokens is the OAuth token pair of one connection
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Valid reports whether the access token can still be used at now
func (t *Tokens) Valid(now time.Time) bool {
	return t != nil && t.AccessToken != "" && now.Add(expirySkew).Before(t.ExpiresAt)
}

// TokenStore persists token pairs per connection
type TokenStore interface {
	GetTokens(ctx context.Context, connID uuid.UUID) (*Tokens, error)
	SaveTokens(ctx context.Context, connID uuid.UUID, t *Tokens) error
}

// TokenSource hands out access tokens and refreshes them on demand
type TokenSource interface {
	Token(ctx context.Context, conn remote.Connection) (string, error)
	Refresh(ctx context.Context, conn remote.Connection) (string, error)
}

// TokenManager refreshes access tokens with the refresh-token grant
type TokenManager struct {
	tokenURL     string
	clientID     string
	clientSecret string
	store        TokenStore
	httpClient   *http.Client
	logger       *logger.Logger
	now          func() time.Time

	mu sync.Mutex
}

// NewTokenManager creates a token manager
func NewTokenManager(tokenURL, clientID, clientSecret string, store TokenStore, log *logger.Logger) *TokenManager {
	return &TokenManager{
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		store:        store,
		httpClient:   &http.Client{Timeout: requestTimeout},
		logger:       log.WithField("component", "quickbooks_oauth"),
		now:          time.Now,
	}
}

// Token returns a usable access token, refreshing an expired one
func (m *TokenManager) Token(ctx context.Context, conn remote.Connection) (string, error) {
	t, err := m.store.GetTokens(ctx, conn.ID)
	if err != nil {
		return "", err
	}
	if t.Valid(m.now()) {
		return t.AccessToken, nil
	}
	return m.Refresh(ctx, conn)
}

// Refresh exchanges the stored refresh token for a new pair
func (m *TokenManager) Refresh(ctx context.Context, conn remote.Connection) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, err := m.store.GetTokens(ctx, conn.ID)
	if err != nil {
		return "", err
	}
	if current == nil || current.RefreshToken == "" {
		return "", ErrNoTokens
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", current.RefreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(m.clientID, m.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		m.logger.Error("token refresh rejected", "connection_id", conn.ID, "status_code", resp.StatusCode)
		return "", fmt.Errorf("%w: token refresh status %d", remote.ErrUnauthorized, resp.StatusCode)
	}

	var out struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("%w: token response without access token", remote.ErrUnauthorized)
	}

	next := &Tokens{
		AccessToken:  out.AccessToken,
		RefreshToken: out.RefreshToken,
		ExpiresAt:    m.now().Add(time.Duration(out.ExpiresIn) * time.Second),
	}
	// the refresh token rotates only sometimes
	if next.RefreshToken == "" {
		next.RefreshToken = current.RefreshToken
	}
	if err := m.store.SaveTokens(ctx, conn.ID, next); err != nil {
		return "", fmt.Errorf("failed to store refreshed tokens: %w", err)
	}

	m.logger.Info("access token refreshed", "connection_id", conn.ID)
	return next.AccessToken, nil
}
