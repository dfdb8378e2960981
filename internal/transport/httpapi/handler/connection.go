package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kislikjeka/booksync/internal/infra/gateway/quickbooks"
	"github.com/kislikjeka/booksync/internal/platform/mirror"
	apperrors "github.com/kislikjeka/booksync/internal/shared/errors"
	"github.com/kislikjeka/booksync/internal/transport/httpapi/middleware"
)

// ConnectionServiceInterface defines the connection operations used by the API
type ConnectionServiceInterface interface {
	ListConnections(ctx context.Context) ([]*mirror.Connection, error)
	GetConnection(ctx context.Context, id uuid.UUID) (*mirror.Connection, error)
	RegisterConnection(ctx context.Context, c *mirror.Connection) error
	DeleteConnection(ctx context.Context, id uuid.UUID) error
	Reevaluate(ctx context.Context, connID uuid.UUID) (*mirror.ReevaluateReport, error)
}

// TokenSaverInterface stores OAuth tokens handed over at registration
type TokenSaverInterface interface {
	SaveTokens(ctx context.Context, connID uuid.UUID, t *quickbooks.Tokens) error
}

// BalanceReaderInterface reads the classification allowance
type BalanceReaderInterface interface {
	GetBalance(ctx context.Context, accountID string) (int, error)
}

// ConnectionHandler handles connection-related HTTP requests
type ConnectionHandler struct {
	service ConnectionServiceInterface
	tokens  TokenSaverInterface
	meter   BalanceReaderInterface
}

// NewConnectionHandler creates a new connection handler
func NewConnectionHandler(service ConnectionServiceInterface, tokens TokenSaverInterface, meter BalanceReaderInterface) *ConnectionHandler {
	return &ConnectionHandler{
		service: service,
		tokens:  tokens,
		meter:   meter,
	}
}

// RegisterConnectionRequest represents the connection registration request
type RegisterConnectionRequest struct {
	RealmID      string `json:"realm_id"`
	Name         string `json:"name"`
	Tier         string `json:"tier"`
	AutoAccept   bool   `json:"auto_accept"`
	RefreshToken string `json:"refresh_token"`
	AccessToken  string `json:"access_token,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
}

// ConnectionResponse represents a connection response
type ConnectionResponse struct {
	ID         string  `json:"id"`
	RealmID    string  `json:"realm_id"`
	Name       string  `json:"name"`
	Tier       string  `json:"tier"`
	AutoAccept bool    `json:"auto_accept"`
	LastSyncAt *string `json:"last_sync_at,omitempty"`
	CreatedAt  string  `json:"created_at"`
	UpdatedAt  string  `json:"updated_at"`
}

// BalanceResponse represents the classification allowance of a connection
type BalanceResponse struct {
	ConnectionID string `json:"connection_id"`
	Balance      int    `json:"balance"`
}

// ListConnections handles GET /connections
func (h *ConnectionHandler) ListConnections(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetClaimsFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	conns, err := h.service.ListConnections(r.Context())
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	out := make([]ConnectionResponse, 0, len(conns))
	for _, c := range conns {
		if claims.Allows(c.ID) {
			out = append(out, toConnectionResponse(c))
		}
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"connections": out})
}

// RegisterConnection handles POST /connections
func (h *ConnectionHandler) RegisterConnection(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetClaimsFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if len(claims.Connections) > 0 {
		respondWithError(w, http.StatusForbidden, "scoped tokens cannot register connections")
		return
	}

	var req RegisterConnectionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithAppError(w, err)
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		respondWithAppError(w, apperrors.Validation("refresh_token is required"))
		return
	}

	conn := &mirror.Connection{
		RealmID:    req.RealmID,
		Name:       req.Name,
		Tier:       req.Tier,
		AutoAccept: req.AutoAccept,
	}
	if err := h.service.RegisterConnection(r.Context(), conn); err != nil {
		respondWithAppError(w, err)
		return
	}

	tokens := &quickbooks.Tokens{
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
	}
	if req.AccessToken != "" && req.ExpiresIn > 0 {
		tokens.ExpiresAt = time.Now().Add(time.Duration(req.ExpiresIn) * time.Second)
	}
	if err := h.tokens.SaveTokens(r.Context(), conn.ID, tokens); err != nil {
		respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, toConnectionResponse(conn))
}

// GetConnection handles GET /connections/{connID}
func (h *ConnectionHandler) GetConnection(w http.ResponseWriter, r *http.Request) {
	connID, err := connectionID(r)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	conn, err := h.service.GetConnection(r.Context(), connID)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toConnectionResponse(conn))
}

// DeleteConnection handles DELETE /connections/{connID}
func (h *ConnectionHandler) DeleteConnection(w http.ResponseWriter, r *http.Request) {
	connID, err := connectionID(r)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	if err := h.service.DeleteConnection(r.Context(), connID); err != nil {
		respondWithAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Reevaluate handles POST /connections/{connID}/reevaluate
func (h *ConnectionHandler) Reevaluate(w http.ResponseWriter, r *http.Request) {
	connID, err := connectionID(r)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	if _, err := h.service.GetConnection(r.Context(), connID); err != nil {
		respondWithAppError(w, err)
		return
	}

	report, err := h.service.Reevaluate(r.Context(), connID)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, report)
}

// GetBalance handles GET /connections/{connID}/balance
func (h *ConnectionHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	connID, err := connectionID(r)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	balance, err := h.meter.GetBalance(r.Context(), connID.String())
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, BalanceResponse{ConnectionID: connID.String(), Balance: balance})
}

func toConnectionResponse(c *mirror.Connection) ConnectionResponse {
	resp := ConnectionResponse{
		ID:         c.ID.String(),
		RealmID:    c.RealmID,
		Name:       c.Name,
		Tier:       c.Tier,
		AutoAccept: c.AutoAccept,
		CreatedAt:  c.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  c.UpdatedAt.Format(time.RFC3339),
	}
	if c.LastSyncAt != nil {
		s := c.LastSyncAt.Format(time.RFC3339)
		resp.LastSyncAt = &s
	}
	return resp
}
