package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kislikjeka/booksync/internal/platform/mirror"
)

// ReferenceServiceInterface defines account and category operations
type ReferenceServiceInterface interface {
	ListAccounts(ctx context.Context, connID uuid.UUID) ([]*mirror.Account, error)
	SetAccountActive(ctx context.Context, connID uuid.UUID, remoteID string, active bool) (*mirror.Account, error)
	ListCategories(ctx context.Context, connID uuid.UUID) ([]*mirror.Category, error)
}

// ReferenceHandler handles accounts and categories
type ReferenceHandler struct {
	service ReferenceServiceInterface
}

// NewReferenceHandler creates a new reference data handler
func NewReferenceHandler(service ReferenceServiceInterface) *ReferenceHandler {
	return &ReferenceHandler{service: service}
}

// AccountResponse represents a bank or credit-card account
type AccountResponse struct {
	RemoteID    string `json:"remote_id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	AccountType string `json:"account_type"`
	Currency    string `json:"currency"`
	Balance     string `json:"balance"`
	IsActive    bool   `json:"is_active"`
	IsConnected bool   `json:"is_connected"`
	UpdatedAt   string `json:"updated_at"`
}

// CategoryResponse represents a chart-of-accounts category
type CategoryResponse struct {
	RemoteID       string `json:"remote_id"`
	Name           string `json:"name"`
	AccountType    string `json:"account_type"`
	Classification string `json:"classification,omitempty"`
	Active         bool   `json:"active"`
}

// SetAccountActiveRequest toggles transaction sync for an account
type SetAccountActiveRequest struct {
	Active bool `json:"active"`
}

// ListAccounts handles GET /connections/{connID}/accounts
func (h *ReferenceHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	connID, err := connectionID(r)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	accounts, err := h.service.ListAccounts(r.Context(), connID)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	out := make([]AccountResponse, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, toAccountResponse(a))
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"accounts": out})
}

// SetAccountActive handles PUT /connections/{connID}/accounts/{accountID}/active
func (h *ReferenceHandler) SetAccountActive(w http.ResponseWriter, r *http.Request) {
	connID, err := connectionID(r)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	var req SetAccountActiveRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithAppError(w, err)
		return
	}

	account, err := h.service.SetAccountActive(r.Context(), connID, chi.URLParam(r, "accountID"), req.Active)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toAccountResponse(account))
}

// ListCategories handles GET /connections/{connID}/categories
func (h *ReferenceHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	connID, err := connectionID(r)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	cats, err := h.service.ListCategories(r.Context(), connID)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	out := make([]CategoryResponse, 0, len(cats))
	for _, c := range cats {
		out = append(out, CategoryResponse{
			RemoteID:       c.RemoteID,
			Name:           c.Name,
			AccountType:    c.AccountType,
			Classification: c.Classification,
			Active:         c.Active,
		})
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"categories": out})
}

func toAccountResponse(a *mirror.Account) AccountResponse {
	return AccountResponse{
		RemoteID:    a.RemoteID,
		Name:        a.Name,
		DisplayName: a.DisplayName(),
		AccountType: a.AccountType,
		Currency:    a.Currency,
		Balance:     a.Balance.StringFixed(2),
		IsActive:    a.IsActive,
		IsConnected: a.IsConnected,
		UpdatedAt:   a.UpdatedAt.Format(time.RFC3339),
	}
}
