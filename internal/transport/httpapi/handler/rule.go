package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kislikjeka/booksync/internal/platform/mirror"
)

// RuleServiceInterface defines rule and alias operations
type RuleServiceInterface interface {
	ListRules(ctx context.Context, connID uuid.UUID) ([]*mirror.Rule, error)
	CreateRule(ctx context.Context, r *mirror.Rule) error
	DeleteRule(ctx context.Context, connID, id uuid.UUID) error
	ListAliases(ctx context.Context, connID uuid.UUID) ([]*mirror.VendorAlias, error)
	CreateAlias(ctx context.Context, a *mirror.VendorAlias) error
}

// RuleHandler handles classification rules and vendor aliases
type RuleHandler struct {
	service RuleServiceInterface
}

// NewRuleHandler creates a new rule handler
func NewRuleHandler(service RuleServiceInterface) *RuleHandler {
	return &RuleHandler{service: service}
}

// RuleRequest represents a rule creation request
type RuleRequest struct {
	Name                string           `json:"name"`
	Priority            int              `json:"priority"`
	DescriptionContains string           `json:"description_contains"`
	AmountMin           *decimal.Decimal `json:"amount_min"`
	AmountMax           *decimal.Decimal `json:"amount_max"`
	CategoryID          string           `json:"category_id"`
	CategoryName        string           `json:"category_name"`
	Tags                []string         `json:"tags"`
}

// RuleResponse represents a stored rule
type RuleResponse struct {
	ID                  string   `json:"id"`
	Name                string   `json:"name"`
	Priority            int      `json:"priority"`
	DescriptionContains string   `json:"description_contains,omitempty"`
	AmountMin           *string  `json:"amount_min,omitempty"`
	AmountMax           *string  `json:"amount_max,omitempty"`
	CategoryID          string   `json:"category_id,omitempty"`
	CategoryName        string   `json:"category_name,omitempty"`
	Tags                []string `json:"tags,omitempty"`
	Enabled             bool     `json:"enabled"`
	CreatedAt           string   `json:"created_at"`
}

// AliasRequest represents a vendor alias creation request
type AliasRequest struct {
	Match      string `json:"match"`
	VendorID   string `json:"vendor_id"`
	VendorName string `json:"vendor_name"`
}

// AliasResponse represents a stored vendor alias
type AliasResponse struct {
	ID         string `json:"id"`
	Match      string `json:"match"`
	VendorID   string `json:"vendor_id,omitempty"`
	VendorName string `json:"vendor_name,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// ListRules handles GET /connections/{connID}/rules
func (h *RuleHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	connID, err := connectionID(r)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	rules, err := h.service.ListRules(r.Context(), connID)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	out := make([]RuleResponse, 0, len(rules))
	for _, rule := range rules {
		out = append(out, toRuleResponse(rule))
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"rules": out})
}

// CreateRule handles POST /connections/{connID}/rules
func (h *RuleHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	connID, err := connectionID(r)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	var req RuleRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithAppError(w, err)
		return
	}

	rule := &mirror.Rule{
		ConnectionID: connID,
		Name:         req.Name,
		Priority:     req.Priority,
		Conditions: mirror.RuleConditions{
			DescriptionContains: req.DescriptionContains,
			AmountMin:           req.AmountMin,
			AmountMax:           req.AmountMax,
		},
		Action: mirror.RuleAction{
			CategoryID:   req.CategoryID,
			CategoryName: req.CategoryName,
			Tags:         req.Tags,
		},
	}
	if err := h.service.CreateRule(r.Context(), rule); err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, toRuleResponse(rule))
}

// DeleteRule handles DELETE /connections/{connID}/rules/{ruleID}
func (h *RuleHandler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	connID, err := connectionID(r)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	ruleID, err := uuidParam(r, "ruleID", "rule")
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	if err := h.service.DeleteRule(r.Context(), connID, ruleID); err != nil {
		respondWithAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListAliases handles GET /connections/{connID}/aliases
func (h *RuleHandler) ListAliases(w http.ResponseWriter, r *http.Request) {
	connID, err := connectionID(r)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	aliases, err := h.service.ListAliases(r.Context(), connID)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	out := make([]AliasResponse, 0, len(aliases))
	for _, a := range aliases {
		out = append(out, toAliasResponse(a))
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"aliases": out})
}

// CreateAlias handles POST /connections/{connID}/aliases
func (h *RuleHandler) CreateAlias(w http.ResponseWriter, r *http.Request) {
	connID, err := connectionID(r)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	var req AliasRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithAppError(w, err)
		return
	}

	alias := &mirror.VendorAlias{
		ConnectionID: connID,
		Match:        req.Match,
		VendorID:     req.VendorID,
		VendorName:   req.VendorName,
	}
	if err := h.service.CreateAlias(r.Context(), alias); err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, toAliasResponse(alias))
}

func toRuleResponse(r *mirror.Rule) RuleResponse {
	resp := RuleResponse{
		ID:                  r.ID.String(),
		Name:                r.Name,
		Priority:            r.Priority,
		DescriptionContains: r.Conditions.DescriptionContains,
		CategoryID:          r.Action.CategoryID,
		CategoryName:        r.Action.CategoryName,
		Tags:                r.Action.Tags,
		Enabled:             r.Enabled,
		CreatedAt:           r.CreatedAt.Format(time.RFC3339),
	}
	if r.Conditions.AmountMin != nil {
		s := r.Conditions.AmountMin.String()
		resp.AmountMin = &s
	}
	if r.Conditions.AmountMax != nil {
		s := r.Conditions.AmountMax.String()
		resp.AmountMax = &s
	}
	return resp
}

func toAliasResponse(a *mirror.VendorAlias) AliasResponse {
	return AliasResponse{
		ID:         a.ID.String(),
		Match:      a.Match,
		VendorID:   a.VendorID,
		VendorName: a.VendorName,
		CreatedAt:  a.CreatedAt.Format(time.RFC3339),
	}
}
