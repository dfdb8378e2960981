package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/kislikjeka/booksync/internal/platform/mirror"
	apperrors "github.com/kislikjeka/booksync/internal/shared/errors"
)

// AuditServiceInterface reads the operation log
type AuditServiceInterface interface {
	ListAudit(ctx context.Context, f mirror.AuditFilter) ([]*mirror.AuditEntry, error)
}

// AuditHandler serves the audit log
type AuditHandler struct {
	service AuditServiceInterface
}

// NewAuditHandler creates a new audit handler
func NewAuditHandler(service AuditServiceInterface) *AuditHandler {
	return &AuditHandler{service: service}
}

// AuditEntryResponse represents one audit log line
type AuditEntryResponse struct {
	ID         string         `json:"id"`
	EntityKind string         `json:"entity_kind"`
	Operation  string         `json:"operation"`
	ItemCount  int            `json:"item_count"`
	Outcome    string         `json:"outcome"`
	Detail     map[string]any `json:"detail,omitempty"`
	CreatedAt  string         `json:"created_at"`
}

// ListAudit handles GET /connections/{connID}/audit
func (h *AuditHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	connID, err := connectionID(r)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	filter := mirror.AuditFilter{
		ConnectionID: connID,
		Operation:    r.URL.Query().Get("operation"),
	}
	if v := r.URL.Query().Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondWithAppError(w, apperrors.BadRequest("invalid since, expected RFC3339"))
			return
		}
		filter.Since = &since
	}
	if filter.Limit, err = queryInt(r, "limit", 100); err != nil {
		respondWithAppError(w, err)
		return
	}

	entries, err := h.service.ListAudit(r.Context(), filter)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	out := make([]AuditEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, AuditEntryResponse{
			ID:         e.ID.String(),
			EntityKind: e.EntityKind,
			Operation:  e.Operation,
			ItemCount:  e.ItemCount,
			Outcome:    e.Outcome,
			Detail:     e.Detail,
			CreatedAt:  e.CreatedAt.Format(time.RFC3339),
		})
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"entries": out})
}
