package handler

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kislikjeka/booksync/internal/platform/mirror"
	"github.com/kislikjeka/booksync/internal/platform/writeback"
	apperrors "github.com/kislikjeka/booksync/internal/shared/errors"
)

const maxUploadBytes = 20 << 20

// TransactionServiceInterface defines the transaction operations used by the API
type TransactionServiceInterface interface {
	ListTransactions(ctx context.Context, f mirror.TransactionFilter) ([]*mirror.Transaction, error)
	GetTransaction(ctx context.Context, connID, id uuid.UUID) (*mirror.Transaction, []*mirror.Split, error)
	EditTransaction(ctx context.Context, connID, id uuid.UUID, e mirror.Edit) (*mirror.Transaction, error)
	SplitTransaction(ctx context.Context, connID, id uuid.UUID, inputs []mirror.SplitInput) (*mirror.Transaction, []*mirror.Split, error)
	SetExcluded(ctx context.Context, connID, id uuid.UUID, excluded bool) (*mirror.Transaction, error)
	ForceReview(ctx context.Context, connID, id uuid.UUID, forced bool) (*mirror.Transaction, error)
}

// AttacherInterface uploads documents to the remote record
type AttacherInterface interface {
	AttachDocument(ctx context.Context, connID, txID uuid.UUID, doc writeback.Document) (string, error)
}

// TransactionHandler handles transaction-related HTTP requests
type TransactionHandler struct {
	service  TransactionServiceInterface
	attacher AttacherInterface
}

// NewTransactionHandler creates a new transaction handler
func NewTransactionHandler(service TransactionServiceInterface, attacher AttacherInterface) *TransactionHandler {
	return &TransactionHandler{
		service:  service,
		attacher: attacher,
	}
}

// EditTransactionRequest represents a partial transaction update
type EditTransactionRequest struct {
	Note       *string  `json:"note"`
	CategoryID *string  `json:"category_id"`
	Payee      *string  `json:"payee"`
	Tags       []string `json:"tags"`
}

// SplitRequest is one requested split line
type SplitRequest struct {
	CategoryID   string          `json:"category_id"`
	CategoryName string          `json:"category_name"`
	Amount       decimal.Decimal `json:"amount"`
	Description  string          `json:"description"`
}

// SplitTransactionRequest replaces the split set of a transaction
type SplitTransactionRequest struct {
	Splits []SplitRequest `json:"splits"`
}

// SplitResponse represents one split line
type SplitResponse struct {
	ID           string `json:"id"`
	Position     int    `json:"position"`
	CategoryID   string `json:"category_id"`
	CategoryName string `json:"category_name"`
	Amount       string `json:"amount"`
	Description  string `json:"description,omitempty"`
}

// TransactionResponse represents a mirrored transaction
type TransactionResponse struct {
	ID                    string           `json:"id"`
	RemoteID              string           `json:"remote_id"`
	RemoteKind            string           `json:"remote_kind"`
	Subtype               string           `json:"subtype"`
	AccountID             string           `json:"account_id"`
	Date                  string           `json:"date"`
	Amount                string           `json:"amount"`
	Currency              string           `json:"currency"`
	Direction             string           `json:"direction"`
	Description           string           `json:"description"`
	Payee                 string           `json:"payee,omitempty"`
	Resolved              bool             `json:"resolved"`
	ResolutionReason      string           `json:"resolution_reason,omitempty"`
	NeedsReview           bool             `json:"needs_review"`
	SuggestedCategoryID   string           `json:"suggested_category_id,omitempty"`
	SuggestedCategoryName string           `json:"suggested_category_name,omitempty"`
	SuggestedPayee        string           `json:"suggested_payee,omitempty"`
	Reasoning             mirror.Reasoning `json:"reasoning"`
	Confidence            float64          `json:"confidence"`
	Tags                  []string         `json:"tags"`
	ClassifiedBy          string           `json:"classified_by,omitempty"`
	AutoAccept            bool             `json:"auto_accept"`
	Note                  string           `json:"note,omitempty"`
	FinalCategoryID       string           `json:"final_category_id,omitempty"`
	FinalCategoryName     string           `json:"final_category_name,omitempty"`
	FinalPayee            string           `json:"final_payee,omitempty"`
	Status                string           `json:"status"`
	Excluded              bool             `json:"excluded"`
	ForcedReview          bool             `json:"forced_review"`
	IsSplit               bool             `json:"is_split"`
	DiagnosticNote        string           `json:"diagnostic_note,omitempty"`
	Splits                []SplitResponse  `json:"splits,omitempty"`
	ApprovedAt            *string          `json:"approved_at,omitempty"`
	UpdatedAt             string           `json:"updated_at"`
}

// ListTransactions handles GET /connections/{connID}/transactions
func (h *TransactionHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	connID, err := connectionID(r)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	filter, err := transactionFilter(r, connID)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	txs, err := h.service.ListTransactions(r.Context(), filter)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	out := make([]TransactionResponse, 0, len(txs))
	for _, t := range txs {
		out = append(out, toTransactionResponse(t, nil))
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"transactions": out})
}

// GetTransaction handles GET /connections/{connID}/transactions/{txID}
func (h *TransactionHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	connID, txID, err := transactionIDs(r)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	tx, splits, err := h.service.GetTransaction(r.Context(), connID, txID)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toTransactionResponse(tx, splits))
}

// EditTransaction handles PATCH /connections/{connID}/transactions/{txID}
func (h *TransactionHandler) EditTransaction(w http.ResponseWriter, r *http.Request) {
	connID, txID, err := transactionIDs(r)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	var req EditTransactionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithAppError(w, err)
		return
	}

	tx, err := h.service.EditTransaction(r.Context(), connID, txID, mirror.Edit{
		Note:       req.Note,
		CategoryID: req.CategoryID,
		Payee:      req.Payee,
		Tags:       req.Tags,
	})
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toTransactionResponse(tx, nil))
}

// SplitTransaction handles PUT /connections/{connID}/transactions/{txID}/splits
func (h *TransactionHandler) SplitTransaction(w http.ResponseWriter, r *http.Request) {
	connID, txID, err := transactionIDs(r)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	var req SplitTransactionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithAppError(w, err)
		return
	}

	inputs := make([]mirror.SplitInput, 0, len(req.Splits))
	for _, s := range req.Splits {
		inputs = append(inputs, mirror.SplitInput{
			CategoryID:   s.CategoryID,
			CategoryName: s.CategoryName,
			Amount:       s.Amount,
			Description:  s.Description,
		})
	}

	tx, splits, err := h.service.SplitTransaction(r.Context(), connID, txID, inputs)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toTransactionResponse(tx, splits))
}

// Exclude handles POST /connections/{connID}/transactions/{txID}/exclude
func (h *TransactionHandler) Exclude(w http.ResponseWriter, r *http.Request) {
	h.setFlag(w, r, h.service.SetExcluded, true)
}

// Include handles DELETE /connections/{connID}/transactions/{txID}/exclude
func (h *TransactionHandler) Include(w http.ResponseWriter, r *http.Request) {
	h.setFlag(w, r, h.service.SetExcluded, false)
}

// ForceReview handles POST /connections/{connID}/transactions/{txID}/review
func (h *TransactionHandler) ForceReview(w http.ResponseWriter, r *http.Request) {
	h.setFlag(w, r, h.service.ForceReview, true)
}

// ClearReview handles DELETE /connections/{connID}/transactions/{txID}/review
func (h *TransactionHandler) ClearReview(w http.ResponseWriter, r *http.Request) {
	h.setFlag(w, r, h.service.ForceReview, false)
}

func (h *TransactionHandler) setFlag(w http.ResponseWriter, r *http.Request,
	set func(ctx context.Context, connID, id uuid.UUID, v bool) (*mirror.Transaction, error), v bool) {
	connID, txID, err := transactionIDs(r)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	tx, err := set(r.Context(), connID, txID, v)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toTransactionResponse(tx, nil))
}

// AttachDocument handles POST /connections/{connID}/transactions/{txID}/attachments
func (h *TransactionHandler) AttachDocument(w http.ResponseWriter, r *http.Request) {
	connID, txID, err := transactionIDs(r)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondWithAppError(w, apperrors.BadRequest("invalid multipart form"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		respondWithAppError(w, apperrors.Validation("file is required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondWithAppError(w, apperrors.BadRequest("failed to read file"))
		return
	}

	id, err := h.attacher.AttachDocument(r.Context(), connID, txID, writeback.Document{
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
		Note:        r.FormValue("note"),
	})
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, map[string]string{"attachment_id": id})
}

func transactionIDs(r *http.Request) (uuid.UUID, uuid.UUID, error) {
	connID, err := connectionID(r)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	txID, err := uuidParam(r, "txID", "transaction")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return connID, txID, nil
}

func transactionFilter(r *http.Request, connID uuid.UUID) (mirror.TransactionFilter, error) {
	q := r.URL.Query()
	f := mirror.TransactionFilter{
		ConnectionID: connID,
		AccountID:    q.Get("account_id"),
	}

	if v := q.Get("status"); v != "" {
		for _, s := range strings.Split(v, ",") {
			status := mirror.Status(strings.TrimSpace(s))
			if !status.IsValid() {
				return f, apperrors.BadRequest("invalid status " + s)
			}
			f.Statuses = append(f.Statuses, status)
		}
	}

	var err error
	if f.NeedsReview, err = queryBool(r, "needs_review"); err != nil {
		return f, err
	}
	if f.Excluded, err = queryBool(r, "excluded"); err != nil {
		return f, err
	}
	if f.Limit, err = queryInt(r, "limit", 100); err != nil {
		return f, err
	}
	if f.Offset, err = queryInt(r, "offset", 0); err != nil {
		return f, err
	}
	return f, nil
}

func toTransactionResponse(t *mirror.Transaction, splits []*mirror.Split) TransactionResponse {
	resp := TransactionResponse{
		ID:                    t.ID.String(),
		RemoteID:              t.RemoteID,
		RemoteKind:            string(t.RemoteKind),
		Subtype:               string(t.Subtype),
		AccountID:             t.AccountID,
		Date:                  t.Date.Format("2006-01-02"),
		Amount:                t.Amount.StringFixed(2),
		Currency:              t.Currency,
		Direction:             string(t.Direction()),
		Description:           t.Description,
		Payee:                 t.Payee,
		Resolved:              t.Resolved,
		ResolutionReason:      t.ResolutionReason,
		NeedsReview:           t.NeedsReview(),
		SuggestedCategoryID:   t.SuggestedCategoryID,
		SuggestedCategoryName: t.SuggestedCategoryName,
		SuggestedPayee:        t.SuggestedPayee,
		Reasoning:             t.Reasoning,
		Confidence:            t.Confidence,
		Tags:                  t.Tags,
		ClassifiedBy:          string(t.ClassifiedBy),
		AutoAccept:            t.AutoAccept,
		Note:                  t.Note,
		FinalCategoryID:       t.FinalCategoryID,
		FinalCategoryName:     t.FinalCategoryName,
		FinalPayee:            t.FinalPayee,
		Status:                string(t.Status),
		Excluded:              t.Excluded,
		ForcedReview:          t.ForcedReview,
		IsSplit:               t.IsSplit,
		DiagnosticNote:        t.DiagnosticNote,
		UpdatedAt:             t.UpdatedAt.Format(time.RFC3339),
	}
	if resp.Tags == nil {
		resp.Tags = []string{}
	}
	if t.ApprovedAt != nil {
		s := t.ApprovedAt.Format(time.RFC3339)
		resp.ApprovedAt = &s
	}
	for _, s := range splits {
		resp.Splits = append(resp.Splits, SplitResponse{
			ID:           s.ID.String(),
			Position:     s.Position,
			CategoryID:   s.CategoryID,
			CategoryName: s.CategoryName,
			Amount:       s.Amount.StringFixed(2),
			Description:  s.Description,
		})
	}
	return resp
}
