package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/kislikjeka/booksync/internal/platform/jobs"
	"github.com/kislikjeka/booksync/internal/platform/mirror"
	apperrors "github.com/kislikjeka/booksync/internal/shared/errors"
)

const maxBulkApprove = 500

// JobDispatcherInterface queues long-running operations
type JobDispatcherInterface interface {
	SubmitSync(connID uuid.UUID) (*jobs.Job, error)
	SubmitClassify(connID uuid.UUID, params jobs.ClassifyParams) (*jobs.Job, error)
	SubmitApprove(connID uuid.UUID, ids []uuid.UUID) (*jobs.Job, error)
	Get(id uuid.UUID) (*jobs.Job, error)
}

// ConnectionLookupInterface confirms a connection exists before queueing work
type ConnectionLookupInterface interface {
	GetConnection(ctx context.Context, id uuid.UUID) (*mirror.Connection, error)
}

// JobHandler triggers background sync, classification and approval
type JobHandler struct {
	dispatcher  JobDispatcherInterface
	connections ConnectionLookupInterface
}

// NewJobHandler creates a new job handler
func NewJobHandler(dispatcher JobDispatcherInterface, connections ConnectionLookupInterface) *JobHandler {
	return &JobHandler{
		dispatcher:  dispatcher,
		connections: connections,
	}
}

// ClassifyRequest scopes a classification run
type ClassifyRequest struct {
	Limit         int  `json:"limit"`
	AllowProvider bool `json:"allow_provider"`
}

// ApproveRequest lists the records to approve
type ApproveRequest struct {
	TransactionIDs []uuid.UUID `json:"transaction_ids"`
}

// TriggerSync handles POST /connections/{connID}/sync
func (h *JobHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	connID, ok := h.connection(w, r)
	if !ok {
		return
	}
	h.accepted(w, func() (*jobs.Job, error) { return h.dispatcher.SubmitSync(connID) })
}

// TriggerClassify handles POST /connections/{connID}/classify
func (h *JobHandler) TriggerClassify(w http.ResponseWriter, r *http.Request) {
	connID, ok := h.connection(w, r)
	if !ok {
		return
	}

	req := ClassifyRequest{AllowProvider: true}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			respondWithAppError(w, err)
			return
		}
	}
	if req.Limit < 0 {
		respondWithAppError(w, apperrors.Validation("limit must not be negative"))
		return
	}

	params := jobs.ClassifyParams{Limit: req.Limit, AllowProvider: req.AllowProvider}
	h.accepted(w, func() (*jobs.Job, error) { return h.dispatcher.SubmitClassify(connID, params) })
}

// ClassifyTransaction handles POST /connections/{connID}/transactions/{txID}/classify
func (h *JobHandler) ClassifyTransaction(w http.ResponseWriter, r *http.Request) {
	connID, ok := h.connection(w, r)
	if !ok {
		return
	}
	txID, err := uuidParam(r, "txID", "transaction")
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	params := jobs.ClassifyParams{TransactionID: &txID, AllowProvider: r.URL.Query().Get("allow_provider") != "false"}
	h.accepted(w, func() (*jobs.Job, error) { return h.dispatcher.SubmitClassify(connID, params) })
}

// BulkApprove handles POST /connections/{connID}/approve
func (h *JobHandler) BulkApprove(w http.ResponseWriter, r *http.Request) {
	connID, ok := h.connection(w, r)
	if !ok {
		return
	}

	var req ApproveRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithAppError(w, err)
		return
	}
	if len(req.TransactionIDs) == 0 {
		respondWithAppError(w, apperrors.Validation("transaction_ids is required"))
		return
	}
	if len(req.TransactionIDs) > maxBulkApprove {
		respondWithAppError(w, apperrors.Validation("too many transactions in one approval"))
		return
	}

	h.accepted(w, func() (*jobs.Job, error) { return h.dispatcher.SubmitApprove(connID, req.TransactionIDs) })
}

// ApproveTransaction handles POST /connections/{connID}/transactions/{txID}/approve
func (h *JobHandler) ApproveTransaction(w http.ResponseWriter, r *http.Request) {
	connID, ok := h.connection(w, r)
	if !ok {
		return
	}
	txID, err := uuidParam(r, "txID", "transaction")
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	h.accepted(w, func() (*jobs.Job, error) { return h.dispatcher.SubmitApprove(connID, []uuid.UUID{txID}) })
}

// GetJob handles GET /connections/{connID}/jobs/{jobID}
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	connID, err := connectionID(r)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	jobID, err := uuidParam(r, "jobID", "job")
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	job, err := h.dispatcher.Get(jobID)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	if job.ConnectionID != connID {
		respondWithAppError(w, jobs.ErrJobNotFound)
		return
	}
	respondWithJSON(w, http.StatusOK, job)
}

func (h *JobHandler) connection(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	connID, err := connectionID(r)
	if err != nil {
		respondWithAppError(w, err)
		return uuid.Nil, false
	}
	if _, err := h.connections.GetConnection(r.Context(), connID); err != nil {
		respondWithAppError(w, err)
		return uuid.Nil, false
	}
	return connID, true
}

func (h *JobHandler) accepted(w http.ResponseWriter, submit func() (*jobs.Job, error)) {
	job, err := submit()
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	w.Header().Set("Location", "jobs/"+job.ID.String())
	respondWithJSON(w, http.StatusAccepted, job)
}
