package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kislikjeka/booksync/internal/platform/jobs"
	"github.com/kislikjeka/booksync/internal/platform/lock"
	"github.com/kislikjeka/booksync/internal/platform/mirror"
	"github.com/kislikjeka/booksync/internal/platform/remote"
	"github.com/kislikjeka/booksync/internal/platform/writeback"
	apperrors "github.com/kislikjeka/booksync/internal/shared/errors"
	"github.com/kislikjeka/booksync/internal/transport/httpapi/middleware"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// respondWithJSON sends a JSON response
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// respondWithError sends an error response
func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, ErrorResponse{Error: message})
}

// respondWithAppError maps a domain error to its status and code
func respondWithAppError(w http.ResponseWriter, err error) {
	appErr := toAppError(err)
	respondWithJSON(w, apperrors.HTTPStatus(appErr.Code), ErrorResponse{Error: appErr.Message, Code: appErr.Code})
}

// toAppError classifies an error from the platform packages
func toAppError(err error) *apperrors.AppError {
	if appErr := apperrors.GetAppError(err); appErr != nil {
		return appErr
	}

	switch {
	case errors.Is(err, mirror.ErrConnectionNotFound):
		return apperrors.NotFound("connection")
	case errors.Is(err, mirror.ErrTransactionNotFound):
		return apperrors.NotFound("transaction")
	case errors.Is(err, mirror.ErrAccountNotFound):
		return apperrors.NotFound("account")
	case errors.Is(err, mirror.ErrRuleNotFound):
		return apperrors.NotFound("rule")
	case errors.Is(err, jobs.ErrJobNotFound):
		return apperrors.NotFound("job")

	case errors.Is(err, mirror.ErrInvalidRule),
		errors.Is(err, mirror.ErrInvalidAlias),
		errors.Is(err, mirror.ErrInvalidSplit),
		errors.Is(err, mirror.ErrInvalidConnection),
		errors.Is(err, writeback.ErrInvalidAttachment):
		return apperrors.Validation(err.Error())

	case errors.Is(err, mirror.ErrSplitSumMismatch),
		errors.Is(err, mirror.ErrUnresolvedCategory),
		errors.Is(err, mirror.ErrMissingVersionToken),
		errors.Is(err, mirror.ErrNothingToApprove),
		errors.Is(err, mirror.ErrExcluded),
		errors.Is(err, writeback.ErrUnsupportedKind):
		return apperrors.DataError(err.Error(), err)

	case errors.Is(err, remote.ErrStaleObject):
		return apperrors.VersionConflict("record changed in the accounting system, sync and retry", err)
	case errors.Is(err, lock.ErrHeld):
		return apperrors.Locked("another operation is running for this record")
	case errors.Is(err, jobs.ErrQueueFull), errors.Is(err, jobs.ErrNotRunning):
		return apperrors.Unavailable(err.Error(), err)
	case errors.Is(err, remote.ErrUnauthorized):
		return apperrors.Unavailable("accounting system authorization failed, reconnect the company", err)
	case errors.Is(err, remote.ErrRateLimited):
		return apperrors.Unavailable("accounting system rate limit reached, try again later", err)
	}

	return apperrors.Internal("internal server error", err)
}

// decodeJSON reads a JSON request body
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperrors.BadRequest("invalid request body")
	}
	return nil
}

// connectionID reads the connection route parameter
func connectionID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, middleware.ConnectionParam))
	if err != nil {
		return uuid.Nil, apperrors.BadRequest("invalid connection ID")
	}
	return id, nil
}

// uuidParam reads a uuid route parameter
func uuidParam(r *http.Request, name, label string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, apperrors.BadRequest("invalid " + label + " ID")
	}
	return id, nil
}

// queryInt reads an optional integer query parameter
func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, apperrors.BadRequest("invalid " + name)
	}
	return n, nil
}

// queryBool reads an optional boolean query parameter
func queryBool(r *http.Request, name string) (*bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, apperrors.BadRequest("invalid " + name)
	}
	return &b, nil
}
