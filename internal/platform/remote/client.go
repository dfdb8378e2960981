package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrStaleObject is returned when an update carried an outdated version token
	ErrStaleObject = errors.New("remote object version is stale")

	// ErrUnauthorized is returned when a request is rejected after the single token refresh
	ErrUnauthorized = errors.New("remote authorization failed")

	// ErrRateLimited is returned when rate-limit retries are exhausted
	ErrRateLimited = errors.New("remote rate limit exceeded")

	// ErrNotFound is returned when the addressed remote object does not exist
	ErrNotFound = errors.New("remote object not found")
)

// APIError is a non-retryable error response from the remote system
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("remote API error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("remote API error %d: %s", e.StatusCode, e.Message)
}

// Connection identifies one authorized company (realm) of the remote system
type Connection struct {
	ID      uuid.UUID
	RealmID string
}

// Attachment is a document uploaded against a remote entity
type Attachment struct {
	EntityKind  Kind
	EntityID    string
	FileName    string
	ContentType string
	Data        []byte
	Note        string
}

// Client is the port to the remote accounting system
type Client interface {
	// Query returns up to limit raw records of kind starting at the zero-based offset.
	Query(ctx context.Context, conn Connection, kind Kind, offset, limit int) ([]json.RawMessage, error)

	// Get re-reads a single record
	Get(ctx context.Context, conn Connection, kind Kind, id string) (json.RawMessage, error)

	// Update sends a sparse update. The payload must carry Id and SyncToken.
	// It returns the updated record with its new version token.
	Update(ctx context.Context, conn Connection, kind Kind, payload map[string]any) (json.RawMessage, error)

	// FindVendorByName returns nil, nil when no vendor has that display name
	FindVendorByName(ctx context.Context, conn Connection, name string) (*NameRecord, error)

	CreateVendor(ctx context.Context, conn Connection, name string) (*NameRecord, error)

	// UploadAttachment returns the remote attachable id
	UploadAttachment(ctx context.Context, conn Connection, att Attachment) (string, error)
}
