package jobs

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrQueueFull is returned when the dispatcher cannot accept more work
	ErrQueueFull = errors.New("job queue is full")

	// ErrNotRunning is returned when submitting to a stopped dispatcher
	ErrNotRunning = errors.New("job dispatcher is not running")

	// ErrJobNotFound is returned for an unknown or evicted job id
	ErrJobNotFound = errors.New("job not found")
)

// Kind is the operation a job runs
type Kind string

const (
	KindSync     Kind = "sync"
	KindClassify Kind = "classify"
	KindApprove  Kind = "approve"
)

// State is the lifecycle state of a job
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Finished reports whether the job reached a terminal state
func (s State) Finished() bool {
	return s == StateSucceeded || s == StateFailed
}

// ClassifyParams scopes a classification job
type ClassifyParams struct {
	Limit         int        `json:"limit,omitempty"`
	TransactionID *uuid.UUID `json:"transaction_id,omitempty"`
	AllowProvider bool       `json:"allow_provider"`
}

// Job is one background operation on a connection
type Job struct {
	ID           uuid.UUID  `json:"id"`
	ConnectionID uuid.UUID  `json:"connection_id"`
	Kind         Kind       `json:"kind"`
	State        State      `json:"state"`
	Result       any        `json:"result,omitempty"`
	Error        string     `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`

	classify ClassifyParams
	approve  []uuid.UUID
}

// snapshot copies the exported fields so callers never share the live job
func (j *Job) snapshot() *Job {
	cp := *j
	cp.approve = nil
	return &cp
}
