package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested run does not exist.
var ErrNotFound = errors.New("run not found")

// RunStatus is the lifecycle state of a harvest run.
type RunStatus string

// Run statuses.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// Run models the progress of one harvest run.
type Run struct {
	ID         uuid.UUID
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     RunStatus
	// Total is the number of tasks dispatched; Skipped were already checkpointed.
	Total     int64
	Skipped   int64
	Succeeded int64
	Failed    int64
	// Outcomes counts terminal outcomes by label.
	Outcomes     map[string]int64
	LastURL      string
	LastUpdate   time.Time
	ErrorMessage *string
}

// Done is the number of tasks that reached a terminal outcome.
func (r Run) Done() int64 {
	return r.Succeeded + r.Failed
}

// RunReader exposes run progress to the status server.
type RunReader interface {
	// ListRuns returns runs newest first, optionally filtered by status.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
	// GetRun returns one run or ErrNotFound.
	GetRun(ctx context.Context, id uuid.UUID) (Run, error)
}
