package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart   Stage = "RUN_START"
	StageTaskDone   Stage = "TASK_DONE"
	StageTaskFailed Stage = "TASK_FAILED"
	StageRunDone    Stage = "RUN_DONE"
	StageRunError   Stage = "RUN_ERROR"
)

// Lifecycle reports whether s marks the start or end of a run.
func (s Stage) Lifecycle() bool {
	return s == StageRunStart || s == StageRunDone || s == StageRunError
}

// Event captures a single component of harvest progress.
type Event struct {
	// RunID identifies the run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle or task milestone occurred.
	Stage Stage
	// URL is the resource URL for task events.
	URL string
	// ProviderID accompanies task events when the URL carried one.
	ProviderID string
	// Outcome is the terminal outcome label for task events.
	Outcome string
	// Attempts is the number of attempts a task consumed.
	Attempts int
	// Total is the number of tasks dispatched by the run (RUN_START, RUN_DONE).
	Total int64
	// Skipped is the number of candidates already checkpointed.
	Skipped int64
	// Dur captures task or run latency.
	Dur time.Duration
	// Note lets emitters attach low-volume context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StageTaskDone, StageTaskFailed:
		if e.URL == "" {
			return fmt.Errorf("%s requires url", e.Stage)
		}
		if e.Attempts < 0 {
			return errors.New("attempts must be >= 0")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
