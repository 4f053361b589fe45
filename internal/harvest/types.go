package harvest

import (
	"net/http"
	"time"
)

// OutcomeKind is the closed set of terminal results a task can report.
type OutcomeKind int

// Terminal outcome kinds. The coordinator branches over exactly these values.
const (
	// OutcomeSuccess means both artifacts were written.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeInvalidInput means the URL carried no ProviderID; never retried.
	OutcomeInvalidInput
	// OutcomeExhausted means every attempt failed with a transient error.
	OutcomeExhausted
	// OutcomeCanceled means the run was interrupted before the task finished.
	OutcomeCanceled
)

// String returns the lowercase label used in logs and metrics.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeInvalidInput:
		return "invalid_input"
	case OutcomeExhausted:
		return "exhausted"
	case OutcomeCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Task pairs a resource URL with its ProviderID and attempt counter. A task
// lives from dispatch until its terminal outcome is recorded.
type Task struct {
	URL        string
	ProviderID string
	Attempts   int
}

// Outcome is the terminal report for one task.
type Outcome struct {
	Kind         OutcomeKind
	URL          string
	ProviderID   string
	Attempts     int
	DocumentPath string
	RecordPath   string
	Duration     time.Duration
	// Err is the last error observed; nil on success.
	Err error
}

// Succeeded reports whether the outcome should be checkpointed.
func (o Outcome) Succeeded() bool {
	return o.Kind == OutcomeSuccess
}

// FetchRequest captures one HTTP GET issued to the remote service.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is returned for every completed exchange, whatever the status.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// OK reports whether the status code is in the 2xx range.
func (r FetchResponse) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}
