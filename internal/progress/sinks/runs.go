package sinks

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/JakeFAU/provider-harvester/internal/progress"
	"github.com/JakeFAU/provider-harvester/internal/store"
)

const defaultMaxRuns = 64

// RunSink folds progress events into per-run aggregates and serves them
// through store.RunReader. Only the most recent runs are retained.
type RunSink struct {
	mu      sync.RWMutex
	runs    map[uuid.UUID]*store.Run
	order   []uuid.UUID
	maxRuns int
}

// NewRunSink returns an empty RunSink keeping at most maxRuns runs.
func NewRunSink(maxRuns int) *RunSink {
	if maxRuns <= 0 {
		maxRuns = defaultMaxRuns
	}
	return &RunSink{runs: make(map[uuid.UUID]*store.Run), maxRuns: maxRuns}
}

// Consume applies the batch to the aggregates.
func (s *RunSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		s.apply(evt)
	}
	return nil
}

func (s *RunSink) apply(evt progress.Event) {
	id := evt.RunUUID()
	run, ok := s.runs[id]
	if !ok {
		run = &store.Run{ID: id, StartedAt: evt.TS, Status: store.RunRunning, Outcomes: map[string]int64{}}
		s.runs[id] = run
		s.order = append(s.order, id)
		s.evict()
	}
	run.LastUpdate = evt.TS
	switch evt.Stage {
	case progress.StageRunStart:
		run.StartedAt = evt.TS
		run.Total = evt.Total
		run.Skipped = evt.Skipped
	case progress.StageTaskDone:
		run.Succeeded++
		run.Outcomes[outcomeLabel(evt)]++
		run.LastURL = evt.URL
	case progress.StageTaskFailed:
		run.Failed++
		run.Outcomes[outcomeLabel(evt)]++
		run.LastURL = evt.URL
	case progress.StageRunDone, progress.StageRunError:
		finished := evt.TS
		run.FinishedAt = &finished
		run.Status = store.RunSuccess
		if evt.Stage == progress.StageRunError {
			run.Status = store.RunError
			msg := evt.Note
			run.ErrorMessage = &msg
		}
	}
}

func outcomeLabel(evt progress.Event) string {
	if evt.Outcome == "" {
		return "unknown"
	}
	return evt.Outcome
}

func (s *RunSink) evict() {
	for len(s.order) > s.maxRuns {
		delete(s.runs, s.order[0])
		s.order = s.order[1:]
	}
}

// ListRuns returns runs newest first.
func (s *RunSink) ListRuns(_ context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if status != nil && run.Status != *status {
			continue
		}
		out = append(out, cloneRun(run))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if offset >= len(out) {
		return []store.Run{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// GetRun returns the aggregate for id or store.ErrNotFound.
func (s *RunSink) GetRun(_ context.Context, id uuid.UUID) (store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return store.Run{}, store.ErrNotFound
	}
	return cloneRun(run), nil
}

// Close implements the Sink interface; aggregates stay readable.
func (s *RunSink) Close(context.Context) error {
	return nil
}

func cloneRun(run *store.Run) store.Run {
	out := *run
	out.Outcomes = make(map[string]int64, len(run.Outcomes))
	for k, v := range run.Outcomes {
		out.Outcomes[k] = v
	}
	if run.FinishedAt != nil {
		finished := *run.FinishedAt
		out.FinishedAt = &finished
	}
	if run.ErrorMessage != nil {
		msg := *run.ErrorMessage
		out.ErrorMessage = &msg
	}
	return out
}
