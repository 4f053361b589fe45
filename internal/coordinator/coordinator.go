// Package coordinator runs a harvest: it filters candidate URLs against the
// checkpoint, fans the pending tasks out to a bounded worker pool, and is the
// only component that appends to the checkpoint.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/provider-harvester/internal/clock/system"
	"github.com/JakeFAU/provider-harvester/internal/harvest"
	idgen "github.com/JakeFAU/provider-harvester/internal/id/uuid"
	"github.com/JakeFAU/provider-harvester/internal/logging"
	"github.com/JakeFAU/provider-harvester/internal/metrics"
	"github.com/JakeFAU/provider-harvester/internal/progress"
	"github.com/JakeFAU/provider-harvester/internal/queue/memory"
)

// DefaultConcurrency is the worker pool size when Run is given a non-positive value.
const DefaultConcurrency = 10

// Processor drives one task to a terminal outcome.
type Processor interface {
	Process(ctx context.Context, task harvest.Task) harvest.Outcome
}

// RunIDGenerator mints run identifiers.
type RunIDGenerator interface {
	NewRunID() (uuid.UUID, error)
}

// Summary reports what a run did.
type Summary struct {
	RunID uuid.UUID
	// Candidates is the number of URLs handed to Run.
	Candidates int
	// Duplicates were collapsed onto an earlier occurrence.
	Duplicates int
	// Skipped were already in the checkpoint.
	Skipped int
	// Pending is the number of tasks that owed a terminal outcome.
	Pending   int
	Succeeded int
	Failed    int
	// Unstarted tasks were never picked up because the run was interrupted.
	Unstarted int
	Outcomes  map[harvest.OutcomeKind]int
	Elapsed   time.Duration
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithEmitter routes progress events to e.
func WithEmitter(e progress.Emitter) Option {
	return func(c *Coordinator) {
		if e != nil {
			c.emitter = e
		}
	}
}

// WithRunLogs attaches the success/fail audit logs.
func WithRunLogs(l *logging.RunLogs) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.runLogs = l
		}
	}
}

// WithIDGenerator overrides run ID generation.
func WithIDGenerator(g RunIDGenerator) Option {
	return func(c *Coordinator) {
		if g != nil {
			c.ids = g
		}
	}
}

// WithClock overrides the time source.
func WithClock(clk harvest.Clock) Option {
	return func(c *Coordinator) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithLogger attaches an operational logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// Coordinator owns the checkpoint for the duration of a run.
type Coordinator struct {
	checkpoint harvest.CheckpointStore
	processor  Processor
	emitter    progress.Emitter
	runLogs    *logging.RunLogs
	ids        RunIDGenerator
	clock      harvest.Clock
	logger     *zap.Logger
}

// New constructs a Coordinator.
func New(checkpoint harvest.CheckpointStore, processor Processor, opts ...Option) (*Coordinator, error) {
	if checkpoint == nil {
		return nil, errors.New("checkpoint store is required")
	}
	if processor == nil {
		return nil, errors.New("processor is required")
	}
	c := &Coordinator{
		checkpoint: checkpoint,
		processor:  processor,
		emitter:    nopEmitter{},
		runLogs:    logging.NopRunLogs(),
		ids:        idgen.New(),
		clock:      system.New(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type plan struct {
	tasks      []harvest.Task
	invalid    []harvest.Outcome
	duplicates int
	skipped    int
}

// Run harvests every candidate URL that is not yet checkpointed, using at
// most concurrency workers. Task failures never abort the run; a checkpoint
// load or append failure does, as does ctx cancellation. The returned
// Summary is populated in every case.
func (c *Coordinator) Run(ctx context.Context, urls []string, concurrency int) (Summary, error) {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	start := c.clock.Now()
	summary := Summary{Candidates: len(urls), Outcomes: map[harvest.OutcomeKind]int{}}

	runID, err := c.ids.NewRunID()
	if err != nil {
		return summary, fmt.Errorf("run id: %w", err)
	}
	summary.RunID = runID
	logger := c.logger.With(zap.String("run_id", runID.String()))

	completed, err := c.checkpoint.Load(ctx)
	if err != nil {
		return summary, fmt.Errorf("load checkpoint: %w", err)
	}

	p := planTasks(urls, completed)
	summary.Duplicates = p.duplicates
	summary.Skipped = p.skipped
	summary.Pending = len(p.tasks) + len(p.invalid)

	c.emit(progress.Event{
		RunID:   progress.UUIDToBytes(runID),
		Stage:   progress.StageRunStart,
		Total:   int64(summary.Pending),
		Skipped: int64(summary.Skipped),
	})
	logger.Info("harvest started",
		zap.Int("candidates", summary.Candidates),
		zap.Int("duplicates", summary.Duplicates),
		zap.Int("skipped", summary.Skipped),
		zap.Int("pending", summary.Pending),
		zap.Int("concurrency", concurrency))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var fatal error
	received := 0
	handle := func(out harvest.Outcome) {
		received++
		summary.Outcomes[out.Kind]++
		if out.Succeeded() {
			if fatal == nil {
				if err := c.checkpoint.RecordSuccess(context.WithoutCancel(runCtx), out.URL); err != nil {
					fatal = fmt.Errorf("record checkpoint: %w", err)
					logger.Error("checkpoint append failed; stopping run", zap.String("url", out.URL), zap.Error(err))
					cancel()
				}
			}
			summary.Succeeded++
		} else {
			summary.Failed++
		}
		c.report(runID, out)
	}

	for _, out := range p.invalid {
		handle(out)
	}

	results := c.dispatch(runCtx, p.tasks, concurrency)
	for out := range results {
		handle(out)
	}
	summary.Unstarted = summary.Pending - received
	summary.Elapsed = c.clock.Now().Sub(start)

	end := progress.Event{
		RunID:   progress.UUIDToBytes(runID),
		Stage:   progress.StageRunDone,
		Total:   int64(summary.Pending),
		Skipped: int64(summary.Skipped),
		Dur:     summary.Elapsed,
	}
	switch {
	case fatal != nil:
		err = fatal
	case ctx.Err() != nil:
		err = ctx.Err()
	}
	if err != nil {
		end.Stage = progress.StageRunError
		end.Note = err.Error()
	}
	c.emit(end)

	logger.Info("harvest finished",
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("unstarted", summary.Unstarted),
		zap.Duration("elapsed", summary.Elapsed),
		zap.Error(err))
	return summary, err
}

// dispatch feeds tasks through a bounded queue to concurrency workers and
// returns a channel that is closed once every worker has exited.
func (c *Coordinator) dispatch(ctx context.Context, tasks []harvest.Task, concurrency int) <-chan harvest.Outcome {
	q := memory.NewQueue(concurrency)
	results := make(chan harvest.Outcome, concurrency)

	go func() {
		defer q.Close()
		for _, task := range tasks {
			if err := q.Enqueue(ctx, task); err != nil {
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for range concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, err := q.Dequeue(ctx)
				if err != nil || ctx.Err() != nil {
					return
				}
				metrics.IncActiveWorkers()
				out := c.processor.Process(ctx, task)
				metrics.DecActiveWorkers()
				results <- out
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()
	return results
}

func (c *Coordinator) report(runID uuid.UUID, out harvest.Outcome) {
	evt := progress.Event{
		RunID:      progress.UUIDToBytes(runID),
		Stage:      progress.StageTaskDone,
		URL:        out.URL,
		ProviderID: out.ProviderID,
		Outcome:    out.Kind.String(),
		Attempts:   out.Attempts,
		Dur:        out.Duration,
	}
	fields := []zap.Field{
		zap.String("provider_id", out.ProviderID),
		zap.Int("attempts", out.Attempts),
		zap.Duration("duration", out.Duration),
	}
	switch out.Kind {
	case harvest.OutcomeSuccess:
		c.runLogs.Success.Info("Successfully scraped "+out.URL, fields...)
	case harvest.OutcomeCanceled:
		evt.Stage = progress.StageTaskFailed
		c.logger.Info("task canceled", zap.String("url", out.URL))
	default:
		evt.Stage = progress.StageTaskFailed
		if out.Err != nil {
			evt.Note = out.Err.Error()
		}
		fields = append(fields, zap.String("outcome", out.Kind.String()), zap.Error(out.Err))
		c.runLogs.Fail.Error("Failed to scrape "+out.URL, fields...)
	}
	c.emit(evt)
}

func (c *Coordinator) emit(evt progress.Event) {
	evt.TS = c.clock.Now().UTC()
	c.emitter.Emit(evt)
}

// planTasks computes pending = candidates - completed, preserving candidate
// order and keeping the first occurrence of duplicates. URLs without a
// ProviderID become immediate InvalidInput outcomes.
func planTasks(urls []string, completed map[string]struct{}) plan {
	var p plan
	seen := make(map[string]struct{}, len(urls))
	for _, raw := range urls {
		u := strings.TrimSpace(raw)
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			p.duplicates++
			continue
		}
		seen[u] = struct{}{}
		if _, done := completed[u]; done {
			p.skipped++
			continue
		}
		task, err := harvest.NewTask(u)
		if err != nil {
			p.invalid = append(p.invalid, harvest.Outcome{Kind: harvest.OutcomeInvalidInput, URL: u, Err: err})
			continue
		}
		p.tasks = append(p.tasks, task)
	}
	return p
}

type nopEmitter struct{}

func (nopEmitter) Emit(progress.Event) {}
