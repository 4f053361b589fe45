// Package worker implements the Fetch Worker: one resource URL in, one
// terminal outcome out, with a bounded retry budget.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/provider-harvester/internal/clock/system"
	"github.com/JakeFAU/provider-harvester/internal/harvest"
	"github.com/JakeFAU/provider-harvester/internal/policy/pacing"
)

const (
	defaultMaxAttempts = 2
	defaultRetryDelay  = 15 * time.Second
	defaultPacingMin   = 7 * time.Second
	defaultPacingMax   = 15 * time.Second
	defaultIDParam     = "id"
)

// Config controls Worker behavior.
type Config struct {
	// DocumentHeaders are sent with the primary document request.
	DocumentHeaders http.Header
	// RecordURL is the structured-data endpoint; the ProviderID is passed
	// in the RecordIDParam query parameter.
	RecordURL     string
	RecordIDParam string
	RecordHeaders http.Header
	MaxAttempts   int
	RetryDelay    time.Duration
	// Topic receives record-ready notifications when a Publisher is set.
	Topic string
}

// ArtifactWriter persists the two artifacts of a task.
type ArtifactWriter interface {
	SaveDocument(ctx context.Context, rawURL string, body []byte) (string, error)
	SaveRecord(ctx context.Context, providerID string, record []byte) (string, error)
}

// Pacer yields the delay applied before each attempt.
type Pacer interface {
	Next() time.Duration
}

// Pauser blocks for a delay unless the context ends first.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration) error
}

// Option customizes a Worker.
type Option func(*Worker)

// WithPacer overrides the per-attempt pacing source.
func WithPacer(p Pacer) Option { return func(w *Worker) { w.pacer = p } }

// WithPauser overrides how the worker waits.
func WithPauser(p Pauser) Option { return func(w *Worker) { w.pauser = p } }

// WithPublisher enables record-ready notifications.
func WithPublisher(p harvest.Publisher, h harvest.Hasher) Option {
	return func(w *Worker) {
		w.publisher = p
		w.hasher = h
	}
}

// WithClock overrides the time source.
func WithClock(c harvest.Clock) Option { return func(w *Worker) { w.clock = c } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(w *Worker) { w.logger = l } }

// Worker executes the fetch pipeline for single tasks. It is safe for
// concurrent use; every call to Process owns its own task.
type Worker struct {
	fetcher   harvest.Fetcher
	artifacts ArtifactWriter
	pacer     Pacer
	pauser    Pauser
	publisher harvest.Publisher
	hasher    harvest.Hasher
	clock     harvest.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker.
func New(fetcher harvest.Fetcher, artifacts ArtifactWriter, cfg Config, opts ...Option) (*Worker, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if artifacts == nil {
		return nil, errors.New("artifact writer is required")
	}
	if _, err := url.Parse(cfg.RecordURL); err != nil || cfg.RecordURL == "" {
		return nil, fmt.Errorf("invalid record url %q", cfg.RecordURL)
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.RecordIDParam == "" {
		cfg.RecordIDParam = defaultIDParam
	}
	w := &Worker{
		fetcher:   fetcher,
		artifacts: artifacts,
		pacer:     pacing.New(defaultPacingMin, defaultPacingMax),
		pauser:    pacing.Sleeper{},
		clock:     system.New(),
		cfg:       cfg,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// ProcessURL derives the task for rawURL and processes it.
func (w *Worker) ProcessURL(ctx context.Context, rawURL string) harvest.Outcome {
	task, err := harvest.NewTask(rawURL)
	if err != nil {
		return w.invalid(rawURL, err)
	}
	return w.Process(ctx, task)
}

// Process runs up to MaxAttempts attempts for task. Every attempt is preceded
// by a pacing delay, and attempts after the first also wait RetryDelay. An
// attempt succeeds only when both artifacts are persisted.
func (w *Worker) Process(ctx context.Context, task harvest.Task) harvest.Outcome {
	if task.ProviderID == "" {
		id, ok := harvest.ExtractProviderID(task.URL)
		if !ok {
			return w.invalid(task.URL, fmt.Errorf("%w: %s", harvest.ErrUnparseableURL, task.URL))
		}
		task.ProviderID = id
	}

	start := w.clock.Now()
	outcome := harvest.Outcome{URL: task.URL, ProviderID: task.ProviderID}
	finish := func(kind harvest.OutcomeKind, err error) harvest.Outcome {
		outcome.Kind = kind
		outcome.Err = err
		outcome.Attempts = task.Attempts
		outcome.Duration = w.clock.Now().Sub(start)
		return outcome
	}

	var lastErr error
	for task.Attempts < w.cfg.MaxAttempts {
		if task.Attempts > 0 {
			if err := w.pauser.Pause(ctx, w.cfg.RetryDelay); err != nil {
				return finish(harvest.OutcomeCanceled, err)
			}
		}
		if err := w.pauser.Pause(ctx, w.pacer.Next()); err != nil {
			return finish(harvest.OutcomeCanceled, err)
		}
		task.Attempts++

		res, err := w.attempt(ctx, task)
		if err == nil {
			outcome.DocumentPath = res.documentPath
			outcome.RecordPath = res.recordPath
			w.logger.Debug("task attempt succeeded",
				zap.String("url", task.URL),
				zap.String("provider_id", task.ProviderID),
				zap.Int("attempt", task.Attempts))
			w.notify(ctx, task, res)
			return finish(harvest.OutcomeSuccess, nil)
		}
		if ctx.Err() != nil {
			return finish(harvest.OutcomeCanceled, ctx.Err())
		}
		lastErr = err
		w.logger.Warn("task attempt failed",
			zap.String("url", task.URL),
			zap.String("provider_id", task.ProviderID),
			zap.Int("attempt", task.Attempts),
			zap.Int("max_attempts", w.cfg.MaxAttempts),
			zap.Error(err))
	}
	return finish(harvest.OutcomeExhausted, lastErr)
}

func (w *Worker) invalid(rawURL string, err error) harvest.Outcome {
	w.logger.Warn("skipping url without provider id", zap.String("url", rawURL))
	return harvest.Outcome{Kind: harvest.OutcomeInvalidInput, URL: rawURL, Err: err}
}

type attemptResult struct {
	documentPath string
	recordPath   string
	record       []byte
}

// attempt fetches and saves the document, then fetches and saves the record.
// Any failure is a *harvest.TransientError.
func (w *Worker) attempt(ctx context.Context, task harvest.Task) (attemptResult, error) {
	var res attemptResult
	doc, err := w.fetch(ctx, harvest.StageDocument, task.URL, w.cfg.DocumentHeaders)
	if err != nil {
		return res, err
	}
	res.documentPath, err = w.artifacts.SaveDocument(ctx, task.URL, doc.Body)
	if err != nil {
		return res, &harvest.TransientError{Stage: harvest.StageSaveDocument, URL: task.URL, Err: err}
	}

	recordURL := w.RecordURL(task.ProviderID)
	rec, err := w.fetch(ctx, harvest.StageRecord, recordURL, w.cfg.RecordHeaders)
	if err != nil {
		return res, err
	}
	res.record, err = IndentRecord(rec.Body)
	if err != nil {
		return res, &harvest.TransientError{Stage: harvest.StageDecodeRecord, URL: recordURL, StatusCode: rec.StatusCode, Err: err}
	}
	res.recordPath, err = w.artifacts.SaveRecord(ctx, task.ProviderID, res.record)
	if err != nil {
		return res, &harvest.TransientError{Stage: harvest.StageSaveRecord, URL: recordURL, Err: err}
	}
	return res, nil
}

func (w *Worker) fetch(ctx context.Context, stage harvest.Stage, target string, headers http.Header) (harvest.FetchResponse, error) {
	resp, err := w.fetcher.Fetch(ctx, harvest.FetchRequest{URL: target, Headers: headers})
	if err != nil {
		return harvest.FetchResponse{}, &harvest.TransientError{Stage: stage, URL: target, Err: err}
	}
	if !resp.OK() {
		return resp, &harvest.TransientError{Stage: stage, URL: target, StatusCode: resp.StatusCode}
	}
	return resp, nil
}

// RecordURL returns the structured-data URL for providerID.
func (w *Worker) RecordURL(providerID string) string {
	u, err := url.Parse(w.cfg.RecordURL)
	if err != nil {
		return w.cfg.RecordURL
	}
	q := u.Query()
	q.Set(w.cfg.RecordIDParam, providerID)
	u.RawQuery = q.Encode()
	return u.String()
}

// IndentRecord validates that body is a JSON object and re-indents it with
// four spaces, preserving key order.
func IndentRecord(body []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, errors.New("record is not a json object")
	}
	if !json.Valid(trimmed) {
		return nil, errors.New("record is not valid json")
	}
	var out bytes.Buffer
	if err := json.Indent(&out, trimmed, "", "    "); err != nil {
		return nil, fmt.Errorf("indent record: %w", err)
	}
	return out.Bytes(), nil
}
