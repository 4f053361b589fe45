package discovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/provider-harvester/internal/harvest"
	"github.com/JakeFAU/provider-harvester/internal/metrics"
)

// Config describes the sitemap family to walk.
type Config struct {
	BaseURL       string
	IndexTemplate string
	Types         []string
	DenialMarker  string
	Headers       http.Header
}

// Options alter a single discovery run.
type Options struct {
	// Rediscover rebuilds the URL list even when one exists. Types whose
	// sitemap was exhausted are walked again from page 0; types that stopped
	// early resume from their saved pages.
	Rediscover bool
}

// TypeResult summarizes the walk of one resource type.
type TypeResult struct {
	Type  string
	Pages int
	URLs  int
	Stop  StopReason
	Err   error
}

// Result is the outcome of a discovery run.
type Result struct {
	URLs    []string
	Types   []TypeResult
	Skipped bool
	Elapsed time.Duration
}

// Walker discovers candidate URLs from paginated sitemaps.
type Walker struct {
	cfg     Config
	fetcher harvest.Fetcher
	store   StateStore
	logger  *zap.Logger
	now     func() time.Time
}

// New validates cfg and builds a Walker.
func New(cfg Config, fetcher harvest.Fetcher, store StateStore, logger *zap.Logger) (*Walker, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if store == nil {
		return nil, errors.New("state store is required")
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, errors.New("base url is required")
	}
	if cfg.IndexTemplate == "" {
		return nil, errors.New("index template is required")
	}
	if len(cfg.Types) == 0 {
		return nil, errors.New("at least one resource type is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Walker{cfg: cfg, fetcher: fetcher, store: store, logger: logger, now: time.Now}, nil
}

// PageURL returns the sitemap URL of page for resourceType.
func (w *Walker) PageURL(resourceType string, page int) string {
	return fmt.Sprintf("%s/%s-%s-%d.xml", w.cfg.BaseURL, w.cfg.IndexTemplate, resourceType, page)
}

// Run produces the candidate URL list. An existing list is returned as-is
// unless opts.Rediscover is set. Otherwise every type is walked (resuming
// from progress.json), and the concatenated list is written once. A canceled
// run or a sitemap page that could not be retrieved ends the run with an
// error and no list, so the next run resumes the walk.
func (w *Walker) Run(ctx context.Context, opts Options) (Result, error) {
	start := w.now()
	if !opts.Rediscover {
		exists, err := w.store.Exists(ctx, URLListFile)
		if err != nil {
			return Result{}, fmt.Errorf("check %s: %w", URLListFile, err)
		}
		if exists {
			urls, err := w.loadURLList(ctx)
			if err != nil {
				return Result{}, err
			}
			w.logger.Info("url list already present, skipping discovery",
				zap.String("file", URLListFile), zap.Int("urls", len(urls)))
			return Result{URLs: urls, Skipped: true, Elapsed: time.Since(start)}, nil
		}
	}

	state, err := loadWalkState(ctx, w.store)
	if err != nil {
		return Result{}, err
	}
	if opts.Rediscover {
		// A rebuild that fails part way must not leave the old list behind.
		if err := w.store.DeleteObject(ctx, URLListFile); err != nil {
			return Result{}, fmt.Errorf("remove %s: %w", URLListFile, err)
		}
		if restarted := state.restartFinished(); len(restarted) > 0 {
			w.logger.Info("rediscovering exhausted sitemaps from the first page",
				zap.Strings("types", restarted))
		}
	}

	var result Result
	for _, resourceType := range w.cfg.Types {
		w.logger.Info("walking sitemap", zap.String("type", resourceType))
		tr, err := w.walk(ctx, resourceType, state)
		result.Types = append(result.Types, tr)
		if err != nil {
			return result, err
		}
		switch tr.Stop {
		case StopCanceled:
			result.Elapsed = time.Since(start)
			return result, ctx.Err()
		case StopFetchFailed:
			result.Elapsed = time.Since(start)
			return result, fmt.Errorf("discover %s: %w", resourceType, tr.Err)
		}
	}

	for _, resourceType := range w.cfg.Types {
		for _, page := range state.progress(resourceType).Pages {
			result.URLs = append(result.URLs, page...)
		}
	}
	if _, err := w.store.PutObject(ctx, URLListFile, "text/plain; charset=utf-8",
		bytes.NewReader(EncodeURLList(result.URLs))); err != nil {
		return result, fmt.Errorf("write %s: %w", URLListFile, err)
	}
	result.Elapsed = time.Since(start)
	w.logger.Info("url list saved",
		zap.String("file", URLListFile),
		zap.Int("urls", len(result.URLs)),
		zap.Duration("elapsed", result.Elapsed))
	return result, nil
}

// walk fetches pages of one type until a stop condition, saving state after
// each page. The returned error is non-nil only for checkpoint I/O failures.
func (w *Walker) walk(ctx context.Context, resourceType string, state *walkState) (TypeResult, error) {
	progress := state.progress(resourceType)
	tr := TypeResult{Type: resourceType, Pages: len(progress.Pages)}
	for _, p := range progress.Pages {
		tr.URLs += len(p)
	}
	if progress.Done {
		tr.Stop = StopExhausted
		w.logger.Info("sitemap already exhausted",
			zap.String("type", resourceType), zap.Int("pages", tr.Pages))
		return tr, nil
	}

	for page := len(progress.Pages); ; page++ {
		if err := ctx.Err(); err != nil {
			tr.Stop, tr.Err = StopCanceled, err
			return tr, nil
		}
		pageURL := w.PageURL(resourceType, page)
		resp, err := w.fetcher.Fetch(ctx, harvest.FetchRequest{URL: pageURL, Headers: w.cfg.Headers})
		if err != nil {
			if ctx.Err() != nil {
				tr.Stop, tr.Err = StopCanceled, ctx.Err()
				return tr, nil
			}
			metrics.ObserveSitemapPage(resourceType, "error")
			tr.Stop = StopFetchFailed
			tr.Err = &harvest.TransientError{Stage: harvest.StageSitemap, URL: pageURL, Err: err}
			w.logger.Error("sitemap page fetch failed",
				zap.String("type", resourceType), zap.Int("page", page), zap.Error(err))
			return tr, w.finish(ctx, state, progress, tr.Stop)
		}

		if !resp.OK() {
			metrics.ObserveSitemapPage(resourceType, "exhausted")
			tr.Stop = StopExhausted
			w.logger.Info("no more sitemap pages",
				zap.String("type", resourceType), zap.Int("page", page), zap.Int("status", resp.StatusCode))
			return tr, w.finish(ctx, state, progress, tr.Stop)
		}

		if w.cfg.DenialMarker != "" && bytes.Contains(resp.Body, []byte(w.cfg.DenialMarker)) {
			metrics.ObserveSitemapPage(resourceType, "denied")
			tr.Stop = StopDenied
			w.logger.Warn("access denied while walking sitemap",
				zap.String("type", resourceType), zap.Int("page", page), zap.String("url", pageURL))
			return tr, w.finish(ctx, state, progress, tr.Stop)
		}

		locs, err := ParseSitemap(resp.Body)
		if err != nil {
			metrics.ObserveSitemapPage(resourceType, "malformed")
			tr.Stop = StopMalformed
			tr.Err = &MalformedPageError{URL: pageURL, Page: page, Body: resp.Body, Err: err}
			w.logger.Error("failed to parse sitemap page",
				zap.String("type", resourceType),
				zap.Int("page", page),
				zap.Error(err),
				zap.ByteString("body", resp.Body))
			return tr, w.finish(ctx, state, progress, tr.Stop)
		}

		metrics.ObserveSitemapPage(resourceType, "ok")
		if locs == nil {
			locs = []string{}
		}
		progress.Pages = append(progress.Pages, locs)
		progress.UpdatedAt = w.now().UTC()
		tr.Pages++
		tr.URLs += len(locs)
		w.logger.Info("fetched sitemap page",
			zap.String("type", resourceType), zap.Int("page", page), zap.Int("urls", len(locs)))
		if err := saveWalkState(ctx, w.store, state); err != nil {
			return tr, err
		}
	}
}

func (w *Walker) finish(ctx context.Context, state *walkState, progress *typeProgress, stop StopReason) error {
	progress.Done = stop.Complete()
	progress.Stop = stop.String()
	progress.UpdatedAt = w.now().UTC()
	return saveWalkState(ctx, w.store, state)
}

func (w *Walker) loadURLList(ctx context.Context) ([]string, error) {
	raw, err := w.store.GetObject(ctx, URLListFile)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", URLListFile, err)
	}
	return ReadURLList(bytes.NewReader(raw))
}
