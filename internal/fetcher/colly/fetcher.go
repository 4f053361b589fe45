// Package collyfetcher implements harvest.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/provider-harvester/internal/harvest"
	"github.com/JakeFAU/provider-harvester/internal/metrics"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxBodySize = 10 << 20
)

// ErrBodyTooLarge reports a response body longer than Config.MaxBodySize.
// The body is never returned truncated.
var ErrBodyTooLarge = errors.New("response body exceeds size limit")

// Config controls collector behavior.
type Config struct {
	UserAgent   string
	Timeout     time.Duration
	MaxBodySize int
}

// Waiter gates outbound requests, typically a per-host token bucket.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithLimiter makes every fetch wait on w before the request is issued.
func WithLimiter(w Waiter) Option {
	return func(f *Fetcher) {
		f.limiter = w
	}
}

// WithTransport overrides the HTTP transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(f *Fetcher) {
		f.transport = rt
	}
}

// Fetcher implements harvest.Fetcher using the Colly collector. Any HTTP
// status is returned as a response; only transport failures are errors.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	limiter       Waiter
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config, opts ...Option) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = defaultMaxBodySize
	}
	f := &Fetcher{cfg: cfg}
	for _, opt := range opts {
		opt(f)
	}
	if f.transport == nil {
		f.transport = newHTTPTransport()
	}

	collectorOpts := []colly.CollectorOption{
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.ParseHTTPErrorResponse(),
		// One byte over the limit tells a truncated read from an exact fit.
		colly.MaxBodySize(cfg.MaxBodySize + 1),
	}
	if cfg.UserAgent != "" {
		collectorOpts = append(collectorOpts, colly.UserAgent(cfg.UserAgent))
	}
	c := colly.NewCollector(collectorOpts...)
	// Clones share the backend client, so transport and timeout are set once here.
	c.WithTransport(f.transport)
	c.SetRequestTimeout(cfg.Timeout)
	f.baseCollector = c
	return f
}

// Fetch executes a single HTTP GET using Colly.
func (f *Fetcher) Fetch(ctx context.Context, request harvest.FetchRequest) (harvest.FetchResponse, error) {
	if request.URL == "" {
		return harvest.FetchResponse{}, fmt.Errorf("fetch url is required")
	}
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, request.URL); err != nil {
			return harvest.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, err)
		}
	}

	var (
		result   harvest.FetchResponse
		fetchErr error
	)
	start := time.Now()
	collector := f.baseCollector.Clone()
	f.configureCollectorHooks(collector, request, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		metrics.ObserveFetch(request.URL, 0, 0)
		return harvest.FetchResponse{}, err
	}
	metrics.ObserveFetch(request.URL, result.StatusCode, len(result.Body))
	return result, nil
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request harvest.FetchRequest,
	start time.Time,
	result *harvest.FetchResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(request.Headers, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		if len(r.Body) > f.cfg.MaxBodySize {
			*fetchErr = fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, f.cfg.MaxBodySize)
			return
		}
		var headers http.Header
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		finalURL := request.URL
		if r.Request != nil && r.Request.URL != nil {
			finalURL = r.Request.URL.String()
		}
		*result = harvest.FetchResponse{
			URL:        finalURL,
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

// copyHeaders replaces collector defaults, so an explicit User-Agent wins.
func copyHeaders(headers http.Header, r *colly.Request) {
	for key, values := range headers {
		if len(values) == 0 {
			continue
		}
		r.Headers.Set(key, values[0])
		for _, v := range values[1:] {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}
}
