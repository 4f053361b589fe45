// Package app initializes and holds long-lived harvester services, acting as a
// dependency injection container for the commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/provider-harvester/internal/api"
	"github.com/JakeFAU/provider-harvester/internal/artifact"
	"github.com/JakeFAU/provider-harvester/internal/checkpoint"
	"github.com/JakeFAU/provider-harvester/internal/clock/system"
	"github.com/JakeFAU/provider-harvester/internal/config"
	"github.com/JakeFAU/provider-harvester/internal/coordinator"
	"github.com/JakeFAU/provider-harvester/internal/discovery"
	collyfetcher "github.com/JakeFAU/provider-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/provider-harvester/internal/harvest"
	"github.com/JakeFAU/provider-harvester/internal/hash/sha256"
	"github.com/JakeFAU/provider-harvester/internal/id/uuid"
	"github.com/JakeFAU/provider-harvester/internal/logging"
	"github.com/JakeFAU/provider-harvester/internal/policy/pacing"
	"github.com/JakeFAU/provider-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/provider-harvester/internal/progress"
	"github.com/JakeFAU/provider-harvester/internal/progress/sinks"
	pubsubpublisher "github.com/JakeFAU/provider-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/provider-harvester/internal/storage/gcs"
	"github.com/JakeFAU/provider-harvester/internal/storage/local"
	"github.com/JakeFAU/provider-harvester/internal/storage/postgres"
	"github.com/JakeFAU/provider-harvester/internal/store"
	"github.com/JakeFAU/provider-harvester/internal/worker"
)

const closeTimeout = 10 * time.Second

// Option customizes App construction, mostly for tests.
type Option func(*options)

type options struct {
	logger     *zap.Logger
	registerer prometheus.Registerer
	publisher  harvest.Publisher
	checkpoint harvest.CheckpointStore
}

// WithLogger supplies the operational logger instead of building one from config.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRegisterer registers progress collectors somewhere other than the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithPublisher overrides the record-ready publisher; notifications are sent
// to pubsub.topic.
func WithPublisher(p harvest.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithCheckpoint overrides the configured checkpoint backend.
func WithCheckpoint(cp harvest.CheckpointStore) Option {
	return func(o *options) { o.checkpoint = cp }
}

// App holds the shared, long-lived services of one harvester process. It is
// built once per command invocation and closed when the command finishes.
type App struct {
	cfg         config.Config
	logger      *zap.Logger
	runLogs     *logging.RunLogs
	blobs       *local.BlobStore
	checkpoint  harvest.CheckpointStore
	walker      *discovery.Walker
	coordinator *coordinator.Coordinator
	hub         *progress.Hub
	runs        *sinks.RunSink
	status      *api.Server
	closers     []func() error
}

// New creates and initializes an App from cfg. It fails fast if any service
// cannot be initialized, releasing whatever was already opened.
func New(ctx context.Context, cfg config.Config, opts ...Option) (_ *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, logger: o.logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.logger == nil {
		if a.logger, err = logging.New(logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level}); err != nil {
			return nil, fmt.Errorf("init logger: %w", err)
		}
	}
	l := a.logger
	l.Info("initializing harvester services", zap.String("output_dir", cfg.Output.Dir))

	if a.runLogs, err = logging.NewRunLogs(cfg.LogDir()); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.runLogs.Close)

	if a.blobs, err = local.New(local.Config{BaseDir: cfg.Output.Dir}); err != nil {
		return nil, fmt.Errorf("init output dir: %w", err)
	}

	if a.checkpoint, err = a.openCheckpoint(ctx, o.checkpoint); err != nil {
		return nil, err
	}

	var mirrors []harvest.BlobStore
	if cfg.Storage.GCSBucket != "" {
		client, clientErr := storage.NewClient(ctx)
		if clientErr != nil {
			return nil, fmt.Errorf("init gcs client: %w", clientErr)
		}
		a.closers = append(a.closers, client.Close)
		mirror, mirrorErr := gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket, Prefix: cfg.Storage.GCSPrefix})
		if mirrorErr != nil {
			return nil, mirrorErr
		}
		l.Info("mirroring artifacts to gcs", zap.String("bucket", cfg.Storage.GCSBucket))
		mirrors = append(mirrors, mirror)
	}
	writer, err := artifact.NewWriter(a.blobs, l.Named("artifact"), mirrors...)
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.New(ratelimit.Config{DefaultRPS: cfg.RateLimit.RPS, DefaultBurst: cfg.RateLimit.Burst})
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:   cfg.Fetch.UserAgent,
		Timeout:     cfg.Fetch.RequestTimeout,
		MaxBodySize: cfg.Fetch.MaxBodyBytes,
	}, collyfetcher.WithLimiter(limiter))

	publisher := o.publisher
	if publisher == nil && cfg.PubSub.Topic != "" {
		client, clientErr := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if clientErr != nil {
			return nil, fmt.Errorf("init pubsub client: %w", clientErr)
		}
		p := pubsubpublisher.New(client)
		a.closers = append(a.closers, p.Close)
		publisher = p
		l.Info("publishing record-ready notifications", zap.String("topic", cfg.PubSub.Topic))
	}

	promSink, err := sinks.NewPrometheusSink(o.registerer)
	if err != nil {
		return nil, err
	}
	a.runs = sinks.NewRunSink(0)
	a.hub = progress.NewHub(progress.Config{Logger: l.Named("progress")},
		sinks.NewLogSink(l.Named("progress")), promSink, a.runs)

	if a.walker, err = discovery.New(discovery.Config{
		BaseURL:       cfg.Discovery.BaseURL,
		IndexTemplate: cfg.Discovery.IndexTemplate,
		Types:         cfg.Discovery.Types,
		DenialMarker:  cfg.Discovery.DenialMarker,
		Headers:       cfg.DocumentHeaders(),
	}, fetcher, a.blobs, l.Named("discovery")); err != nil {
		return nil, err
	}

	clock := system.New()
	workerOpts := []worker.Option{
		worker.WithPacer(pacing.New(cfg.Fetch.PacingMin, cfg.Fetch.PacingMax)),
		worker.WithClock(clock),
		worker.WithLogger(l.Named("worker")),
	}
	if publisher != nil && cfg.PubSub.Topic != "" {
		workerOpts = append(workerOpts, worker.WithPublisher(publisher, sha256.New()))
	}
	w, err := worker.New(fetcher, writer, worker.Config{
		DocumentHeaders: cfg.DocumentHeaders(),
		RecordURL:       cfg.Fetch.APIURL,
		RecordIDParam:   cfg.Fetch.APIIDParam,
		RecordHeaders:   cfg.RecordHeaders(),
		MaxAttempts:     cfg.Fetch.MaxAttempts,
		RetryDelay:      cfg.Fetch.RetryDelay,
		Topic:           cfg.PubSub.Topic,
	}, workerOpts...)
	if err != nil {
		return nil, err
	}

	if a.coordinator, err = coordinator.New(a.checkpoint, w,
		coordinator.WithEmitter(a.hub),
		coordinator.WithRunLogs(a.runLogs),
		coordinator.WithIDGenerator(uuid.New()),
		coordinator.WithClock(clock),
		coordinator.WithLogger(l.Named("coordinator")),
	); err != nil {
		return nil, err
	}

	if cfg.Status.Addr != "" {
		a.status = api.NewServer(a.runs, api.Options{APIKey: cfg.Status.APIKey, Logger: l.Named("api")})
	}

	l.Info("harvester services initialized")
	return a, nil
}

func (a *App) openCheckpoint(ctx context.Context, override harvest.CheckpointStore) (harvest.CheckpointStore, error) {
	if override != nil {
		return override, nil
	}
	switch a.cfg.Checkpoint.Backend {
	case config.CheckpointPostgres:
		cp, err := postgres.NewCheckpointStore(ctx, postgres.CheckpointStoreConfig{
			DSN:   a.cfg.Checkpoint.DSN,
			Table: a.cfg.Checkpoint.Table,
		})
		if err != nil {
			return nil, fmt.Errorf("init postgres checkpoint: %w", err)
		}
		a.closers = append(a.closers, cp.Close)
		if err := cp.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		a.logger.Info("using postgres checkpoint", zap.String("table", a.cfg.Checkpoint.Table))
		return cp, nil
	default:
		cp, err := checkpoint.Open(filepath.Join(a.cfg.Output.Dir, checkpoint.FileName),
			checkpoint.WithLogger(a.logger.Named("checkpoint")))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, cp.Close)
		return cp, nil
	}
}

// Logger returns the operational logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// RunLogs returns the success/fail audit logs.
func (a *App) RunLogs() *logging.RunLogs {
	return a.runLogs
}

// Runs exposes run progress aggregates.
func (a *App) Runs() store.RunReader {
	return a.runs
}

// Discover walks the sitemaps, or reuses the saved URL list unless rediscover is set.
func (a *App) Discover(ctx context.Context, rediscover bool) (discovery.Result, error) {
	res, err := a.walker.Run(ctx, discovery.Options{Rediscover: rediscover})
	if err != nil {
		return res, fmt.Errorf("discovery: %w", err)
	}
	return res, nil
}

// Harvest runs the coordinator over urls.
func (a *App) Harvest(ctx context.Context, urls []string) (coordinator.Summary, error) {
	return a.coordinator.Run(ctx, urls, a.cfg.Harvest.Concurrency)
}

// Candidates returns the URLs to harvest: the configured input file when set,
// otherwise the output of discovery.
func (a *App) Candidates(ctx context.Context) ([]string, error) {
	if a.cfg.Harvest.Input == "" {
		res, err := a.Discover(ctx, a.cfg.Harvest.Rediscover)
		if err != nil {
			return nil, err
		}
		return res.URLs, nil
	}
	f, err := os.Open(a.cfg.Harvest.Input)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer func() { _ = f.Close() }()
	return discovery.ReadURLList(f)
}

// Run performs the end-to-end job: candidates, then harvest, with the status
// server up for the duration when configured.
func (a *App) Run(ctx context.Context) (coordinator.Summary, error) {
	start := time.Now()
	if a.status != nil {
		statusCtx, stopStatus := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := a.status.ListenAndServe(statusCtx, a.cfg.Status.Addr); err != nil {
				a.logger.Error("status server failed", zap.Error(err))
			}
		}()
		defer func() {
			stopStatus()
			<-done
		}()
	}

	urls, err := a.Candidates(ctx)
	if err != nil {
		return coordinator.Summary{}, err
	}
	summary, err := a.Harvest(ctx, urls)
	a.flushProgress(ctx)
	if err != nil {
		return summary, err
	}
	a.runLogs.Success.Info(fmt.Sprintf("All URLs scraped successfully in %.2f seconds.", time.Since(start).Seconds()),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped))
	return summary, nil
}

// flushProgress makes the finished run visible to the progress sinks before
// the status server goes away.
func (a *App) flushProgress(ctx context.Context) {
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()
	if err := a.hub.Flush(flushCtx); err != nil {
		a.logger.Warn("progress flush failed", zap.Error(err))
	}
}

// Close gracefully shuts down all services, flushing progress sinks first.
func (a *App) Close() {
	if a == nil {
		return
	}
	logger := a.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if a.hub != nil {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		if err := a.hub.Close(ctx); err != nil {
			logger.Warn("error flushing progress hub", zap.Error(err))
		}
		cancel()
		stats := a.hub.Stats()
		logger.Debug("progress hub closed",
			zap.Int64("accepted", stats.Accepted),
			zap.Int64("dropped", stats.Dropped),
			zap.Int64("delivered", stats.Delivered))
		a.hub = nil
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		logger.Warn("error closing services", zap.Error(err))
	}
	_ = logger.Sync()
}
