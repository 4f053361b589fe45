// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix scopes environment overrides, e.g. HARVESTER_HARVEST_CONCURRENCY.
const EnvPrefix = "HARVESTER"

// Config captures all harvester configuration knobs loaded via Viper.
type Config struct {
	Output     OutputConfig     `mapstructure:"output"`
	Harvest    HarvestConfig    `mapstructure:"harvest"`
	Discovery  DiscoveryConfig  `mapstructure:"discovery"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Storage    StorageConfig    `mapstructure:"storage"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Status     StatusConfig     `mapstructure:"status"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// OutputConfig locates the artifact layout.
type OutputConfig struct {
	Dir string `mapstructure:"dir"`
}

// HarvestConfig governs the coordinator.
type HarvestConfig struct {
	Input       string `mapstructure:"input"`
	Concurrency int    `mapstructure:"concurrency"`
	Rediscover  bool   `mapstructure:"rediscover"`
}

// DiscoveryConfig describes the sitemap family.
type DiscoveryConfig struct {
	BaseURL       string   `mapstructure:"base_url"`
	IndexTemplate string   `mapstructure:"index_template"`
	Types         []string `mapstructure:"types"`
	DenialMarker  string   `mapstructure:"denial_marker"`
}

// FetchConfig controls outbound requests and the retry budget.
type FetchConfig struct {
	UserAgent      string        `mapstructure:"user_agent"`
	Referer        string        `mapstructure:"referer"`
	Accept         string        `mapstructure:"accept"`
	AcceptLanguage string        `mapstructure:"accept_language"`
	APIURL         string        `mapstructure:"api_url"`
	APIIDParam     string        `mapstructure:"api_id_param"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	PacingMin      time.Duration `mapstructure:"pacing_min"`
	PacingMax      time.Duration `mapstructure:"pacing_max"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	MaxBodyBytes   int           `mapstructure:"max_body_bytes"`
}

// RateLimitConfig configures the optional per-host token bucket.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// Checkpoint backends.
const (
	CheckpointFile     = "file"
	CheckpointPostgres = "postgres"
)

// CheckpointConfig selects where completed URLs are recorded.
type CheckpointConfig struct {
	Backend string `mapstructure:"backend"`
	DSN     string `mapstructure:"dsn"`
	Table   string `mapstructure:"table"`
}

// StorageConfig configures the optional GCS artifact mirror.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
}

// PubSubConfig holds metadata for record-ready notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// StatusConfig configures the optional status server.
type StatusConfig struct {
	Addr   string `mapstructure:"addr"`
	APIKey string `mapstructure:"api_key"`
}

// LoggingConfig selects the zap encoding and threshold. An empty Level keeps
// the mode's default: debug in development, info otherwise.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// flagKeys maps command-line flag names onto configuration keys.
var flagKeys = map[string]string{
	"output-dir":  "output.dir",
	"input":       "harvest.input",
	"threads":     "harvest.concurrency",
	"rediscover":  "harvest.rediscover",
	"types":       "discovery.types",
	"status-addr": "status.addr",
	"dev":         "logging.development",
	"log-level":   "logging.level",
}

// Load builds a Config from defaults, an optional file, the environment and
// any changed flags in fs, in increasing order of precedence.
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("output.dir", "output")
	v.SetDefault("harvest.input", "")
	v.SetDefault("harvest.concurrency", 10)
	v.SetDefault("harvest.rediscover", false)
	v.SetDefault("discovery.base_url", "https://www.opencare.com")
	v.SetDefault("discovery.index_template", "oc-sitemap")
	v.SetDefault("discovery.types", []string{"doctor"})
	v.SetDefault("discovery.denial_marker", "AccessDenied")
	v.SetDefault("fetch.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/114.0.0.0 Safari/537.36")
	v.SetDefault("fetch.referer", "https://www.google.com/")
	v.SetDefault("fetch.accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	v.SetDefault("fetch.accept_language", "en-US,en;q=0.9")
	v.SetDefault("fetch.api_url", "https://api.opencare.com/doctor")
	v.SetDefault("fetch.api_id_param", "id")
	v.SetDefault("fetch.request_timeout", 30*time.Second)
	v.SetDefault("fetch.max_attempts", 2)
	v.SetDefault("fetch.pacing_min", 7*time.Second)
	v.SetDefault("fetch.pacing_max", 15*time.Second)
	v.SetDefault("fetch.retry_delay", 15*time.Second)
	v.SetDefault("fetch.max_body_bytes", 10<<20)
	v.SetDefault("ratelimit.rps", 0)
	v.SetDefault("ratelimit.burst", 1)
	v.SetDefault("checkpoint.backend", CheckpointFile)
	v.SetDefault("checkpoint.dsn", "")
	v.SetDefault("checkpoint.table", "harvest_checkpoints")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.gcs_prefix", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("status.addr", "")
	v.SetDefault("status.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Output.Dir) == "" {
		return fmt.Errorf("output.dir is required")
	}
	if c.Harvest.Concurrency <= 0 {
		return fmt.Errorf("harvest.concurrency must be > 0")
	}
	if err := validateURL("discovery.base_url", c.Discovery.BaseURL); err != nil {
		return err
	}
	if c.Discovery.IndexTemplate == "" {
		return fmt.Errorf("discovery.index_template is required")
	}
	if len(c.Discovery.Types) == 0 {
		return fmt.Errorf("discovery.types must list at least one type")
	}
	if err := validateURL("fetch.api_url", c.Fetch.APIURL); err != nil {
		return err
	}
	if c.Fetch.RequestTimeout <= 0 {
		return fmt.Errorf("fetch.request_timeout must be > 0")
	}
	if c.Fetch.MaxAttempts <= 0 {
		return fmt.Errorf("fetch.max_attempts must be > 0")
	}
	if c.Fetch.PacingMin < 0 || c.Fetch.PacingMax < c.Fetch.PacingMin {
		return fmt.Errorf("fetch.pacing_min/pacing_max must satisfy 0 <= min <= max")
	}
	if c.Fetch.RetryDelay < 0 {
		return fmt.Errorf("fetch.retry_delay must be >= 0")
	}
	if c.RateLimit.RPS < 0 {
		return fmt.Errorf("ratelimit.rps must be >= 0")
	}
	switch c.Checkpoint.Backend {
	case CheckpointFile:
	case CheckpointPostgres:
		if c.Checkpoint.DSN == "" {
			return fmt.Errorf("checkpoint.dsn must be set when checkpoint.backend is postgres")
		}
	default:
		return fmt.Errorf("checkpoint.backend must be %q or %q", CheckpointFile, CheckpointPostgres)
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic is set")
	}
	if c.Logging.Level != "" {
		if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
			return fmt.Errorf("logging.level: %w", err)
		}
	}
	return nil
}

func validateURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute url, got %q", key, raw)
	}
	return nil
}

// DocumentHeaders are the browser-like headers sent with document and sitemap requests.
func (c Config) DocumentHeaders() http.Header {
	h := http.Header{}
	setIf(h, "User-Agent", c.Fetch.UserAgent)
	setIf(h, "Accept", c.Fetch.Accept)
	setIf(h, "Accept-Language", c.Fetch.AcceptLanguage)
	setIf(h, "Referer", c.Fetch.Referer)
	return h
}

// RecordHeaders are sent with structured-data requests.
func (c Config) RecordHeaders() http.Header {
	h := http.Header{}
	setIf(h, "User-Agent", c.Fetch.UserAgent)
	h.Set("Accept", "application/json")
	return h
}

func setIf(h http.Header, key, value string) {
	if value != "" {
		h.Set(key, value)
	}
}

// LogDir is where the run logs live.
func (c Config) LogDir() string {
	return filepath.Join(c.Output.Dir, "logs")
}
