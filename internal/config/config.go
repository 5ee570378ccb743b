// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/youth-justice-ingest/internal/ingest"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Health    HealthConfig    `mapstructure:"health"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Content   ValidateConfig  `mapstructure:"validate"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// QueueConfig bounds batch selection.
type QueueConfig struct {
	DefaultBatchSize int `mapstructure:"default_batch_size"`
	MaxBatchSize     int `mapstructure:"max_batch_size"`
}

// WorkerConfig sizes the worker pool.
type WorkerConfig struct {
	Concurrency     int           `mapstructure:"concurrency"`
	PerDomainDelay  time.Duration `mapstructure:"per_domain_delay"`
	SkipHealthCheck bool          `mapstructure:"skip_health_check"`
}

// BreakerConfig tunes the per-domain circuit breaker.
type BreakerConfig struct {
	Threshold     int           `mapstructure:"threshold"`
	ResetWindow   time.Duration `mapstructure:"reset_window"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// HealthConfig tunes the pre-fetch probe.
type HealthConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// FetchConfig selects and tunes the page fetcher.
type FetchConfig struct {
	Backend     string          `mapstructure:"backend"`
	Timeout     time.Duration   `mapstructure:"timeout"`
	MaxAttempts int             `mapstructure:"max_attempts"`
	BackoffBase time.Duration   `mapstructure:"backoff_base"`
	BackoffMax  time.Duration   `mapstructure:"backoff_max"`
	UserAgent   string          `mapstructure:"user_agent"`
	Firecrawl   FirecrawlConfig `mapstructure:"firecrawl"`
	Headless    HeadlessConfig  `mapstructure:"headless"`
}

// FirecrawlConfig points at the scrape service.
type FirecrawlConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// HeadlessConfig configures the headless rendering fetcher.
type HeadlessConfig struct {
	MaxParallel int           `mapstructure:"max_parallel"`
	NavTimeout  time.Duration `mapstructure:"nav_timeout"`
}

// ValidateConfig holds the content gates.
type ValidateConfig struct {
	MinLength int      `mapstructure:"min_length"`
	Keywords  []string `mapstructure:"keywords"`
	Denylist  []string `mapstructure:"denylist"`
}

// ExtractConfig configures the LLM extraction chain.
type ExtractConfig struct {
	Providers       []string       `mapstructure:"providers"`
	MaxContentChars int            `mapstructure:"max_content_chars"`
	MaxTokens       int            `mapstructure:"max_tokens"`
	Timeout         time.Duration  `mapstructure:"timeout"`
	Anthropic       ProviderConfig `mapstructure:"anthropic"`
	OpenAI          ProviderConfig `mapstructure:"openai"`
	Groq            ProviderConfig `mapstructure:"groq"`
}

// ProviderConfig holds one LLM provider's credentials.
type ProviderConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

// StorageConfig selects the relational backend.
type StorageConfig struct {
	Backend         string        `mapstructure:"backend"`
	DSN             string        `mapstructure:"dsn"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// ArchiveConfig selects where raw content copies go.
type ArchiveConfig struct {
	Backend string `mapstructure:"backend"`
	Bucket  string `mapstructure:"bucket"`
	BaseDir string `mapstructure:"base_dir"`
	Prefix  string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// SchedulerConfig drives periodic queue draining.
type SchedulerConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
	Mode      string        `mapstructure:"mode"`
}

// TracingConfig controls OpenTelemetry sampling.
type TracingConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Backends.
const (
	FetchFirecrawl = "firecrawl"
	FetchColly     = "colly"
	FetchHeadless  = "headless"

	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
	StorageMemory   = "memory"

	ArchiveNone   = "none"
	ArchiveGCS    = "gcs"
	ArchiveLocal  = "local"
	ArchiveMemory = "memory"
)

// Provider names accepted in extract.providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGroq      = "groq"
)

// envAliases binds credentials to their conventional variable names in
// addition to the INGEST_ prefixed form.
var envAliases = map[string][]string{
	"fetch.firecrawl.api_key":   {"INGEST_FETCH_FIRECRAWL_API_KEY", "FIRECRAWL_API_KEY"},
	"extract.anthropic.api_key": {"INGEST_EXTRACT_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY"},
	"extract.openai.api_key":    {"INGEST_EXTRACT_OPENAI_API_KEY", "OPENAI_API_KEY"},
	"extract.groq.api_key":      {"INGEST_EXTRACT_GROQ_API_KEY", "GROQ_API_KEY"},
	"storage.dsn":               {"INGEST_STORAGE_DSN", "DATABASE_URL"},
	"auth.api_key":              {"INGEST_AUTH_API_KEY"},
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, envs := range envAliases {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", 10*time.Minute)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("queue.default_batch_size", 1)
	v.SetDefault("queue.max_batch_size", 50)
	v.SetDefault("worker.concurrency", 1)
	v.SetDefault("worker.per_domain_delay", 2*time.Second)
	v.SetDefault("worker.skip_health_check", false)
	v.SetDefault("breaker.threshold", 5)
	v.SetDefault("breaker.reset_window", time.Hour)
	v.SetDefault("breaker.sweep_interval", 5*time.Minute)
	v.SetDefault("health.timeout", 10*time.Second)
	v.SetDefault("health.user_agent", "youth-justice-ingest/0.1")
	v.SetDefault("fetch.backend", FetchFirecrawl)
	v.SetDefault("fetch.timeout", 30*time.Second)
	v.SetDefault("fetch.max_attempts", 3)
	v.SetDefault("fetch.backoff_base", 4*time.Second)
	v.SetDefault("fetch.backoff_max", 16*time.Second)
	v.SetDefault("fetch.user_agent", "youth-justice-ingest/0.1")
	v.SetDefault("fetch.firecrawl.base_url", "https://api.firecrawl.dev")
	v.SetDefault("fetch.headless.max_parallel", 1)
	v.SetDefault("fetch.headless.nav_timeout", 45*time.Second)
	v.SetDefault("validate.min_length", 500)
	v.SetDefault("validate.keywords", []string{
		"youth", "justice", "program", "community", "child", "young",
		"detention", "support", "service", "legal", "aboriginal", "indigenous",
	})
	v.SetDefault("validate.denylist", []string{"facebook.com", "twitter.com", "instagram.com"})
	v.SetDefault("extract.providers", []string{ProviderAnthropic, ProviderGroq, ProviderOpenAI})
	v.SetDefault("extract.max_content_chars", 35000)
	v.SetDefault("extract.max_tokens", 4000)
	v.SetDefault("extract.timeout", 120*time.Second)
	for _, name := range []string{ProviderAnthropic, ProviderOpenAI, ProviderGroq} {
		// Empty defaults let INGEST_EXTRACT_<NAME>_MODEL and _BASE_URL apply.
		v.SetDefault("extract."+name+".model", "")
		v.SetDefault("extract."+name+".base_url", "")
	}
	v.SetDefault("storage.backend", StorageMemory)
	v.SetDefault("storage.sqlite_path", "ingest.db")
	v.SetDefault("storage.max_conns", 10)
	v.SetDefault("storage.min_conns", 0)
	v.SetDefault("storage.max_conn_lifetime", time.Hour)
	v.SetDefault("archive.backend", ArchiveNone)
	v.SetDefault("archive.prefix", "raw")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.base_dir", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.interval", 15*time.Minute)
	v.SetDefault("scheduler.batch_size", 10)
	v.SetDefault("scheduler.mode", string(ingest.SelectPendingAndQueued))
	v.SetDefault("tracing.service_name", "ingestd")
	v.SetDefault("tracing.sample_ratio", 0.1)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server.request_timeout must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Queue.DefaultBatchSize <= 0 || c.Queue.MaxBatchSize < c.Queue.DefaultBatchSize {
		return fmt.Errorf("queue batch sizes must satisfy 0 < default_batch_size <= max_batch_size")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Worker.PerDomainDelay < 0 {
		return fmt.Errorf("worker.per_domain_delay must be >= 0")
	}
	if c.Breaker.Threshold <= 0 {
		return fmt.Errorf("breaker.threshold must be > 0")
	}
	if c.Breaker.ResetWindow <= 0 {
		return fmt.Errorf("breaker.reset_window must be > 0")
	}
	if c.Health.Timeout <= 0 {
		return fmt.Errorf("health.timeout must be > 0")
	}
	if err := c.validateFetch(); err != nil {
		return err
	}
	if err := c.validateExtract(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if c.Scheduler.Enabled {
		if c.Scheduler.Interval <= 0 || c.Scheduler.BatchSize <= 0 {
			return fmt.Errorf("scheduler.interval and scheduler.batch_size must be > 0 when enabled")
		}
	}
	if _, err := ingest.ParseSelectMode(c.Scheduler.Mode); err != nil {
		return fmt.Errorf("scheduler.mode: %w", err)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0,1]")
	}
	return nil
}

func (c Config) validateFetch() error {
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be > 0")
	}
	if c.Fetch.MaxAttempts <= 0 {
		return fmt.Errorf("fetch.max_attempts must be > 0")
	}
	switch c.Fetch.Backend {
	case FetchFirecrawl:
		if c.Fetch.Firecrawl.APIKey == "" {
			return fmt.Errorf("fetch.firecrawl.api_key (FIRECRAWL_API_KEY) is required for the firecrawl backend")
		}
	case FetchColly:
	case FetchHeadless:
		if c.Fetch.Headless.MaxParallel <= 0 || c.Fetch.Headless.NavTimeout <= 0 {
			return fmt.Errorf("fetch.headless.max_parallel and nav_timeout must be > 0")
		}
	default:
		return fmt.Errorf("unknown fetch.backend %q", c.Fetch.Backend)
	}
	return nil
}

func (c Config) validateExtract() error {
	if c.Extract.Timeout <= 0 || c.Extract.MaxTokens <= 0 || c.Extract.MaxContentChars <= 0 {
		return fmt.Errorf("extract.timeout, max_tokens and max_content_chars must be > 0")
	}
	if len(c.Extract.Providers) == 0 {
		return fmt.Errorf("extract.providers must name at least one provider")
	}
	for _, name := range c.Extract.Providers {
		if _, ok := c.Extract.Provider(name); !ok {
			return fmt.Errorf("unknown extract provider %q", name)
		}
	}
	if len(c.Extract.Configured()) == 0 {
		return fmt.Errorf("no extraction provider has an API key (ANTHROPIC_API_KEY, GROQ_API_KEY or OPENAI_API_KEY)")
	}
	return nil
}

func (c Config) validateStorage() error {
	switch c.Storage.Backend {
	case StoragePostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn (DATABASE_URL) is required for postgres")
		}
	case StorageSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path is required for sqlite")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	switch c.Archive.Backend {
	case ArchiveNone, ArchiveMemory:
	case ArchiveGCS:
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket is required for gcs")
		}
	case ArchiveLocal:
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir is required for local")
		}
	default:
		return fmt.Errorf("unknown archive.backend %q", c.Archive.Backend)
	}
	return nil
}

// Provider returns the settings for a named provider.
func (e ExtractConfig) Provider(name string) (ProviderConfig, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case ProviderAnthropic:
		return e.Anthropic, true
	case ProviderOpenAI:
		return e.OpenAI, true
	case ProviderGroq:
		return e.Groq, true
	}
	return ProviderConfig{}, false
}

// Configured lists the providers, in configured order, that have a key.
func (e ExtractConfig) Configured() []string {
	var out []string
	for _, name := range e.Providers {
		if p, ok := e.Provider(name); ok && p.APIKey != "" {
			out = append(out, strings.ToLower(strings.TrimSpace(name)))
		}
	}
	return out
}

// RetryPolicy converts the fetch settings into a retry policy.
func (f FetchConfig) RetryPolicy() ingest.RetryPolicy {
	return ingest.RetryPolicy{
		MaxAttempts: f.MaxAttempts,
		BaseDelay:   f.BackoffBase,
		MaxDelay:    f.BackoffMax,
	}
}
