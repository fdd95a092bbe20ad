// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/adlibrary-crawler/internal/identity"
	"github.com/JakeFAU/adlibrary-crawler/internal/logging"
	"github.com/JakeFAU/adlibrary-crawler/internal/telemetry"
)

// ErrMissingTarget is returned when neither an account owner nor a keyword is
// configured.
var ErrMissingTarget = errors.New("either run.account_owner or run.keyword is required")

// Config captures all run configuration loaded via Viper.
type Config struct {
	Run       RunConfig        `mapstructure:"run"`
	Crawler   CrawlerConfig    `mapstructure:"crawler"`
	HTTP      HTTPConfig       `mapstructure:"http"`
	Headless  HeadlessConfig   `mapstructure:"headless"`
	Backoff   BackoffConfig    `mapstructure:"backoff"`
	Identity  IdentityConfig   `mapstructure:"identity"`
	Extract   ExtractConfig    `mapstructure:"extract"`
	Output    OutputConfig     `mapstructure:"output"`
	Storage   StorageConfig    `mapstructure:"storage"`
	DB        DBConfig         `mapstructure:"db"`
	PubSub    PubSubConfig     `mapstructure:"pubsub"`
	Kafka     KafkaConfig      `mapstructure:"kafka"`
	Autoscale AutoscaleConfig  `mapstructure:"autoscale"`
	Server    ServerConfig     `mapstructure:"server"`
	Tracing   telemetry.Config `mapstructure:"tracing"`
	Logging   logging.Config   `mapstructure:"logging"`
}

// RunConfig holds the per-run parameters.
type RunConfig struct {
	AccountOwner     string `mapstructure:"account_owner"`
	Keyword          string `mapstructure:"keyword"`
	MaxURLs          int    `mapstructure:"max_urls"`
	Unlimited        bool   `mapstructure:"unlimited"`
	Local            bool   `mapstructure:"local"`
	ScrapeDetails    bool   `mapstructure:"scrape_details"`
	MinDetailDelayMS int    `mapstructure:"min_detail_delay_ms"`
	MaxDetailDelayMS int    `mapstructure:"max_detail_delay_ms"`
	BaseURL          string `mapstructure:"base_url"`
	// RunID overrides the generated run identifier.
	RunID string `mapstructure:"run_id"`
}

// CrawlerConfig governs the worker pool and request pacing.
type CrawlerConfig struct {
	MaxConcurrency    int     `mapstructure:"max_concurrency"`
	MinConcurrency    int     `mapstructure:"min_concurrency"`
	MaxItemAttempts   int     `mapstructure:"max_item_attempts"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	// Fetcher selects the primary transport: "colly" or "headless".
	Fetcher string `mapstructure:"fetcher"`
}

// HTTPConfig configures the HTTP fetcher's timeout and transport retries.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// HeadlessConfig configures the chromedp fetcher and promotion heuristic.
type HeadlessConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	MaxParallel        int    `mapstructure:"max_parallel"`
	NavTimeoutSec      int    `mapstructure:"nav_timeout_seconds"`
	WaitSelector       string `mapstructure:"wait_selector"`
	PromotionThreshold int    `mapstructure:"promotion_threshold"`
}

// BackoffConfig tunes the rate governor.
type BackoffConfig struct {
	FloorMS   int     `mapstructure:"floor_ms"`
	CeilingMS int     `mapstructure:"ceiling_ms"`
	Factor    float64 `mapstructure:"factor"`
}

// IdentityConfig lists the credential seeds and where pool state persists.
type IdentityConfig struct {
	Seeds        []identity.Seed `mapstructure:"seeds"`
	UsageCeiling int             `mapstructure:"usage_ceiling"`
	Store        IdentityStore   `mapstructure:"store"`
}

// IdentityStore selects pool persistence. Kind is "", "file", or "redis".
type IdentityStore struct {
	Kind       string `mapstructure:"kind"`
	Path       string `mapstructure:"path"`
	RedisAddr  string `mapstructure:"redis_addr"`
	RedisKey   string `mapstructure:"redis_key"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

// ExtractConfig tunes the extraction engine.
type ExtractConfig struct {
	PlaceholderSignatures []string `mapstructure:"placeholder_signatures"`
	TrackingParams        []string `mapstructure:"tracking_params"`
}

// OutputConfig controls checkpoint cadence and raw snapshots.
type OutputConfig struct {
	CheckpointEveryPages   int  `mapstructure:"checkpoint_every_pages"`
	CheckpointEveryRecords int  `mapstructure:"checkpoint_every_records"`
	SaveRawHTML            bool `mapstructure:"save_raw_html"`
}

// StorageConfig selects the blob backend: "local", "gcs", or "none".
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	Dir       string `mapstructure:"dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls the Postgres sink. An empty DSN disables it.
type DBConfig struct {
	DSN              string `mapstructure:"dsn"`
	MaxConns         int    `mapstructure:"max_conns"`
	AdsTable         string `mapstructure:"ads_table"`
	CheckpointsTable string `mapstructure:"checkpoints_table"`
}

// PubSubConfig enables record notifications over Pub/Sub.
type PubSubConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	Topic           string `mapstructure:"topic"`
	CheckpointTopic string `mapstructure:"checkpoint_topic"`
}

// KafkaConfig enables record notifications over Kafka.
type KafkaConfig struct {
	Brokers         []string `mapstructure:"brokers"`
	Topic           string   `mapstructure:"topic"`
	CheckpointTopic string   `mapstructure:"checkpoint_topic"`
}

// AutoscaleConfig tunes the dispatcher autoscaler.
type AutoscaleConfig struct {
	IntervalSeconds int `mapstructure:"interval_seconds"`
	HeapHighWaterMB int `mapstructure:"heap_high_water_mb"`
	QueueWaitHighMS int `mapstructure:"queue_wait_high_ms"`
	QueueWaitLowMS  int `mapstructure:"queue_wait_low_ms"`
	Step            int `mapstructure:"step"`
}

// ServerConfig controls the ops HTTP server. Port 0 disables it.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// flagKeys maps CLI flags onto config keys.
var flagKeys = map[string]string{
	"account-owner": "run.account_owner",
	"keyword":       "run.keyword",
	"max-urls":      "run.max_urls",
	"unlimited":     "run.unlimited",
	"local":         "run.local",
	"concurrency":   "crawler.max_concurrency",
	"debug":         "logging.development",
	"port":          "server.port",
}

// Load builds a Config from defaults, an optional file, the environment, and
// flags, in increasing precedence. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ADCRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return Config{}, err
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

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	// --no-details inverts run.scrape_details, so it is applied by hand.
	if f := flags.Lookup("no-details"); f != nil && f.Changed {
		off, err := flags.GetBool("no-details")
		if err != nil {
			return fmt.Errorf("read flag no-details: %w", err)
		}
		if off {
			v.Set("run.scrape_details", false)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Empty defaults register keys so AutomaticEnv can populate them.
	for _, key := range []string{
		"run.account_owner", "run.keyword", "run.run_id",
		"identity.store.kind", "identity.store.path", "identity.store.redis_addr",
		"storage.gcs_bucket", "storage.prefix", "db.dsn",
		"pubsub.project_id", "pubsub.topic", "pubsub.checkpoint_topic",
		"kafka.topic", "kafka.checkpoint_topic", "tracing.project_id",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("run.max_urls", 500)
	v.SetDefault("run.unlimited", false)
	v.SetDefault("run.local", false)
	v.SetDefault("run.scrape_details", true)
	v.SetDefault("run.base_url", "https://www.linkedin.com")
	v.SetDefault("crawler.max_concurrency", 4)
	v.SetDefault("crawler.min_concurrency", 1)
	v.SetDefault("crawler.max_item_attempts", 3)
	v.SetDefault("crawler.requests_per_second", 0)
	v.SetDefault("crawler.burst", 1)
	v.SetDefault("crawler.fetcher", "colly")
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 500)
	v.SetDefault("http.backoff_max_ms", 8000)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.wait_selector", "body")
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("backoff.floor_ms", 10000)
	v.SetDefault("backoff.ceiling_ms", 60000)
	v.SetDefault("backoff.factor", 1.5)
	v.SetDefault("identity.usage_ceiling", 0)
	v.SetDefault("identity.store.redis_key", "adcrawler:identities")
	v.SetDefault("output.checkpoint_every_pages", 5)
	v.SetDefault("output.checkpoint_every_records", 50)
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.dir", "data/ads")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.ads_table", "ad_records")
	v.SetDefault("db.checkpoints_table", "run_checkpoints")
	v.SetDefault("autoscale.interval_seconds", 5)
	v.SetDefault("autoscale.queue_wait_high_ms", 2000)
	v.SetDefault("autoscale.queue_wait_low_ms", 100)
	v.SetDefault("autoscale.step", 1)
	v.SetDefault("server.port", 0)
	v.SetDefault("tracing.service_name", "adcrawler")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Run.AccountOwner) == "" && strings.TrimSpace(c.Run.Keyword) == "" {
		return ErrMissingTarget
	}
	if !c.Run.Unlimited && c.Run.MaxURLs <= 0 {
		return fmt.Errorf("run.max_urls must be > 0 unless run.unlimited is set")
	}
	if c.Crawler.MaxConcurrency <= 0 {
		return fmt.Errorf("crawler.max_concurrency must be > 0")
	}
	if c.Crawler.MaxItemAttempts <= 0 {
		return fmt.Errorf("crawler.max_item_attempts must be > 0")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	switch c.Crawler.Fetcher {
	case "colly", "headless":
	default:
		return fmt.Errorf("crawler.fetcher must be colly or headless, got %q", c.Crawler.Fetcher)
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Backoff.CeilingMS < c.Backoff.FloorMS {
		return fmt.Errorf("backoff.ceiling_ms must be >= backoff.floor_ms")
	}
	switch c.Identity.Store.Kind {
	case "":
	case "file":
		if c.Identity.Store.Path == "" {
			return fmt.Errorf("identity.store.path is required for the file store")
		}
	case "redis":
		if c.Identity.Store.RedisAddr == "" {
			return fmt.Errorf("identity.store.redis_addr is required for the redis store")
		}
	default:
		return fmt.Errorf("identity.store.kind must be file or redis, got %q", c.Identity.Store.Kind)
	}
	switch c.Storage.Backend {
	case "none", "local":
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend must be none, local, or gcs, got %q", c.Storage.Backend)
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id is required when pubsub.topic is set")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return fmt.Errorf("kafka.topic is required when kafka.brokers is set")
	}
	return nil
}

// HeadlessRequired reports whether a chromedp fetcher must be started.
func (c Config) HeadlessRequired() bool {
	return c.Headless.Enabled || c.Crawler.Fetcher == "headless"
}

// DetailDelays returns the configured jitter bounds. Zero values mean the
// mode default applies.
func (c Config) DetailDelays() (time.Duration, time.Duration) {
	return ms(c.Run.MinDetailDelayMS), ms(c.Run.MaxDetailDelayMS)
}

// RequestTimeout is the per-request HTTP budget.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// HeapHighWater converts the autoscaler memory ceiling to bytes.
func (c Config) HeapHighWater() uint64 {
	if c.Autoscale.HeapHighWaterMB <= 0 {
		return 0
	}
	return uint64(c.Autoscale.HeapHighWaterMB) << 20
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
