// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Download backends supported for image storage.
const (
	BackendLocal = "local"
	BackendGCS   = "gcs"
	BackendS3    = "s3"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Wiki      WikiConfig      `mapstructure:"wiki"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Download  DownloadConfig  `mapstructure:"download"`
	Store     StoreConfig     `mapstructure:"store"`
	Input     InputConfig     `mapstructure:"input"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Server    ServerConfig    `mapstructure:"server"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// WikiConfig points the client at a MediaWiki API.
type WikiConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	UserAgent     string `mapstructure:"user_agent"`
	SearchLimit   int    `mapstructure:"search_limit"`
	RespectRobots bool   `mapstructure:"respect_robots"`
}

// HTTPConfig configures HTTP client timeout and retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// RateLimitConfig throttles API requests per host.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// CrawlerConfig governs the worker pool.
type CrawlerConfig struct {
	Workers      int `mapstructure:"workers"`
	QueueDepth   int `mapstructure:"queue_depth"`
	DelaySeconds int `mapstructure:"delay_seconds"`
}

// DownloadConfig controls optional image downloads.
type DownloadConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Dir            string   `mapstructure:"dir"`
	Backend        string   `mapstructure:"backend"`
	GCSBucket      string   `mapstructure:"gcs_bucket"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
	MaxBytes       int      `mapstructure:"max_bytes"`
	S3             S3Config `mapstructure:"s3"`
}

// S3Config points the s3 backend at any S3 compatible service.
type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// StoreConfig locates the JSON store.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// InputConfig locates the optional worklist file.
type InputConfig struct {
	ModsFile string `mapstructure:"mods_file"`
}

// PubSubConfig holds metadata for per-mod notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features and the log file.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
}

// ServerConfig controls the read-only HTTP API.
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// APIKey guards the /v1 routes when set.
	APIKey string `mapstructure:"api_key"`
}

// MetricsConfig exposes Prometheus metrics during a crawl when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MODITEMS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

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
	v.SetDefault("wiki.base_url", "https://minecraft.fandom.com/api.php")
	v.SetDefault("wiki.user_agent", "moditems-crawler/0.1")
	v.SetDefault("wiki.search_limit", 50)
	v.SetDefault("wiki.respect_robots", false)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_retries", 0)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 2000)
	v.SetDefault("ratelimit.rps", 0.0)
	v.SetDefault("ratelimit.burst", 1)
	v.SetDefault("crawler.workers", 10)
	v.SetDefault("crawler.queue_depth", 64)
	v.SetDefault("crawler.delay_seconds", 1)
	v.SetDefault("download.enabled", false)
	v.SetDefault("download.dir", "mod_items_data")
	v.SetDefault("download.backend", BackendLocal)
	v.SetDefault("download.timeout_seconds", 10)
	v.SetDefault("download.max_bytes", 32<<20)
	v.SetDefault("download.s3.endpoint", "")
	v.SetDefault("download.s3.region", "us-east-1")
	v.SetDefault("download.s3.bucket", "")
	v.SetDefault("download.s3.access_key", "")
	v.SetDefault("download.s3.secret_key", "")
	v.SetDefault("download.s3.use_ssl", true)
	v.SetDefault("store.path", "mod_items_data.json")
	v.SetDefault("input.mods_file", "mods_data.json")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.file", "mod_items.log")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("metrics.addr", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Wiki.BaseURL) == "" {
		return fmt.Errorf("wiki.base_url must be set")
	}
	if c.Wiki.SearchLimit <= 0 || c.Wiki.SearchLimit > 500 {
		return fmt.Errorf("wiki.search_limit must be in 1..500")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.Crawler.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be > 0")
	}
	if c.Crawler.QueueDepth <= 0 {
		return fmt.Errorf("crawler.queue_depth must be > 0")
	}
	if c.Crawler.DelaySeconds < 0 {
		return fmt.Errorf("crawler.delay_seconds must be >= 0")
	}
	if strings.TrimSpace(c.Store.Path) == "" {
		return fmt.Errorf("store.path must be set")
	}
	if c.Download.TimeoutSeconds <= 0 {
		return fmt.Errorf("download.timeout_seconds must be > 0")
	}
	if c.Download.MaxBytes <= 0 {
		return fmt.Errorf("download.max_bytes must be > 0")
	}
	switch c.Download.Backend {
	case BackendLocal:
		if c.Download.Enabled && strings.TrimSpace(c.Download.Dir) == "" {
			return fmt.Errorf("download.dir must be set when downloads are enabled")
		}
	case BackendGCS:
		if c.Download.Enabled && c.Download.GCSBucket == "" {
			return fmt.Errorf("download.gcs_bucket must be set for the gcs backend")
		}
	case BackendS3:
		if c.Download.Enabled && (c.Download.S3.Endpoint == "" || c.Download.S3.Bucket == "") {
			return fmt.Errorf("download.s3.endpoint and download.s3.bucket must be set for the s3 backend")
		}
	default:
		return fmt.Errorf("download.backend must be one of %q, %q, %q", BackendLocal, BackendGCS, BackendS3)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}

// RequestTimeout is the per-request budget for API calls.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// DownloadTimeout is the per-image budget for downloads.
func (c Config) DownloadTimeout() time.Duration {
	return time.Duration(c.Download.TimeoutSeconds) * time.Second
}

// ModDelay is the pause after each persisted mod.
func (c Config) ModDelay() time.Duration {
	return time.Duration(c.Crawler.DelaySeconds) * time.Second
}
