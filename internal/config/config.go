// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
	_ "time/tzdata" // zone database for hosts without one

	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Store     StoreConfig     `mapstructure:"store"`
	Search    SearchConfig    `mapstructure:"search"`
	Countries CountriesConfig `mapstructure:"countries"`
	Timezones TimezoneConfig  `mapstructure:"timezones"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// StoreConfig points at the NocoDB table holding records.
type StoreConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	Token          string `mapstructure:"token"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// SearchConfig shapes the upstream search queries.
type SearchConfig struct {
	BaseURL     string   `mapstructure:"base_url"`
	KeywordType string   `mapstructure:"keyword_type"`
	PageSize    int      `mapstructure:"page_size"`
	EndDate     string   `mapstructure:"end_date"`
	MaxPages    int      `mapstructure:"max_pages"`
	SourceName  string   `mapstructure:"source_name"`
	Language    string   `mapstructure:"language"`
	TermsFile   string   `mapstructure:"terms_file"`
	Terms       []string `mapstructure:"terms"`
}

// CountriesConfig narrows and annotates the country catalog.
type CountriesConfig struct {
	Exclude []string          `mapstructure:"exclude"`
	Only    []string          `mapstructure:"only"`
	Regions map[string]string `mapstructure:"regions"`
}

// TimezoneConfig names the upstream and reference time zones.
type TimezoneConfig struct {
	Source    string `mapstructure:"source"`
	Reference string `mapstructure:"reference"`
}

// HTTPConfig configures the upstream HTTP client and retry budget.
type HTTPConfig struct {
	UserAgent          string `mapstructure:"user_agent"`
	TimeoutSeconds     int    `mapstructure:"timeout_seconds"`
	PageMaxAttempts    int    `mapstructure:"page_max_attempts"`
	ArticleMaxAttempts int    `mapstructure:"article_max_attempts"`
	RetryJitterMs      int    `mapstructure:"retry_jitter_ms"`
	RespectRobots      bool   `mapstructure:"respect_robots"`
}

// RateLimitConfig controls the per-host token bucket.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// CrawlerConfig governs worker fan-out.
type CrawlerConfig struct {
	Concurrency int  `mapstructure:"concurrency"`
	QueueDepth  int  `mapstructure:"queue_depth"`
	DryRun      bool `mapstructure:"dry_run"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// DatabaseConfig controls the optional Postgres run ledger.
type DatabaseConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// ArchiveConfig selects where malformed pages are kept.
type ArchiveConfig struct {
	Backend string             `mapstructure:"backend"`
	Bucket  string             `mapstructure:"bucket"`
	Prefix  string             `mapstructure:"prefix"`
	Local   LocalArchiveConfig `mapstructure:"local"`
}

// LocalArchiveConfig configures the filesystem archive.
type LocalArchiveConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// PubSubConfig holds metadata for record notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MetricsConfig configures the Pushgateway export at run end.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	JobName        string `mapstructure:"job_name"`
}

// Archive backends.
const (
	ArchiveNone   = "none"
	ArchiveMemory = "memory"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	return LoadWithOverrides(path, nil)
}

// LoadWithOverrides is Load with values that win over every other source,
// typically command-line flags.
func LoadWithOverrides(path string, overrides map[string]any) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MOFCOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindLegacyEnv(v)

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	for key, value := range overrides {
		v.Set(key, value)
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

// bindLegacyEnv keeps the variable names deployments already export.
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("store.base_url", "MOFCOM_STORE_BASE_URL", "NOCO_DB_URL")
	_ = v.BindEnv("store.token", "MOFCOM_STORE_TOKEN", "NOCO_XC_TOKEN")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.timeout_seconds", 30)
	v.SetDefault("search.base_url", "http://search.mofcom.gov.cn/allSearch/")
	v.SetDefault("search.keyword_type", "all")
	v.SetDefault("search.page_size", 30)
	v.SetDefault("search.end_date", "")
	v.SetDefault("search.max_pages", 500)
	v.SetDefault("search.source_name", "Ministry of Commerce of the People's Republic of China")
	v.SetDefault("search.language", "zh")
	v.SetDefault("search.terms_file", "terms.list")
	v.SetDefault("search.terms", []string{})
	v.SetDefault("countries.exclude", []string{"CN", "HK", "MO", "TW"})
	v.SetDefault("countries.only", []string{})
	v.SetDefault("timezones.source", "Asia/Shanghai")
	v.SetDefault("timezones.reference", "America/New_York")
	v.SetDefault("http.user_agent", "mofcom-crawler/1.0")
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.page_max_attempts", 5)
	v.SetDefault("http.article_max_attempts", 3)
	v.SetDefault("http.retry_jitter_ms", 250)
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("rate_limit.rps", 2.0)
	v.SetDefault("rate_limit.burst", 1)
	v.SetDefault("crawler.concurrency", 1)
	v.SetDefault("crawler.queue_depth", 16)
	v.SetDefault("crawler.dry_run", false)
	v.SetDefault("logging.development", false)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.table", "partition_runs")
	v.SetDefault("archive.backend", ArchiveNone)
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "mofcom")
	v.SetDefault("archive.local.base_dir", "data/archive")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job_name", "mofcom_crawler")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if !c.Crawler.DryRun {
		if strings.TrimSpace(c.Store.BaseURL) == "" {
			return fmt.Errorf("store.base_url is required")
		}
		if _, err := url.ParseRequestURI(c.Store.BaseURL); err != nil {
			return fmt.Errorf("store.base_url is invalid: %w", err)
		}
	}
	if _, err := url.ParseRequestURI(c.Search.BaseURL); err != nil {
		return fmt.Errorf("search.base_url is invalid: %w", err)
	}
	if c.Search.PageSize <= 0 {
		return fmt.Errorf("search.page_size must be > 0")
	}
	if c.Search.MaxPages <= 0 {
		return fmt.Errorf("search.max_pages must be > 0")
	}
	if c.Search.EndDate != "" {
		if _, err := time.Parse(time.DateOnly, c.Search.EndDate); err != nil {
			return fmt.Errorf("search.end_date must be yyyy-mm-dd: %w", err)
		}
	}
	if len(c.Search.Terms) == 0 && strings.TrimSpace(c.Search.TermsFile) == "" {
		return fmt.Errorf("search.terms or search.terms_file must be set")
	}
	if _, err := time.LoadLocation(c.Timezones.Source); err != nil {
		return fmt.Errorf("timezones.source is invalid: %w", err)
	}
	if _, err := time.LoadLocation(c.Timezones.Reference); err != nil {
		return fmt.Errorf("timezones.reference is invalid: %w", err)
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.PageMaxAttempts <= 0 || c.HTTP.ArticleMaxAttempts <= 0 {
		return fmt.Errorf("http max attempts must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	switch c.Archive.Backend {
	case ArchiveNone, ArchiveMemory, ArchiveLocal:
	case ArchiveGCS:
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket must be set when archive.backend is gcs")
		}
	default:
		return fmt.Errorf("archive.backend %q is not supported", c.Archive.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// FetchTimeout is the per-attempt HTTP timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// RetryJitter is the upper bound of the pause between attempts.
func (c Config) RetryJitter() time.Duration {
	return time.Duration(c.HTTP.RetryJitterMs) * time.Millisecond
}

// StoreTimeout bounds each call to the record store.
func (c Config) StoreTimeout() time.Duration {
	return time.Duration(c.Store.TimeoutSeconds) * time.Second
}
