package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App       AppConfig       `yaml:"app"`
	Source    SourceConfig    `yaml:"source"`
	Poller    PollerConfig    `yaml:"poller"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Watchlist WatchlistConfig `yaml:"watchlist"`
	View      ViewConfig      `yaml:"view"`
	Cache     CacheConfig     `yaml:"cache"`
	Export    ExportConfig    `yaml:"export"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// SourceConfig describes the CoinGecko markets endpoint.
type SourceConfig struct {
	BaseURL   string          `yaml:"base_url"`
	Currency  string          `yaml:"currency"`
	PageSize  int             `yaml:"page_size"`
	Page      int             `yaml:"page"`
	Timeout   time.Duration   `yaml:"timeout"`
	CacheTTL  time.Duration   `yaml:"cache_ttl"`
	APIKey    string          `yaml:"api_key"`
	UserAgent string          `yaml:"user_agent"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	BurstSize         int `yaml:"burst_size"`
}

type PollerConfig struct {
	Interval               time.Duration `yaml:"interval"`
	CycleMinutes           int           `yaml:"cycle_minutes"`
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures"`
	AutoExportEvery        int           `yaml:"auto_export_every"`
}

type SnapshotConfig struct {
	Retention      int     `yaml:"retention"`
	ToleranceRatio float64 `yaml:"tolerance_ratio"`
}

type AlertsConfig struct {
	Price5m        float64       `yaml:"price_5m"`
	Price15m       float64       `yaml:"price_15m"`
	VolumeSpike    float64       `yaml:"volume_spike"`
	VolumeDrop     float64       `yaml:"volume_drop"`
	MaxAlerts      int           `yaml:"max_alerts"`
	DedupRetention time.Duration `yaml:"dedup_retention"`
}

type WatchlistConfig struct {
	Defaults []string `yaml:"defaults"`
}

// ViewConfig holds the default query applied by the dashboard when the
// caller does not provide one.
type ViewConfig struct {
	Tier       string `yaml:"tier"`
	SortKey    string `yaml:"sort_key"`
	Descending bool   `yaml:"descending"`
}

type CacheConfig struct {
	Backend string      `yaml:"backend"`
	Redis   RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

type ExportConfig struct {
	Directory          string   `yaml:"directory"`
	Formats            []string `yaml:"formats"`
	ParquetCompression string   `yaml:"parquet_compression"`
	S3                 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type KafkaConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
}

type DashboardConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Address         string        `yaml:"address"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	LogHistory      int           `yaml:"log_history"`
	MetricsHistory  int           `yaml:"metrics_history"`
}

type MetricsConfig struct {
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Region        string `yaml:"region"`
	Namespace     string `yaml:"namespace"`
	DashboardName string `yaml:"dashboard_name"`
}

type LoggingConfig struct {
	Level          string        `yaml:"level"`
	Format         string        `yaml:"format"`
	Output         string        `yaml:"output"`
	MaxAge         int           `yaml:"max_age"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

// DefaultWatchlist is seeded into the watchlist when the config does not
// list any ids.
var DefaultWatchlist = []string{
	"bitcoin", "ethereum", "binancecoin", "ripple",
	"cardano", "solana", "polkadot", "dogecoin",
}

func defaultConfig() Config {
	return Config{
		App: AppConfig{Name: "cryptodash", Version: "dev"},
		Source: SourceConfig{
			BaseURL:   "https://api.coingecko.com/api/v3",
			Currency:  "usd",
			PageSize:  100,
			Page:      1,
			Timeout:   20 * time.Second,
			CacheTTL:  30 * time.Second,
			UserAgent: "cryptodash",
			RateLimit: RateLimitConfig{RequestsPerMinute: 30, BurstSize: 1},
		},
		Poller: PollerConfig{
			Interval:     5 * time.Minute,
			CycleMinutes: 5,
		},
		Snapshot: SnapshotConfig{
			Retention:      2016,
			ToleranceRatio: 0.2,
		},
		Alerts: AlertsConfig{
			Price5m:        5,
			Price15m:       8,
			VolumeSpike:    50,
			VolumeDrop:     30,
			MaxAlerts:      50,
			DedupRetention: time.Hour,
		},
		View:  ViewConfig{Tier: "top100", SortKey: "rank"},
		Cache: CacheConfig{Backend: "memory", Redis: RedisConfig{Addr: "localhost:6379", KeyPrefix: "cryptodash:"}},
		Export: ExportConfig{
			Formats:            []string{"csv", "json"},
			ParquetCompression: "snappy",
		},
		Kafka: KafkaConfig{Topic: "cryptodash.alerts", BatchTimeout: time.Second},
		Dashboard: DashboardConfig{
			Address:         "0.0.0.0:8080",
			RefreshInterval: 5 * time.Second,
			LogHistory:      200,
			MetricsHistory:  200,
		},
		Metrics: MetricsConfig{CloudWatch: CloudWatchConfig{Namespace: "CryptoDash"}},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)

	if len(config.Watchlist.Defaults) == 0 {
		config.Watchlist.Defaults = append([]string(nil), DefaultWatchlist...)
	}
	config.Export.S3.Bucket = strings.TrimSpace(config.Export.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyEnvOverrides(config *Config) {
	if v := os.Getenv("COINGECKO_API_KEY"); v != "" {
		config.Source.APIKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		config.Cache.Redis.Addr = strings.TrimSpace(v)
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		config.Cache.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			config.Cache.Redis.DB = db
		}
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		config.Kafka.Brokers = strings.Split(v, ",")
	}

	// S3 credentials are only picked up from the environment when uploads
	// are enabled.
	if config.Export.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Export.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Export.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Export.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Export.S3.Bucket = strings.TrimSpace(v)
		}
	}
	if config.Metrics.CloudWatch.Enabled && config.Metrics.CloudWatch.Region == "" {
		config.Metrics.CloudWatch.Region = os.Getenv("AWS_REGION")
	}
}

func validateConfig(cfg *Config) error {
	if cfg.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}

	if cfg.Source.BaseURL == "" {
		return fmt.Errorf("source.base_url is required")
	}
	if cfg.Source.PageSize <= 0 || cfg.Source.PageSize > 250 {
		return fmt.Errorf("source.page_size must be between 1 and 250")
	}
	if cfg.Source.Page <= 0 {
		return fmt.Errorf("source.page must be greater than 0")
	}
	if cfg.Source.Timeout <= 0 {
		return fmt.Errorf("source.timeout must be greater than 0")
	}
	if cfg.Source.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("source.rate_limit.requests_per_minute must be greater than 0")
	}

	if cfg.Poller.Interval <= 0 {
		return fmt.Errorf("poller.interval must be greater than 0")
	}
	if cfg.Poller.CycleMinutes <= 0 {
		return fmt.Errorf("poller.cycle_minutes must be greater than 0")
	}
	if cfg.Poller.MaxConsecutiveFailures < 0 {
		return fmt.Errorf("poller.max_consecutive_failures must not be negative")
	}

	if cfg.Snapshot.Retention <= 0 {
		return fmt.Errorf("snapshot.retention must be greater than 0")
	}
	if cfg.Snapshot.ToleranceRatio <= 0 {
		return fmt.Errorf("snapshot.tolerance_ratio must be greater than 0")
	}

	if cfg.Alerts.Price5m <= 0 || cfg.Alerts.Price15m <= 0 || cfg.Alerts.VolumeSpike <= 0 || cfg.Alerts.VolumeDrop <= 0 {
		return fmt.Errorf("alerts thresholds must be greater than 0")
	}
	if cfg.Alerts.MaxAlerts <= 0 {
		return fmt.Errorf("alerts.max_alerts must be greater than 0")
	}

	switch cfg.Cache.Backend {
	case "memory":
	case "redis":
		if cfg.Cache.Redis.Addr == "" {
			return fmt.Errorf("cache.redis.addr is required when the redis backend is selected")
		}
	default:
		return fmt.Errorf("cache.backend '%s' is invalid", cfg.Cache.Backend)
	}

	for _, f := range cfg.Export.Formats {
		switch f {
		case "csv", "json", "parquet":
		default:
			return fmt.Errorf("export.formats contains unknown format '%s'", f)
		}
	}
	if cfg.Export.S3.Enabled {
		if cfg.Export.S3.Bucket == "" {
			return fmt.Errorf("export.s3.bucket is required when S3 is enabled")
		}
		if cfg.Export.S3.Region == "" {
			return fmt.Errorf("export.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Export.S3.Bucket) {
			return fmt.Errorf("export.s3.bucket '%s' is invalid", cfg.Export.S3.Bucket)
		}
	}

	if cfg.Kafka.Enabled {
		if len(cfg.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers is required when kafka is enabled")
		}
		if cfg.Kafka.Topic == "" {
			return fmt.Errorf("kafka.topic is required when kafka is enabled")
		}
	}

	if cfg.Metrics.CloudWatch.Enabled && cfg.Metrics.CloudWatch.Region == "" {
		return fmt.Errorf("metrics.cloudwatch.region is required when cloudwatch is enabled")
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
