package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App         AppConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Log         LogConfig
	HTTP        HTTPConfig
	Telemetry   TelemetryConfig
	Marketplace MarketplaceConfig
	Feed        FeedConfig
	Mapping     MappingConfig
	Images      ImagesConfig
	Storage     StorageConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns the redis address
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	MaxBodySize    int64
	TrustedProxies []string
	// Per-client request rate limit on the API group
	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   int
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string  // Service name for traces
	Insecure          bool    // Use insecure (non-TLS) connection (development only)
	MetricsInterval   time.Duration
	// Database tracing options
	DBTraceEnabled    bool          // Enable database query tracing (otelgorm)
	DBLogFullSQL      bool          // Log full SQL statements (dev only)
	DBSlowQueryThresh time.Duration // Slow query threshold for warnings
}

// MarketplaceConfig holds the marketplace feed API settings
type MarketplaceConfig struct {
	BaseURL           string
	AppKey            string
	AppSecret         string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// FeedConfig holds batch building, submission and polling settings
type FeedConfig struct {
	MaxItemsPerSubBatch int
	MaxPayloadBytes     int
	SubmitAttempts      int
	SubmitBackoff       time.Duration
	SubmitMaxBackoff    time.Duration
	PollAttempts        int
	PollInitialInterval time.Duration
	PollMaxInterval     time.Duration
	PollMaxElapsed      time.Duration
	Workers             int
	QueueSize           int
	ResumeInterval      time.Duration
}

// MappingConfig holds mapping pipeline settings
type MappingConfig struct {
	Workers     int
	InFlightTTL time.Duration
}

// ImagesConfig holds image set settings
type ImagesConfig struct {
	MinCount           int
	MaxCount           int
	MaxImageBytes      int64
	Placeholders       []string
	PlaceholderMarkers []string
	ProbeTimeout       time.Duration
}

// StorageConfig holds the S3 gallery settings
type StorageConfig struct {
	Enabled         bool
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	PublicBaseURL   string
	PresignExpiry   time.Duration
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with FEEDSYNC_ prefix (e.g., FEEDSYNC_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("FEEDSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := FromViper(v)
	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromViper builds a Config from an initialised viper instance
func FromViper(v *viper.Viper) *Config {
	return &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			IdleTimeout:      v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:   v.GetInt("http.max_header_bytes"),
			MaxBodySize:      v.GetInt64("http.max_body_size"),
			TrustedProxies:   v.GetStringSlice("http.trusted_proxies"),
			RateLimitEnabled: v.GetBool("http.rate_limit_enabled"),
			RateLimitRPS:     v.GetFloat64("http.rate_limit_rps"),
			RateLimitBurst:   v.GetInt("http.rate_limit_burst"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:      v.GetBool("telemetry.db_log_full_sql"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
		},
		Marketplace: MarketplaceConfig{
			BaseURL:           v.GetString("marketplace.base_url"),
			AppKey:            v.GetString("marketplace.app_key"),
			AppSecret:         v.GetString("marketplace.app_secret"),
			Timeout:           v.GetDuration("marketplace.timeout"),
			RequestsPerSecond: v.GetFloat64("marketplace.requests_per_second"),
			Burst:             v.GetInt("marketplace.burst"),
		},
		Feed: FeedConfig{
			MaxItemsPerSubBatch: v.GetInt("feed.max_items_per_sub_batch"),
			MaxPayloadBytes:     v.GetInt("feed.max_payload_bytes"),
			SubmitAttempts:      v.GetInt("feed.submit_attempts"),
			SubmitBackoff:       v.GetDuration("feed.submit_backoff"),
			SubmitMaxBackoff:    v.GetDuration("feed.submit_max_backoff"),
			PollAttempts:        v.GetInt("feed.poll_attempts"),
			PollInitialInterval: v.GetDuration("feed.poll_initial_interval"),
			PollMaxInterval:     v.GetDuration("feed.poll_max_interval"),
			PollMaxElapsed:      v.GetDuration("feed.poll_max_elapsed"),
			Workers:             v.GetInt("feed.workers"),
			QueueSize:           v.GetInt("feed.queue_size"),
			ResumeInterval:      v.GetDuration("feed.resume_interval"),
		},
		Mapping: MappingConfig{
			Workers:     v.GetInt("mapping.workers"),
			InFlightTTL: v.GetDuration("mapping.in_flight_ttl"),
		},
		Images: ImagesConfig{
			MinCount:           v.GetInt("images.min_count"),
			MaxCount:           v.GetInt("images.max_count"),
			MaxImageBytes:      v.GetInt64("images.max_image_bytes"),
			Placeholders:       v.GetStringSlice("images.placeholders"),
			PlaceholderMarkers: v.GetStringSlice("images.placeholder_markers"),
			ProbeTimeout:       v.GetDuration("images.probe_timeout"),
		},
		Storage: StorageConfig{
			Enabled:         v.GetBool("storage.enabled"),
			Bucket:          v.GetString("storage.bucket"),
			Region:          v.GetString("storage.region"),
			Endpoint:        v.GetString("storage.endpoint"),
			AccessKeyID:     v.GetString("storage.access_key_id"),
			SecretAccessKey: v.GetString("storage.secret_access_key"),
			UsePathStyle:    v.GetBool("storage.use_path_style"),
			PublicBaseURL:   v.GetString("storage.public_base_url"),
			PresignExpiry:   v.GetDuration("storage.presign_expiry"),
		},
	}
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "feedsync"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "feedsync"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 60 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 10 << 20 // 10MB
	}
	if cfg.HTTP.RateLimitRPS == 0 {
		cfg.HTTP.RateLimitRPS = 10
	}
	if cfg.HTTP.RateLimitBurst == 0 {
		cfg.HTTP.RateLimitBurst = 20
	}

	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "feedsync"
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 60 * time.Second
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}

	if cfg.Marketplace.Timeout == 0 {
		cfg.Marketplace.Timeout = 30 * time.Second
	}
	if cfg.Marketplace.RequestsPerSecond == 0 {
		cfg.Marketplace.RequestsPerSecond = 5
	}
	if cfg.Marketplace.Burst == 0 {
		cfg.Marketplace.Burst = 10
	}

	if cfg.Feed.MaxItemsPerSubBatch == 0 {
		cfg.Feed.MaxItemsPerSubBatch = 100
	}
	if cfg.Feed.MaxPayloadBytes == 0 {
		cfg.Feed.MaxPayloadBytes = 10 << 20 // 10MB
	}
	if cfg.Feed.SubmitAttempts == 0 {
		cfg.Feed.SubmitAttempts = 3
	}
	if cfg.Feed.SubmitBackoff == 0 {
		cfg.Feed.SubmitBackoff = 2 * time.Second
	}
	if cfg.Feed.SubmitMaxBackoff == 0 {
		cfg.Feed.SubmitMaxBackoff = time.Minute
	}
	if cfg.Feed.PollAttempts == 0 {
		cfg.Feed.PollAttempts = 20
	}
	if cfg.Feed.PollInitialInterval == 0 {
		cfg.Feed.PollInitialInterval = 30 * time.Second
	}
	if cfg.Feed.PollMaxInterval == 0 {
		cfg.Feed.PollMaxInterval = 10 * time.Minute
	}
	if cfg.Feed.PollMaxElapsed == 0 {
		cfg.Feed.PollMaxElapsed = 4 * time.Hour
	}
	if cfg.Feed.Workers == 0 {
		cfg.Feed.Workers = 4
	}
	if cfg.Feed.QueueSize == 0 {
		cfg.Feed.QueueSize = 100
	}
	if cfg.Feed.ResumeInterval == 0 {
		cfg.Feed.ResumeInterval = 5 * time.Minute
	}

	if cfg.Mapping.Workers == 0 {
		cfg.Mapping.Workers = 8
	}
	if cfg.Mapping.InFlightTTL == 0 {
		cfg.Mapping.InFlightTTL = 24 * time.Hour
	}

	if cfg.Images.MinCount == 0 {
		cfg.Images.MinCount = 5
	}
	if cfg.Images.MaxCount == 0 {
		cfg.Images.MaxCount = 9
	}
	if cfg.Images.MaxImageBytes == 0 {
		cfg.Images.MaxImageBytes = 10 << 20 // 10MB
	}
	if len(cfg.Images.PlaceholderMarkers) == 0 {
		cfg.Images.PlaceholderMarkers = []string{"placeholder", "no-image"}
	}
	if cfg.Images.ProbeTimeout == 0 {
		cfg.Images.ProbeTimeout = 5 * time.Second
	}

	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Storage.PresignExpiry == 0 {
		cfg.Storage.PresignExpiry = 7 * 24 * time.Hour
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if c.Feed.MaxItemsPerSubBatch <= 0 {
		return fmt.Errorf("feed.max_items_per_sub_batch must be positive")
	}
	if c.Feed.MaxPayloadBytes < 1024 {
		return fmt.Errorf("feed.max_payload_bytes must be at least 1024, got %d", c.Feed.MaxPayloadBytes)
	}
	if c.Feed.PollInitialInterval > c.Feed.PollMaxInterval {
		return fmt.Errorf("feed.poll_initial_interval (%s) cannot exceed feed.poll_max_interval (%s)",
			c.Feed.PollInitialInterval, c.Feed.PollMaxInterval)
	}
	if c.Feed.SubmitBackoff > c.Feed.SubmitMaxBackoff {
		return fmt.Errorf("feed.submit_backoff (%s) cannot exceed feed.submit_max_backoff (%s)",
			c.Feed.SubmitBackoff, c.Feed.SubmitMaxBackoff)
	}
	if c.Images.MinCount < 0 || c.Images.MaxCount < 0 {
		return fmt.Errorf("images.min_count and images.max_count cannot be negative")
	}
	if c.Images.MaxCount > 0 && c.Images.MaxCount < c.Images.MinCount {
		return fmt.Errorf("images.max_count (%d) cannot be below images.min_count (%d)", c.Images.MaxCount, c.Images.MinCount)
	}
	for _, p := range c.Images.Placeholders {
		u, err := url.ParseRequestURI(p)
		if err != nil || u.Host == "" {
			return fmt.Errorf("images.placeholders contains an invalid URL: %q", p)
		}
	}
	if c.Storage.Enabled && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required when storage is enabled")
	}

	if c.App.Env == "production" {
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Marketplace.BaseURL == "" || c.Marketplace.AppKey == "" || c.Marketplace.AppSecret == "" {
			return fmt.Errorf("marketplace.base_url, marketplace.app_key and marketplace.app_secret are required in production")
		}
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production to prevent sensitive data exposure in traces")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
