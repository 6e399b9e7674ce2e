package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/erp/channelsync/internal/domain/pricing"
)

// Config holds all application configuration
type Config struct {
	App          AppConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Log          LogConfig
	Telemetry    TelemetryConfig
	Sync         SyncConfig
	Pricing      PricingConfig
	ExchangeRate ExchangeRateConfig
	Platforms    PlatformsConfig
	Events       EventsConfig
	Report       ReportConfig
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

// RedisConfig holds Redis connection settings.
// When disabled, cache and locks stay in process.
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // 0.0-1.0
	ServiceName       string
	Insecure          bool // development only
	MetricsEnabled    bool
	MetricsInterval   time.Duration
	DBTraceEnabled    bool
	DBLogFullSQL      bool          // dev only
	DBSlowQueryThresh time.Duration // slow query warning threshold
}

// SyncConfig holds orchestrator, reconciliation and trigger settings
type SyncConfig struct {
	Workers      int
	QueueSize    int
	MaxBatchSize int
	MaxRetries   int
	JobTimeout   time.Duration
	ItemTimeout  time.Duration
	WaitTimeout  time.Duration
	PollInterval time.Duration
	HistorySize  int

	RetryBase       time.Duration
	RetryMultiplier float64
	RetryCap        time.Duration

	// CallTimeout and CallRetries apply to each platform call
	CallTimeout          time.Duration
	CallRetries          int
	CallRetryInterval    time.Duration
	CallRetryMaxInterval time.Duration

	CriticalThreshold   int
	BidirectionalPolicy string // max, conservative
	LockTTL             time.Duration

	// Zero disables the trigger
	InventoryInterval time.Duration
	PriceInterval     time.Duration
	RateInterval      time.Duration
}

// MarginRuleConfig is one margin override
type MarginRuleConfig struct {
	Name       string `mapstructure:"name"`
	Scope      string `mapstructure:"scope"`
	Match      string `mapstructure:"match"`
	MarginRate string `mapstructure:"margin_rate"`
}

// PricingConfig holds price engine settings. Decimal values are strings
// so that they are never read through float64.
type PricingConfig struct {
	Rounding       string
	MinPrice       string // empty means unbounded
	MaxPrice       string // empty means unbounded
	SanityFloor    string
	SwingThreshold string
	RateDirection  string
	Rules          []MarginRuleConfig
}

// ProviderConfig configures one HTTP exchange-rate provider
type ProviderConfig struct {
	Name     string        `mapstructure:"name"`
	URL      string        `mapstructure:"url"` // {base} is replaced with the base currency
	APIKey   string        `mapstructure:"api_key"`
	Priority int           `mapstructure:"priority"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ExchangeRateConfig holds provider chain settings
type ExchangeRateConfig struct {
	CacheTTL        time.Duration
	ChangeThreshold string
	DefaultRate     string // last-resort rate from platform A's currency to B's
	MinRate         string
	MaxRate         string
	ProviderTimeout time.Duration
	Providers       []ProviderConfig
}

// PlatformConfig configures the REST adapter for one platform
type PlatformConfig struct {
	Name              string
	BaseURL           string
	Token             string
	Currency          string
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
}

// PlatformsConfig holds both platforms
type PlatformsConfig struct {
	A PlatformConfig
	B PlatformConfig
}

// EventsConfig holds the AMQP settings. An empty URL keeps events in process.
type EventsConfig struct {
	AMQPURL   string
	Exchange  string        // topic exchange, routing key is the event type
	SaleQueue string        // queue consuming sale events; empty disables the consumer
	DedupTTL  time.Duration // how long a delivered event ID is remembered
}

// ReportConfig holds discrepancy report settings. An empty bucket disables archiving.
type ReportConfig struct {
	ConflictLimit  int
	JobLimit       int
	Interval       time.Duration // zero disables the scheduled export
	MinDiscrepancy int
	S3Bucket       string
	S3Region       string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with SYNC_ prefix (e.g., SYNC_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("SYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
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
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsEnabled:    v.GetBool("telemetry.metrics_enabled"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:      v.GetBool("telemetry.db_log_full_sql"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
		},
		Sync: SyncConfig{
			Workers:              v.GetInt("sync.workers"),
			QueueSize:            v.GetInt("sync.queue_size"),
			MaxBatchSize:         v.GetInt("sync.max_batch_size"),
			MaxRetries:           v.GetInt("sync.max_retries"),
			JobTimeout:           v.GetDuration("sync.job_timeout"),
			ItemTimeout:          v.GetDuration("sync.item_timeout"),
			WaitTimeout:          v.GetDuration("sync.wait_timeout"),
			PollInterval:         v.GetDuration("sync.poll_interval"),
			HistorySize:          v.GetInt("sync.history_size"),
			RetryBase:            v.GetDuration("sync.retry_base"),
			RetryMultiplier:      v.GetFloat64("sync.retry_multiplier"),
			RetryCap:             v.GetDuration("sync.retry_cap"),
			CallTimeout:          v.GetDuration("sync.call_timeout"),
			CallRetries:          v.GetInt("sync.call_retries"),
			CallRetryInterval:    v.GetDuration("sync.call_retry_interval"),
			CallRetryMaxInterval: v.GetDuration("sync.call_retry_max_interval"),
			CriticalThreshold:    v.GetInt("sync.critical_threshold"),
			BidirectionalPolicy:  v.GetString("sync.bidirectional_policy"),
			LockTTL:              v.GetDuration("sync.lock_ttl"),
			InventoryInterval:    v.GetDuration("sync.inventory_interval"),
			PriceInterval:        v.GetDuration("sync.price_interval"),
			RateInterval:         v.GetDuration("sync.rate_interval"),
		},
		Pricing: PricingConfig{
			Rounding:       v.GetString("pricing.rounding"),
			MinPrice:       v.GetString("pricing.min_price"),
			MaxPrice:       v.GetString("pricing.max_price"),
			SanityFloor:    v.GetString("pricing.sanity_floor"),
			SwingThreshold: v.GetString("pricing.swing_threshold"),
			RateDirection:  v.GetString("pricing.rate_direction"),
		},
		ExchangeRate: ExchangeRateConfig{
			CacheTTL:        v.GetDuration("exchange_rate.cache_ttl"),
			ChangeThreshold: v.GetString("exchange_rate.change_threshold"),
			DefaultRate:     v.GetString("exchange_rate.default_rate"),
			MinRate:         v.GetString("exchange_rate.min_rate"),
			MaxRate:         v.GetString("exchange_rate.max_rate"),
			ProviderTimeout: v.GetDuration("exchange_rate.provider_timeout"),
		},
		Platforms: PlatformsConfig{
			A: platformFromViper(v, "platforms.a"),
			B: platformFromViper(v, "platforms.b"),
		},
		Events: EventsConfig{
			AMQPURL:   v.GetString("events.amqp_url"),
			Exchange:  v.GetString("events.exchange"),
			SaleQueue: v.GetString("events.sale_queue"),
			DedupTTL:  v.GetDuration("events.dedup_ttl"),
		},
		Report: ReportConfig{
			ConflictLimit:  v.GetInt("report.conflict_limit"),
			JobLimit:       v.GetInt("report.job_limit"),
			Interval:       v.GetDuration("report.interval"),
			MinDiscrepancy: v.GetInt("report.min_discrepancy"),
			S3Bucket:       v.GetString("report.s3_bucket"),
			S3Region:       v.GetString("report.s3_region"),
			S3Endpoint:     v.GetString("report.s3_endpoint"),
			S3AccessKey:    v.GetString("report.s3_access_key"),
			S3SecretKey:    v.GetString("report.s3_secret_key"),
			S3UsePathStyle: v.GetBool("report.s3_use_path_style"),
		},
	}

	if err := v.UnmarshalKey("pricing.rules", &cfg.Pricing.Rules); err != nil {
		return nil, fmt.Errorf("pricing.rules: %w", err)
	}
	if err := v.UnmarshalKey("exchange_rate.providers", &cfg.ExchangeRate.Providers); err != nil {
		return nil, fmt.Errorf("exchange_rate.providers: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func platformFromViper(v *viper.Viper, prefix string) PlatformConfig {
	return PlatformConfig{
		Name:              v.GetString(prefix + ".name"),
		BaseURL:           v.GetString(prefix + ".base_url"),
		Token:             v.GetString(prefix + ".token"),
		Currency:          v.GetString(prefix + ".currency"),
		RequestsPerSecond: v.GetFloat64(prefix + ".requests_per_second"),
		Burst:             v.GetInt(prefix + ".burst"),
		Timeout:           v.GetDuration(prefix + ".timeout"),
	}
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "channelsync"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
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
		cfg.Database.DBName = "channelsync"
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

	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.App.Name
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 60 * time.Second
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}

	s := &cfg.Sync
	if s.Workers == 0 {
		s.Workers = 5
	}
	if s.QueueSize == 0 {
		s.QueueSize = 100
	}
	if s.MaxBatchSize == 0 {
		s.MaxBatchSize = 1000
	}
	if s.MaxRetries == 0 {
		s.MaxRetries = 3
	}
	if s.JobTimeout == 0 {
		s.JobTimeout = 30 * time.Minute
	}
	if s.ItemTimeout == 0 {
		s.ItemTimeout = 2 * time.Minute
	}
	if s.WaitTimeout == 0 {
		s.WaitTimeout = time.Hour
	}
	if s.PollInterval == 0 {
		s.PollInterval = time.Second
	}
	if s.HistorySize == 0 {
		s.HistorySize = 100
	}
	if s.RetryBase == 0 {
		s.RetryBase = 30 * time.Second
	}
	if s.RetryMultiplier == 0 {
		s.RetryMultiplier = 2
	}
	if s.RetryCap == 0 {
		s.RetryCap = 30 * time.Minute
	}
	if s.CallTimeout == 0 {
		s.CallTimeout = 10 * time.Second
	}
	if s.CallRetries == 0 {
		s.CallRetries = 3
	}
	if s.CallRetryInterval == 0 {
		s.CallRetryInterval = 200 * time.Millisecond
	}
	if s.CallRetryMaxInterval == 0 {
		s.CallRetryMaxInterval = 5 * time.Second
	}
	if s.CriticalThreshold == 0 {
		s.CriticalThreshold = 10
	}
	if s.BidirectionalPolicy == "" {
		s.BidirectionalPolicy = "max"
	}
	if s.LockTTL == 0 {
		s.LockTTL = 30 * time.Second
	}

	p := &cfg.Pricing
	if p.Rounding == "" {
		p.Rounding = string(pricing.RoundingNearest)
	}
	if p.SanityFloor == "" {
		p.SanityFloor = "1"
	}
	if p.SwingThreshold == "" {
		p.SwingThreshold = "0.5"
	}
	if p.RateDirection == "" {
		p.RateDirection = string(pricing.RateDirectionMultiply)
	}

	e := &cfg.ExchangeRate
	if e.CacheTTL == 0 {
		e.CacheTTL = time.Hour
	}
	if e.ChangeThreshold == "" {
		e.ChangeThreshold = "0.001"
	}
	if e.MinRate == "" {
		e.MinRate = "0"
	}
	if e.MaxRate == "" {
		e.MaxRate = "10000"
	}
	if e.ProviderTimeout == 0 {
		e.ProviderTimeout = 10 * time.Second
	}
	if e.DefaultRate == "" {
		pair, err := pricing.NewCurrencyPair(cfg.Platforms.A.Currency, cfg.Platforms.B.Currency)
		if err == nil {
			if rate, ok := pricing.ReferenceRate(pair); ok {
				e.DefaultRate = rate.String()
			}
		}
	}
	for i := range e.Providers {
		if e.Providers[i].Timeout == 0 {
			e.Providers[i].Timeout = e.ProviderTimeout
		}
	}

	for _, pc := range []*PlatformConfig{&cfg.Platforms.A, &cfg.Platforms.B} {
		if pc.RequestsPerSecond == 0 {
			pc.RequestsPerSecond = 5
		}
		if pc.Burst == 0 {
			pc.Burst = 1
		}
		if pc.Timeout == 0 {
			pc.Timeout = 15 * time.Second
		}
	}
	if cfg.Platforms.A.Name == "" {
		cfg.Platforms.A.Name = "platform-a"
	}
	if cfg.Platforms.B.Name == "" {
		cfg.Platforms.B.Name = "platform-b"
	}

	if cfg.Events.DedupTTL == 0 {
		cfg.Events.DedupTTL = 24 * time.Hour
	}
	if cfg.Events.Exchange == "" {
		cfg.Events.Exchange = "channelsync.events"
	}
	if cfg.Report.ConflictLimit == 0 {
		cfg.Report.ConflictLimit = 200
	}
	if cfg.Report.JobLimit == 0 {
		cfg.Report.JobLimit = 20
	}
	if cfg.Report.MinDiscrepancy == 0 {
		cfg.Report.MinDiscrepancy = 1
	}
	if cfg.Report.S3Region == "" {
		cfg.Report.S3Region = "us-east-1"
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

	if c.App.Env == "production" {
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	if err := pricing.ValidateRateDirection(pricing.RateDirection(c.Pricing.RateDirection)); err != nil {
		return fmt.Errorf("pricing.rate_direction %q: %w", c.Pricing.RateDirection, err)
	}
	if !pricing.RoundingStrategy(strings.ToUpper(c.Pricing.Rounding)).IsValid() {
		return fmt.Errorf("pricing.rounding must be up, down or nearest, got %q", c.Pricing.Rounding)
	}
	for key, value := range map[string]string{
		"pricing.min_price":              c.Pricing.MinPrice,
		"pricing.max_price":              c.Pricing.MaxPrice,
		"pricing.sanity_floor":           c.Pricing.SanityFloor,
		"pricing.swing_threshold":        c.Pricing.SwingThreshold,
		"exchange_rate.change_threshold": c.ExchangeRate.ChangeThreshold,
		"exchange_rate.default_rate":     c.ExchangeRate.DefaultRate,
		"exchange_rate.min_rate":         c.ExchangeRate.MinRate,
		"exchange_rate.max_rate":         c.ExchangeRate.MaxRate,
	} {
		if _, err := OptionalDecimal(value); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	for i, rule := range c.Pricing.Rules {
		if rule.Name == "" || rule.Match == "" {
			return fmt.Errorf("pricing.rules[%d]: name and match are required", i)
		}
		if _, err := decimal.NewFromString(rule.MarginRate); err != nil {
			return fmt.Errorf("pricing.rules[%d].margin_rate: %w", i, err)
		}
	}
	for i, p := range c.ExchangeRate.Providers {
		if p.Name == "" || p.URL == "" {
			return fmt.Errorf("exchange_rate.providers[%d]: name and url are required", i)
		}
	}

	if c.Sync.BidirectionalPolicy != "max" && c.Sync.BidirectionalPolicy != "conservative" {
		return fmt.Errorf("sync.bidirectional_policy must be max or conservative, got %q", c.Sync.BidirectionalPolicy)
	}
	if c.Sync.RetryMultiplier < 1 {
		return fmt.Errorf("sync.retry_multiplier must be at least 1")
	}
	if c.Sync.CriticalThreshold < 1 {
		return fmt.Errorf("sync.critical_threshold must be positive")
	}
	if c.Platforms.A.Currency != "" && c.Platforms.A.Currency == c.Platforms.B.Currency {
		return fmt.Errorf("platforms.a.currency and platforms.b.currency must differ")
	}

	return nil
}

// OptionalDecimal parses s, returning nil for an empty string
func OptionalDecimal(s string) (*decimal.Decimal, error) {
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
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
