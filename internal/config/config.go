package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Drafts    DraftsConfig    `mapstructure:"drafts"`
	Sync      SyncConfig      `mapstructure:"sync"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	HealthPort     int           `mapstructure:"health_port"`
	// SyncTimeout replaces RequestTimeout on the draft sync endpoint.
	SyncTimeout time.Duration `mapstructure:"sync_timeout"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`

	// StatementTimeout bounds a single attempt, not the whole retry sequence.
	StatementTimeout     time.Duration `mapstructure:"statement_timeout"`
	RetryAttempts        int           `mapstructure:"retry_attempts"`
	RetryInitialInterval time.Duration `mapstructure:"retry_initial_interval"`
	RetryMaxInterval     time.Duration `mapstructure:"retry_max_interval"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

type StorageConfig struct {
	Endpoint      string        `mapstructure:"endpoint"`
	Region        string        `mapstructure:"region"`
	Bucket        string        `mapstructure:"bucket"`
	AccessKey     string        `mapstructure:"access_key"`
	SecretKey     string        `mapstructure:"secret_key"`
	UploadTimeout time.Duration `mapstructure:"upload_timeout"`
	MaxDimension  int           `mapstructure:"max_dimension"`
	JPEGQuality   int           `mapstructure:"jpeg_quality"`
	// Breaker settings for the uploader.
	BreakerFailures int           `mapstructure:"breaker_failures"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
}

// DraftsConfig selects where draft queues are persisted: "redis" or "sqlite".
type DraftsConfig struct {
	Backend    string `mapstructure:"backend"`
	SQLitePath string `mapstructure:"sqlite_path"`
	KeyPrefix  string `mapstructure:"key_prefix"`
}

type SyncConfig struct {
	DraftTimeout  time.Duration `mapstructure:"draft_timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	PingTimeout   time.Duration `mapstructure:"ping_timeout"`
	EventsChannel string        `mapstructure:"events_channel"`
	PublishEvents bool          `mapstructure:"publish_events"`
	// SubmitBudget caps a direct submission attempt; past it the form is drafted.
	SubmitBudget      time.Duration `mapstructure:"submit_budget"`
	DraftWriteTimeout time.Duration `mapstructure:"draft_write_timeout"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type CatalogConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	// ChangesChannel carries reference-data change notices from the back office.
	ChangesChannel string `mapstructure:"changes_channel"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type MetricsConfig struct {
	Namespace string `mapstructure:"namespace"`
}

// secrets are read from FIELDSYNC_* variables and win over the file.
type secrets struct {
	DBPassword   string `envconfig:"DB_PASSWORD"`
	JWTSecret    string `envconfig:"JWT_SECRET"`
	SpacesKey    string `envconfig:"SPACES_KEY"`
	SpacesSecret string `envconfig:"SPACES_SECRET"`
	RedisURL     string `envconfig:"REDIS_URL"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "6m")
	v.SetDefault("server.sync_timeout", "5m")
	v.SetDefault("server.health_port", 8081)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.name", "fieldsync")
	v.SetDefault("database.sslmode", "require")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.connect_timeout", "5s")
	v.SetDefault("database.statement_timeout", "15s")
	v.SetDefault("database.retry_attempts", 5)
	v.SetDefault("database.retry_initial_interval", "1s")
	v.SetDefault("database.retry_max_interval", "10s")

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.retry_backoff", "100ms")

	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.upload_timeout", "30s")
	v.SetDefault("storage.max_dimension", 1024)
	v.SetDefault("storage.jpeg_quality", 85)
	v.SetDefault("storage.breaker_failures", 5)
	v.SetDefault("storage.breaker_cooldown", "30s")

	v.SetDefault("drafts.backend", "redis")
	v.SetDefault("drafts.sqlite_path", "drafts.db")
	v.SetDefault("drafts.key_prefix", "drafts")

	v.SetDefault("sync.draft_timeout", "2m")
	v.SetDefault("sync.sweep_interval", "1m")
	v.SetDefault("sync.ping_timeout", "5s")
	v.SetDefault("sync.events_channel", "fieldsync.events")
	v.SetDefault("sync.publish_events", true)
	v.SetDefault("sync.submit_budget", "45s")
	v.SetDefault("sync.draft_write_timeout", "10s")

	v.SetDefault("jwt.issuer", "fieldsync")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_second", 20)
	v.SetDefault("rate_limit.burst", 40)

	v.SetDefault("catalog.cache_ttl", "5m")
	v.SetDefault("catalog.changes_channel", "fieldsync.catalog")

	v.SetDefault("logging.level", "info")
	v.SetDefault("metrics.namespace", "fieldsync")
}

// LoadConfig reads config.yml from the working directory or ./config.
func LoadConfig() (*Config, error) {
	return load("")
}

// LoadFile reads the given YAML file instead of searching for one.
func LoadFile(path string) (*Config, error) {
	return load(path)
}

func load(path string) (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("fieldsync")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	var s secrets
	if err := envconfig.Process("fieldsync", &s); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	s.apply(&config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (s secrets) apply(c *Config) {
	if s.DBPassword != "" {
		c.Database.Password = s.DBPassword
	}
	if s.JWTSecret != "" {
		c.JWT.Secret = s.JWTSecret
	}
	if s.SpacesKey != "" {
		c.Storage.AccessKey = s.SpacesKey
	}
	if s.SpacesSecret != "" {
		c.Storage.SecretKey = s.SpacesSecret
	}
	if s.RedisURL != "" {
		c.Redis.URL = s.RedisURL
	}
}

func (c *Config) Validate() error {
	var problems []string
	if c.Database.MaxOpenConns <= 0 {
		problems = append(problems, "database.max_open_conns must be positive")
	}
	if c.Database.RetryAttempts <= 0 {
		problems = append(problems, "database.retry_attempts must be positive")
	}
	if c.Database.RetryMaxInterval < c.Database.RetryInitialInterval {
		problems = append(problems, "database.retry_max_interval must not be below retry_initial_interval")
	}
	switch c.Drafts.Backend {
	case "redis", "sqlite":
	default:
		problems = append(problems, fmt.Sprintf("drafts.backend %q is not one of redis, sqlite", c.Drafts.Backend))
	}
	if c.Sync.SubmitBudget > 0 && c.Server.RequestTimeout > 0 && c.Sync.SubmitBudget >= c.Server.RequestTimeout {
		problems = append(problems, "sync.submit_budget must be below server.request_timeout")
	}
	if c.Server.SyncTimeout > 0 && c.Server.SyncTimeout < c.Sync.DraftTimeout {
		problems = append(problems, "server.sync_timeout must not be below sync.draft_timeout")
	}
	if c.Server.WriteTimeout > 0 && (c.Server.WriteTimeout <= c.Server.RequestTimeout || c.Server.WriteTimeout <= c.Server.SyncTimeout) {
		problems = append(problems, "server.write_timeout must exceed request_timeout and sync_timeout")
	}
	if c.Storage.JPEGQuality < 1 || c.Storage.JPEGQuality > 100 {
		problems = append(problems, "storage.jpeg_quality must be within 1..100")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
