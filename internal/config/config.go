package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	StoreBackendMemory   = "memory"
	StoreBackendPostgres = "postgres"
	StoreBackendRedis    = "redis"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Store        StoreConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Session      SessionConfig
	RateLimit    RateLimitConfig
	Duplicate    DuplicateConfig
	Tracker      TrackerConfig
	Notification NotificationConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// StoreConfig selects where sessions and rate counters live.
type StoreConfig struct {
	Backend string
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines authentication parameters for the ingress.
type AuthConfig struct {
	JWTSecret    string
	AdminKeyHash string
}

// SessionConfig controls conversational session lifetime.
type SessionConfig struct {
	TimeoutMinutes       int
	SweepIntervalMinutes int
}

// RateLimitConfig bounds ticket creation per user per day.
type RateLimitConfig struct {
	MaxPerDay    int
	ResetHourUTC int
}

// DuplicateConfig sets the duplicate-title lookback window.
type DuplicateConfig struct {
	WindowDays int
}

// TrackerConfig points at the external issue tracker.
type TrackerConfig struct {
	APIURL         string
	APIKey         string
	TeamID         string
	CatalogPath    string
	RefreshMinutes int
	TimeoutSeconds int
}

// NotificationConfig holds reviewer and event delivery endpoints.
type NotificationConfig struct {
	ReviewerChannel string
	WebhookURL      string
	AMQPURL         string
	AMQPExchange    string
}

// Load reads configuration from environment variables, applying defaults where possible.
// envFiles are passed to godotenv; with none, ".env" is tried.
func Load(envFiles ...string) (*Config, error) {
	_ = godotenv.Load(envFiles...)

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "ticket-intake"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Store: StoreConfig{
			Backend: strings.ToLower(getEnv("STORE_BACKEND", StoreBackendPostgres)),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:    getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AdminKeyHash: os.Getenv("AUTH_ADMIN_KEY_HASH"),
		},
		Session: SessionConfig{
			TimeoutMinutes:       getEnvAsInt("SESSION_TIMEOUT_MINUTES", 30),
			SweepIntervalMinutes: getEnvAsInt("SESSION_SWEEP_INTERVAL_MINUTES", 5),
		},
		RateLimit: RateLimitConfig{
			MaxPerDay:    getEnvAsInt("RATE_LIMIT_MAX_PER_DAY", 5),
			ResetHourUTC: getEnvAsInt("RATE_LIMIT_RESET_HOUR_UTC", 0),
		},
		Duplicate: DuplicateConfig{
			WindowDays: getEnvAsInt("DUPLICATE_WINDOW_DAYS", 30),
		},
		Tracker: TrackerConfig{
			APIURL:         getEnv("TRACKER_API_URL", "https://api.linear.app/graphql"),
			APIKey:         os.Getenv("TRACKER_API_KEY"),
			TeamID:         os.Getenv("TRACKER_TEAM_ID"),
			CatalogPath:    getEnv("TRACKER_CATALOG_PATH", "catalog.yaml"),
			RefreshMinutes: getEnvAsInt("TRACKER_CATALOG_REFRESH_MINUTES", 60),
			TimeoutSeconds: getEnvAsInt("TRACKER_TIMEOUT_SECONDS", 15),
		},
		Notification: NotificationConfig{
			ReviewerChannel: os.Getenv("NOTIFY_REVIEWER_CHANNEL"),
			WebhookURL:      getEnv("NOTIFY_WEBHOOK_URL", ""),
			AMQPURL:         os.Getenv("NOTIFY_AMQP_URL"),
			AMQPExchange:    getEnv("NOTIFY_AMQP_EXCHANGE", "ticket-intake.events"),
		},
	}

	switch cfg.Store.Backend {
	case StoreBackendMemory, StoreBackendPostgres, StoreBackendRedis:
	default:
		return nil, fmt.Errorf("invalid STORE_BACKEND %q", cfg.Store.Backend)
	}
	// ticket records back the duplicate window, so they must outlive a restart
	if cfg.Store.Backend != StoreBackendMemory && cfg.Postgres.DSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required for ticket records with STORE_BACKEND=%s", cfg.Store.Backend)
	}
	if cfg.RateLimit.ResetHourUTC < 0 || cfg.RateLimit.ResetHourUTC > 23 {
		return nil, fmt.Errorf("invalid RATE_LIMIT_RESET_HOUR_UTC: %d", cfg.RateLimit.ResetHourUTC)
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// Timeout returns the idle duration after which a session expires.
func (s SessionConfig) Timeout() time.Duration {
	if s.TimeoutMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(s.TimeoutMinutes) * time.Minute
}

// SweepInterval returns the period of the expired-session sweep.
func (s SessionConfig) SweepInterval() time.Duration {
	if s.SweepIntervalMinutes <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(s.SweepIntervalMinutes) * time.Minute
}

// Window returns the duplicate lookback as a duration.
func (d DuplicateConfig) Window() time.Duration {
	days := d.WindowDays
	if days <= 0 {
		days = 30
	}
	return time.Duration(days) * 24 * time.Hour
}

// RefreshInterval returns how often the tracker catalog is reloaded; zero disables it.
func (t TrackerConfig) RefreshInterval() time.Duration {
	if t.RefreshMinutes <= 0 {
		return 0
	}
	return time.Duration(t.RefreshMinutes) * time.Minute
}

// Timeout returns the HTTP client timeout for tracker calls.
func (t TrackerConfig) Timeout() time.Duration {
	if t.TimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(t.TimeoutSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
