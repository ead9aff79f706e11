package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the api, worker and watch processes.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Metrics      MetricsConfig
	Auth         AuthConfig
	SLA          SLAConfig
	Queue        QueueConfig
	Notification NotificationConfig
	Timer        TimerConfig
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

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values. Addr may list several
// comma-separated addresses; with MasterName set they are sentinels.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	MasterName  string
	PoolSize    int
	DialTimeout time.Duration
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level   string
	Format  string
	Service string
}

// MetricsConfig configures the worker's side metrics listener.
type MetricsConfig struct {
	Addr string
}

// AuthConfig holds the secret used to verify staff tokens issued by the helpdesk.
type AuthConfig struct {
	JWTSecret       string
	Issuer          string
	TokenTTLMinutes int
}

// SLAConfig drives the pause, business-hours and escalation jobs.
type SLAConfig struct {
	BusinessHoursInterval time.Duration
	EscalationInterval    time.Duration
	DedupWindow           time.Duration
	HalfWarningEnabled    bool
	MaxCASRetries         int
	SweepBatchSize        int
	CalendarFile          string
	Timezone              string
	BusinessStart         string
	BusinessEnd           string
	BusinessDays          []string
	Holidays              []string
}

// QueueConfig drives the notification queue and its dispatcher.
type QueueConfig struct {
	Backend           string
	MaxAttempts       int
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	ClaimBatch        int
	PollInterval      time.Duration
	ProcessingTimeout time.Duration
	Concurrency       int
	KeyPrefix         string
}

// NotificationConfig holds the delivery transport endpoint.
type NotificationConfig struct {
	WebhookURL string
	Timeout    time.Duration
}

// TimerConfig drives the client countdown manager.
type TimerConfig struct {
	APIBaseURL     string
	APIToken       string
	TickInterval   time.Duration
	ResyncInterval time.Duration
	RedisChannel   string
}

const (
	QueueBackendRedis    = "redis"
	QueueBackendPostgres = "postgres"
)

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

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
			Name:                  getEnv("APP_NAME", "sla-engine"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:        getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:    os.Getenv("REDIS_PASSWORD"),
			DB:          redisDB,
			MasterName:  os.Getenv("REDIS_MASTER_NAME"),
			PoolSize:    getEnvAsInt("REDIS_POOL_SIZE", 0),
			DialTimeout: getEnvAsDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		},
		Logger: LoggerConfig{
			Level:   getEnv("LOG_LEVEL", "info"),
			Format:  strings.ToLower(getEnv("LOG_FORMAT", "json")),
			Service: getEnv("APP_NAME", "sla-engine"),
		},
		Metrics: MetricsConfig{
			Addr: getEnv("METRICS_ADDR", ":9090"),
		},
		Auth: AuthConfig{
			JWTSecret:       getEnv("AUTH_JWT_SECRET", "dev-secret"),
			Issuer:          os.Getenv("AUTH_JWT_ISSUER"),
			TokenTTLMinutes: getEnvAsInt("AUTH_TOKEN_TTL_MINUTES", 60),
		},
		SLA: SLAConfig{
			BusinessHoursInterval: getEnvAsDuration("SLA_BUSINESS_HOURS_INTERVAL", 2*time.Minute),
			EscalationInterval:    getEnvAsDuration("SLA_ESCALATION_INTERVAL", time.Minute),
			DedupWindow:           getEnvAsDuration("SLA_DEDUP_WINDOW", 2*time.Hour),
			HalfWarningEnabled:    getEnvAsBool("SLA_HALF_WARNING_ENABLED", true),
			MaxCASRetries:         getEnvAsInt("SLA_MAX_CAS_RETRIES", 5),
			SweepBatchSize:        getEnvAsInt("SLA_SWEEP_BATCH_SIZE", 500),
			CalendarFile:          os.Getenv("SLA_CALENDAR_FILE"),
			Timezone:              getEnv("SLA_TIMEZONE", "America/Sao_Paulo"),
			BusinessStart:         getEnv("SLA_BUSINESS_START", "08:00"),
			BusinessEnd:           getEnv("SLA_BUSINESS_END", "18:00"),
			BusinessDays:          getEnvAsList("SLA_BUSINESS_DAYS", []string{"mon", "tue", "wed", "thu", "fri"}),
			Holidays:              getEnvAsList("SLA_HOLIDAYS", nil),
		},
		Queue: QueueConfig{
			Backend:           strings.ToLower(getEnv("QUEUE_BACKEND", QueueBackendRedis)),
			MaxAttempts:       getEnvAsInt("QUEUE_MAX_ATTEMPTS", 3),
			BackoffInitial:    getEnvAsDuration("QUEUE_BACKOFF_INITIAL", 30*time.Second),
			BackoffMax:        getEnvAsDuration("QUEUE_BACKOFF_MAX", 10*time.Minute),
			ClaimBatch:        getEnvAsInt("QUEUE_CLAIM_BATCH", 20),
			PollInterval:      getEnvAsDuration("QUEUE_POLL_INTERVAL", 5*time.Second),
			ProcessingTimeout: getEnvAsDuration("QUEUE_PROCESSING_TIMEOUT", 5*time.Minute),
			Concurrency:       getEnvAsInt("QUEUE_CONCURRENCY", 4),
			KeyPrefix:         getEnv("QUEUE_KEY_PREFIX", "{slaq}"),
		},
		Notification: NotificationConfig{
			WebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
			Timeout:    getEnvAsDuration("NOTIFY_TIMEOUT", 10*time.Second),
		},
		Timer: TimerConfig{
			APIBaseURL:     getEnv("TIMER_API_URL", "http://127.0.0.1:8080"),
			APIToken:       os.Getenv("TIMER_API_TOKEN"),
			TickInterval:   getEnvAsDuration("TIMER_TICK_INTERVAL", time.Second),
			ResyncInterval: getEnvAsDuration("TIMER_RESYNC_INTERVAL", 10*time.Second),
			RedisChannel:   getEnv("TIMER_REDIS_CHANNEL", "sla:updates"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Queue.Backend {
	case QueueBackendRedis, QueueBackendPostgres:
	default:
		return fmt.Errorf("invalid QUEUE_BACKEND %q", c.Queue.Backend)
	}
	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("QUEUE_MAX_ATTEMPTS must be at least 1")
	}
	if c.SLA.DedupWindow < 0 {
		return fmt.Errorf("SLA_DEDUP_WINDOW must not be negative")
	}
	if c.Logger.Format != "json" && c.Logger.Format != "console" {
		return fmt.Errorf("invalid LOG_FORMAT %q", c.Logger.Format)
	}
	if c.Timer.TickInterval <= 0 || c.Timer.ResyncInterval <= 0 {
		return fmt.Errorf("timer intervals must be positive")
	}
	return nil
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

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
