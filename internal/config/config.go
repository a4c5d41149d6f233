package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Kafka        KafkaConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Notification NotificationConfig
	Engine       EngineConfig
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

// PostgresConfig holds DB connection values. An empty DSN selects the in-memory store.
type PostgresConfig struct {
	DSN               string
	ApplicationName   string
	MaxConns          int32
	MinConns          int32
	RunMigrations     bool
	ConnMaxIdleSec    int32
	ConnMaxLifeSec    int32
	HealthCheckPeriod time.Duration
	ConnectTimeout    time.Duration
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// KafkaConfig configures the SLA notification publisher. No brokers disables publishing.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
	// Encoding is "json" or "console".
	Encoding    string
	Development bool
	Service     string
}

// AuthConfig defines token verification parameters.
type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

// NotificationConfig throttles SLA notifications per tenant.
type NotificationConfig struct {
	RatePerSecond float64
	Burst         int
	QueueSize     int
}

// EngineConfig tunes the routing and SLA engine.
type EngineConfig struct {
	SweepInterval       time.Duration
	SweepTenantTimeout  time.Duration
	SweepConcurrency    int
	SweepBatchSize      int
	SweepLeaseTTL       time.Duration
	ConfigCacheTTL      time.Duration
	SkillsCacheTTL      time.Duration
	CacheSize           int
	RetryInterval       time.Duration
	RetryMaxAttempts    int
	RetryBufferSize     int
	DefaultCalendarFile string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	rate, err := strconv.ParseFloat(getEnv("NOTIFY_RATE_PER_SECOND", "5"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid NOTIFY_RATE_PER_SECOND: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "routing-engine"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:               os.Getenv("POSTGRES_DSN"),
			ApplicationName:   getEnv("POSTGRES_APPLICATION_NAME", getEnv("APP_NAME", "routing-engine")),
			MaxConns:          maxConns,
			MinConns:          minConns,
			RunMigrations:     runMigrations,
			ConnMaxIdleSec:    connMaxIdle,
			ConnMaxLifeSec:    connMaxLife,
			HealthCheckPeriod: getEnvAsDuration("POSTGRES_HEALTH_CHECK_PERIOD", 30*time.Second),
			ConnectTimeout:    getEnvAsDuration("POSTGRES_CONNECT_TIMEOUT", 5*time.Second),
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", true),
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Kafka: KafkaConfig{
			Brokers: getEnvAsList("KAFKA_BROKERS"),
			Topic:   getEnv("KAFKA_SLA_TOPIC", "sla.notifications"),
		},
		Logger: LoggerConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Encoding:    getEnv("LOG_ENCODING", "json"),
			Development: getEnv("APP_ENV", "development") != "production",
			Service:     getEnv("APP_NAME", "routing-engine"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("AUTH_JWT_SECRET", "dev-secret"),
			Issuer:    getEnv("AUTH_JWT_ISSUER", ""),
		},
		Notification: NotificationConfig{
			RatePerSecond: rate,
			Burst:         getEnvAsInt("NOTIFY_BURST", 20),
			QueueSize:     getEnvAsInt("NOTIFY_QUEUE_SIZE", 256),
		},
		Engine: EngineConfig{
			SweepInterval:       getEnvAsDuration("ENGINE_SWEEP_INTERVAL", 2*time.Minute),
			SweepTenantTimeout:  getEnvAsDuration("ENGINE_SWEEP_TENANT_TIMEOUT", 30*time.Second),
			SweepConcurrency:    getEnvAsInt("ENGINE_SWEEP_CONCURRENCY", 4),
			SweepBatchSize:      getEnvAsInt("ENGINE_SWEEP_BATCH_SIZE", 500),
			SweepLeaseTTL:       getEnvAsDuration("ENGINE_SWEEP_LEASE_TTL", 90*time.Second),
			ConfigCacheTTL:      getEnvAsDuration("ENGINE_CONFIG_CACHE_TTL", 5*time.Minute),
			SkillsCacheTTL:      getEnvAsDuration("ENGINE_SKILLS_CACHE_TTL", 10*time.Minute),
			CacheSize:           getEnvAsInt("ENGINE_CACHE_SIZE", 1024),
			RetryInterval:       getEnvAsDuration("ENGINE_RETRY_INTERVAL", 15*time.Second),
			RetryMaxAttempts:    getEnvAsInt("ENGINE_RETRY_MAX_ATTEMPTS", 5),
			RetryBufferSize:     getEnvAsInt("ENGINE_RETRY_BUFFER_SIZE", 1024),
			DefaultCalendarFile: os.Getenv("ENGINE_DEFAULT_CALENDAR_FILE"),
		},
	}

	if cfg.Engine.SweepConcurrency <= 0 {
		return nil, fmt.Errorf("invalid ENGINE_SWEEP_CONCURRENCY: %d", cfg.Engine.SweepConcurrency)
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
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvAsList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
