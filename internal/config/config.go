package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

type Config struct {
	Environment  string
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Admin        AdminConfig
	Webhook      WebhookConfig
	Notification NotificationConfig
	Archive      ArchiveConfig
	Presence     PresenceConfig
	RateLimit    RateLimitConfig
	S3           S3Config
	CORS         CORSConfig
	Log          LogConfig
}

type ServerConfig struct {
	Port         int
	Host         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	DSN             string
	MaxConnections  int
	MaxIdleTime     time.Duration
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig: токены выпускает хост-приложение, мы их только проверяем.
type JWTConfig struct {
	Secret string
	Issuer string
}

type AdminConfig struct {
	APIToken string
}

type WebhookConfig struct {
	URL         string
	Secret      string
	MaxRetries  int
	RetryDelay  time.Duration
	Timeout     time.Duration
	Concurrency int
}

func (c WebhookConfig) Enabled() bool {
	return c.URL != ""
}

type NotificationConfig struct {
	Delay time.Duration
}

type ArchiveConfig struct {
	Cron  string
	After time.Duration
}

type PresenceConfig struct {
	TTL               time.Duration
	SweepInterval     time.Duration
	HeartbeatInterval time.Duration
	SendBuffer        int
}

type RateLimitConfig struct {
	Messages int
	Window   time.Duration
}

type S3Config struct {
	Endpoint   string
	Region     string
	Bucket     string
	AccessKey  string
	SecretKey  string
	PresignTTL time.Duration
}

func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	// Загрузка .env файла (если существует)
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:         getEnvAsInt("SERVER_PORT", 8080),
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:  getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
		},
		Database: DatabaseConfig{
			DSN:             getEnv("DATABASE_DSN", ""),
			MaxConnections:  getEnvAsInt("DATABASE_MAX_CONNECTIONS", 25),
			MaxIdleTime:     getEnvAsDuration("DATABASE_MAX_IDLE_TIME", 5*time.Minute),
			ConnMaxLifetime: getEnvAsDuration("DATABASE_CONN_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
			Issuer: getEnv("JWT_ISSUER", ""),
		},
		Admin: AdminConfig{
			APIToken: getEnv("ADMIN_API_TOKEN", ""),
		},
		Webhook: WebhookConfig{
			URL:         getEnv("WEBHOOK_URL", ""),
			Secret:      getEnv("WEBHOOK_SECRET", ""),
			MaxRetries:  getEnvAsInt("WEBHOOK_MAX_RETRIES", 3),
			RetryDelay:  getEnvAsDuration("WEBHOOK_RETRY_DELAY", 1*time.Second),
			Timeout:     getEnvAsDuration("WEBHOOK_TIMEOUT", 10*time.Second),
			Concurrency: getEnvAsInt("WEBHOOK_CONCURRENCY", 16),
		},
		Notification: NotificationConfig{
			Delay: getEnvAsDuration("NOTIFICATION_DELAY", 30*time.Second),
		},
		Archive: ArchiveConfig{
			Cron:  getEnv("ARCHIVE_CRON", "0 */5 * * * *"),
			After: getEnvAsDuration("ARCHIVE_AFTER", 72*time.Hour),
		},
		Presence: PresenceConfig{
			TTL:               getEnvAsDuration("PRESENCE_TTL", 60*time.Second),
			SweepInterval:     getEnvAsDuration("PRESENCE_SWEEP_INTERVAL", 10*time.Second),
			HeartbeatInterval: getEnvAsDuration("HEARTBEAT_INTERVAL", 25*time.Second),
			SendBuffer:        getEnvAsInt("WS_SEND_BUFFER", 64),
		},
		RateLimit: RateLimitConfig{
			Messages: getEnvAsInt("RATE_LIMIT_MESSAGES", 60),
			Window:   getEnvAsDuration("RATE_LIMIT_WINDOW", 1*time.Minute),
		},
		S3: S3Config{
			Endpoint:   getEnv("S3_ENDPOINT", ""),
			Region:     getEnv("S3_REGION", "us-east-1"),
			Bucket:     getEnv("S3_BUCKET", ""),
			AccessKey:  getEnv("S3_ACCESS_KEY", ""),
			SecretKey:  getEnv("S3_SECRET_KEY", ""),
			PresignTTL: getEnvAsDuration("S3_PRESIGN_TTL", 1*time.Hour),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN must be set")
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT secret must be set")
	}
	if c.Webhook.Enabled() && c.Webhook.Secret == "" {
		return fmt.Errorf("webhook secret must be set when webhook URL is configured")
	}
	if c.Webhook.MaxRetries < 0 {
		return fmt.Errorf("webhook max retries must not be negative")
	}
	if c.Webhook.Concurrency <= 0 {
		return fmt.Errorf("webhook concurrency must be positive")
	}
	if c.Presence.TTL <= c.Presence.HeartbeatInterval {
		return fmt.Errorf("presence TTL must exceed heartbeat interval")
	}
	if c.Presence.SendBuffer <= 0 {
		return fmt.Errorf("websocket send buffer must be positive")
	}
	if _, err := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor).Parse(c.Archive.Cron); err != nil {
		return fmt.Errorf("invalid archive cron %q: %w", c.Archive.Cron, err)
	}
	if c.Archive.After <= 0 {
		return fmt.Errorf("archive interval must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
