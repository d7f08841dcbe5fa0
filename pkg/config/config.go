package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server struct {
		Port    string
		Env     string
		Timeout time.Duration
		BaseURL string
	}

	// Database configuration
	Database struct {
		Host     string
		Port     string
		User     string
		Password string
		Name     string
		SSLMode  string
		MaxConns int
		Timeout  time.Duration
	}

	// Redis configuration (rate windows + task queue backing store)
	Redis struct {
		Addr     string
		Password string
		DB       int
	}

	// JWT configuration
	JWT struct {
		Secret      string
		ExpiryHours time.Duration
	}

	// Twilio provider configuration
	Twilio struct {
		AccountSID string
		AuthToken  string
		BaseURL    string
		Timeout    time.Duration
	}

	// Messaging configuration
	Messaging struct {
		// RateLimitPerMinute is the per-tenant send ceiling per minute bucket
		RateLimitPerMinute int
		// SessionWindowHours is the WhatsApp free-text session window
		SessionWindowHours int
		// ReminderCronSpec drives the scheduled reminder batch
		ReminderCronSpec string
		// InterSendDelay is the pause between consecutive reminder sends
		InterSendDelay time.Duration
		// SendTimeout bounds each external provider call
		SendTimeout time.Duration
	}

	// Queue settings
	Queue struct {
		Concurrency int
		MaxRetry    int
	}

	// Security configuration (edge limiter in front of the domain rate gate)
	Security struct {
		RateLimit      float64
		RateLimitBurst int
		TrustedProxies []string
	}

	// Logging configuration
	Logging struct {
		Level  string
		Format string
	}
}

var (
	instance *Config
	once     sync.Once
)

// New creates a new Config instance with values from environment variables.
// Uses singleton pattern to ensure only one instance exists.
func New() *Config {
	once.Do(func() {
		// Load .env file if exists
		godotenv.Load()

		instance = &Config{}

		// Server config
		instance.Server.Port = getEnvString("PORT", "8080")
		instance.Server.Env = getEnvString("APP_ENV", "development")
		instance.Server.Timeout = getEnvDuration("SERVER_TIMEOUT", 30*time.Second)
		instance.Server.BaseURL = getEnvString("BASE_URL", "http://localhost:"+instance.Server.Port)

		// Database config
		instance.Database.Host = getEnvString("DB_HOST", "localhost")
		instance.Database.Port = getEnvString("DB_PORT", "5432")
		instance.Database.User = getEnvString("DB_USER", "postgres")
		instance.Database.Password = getEnvString("DB_PASSWORD", "postgres")
		instance.Database.Name = getEnvString("DB_NAME", "crewtext")
		instance.Database.SSLMode = getEnvString("DB_SSL_MODE", "disable")
		instance.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 20)
		instance.Database.Timeout = getEnvDuration("DB_TIMEOUT", 5*time.Second)

		// Redis config
		instance.Redis.Addr = getEnvString("REDIS_URL", "localhost:6379")
		instance.Redis.Password = getEnvString("REDIS_PASSWORD", "")
		instance.Redis.DB = getEnvInt("REDIS_DB", 0)

		// JWT config
		instance.JWT.Secret = getEnvString("JWT_SECRET", "default-jwt-secret-do-not-use-in-production")
		instance.JWT.ExpiryHours = getEnvDuration("JWT_EXPIRY", 24*time.Hour)

		// Twilio config
		instance.Twilio.AccountSID = getEnvString("TWILIO_ACCOUNT_SID", "")
		instance.Twilio.AuthToken = getEnvString("TWILIO_AUTH_TOKEN", "")
		instance.Twilio.BaseURL = getEnvString("TWILIO_BASE_URL", "https://api.twilio.com")
		instance.Twilio.Timeout = getEnvDuration("TWILIO_TIMEOUT", 15*time.Second)

		// Messaging config
		instance.Messaging.RateLimitPerMinute = getEnvInt("SEND_RATE_LIMIT_PER_MINUTE", 60)
		instance.Messaging.SessionWindowHours = getEnvInt("SESSION_WINDOW_HOURS", 24)
		instance.Messaging.ReminderCronSpec = getEnvString("REMINDER_CRON_SPEC", "0 * * * *")
		instance.Messaging.InterSendDelay = getEnvDuration("INTER_SEND_DELAY", 200*time.Millisecond)
		instance.Messaging.SendTimeout = getEnvDuration("SEND_TIMEOUT", 15*time.Second)

		// Queue config
		instance.Queue.Concurrency = getEnvInt("QUEUE_CONCURRENCY", 10)
		instance.Queue.MaxRetry = getEnvInt("QUEUE_MAX_RETRY", 5)

		// Security config
		instance.Security.RateLimit = float64(getEnvInt("RATE_LIMIT", 20))
		instance.Security.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", 40)
		instance.Security.TrustedProxies = getEnvStringSlice("TRUSTED_PROXIES", []string{"127.0.0.1"})

		// Logging config
		instance.Logging.Level = getEnvString("LOG_LEVEL", "info")
		instance.Logging.Format = getEnvString("LOG_FORMAT", "json")
	})

	return instance
}

// Get returns the singleton config instance, creating it if needed
func Get() *Config {
	if instance == nil {
		return New()
	}
	return instance
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
