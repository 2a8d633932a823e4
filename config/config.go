package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	App               AppConfig
	HTTP              ServerConfig
	MySQL             MySQLConfig
	Redis             RedisConfig
	Log               LogConfig
	InternalEndpoints InternalEndpointsConfig
	Stripe            StripeConfig
	Twilio            TwilioConfig
	Collections       CollectionsConfig
	Jobs              JobsConfig
}

type AppConfig struct {
	ServiceName string
}

type ServerConfig struct {
	Host string
	Port string
}

type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

type LogConfig struct {
	Level  string
	Format string
}

type InternalEndpointsConfig struct {
	AuthGRPCAddr string
}

type StripeConfig struct {
	SecretKey                 string
	WebhookSecret             string
	Currency                  string
	SignatureToleranceSeconds int64
	HTTPTimeout               time.Duration
}

type TwilioConfig struct {
	AccountSID  string
	AuthToken   string
	FromNumber  string
	OverrideTo  string
	HTTPTimeout time.Duration
}

type CollectionsConfig struct {
	MinimumLinkAmount    decimal.Decimal
	EligibilityThreshold decimal.Decimal
	ClinicName           string
	SupportPhone         string
	BatchLimit           int
	ProgressTTL          time.Duration
	ProgressFlushEvery   int
	FetchDelay           time.Duration
	RecentPaidLimit      int
}

type JobsConfig struct {
	Workers               int
	GenerateMaxRetries    int
	GenerateTimeout       time.Duration
	BatchSmsMaxRetries    int
	BatchSmsTimeout       time.Duration
	FetchStatusMaxRetries int
	FetchStatusTimeout    time.Duration
	StuckJobMaxAge        time.Duration
	FetchStatusesInterval time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		return nil, errors.New("MYSQL_DSN environment variable is required")
	}

	return &Config{
		App: AppConfig{
			ServiceName: getEnv("APP_SERVICE_NAME", "collections-service"),
		},
		HTTP: ServerConfig{
			Host: getEnv("HTTP_HOST", "0.0.0.0"),
			Port: getEnv("HTTP_PORT", "8080"),
		},
		MySQL: MySQLConfig{
			DSN:             mysqlDSN,
			MaxOpenConns:    getIntEnv("MYSQL_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getIntEnv("MYSQL_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getMinutesEnv("MYSQL_CONN_MAX_LIFETIME_MINUTES", 30*time.Minute),
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", "localhost:6379"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getIntEnv("REDIS_DB", 0),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "collections:"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		InternalEndpoints: InternalEndpointsConfig{
			AuthGRPCAddr: getEnv("AUTH_SERVICE_GRPC_ADDR", "localhost:9090"),
		},
		Stripe: StripeConfig{
			SecretKey:                 getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret:             getEnv("STRIPE_WEBHOOK_SECRET", ""),
			Currency:                  getEnv("STRIPE_CURRENCY", "usd"),
			SignatureToleranceSeconds: int64(getIntEnv("STRIPE_SIGNATURE_TOLERANCE_SECONDS", 300)),
			HTTPTimeout:               getSecondsEnv("STRIPE_HTTP_TIMEOUT_SECONDS", 10*time.Second),
		},
		Twilio: TwilioConfig{
			AccountSID:  getEnv("TWILIO_ACCOUNT_SID", ""),
			AuthToken:   getEnv("TWILIO_AUTH_TOKEN", ""),
			FromNumber:  getEnv("TWILIO_FROM_NUMBER", ""),
			OverrideTo:  getEnv("SMS_OVERRIDE_TO", ""),
			HTTPTimeout: getSecondsEnv("TWILIO_HTTP_TIMEOUT_SECONDS", 10*time.Second),
		},
		Collections: CollectionsConfig{
			MinimumLinkAmount:    getDecimalEnv("COLLECTIONS_MINIMUM_LINK_AMOUNT", decimal.RequireFromString("0.01")),
			EligibilityThreshold: getDecimalEnv("COLLECTIONS_ELIGIBILITY_THRESHOLD", decimal.RequireFromString("0.50")),
			ClinicName:           getEnv("COLLECTIONS_CLINIC_NAME", "your provider"),
			SupportPhone:         getEnv("COLLECTIONS_SUPPORT_PHONE", ""),
			BatchLimit:           getIntEnv("COLLECTIONS_BATCH_LIMIT", 160),
			ProgressTTL:          getMinutesEnv("COLLECTIONS_PROGRESS_TTL_MINUTES", time.Hour),
			ProgressFlushEvery:   getIntEnv("COLLECTIONS_PROGRESS_FLUSH_EVERY", 5),
			FetchDelay:           getMillisecondsEnv("COLLECTIONS_FETCH_DELAY_MS", 100*time.Millisecond),
			RecentPaidLimit:      getIntEnv("COLLECTIONS_RECENT_PAID_LIMIT", 5),
		},
		Jobs: JobsConfig{
			Workers:               getIntEnv("JOBS_WORKERS", 2),
			GenerateMaxRetries:    getIntEnv("JOBS_GENERATE_MAX_RETRIES", 2),
			GenerateTimeout:       getMinutesEnv("JOBS_GENERATE_TIMEOUT_MINUTES", time.Hour),
			BatchSmsMaxRetries:    getIntEnv("JOBS_BATCH_SMS_MAX_RETRIES", 0),
			BatchSmsTimeout:       getMinutesEnv("JOBS_BATCH_SMS_TIMEOUT_MINUTES", 10*time.Minute),
			FetchStatusMaxRetries: getIntEnv("JOBS_FETCH_STATUS_MAX_RETRIES", 0),
			FetchStatusTimeout:    getMinutesEnv("JOBS_FETCH_STATUS_TIMEOUT_MINUTES", 10*time.Minute),
			StuckJobMaxAge:        getMinutesEnv("JOBS_STUCK_MAX_AGE_MINUTES", 90*time.Minute),
			FetchStatusesInterval: getMinutesEnv("JOBS_FETCH_STATUSES_INTERVAL_MINUTES", 30*time.Minute),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getMinutesEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if minutes, err := strconv.Atoi(value); err == nil {
			return time.Duration(minutes) * time.Minute
		}
	}
	return defaultValue
}

func getSecondsEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}

func getMillisecondsEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.Atoi(value); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}

func getDecimalEnv(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
