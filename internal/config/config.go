package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
)

// Config holds the application configuration
type Config struct {
	// Server
	Port        string
	APIPrefix   string
	CORSOrigins []string
	LogLevel    string
	Development bool

	// Relational store
	UseMockDB    bool
	DBDriver     string // "postgres" (lib/pq) or "pgx"
	DatabaseURL  string
	MaxOpenConns int
	AutoMigrate  bool

	// ClickHouse circulation journal (optional)
	JournalEnabled     bool
	ClickHouseHost     string
	ClickHousePort     int
	ClickHouseDatabase string
	ClickHouseUser     string
	ClickHousePassword string
	ClickHouseUseTLS   bool

	// Tokens
	JWTSecret  string
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Outgoing mail; no SMTP_HOST means messages are only logged
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	FromEmail    string

	// Telegram staff channel (optional)
	TelegramToken  string
	TelegramChatID int64

	// RabbitMQ notification queue; empty URL means an in-process queue
	RabbitMQURL      string
	RabbitMQExchange string
	RabbitMQQueue    string
	QueueSize        int

	// Job schedules; an empty value disables the job
	OverdueCron  string
	DueTodayCron string
	ExpiryCron   string

	// Circulation
	MediaRoot  string
	FinePerDay decimal.Decimal
	ReturnURL  string

	// Login throttling; zero rate disables it
	LoginRatePerMinute int
	LoginBurst         int
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	raw := getenv(key, "")
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := getenv(key, "")
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}

func getBool(key string) bool {
	return strings.EqualFold(getenv(key, ""), "true")
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	config := &Config{}
	var err error

	// Server
	config.Port = getenv("PORT", "8080")
	config.APIPrefix = getenv("API_PREFIX", "/api")
	config.CORSOrigins = splitList(getenv("CORS_ORIGINS", "http://localhost:3000"))
	config.LogLevel = strings.ToLower(getenv("LOG_LEVEL", "info"))
	switch config.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid LOG_LEVEL: %s", config.LogLevel)
	}
	config.Development = getenv("APP_ENV", "production") == "development"

	// Use Mock DB (default: false)
	config.UseMockDB = getBool("USE_MOCK_DB")

	// PostgreSQL (required if not using mock)
	if !config.UseMockDB {
		config.DatabaseURL = getenv("DATABASE_URL", "")
		if config.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when USE_MOCK_DB is not set")
		}
		config.DBDriver = getenv("DB_DRIVER", "postgres")
		if config.DBDriver != "postgres" && config.DBDriver != "pgx" {
			return nil, fmt.Errorf("invalid DB_DRIVER: %s (expected postgres or pgx)", config.DBDriver)
		}
		if config.MaxOpenConns, err = getInt("DB_MAX_OPEN_CONNS", 10); err != nil {
			return nil, err
		}
		config.AutoMigrate = getBool("AUTO_MIGRATE")
	}

	// ClickHouse configuration (required if the journal is enabled)
	config.JournalEnabled = getBool("JOURNAL_ENABLED")
	if config.JournalEnabled {
		config.ClickHouseHost = getenv("CLICKHOUSE_HOST", "")
		if config.ClickHouseHost == "" {
			return nil, fmt.Errorf("CLICKHOUSE_HOST is required when JOURNAL_ENABLED is true")
		}
		if config.ClickHousePort, err = getInt("CLICKHOUSE_PORT", 9000); err != nil {
			return nil, err
		}
		config.ClickHouseDatabase = getenv("CLICKHOUSE_DATABASE", "default")
		config.ClickHouseUser = getenv("CLICKHOUSE_USER", "default")
		config.ClickHousePassword = getenv("CLICKHOUSE_PASSWORD", "")
		config.ClickHouseUseTLS = getBool("CLICKHOUSE_USE_TLS")
	}

	// JWT secret (required)
	config.JWTSecret = getenv("JWT_SECRET", "")
	if config.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if config.AccessTTL, err = getDuration("ACCESS_TOKEN_TTL", 60*time.Minute); err != nil {
		return nil, err
	}
	if config.RefreshTTL, err = getDuration("REFRESH_TOKEN_TTL", 24*time.Hour); err != nil {
		return nil, err
	}

	// SMTP
	config.SMTPHost = getenv("SMTP_HOST", "")
	if config.SMTPPort, err = getInt("SMTP_PORT", 587); err != nil {
		return nil, err
	}
	config.SMTPUsername = getenv("SMTP_USERNAME", "")
	config.SMTPPassword = getenv("SMTP_PASSWORD", "")
	config.FromEmail = getenv("DEFAULT_FROM_EMAIL", "library@example.com")

	// Telegram staff channel
	config.TelegramToken = getenv("TELEGRAM_BOT_TOKEN", "")
	if config.TelegramToken != "" {
		chatID := getenv("TELEGRAM_CHAT_ID", "")
		if chatID == "" {
			return nil, fmt.Errorf("TELEGRAM_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set")
		}
		if config.TelegramChatID, err = strconv.ParseInt(chatID, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %s", chatID)
		}
	}

	// Notification queue
	config.RabbitMQURL = getenv("RABBITMQ_URL", "")
	config.RabbitMQExchange = getenv("RABBITMQ_EXCHANGE", "library.notifications")
	config.RabbitMQQueue = getenv("RABBITMQ_QUEUE", "library.notifications.email")
	if config.QueueSize, err = getInt("QUEUE_SIZE", 100); err != nil {
		return nil, err
	}

	// Job schedules
	config.OverdueCron = getenv("OVERDUE_CRON", "0 8 * * *")
	config.DueTodayCron = getenv("DUE_TODAY_CRON", "0 7 * * *")
	config.ExpiryCron = getenv("EXPIRY_CRON", "@hourly")
	for key, spec := range map[string]string{
		"OVERDUE_CRON":   config.OverdueCron,
		"DUE_TODAY_CRON": config.DueTodayCron,
		"EXPIRY_CRON":    config.ExpiryCron,
	} {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
	}

	// Circulation
	config.MediaRoot = getenv("MEDIA_ROOT", "media")
	fine := getenv("FINE_PER_DAY", "5")
	if config.FinePerDay, err = decimal.NewFromString(fine); err != nil {
		return nil, fmt.Errorf("invalid FINE_PER_DAY: %w", err)
	}
	if !config.FinePerDay.IsPositive() {
		return nil, fmt.Errorf("FINE_PER_DAY must be positive")
	}
	config.ReturnURL = getenv("RETURN_URL", "")

	// Login throttling
	if config.LoginRatePerMinute, err = getInt("LOGIN_RATE_PER_MINUTE", 10); err != nil {
		return nil, err
	}
	if config.LoginBurst, err = getInt("LOGIN_BURST", 5); err != nil {
		return nil, err
	}

	return config, nil
}
