package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	AWS      AWSConfig
	Email    EmailConfig
	Ticket   TicketConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds AWS credentials and S3 bucket names.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	TicketsBucket        string
	PresignExpireMinutes int
}

// EmailConfig for SMTP ticket dispatch.
type EmailConfig struct {
	FromAddress string
	FromName    string
	SMTPHost    string
	SMTPPort    int
	SMTPUser    string
	SMTPPass    string
}

// TicketConfig holds issuance, delivery and rate-limit settings.
type TicketConfig struct {
	// Fixed-window download limiter.
	RateLimitWindow time.Duration
	RateLimitMax    int

	// Delivery pipeline defaults; per-request values are clamped to the
	// BatchSizeMin..BatchSizeMax and BatchDelayMin..BatchDelayMax ranges.
	BatchSize     int
	BatchDelay    time.Duration
	BatchSizeMin  int
	BatchSizeMax  int
	BatchDelayMin time.Duration
	BatchDelayMax time.Duration

	// One-time download keys handed to retrieval clients.
	DownloadKeyTTL time.Duration

	// Payment-status values accepted by the richer import shape.
	AcceptedPaymentStatuses []string
}

// DSN returns the PostgreSQL connection string. If DatabaseConfig.URL is set
// (DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	readTimeout, _ := strconv.Atoi(getEnv("READ_TIMEOUT_SEC", "30"))
	writeTimeout, _ := strconv.Atoi(getEnv("WRITE_TIMEOUT_SEC", "30"))
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	jwtExpire, _ := strconv.Atoi(getEnv("JWT_EXPIRE_HOURS", "24"))

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        readTimeout,
			WriteTimeout:       writeTimeout,
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", "postgres://localhost:5432/gatepass?sslmode=disable"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "gatepass"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: jwtExpire,
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			TicketsBucket:        getEnv("AWS_S3_TICKETS_BUCKET", "gatepass-tickets"),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Email: EmailConfig{
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", "tickets@example.com"),
			FromName:    getEnv("EMAIL_FROM_NAME", "GatePass Tickets"),
			SMTPHost:    getEnv("SMTP_HOST", ""),
			SMTPPort:    getEnvInt("SMTP_PORT", 587),
			SMTPUser:    getEnv("SMTP_USER", ""),
			SMTPPass:    getEnv("SMTP_PASS", ""),
		},
		Ticket: TicketConfig{
			RateLimitWindow: time.Duration(getEnvInt("TICKET_RATE_WINDOW_SEC", 60)) * time.Second,
			RateLimitMax:    getEnvInt("TICKET_RATE_LIMIT", 3),

			BatchSize:     getEnvInt("DELIVERY_BATCH_SIZE", 10),
			BatchDelay:    time.Duration(getEnvInt("DELIVERY_BATCH_DELAY_MS", 2000)) * time.Millisecond,
			BatchSizeMin:  1,
			BatchSizeMax:  20,
			BatchDelayMin: 500 * time.Millisecond,
			BatchDelayMax: 5 * time.Second,

			DownloadKeyTTL: time.Duration(getEnvInt("TICKET_DOWNLOAD_KEY_TTL_SEC", 300)) * time.Second,

			AcceptedPaymentStatuses: splitTrim(getEnv("IMPORT_ACCEPTED_PAYMENT_STATUSES", "captured,paid"), ","),
		},
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}
