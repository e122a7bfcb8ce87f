package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const defaultDSN = "host=localhost user=postgres password=postgres dbname=cms port=5432 sslmode=disable"

type Config struct {
	HTTPPort    string
	DatabaseDSN string
	DBTimeout   time.Duration
	CORSOrigins string

	JWTSecret      string
	AccessTokenTTL time.Duration
	BcryptCost     int

	ResetTokenTTL time.Duration
	ResetCooldown time.Duration
	PurgeSchedule string
	RedisAddr     string // empty selects the in-memory reset limiter

	SendGridAPIKey string // empty selects the logging mail sender
	MailFrom       string

	PictureDir      string
	PictureMaxBytes int64

	LogLevel  string
	LogFormat string
}

// Warnings collects non-fatal findings from Load for the caller to log.
type Warnings []string

// Load reads the environment, after loading a .env file if one exists.
func Load() (*Config, Warnings, error) {
	_ = godotenv.Load()

	var errs []error
	cfg := &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		DatabaseDSN:     getEnv("DATABASE_DSN", defaultDSN),
		DBTimeout:       getDuration("DB_TIMEOUT", 5*time.Second, &errs),
		CORSOrigins:     getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
		JWTSecret:       getEnv("JWT_SECRET", ""),
		AccessTokenTTL:  getDuration("ACCESS_TOKEN_TTL", 24*time.Hour, &errs),
		BcryptCost:      getInt("BCRYPT_COST", 12, &errs),
		ResetTokenTTL:   getDuration("RESET_TOKEN_TTL", 15*time.Minute, &errs),
		ResetCooldown:   getDuration("RESET_COOLDOWN", 5*time.Minute, &errs),
		PurgeSchedule:   getEnv("PURGE_SCHEDULE", "@every 10m"),
		RedisAddr:       getEnv("REDIS_ADDR", ""),
		SendGridAPIKey:  getEnv("SENDGRID_API_KEY", ""),
		MailFrom:        getEnv("MAIL_FROM", "no-reply@localhost"),
		PictureDir:      getEnv("PICTURE_DIR", "./uploads"),
		PictureMaxBytes: int64(getInt("PICTURE_MAX_BYTES", 4<<20, &errs)),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "text"),
	}

	if cfg.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	} else if len(cfg.JWTSecret) < 32 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 32 characters"))
	}
	if len(errs) > 0 {
		return nil, nil, errors.Join(errs...)
	}

	var warn Warnings
	if cfg.DatabaseDSN == defaultDSN {
		warn = append(warn, "DATABASE_DSN uses the default value, set your own Postgres connection for production")
	}
	if cfg.CORSOrigins == "http://localhost:5173" {
		warn = append(warn, "CORS_ALLOWED_ORIGINS uses the default value, set your own domain for production")
	}
	if cfg.SendGridAPIKey == "" {
		warn = append(warn, "SENDGRID_API_KEY is empty, outgoing mail will only be logged")
	}
	return cfg, warn, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		*errs = append(*errs, fmt.Errorf("%s: invalid duration %q", key, v))
		return def
	}
	return d
}

func getInt(key string, def int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		*errs = append(*errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return def
	}
	return n
}
