package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"coldmail/models"
)

// Config holds everything read from the environment at startup.
type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	ServerPort string
	BaseURL    string // public base URL for tracking links

	EncryptionKey string
	SentryDSN     string

	// Redis is optional; when unset the throttler keeps counters in memory.
	RedisURL string

	// SharedPools controls whether warmup and campaign traffic draw from
	// the same per-account send budget.
	SharedPools bool

	SyncInterval     time.Duration
	WarmupInterval   time.Duration
	CampaignInterval time.Duration

	GoogleClientID        string
	GoogleClientSecret    string
	MicrosoftClientID     string
	MicrosoftClientSecret string
}

var AppConfig *Config

// LoadConfig reads .env (if present) and populates AppConfig.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}

	cfg := &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "coldmail"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		ServerPort: getEnv("SERVER_PORT", "8080"),
		BaseURL:    getEnv("BASE_URL", "http://localhost:8080"),

		EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
		SentryDSN:     getEnv("SENTRY_DSN", ""),
		RedisURL:      getEnv("REDIS_URL", ""),
		SharedPools:   getEnvAsBool("SHARED_SEND_POOLS", true),

		SyncInterval:     time.Duration(getEnvAsInt("SYNC_INTERVAL_MINUTES", 5)) * time.Minute,
		WarmupInterval:   time.Duration(getEnvAsInt("WARMUP_INTERVAL_MINUTES", 10)) * time.Minute,
		CampaignInterval: time.Duration(getEnvAsInt("CAMPAIGN_INTERVAL_MINUTES", 1)) * time.Minute,

		GoogleClientID:        getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:    getEnv("GOOGLE_CLIENT_SECRET", ""),
		MicrosoftClientID:     getEnv("MICROSOFT_CLIENT_ID", ""),
		MicrosoftClientSecret: getEnv("MICROSOFT_CLIENT_SECRET", ""),
	}

	if cfg.EncryptionKey == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY is required")
	}

	AppConfig = cfg
	return cfg, nil
}

// ConnectDB opens the postgres connection and runs migrations.
func ConnectDB(cfg *Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := MigrateDB(db); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return db, nil
}

// MigrateDB runs AutoMigrate for every model.
func MigrateDB(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.EmailAccount{},
		&models.Campaign{},
		&models.SequenceStep{},
		&models.Lead{},
		&models.CampaignLead{},
		&models.WarmupEmail{},
		&models.InboxMessage{},
		&models.InboxSync{},
		&models.BlacklistEntry{},
		&models.EmailLog{},
	)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return fallback
}
