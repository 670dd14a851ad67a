package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config содержит все настройки приложения
type Config struct {
	Telegram    TelegramConfig
	Marketplace MarketplaceConfig
	Database    DatabaseConfig
	Scheduler   SchedulerConfig
	PolicyPath  string
	APIPort     int
	LogLevel    string
}

type TelegramConfig struct {
	BotToken string
	ChatID   int64
	Enabled  bool
}

type MarketplaceConfig struct {
	MerchantID string
	APIToken   string
	BaseURL    string
	RPS        float64
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type SchedulerConfig struct {
	Tick         time.Duration
	Workers      int
	ItemDeadline time.Duration
}

// Load загружает конфигурацию из .env файла
func Load() (*Config, error) {
	// Загружаем .env файл (если есть)
	if err := godotenv.Load(); err != nil {
		fmt.Println("Warning: .env file not found, using environment variables")
	}

	chatID, err := strconv.ParseInt(getEnv("TELEGRAM_CHAT_ID", "0"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
	}

	telegramEnabled, err := strconv.ParseBool(getEnv("TELEGRAM_ENABLED", "true"))
	if err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_ENABLED: %w", err)
	}

	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	maxOpenConns, err := strconv.Atoi(getEnv("DB_MAX_OPEN_CONNS", "25"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_OPEN_CONNS: %w", err)
	}

	maxIdleConns, err := strconv.Atoi(getEnv("DB_MAX_IDLE_CONNS", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_IDLE_CONNS: %w", err)
	}

	connMaxLifetime, err := time.ParseDuration(getEnv("DB_CONN_MAX_LIFETIME", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_CONN_MAX_LIFETIME: %w", err)
	}

	rps, err := strconv.ParseFloat(getEnv("MARKETPLACE_RPS", "5"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid MARKETPLACE_RPS: %w", err)
	}

	tick, err := time.ParseDuration(getEnv("SCHEDULER_TICK", "15s"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_TICK: %w", err)
	}

	workers, err := strconv.Atoi(getEnv("SCHEDULER_WORKERS", "4"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_WORKERS: %w", err)
	}

	itemDeadline, err := time.ParseDuration(getEnv("SCHEDULER_ITEM_DEADLINE", "2m"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_ITEM_DEADLINE: %w", err)
	}

	apiPort, err := strconv.Atoi(getEnv("API_PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid API_PORT: %w", err)
	}

	config := &Config{
		Telegram: TelegramConfig{
			BotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
			ChatID:   chatID,
			Enabled:  telegramEnabled,
		},
		Marketplace: MarketplaceConfig{
			MerchantID: getEnv("MARKETPLACE_MERCHANT_ID", ""),
			APIToken:   getEnv("MARKETPLACE_API_TOKEN", ""),
			BaseURL:    getEnv("MARKETPLACE_BASE_URL", "https://mc.kaspi.kz/api"),
			RPS:        rps,
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            dbPort,
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", ""),
			DBName:          getEnv("DB_NAME", "demping_bot"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    maxOpenConns,
			MaxIdleConns:    maxIdleConns,
			ConnMaxLifetime: connMaxLifetime,
		},
		Scheduler: SchedulerConfig{
			Tick:         tick,
			Workers:      workers,
			ItemDeadline: itemDeadline,
		},
		PolicyPath: getEnv("STORE_POLICY_PATH", "configs/store_policy.yaml"),
		APIPort:    apiPort,
		LogLevel:   getEnv("LOG_LEVEL", "info"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate проверяет обязательные поля конфигурации
func (c *Config) Validate() error {
	if c.Marketplace.MerchantID == "" {
		return fmt.Errorf("MARKETPLACE_MERCHANT_ID is required")
	}
	if c.Marketplace.APIToken == "" {
		return fmt.Errorf("MARKETPLACE_API_TOKEN is required")
	}
	if c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is required when TELEGRAM_ENABLED=true")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
