package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the trading core.
type Config struct {
	Port string

	// Active venue and credentials
	Exchange      string // "binance", "bybit" or "okx"
	Testnet       bool
	APIKey        string
	APISecret     string
	Passphrase    string // OKX only
	Symbols       []string
	KlineInterval string

	// Database
	DBPath string

	// Risk engine
	RiskConfigPath  string
	MonitorInterval time.Duration

	// Notifications
	WebhookURL   string
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPTo       []string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	exchange := strings.ToLower(getEnv("EXCHANGE", "binance"))

	return &Config{
		Port:            getEnv("PORT", "8080"),
		Exchange:        exchange,
		Testnet:         getEnv("TESTNET", "false") == "true",
		APIKey:          venueEnv(exchange, "API_KEY"),
		APISecret:       venueEnv(exchange, "API_SECRET"),
		Passphrase:      venueEnv(exchange, "PASSPHRASE"),
		Symbols:         splitAndTrim(getEnv("SYMBOLS", "BTCUSDT,ETHUSDT")),
		KlineInterval:   getEnv("KLINE_INTERVAL", "1m"),
		DBPath:          getEnv("DB_PATH", "./data/trading.db"),
		RiskConfigPath:  getEnv("RISK_CONFIG_PATH", "./config/risk.yaml"),
		MonitorInterval: time.Duration(getEnvInt("MONITOR_INTERVAL_SECONDS", 10)) * time.Second,
		WebhookURL:      os.Getenv("WEBHOOK_URL"),
		SMTPHost:        os.Getenv("SMTP_HOST"),
		SMTPPort:        getEnvInt("SMTP_PORT", 587),
		SMTPUsername:    os.Getenv("SMTP_USERNAME"),
		SMTPPassword:    os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:        os.Getenv("SMTP_FROM"),
		SMTPTo:          splitAndTrim(os.Getenv("SMTP_TO")),
	}, nil
}

// venueEnv resolves venue-scoped credentials: BYBIT_API_KEY wins over
// API_KEY when the active exchange is bybit, and so on.
func venueEnv(exchange, suffix string) string {
	if v := os.Getenv(strings.ToUpper(exchange) + "_" + suffix); v != "" {
		return v
	}
	return os.Getenv(suffix)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
