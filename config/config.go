package config

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	// Database configuration
	DatabaseHost     string
	DatabasePort     string
	DatabaseName     string
	DatabaseUser     string
	DatabasePassword string

	// Redis configuration
	RedisHost     string
	RedisPassword string
	RedisPort     string

	// Ingestion configuration
	Ingestion IngestionConfig

	// Detector thresholds
	Signals SignalConfig

	// Scoring configuration
	Scoring ScoringConfig

	// Notifier configuration
	Notifier NotifierConfig
}

// IngestionConfig holds upstream API endpoints and polling cadence
type IngestionConfig struct {
	MarketsURL            string
	TradesURL             string
	MarketsRefreshSeconds int
	PollMinSeconds        int
	PollMaxSeconds        int
	BackoffBaseSeconds    int
	BackoffMaxSeconds     int
	ClientTimeoutSeconds  int
	WSEnabled             bool // optional live trade stream via the CLOB market channel
	WSURL                 string
}

// SignalConfig holds detector thresholds. Decimal-valued thresholds stay
// strings here and are parsed once at engine construction, so no float
// round-trip happens on the way into the detectors.
type SignalConfig struct {
	BigNotional          string
	LowActivityMaxTrades int
	RepeatMinCount       int
	RepeatWindowMinutes  int
	ImpactDeviation      string
	ImpactMinNotional    string
	ClusterMinWallets    int
	ClusterWindowMinutes int
	ClusterMinNotional   string
	SmartMinAccuracy     string
	SmartMinTrades       int
	SmartMinNotional     string
	BatchSize            int
}

// ScoringConfig holds alert aggregation parameters
type ScoringConfig struct {
	WindowHours       int
	HighThreshold     string
	WatchThreshold    string
	BonusPerExtraType string
	IdleSleepSeconds  int
}

// NotifierConfig holds Telegram delivery settings
type NotifierConfig struct {
	BotToken         string
	ChatID           string
	DryRun           bool
	BatchLimit       int
	WalletsLimit     int
	IdleSleepSeconds int
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	// Load .env file if exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		DatabaseHost:     getEnvOrDefault("DB_HOST", "localhost"),
		DatabasePort:     getEnvOrDefault("DB_PORT", "5432"),
		DatabaseName:     getEnvOrDefault("DB_NAME", "polymarket"),
		DatabaseUser:     getEnvOrDefault("DB_USER", "polymarket"),
		DatabasePassword: getEnvOrDefault("DB_PASSWORD", "polymarket"),

		RedisHost:     getEnvOrDefault("REDIS_HOST", "localhost"),
		RedisPort:     getEnvOrDefault("REDIS_PORT", "6379"),
		RedisPassword: getEnvOrDefault("REDIS_PASSWORD", ""),

		Ingestion: IngestionConfig{
			MarketsURL: getEnvOrDefault("INGESTION_MARKETS_URL",
				"https://gamma-api.polymarket.com/events?active=true&closed=false&limit=100&order=volume24hr&ascending=false"),
			TradesURL:             getEnvOrDefault("INGESTION_TRADES_URL", "https://data-api.polymarket.com/trades"),
			MarketsRefreshSeconds: getEnvInt("INGESTION_MARKETS_REFRESH", 600),
			PollMinSeconds:        getEnvInt("INGESTION_POLL_MIN", 30),
			PollMaxSeconds:        getEnvInt("INGESTION_POLL_MAX", 60),
			BackoffBaseSeconds:    getEnvInt("INGESTION_BACKOFF_BASE", 5),
			BackoffMaxSeconds:     getEnvInt("INGESTION_BACKOFF_MAX", 300),
			ClientTimeoutSeconds:  getEnvInt("INGESTION_CLIENT_TIMEOUT", 10),
			WSEnabled:             getEnvOrDefault("INGEST_WS_ENABLED", "false") == "true",
			WSURL:                 getEnvOrDefault("INGEST_WS_URL", "wss://ws-subscriptions-clob.polymarket.com/ws/market"),
		},

		Signals: SignalConfig{
			BigNotional:          getEnvOrDefault("SIGNALS_BIG_NOTIONAL", "1000"),
			LowActivityMaxTrades: getEnvInt("SIGNALS_LOW_ACTIVITY_MAX_TRADES", 2),
			RepeatMinCount:       getEnvInt("SIGNALS_REPEAT_MIN_COUNT", 3),
			RepeatWindowMinutes:  getEnvInt("SIGNALS_REPEAT_WINDOW_MIN", 10),
			ImpactDeviation:      getEnvOrDefault("SIGNALS_IMPACT_DEVIATION", "0.05"),
			ImpactMinNotional:    getEnvOrDefault("SIGNALS_IMPACT_MIN_NOTIONAL", "500"),
			ClusterMinWallets:    getEnvInt("SIGNALS_CLUSTER_MIN_WALLETS", 3),
			ClusterWindowMinutes: getEnvInt("SIGNALS_CLUSTER_WINDOW_MIN", 5),
			ClusterMinNotional:   getEnvOrDefault("SIGNALS_CLUSTER_MIN_NOTIONAL", "200"),
			SmartMinAccuracy:     getEnvOrDefault("SIGNALS_SMART_MIN_ACCURACY", "0.60"),
			SmartMinTrades:       getEnvInt("SIGNALS_SMART_MIN_TRADES", 5),
			SmartMinNotional:     getEnvOrDefault("SIGNALS_SMART_MIN_NOTIONAL", "100"),
			BatchSize:            getEnvInt("SIGNALS_BATCH_SIZE", 200),
		},

		Scoring: ScoringConfig{
			WindowHours:       getEnvInt("SCORING_WINDOW_HOURS", 2),
			HighThreshold:     getEnvOrDefault("SCORING_HIGH_THRESHOLD", "12"),
			WatchThreshold:    getEnvOrDefault("SCORING_WATCH_THRESHOLD", "4"),
			BonusPerExtraType: getEnvOrDefault("SCORING_BONUS_PER_EXTRA_TYPE", "2.5"),
			IdleSleepSeconds:  getEnvInt("SCORING_IDLE_SLEEP", 10),
		},

		Notifier: NotifierConfig{
			BotToken:         os.Getenv("TELEGRAM_BOT_TOKEN"),
			ChatID:           os.Getenv("TELEGRAM_CHAT_ID"),
			DryRun:           getEnvOrDefault("NOTIFIER_DRY_RUN", "false") == "true",
			BatchLimit:       getEnvInt("NOTIFIER_BATCH_LIMIT", 50),
			WalletsLimit:     getEnvInt("NOTIFIER_WALLETS_LIMIT", 3),
			IdleSleepSeconds: getEnvInt("NOTIFIER_IDLE_SLEEP", 15),
		},
	}
}

// Validate checks configuration that must be present at startup.
// Missing chat credentials are not an error: the notifier downgrades to
// dry-run mode and keeps running.
func (c *Config) Validate() error {
	if c.DatabaseHost == "" || c.DatabaseName == "" || c.DatabaseUser == "" {
		return fmt.Errorf("database configuration incomplete (DB_HOST/DB_NAME/DB_USER)")
	}
	if c.Ingestion.MarketsURL == "" || c.Ingestion.TradesURL == "" {
		return fmt.Errorf("ingestion URLs not configured")
	}
	if c.Ingestion.PollMaxSeconds < c.Ingestion.PollMinSeconds {
		return fmt.Errorf("INGESTION_POLL_MAX must be >= INGESTION_POLL_MIN")
	}
	return nil
}

// getEnvInt gets environment variable as int or returns default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var intValue int
	if _, err := fmt.Sscanf(value, "%d", &intValue); err != nil {
		return defaultValue
	}
	return intValue
}

// getEnvOrDefault gets environment variable or returns default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
