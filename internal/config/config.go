package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string
	RedisURL    string
	ServerPort  string
	Environment string
	WALPath     string
	NodeID      string

	// Storefront origins allowed to call the chat routes.
	AllowedOrigins []string

	// HistoryLimit caps how many rows a single list query fetches.
	HistoryLimit int

	// PollInterval is the staleness bound the polling client is told to
	// refresh at; ReconcileWindow is the timestamp tolerance clients use to
	// match an optimistic message against the confirmed one.
	PollInterval    time.Duration
	ReconcileWindow time.Duration

	// ReplayInterval controls how often the journal replayer retries
	// messages that failed to persist.
	ReplayInterval time.Duration

	// Rate limiting
	RateLimitMaxRequests int
	RateLimitWindow      time.Duration
	RateLimitBlockTime   time.Duration
}

func Load() *Config {
	// Try to load .env file, but don't fail if it doesn't exist
	// (containers use environment variables directly)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file loaded, using environment")
	}

	walPath := os.Getenv("WAL_PATH")
	if walPath == "" {
		walPath = "data/wal_messages"
	}

	nodeID := os.Getenv("NODE_ID")
	if nodeID == "" {
		host, _ := os.Hostname()
		nodeID = host
	}

	origins := strings.Split(getEnv("ALLOWED_ORIGINS", "http://localhost:8000"), ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}

	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		ServerPort:  getEnv("SERVER_PORT", ":7002"),
		Environment: getEnv("ENVIRONMENT", "development"),
		WALPath:     walPath,
		NodeID:      nodeID,

		AllowedOrigins: origins,

		HistoryLimit:    getEnvAsInt("CHAT_HISTORY_LIMIT", 1000),
		PollInterval:    getEnvAsDuration("POLL_INTERVAL", "3s"),
		ReconcileWindow: getEnvAsDuration("RECONCILE_WINDOW", "5s"),
		ReplayInterval:  getEnvAsDuration("WAL_REPLAY_INTERVAL", "15s"),

		RateLimitMaxRequests: getEnvAsInt("RATE_LIMIT_MAX_REQUESTS", 100),
		RateLimitWindow:      getEnvAsDuration("RATE_LIMIT_WINDOW", "1m"),
		RateLimitBlockTime:   getEnvAsDuration("RATE_LIMIT_BLOCK_TIME", "5m"),
	}

	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvAsInt retrieves environment variable as int with default value
func getEnvAsInt(key string, defaultVal int) int {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		log.Printf("Invalid %s value, using default: %d", key, defaultVal)
		return defaultVal
	}
	return val
}

// getEnvAsDuration retrieves environment variable as duration with default value
func getEnvAsDuration(key string, defaultVal string) time.Duration {
	valStr := os.Getenv(key)
	if valStr == "" {
		valStr = defaultVal
	}
	duration, err := time.ParseDuration(valStr)
	if err != nil {
		log.Printf("Invalid %s value, using default: %s", key, defaultVal)
		duration, _ = time.ParseDuration(defaultVal)
	}
	return duration
}
