package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Version is stamped at build time via -ldflags
var Version = "0.4.0-dev"

// Config holds all agent configuration. It is constructed once at process
// start and passed by reference into the orchestrator; nothing reads the
// environment after Load returns.
type Config struct {
	DataDir     string
	CloudURL    string
	NodeKey     string
	ControlAddr string

	HeartbeatInterval time.Duration
	SyncInterval      time.Duration
	BatchSize         int
	MaxRetries        int
	RequestTimeout    time.Duration
	OfflineMode       bool

	Scorer       string // static, gemini
	GeminiAPIKey string
	GeminiModel  string

	Version string
}

// Load loads configuration from an optional .env file and the environment
func Load(envPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", envPath, err)
		}
	} else {
		// Best-effort .env in the working directory
		_ = godotenv.Load()
	}

	cfg := &Config{
		DataDir:           getEnv("EDGE_DATA_DIR", ".settler-edge"),
		CloudURL:          getEnv("EDGE_CLOUD_URL", "https://app.settler.io"),
		NodeKey:           os.Getenv("EDGE_NODE_KEY"),
		ControlAddr:       getEnv("EDGE_CONTROL_ADDR", "127.0.0.1:7465"),
		HeartbeatInterval: getEnvDuration("EDGE_HEARTBEAT_INTERVAL", 30*time.Second),
		SyncInterval:      getEnvDuration("EDGE_SYNC_INTERVAL", 60*time.Second),
		BatchSize:         getEnvInt("EDGE_SYNC_BATCH_SIZE", 50),
		MaxRetries:        getEnvInt("EDGE_SYNC_MAX_RETRIES", 3),
		RequestTimeout:    getEnvDuration("EDGE_REQUEST_TIMEOUT", 30*time.Second),
		OfflineMode:       getEnv("EDGE_OFFLINE_MODE", "false") == "true",
		Scorer:            getEnv("EDGE_SCORER", "static"),
		GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"),
		GeminiModel:       os.Getenv("GEMINI_MODEL"),
		Version:           Version,
	}

	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("EDGE_SYNC_BATCH_SIZE must be positive")
	}

	return cfg, nil
}

// DatabasePath returns the path of the embedded database file
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "settler-edge.db")
}

// NodeKeyPath returns the path of the persisted node key file
func (c *Config) NodeKeyPath() string {
	return filepath.Join(c.DataDir, ".node-key")
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		// Plain integers are seconds
		if n, err := strconv.Atoi(value); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return defaultValue
}
