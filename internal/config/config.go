package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	NodeEnv          string
	Port             string
	DataDir          string
	APIBaseURL       string
	WebSocketURL     string
	ControlJWTSecret string
	AuthToken        string
	UserID           string
	MasterPassword   string
	MasterSalt       string
	HTTPTimeout      time.Duration
	Database         DatabaseConfig
	Realtime         RealtimeConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver   string // sqlite, postgres, memory
	Path     string // sqlite file
	Host     string
	Port     string
	Username string
	Password string
	Name     string
	LogSQL   bool
}

// RealtimeConfig tunes the realtime channel
type RealtimeConfig struct {
	PingInterval         time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("CLIPSYNC_DATA_DIR", defaultDataDir())

	cfg := &Config{
		NodeEnv:          getEnv("NODE_ENV", "development"),
		Port:             getEnv("PORT", "7433"),
		DataDir:          dataDir,
		APIBaseURL:       getEnv("SYNC_API_URL", "https://api.ecopaste.com"),
		WebSocketURL:     getEnv("SYNC_WS_URL", "wss://api.ecopaste.com/ws"),
		ControlJWTSecret: os.Getenv("CONTROL_JWT_SECRET"),
		AuthToken:        os.Getenv("SYNC_AUTH_TOKEN"),
		UserID:           os.Getenv("SYNC_USER_ID"),
		MasterPassword:   os.Getenv("SYNC_MASTER_PASSWORD"),
		MasterSalt:       getEnv("SYNC_MASTER_SALT", "clipsync"),
		HTTPTimeout:      getDurationEnv("SYNC_HTTP_TIMEOUT", 30*time.Second),
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "sqlite"),
			Path:     getEnv("DB_PATH", filepath.Join(dataDir, "clipsync.db")),
			Host:     getEnv("PG_HOST", "localhost"),
			Port:     getEnv("PG_PORT", "5432"),
			Username: getEnv("PG_USERNAME", "postgres"),
			Password: os.Getenv("PG_PASSWORD"),
			Name:     getEnv("PG_DATABASE", "clipsync"),
			LogSQL:   getBoolEnv("DB_LOG_SQL", false),
		},
		Realtime: RealtimeConfig{
			PingInterval:         getDurationEnv("WS_PING_INTERVAL", 30*time.Second),
			ReconnectDelay:       getDurationEnv("WS_RECONNECT_DELAY", 5*time.Second),
			MaxReconnectAttempts: getIntEnv("WS_MAX_RECONNECT_ATTEMPTS", 5),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite, postgres or memory, got %q", c.Database.Driver)
	}
	if c.Realtime.MaxReconnectAttempts < 1 {
		return fmt.Errorf("WS_MAX_RECONNECT_ATTEMPTS must be at least 1")
	}
	if c.Realtime.PingInterval <= 0 || c.Realtime.ReconnectDelay <= 0 || c.HTTPTimeout <= 0 {
		return fmt.Errorf("durations must be positive")
	}
	return nil
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "clipsync")
	}
	return ".clipsync"
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
