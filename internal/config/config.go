// Package config loads Trading Bridge configuration from the environment.
//
// Configuration is loaded once at startup from environment variables (with
// optional .env file support). Unlike the teacher's settings-database
// override layer, risk parameters here are owned by internal/settings and
// persisted to their own file — config only supplies the process-level
// defaults and wiring knobs.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds Trading Bridge process configuration.
type Config struct {
	HostPort      int    // TCP port terminating the Execution Host session (spec default 9999)
	DashboardPort int    // WebSocket + HTTP port for the Dashboard link (spec default 8080)
	SettingsPath  string // path to the persisted Settings JSON file

	MinConfidenceDefault float64 // initial Settings.MinConfidence if no Settings file exists
	AutoTradeDefault     bool    // initial Settings.AutoTradingEnabled if no Settings file exists

	SubscriberQueueCapacity int // per-subscriber bounded outbound queue capacity
	FeatureCacheCapacity    int // Prediction Gateway LRU cache capacity
	PredictionCacheTTLMs    int // Prediction Gateway cache TTL in milliseconds

	HostHeartbeatTimeoutMs int // Host session idle timeout before close

	TrailingThrottleMs     int     // minimum interval between trailing-stop updates per position
	TrailingMaxMoveATR     float64 // bounded-movement cap, expressed as a multiple of ATR
	TrailingMinConfidence  float64 // minimum confidence required to emit a trailing update

	DataDir  string // base directory for optional durable store files
	LogLevel string // debug, info, warn, error
	DevMode  bool

	SyntheticMode bool // demo/research affordance; never enabled by default (spec.md Open Questions)
}

// Load reads configuration from environment variables, loading a .env file
// first if one is present (errors from a missing .env are ignored, matching
// the teacher's config.Load).
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("BRIDGE_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("resolve data directory: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	cfg := &Config{
		HostPort:      getEnvAsInt("HOST_PORT", 9999),
		DashboardPort: getEnvAsInt("DASHBOARD_PORT", 8080),
		SettingsPath:  getEnv("SETTINGS_PATH", filepath.Join(absDataDir, "settings.json")),

		MinConfidenceDefault: getEnvAsFloat("MIN_CONFIDENCE_DEFAULT", 0.6),
		AutoTradeDefault:     getEnvAsBool("AUTO_TRADE_DEFAULT", false),

		SubscriberQueueCapacity: getEnvAsInt("SUBSCRIBER_QUEUE_CAPACITY", 256),
		FeatureCacheCapacity:    getEnvAsInt("FEATURE_CACHE_CAPACITY", 1000),
		PredictionCacheTTLMs:    getEnvAsInt("PREDICTION_CACHE_TTL_MS", 5*60*1000),

		HostHeartbeatTimeoutMs: getEnvAsInt("HOST_HEARTBEAT_TIMEOUT_MS", 30*1000),

		TrailingThrottleMs:    getEnvAsInt("TRAILING_THROTTLE_MS", 15*1000),
		TrailingMaxMoveATR:    getEnvAsFloat("TRAILING_MAX_MOVE_ATR", 0.5),
		TrailingMinConfidence: getEnvAsFloat("TRAILING_MIN_CONFIDENCE", 0.6),

		DataDir:  absDataDir,
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),

		SyntheticMode: getEnvAsBool("SYNTHETIC_MODE", false),
	}

	return cfg, cfg.Validate()
}

// Validate checks invariants that would make the bridge unable to start.
func (c *Config) Validate() error {
	if c.HostPort <= 0 || c.HostPort > 65535 {
		return fmt.Errorf("invalid host_port: %d", c.HostPort)
	}
	if c.DashboardPort <= 0 || c.DashboardPort > 65535 {
		return fmt.Errorf("invalid dashboard_port: %d", c.DashboardPort)
	}
	if c.SettingsPath == "" {
		return fmt.Errorf("settings_path must not be empty")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
