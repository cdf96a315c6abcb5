package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the isolation agent.
type Config struct {
	// CDP connection settings
	CDPAddress string
	CDPPort    int

	// Control API
	BindAddr string

	// Local state
	DataDir         string
	AuditBufferSize int

	// Containment policy
	PolicyFile string
	Policy     Policy

	// Assignment oracle
	OracleURL       string
	OracleTimeoutMS int

	// Browser lifecycle
	LaunchBrowser bool
	ProfileDir    string

	// Failure reporting
	NotifyEndpoint string

	// Logging
	LogLevel string
	LogFile  string
}

// Load reads configuration from environment variables and optional .env file,
// then merges the containment policy file (when present) over the built-in
// defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:      getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:         getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9220),
		BindAddr:        getEnvOrDefault("ISOLATOR_BIND_ADDR", "127.0.0.1:8189"),
		DataDir:         getEnvOrDefault("ISOLATOR_DATA_DIR", "./isolator_data"),
		AuditBufferSize: getEnvIntOrDefault("ISOLATOR_AUDIT_BUFFER_SIZE", 1000),
		PolicyFile:      getEnvOrDefault("ISOLATOR_POLICY_FILE", ""),
		OracleURL:       getEnvOrDefault("ISOLATOR_ORACLE_URL", ""),
		OracleTimeoutMS: getEnvIntOrDefault("ISOLATOR_ORACLE_TIMEOUT_MS", 1500),
		LaunchBrowser:   getEnvBoolOrDefault("ISOLATOR_LAUNCH_BROWSER", false),
		ProfileDir:      getEnvOrDefault("ISOLATOR_PROFILE_DIR", "./isolator_profile"),
		NotifyEndpoint:  getEnvOrDefault("ISOLATOR_NOTIFY_ENDPOINT", ""),
		LogLevel:        strings.ToLower(getEnvOrDefault("ISOLATOR_LOG_LEVEL", "info")),
		LogFile:         getEnvOrDefault("ISOLATOR_LOG_FILE", "logs/isolator.log"),
	}
	if cfg.OracleTimeoutMS < 100 {
		cfg.OracleTimeoutMS = 100
	}

	policy, err := LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("load containment policy: %w", err)
	}
	cfg.Policy = *policy

	return cfg, nil
}

// GetCDPURL returns the full CDP HTTP endpoint used by chromedp remote allocator.
func (c *Config) GetCDPURL() string {
	return fmt.Sprintf("http://%s:%d", c.CDPAddress, c.CDPPort)
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
