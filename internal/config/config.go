// Package config manages Strato configuration from two sources:
//
//   - .env / environment: server bootstrap settings (listen address, data
//     dir, session signing key, admin bootstrap credentials, logging).
//   - strato.db (SQLite, in the data dir): dashboard users, white-label
//     branding and Proxmox connection credentials, managed through the API.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all bootstrap configuration.
type Config struct {
	// Server settings
	ListenHost  string
	ListenPort  int
	MetricsPort int
	DataDir     string
	StaticDir   string

	// Security settings
	SessionSecret  string
	AdminUser      string
	AdminPassword  string // plain or bcrypt hash
	DisableAuth    bool
	AllowedOrigins string

	// HTTPS/TLS settings
	HTTPSEnabled bool
	TLSCertFile  string
	TLSKeyFile   string

	// Polling settings
	PollingInterval   time.Duration
	ConnectionTimeout time.Duration

	// Logging settings
	LogLevel   string
	LogFormat  string
	LogFile    string
	LogMaxSize int
}

// Defaults that apply before .env and environment overrides.
func defaultConfig() *Config {
	return &Config{
		ListenHost:        "0.0.0.0",
		ListenPort:        7670,
		MetricsPort:       9190,
		DataDir:           "/var/lib/strato",
		StaticDir:         "./frontend/dist",
		AllowedOrigins:    "",
		PollingInterval:   10 * time.Second,
		ConnectionTimeout: 30 * time.Second,
		LogLevel:          "info",
		LogFormat:         "auto",
		LogMaxSize:        100,
	}
}

// EnvFilePath returns the .env location for the configured data dir.
func EnvFilePath(dataDir string) string {
	return filepath.Join(dataDir, ".env")
}

// Load reads .env (data dir first, then working directory) and applies
// environment overrides on top of the defaults.
func Load() (*Config, error) {
	cfg := defaultConfig()

	if dir := os.Getenv("STRATO_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}

	envFile := EnvFilePath(cfg.DataDir)
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			log.Warn().Err(err).Str("path", envFile).Msg("Failed to load .env file")
		}
	} else if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded .env from working directory")
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv copies recognized environment variables onto the config.
func (c *Config) applyEnv() {
	setString(&c.ListenHost, "STRATO_LISTEN_HOST")
	setInt(&c.ListenPort, "STRATO_LISTEN_PORT")
	setInt(&c.MetricsPort, "STRATO_METRICS_PORT")
	setString(&c.DataDir, "STRATO_DATA_DIR")
	setString(&c.StaticDir, "STRATO_STATIC_DIR")

	setString(&c.SessionSecret, "STRATO_SESSION_SECRET")
	setString(&c.AdminUser, "STRATO_ADMIN_USER")
	setString(&c.AdminPassword, "STRATO_ADMIN_PASS")
	setBool(&c.DisableAuth, "STRATO_DISABLE_AUTH")
	setString(&c.AllowedOrigins, "STRATO_ALLOWED_ORIGINS")

	setBool(&c.HTTPSEnabled, "STRATO_HTTPS_ENABLED")
	setString(&c.TLSCertFile, "STRATO_TLS_CERT_FILE")
	setString(&c.TLSKeyFile, "STRATO_TLS_KEY_FILE")

	setDuration(&c.PollingInterval, "STRATO_POLLING_INTERVAL")
	setDuration(&c.ConnectionTimeout, "STRATO_CONNECTION_TIMEOUT")

	setString(&c.LogLevel, "STRATO_LOG_LEVEL")
	setString(&c.LogFormat, "STRATO_LOG_FORMAT")
	setString(&c.LogFile, "STRATO_LOG_FILE")
	setInt(&c.LogMaxSize, "STRATO_LOG_MAX_SIZE")
}

func (c *Config) validate() error {
	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return fmt.Errorf("invalid listen port %d", c.ListenPort)
	}
	if c.PollingInterval < time.Second {
		log.Warn().Dur("interval", c.PollingInterval).Msg("Polling interval below 1s, clamping")
		c.PollingInterval = time.Second
	}
	if !c.DisableAuth && c.SessionSecret == "" {
		return fmt.Errorf("STRATO_SESSION_SECRET is required unless STRATO_DISABLE_AUTH is set")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid integer in environment, ignoring")
		return
	}
	*dst = n
}

func setBool(dst *bool, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes", "on":
		*dst = true
	case "false", "0", "no", "off":
		*dst = false
	default:
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid boolean in environment, ignoring")
	}
}

func setDuration(dst *time.Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid duration in environment, ignoring")
		return
	}
	*dst = d
}
