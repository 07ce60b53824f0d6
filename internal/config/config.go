// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envPrefix is prepended to every configuration key when read from the environment.
const envPrefix = "CHATVAULT"

// Key backends for the encryption key.
const (
	KeyBackendKeyring = "keyring"
	KeyBackendFile    = "file"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	DBPath            string
	ListenAddr        string
	OpenRouterBaseURL string
	VSEGPTBaseURL     string
	RequestTimeout    time.Duration
	ValidateTimeout   time.Duration
	KeyBackend        string
	KeyDir            string
	LogLevel          slog.Level
}

// UsesKeyring returns true when the encryption key lives in the OS keyring.
func (c *Config) UsesKeyring() bool {
	return c.KeyBackend == KeyBackendKeyring
}

// Load reads configuration from environment variables and returns a validated Config.
// All variables are optional:
// CHATVAULT_DB_PATH (chatvault.db), CHATVAULT_LISTEN_ADDR (127.0.0.1:8080),
// CHATVAULT_OPENROUTER_BASE_URL (https://openrouter.ai/api/v1),
// CHATVAULT_VSEGPT_BASE_URL (https://api.vsegpt.ru/v1), CHATVAULT_REQUEST_TIMEOUT (60s),
// CHATVAULT_VALIDATE_TIMEOUT (10s), CHATVAULT_KEY_BACKEND (keyring|file),
// CHATVAULT_KEY_DIR (~/.chatvault), CHATVAULT_LOG_LEVEL (info).
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	v.SetDefault("db_path", "chatvault.db")
	v.SetDefault("listen_addr", "127.0.0.1:8080")
	v.SetDefault("openrouter_base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("vsegpt_base_url", "https://api.vsegpt.ru/v1")
	v.SetDefault("request_timeout", "60s")
	v.SetDefault("validate_timeout", "10s")
	v.SetDefault("key_backend", KeyBackendKeyring)
	v.SetDefault("key_dir", defaultKeyDir())
	v.SetDefault("log_level", "info")

	requestTimeout, err := duration(v, "request_timeout")
	if err != nil {
		return nil, err
	}
	validateTimeout, err := duration(v, "validate_timeout")
	if err != nil {
		return nil, err
	}

	backend := strings.ToLower(strings.TrimSpace(v.GetString("key_backend")))
	if backend != KeyBackendKeyring && backend != KeyBackendFile {
		return nil, fmt.Errorf("%s has invalid key backend %q: want %q or %q",
			envName("key_backend"), backend, KeyBackendKeyring, KeyBackendFile)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(v.GetString("log_level"))); err != nil {
		return nil, fmt.Errorf("%s has invalid level %q: %w", envName("log_level"), v.GetString("log_level"), err)
	}

	dbPath := strings.TrimSpace(v.GetString("db_path"))
	if dbPath == "" {
		return nil, fmt.Errorf("%s must not be empty", envName("db_path"))
	}

	return &Config{
		DBPath:            dbPath,
		ListenAddr:        v.GetString("listen_addr"),
		OpenRouterBaseURL: v.GetString("openrouter_base_url"),
		VSEGPTBaseURL:     v.GetString("vsegpt_base_url"),
		RequestTimeout:    requestTimeout,
		ValidateTimeout:   validateTimeout,
		KeyBackend:        backend,
		KeyDir:            v.GetString("key_dir"),
		LogLevel:          level,
	}, nil
}

func duration(v *viper.Viper, key string) (time.Duration, error) {
	raw := v.GetString(key)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid duration %q: %w", envName(key), raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", envName(key), d)
	}
	return d, nil
}

func envName(key string) string {
	return envPrefix + "_" + strings.ToUpper(key)
}

func defaultKeyDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chatvault"
	}
	return filepath.Join(home, ".chatvault")
}
