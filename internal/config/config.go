// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	// Server settings
	Port string `yaml:"port"`
	Host string `yaml:"host"`

	// Database settings
	DBPath string `yaml:"db_path"`

	// Used for encrypting secrets at rest
	EncryptionSecret string `yaml:"encryption_secret"`

	// Aggregation settings
	BaseCurrency    string        `yaml:"base_currency"`
	RefreshInterval time.Duration `yaml:"refresh_interval"` // 0 disables the timer

	// Provider settings
	CoinbaseBaseURL string        `yaml:"coinbase_base_url"`
	SchwabBaseURL   string        `yaml:"schwab_base_url"`
	RequestDelay    time.Duration `yaml:"request_delay"` // minimum spacing between provider requests

	// API rate limit, requests per second per client IP
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`

	// Logging
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`

	// Environment
	IsDevelopment bool `yaml:"-"`
}

// New creates a new Config with values from environment variables or defaults.
func New() *Config {
	cfg := defaults()
	cfg.applyEnv()
	return cfg
}

// Load reads an optional .env file and an optional YAML file, then applies
// environment variables on top. Precedence is env, then file, then defaults.
// An empty path skips the YAML file.
func Load(dotenv, path string) (*Config, error) {
	if dotenv != "" {
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", dotenv, err)
		}
	}

	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Port:             "8080",
		Host:             "localhost",
		DBPath:           filepath.Join("data", "portfolio.db"),
		EncryptionSecret: "change-me-in-production-32chars!",
		BaseCurrency:     "USD",
		RefreshInterval:  5 * time.Minute,
		CoinbaseBaseURL:  "https://api.coinbase.com",
		SchwabBaseURL:    "https://api.schwabapi.com",
		RequestDelay:     200 * time.Millisecond,
		RateLimit:        10,
		RateBurst:        20,
		LogLevel:         "info",
	}
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.Host = getEnv("HOST", c.Host)
	c.DBPath = getEnv("DB_PATH", c.DBPath)
	c.EncryptionSecret = getEnv("ENCRYPTION_SECRET", c.EncryptionSecret)
	c.BaseCurrency = getEnv("BASE_CURRENCY", c.BaseCurrency)
	c.RefreshInterval = getDuration("REFRESH_INTERVAL", c.RefreshInterval)
	c.CoinbaseBaseURL = getEnv("COINBASE_BASE_URL", c.CoinbaseBaseURL)
	c.SchwabBaseURL = getEnv("SCHWAB_BASE_URL", c.SchwabBaseURL)
	c.RequestDelay = getDuration("REQUEST_DELAY", c.RequestDelay)
	c.RateLimit = getFloat("RATE_LIMIT", c.RateLimit)
	c.RateBurst = int(getFloat("RATE_BURST", float64(c.RateBurst)))
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFile = getEnv("LOG_FILE", c.LogFile)
	c.IsDevelopment = getEnv("ENV", "development") == "development"
}

// Validate reports settings the server cannot start with.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("port must be set")
	}
	if c.BaseCurrency == "" {
		return errors.New("base currency must be set")
	}
	if c.RefreshInterval < 0 {
		return fmt.Errorf("refresh interval must not be negative, got %s", c.RefreshInterval)
	}
	if !c.IsDevelopment && len(c.EncryptionSecret) < 32 {
		return errors.New("encryption secret must be at least 32 characters in production")
	}
	return nil
}

// Address returns the full address to bind the server to.
func (c *Config) Address() string {
	return c.Host + ":" + c.Port
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

func getFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return f
}
