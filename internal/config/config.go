// Package config loads the dashboard configuration from YAML and supplements
// it with environment variables for secrets and common overrides.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultConfigPath = "config.yaml"

// Config holds the configuration for the review dashboard service.
type Config struct {
	Log struct {
		Level    string `yaml:"level"`  // DEBUG, INFO, WARN, ERROR
		Format   string `yaml:"format"` // text, json
		Output   string `yaml:"output"` // stdout, stderr, /path/to/file
		Rotation struct {
			MaxSize    int  `yaml:"max_size"`    // Megabytes
			MaxBackups int  `yaml:"max_backups"` // Number of old files to keep
			MaxAge     int  `yaml:"max_age"`     // Days to keep
			Compress   bool `yaml:"compress"`
		} `yaml:"rotation"`
	} `yaml:"log"`

	Server struct {
		Port             int           `yaml:"port"`
		ConcurrencyLimit int           `yaml:"concurrency_limit"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
	} `yaml:"server"`

	Model struct {
		Backend     string `yaml:"backend"`      // gemini, ollama
		GeminiModel string `yaml:"gemini_model"` // e.g. gemini-2.0-flash
		OllamaURL   string `yaml:"ollama_url"`   // OpenAI-compatible endpoint
		OllamaModel string `yaml:"ollama_model"`
		APIKey      string `yaml:"-"` // From Env, fallback when the pool is exhausted
	} `yaml:"model"`

	GitHub struct {
		BaseURL string `yaml:"base_url"`
		Token   string `yaml:"-"` // From Env, fallback when the pool is exhausted
	} `yaml:"github"`

	Storage StorageConfig `yaml:"storage"`
}

// StorageConfig holds configuration for the key-value store.
type StorageConfig struct {
	Driver  string        `yaml:"driver"` // sqlite
	DSN     string        `yaml:"dsn"`    // Connection string
	Timeout time.Duration `yaml:"timeout"`
}

// GetLogLevel returns the slog.Level based on Log.Level string.
func (c *Config) GetLogLevel() slog.Level {
	switch strings.ToUpper(c.Log.Level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LoadConfig loads configuration from a YAML file and supplements it with
// environment variables. A missing file means defaults; an unreadable or
// malformed file is fatal.
func LoadConfig() *Config {
	cfg := &Config{}

	cfg.Log.Level = "INFO"
	cfg.Log.Format = "text"
	cfg.Log.Output = "stdout"
	cfg.Log.Rotation.MaxSize = 100
	cfg.Log.Rotation.MaxBackups = 10
	cfg.Log.Rotation.MaxAge = 7
	cfg.Log.Rotation.Compress = true

	cfg.Server.Port = 8080
	cfg.Server.ConcurrencyLimit = 4
	cfg.Server.ReadTimeout = 10 * time.Second
	cfg.Server.WriteTimeout = 0 // streaming responses manage their own lifetime

	cfg.Model.Backend = "gemini"
	cfg.Model.GeminiModel = "gemini-2.0-flash"
	cfg.Model.OllamaURL = "http://localhost:11434/v1"
	cfg.Model.OllamaModel = "llama3"

	cfg.GitHub.BaseURL = "https://api.github.com"

	cfg.Storage.Driver = "sqlite"
	cfg.Storage.DSN = "data/dashboard.db"
	cfg.Storage.Timeout = 5 * time.Second

	configPath := getEnv("CONFIG_PATH", DefaultConfigPath)
	data, err := os.ReadFile(configPath)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			slog.Error("unmarshal config failed", "error", err, "path", configPath)
			os.Exit(1)
		}
		slog.Info("config loaded", "path", configPath)
	} else {
		if !os.IsNotExist(err) {
			slog.Error("read config failed", "error", err, "path", configPath)
			os.Exit(1)
		}
		slog.Info("config not found, using defaults", "path", configPath)
	}

	// Secrets always come from the environment.
	cfg.Model.APIKey = getEnv("GEMINI_API_KEY", cfg.Model.APIKey)
	cfg.GitHub.Token = getEnv("GITHUB_TOKEN", cfg.GitHub.Token)

	if envPort := getEnvInt("PORT", 0); envPort != 0 {
		cfg.Server.Port = envPort
	}
	if envLogLevel := os.Getenv("LOG_LEVEL"); envLogLevel != "" {
		cfg.Log.Level = envLogLevel
	}
	if envLogFormat := os.Getenv("LOG_FORMAT"); envLogFormat != "" {
		cfg.Log.Format = envLogFormat
	}
	if envLogOutput := getEnv("LOG_OUTPUT", ""); envLogOutput != "" {
		cfg.Log.Output = envLogOutput
	}
	if envBackend := os.Getenv("MODEL_BACKEND"); envBackend != "" {
		cfg.Model.Backend = envBackend
	}

	return cfg
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid server port: %d", c.Server.Port))
	}
	if c.Server.ConcurrencyLimit < 1 {
		errs = append(errs, "concurrency_limit must be at least 1")
	}

	switch c.Model.Backend {
	case "gemini":
		if c.Model.GeminiModel == "" {
			errs = append(errs, "gemini_model is required for the gemini backend")
		}
	case "ollama":
		if c.Model.OllamaURL == "" || c.Model.OllamaModel == "" {
			errs = append(errs, "ollama_url and ollama_model are required for the ollama backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown model backend: %q", c.Model.Backend))
	}

	if c.Storage.Driver != "sqlite" {
		errs = append(errs, fmt.Sprintf("unknown storage driver: %q", c.Storage.Driver))
	}
	if c.Storage.DSN == "" {
		errs = append(errs, "storage dsn is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config invalid: %s", strings.Join(errs, "; "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}
