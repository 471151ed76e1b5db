package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultHost is the CouchDB server used when none is configured
const DefaultHost = "http://localhost:5984"

var (
	// ErrMissingHost is returned by Validate when no host is configured
	ErrMissingHost = errors.New("missing host")

	// ErrMissingPrefix is returned by Validate when no prefix is configured
	ErrMissingPrefix = errors.New("missing prefix")
)

// Config represents the application configuration
type Config struct {
	Host             string        `yaml:"host"`
	Prefix           string        `yaml:"prefix"`
	NewPrefix        string        `yaml:"new_prefix"`
	JournalPath      string        `yaml:"journal_path"`
	LogLevel         string        `yaml:"log_level"`
	LogFormat        string        `yaml:"log_format"`
	ProgressInterval time.Duration `yaml:"progress_interval"`
	SanitizeRoles    bool          `yaml:"sanitize_roles"`
	WebhookURLs      []string      `yaml:"webhook_urls"`
	MetricsAddr      string        `yaml:"metrics_addr"`
	Output           string        `yaml:"output"`
}

// Load loads configuration from multiple sources with precedence:
// 1. Environment variables
// 2. ./.env.local (dotenv) - walks up parent directories to find it
// 3. ~/.config/couchmig/config.yaml (YAML)
func Load() (*Config, error) {
	cfg := &Config{
		Host:             DefaultHost,
		LogLevel:         "info",
		LogFormat:        "text",
		ProgressInterval: 2 * time.Second,
		Output:           "table",
	}

	// Load .env.local if it exists (walking up parent directories)
	if envPath := findEnvLocal(); envPath != "" {
		_ = godotenv.Load(envPath)
	}

	if err := loadYAMLConfig(cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if host := getEnvOrFile("COUCHMIG_HOST", "COUCHMIG_HOST_FILE"); host != "" {
		cfg.Host = host
	}
	if prefix := os.Getenv("COUCHMIG_PREFIX"); prefix != "" {
		cfg.Prefix = prefix
	}
	if newPrefix := os.Getenv("COUCHMIG_NEW_PREFIX"); newPrefix != "" {
		cfg.NewPrefix = newPrefix
	}
	if journal := os.Getenv("COUCHMIG_JOURNAL"); journal != "" {
		cfg.JournalPath = journal
	}
	if logLevel := os.Getenv("COUCHMIG_LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFormat := os.Getenv("COUCHMIG_LOG_FORMAT"); logFormat != "" {
		cfg.LogFormat = logFormat
	}
	if interval := os.Getenv("COUCHMIG_PROGRESS_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			return nil, fmt.Errorf("invalid COUCHMIG_PROGRESS_INTERVAL: %w", err)
		}
		cfg.ProgressInterval = d
	}
	if sanitize := os.Getenv("COUCHMIG_SANITIZE_ROLES"); sanitize != "" {
		b, err := strconv.ParseBool(sanitize)
		if err != nil {
			return nil, fmt.Errorf("invalid COUCHMIG_SANITIZE_ROLES: %w", err)
		}
		cfg.SanitizeRoles = b
	}
	if hooks := os.Getenv("COUCHMIG_WEBHOOK_URLS"); hooks != "" {
		cfg.WebhookURLs = strings.Split(hooks, ",")
	}
	if addr := os.Getenv("COUCHMIG_METRICS_ADDR"); addr != "" {
		cfg.MetricsAddr = addr
	}
	if output := os.Getenv("COUCHMIG_OUTPUT"); output != "" {
		cfg.Output = output
	}

	if cfg.JournalPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.JournalPath = filepath.Join(homeDir, ".local", "share", "couchmig", "journal.db")
	}

	return cfg, nil
}

// Validate checks the values every migration needs
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return ErrMissingHost
	}
	if c.Prefix == "" {
		return ErrMissingPrefix
	}
	return nil
}

// loadYAMLConfig loads configuration from ~/.config/couchmig/config.yaml
func loadYAMLConfig(cfg *Config) error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	configPath := filepath.Join(homeDir, ".config", "couchmig", "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// getEnvOrFile gets an environment variable value, or reads it from a file
// if the _FILE variant is set
func getEnvOrFile(envVar, fileVar string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}

	if filePath := os.Getenv(fileVar); filePath != "" {
		data, err := os.ReadFile(filePath)
		if err == nil {
			return strings.TrimSpace(string(data))
		}
	}

	return ""
}

// findEnvLocal searches for .env.local starting from cwd and walking up
// parent directories. Stops at the user's home directory.
// Returns the path to .env.local if found, empty string otherwise.
func findEnvLocal() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		if _, err := os.Stat(".env.local"); err == nil {
			return ".env.local"
		}
		return ""
	}

	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	homeDir = filepath.Clean(homeDir)
	dir := filepath.Clean(cwd)

	for {
		envPath := filepath.Join(dir, ".env.local")
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}

		if dir == homeDir {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}

		dir = parent
	}

	return ""
}
