// Package config provides configuration management for Retina.
// Settings are read from an optional YAML file (default ~/.retina/config.yaml)
// and then overridden by environment variables with the RETINA_ prefix.
// All fields are typed, carry documented defaults, and are validated at load
// time so that misconfiguration fails before any store is opened.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the Retina application.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	VLM       VLMConfig       `yaml:"vlm"`
	OCR       OCRConfig       `yaml:"ocr"`
	Embedding EmbeddingConfig `yaml:"embedding"`
}

// ServerConfig contains HTTP server configuration for the surrounding
// front end. The front end itself lives outside this module; the values are
// carried here so a single config file describes the whole deployment.
type ServerConfig struct {
	Host string `yaml:"host"` // Server host (default: 127.0.0.1)
	Port int    `yaml:"port"` // Server port (default: 8839)
}

// StorageConfig contains database and library layout configuration.
type StorageConfig struct {
	// BaseDir is the root data directory (default: ~/.retina).
	BaseDir string `yaml:"base_dir"`

	// DatabasePath is either a filename relative to BaseDir (SQLite) or a
	// full postgresql:// DSN (default: database.db).
	DatabasePath string `yaml:"database_path"`

	// DefaultLibrary is the library created on first run (default: screenshots).
	DefaultLibrary string `yaml:"default_library"`

	// DefaultPlugins are bound to the default library on creation
	// (default: builtin_ocr).
	DefaultPlugins []string `yaml:"default_plugins"`
}

// VLMConfig configures the vision-language captioning plugin endpoint.
type VLMConfig struct {
	Model       string `yaml:"model"`       // Model name (default: minicpm-v)
	Endpoint    string `yaml:"endpoint"`    // Inference endpoint (default: http://localhost:11434)
	Token       string `yaml:"token"`       // Bearer token, optional
	Concurrency int    `yaml:"concurrency"` // Max in-flight requests (default: 8)
	ForceJPEG   bool   `yaml:"force_jpeg"`  // Convert webp before sending; some VLMs reject webp (default: true)
	Prompt      string `yaml:"prompt"`      // Caption extraction prompt
}

// OCRConfig configures the OCR plugin endpoint.
type OCRConfig struct {
	Endpoint    string `yaml:"endpoint"`    // Ignored when UseLocal is true (default: http://localhost:5555/predict)
	Token       string `yaml:"token"`       // Bearer token, optional
	Concurrency int    `yaml:"concurrency"` // Max in-flight requests (default: 8)
	UseLocal    bool   `yaml:"use_local"`   // Run OCR in the plugin host process (default: true)
	ForceJPEG   bool   `yaml:"force_jpeg"`  // Convert webp before sending (default: false)
}

// EmbeddingConfig configures the embedding generator. When UseLocal is true
// the lazily-initialized local backend serves all batches; otherwise batches
// go to Endpoint. The path is selected once at startup, not per call.
type EmbeddingConfig struct {
	NumDim   int    `yaml:"num_dim"`   // Vector dimensionality (default: 768)
	Endpoint string `yaml:"endpoint"`  // Remote endpoint, ignored when UseLocal is true (default: http://localhost:11434/v1/embeddings)
	Model    string `yaml:"model"`     // Model identifier (default: jinaai/jina-embeddings-v2-base-zh)
	UseLocal bool   `yaml:"use_local"` // Local path vs remote path (default: true)
	Token    string `yaml:"token"`     // Bearer token, optional
}

// Load reads the YAML config file at path (if it exists), applies environment
// variable overrides, and validates the result. An empty path means the
// default location under the user's home directory.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, ".retina", "config.yaml")
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// No file is fine; defaults + env apply.
		default:
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that every enumerated setting is usable. It is called by
// Load but exported so tests and embedders can validate hand-built configs.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server port %d out of range", c.Server.Port)
	}
	if c.Storage.DatabasePath == "" {
		return errors.New("config: storage database_path is required")
	}
	if c.Embedding.NumDim <= 0 {
		return fmt.Errorf("config: embedding num_dim must be positive, got %d", c.Embedding.NumDim)
	}
	if !c.Embedding.UseLocal && c.Embedding.Endpoint == "" {
		return errors.New("config: embedding endpoint is required when use_local is false")
	}
	if c.Embedding.Model == "" {
		return errors.New("config: embedding model is required")
	}
	if c.VLM.Concurrency < 1 {
		return fmt.Errorf("config: vlm concurrency must be at least 1, got %d", c.VLM.Concurrency)
	}
	if c.OCR.Concurrency < 1 {
		return fmt.Errorf("config: ocr concurrency must be at least 1, got %d", c.OCR.Concurrency)
	}
	if !c.OCR.UseLocal && c.OCR.Endpoint == "" {
		return errors.New("config: ocr endpoint is required when use_local is false")
	}
	return nil
}

// ResolvedBaseDir expands a leading ~ in BaseDir.
func (c *Config) ResolvedBaseDir() string {
	dir := c.Storage.BaseDir
	if strings.HasPrefix(dir, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, strings.TrimPrefix(dir, "~"))
		}
	}
	return dir
}

// DatabaseDSN returns the DSN to open. A postgresql:// DatabasePath is used
// verbatim; anything else is treated as a SQLite file under BaseDir.
func (c *Config) DatabaseDSN() string {
	if c.IsPostgres() {
		return c.Storage.DatabasePath
	}
	return filepath.Join(c.ResolvedBaseDir(), c.Storage.DatabasePath)
}

// IsPostgres reports whether the configured database is PostgreSQL.
func (c *Config) IsPostgres() bool {
	return strings.HasPrefix(c.Storage.DatabasePath, "postgresql://")
}

// defaults returns a Config populated with documented defaults.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8839,
		},
		Storage: StorageConfig{
			BaseDir:        "~/.retina",
			DatabasePath:   "database.db",
			DefaultLibrary: "screenshots",
			DefaultPlugins: []string{"builtin_ocr"},
		},
		VLM: VLMConfig{
			Model:       "minicpm-v",
			Endpoint:    "http://localhost:11434",
			Concurrency: 8,
			ForceJPEG:   true,
			Prompt:      "Describe the contents of this image, including layout and visible elements",
		},
		OCR: OCRConfig{
			Endpoint:    "http://localhost:5555/predict",
			Concurrency: 8,
			UseLocal:    true,
		},
		Embedding: EmbeddingConfig{
			NumDim:   768,
			Endpoint: "http://localhost:11434/v1/embeddings",
			Model:    "jinaai/jina-embeddings-v2-base-zh",
			UseLocal: true,
		},
	}
}

// applyEnv overrides cfg fields from RETINA_ environment variables.
func applyEnv(cfg *Config) {
	cfg.Server.Host = getEnv("RETINA_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("RETINA_PORT", cfg.Server.Port)

	cfg.Storage.BaseDir = getEnv("RETINA_BASE_DIR", cfg.Storage.BaseDir)
	cfg.Storage.DatabasePath = getEnv("RETINA_DATABASE_PATH", cfg.Storage.DatabasePath)
	cfg.Storage.DefaultLibrary = getEnv("RETINA_DEFAULT_LIBRARY", cfg.Storage.DefaultLibrary)

	cfg.VLM.Model = getEnv("RETINA_VLM_MODEL", cfg.VLM.Model)
	cfg.VLM.Endpoint = getEnv("RETINA_VLM_ENDPOINT", cfg.VLM.Endpoint)
	cfg.VLM.Token = getEnv("RETINA_VLM_TOKEN", cfg.VLM.Token)
	cfg.VLM.Concurrency = getEnvInt("RETINA_VLM_CONCURRENCY", cfg.VLM.Concurrency)

	cfg.OCR.Endpoint = getEnv("RETINA_OCR_ENDPOINT", cfg.OCR.Endpoint)
	cfg.OCR.Token = getEnv("RETINA_OCR_TOKEN", cfg.OCR.Token)
	cfg.OCR.Concurrency = getEnvInt("RETINA_OCR_CONCURRENCY", cfg.OCR.Concurrency)
	cfg.OCR.UseLocal = getEnvBool("RETINA_OCR_USE_LOCAL", cfg.OCR.UseLocal)

	cfg.Embedding.NumDim = getEnvInt("RETINA_EMBEDDING_NUM_DIM", cfg.Embedding.NumDim)
	cfg.Embedding.Endpoint = getEnv("RETINA_EMBEDDING_ENDPOINT", cfg.Embedding.Endpoint)
	cfg.Embedding.Model = getEnv("RETINA_EMBEDDING_MODEL", cfg.Embedding.Model)
	cfg.Embedding.UseLocal = getEnvBool("RETINA_EMBEDDING_USE_LOCAL", cfg.Embedding.UseLocal)
	cfg.Embedding.Token = getEnv("RETINA_EMBEDDING_TOKEN", cfg.Embedding.Token)
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false
// (case-insensitive).
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}
