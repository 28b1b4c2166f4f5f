package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the driftd server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Upload   UploadConfig
	Extract  ExtractConfig
	Export   ExportConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type UploadConfig struct {
	Dir          string
	MaxSizeBytes int64
}

type ExtractConfig struct {
	Provider string
	Timeout  time.Duration
	DocAI    DocAIConfig
}

// DocAIConfig points at the external document-extraction service.
type DocAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

type ExportConfig struct {
	PageSize      int
	MaxRecords    int
	RecordsPerSec int
}

var validProviders = map[string]bool{
	"docai": true,
	"mock":  true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("DRIFTD_PORT", 8080),
			Env:  envString("DRIFTD_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Upload: UploadConfig{
			Dir:          envString("UPLOAD_DIR", os.TempDir()),
			MaxSizeBytes: envInt64("UPLOAD_MAX_SIZE_BYTES", 10<<20),
		},
		Extract: ExtractConfig{
			Provider: os.Getenv("EXTRACT_PROVIDER"),
			Timeout:  envDurationSecs("EXTRACT_TIMEOUT_SECS", 120*time.Second),
			DocAI: DocAIConfig{
				BaseURL: os.Getenv("DOCAI_BASE_URL"),
				APIKey:  os.Getenv("DOCAI_API_KEY"),
				Model:   envString("DOCAI_MODEL", "contract-v2"),
			},
		},
		Export: ExportConfig{
			PageSize:      envInt("EXPORT_PAGE_SIZE", 500),
			MaxRecords:    envInt("EXPORT_MAX_RECORDS", 250000),
			RecordsPerSec: envInt("EXPORT_RECORDS_PER_SEC", 2000),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Upload.MaxSizeBytes <= 0 {
		return fmt.Errorf("UPLOAD_MAX_SIZE_BYTES must be positive, got %d", c.Upload.MaxSizeBytes)
	}

	if c.Extract.Provider == "" {
		return fmt.Errorf("EXTRACT_PROVIDER is required")
	}
	if !validProviders[c.Extract.Provider] {
		return fmt.Errorf("EXTRACT_PROVIDER must be one of docai, mock; got %q", c.Extract.Provider)
	}

	if c.Extract.Provider == "docai" {
		if c.Extract.DocAI.BaseURL == "" {
			return fmt.Errorf("DOCAI_BASE_URL is required when EXTRACT_PROVIDER is docai")
		}
		if !strings.HasPrefix(c.Extract.DocAI.BaseURL, "http://") && !strings.HasPrefix(c.Extract.DocAI.BaseURL, "https://") {
			return fmt.Errorf("DOCAI_BASE_URL must start with http:// or https://, got %q", c.Extract.DocAI.BaseURL)
		}
		if c.Extract.DocAI.APIKey == "" {
			return fmt.Errorf("DOCAI_API_KEY is required when EXTRACT_PROVIDER is docai")
		}
	}

	if c.Export.PageSize <= 0 {
		return fmt.Errorf("EXPORT_PAGE_SIZE must be positive, got %d", c.Export.PageSize)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
