package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the dashboard API configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Auth     AuthConfig     `yaml:"auth"`
	Cache    CacheConfig    `yaml:"cache"`
	Metadata MetadataConfig `yaml:"metadata"`
	Servers  ServersConfig  `yaml:"servers"`
	Mosaic   MosaicConfig   `yaml:"mosaic"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings. Empty api_keys disables auth.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeoutSec  int      `yaml:"read_timeout_sec"`
	WriteTimeoutSec int      `yaml:"write_timeout_sec"`
	ShutdownSec     int      `yaml:"shutdown_timeout_sec"`
	APIPrefix       string   `yaml:"api_prefix"`
	CORSOrigins     []string `yaml:"cors_origins"`
}

// CacheConfig holds the metadata response cache settings.
type CacheConfig struct {
	Disabled         bool     `yaml:"disabled"`
	Driver           string   `yaml:"driver"` // memory, redis, valkey (default: memory)
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	TTLSec           int      `yaml:"ttl_sec"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// TTL returns the cache entry lifetime.
func (c CacheConfig) TTL() time.Duration { return time.Duration(c.TTLSec) * time.Second }

// MetadataConfig holds where dataset and site documents are read from.
type MetadataConfig struct {
	Source          string `yaml:"source"` // file, s3 (default: file)
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	DatasetKey      string `yaml:"dataset_key"`
	SiteKey         string `yaml:"site_key"`
	Dir             string `yaml:"dir"`
	DatasetFallback string `yaml:"dataset_fallback"`
	SiteFallback    string `yaml:"site_fallback"`
	TTLSec          int    `yaml:"ttl_sec"`
}

// TTL returns how long a loaded document is reused.
func (c MetadataConfig) TTL() time.Duration { return time.Duration(c.TTLSec) * time.Second }

// ServersConfig holds the upstream roots substituted into tile templates.
type ServersConfig struct {
	VectorTileserverURL string `yaml:"vector_tileserver_url"`
	TitilerServerURL    string `yaml:"titiler_server_url"`
}

// MosaicConfig holds the mosaic pipeline settings.
type MosaicConfig struct {
	APIRoot         string        `yaml:"api_root"`
	MaxItems        int           `yaml:"max_items"`
	PageSize        int           `yaml:"page_size"`
	Timeouts        StageTimeouts `yaml:"timeouts"`
	HeaderBytes     int           `yaml:"cog_header_bytes"`
	RateLimitPerMin int           `yaml:"rate_limit_per_min"` // 0 = unlimited
	Breaker         BreakerConfig `yaml:"breaker"`
}

// StageTimeouts holds per-stage budgets in milliseconds.
type StageTimeouts struct {
	SearchMs   int `yaml:"search_ms"`
	AssembleMs int `yaml:"assemble_ms"`
	TokenMs    int `yaml:"token_ms"`
	PublishMs  int `yaml:"publish_ms"`
}

// BreakerConfig holds the tile server circuit breaker settings.
type BreakerConfig struct {
	MaxFailures uint32 `yaml:"max_failures"`
	OpenSec     int    `yaml:"open_sec"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	return Parse(data)
}

// Parse decodes YAML config bytes, expanding ${VAR} references first.
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8000
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 60
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.HTTP.APIPrefix == "" {
		c.HTTP.APIPrefix = "/v1"
	}
	if len(c.HTTP.CORSOrigins) == 0 {
		c.HTTP.CORSOrigins = []string{"*"}
	}
	if c.Cache.Driver == "" {
		c.Cache.Driver = "memory"
	}
	if c.Cache.TTLSec <= 0 {
		c.Cache.TTLSec = 60
	}
	if c.Cache.ReadinessTimeout <= 0 {
		c.Cache.ReadinessTimeout = 10
	}
	if c.Metadata.Source == "" {
		c.Metadata.Source = "file"
	}
	if c.Metadata.DatasetKey == "" {
		c.Metadata.DatasetKey = "dev-dataset-metadata.json"
	}
	if c.Metadata.SiteKey == "" {
		c.Metadata.SiteKey = "dev-site-metadata.json"
	}
	if c.Metadata.Dir == "" {
		c.Metadata.Dir = "."
	}
	if c.Metadata.DatasetFallback == "" {
		c.Metadata.DatasetFallback = "example-dataset-metadata.json"
	}
	if c.Metadata.SiteFallback == "" {
		c.Metadata.SiteFallback = "example-site-metadata.json"
	}
	if c.Metadata.TTLSec <= 0 {
		c.Metadata.TTLSec = 60
	}
	if c.Mosaic.APIRoot == "" {
		c.Mosaic.APIRoot = "https://api.cogeo.xyz"
	}
	if c.Mosaic.MaxItems <= 0 {
		c.Mosaic.MaxItems = 1000
	}
	if c.Mosaic.PageSize <= 0 {
		c.Mosaic.PageSize = 500
	}
	if c.Mosaic.HeaderBytes <= 0 {
		c.Mosaic.HeaderBytes = 64 * 1024
	}
	t := &c.Mosaic.Timeouts
	if t.SearchMs <= 0 {
		t.SearchMs = 10000
	}
	if t.AssembleMs <= 0 {
		t.AssembleMs = 20000
	}
	if t.TokenMs <= 0 {
		t.TokenMs = 5000
	}
	if t.PublishMs <= 0 {
		t.PublishMs = 5000
	}
	if c.Mosaic.Breaker.MaxFailures == 0 {
		c.Mosaic.Breaker.MaxFailures = 5
	}
	if c.Mosaic.Breaker.OpenSec <= 0 {
		c.Mosaic.Breaker.OpenSec = 30
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if !strings.HasPrefix(c.HTTP.APIPrefix, "/") {
		return fmt.Errorf("http.api_prefix must start with \"/\", got %q", c.HTTP.APIPrefix)
	}
	switch c.Cache.Driver {
	case "memory":
	case "redis", "valkey":
		if !c.Cache.Disabled && len(c.Cache.Addrs) == 0 {
			return fmt.Errorf("cache.addrs is required for the %s driver", c.Cache.Driver)
		}
	default:
		return fmt.Errorf("cache.driver must be \"memory\", \"redis\" or \"valkey\", got %q", c.Cache.Driver)
	}
	switch c.Metadata.Source {
	case "file":
	case "s3":
		if c.Metadata.Bucket == "" {
			return fmt.Errorf("metadata.bucket is required for the s3 source")
		}
	default:
		return fmt.Errorf("metadata.source must be \"file\" or \"s3\", got %q", c.Metadata.Source)
	}
	if u, err := url.Parse(c.Mosaic.APIRoot); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("mosaic.api_root must be an absolute URL, got %q", c.Mosaic.APIRoot)
	}
	if c.Mosaic.PageSize > c.Mosaic.MaxItems {
		return fmt.Errorf("mosaic.page_size (%d) must not exceed mosaic.max_items (%d)",
			c.Mosaic.PageSize, c.Mosaic.MaxItems)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}

// Duration converts a millisecond budget to a time.Duration.
func Duration(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }
