package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix namespaces every environment variable, e.g. LICENSED_SERVER_PORT.
const EnvPrefix = "LICENSED"

// ConfigFileEnv names the variable that points at an explicit YAML file.
const ConfigFileEnv = "LICENSED_CONFIG_FILE"

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	License   LicenseConfig   `yaml:"license" envconfig:"LICENSE"`
	Database  DatabaseConfig  `yaml:"database" envconfig:"DATABASE"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
	RateLimit RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host" envconfig:"HOST"`
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
}

// Address returns the listen address.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Format   string `yaml:"format" envconfig:"FORMAT"`
	Output   string `yaml:"output" envconfig:"OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// LicenseConfig configures the license engine.
type LicenseConfig struct {
	// AuthorityURL empty means local-only validation.
	AuthorityURL         string        `yaml:"authority_url" envconfig:"AUTHORITY_URL"`
	EncryptionSecret     string        `yaml:"encryption_secret" envconfig:"ENCRYPTION_SECRET"`
	DefaultApplicationID string        `yaml:"default_application_id" envconfig:"DEFAULT_APPLICATION_ID"`
	CacheTTL             time.Duration `yaml:"cache_ttl" envconfig:"CACHE_TTL"`
	CacheMaxSize         int           `yaml:"cache_max_size" envconfig:"CACHE_MAX_SIZE"`
	RequestTimeout       time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
	LocalTamperCheck     bool          `yaml:"local_tamper_check" envconfig:"LOCAL_TAMPER_CHECK"`
	// GateClientID is the client whose license guards the entitlement routes
	// when a request does not name one.
	GateClientID string        `yaml:"gate_client_id" envconfig:"GATE_CLIENT_ID"`
	Domains      DomainsConfig `yaml:"domains" envconfig:"DOMAINS"`
}

// DomainsConfig is the validation domain fallback policy.
type DomainsConfig struct {
	DevMarkers         []string `yaml:"dev_markers" envconfig:"DEV_MARKERS"`
	RegisteredFallback string   `yaml:"registered_fallback" envconfig:"REGISTERED_FALLBACK"`
	TopLevelFallback   string   `yaml:"top_level_fallback" envconfig:"TOP_LEVEL_FALLBACK"`
}

// DatabaseConfig selects and tunes the credential store database.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver" envconfig:"DRIVER"`
	DSN             string        `yaml:"dsn" envconfig:"DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns" envconfig:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" envconfig:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" envconfig:"CONN_MAX_LIFETIME"`
	SlowThreshold   time.Duration `yaml:"slow_threshold" envconfig:"SLOW_THRESHOLD"`
	AutoMigrate     bool          `yaml:"auto_migrate" envconfig:"AUTO_MIGRATE"`
}

// TelemetryConfig configures OpenTelemetry exporters.
type TelemetryConfig struct {
	ServiceName    string  `yaml:"service_name" envconfig:"SERVICE_NAME"`
	ServiceVersion string  `yaml:"service_version" envconfig:"SERVICE_VERSION"`
	Environment    string  `yaml:"environment" envconfig:"ENVIRONMENT"`
	TraceExporter  string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER"`
	MetricExporter string  `yaml:"metric_exporter" envconfig:"METRIC_EXPORTER"`
	SampleRatio    float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// Load builds the configuration from defaults, then the YAML file if one is
// found, then environment variables. Later sources win.
func Load() (*Config, error) {
	return LoadFrom(getConfigFilePath())
}

// LoadFrom is Load with an explicit YAML path. An empty path skips the file.
func LoadFrom(configFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// No struct defaults: unset variables leave file and default values alone.
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays a YAML file onto cfg.
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func (c *Config) normalize() {
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Output = strings.ToLower(strings.TrimSpace(c.Logging.Output))
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	c.Telemetry.TraceExporter = strings.ToLower(strings.TrimSpace(c.Telemetry.TraceExporter))
	c.Telemetry.MetricExporter = strings.ToLower(strings.TrimSpace(c.Telemetry.MetricExporter))
	c.License.AuthorityURL = strings.TrimSuffix(strings.TrimSpace(c.License.AuthorityURL), "/")

	// JSON is the only supported log format.
	c.Logging.Format = "json"
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}

	switch c.Logging.Output {
	case "stdout", "console", "file", "both":
	default:
		return fmt.Errorf("invalid logging output: %q", c.Logging.Output)
	}
	if (c.Logging.Output == "file" || c.Logging.Output == "both") && c.Logging.FilePath == "" {
		return fmt.Errorf("logging file path is required for output %q", c.Logging.Output)
	}

	if c.License.CacheTTL <= 0 {
		return fmt.Errorf("license cache ttl must be positive")
	}
	if c.License.CacheMaxSize < 0 {
		return fmt.Errorf("license cache max size must not be negative")
	}
	if c.License.RequestTimeout <= 0 {
		return fmt.Errorf("license request timeout must be positive")
	}

	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}

	switch c.Telemetry.TraceExporter {
	case "stdout", "none", "":
	default:
		return fmt.Errorf("unsupported trace exporter: %q", c.Telemetry.TraceExporter)
	}
	switch c.Telemetry.MetricExporter {
	case "prometheus", "none", "":
	default:
		return fmt.Errorf("unsupported metric exporter: %q", c.Telemetry.MetricExporter)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry sample ratio must be between 0 and 1")
	}

	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate limit rps and burst must be positive when enabled")
	}

	return nil
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	if explicit := os.Getenv(ConfigFileEnv); explicit != "" {
		return explicit
	}

	locations := []string{
		"config.yaml",
		"configs/config.yaml",
	}
	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return ""
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20, // 1MB
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "stdout",
			FilePath: "logs/licensed.log",
		},
		License: LicenseConfig{
			CacheTTL:       30 * time.Second,
			CacheMaxSize:   1000,
			RequestTimeout: 30 * time.Second,
			Domains: DomainsConfig{
				DevMarkers: []string{"localhost", "127.0.0.1"},
			},
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			DSN:             "file:licensed.db?_busy_timeout=5000",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
			SlowThreshold:   200 * time.Millisecond,
			AutoMigrate:     true,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "licensed",
			ServiceVersion: "1.0.0",
			Environment:    "development",
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			SampleRatio:    1.0,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			RPS:     10,
			Burst:   20,
		},
	}
}
