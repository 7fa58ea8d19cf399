// Package config provides configuration management for the scene enrichment service.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyCA verifies the server certificate against a CA.
	SSLModeVerifyCA = "verify-ca"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// Enrichment backends.
const (
	// EnrichmentModeHTTP delegates enrichment to the remote enrichment functions.
	EnrichmentModeHTTP = "http"
	// EnrichmentModeGemini enriches scenes in-process with Gemini.
	EnrichmentModeGemini = "gemini"
)

// envPrefix is the prefix for every environment variable read by Load.
const envPrefix = "SCENEENRICH"

// Config holds all configuration for the scene enrichment service.
type Config struct {
	// Server contains HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Database contains PostgreSQL connection settings.
	Database DatabaseConfig `mapstructure:"database"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Orchestrator contains wave scheduling, retry and completion chain settings.
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	// Enrichment contains settings for the per-scene enrichment backend.
	Enrichment EnrichmentConfig `mapstructure:"enrichment"`
	// Kafka contains run event publishing and resume listener settings.
	Kafka KafkaConfig `mapstructure:"kafka"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// MetricsPort is the metrics server port (default: 9091).
	MetricsPort int `mapstructure:"metrics_port"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password (loaded from SCENEENRICH_DATABASE_PASSWORD).
	Password string `mapstructure:"-"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security (require, verify-ca, verify-full, disable).
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool.
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open.
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection before it's closed.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum time a connection can be idle before it's closed.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// HealthCheckPeriod is the interval between health checks of idle connections.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is the path to migration files (relative or absolute).
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun enables automatic migration on startup.
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for metrics endpoint.
	Path string `mapstructure:"path"`
	// Namespace prefixes every metric name.
	Namespace string `mapstructure:"namespace"`
}

// OrchestratorConfig holds settings for enrichment runs.
type OrchestratorConfig struct {
	// Concurrency is the wave size: the maximum number of in-flight enrichment calls.
	Concurrency int `mapstructure:"concurrency"`
	// MaxAttempts is the number of enrichment attempts per scene before it is abandoned.
	MaxAttempts int `mapstructure:"max_attempts"`
	// RetryDelay is the fixed pause before a wave that follows retryable failures.
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	// ChainStepTimeout bounds each completion chain step.
	ChainStepTimeout time.Duration `mapstructure:"chain_step_timeout"`
	// ResumeOnStartup resumes every job left in the enriching state when the server starts.
	ResumeOnStartup bool `mapstructure:"resume_on_startup"`
}

// EnrichmentConfig holds settings for the enrichment backend.
type EnrichmentConfig struct {
	// Mode selects the backend (http, gemini).
	Mode string `mapstructure:"mode"`
	// BaseURL is the base URL of the remote enrichment functions.
	BaseURL string `mapstructure:"base_url"`
	// APIKey authenticates against the remote functions (loaded from SCENEENRICH_ENRICHMENT_API_KEY).
	APIKey string `mapstructure:"-"`
	// Timeout is the timeout for a single remote call.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimitRPS is the sustained request rate towards the remote functions.
	RateLimitRPS float64 `mapstructure:"rate_limit_rps"`
	// RateLimitBurst is the burst size for the rate limiter.
	RateLimitBurst int `mapstructure:"rate_limit_burst"`
	// Gemini contains Gemini-specific settings used when Mode is gemini.
	Gemini GeminiConfig `mapstructure:"gemini"`
}

// GeminiConfig holds Google Gemini settings.
type GeminiConfig struct {
	// APIKey is the Gemini API key (loaded from SCENEENRICH_ENRICHMENT_GEMINI_API_KEY).
	APIKey string `mapstructure:"-"`
	// Model is the Gemini model name.
	Model string `mapstructure:"model"`
	// BaseURL overrides the Gemini API base URL.
	BaseURL string `mapstructure:"base_url"`
}

// KafkaConfig holds Kafka settings.
type KafkaConfig struct {
	// Enabled controls whether Kafka publishing and the resume listener are active.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// EventsTopic receives enrichment run reports.
	EventsTopic string `mapstructure:"events_topic"`
	// ResumeTopic carries resume requests from other services.
	ResumeTopic string `mapstructure:"resume_topic"`
	// GroupID is the consumer group of the resume listener.
	GroupID string `mapstructure:"group_id"`
	// BatchTimeout is the maximum time to wait for a batch to fill before sending.
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// MetricsAddress returns the metrics server address.
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadDatabase loads configuration like Load but validates only the database
// and logging sections. It is used by tools that never call the enrichment backends.
func LoadDatabase() (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}

	if err := cfg.validateDatabase(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func read() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/scene-enrichment-service")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	loadSecrets(&cfg)

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
// These fields are tagged with mapstructure:"-" to prevent loading from config files.
func loadSecrets(cfg *Config) {
	cfg.Database.Password = os.Getenv(envPrefix + "_DATABASE_PASSWORD")
	cfg.Enrichment.APIKey = os.Getenv(envPrefix + "_ENRICHMENT_API_KEY")
	cfg.Enrichment.Gemini.APIKey = os.Getenv(envPrefix + "_ENRICHMENT_GEMINI_API_KEY")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "sceneenrich")
	v.SetDefault("database.name", "scene_enrichment_service")
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "migrations")
	v.SetDefault("database.migration_auto_run", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "scene_enrichment")

	// Orchestrator defaults
	v.SetDefault("orchestrator.concurrency", 5)
	v.SetDefault("orchestrator.max_attempts", 4)
	v.SetDefault("orchestrator.retry_delay", "3s")
	v.SetDefault("orchestrator.chain_step_timeout", "5m")
	v.SetDefault("orchestrator.resume_on_startup", true)

	// Enrichment defaults
	v.SetDefault("enrichment.mode", EnrichmentModeHTTP)
	v.SetDefault("enrichment.base_url", "http://localhost:54321/functions/v1")
	v.SetDefault("enrichment.timeout", "120s")
	v.SetDefault("enrichment.rate_limit_rps", 5.0)
	v.SetDefault("enrichment.rate_limit_burst", 5)
	v.SetDefault("enrichment.gemini.model", "gemini-2.0-flash")
	v.SetDefault("enrichment.gemini.base_url", "")

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.events_topic", "events.scene_enrichment.runs")
	v.SetDefault("kafka.resume_topic", "commands.scene_enrichment.resume")
	v.SetDefault("kafka.group_id", "scene-enrichment-service")
	v.SetDefault("kafka.batch_timeout", "10ms")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort)
	}

	if err := c.validateDatabase(); err != nil {
		return err
	}

	if c.Orchestrator.Concurrency <= 0 {
		return fmt.Errorf("orchestrator concurrency must be positive")
	}
	if c.Orchestrator.MaxAttempts <= 0 {
		return fmt.Errorf("orchestrator max_attempts must be positive")
	}
	if c.Orchestrator.RetryDelay < 0 {
		return fmt.Errorf("orchestrator retry_delay must not be negative")
	}

	switch strings.ToLower(c.Enrichment.Mode) {
	case EnrichmentModeHTTP:
		if c.Enrichment.BaseURL == "" {
			return fmt.Errorf("enrichment base_url is required in %q mode", EnrichmentModeHTTP)
		}
	case EnrichmentModeGemini:
		if c.Enrichment.Gemini.APIKey == "" {
			return fmt.Errorf("enrichment mode %q requires %s_ENRICHMENT_GEMINI_API_KEY to be set", EnrichmentModeGemini, envPrefix)
		}
		// Finalize and secondary analysis still run remotely.
		if c.Enrichment.BaseURL == "" {
			return fmt.Errorf("enrichment base_url is required for the completion chain")
		}
	default:
		return fmt.Errorf("unsupported enrichment mode: %s", c.Enrichment.Mode)
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required when kafka is enabled")
	}

	return nil
}

// validateDatabase validates the database and logging sections.
func (c *Config) validateDatabase() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	return nil
}
