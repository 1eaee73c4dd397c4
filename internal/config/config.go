package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Server       ServerConfig       `yaml:"server" envconfig:"SERVER"`
	Store        StoreConfig        `yaml:"store" envconfig:"STORE"`
	Gateways     GatewaysConfig     `yaml:"gateways" envconfig:"GATEWAYS"`
	Notify       NotifyConfig       `yaml:"notify" envconfig:"NOTIFY"`
	Sweeper      SweeperConfig      `yaml:"sweeper" envconfig:"SWEEPER"`
	Verification VerificationConfig `yaml:"verification" envconfig:"VERIFICATION"`
	Security     SecurityConfig     `yaml:"security" envconfig:"SECURITY"`
	Logging      LoggingConfig      `yaml:"logging" envconfig:"LOGGING"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES" default:"1048576"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT" default:"30s"`
}

// StoreConfig contains license store configuration
type StoreConfig struct {
	Path        string        `yaml:"path" envconfig:"PATH" default:"data/keygate.db"`
	BusyTimeout time.Duration `yaml:"busy_timeout" envconfig:"BUSY_TIMEOUT" default:"5s"`
}

// GatewaysConfig contains payment gateway adapter configuration
type GatewaysConfig struct {
	Stripe      StripeConfig      `yaml:"stripe" envconfig:"STRIPE"`
	InfinitePay InfinitePayConfig `yaml:"infinitepay" envconfig:"INFINITEPAY"`
}

// StripeConfig contains Stripe webhook configuration
type StripeConfig struct {
	Enabled       bool   `yaml:"enabled" envconfig:"ENABLED" default:"false"`
	WebhookSecret string `yaml:"webhook_secret" envconfig:"WEBHOOK_SECRET"`
}

// InfinitePayConfig contains InfinitePay webhook configuration
type InfinitePayConfig struct {
	Enabled       bool   `yaml:"enabled" envconfig:"ENABLED" default:"false"`
	WebhookSecret string `yaml:"webhook_secret" envconfig:"WEBHOOK_SECRET"`
}

// NotifyConfig contains fulfillment notification configuration
type NotifyConfig struct {
	Enabled     bool          `yaml:"enabled" envconfig:"ENABLED" default:"false"`
	SMTPHost    string        `yaml:"smtp_host" envconfig:"SMTP_HOST"`
	SMTPPort    int           `yaml:"smtp_port" envconfig:"SMTP_PORT" default:"587"`
	SMTPUser    string        `yaml:"smtp_user" envconfig:"SMTP_USER"`
	SMTPPass    string        `yaml:"smtp_pass" envconfig:"SMTP_PASS"`
	From        string        `yaml:"from" envconfig:"FROM"`
	QueueSize   int           `yaml:"queue_size" envconfig:"QUEUE_SIZE" default:"128"`
	SendTimeout time.Duration `yaml:"send_timeout" envconfig:"SEND_TIMEOUT" default:"10s"`
}

// SweeperConfig contains expiry sweeper configuration
type SweeperConfig struct {
	Enabled   bool          `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	Interval  time.Duration `yaml:"interval" envconfig:"INTERVAL" default:"10m"`
	BatchSize int           `yaml:"batch_size" envconfig:"BATCH_SIZE" default:"500"`
}

// VerificationConfig contains verification endpoint behavior
type VerificationConfig struct {
	// ExposeReasons controls whether failed verifications report the
	// precise reason or a generic "invalid" to the caller. The precise
	// reason is logged either way.
	ExposeReasons bool `yaml:"expose_reasons" envconfig:"EXPOSE_REASONS" default:"false"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	AllowedOrigins []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS" default:"http://localhost:8080"`
	EnableCORS     bool            `yaml:"enable_cors" envconfig:"ENABLE_CORS" default:"true"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" default:"100"`
	Burst   int     `yaml:"burst" envconfig:"BURST" default:"50"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Format   string `yaml:"format" envconfig:"FORMAT" default:"json"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"both"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/keygate.log"`
}

// Load loads configuration from environment variables and config file
func Load() (*Config, error) {
	var cfg Config

	// Load from environment variables first
	if err := envconfig.Process("KEYGATE", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// Load from config file if exists
	configFile := getConfigFilePath()
	if configFile != "" {
		fileConfig, err := loadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = mergeConfigs(*fileConfig, cfg)
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadFromFile loads configuration from YAML file
func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// mergeConfigs merges file config with env config (env takes precedence)
func mergeConfigs(fileConfig, envConfig Config) Config {
	if envConfig.Server.Port == 0 {
		envConfig.Server.Port = fileConfig.Server.Port
	}
	if envConfig.Server.ReadTimeout == 0 {
		envConfig.Server.ReadTimeout = fileConfig.Server.ReadTimeout
	}
	if envConfig.Server.WriteTimeout == 0 {
		envConfig.Server.WriteTimeout = fileConfig.Server.WriteTimeout
	}
	if envConfig.Store.Path == "" {
		envConfig.Store.Path = fileConfig.Store.Path
	}
	if envConfig.Gateways.Stripe.WebhookSecret == "" {
		envConfig.Gateways.Stripe = fileConfig.Gateways.Stripe
	}
	if envConfig.Gateways.InfinitePay.WebhookSecret == "" {
		envConfig.Gateways.InfinitePay = fileConfig.Gateways.InfinitePay
	}
	if envConfig.Notify.SMTPHost == "" {
		envConfig.Notify = fileConfig.Notify
	}
	if envConfig.Sweeper.Interval == 0 {
		envConfig.Sweeper = fileConfig.Sweeper
	}
	if envConfig.Logging.Level == "" {
		envConfig.Logging = fileConfig.Logging
	}

	return envConfig
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}

	if c.Store.Path == "" {
		return fmt.Errorf("store path must be set")
	}

	if c.Gateways.Stripe.Enabled && c.Gateways.Stripe.WebhookSecret == "" {
		return fmt.Errorf("stripe gateway enabled without webhook secret")
	}

	if c.Gateways.InfinitePay.Enabled && c.Gateways.InfinitePay.WebhookSecret == "" {
		return fmt.Errorf("infinitepay gateway enabled without webhook secret")
	}

	if c.Notify.Enabled {
		if c.Notify.SMTPHost == "" {
			return fmt.Errorf("notify enabled without smtp host")
		}
		if c.Notify.From == "" {
			return fmt.Errorf("notify enabled without from address")
		}
	}

	if c.Sweeper.Enabled {
		if c.Sweeper.Interval <= 0 {
			return fmt.Errorf("sweeper interval must be positive")
		}
		if c.Sweeper.BatchSize <= 0 {
			return fmt.Errorf("sweeper batch size must be positive")
		}
	}

	if len(c.Security.AllowedOrigins) == 0 {
		return fmt.Errorf("at least one allowed origin must be specified")
	}

	if c.Logging.Format != "json" {
		c.Logging.Format = "json"
	}

	if c.Logging.Output != "both" && c.Logging.Output != "file" && c.Logging.Output != "console" {
		c.Logging.Output = "both"
	}

	if c.Logging.FilePath == "" {
		c.Logging.FilePath = "logs/keygate.log"
	}

	return nil
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	locations := []string{
		"config.yaml",
		"configs/config.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return "" // No config file found, use env vars only
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
		Store: StoreConfig{
			Path:        "data/keygate.db",
			BusyTimeout: 5 * time.Second,
		},
		Notify: NotifyConfig{
			SMTPPort:    587,
			QueueSize:   128,
			SendTimeout: 10 * time.Second,
		},
		Sweeper: SweeperConfig{
			Enabled:   true,
			Interval:  10 * time.Minute,
			BatchSize: 500,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"http://localhost:8080"},
			EnableCORS:     true,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     100,
				Burst:   50,
			},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "both",
			FilePath: "logs/keygate.log",
		},
	}
}
