package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default configuration file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	// DatabaseURL selects the Postgres store; empty falls back to the
	// in-process store (development only).
	DatabaseURL string `yaml:"databaseURL"`

	WebhookSecret    string `yaml:"webhookSecret"`
	WebhookTolerance string `yaml:"webhookTolerance"`

	IdentityIssuer   string `yaml:"identityIssuer"`
	IdentityJWKSURL  string `yaml:"identityJWKSURL"`
	IdentityAudience string `yaml:"identityAudience"`

	ServiceJWTPublicKeyPath string   `yaml:"serviceJWTPublicKeyPath"`
	ServiceJWTKeyID         string   `yaml:"serviceJWTKeyID"`
	ServiceJWTAudience      string   `yaml:"serviceJWTAudience"`
	ServiceJWTIssuers       []string `yaml:"serviceJWTIssuers"`
	// ServiceJWTVerifyKeys holds extra "kid=path" pairs, comma separated,
	// so worker keys can rotate without a restart gap.
	ServiceJWTVerifyKeys string `yaml:"serviceJWTVerifyKeys"`

	InitialCreditGrant int64 `yaml:"initialCreditGrant"`

	RedisAddr       string `yaml:"redisAddr"`
	RedisPassword   string `yaml:"redisPassword"`
	RateLimitPerMin int    `yaml:"rateLimitPerMin"`

	AMQPURL      string `yaml:"amqpURL"`
	AMQPExchange string `yaml:"amqpExchange"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	JobStaleAfter      string `yaml:"jobStaleAfter"`
	JobReclaimInterval string `yaml:"jobReclaimInterval"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("WEBHOOK_SIGNING_SECRET"); v != "" {
		cfg.WebhookSecret = v
	}
	if v := os.Getenv("IDENTITY_JWKS_URL"); v != "" {
		cfg.IdentityJWKSURL = v
	}
	if v := os.Getenv("IDENTITY_ISSUER"); v != "" {
		cfg.IdentityIssuer = v
	}
	if v := os.Getenv("SERVICE_JWT_VERIFY_KEYS"); v != "" {
		cfg.ServiceJWTVerifyKeys = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.AMQPURL = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// validateConfig enforces the settings without which the service must not
// serve traffic. A missing webhook secret in particular is fatal; the
// endpoint would otherwise accept unauthenticated identity events.
func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.WebhookSecret == "" {
		return errors.New("config: webhookSecret is required (set in config.yaml or WEBHOOK_SIGNING_SECRET)")
	}
	if cfg.IdentityIssuer == "" {
		return errors.New("config: identityIssuer is required (set in config.yaml)")
	}
	if cfg.IdentityJWKSURL == "" {
		return errors.New("config: identityJWKSURL is required (set in config.yaml or IDENTITY_JWKS_URL)")
	}
	return nil
}

// ParseDuration parses an optional duration field, returning fallback when
// the field is empty.
func ParseDuration(raw string, fallback time.Duration) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", raw)
	}
	return d, nil
}
