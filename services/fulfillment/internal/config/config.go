// Package config resolves the fulfillment service configuration in priority
// order: defaults, then an optional YAML file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/masukomi/licensezero.com/pkg/signature"
)

const (
	DriverFile     = "file"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

type Config struct {
	HTTPPort int
	LogLevel slog.Level

	StoreDriver string
	DataDir     string
	DatabaseURL string
	RedisURL    string
	RedisPrefix string

	StripeSecretKey     string
	StripeWebhookSecret string

	// AgentKey counter-signs relicense agreements.
	AgentKey signature.KeyPair

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	KafkaBrokers []string
	KafkaTopic   string

	BaseURL    string
	OrderTTL   time.Duration
	BcryptCost int

	// DevMode permits the in-process payment gateway and the in-memory
	// mailer. Without it both Stripe and SMTP must be configured.
	DevMode bool
}

// configFile mirrors the YAML schema. Secrets are accepted here for local
// runs; deployments pass them through the environment.
type configFile struct {
	Service struct {
		HTTPPort int    `yaml:"http_port"`
		LogLevel string `yaml:"log_level"`
		BaseURL  string `yaml:"base_url"`
		OrderTTL string `yaml:"order_ttl"`
		DevMode  bool   `yaml:"dev_mode"`
	} `yaml:"service"`
	Store struct {
		Driver      string `yaml:"driver"`
		DataDir     string `yaml:"data_dir"`
		PostgresURL string `yaml:"postgres_url"`
		RedisURL    string `yaml:"redis_url"`
		RedisPrefix string `yaml:"redis_prefix"`
	} `yaml:"store"`
	Stripe struct {
		SecretKey     string `yaml:"secret_key"`
		WebhookSecret string `yaml:"webhook_secret"`
	} `yaml:"stripe"`
	Agent struct {
		PublicKey  string `yaml:"public_key"`
		PrivateKey string `yaml:"private_key"`
	} `yaml:"agent"`
	SMTP struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		From     string `yaml:"from"`
	} `yaml:"smtp"`
	Kafka struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"kafka"`
}

func defaults() Config {
	return Config{
		HTTPPort:    8080,
		LogLevel:    slog.LevelInfo,
		StoreDriver: DriverFile,
		DataDir:     "data",
		RedisPrefix: "lz",
		SMTPPort:    587,
		SMTPFrom:    "notifications@licensezero.com",
		KafkaTopic:  "licensezero.fulfillment",
		BaseURL:     "https://licensezero.com",
		OrderTTL:    24 * time.Hour,
		BcryptCost:  12,
	}
}

// Load reads path when it exists. A missing file is not an error; a file
// that does not parse is.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := cfg.applyFile(raw); err != nil {
				return Config{}, err
			}
		case !errors.Is(err, os.ErrNotExist):
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg.HTTPPort = envInt("HTTP_PORT", envInt("PORT", cfg.HTTPPort))
	if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		level, err := parseLevel(raw)
		if err != nil {
			return Config{}, err
		}
		cfg.LogLevel = level
	}
	cfg.StoreDriver = strings.ToLower(envOrDefault("STORE_DRIVER", cfg.StoreDriver))
	cfg.DataDir = envOrDefault("DATA_DIR", envOrDefault("DIRECTORY", cfg.DataDir))
	cfg.DatabaseURL = envOrDefault("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.RedisPrefix = envOrDefault("REDIS_PREFIX", cfg.RedisPrefix)
	cfg.StripeSecretKey = envOrDefault("STRIPE_SECRET_KEY", cfg.StripeSecretKey)
	cfg.StripeWebhookSecret = envOrDefault("STRIPE_WEBHOOK_SECRET", cfg.StripeWebhookSecret)
	cfg.AgentKey.PublicKey = envOrDefault("PUBLIC_KEY", cfg.AgentKey.PublicKey)
	cfg.AgentKey.PrivateKey = envOrDefault("PRIVATE_KEY", cfg.AgentKey.PrivateKey)
	cfg.SMTPHost = envOrDefault("SMTP_HOST", cfg.SMTPHost)
	cfg.SMTPPort = envInt("SMTP_PORT", cfg.SMTPPort)
	cfg.SMTPUsername = envOrDefault("SMTP_USERNAME", cfg.SMTPUsername)
	cfg.SMTPPassword = envOrDefault("SMTP_PASSWORD", cfg.SMTPPassword)
	cfg.SMTPFrom = envOrDefault("SMTP_FROM", cfg.SMTPFrom)
	cfg.KafkaBrokers = envCSV("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaTopic = envOrDefault("KAFKA_TOPIC", cfg.KafkaTopic)
	cfg.BaseURL = envOrDefault("BASE_URL", cfg.BaseURL)
	cfg.OrderTTL = time.Duration(envInt("ORDER_TTL_HOURS", int(cfg.OrderTTL.Hours()))) * time.Hour
	cfg.BcryptCost = envInt("BCRYPT_COST", cfg.BcryptCost)
	cfg.DevMode = envBool("DEV_MODE", cfg.DevMode)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyFile(raw []byte) error {
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if f.Service.HTTPPort > 0 {
		c.HTTPPort = f.Service.HTTPPort
	}
	if f.Service.LogLevel != "" {
		level, err := parseLevel(f.Service.LogLevel)
		if err != nil {
			return err
		}
		c.LogLevel = level
	}
	if f.Service.DevMode {
		c.DevMode = true
	}
	if f.Service.BaseURL != "" {
		c.BaseURL = f.Service.BaseURL
	}
	if f.Service.OrderTTL != "" {
		ttl, err := time.ParseDuration(f.Service.OrderTTL)
		if err != nil {
			return fmt.Errorf("parse order_ttl: %w", err)
		}
		c.OrderTTL = ttl
	}
	setString(&c.StoreDriver, f.Store.Driver)
	setString(&c.DataDir, f.Store.DataDir)
	setString(&c.DatabaseURL, f.Store.PostgresURL)
	setString(&c.RedisURL, f.Store.RedisURL)
	setString(&c.RedisPrefix, f.Store.RedisPrefix)
	setString(&c.StripeSecretKey, f.Stripe.SecretKey)
	setString(&c.StripeWebhookSecret, f.Stripe.WebhookSecret)
	setString(&c.AgentKey.PublicKey, f.Agent.PublicKey)
	setString(&c.AgentKey.PrivateKey, f.Agent.PrivateKey)
	setString(&c.SMTPHost, f.SMTP.Host)
	if f.SMTP.Port > 0 {
		c.SMTPPort = f.SMTP.Port
	}
	setString(&c.SMTPUsername, f.SMTP.Username)
	setString(&c.SMTPPassword, f.SMTP.Password)
	setString(&c.SMTPFrom, f.SMTP.From)
	if len(f.Kafka.Brokers) > 0 {
		c.KafkaBrokers = f.Kafka.Brokers
	}
	setString(&c.KafkaTopic, f.Kafka.Topic)
	return nil
}

func (c Config) validate() error {
	switch c.StoreDriver {
	case DriverFile:
		if c.DataDir == "" {
			return errors.New("missing DATA_DIR for file store")
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("missing DATABASE_URL for postgres store")
		}
	case DriverRedis:
		if c.RedisURL == "" {
			return errors.New("missing REDIS_URL for redis store")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q", c.StoreDriver)
	}
	if (c.AgentKey.PublicKey == "") != (c.AgentKey.PrivateKey == "") {
		return errors.New("PUBLIC_KEY and PRIVATE_KEY must be set together")
	}
	if c.OrderTTL <= 0 {
		return errors.New("order TTL must be positive")
	}
	// Holds are captured once delivery succeeds, so a live gateway needs a
	// mailer that actually delivers.
	if c.StripeSecretKey != "" && c.SMTPHost == "" {
		return errors.New("STRIPE_SECRET_KEY requires SMTP_HOST")
	}
	if !c.DevMode {
		if c.StripeSecretKey == "" {
			return errors.New("missing STRIPE_SECRET_KEY (set DEV_MODE for the in-process gateway)")
		}
		if c.SMTPHost == "" {
			return errors.New("missing SMTP_HOST (set DEV_MODE for the in-memory mailer)")
		}
	}
	return nil
}

func parseLevel(raw string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(raw))); err != nil {
		return 0, fmt.Errorf("parse log level: %w", err)
	}
	return level, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func envOrDefault(name, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(name)); value != "" {
		return value
	}
	return fallback
}

// envInt falls back on empty or invalid values.
func envInt(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

// envBool falls back on empty or invalid values.
func envBool(name string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envCSV(name string, fallback []string) []string {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	var parts []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	if len(parts) == 0 {
		return fallback
	}
	return parts
}
