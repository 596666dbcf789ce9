package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	Port            string        `yaml:"port"`
	Env             string        `yaml:"env"`
	LogLevel        string        `yaml:"log_level"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	DBName          string        `yaml:"dbname"`
	SSLMode         string        `yaml:"sslmode"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MigrationsPath  string        `yaml:"migrations_path"`
	TxTimeout       time.Duration `yaml:"tx_timeout"`
	TxMaxRetries    int           `yaml:"tx_max_retries"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	EventTTL time.Duration `yaml:"event_ttl"`
}

type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	AuditTopic   string        `yaml:"audit_topic"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// GatewayConfig holds the credentials of one payment provider. A provider is
// enabled only when SecretKey is set.
type GatewayConfig struct {
	BaseURL       string `yaml:"base_url"`
	KeyID         string `yaml:"key_id"`
	SecretKey     string `yaml:"secret_key"`
	WebhookSecret string `yaml:"webhook_secret"`
}

type PaymentsConfig struct {
	Currency   string        `yaml:"currency"`
	Stripe     GatewayConfig `yaml:"stripe"`
	Razorpay   GatewayConfig `yaml:"razorpay"`
	PayPal     GatewayConfig `yaml:"paypal"`
	CODEnabled bool          `yaml:"cod_enabled"`
}

type Config struct {
	App      AppConfig      `yaml:"app"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Auth     AuthConfig     `yaml:"auth"`
	Payments PaymentsConfig `yaml:"payments"`
}

// NewConfig builds the configuration from defaults, an optional YAML file
// (CONFIG_FILE), an optional .env file and finally the process environment.
// Later sources win.
func NewConfig() (*Config, error) {
	cfg := defaults()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadYAML(path, cfg); err != nil {
			return nil, err
		}
	}

	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		App: AppConfig{
			Port:            "8080",
			Env:             "development",
			LogLevel:        "debug",
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			SSLMode:         "disable",
			MaxConns:        10,
			MinConns:        2,
			MaxConnLifetime: 30 * time.Minute,
			MigrationsPath:  "migrations",
			TxTimeout:       5 * time.Second,
			TxMaxRetries:    3,
		},
		Redis: RedisConfig{
			EventTTL: 72 * time.Hour,
		},
		Kafka: KafkaConfig{
			AuditTopic:   "order-audit",
			BatchTimeout: time.Second,
		},
		Payments: PaymentsConfig{
			Currency:   "USD",
			CODEnabled: true,
		},
	}
}

func loadYAML(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
		return fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.App.Port, "APP_PORT")
	setString(&cfg.App.Env, "APP_ENV")
	setString(&cfg.App.LogLevel, "APP_LOG_LEVEL")

	setString(&cfg.Postgres.Host, "DB_HOST")
	setString(&cfg.Postgres.Port, "DB_PORT")
	setString(&cfg.Postgres.User, "DB_USER")
	setString(&cfg.Postgres.Password, "DB_PASSWORD")
	setString(&cfg.Postgres.DBName, "DB_NAME")
	setString(&cfg.Postgres.SSLMode, "DB_SSLMODE")
	setString(&cfg.Postgres.MigrationsPath, "DB_MIGRATIONS_PATH")

	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")

	if brokers := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); brokers != "" {
		cfg.Kafka.Brokers = splitList(brokers)
	}
	setString(&cfg.Kafka.AuditTopic, "KAFKA_AUDIT_TOPIC")

	setString(&cfg.Auth.JWTSecret, "JWT_SECRET")

	setString(&cfg.Payments.Currency, "PAYMENT_CURRENCY")
	setString(&cfg.Payments.Stripe.BaseURL, "STRIPE_BASE_URL")
	setString(&cfg.Payments.Stripe.SecretKey, "STRIPE_SECRET_KEY")
	setString(&cfg.Payments.Stripe.WebhookSecret, "STRIPE_WEBHOOK_SECRET")
	setString(&cfg.Payments.Razorpay.BaseURL, "RAZORPAY_BASE_URL")
	setString(&cfg.Payments.Razorpay.KeyID, "RAZORPAY_KEY_ID")
	setString(&cfg.Payments.Razorpay.SecretKey, "RAZORPAY_KEY_SECRET")
	setString(&cfg.Payments.Razorpay.WebhookSecret, "RAZORPAY_WEBHOOK_SECRET")
	setString(&cfg.Payments.PayPal.BaseURL, "PAYPAL_BASE_URL")
	setString(&cfg.Payments.PayPal.KeyID, "PAYPAL_CLIENT_ID")
	setString(&cfg.Payments.PayPal.SecretKey, "PAYPAL_CLIENT_SECRET")
	setString(&cfg.Payments.PayPal.WebhookSecret, "PAYPAL_WEBHOOK_SECRET")

	var err error
	if cfg.App.ShutdownTimeout, err = durationEnv("APP_SHUTDOWN_TIMEOUT", cfg.App.ShutdownTimeout); err != nil {
		return err
	}
	if cfg.Postgres.MaxConnLifetime, err = durationEnv("DB_MAX_CONN_LIFETIME", cfg.Postgres.MaxConnLifetime); err != nil {
		return err
	}
	if cfg.Postgres.TxTimeout, err = durationEnv("DB_TX_TIMEOUT", cfg.Postgres.TxTimeout); err != nil {
		return err
	}
	if cfg.Redis.EventTTL, err = durationEnv("REDIS_EVENT_TTL", cfg.Redis.EventTTL); err != nil {
		return err
	}
	if cfg.Kafka.BatchTimeout, err = durationEnv("KAFKA_BATCH_TIMEOUT", cfg.Kafka.BatchTimeout); err != nil {
		return err
	}

	maxConns, err := intEnv("DB_MAX_CONNS", int(cfg.Postgres.MaxConns))
	if err != nil {
		return err
	}
	cfg.Postgres.MaxConns = int32(maxConns)
	minConns, err := intEnv("DB_MIN_CONNS", int(cfg.Postgres.MinConns))
	if err != nil {
		return err
	}
	cfg.Postgres.MinConns = int32(minConns)
	if cfg.Postgres.TxMaxRetries, err = intEnv("DB_TX_MAX_RETRIES", cfg.Postgres.TxMaxRetries); err != nil {
		return err
	}
	if cfg.Redis.DB, err = intEnv("REDIS_DB", cfg.Redis.DB); err != nil {
		return err
	}

	if v := strings.TrimSpace(os.Getenv("COD_ENABLED")); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("COD_ENABLED: %w", err)
		}
		cfg.Payments.CODEnabled = enabled
	}

	return nil
}

// Validate reports the first missing required setting.
func (c *Config) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"DB_HOST", c.Postgres.Host},
		{"DB_PORT", c.Postgres.Port},
		{"DB_USER", c.Postgres.User},
		{"DB_PASSWORD", c.Postgres.Password},
		{"DB_NAME", c.Postgres.DBName},
		{"JWT_SECRET", c.Auth.JWTSecret},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s is required", r.name)
		}
	}

	if c.Postgres.MinConns > c.Postgres.MaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) must not exceed DB_MAX_CONNS (%d)", c.Postgres.MinConns, c.Postgres.MaxConns)
	}
	if c.Postgres.TxTimeout <= 0 {
		return errors.New("DB_TX_TIMEOUT must be positive")
	}
	if len(c.Payments.Currency) != 3 {
		return fmt.Errorf("PAYMENT_CURRENCY must be a 3-letter code, got %q", c.Payments.Currency)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func intEnv(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
