package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Config holds every setting recognised by the pay-in-3 services.
// Environment variables are read first; a YAML file named by PAYIN3_CONFIG
// overrides any field it sets.
type Config struct {
	Environment string `yaml:"environment"`
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`
	LogFile     string `yaml:"log_file"`
	LogLevel    string `yaml:"log_level"`

	WebhookSecret string        `yaml:"webhook_secret"`
	ReplayWindow  time.Duration `yaml:"replay_window"`

	// OperatorToken guards the scheduler and read routes; empty disables them
	OperatorToken string `yaml:"operator_token"`

	MaxRetries    int           `yaml:"max_retries"`
	TickInterval  time.Duration `yaml:"tick_interval"`
	TickWorkers   int           `yaml:"tick_workers"`
	BatchSize     int           `yaml:"batch_size"`
	ChargeTimeout time.Duration `yaml:"charge_timeout"`

	SecondInstallmentOffset time.Duration `yaml:"second_installment_offset"`
	ThirdInstallmentOffset  time.Duration `yaml:"third_installment_offset"`

	GatewayEnabled bool    `yaml:"gateway_enabled"`
	GatewayID      string  `yaml:"gateway_id"`
	GatewayURL     string  `yaml:"gateway_url"`
	GatewayAPIKey  string  `yaml:"gateway_api_key"`
	MinOrder       float64 `yaml:"min_order"`
	MaxOrder       float64 `yaml:"max_order"`

	StorefrontURL string `yaml:"storefront_url"`
	ReturnURL     string `yaml:"return_url"`

	// EventsURL receives every published event when set
	EventsURL      string   `yaml:"events_url"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

func Load() (*Config, error) {
	cfg := &Config{
		Environment:             getEnv("ENVIRONMENT", "development"),
		Port:                    getEnv("PORT", "8080"),
		DatabaseURL:             getEnv("DATABASE_URL", ""),
		RedisURL:                getEnv("REDIS_URL", ""),
		LogFile:                 getEnv("LOG_FILE", ""),
		LogLevel:                getEnv("LOG_LEVEL", "info"),
		WebhookSecret:           getEnv("WEBHOOK_SECRET", ""),
		OperatorToken:           getEnv("OPERATOR_TOKEN", ""),
		ReplayWindow:            getEnvDuration("REPLAY_WINDOW", 300*time.Second),
		MaxRetries:              getEnvInt("MAX_RETRIES", 3),
		TickInterval:            getEnvDuration("TICK_INTERVAL", 24*time.Hour),
		TickWorkers:             getEnvInt("TICK_WORKERS", 1),
		BatchSize:               getEnvInt("BATCH_SIZE", 500),
		ChargeTimeout:           getEnvDuration("CHARGE_TIMEOUT", 10*time.Second),
		SecondInstallmentOffset: getEnvDuration("SECOND_INSTALLMENT_OFFSET", 30*24*time.Hour),
		ThirdInstallmentOffset:  getEnvDuration("THIRD_INSTALLMENT_OFFSET", 60*24*time.Hour),
		GatewayEnabled:          getEnvBool("GATEWAY_ENABLED", true),
		GatewayID:               getEnv("GATEWAY_ID", "pay-in-3"),
		GatewayURL:              getEnv("GATEWAY_URL", ""),
		GatewayAPIKey:           getEnv("GATEWAY_API_KEY", ""),
		MinOrder:                getEnvFloat("MIN_ORDER", 100),
		MaxOrder:                getEnvFloat("MAX_ORDER", 1000),
		StorefrontURL:           getEnv("STOREFRONT_URL", ""),
		ReturnURL:               getEnv("RETURN_URL", "http://localhost:8080/checkout/order-received"),
		EventsURL:               getEnv("EVENTS_URL", ""),
		AllowedOrigins:          getEnvList("ALLOWED_ORIGINS"),
	}

	if path := os.Getenv("PAYIN3_CONFIG"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// LoadFile overlays the fields present in a YAML file onto cfg.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// IsDevelopment reports whether relaxed validation applies
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "test"
}

func (c *Config) Validate() error {
	var errs []error
	if c.WebhookSecret == "" && !c.IsDevelopment() {
		errs = append(errs, errors.New("WEBHOOK_SECRET is required outside development"))
	}
	if c.ReplayWindow <= 0 {
		errs = append(errs, errors.New("REPLAY_WINDOW must be positive"))
	}
	if c.MaxRetries < 1 {
		errs = append(errs, errors.New("MAX_RETRIES must be at least 1"))
	}
	if c.TickInterval <= 0 {
		errs = append(errs, errors.New("TICK_INTERVAL must be positive"))
	}
	if c.TickWorkers < 1 {
		errs = append(errs, errors.New("TICK_WORKERS must be at least 1"))
	}
	if c.ChargeTimeout <= 0 {
		errs = append(errs, errors.New("CHARGE_TIMEOUT must be positive"))
	}
	if c.SecondInstallmentOffset <= 0 || c.ThirdInstallmentOffset <= c.SecondInstallmentOffset {
		errs = append(errs, errors.New("installment offsets must be positive and increasing"))
	}
	if c.MaxOrder < c.MinOrder {
		errs = append(errs, errors.New("MAX_ORDER must not be below MIN_ORDER"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
