// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	loadEnvFile()

	// Base config
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("../../configs")
	viper.AddConfigPath(".")

	// Enable ENV override like JWT_SECRET
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	// Environment-specific overlay, ignored if not found
	envConfigFile := fmt.Sprintf("config.%s", env)
	viper.SetConfigName(envConfigFile)
	_ = viper.MergeInConfig()

	expandEnvVars(viper.GetViper())

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadEnvFile tries .env from multiple locations so binaries and tests can run
// from different directories.
func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
		"../../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// findProjectRoot walks up directories looking for go.mod.
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		val := v.Get(key)

		if strVal, ok := val.(string); ok {
			if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
				expanded := os.ExpandEnv(strVal)
				if expanded != strVal && expanded != "" {
					v.Set(key, expanded)
				}
			}
		}
	}
}

// overrideEmptyConfig fills secrets from the environment when the yaml left
// them empty.
func overrideEmptyConfig(cfg *Config) {
	if cfg.Auth.JWTSecret == "" {
		if val := os.Getenv("JWT_SECRET"); val != "" {
			cfg.Auth.JWTSecret = val
		}
	}

	if cfg.Integrations.PaymentGateway.APIKey == "" {
		if val := os.Getenv("PAYMENT_GATEWAY_API_KEY"); val != "" {
			cfg.Integrations.PaymentGateway.APIKey = val
		}
	}
	if cfg.Integrations.PaymentGateway.WebhookSecret == "" {
		if val := os.Getenv("PAYMENT_GATEWAY_WEBHOOK_SECRET"); val != "" {
			cfg.Integrations.PaymentGateway.WebhookSecret = val
		}
	}

	if cfg.Database.Postgres.User == "" {
		if val := os.Getenv("DB_USER"); val != "" {
			cfg.Database.Postgres.User = val
		}
	}
	if cfg.Database.Postgres.Password == "" {
		if val := os.Getenv("DB_PASSWORD"); val != "" {
			cfg.Database.Postgres.Password = val
		}
	}
}

// LoadFromFile loads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	expandEnvVars(viper.GetViper())

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for optional configuration fields.
func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.MetricsAddress == "" {
		cfg.Server.MetricsAddress = ":9090"
	}

	// Database defaults
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}

	// Session defaults: bearer tokens are stricter than web cookie sessions.
	if cfg.Session.TokenGraceSeconds == 0 {
		cfg.Session.TokenGraceSeconds = 5
	}
	if cfg.Session.WebGraceSeconds == 0 {
		cfg.Session.WebGraceSeconds = 30
	}
	if cfg.Session.StoreTimeoutMS == 0 {
		cfg.Session.StoreTimeoutMS = 3000
	}

	// Auth defaults
	if cfg.Auth.TokenTTLHours == 0 {
		cfg.Auth.TokenTTLHours = 24 * 30
	}
	if cfg.Auth.CookieName == "" {
		cfg.Auth.CookieName = "member_session"
	}

	// Billing defaults
	if cfg.Billing.Currency == "" {
		cfg.Billing.Currency = "GBP"
	}
	if cfg.Billing.CycleMonths == 0 {
		cfg.Billing.CycleMonths = 1
	}
	if cfg.Billing.DueDays == 0 {
		cfg.Billing.DueDays = 30
	}
	if cfg.Billing.MaxPaymentRetries == 0 {
		cfg.Billing.MaxPaymentRetries = 3
	}
	if cfg.Billing.RetryIntervalHours == 0 {
		cfg.Billing.RetryIntervalHours = 24
	}
	if cfg.Billing.GatewayTimeoutMS == 0 {
		cfg.Billing.GatewayTimeoutMS = 10000
	}

	// Gate defaults
	if cfg.Gate.LoginPath == "" {
		cfg.Gate.LoginPath = "/login"
	}
	if cfg.Gate.BillingPath == "" {
		cfg.Gate.BillingPath = "/billing"
	}
	if len(cfg.Gate.AllowPaths) == 0 {
		cfg.Gate.AllowPaths = []string{
			"/login", "/logout", "/billing", "/payments", "/terms", "/privacy",
		}
	}

	// Scheduler defaults
	if cfg.Scheduler.SweepIntervalMinutes == 0 {
		cfg.Scheduler.SweepIntervalMinutes = 15
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

// validateConfig validates critical configuration fields.
func validateConfig(cfg *Config) error {
	if cfg.Database.Postgres.Host == "" {
		return fmt.Errorf("database.postgres.host is required")
	}
	if cfg.Database.Postgres.Database == "" {
		return fmt.Errorf("database.postgres.database is required")
	}
	if cfg.Database.Postgres.User == "" {
		return fmt.Errorf("database.postgres.user is required")
	}

	if cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required")
	}

	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	if cfg.Billing.TaxRate < 0 || cfg.Billing.TaxRate >= 1 {
		return fmt.Errorf("billing.tax_rate must be in [0, 1)")
	}

	return nil
}

// GetDuration converts milliseconds from config to time.Duration.
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}

// TokenGrace returns the grace window for bearer-token credentials.
func (s SessionConfig) TokenGrace() time.Duration {
	return time.Duration(s.TokenGraceSeconds) * time.Second
}

// WebGrace returns the grace window for web cookie sessions.
func (s SessionConfig) WebGrace() time.Duration {
	return time.Duration(s.WebGraceSeconds) * time.Second
}

// StoreTimeout bounds every session-store call.
func (s SessionConfig) StoreTimeout() time.Duration {
	return GetDuration(s.StoreTimeoutMS)
}

// RecordTTL is the expiry on stored session records; zero keeps them forever.
func (s SessionConfig) RecordTTL() time.Duration {
	return time.Duration(s.RecordTTLHours) * time.Hour
}
