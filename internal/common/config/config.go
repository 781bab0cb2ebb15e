// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig          `mapstructure:"app"`
	Server        ServerConfig       `mapstructure:"server"`
	Database      DatabaseConfig     `mapstructure:"database"`
	Session       SessionConfig      `mapstructure:"session"`
	Auth          AuthConfig         `mapstructure:"auth"`
	Billing       BillingConfig      `mapstructure:"billing"`
	Gate          GateConfig         `mapstructure:"gate"`
	Scheduler     SchedulerConfig    `mapstructure:"scheduler"`
	Integrations  IntegrationConfig  `mapstructure:"integrations"`
	Logging       LoggingConfig      `mapstructure:"logging"`
	Notifications NotificationConfig `mapstructure:"notifications"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Address        string   `mapstructure:"address"`
	MetricsAddress string   `mapstructure:"metrics_address"`
	CORSOrigins    []string `mapstructure:"cors_origins"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string.
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// --- Session Authority Config ---

// SessionConfig carries the single-active-session policy knobs. Tokens get a
// tighter grace window than web cookie sessions; keep that ordering when tuning.
type SessionConfig struct {
	TokenGraceSeconds int `mapstructure:"token_grace_seconds"` // bearer tokens (app platform)
	WebGraceSeconds   int `mapstructure:"web_grace_seconds"`   // cookie sessions (web platform)
	StoreTimeoutMS    int `mapstructure:"store_timeout_ms"`
	RecordTTLHours    int `mapstructure:"record_ttl_hours"` // 0 = no expiry on stored records
}

type AuthConfig struct {
	JWTSecret     string `mapstructure:"jwt_secret"`
	TokenTTLHours int    `mapstructure:"token_ttl_hours"`
	CookieName    string `mapstructure:"cookie_name"`
	CookieDomain  string `mapstructure:"cookie_domain"`
}

// --- Billing Engine Config ---
type BillingConfig struct {
	Currency           string  `mapstructure:"currency"`
	TaxRate            float64 `mapstructure:"tax_rate"`
	CycleMonths        int     `mapstructure:"cycle_months"`
	DueDays            int     `mapstructure:"due_days"`
	MaxPaymentRetries  int     `mapstructure:"max_payment_retries"`
	RetryIntervalHours int     `mapstructure:"retry_interval_hours"`
	GatewayTimeoutMS   int     `mapstructure:"gateway_timeout_ms"`
}

// GateConfig drives the request-time allow/deny policy.
type GateConfig struct {
	LoginPath   string   `mapstructure:"login_path"`
	BillingPath string   `mapstructure:"billing_path"`
	AllowPaths  []string `mapstructure:"allow_paths"` // always reachable, even when blocked
}

type SchedulerConfig struct {
	SweepIntervalMinutes int `mapstructure:"sweep_interval_minutes"`
}

// IntegrationConfig holds settings for email/SMS and the payment gateway.
type IntegrationConfig struct {
	AWS struct {
		Region string `mapstructure:"region"`
		SES    struct {
			Enabled   bool   `mapstructure:"enabled"`
			FromEmail string `mapstructure:"from_email"`
		} `mapstructure:"ses"`
		SNS struct {
			Enabled            bool   `mapstructure:"enabled"`
			DefaultSMSSenderID string `mapstructure:"default_sms_sender_id"`
		} `mapstructure:"sns"`
	} `mapstructure:"aws"`

	Identity struct {
		BaseURL   string `mapstructure:"base_url"`
		APIKey    string `mapstructure:"api_key"`
		TimeoutMS int    `mapstructure:"timeout_ms"`
	} `mapstructure:"identity"`

	PaymentGateway struct {
		BaseURL       string `mapstructure:"base_url"`
		APIKey        string `mapstructure:"api_key"`
		WebhookSecret string `mapstructure:"webhook_secret"`
		TimeoutMS     int    `mapstructure:"timeout_ms"`
	} `mapstructure:"payment_gateway"`
}

// NotificationConfig controls which best-effort channels fire after transitions.
type NotificationConfig struct {
	Email struct {
		Enabled   bool   `mapstructure:"enabled"`
		FromEmail string `mapstructure:"from_email"`
	} `mapstructure:"email"`
	SMS struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"sms"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
