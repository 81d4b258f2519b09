package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                  string        `mapstructure:"PORT"`
	Env                   string        `mapstructure:"ENV"`
	DatabaseURL           string        `mapstructure:"DATABASE_URL"`
	DBMaxConns            int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns            int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL              string        `mapstructure:"REDIS_URL"`
	JWTSecret             string        `mapstructure:"JWT_SECRET"`
	SessionTTL            time.Duration `mapstructure:"SESSION_TTL"`
	CORSOrigins           []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS          float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst        int           `mapstructure:"RATE_LIMIT_BURST"`
	DashboardPollInterval time.Duration `mapstructure:"DASHBOARD_POLL_INTERVAL"`
	ClinicTimezone        string        `mapstructure:"CLINIC_TIMEZONE"`
	BackupDir             string        `mapstructure:"BACKUP_DIR"`
	RelayURL              string        `mapstructure:"RELAY_URL"`
	RelayForwardToken     string        `mapstructure:"RELAY_FORWARD_TOKEN"`
	TrustedProxies        []string      `mapstructure:"TRUSTED_PROXIES"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("SESSION_TTL", "12h")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("DASHBOARD_POLL_INTERVAL", "30s")
	v.SetDefault("CLINIC_TIMEZONE", "Asia/Manila")
	v.SetDefault("BACKUP_DIR", "./backups")

	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
		"JWT_SECRET", "SESSION_TTL", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
		"DASHBOARD_POLL_INTERVAL", "CLINIC_TIMEZONE", "BACKUP_DIR", "RELAY_URL",
	} {
		v.BindEnv(key)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins)
	cfg.TrustedProxies = splitList(cfg.TrustedProxies)

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() && cfg.JWTSecret == "" {
		log.Println("WARNING: JWT_SECRET not set, using an insecure development secret")
		cfg.JWTSecret = "clinicdesk-dev-secret"
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.IsProduction() && len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters in production, got %d", len(c.JWTSecret))
	}
	if c.DashboardPollInterval <= 0 {
		return fmt.Errorf("DASHBOARD_POLL_INTERVAL must be positive")
	}
	if _, err := time.LoadLocation(c.ClinicTimezone); err != nil {
		return fmt.Errorf("CLINIC_TIMEZONE %q: %w", c.ClinicTimezone, err)
	}
	return nil
}

// RelayConfig configures the CAPTCHA verification relay process.
type RelayConfig struct {
	Port            string        `mapstructure:"RELAY_PORT"`
	Env             string        `mapstructure:"ENV"`
	Secret          string        `mapstructure:"RECAPTCHA_SECRET"`
	VerifyURL       string        `mapstructure:"RECAPTCHA_VERIFY_URL"`
	QuotaPerMinute  int           `mapstructure:"RELAY_QUOTA_PER_MINUTE"`
	RedisURL        string        `mapstructure:"REDIS_URL"`
	CORSOrigins     []string      `mapstructure:"RELAY_CORS_ORIGINS"`
	UpstreamTimeout time.Duration `mapstructure:"RELAY_UPSTREAM_TIMEOUT"`
	// ForwardToken authenticates the clinic server, whose requests are
	// keyed on the client IP it forwards instead of its own address.
	ForwardToken string `mapstructure:"RELAY_FORWARD_TOKEN"`
	// TrustedProxies are CIDRs whose X-Forwarded-For is believed. Empty
	// means the TCP peer address is the caller.
	TrustedProxies []string `mapstructure:"RELAY_TRUSTED_PROXIES"`
}

// LoadRelay reads relay configuration. The shared secret is mandatory: the
// relay refuses to start without it.
func LoadRelay() (*RelayConfig, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("RELAY_PORT", "8787")
	v.SetDefault("ENV", "development")
	v.SetDefault("RECAPTCHA_VERIFY_URL", "https://www.google.com/recaptcha/api/siteverify")
	v.SetDefault("RELAY_QUOTA_PER_MINUTE", 30)
	v.SetDefault("RELAY_CORS_ORIGINS", "*")
	v.SetDefault("RELAY_UPSTREAM_TIMEOUT", "10s")

	for _, key := range []string{
		"RELAY_PORT", "ENV", "RECAPTCHA_SECRET", "RECAPTCHA_VERIFY_URL",
		"RELAY_QUOTA_PER_MINUTE", "REDIS_URL", "RELAY_CORS_ORIGINS", "RELAY_UPSTREAM_TIMEOUT",
	} {
		v.BindEnv(key)
	}
	_ = v.ReadInConfig()

	cfg := &RelayConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal relay config: %w", err)
	}
	cfg.CORSOrigins = splitList(cfg.CORSOrigins)
	cfg.TrustedProxies = splitList(cfg.TrustedProxies)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *RelayConfig) Validate() error {
	if c.Secret == "" {
		return fmt.Errorf("RECAPTCHA_SECRET is required")
	}
	if c.QuotaPerMinute <= 0 {
		return fmt.Errorf("RELAY_QUOTA_PER_MINUTE must be positive, got %d", c.QuotaPerMinute)
	}
	return nil
}

// splitList expands a single comma-separated env value into its items.
func splitList(in []string) []string {
	if len(in) != 1 || !strings.Contains(in[0], ",") {
		return in
	}
	out := make([]string, 0, 4)
	for _, item := range strings.Split(in[0], ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
