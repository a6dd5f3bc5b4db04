// Package config loads the server's settings from the environment and an
// optional .env file using Viper, and maps them onto wardAuth.Config.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	wardAuth "github.com/MrEthical07/wardAuth"
	"github.com/MrEthical07/wardAuth/jwt"
	"github.com/MrEthical07/wardAuth/session"
	"github.com/spf13/viper"
)

// Config holds the server settings.
type Config struct {
	HTTPAddr    string `mapstructure:"HTTP_ADDR"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisURL enables the Redis session store, grant cache and throttles.
	RedisURL string `mapstructure:"REDIS_URL"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	JWTSecret     string `mapstructure:"JWT_SECRET"`
	JWTIssuer     string `mapstructure:"JWT_ISSUER"`
	JWTAudience   string `mapstructure:"JWT_AUDIENCE"`
	JWTAccessTTL  string `mapstructure:"JWT_ACCESS_TTL"`
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`

	SessionInactivityTimeout string `mapstructure:"SESSION_INACTIVITY_TIMEOUT"`
	SessionMax               int    `mapstructure:"SESSION_MAX"`
	// SessionLimitPolicy is evict_oldest or reject.
	SessionLimitPolicy string `mapstructure:"SESSION_LIMIT_POLICY"`

	LockoutThreshold int    `mapstructure:"LOCKOUT_THRESHOLD"`
	LockoutDuration  string `mapstructure:"LOCKOUT_DURATION"`

	AuditEnabled   bool `mapstructure:"AUDIT_ENABLED"`
	MetricsEnabled bool `mapstructure:"METRICS_ENABLED"`
	// OTLPEndpoint, when set, also pushes metrics to an OTLP collector.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// TrustedProxies is a comma-separated list of CIDRs or addresses.
	TrustedProxies string `mapstructure:"TRUSTED_PROXIES"`
	// RequirementsFile is the YAML endpoint requirement table.
	RequirementsFile string `mapstructure:"REQUIREMENTS_FILE"`
	// CatalogFile is a YAML role catalog used instead of the role tables.
	CatalogFile   string `mapstructure:"CATALOG_FILE"`
	RefreshCookie bool   `mapstructure:"REFRESH_COOKIE"`
}

// Load reads envFile (ignored when missing), then the environment, which
// takes precedence. An empty envFile means ".env".
func Load(envFile string) (*Config, error) {
	v := viper.New()

	if envFile == "" {
		envFile = ".env"
	}
	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil && !missingFile(err) {
		return nil, fmt.Errorf("config: read %s: %w", envFile, err)
	}

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_ISSUER", "wardauth")
	v.SetDefault("JWT_AUDIENCE", "")
	v.SetDefault("JWT_ACCESS_TTL", "1h")
	v.SetDefault("JWT_REFRESH_TTL", "168h")
	v.SetDefault("SESSION_INACTIVITY_TIMEOUT", "30m")
	v.SetDefault("SESSION_MAX", 3)
	v.SetDefault("SESSION_LIMIT_POLICY", "evict_oldest")
	v.SetDefault("LOCKOUT_THRESHOLD", 5)
	v.SetDefault("LOCKOUT_DURATION", "30m")
	v.SetDefault("AUDIT_ENABLED", true)
	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("TRUSTED_PROXIES", "")
	v.SetDefault("REQUIREMENTS_FILE", "")
	v.SetDefault("CATALOG_FILE", "")
	v.SetDefault("REFRESH_COOKIE", false)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if _, err := cfg.Level(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func missingFile(err error) bool {
	var nf viper.ConfigFileNotFoundError
	return errors.As(err, &nf) || errors.Is(err, os.ErrNotExist)
}

// Level parses LOG_LEVEL.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("config: LOG_LEVEL: %w", err)
	}
	return l, nil
}

// TrustedProxyList splits TRUSTED_PROXIES.
func (c *Config) TrustedProxyList() []string {
	return splitList(c.TrustedProxies)
}

// Engine maps the settings onto a wardAuth.Config. Signing key validation is
// left to the engine builder.
func (c *Config) Engine(logger *slog.Logger) (wardAuth.Config, error) {
	out := wardAuth.DefaultConfig()
	out.Logger = logger

	out.JWT.SigningMethod = jwt.MethodHS256
	out.JWT.Secret = []byte(c.JWTSecret)
	out.JWT.Issuer = c.JWTIssuer
	out.JWT.Audience = c.JWTAudience

	var err error
	if out.JWT.AccessTTL, err = duration("JWT_ACCESS_TTL", c.JWTAccessTTL); err != nil {
		return out, err
	}
	if out.JWT.RefreshTTL, err = duration("JWT_REFRESH_TTL", c.JWTRefreshTTL); err != nil {
		return out, err
	}
	if out.Session.InactivityTimeout, err = duration("SESSION_INACTIVITY_TIMEOUT", c.SessionInactivityTimeout); err != nil {
		return out, err
	}
	if out.Lockout.Duration, err = duration("LOCKOUT_DURATION", c.LockoutDuration); err != nil {
		return out, err
	}
	if out.Session.LimitPolicy, err = session.ParseLimitPolicy(c.SessionLimitPolicy); err != nil {
		return out, fmt.Errorf("config: SESSION_LIMIT_POLICY: %w", err)
	}
	out.Session.MaxSessions = c.SessionMax
	out.Lockout.Threshold = c.LockoutThreshold
	out.Audit.Enabled = c.AuditEnabled
	out.Metrics.Enabled = c.MetricsEnabled
	out.Metrics.EnableLatencyHistograms = c.MetricsEnabled
	return out, nil
}

func duration(key, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config: %s must be positive", key)
	}
	return d, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
