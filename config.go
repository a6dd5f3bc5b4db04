package wardAuth

import (
	"log/slog"
	"strings"
	"time"

	"github.com/MrEthical07/wardAuth/jwt"
	"github.com/MrEthical07/wardAuth/password"
	"github.com/MrEthical07/wardAuth/session"
)

// Config is the engine configuration. Start from DefaultConfig and override
// what the deployment needs; Build validates it.
type Config struct {
	JWT      JWTConfig
	Session  SessionConfig
	Lockout  LockoutConfig
	Throttle ThrottleConfig
	RBAC     RBACConfig
	Password PasswordConfig
	Audit    AuditConfig
	Metrics  MetricsConfig

	// Logger receives engine logs. Nil discards them.
	Logger *slog.Logger
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls token signing. HS256 needs Secret (RefreshSecret is
// optional); Ed25519 needs PrivateKey plus PublicKey or VerifyKeys.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod jwt.SigningMethod // "hs256" (default) or "ed25519"
	Secret        []byte
	RefreshSecret []byte
	PrivateKey    []byte
	PublicKey     []byte
	KeyID         string
	VerifyKeys    map[string][]byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls the server-side session store.
type SessionConfig struct {
	InactivityTimeout time.Duration
	// MaxSessions caps live sessions per user. Zero disables the cap.
	MaxSessions int
	LimitPolicy session.LimitPolicy
	RedisPrefix string
	// ReapInterval schedules the hygiene sweep. Zero disables it.
	ReapInterval time.Duration
}

/*
====================================
LOCKOUT / THROTTLE CONFIG
====================================
*/

// LockoutConfig locks an account for Duration once Threshold consecutive
// failures are recorded. Threshold 0 disables lockout.
type LockoutConfig struct {
	Threshold int
	Duration  time.Duration
}

// ThrottleConfig bounds login failures per client IP and refreshes per
// session. It needs Redis; zero maxima disable each throttle.
type ThrottleConfig struct {
	RedisPrefix            string
	MaxLoginFailuresPerIP  int
	LoginWindow            time.Duration
	MaxRefreshesPerSession int
	RefreshWindow          time.Duration
}

/*
====================================
RBAC CONFIG
====================================
*/

// RBACConfig controls grant resolution. CacheTTL > 0 enables the Redis grant
// cache and bounds how stale a role change may be observed.
type RBACConfig struct {
	CacheTTL         time.Duration
	CacheRedisPrefix string
	// MaxPermissionBits sizes the permission bitset: 64, 128, 256 or 512.
	MaxPermissionBits int
}

/*
====================================
PASSWORD / AUDIT / METRICS CONFIG
====================================
*/

// PasswordConfig tunes new hashes. Existing hashes of either scheme verify
// regardless; UpgradeOnLogin rewrites them to the current parameters.
type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	BcryptCost     int
	UpgradeOnLogin bool
}

type AuditConfig struct {
	Enabled     bool
	BufferSize  int
	DropIfFull  bool
	SinkTimeout time.Duration
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the defaults: 1h access tokens, 7d refresh tokens,
// 30 minute sliding sessions capped at 3 per user with oldest-first eviction,
// and a 5 failure / 30 minute lockout. Signing secrets are left empty.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     time.Hour,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: jwt.MethodHS256,
			Issuer:        "wardauth",
			Leeway:        30 * time.Second,
		},
		Session: SessionConfig{
			InactivityTimeout: 30 * time.Minute,
			MaxSessions:       3,
			LimitPolicy:       session.LimitEvictOldest,
			RedisPrefix:       "ws",
			ReapInterval:      10 * time.Minute,
		},
		Lockout: LockoutConfig{
			Threshold: 5,
			Duration:  30 * time.Minute,
		},
		Throttle: ThrottleConfig{
			RedisPrefix:            "wr",
			MaxLoginFailuresPerIP:  50,
			LoginWindow:            15 * time.Minute,
			MaxRefreshesPerSession: 30,
			RefreshWindow:          time.Minute,
		},
		RBAC: RBACConfig{
			CacheTTL:          30 * time.Second,
			CacheRedisPrefix:  "wg",
			MaxPermissionBits: 128,
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			BcryptCost:     12,
			UpgradeOnLogin: true,
		},
		Audit: AuditConfig{
			Enabled:     false,
			BufferSize:  1024,
			DropIfFull:  true,
			SinkTimeout: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.Secret = cloneBytes(cfg.JWT.Secret)
	out.JWT.RefreshSecret = cloneBytes(cfg.JWT.RefreshSecret)
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	if cfg.JWT.VerifyKeys != nil {
		out.JWT.VerifyKeys = make(map[string][]byte, len(cfg.JWT.VerifyKeys))
		for kid, key := range cfg.JWT.VerifyKeys {
			out.JWT.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (c *Config) jwtConfig() jwt.Config {
	out := jwt.Config{
		AccessTTL:     c.JWT.AccessTTL,
		RefreshTTL:    c.JWT.RefreshTTL,
		SigningMethod: c.JWT.SigningMethod,
		Issuer:        c.JWT.Issuer,
		Audience:      c.JWT.Audience,
		Leeway:        c.JWT.Leeway,
		KeyID:         c.JWT.KeyID,
		VerifyKeys:    c.JWT.VerifyKeys,
	}
	switch out.SigningMethod {
	case jwt.MethodHS256:
		out.PrivateKey = c.JWT.Secret
		out.RefreshKey = c.JWT.RefreshSecret
	default:
		out.PrivateKey = c.JWT.PrivateKey
		out.PublicKey = c.JWT.PublicKey
	}
	return out
}

func (c *Config) argon2Params() password.Argon2Params {
	return password.Argon2Params{
		Memory:      c.Password.Memory,
		Time:        c.Password.Time,
		Parallelism: c.Password.Parallelism,
		SaltLength:  c.Password.SaltLength,
		KeyLength:   c.Password.KeyLength,
	}
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks c and returns a *ConfigurationError naming the first bad
// field. Missing signing secrets are reported here, before any token is issued.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return configErr("JWT.AccessTTL", "must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return configErr("JWT.RefreshTTL", "must be > 0")
	}
	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		return configErr("JWT.RefreshTTL", "must be >= AccessTTL")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return configErr("JWT.Leeway", "must be between 0 and 2m")
	}
	if c.JWT.Audience != "" && strings.TrimSpace(c.JWT.Audience) == "" {
		return configErr("JWT.Audience", "must not be blank")
	}
	switch c.JWT.SigningMethod {
	case jwt.MethodHS256:
		if len(c.JWT.Secret) == 0 {
			return configErr("JWT.Secret", "hs256 requires a signing secret")
		}
		if len(c.JWT.Secret) < 32 {
			return configErr("JWT.Secret", "must be at least 32 bytes")
		}
		if len(c.JWT.RefreshSecret) > 0 && len(c.JWT.RefreshSecret) < 32 {
			return configErr("JWT.RefreshSecret", "must be at least 32 bytes")
		}
	case jwt.MethodEd25519:
		if len(c.JWT.PrivateKey) == 0 {
			return configErr("JWT.PrivateKey", "ed25519 requires a private key")
		}
		if len(c.JWT.PublicKey) == 0 && len(c.JWT.VerifyKeys) == 0 {
			return configErr("JWT.PublicKey", "ed25519 requires a public key or verify keys")
		}
	default:
		return configErr("JWT.SigningMethod", "must be hs256 or ed25519")
	}

	// Session
	if c.Session.InactivityTimeout <= 0 {
		return configErr("Session.InactivityTimeout", "must be > 0")
	}
	if c.Session.MaxSessions < 0 {
		return configErr("Session.MaxSessions", "must be >= 0")
	}
	if c.Session.LimitPolicy != session.LimitEvictOldest && c.Session.LimitPolicy != session.LimitReject {
		return configErr("Session.LimitPolicy", "unknown policy")
	}
	if c.Session.ReapInterval < 0 {
		return configErr("Session.ReapInterval", "must be >= 0")
	}

	// Lockout
	if c.Lockout.Threshold < 0 {
		return configErr("Lockout.Threshold", "must be >= 0")
	}
	if c.Lockout.Threshold > 0 && c.Lockout.Duration <= 0 {
		return configErr("Lockout.Duration", "must be > 0 when Threshold is set")
	}

	// Throttle
	if c.Throttle.MaxLoginFailuresPerIP < 0 || c.Throttle.MaxRefreshesPerSession < 0 {
		return configErr("Throttle", "maxima must be >= 0")
	}
	if c.Throttle.MaxLoginFailuresPerIP > 0 && c.Throttle.LoginWindow <= 0 {
		return configErr("Throttle.LoginWindow", "must be > 0")
	}
	if c.Throttle.MaxRefreshesPerSession > 0 && c.Throttle.RefreshWindow <= 0 {
		return configErr("Throttle.RefreshWindow", "must be > 0")
	}

	// RBAC
	if c.RBAC.CacheTTL < 0 {
		return configErr("RBAC.CacheTTL", "must be >= 0")
	}
	switch c.RBAC.MaxPermissionBits {
	case 64, 128, 256, 512:
	default:
		return configErr("RBAC.MaxPermissionBits", "must be 64, 128, 256 or 512")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return configErr("Password.Memory", "must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return configErr("Password.Time", "must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return configErr("Password.Parallelism", "must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return configErr("Password.SaltLength", "must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return configErr("Password.KeyLength", "must be >= 16")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return configErr("Audit.BufferSize", "must be > 0 when audit is enabled")
	}

	return nil
}
