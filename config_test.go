package wardAuth

import (
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/wardAuth/session"
)

func validTestConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.Secret = []byte("config-test-secret-config-test-secret")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	return cfg
}

// badField names the field Validate should reject; empty means the config is valid.
func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		badField string
	}{
		{"defaults with secret", func(*Config) {}, ""},
		{"missing signing secret", func(c *Config) { c.JWT.Secret = nil }, "JWT.Secret"},
		{"short signing secret", func(c *Config) { c.JWT.Secret = []byte("short") }, "JWT.Secret"},
		{"leeway above limit", func(c *Config) { c.JWT.Leeway = 3 * time.Minute }, "JWT.Leeway"},
		{"blank audience", func(c *Config) { c.JWT.Audience = "   " }, "JWT.Audience"},
		{"refresh shorter than access", func(c *Config) { c.JWT.RefreshTTL = time.Minute }, "JWT.RefreshTTL"},
		{"unsupported signing method", func(c *Config) { c.JWT.SigningMethod = "rs256" }, "JWT.SigningMethod"},
		{"ed25519 without keys", func(c *Config) { c.JWT.SigningMethod = "ed25519" }, "JWT.PrivateKey"},
		{"zero inactivity timeout", func(c *Config) { c.Session.InactivityTimeout = 0 }, "Session.InactivityTimeout"},
		{"session cap disabled", func(c *Config) { c.Session.MaxSessions = 0 }, ""},
		{"reject policy", func(c *Config) { c.Session.LimitPolicy = session.LimitReject }, ""},
		{"unknown limit policy", func(c *Config) { c.Session.LimitPolicy = session.LimitPolicy(9) }, "Session.LimitPolicy"},
		{"lockout without duration", func(c *Config) { c.Lockout.Duration = 0 }, "Lockout.Duration"},
		{"lockout disabled", func(c *Config) { c.Lockout = LockoutConfig{} }, ""},
		{"permission bits not a mask width", func(c *Config) { c.RBAC.MaxPermissionBits = 1024 }, "RBAC.MaxPermissionBits"},
		{"argon2 memory too low", func(c *Config) { c.Password.Memory = 1024 }, "Password.Memory"},
		{"audit enabled without buffer", func(c *Config) { c.Audit.Enabled, c.Audit.BufferSize = true, 0 }, "Audit.BufferSize"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validTestConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.badField == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			var ce *ConfigurationError
			if !errors.Is(err, ErrConfiguration) || !errors.As(err, &ce) {
				t.Fatalf("Validate() = %v, want ConfigurationError", err)
			}
			if ce.Field != tc.badField {
				t.Fatalf("rejected field %q, want %q", ce.Field, tc.badField)
			}
		})
	}
}

func TestCloneConfigCopiesKeys(t *testing.T) {
	cfg := validTestConfig()
	cfg.JWT.VerifyKeys = map[string][]byte{"k1": []byte("abc")}
	out := cloneConfig(cfg)

	cfg.JWT.Secret[0] = 'X'
	cfg.JWT.VerifyKeys["k1"][0] = 'X'
	if out.JWT.Secret[0] == 'X' || out.JWT.VerifyKeys["k1"][0] == 'X' {
		t.Fatal("clone must not alias key material")
	}
}
