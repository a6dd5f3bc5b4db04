package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"strings"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

func newEdKeys(t testing.TB) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

func hsConfig() Config {
	return Config{
		AccessTTL:     time.Hour,
		RefreshTTL:    7 * 24 * time.Hour,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("access-secret-access-secret-0123"),
		RefreshKey:    []byte("refresh-secret-refresh-secret-01"),
		Issuer:        "wardauth",
		Audience:      "inpatient-api",
	}
}

func sampleInput() IssueInput {
	return IssueInput{
		UserID:      "u-1",
		Username:    "alice",
		Roles:       []string{"NURSE"},
		Permissions: []string{"vitals:write"},
		SessionID:   "sid-1",
	}
}

func TestIssueAndParse(t *testing.T) {
	m, err := NewManager(hsConfig())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	pair, err := m.Issue(sampleInput())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if pair.TokenType != TokenTypeBearer || pair.ExpiresIn != 3600 || pair.RefreshJTI == "" {
		t.Fatalf("unexpected pair %+v", pair)
	}

	access, err := m.ParseAccess(pair.AccessToken)
	if err != nil {
		t.Fatalf("parse access: %v", err)
	}
	if access.UserID() != "u-1" || access.Username != "alice" || access.SessionID != "sid-1" {
		t.Fatalf("access claims %+v", access)
	}
	if len(access.Roles) != 1 || access.Roles[0] != "NURSE" || len(access.Permissions) != 1 {
		t.Fatalf("roles/perms = %v %v", access.Roles, access.Permissions)
	}

	refresh, err := m.ParseRefresh(pair.RefreshToken)
	if err != nil {
		t.Fatalf("parse refresh: %v", err)
	}
	if refresh.ID != pair.RefreshJTI || refresh.SessionID != "sid-1" || refresh.UserID() != "u-1" {
		t.Fatalf("refresh claims %+v", refresh)
	}
}

func TestIssueKeepsProvidedJTI(t *testing.T) {
	m, _ := NewManager(hsConfig())
	in := sampleInput()
	in.RefreshJTI = "fixed-jti"
	pair, err := m.Issue(in)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	refresh, err := m.ParseRefresh(pair.RefreshToken)
	if err != nil || refresh.ID != "fixed-jti" {
		t.Fatalf("refresh jti = %v, %v", refresh, err)
	}
}

func TestTokenTypesAreNotInterchangeable(t *testing.T) {
	cfg := hsConfig()
	cfg.RefreshKey = nil // same secret for both, so only typ separates them
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	pair, err := m.Issue(sampleInput())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.ParseAccess(pair.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("refresh accepted as access: %v", err)
	}
	if _, err := m.ParseRefresh(pair.AccessToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("access accepted as refresh: %v", err)
	}
}

func TestParseExpired(t *testing.T) {
	now := time.Now()
	cfg := hsConfig()
	cfg.Now = func() time.Time { return now }
	m, _ := NewManager(cfg)
	pair, err := m.Issue(sampleInput())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	now = now.Add(2 * time.Hour)
	if _, err := m.ParseAccess(pair.AccessToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if _, err := m.ParseRefresh(pair.RefreshToken); err != nil {
		t.Fatalf("refresh should still be valid: %v", err)
	}

	now = now.Add(8 * 24 * time.Hour)
	if _, err := m.ParseRefresh(pair.RefreshToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected refresh ErrTokenExpired, got %v", err)
	}
}

func TestParseLeeway(t *testing.T) {
	now := time.Now()
	cfg := hsConfig()
	cfg.Leeway = 30 * time.Second
	cfg.Now = func() time.Time { return now }
	m, _ := NewManager(cfg)
	pair, _ := m.Issue(sampleInput())

	now = now.Add(time.Hour + 10*time.Second)
	if _, err := m.ParseAccess(pair.AccessToken); err != nil {
		t.Fatalf("token within leeway rejected: %v", err)
	}
	now = now.Add(time.Minute)
	if _, err := m.ParseAccess(pair.AccessToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired past leeway, got %v", err)
	}
}

func TestParseRejectsTamperedAndForeignTokens(t *testing.T) {
	m, _ := NewManager(hsConfig())
	pair, _ := m.Issue(sampleInput())

	parts := strings.SplitN(pair.AccessToken, ".", 3)
	tampered := parts[0] + ".f" + parts[1][1:] + "." + parts[2]
	if _, err := m.ParseAccess(tampered); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("tampered: %v", err)
	}

	other := hsConfig()
	other.PrivateKey = []byte("a-completely-different-secret-00")
	om, _ := NewManager(other)
	foreign, _ := om.Issue(sampleInput())
	if _, err := m.ParseAccess(foreign.AccessToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("foreign: %v", err)
	}

	for _, garbage := range []string{"", "abc", "a.b.c"} {
		if _, err := m.ParseAccess(garbage); !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("garbage %q: %v", garbage, err)
		}
	}
}

func TestParseAccessRejectsWrongAlgorithm(t *testing.T) {
	pub, priv := newEdKeys(t)
	m, err := NewManager(Config{
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	claims := AccessClaims{SessionID: "s1", Type: typeAccess, RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "u",
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	token, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString([]byte("secret-secret-secret-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := m.ParseAccess(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected wrong algorithm to be rejected, got %v", err)
	}
}

func TestParseAccessIssuerAudience(t *testing.T) {
	_, priv := newEdKeys(t)
	m, err := NewManager(Config{
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     priv.Public().(ed25519.PublicKey),
		Issuer:        "wardauth",
		Audience:      "api",
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	access, _, err := m.CreateAccess(sampleInput())
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	if _, err := m.ParseAccess(access); err != nil {
		t.Fatalf("expected valid token to parse: %v", err)
	}

	sign := func(iss, aud string) string {
		c := AccessClaims{SessionID: "s1", Type: typeAccess, RegisteredClaims: gjwt.RegisteredClaims{
			Subject:   "u",
			Issuer:    iss,
			Audience:  gjwt.ClaimStrings{aud},
			ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
			IssuedAt:  gjwt.NewNumericDate(time.Now()),
		}}
		s, err := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, c).SignedString(priv)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return s
	}

	if _, err := m.ParseAccess(sign("other", "api")); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("wrong issuer: %v", err)
	}
	if _, err := m.ParseAccess(sign("wardauth", "other-api")); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("wrong audience: %v", err)
	}
	if _, err := m.ParseAccess(sign("wardauth", "api")); err != nil {
		t.Fatalf("hand-signed valid token: %v", err)
	}
}

func TestParseRejectsFutureIAT(t *testing.T) {
	_, priv := newEdKeys(t)
	m, _ := NewManager(Config{
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     priv.Public().(ed25519.PublicKey),
		MaxFutureIAT:  time.Minute,
	})

	c := AccessClaims{SessionID: "s1", Type: typeAccess, RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "u",
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Hour)),
		IssuedAt:  gjwt.NewNumericDate(time.Now().Add(30 * time.Minute)),
	}}
	token, _ := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, c).SignedString(priv)
	if _, err := m.ParseAccess(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected future iat to fail, got %v", err)
	}
}

func TestKeyRotationByKID(t *testing.T) {
	oldPub, oldPriv := newEdKeys(t)
	newPub, newPriv := newEdKeys(t)

	oldMgr, err := NewManager(Config{
		AccessTTL: time.Minute, RefreshTTL: time.Hour, SigningMethod: MethodEd25519,
		PrivateKey: oldPriv, KeyID: "k1",
		VerifyKeys: map[string][]byte{"k1": oldPub},
	})
	if err != nil {
		t.Fatalf("old manager: %v", err)
	}
	rotated, err := NewManager(Config{
		AccessTTL: time.Minute, RefreshTTL: time.Hour, SigningMethod: MethodEd25519,
		PrivateKey: newPriv, KeyID: "k2",
		VerifyKeys: map[string][]byte{"k1": oldPub, "k2": newPub},
	})
	if err != nil {
		t.Fatalf("rotated manager: %v", err)
	}

	old, err := oldMgr.Issue(sampleInput())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := rotated.ParseAccess(old.AccessToken); err != nil {
		t.Fatalf("token signed by retired key should verify: %v", err)
	}
	if _, err := rotated.ParseRefresh(old.RefreshToken); err != nil {
		t.Fatalf("refresh signed by retired key should verify: %v", err)
	}

	fresh, _ := rotated.Issue(sampleInput())
	if _, err := oldMgr.ParseAccess(fresh.AccessToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("unknown kid should fail: %v", err)
	}
}

func TestNewManagerValidation(t *testing.T) {
	pub, priv := newEdKeys(t)
	tests := []struct {
		name       string
		cfg        Config
		missingKey bool
	}{
		{"hs256 without secret", Config{AccessTTL: time.Minute, RefreshTTL: time.Hour, SigningMethod: MethodHS256}, true},
		{"ed25519 without private key", Config{AccessTTL: time.Minute, RefreshTTL: time.Hour, SigningMethod: MethodEd25519, PublicKey: pub}, true},
		{"ed25519 without public key", Config{AccessTTL: time.Minute, RefreshTTL: time.Hour, SigningMethod: MethodEd25519, PrivateKey: priv}, true},
		{"zero ttl", Config{SigningMethod: MethodHS256, PrivateKey: []byte("x")}, false},
		{"unknown method", Config{AccessTTL: time.Minute, RefreshTTL: time.Hour, SigningMethod: "rs256"}, false},
		{"excessive leeway", Config{AccessTTL: time.Minute, RefreshTTL: time.Hour, SigningMethod: MethodHS256, PrivateKey: []byte("x"), Leeway: time.Hour}, false},
		{"kid missing from verify keys", Config{
			AccessTTL: time.Minute, RefreshTTL: time.Hour, SigningMethod: MethodEd25519,
			PrivateKey: priv, KeyID: "k9", VerifyKeys: map[string][]byte{"k1": pub},
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewManager(tt.cfg)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, ErrMissingSigningKey); got != tt.missingKey {
				t.Fatalf("errors.Is(ErrMissingSigningKey) = %v for %v", got, err)
			}
		})
	}
}

func TestIssueRequiresIdentity(t *testing.T) {
	m, _ := NewManager(hsConfig())
	if _, err := m.Issue(IssueInput{UserID: "u"}); err == nil {
		t.Fatal("expected error without session id")
	}
	if _, err := m.CreateRefresh("u", "s", ""); err == nil {
		t.Fatal("expected error without jti")
	}
}
