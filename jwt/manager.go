package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the token signature algorithm.
type SigningMethod string

const (
	// MethodEd25519 signs with an Ed25519 key pair (EdDSA).
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with a shared HMAC secret.
	MethodHS256 SigningMethod = "hs256"
)

// TokenTypeBearer is the token_type reported to clients.
const TokenTypeBearer = "Bearer"

const (
	typeAccess  = "access"
	typeRefresh = "refresh"
)

var (
	// ErrTokenInvalid reports a malformed token, a bad signature, or a claim mismatch.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrTokenExpired reports a token whose exp elapsed (after leeway).
	ErrTokenExpired = errors.New("token expired")
	// ErrMissingSigningKey reports an absent signing secret or key.
	ErrMissingSigningKey = errors.New("missing signing key")
)

// Config holds token lifetimes and key material.
//
// For HS256, PrivateKey is the access secret and RefreshKey (optional) the refresh
// secret. For Ed25519, PrivateKey/PublicKey are raw or PEM encoded keys, and
// VerifyKeys enables kid-based rotation.
type Config struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	RefreshKey    []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	RequireIAT    bool
	MaxFutureIAT  time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte

	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// Manager signs and parses access and refresh tokens.
type Manager struct {
	config Config
}

// AccessClaims is the access-token payload. Subject holds the user id.
type AccessClaims struct {
	Username    string   `json:"username"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"perms,omitempty"`
	SessionID   string   `json:"sid"`
	Type        string   `json:"typ"`
	jwt.RegisteredClaims
}

// UserID returns the subject claim.
func (c *AccessClaims) UserID() string { return c.Subject }

// RefreshClaims is the refresh-token payload. ID holds the jti.
type RefreshClaims struct {
	SessionID string `json:"sid"`
	Type      string `json:"typ"`
	jwt.RegisteredClaims
}

// UserID returns the subject claim.
func (c *RefreshClaims) UserID() string { return c.Subject }

// IssueInput is everything a token pair is derived from.
type IssueInput struct {
	UserID      string
	Username    string
	Roles       []string
	Permissions []string
	SessionID   string
	// RefreshJTI is the id the session store expects on the next refresh.
	// Issue generates one when empty.
	RefreshJTI string
}

// TokenPair is an access token plus a refresh token bound to one session.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
	TokenType    string `json:"tokenType"`

	RefreshJTI string    `json:"-"`
	ExpiresAt  time.Time `json:"-"`
}

// NewJTI returns a fresh refresh token id.
func NewJTI() string {
	return uuid.NewString()
}

// NewManager validates cfg and returns a Manager. Absent secrets yield
// ErrMissingSigningKey.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, fmt.Errorf("%w: hs256 requires a secret", ErrMissingSigningKey)
		}
		if len(cfg.RefreshKey) == 0 {
			cfg.RefreshKey = cfg.PrivateKey
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) == 0 {
			return nil, fmt.Errorf("%w: ed25519 requires a private key", ErrMissingSigningKey)
		}
		if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
			return nil, err
		}
		if len(cfg.PublicKey) > 0 {
			if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.VerifyKeys) == 0 && len(cfg.PublicKey) == 0 {
			return nil, fmt.Errorf("%w: ed25519 requires a public key or verify key set", ErrMissingSigningKey)
		}
		for kid, key := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("verify key map contains empty kid")
			}
			if _, err := parseEdPublicKey(key); err != nil {
				return nil, fmt.Errorf("invalid ed25519 verify key for kid %q: %w", kid, err)
			}
		}
	default:
		return nil, errors.New("unsupported signing method")
	}

	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
	}

	return &Manager{config: cfg}, nil
}

// AccessTTL reports the configured access-token lifetime.
func (j *Manager) AccessTTL() time.Duration { return j.config.AccessTTL }

// RefreshTTL reports the configured refresh-token lifetime.
func (j *Manager) RefreshTTL() time.Duration { return j.config.RefreshTTL }

// Issue signs a new access/refresh pair for in.
func (j *Manager) Issue(in IssueInput) (*TokenPair, error) {
	if in.UserID == "" || in.SessionID == "" {
		return nil, errors.New("issue requires user id and session id")
	}
	if in.RefreshJTI == "" {
		in.RefreshJTI = NewJTI()
	}

	access, expiresAt, err := j.CreateAccess(in)
	if err != nil {
		return nil, err
	}
	refresh, err := j.CreateRefresh(in.UserID, in.SessionID, in.RefreshJTI)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(j.config.AccessTTL / time.Second),
		TokenType:    TokenTypeBearer,
		RefreshJTI:   in.RefreshJTI,
		ExpiresAt:    expiresAt,
	}, nil
}

// CreateAccess signs an access token and returns it with its expiry.
func (j *Manager) CreateAccess(in IssueInput) (string, time.Time, error) {
	now := j.config.Now()
	expiresAt := now.Add(j.config.AccessTTL)

	claims := AccessClaims{
		Username:         in.Username,
		Roles:            in.Roles,
		Permissions:      in.Permissions,
		SessionID:        in.SessionID,
		Type:             typeAccess,
		RegisteredClaims: j.registered(in.UserID, now, expiresAt),
	}

	signed, err := j.sign(claims, j.accessSignKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// CreateRefresh signs a refresh token carrying jti.
func (j *Manager) CreateRefresh(userID, sessionID, jti string) (string, error) {
	if jti == "" {
		return "", errors.New("refresh token requires jti")
	}
	now := j.config.Now()

	claims := RefreshClaims{
		SessionID:        sessionID,
		Type:             typeRefresh,
		RegisteredClaims: j.registered(userID, now, now.Add(j.config.RefreshTTL)),
	}
	claims.ID = jti

	return j.sign(claims, j.refreshSignKey)
}

// ParseAccess verifies an access token. It fails with ErrTokenExpired or
// ErrTokenInvalid; a refresh token is never accepted here.
func (j *Manager) ParseAccess(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := j.parse(tokenStr, claims, j.accessVerifyKey); err != nil {
		return nil, err
	}
	if claims.Type != typeAccess || claims.SessionID == "" || claims.Subject == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// ParseRefresh verifies a refresh token with the same contract as ParseAccess.
func (j *Manager) ParseRefresh(tokenStr string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := j.parse(tokenStr, claims, j.refreshVerifyKey); err != nil {
		return nil, err
	}
	if claims.Type != typeRefresh || claims.SessionID == "" || claims.ID == "" || claims.Subject == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func (j *Manager) registered(subject string, now, expiresAt time.Time) jwt.RegisteredClaims {
	rc := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		IssuedAt:  jwt.NewNumericDate(now),
		Issuer:    j.config.Issuer,
	}
	if j.config.Audience != "" {
		rc.Audience = jwt.ClaimStrings{j.config.Audience}
	}
	return rc
}

func (j *Manager) sign(claims jwt.Claims, keyFn func() (interface{}, error)) (string, error) {
	token := jwt.NewWithClaims(j.getMethod(), claims)
	if j.config.KeyID != "" {
		token.Header["kid"] = j.config.KeyID
	}

	signKey, err := keyFn()
	if err != nil {
		return "", err
	}
	return token.SignedString(signKey)
}

type verifyKeyFunc func(kidKey []byte) (interface{}, error)

func (j *Manager) parse(tokenStr string, claims jwt.Claims, verifyKey verifyKeyFunc) error {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{j.getMethod().Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.config.Now),
	}
	if j.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(j.config.Leeway))
	}
	if j.config.RequireIAT {
		options = append(options, jwt.WithIssuedAt())
	}
	if j.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(j.config.Issuer))
	}
	if j.config.Audience != "" {
		options = append(options, jwt.WithAudience(j.config.Audience))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != j.getMethod().Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}

		if len(j.config.VerifyKeys) > 0 {
			kid, _ := t.Header["kid"].(string)
			if kid == "" {
				return nil, errors.New("missing kid")
			}
			key, ok := j.config.VerifyKeys[kid]
			if !ok {
				return nil, errors.New("unknown kid")
			}
			return verifyKey(key)
		}

		if j.config.KeyID != "" {
			kid, _ := t.Header["kid"].(string)
			if kid != j.config.KeyID {
				return nil, errors.New("unknown kid")
			}
		}
		return verifyKey(nil)
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid {
		return ErrTokenInvalid
	}

	iat, _ := claims.GetIssuedAt()
	if iat != nil && iat.Time.After(j.config.Now().Add(j.config.MaxFutureIAT)) {
		return fmt.Errorf("%w: iat too far in the future", ErrTokenInvalid)
	}
	return nil
}

func (j *Manager) getMethod() jwt.SigningMethod {
	switch j.config.SigningMethod {
	case MethodHS256:
		return jwt.SigningMethodHS256
	default:
		return jwt.SigningMethodEdDSA
	}
}

func (j *Manager) accessSignKey() (interface{}, error) {
	if j.config.SigningMethod == MethodHS256 {
		return j.config.PrivateKey, nil
	}
	return parseEdPrivateKey(j.config.PrivateKey)
}

func (j *Manager) refreshSignKey() (interface{}, error) {
	if j.config.SigningMethod == MethodHS256 {
		return j.config.RefreshKey, nil
	}
	return parseEdPrivateKey(j.config.PrivateKey)
}

func (j *Manager) accessVerifyKey(kidKey []byte) (interface{}, error) {
	if j.config.SigningMethod == MethodHS256 {
		if kidKey != nil {
			return kidKey, nil
		}
		return j.config.PrivateKey, nil
	}
	return j.edVerifyKey(kidKey)
}

func (j *Manager) refreshVerifyKey(kidKey []byte) (interface{}, error) {
	if j.config.SigningMethod == MethodHS256 {
		return j.config.RefreshKey, nil
	}
	return j.edVerifyKey(kidKey)
}

func (j *Manager) edVerifyKey(kidKey []byte) (interface{}, error) {
	if kidKey != nil {
		return parseEdPublicKey(kidKey)
	}
	if len(j.config.PublicKey) > 0 {
		return parseEdPublicKey(j.config.PublicKey)
	}
	priv, err := parseEdPrivateKey(j.config.PrivateKey)
	if err != nil {
		return nil, err
	}
	return priv.Public(), nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}

	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}

	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}

	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}

	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}

	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}

	return edKey, nil
}
