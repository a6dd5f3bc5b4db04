package wardAuth

import (
	"errors"
	"net/http"

	"github.com/MrEthical07/wardAuth/jwt"
	"github.com/MrEthical07/wardAuth/session"
)

var (
	// ErrInvalidCredentials is returned for any failed login. It never says
	// which of username or password was wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned while a lockout window is active.
	ErrAccountLocked = errors.New("account locked")
	// ErrUserNotFound is what a UserStore returns for an unknown username.
	// Login folds it into ErrInvalidCredentials.
	ErrUserNotFound = errors.New("user not found")
	// ErrRateLimited is returned when a login or refresh throttle trips.
	ErrRateLimited = errors.New("rate limited")

	ErrTokenInvalid = jwt.ErrTokenInvalid
	ErrTokenExpired = jwt.ErrTokenExpired

	// ErrSessionExpired also matches ErrSessionNotFound.
	ErrSessionNotFound = session.ErrSessionNotFound
	ErrSessionExpired  = session.ErrSessionExpired
	ErrRefreshReplay   = session.ErrRefreshReplay
	ErrTooManySessions = session.ErrTooManySessions

	// ErrInvalidSession is returned by RefreshTokens when the session behind a
	// refresh token is gone or expired.
	ErrInvalidSession = errors.New("invalid session")

	ErrInsufficientRole        = errors.New("insufficient role")
	ErrInsufficientPermissions = errors.New("insufficient permissions")
	ErrResourceAccessDenied    = errors.New("resource access denied")

	// ErrConfiguration is matched by every *ConfigurationError.
	ErrConfiguration = errors.New("configuration error")
	// ErrEngineNotReady is returned by methods of a zero or unbuilt Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrStoreUnavailable wraps session, role and credential backend failures.
	ErrStoreUnavailable = errors.New("backend unavailable")
)

// ConfigurationError names the setting that stopped the engine from building.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "wardAuth: configuration: " + e.Field + ": " + e.Reason
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

func configErr(field, reason string) error {
	return &ConfigurationError{Field: field, Reason: reason}
}

// Category is the client-facing class of a failure.
type Category int

const (
	CategoryInternal Category = iota
	// CategoryUnauthenticated means "who are you": refresh or log in again.
	CategoryUnauthenticated
	// CategoryForbidden means "not allowed": the identity is fine.
	CategoryForbidden
	CategoryRateLimited
	// CategoryConflict covers a login refused by the session cap.
	CategoryConflict
)

func (c Category) String() string {
	switch c {
	case CategoryUnauthenticated:
		return "unauthenticated"
	case CategoryForbidden:
		return "forbidden"
	case CategoryRateLimited:
		return "rate_limited"
	case CategoryConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// HTTPStatus maps the category onto a response status.
func (c Category) HTTPStatus() int {
	switch c {
	case CategoryUnauthenticated:
		return http.StatusUnauthorized
	case CategoryForbidden:
		return http.StatusForbidden
	case CategoryRateLimited:
		return http.StatusTooManyRequests
	case CategoryConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Stable error codes written to clients.
const (
	CodeInvalidCredentials      = "invalid_credentials"
	CodeAccountLocked           = "account_locked"
	CodeTokenInvalid            = "token_invalid"
	CodeTokenExpired            = "token_expired"
	CodeSessionNotFound         = "session_not_found"
	CodeSessionExpired          = "session_expired"
	CodeInvalidSession          = "invalid_session"
	CodeRefreshReplay           = "refresh_replay"
	CodeTooManySessions         = "too_many_sessions"
	CodeInsufficientRole        = "insufficient_role"
	CodeInsufficientPermissions = "insufficient_permissions"
	CodeResourceAccessDenied    = "resource_access_denied"
	CodeRateLimited             = "rate_limited"
	CodeInternal                = "internal_error"
)

// Classify maps err onto its category and stable code. Unknown errors are
// internal; authentication and authorization failures never share a category.
func Classify(err error) (Category, string) {
	switch {
	case err == nil:
		return CategoryInternal, ""
	// Order matters: wrapped refresh failures match several sentinels.
	case errors.Is(err, ErrRefreshReplay):
		return CategoryUnauthenticated, CodeRefreshReplay
	case errors.Is(err, ErrInvalidSession):
		return CategoryUnauthenticated, CodeInvalidSession
	case errors.Is(err, ErrInvalidCredentials):
		return CategoryUnauthenticated, CodeInvalidCredentials
	case errors.Is(err, ErrAccountLocked):
		return CategoryUnauthenticated, CodeAccountLocked
	case errors.Is(err, ErrTokenExpired):
		return CategoryUnauthenticated, CodeTokenExpired
	case errors.Is(err, ErrTokenInvalid):
		return CategoryUnauthenticated, CodeTokenInvalid
	case errors.Is(err, ErrSessionExpired):
		return CategoryUnauthenticated, CodeSessionExpired
	case errors.Is(err, ErrSessionNotFound):
		return CategoryUnauthenticated, CodeSessionNotFound
	case errors.Is(err, ErrInsufficientRole):
		return CategoryForbidden, CodeInsufficientRole
	case errors.Is(err, ErrInsufficientPermissions):
		return CategoryForbidden, CodeInsufficientPermissions
	case errors.Is(err, ErrResourceAccessDenied):
		return CategoryForbidden, CodeResourceAccessDenied
	case errors.Is(err, ErrTooManySessions):
		return CategoryConflict, CodeTooManySessions
	case errors.Is(err, ErrRateLimited):
		return CategoryRateLimited, CodeRateLimited
	default:
		return CategoryInternal, CodeInternal
	}
}
