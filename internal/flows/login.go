package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/wardAuth/internal/rate"
	"github.com/MrEthical07/wardAuth/jwt"
	"github.com/MrEthical07/wardAuth/rbac"
	"github.com/MrEthical07/wardAuth/session"
)

// LoginFailureKind classifies login flow failures for root-level mapping.
type LoginFailureKind int

const (
	LoginFailureNone LoginFailureKind = iota
	LoginFailureRateLimited
	LoginFailureLookup
	LoginFailureInvalidCredentials
	LoginFailureLocked
	LoginFailureVerify
	LoginFailureResolve
	LoginFailureSession
	LoginFailureIssue
)

// LoginUser is the flow-local view of a credential record.
type LoginUser struct {
	ID               string
	Username         string
	PasswordHash     string
	FailedLoginCount int
	LockedUntil      time.Time
	Active           bool
}

// LoginInput is one login attempt.
type LoginInput struct {
	Username  string
	Password  string
	IPAddress string
	Device    session.DeviceInfo
}

// LoginResult carries either the issued session and tokens or failure metadata.
type LoginResult struct {
	Failure LoginFailureKind
	Err     error
	UserID  string
	// LockedNow is set when this attempt crossed the lockout threshold.
	LockedNow bool
	Attempts  int

	User      LoginUser
	Grants    *rbac.Grants
	SessionID string
	Evicted   []string
	Tokens    *jwt.TokenPair
}

// LoginDeps captures login dependencies. Optional hooks may be nil.
type LoginDeps struct {
	Now              func() time.Time
	LockoutThreshold int
	LockoutDuration  time.Duration

	CheckRate         func(context.Context, string) error
	RecordRateFailure func(context.Context, string) error
	ResetRate         func(context.Context, string) error

	FindUser            func(context.Context, string) (LoginUser, bool, error)
	VerifyPassword      func(password, encoded string) (bool, error)
	DummyVerify         func(password string)
	RecordFailedAttempt func(context.Context, string) (int, error)
	LockAccount         func(context.Context, string, time.Time) error
	ResetFailedAttempts func(context.Context, string) error
	UpgradeHash         func(ctx context.Context, userID, password, encoded string)

	ResolveGrants  func(context.Context, string) (*rbac.Grants, error)
	CreateSession  func(context.Context, session.CreateInput) (string, []string, error)
	DestroySession func(context.Context, string) error
	NewJTI         func() string
	Issue          func(jwt.IssueInput) (*jwt.TokenPair, error)

	Warn func(string, ...any)
}

// RunLogin verifies credentials, applies the lockout policy and, on success,
// creates a session and issues a token pair bound to it.
func RunLogin(ctx context.Context, in LoginInput, deps LoginDeps) LoginResult {
	if deps.CheckRate != nil && in.IPAddress != "" {
		if err := deps.CheckRate(ctx, in.IPAddress); err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				return LoginResult{Failure: LoginFailureRateLimited, Err: err}
			}
			return LoginResult{Failure: LoginFailureLookup, Err: err}
		}
	}

	user, found, err := deps.FindUser(ctx, in.Username)
	if err != nil {
		return LoginResult{Failure: LoginFailureLookup, Err: err}
	}
	if !found {
		if deps.DummyVerify != nil {
			deps.DummyVerify(in.Password)
		}
		recordRateFailure(ctx, in.IPAddress, deps)
		return LoginResult{Failure: LoginFailureInvalidCredentials}
	}
	if !user.Active {
		if deps.DummyVerify != nil {
			deps.DummyVerify(in.Password)
		}
		recordRateFailure(ctx, in.IPAddress, deps)
		return LoginResult{Failure: LoginFailureInvalidCredentials, UserID: user.ID}
	}

	now := deps.Now()
	if user.LockedUntil.After(now) {
		return LoginResult{Failure: LoginFailureLocked, UserID: user.ID}
	}
	if deps.LockoutThreshold > 0 && user.FailedLoginCount >= deps.LockoutThreshold {
		// The lock has expired; counting starts over.
		if err := deps.ResetFailedAttempts(ctx, user.ID); err != nil {
			return LoginResult{Failure: LoginFailureLookup, Err: err, UserID: user.ID}
		}
		user.FailedLoginCount = 0
	}

	ok, err := deps.VerifyPassword(in.Password, user.PasswordHash)
	if err != nil {
		return LoginResult{Failure: LoginFailureVerify, Err: err, UserID: user.ID}
	}
	if !ok {
		return failedAttempt(ctx, user, in.IPAddress, now, deps)
	}

	grants, err := deps.ResolveGrants(ctx, user.ID)
	if err != nil {
		return LoginResult{Failure: LoginFailureResolve, Err: err, UserID: user.ID}
	}

	jti := deps.NewJTI()
	sessionID, evicted, err := deps.CreateSession(ctx, session.CreateInput{
		UserID:     user.ID,
		Username:   user.Username,
		Roles:      grants.RoleCodes(),
		Device:     in.Device,
		IPAddress:  in.IPAddress,
		RefreshJTI: jti,
	})
	if err != nil {
		return LoginResult{Failure: LoginFailureSession, Err: err, UserID: user.ID}
	}

	tokens, err := deps.Issue(jwt.IssueInput{
		UserID:      user.ID,
		Username:    user.Username,
		Roles:       grants.RoleCodes(),
		Permissions: grants.Permissions.Codes(),
		SessionID:   sessionID,
		RefreshJTI:  jti,
	})
	if err != nil {
		if derr := deps.DestroySession(ctx, sessionID); derr != nil {
			warn(deps.Warn, "wardAuth: destroy session after issue failure", "session_id", sessionID, "error", derr)
		}
		return LoginResult{Failure: LoginFailureIssue, Err: err, UserID: user.ID, SessionID: sessionID}
	}

	if user.FailedLoginCount > 0 {
		if err := deps.ResetFailedAttempts(ctx, user.ID); err != nil {
			warn(deps.Warn, "wardAuth: reset failed attempts", "user_id", user.ID, "error", err)
		}
	}
	if deps.ResetRate != nil && in.IPAddress != "" {
		if err := deps.ResetRate(ctx, in.IPAddress); err != nil {
			warn(deps.Warn, "wardAuth: reset login throttle", "error", err)
		}
	}
	if deps.UpgradeHash != nil {
		deps.UpgradeHash(ctx, user.ID, in.Password, user.PasswordHash)
	}

	return LoginResult{
		UserID:    user.ID,
		User:      user,
		Grants:    grants,
		SessionID: sessionID,
		Evicted:   evicted,
		Tokens:    tokens,
	}
}

func failedAttempt(ctx context.Context, user LoginUser, ip string, now time.Time, deps LoginDeps) LoginResult {
	recordRateFailure(ctx, ip, deps)

	res := LoginResult{Failure: LoginFailureInvalidCredentials, UserID: user.ID}
	count, err := deps.RecordFailedAttempt(ctx, user.ID)
	if err != nil {
		return LoginResult{Failure: LoginFailureLookup, Err: err, UserID: user.ID}
	}
	res.Attempts = count

	if deps.LockoutThreshold > 0 && count >= deps.LockoutThreshold {
		if err := deps.LockAccount(ctx, user.ID, now.Add(deps.LockoutDuration)); err != nil {
			return LoginResult{Failure: LoginFailureLookup, Err: err, UserID: user.ID}
		}
		res.LockedNow = true
	}
	return res
}

func recordRateFailure(ctx context.Context, ip string, deps LoginDeps) {
	if deps.RecordRateFailure == nil || ip == "" {
		return
	}
	if err := deps.RecordRateFailure(ctx, ip); err != nil {
		warn(deps.Warn, "wardAuth: record login throttle", "error", err)
	}
}

func warn(fn func(string, ...any), msg string, args ...any) {
	if fn != nil {
		fn(msg, args...)
	}
}
