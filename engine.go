package wardAuth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	internalaudit "github.com/MrEthical07/wardAuth/internal/audit"
	"github.com/MrEthical07/wardAuth/internal/flows"
	internalmetrics "github.com/MrEthical07/wardAuth/internal/metrics"
	"github.com/MrEthical07/wardAuth/internal/rate"
	"github.com/MrEthical07/wardAuth/jwt"
	"github.com/MrEthical07/wardAuth/password"
	"github.com/MrEthical07/wardAuth/rbac"
	"github.com/MrEthical07/wardAuth/session"
)

// Engine is the authentication and authorization core. Build one with New()
// and share it; all methods are safe for concurrent use.
type Engine struct {
	config Config
	logger *slog.Logger
	now    func() time.Time

	jwt       *jwt.Manager
	sessions  session.Backend
	users     UserStore
	passwords *password.Verifier
	rbac      *rbac.Engine
	limiter   *rate.Limiter

	audit   *internalaudit.Dispatcher
	metrics *internalmetrics.Metrics
	flows   flows.Service

	stopReaper context.CancelFunc
}

// Close stops the session reaper and drains the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.stopReaper != nil {
		e.stopReaper()
	}
	e.audit.Close()
}

// AuditDropped reports audit events discarded because the buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditFailed reports audit events the sink rejected.
func (e *Engine) AuditFailed() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Failed()
}

// MetricsSnapshot returns a copy of the engine counters. It is empty when
// metrics are disabled.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() bool {
	return e != nil && e.flows.Initialized()
}

// Ping reports the round trip to the session backend.
func (e *Engine) Ping(ctx context.Context) (time.Duration, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	d, err := e.sessions.Ping(ctx)
	if err != nil {
		return d, storeErr(err)
	}
	return d, nil
}

func storeErr(err error) error {
	if err == nil || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

/*
====================================
LOGIN
====================================
*/

// Login verifies credentials, applies the lockout policy, and on success
// creates a session and returns the principal with a token pair bound to it.
// Unknown users, inactive accounts and wrong passwords all yield
// ErrInvalidCredentials.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	ip := req.IPAddress
	if ip == "" {
		ip = clientIPFromContext(ctx)
	}
	var device session.DeviceInfo
	switch {
	case req.Device != nil:
		device = req.Device.Normalize()
	case req.UserAgent != "":
		device = session.ParseUserAgent(req.UserAgent)
	default:
		device = session.ParseUserAgent(userAgentFromContext(ctx))
	}
	ctx = WithClientIP(ctx, ip)

	res := e.flows.Login(ctx, flows.LoginInput{
		Username:  req.Username,
		Password:  req.Password,
		IPAddress: ip,
		Device:    device,
	})

	switch res.Failure {
	case flows.LoginFailureNone:
	case flows.LoginFailureRateLimited:
		e.metricInc(MetricLoginRateLimited)
		e.emitAudit(ctx, auditEventLoginRateLimited, false, "", "", ErrRateLimited, nil)
		return nil, ErrRateLimited
	case flows.LoginFailureInvalidCredentials:
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, res.UserID, "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"attempts": strconv.Itoa(res.Attempts)}
		})
		if res.LockedNow {
			e.metricInc(MetricAccountLockout)
			e.logger.Warn("account locked after repeated failures", "user_id", res.UserID, "attempts", res.Attempts)
			e.emitAudit(ctx, auditEventAccountLocked, true, res.UserID, "", nil, func() map[string]string {
				return map[string]string{"duration": e.config.Lockout.Duration.String()}
			})
		}
		return nil, ErrInvalidCredentials
	case flows.LoginFailureLocked:
		e.metricInc(MetricLoginLocked)
		e.emitAudit(ctx, auditEventLoginFailure, false, res.UserID, "", ErrAccountLocked, nil)
		return nil, ErrAccountLocked
	case flows.LoginFailureSession:
		if errors.Is(res.Err, session.ErrTooManySessions) {
			e.metricInc(MetricSessionRejected)
			e.emitAudit(ctx, auditEventLoginFailure, false, res.UserID, "", ErrTooManySessions, nil)
			return nil, ErrTooManySessions
		}
		return nil, e.loginError(ctx, res, "create session", storeErr(res.Err))
	case flows.LoginFailureLookup, flows.LoginFailureResolve:
		return nil, e.loginError(ctx, res, "load user", storeErr(res.Err))
	case flows.LoginFailureVerify:
		return nil, e.loginError(ctx, res, "verify password", fmt.Errorf("wardAuth: verify password: %w", res.Err))
	default:
		return nil, e.loginError(ctx, res, "issue tokens", fmt.Errorf("wardAuth: issue tokens: %w", res.Err))
	}

	e.metricInc(MetricLoginSuccess)
	e.metricInc(MetricSessionCreated)
	if n := len(res.Evicted); n > 0 {
		e.metrics.Add(MetricSessionEvicted, uint64(n))
		for _, sid := range res.Evicted {
			e.emitAudit(ctx, auditEventSessionEvicted, true, res.UserID, sid, nil, nil)
		}
	}
	e.emitAudit(ctx, auditEventLoginSuccess, true, res.UserID, res.SessionID, nil, func() map[string]string {
		return map[string]string{
			"device_type": string(device.DeviceType),
			"browser":     device.Browser,
			"os":          device.OS,
		}
	})

	return &LoginResult{
		Principal: Principal{
			UserID:      res.User.ID,
			Username:    res.User.Username,
			Roles:       res.Grants.RoleCodes(),
			Permissions: res.Grants.Permissions.Codes(),
			SessionID:   res.SessionID,
		},
		Tokens:  res.Tokens,
		Evicted: res.Evicted,
	}, nil
}

func (e *Engine) loginError(ctx context.Context, res flows.LoginResult, stage string, err error) error {
	e.metricInc(MetricLoginFailure)
	e.logger.Error("login failed", "stage", stage, "user_id", res.UserID, "error", res.Err)
	e.emitAudit(ctx, auditEventLoginFailure, false, res.UserID, res.SessionID, err, func() map[string]string {
		return map[string]string{"stage": stage}
	})
	return err
}

/*
====================================
REFRESH
====================================
*/

// RefreshTokens exchanges a refresh token for a new pair bound to the same
// session. Each refresh token is accepted once: presenting a spent one
// destroys the session and returns ErrRefreshReplay. A session that is gone or
// expired yields ErrInvalidSession.
func (e *Engine) RefreshTokens(ctx context.Context, refreshToken string) (*jwt.TokenPair, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	res := e.flows.Refresh(ctx, refreshToken)
	switch res.Failure {
	case flows.RefreshFailureNone:
	case flows.RefreshFailureDecode:
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", res.Err, func() map[string]string {
			return map[string]string{"reason": "decode_failed"}
		})
		return nil, res.Err
	case flows.RefreshFailureRateLimited:
		e.metricInc(MetricRefreshRateLimited)
		e.emitAudit(ctx, auditEventRefreshRateLimited, false, "", res.SessionID, ErrRateLimited, nil)
		return nil, ErrRateLimited
	case flows.RefreshFailureReplay:
		e.metricInc(MetricRefreshReplay)
		e.metricInc(MetricSessionDestroyed)
		e.logger.Warn("refresh token replayed; session destroyed", "session_id", res.SessionID, "user_id", res.UserID)
		e.emitAudit(ctx, auditEventRefreshReplay, false, res.UserID, res.SessionID, ErrRefreshReplay, nil)
		return nil, ErrRefreshReplay
	case flows.RefreshFailureSessionNotFound:
		e.metricInc(MetricRefreshFailure)
		if errors.Is(res.Err, session.ErrSessionExpired) {
			e.metricInc(MetricSessionExpired)
		}
		e.emitAudit(ctx, auditEventRefreshInvalid, false, res.UserID, res.SessionID, ErrInvalidSession, func() map[string]string {
			return map[string]string{"reason": "session_not_live"}
		})
		return nil, fmt.Errorf("%w: %w", ErrInvalidSession, res.Err)
	case flows.RefreshFailureRotate, flows.RefreshFailureResolve:
		e.metricInc(MetricRefreshFailure)
		e.logger.Error("refresh failed", "session_id", res.SessionID, "error", res.Err)
		err := storeErr(res.Err)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, res.UserID, res.SessionID, err, nil)
		return nil, err
	default:
		e.metricInc(MetricRefreshFailure)
		e.logger.Error("refresh failed", "session_id", res.SessionID, "error", res.Err)
		err := fmt.Errorf("wardAuth: issue tokens: %w", res.Err)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, res.UserID, res.SessionID, err, nil)
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, res.UserID, res.SessionID, nil, nil)
	return res.Tokens, nil
}

/*
====================================
LOGOUT
====================================
*/

// Logout destroys one session. Logging out an absent session succeeds.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if err := e.flows.Logout(ctx, sessionID); err != nil {
		return storeErr(err)
	}
	e.metricInc(MetricSessionDestroyed)
	e.emitAudit(ctx, auditEventLogout, true, "", sessionID, nil, nil)
	return nil
}

// LogoutAll destroys every session of userID and returns how many were live.
func (e *Engine) LogoutAll(ctx context.Context, userID string) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	n, err := e.flows.LogoutAll(ctx, userID)
	if err != nil {
		return n, storeErr(err)
	}
	e.metricInc(MetricLogoutAll)
	e.metrics.Add(MetricSessionDestroyed, uint64(n))
	e.emitAudit(ctx, auditEventLogoutAll, true, userID, "", nil, func() map[string]string {
		return map[string]string{"sessions": strconv.Itoa(n)}
	})
	return n, nil
}

// LockAccount locks userID for d, logs out all of its sessions and drops
// cached grants. It is the administrative counterpart of the login lockout.
func (e *Engine) LockAccount(ctx context.Context, userID string, d time.Duration) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if d <= 0 {
		d = e.config.Lockout.Duration
	}
	if err := e.users.LockAccount(ctx, userID, e.now().Add(d)); err != nil {
		return storeErr(err)
	}
	e.metricInc(MetricAccountLockout)
	e.emitAudit(ctx, auditEventAccountLocked, true, userID, "", nil, func() map[string]string {
		return map[string]string{"duration": d.String(), "source": "admin"}
	})
	if _, err := e.LogoutAll(ctx, userID); err != nil {
		return err
	}
	if err := e.rbac.Invalidate(ctx, userID); err != nil {
		e.logger.Warn("grant cache invalidation failed", "user_id", userID, "error", err)
	}
	return nil
}

/*
====================================
FLOW WIRING
====================================
*/

func (e *Engine) buildFlows() flows.Service {
	login := flows.LoginDeps{
		Now:              e.now,
		LockoutThreshold: e.config.Lockout.Threshold,
		LockoutDuration:  e.config.Lockout.Duration,

		FindUser:            e.findUser,
		VerifyPassword:      e.passwords.Verify,
		DummyVerify:         e.passwords.DummyVerify,
		RecordFailedAttempt: e.users.RecordFailedAttempt,
		LockAccount:         e.users.LockAccount,
		ResetFailedAttempts: e.users.ResetFailedAttempts,

		ResolveGrants:  e.rbac.Resolve,
		CreateSession:  e.sessions.Create,
		DestroySession: e.sessions.Destroy,
		NewJTI:         jwt.NewJTI,
		Issue:          e.jwt.Issue,

		Warn: e.logger.Warn,
	}
	if e.config.Password.UpgradeOnLogin {
		if _, ok := e.users.(PasswordHashUpdater); ok {
			login.UpgradeHash = e.upgradeHash
		}
	}

	refresh := flows.RefreshDeps{
		ParseRefresh:  e.jwt.ParseRefresh,
		NewJTI:        jwt.NewJTI,
		ResolveGrants: e.rbac.Resolve,
		Issue:         e.jwt.Issue,
		SessionStore:  e.sessions,
	}

	if e.limiter != nil {
		login.CheckRate = e.limiter.CheckLogin
		login.RecordRateFailure = e.limiter.RecordLoginFailure
		login.ResetRate = e.limiter.ResetLogin
		refresh.CheckRate = e.limiter.CheckRefresh
	}

	return flows.New(flows.Deps{
		Login:   login,
		Refresh: refresh,
		Validate: flows.ValidateDeps{
			ParseAccess:  e.jwt.ParseAccess,
			SessionStore: e.sessions,
		},
		Logout: flows.LogoutDeps{SessionStore: e.sessions},
	})
}

func (e *Engine) findUser(ctx context.Context, username string) (flows.LoginUser, bool, error) {
	rec, err := e.users.FindByUsername(ctx, username)
	if errors.Is(err, ErrUserNotFound) {
		return flows.LoginUser{}, false, nil
	}
	if err != nil {
		return flows.LoginUser{}, false, err
	}
	if rec == nil {
		return flows.LoginUser{}, false, nil
	}
	return flows.LoginUser{
		ID:               rec.ID,
		Username:         rec.Username,
		PasswordHash:     rec.PasswordHash,
		FailedLoginCount: rec.FailedLoginCount,
		LockedUntil:      rec.LockedUntil,
		Active:           rec.IsActive,
	}, true, nil
}

func (e *Engine) upgradeHash(ctx context.Context, userID, pw, encoded string) {
	stale, err := e.passwords.NeedsRehash(encoded)
	if err != nil || !stale {
		return
	}
	hash, err := e.passwords.Hash(pw)
	if err != nil {
		e.logger.Warn("password rehash failed", "user_id", userID, "error", err)
		return
	}
	if err := e.users.(PasswordHashUpdater).UpdatePasswordHash(ctx, userID, hash); err != nil {
		e.logger.Warn("password hash upgrade not stored", "user_id", userID, "error", err)
	}
}
