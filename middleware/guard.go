package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	wardAuth "github.com/MrEthical07/wardAuth"
	"github.com/MrEthical07/wardAuth/jwt"
	"github.com/MrEthical07/wardAuth/permission"
)

// Engine is the part of *wardAuth.Engine the guard drives.
type Engine interface {
	VerifyAccess(accessToken string) (*jwt.AccessClaims, error)
	CheckSession(ctx context.Context, claims *jwt.AccessClaims) (*wardAuth.Principal, error)
	TouchSession(ctx context.Context, sessionID string) error
	Resolve(ctx context.Context, userID string) (*wardAuth.Grants, error)
	CanAccessWithGrants(ctx context.Context, userID string, g *wardAuth.Grants, resourceType, resourceID, action string) (bool, error)
	LogPermissionDenial(ctx context.Context, userID, descriptor, resourceType, resourceID string)
	RecordAccessGranted()
}

var _ Engine = (*wardAuth.Engine)(nil)

// ErrMissingToken is returned when the Authorization header carries no bearer token.
var ErrMissingToken = fmt.Errorf("%w: missing bearer token", wardAuth.ErrTokenInvalid)

// State is a step of request processing. A request only moves forward; any
// failure ends it in the state it had reached.
type State int

const (
	StateUnauthenticated State = iota
	StateTokenExtracted
	StateTokenVerified
	StateSessionLive
	StateAuthorized
	StateHandlerInvoked
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateTokenExtracted:
		return "token_extracted"
	case StateTokenVerified:
		return "token_verified"
	case StateSessionLive:
		return "session_live"
	case StateAuthorized:
		return "authorized"
	case StateHandlerInvoked:
		return "handler_invoked"
	default:
		return "unknown"
	}
}

// Option configures a guard.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger for rejected requests and failed session touches.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	return o
}

type guard struct {
	engine Engine
	req    AuthRequirement
	logger *slog.Logger
}

// Guard enforces req in front of the wrapped handler. Authentication failures
// answer 401, authorization failures 403. The principal is available to the
// handler through PrincipalFromContext.
func Guard(engine Engine, req AuthRequirement, opts ...Option) func(http.Handler) http.Handler {
	o := buildOptions(opts)
	g := &guard{engine: engine, req: req, logger: o.logger.With("component", "guard")}
	return g.wrap
}

func (g *guard) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.req.Public {
			next.ServeHTTP(w, r)
			return
		}
		if g.engine == nil {
			WriteError(w, wardAuth.ErrEngineNotReady)
			return
		}

		p, state, err := g.run(r)
		if err != nil {
			g.reject(w, r, state, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// run walks the request up to AUTHORIZED and returns the state it stopped in.
func (g *guard) run(r *http.Request) (*wardAuth.Principal, State, error) {
	ctx := r.Context()
	state := StateUnauthenticated

	token, err := BearerToken(r)
	if err != nil {
		return nil, state, err
	}
	state = StateTokenExtracted

	claims, err := g.engine.VerifyAccess(token)
	if err != nil {
		return nil, state, err
	}
	state = StateTokenVerified

	p, err := g.checkSession(ctx, claims)
	if err != nil {
		return nil, state, err
	}
	state = StateSessionLive

	if err := g.authorize(ctx, p, r); err != nil {
		return p, state, err
	}
	if !g.req.Empty() {
		g.engine.RecordAccessGranted()
	}
	return p, StateAuthorized, nil
}

func (g *guard) reject(w http.ResponseWriter, r *http.Request, state State, err error) {
	cat, code := wardAuth.Classify(err)
	if cat == wardAuth.CategoryInternal {
		g.logger.Error("request rejected", "state", state.String(), "path", r.URL.Path, "error", err)
	} else {
		g.logger.Debug("request rejected", "state", state.String(), "path", r.URL.Path, "code", code)
	}
	WriteError(w, err)
}

// BearerToken reads the access token from the Authorization header. The
// scheme is matched case-insensitively and surrounding space is ignored.
func BearerToken(r *http.Request) (string, error) {
	token, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		return "", ErrMissingToken
	}
	return token, nil
}

func bearerToken(value string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(value), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}

// checkSession confirms the session is live, then extends it. A failed
// extension is logged and the request proceeds.
func (g *guard) checkSession(ctx context.Context, claims *jwt.AccessClaims) (*wardAuth.Principal, error) {
	p, err := g.engine.CheckSession(ctx, claims)
	if err != nil {
		return nil, err
	}
	if err := g.engine.TouchSession(ctx, p.SessionID); err != nil {
		g.logger.Warn("session activity update failed", "session_id", p.SessionID, "error", err)
	}
	return p, nil
}

// authorize evaluates the requirement against the caller's current grants.
// Roles are checked first, then permissions, then resource access.
func (g *guard) authorize(ctx context.Context, p *wardAuth.Principal, r *http.Request) error {
	req := g.req
	if req.Empty() {
		return nil
	}

	grants, err := g.engine.Resolve(ctx, p.UserID)
	if err != nil {
		return err
	}

	if len(req.Roles) > 0 && !grants.HasAnyRole(req.Roles) {
		g.engine.LogPermissionDenial(ctx, p.UserID, "role:"+strings.Join(req.Roles, "|"), "", "")
		return wardAuth.ErrInsufficientRole
	}

	if len(req.AllPermissions) > 0 && !grants.HasAllPermissions(req.AllPermissions) {
		g.engine.LogPermissionDenial(ctx, p.UserID, strings.Join(missing(grants, req.AllPermissions), ","), "", "")
		return wardAuth.ErrInsufficientPermissions
	}

	if len(req.AnyPermissions) > 0 && !grants.HasAnyPermission(req.AnyPermissions) {
		g.engine.LogPermissionDenial(ctx, p.UserID, strings.Join(req.AnyPermissions, "|"), "", "")
		return wardAuth.ErrInsufficientPermissions
	}

	if res := req.Resource; res != nil {
		id := r.PathValue(res.IDParam)
		ok, err := g.engine.CanAccessWithGrants(ctx, p.UserID, grants, res.Type, id, res.Action)
		if err != nil {
			return err
		}
		if !ok {
			g.engine.LogPermissionDenial(ctx, p.UserID, permission.Format(res.Type, res.Action, permission.ScopeNone), res.Type, id)
			return wardAuth.ErrResourceAccessDenied
		}
	}
	return nil
}

func missing(g *wardAuth.Grants, codes []string) []string {
	var out []string
	for _, c := range codes {
		if !g.HasAllPermissions([]string{c}) {
			out = append(out, c)
		}
	}
	return out
}

// IsUnauthenticated reports whether err should end a request with 401.
func IsUnauthenticated(err error) bool {
	cat, _ := wardAuth.Classify(err)
	return cat == wardAuth.CategoryUnauthenticated
}

// IsForbidden reports whether err should end a request with 403.
func IsForbidden(err error) bool {
	cat, _ := wardAuth.Classify(err)
	return cat == wardAuth.CategoryForbidden
}
