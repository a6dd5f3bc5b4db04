package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	wardAuth "github.com/MrEthical07/wardAuth"
	"github.com/MrEthical07/wardAuth/jwt"
	"github.com/MrEthical07/wardAuth/middleware"
	"github.com/MrEthical07/wardAuth/session"
)

const maxBodyBytes = 64 << 10

const refreshCookieName = "refresh_token"

// Engine is the part of *wardAuth.Engine the auth endpoints call.
type Engine interface {
	middleware.Engine
	Login(ctx context.Context, req wardAuth.LoginRequest) (*wardAuth.LoginResult, error)
	RefreshTokens(ctx context.Context, refreshToken string) (*jwt.TokenPair, error)
	Logout(ctx context.Context, sessionID string) error
	ListSessions(ctx context.Context, p *wardAuth.Principal) ([]wardAuth.SessionInfo, error)
	DestroySession(ctx context.Context, p *wardAuth.Principal, sessionID string) error
	DestroyOtherSessions(ctx context.Context, p *wardAuth.Principal) (int, error)
}

var _ Engine = (*wardAuth.Engine)(nil)

// Options configures the auth endpoints.
type Options struct {
	// TrustedProxies lists peers whose X-Forwarded-For header is believed.
	TrustedProxies []netip.Prefix
	// RefreshCookie also sets the refresh token as an HttpOnly cookie, and
	// lets /auth/refresh read it from there.
	RefreshCookie bool
	RefreshTTL    time.Duration
	Logger        *slog.Logger
}

// Handler serves the /auth endpoints.
type Handler struct {
	engine Engine
	opts   Options
	logger *slog.Logger
}

func New(engine Engine, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = 7 * 24 * time.Hour
	}
	return &Handler{
		engine: engine,
		opts:   opts,
		logger: logger.With("component", "httpapi"),
	}
}

// Register mounts the endpoints on mux. Login, refresh and logout handle
// their own credentials; the session endpoints sit behind table.
func (h *Handler) Register(mux *http.ServeMux, table *middleware.Table) {
	mux.HandleFunc("POST /auth/login", h.withClient(h.login))
	mux.HandleFunc("POST /auth/refresh", h.withClient(h.refresh))
	mux.HandleFunc("POST /auth/logout", h.withClient(h.logout))

	table.HandleFunc(mux, "GET /auth/me", h.withClient(h.me))
	table.HandleFunc(mux, "GET /auth/sessions", h.withClient(h.listSessions))
	table.HandleFunc(mux, "DELETE /auth/sessions/{id}", h.withClient(h.deleteSession))
	table.HandleFunc(mux, "DELETE /auth/sessions", h.withClient(h.deleteOtherSessions))
}

func (h *Handler) withClient(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := wardAuth.WithClientIP(r.Context(), ClientIP(r, h.opts.TrustedProxies))
		ctx = wardAuth.WithUserAgent(ctx, r.UserAgent())
		next(w, r.WithContext(ctx))
	}
}

/*
====================================
LOGIN / REFRESH / LOGOUT
====================================
*/

type loginRequest struct {
	Username   string              `json:"username"`
	Password   string              `json:"password"`
	DeviceInfo *session.DeviceInfo `json:"deviceInfo,omitempty"`
}

// LoginResponse is the body of a successful login.
type LoginResponse struct {
	User         wardAuth.Principal `json:"user"`
	AccessToken  string             `json:"accessToken"`
	RefreshToken string             `json:"refreshToken"`
	ExpiresIn    int64              `json:"expiresIn"`
	TokenType    string             `json:"tokenType"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if !h.decode(w, r, &body) {
		return
	}
	if body.Username == "" || body.Password == "" {
		writeBadRequest(w, "username and password are required")
		return
	}

	res, err := h.engine.Login(r.Context(), wardAuth.LoginRequest{
		Username:  body.Username,
		Password:  body.Password,
		Device:    body.DeviceInfo,
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.setRefreshCookie(w, r, res.Tokens.RefreshToken)
	middleware.WriteJSON(w, http.StatusOK, LoginResponse{
		User:         res.Principal,
		AccessToken:  res.Tokens.AccessToken,
		RefreshToken: res.Tokens.RefreshToken,
		ExpiresIn:    res.Tokens.ExpiresIn,
		TokenType:    res.Tokens.TokenType,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var body refreshRequest
	if r.ContentLength != 0 {
		if !h.decode(w, r, &body) {
			return
		}
	}
	token := body.RefreshToken
	if token == "" && h.opts.RefreshCookie {
		if c, err := r.Cookie(refreshCookieName); err == nil {
			token = c.Value
		}
	}
	if token == "" {
		writeBadRequest(w, "refreshToken is required")
		return
	}

	pair, err := h.engine.RefreshTokens(r.Context(), token)
	if err != nil {
		if h.opts.RefreshCookie {
			h.clearRefreshCookie(w, r)
		}
		h.fail(w, r, err)
		return
	}
	h.setRefreshCookie(w, r, pair.RefreshToken)
	middleware.WriteJSON(w, http.StatusOK, pair)
}

type messageResponse struct {
	Message string `json:"message"`
}

// logout only needs a genuine token: a session that is already gone still
// logs out successfully.
func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	token, err := middleware.BearerToken(r)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	claims, err := h.engine.VerifyAccess(token)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.engine.Logout(r.Context(), claims.SessionID); err != nil {
		h.fail(w, r, err)
		return
	}
	if h.opts.RefreshCookie {
		h.clearRefreshCookie(w, r)
	}
	middleware.WriteJSON(w, http.StatusOK, messageResponse{Message: "logged out"})
}

/*
====================================
CURRENT USER / SESSIONS
====================================
*/

// MeResponse describes the caller from the role store's current view.
type MeResponse struct {
	ID          string   `json:"id"`
	Username    string   `json:"username"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	Level       int      `json:"level"`
	SessionID   string   `json:"sessionId"`
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		middleware.WriteError(w, wardAuth.ErrSessionNotFound)
		return
	}
	g, err := h.engine.Resolve(r.Context(), p.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	perms := []string{}
	if g.Permissions != nil {
		perms = g.Permissions.Codes()
	}
	roles := g.RoleCodes()
	if roles == nil {
		roles = []string{}
	}
	middleware.WriteJSON(w, http.StatusOK, MeResponse{
		ID:          p.UserID,
		Username:    p.Username,
		Roles:       roles,
		Permissions: perms,
		Level:       g.HighestLevel(),
		SessionID:   p.SessionID,
	})
}

type sessionsResponse struct {
	Sessions []wardAuth.SessionInfo `json:"sessions"`
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	list, err := h.engine.ListSessions(r.Context(), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if list == nil {
		list = []wardAuth.SessionInfo{}
	}
	middleware.WriteJSON(w, http.StatusOK, sessionsResponse{Sessions: list})
}

func (h *Handler) deleteSession(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	if err := h.engine.DestroySession(r.Context(), p, r.PathValue("id")); err != nil {
		// Another user's session id must look absent, not forbidden.
		if errors.Is(err, wardAuth.ErrSessionNotFound) {
			middleware.WriteJSON(w, http.StatusNotFound, middleware.ErrorBody{Error: middleware.ErrorDetail{
				Code:    wardAuth.CodeSessionNotFound,
				Message: "session not found",
			}})
			return
		}
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type destroyedResponse struct {
	Destroyed int `json:"destroyed"`
}

func (h *Handler) deleteOtherSessions(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	n, err := h.engine.DestroyOtherSessions(r.Context(), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, destroyedResponse{Destroyed: n})
}

/*
====================================
HELPERS
====================================
*/

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			writeBadRequest(w, "request body is required")
		} else {
			writeBadRequest(w, "malformed JSON body")
		}
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if cat, _ := wardAuth.Classify(err); cat == wardAuth.CategoryInternal {
		h.logger.Error("request failed", "path", r.URL.Path, "error", err)
	}
	middleware.WriteError(w, err)
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	middleware.WriteJSON(w, http.StatusBadRequest, middleware.ErrorBody{Error: middleware.ErrorDetail{
		Code:    "bad_request",
		Message: msg,
	}})
}

func (h *Handler) setRefreshCookie(w http.ResponseWriter, r *http.Request, token string) {
	if !h.opts.RefreshCookie {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    token,
		Path:     "/auth",
		MaxAge:   int(h.opts.RefreshTTL.Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearRefreshCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Path:     "/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
}
