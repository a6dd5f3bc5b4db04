package flows

import (
	"context"

	"github.com/MrEthical07/wardAuth/jwt"
)

// Service is the centralized flow runner built once by the root engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.Validate.ParseAccess != nil && s.deps.Login.FindUser != nil
}

func (s Service) Login(ctx context.Context, in LoginInput) LoginResult {
	return RunLogin(ctx, in, s.deps.Login)
}

func (s Service) Refresh(ctx context.Context, refreshToken string) RefreshResult {
	return RunRefresh(ctx, refreshToken, s.deps.Refresh)
}

func (s Service) VerifyToken(tokenStr string) ValidateResult {
	return RunVerifyToken(tokenStr, s.deps.Validate)
}

func (s Service) CheckSession(ctx context.Context, claims *jwt.AccessClaims) ValidateResult {
	return RunCheckSession(ctx, claims, s.deps.Validate)
}

func (s Service) Validate(ctx context.Context, tokenStr string) ValidateResult {
	return RunValidate(ctx, tokenStr, s.deps.Validate)
}

func (s Service) Logout(ctx context.Context, sessionID string) error {
	return RunLogout(ctx, sessionID, s.deps.Logout)
}

func (s Service) LogoutAll(ctx context.Context, userID string) (int, error) {
	return RunLogoutAll(ctx, userID, s.deps.Logout)
}

func (s Service) LogoutOthers(ctx context.Context, userID, keepSessionID string) (int, error) {
	return RunLogoutOthers(ctx, userID, keepSessionID, s.deps.Logout)
}
