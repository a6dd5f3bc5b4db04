package wardAuth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	internalaudit "github.com/MrEthical07/wardAuth/internal/audit"
	internalmetrics "github.com/MrEthical07/wardAuth/internal/metrics"
	"github.com/MrEthical07/wardAuth/internal/rate"
	"github.com/MrEthical07/wardAuth/jwt"
	"github.com/MrEthical07/wardAuth/password"
	"github.com/MrEthical07/wardAuth/permission"
	"github.com/MrEthical07/wardAuth/rbac"
	"github.com/MrEthical07/wardAuth/session"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. A Builder is single-use.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	permissions []string
	catalog     *rbac.Catalog
	roleStore   rbac.Store
	resolvers   map[string]rbac.ResourceResolver

	userStore UserStore
	auditSink AuditSink
	sessions  session.Backend
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config:    DefaultConfig(),
		resolvers: make(map[string]rbac.ResourceResolver),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis backs sessions, the grant cache and the throttles with rdb.
// Without it sessions live in process memory and the cache and throttles are off.
func (b *Builder) WithRedis(rdb redis.UniversalClient) *Builder {
	b.redis = rdb
	return b
}

// WithPermissions registers permission codes in the bitset registry used
// with an external role store. Unregistered codes still work, unpacked.
func (b *Builder) WithPermissions(perms []string) *Builder {
	b.permissions = perms
	return b
}

// WithCatalog uses a static role catalog as the role store.
func (b *Builder) WithCatalog(c rbac.Catalog) *Builder {
	b.catalog = &c
	return b
}

// WithRoleStore sets the role/permission collaborator.
func (b *Builder) WithRoleStore(s rbac.Store) *Builder {
	b.roleStore = s
	return b
}

// WithResourceResolver registers the ownership lookup for resourceType.
func (b *Builder) WithResourceResolver(resourceType string, r rbac.ResourceResolver) *Builder {
	b.resolvers[resourceType] = r
	return b
}

// WithUserStore sets the credential collaborator.
func (b *Builder) WithUserStore(s UserStore) *Builder {
	b.userStore = s
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithSessionBackend overrides the session store chosen from WithRedis.
func (b *Builder) WithSessionBackend(s session.Backend) *Builder {
	b.sessions = s
	return b
}

func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.config.Logger = l
	return b
}

// WithClock replaces time.Now for sessions, lockout and grant caching.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine. Configuration
// problems come back as *ConfigurationError.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.userStore == nil {
		return nil, configErr("UserStore", "required")
	}
	if b.catalog != nil && b.roleStore != nil {
		return nil, configErr("RoleStore", "set either a catalog or a role store, not both")
	}
	if b.catalog == nil && b.roleStore == nil {
		return nil, configErr("RoleStore", "required")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	jm, err := jwt.NewManager(withClock(cfg.jwtConfig(), now))
	if err != nil {
		field := "JWT"
		if errors.Is(err, jwt.ErrMissingSigningKey) {
			field = "JWT.Secret"
		}
		return nil, configErr(field, err.Error())
	}

	roleStore, registry, err := b.roles(cfg)
	if err != nil {
		return nil, err
	}

	sessions, err := b.sessionBackend(cfg, now, logger)
	if err != nil {
		return nil, err
	}

	verifier, err := password.NewVerifier(cfg.argon2Params(), cfg.Password.BcryptCost)
	if err != nil {
		return nil, configErr("Password", err.Error())
	}

	engine := &Engine{
		config:    cfg,
		logger:    logger.With("component", "engine"),
		now:       now,
		jwt:       jm,
		sessions:  sessions,
		users:     b.userStore,
		passwords: verifier,
		metrics: internalmetrics.New(internalmetrics.Config{
			Enabled:                 cfg.Metrics.Enabled,
			EnableLatencyHistograms: cfg.Metrics.EnableLatencyHistograms,
		}),
		audit: internalaudit.NewDispatcher(internalaudit.Config{
			Enabled:     cfg.Audit.Enabled,
			BufferSize:  cfg.Audit.BufferSize,
			DropIfFull:  cfg.Audit.DropIfFull,
			SinkTimeout: cfg.Audit.SinkTimeout,
		}, b.auditSink, logger),
	}

	rbacOpts := rbac.Options{
		Store:    roleStore,
		Registry: registry,
		Denials:  rbac.DenialRecorderFunc(engine.recordDenial),
		Logger:   logger,
		Now:      now,
	}
	if b.redis != nil && cfg.RBAC.CacheTTL > 0 {
		rbacOpts.Cache = rbac.NewRedisCache(b.redis, cfg.RBAC.CacheRedisPrefix)
		rbacOpts.CacheTTL = cfg.RBAC.CacheTTL
	}
	engine.rbac, err = rbac.NewEngine(rbacOpts)
	if err != nil {
		engine.audit.Close()
		return nil, configErr("RBAC", err.Error())
	}
	for resourceType, r := range b.resolvers {
		engine.rbac.RegisterResolver(resourceType, r)
	}

	if b.redis != nil && (cfg.Throttle.MaxLoginFailuresPerIP > 0 || cfg.Throttle.MaxRefreshesPerSession > 0) {
		engine.limiter = rate.New(b.redis, rate.Config{
			Prefix:                 cfg.Throttle.RedisPrefix,
			MaxLoginFailuresPerIP:  cfg.Throttle.MaxLoginFailuresPerIP,
			LoginWindow:            cfg.Throttle.LoginWindow,
			MaxRefreshesPerSession: cfg.Throttle.MaxRefreshesPerSession,
			RefreshWindow:          cfg.Throttle.RefreshWindow,
		})
	}

	engine.flows = engine.buildFlows()

	if cfg.Session.ReapInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		engine.stopReaper = cancel
		go session.StartReaper(ctx, sessions, cfg.Session.ReapInterval, logger)
	}

	b.built = true

	return engine, nil
}

func withClock(c jwt.Config, now func() time.Time) jwt.Config {
	c.Now = now
	return c
}

func (b *Builder) roles(cfg Config) (rbac.Store, *permission.Registry, error) {
	if b.catalog != nil {
		store, reg, err := b.catalog.Build()
		if err != nil {
			return nil, nil, configErr("Catalog", err.Error())
		}
		return store, reg, nil
	}

	if len(b.permissions) == 0 {
		return b.roleStore, nil, nil
	}
	reg, err := permission.NewRegistry(cfg.RBAC.MaxPermissionBits)
	if err != nil {
		return nil, nil, configErr("RBAC.MaxPermissionBits", err.Error())
	}
	if err := reg.RegisterAll(b.permissions...); err != nil {
		return nil, nil, configErr("Permissions", err.Error())
	}
	reg.Freeze()
	return b.roleStore, reg, nil
}

func (b *Builder) sessionBackend(cfg Config, now func() time.Time, logger *slog.Logger) (session.Backend, error) {
	if b.sessions != nil {
		return b.sessions, nil
	}
	opts := session.Options{
		InactivityTimeout: cfg.Session.InactivityTimeout,
		MaxSessions:       cfg.Session.MaxSessions,
		Policy:            cfg.Session.LimitPolicy,
		Now:               now,
	}
	if b.redis != nil {
		store, err := session.NewStore(b.redis, cfg.Session.RedisPrefix, opts)
		if err != nil {
			return nil, configErr("Session", err.Error())
		}
		return store, nil
	}
	logger.Warn("no redis client configured; sessions are held in process memory")
	store, err := session.NewMemoryStore(opts)
	if err != nil {
		return nil, configErr("Session", fmt.Sprint(err))
	}
	return store, nil
}
