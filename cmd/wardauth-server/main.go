// wardauth-server serves the authentication endpoints of the ward system
// behind the access control middleware.
//
// Settings come from the environment and an optional .env file (see
// internal/config). Postgres is required; REDIS_URL is optional and moves
// sessions, the grant cache and the throttles out of process memory.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	wardAuth "github.com/MrEthical07/wardAuth"
	"github.com/MrEthical07/wardAuth/httpapi"
	"github.com/MrEthical07/wardAuth/internal/config"
	"github.com/MrEthical07/wardAuth/internal/db"
	"github.com/MrEthical07/wardAuth/internal/telemetry"
	otelexport "github.com/MrEthical07/wardAuth/metrics/export/otel"
	"github.com/MrEthical07/wardAuth/metrics/export/prometheus"
	"github.com/MrEthical07/wardAuth/middleware"
	"github.com/MrEthical07/wardAuth/pgstore"
	"github.com/MrEthical07/wardAuth/rbac"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var envFile, addr string
	flagSet := pflag.NewFlagSet("wardauth-server", pflag.ContinueOnError)
	flagSet.StringVar(&envFile, "env-file", ".env", "optional env file read before the environment")
	flagSet.StringVar(&addr, "addr", "", "listen address (overrides HTTP_ADDR)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.HTTPAddr = addr
	}
	level, _ := cfg.Level()
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.Open(ctx, cfg.DatabaseURL, db.PoolConfig{ConnectTimeout: 5 * time.Second})
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer pool.Close()

	engine, err := buildEngine(ctx, cfg, pool, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	if cfg.OTLPEndpoint != "" {
		stopOTLP, err := pushMetrics(ctx, cfg, engine)
		if err != nil {
			return err
		}
		defer stopOTLP()
	}

	handler, err := routes(cfg, engine, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	return nil
}

func buildEngine(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger *slog.Logger) (*wardAuth.Engine, error) {
	ec, err := cfg.Engine(logger)
	if err != nil {
		return nil, err
	}

	b := wardAuth.New().
		WithConfig(ec).
		WithUserStore(pgstore.NewUsers(pool)).
		WithAuditSink(pgstore.NewAuditSink(pool)).
		WithResourceResolver("patient", pgstore.NewPatientResolver(pool))

	if cfg.CatalogFile != "" {
		catalog, err := loadCatalog(cfg.CatalogFile)
		if err != nil {
			return nil, err
		}
		b = b.WithCatalog(catalog)
	} else {
		roles := pgstore.NewRoles(pool)
		codes, err := roles.PermissionCodes(ctx)
		if err != nil {
			return nil, err
		}
		b = b.WithRoleStore(roles).WithPermissions(codes)
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("REDIS_URL: %w", err)
		}
		b = b.WithRedis(redis.NewClient(opts))
	}

	return b.Build()
}

// pushMetrics exports engine metrics to the configured OTLP collector. The
// returned func flushes and stops the export.
func pushMetrics(ctx context.Context, cfg *config.Config, engine *wardAuth.Engine) (func(), error) {
	mp, err := telemetry.NewMeterProvider(ctx, telemetry.Options{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: "wardauth",
		Insecure:    cfg.OTLPInsecure,
	})
	if err != nil {
		return nil, err
	}
	exp, err := otelexport.NewOTelExporter(mp.Meter("github.com/MrEthical07/wardAuth"), engine)
	if err != nil {
		_ = mp.Shutdown(context.Background())
		return nil, err
	}
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mp.Shutdown(shutdownCtx)
		_ = exp.Close()
	}, nil
}

func loadCatalog(path string) (rbac.Catalog, error) {
	var c rbac.Catalog
	f, err := os.Open(path)
	if err != nil {
		return c, fmt.Errorf("catalog: %w", err)
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return c, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

func routes(cfg *config.Config, engine *wardAuth.Engine, logger *slog.Logger) (http.Handler, error) {
	reqs := middleware.Requirements{}
	if cfg.RequirementsFile != "" {
		f, err := os.Open(cfg.RequirementsFile)
		if err != nil {
			return nil, fmt.Errorf("requirements: %w", err)
		}
		reqs, err = middleware.LoadRequirements(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("requirements %s: %w", cfg.RequirementsFile, err)
		}
	}
	table, err := middleware.NewTable(engine, reqs, middleware.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	proxies, err := httpapi.ParseTrustedProxies(cfg.TrustedProxyList())
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	httpapi.New(engine, httpapi.Options{
		TrustedProxies: proxies,
		RefreshCookie:  cfg.RefreshCookie,
		Logger:         logger,
	}).Register(mux, table)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		latency, err := engine.Ping(ctx)
		if err != nil {
			logger.Warn("health check failed", "error", err)
			middleware.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "sessionStoreLatency": latency.String()})
	})
	if cfg.MetricsEnabled {
		mux.Handle("GET /metrics", prometheus.NewPrometheusExporter(engine).Handler())
	}

	for _, p := range table.Unused() {
		logger.Warn("requirement declared for a pattern with no handler", "pattern", p)
	}
	return mux, nil
}
