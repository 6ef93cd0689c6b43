// Package app wires the shared dependencies of the broker and MCP gateway
// processes from config.
package app

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"grcbridge/internal/archer"
	"grcbridge/internal/broker"
	"grcbridge/internal/gateway"
	"grcbridge/internal/metrics"
	"grcbridge/internal/session"
	"grcbridge/pkg/config"
	"grcbridge/pkg/db"
	"grcbridge/pkg/middleware"
	"grcbridge/pkg/openapi"
	"grcbridge/pkg/secrets"
	"grcbridge/pkg/tenants"
	"grcbridge/pkg/tools"
)

// Version is stamped at build time with -ldflags.
var Version = "dev"

// App holds process-wide dependencies. Request-scoped work uses context.
type App struct {
	Cfg      config.Config
	Log      *zap.SugaredLogger
	Pool     *pgxpool.Pool
	Redis    *redis.Client
	Tenants  tenants.Provider
	Store    session.Store
	Sessions *session.Service
	Tools    *tools.Registry
	Executor *gateway.Executor
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry
}

// New connects to the configured backends, ensures schemas and builds the
// session and tool layers. Startup failures are fatal.
func New(cfg config.Config, log *zap.SugaredLogger) *App {
	a := &App{Cfg: cfg, Log: log, Registry: prometheus.NewRegistry()}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(a.Registry)

	a.Pool = db.MustConnect(cfg, log)
	if cfg.SessionStore == "redis" {
		a.Redis = db.MustRedis(cfg, log)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.Pool != nil {
		a.Tenants = tenants.NewPostgresProvider(a.Pool, log)
		if err := tenants.EnsureSchema(ctx, a.Pool); err != nil {
			log.Fatalw("tenant schema", "err", err)
		}
		if err := tenants.SeedFromEnv(ctx, a.Pool, os.Getenv("TENANT_SEED_JSON")); err != nil {
			log.Warnw("tenant seed", "err", err)
		}
		if err := tools.EnsureSchema(ctx, a.Pool); err != nil {
			log.Fatalw("tool schema", "err", err)
		}
		if err := gateway.EnsureUsageSchema(ctx, a.Pool); err != nil {
			log.Fatalw("usage schema", "err", err)
		}
	} else {
		a.Tenants = tenants.NewMemoryProviderFromEnv(log)
	}

	sealer, err := secrets.NewSealer(cfg.EncryptionKey)
	if err != nil {
		log.Fatalw("sealer", "err", err)
	}
	storeOpts := []session.StoreOption{
		session.WithStoreMetrics(a.Metrics),
		session.WithRetention(cfg.SessionRetention),
	}
	switch cfg.SessionStore {
	case "postgres":
		if a.Pool == nil {
			log.Fatalw("SESSION_STORE=postgres needs DATABASE_URL")
		}
		if err := session.EnsureSchema(ctx, a.Pool); err != nil {
			log.Fatalw("session schema", "err", err)
		}
		a.Store = session.NewPostgresStore(a.Pool, sealer, storeOpts...)
	case "redis":
		if a.Redis == nil {
			log.Fatalw("SESSION_STORE=redis needs REDIS_URL")
		}
		a.Store = session.NewRedisStore(a.Redis, sealer, storeOpts...)
	case "memory":
		a.Store = session.NewMemoryStore(storeOpts...)
	default:
		log.Fatalw("unknown SESSION_STORE", "value", cfg.SessionStore)
	}
	log.Infow("session store ready", "store", cfg.SessionStore, "sealed", sealer.Encrypting(),
		"ttl", cfg.SessionTTL, "retention", cfg.SessionRetention)

	client := archer.NewHTTPClient(archer.ClientOptions{
		ConnectTimeout:     cfg.ArcherConnectTimeout,
		Timeout:            cfg.ArcherTimeout,
		InsecureSkipVerify: cfg.ArcherInsecureTLS,
	})
	auth := archer.New(client, log, archer.WithMetrics(a.Metrics))
	a.Sessions = session.NewService(a.Store, auth, cfg.SessionTTL, log, a.Metrics)

	a.Tools = tools.NewRegistry(a.Pool)
	if n, err := a.Tools.LoadDir(cfg.ToolCatalogDir); err != nil {
		log.Fatalw("tool catalog", "dir", cfg.ToolCatalogDir, "err", err)
	} else if n > 0 {
		log.Infow("tool catalog loaded", "dir", cfg.ToolCatalogDir, "tools", n)
	}
	toolClient := &http.Client{Timeout: cfg.ArcherTimeout, Transport: otelhttp.NewTransport(http.DefaultTransport)}
	a.Executor = gateway.NewExecutor(gateway.New(a.Store), a.Tools, toolClient, cfg.ToolServerURL, a.Pool, log, a.Metrics)
	return a
}

// Router returns a chi router with the common middleware stack and the
// health and metrics endpoints mounted.
func (a *App) Router(service string) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(middleware.Recover(a.Log))
	r.Use(middleware.Tracing(service, a.Log))
	r.Use(middleware.WithTenant(a.Tenants))
	r.Use(middleware.JWTAuth(a.Cfg))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.Handle("/metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{Registry: a.Registry}))
	return r
}

// BrokerHandler serves the session routes, the HTTP tool endpoints and the
// OpenAPI document.
func (a *App) BrokerHandler() http.Handler {
	docs := openapi.NewRegistry()
	broker.Register(docs)
	gateway.Register(docs)

	r := a.Router("grc-broker")
	r.Get("/.well-known/openapi.json", docs.ServeHandler("GRC session broker", Version, ""))
	a.mountSessions(r)
	gateway.NewHandler(a.Executor, a.Tools, a.Log).Routes(r)
	return r
}

// MCPHandler serves the MCP endpoint at /mcp. The session routes are mounted
// next to it so a gateway running with its own store can still create and
// refresh the sessions its tools look up.
func (a *App) MCPHandler() http.Handler {
	// MCP tool lists are fixed at startup; per-tenant additions are served
	// by the HTTP tool endpoints.
	mcpSrv := gateway.NewMCPServer(a.Executor, a.Tools.Static(), Version, a.Log)

	r := a.Router("grc-mcp-gateway")
	a.mountSessions(r)
	r.Handle("/mcp", mcpSrv.Handler())
	return r
}

func (a *App) mountSessions(r chi.Router) {
	r.Group(func(sr chi.Router) {
		sr.Use(middleware.RequireAnyScope(broker.ScopeSessions))
		broker.NewHandler(a.Sessions, a.Cfg.ArcherDefaultUserDomain, a.Log).Routes(sr)
	})
}

// StartSweeper runs the expired-session sweeper until ctx ends. It is a no-op
// when SESSION_SWEEP_INTERVAL_SEC is 0.
func (a *App) StartSweeper(ctx context.Context) {
	if a.Cfg.SweepInterval <= 0 {
		return
	}
	sw := session.NewSweeper(a.Store, a.Cfg.SweepInterval, a.Cfg.SessionRetention, a.Log, a.Metrics)
	go sw.Run(ctx)
}

// Close releases backend connections.
func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}
