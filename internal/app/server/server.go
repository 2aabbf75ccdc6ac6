package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"hrportal/internal/domain/audit"
	"hrportal/internal/domain/auth"
	"hrportal/internal/domain/notifications"
	"hrportal/internal/domain/offboarding"
	"hrportal/internal/platform/config"
	"hrportal/internal/platform/db"
	"hrportal/internal/platform/jobs"
	"hrportal/internal/platform/logger"
	"hrportal/internal/platform/metrics"
	"hrportal/internal/platform/realtime"
	"hrportal/internal/platform/redisconn"
	audithandler "hrportal/internal/transport/http/handlers/audit"
	authhandler "hrportal/internal/transport/http/handlers/auth"
	notificationshandler "hrportal/internal/transport/http/handlers/notifications"
	offboardinghandler "hrportal/internal/transport/http/handlers/offboarding"
	"hrportal/internal/transport/http/middleware"
)

const (
	serviceName       = "hrportal"
	rateLimitWindow   = time.Minute
	shutdownTimeout   = 15 * time.Second
	readHeaderTimeout = 10 * time.Second
)

type AuditLog interface {
	audit.Recorder
	audithandler.Lister
}

// Deps is everything the router needs. App fills it from real connections;
// tests fill it with fakes.
type Deps struct {
	Config        config.Config
	Log           zerolog.Logger
	Metrics       *metrics.Collector
	Gatherer      prometheus.Gatherer
	Ready         func(ctx context.Context) error
	Limiter       middleware.Limiter
	Sessions      middleware.SessionChecker
	Roles         middleware.RoleStore
	Auth          authhandler.Authenticator
	Offboarding   offboardinghandler.Orchestrator
	Notifications notificationshandler.Notifier
	Audit         AuditLog
}

type App struct {
	Config      config.Config
	Log         zerolog.Logger
	DB          *pgxpool.Pool
	Redis       *redis.Client
	Broker      realtime.Broker
	Offboarding *offboarding.Service
	Jobs        *jobs.Service
	Router      http.Handler
}

// New connects to the database (and Redis when configured), applies
// migrations and the seed admin when enabled, and builds the router.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	log := logger.New(logger.Options{Service: serviceName, Level: cfg.LogLevel, Format: cfg.LogFormat})
	ctx = log.WithContext(ctx)

	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	app := &App{Config: cfg, Log: log, DB: pool}

	if cfg.RunMigrations {
		if err := db.Migrate(ctx, pool, "up"); err != nil {
			app.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
	}
	if cfg.RunSeed {
		if err := db.Seed(ctx, pool, cfg); err != nil {
			app.Close()
			return nil, fmt.Errorf("seed: %w", err)
		}
	}

	if cfg.RedisURL != "" {
		app.Redis, err = redisconn.Connect(ctx, cfg.RedisURL)
		if err != nil {
			app.Close()
			return nil, err
		}
	}

	switch cfg.RealtimeBackend {
	case config.RealtimeRedis:
		app.Broker = realtime.NewRedisBroker(app.Redis, cfg.RealtimeChannel)
	case config.RealtimePostgres:
		app.Broker = realtime.NewPGBroker(pool, cfg.RealtimeChannel)
	default:
		app.Broker = realtime.NewMemoryBroker()
	}

	var (
		collector *metrics.Collector
		gatherer  prometheus.Gatherer
	)
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		collector = metrics.New(reg)
		gatherer = reg
	}

	var limiter middleware.Limiter = middleware.NewMemoryLimiter()
	if app.Redis != nil {
		limiter = middleware.NewRedisLimiter(app.Redis)
	}

	authStore := auth.NewStore(pool)
	authService := auth.NewService(authStore, cfg.JWTSecret, cfg.TokenTTL)
	app.Offboarding = offboarding.NewService(
		offboarding.NewStore(pool),
		authStore,
		offboarding.WithMetrics(collector),
		offboarding.WithConcurrency(cfg.OffboardingConcurrency),
	)
	notificationService := notifications.NewService(
		notifications.NewStore(pool),
		app.Broker,
		notifications.WithMetrics(collector),
	)

	app.Jobs = jobs.New()
	app.Jobs.Every(jobs.JobNotificationRelease, cfg.NotificationReleaseInterval, jobs.NotificationRelease(notificationService, time.Now))
	app.Jobs.Every(jobs.JobDeletionRunReaper, reaperInterval(cfg.DeletionRunStaleAfter), jobs.DeletionRunReaper(app.Offboarding, cfg.DeletionRunStaleAfter))

	app.Router = NewRouter(Deps{
		Config:        cfg,
		Log:           log,
		Metrics:       collector,
		Gatherer:      gatherer,
		Ready:         pool.Ping,
		Limiter:       limiter,
		Sessions:      authService,
		Roles:         authStore,
		Auth:          authService,
		Offboarding:   app.Offboarding,
		Notifications: notificationService,
		Audit:         audit.New(pool),
	})
	return app, nil
}

func (a *App) Close() {
	if closer, ok := a.Broker.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			a.Log.Warn().Err(err).Msg("realtime broker close failed")
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Log.Warn().Err(err).Msg("redis close failed")
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
}

// Run serves until ctx is cancelled, then drains in-flight requests and
// stops the background jobs.
func (a *App) Run(ctx context.Context) error {
	jobsCtx, stopJobs := context.WithCancel(a.Log.WithContext(ctx))
	a.Jobs.Start(jobsCtx)
	defer a.Jobs.Wait()
	defer stopJobs()

	srv := &http.Server{
		Addr:              a.Config.Addr,
		Handler:           a.Router,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(_ net.Listener) context.Context { return a.Log.WithContext(context.Background()) },
	}

	errCh := make(chan error, 1)
	go func() {
		a.Log.Info().Str("addr", a.Config.Addr).Msg("server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.Log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// reaperInterval checks for stale runs a few times per staleness window.
func reaperInterval(staleAfter time.Duration) time.Duration {
	if staleAfter <= 0 {
		return 0
	}
	return max(staleAfter/4, time.Minute)
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(deps.Log, deps.Metrics))
	router.Use(middleware.Recoverer)
	router.Use(middleware.SecureHeaders(cfg.Environment == "production"))
	router.Use(middleware.BodyLimit(cfg.MaxBodyBytes))
	router.Use(middleware.Auth(cfg.JWTSecret, deps.Sessions))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if deps.Ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := deps.Ready(ctx); err != nil {
				zerolog.Ctx(r.Context()).Warn().Err(err).Msg("readiness check failed")
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	if deps.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(deps.Limiter, cfg.RateLimitPerMinute, rateLimitWindow))
		r.Use(middleware.SensitiveMutationRateLimit(deps.Limiter, cfg.RateLimitPerMinute, rateLimitWindow))

		authhandler.NewHandler(deps.Auth).RegisterRoutes(r)
		offboardinghandler.NewHandler(deps.Offboarding, deps.Roles, deps.Audit).RegisterRoutes(r)
		notificationshandler.NewHandler(deps.Notifications, deps.Roles, deps.Audit).RegisterRoutes(r)
		audithandler.NewHandler(deps.Audit, deps.Roles).RegisterRoutes(r)
	})

	return router
}
