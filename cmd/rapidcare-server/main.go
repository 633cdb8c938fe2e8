package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rapidcare/rapidcare/internal/config"
	"github.com/rapidcare/rapidcare/internal/domain/cases"
	"github.com/rapidcare/rapidcare/internal/domain/catalog"
	"github.com/rapidcare/rapidcare/internal/domain/geo"
	"github.com/rapidcare/rapidcare/internal/domain/matching"
	"github.com/rapidcare/rapidcare/internal/domain/triage"
	"github.com/rapidcare/rapidcare/internal/platform/auth"
	"github.com/rapidcare/rapidcare/internal/platform/cache"
	"github.com/rapidcare/rapidcare/internal/platform/db"
	"github.com/rapidcare/rapidcare/internal/platform/middleware"
	"github.com/rapidcare/rapidcare/internal/platform/realtime"
	"github.com/rapidcare/rapidcare/internal/platform/telemetry"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:          "rapidcare-server",
		Short:        "Emergency hospital matching, triage and transport case API",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(catalogCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// loadConfig loads and validates configuration for commands that talk to
// the database.
func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		return nil, logger, err
	}
	return cfg, logger, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

// app holds the services the HTTP router is built from.
type app struct {
	cfg       *config.Config
	logger    zerolog.Logger
	pinger    db.Pinger
	metrics   *telemetry.Metrics
	hub       *realtime.Hub
	matching  *matching.Service
	positions *geo.PositionStore
	triage    *triage.Service
	cases     *cases.Service
}

func (a *app) authMiddleware() echo.MiddlewareFunc {
	jwtCfg := auth.JWTConfig{Issuer: a.cfg.AuthIssuer, SigningKey: []byte(a.cfg.JWTSecret)}
	if a.cfg.IsDev() {
		return auth.DevAuthMiddleware(jwtCfg)
	}
	return auth.JWTMiddleware(jwtCfg)
}

func (a *app) router() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(a.metrics.Middleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  a.cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch},
		AllowHeaders:  []string{"Authorization", "Content-Type", "If-Match", middleware.RequestIDHeader},
		ExposeHeaders: []string{"ETag", middleware.RequestIDHeader},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.HealthHandler(a.pinger))
	e.GET("/metrics", a.metrics.Handler())

	authMW := a.authMiddleware()

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: a.cfg.RateLimitRPS,
		BurstSize:         a.cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}

	apiV1 := e.Group("/api/v1", authMW, middleware.RateLimit(rateLimitCfg), middleware.RequestTimeout(a.cfg.RequestTimeout))
	matching.NewHandler(a.matching).RegisterRoutes(apiV1)
	geo.NewPositionHandler(a.positions).RegisterRoutes(apiV1)
	triage.NewHandler(a.triage).RegisterRoutes(apiV1)
	cases.NewHandler(a.cases).RegisterRoutes(apiV1)

	realtime.NewHandler(a.hub, a.logger).RegisterRoutes(e.Group("", authMW))
	return e
}

func runServer(ctx context.Context) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}
	for _, w := range cfg.Warnings() {
		logger.Warn().Msg(w)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Redis
	kv, err := cache.New(ctx, cache.Config{URL: cfg.RedisURL})
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to redis")
		return err
	}
	defer kv.Close()

	hub := realtime.NewHub(realtime.DefaultTopicPolicy, logger)
	var (
		publisher realtime.Publisher = hub
		bridge    *realtime.RedisBridge
	)
	if kv.IsEnabled() {
		bridge = realtime.NewRedisBridge(kv.Client(), "", hub, logger)
		publisher = bridge
	}

	hospitals := matching.NewHospitalRepoPG(pool)
	if cfg.CatalogFile != "" {
		records, err := catalog.LoadFile(cfg.CatalogFile)
		if err != nil {
			return fmt.Errorf("load catalog: %w", err)
		}
		if _, err := catalog.Import(ctx, db.NewTransactor(pool), hospitals, records, catalog.Options{}, logger); err != nil {
			return fmt.Errorf("import catalog: %w", err)
		}
	}

	positions := geo.NewPositionStore(kv, cfg.PositionTTL)
	var locator matching.Locator
	if kv.IsEnabled() {
		locator = positions
	}

	metrics := telemetry.NewMetrics()
	hubGauges(metrics, hub)
	metrics.Gauge("db_pool_acquired_conns", "Database connections currently in use.", func() float64 {
		return float64(pool.Stat().AcquiredConns())
	})

	a := &app{
		cfg:     cfg,
		logger:  logger,
		pinger:  pool,
		metrics: metrics,
		hub:     hub,
		matching: matching.NewService(hospitals, locator, matching.Config{
			RadiusKm:        cfg.MatchRadiusKm,
			DefaultOrigin:   cfg.DefaultOrigin(),
			Estimator:       cfg.Estimator(),
			UpstreamTimeout: cfg.UpstreamTimeout,
		}, logger),
		positions: positions,
		triage:    triage.NewService(triage.NewPatientRepoPG(pool), publisher, logger),
		cases:     cases.NewService(cases.NewCaseRepoPG(pool), hospitals, publisher, logger),
	}
	e := a.router()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if bridge != nil {
		g.Go(func() error { return bridge.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// hubGauges exposes websocket fan-out state on the metrics endpoint.
func hubGauges(m *telemetry.Metrics, hub *realtime.Hub) {
	m.Gauge("realtime_clients", "Connected websocket clients.", func() float64 {
		return float64(hub.ClientCount())
	})
	m.Gauge("realtime_dropped_events", "Events dropped because a client send buffer was full.", func() float64 {
		return float64(hub.Dropped())
	})
	m.Gauge("realtime_case_board_subscribers", "Clients subscribed to the shared case board.", func() float64 {
		return float64(hub.TopicCount(realtime.TopicCases))
	})
}
