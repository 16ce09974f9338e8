package main // Entry point for the playtest HTTP API

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/playtest-sessions/internal/authz"
	"github.com/iliyamo/playtest-sessions/internal/config"
	"github.com/iliyamo/playtest-sessions/internal/database"
	"github.com/iliyamo/playtest-sessions/internal/handler"
	"github.com/iliyamo/playtest-sessions/internal/middleware"
	"github.com/iliyamo/playtest-sessions/internal/queue"
	"github.com/iliyamo/playtest-sessions/internal/router"
	"github.com/iliyamo/playtest-sessions/internal/service"
)

func main() {
	cfg := config.Load()
	logger := config.SetupLogger(cfg.Log)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, dialect, err := database.Open(cfg.DB)
	if err != nil {
		return err
	}
	defer db.Close()

	rdb := config.NewRedisClient(cfg.Redis)
	if rdb == nil {
		logger.Warn("redis unavailable; using in-process rate limiting and no response cache")
	} else {
		defer rdb.Close()
	}

	pub, err := queue.NewPublisher(cfg.Events)
	if err != nil {
		return err
	}
	defer pub.Close()

	enf, err := authz.New()
	if err != nil {
		return err
	}

	svc := service.New(db, dialect, service.Options{
		Policy:    cfg.Policy,
		Publisher: pub,
		Logger:    logger,
	})

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			logger.Info("request",
				"method", v.Method, "uri", v.URI, "status", v.Status,
				"latency", v.Latency, "remote_ip", v.RemoteIP)
			return nil
		},
	}))
	e.Use(middleware.NewTokenBucket(cfg.RateLimit, rdb))

	h := router.Handlers{
		Locations:     handler.NewLocationHandler(svc.Locations, middleware.CachePurger(cfg.Cache, rdb)),
		Sessions:      handler.NewSessionHandler(svc.Sessions),
		Registrations: handler.NewRegistrationHandler(svc.Registrations),
		Requests:      handler.NewRequestHandler(svc.Requests),
		Feedback:      handler.NewFeedbackHandler(svc.Feedback),
		Stats:         handler.NewStatsHandler(svc.Stats),
	}
	router.RegisterRoutes(e, db)
	router.RegisterPublic(e, h, middleware.NewRedisCache(cfg.Cache, rdb))
	router.RegisterProtected(e, h, cfg.JWTSecret, enf)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler(e)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           corsHandler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", srv.Addr, "env", cfg.Env, "db", cfg.DB.Driver, "events", cfg.Events.Broker)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	if cfg.Events.ConsumerEnabled {
		sink := queue.NewActivityLog(cfg.Events)
		g.Go(func() error { return queue.StartConsumer(gctx, cfg.Events, sink) })
	}
	return g.Wait()
}
