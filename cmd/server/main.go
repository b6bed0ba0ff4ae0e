// Package main is the entry point for the IVR engine server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/jkindrix/ivrengine/internal/carrier"
	"github.com/jkindrix/ivrengine/internal/clock"
	"github.com/jkindrix/ivrengine/internal/composer"
	"github.com/jkindrix/ivrengine/internal/config"
	"github.com/jkindrix/ivrengine/internal/encoder"
	"github.com/jkindrix/ivrengine/internal/handler"
	"github.com/jkindrix/ivrengine/internal/logging"
	"github.com/jkindrix/ivrengine/internal/metrics"
	"github.com/jkindrix/ivrengine/internal/middleware"
	"github.com/jkindrix/ivrengine/internal/ratelimit"
	"github.com/jkindrix/ivrengine/internal/reporter"
	"github.com/jkindrix/ivrengine/internal/session"
	"github.com/jkindrix/ivrengine/internal/shutdown"
	"github.com/jkindrix/ivrengine/internal/snapshot"
	"github.com/jkindrix/ivrengine/internal/statemachine"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(&logging.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Environment: cfg.Server.Environment,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting ivr engine",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("env", cfg.Server.Environment),
		zap.String("dialect", cfg.Carrier.Dialect),
	)

	appMetrics := metrics.NewMetrics()
	appClock := clock.New()
	ctx := context.Background()

	carrierClient := carrier.New(&carrier.Config{
		AccountSID: cfg.Carrier.AccountSID,
		APIKey:     cfg.Carrier.APIKey,
		APIToken:   cfg.Carrier.APIToken,
		BaseURL:    cfg.Carrier.BaseURL,
	}, logger.Zap())

	sessionStore := session.New(session.Config{
		LiveTTL:        cfg.Session.LiveTTL,
		ReportedTTL:    cfg.Session.ReportedTTL,
		IdempotencyTTL: cfg.Session.DedupWindow,
		SweepInterval:  cfg.Session.SweepInterval,
	}, appClock, logger.Zap())

	machine := statemachine.New()
	promptComposer := composer.New(cfg.Defaults.DefaultLanguage)
	responseEncoder := encoder.New(cfg.Carrier.Dialect)

	outcomeReporter := reporter.New(reporter.Config{
		UpstreamURL: cfg.Upstream.OutcomeURL,
		WorkerCount: cfg.Reporter.WorkerCount,
		QueueSize:   cfg.Reporter.QueueSize,
		HTTPTimeout: cfg.Reporter.RequestTimeout,
	}, sessionStore, appClock, logger.Zap())

	snapshotStore, err := snapshot.New(ctx, &cfg.Snapshot, appClock, logger.Zap())
	if err != nil {
		logger.Fatal("failed to initialize snapshot bridge", zap.Error(err))
	}
	if snapshotStore.Enabled() {
		if err := snapshotStore.EnsureSchema(ctx); err != nil {
			logger.Fatal("failed to ensure snapshot schema", zap.Error(err))
		}
		if err := snapshotStore.Replay(ctx, sessionStore, outcomeReporter); err != nil {
			logger.Error("failed to replay snapshot records on startup", zap.Error(err))
		}
	} else {
		logger.Info("snapshot bridge disabled, records are in-memory only")
	}

	callLimiterCfg := callLimiterConfigFromRateLimit(cfg.RateLimit)
	callLimiter := ratelimit.NewCallLimiter(&callLimiterCfg, logger.Zap())

	callbackHandler := handler.NewCallbackHandler(handler.CallbackHandlerConfig{
		Store:       sessionStore,
		Machine:     machine,
		Composer:    promptComposer,
		Encoder:     responseEncoder,
		Clock:       appClock,
		CallbackURL: cfg.Carrier.CallbackBaseURL + "/callback",
		Logger:      logger.Zap(),
	})

	statusHandler := handler.NewStatusHandler(handler.StatusHandlerConfig{
		Store:    sessionStore,
		Reporter: outcomeReporter,
		Clock:    appClock,
		Logger:   logger.Zap(),
	})

	initiateHandler := handler.NewInitiateHandler(handler.InitiateHandlerConfig{
		Store:             sessionStore,
		Carrier:           carrierClient,
		Limiter:           callLimiter,
		Clock:             appClock,
		CallerID:          cfg.Carrier.CallerID,
		AppID:             cfg.Carrier.AppID,
		StatusCallbackURL: cfg.Carrier.CallbackBaseURL + "/status",
		DefaultLanguage:   cfg.Defaults.DefaultLanguage,
		Logger:            logger.Zap(),
	})

	shutdownCoord := shutdown.NewCoordinator(&shutdown.Config{
		Timeout: cfg.Shutdown.Timeout,
	}, logger.Zap())
	readinessProbe := shutdown.NewReadinessProbe(shutdownCoord)

	healthHandler := handler.NewHealthHandler(handler.HealthHandlerConfig{
		SnapshotChecker: snapshotStore,
		CarrierBreaker:  carrierClient,
		SessionStore:    sessionStore,
		Readiness:       readinessProbe,
		Logger:          logger.Zap(),
	})

	correlation := middleware.NewRequestCorrelation(logger.Zap())
	perIPLimiter := middleware.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window, logger.Zap())

	r := chi.NewRouter()
	r.Use(correlation.Middleware)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger.Zap()))
	r.Use(middleware.Recovery(logger.Zap()))
	r.Use(appMetrics.Middleware)

	r.Handle("/metrics", appMetrics.Handler())
	healthHandler.RegisterRoutes(r)

	r.Group(func(r chi.Router) {
		r.Use(middleware.BodySizeLimiterWebhook())
		r.Handle("/callback", callbackHandler)
		r.Handle("/status", statusHandler)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.BodySizeLimiterJSON())
		r.Use(middleware.RateLimit(perIPLimiter))
		r.Handle("/initiate/{kind}", initiateHandler)
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	sweepCtx, cancelSweep := context.WithCancel(ctx)
	go func() {
		if err := sessionStore.Run(sweepCtx); err != nil && err != context.Canceled {
			logger.Error("session sweeper stopped with error", zap.Error(err))
		}
	}()

	outcomeReporter.Start(ctx)

	var snapshotCancel context.CancelFunc
	if snapshotStore.Enabled() {
		var snapshotCtx context.Context
		snapshotCtx, snapshotCancel = context.WithCancel(ctx)
		go func() {
			if err := snapshotStore.Run(snapshotCtx, sessionStore, cfg.Session.SweepInterval); err != nil && err != context.Canceled {
				logger.Error("snapshot bridge stopped with error", zap.Error(err))
			}
		}()
	}

	go func() {
		logger.Info("server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	shutdownCoord.RegisterFunc(shutdown.PhaseDrain, "http-server", func(ctx context.Context) error {
		return server.Shutdown(ctx)
	})

	shutdownCoord.RegisterFunc(shutdown.PhaseShutdown, "session-sweeper", func(ctx context.Context) error {
		cancelSweep()
		return nil
	})
	shutdownCoord.Register(shutdown.PhaseShutdown, outcomeReporter)
	if snapshotCancel != nil {
		shutdownCoord.RegisterFunc(shutdown.PhaseShutdown, "snapshot-bridge", func(ctx context.Context) error {
			snapshotCancel()
			return nil
		})
	}

	shutdownCoord.RegisterFunc(shutdown.PhaseCleanup, "snapshot-store", func(ctx context.Context) error {
		snapshotStore.Close()
		return nil
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("received shutdown signal")

	if err := shutdownCoord.Shutdown(ctx); err != nil {
		logger.Error("shutdown completed with errors", zap.Error(err))
	}
}

// callLimiterConfigFromRateLimit derives outbound call-placement rate limits
// from the single configured /initiate request rate: hourly and daily caps
// are set generously above the per-minute figure so the per-minute bucket is
// the binding constraint in normal operation, with the wider windows only
// catching sustained abuse a burst-tolerant minute bucket would miss.
func callLimiterConfigFromRateLimit(rl config.RateLimitConfig) ratelimit.CallLimiterConfig {
	perMinute := rl.Requests
	if perMinute < 1 {
		perMinute = 1
	}
	return ratelimit.CallLimiterConfig{
		MaxRequestsPerMinute: perMinute,
		MaxRequestsPerHour:   perMinute * 20,
		MaxRequestsPerDay:    perMinute * 200,
		MaxConcurrent:        20,
	}
}
