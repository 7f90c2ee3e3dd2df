package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/repogenesis/qrcheckin/config"
	"github.com/repogenesis/qrcheckin/i18n"
	"github.com/repogenesis/qrcheckin/middlewares"
	"github.com/repogenesis/qrcheckin/models"
	"github.com/repogenesis/qrcheckin/models/reports"
	"github.com/repogenesis/qrcheckin/sheets"
	"github.com/repogenesis/qrcheckin/workflow"
	"github.com/sirupsen/logrus"
)

// routerDeps is everything the HTTP surface needs. Dependencies that connect
// after the listener is up are resolved lazily behind these values.
type routerDeps struct {
	Settings     config.Settings
	Logger       *logrus.Logger
	Translator   *i18n.Translator
	Checkin      *workflow.CheckinService
	Participants participantReader
	Export       reports.ExportSource
	Mirror       *workflow.MirrorProcessor
	Reconciler   *workflow.Reconciler
	Requeue      requeueFunc
	Outbox       outboxQuery
	Ready        func() bool
	RateCounter  func() middlewares.RateCounter
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func newRouter(d routerDeps) *gin.Engine {
	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(middlewares.MetricsMiddleware())
	r.Use(middlewares.ReadinessMiddleware(d.Ready))

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	corsConfig := cors.DefaultConfig()
	// Production-safe CORS:
	// - In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	// - In non-production, allow all (developer convenience).
	if d.Settings.Production {
		corsConfig.AllowOrigins = d.Settings.CORSOrigins
		if len(corsConfig.AllowOrigins) == 0 {
			// Deny all if not configured in production.
			corsConfig.AllowOriginFunc = func(string) bool { return false }
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", middlewares.CorrelationHeader)
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition", middlewares.CorrelationHeader)
	r.Use(cors.New(corsConfig))

	r.Use(middlewares.LocaleMiddleware())

	if d.Settings.RateLimit.Enabled && d.RateCounter != nil {
		rateLimiter := middlewares.NewRateLimiter(d.RateCounter, d.Settings.RateLimit.MaxRequests, d.Settings.RateLimit.Window)
		if d.Translator != nil {
			rateLimiter.Translator = d.Translator
		}
		r.Use(rateLimiter.RateLimitMiddleware)
	}
	r.Use(customErrorLogger(d.Logger))
	r.Use(gin.Recovery())

	r.POST("/api/scan", scanHandler(d.Checkin, d.Translator, d.Logger))
	r.GET("/api/participants/:id", participantHandler(d.Participants, d.Logger))
	r.GET("/scan", statusPageHandler(d.Participants, d.Translator, d.Settings.PublicBaseURL, d.Logger))
	r.GET("/scan/qr.png", qrImageHandler(d.Participants, d.Settings.PublicBaseURL, d.Logger))
	r.POST("/pubsub", mirrorPubSubHandler(d.Mirror, d.Logger))

	// Ops tooling: participant export, mirror outbox inspection and replay, on-demand reconciliation.
	ops := middlewares.OpsAuthMiddleware(d.Settings.OpsToken)
	r.GET("/api/export.xlsx", ops, exportHandler(d.Export, d.Settings.Mirror.Location, d.Logger))
	r.GET("/internal/ops/outbox", ops, outboxListHandler(d.Outbox, d.Logger))
	r.GET("/internal/ops/outbox/:log_id", ops, outboxStatusHandler(d.Outbox, d.Logger))
	r.POST("/internal/ops/outbox/replay", ops, outboxReplayHandler(d.Requeue, d.Logger))
	r.POST("/internal/ops/reconcile", ops, reconcileHandler(d.Reconciler, d.Logger))

	r.NoRoute(customNotFoundHandler)
	return r
}

// buildMirror wires the spreadsheet side. It returns nils when the mirror is disabled or cannot start.
func buildMirror(ctx context.Context, settings config.Settings, logger *logrus.Logger) (*workflow.MirrorProcessor, workflow.Publisher) {
	if !settings.Mirror.Enabled() {
		return nil, nil
	}
	appender, err := sheets.NewAppender(ctx, sheets.Credentials{
		ServiceAccountEmail: settings.Mirror.ServiceAccountEmail,
		PrivateKey:          settings.Mirror.PrivateKey,
		SheetID:             settings.Mirror.SheetID,
		Range:               settings.Mirror.Range,
	})
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "mirror"}).Error("spreadsheet mirror unavailable; rows stay queued: " + err.Error())
		return nil, nil
	}

	processor := &workflow.MirrorProcessor{
		Guard:    workflow.GormIdempotency{},
		Appender: appender,
		Location: settings.Mirror.Location,
		Logger:   logger,
	}
	if settings.Mirror.Transport == config.MirrorTransportPubSub {
		return processor, workflow.NewPubSubPublisher(settings.Mirror.PubSubTopic)
	}
	return processor, workflow.DirectPublisher{Appender: appender, Location: settings.Mirror.Location}
}

func main() {
	settings := config.Load()
	logger := config.GetLogger()
	if settings.Production {
		gin.SetMode(gin.ReleaseMode)
	}

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// The store resolves config.GetDB() per call, so it is safe to build before the DB is up.
	store := models.NewCheckinStore(nil, settings.CacheTTL)
	mirror, publisher := buildMirror(sigCtx, settings, logger)
	reconciler := workflow.NewReconciler(store, logger, settings.Mirror.Enabled())

	r := newRouter(routerDeps{
		Settings:     settings,
		Logger:       logger,
		Translator:   i18n.Default(),
		Checkin:      workflow.NewCheckinService(store, logger, settings.Mirror.Enabled()),
		Participants: store,
		Export:       store,
		Mirror:       mirror,
		Reconciler:   reconciler,
		Outbox:       gormOutboxQuery{},
		Requeue: func(ctx context.Context, id int) (bool, error) {
			return workflow.RequeueMirrorRecord(ctx, config.GetDB(), id)
		},
		// Redis is optional (cache, locks, rate limit); only the database gates traffic.
		Ready:       func() bool { return config.GetDB() != nil },
		RateCounter: middlewares.RedisRateCounter,
	})

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:              ":" + settings.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	go config.ConnectRedisWithRetry()
	config.ConnectDatabaseWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can run blocking DDL; allow running it as a separate job instead.
	if !settings.SkipMigrations {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	bgCtx, cancelBackground := context.WithCancel(context.Background())
	defer cancelBackground()
	// Start outbox dispatcher (publishes AFTER commit).
	if publisher != nil && config.OutboxDispatcherEnabled() {
		go workflow.NewOutboxDispatcher(db, logger, publisher, settings.Outbox).Run(bgCtx)
	}
	if settings.ReconcileInterval > 0 {
		go reconciler.RunEvery(bgCtx, settings.ReconcileInterval)
	}

	logger.WithFields(logrus.Fields{
		"info":             "Connection Established",
		"mirror_enabled":   settings.Mirror.Enabled(),
		"mirror_transport": settings.Mirror.Transport,
	}).Info("check-in server listening on :", settings.Port)
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while we're draining.
	cancelBackground()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	config.ClosePubSub()
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}
