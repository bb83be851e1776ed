// Package main runs the study tracking API with hosted watch sessions, the live feed and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/reel-study/backend/config"
	"github.com/reel-study/backend/internal/events"
	"github.com/reel-study/backend/internal/exports"
	"github.com/reel-study/backend/internal/health"
	"github.com/reel-study/backend/internal/middleware"
	"github.com/reel-study/backend/internal/realtime"
	"github.com/reel-study/backend/internal/worker"
	"github.com/reel-study/backend/pkg/database"
	"github.com/reel-study/backend/pkg/queue"
	"github.com/reel-study/backend/pkg/redis"
	"github.com/reel-study/backend/pkg/response"
	"github.com/reel-study/backend/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		newLogger("info").Fatal("load config", zap.Error(err))
	}
	logger := newLogger(cfg.Server.LogLevel)
	defer logger.Sync()

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), database.PoolOptions{
		MaxConns: int32(cfg.Database.MaxConns),
	}, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	// Redis is optional: without it the live feed stays local to this instance and exports are off.
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = redis.NewClient(ctx, redis.Options{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: 5 * time.Second,
		}, logger)
		if err != nil {
			logger.Warn("redis disabled", zap.Error(err))
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}

	var s3Client *storage.S3
	if cfg.AWS.ExportsEnabled() {
		s3Client, err = storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			ExportsBucket:        cfg.AWS.ExportsBucket,
			Endpoint:             cfg.AWS.Endpoint,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
			s3Client = nil
		}
	}

	var hub *realtime.Hub
	if rdb != nil {
		pubsub := realtime.NewRedisPubSub(rdb.Client, logger)
		hub = realtime.NewHub(logger, pubsub, pubsub)
	} else {
		hub = realtime.NewHub(logger, nil, nil)
	}

	eventRepo := events.NewRepository(pool)
	eventService := events.NewService(eventRepo, hub, logger)
	eventHandler := events.NewHandler(eventService, logger)

	checks := map[string]health.PingFunc{
		"postgres": eventService.Ping,
		"redis":    nil,
	}
	if rdb != nil {
		checks["redis"] = rdb.Check
	}
	healthHandler := health.NewHandler(checks, logger)

	sessionOpts := realtime.SessionOptions{
		DefaultCondition: cfg.Tracker.Condition,
		DefaultMediaID:   cfg.Tracker.MediaID,
		PollInterval:     cfg.Tracker.PollInterval,
		AutoEnableDelay:  cfg.Tracker.AutoEnableDelay,
		AttachInterval:   cfg.Tracker.AttachInterval,
		AttachAttempts:   cfg.Tracker.AttachAttempts,
		FinalizeOnEnd:    cfg.Tracker.FinalizeOnEnd,
		SinkBuffer:       cfg.Tracker.SinkBuffer,
	}

	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.NoMethod(response.MethodNotAllowed)
	router.NoRoute(func(c *gin.Context) { response.NotFound(c, "Not found") })
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	api := router.Group("/api")
	{
		api.GET("/health", healthHandler.Check)

		api.POST("/track", eventHandler.Track)
		api.POST("/track/batch", eventHandler.TrackBatch)
		api.GET("/events", eventHandler.List)
		api.GET("/events/by-participant", eventHandler.ByParticipant)
		api.GET("/events/participant/:participantId", eventHandler.ParticipantEvents)
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	// Exports need Redis for the job queue and status; the in-process worker also needs S3.
	if rdb != nil {
		jobQueue := queue.NewQueue(rdb.Client, logger)
		statusStore := queue.NewStatusStore(rdb.Client)
		var presigner exports.Presigner
		if s3Client != nil {
			presigner = s3Client
		}
		exportHandler := exports.NewHandler(statusStore, jobQueue, presigner, logger)
		api.POST("/exports", exportHandler.Create)
		api.GET("/exports/:id", exportHandler.Get)

		if s3Client != nil {
			processor := worker.NewExportProcessor(eventService, s3Client, statusStore, jobQueue, logger)
			go processor.Run(workerCtx)
			logger.Info("export worker started")
		}
	} else {
		exportsOff := func(c *gin.Context) { response.ServiceUnavailable(c, "Exports require Redis") }
		api.POST("/exports", exportsOff)
		api.GET("/exports/:id", exportsOff)
	}

	sessions := realtime.NewSessionGroup()
	router.GET("/ws/session", realtime.ServeSession(sessions, eventService, sessionOpts, logger))
	router.GET("/ws/live", realtime.ServeLive(hub, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	// Hosted sessions run on hijacked connections, which Shutdown leaves open.
	if err := sessions.Shutdown(shutdownCtx); err != nil {
		logger.Error("watch sessions did not finish", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger(level string) *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		config.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, _ := config.Build()
	return logger
}
