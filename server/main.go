package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mtreeno1/AI-Learning-Companion-BE/server/cache"
	"github.com/mtreeno1/AI-Learning-Companion-BE/server/config"
	"github.com/mtreeno1/AI-Learning-Companion-BE/server/detector"
	"github.com/mtreeno1/AI-Learning-Companion-BE/server/engine"
	"github.com/mtreeno1/AI-Learning-Companion-BE/server/handlers"
	"github.com/mtreeno1/AI-Learning-Companion-BE/server/middleware"
	"github.com/mtreeno1/AI-Learning-Companion-BE/server/pipeline"
	"github.com/mtreeno1/AI-Learning-Companion-BE/server/recorder"
	"github.com/mtreeno1/AI-Learning-Companion-BE/server/store"
)

type Server struct {
	router      *gin.Engine
	logger      *zap.Logger
	store       *store.Store
	cache       cache.Cache
	detector    *detector.Client
	engine      *engine.Engine
	recorder    *recorder.Service
	pipeline    *pipeline.Pipeline
	rateLimiter *middleware.RateLimiter
	config      *config.Config
}

func main() {
	cfg := config.LoadConfig()

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer logger.Sync()

	if err := cfg.ValidateConfig(logger); err != nil {
		logger.Fatal("Configuration validation failed", zap.Error(err))
	}

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := store.Migrate(cfg.Database, logger); err != nil {
		logger.Fatal("Failed to apply database migrations", zap.Error(err))
	}

	server, err := NewServer(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create server", zap.Error(err))
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("Starting server",
			zap.String("addr", addr),
			zap.String("environment", cfg.Server.Environment))

		var err error
		if cfg.Security.EnableHTTPS {
			err = srv.ListenAndServeTLS(cfg.Security.CertFile, cfg.Security.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop taking requests first, then drain from front to back: the
	// pipeline still writes to the recorder, cache, and store.
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	if err := server.pipeline.Shutdown(); err != nil {
		logger.Error("Failed to shutdown pipeline", zap.Error(err))
	}

	server.detector.Close()
	server.rateLimiter.Shutdown()
	server.recorder.CloseAll()

	if err := server.cache.Close(); err != nil {
		logger.Error("Failed to close cache", zap.Error(err))
	}

	server.store.Close()

	logger.Info("Server exited")
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	if level, err := zap.ParseAtomicLevel(cfg.Level); err == nil {
		zc.Level = level
	}
	return zc.Build()
}

func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st, err := store.New(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	// Redis when configured, otherwise in-process cache. Live stats and
	// frame dedupe survive a restart only on Redis.
	var cacheInstance cache.Cache
	if cfg.Redis.Host != "" {
		cacheInstance, err = cache.NewRedisCache(cfg.Redis, 5*time.Minute, logger)
		if err != nil {
			logger.Warn("Failed to connect to Redis, using memory cache", zap.Error(err))
			cacheInstance = cache.NewMemoryCache(1000, 5*time.Minute, logger)
		}
	} else {
		cacheInstance = cache.NewMemoryCache(1000, 5*time.Minute, logger)
	}

	det, err := detector.NewClient(cfg.Detector, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create detector client: %w", err)
	}

	eng := engine.New(logger)

	rec, err := recorder.New(cfg.Recording, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create recorder: %w", err)
	}

	pl := pipeline.New(det, eng, st, rec, cacheInstance, cfg.Pipeline, logger)

	rateLimiter := middleware.NewRateLimiter(cfg.Security.RateLimitRPS, cfg.Security.RateLimitBurst, logger)
	authMiddleware := middleware.NewAuthMiddleware(cfg.Security, logger)

	router := gin.New()
	router.Use(middleware.RequestLogger(logger))
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS(cfg.Security.AllowedOrigins))
	router.Use(middleware.RequestSizeLimit(cfg.Security.MaxRequestSize))
	router.Use(middleware.InputValidation())
	router.Use(middleware.TimeoutHandler(cfg.Security.RequestTimeout))

	authHandler := handlers.NewAuthHandler(st, authMiddleware, logger)
	sessionHandler := handlers.NewSessionHandler(st, st, eng, pl, rec, cacheInstance, logger)
	recordingHandler := handlers.NewRecordingHandler(st, rec, logger)
	statsHandler := handlers.NewStatsHandler(pl, eng, det, rec, cacheInstance, logger)
	wsHandler := handlers.NewWebSocketHandler(st, st, eng, pl, rec, logger)

	setupRoutes(router, authHandler, sessionHandler, recordingHandler, statsHandler, wsHandler,
		authMiddleware, rateLimiter)

	return &Server{
		router:      router,
		logger:      logger,
		store:       st,
		cache:       cacheInstance,
		detector:    det,
		engine:      eng,
		recorder:    rec,
		pipeline:    pl,
		rateLimiter: rateLimiter,
		config:      cfg,
	}, nil
}

func setupRoutes(router *gin.Engine,
	authHandler *handlers.AuthHandler,
	sessionHandler *handlers.SessionHandler,
	recordingHandler *handlers.RecordingHandler,
	statsHandler *handlers.StatsHandler,
	wsHandler *handlers.WebSocketHandler,
	auth *middleware.AuthMiddleware,
	rateLimiter *middleware.RateLimiter) {

	router.GET("/health", middleware.HealthCheck())
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service": "ai-learning-companion",
			"status":  "ok",
		})
	})

	api := router.Group("/api")
	api.Use(rateLimiter.RateLimit())
	{
		api.POST("/auth/signup", authHandler.Signup)
		api.POST("/auth/login", authHandler.Login)

		protected := api.Group("/")
		protected.Use(auth.RequireAuth())
		{
			protected.GET("/auth/me", authHandler.Me)

			protected.POST("/sessions", sessionHandler.Create)
			protected.GET("/sessions", sessionHandler.List)
			protected.GET("/sessions/:session_id", sessionHandler.Get)
			protected.POST("/sessions/:session_id/end", sessionHandler.End)
			protected.DELETE("/sessions/:session_id", sessionHandler.Delete)
			protected.GET("/sessions/:session_id/live", sessionHandler.Live)

			// Frame ingestion gets its own limit; one detector call per request.
			protected.POST("/sessions/:session_id/frames",
				rateLimiter.RateLimitWithConfig(30, 60), sessionHandler.ProcessFrame)

			protected.POST("/sessions/:session_id/recording/start", recordingHandler.Start)
			protected.POST("/sessions/:session_id/recording/stop", recordingHandler.Stop)
			protected.GET("/sessions/:session_id/recordings", recordingHandler.List)
			protected.GET("/recordings/:recording_id/download", recordingHandler.Download)

			protected.GET("/stats", statsHandler.GetStats)
			protected.GET("/model", statsHandler.GetModelInfo)
		}
	}

	// Browser websocket clients pass the token as ?token= because they
	// cannot set the Authorization header.
	router.GET("/ws/sessions/:session_id", auth.RequireAuth(), wsHandler.HandleSession)
}
