package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"chat_service/internal/config"
	"chat_service/internal/handler"
	"chat_service/internal/metrics"
	"chat_service/internal/middleware"
	"chat_service/internal/realtime"
	"chat_service/internal/repository"
	"chat_service/internal/service"
	"chat_service/internal/storage"
	"chat_service/internal/webhook"
	"chat_service/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger := logger.New(cfg.Log.Level)
	defer func() { _ = appLogger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Подключение к PostgreSQL
	dbPool, err := newPool(ctx, cfg.Database)
	if err != nil {
		appLogger.Fatal("Failed to connect to database", "error", err)
	}
	defer dbPool.Close()
	appLogger.Info("Database connection established")

	// Подключение к Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		appLogger.Fatal("Failed to connect to Redis", "error", err)
	}
	appLogger.Info("Redis connection established")

	m := metrics.New(prometheus.DefaultRegisterer)
	repos := repository.NewRepositories(dbPool, rdb, appLogger)

	hub := realtime.NewHub(repos.Participant, repos.Presence, cfg.Presence, appLogger, m)
	dispatcher := webhook.NewDispatcher(cfg.Webhook, appLogger, m)
	if !dispatcher.Enabled() {
		appLogger.Warn("WEBHOOK_URL is empty, outgoing webhooks are disabled")
	}

	deps := service.Deps{
		Publisher: hub,
		Webhooks:  dispatcher,
		Metrics:   m,
	}
	// Интерфейс остается nil, если хранилище не настроено
	if cfg.S3.Enabled() {
		store, err := storage.NewS3Store(ctx, cfg.S3)
		if err != nil {
			appLogger.Fatal("Failed to initialize object storage", "error", err)
		}
		deps.Store = store
		appLogger.Info("Object storage configured", "bucket", cfg.S3.Bucket)
	}

	services := service.NewServices(repos, deps, cfg, appLogger)
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT, appLogger)

	handlers := handler.NewHandlers(handler.Deps{
		Services: services,
		Hub:      hub,
		Auth:     authMiddleware,
		Checks: []handler.ReadinessCheck{
			{Name: "postgres", Check: dbPool.Ping},
			{Name: "redis", Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
		},
		SendBuffer: cfg.Presence.SendBuffer,
	}, appLogger)

	rateLimitMiddleware := middleware.NewRateLimitMiddleware(services.RateLimit, appLogger)
	router := setupRouter(handlers, authMiddleware, rateLimitMiddleware, cfg, appLogger, m)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	if err := services.Archive.Start(); err != nil {
		appLogger.Fatal("Failed to start auto-archive scheduler", "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return hub.Run(gctx)
	})

	g.Go(func() error {
		appLogger.Info("Starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// Graceful shutdown: сначала перестаем принимать запросы, затем гасим фоновые задачи
	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("Server forced to shutdown", "error", err)
		}
		closed := hub.CloseAll(shutdownCtx)
		appLogger.Info("WebSocket connections closed", "count", closed)

		if err := services.Archive.Stop(shutdownCtx); err != nil {
			appLogger.Warn("Auto-archive run interrupted", "error", err)
		}
		services.Notification.Shutdown()
		if err := dispatcher.Shutdown(shutdownCtx); err != nil {
			appLogger.Warn("Pending webhooks dropped on shutdown", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		appLogger.Error("Server stopped with error", "error", err)
	}
	appLogger.Info("Server exited")
}

func newPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database DSN: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConnections)
	poolCfg.MaxConnIdleTime = cfg.MaxIdleTime
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

func setupRouter(
	handlers *handler.Handlers,
	authMiddleware *middleware.AuthMiddleware,
	rateLimitMiddleware *middleware.RateLimitMiddleware,
	cfg *config.Config,
	log logger.Logger,
	m *metrics.Metrics,
) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.CORS.AllowedOrigins))
	router.Use(middleware.RequestLogger(log, m))
	router.Use(middleware.ErrorHandler(log))

	router.GET("/health", handlers.Health.Check)
	router.GET("/health/ready", handlers.Health.Ready)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	// WebSocket: токен в query, заголовок Authorization браузер передать не может
	router.GET("/ws", handlers.WebSocket.Handle)

	v1 := router.Group("/api/v1")
	{
		// Пользовательский API
		api := v1.Group("")
		api.Use(authMiddleware.RequireAuth(), middleware.ScopeConfig())
		{
			dialogs := api.Group("/dialogs")
			{
				dialogs.GET("", handlers.Dialog.List)
				dialogs.GET("/available", handlers.Dialog.Available)
				dialogs.GET("/:id", handlers.Dialog.Get)
				dialogs.POST("/:id/join", handlers.Dialog.Join)
				dialogs.POST("/:id/leave", handlers.Dialog.Leave)
				dialogs.POST("/:id/archive", handlers.Dialog.Archive)
				dialogs.POST("/:id/unarchive", handlers.Dialog.Unarchive)
				dialogs.POST("/:id/pin", handlers.Dialog.Pin)
				dialogs.POST("/:id/unpin", handlers.Dialog.Unpin)
				dialogs.POST("/:id/read", handlers.Dialog.MarkRead)
				dialogs.PUT("/:id/notifications", handlers.Dialog.SetNotifications)
				dialogs.GET("/:id/participants", handlers.Dialog.Participants)
			}

			messages := api.Group("/dialogs/:id/messages")
			{
				messages.GET("", handlers.Message.List)
				messages.POST("", rateLimitMiddleware.LimitMessages(), handlers.Message.Send)
				messages.GET("/:messageId", handlers.Message.Get)
				messages.PUT("/:messageId", handlers.Message.Edit)
				messages.DELETE("/:messageId", handlers.Message.Delete)
				messages.GET("/:messageId/history", handlers.Message.History)
			}
		}

		// Management API хост-приложения
		management := v1.Group("/management")
		management.Use(middleware.RequireAdmin(cfg.Admin.APIToken, log))
		{
			management.POST("/dialogs", handlers.Management.CreateDialog)
			management.DELETE("/dialogs/:id", handlers.Management.DeleteDialog)
			management.POST("/dialogs/:id/participants", handlers.Management.AddParticipant)
			management.DELETE("/dialogs/:id/participants/:userId", handlers.Management.RemoveParticipant)
			management.PUT("/dialogs/:id/access-scopes", handlers.Management.ReplaceScopes)
		}
	}

	return router
}
