package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/voicestudio/conversion-service/config"
	"github.com/voicestudio/conversion-service/internal/broker"
	"github.com/voicestudio/conversion-service/internal/database"
	"github.com/voicestudio/conversion-service/internal/handlers"
	"github.com/voicestudio/conversion-service/internal/middleware"
	"github.com/voicestudio/conversion-service/internal/notify"
	"github.com/voicestudio/conversion-service/internal/producer"
	"github.com/voicestudio/conversion-service/internal/storage"
	"github.com/voicestudio/conversion-service/internal/sweepers"
	"github.com/voicestudio/conversion-service/internal/task"
	"github.com/voicestudio/conversion-service/internal/telemetry"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := initLogger(cfg.Logging)

	logger.Info().Msg("Starting conversion service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry := telemetry.MustInit(ctx, telemetry.GetConfigFromEnv())
	defer shutdownTelemetry(context.Background())

	dbURL := config.GetDatabaseURL()
	if dbURL == "" {
		logger.Fatal().Msg("DATABASE_URL not set")
	}

	if err := database.Migrate(dbURL); err != nil {
		logger.Fatal().Err(err).Msg("Failed to apply migrations")
	}

	if err := database.Connect(
		ctx,
		dbURL,
		cfg.Database.MaxConnections,
		cfg.Database.MinConnections,
		cfg.Database.MaxConnLifetime,
		cfg.Database.MaxConnIdleTime,
	); err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	logger.Info().Msg("Database connected")

	store := task.NewStore(database.Pool())

	if cfg.Storage.Type != string(storage.TypeLocal) {
		logger.Fatal().Str("type", cfg.Storage.Type).Msg("Unsupported storage type")
	}
	if _, err := storage.NewLocal(cfg.Storage.BasePath, cfg.Storage.BaseURL); err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize audio storage")
	}

	amqpBroker, err := broker.DialAMQP(cfg.Broker.URL, *logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to message broker")
	}
	defer amqpBroker.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	hub := notify.NewHub(cfg.Notify.ChannelTimeout, *logger)
	bridge := notify.NewBridge(rdb, hub, *logger)
	go bridge.Run(ctx)

	taskSweeper := sweepers.NewStuckTaskSweeper(
		store, amqpBroker, logger,
		cfg.Sweeper.Interval, cfg.Sweeper.StaleAfter, cfg.Sweeper.BatchLimit,
	)
	go taskSweeper.Start(ctx)

	prod := producer.New(store, amqpBroker, *logger)
	taskHandlers := handlers.NewTaskHandlers(prod, store, *logger)
	channelHandlers := handlers.NewChannelHandlers(hub, *logger)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	setupMiddleware(router, logger)

	router.GET("/health", handlers.HealthCheck(amqpBroker, rdb))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.Use(middleware.RateLimitMiddleware(middleware.RateLimiterConfig{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		BurstSize:         cfg.RateLimit.Burst,
	}))
	{
		api.POST("/tasks", taskHandlers.SubmitTask)
		api.GET("/tasks/:id", taskHandlers.GetTask)
		api.GET("/tasks/:id/history", taskHandlers.GetTaskHistory)
		api.GET("/notifications/:clientId", notify.SSEHandler(hub))
	}

	// Rendered audio is served straight off the local store.
	router.Static("/files", cfg.Storage.BasePath)

	internal := router.Group("/internal")
	internal.Use(middleware.InternalAuthMiddleware(cfg.Auth.InternalAPIKey))
	{
		internal.GET("/health", handlers.HealthCheck(amqpBroker, rdb))
		internal.GET("/channels", channelHandlers.Stats)
		internal.DELETE("/channels/:clientId", channelHandlers.Disconnect)
		internal.DELETE("/channels", channelHandlers.DisconnectAll)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
		// SSE streams outlive any sane write timeout.
		WriteTimeout: 0,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("Shutting down server...")
	taskSweeper.Stop()
	hub.DisconnectAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited")
}

func initLogger(cfg config.LoggingConfig) *zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var output io.Writer
	if cfg.Format == "json" {
		output = os.Stdout
	} else {
		output = zerolog.ConsoleWriter{Out: os.Stdout, NoColor: cfg.NoColor}
	}

	logger := zerolog.New(output).Level(level).With().Timestamp().Str("service", "conversion-service").Logger()
	return &logger
}

func setupMiddleware(router *gin.Engine, logger *zerolog.Logger) {
	router.Use(func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		end := time.Now()
		latency := end.Sub(start)

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", query).
			Int("status", c.Writer.Status()).
			Dur("latency", latency).
			Str("ip", c.ClientIP()).
			Msg("HTTP request")
	})
}
