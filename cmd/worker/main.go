package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/voicestudio/conversion-service/config"
	"github.com/voicestudio/conversion-service/internal/adapter"
	"github.com/voicestudio/conversion-service/internal/broker"
	"github.com/voicestudio/conversion-service/internal/database"
	"github.com/voicestudio/conversion-service/internal/merge"
	"github.com/voicestudio/conversion-service/internal/notify"
	"github.com/voicestudio/conversion-service/internal/storage"
	"github.com/voicestudio/conversion-service/internal/task"
	"github.com/voicestudio/conversion-service/internal/telemetry"
	"github.com/voicestudio/conversion-service/internal/worker"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := initLogger(cfg.Logging)

	logger.Info().Msg("Starting conversion worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry := telemetry.MustInit(ctx, telemetry.GetConfigFromEnv())
	defer shutdownTelemetry(context.Background())

	dbURL := config.GetDatabaseURL()
	if dbURL == "" {
		logger.Fatal().Msg("DATABASE_URL not set")
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
	blob, err := storage.NewLocal(cfg.Storage.BasePath, cfg.Storage.BaseURL)
	if err != nil {
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

	providerClient := adapter.NewClient(adapter.ClientConfig{
		TTSBaseURL:        cfg.Adapter.TTSBaseURL,
		VCBaseURL:         cfg.Adapter.VCBaseURL,
		APIKey:            cfg.Adapter.APIKey,
		Timeout:           cfg.Adapter.Timeout,
		RequestsPerSecond: cfg.Adapter.RequestsPerSecond,
		Burst:             cfg.Adapter.Burst,
	})

	engine := merge.NewEngine(blob, &http.Client{Timeout: cfg.Adapter.Timeout}, *logger)

	w := worker.New(worker.Config{
		Store:    store,
		Consumer: amqpBroker,
		Notifier: notify.NewRedisPublisher(rdb),
		TTS:      providerClient,
		VC:       providerClient,
		Merger:   engine,
		Blob:     blob,
		Logger:   *logger,
	})

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("Worker stopped")
	}

	logger.Info().Msg("Worker exited")
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

	logger := zerolog.New(output).Level(level).With().Timestamp().Str("service", "conversion-worker").Logger()
	return &logger
}
