package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"intake/internal/cache"
	"intake/internal/config"
	"intake/internal/database"
	"intake/internal/ingest"
	"intake/internal/pricing"
	"intake/internal/rabbitmq"
	"intake/internal/reconciler"
	"intake/internal/retryer"
	"intake/internal/server"
	"intake/internal/storage"
	"intake/pkg/extractor"
)

func main() {
	// Optional .env for local development; real deployments use the
	// environment directly
	_ = godotenv.Load()

	configPath := flag.String("config", "config/config.json", "path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	setupLogging(cfg)

	db, err := database.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to MongoDB")
	}

	var priceCache cache.Cache
	if redisCache, err := cache.NewRedisCache(cfg.Redis); err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, price lookups fall back to MongoDB")
	} else {
		priceCache = redisCache
		defer redisCache.Close()
	}

	rabbit, err := rabbitmq.NewClientFromConfig(cfg.RabbitMQ)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to RabbitMQ")
	}
	defer rabbit.Close()

	docs, err := storage.New(cfg.AWS)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize document storage")
	}

	client := extractor.New(
		cfg.Extractor.APIKey,
		cfg.Extractor.BaseURL,
		cfg.Extractor.MaxRetries,
		cfg.Extractor.RetryDelay(),
		time.Duration(cfg.Extractor.TimeoutSeconds)*time.Second,
	)

	queue, err := retryer.NewQueue(rabbit, cfg.RabbitMQ)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up retry queue")
	}

	detector := pricing.New(db, priceCache, cfg.Pipeline.PriceAlertThreshold)
	pipeline := ingest.New(db, detector, queue, cfg.Pipeline.TotalsTolerance)
	rec := reconciler.New(db, client, pipeline)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine := retryer.New(db, docs, client, pipeline, rabbit, cfg.RabbitMQ.QueueName, cfg.Pipeline.MaxDocumentRetries)
	if err := engine.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start retry engine")
	}

	srv := server.New(*cfg, db, priceCache, rabbit, docs, rec)

	go func() {
		log.Info().Int("port", cfg.Port).Str("env", cfg.Env).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}
}

func setupLogging(cfg *config.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil || cfg.Logging.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Logging.Format != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
}
