// Command sweep runs one reconciliation pass over all non-terminal jobs and
// exits. Meant for cron-style invocation next to the API's scheduled
// trigger endpoint.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"intake/internal/config"
	"intake/internal/database"
	"intake/internal/ingest"
	"intake/internal/pricing"
	"intake/internal/rabbitmq"
	"intake/internal/reconciler"
	"intake/internal/retryer"
	"intake/pkg/extractor"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "config/config.json", "path to configuration file")
	timeout := flag.Duration("timeout", 10*time.Minute, "overall sweep timeout")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	db, err := database.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to MongoDB")
	}

	client := extractor.New(
		cfg.Extractor.APIKey,
		cfg.Extractor.BaseURL,
		cfg.Extractor.MaxRetries,
		cfg.Extractor.RetryDelay(),
		time.Duration(cfg.Extractor.TimeoutSeconds)*time.Second,
	)

	// Retry scheduling is best-effort here: without the broker the sweep
	// still runs, mismatched invoices just stay flagged for manual review
	var scheduler ingest.RetryScheduler
	if rabbit, err := rabbitmq.NewClientFromConfig(cfg.RabbitMQ); err != nil {
		log.Warn().Err(err).Msg("RabbitMQ unavailable, mismatch retries will not be scheduled")
	} else {
		defer rabbit.Close()
		if queue, err := retryer.NewQueue(rabbit, cfg.RabbitMQ); err != nil {
			log.Warn().Err(err).Msg("Failed to set up retry queue")
		} else {
			scheduler = queue
		}
	}

	detector := pricing.New(db, nil, cfg.Pipeline.PriceAlertThreshold)
	pipeline := ingest.New(db, detector, scheduler, cfg.Pipeline.TotalsTolerance)
	rec := reconciler.New(db, client, pipeline)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	summary, err := rec.Sweep(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Sweep failed")
	}

	out, _ := json.Marshal(summary)
	fmt.Println(string(out))
}
