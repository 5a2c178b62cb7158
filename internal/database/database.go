package database

import (
	"context"
	"errors"
	"intake/internal/config"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

var (
	// ErrJobNotFound is returned when no job matches the given id
	ErrJobNotFound = errors.New("job not found")

	// ErrInvoiceNotFound is returned when no invoice matches the lookup
	ErrInvoiceNotFound = errors.New("invoice not found")

	// ErrAlertNotFound is returned when no price alert matches the given id
	ErrAlertNotFound = errors.New("price alert not found")
)

type Database interface {
	Health() error
	JobDatabase
	ProviderDatabase
	InvoiceDatabase
	PriceDatabase
}

type mongoDB struct {
	client *mongo.Client
	db     *mongo.Database

	jobsCol         *mongo.Collection
	providersCol    *mongo.Collection
	invoicesCol     *mongo.Collection
	observationsCol *mongo.Collection
	alertsCol       *mongo.Collection
}

func New(config *config.Config) (Database, error) {
	clientOptions := options.Client().ApplyURI(config.MongoDB.URI)
	if config.MongoDB.Username != "" {
		clientOptions.SetAuth(options.Credential{
			Username: config.MongoDB.Username,
			Password: config.MongoDB.Password,
		})
	}

	client, err := mongo.Connect(context.TODO(), clientOptions)
	if err != nil {
		return nil, err
	}

	db := client.Database(config.MongoDB.DB)

	jobsCol := db.Collection("jobs")
	jobIndexModels := []mongo.IndexModel{
		{
			// Index for reconciliation sweeps over non-terminal jobs
			Keys:    bson.D{{Key: "status", Value: 1}},
			Options: options.Index(),
		},
		{
			// Index for listing newest-first
			Keys:    bson.D{{Key: "created_at", Value: -1}},
			Options: options.Index(),
		},
	}

	providersCol := db.Collection("providers")
	providerIndexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "tax_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}

	invoicesCol := db.Collection("invoices")
	invoiceIndexModels := []mongo.IndexModel{
		{
			// One invoice per (provider, code); re-ingestion must hit this
			Keys:    bson.D{{Key: "provider_id", Value: 1}, {Key: "code", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "document_key", Value: 1}},
			Options: options.Index(),
		},
		{
			Keys:    bson.D{{Key: "job_id", Value: 1}},
			Options: options.Index(),
		},
	}

	observationsCol := db.Collection("price_observations")
	observationIndexModels := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "material_code", Value: 1},
				{Key: "provider_id", Value: 1},
				{Key: "effective_date", Value: -1},
			},
			Options: options.Index(),
		},
	}

	alertsCol := db.Collection("price_alerts")
	alertIndexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index(),
		},
		{
			Keys: bson.D{
				{Key: "material_code", Value: 1},
				{Key: "provider_id", Value: 1},
				{Key: "old_price", Value: 1},
				{Key: "new_price", Value: 1},
			},
			Options: options.Index(),
		},
	}

	indexSets := []struct {
		col    *mongo.Collection
		models []mongo.IndexModel
	}{
		{jobsCol, jobIndexModels},
		{providersCol, providerIndexModels},
		{invoicesCol, invoiceIndexModels},
		{observationsCol, observationIndexModels},
		{alertsCol, alertIndexModels},
	}

	for _, set := range indexSets {
		if _, err := set.col.Indexes().CreateMany(context.Background(), set.models); err != nil {
			log.Warn().Err(err).Str("collection", set.col.Name()).Msg("Error creating indexes")
		}
	}

	return &mongoDB{
		client:          client,
		db:              db,
		jobsCol:         jobsCol,
		providersCol:    providersCol,
		invoicesCol:     invoicesCol,
		observationsCol: observationsCol,
		alertsCol:       alertsCol,
	}, nil
}

// Health implements Database interface
func (m *mongoDB) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.client.Ping(ctx, readpref.Primary()); err != nil {
		log.Error().Err(err).Msg("MongoDB health check failed")
		return err
	}

	return nil
}
