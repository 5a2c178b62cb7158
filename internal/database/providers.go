package database

import (
	"context"
	"intake/internal/model"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ProviderDatabase defines provider-related database operations
type ProviderDatabase interface {
	// GetOrCreateProvider resolves a provider by tax id, creating it when
	// first seen. The name is only written on insert.
	GetOrCreateProvider(ctx context.Context, taxID, name string) (*model.Provider, error)
}

// GetOrCreateProvider resolves or creates a provider by tax identifier
func (m *mongoDB) GetOrCreateProvider(ctx context.Context, taxID, name string) (*model.Provider, error) {
	filter := bson.M{"tax_id": taxID}
	update := bson.M{
		"$setOnInsert": bson.M{
			"tax_id":     taxID,
			"name":       name,
			"created_at": time.Now(),
		},
	}

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var provider model.Provider
	err := m.providersCol.FindOneAndUpdate(ctx, filter, update, opts).Decode(&provider)
	if err != nil {
		log.Error().Err(err).Str("taxID", taxID).Msg("Failed to resolve provider")
		return nil, err
	}

	return &provider, nil
}
