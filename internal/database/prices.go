package database

import (
	"context"
	"errors"
	"intake/internal/model"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// PriceDatabase defines price observation and alert operations
type PriceDatabase interface {
	// RecordObservation stores one observed unit price. Keyed on
	// (material, provider, invoice), so re-ingesting an invoice never
	// duplicates its observations.
	RecordObservation(ctx context.Context, obs *model.PriceObservation) error

	// LatestObservationBefore returns the most recent observation for the
	// (material, provider) pair strictly before the given date, or nil when
	// no prior observation exists
	LatestObservationBefore(ctx context.Context, materialCode string, providerID primitive.ObjectID, before time.Time) (*model.PriceObservation, error)

	// AlertExistsForTransition reports whether an alert already covers the
	// same price transition for the pair
	AlertExistsForTransition(ctx context.Context, materialCode string, providerID primitive.ObjectID, oldPrice, newPrice float64) (bool, error)

	// CreateAlert stores a new price alert in pending status
	CreateAlert(ctx context.Context, alert *model.PriceAlert) error

	// ListAlerts returns alerts filtered by status, newest-first
	ListAlerts(ctx context.Context, status model.AlertStatus, limit int) ([]*model.PriceAlert, error)

	// ReviewAlert moves a pending alert to approved or rejected
	ReviewAlert(ctx context.Context, id primitive.ObjectID, status model.AlertStatus) error
}

// RecordObservation upserts one observed unit price for its invoice
func (m *mongoDB) RecordObservation(ctx context.Context, obs *model.PriceObservation) error {
	filter := bson.M{
		"material_code": obs.MaterialCode,
		"provider_id":   obs.ProviderID,
		"invoice_code":  obs.InvoiceCode,
	}
	update := bson.M{
		"$set": bson.M{
			"unit_price":     obs.UnitPrice,
			"effective_date": obs.EffectiveDate,
		},
		"$setOnInsert": bson.M{
			"material_code": obs.MaterialCode,
			"provider_id":   obs.ProviderID,
			"invoice_code":  obs.InvoiceCode,
			"created_at":    time.Now(),
		},
	}

	_, err := m.observationsCol.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		log.Error().Err(err).Str("material", obs.MaterialCode).Msg("Failed to record price observation")
		return err
	}

	return nil
}

// LatestObservationBefore returns the most recent prior observation, nil when none
func (m *mongoDB) LatestObservationBefore(ctx context.Context, materialCode string, providerID primitive.ObjectID, before time.Time) (*model.PriceObservation, error) {
	filter := bson.M{
		"material_code":  materialCode,
		"provider_id":    providerID,
		"effective_date": bson.M{"$lt": before},
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "effective_date", Value: -1}})

	var obs model.PriceObservation
	err := m.observationsCol.FindOne(ctx, filter, opts).Decode(&obs)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		log.Error().Err(err).Str("material", materialCode).Msg("Failed to look up prior observation")
		return nil, err
	}

	return &obs, nil
}

// AlertExistsForTransition reports whether an alert already covers the transition
func (m *mongoDB) AlertExistsForTransition(ctx context.Context, materialCode string, providerID primitive.ObjectID, oldPrice, newPrice float64) (bool, error) {
	filter := bson.M{
		"material_code": materialCode,
		"provider_id":   providerID,
		"old_price":     oldPrice,
		"new_price":     newPrice,
	}

	count, err := m.alertsCol.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		log.Error().Err(err).Str("material", materialCode).Msg("Failed to check for existing alert")
		return false, err
	}

	return count > 0, nil
}

// CreateAlert stores a new price alert
func (m *mongoDB) CreateAlert(ctx context.Context, alert *model.PriceAlert) error {
	if alert.ID.IsZero() {
		alert.ID = primitive.NewObjectID()
	}
	if alert.Status == "" {
		alert.Status = model.AlertPending
	}
	alert.CreatedAt = time.Now()

	_, err := m.alertsCol.InsertOne(ctx, alert)
	if err != nil {
		log.Error().Err(err).Str("material", alert.MaterialCode).Msg("Failed to create price alert")
		return err
	}

	log.Info().
		Str("material", alert.MaterialCode).
		Float64("oldPrice", alert.OldPrice).
		Float64("newPrice", alert.NewPrice).
		Float64("percentChange", alert.PercentChange).
		Msg("Created price alert")
	return nil
}

// ListAlerts returns alerts filtered by status, newest-first
func (m *mongoDB) ListAlerts(ctx context.Context, status model.AlertStatus, limit int) ([]*model.PriceAlert, error) {
	filter := bson.M{}
	if status != "" {
		filter["status"] = status
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := m.alertsCol.Find(ctx, filter, opts)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list price alerts")
		return nil, err
	}
	defer cursor.Close(ctx)

	var alerts []*model.PriceAlert
	if err := cursor.All(ctx, &alerts); err != nil {
		return nil, err
	}

	return alerts, nil
}

// ReviewAlert moves a pending alert to approved or rejected
func (m *mongoDB) ReviewAlert(ctx context.Context, id primitive.ObjectID, status model.AlertStatus) error {
	now := time.Now()
	res, err := m.alertsCol.UpdateOne(ctx,
		bson.M{"_id": id, "status": model.AlertPending},
		bson.M{"$set": bson.M{
			"status":      status,
			"reviewed_at": now,
		}},
	)
	if err != nil {
		log.Error().Err(err).Str("alertID", id.Hex()).Msg("Failed to review price alert")
		return err
	}
	if res.MatchedCount == 0 {
		return ErrAlertNotFound
	}

	log.Info().Str("alertID", id.Hex()).Str("status", string(status)).Msg("Reviewed price alert")
	return nil
}
