// Package pricing detects significant unit-price changes between invoices
// from the same provider and raises alerts for human review.
package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"intake/internal/cache"
	"intake/internal/database"
	"intake/internal/model"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const cacheTTL = 24 * time.Hour

// cachedObservation is the hot-path copy of the latest observation per
// (material, provider) pair
type cachedObservation struct {
	UnitPrice     float64   `json:"unit_price"`
	EffectiveDate time.Time `json:"effective_date"`
}

// Detector compares new price observations against the most recent prior
// one and creates pending alerts above the configured threshold
type Detector struct {
	db        database.PriceDatabase
	cache     cache.Cache
	threshold float64
}

// New creates a price alert detector. cache may be nil; threshold is the
// relative change (e.g. 0.10 for 10%) above which an alert is raised.
func New(db database.PriceDatabase, c cache.Cache, threshold float64) *Detector {
	return &Detector{
		db:        db,
		cache:     c,
		threshold: threshold,
	}
}

// ObserveItem records the price observation for one ingested line item and
// raises an alert when the price moved beyond the threshold
func (d *Detector) ObserveItem(ctx context.Context, invoice *model.Invoice, item model.InvoiceItem) error {
	if item.MaterialCode == "" || item.UnitPrice <= 0 {
		return nil
	}
	return d.Observe(ctx, item.MaterialCode, invoice.ProviderID, item.UnitPrice, invoice.IssueDate, invoice.Code)
}

// Observe handles one (material, provider, price, date) observation
func (d *Detector) Observe(ctx context.Context, materialCode string, providerID primitive.ObjectID, unitPrice float64, effectiveDate time.Time, invoiceCode string) error {
	prior, err := d.latestPrior(ctx, materialCode, providerID, effectiveDate)
	if err != nil {
		return err
	}

	obs := &model.PriceObservation{
		MaterialCode:  materialCode,
		ProviderID:    providerID,
		UnitPrice:     unitPrice,
		EffectiveDate: effectiveDate,
		InvoiceCode:   invoiceCode,
	}
	if err := d.db.RecordObservation(ctx, obs); err != nil {
		return err
	}
	d.updateCache(ctx, materialCode, providerID, unitPrice, effectiveDate)

	if prior == nil || prior.UnitPrice <= 0 {
		return nil
	}

	change := (unitPrice - prior.UnitPrice) / prior.UnitPrice
	if math.Abs(change) <= d.threshold {
		return nil
	}

	exists, err := d.db.AlertExistsForTransition(ctx, materialCode, providerID, prior.UnitPrice, unitPrice)
	if err != nil {
		return err
	}
	if exists {
		log.Debug().
			Str("material", materialCode).
			Float64("oldPrice", prior.UnitPrice).
			Float64("newPrice", unitPrice).
			Msg("Alert already exists for price transition")
		return nil
	}

	return d.db.CreateAlert(ctx, &model.PriceAlert{
		MaterialCode:  materialCode,
		ProviderID:    providerID,
		OldPrice:      prior.UnitPrice,
		NewPrice:      unitPrice,
		PercentChange: change * 100,
		Status:        model.AlertPending,
		InvoiceCode:   invoiceCode,
	})
}

// latestPrior finds the most recent observation strictly before the given
// date, preferring the cached copy when it qualifies
func (d *Detector) latestPrior(ctx context.Context, materialCode string, providerID primitive.ObjectID, before time.Time) (*model.PriceObservation, error) {
	if d.cache != nil {
		data, err := d.cache.Get(ctx, d.cacheKey(materialCode, providerID))
		if err == nil {
			var cached cachedObservation
			if json.Unmarshal(data, &cached) == nil && cached.EffectiveDate.Before(before) {
				return &model.PriceObservation{
					MaterialCode:  materialCode,
					ProviderID:    providerID,
					UnitPrice:     cached.UnitPrice,
					EffectiveDate: cached.EffectiveDate,
				}, nil
			}
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			log.Warn().Err(err).Str("material", materialCode).Msg("Price cache lookup failed")
		}
	}

	return d.db.LatestObservationBefore(ctx, materialCode, providerID, before)
}

// updateCache stores the observation as the pair's latest if it is newer
// than what the cache holds. Failures only cost a cache hit.
func (d *Detector) updateCache(ctx context.Context, materialCode string, providerID primitive.ObjectID, unitPrice float64, effectiveDate time.Time) {
	if d.cache == nil {
		return
	}

	key := d.cacheKey(materialCode, providerID)
	if data, err := d.cache.Get(ctx, key); err == nil {
		var cached cachedObservation
		if json.Unmarshal(data, &cached) == nil && cached.EffectiveDate.After(effectiveDate) {
			return
		}
	}

	data, err := json.Marshal(cachedObservation{UnitPrice: unitPrice, EffectiveDate: effectiveDate})
	if err != nil {
		return
	}
	if err := d.cache.Set(ctx, key, data, cacheTTL); err != nil {
		log.Warn().Err(err).Str("material", materialCode).Msg("Price cache update failed")
	}
}

func (d *Detector) cacheKey(materialCode string, providerID primitive.ObjectID) string {
	return fmt.Sprintf("price:%s:%s", providerID.Hex(), materialCode)
}
