package pricing

import (
	"context"
	"intake/internal/model"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type fakePriceDB struct {
	observations []*model.PriceObservation
	alerts       []*model.PriceAlert
}

func (f *fakePriceDB) RecordObservation(_ context.Context, obs *model.PriceObservation) error {
	for _, existing := range f.observations {
		if existing.MaterialCode == obs.MaterialCode &&
			existing.ProviderID == obs.ProviderID &&
			existing.InvoiceCode == obs.InvoiceCode {
			existing.UnitPrice = obs.UnitPrice
			existing.EffectiveDate = obs.EffectiveDate
			return nil
		}
	}
	f.observations = append(f.observations, obs)
	return nil
}

func (f *fakePriceDB) LatestObservationBefore(_ context.Context, materialCode string, providerID primitive.ObjectID, before time.Time) (*model.PriceObservation, error) {
	var latest *model.PriceObservation
	for _, obs := range f.observations {
		if obs.MaterialCode != materialCode || obs.ProviderID != providerID {
			continue
		}
		if !obs.EffectiveDate.Before(before) {
			continue
		}
		if latest == nil || obs.EffectiveDate.After(latest.EffectiveDate) {
			latest = obs
		}
	}
	return latest, nil
}

func (f *fakePriceDB) AlertExistsForTransition(_ context.Context, materialCode string, providerID primitive.ObjectID, oldPrice, newPrice float64) (bool, error) {
	for _, alert := range f.alerts {
		if alert.MaterialCode == materialCode &&
			alert.ProviderID == providerID &&
			alert.OldPrice == oldPrice &&
			alert.NewPrice == newPrice {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakePriceDB) CreateAlert(_ context.Context, alert *model.PriceAlert) error {
	f.alerts = append(f.alerts, alert)
	return nil
}

func (f *fakePriceDB) ListAlerts(_ context.Context, status model.AlertStatus, _ int) ([]*model.PriceAlert, error) {
	return f.alerts, nil
}

func (f *fakePriceDB) ReviewAlert(_ context.Context, _ primitive.ObjectID, _ model.AlertStatus) error {
	return nil
}

var (
	providerID = primitive.NewObjectID()
	day1       = time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	day2       = time.Date(2025, 5, 15, 0, 0, 0, 0, time.UTC)
)

func TestObserve_AlertAboveThreshold(t *testing.T) {
	db := &fakePriceDB{}
	d := New(db, nil, 0.10)
	ctx := context.Background()

	require.NoError(t, d.Observe(ctx, "MAT-1", providerID, 100.00, day1, "INV-1"))
	require.NoError(t, d.Observe(ctx, "MAT-1", providerID, 115.00, day2, "INV-2"))

	require.Len(t, db.alerts, 1)
	alert := db.alerts[0]
	assert.Equal(t, 100.00, alert.OldPrice)
	assert.Equal(t, 115.00, alert.NewPrice)
	assert.InDelta(t, 15.0, alert.PercentChange, 0.001)
	assert.Equal(t, model.AlertPending, alert.Status)
}

func TestObserve_NoAlertWithinThreshold(t *testing.T) {
	db := &fakePriceDB{}
	d := New(db, nil, 0.10)
	ctx := context.Background()

	require.NoError(t, d.Observe(ctx, "MAT-1", providerID, 100.00, day1, "INV-1"))
	require.NoError(t, d.Observe(ctx, "MAT-1", providerID, 105.00, day2, "INV-2"))

	assert.Empty(t, db.alerts)
}

func TestObserve_AlertOnPriceDrop(t *testing.T) {
	db := &fakePriceDB{}
	d := New(db, nil, 0.10)
	ctx := context.Background()

	require.NoError(t, d.Observe(ctx, "MAT-1", providerID, 100.00, day1, "INV-1"))
	require.NoError(t, d.Observe(ctx, "MAT-1", providerID, 80.00, day2, "INV-2"))

	require.Len(t, db.alerts, 1)
	assert.InDelta(t, -20.0, db.alerts[0].PercentChange, 0.001)
}

func TestObserve_NoAlertWithoutPriorObservation(t *testing.T) {
	db := &fakePriceDB{}
	d := New(db, nil, 0.10)

	require.NoError(t, d.Observe(context.Background(), "MAT-1", providerID, 500.00, day1, "INV-1"))
	assert.Empty(t, db.alerts)
}

func TestObserve_IdempotentOnReIngestion(t *testing.T) {
	db := &fakePriceDB{}
	d := New(db, nil, 0.10)
	ctx := context.Background()

	require.NoError(t, d.Observe(ctx, "MAT-1", providerID, 100.00, day1, "INV-1"))
	require.NoError(t, d.Observe(ctx, "MAT-1", providerID, 115.00, day2, "INV-2"))

	// Re-ingesting the same invoice must not raise a second alert for the
	// same transition
	require.NoError(t, d.Observe(ctx, "MAT-1", providerID, 115.00, day2, "INV-2"))

	assert.Len(t, db.alerts, 1)
	assert.Len(t, db.observations, 2)
}

func TestObserve_DistinctMaterialsIndependent(t *testing.T) {
	db := &fakePriceDB{}
	d := New(db, nil, 0.10)
	ctx := context.Background()

	require.NoError(t, d.Observe(ctx, "MAT-1", providerID, 100.00, day1, "INV-1"))
	require.NoError(t, d.Observe(ctx, "MAT-2", providerID, 100.00, day1, "INV-1"))
	require.NoError(t, d.Observe(ctx, "MAT-1", providerID, 150.00, day2, "INV-2"))

	require.Len(t, db.alerts, 1)
	assert.Equal(t, "MAT-1", db.alerts[0].MaterialCode)
}

func TestObserveItem_SkipsUnusableItems(t *testing.T) {
	db := &fakePriceDB{}
	d := New(db, nil, 0.10)
	invoice := &model.Invoice{Code: "INV-1", ProviderID: providerID, IssueDate: day1}

	require.NoError(t, d.ObserveItem(context.Background(), invoice, model.InvoiceItem{MaterialCode: "", UnitPrice: 10}))
	require.NoError(t, d.ObserveItem(context.Background(), invoice, model.InvoiceItem{MaterialCode: "MAT-1", UnitPrice: 0}))

	assert.Empty(t, db.observations)
}
