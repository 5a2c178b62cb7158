// Package ingest converts parsed extraction output into domain records.
// Failures are isolated per document so one bad extraction never aborts a
// completed batch.
package ingest

import (
	"context"
	"fmt"
	"intake/internal/database"
	"intake/internal/model"
	"intake/internal/parser"
	"io"
	"math"
	"time"

	"github.com/rs/zerolog/log"
)

// Store is the slice of the database the pipeline writes through
type Store interface {
	database.ProviderDatabase
	database.InvoiceDatabase
}

// PriceObserver receives every ingested line item for price-change detection
type PriceObserver interface {
	ObserveItem(ctx context.Context, invoice *model.Invoice, item model.InvoiceItem) error
}

// RetryScheduler enqueues a mismatched document for re-extraction
type RetryScheduler interface {
	ScheduleMismatchRetry(ctx context.Context, jobID, documentKey string) error
}

// Stats are the aggregate results of one ingestion run. RemoteFailed counts
// records carrying the service's error marker; those documents are already
// in the job's remotely-reported failure count, so only Failed is folded
// into the job counters.
type Stats struct {
	Created      int `json:"created"`
	Mismatched   int `json:"mismatched"`
	Failed       int `json:"failed"`
	RemoteFailed int `json:"remote_failed"`
}

// Pipeline ingests extraction results for one job at a time
type Pipeline struct {
	store     Store
	observer  PriceObserver
	scheduler RetryScheduler
	tolerance float64
}

// New creates an ingestion pipeline. observer and scheduler may be nil in
// read-only tooling; tolerance bounds the accepted difference between the
// declared invoice total and the sum of its line items.
func New(store Store, observer PriceObserver, scheduler RetryScheduler, tolerance float64) *Pipeline {
	return &Pipeline{
		store:     store,
		observer:  observer,
		scheduler: scheduler,
		tolerance: tolerance,
	}
}

// TotalsMismatch reports whether the declared total and the item sum
// disagree beyond the tolerance.
func (p *Pipeline) TotalsMismatch(declared, itemsTotal float64) bool {
	return math.Abs(declared-itemsTotal) > p.tolerance
}

// BuildInvoice parses the extraction payload and assembles the invoice,
// resolving the provider and computing the totals-mismatch flag. Nothing is
// stored yet.
func (p *Pipeline) BuildInvoice(ctx context.Context, jobID, documentKey, text string) (*model.Invoice, error) {
	payload, err := ParsePayload(text)
	if err != nil {
		return nil, err
	}

	provider, err := p.store.GetOrCreateProvider(ctx, payload.Provider.TaxID, payload.Provider.Name)
	if err != nil {
		return nil, fmt.Errorf("resolving provider %s: %w", payload.Provider.TaxID, err)
	}

	items := make([]model.InvoiceItem, 0, len(payload.Items))
	for _, item := range payload.Items {
		items = append(items, model.InvoiceItem{
			MaterialCode: item.MaterialCode,
			Description:  item.Description,
			Quantity:     float64(item.Quantity),
			UnitPrice:    float64(item.UnitPrice),
			TotalPrice:   float64(item.TotalPrice),
			WorkOrder:    item.WorkOrder,
		})
	}

	invoice := &model.Invoice{
		Code:        payload.Invoice.Code,
		ProviderID:  provider.ID,
		IssueDate:   payload.ParseIssueDate(),
		TotalAmount: float64(payload.Invoice.TotalAmount),
		Items:       items,
		DocumentKey: documentKey,
		JobID:       jobID,
	}
	invoice.HasTotalsMismatch = p.TotalsMismatch(invoice.TotalAmount, invoice.ItemsTotal())

	return invoice, nil
}

// StoreInvoice upserts the invoice and feeds its items to the price
// observer. Observer failures are logged, not fatal: a missed alert must not
// fail ingestion.
func (p *Pipeline) StoreInvoice(ctx context.Context, invoice *model.Invoice) (*model.Invoice, error) {
	stored, err := p.store.UpsertInvoice(ctx, invoice)
	if err != nil {
		return nil, err
	}

	if p.observer != nil {
		for _, item := range stored.Items {
			if err := p.observer.ObserveItem(ctx, stored, item); err != nil {
				log.Error().Err(err).
					Str("invoice", stored.Code).
					Str("material", item.MaterialCode).
					Msg("Price observation failed")
			}
		}
	}

	return stored, nil
}

// ingestRecord processes one result record. Returns whether the stored
// invoice carries a totals mismatch.
func (p *Pipeline) ingestRecord(ctx context.Context, jobID string, record parser.ResultRecord) (bool, error) {
	invoice, err := p.BuildInvoice(ctx, jobID, record.Key, record.Response.Text)
	if err != nil {
		return false, err
	}

	stored, err := p.StoreInvoice(ctx, invoice)
	if err != nil {
		return false, err
	}

	if stored.HasTotalsMismatch && p.scheduler != nil {
		if err := p.scheduler.ScheduleMismatchRetry(ctx, jobID, record.Key); err != nil {
			// The invoice stays flagged for manual review either way
			log.Error().Err(err).
				Str("jobID", jobID).
				Str("documentKey", record.Key).
				Msg("Failed to schedule mismatch retry")
		}
	}

	return stored.HasTotalsMismatch, nil
}

// Run ingests a list of parsed records for the given job. Per-record
// failures are collected, never propagated.
func (p *Pipeline) Run(ctx context.Context, jobID string, records []parser.ResultRecord) (Stats, []model.JobError) {
	var stats Stats
	var jobErrors []model.JobError

	for _, record := range records {
		if record.Error != nil {
			stats.RemoteFailed++
			jobErrors = append(jobErrors, model.JobError{
				DocumentKey: record.Key,
				Message:     fmt.Sprintf("extraction failed: %s", record.Error.Message),
				Timestamp:   time.Now(),
			})
			continue
		}

		mismatched, err := p.ingestRecord(ctx, jobID, record)
		if err != nil {
			stats.Failed++
			jobErrors = append(jobErrors, model.JobError{
				DocumentKey: record.Key,
				Message:     err.Error(),
				Timestamp:   time.Now(),
			})
			log.Warn().Err(err).Str("jobID", jobID).Str("documentKey", record.Key).Msg("Failed to ingest record")
			continue
		}

		stats.Created++
		if mismatched {
			stats.Mismatched++
		}
	}

	log.Info().
		Str("jobID", jobID).
		Int("created", stats.Created).
		Int("mismatched", stats.Mismatched).
		Int("failed", stats.Failed).
		Int("remoteFailed", stats.RemoteFailed).
		Msg("Ingestion run finished")

	return stats, jobErrors
}

// RunReader parses a newline-delimited result stream and ingests it.
// Malformed lines become job errors; a read failure aborts the run.
func (p *Pipeline) RunReader(ctx context.Context, jobID string, r io.Reader) (Stats, []model.JobError, error) {
	records, lineErrors, err := parser.ParseResults(r)
	if err != nil {
		return Stats{}, nil, fmt.Errorf("reading result stream: %w", err)
	}
	if len(records) == 0 && len(lineErrors) > 0 {
		return Stats{}, nil, fmt.Errorf("result stream unparseable: %d malformed lines, no records", len(lineErrors))
	}

	stats, jobErrors := p.Run(ctx, jobID, records)

	for _, lineErr := range lineErrors {
		stats.Failed++
		jobErrors = append(jobErrors, model.JobError{
			Message:   fmt.Sprintf("malformed result line %d: %s (raw: %s)", lineErr.Line, lineErr.Err, lineErr.Raw),
			Timestamp: time.Now(),
		})
	}

	return stats, jobErrors, nil
}
