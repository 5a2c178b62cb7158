// Package retryer reprocesses documents whose extracted totals did not
// reconcile. Each document gets a bounded number of additional extraction
// attempts; the first internally consistent result wins, and a document
// that exhausts its budget stays flagged for manual review.
package retryer

import (
	"context"
	"encoding/json"
	"fmt"
	"intake/internal/model"
	"intake/internal/rabbitmq"

	"github.com/rs/zerolog/log"
)

// DocumentFetcher retrieves source document bytes from durable storage
type DocumentFetcher interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// DocumentExtractor resubmits a single document for extraction
type DocumentExtractor interface {
	ExtractDocument(ctx context.Context, documentKey string, document []byte) (string, error)
}

// Bookkeeper records retry outcomes against the owning job
type Bookkeeper interface {
	AddRetryBookkeeping(ctx context.Context, id string, attempts int, retriedDocs int) error
}

// Builder assembles and stores invoices from extraction payloads
type Builder interface {
	BuildInvoice(ctx context.Context, jobID, documentKey, text string) (*model.Invoice, error)
	StoreInvoice(ctx context.Context, invoice *model.Invoice) (*model.Invoice, error)
}

// Outcome is the terminal result of one retry cycle
type Outcome struct {
	Phase    Phase
	Attempts int
}

// Engine consumes retry tasks and runs the per-document retry cycle
type Engine struct {
	jobs        Bookkeeper
	docs        DocumentFetcher
	extractor   DocumentExtractor
	builder     Builder
	rabbit      rabbitmq.Client
	queueName   string
	maxAttempts int
}

// New creates a retry engine. maxAttempts bounds the additional extraction
// attempts per document beyond the original.
func New(jobs Bookkeeper, docs DocumentFetcher, extractor DocumentExtractor, builder Builder, rabbit rabbitmq.Client, queueName string, maxAttempts int) *Engine {
	return &Engine{
		jobs:        jobs,
		docs:        docs,
		extractor:   extractor,
		builder:     builder,
		rabbit:      rabbit,
		queueName:   queueName,
		maxAttempts: maxAttempts,
	}
}

// Start consumes retry tasks until the context is cancelled
func (e *Engine) Start(ctx context.Context) error {
	deliveries, err := e.rabbit.Consume(e.queueName, "mismatch-retryer")
	if err != nil {
		return fmt.Errorf("starting retry consumer: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("Retry engine stopping")
				return
			case delivery, ok := <-deliveries:
				if !ok {
					log.Warn().Msg("Retry delivery channel closed")
					return
				}

				var task Task
				if err := json.Unmarshal(delivery.Body, &task); err != nil {
					log.Error().Err(err).Msg("Discarding unreadable retry task")
					delivery.Nack(false, false)
					continue
				}

				e.Process(ctx, task)
				delivery.Ack(false)
			}
		}
	}()

	return nil
}

// Process runs the bounded retry cycle for one document. Every exit path is
// terminal for the document: either a consistent result was stored or the
// invoice stays flagged for manual review.
func (e *Engine) Process(ctx context.Context, task Task) Outcome {
	state := newDocumentState(e.maxAttempts)

	for state.Next() {
		log.Info().
			Str("jobID", task.JobID).
			Str("documentKey", task.DocumentKey).
			Str("state", state.String()).
			Msg("Retrying mismatched document")

		if e.attempt(ctx, task) {
			state.Resolve()
			break
		}
	}

	// The job's retry counters track documents that stayed inconsistent
	// after the full budget; a resolved document leaves no residue
	if state.phase == PhaseExhausted {
		if err := e.jobs.AddRetryBookkeeping(ctx, task.JobID, state.attempt, 1); err != nil {
			log.Error().Err(err).Str("jobID", task.JobID).Msg("Failed to record retry bookkeeping")
		}
	}

	outcome := Outcome{Phase: state.phase, Attempts: state.attempt}
	log.Info().
		Str("jobID", task.JobID).
		Str("documentKey", task.DocumentKey).
		Str("outcome", string(outcome.Phase)).
		Int("attempts", outcome.Attempts).
		Msg("Retry cycle finished")

	return outcome
}

// attempt runs one re-extraction. Returns true when the recomputed totals
// reconcile and the invoice was overwritten.
func (e *Engine) attempt(ctx context.Context, task Task) bool {
	document, err := e.docs.Get(ctx, task.DocumentKey)
	if err != nil {
		log.Warn().Err(err).Str("documentKey", task.DocumentKey).Msg("Source document fetch failed")
		return false
	}

	text, err := e.extractor.ExtractDocument(ctx, task.DocumentKey, document)
	if err != nil {
		log.Warn().Err(err).Str("documentKey", task.DocumentKey).Msg("Re-extraction failed")
		return false
	}

	invoice, err := e.builder.BuildInvoice(ctx, task.JobID, task.DocumentKey, text)
	if err != nil {
		log.Warn().Err(err).Str("documentKey", task.DocumentKey).Msg("Re-extracted payload unusable")
		return false
	}

	if invoice.HasTotalsMismatch {
		// Still inconsistent, the existing flagged invoice stays in place
		return false
	}

	if _, err := e.builder.StoreInvoice(ctx, invoice); err != nil {
		log.Error().Err(err).Str("documentKey", task.DocumentKey).Msg("Failed to overwrite invoice with consistent result")
		return false
	}

	return true
}
