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

// InvoiceDatabase defines invoice-related database operations
type InvoiceDatabase interface {
	// UpsertInvoice writes an invoice keyed on (provider_id, code). Items
	// travel inside the invoice document, so invoice and items are always
	// replaced together. Returns the stored invoice.
	UpsertInvoice(ctx context.Context, invoice *model.Invoice) (*model.Invoice, error)

	// GetInvoiceByID retrieves an invoice by its object id
	GetInvoiceByID(ctx context.Context, id primitive.ObjectID) (*model.Invoice, error)

	// GetInvoiceByDocumentKey retrieves the invoice ingested from the given
	// source document
	GetInvoiceByDocumentKey(ctx context.Context, key string) (*model.Invoice, error)
}

// UpsertInvoice writes an invoice by (provider, code), preserving created_at
// across re-ingestion
func (m *mongoDB) UpsertInvoice(ctx context.Context, invoice *model.Invoice) (*model.Invoice, error) {
	now := time.Now()
	filter := bson.M{
		"provider_id": invoice.ProviderID,
		"code":        invoice.Code,
	}
	update := bson.M{
		"$set": bson.M{
			"issue_date":          invoice.IssueDate,
			"total_amount":        invoice.TotalAmount,
			"has_totals_mismatch": invoice.HasTotalsMismatch,
			"items":               invoice.Items,
			"document_key":        invoice.DocumentKey,
			"document_url":        invoice.DocumentURL,
			"job_id":              invoice.JobID,
			"updated_at":          now,
		},
		"$setOnInsert": bson.M{
			"provider_id": invoice.ProviderID,
			"code":        invoice.Code,
			"created_at":  now,
		},
	}

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var stored model.Invoice
	err := m.invoicesCol.FindOneAndUpdate(ctx, filter, update, opts).Decode(&stored)
	if err != nil {
		log.Error().Err(err).Str("code", invoice.Code).Msg("Failed to upsert invoice")
		return nil, err
	}

	log.Debug().
		Str("code", stored.Code).
		Str("invoiceID", stored.ID.Hex()).
		Bool("mismatch", stored.HasTotalsMismatch).
		Msg("Upserted invoice")
	return &stored, nil
}

// GetInvoiceByID retrieves an invoice by its object id
func (m *mongoDB) GetInvoiceByID(ctx context.Context, id primitive.ObjectID) (*model.Invoice, error) {
	var invoice model.Invoice
	err := m.invoicesCol.FindOne(ctx, bson.M{"_id": id}).Decode(&invoice)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrInvoiceNotFound
		}
		log.Error().Err(err).Str("invoiceID", id.Hex()).Msg("Failed to get invoice")
		return nil, err
	}

	return &invoice, nil
}

// GetInvoiceByDocumentKey retrieves the invoice ingested from a source document
func (m *mongoDB) GetInvoiceByDocumentKey(ctx context.Context, key string) (*model.Invoice, error) {
	var invoice model.Invoice
	err := m.invoicesCol.FindOne(ctx, bson.M{"document_key": key}).Decode(&invoice)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrInvoiceNotFound
		}
		log.Error().Err(err).Str("documentKey", key).Msg("Failed to get invoice by document key")
		return nil, err
	}

	return &invoice, nil
}
