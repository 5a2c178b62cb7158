package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Provider represents an invoice issuer, keyed by tax identifier
type Provider struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	TaxID     string             `bson:"tax_id" json:"tax_id" unique:"true"`
	Name      string             `bson:"name" json:"name"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
}

// InvoiceItem represents one line item, owned by its invoice and stored
// embedded so invoice and items are always written atomically
type InvoiceItem struct {
	MaterialCode string  `bson:"material_code" json:"material_code"`
	Description  string  `bson:"description,omitempty" json:"description,omitempty"`
	Quantity     float64 `bson:"quantity" json:"quantity"`
	UnitPrice    float64 `bson:"unit_price" json:"unit_price"`
	TotalPrice   float64 `bson:"total_price" json:"total_price"`
	WorkOrder    string  `bson:"work_order,omitempty" json:"work_order,omitempty"`
}

// Invoice represents a domain record created from a successful extraction.
// Uniqueness is (provider_id, code); re-ingesting the same document key
// replaces the existing document instead of creating a duplicate.
type Invoice struct {
	ID                primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Code              string             `bson:"code" json:"code"`
	ProviderID        primitive.ObjectID `bson:"provider_id" json:"provider_id"`
	IssueDate         time.Time          `bson:"issue_date" json:"issue_date"`
	TotalAmount       float64            `bson:"total_amount" json:"total_amount"`
	HasTotalsMismatch bool               `bson:"has_totals_mismatch" json:"has_totals_mismatch"`
	Items             []InvoiceItem      `bson:"items" json:"items"`
	DocumentKey       string             `bson:"document_key" json:"document_key"`
	DocumentURL       string             `bson:"document_url,omitempty" json:"document_url,omitempty"`
	JobID             string             `bson:"job_id" json:"job_id"`
	CreatedAt         time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt         time.Time          `bson:"updated_at" json:"updated_at"`
}

// ItemsTotal returns the sum of the line item totals.
func (i *Invoice) ItemsTotal() float64 {
	var sum float64
	for _, item := range i.Items {
		sum += item.TotalPrice
	}
	return sum
}

// AlertStatus represents the review state of a price alert
type AlertStatus string

const (
	AlertPending  AlertStatus = "pending"
	AlertApproved AlertStatus = "approved"
	AlertRejected AlertStatus = "rejected"
)

// PriceAlert represents one detected price change awaiting human review.
// Status is mutated only through the review endpoint, never by re-ingestion.
type PriceAlert struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	MaterialCode  string             `bson:"material_code" json:"material_code"`
	ProviderID    primitive.ObjectID `bson:"provider_id" json:"provider_id"`
	OldPrice      float64            `bson:"old_price" json:"old_price"`
	NewPrice      float64            `bson:"new_price" json:"new_price"`
	PercentChange float64            `bson:"percent_change" json:"percent_change"`
	Status        AlertStatus        `bson:"status" json:"status"`
	InvoiceCode   string             `bson:"invoice_code,omitempty" json:"invoice_code,omitempty"`
	CreatedAt     time.Time          `bson:"created_at" json:"created_at"`
	ReviewedAt    *time.Time         `bson:"reviewed_at,omitempty" json:"reviewed_at,omitempty"`
}

// PriceObservation represents one observed unit price for a material from a
// provider, recorded at ingestion time
type PriceObservation struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	MaterialCode  string             `bson:"material_code" json:"material_code"`
	ProviderID    primitive.ObjectID `bson:"provider_id" json:"provider_id"`
	UnitPrice     float64            `bson:"unit_price" json:"unit_price"`
	EffectiveDate time.Time          `bson:"effective_date" json:"effective_date"`
	InvoiceCode   string             `bson:"invoice_code" json:"invoice_code"`
	CreatedAt     time.Time          `bson:"created_at" json:"created_at"`
}
