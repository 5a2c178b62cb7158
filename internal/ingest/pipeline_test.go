package ingest

import (
	"context"
	"fmt"
	"intake/internal/model"
	"intake/internal/parser"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type fakeStore struct {
	providers map[string]*model.Provider
	invoices  map[string]*model.Invoice

	upsertErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		providers: make(map[string]*model.Provider),
		invoices:  make(map[string]*model.Invoice),
	}
}

func (f *fakeStore) GetOrCreateProvider(_ context.Context, taxID, name string) (*model.Provider, error) {
	if p, ok := f.providers[taxID]; ok {
		return p, nil
	}
	p := &model.Provider{ID: primitive.NewObjectID(), TaxID: taxID, Name: name}
	f.providers[taxID] = p
	return p, nil
}

func (f *fakeStore) UpsertInvoice(_ context.Context, invoice *model.Invoice) (*model.Invoice, error) {
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	key := invoice.ProviderID.Hex() + "/" + invoice.Code
	stored := *invoice
	if existing, ok := f.invoices[key]; ok {
		stored.ID = existing.ID
	} else {
		stored.ID = primitive.NewObjectID()
	}
	f.invoices[key] = &stored
	return &stored, nil
}

func (f *fakeStore) GetInvoiceByID(_ context.Context, id primitive.ObjectID) (*model.Invoice, error) {
	for _, inv := range f.invoices {
		if inv.ID == id {
			return inv, nil
		}
	}
	return nil, fmt.Errorf("not found")
}

func (f *fakeStore) GetInvoiceByDocumentKey(_ context.Context, key string) (*model.Invoice, error) {
	for _, inv := range f.invoices {
		if inv.DocumentKey == key {
			return inv, nil
		}
	}
	return nil, fmt.Errorf("not found")
}

type fakeScheduler struct {
	scheduled []string
}

func (f *fakeScheduler) ScheduleMismatchRetry(_ context.Context, _, documentKey string) error {
	f.scheduled = append(f.scheduled, documentKey)
	return nil
}

func payloadText(code string, totalAmount float64, itemTotals ...float64) string {
	items := make([]string, 0, len(itemTotals))
	for i, t := range itemTotals {
		items = append(items, fmt.Sprintf(
			`{"material_code": "MAT-%d", "quantity": 1, "unit_price": %.2f, "total_price": %.2f}`, i+1, t, t))
	}
	return fmt.Sprintf(
		`{"provider": {"tax_id": "12.345.678/0001-90", "name": "Acme"}, "invoice": {"code": %q, "issue_date": "2025-05-10", "total_amount": %.2f}, "items": [%s]}`,
		code, totalAmount, strings.Join(items, ","))
}

func okRecord(key, text string) parser.ResultRecord {
	r := parser.ResultRecord{Key: key}
	r.Response.Text = text
	return r
}

func TestRun_IngestsRecords(t *testing.T) {
	store := newFakeStore()
	p := New(store, nil, nil, 0.01)

	records := []parser.ResultRecord{
		okRecord("doc-1.pdf", payloadText("NF-1", 100.00, 60.00, 40.00)),
		okRecord("doc-2.pdf", payloadText("NF-2", 50.00, 50.00)),
	}

	stats, jobErrors := p.Run(context.Background(), "job-1", records)

	assert.Equal(t, Stats{Created: 2}, stats)
	assert.Empty(t, jobErrors)
	assert.Len(t, store.invoices, 2)
	assert.Len(t, store.providers, 1)
}

func TestRun_IdempotentReRun(t *testing.T) {
	store := newFakeStore()
	p := New(store, nil, nil, 0.01)

	records := []parser.ResultRecord{
		okRecord("doc-1.pdf", payloadText("NF-1", 100.00, 100.00)),
	}

	_, _ = p.Run(context.Background(), "job-1", records)
	firstID := store.invoices[mapKey(store)].ID

	stats, jobErrors := p.Run(context.Background(), "job-1", records)

	assert.Equal(t, Stats{Created: 1}, stats)
	assert.Empty(t, jobErrors)
	assert.Len(t, store.invoices, 1)
	assert.Equal(t, firstID, store.invoices[mapKey(store)].ID)
}

func mapKey(store *fakeStore) string {
	for k := range store.invoices {
		return k
	}
	return ""
}

func TestRun_TotalsTolerance(t *testing.T) {
	tests := []struct {
		name       string
		declared   float64
		itemTotal  float64
		mismatched bool
	}{
		{"exact match", 100.00, 100.00, false},
		{"within tolerance above", 100.01, 100.00, false},
		{"within tolerance below", 99.99, 100.00, false},
		{"beyond tolerance above", 100.02, 100.00, true},
		{"beyond tolerance below", 99.98, 100.00, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			scheduler := &fakeScheduler{}
			p := New(store, nil, scheduler, 0.01)

			records := []parser.ResultRecord{
				okRecord("doc-1.pdf", payloadText("NF-1", tt.declared, tt.itemTotal)),
			}
			stats, _ := p.Run(context.Background(), "job-1", records)

			if tt.mismatched {
				assert.Equal(t, Stats{Created: 1, Mismatched: 1}, stats)
				assert.Equal(t, []string{"doc-1.pdf"}, scheduler.scheduled)
			} else {
				assert.Equal(t, Stats{Created: 1}, stats)
				assert.Empty(t, scheduler.scheduled)
			}
		})
	}
}

func TestRun_ErrorRecords(t *testing.T) {
	store := newFakeStore()
	p := New(store, nil, nil, 0.01)

	failed := parser.ResultRecord{
		Key:   "doc-1.pdf",
		Error: &parser.RecordError{Code: "document_blocked", Message: "unreadable scan"},
	}
	records := []parser.ResultRecord{
		failed,
		okRecord("doc-2.pdf", payloadText("NF-2", 50.00, 50.00)),
	}

	stats, jobErrors := p.Run(context.Background(), "job-1", records)

	// Remote failures are reported separately so the job's counters never
	// count the same document twice
	assert.Equal(t, Stats{Created: 1, RemoteFailed: 1}, stats)
	require.Len(t, jobErrors, 1)
	assert.Equal(t, "doc-1.pdf", jobErrors[0].DocumentKey)
	assert.Contains(t, jobErrors[0].Message, "unreadable scan")
}

func TestRun_BadPayloadIsolated(t *testing.T) {
	store := newFakeStore()
	p := New(store, nil, nil, 0.01)

	records := []parser.ResultRecord{
		okRecord("doc-1.pdf", "not json at all"),
		okRecord("doc-2.pdf", payloadText("NF-2", 50.00, 50.00)),
	}

	stats, jobErrors := p.Run(context.Background(), "job-1", records)

	assert.Equal(t, Stats{Created: 1, Failed: 1}, stats)
	require.Len(t, jobErrors, 1)
	assert.Equal(t, "doc-1.pdf", jobErrors[0].DocumentKey)
	assert.Len(t, store.invoices, 1)
}

func TestRunReader(t *testing.T) {
	store := newFakeStore()
	p := New(store, nil, nil, 0.01)

	line := func(key, text string) string {
		rec := okRecord(key, text)
		return fmt.Sprintf(`{"key": %q, "response": {"text": %q}}`, rec.Key, rec.Response.Text)
	}
	stream := strings.Join([]string{
		line("doc-1.pdf", payloadText("NF-1", 100.00, 100.00)),
		"{broken json",
		line("doc-2.pdf", payloadText("NF-2", 50.00, 50.00)),
	}, "\n")

	stats, jobErrors, err := p.RunReader(context.Background(), "job-1", strings.NewReader(stream))
	require.NoError(t, err)

	assert.Equal(t, Stats{Created: 2, Failed: 1}, stats)
	require.Len(t, jobErrors, 1)
	assert.Contains(t, jobErrors[0].Message, "malformed result line 2")
}

func TestRunReader_Unparseable(t *testing.T) {
	store := newFakeStore()
	p := New(store, nil, nil, 0.01)

	_, _, err := p.RunReader(context.Background(), "job-1", strings.NewReader("garbage\nmore garbage\n"))
	assert.Error(t, err)
	assert.Empty(t, store.invoices)
}
