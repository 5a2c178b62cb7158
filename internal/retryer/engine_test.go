package retryer

import (
	"context"
	"errors"
	"fmt"
	"intake/internal/model"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDocs struct {
	data map[string][]byte
}

func (f *fakeDocs) Get(_ context.Context, key string) ([]byte, error) {
	data, ok := f.data[key]
	if !ok {
		return nil, fmt.Errorf("no such object %s", key)
	}
	return data, nil
}

// scriptedExtractor returns one scripted payload per call, cycling on the
// last one when calls outnumber the script
type scriptedExtractor struct {
	payloads []string
	err      error
	calls    int
}

func (s *scriptedExtractor) ExtractDocument(_ context.Context, _ string, _ []byte) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	idx := s.calls - 1
	if idx >= len(s.payloads) {
		idx = len(s.payloads) - 1
	}
	return s.payloads[idx], nil
}

type fakeBookkeeper struct {
	jobID       string
	attempts    int
	retriedDocs int
	calls       int
}

func (f *fakeBookkeeper) AddRetryBookkeeping(_ context.Context, id string, attempts, retriedDocs int) error {
	f.calls++
	f.jobID = id
	f.attempts += attempts
	f.retriedDocs += retriedDocs
	return nil
}

// fakeBuilder derives the mismatch flag from a marker in the payload text,
// mirroring how the real pipeline compares totals
type fakeBuilder struct {
	stored   []*model.Invoice
	buildErr error
}

func (f *fakeBuilder) BuildInvoice(_ context.Context, jobID, documentKey, text string) (*model.Invoice, error) {
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	return &model.Invoice{
		Code:              "NF-1",
		JobID:             jobID,
		DocumentKey:       documentKey,
		HasTotalsMismatch: text == "inconsistent",
	}, nil
}

func (f *fakeBuilder) StoreInvoice(_ context.Context, invoice *model.Invoice) (*model.Invoice, error) {
	f.stored = append(f.stored, invoice)
	return invoice, nil
}

func newEngine(extractor *scriptedExtractor, builder *fakeBuilder, books *fakeBookkeeper) *Engine {
	docs := &fakeDocs{data: map[string][]byte{"doc-1.pdf": []byte("%PDF-1.4")}}
	return New(books, docs, extractor, builder, nil, "intake.retry", 3)
}

func task() Task {
	return Task{JobID: "job-1", DocumentKey: "doc-1.pdf"}
}

func TestProcess_FirstConsistentResultWins(t *testing.T) {
	extractor := &scriptedExtractor{payloads: []string{"inconsistent", "consistent"}}
	builder := &fakeBuilder{}
	books := &fakeBookkeeper{}

	outcome := newEngine(extractor, builder, books).Process(context.Background(), task())

	assert.Equal(t, PhaseResolved, outcome.Phase)
	assert.Equal(t, 2, outcome.Attempts)
	assert.Equal(t, 2, extractor.calls)
	require.Len(t, builder.stored, 1)
	assert.False(t, builder.stored[0].HasTotalsMismatch)
}

func TestProcess_ResolvedOnFirstAttempt(t *testing.T) {
	extractor := &scriptedExtractor{payloads: []string{"consistent"}}
	builder := &fakeBuilder{}
	books := &fakeBookkeeper{}

	outcome := newEngine(extractor, builder, books).Process(context.Background(), task())

	assert.Equal(t, PhaseResolved, outcome.Phase)
	assert.Equal(t, 1, outcome.Attempts)
	assert.Len(t, builder.stored, 1)
}

func TestProcess_ExhaustsAttemptBudget(t *testing.T) {
	extractor := &scriptedExtractor{payloads: []string{"inconsistent"}}
	builder := &fakeBuilder{}
	books := &fakeBookkeeper{}

	outcome := newEngine(extractor, builder, books).Process(context.Background(), task())

	assert.Equal(t, PhaseExhausted, outcome.Phase)
	assert.Equal(t, 3, outcome.Attempts)
	assert.Equal(t, 3, extractor.calls)
	// The flagged invoice is never overwritten with an inconsistent result
	assert.Empty(t, builder.stored)
}

func TestProcess_ExtractionErrorsCountAgainstBudget(t *testing.T) {
	extractor := &scriptedExtractor{err: errors.New("rate limited")}
	builder := &fakeBuilder{}
	books := &fakeBookkeeper{}

	outcome := newEngine(extractor, builder, books).Process(context.Background(), task())

	assert.Equal(t, PhaseExhausted, outcome.Phase)
	assert.Equal(t, 3, extractor.calls)
}

func TestProcess_UnusablePayloadCountsAgainstBudget(t *testing.T) {
	extractor := &scriptedExtractor{payloads: []string{"consistent"}}
	builder := &fakeBuilder{buildErr: errors.New("extraction payload missing invoice code")}
	books := &fakeBookkeeper{}

	outcome := newEngine(extractor, builder, books).Process(context.Background(), task())

	assert.Equal(t, PhaseExhausted, outcome.Phase)
	assert.Empty(t, builder.stored)
}

func TestProcess_MissingDocumentExhausts(t *testing.T) {
	extractor := &scriptedExtractor{payloads: []string{"consistent"}}
	builder := &fakeBuilder{}
	books := &fakeBookkeeper{}
	engine := New(books, &fakeDocs{data: map[string][]byte{}}, extractor, builder, nil, "intake.retry", 3)

	outcome := engine.Process(context.Background(), task())

	assert.Equal(t, PhaseExhausted, outcome.Phase)
	assert.Equal(t, 0, extractor.calls)
}

func TestProcess_BookkeepingOnExhaustion(t *testing.T) {
	extractor := &scriptedExtractor{payloads: []string{"inconsistent"}}
	builder := &fakeBuilder{}
	books := &fakeBookkeeper{}

	newEngine(extractor, builder, books).Process(context.Background(), task())

	assert.Equal(t, 1, books.calls)
	assert.Equal(t, "job-1", books.jobID)
	assert.Equal(t, 3, books.attempts)
	assert.Equal(t, 1, books.retriedDocs)
}

func TestProcess_NoBookkeepingWhenResolved(t *testing.T) {
	extractor := &scriptedExtractor{payloads: []string{"inconsistent", "consistent"}}
	builder := &fakeBuilder{}
	books := &fakeBookkeeper{}

	newEngine(extractor, builder, books).Process(context.Background(), task())

	assert.Equal(t, 0, books.calls)
}
