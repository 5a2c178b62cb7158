package extractor

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(baseURL string) *Client {
	return New("test-key", baseURL, 3, time.Millisecond, 5*time.Second)
}

func TestGetJobStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/batches/batch_abc", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Write([]byte(`{
			"id": "batch_abc",
			"status": "in_progress",
			"request_counts": {"total": 100, "completed": 40, "failed": 2},
			"in_progress_at": 1746871200
		}`))
	}))
	defer srv.Close()

	status, err := testClient(srv.URL).GetJobStatus(context.Background(), "batch_abc")
	require.NoError(t, err)

	assert.Equal(t, "batch_abc", status.ID)
	assert.Equal(t, "in_progress", status.State)
	require.NotNil(t, status.RequestCounts)
	assert.Equal(t, 100, status.RequestCounts.Total)
	assert.Equal(t, 40, status.RequestCounts.Completed)
	assert.Equal(t, int64(1746871200), status.StartedAt)
}

func TestGetJobStatus_RetriesRateLimits(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error": "rate limit exceeded"}`))
			return
		}
		w.Write([]byte(`{"id": "batch_abc", "status": "completed"}`))
	}))
	defer srv.Close()

	status, err := testClient(srv.URL).GetJobStatus(context.Background(), "batch_abc")
	require.NoError(t, err)
	assert.Equal(t, "completed", status.State)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetJobStatus_RateLimitBudgetExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": "rate limit exceeded"}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).GetJobStatus(context.Background(), "batch_abc")
	require.Error(t, err)
	var rateErr *RateLimitError
	assert.ErrorAs(t, err, &rateErr)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetJobStatus_QuotaBodyTreatedAsRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error": "monthly quota exceeded"}`))
			return
		}
		w.Write([]byte(`{"id": "batch_abc", "status": "completed"}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).GetJobStatus(context.Background(), "batch_abc")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGetJobStatus_OtherErrorsAbortImmediately(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error": "no such batch"}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).GetJobStatus(context.Background(), "batch_missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such batch")
	assert.Equal(t, int32(1), calls.Load())
}

func TestDownloadResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/files/file-123/content", r.URL.Path)
		w.Write([]byte("{\"key\": \"doc-1.pdf\"}\n{\"key\": \"doc-2.pdf\"}\n"))
	}))
	defer srv.Close()

	body, err := testClient(srv.URL).DownloadResult(context.Background(), "file-123")
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "doc-2.pdf")
}

func TestDownloadResult_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("no such file"))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).DownloadResult(context.Background(), "file-gone")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestExtractDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/extract", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Write([]byte(`{"response": {"text": "{\"invoice\": {\"code\": \"NF-1\"}}"}}`))
	}))
	defer srv.Close()

	text, err := testClient(srv.URL).ExtractDocument(context.Background(), "doc-1.pdf", []byte("%PDF-1.4"))
	require.NoError(t, err)
	assert.Contains(t, text, "NF-1")
}

func TestExtractDocument_ServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error": "document could not be read"}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).ExtractDocument(context.Background(), "doc-1.pdf", []byte("%PDF-1.4"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "document could not be read")
}
