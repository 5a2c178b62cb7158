// Package extractor is a client for the remote batch document-extraction
// service. Batches are submitted elsewhere; this client covers status
// polling, result download and single-document resubmission.
package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/rs/zerolog/log"
)

// RequestCounts is the per-document progress report attached to a job
type RequestCounts struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Blocked   int `json:"blocked"`
}

// JobStatus is the remote view of one extraction batch
type JobStatus struct {
	ID             string         `json:"id"`
	State          string         `json:"status"`
	RequestCounts  *RequestCounts `json:"request_counts,omitempty"`
	OutputLocation string         `json:"output_file_id,omitempty"`
	CreatedAt      int64          `json:"created_at,omitempty"`
	StartedAt      int64          `json:"in_progress_at,omitempty"`
}

// RateLimitError marks a response the caller may retry after a delay
type RateLimitError struct {
	StatusCode int
	Body       string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (status %d): %s", e.StatusCode, e.Body)
}

// Client talks to the remote extraction service
type Client struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	maxRetries int
	retryDelay time.Duration
}

// New creates a new extraction service client. Rate-limited calls are
// retried up to maxRetries times with a fixed delay between attempts.
func New(apiKey, baseURL string, maxRetries int, retryDelay time.Duration, timeout time.Duration) *Client {
	log.Info().
		Str("base_url", baseURL).
		Int("max_retries", maxRetries).
		Dur("retry_delay", retryDelay).
		Msg("Initializing extraction service client")

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		apiKey:     apiKey,
		baseURL:    baseURL,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
}

// rate-limit signatures seen in message bodies when the status code alone
// does not say so
var rateLimitSignatures = []string{"rate limit", "rate_limit", "quota"}

func isRateLimited(statusCode int, body []byte) bool {
	if statusCode == http.StatusTooManyRequests {
		return true
	}
	lower := strings.ToLower(string(body))
	for _, sig := range rateLimitSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

// request performs one HTTP call, classifying rate-limit responses
func (c *Client) request(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	url := c.baseURL + endpoint

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response body: %w", err)
	}

	log.Debug().
		Str("endpoint", endpoint).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Extraction service request")

	if resp.StatusCode >= 400 {
		if isRateLimited(resp.StatusCode, body) {
			return nil, &RateLimitError{StatusCode: resp.StatusCode, Body: string(body)}
		}
		return nil, fmt.Errorf("extraction service error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// requestWithRetry retries rate-limited calls with a fixed delay, bounded
// by maxRetries. Any other error aborts immediately.
func (c *Client) requestWithRetry(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	var body []byte
	attempt := 0

	operation := func() error {
		attempt++
		var err error
		body, err = c.request(ctx, method, endpoint, payload)
		if err == nil {
			return nil
		}
		if _, ok := err.(*RateLimitError); ok {
			log.Warn().
				Str("endpoint", endpoint).
				Int("attempt", attempt).
				Msg("Rate limited by extraction service, will retry")
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryDelay), uint64(c.maxRetries-1)),
		ctx,
	)

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return body, nil
}

// GetJobStatus fetches the remote state and progress counts of a batch
func (c *Client) GetJobStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	body, err := c.requestWithRetry(ctx, http.MethodGet, "/batches/"+jobID, nil)
	if err != nil {
		return nil, err
	}

	var status JobStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("error parsing job status: %w", err)
	}

	return &status, nil
}

// DownloadResult streams the newline-delimited result file of a completed job
func (c *Client) DownloadResult(ctx context.Context, location string) (io.ReadCloser, error) {
	url := c.baseURL + "/files/" + location + "/content"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("result download failed: %w", err)
	}

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("result download failed (status %d): %s", resp.StatusCode, string(body))
	}

	return resp.Body, nil
}

// ExtractDocument submits a single document for synchronous extraction.
// Used by the mismatch retry engine to reprocess one source document.
func (c *Client) ExtractDocument(ctx context.Context, documentKey string, document []byte) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"key":      documentKey,
		"document": document,
	})
	if err != nil {
		return "", fmt.Errorf("error encoding document: %w", err)
	}

	body, err := c.requestWithRetry(ctx, http.MethodPost, "/extract", payload)
	if err != nil {
		return "", err
	}

	var result struct {
		Response struct {
			Text string `json:"text"`
		} `json:"response"`
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("error parsing extraction response: %w", err)
	}
	if result.Error != "" {
		return "", fmt.Errorf("extraction failed for %s: %s", documentKey, result.Error)
	}

	return result.Response.Text, nil
}
