package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"intake/internal/database"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	signatureHeader = "X-Extractor-Signature"
	timestampHeader = "X-Extractor-Timestamp"
)

// webhookEvent is a push status notification from the extraction service.
// The payload also carries request counts, but the reconcile kicked off
// below re-polls the service and folds the authoritative ones.
type webhookEvent struct {
	Type string `json:"type"`
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

// verifySignature checks the HMAC-SHA256 over timestamp + "." + body
// against the shared secret, constant-time
func (s *Server) verifySignature(timestamp string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(s.config.Webhook.Secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

// webhookHandler accepts signed job status events. Unsigned or
// unverifiable payloads are rejected with 400; unrelated event types are
// acknowledged and ignored.
func (s *Server) webhookHandler(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	timestamp := c.GetHeader(timestampHeader)
	signature := c.GetHeader(signatureHeader)
	if timestamp == "" || signature == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing signature headers"})
		return
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid timestamp"})
		return
	}
	skew := time.Since(time.Unix(ts, 0))
	if math.Abs(skew.Minutes()) > s.config.Webhook.MaxSkew().Minutes() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "timestamp outside accepted window"})
		return
	}

	if !s.verifySignature(timestamp, body, signature) {
		log.Warn().Msg("Rejected webhook with invalid signature")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		return
	}

	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event payload"})
		return
	}

	if !strings.HasPrefix(event.Type, "job.") {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	log.Info().Str("type", event.Type).Str("jobID", event.Data.ID).Msg("Received job webhook")

	status, err := s.rec.ReconcileByID(c.Request.Context(), event.Data.ID)
	if err != nil {
		if errors.Is(err, database.ErrJobNotFound) {
			// Jobs are registered at submission time; an unknown id is
			// someone else's event
			log.Warn().Str("jobID", event.Data.ID).Msg("Webhook for unknown job")
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reconciliation failed: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "processed", "job_status": status})
}
