package server

import (
	"errors"
	"intake/internal/database"
	"intake/internal/model"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AlertReviewRequest is the body of a review decision
type AlertReviewRequest struct {
	Action string `json:"action" binding:"required"`
}

// listAlertsHandler returns price alerts, optionally filtered by status
func (s *Server) listAlertsHandler(c *gin.Context) {
	status := model.AlertStatus(c.Query("status"))
	switch status {
	case "", model.AlertPending, model.AlertApproved, model.AlertRejected:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status filter"})
		return
	}

	limit := 50
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	alerts, err := s.db.ListAlerts(c.Request.Context(), status, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list alerts: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

// reviewAlertHandler approves or rejects a pending price alert
func (s *Server) reviewAlertHandler(c *gin.Context) {
	id, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid alert id"})
		return
	}

	var req AlertReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var status model.AlertStatus
	switch req.Action {
	case "approve":
		status = model.AlertApproved
	case "reject":
		status = model.AlertRejected
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Action must be approve or reject"})
		return
	}

	if err := s.db.ReviewAlert(c.Request.Context(), id, status); err != nil {
		if errors.Is(err, database.ErrAlertNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Pending alert not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to review alert: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": status})
}
