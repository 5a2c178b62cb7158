package server

import (
	"errors"
	"intake/internal/database"
	"intake/internal/sessions"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// listSessionsHandler returns recent jobs grouped into display sessions
func (s *Server) listSessionsHandler(c *gin.Context) {
	limit := s.config.Pipeline.SessionLimit
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	// Fetch more jobs than sessions: each session may absorb several
	jobs, err := s.db.ListJobs(c.Request.Context(), limit*10)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list jobs: " + err.Error()})
		return
	}

	grouped := sessions.Group(jobs, s.config.Pipeline.SessionWindow(), limit)
	c.JSON(http.StatusOK, gin.H{"sessions": grouped})
}

// getJobHandler returns one raw job by its remote id
func (s *Server) getJobHandler(c *gin.Context) {
	job, err := s.db.GetJobByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, database.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get job: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, job)
}
