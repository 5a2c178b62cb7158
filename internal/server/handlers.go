package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// healthHandler reports the health of the server's dependencies
func (s *Server) healthHandler(c *gin.Context) {
	status := http.StatusOK
	checks := gin.H{}

	if err := s.db.Health(); err != nil {
		checks["mongodb"] = err.Error()
		status = http.StatusServiceUnavailable
	} else {
		checks["mongodb"] = "ok"
	}

	if s.cache != nil {
		if err := s.cache.Ping(c.Request.Context()); err != nil {
			checks["redis"] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			checks["redis"] = "ok"
		}
	}

	if s.rabbit != nil {
		if err := s.rabbit.Health(); err != nil {
			checks["rabbitmq"] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			checks["rabbitmq"] = "ok"
		}
	}

	c.JSON(status, checks)
}

// reconcileHandler runs one reconciliation sweep on demand
func (s *Server) reconcileHandler(c *gin.Context) {
	summary, err := s.rec.Sweep(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sweep failed: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, summary)
}
