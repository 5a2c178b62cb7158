package server

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func (s *Server) RegisterRoutes() http.Handler {
	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     s.config.CORS.AllowedOrigins,
		AllowMethods:     s.config.CORS.AllowedMethods,
		AllowHeaders:     s.config.CORS.AllowedHeaders,
		AllowCredentials: s.config.CORS.AllowCredentials,
		MaxAge:           time.Duration(s.config.CORS.MaxAge) * time.Second,
	}))

	r.GET("/health", s.healthHandler)

	r.POST("/webhooks/extractor", s.webhookHandler)
	r.POST("/reconcile", s.TriggerAuthMiddleware(), s.reconcileHandler)

	r.GET("/jobs", s.listSessionsHandler)
	r.GET("/jobs/:id", s.getJobHandler)

	r.GET("/invoices/:id", s.getInvoiceHandler)

	r.GET("/alerts", s.listAlertsHandler)
	r.POST("/alerts/:id/review", s.reviewAlertHandler)

	return r
}
