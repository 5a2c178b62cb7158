package server

import (
	"errors"
	"intake/internal/database"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// getInvoiceHandler returns one invoice with its stored document URL
func (s *Server) getInvoiceHandler(c *gin.Context) {
	id, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid invoice id"})
		return
	}

	invoice, err := s.db.GetInvoiceByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrInvoiceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Invoice not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get invoice: " + err.Error()})
		return
	}

	if invoice.DocumentURL == "" && invoice.DocumentKey != "" && s.docs != nil {
		invoice.DocumentURL = s.docs.URL(invoice.DocumentKey)
	}

	c.JSON(http.StatusOK, invoice)
}
