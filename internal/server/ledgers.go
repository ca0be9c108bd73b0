package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/meetpay/meetpay/internal/ledger"
)

type createLedgerRequest struct {
	Role        string `json:"role"`
	Currency    string `json:"currency"`
	Email       string `json:"email"`
	Country     string `json:"country"`
	SourceToken string `json:"sourceToken"`
}

// CreateLedger provisions the owner's ledger and its provider identity.
func (s *Server) CreateLedger(c *gin.Context) {
	var req createLedgerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	entry, err := s.ledgerSvc.Create(c.Request.Context(), ledger.CreateParams{
		OwnerID:     c.Param("ownerId"),
		Role:        ledger.Role(strings.ToUpper(strings.TrimSpace(req.Role))),
		Currency:    strings.TrimSpace(req.Currency),
		Email:       strings.TrimSpace(req.Email),
		Country:     strings.TrimSpace(req.Country),
		SourceToken: strings.TrimSpace(req.SourceToken),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": entry})
}

// GetLedgerByOwner resolves the owner's single ledger.
func (s *Server) GetLedgerByOwner(c *gin.Context) {
	entry, err := s.ledgerSvc.FindByOwner(c.Request.Context(), c.Param("ownerId"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": entry})
}

// OrphanLedger marks the owner's ledger orphaned on account deletion.
func (s *Server) OrphanLedger(c *gin.Context) {
	if err := s.ledgerSvc.Orphan(c.Request.Context(), c.Param("ownerId")); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
