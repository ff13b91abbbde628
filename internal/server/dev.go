package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/okwareddevnest/Pesa-Bridge/internal/account"
	"github.com/okwareddevnest/Pesa-Bridge/internal/gateway"
	"github.com/okwareddevnest/Pesa-Bridge/internal/idgen"
	"github.com/okwareddevnest/Pesa-Bridge/internal/validation"
)

// Dev-only handlers: the minimum cardholder/card seeding needed to exercise
// the authorization flows locally, plus simulator controls to play the part
// of the holder answering a prompt.

type createCardholderRequest struct {
	Name           string  `json:"name" binding:"required"`
	Phone          string  `json:"phone" binding:"required"`
	SingleTxnLimit float64 `json:"singleTxnLimit"`
	DailyLimit     float64 `json:"dailyLimit"`
}

func (s *Server) createCardholderHandler(c *gin.Context) {
	var req createCardholderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	if !validation.IsValidPhone(req.Phone) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "phone: must be an MSISDN"})
		return
	}
	if req.SingleTxnLimit <= 0 {
		req.SingleTxnLimit = 50000
	}
	if req.DailyLimit <= 0 {
		req.DailyLimit = 100000
	}

	now := time.Now()
	holder := &account.Cardholder{
		ID:             idgen.WithPrefix("ch"),
		Name:           validation.SanitizeString(req.Name, 100),
		Phone:          req.Phone,
		Active:         true,
		SingleTxnLimit: req.SingleTxnLimit,
		DailyLimit:     req.DailyLimit,
		DailyResetAt:   now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.accounts.CreateCardholder(c.Request.Context(), holder); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, holder)
}

type createCardRequest struct {
	CardholderID string  `json:"cardholderId" binding:"required"`
	CardNumber   string  `json:"cardNumber" binding:"required"`
	CVV          string  `json:"cvv" binding:"required"`
	ExpMonth     int     `json:"expMonth" binding:"required"`
	ExpYear      int     `json:"expYear" binding:"required"`
	DailyLimit   float64 `json:"dailyLimit"`
	MonthlyLimit float64 `json:"monthlyLimit"`
}

func (s *Server) createCardHandler(c *gin.Context) {
	var req createCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	pan := validation.NormalizePAN(req.CardNumber)
	if !validation.IsValidPAN(pan) || !validation.IsValidCVV(req.CVV) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "invalid card details"})
		return
	}
	if req.DailyLimit <= 0 {
		req.DailyLimit = 80000
	}
	if req.MonthlyLimit <= 0 {
		req.MonthlyLimit = 500000
	}

	now := time.Now()
	card := &account.Card{
		ID:             idgen.WithPrefix("card"),
		CardholderID:   req.CardholderID,
		PANHash:        account.HashPAN(pan),
		CVVHash:        account.HashCVV(req.CVV, pan),
		Last4:          pan[len(pan)-4:],
		ExpMonth:       req.ExpMonth,
		ExpYear:        req.ExpYear,
		Status:         account.CardActive,
		DailyLimit:     req.DailyLimit,
		MonthlyLimit:   req.MonthlyLimit,
		DailyResetAt:   now,
		MonthlyResetAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.accounts.CreateCard(c.Request.Context(), card); err != nil {
		status := http.StatusInternalServerError
		if err == account.ErrCardholderNotFound {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "create_failed", "message": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, card)
}

type resolvePromptRequest struct {
	ResultCode        string `json:"resultCode" binding:"required"`
	ResultDescription string `json:"resultDescription"`
}

// resolvePromptHandler plays the holder: it records a result on the simulator
// and delivers it through the same reconciliation path a provider callback
// would take.
func (s *Server) resolvePromptHandler(c *gin.Context) {
	checkoutID := c.Param("checkoutRequestId")
	var req resolvePromptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	if !s.simulator.Resolve(checkoutID, req.ResultCode, req.ResultDescription) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "no pending prompt for checkout request"})
		return
	}

	receiptID := ""
	if req.ResultCode == gateway.ResultSuccess {
		receiptID = "SIM" + idgen.Hex(4)
	}
	outcome, err := s.authService.Reconcile(c.Request.Context(),
		checkoutID, req.ResultCode, req.ResultDescription, receiptID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, outcome)
}

func (s *Server) listPromptsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"pending": s.simulator.Pending()})
}
