package authorization

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/okwareddevnest/Pesa-Bridge/internal/gateway"
	"github.com/okwareddevnest/Pesa-Bridge/internal/validation"
)

// Handlers exposes the authorization flows over HTTP.
type Handlers struct {
	service *Service
	logger  *slog.Logger
}

// NewHandlers creates HTTP handlers backed by the authorization service.
func NewHandlers(service *Service, logger *slog.Logger) *Handlers {
	return &Handlers{service: service, logger: logger}
}

// RegisterRoutes mounts the authorization endpoints under /v1.
func (h *Handlers) RegisterRoutes(r gin.IRouter) {
	v1 := r.Group("/v1")
	v1.POST("/authorize", h.Authorize)
	v1.POST("/callbacks/push", h.PushCallback)
	v1.GET("/transactions/:reference", h.GetTransaction)
}

// Authorize handles POST /v1/authorize. Pending outcomes return 200; every
// decline returns 402 with the decline code and reason in the body.
func (h *Handlers) Authorize(c *gin.Context) {
	var req ChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}
	if errs := validation.Validate(
		validation.PositiveAmount("amount", req.Amount),
		validation.CurrencyCode("currency", req.Currency),
		validation.MaxLength("merchantName", req.MerchantName, 100),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	outcome, err := h.service.Authorize(c.Request.Context(), req)
	if err != nil {
		// The outcome already reflects the recorded failure; the error is
		// for the operator, not the caller.
		h.logger.Error("authorization infrastructure fault", "error", err)
	}
	if outcome == nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal",
			"message": "authorization could not be processed",
		})
		return
	}
	if outcome.Pending {
		c.JSON(http.StatusOK, outcome)
		return
	}
	c.JSON(http.StatusPaymentRequired, outcome)
}

// PushCallback handles POST /v1/callbacks/push, the provider's asynchronous
// result delivery. Duplicates return the recorded decision with 200; unknown
// correlation IDs return 404 and are never retried into another entry.
func (h *Handlers) PushCallback(c *gin.Context) {
	var payload gateway.CallbackPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	outcome, err := h.service.Reconcile(c.Request.Context(),
		payload.CheckoutRequestID, payload.ResultCode, payload.ResultDescription, payload.ReceiptID)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "no transaction for checkout request",
			})
			return
		}
		h.logger.Error("reconciliation failed", "error", err,
			"checkout_request_id", payload.CheckoutRequestID)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal",
			"message": "result could not be processed",
		})
		return
	}
	c.JSON(http.StatusOK, outcome)
}

// GetTransaction handles GET /v1/transactions/:reference, the status-query
// fallback for lost callbacks.
func (h *Handlers) GetTransaction(c *gin.Context) {
	reference := c.Param("reference")

	outcome, err := h.service.QueryAndReconcile(c.Request.Context(), reference)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "unknown transaction reference",
			})
			return
		}
		h.logger.Error("status query failed", "error", err, "reference", reference)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal",
			"message": "status could not be determined",
		})
		return
	}
	c.JSON(http.StatusOK, outcome)
}
