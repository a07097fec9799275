package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/dutyvia/market-api/internal/domain/payment"
)

type confirmPaymentRequest struct {
	OrderID string `json:"orderId" binding:"required"`
}

type confirmPaymentResponse struct {
	OK            bool     `json:"ok"`
	OrderID       string   `json:"orderId"`
	RequestID     *int64   `json:"requestId,omitempty"`
	PaymentStatus string   `json:"payment_status"`
	Warnings      []string `json:"warnings,omitempty"`
}

// confirmPayment is the client-initiated confirmation poll. Clients poll
// speculatively, so "still pending" and "nothing to reconcile" are
// success-shaped responses; the only error surface is an unreachable
// processor, which the client may simply retry.
func (h *Handler) confirmPayment(c *gin.Context) {
	var req confirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "missing orderId in request body"})
		return
	}

	out, err := h.reconciler.Reconcile(c.Request.Context(), req.OrderID)
	if err != nil {
		if errors.Is(err, payment.ErrUpstreamUnavailable) {
			c.JSON(http.StatusBadGateway, gin.H{"ok": false, "orderId": req.OrderID, "error": "payment processor unavailable, retry later"})
			return
		}
		h.writeDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, confirmPaymentResponse{
		OK:            true,
		OrderID:       out.OrderID,
		RequestID:     out.RequestID,
		PaymentStatus: string(out.Status),
		Warnings:      out.Warnings,
	})
}

// paymentReturn handles the browser coming back from checkout. The outcome
// query parameter is advisory: on success the payment is reconciled
// best-effort (the webhook usually got there first), on cancel nothing is
// mutated. Either way the client gets a success-shaped answer to render.
func (h *Handler) paymentReturn(c *gin.Context) {
	outcome := c.Query("checkout")
	if outcome == "" {
		outcome = c.Query("outcome")
	}
	orderID := c.Query("order_id")
	if orderID == "" {
		orderID = c.Query("orderId")
	}

	if orderID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "missing order_id"})
		return
	}

	if outcome != "success" {
		c.JSON(http.StatusOK, gin.H{"ok": true, "orderId": orderID, "outcome": outcome, "payment_status": string(payment.StatusUnknown)})
		return
	}

	out, err := h.reconciler.Reconcile(c.Request.Context(), orderID)
	if err != nil {
		// The webhook or a later poll will finish the job; the redirect is
		// not a reliable delivery path and never blocks the user.
		h.lg.Warn("reconcile on browser return failed", zap.String("order_id", orderID), zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"ok": true, "orderId": orderID, "outcome": outcome, "payment_status": string(payment.StatusUnknown)})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":             true,
		"orderId":        orderID,
		"outcome":        outcome,
		"payment_status": string(out.Status),
	})
}
