package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/dutyvia/market-api/internal/stripe"
)

// stripeWebhook ingests asynchronous payment notifications. Signature
// verification is the only non-2xx path: once a payload is verified, every
// outcome acks 200 so Stripe stops retrying — including event types this
// service does not understand, which may appear at any time.
func (h *Handler) stripeWebhook(c *gin.Context) {
	event, err := h.gateway.ParseWebhook(c.Request)
	if err != nil {
		if errors.Is(err, stripe.ErrBadSignature) {
			h.lg.Warn("webhook signature verification failed", zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid signature"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "unreadable payload"})
		return
	}

	if event.Type != "checkout.session.completed" {
		h.lg.Info("ignoring webhook event", zap.String("event_type", string(event.Type)))
		c.JSON(http.StatusOK, gin.H{"ok": true, "ignored": true})
		return
	}

	cc, err := stripe.ExtractCompletedCheckout(event)
	if err != nil {
		// Verified but malformed or not about one of our orders. Ack so the
		// sender does not retry a payload we can never apply.
		h.lg.Warn("completed checkout event without usable order reference", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"ok": true, "ignored": true})
		return
	}

	out, err := h.reconciler.ApplyCompleted(c.Request.Context(), cc.OrderID, cc.SessionID, cc.PaymentIntentID)
	if err != nil {
		// ApplyCompleted degrades write failures to warnings; an error here
		// is unexpected. Still ack: reconciliation is idempotent and the
		// client poll path will converge.
		h.lg.Error("webhook reconciliation failed", zap.String("order_id", cc.OrderID), zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"ok": true, "orderId": cc.OrderID})
		return
	}

	if len(out.Warnings) > 0 {
		h.lg.Warn("webhook reconciliation completed with warnings",
			zap.String("order_id", cc.OrderID),
			zap.Strings("warnings", out.Warnings),
		)
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":             true,
		"orderId":        out.OrderID,
		"payment_status": string(out.Status),
	})
}
