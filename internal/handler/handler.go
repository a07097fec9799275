// Package handler exposes the marketplace API over HTTP. It binds and
// validates payloads, maps domain errors to status codes, and delegates all
// business logic to the domain services.
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/dutyvia/market-api/internal/domain/order"
	"github.com/dutyvia/market-api/internal/domain/payment"
	"github.com/dutyvia/market-api/internal/domain/pricing"
	"github.com/dutyvia/market-api/internal/domain/request"
	"github.com/dutyvia/market-api/internal/stripe"
)

// userIDHeader carries the opaque caller identity. Session issuance and
// verification happen upstream; this service only needs a stable id.
const userIDHeader = "X-User-ID"

// Handler wires the HTTP surface to the domain services.
type Handler struct {
	orders      *order.Service
	orderRepo   order.Repository
	requests    *request.Service
	requestRepo request.Repository
	reconciler  *payment.Reconciler
	gateway     *stripe.Gateway
	lg          *zap.Logger
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	orders *order.Service,
	orderRepo order.Repository,
	requests *request.Service,
	requestRepo request.Repository,
	reconciler *payment.Reconciler,
	gateway *stripe.Gateway,
	lg *zap.Logger,
) *Handler {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Handler{
		orders:      orders,
		orderRepo:   orderRepo,
		requests:    requests,
		requestRepo: requestRepo,
		reconciler:  reconciler,
		gateway:     gateway,
		lg:          lg,
	}
}

// Register mounts all routes under /api.
func (h *Handler) Register(r gin.IRouter) {
	api := r.Group("/api")

	api.POST("/orders", h.createOrder)
	api.GET("/orders/:id", h.getOrder)
	api.POST("/orders/:id/cancel", h.cancelOrder)
	api.POST("/orders/:id/checkout", h.createCheckout)

	api.POST("/requests", h.createRequest)
	api.GET("/requests/:id", h.getRequest)
	api.POST("/requests/:id/accept", h.acceptRequest)
	api.POST("/requests/:id/cancel", h.cancelRequest)
	api.POST("/requests/:id/deliver", h.confirmDelivery)

	api.POST("/payments/confirm", h.confirmPayment)
	api.GET("/payments/return", h.paymentReturn)
	api.POST("/webhooks/stripe", h.stripeWebhook)
}

// callerID extracts the opaque caller identity, aborting with 401 when the
// header is absent.
func callerID(c *gin.Context) (string, bool) {
	id := c.GetHeader(userIDHeader)
	if id == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "missing " + userIDHeader + " header"})
		return "", false
	}
	return id, true
}

// writeDomainError maps a domain error to an HTTP response.
func (h *Handler) writeDomainError(c *gin.Context, err error) {
	var (
		lineErr  *pricing.InvalidLineError
		stepErr  *order.StepError
		orderTr  *order.InvalidTransitionError
		reqTr    *request.InvalidTransitionError
	)

	switch {
	case errors.Is(err, pricing.ErrEmptyItems), errors.As(err, &lineErr):
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
	case errors.As(err, &stepErr):
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": stepErr.Err.Error(), "step": stepErr.Step})
	case errors.As(err, &orderTr), errors.As(err, &reqTr), errors.Is(err, request.ErrAlreadyMatched):
		c.JSON(http.StatusConflict, gin.H{"ok": false, "error": err.Error()})
	case errors.Is(err, order.ErrNotFound), errors.Is(err, request.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": err.Error()})
	case errors.Is(err, payment.ErrUpstreamUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"ok": false, "error": "payment processor unavailable, retry later"})
	default:
		h.lg.Error("unhandled error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "internal error"})
	}
}
