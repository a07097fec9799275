package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dutyvia/market-api/internal/domain/order"
	"github.com/dutyvia/market-api/internal/domain/pricing"
)

type createOrderRequest struct {
	// CartItems carries the raw, possibly historically-shaped line items.
	// Any total the client computed alongside is ignored.
	CartItems []pricing.RawLine `json:"cartItems"`
	RequestID *int64            `json:"request_id"`
}

type orderLineResponse struct {
	ProductRef  string `json:"product_ref"`
	ProductName string `json:"product_name"`
	UnitPrice   string `json:"unit_price"`
	Quantity    int    `json:"quantity"`
	LineTotal   string `json:"line_total"`
}

type orderResponse struct {
	OK            bool                `json:"ok"`
	OrderID       string              `json:"orderId"`
	RequestID     *int64              `json:"requestId,omitempty"`
	Subtotal      string              `json:"subtotal"`
	Commission    string              `json:"commission"`
	Total         string              `json:"total"`
	Status        string              `json:"status"`
	PaymentStatus string              `json:"payment_status"`
	Lines         []orderLineResponse `json:"lines,omitempty"`
	Warnings      []string            `json:"warnings,omitempty"`
}

func toOrderResponse(o *order.Order, warnings []string) orderResponse {
	resp := orderResponse{
		OK:            true,
		OrderID:       o.ID,
		RequestID:     o.RequestID,
		Subtotal:      o.Subtotal.StringFixed(2),
		Commission:    o.Commission.StringFixed(2),
		Total:         o.Total.StringFixed(2),
		Status:        string(o.Status),
		PaymentStatus: string(o.PaymentStatus),
		Warnings:      warnings,
	}
	for _, l := range o.Lines {
		resp.Lines = append(resp.Lines, orderLineResponse{
			ProductRef:  l.ProductRef,
			ProductName: l.ProductName,
			UnitPrice:   l.UnitPrice.StringFixed(2),
			Quantity:    l.Quantity,
			LineTotal:   l.LineSubtotal.StringFixed(2),
		})
	}
	return resp
}

func (h *Handler) createOrder(c *gin.Context) {
	buyerID, ok := callerID(c)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid request body"})
		return
	}

	result, err := h.orders.Create(c.Request.Context(), order.CreateOrderInput{
		BuyerID:   buyerID,
		RequestID: req.RequestID,
		Items:     req.CartItems,
	})
	if err != nil {
		h.writeDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, toOrderResponse(result.Order, result.Warnings))
}

func (h *Handler) getOrder(c *gin.Context) {
	o, err := h.orderRepo.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(o, nil))
}

func (h *Handler) cancelOrder(c *gin.Context) {
	if _, ok := callerID(c); !ok {
		return
	}

	if err := h.orders.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		h.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "orderId": c.Param("id"), "status": string(order.StatusCancelled)})
}

type createCheckoutRequest struct {
	ReturnBaseURL string `json:"returnBaseUrl"`
}

// createCheckout issues a checkout session for an order and returns the
// redirect URL. Return base resolution: explicit caller value, then the
// request's Origin header, then the configured default.
func (h *Handler) createCheckout(c *gin.Context) {
	if _, ok := callerID(c); !ok {
		return
	}

	var req createCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid request body"})
		return
	}

	o, err := h.orderRepo.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeDomainError(c, err)
		return
	}

	returnBase := req.ReturnBaseURL
	if returnBase == "" {
		returnBase = c.GetHeader("Origin")
	}

	redirectURL, err := h.gateway.CreateSession(c.Request.Context(), o, returnBase)
	if err != nil {
		h.writeDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "redirectUrl": redirectURL})
}
