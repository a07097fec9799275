package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dutyvia/market-api/internal/domain/request"
)

type createRequestRequest struct {
	ProductRef     string           `json:"product_id"`
	ProductName    string           `json:"product_name" binding:"required"`
	Brand          string           `json:"brand"`
	Category       string           `json:"category"`
	Quantity       int              `json:"quantity" binding:"required,gt=0"`
	BasePrice      decimal.Decimal  `json:"base_price_eur"`
	MaxPrice       *decimal.Decimal `json:"max_price"`
	Airport        string           `json:"airport"`
	MeetupLocation string           `json:"meetup_location"`
}

type requestResponse struct {
	OK          bool           `json:"ok"`
	RequestID   int64          `json:"requestId"`
	ProductName string         `json:"product_name"`
	Quantity    int            `json:"quantity"`
	MaxPrice    string         `json:"max_price"`
	Status      string         `json:"status"`
	Match       *matchResponse `json:"match,omitempty"`
}

type matchResponse struct {
	MatchID    int64  `json:"matchId"`
	TravelerID string `json:"traveler_id"`
	Status     string `json:"status"`
}

func toRequestResponse(r *request.Request) requestResponse {
	return requestResponse{
		OK:          true,
		RequestID:   r.ID,
		ProductName: r.ProductName,
		Quantity:    r.Quantity,
		MaxPrice:    r.MaxPrice.StringFixed(2),
		Status:      string(r.Status),
	}
}

func requestIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid request id"})
		return 0, false
	}
	return id, true
}

func (h *Handler) createRequest(c *gin.Context) {
	requesterID, ok := callerID(c)
	if !ok {
		return
	}

	var req createRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid request body"})
		return
	}

	r, err := h.requests.Create(c.Request.Context(), request.CreateRequestInput{
		RequesterID:    requesterID,
		ProductRef:     req.ProductRef,
		ProductName:    req.ProductName,
		Brand:          req.Brand,
		Category:       req.Category,
		Quantity:       req.Quantity,
		BasePrice:      req.BasePrice,
		MaxPrice:       req.MaxPrice,
		Airport:        req.Airport,
		MeetupLocation: req.MeetupLocation,
	})
	if err != nil {
		h.writeDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, toRequestResponse(r))
}

func (h *Handler) getRequest(c *gin.Context) {
	id, ok := requestIDParam(c)
	if !ok {
		return
	}

	r, err := h.requestRepo.Get(c.Request.Context(), id)
	if err != nil {
		h.writeDomainError(c, err)
		return
	}

	resp := toRequestResponse(r)
	// The accepted match is informational; a read failure must not hide the
	// request itself.
	switch m, err := h.requestRepo.ActiveMatch(c.Request.Context(), id); {
	case err == nil:
		resp.Match = &matchResponse{
			MatchID:    m.ID,
			TravelerID: m.TravelerID,
			Status:     string(m.Status),
		}
	case !errors.Is(err, request.ErrNotFound):
		h.lg.Warn("active match lookup failed", zap.Int64("request_id", id), zap.Error(err))
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) acceptRequest(c *gin.Context) {
	travelerID, ok := callerID(c)
	if !ok {
		return
	}
	id, ok := requestIDParam(c)
	if !ok {
		return
	}

	m, err := h.requests.Accept(c.Request.Context(), id, travelerID)
	if err != nil {
		h.writeDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":        true,
		"matchId":   m.ID,
		"requestId": m.RequestID,
		"status":    string(request.StatusAccepted),
	})
}

func (h *Handler) cancelRequest(c *gin.Context) {
	if _, ok := callerID(c); !ok {
		return
	}
	id, ok := requestIDParam(c)
	if !ok {
		return
	}

	if err := h.requests.Cancel(c.Request.Context(), id); err != nil {
		h.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "requestId": id, "status": string(request.StatusCancelled)})
}

func (h *Handler) confirmDelivery(c *gin.Context) {
	if _, ok := callerID(c); !ok {
		return
	}
	id, ok := requestIDParam(c)
	if !ok {
		return
	}

	if err := h.requests.ConfirmDelivery(c.Request.Context(), id); err != nil {
		h.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "requestId": id, "status": string(request.StatusDelivered)})
}
