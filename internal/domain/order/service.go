package order

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dutyvia/market-api/internal/domain/pricing"
	"github.com/dutyvia/market-api/internal/domain/request"
)

// CreateOrderInput holds the input for creating an order. Raw line items are
// normalized and re-priced server-side; any client-submitted total is
// advisory only and never reaches persistence.
type CreateOrderInput struct {
	BuyerID   string
	RequestID *int64
	Items     []pricing.RawLine
}

// CreateOrderResult holds the created order plus warnings from the
// best-effort saga steps that failed without failing the whole operation.
type CreateOrderResult struct {
	Order    *Order
	Warnings []string
}

// Service encapsulates order creation and cancellation.
//
// Order creation is a saga, not a transaction: the charge record (the order
// row) is the primary write, and line items plus the linked request's status
// move are secondary, independently fallible steps. A secondary failure is
// recorded as a warning because the order row that money will be charged
// against already exists and must not be retroactively undone.
type Service struct {
	orders   Repository
	requests request.Repository
	lg       *zap.Logger
}

// NewService creates an order Service.
func NewService(orders Repository, requests request.Repository, lg *zap.Logger) *Service {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Service{orders: orders, requests: requests, lg: lg}
}

// Create normalizes and prices the line items, persists the order, then
// best-effort persists the lines and moves the linked request to
// payment_pending. Validation errors and order-insert failures are hard
// errors tagged with their saga step; everything after the order insert
// succeeds degrades to warnings.
func (s *Service) Create(ctx context.Context, in CreateOrderInput) (*CreateOrderResult, error) {
	if in.BuyerID == "" {
		return nil, errors.New("buyer id required")
	}

	lines, err := pricing.NormalizeLines(in.Items)
	if err != nil {
		return nil, err
	}
	quote, err := pricing.Compute(lines)
	if err != nil {
		return nil, err
	}

	o := &Order{
		ID:            uuid.New().String(),
		BuyerID:       in.BuyerID,
		RequestID:     in.RequestID,
		Subtotal:      quote.Subtotal,
		Commission:    quote.Commission,
		Total:         quote.Total,
		Status:        StatusCreated,
		PaymentStatus: PaymentUnpaid,
	}

	orderLines := make([]OrderLine, len(lines))
	for i, l := range lines {
		orderLines[i] = OrderLine{
			OrderID:        o.ID,
			ProductRef:     l.ProductRef,
			ProductName:    l.ProductName,
			UnitPrice:      l.UnitPrice,
			Quantity:       l.Quantity,
			LineSubtotal:   l.LineSubtotal(),
			LineCommission: l.LineCommission(),
		}
	}

	if err := s.orders.Create(ctx, o); err != nil {
		return nil, &StepError{Step: StepOrder, Err: err}
	}

	var warnings []string

	if err := s.orders.CreateLines(ctx, o.ID, orderLines); err != nil {
		s.lg.Warn("order line items insert failed",
			zap.String("order_id", o.ID),
			zap.Error(err),
		)
		warnings = append(warnings, (&StepError{Step: StepLineItems, Err: err}).Error())
	} else {
		o.Lines = orderLines
	}

	if in.RequestID != nil {
		updated, err := s.requests.Transition(ctx, *in.RequestID,
			[]request.Status{request.StatusOpen, request.StatusAccepted},
			request.StatusPaymentPending,
		)
		if err != nil {
			s.lg.Warn("linked request transition failed",
				zap.String("order_id", o.ID),
				zap.Int64("request_id", *in.RequestID),
				zap.Error(err),
			)
			warnings = append(warnings, "request update warning: "+err.Error())
		} else if !updated {
			warnings = append(warnings, "request update warning: request not in open or accepted state")
		}
	}

	return &CreateOrderResult{Order: o, Warnings: warnings}, nil
}

// Cancel terminalizes an unpaid order. The conditional update only fires
// while status is created and paymentStatus is unpaid, so a concurrently
// reconciled payment wins the race and the cancel reports an illegal
// transition instead.
func (s *Service) Cancel(ctx context.Context, orderID string) error {
	updated, err := s.orders.Cancel(ctx, orderID)
	if err != nil {
		return errors.Wrap(err, "cancel order")
	}
	if !updated {
		o, err := s.orders.Get(ctx, orderID)
		if err != nil {
			return err
		}
		return &InvalidTransitionError{
			OrderID: orderID,
			Detail:  "cannot cancel: status=" + string(o.Status) + " payment_status=" + string(o.PaymentStatus),
		}
	}
	return nil
}
