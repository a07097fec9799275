// Package order models the payable unit of the marketplace: an order with
// immutable priced line items, a fulfillment status, and an independently
// tracked payment status. Payment truth and fulfillment truth have different
// writers and must never be collapsed into one field.
package order

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the fulfillment state of an order.
type Status string

const (
	StatusCreated   Status = "created"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
)

// PaymentStatus tracks whether the buyer's money has moved. It is monotonic:
// once paid, no path may regress it.
type PaymentStatus string

const (
	PaymentUnpaid  PaymentStatus = "unpaid"
	PaymentPending PaymentStatus = "payment_pending"
	PaymentPaid    PaymentStatus = "paid"
)

// Sentinel errors.
var ErrNotFound = fmt.Errorf("order not found")

// InvalidTransitionError indicates an attempted state change that is not
// legal from the order's current status. The persisted state is unchanged.
type InvalidTransitionError struct {
	OrderID string
	Detail  string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order %s: %s", e.OrderID, e.Detail)
}

// Saga step identifiers reported to callers on partial failure, so a failed
// charge-record insert can be told apart from a failed line-item persist.
const (
	StepOrder     = "order"
	StepLineItems = "line-items"
)

// StepError tags a failure with the saga step it occurred in.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Order is a payable unit derived from a cart or a single request.
// RequestID is a weak reference: an order need not originate from a request,
// and the request stays queryable regardless of what happens to the order.
type Order struct {
	ID              string
	BuyerID         string
	RequestID       *int64
	Lines           []OrderLine
	Subtotal        decimal.Decimal
	Commission      decimal.Decimal
	Total           decimal.Decimal
	Status          Status
	PaymentStatus   PaymentStatus
	SessionID       string
	PaymentIntentID string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OrderLine is one priced line item. Prices are snapshots taken at order
// creation time; later catalog changes never touch them.
type OrderLine struct {
	OrderID        string
	ProductRef     string
	ProductName    string
	UnitPrice      decimal.Decimal
	Quantity       int
	LineSubtotal   decimal.Decimal
	LineCommission decimal.Decimal
}

// Repository defines persistence operations for orders. All status mutations
// are conditional updates guarded on the current persisted state; they
// report whether a row was actually written so callers can distinguish
// "already there" from "did it".
type Repository interface {
	Create(ctx context.Context, o *Order) error
	CreateLines(ctx context.Context, orderID string, lines []OrderLine) error
	Get(ctx context.Context, id string) (*Order, error)

	// SetSession records the checkout session id and moves paymentStatus to
	// payment_pending. Guarded on paymentStatus being unpaid or
	// payment_pending: a re-issued session supersedes the prior one, but a
	// paid order can never acquire a new session.
	SetSession(ctx context.Context, id, sessionID string) (bool, error)

	// MarkPaid moves paymentStatus unpaid|payment_pending -> paid.
	// Optionally records the session and payment intent ids delivered by the
	// processor alongside (empty strings leave the stored values untouched).
	MarkPaid(ctx context.Context, id, sessionID, paymentIntentID string) (bool, error)

	// Confirm moves status created -> confirmed.
	Confirm(ctx context.Context, id string) (bool, error)

	// Cancel moves status created -> cancelled, only while unpaid.
	Cancel(ctx context.Context, id string) (bool, error)
}
