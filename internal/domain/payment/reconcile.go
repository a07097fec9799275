// Package payment reconciles external payment outcomes onto order and
// request state. Reconcile is the single writer of "paid": the webhook, the
// client confirmation poll, and the browser-return redirect all funnel into
// it, in any order, any number of times, and converge on one terminal
// effect.
package payment

import (
	"context"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/dutyvia/market-api/internal/domain/order"
	"github.com/dutyvia/market-api/internal/domain/request"
)

// SessionStatus is the authoritative payment state reported by the external
// processor for a checkout session.
type SessionStatus string

const (
	SessionCompleted SessionStatus = "completed"
	SessionPending   SessionStatus = "pending"
)

// Status is the payment state reported back to callers.
type Status string

const (
	StatusPaid    Status = "paid"
	StatusPending Status = "pending"
	StatusUnknown Status = "unknown"
)

// ErrUpstreamUnavailable indicates the external processor could not be
// reached or timed out. It is retryable and must never be interpreted as
// "not paid": no state is written when it occurs.
var ErrUpstreamUnavailable = errors.New("payment processor unavailable")

// StatusProvider queries the external processor for a session's current
// authoritative payment status.
type StatusProvider interface {
	SessionStatus(ctx context.Context, sessionID string) (SessionStatus, error)
}

// Outcome is the result of one reconciliation pass. Warnings carry secondary
// write failures that did not fail the overall operation.
type Outcome struct {
	OrderID   string
	RequestID *int64
	Status    Status
	Warnings  []string
}

// Reconciler applies payment outcomes to order and request state.
type Reconciler struct {
	orders   order.Repository
	requests request.Repository
	provider StatusProvider
	lg       *zap.Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(orders order.Repository, requests request.Repository, provider StatusProvider, lg *zap.Logger) *Reconciler {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Reconciler{orders: orders, requests: requests, provider: provider, lg: lg}
}

// Reconcile loads the order, short-circuits if already paid, queries the
// processor for the session's authoritative status, and applies the result.
//
// Callers poll speculatively, so a missing order or an absent session is a
// success-shaped "unknown", not an error. A pending session is a
// success-shaped "pending". The only hard failure is an unreachable
// processor, which performs no writes and is safe to retry.
func (r *Reconciler) Reconcile(ctx context.Context, orderID string) (*Outcome, error) {
	out := &Outcome{OrderID: orderID, Status: StatusUnknown}

	o, err := r.orders.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			out.Warnings = append(out.Warnings, "order not found")
			return out, nil
		}
		out.Warnings = append(out.Warnings, "order read warning: "+err.Error())
		return out, nil
	}
	out.RequestID = o.RequestID

	// Primary defense against duplicate webhooks and duplicate polling.
	if o.PaymentStatus == order.PaymentPaid {
		out.Status = StatusPaid
		r.repairRequest(ctx, o, out)
		return out, nil
	}

	if o.SessionID == "" {
		out.Warnings = append(out.Warnings, "no payment session on this order")
		return out, nil
	}

	status, err := r.provider.SessionStatus(ctx, o.SessionID)
	if err != nil {
		return nil, errors.Wrap(err, "query session status")
	}

	if status != SessionCompleted {
		out.Status = StatusPending
		return out, nil
	}

	out.Status = StatusPaid
	r.applyCompleted(ctx, o, "", "", out)
	return out, nil
}

// ApplyCompleted applies a verified "payment completed" push notification
// without querying the processor. The session and payment intent ids from
// the notification are recorded on the order. Same convergence guarantees as
// Reconcile.
func (r *Reconciler) ApplyCompleted(ctx context.Context, orderID, sessionID, paymentIntentID string) (*Outcome, error) {
	out := &Outcome{OrderID: orderID, Status: StatusUnknown}

	o, err := r.orders.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			out.Warnings = append(out.Warnings, "order not found")
			return out, nil
		}
		out.Warnings = append(out.Warnings, "order read warning: "+err.Error())
		return out, nil
	}
	out.RequestID = o.RequestID

	if o.PaymentStatus == order.PaymentPaid {
		out.Status = StatusPaid
		r.repairRequest(ctx, o, out)
		return out, nil
	}

	out.Status = StatusPaid
	r.applyCompleted(ctx, o, sessionID, paymentIntentID, out)
	return out, nil
}

// applyCompleted performs the two money-truth writes. Both are conditional
// updates attempted independently: a failed request update never rolls back
// a successful order update, because the money has already moved. Failures
// degrade to warnings; retrying reconciliation later completes them.
func (r *Reconciler) applyCompleted(ctx context.Context, o *order.Order, sessionID, paymentIntentID string, out *Outcome) {
	updated, err := r.orders.MarkPaid(ctx, o.ID, sessionID, paymentIntentID)
	if err != nil {
		r.lg.Warn("order paid update failed", zap.String("order_id", o.ID), zap.Error(err))
		out.Warnings = append(out.Warnings, "order update warning: "+err.Error())
	} else if updated && o.Status == order.StatusCreated {
		if _, err := r.orders.Confirm(ctx, o.ID); err != nil {
			r.lg.Warn("order confirm failed", zap.String("order_id", o.ID), zap.Error(err))
			out.Warnings = append(out.Warnings, "order confirm warning: "+err.Error())
		}
	}

	r.repairRequest(ctx, o, out)
}

// repairRequest best-effort moves the linked request to paid when it is
// still in a pre-paid state. Also called on the already-paid short-circuit
// so a request left behind by an earlier partial failure catches up.
func (r *Reconciler) repairRequest(ctx context.Context, o *order.Order, out *Outcome) {
	if o.RequestID == nil {
		return
	}
	_, err := r.requests.Transition(ctx, *o.RequestID,
		[]request.Status{request.StatusOpen, request.StatusAccepted, request.StatusPaymentPending},
		request.StatusPaid,
	)
	if err != nil {
		r.lg.Warn("linked request paid update failed",
			zap.String("order_id", o.ID),
			zap.Int64("request_id", *o.RequestID),
			zap.Error(err),
		)
		out.Warnings = append(out.Warnings, "request update warning: "+err.Error())
	}
}
