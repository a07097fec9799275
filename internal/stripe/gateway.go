// Package stripe adapts the external card-payment processor: checkout
// session creation, authoritative session status queries, and webhook
// signature verification. It is the only package that talks to Stripe.
package stripe

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	stripego "github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/checkout/session"

	"github.com/dutyvia/market-api/internal/domain/order"
	"github.com/dutyvia/market-api/internal/domain/payment"
)

// Config holds Stripe credentials and return-URL defaults.
type Config struct {
	// SecretKey is the Stripe API secret key (sk_...).
	SecretKey string
	// WebhookSecret verifies Stripe-Signature headers on inbound events.
	WebhookSecret string
	// ReturnBaseURL is the default browser-return origin when neither the
	// caller nor the inbound request supplies one. Multiple deployment
	// front ends serve the same API, so the base is resolved per call.
	ReturnBaseURL string
	// Timeout bounds every call to Stripe. Zero means 10s.
	Timeout time.Duration
}

// Gateway creates checkout sessions for orders and reports their status.
type Gateway struct {
	orders        order.Repository
	webhookSecret string
	returnBase    string
	timeout       time.Duration
}

var _ payment.StatusProvider = (*Gateway)(nil)

// NewGateway configures the Stripe client and returns a Gateway.
func NewGateway(cfg Config, orders order.Repository) *Gateway {
	stripego.Key = cfg.SecretKey

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &Gateway{
		orders:        orders,
		webhookSecret: cfg.WebhookSecret,
		returnBase:    cfg.ReturnBaseURL,
		timeout:       timeout,
	}
}

// CreateSession requests a new checkout session for the order and persists
// the session id on it. The charge amount comes from the order's own
// persisted totals, never from a client-supplied value. On processor
// failure nothing is persisted, so the order stays unpaid and un-sessioned
// and a retry is safe. Re-issuing supersedes any prior session: the stored
// pointer is replaced, but only while the order is not yet paid.
func (g *Gateway) CreateSession(ctx context.Context, o *order.Order, returnBaseURL string) (string, error) {
	base := returnBaseURL
	if base == "" {
		base = g.returnBase
	}
	if base == "" {
		return "", errors.New("no return base URL configured")
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := &stripego.CheckoutSessionParams{
		Params:             stripego.Params{Context: ctx},
		Mode:               stripego.String(string(stripego.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripego.StringSlice([]string{"card"}),
		LineItems:          buildLineItems(o),
		SuccessURL:         stripego.String(base + "/?checkout=success&order_id=" + o.ID),
		CancelURL:          stripego.String(base + "/?checkout=cancel&order_id=" + o.ID),
		ClientReferenceID:  stripego.String(o.ID),
		Metadata: map[string]string{
			"order_id": o.ID,
			"source":   "dutyvia",
		},
	}
	if o.RequestID != nil {
		params.Metadata["request_id"] = formatRequestID(*o.RequestID)
	}

	sess, err := session.New(params)
	if err != nil {
		return "", errors.Wrap(payment.ErrUpstreamUnavailable, err.Error())
	}
	if sess.URL == "" {
		return "", errors.New("session created but no redirect URL returned")
	}

	updated, err := g.orders.SetSession(ctx, o.ID, sess.ID)
	if err != nil {
		return "", errors.Wrap(err, "persist session id")
	}
	if !updated {
		return "", &order.InvalidTransitionError{
			OrderID: o.ID,
			Detail:  "cannot attach a payment session to a paid order",
		}
	}

	return sess.URL, nil
}

// SessionStatus queries Stripe for the session's current payment state.
// Timeouts and transport failures surface as ErrUpstreamUnavailable; they
// must never be read as "not paid".
func (g *Gateway) SessionStatus(ctx context.Context, sessionID string) (payment.SessionStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	sess, err := session.Get(sessionID, &stripego.CheckoutSessionParams{
		Params: stripego.Params{Context: ctx},
	})
	if err != nil {
		return "", errors.Wrap(payment.ErrUpstreamUnavailable, err.Error())
	}

	if sess.PaymentStatus == stripego.CheckoutSessionPaymentStatusPaid ||
		sess.Status == stripego.CheckoutSessionStatusComplete {
		return payment.SessionCompleted, nil
	}
	return payment.SessionPending, nil
}

// buildLineItems converts the order's persisted lines to Stripe cent
// amounts, with the platform commission as its own line. When the line-item
// insert was the saga step that failed, the order total is charged as a
// single consolidated line instead.
func buildLineItems(o *order.Order) []*stripego.CheckoutSessionLineItemParams {
	if len(o.Lines) == 0 {
		return []*stripego.CheckoutSessionLineItemParams{
			lineItem("Dutyvia order", o.Total, 1),
		}
	}

	items := make([]*stripego.CheckoutSessionLineItemParams, 0, len(o.Lines)+1)
	for _, l := range o.Lines {
		name := l.ProductName
		if name == "" {
			name = "Dutyvia item"
		}
		items = append(items, lineItem(name, l.UnitPrice, int64(l.Quantity)))
	}
	if o.Commission.IsPositive() {
		items = append(items, lineItem("Service fee", o.Commission, 1))
	}
	return items
}

func lineItem(name string, unitPrice decimal.Decimal, qty int64) *stripego.CheckoutSessionLineItemParams {
	return &stripego.CheckoutSessionLineItemParams{
		Quantity: stripego.Int64(qty),
		PriceData: &stripego.CheckoutSessionLineItemPriceDataParams{
			// Stripe charges in cents.
			Currency:   stripego.String(string(stripego.CurrencyEUR)),
			UnitAmount: stripego.Int64(unitPrice.Shift(2).Round(0).IntPart()),
			ProductData: &stripego.CheckoutSessionLineItemPriceDataProductDataParams{
				Name: stripego.String(name),
			},
		},
	}
}

func formatRequestID(id int64) string {
	return strconv.FormatInt(id, 10)
}
