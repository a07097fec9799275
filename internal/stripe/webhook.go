package stripe

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-faster/errors"
	stripego "github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/webhook"
)

// ErrBadSignature indicates an inbound webhook whose Stripe-Signature header
// failed verification. The payload is untrusted and nothing is applied;
// Stripe retries on its own schedule.
var ErrBadSignature = errors.New("webhook signature verification failed")

// maxWebhookBody caps how much of an inbound event body is read.
const maxWebhookBody = 1 << 16

// CompletedCheckout is the subset of a verified checkout.session.completed
// event the reconciler needs.
type CompletedCheckout struct {
	OrderID         string
	SessionID       string
	PaymentIntentID string
}

// ParseWebhook reads and verifies an inbound Stripe event. Verification
// failure returns ErrBadSignature before the payload is trusted in any way.
func (g *Gateway) ParseWebhook(r *http.Request) (stripego.Event, error) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		return stripego.Event{}, errors.Wrap(err, "read webhook body")
	}

	event, err := webhook.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), g.webhookSecret)
	if err != nil {
		return stripego.Event{}, errors.Wrap(ErrBadSignature, err.Error())
	}
	return event, nil
}

// ExtractCompletedCheckout pulls the order reference out of a
// checkout.session.completed event. The order id travels in
// client_reference_id with a metadata fallback for older session versions.
func ExtractCompletedCheckout(event stripego.Event) (CompletedCheckout, error) {
	var sess stripego.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return CompletedCheckout{}, errors.Wrap(err, "unmarshal checkout session")
	}

	orderID := sess.ClientReferenceID
	if orderID == "" {
		orderID = sess.Metadata["order_id"]
	}
	if orderID == "" {
		return CompletedCheckout{}, errors.New("no order reference in checkout session")
	}

	cc := CompletedCheckout{
		OrderID:   orderID,
		SessionID: sess.ID,
	}
	if sess.PaymentIntent != nil {
		cc.PaymentIntentID = sess.PaymentIntent.ID
	}
	return cc, nil
}
