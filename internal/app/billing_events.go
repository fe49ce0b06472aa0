package app

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76"

	"github.com/ZrianRashid/ai-ugc-generator/internal/domain"
	"github.com/ZrianRashid/ai-ugc-generator/pkg/stripeclient"
)

// Handled Stripe event types.
const (
	EventCheckoutCompleted       = "checkout.session.completed"
	EventInvoicePaymentSucceeded = "invoice.payment_succeeded"
	EventSubscriptionUpdated     = "customer.subscription.updated"
	EventSubscriptionDeleted     = "customer.subscription.deleted"
)

// BillingEvent is one variant of a parsed billing webhook.
type BillingEvent interface {
	EventID() string
	EventType() string
}

type eventHeader struct {
	ID         string
	Type       string
	OccurredAt time.Time
}

func (h eventHeader) EventID() string   { return h.ID }
func (h eventHeader) EventType() string { return h.Type }

// CheckoutCompleted is a finished Checkout Session.
type CheckoutCompleted struct {
	eventHeader
	SessionID       string
	AccountID       string
	Mode            string
	CustomerRef     string
	SubscriptionRef string
	PriceRef        string
	InvoiceRef      string
}

// InvoicePaymentSucceeded is a paid invoice; only its references are trusted.
type InvoicePaymentSucceeded struct {
	eventHeader
	InvoiceID       string
	CustomerRef     string
	SubscriptionRef string
}

// SubscriptionUpdated carries the subscription state from the event payload.
type SubscriptionUpdated struct {
	eventHeader
	Subscription stripeclient.Subscription
}

// SubscriptionDeleted is a subscription that ended.
type SubscriptionDeleted struct {
	eventHeader
	SubscriptionRef string
}

// IgnoredEvent is any event type the reconciler does not act on.
type IgnoredEvent struct {
	eventHeader
}

// ParseBillingEvent converts a verified Stripe event into its variant. A
// payload that does not match its declared type yields domain.ErrValidation.
func ParseBillingEvent(evt stripe.Event) (BillingEvent, error) {
	header := eventHeader{ID: evt.ID, Type: string(evt.Type), OccurredAt: time.Unix(evt.Created, 0).UTC()}
	if evt.ID == "" || evt.Type == "" {
		return nil, fmt.Errorf("%w: event id and type are required", domain.ErrValidation)
	}

	var raw json.RawMessage
	if evt.Data != nil {
		raw = evt.Data.Raw
	}
	decode := func(v any) error {
		if len(raw) == 0 {
			return fmt.Errorf("%w: %s event has no data object", domain.ErrValidation, evt.Type)
		}
		if err := json.Unmarshal(raw, v); err != nil {
			return fmt.Errorf("%w: decode %s: %v", domain.ErrValidation, evt.Type, err)
		}
		return nil
	}

	switch header.Type {
	case EventCheckoutCompleted:
		var session stripe.CheckoutSession
		if err := decode(&session); err != nil {
			return nil, err
		}
		out := &CheckoutCompleted{
			eventHeader: header,
			SessionID:   session.ID,
			Mode:        string(session.Mode),
			AccountID:   session.Metadata["userId"],
			PriceRef:    session.Metadata["priceId"],
		}
		if out.AccountID == "" {
			out.AccountID = session.ClientReferenceID
		}
		if session.Customer != nil {
			out.CustomerRef = session.Customer.ID
		}
		if session.Subscription != nil {
			out.SubscriptionRef = session.Subscription.ID
		}
		if session.Invoice != nil {
			out.InvoiceRef = session.Invoice.ID
		}
		return out, nil

	case EventInvoicePaymentSucceeded:
		var invoice stripe.Invoice
		if err := decode(&invoice); err != nil {
			return nil, err
		}
		out := &InvoicePaymentSucceeded{eventHeader: header, InvoiceID: invoice.ID}
		if invoice.Customer != nil {
			out.CustomerRef = invoice.Customer.ID
		}
		if invoice.Subscription != nil {
			out.SubscriptionRef = invoice.Subscription.ID
		}
		return out, nil

	case EventSubscriptionUpdated, EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := decode(&sub); err != nil {
			return nil, err
		}
		if sub.ID == "" {
			return nil, fmt.Errorf("%w: %s without subscription id", domain.ErrValidation, evt.Type)
		}
		if header.Type == EventSubscriptionDeleted {
			return &SubscriptionDeleted{eventHeader: header, SubscriptionRef: sub.ID}, nil
		}
		return &SubscriptionUpdated{eventHeader: header, Subscription: *stripeclient.FromStripeSubscription(&sub)}, nil

	default:
		return &IgnoredEvent{eventHeader: header}, nil
	}
}
