/**
 * @description
 * This package wraps the Stripe API calls the service needs: fetching the
 * canonical subscription and checkout line items during reconciliation,
 * creating customers and creating Checkout Sessions. The client is
 * constructed once in main and injected, never stored in package state.
 *
 * @dependencies
 * - github.com/stripe/stripe-go/v76: Official Stripe SDK.
 */
package stripeclient

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/ZrianRashid/ai-ugc-generator/internal/domain"
)

// Subscription is the provider-neutral view of a Stripe subscription.
type Subscription struct {
	ID                string
	CustomerID        string
	Status            string
	PriceID           string
	PeriodStart       *time.Time
	PeriodEnd         *time.Time
	CancelAtPeriodEnd bool
	LatestInvoiceID   string
}

// CheckoutParams describes a Checkout Session to create.
type CheckoutParams struct {
	CustomerID string
	PriceID    string
	Payment    bool
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
}

// Client talks to the Stripe API.
type Client struct {
	api *client.API
}

// NewClient creates a Stripe client bound to secretKey.
func NewClient(secretKey string) *Client {
	return &Client{api: client.New(secretKey, nil)}
}

// FetchSubscription loads the canonical subscription state.
func (c *Client) FetchSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := c.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch subscription %s: %v", domain.ErrUpstreamUnavailable, subscriptionID, err)
	}
	return FromStripeSubscription(sub), nil
}

// CheckoutPriceIDs lists the price of every line item on a Checkout Session.
func (c *Client) CheckoutPriceIDs(ctx context.Context, sessionID string) ([]string, error) {
	params := &stripe.CheckoutSessionListLineItemsParams{Session: stripe.String(sessionID)}
	params.Context = ctx
	params.Limit = stripe.Int64(10)

	var prices []string
	iter := c.api.CheckoutSessions.ListLineItems(params)
	for iter.Next() {
		if item := iter.LineItem(); item != nil && item.Price != nil && item.Price.ID != "" {
			prices = append(prices, item.Price.ID)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: list line items for %s: %v", domain.ErrUpstreamUnavailable, sessionID, err)
	}
	return prices, nil
}

// CreateCustomer creates a Stripe customer tagged with the account id.
func (c *Client) CreateCustomer(ctx context.Context, accountID, email string) (string, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	if email != "" {
		params.Email = stripe.String(email)
	}
	params.AddMetadata("userId", accountID)

	customer, err := c.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("%w: create customer: %v", domain.ErrUpstreamUnavailable, err)
	}
	return customer.ID, nil
}

// CreateCheckoutSession creates a hosted checkout page and returns its URL.
func (c *Client) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (string, error) {
	mode := stripe.CheckoutSessionModeSubscription
	if p.Payment {
		mode = stripe.CheckoutSessionModePayment
	}

	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(p.CustomerID),
		Mode:     stripe.String(string(mode)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(p.PriceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
	}
	params.Context = ctx
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}

	session, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("%w: create checkout session: %v", domain.ErrUpstreamUnavailable, err)
	}
	return session.URL, nil
}

// FromStripeSubscription flattens the fields the registry mirrors.
func FromStripeSubscription(sub *stripe.Subscription) *Subscription {
	if sub == nil {
		return nil
	}
	out := &Subscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		PeriodStart:       unixTime(sub.CurrentPeriodStart),
		PeriodEnd:         unixTime(sub.CurrentPeriodEnd),
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.LatestInvoice != nil {
		out.LatestInvoiceID = sub.LatestInvoice.ID
	}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item != nil && item.Price != nil && item.Price.ID != "" {
				out.PriceID = item.Price.ID
				break
			}
		}
	}
	return out
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
