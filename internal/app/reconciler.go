/**
 * @description
 * Reconciler turns signed Stripe webhooks into ledger and subscription
 * mutations. Every event is verified against the raw body, durably recorded,
 * then processed. Processing failures are reported as an Outcome and never as
 * an HTTP error, so the provider does not enter a retry storm.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/ZrianRashid/ai-ugc-generator/internal/domain"
	"github.com/ZrianRashid/ai-ugc-generator/internal/metrics"
	"github.com/ZrianRashid/ai-ugc-generator/internal/store"
	"github.com/ZrianRashid/ai-ugc-generator/pkg/rabbitmq"
	"github.com/ZrianRashid/ai-ugc-generator/pkg/stripeclient"
)

const billingSourceStripe = "stripe"

// OutcomeKind classifies how a recorded event was handled.
type OutcomeKind string

const (
	OutcomeProcessed OutcomeKind = "processed"
	OutcomeIgnored   OutcomeKind = "ignored"
	OutcomeFailed    OutcomeKind = "failed"
)

// Outcome is the result of processing one billing event.
type Outcome struct {
	Kind   OutcomeKind
	Reason string
}

func processed() Outcome            { return Outcome{Kind: OutcomeProcessed} }
func ignored(reason string) Outcome { return Outcome{Kind: OutcomeIgnored, Reason: reason} }
func failed(err error) Outcome      { return Outcome{Kind: OutcomeFailed, Reason: err.Error()} }

func (o Outcome) String() string {
	if o.Reason == "" {
		return string(o.Kind)
	}
	return string(o.Kind) + ": " + o.Reason
}

// BillingProvider re-reads canonical state from the payment provider.
type BillingProvider interface {
	FetchSubscription(ctx context.Context, subscriptionID string) (*stripeclient.Subscription, error)
	CheckoutPriceIDs(ctx context.Context, sessionID string) ([]string, error)
}

// ReconcilerConfig holds the reconciler's tunables.
type ReconcilerConfig struct {
	WebhookSecret  string
	MonthlyCredits int64
}

// Reconciler processes billing webhooks.
type Reconciler struct {
	events    store.BillingEventRepository
	ledger    *LedgerService
	registry  *SubscriptionRegistry
	plans     *PlanResolver
	provider  BillingProvider
	publisher rabbitmq.Publisher
	cfg       ReconcilerConfig
	logger    *slog.Logger
}

// NewReconciler wires a reconciler.
func NewReconciler(
	events store.BillingEventRepository,
	ledger *LedgerService,
	registry *SubscriptionRegistry,
	plans *PlanResolver,
	provider BillingProvider,
	publisher rabbitmq.Publisher,
	cfg ReconcilerConfig,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		events:    events,
		ledger:    ledger,
		registry:  registry,
		plans:     plans,
		provider:  provider,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
	}
}

// Verify checks the Stripe-Signature header against the unparsed body.
func (r *Reconciler) Verify(payload []byte, signatureHeader string) (stripe.Event, error) {
	if strings.TrimSpace(signatureHeader) == "" {
		return stripe.Event{}, fmt.Errorf("%w: missing stripe-signature header", domain.ErrInvalidSignature)
	}
	if r.cfg.WebhookSecret == "" {
		return stripe.Event{}, fmt.Errorf("%w: webhook secret is not configured", domain.ErrInvalidSignature)
	}

	evt, err := webhook.ConstructEventWithOptions(payload, signatureHeader, r.cfg.WebhookSecret, webhook.ConstructEventOptions{
		Tolerance:                webhook.DefaultTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if errors.Is(err, webhook.ErrNotSigned) || errors.Is(err, webhook.ErrInvalidHeader) ||
			errors.Is(err, webhook.ErrNoValidSignature) || errors.Is(err, webhook.ErrTooOld) {
			return stripe.Event{}, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
		}
		return stripe.Event{}, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return evt, nil
}

// Record writes the event to the billing event log. alreadyProcessed is true
// when the same provider event was recorded and successfully handled before.
func (r *Reconciler) Record(ctx context.Context, evt stripe.Event, payload []byte) (*domain.BillingEventRecord, bool, error) {
	stored, duplicate, err := r.events.RecordBillingEvent(ctx, &domain.BillingEventRecord{
		Source:          billingSourceStripe,
		ProviderEventID: evt.ID,
		EventType:       string(evt.Type),
		Payload:         payload,
	})
	if err != nil {
		return nil, false, fmt.Errorf("record billing event %s: %w", evt.ID, err)
	}
	return stored, duplicate && stored.Processed, nil
}

// Handle runs verify, record and process for one webhook delivery. It returns
// an error only when the delivery must be rejected or could not be recorded.
func (r *Reconciler) Handle(ctx context.Context, payload []byte, signatureHeader string) (Outcome, error) {
	evt, err := r.Verify(payload, signatureHeader)
	if err != nil {
		return Outcome{}, err
	}
	parsed, err := ParseBillingEvent(evt)
	if err != nil {
		return Outcome{}, err
	}

	rec, alreadyProcessed, err := r.Record(ctx, evt, payload)
	if err != nil {
		return Outcome{}, err
	}
	if alreadyProcessed {
		outcome := ignored("duplicate event")
		metrics.RecordBillingEvent(parsed.EventType(), string(outcome.Kind))
		r.logger.Info("billing event already processed", "event_id", evt.ID, "event_type", evt.Type)
		return outcome, nil
	}

	outcome := r.Process(ctx, parsed)

	var processingErr *string
	if outcome.Kind == OutcomeFailed {
		reason := outcome.Reason
		processingErr = &reason
	}
	if err := r.events.MarkBillingEventProcessed(ctx, rec.ID, string(outcome.Kind), processingErr); err != nil {
		r.logger.Error("failed to store billing event outcome", "event_id", evt.ID, "error", err)
	}

	metrics.RecordBillingEvent(parsed.EventType(), string(outcome.Kind))
	logArgs := []any{"event_id", evt.ID, "event_type", evt.Type, "outcome", outcome.Kind}
	if outcome.Kind == OutcomeFailed {
		r.logger.Error("billing event processing failed", append(logArgs, "reason", outcome.Reason)...)
	} else {
		r.logger.Info("billing event handled", append(logArgs, "reason", outcome.Reason)...)
	}
	return outcome, nil
}

// Process dispatches a parsed event to its handler.
func (r *Reconciler) Process(ctx context.Context, evt BillingEvent) Outcome {
	switch e := evt.(type) {
	case *CheckoutCompleted:
		return r.processCheckout(ctx, e)
	case *InvoicePaymentSucceeded:
		return r.processInvoicePaid(ctx, e)
	case *SubscriptionUpdated:
		return r.processSubscriptionUpdated(ctx, e)
	case *SubscriptionDeleted:
		return r.processSubscriptionDeleted(ctx, e)
	default:
		return ignored("unhandled event type " + evt.EventType())
	}
}

func (r *Reconciler) processCheckout(ctx context.Context, e *CheckoutCompleted) Outcome {
	if e.AccountID == "" {
		return ignored("checkout session has no userId metadata")
	}

	switch stripe.CheckoutSessionMode(e.Mode) {
	case stripe.CheckoutSessionModeSubscription:
		return r.processSubscriptionCheckout(ctx, e)
	case stripe.CheckoutSessionModePayment:
		priceRef, err := r.checkoutPrice(ctx, e)
		if err != nil {
			return failed(err)
		}
		if !r.plans.IsPAYG(priceRef) {
			return ignored("one-time payment for a non pay-as-you-go price")
		}
		_, err = r.ledger.ApplyTransaction(ctx, e.AccountID, 1, domain.KindPurchase, "Pay-as-you-go video credit", TransactionOptions{
			IdempotencyKey: "stripe:" + e.ID,
			Metadata:       map[string]any{"checkout_session_id": e.SessionID, "price_id": priceRef},
		})
		if err != nil && !errors.Is(err, domain.ErrDuplicate) {
			return failed(err)
		}
		r.publish(ctx, domain.BillingNotice{EventID: e.ID, EventType: e.Type, AccountID: e.AccountID, Plan: domain.PlanPAYG, Credits: 1, OccurredAt: e.OccurredAt})
		return processed()
	default:
		return ignored("checkout mode " + e.Mode)
	}
}

// checkoutPrice returns the session's price. Sessions created outside the app
// carry no priceId metadata, so their line items are listed instead.
func (r *Reconciler) checkoutPrice(ctx context.Context, e *CheckoutCompleted) (string, error) {
	if e.PriceRef != "" || r.provider == nil || e.SessionID == "" {
		return e.PriceRef, nil
	}
	prices, err := r.provider.CheckoutPriceIDs(ctx, e.SessionID)
	if err != nil {
		return "", err
	}
	for _, price := range prices {
		if r.plans.IsPAYG(price) {
			return price, nil
		}
	}
	if len(prices) > 0 {
		return prices[0], nil
	}
	return "", nil
}

func (r *Reconciler) processSubscriptionCheckout(ctx context.Context, e *CheckoutCompleted) Outcome {
	if e.SubscriptionRef == "" {
		return failed(errors.New("subscription checkout without subscription reference"))
	}

	in := CheckoutSubscription{
		AccountID:       e.AccountID,
		CustomerRef:     e.CustomerRef,
		SubscriptionRef: e.SubscriptionRef,
		PriceRef:        e.PriceRef,
		Status:          domain.StatusActive,
	}
	invoiceRef := e.InvoiceRef
	if r.provider != nil {
		canonical, err := r.provider.FetchSubscription(ctx, e.SubscriptionRef)
		if err != nil {
			r.logger.Warn("using checkout payload; subscription fetch failed", "subscription_ref", e.SubscriptionRef, "error", err)
		} else {
			in.Status = domain.NormalizeSubscriptionStatus(canonical.Status)
			in.PeriodStart = canonical.PeriodStart
			in.PeriodEnd = canonical.PeriodEnd
			if in.PriceRef == "" {
				in.PriceRef = canonical.PriceID
			}
			if in.CustomerRef == "" {
				in.CustomerRef = canonical.CustomerID
			}
			if canonical.LatestInvoiceID != "" {
				invoiceRef = canonical.LatestInvoiceID
			}
		}
	}

	plan, err := r.plans.ResolvePlan(in.PriceRef)
	if err != nil {
		return failed(err)
	}
	in.Plan = plan

	sub, err := r.registry.UpsertFromCheckout(ctx, in)
	if err != nil {
		return failed(err)
	}

	// The first invoice can be paid before the subscription is tracked, so
	// its credits are granted here under the same key the invoice would use.
	notice := domain.BillingNotice{EventID: e.ID, EventType: e.Type, AccountID: sub.AccountID, Plan: sub.Plan, Status: string(sub.Status), OccurredAt: e.OccurredAt}
	if invoiceRef != "" {
		granted, err := r.grantMonthlyCredits(ctx, sub, e.SubscriptionRef, invoiceRef)
		if err != nil {
			return failed(err)
		}
		notice.Credits = granted
	}
	r.publish(ctx, notice)
	return processed()
}

// grantMonthlyCredits credits an active pro subscription once per invoice.
func (r *Reconciler) grantMonthlyCredits(ctx context.Context, sub *domain.Subscription, subscriptionRef, invoiceID string) (int64, error) {
	if r.cfg.MonthlyCredits <= 0 || sub.Plan != domain.PlanPro || sub.Status != domain.StatusActive {
		return 0, nil
	}
	_, err := r.ledger.ApplyTransaction(ctx, sub.AccountID, r.cfg.MonthlyCredits, domain.KindSubscription, "Monthly subscription credits", TransactionOptions{
		IdempotencyKey: "stripe:invoice:" + invoiceID,
		Metadata:       map[string]any{"invoice_id": invoiceID, "subscription_id": subscriptionRef},
	})
	if err != nil && !errors.Is(err, domain.ErrDuplicate) {
		return 0, err
	}
	return r.cfg.MonthlyCredits, nil
}

func (r *Reconciler) processInvoicePaid(ctx context.Context, e *InvoicePaymentSucceeded) Outcome {
	if e.SubscriptionRef == "" {
		return ignored("invoice is not attached to a subscription")
	}
	if r.provider == nil {
		return failed(fmt.Errorf("%w: no billing provider configured", domain.ErrUpstreamUnavailable))
	}

	canonical, err := r.provider.FetchSubscription(ctx, e.SubscriptionRef)
	if err != nil {
		return failed(err)
	}
	update := StatusUpdate{
		Status:            domain.NormalizeSubscriptionStatus(canonical.Status),
		CancelAtPeriodEnd: &canonical.CancelAtPeriodEnd,
		PeriodStart:       canonical.PeriodStart,
		PeriodEnd:         canonical.PeriodEnd,
	}
	if canonical.PriceID != "" {
		update.PriceRef = &canonical.PriceID
	}

	sub, err := r.registry.UpdateStatus(ctx, e.SubscriptionRef, update)
	if err != nil {
		return failed(err)
	}
	if sub == nil {
		return ignored("subscription not tracked locally")
	}

	granted, err := r.grantMonthlyCredits(ctx, sub, e.SubscriptionRef, e.InvoiceID)
	if err != nil {
		return failed(err)
	}
	r.publish(ctx, domain.BillingNotice{EventID: e.ID, EventType: e.Type, AccountID: sub.AccountID, Plan: sub.Plan, Status: string(sub.Status), Credits: granted, OccurredAt: e.OccurredAt})
	return processed()
}

func (r *Reconciler) processSubscriptionUpdated(ctx context.Context, e *SubscriptionUpdated) Outcome {
	s := e.Subscription
	update := StatusUpdate{
		Status:            domain.NormalizeSubscriptionStatus(s.Status),
		CancelAtPeriodEnd: &s.CancelAtPeriodEnd,
		PeriodStart:       s.PeriodStart,
		PeriodEnd:         s.PeriodEnd,
	}
	if s.PriceID != "" {
		update.PriceRef = &s.PriceID
	}

	sub, err := r.registry.UpdateStatus(ctx, s.ID, update)
	if err != nil {
		return failed(err)
	}
	if sub == nil {
		return ignored("subscription not tracked locally")
	}
	r.publish(ctx, domain.BillingNotice{EventID: e.ID, EventType: e.Type, AccountID: sub.AccountID, Plan: sub.Plan, Status: string(sub.Status), OccurredAt: e.OccurredAt})
	return processed()
}

func (r *Reconciler) processSubscriptionDeleted(ctx context.Context, e *SubscriptionDeleted) Outcome {
	sub, err := r.registry.Cancel(ctx, e.SubscriptionRef)
	if err != nil {
		return failed(err)
	}
	if sub == nil {
		return ignored("subscription not tracked locally")
	}
	r.publish(ctx, domain.BillingNotice{EventID: e.ID, EventType: e.Type, AccountID: sub.AccountID, Plan: sub.Plan, Status: string(sub.Status), OccurredAt: e.OccurredAt})
	return processed()
}

func (r *Reconciler) publish(ctx context.Context, notice domain.BillingNotice) {
	if r.publisher == nil {
		return
	}
	if notice.OccurredAt.IsZero() {
		notice.OccurredAt = time.Now().UTC()
	}
	if err := r.publisher.PublishBillingNotice(ctx, notice); err != nil {
		r.logger.Warn("failed to publish billing notice", "event_id", notice.EventID, "error", err)
	}
}
