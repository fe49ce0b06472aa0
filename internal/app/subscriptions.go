package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ZrianRashid/ai-ugc-generator/internal/domain"
	"github.com/ZrianRashid/ai-ugc-generator/internal/store"
)

// CheckoutSubscription is the state captured when a subscription checkout completes.
type CheckoutSubscription struct {
	AccountID       string
	CustomerRef     string
	SubscriptionRef string
	PriceRef        string
	Plan            domain.Plan
	Status          domain.SubscriptionStatus
	PeriodStart     *time.Time
	PeriodEnd       *time.Time
}

// StatusUpdate is a partial subscription change. Nil fields are untouched.
type StatusUpdate struct {
	Status            domain.SubscriptionStatus
	CancelAtPeriodEnd *bool
	PeriodStart       *time.Time
	PeriodEnd         *time.Time
	PriceRef          *string
}

// SubscriptionRegistry mirrors provider subscriptions locally.
type SubscriptionRegistry struct {
	repo   store.SubscriptionRepository
	plans  *PlanResolver
	logger *slog.Logger
}

// NewSubscriptionRegistry creates a registry.
func NewSubscriptionRegistry(repo store.SubscriptionRepository, plans *PlanResolver, logger *slog.Logger) *SubscriptionRegistry {
	return &SubscriptionRegistry{repo: repo, plans: plans, logger: logger}
}

// GetSubscription returns nil without error when the account never subscribed.
func (r *SubscriptionRegistry) GetSubscription(ctx context.Context, accountID string) (*domain.Subscription, error) {
	sub, err := r.repo.GetSubscriptionByAccountID(ctx, accountID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return sub, nil
}

// PlanFor returns the account's plan, starter when it has no subscription.
func (r *SubscriptionRegistry) PlanFor(ctx context.Context, accountID string) (domain.Plan, error) {
	sub, err := r.GetSubscription(ctx, accountID)
	if err != nil {
		return "", err
	}
	if sub == nil || !sub.Plan.Valid() {
		return domain.PlanStarter, nil
	}
	return sub.Plan, nil
}

// UpsertFromCheckout creates or replaces the account's subscription. Replaying
// the same checkout writes the same row.
func (r *SubscriptionRegistry) UpsertFromCheckout(ctx context.Context, in CheckoutSubscription) (*domain.Subscription, error) {
	if in.AccountID == "" {
		return nil, fmt.Errorf("%w: account id is required", domain.ErrValidation)
	}
	if !in.Plan.Valid() {
		return nil, fmt.Errorf("%w: unknown plan %q", domain.ErrValidation, in.Plan)
	}

	sub := &domain.Subscription{
		AccountID:           in.AccountID,
		Plan:                in.Plan,
		ExternalCustomerRef: in.CustomerRef,
		Status:              in.Status,
		PeriodStart:         in.PeriodStart,
		PeriodEnd:           in.PeriodEnd,
	}
	if in.SubscriptionRef != "" {
		ref := in.SubscriptionRef
		sub.ExternalSubscriptionRef = &ref
	}
	if in.PriceRef != "" {
		price := in.PriceRef
		sub.ExternalPriceRef = &price
	}
	if sub.Status == "" {
		sub.Status = domain.StatusActive
	}
	if sub.Status == domain.StatusCanceled {
		sub.Plan = domain.PlanStarter
	}

	stored, err := r.repo.UpsertSubscription(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("upsert subscription: %w", err)
	}
	r.logger.Info("subscription upserted from checkout", "account_id", in.AccountID, "plan", stored.Plan, "status", stored.Status)
	return stored, nil
}

// UpdateStatus patches the subscription matching subscriptionRef. An unknown
// ref is logged and reported as (nil, nil).
func (r *SubscriptionRegistry) UpdateStatus(ctx context.Context, subscriptionRef string, u StatusUpdate) (*domain.Subscription, error) {
	params := store.UpdateSubscriptionParams{
		CancelAtPeriodEnd: u.CancelAtPeriodEnd,
		PeriodStart:       u.PeriodStart,
		PeriodEnd:         u.PeriodEnd,
		PriceRef:          u.PriceRef,
	}
	if u.Status != "" {
		status := u.Status
		params.Status = &status
	}

	switch {
	case u.Status == domain.StatusCanceled:
		plan := domain.PlanStarter
		params.Plan = &plan
	case u.PriceRef != nil && *u.PriceRef != "":
		plan, err := r.plans.ResolvePlan(*u.PriceRef)
		if err != nil {
			r.logger.Warn("keeping current plan; price reference not recognised", "subscription_ref", subscriptionRef, "price_ref", *u.PriceRef)
		} else {
			params.Plan = &plan
		}
	}

	sub, err := r.repo.UpdateSubscriptionByRef(ctx, subscriptionRef, params)
	if errors.Is(err, domain.ErrNotFound) {
		r.logger.Warn("no local subscription for billing update", "subscription_ref", subscriptionRef, "status", u.Status)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("update subscription status: %w", err)
	}
	r.logger.Info("subscription status updated", "subscription_ref", subscriptionRef, "status", sub.Status, "plan", sub.Plan)
	return sub, nil
}

// Cancel marks the subscription canceled and demotes it to starter.
func (r *SubscriptionRegistry) Cancel(ctx context.Context, subscriptionRef string) (*domain.Subscription, error) {
	status := domain.StatusCanceled
	plan := domain.PlanStarter
	sub, err := r.repo.UpdateSubscriptionByRef(ctx, subscriptionRef, store.UpdateSubscriptionParams{Status: &status, Plan: &plan})
	if errors.Is(err, domain.ErrNotFound) {
		r.logger.Warn("no local subscription to cancel", "subscription_ref", subscriptionRef)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cancel subscription: %w", err)
	}
	r.logger.Info("subscription canceled", "subscription_ref", subscriptionRef, "account_id", sub.AccountID)
	return sub, nil
}
