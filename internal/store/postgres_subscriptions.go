package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ZrianRashid/ai-ugc-generator/internal/domain"
)

const subscriptionColumns = `id, account_id, plan, customer_ref, subscription_ref, price_ref, status,
	current_period_start, current_period_end, cancel_at_period_end, created_at, updated_at`

func scanSubscription(row rowScanner) (*domain.Subscription, error) {
	var (
		sub    domain.Subscription
		plan   string
		status string
	)
	err := row.Scan(&sub.ID, &sub.AccountID, &plan, &sub.ExternalCustomerRef, &sub.ExternalSubscriptionRef,
		&sub.ExternalPriceRef, &status, &sub.PeriodStart, &sub.PeriodEnd, &sub.CancelAtPeriodEnd,
		&sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sub.Plan = domain.Plan(plan)
	sub.Status = domain.SubscriptionStatus(status)
	return &sub, nil
}

// GetSubscriptionByAccountID returns domain.ErrNotFound when the account never checked out.
func (r *PostgresRepository) GetSubscriptionByAccountID(ctx context.Context, accountID string) (*domain.Subscription, error) {
	sub, err := scanSubscription(r.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE account_id = $1`, accountID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return sub, nil
}

// UpsertSubscription creates or replaces the subscription keyed by account.
func (r *PostgresRepository) UpsertSubscription(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error) {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin subscription tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `INSERT INTO accounts (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, sub.AccountID); err != nil {
		return nil, fmt.Errorf("ensure account: %w", err)
	}

	stored, err := scanSubscription(tx.QueryRow(ctx, `
		INSERT INTO subscriptions (id, account_id, plan, customer_ref, subscription_ref, price_ref, status,
			current_period_start, current_period_end, cancel_at_period_end)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (account_id) DO UPDATE SET
			plan = EXCLUDED.plan,
			customer_ref = EXCLUDED.customer_ref,
			subscription_ref = EXCLUDED.subscription_ref,
			price_ref = EXCLUDED.price_ref,
			status = EXCLUDED.status,
			current_period_start = COALESCE(EXCLUDED.current_period_start, subscriptions.current_period_start),
			current_period_end = COALESCE(EXCLUDED.current_period_end, subscriptions.current_period_end),
			cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			updated_at = NOW()
		RETURNING `+subscriptionColumns,
		sub.ID, sub.AccountID, string(sub.Plan), sub.ExternalCustomerRef, sub.ExternalSubscriptionRef,
		sub.ExternalPriceRef, string(sub.Status), sub.PeriodStart, sub.PeriodEnd, sub.CancelAtPeriodEnd))
	if err != nil {
		return nil, fmt.Errorf("upsert subscription: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit subscription tx: %w", err)
	}
	return stored, nil
}

// UpdateSubscriptionByRef patches the subscription matching the provider ref.
// It returns domain.ErrNotFound when no row matches.
func (r *PostgresRepository) UpdateSubscriptionByRef(ctx context.Context, subscriptionRef string, params UpdateSubscriptionParams) (*domain.Subscription, error) {
	var status, plan *string
	if params.Status != nil {
		s := string(*params.Status)
		status = &s
	}
	if params.Plan != nil {
		p := string(*params.Plan)
		plan = &p
	}

	sub, err := scanSubscription(r.db.QueryRow(ctx, `
		UPDATE subscriptions SET
			status = COALESCE($2, status),
			plan = COALESCE($3, plan),
			cancel_at_period_end = COALESCE($4, cancel_at_period_end),
			current_period_start = COALESCE($5, current_period_start),
			current_period_end = COALESCE($6, current_period_end),
			price_ref = COALESCE($7, price_ref),
			updated_at = NOW()
		WHERE subscription_ref = $1
		RETURNING `+subscriptionColumns,
		subscriptionRef, status, plan, params.CancelAtPeriodEnd, params.PeriodStart, params.PeriodEnd, params.PriceRef))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("update subscription %s: %w", subscriptionRef, err)
	}
	return sub, nil
}
