/**
 * @description
 * This file defines the repository contracts used by the application layer.
 * Each component depends only on the slice of persistence it owns, which keeps
 * the services decoupled from PostgreSQL and easy to stub in tests.
 */
package store

import (
	"context"
	"time"

	"github.com/ZrianRashid/ai-ugc-generator/internal/domain"
)

// AccountRepository provisions accounts on first sign-in.
type AccountRepository interface {
	EnsureAccount(ctx context.Context, accountID, email string) error
}

// LedgerRepository owns ledgers and their transaction history.
type LedgerRepository interface {
	GetLedger(ctx context.Context, accountID string) (*domain.Ledger, error)
	// ApplyLedgerTransaction appends entry and moves the ledger projection in
	// one database transaction.
	ApplyLedgerTransaction(ctx context.Context, entry *domain.LedgerTransaction) (*domain.Ledger, error)
	ListLedgerTransactions(ctx context.Context, accountID string, limit int) ([]domain.LedgerTransaction, error)
	FindLedgerTransactionByKey(ctx context.Context, idempotencyKey string) (*domain.LedgerTransaction, error)
}

// SubscriptionRepository owns the mirrored subscription rows.
type SubscriptionRepository interface {
	GetSubscriptionByAccountID(ctx context.Context, accountID string) (*domain.Subscription, error)
	UpsertSubscription(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error)
	UpdateSubscriptionByRef(ctx context.Context, subscriptionRef string, params UpdateSubscriptionParams) (*domain.Subscription, error)
}

// JobRepository owns generation jobs.
type JobRepository interface {
	CreateJob(ctx context.Context, job *domain.Job) (*domain.Job, error)
	FindJobByID(ctx context.Context, jobID string) (*domain.Job, error)
	ListJobsByAccountID(ctx context.Context, accountID string, limit int) ([]domain.Job, error)
	// UpdateJobIfActive applies update unless the job is already terminal. It
	// returns the stored job and whether the update was applied.
	UpdateJobIfActive(ctx context.Context, jobID string, update domain.JobUpdate) (*domain.Job, bool, error)
	FindStaleJobs(ctx context.Context, olderThan time.Time, limit int) ([]domain.Job, error)
}

// BillingEventRepository owns the billing event log.
type BillingEventRepository interface {
	// RecordBillingEvent inserts rec unless the provider event id was already
	// recorded, in which case the stored row is returned with duplicate=true.
	RecordBillingEvent(ctx context.Context, rec *domain.BillingEventRecord) (stored *domain.BillingEventRecord, duplicate bool, err error)
	MarkBillingEventProcessed(ctx context.Context, id string, outcome string, processingErr *string) error
}

// Repository is the full persistence surface implemented by PostgresRepository.
type Repository interface {
	AccountRepository
	LedgerRepository
	SubscriptionRepository
	JobRepository
	BillingEventRepository
}

// UpdateSubscriptionParams lists the optional columns of a subscription update.
// Nil fields are left untouched.
type UpdateSubscriptionParams struct {
	Status            *domain.SubscriptionStatus
	Plan              *domain.Plan
	CancelAtPeriodEnd *bool
	PeriodStart       *time.Time
	PeriodEnd         *time.Time
	PriceRef          *string
}
