package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ZrianRashid/ai-ugc-generator/internal/config"
	"github.com/ZrianRashid/ai-ugc-generator/internal/domain"
)

// PlanLookup resolves an account's current plan.
type PlanLookup interface {
	PlanFor(ctx context.Context, accountID string) (domain.Plan, error)
}

// CreditPolicy decides when generation consumes a credit. Unlimited plans
// are never debited.
type CreditPolicy struct {
	mode   string
	ledger *LedgerService
	plans  PlanLookup
	logger *slog.Logger
}

// NewCreditPolicy creates a policy for one of the config.DebitPolicy* modes.
func NewCreditPolicy(mode string, ledger *LedgerService, plans PlanLookup, logger *slog.Logger) *CreditPolicy {
	switch mode {
	case config.DebitPolicyOnSubmit, config.DebitPolicyOnCompletion:
	default:
		mode = config.DebitPolicyNone
	}
	return &CreditPolicy{mode: mode, ledger: ledger, plans: plans, logger: logger}
}

// Mode returns the active policy.
func (p *CreditPolicy) Mode() string {
	if p == nil {
		return config.DebitPolicyNone
	}
	return p.mode
}

func usageKey(jobID string) string  { return "job:" + jobID + ":usage" }
func refundKey(jobID string) string { return "job:" + jobID + ":refund" }

// OnSubmit debits one credit for a freshly created job under on_submit.
func (p *CreditPolicy) OnSubmit(ctx context.Context, job *domain.Job, plan domain.Plan) error {
	if p.Mode() != config.DebitPolicyOnSubmit || plan == domain.PlanUnlimited {
		return nil
	}
	return p.debit(ctx, job)
}

// OnCompleted debits one credit for a completed job under on_completion. An
// empty balance at that point is logged and the job stays completed.
func (p *CreditPolicy) OnCompleted(ctx context.Context, job *domain.Job) {
	if p.Mode() != config.DebitPolicyOnCompletion {
		return
	}
	plan, err := p.plans.PlanFor(ctx, job.AccountID)
	if err != nil {
		p.logger.Error("failed to resolve plan for completion debit", "job_id", job.ID, "error", err)
		return
	}
	if plan == domain.PlanUnlimited {
		return
	}
	if err := p.debit(ctx, job); err != nil {
		p.logger.Warn("completion debit not applied", "job_id", job.ID, "account_id", job.AccountID, "error", err)
	}
}

// OnFailed refunds the submit-time debit of a failed job, if one was taken.
func (p *CreditPolicy) OnFailed(ctx context.Context, job *domain.Job) {
	if p.Mode() != config.DebitPolicyOnSubmit {
		return
	}
	debited, err := p.ledger.HasTransaction(ctx, usageKey(job.ID))
	if err != nil {
		p.logger.Error("failed to look up usage debit", "job_id", job.ID, "error", err)
		return
	}
	if !debited {
		return
	}
	_, err = p.ledger.ApplyTransaction(ctx, job.AccountID, 1, domain.KindRefund, "Refund for failed video", TransactionOptions{
		RelatedJobID:   job.ID,
		IdempotencyKey: refundKey(job.ID),
	})
	if err != nil && !errors.Is(err, domain.ErrDuplicate) {
		p.logger.Error("failed to refund failed job", "job_id", job.ID, "account_id", job.AccountID, "error", err)
	}
}

func (p *CreditPolicy) debit(ctx context.Context, job *domain.Job) error {
	_, err := p.ledger.ApplyTransaction(ctx, job.AccountID, -1, domain.KindUsage, "Video generation", TransactionOptions{
		RelatedJobID:   job.ID,
		IdempotencyKey: usageKey(job.ID),
	})
	switch {
	case err == nil, errors.Is(err, domain.ErrDuplicate):
		return nil
	case errors.Is(err, domain.ErrInsufficientBalance):
		return fmt.Errorf("%w: %v", domain.ErrInsufficientCredits, err)
	default:
		return err
	}
}
