/**
 * @description
 * Gateway is the caller-facing entry point. It checks entitlement, creates the
 * generation job and hands it to the render workflow without waiting on it.
 * It also assembles the dashboard account view and starts Stripe checkouts.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ZrianRashid/ai-ugc-generator/internal/domain"
	"github.com/ZrianRashid/ai-ugc-generator/internal/metrics"
	"github.com/ZrianRashid/ai-ugc-generator/internal/store"
	"github.com/ZrianRashid/ai-ugc-generator/pkg/renderclient"
	"github.com/ZrianRashid/ai-ugc-generator/pkg/stripeclient"
)

const generateRateLimitScope = "generate"

// RenderTrigger starts an out-of-process render.
type RenderTrigger interface {
	Trigger(ctx context.Context, payload renderclient.TriggerRequest) error
}

// CheckoutProvider creates provider customers and hosted checkout pages.
type CheckoutProvider interface {
	CreateCustomer(ctx context.Context, accountID, email string) (string, error)
	CreateCheckoutSession(ctx context.Context, p stripeclient.CheckoutParams) (string, error)
}

// RateLimitError reports a rejected submission and when to retry.
type RateLimitError struct {
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited; retry after %ds", e.RetryAfterSeconds)
}

func (e *RateLimitError) Unwrap() error { return domain.ErrRateLimited }

// GatewayConfig holds the gateway's tunables.
type GatewayConfig struct {
	RenderTimeout      time.Duration
	RateLimitPerMinute int
	AppURL             string
}

// AccountState is the dashboard view of an account.
type AccountState struct {
	AccountID    string                     `json:"user_id"`
	Plan         domain.Plan                `json:"plan"`
	Subscription *domain.Subscription       `json:"subscription"`
	Credits      domain.Ledger              `json:"credits"`
	Transactions []domain.LedgerTransaction `json:"transactions"`
	CanGenerate  bool                       `json:"can_generate"`
}

// Gateway serves authenticated callers.
type Gateway struct {
	accounts store.AccountRepository
	ledger   *LedgerService
	registry *SubscriptionRegistry
	jobs     *JobTracker
	credits  *CreditPolicy
	plans    *PlanResolver
	render   RenderTrigger
	checkout CheckoutProvider
	limiter  RateLimiter
	cfg      GatewayConfig
	logger   *slog.Logger

	inflight sync.WaitGroup
}

// NewGateway wires a gateway. limiter may be nil.
func NewGateway(
	accounts store.AccountRepository,
	ledger *LedgerService,
	registry *SubscriptionRegistry,
	jobs *JobTracker,
	credits *CreditPolicy,
	plans *PlanResolver,
	render RenderTrigger,
	checkout CheckoutProvider,
	limiter RateLimiter,
	cfg GatewayConfig,
	logger *slog.Logger,
) *Gateway {
	if cfg.RenderTimeout <= 0 {
		cfg.RenderTimeout = 30 * time.Second
	}
	return &Gateway{
		accounts: accounts,
		ledger:   ledger,
		registry: registry,
		jobs:     jobs,
		credits:  credits,
		plans:    plans,
		render:   render,
		checkout: checkout,
		limiter:  limiter,
		cfg:      cfg,
		logger:   logger,
	}
}

// EnsureAccount provisions the account on first sign-in.
func (g *Gateway) EnsureAccount(ctx context.Context, accountID, email string) error {
	return g.accounts.EnsureAccount(ctx, accountID, email)
}

// Submit creates a generation job for an entitled account and triggers the
// render in the background. A trigger failure leaves the job pending.
func (g *Gateway) Submit(ctx context.Context, accountID string, req SubmitRequest) (*domain.Job, error) {
	if err := req.Validate(); err != nil {
		metrics.RecordSubmission("invalid")
		return nil, err
	}

	if g.limiter != nil && g.cfg.RateLimitPerMinute > 0 {
		count, retryAfter, err := g.limiter.ConsumeRateLimit(ctx, generateRateLimitScope, accountID, g.cfg.RateLimitPerMinute, time.Minute)
		if err != nil {
			g.logger.Warn("rate limiter unavailable; allowing request", "account_id", accountID, "error", err)
		} else if count > g.cfg.RateLimitPerMinute {
			metrics.RecordSubmission("rate_limited")
			return nil, &RateLimitError{RetryAfterSeconds: retryAfter}
		}
	}

	plan, err := g.registry.PlanFor(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if plan != domain.PlanUnlimited {
		ledger, err := g.ledger.BalanceOrZero(ctx, accountID)
		if err != nil {
			return nil, err
		}
		if ledger.Balance < 1 {
			metrics.RecordSubmission("no_credits")
			return nil, domain.ErrInsufficientCredits
		}
	}

	job, err := g.jobs.Create(ctx, accountID, req.Title(), req.Prompt, req.Settings())
	if err != nil {
		return nil, err
	}

	if err := g.credits.OnSubmit(ctx, job, plan); err != nil {
		if _, _, markErr := g.jobs.MarkFailed(ctx, job.ID, "insufficient credits"); markErr != nil {
			g.logger.Error("failed to fail job after debit rejection", "job_id", job.ID, "error", markErr)
		}
		metrics.RecordSubmission("no_credits")
		return nil, err
	}

	g.dispatchRender(ctx, job, req)
	metrics.RecordSubmission("accepted")
	g.logger.Info("generation job submitted", "job_id", job.ID, "account_id", accountID, "plan", plan)
	return job, nil
}

func (g *Gateway) dispatchRender(ctx context.Context, job *domain.Job, req SubmitRequest) {
	if g.render == nil {
		g.logger.Warn("no render trigger configured; job left pending", "job_id", job.ID)
		return
	}

	payload := renderclient.TriggerRequest{
		VideoID:        job.ID,
		UserID:         job.AccountID,
		Prompt:         req.Prompt,
		ProductName:    req.ProductName,
		TargetAudience: req.TargetAudience,
		VideoStyle:     req.VideoStyle,
		Duration:       req.Duration,
		Tone:           req.Tone,
	}

	g.inflight.Add(1)
	go func() {
		defer g.inflight.Done()
		triggerCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.cfg.RenderTimeout)
		defer cancel()

		start := time.Now()
		err := g.render.Trigger(triggerCtx, payload)
		metrics.RecordRenderTrigger(err == nil, time.Since(start))
		if err != nil {
			g.logger.Error("render trigger failed; job left pending", "job_id", job.ID, "error", err)
			return
		}
		g.logger.Info("render triggered", "job_id", job.ID)
	}()
}

// Wait blocks until background render triggers finish or ctx ends.
func (g *Gateway) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AccountState assembles plan, subscription, credits and recent history.
func (g *Gateway) AccountState(ctx context.Context, accountID string) (*AccountState, error) {
	sub, err := g.registry.GetSubscription(ctx, accountID)
	if err != nil {
		return nil, err
	}
	ledger, err := g.ledger.BalanceOrZero(ctx, accountID)
	if err != nil {
		return nil, err
	}
	txns, err := g.ledger.ListTransactions(ctx, accountID, defaultHistoryLimit)
	if err != nil {
		return nil, err
	}

	state := &AccountState{
		AccountID:    accountID,
		Plan:         domain.PlanStarter,
		Subscription: sub,
		Credits:      *ledger,
		Transactions: txns,
	}
	if sub != nil && sub.Plan.Valid() {
		state.Plan = sub.Plan
	}
	state.CanGenerate = state.Plan == domain.PlanUnlimited || ledger.Balance > 0
	return state, nil
}

// StartCheckout creates a Stripe Checkout Session and returns its URL.
func (g *Gateway) StartCheckout(ctx context.Context, accountID, email string, req CheckoutRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	if g.checkout == nil {
		return "", fmt.Errorf("%w: billing provider not configured", domain.ErrUpstreamUnavailable)
	}

	plan := domain.Plan(req.PlanID)
	priceID, ok := g.plans.PriceFor(plan)
	if req.PriceID != "" {
		if !g.plans.Known(req.PriceID) {
			return "", fmt.Errorf("%w: price %q is not offered", domain.ErrValidation, req.PriceID)
		}
		priceID, ok = req.PriceID, true
	}
	if !ok {
		return "", fmt.Errorf("%w: invalid plan or price not configured", domain.ErrValidation)
	}

	sub, err := g.registry.GetSubscription(ctx, accountID)
	if err != nil {
		return "", err
	}
	customerID := ""
	if sub != nil {
		customerID = sub.ExternalCustomerRef
	}
	if customerID == "" {
		customerID, err = g.checkout.CreateCustomer(ctx, accountID, email)
		if err != nil {
			return "", err
		}
	}

	url, err := g.checkout.CreateCheckoutSession(ctx, stripeclient.CheckoutParams{
		CustomerID: customerID,
		PriceID:    priceID,
		Payment:    plan == domain.PlanPAYG,
		SuccessURL: g.cfg.AppURL + "/dashboard?success=true",
		CancelURL:  g.cfg.AppURL + "/dashboard?canceled=true",
		Metadata: map[string]string{
			"userId":  accountID,
			"planId":  string(plan),
			"priceId": priceID,
		},
	})
	if err != nil {
		return "", err
	}
	g.logger.Info("checkout session created", "account_id", accountID, "plan", plan)
	return url, nil
}

// IsRateLimited extracts the retry hint from a submission error.
func IsRateLimited(err error) (int, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfterSeconds, true
	}
	return 0, false
}
