package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZrianRashid/ai-ugc-generator/internal/config"
	"github.com/ZrianRashid/ai-ugc-generator/internal/domain"
)

func TestNewCreditPolicyFallsBackToNone(t *testing.T) {
	assert.Equal(t, config.DebitPolicyNone, NewCreditPolicy("sometimes", nil, nil, testLogger()).Mode())
	assert.Equal(t, config.DebitPolicyOnSubmit, NewCreditPolicy(config.DebitPolicyOnSubmit, nil, nil, testLogger()).Mode())
	var nilPolicy *CreditPolicy
	assert.Equal(t, config.DebitPolicyNone, nilPolicy.Mode())
}

func TestOnSubmitDebitsAndRefundsOnFailure(t *testing.T) {
	s := newTestSystem(config.DebitPolicyOnSubmit, nil)
	ctx := context.Background()
	grantCredits(t, s, "acct-1", 1)

	job, err := s.gateway.Submit(ctx, "acct-1", validSubmit())
	require.NoError(t, err)
	waitForRender(t, s)

	ledger, err := s.ledger.GetBalance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), ledger.Balance)
	assert.Equal(t, int64(1), ledger.TotalUsed)

	_, err = s.jobs.ApplyCallback(ctx, validAuth, CallbackPayload{VideoID: job.ID, Status: "failed", Error: strPtr("render crashed")})
	require.NoError(t, err)
	// A second failure callback must not refund twice.
	_, err = s.jobs.ApplyCallback(ctx, validAuth, CallbackPayload{VideoID: job.ID, Status: "failed"})
	require.NoError(t, err)

	ledger, err = s.ledger.GetBalance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), ledger.Balance)
	assert.Equal(t, ledger.TotalEarned-ledger.TotalUsed, ledger.Balance)

	var refunds int
	for _, txn := range s.repo.transactionsFor("acct-1") {
		if txn.Kind == domain.KindRefund {
			refunds++
		}
	}
	assert.Equal(t, 1, refunds)
}

func TestOnSubmitDebitRejectsEmptyBalance(t *testing.T) {
	s := newTestSystem(config.DebitPolicyOnSubmit, nil)
	ctx := context.Background()
	grantCredits(t, s, "acct-1", 1)

	job, err := s.gateway.Submit(ctx, "acct-1", validSubmit())
	require.NoError(t, err)
	waitForRender(t, s)

	second := createJob(t, s, "acct-1")
	err = s.credits.OnSubmit(ctx, second, domain.PlanPro)
	require.ErrorIs(t, err, domain.ErrInsufficientCredits)

	ledger, err := s.ledger.GetBalance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Zero(t, ledger.Balance)
	assert.NotEqual(t, job.ID, second.ID)
}

func TestSubmitFailsJobWhenDebitLosesRace(t *testing.T) {
	s := newTestSystem(config.DebitPolicyOnSubmit, nil)
	ctx := context.Background()
	grantCredits(t, s, "acct-1", 1)
	// The balance pre-check passes, then a concurrent spend empties the ledger
	// before the usage debit lands.
	s.repo.usageErr = domain.ErrInsufficientBalance

	job, err := s.gateway.Submit(ctx, "acct-1", validSubmit())
	require.ErrorIs(t, err, domain.ErrInsufficientCredits)
	assert.Nil(t, job)
	waitForRender(t, s)
	assert.Empty(t, s.render.calls())

	jobs, err := s.jobs.List(ctx, "acct-1", 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.JobFailed, jobs[0].Status)
	require.NotNil(t, jobs[0].ErrorMessage)
	assert.Equal(t, "insufficient credits", *jobs[0].ErrorMessage)

	for _, txn := range s.repo.transactionsFor("acct-1") {
		assert.NotEqual(t, domain.KindRefund, txn.Kind)
		assert.NotEqual(t, domain.KindUsage, txn.Kind)
	}
	ledger, err := s.ledger.GetBalance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), ledger.Balance)
}

func TestOnCompletionDebitsOnce(t *testing.T) {
	s := newTestSystem(config.DebitPolicyOnCompletion, nil)
	ctx := context.Background()
	grantCredits(t, s, "acct-1", 2)

	job, err := s.gateway.Submit(ctx, "acct-1", validSubmit())
	require.NoError(t, err)
	waitForRender(t, s)

	ledger, err := s.ledger.GetBalance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), ledger.Balance)

	for i := 0; i < 2; i++ {
		_, err = s.jobs.ApplyCallback(ctx, validAuth, CallbackPayload{VideoID: job.ID, Status: "completed", VideoURL: strPtr("https://cdn/v.mp4")})
		require.NoError(t, err)
	}

	ledger, err = s.ledger.GetBalance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), ledger.Balance)
}

func TestFailedJobWithoutDebitIsNotRefunded(t *testing.T) {
	s := newTestSystem(config.DebitPolicyOnSubmit, nil)
	ctx := context.Background()
	job := createJob(t, s, "acct-1")

	_, err := s.jobs.ApplyCallback(ctx, validAuth, CallbackPayload{VideoID: job.ID, Status: "failed"})
	require.NoError(t, err)

	_, err = s.ledger.GetBalance(ctx, "acct-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPlanResolver(t *testing.T) {
	lenient := NewPlanResolver(testPrices, false)
	strict := NewPlanResolver(testPrices, true)

	plan, err := lenient.ResolvePlan("price_unlimited")
	require.NoError(t, err)
	assert.Equal(t, domain.PlanUnlimited, plan)

	plan, err = lenient.ResolvePlan("price_mystery")
	require.NoError(t, err)
	assert.Equal(t, domain.PlanPro, plan)

	_, err = strict.ResolvePlan("price_mystery")
	require.ErrorIs(t, err, domain.ErrValidation)

	assert.True(t, lenient.IsPAYG("price_payg"))
	assert.False(t, lenient.IsPAYG("price_pro"))
	assert.False(t, NewPlanResolver(PriceTable{}, false).IsPAYG(""))

	price, ok := lenient.PriceFor(domain.PlanStarter)
	assert.False(t, ok)
	assert.Empty(t, price)
}

func TestRedisRateLimiterDisabledWithoutClient(t *testing.T) {
	limiter := NewRedisRateLimiter(nil, "")
	count, retryAfter, err := limiter.ConsumeRateLimit(context.Background(), "generate", "acct-1", 10, 0)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Zero(t, retryAfter)
	assert.Equal(t, defaultRateLimitPrefix, limiter.prefix)
}

func TestMemoryRateLimiterWindow(t *testing.T) {
	limiter := NewMemoryRateLimiter()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	for i := 1; i <= 3; i++ {
		count, retryAfter, err := limiter.ConsumeRateLimit(context.Background(), "generate", "acct-1", 2, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, count)
		assert.Equal(t, 60, retryAfter)
	}

	count, _, err := limiter.ConsumeRateLimit(context.Background(), "generate", "acct-2", 2, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	now = now.Add(time.Minute)
	assert.Equal(t, 2, limiter.Prune())
	count, _, err = limiter.ConsumeRateLimit(context.Background(), "generate", "acct-1", 2, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
