package app

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ZrianRashid/ai-ugc-generator/internal/domain"
	"github.com/ZrianRashid/ai-ugc-generator/internal/store"
	"github.com/ZrianRashid/ai-ugc-generator/pkg/renderclient"
	"github.com/ZrianRashid/ai-ugc-generator/pkg/stripeclient"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memoryRepository is an in-memory store.Repository with the same
// atomicity and uniqueness rules as the Postgres schema.
type memoryRepository struct {
	mu            sync.Mutex
	emails        map[string]string
	ledgers       map[string]*domain.Ledger
	transactions  []domain.LedgerTransaction
	subscriptions map[string]*domain.Subscription
	jobs          map[string]*domain.Job
	events        map[string]*domain.BillingEventRecord
	eventsByID    map[string]*domain.BillingEventRecord

	// usageErr, when set, is returned for every usage debit.
	usageErr error
}

var _ store.Repository = (*memoryRepository)(nil)

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{
		emails:        map[string]string{},
		ledgers:       map[string]*domain.Ledger{},
		subscriptions: map[string]*domain.Subscription{},
		jobs:          map[string]*domain.Job{},
		events:        map[string]*domain.BillingEventRecord{},
		eventsByID:    map[string]*domain.BillingEventRecord{},
	}
}

func (m *memoryRepository) EnsureAccount(_ context.Context, accountID, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if email != "" || m.emails[accountID] == "" {
		m.emails[accountID] = email
	}
	m.ensureLedgerLocked(accountID)
	return nil
}

func (m *memoryRepository) ensureLedgerLocked(accountID string) *domain.Ledger {
	ledger, ok := m.ledgers[accountID]
	if !ok {
		ledger = &domain.Ledger{AccountID: accountID, UpdatedAt: time.Now().UTC()}
		m.ledgers[accountID] = ledger
	}
	return ledger
}

func (m *memoryRepository) GetLedger(_ context.Context, accountID string) (*domain.Ledger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ledger, ok := m.ledgers[accountID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *ledger
	return &out, nil
}

func (m *memoryRepository) ApplyLedgerTransaction(_ context.Context, entry *domain.LedgerTransaction) (*domain.Ledger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.usageErr != nil && entry.Kind == domain.KindUsage {
		return nil, m.usageErr
	}
	if entry.IdempotencyKey != nil {
		for _, txn := range m.transactions {
			if txn.IdempotencyKey != nil && *txn.IdempotencyKey == *entry.IdempotencyKey {
				return nil, domain.ErrDuplicate
			}
		}
	}
	ledger := m.ensureLedgerLocked(entry.AccountID)
	if ledger.Balance+entry.Amount < 0 {
		return nil, domain.ErrInsufficientBalance
	}

	txn := *entry
	txn.ID = uuid.NewString()
	txn.CreatedAt = time.Now().UTC()
	m.transactions = append(m.transactions, txn)

	ledger.Balance += entry.Amount
	ledger.TotalEarned += entry.Earned()
	ledger.TotalUsed += entry.Used()
	ledger.UpdatedAt = txn.CreatedAt
	out := *ledger
	return &out, nil
}

func (m *memoryRepository) ListLedgerTransactions(_ context.Context, accountID string, limit int) ([]domain.LedgerTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.LedgerTransaction{}
	for i := len(m.transactions) - 1; i >= 0 && len(out) < limit; i-- {
		if m.transactions[i].AccountID == accountID {
			out = append(out, m.transactions[i])
		}
	}
	return out, nil
}

func (m *memoryRepository) FindLedgerTransactionByKey(_ context.Context, key string) (*domain.LedgerTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, txn := range m.transactions {
		if txn.IdempotencyKey != nil && *txn.IdempotencyKey == key {
			out := txn
			return &out, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memoryRepository) transactionsFor(accountID string) []domain.LedgerTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.LedgerTransaction
	for _, txn := range m.transactions {
		if txn.AccountID == accountID {
			out = append(out, txn)
		}
	}
	return out
}

func (m *memoryRepository) GetSubscriptionByAccountID(_ context.Context, accountID string) (*domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subscriptions[accountID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *sub
	return &out, nil
}

func (m *memoryRepository) UpsertSubscription(_ context.Context, sub *domain.Subscription) (*domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureLedgerLocked(sub.AccountID)
	now := time.Now().UTC()
	stored := *sub
	if existing, ok := m.subscriptions[sub.AccountID]; ok {
		stored.ID = existing.ID
		stored.CreatedAt = existing.CreatedAt
		if stored.PeriodStart == nil {
			stored.PeriodStart = existing.PeriodStart
		}
		if stored.PeriodEnd == nil {
			stored.PeriodEnd = existing.PeriodEnd
		}
	} else {
		stored.ID = uuid.NewString()
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	m.subscriptions[sub.AccountID] = &stored
	out := stored
	return &out, nil
}

func (m *memoryRepository) UpdateSubscriptionByRef(_ context.Context, ref string, p store.UpdateSubscriptionParams) (*domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range m.subscriptions {
		if sub.ExternalSubscriptionRef == nil || *sub.ExternalSubscriptionRef != ref {
			continue
		}
		if p.Status != nil {
			sub.Status = *p.Status
		}
		if p.Plan != nil {
			sub.Plan = *p.Plan
		}
		if p.CancelAtPeriodEnd != nil {
			sub.CancelAtPeriodEnd = *p.CancelAtPeriodEnd
		}
		if p.PeriodStart != nil {
			sub.PeriodStart = p.PeriodStart
		}
		if p.PeriodEnd != nil {
			sub.PeriodEnd = p.PeriodEnd
		}
		if p.PriceRef != nil {
			price := *p.PriceRef
			sub.ExternalPriceRef = &price
		}
		sub.UpdatedAt = time.Now().UTC()
		out := *sub
		return &out, nil
	}
	return nil, domain.ErrNotFound
}

func (m *memoryRepository) CreateJob(_ context.Context, job *domain.Job) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *job
	stored.ID = uuid.NewString()
	stored.CreatedAt = time.Now().UTC()
	stored.UpdatedAt = stored.CreatedAt
	m.jobs[stored.ID] = &stored
	out := stored
	return &out, nil
}

func (m *memoryRepository) FindJobByID(_ context.Context, jobID string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *job
	return &out, nil
}

func (m *memoryRepository) ListJobsByAccountID(_ context.Context, accountID string, limit int) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Job{}
	for _, job := range m.jobs {
		if job.AccountID == accountID {
			out = append(out, *job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryRepository) UpdateJobIfActive(_ context.Context, jobID string, u domain.JobUpdate) (*domain.Job, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, false, domain.ErrNotFound
	}
	if job.Status.Terminal() {
		out := *job
		return &out, false, nil
	}
	job.Status = u.Status
	if u.ArtifactURL != nil {
		job.ArtifactURL = u.ArtifactURL
	}
	if u.ThumbnailURL != nil {
		job.ThumbnailURL = u.ThumbnailURL
	}
	if u.Script != nil {
		job.Script = u.Script
	}
	if u.DurationSeconds != nil {
		job.DurationSeconds = u.DurationSeconds
	}
	if u.ErrorMessage != nil {
		job.ErrorMessage = u.ErrorMessage
	}
	if u.CompletedAt != nil {
		job.CompletedAt = u.CompletedAt
	}
	job.UpdatedAt = time.Now().UTC()
	out := *job
	return &out, true, nil
}

func (m *memoryRepository) FindStaleJobs(_ context.Context, olderThan time.Time, limit int) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Job
	for _, job := range m.jobs {
		if !job.Status.Terminal() && job.UpdatedAt.Before(olderThan) && len(out) < limit {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (m *memoryRepository) setJobUpdatedAt(jobID string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[jobID].UpdatedAt = at
}

func (m *memoryRepository) RecordBillingEvent(_ context.Context, rec *domain.BillingEventRecord) (*domain.BillingEventRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := rec.Source + "/" + rec.ProviderEventID
	if existing, ok := m.events[key]; ok {
		out := *existing
		return &out, true, nil
	}
	stored := *rec
	stored.ID = uuid.NewString()
	stored.CreatedAt = time.Now().UTC()
	m.events[key] = &stored
	m.eventsByID[stored.ID] = &stored
	out := stored
	return &out, false, nil
}

func (m *memoryRepository) MarkBillingEventProcessed(_ context.Context, id, outcome string, processingErr *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.eventsByID[id]
	if !ok {
		return domain.ErrNotFound
	}
	rec.Processed = processingErr == nil
	rec.Outcome = outcome
	rec.Error = processingErr
	return nil
}

func (m *memoryRepository) billingEvent(source, providerEventID string) *domain.BillingEventRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.events[source+"/"+providerEventID]
	if !ok {
		return nil
	}
	out := *rec
	return &out
}

type recordingPublisher struct {
	mu      sync.Mutex
	jobs    []domain.JobEvent
	notices []domain.BillingNotice
}

func (p *recordingPublisher) Publish(context.Context, string, interface{}) error { return nil }

func (p *recordingPublisher) PublishJobEvent(_ context.Context, event domain.JobEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, event)
	return nil
}

func (p *recordingPublisher) PublishBillingNotice(_ context.Context, notice domain.BillingNotice) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notices = append(p.notices, notice)
	return nil
}

func (p *recordingPublisher) Close() {}

type stubFetcher struct {
	subs        map[string]*stripeclient.Subscription
	err         error
	calls       int
	lineItems   map[string][]string
	lineItemErr error
}

func (f *stubFetcher) CheckoutPriceIDs(_ context.Context, sessionID string) ([]string, error) {
	if f.lineItemErr != nil {
		return nil, f.lineItemErr
	}
	return f.lineItems[sessionID], nil
}

func (f *stubFetcher) FetchSubscription(_ context.Context, id string) (*stripeclient.Subscription, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	sub, ok := f.subs[id]
	if !ok {
		return nil, domain.ErrUpstreamUnavailable
	}
	out := *sub
	return &out, nil
}

type stubRender struct {
	mu       sync.Mutex
	err      error
	requests []renderclient.TriggerRequest
}

func (r *stubRender) Trigger(_ context.Context, payload renderclient.TriggerRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, payload)
	return r.err
}

func (r *stubRender) calls() []renderclient.TriggerRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]renderclient.TriggerRequest(nil), r.requests...)
}

type stubCheckout struct {
	customersCreated int
	sessions         []stripeclient.CheckoutParams
}

func (c *stubCheckout) CreateCustomer(_ context.Context, accountID, _ string) (string, error) {
	c.customersCreated++
	return "cus_" + accountID, nil
}

func (c *stubCheckout) CreateCheckoutSession(_ context.Context, p stripeclient.CheckoutParams) (string, error) {
	c.sessions = append(c.sessions, p)
	return "https://checkout.stripe.test/session", nil
}

type stubLimiter struct {
	count      int
	retryAfter int
	err        error
}

func (l *stubLimiter) ConsumeRateLimit(context.Context, string, string, int, time.Duration) (int, int, error) {
	l.count++
	return l.count, l.retryAfter, l.err
}

var testPrices = PriceTable{Pro: "price_pro", Unlimited: "price_unlimited", PAYG: "price_payg"}

// testSystem wires every component over one memoryRepository.
type testSystem struct {
	repo       *memoryRepository
	publisher  *recordingPublisher
	fetcher    *stubFetcher
	render     *stubRender
	checkout   *stubCheckout
	plans      *PlanResolver
	ledger     *LedgerService
	registry   *SubscriptionRegistry
	credits    *CreditPolicy
	jobs       *JobTracker
	reconciler *Reconciler
	gateway    *Gateway
}

const (
	testWebhookSecret  = "whsec_test_secret"
	testCallbackSecret = "render-callback-secret"
)

func newTestSystem(debitPolicy string, limiter RateLimiter) *testSystem {
	logger := testLogger()
	s := &testSystem{
		repo:      newMemoryRepository(),
		publisher: &recordingPublisher{},
		fetcher:   &stubFetcher{subs: map[string]*stripeclient.Subscription{}},
		render:    &stubRender{},
		checkout:  &stubCheckout{},
		plans:     NewPlanResolver(testPrices, false),
	}
	s.ledger = NewLedgerService(s.repo, logger)
	s.registry = NewSubscriptionRegistry(s.repo, s.plans, logger)
	s.credits = NewCreditPolicy(debitPolicy, s.ledger, s.registry, logger)
	s.jobs = NewJobTracker(s.repo, testCallbackSecret, s.credits, s.publisher, logger)
	s.reconciler = NewReconciler(s.repo, s.ledger, s.registry, s.plans, s.fetcher, s.publisher,
		ReconcilerConfig{WebhookSecret: testWebhookSecret}, logger)
	s.gateway = NewGateway(s.repo, s.ledger, s.registry, s.jobs, s.credits, s.plans, s.render, s.checkout, limiter,
		GatewayConfig{RenderTimeout: time.Second, RateLimitPerMinute: 5, AppURL: "https://app.test"}, logger)
	return s
}
