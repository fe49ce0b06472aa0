/**
 * @description
 * LedgerService owns every credit movement. Balance arithmetic happens in a
 * single SQL statement inside the repository; this layer validates the sign
 * rules per transaction kind and records metrics.
 */
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ZrianRashid/ai-ugc-generator/internal/domain"
	"github.com/ZrianRashid/ai-ugc-generator/internal/metrics"
	"github.com/ZrianRashid/ai-ugc-generator/internal/store"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// TransactionOptions carries the optional fields of a ledger transaction.
type TransactionOptions struct {
	RelatedJobID   string
	Metadata       map[string]any
	IdempotencyKey string
}

// LedgerService applies and reads credit movements.
type LedgerService struct {
	repo   store.LedgerRepository
	logger *slog.Logger
}

// NewLedgerService creates a ledger service.
func NewLedgerService(repo store.LedgerRepository, logger *slog.Logger) *LedgerService {
	return &LedgerService{repo: repo, logger: logger}
}

// GetBalance returns the ledger or domain.ErrNotFound.
func (s *LedgerService) GetBalance(ctx context.Context, accountID string) (*domain.Ledger, error) {
	if strings.TrimSpace(accountID) == "" {
		return nil, fmt.Errorf("%w: account id is required", domain.ErrValidation)
	}
	return s.repo.GetLedger(ctx, accountID)
}

// BalanceOrZero treats a missing ledger as an empty one.
func (s *LedgerService) BalanceOrZero(ctx context.Context, accountID string) (*domain.Ledger, error) {
	ledger, err := s.GetBalance(ctx, accountID)
	if errors.Is(err, domain.ErrNotFound) {
		return &domain.Ledger{AccountID: accountID}, nil
	}
	return ledger, err
}

// ApplyTransaction appends a signed credit movement. Usage must be negative and
// every other kind positive. A repeated idempotency key yields domain.ErrDuplicate.
func (s *LedgerService) ApplyTransaction(ctx context.Context, accountID string, amount int64, kind domain.TransactionKind, description string, opts TransactionOptions) (*domain.Ledger, error) {
	if strings.TrimSpace(accountID) == "" {
		return nil, fmt.Errorf("%w: account id is required", domain.ErrValidation)
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown transaction kind %q", domain.ErrValidation, kind)
	}
	if kind == domain.KindUsage && amount >= 0 {
		return nil, fmt.Errorf("%w: usage amount must be negative", domain.ErrValidation)
	}
	if kind != domain.KindUsage && amount <= 0 {
		return nil, fmt.Errorf("%w: %s amount must be positive", domain.ErrValidation, kind)
	}

	entry := &domain.LedgerTransaction{
		AccountID:   accountID,
		Amount:      amount,
		Kind:        kind,
		Description: description,
	}
	if opts.RelatedJobID != "" {
		jobID := opts.RelatedJobID
		entry.RelatedJobID = &jobID
	}
	if opts.IdempotencyKey != "" {
		key := opts.IdempotencyKey
		entry.IdempotencyKey = &key
	}
	if len(opts.Metadata) > 0 {
		raw, err := json.Marshal(opts.Metadata)
		if err != nil {
			return nil, fmt.Errorf("%w: metadata: %v", domain.ErrValidation, err)
		}
		entry.Metadata = raw
	}

	ledger, err := s.repo.ApplyLedgerTransaction(ctx, entry)
	switch {
	case err == nil:
		metrics.RecordLedgerTransaction(string(kind), "applied")
		s.logger.Info("ledger transaction applied", "account_id", accountID, "kind", kind, "amount", amount, "balance", ledger.Balance)
		return ledger, nil
	case errors.Is(err, domain.ErrDuplicate):
		metrics.RecordLedgerTransaction(string(kind), "duplicate")
		s.logger.Info("ledger transaction already applied", "account_id", accountID, "idempotency_key", opts.IdempotencyKey)
		return nil, err
	case errors.Is(err, domain.ErrInsufficientBalance):
		metrics.RecordLedgerTransaction(string(kind), "insufficient_balance")
		return nil, err
	default:
		metrics.RecordLedgerTransaction(string(kind), "error")
		return nil, fmt.Errorf("apply ledger transaction: %w", err)
	}
}

// ListTransactions returns recent transactions, newest first.
func (s *LedgerService) ListTransactions(ctx context.Context, accountID string, limit int) ([]domain.LedgerTransaction, error) {
	return s.repo.ListLedgerTransactions(ctx, accountID, clampLimit(limit))
}

// HasTransaction reports whether a transaction was written under key.
func (s *LedgerService) HasTransaction(ctx context.Context, key string) (bool, error) {
	_, err := s.repo.FindLedgerTransactionByKey(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}
