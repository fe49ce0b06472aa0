/**
 * @description
 * Credit ledger models. A Ledger is the cached projection of an account's
 * append-only LedgerTransaction history.
 */
package domain

import (
	"encoding/json"
	"time"
)

// TransactionKind classifies a ledger movement.
type TransactionKind string

const (
	KindPurchase     TransactionKind = "purchase"
	KindUsage        TransactionKind = "usage"
	KindBonus        TransactionKind = "bonus"
	KindRefund       TransactionKind = "refund"
	KindSubscription TransactionKind = "subscription"
)

// Valid reports whether k is one of the known kinds.
func (k TransactionKind) Valid() bool {
	switch k {
	case KindPurchase, KindUsage, KindBonus, KindRefund, KindSubscription:
		return true
	}
	return false
}

// Ledger is the per-account credit balance.
type Ledger struct {
	AccountID   string    `json:"account_id"`
	Balance     int64     `json:"balance"`
	TotalEarned int64     `json:"total_earned"`
	TotalUsed   int64     `json:"total_used"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// LedgerTransaction is an immutable credit movement.
type LedgerTransaction struct {
	ID             string          `json:"id"`
	AccountID      string          `json:"account_id"`
	Amount         int64           `json:"amount"`
	Kind           TransactionKind `json:"type"`
	Description    string          `json:"description"`
	RelatedJobID   *string         `json:"video_id,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	IdempotencyKey *string         `json:"-"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Earned is the part of the amount counted toward total_earned.
func (t LedgerTransaction) Earned() int64 {
	if t.Amount > 0 {
		return t.Amount
	}
	return 0
}

// Used is the part of the amount counted toward total_used.
func (t LedgerTransaction) Used() int64 {
	if t.Amount < 0 {
		return -t.Amount
	}
	return 0
}
