/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It holds the connection contract, account provisioning and the credit ledger.
 * Subscriptions, generation jobs and the billing event log live in sibling files.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - github.com/jackc/pgerrcode: Named SQLSTATE codes for constraint handling.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ZrianRashid/ai-ugc-generator/internal/domain"
)

// DBTX is the subset of *pgxpool.Pool used by the repository.
type DBTX interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db DBTX
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

var _ Repository = (*PostgresRepository)(nil)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

func jsonParam(raw []byte) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}

// EnsureAccount creates the account and its zero-balance ledger if missing.
func (r *PostgresRepository) EnsureAccount(ctx context.Context, accountID, email string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin account tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var emailParam *string
	if email != "" {
		emailParam = &email
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO accounts (id, email) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET email = COALESCE(EXCLUDED.email, accounts.email)`,
		accountID, emailParam); err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO ledgers (account_id) VALUES ($1) ON CONFLICT (account_id) DO NOTHING`, accountID); err != nil {
		return fmt.Errorf("insert ledger: %w", err)
	}
	return tx.Commit(ctx)
}

const ledgerColumns = `account_id, balance, total_earned, total_used, updated_at`

func scanLedger(row rowScanner) (*domain.Ledger, error) {
	var l domain.Ledger
	if err := row.Scan(&l.AccountID, &l.Balance, &l.TotalEarned, &l.TotalUsed, &l.UpdatedAt); err != nil {
		return nil, err
	}
	return &l, nil
}

// GetLedger returns the balance projection for an account.
func (r *PostgresRepository) GetLedger(ctx context.Context, accountID string) (*domain.Ledger, error) {
	l, err := scanLedger(r.db.QueryRow(ctx, `SELECT `+ledgerColumns+` FROM ledgers WHERE account_id = $1`, accountID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return l, nil
}

// ApplyLedgerTransaction appends entry and moves the ledger by its amount.
// The balance guard lives in the UPDATE predicate, so concurrent debits on the
// same account serialize on the row lock and can never drive it negative.
func (r *PostgresRepository) ApplyLedgerTransaction(ctx context.Context, entry *domain.LedgerTransaction) (*domain.Ledger, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin ledger tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `INSERT INTO accounts (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, entry.AccountID); err != nil {
		return nil, fmt.Errorf("ensure account: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO ledgers (account_id) VALUES ($1) ON CONFLICT (account_id) DO NOTHING`, entry.AccountID); err != nil {
		return nil, fmt.Errorf("ensure ledger: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO ledger_transactions (id, account_id, amount, kind, description, related_job_id, metadata, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8)
		RETURNING created_at`,
		entry.ID, entry.AccountID, entry.Amount, string(entry.Kind), entry.Description,
		entry.RelatedJobID, jsonParam(entry.Metadata), entry.IdempotencyKey,
	).Scan(&entry.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrDuplicate
		}
		return nil, fmt.Errorf("insert ledger transaction: %w", err)
	}

	ledger, err := scanLedger(tx.QueryRow(ctx, `
		UPDATE ledgers
		SET balance = balance + $2,
		    total_earned = total_earned + $3,
		    total_used = total_used + $4,
		    updated_at = NOW()
		WHERE account_id = $1 AND balance + $2 >= 0
		RETURNING `+ledgerColumns,
		entry.AccountID, entry.Amount, entry.Earned(), entry.Used()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrInsufficientBalance
		}
		return nil, fmt.Errorf("update ledger: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit ledger tx: %w", err)
	}
	return ledger, nil
}

const ledgerTransactionColumns = `id, account_id, amount, kind, description, related_job_id, metadata, idempotency_key, created_at`

func scanLedgerTransaction(row rowScanner) (*domain.LedgerTransaction, error) {
	var (
		entry    domain.LedgerTransaction
		kind     string
		metadata []byte
	)
	if err := row.Scan(&entry.ID, &entry.AccountID, &entry.Amount, &kind, &entry.Description,
		&entry.RelatedJobID, &metadata, &entry.IdempotencyKey, &entry.CreatedAt); err != nil {
		return nil, err
	}
	entry.Kind = domain.TransactionKind(kind)
	entry.Metadata = metadata
	return &entry, nil
}

// ListLedgerTransactions returns the newest transactions first.
func (r *PostgresRepository) ListLedgerTransactions(ctx context.Context, accountID string, limit int) ([]domain.LedgerTransaction, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+ledgerTransactionColumns+`
		FROM ledger_transactions
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.LedgerTransaction, 0)
	for rows.Next() {
		entry, err := scanLedgerTransaction(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// FindLedgerTransactionByKey looks up the transaction written under an idempotency key.
func (r *PostgresRepository) FindLedgerTransactionByKey(ctx context.Context, idempotencyKey string) (*domain.LedgerTransaction, error) {
	entry, err := scanLedgerTransaction(r.db.QueryRow(ctx,
		`SELECT `+ledgerTransactionColumns+` FROM ledger_transactions WHERE idempotency_key = $1`, idempotencyKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return entry, nil
}
