package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/intervia/backend/internal/models"
)

type AccountRepo struct {
	pool *pgxpool.Pool
}

func NewAccountRepo(pool *pgxpool.Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

// GetByID returns the account projection, or nil if the account has never
// had a credit-relevant event (callers report zero balances).
func (r *AccountRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var a models.Account
	err := r.pool.QueryRow(ctx, `
		SELECT account_id, available_balance, escrow_balance, created_at, updated_at
		FROM accounts WHERE account_id = $1
	`, id).Scan(&a.AccountID, &a.AvailableBalance, &a.EscrowBalance, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// EnsureForUpdate creates the account row lazily if missing, then locks it
// for the remainder of the transaction. All engine operations start here,
// so writes to one account serialize on this row lock.
func (r *AccountRepo) EnsureForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Account, error) {
	if _, err := tx.Exec(ctx, `
		INSERT INTO accounts (account_id) VALUES ($1)
		ON CONFLICT (account_id) DO NOTHING
	`, id); err != nil {
		return nil, mapPgError(err)
	}
	var a models.Account
	err := tx.QueryRow(ctx, `
		SELECT account_id, available_balance, escrow_balance, created_at, updated_at
		FROM accounts WHERE account_id = $1 FOR UPDATE
	`, id).Scan(&a.AccountID, &a.AvailableBalance, &a.EscrowBalance, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, mapPgError(err)
	}
	return &a, nil
}

// Get re-reads the row inside the transaction (post-update snapshot for the
// invariant check). The row is already locked by EnsureForUpdate.
func (r *AccountRepo) Get(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Account, error) {
	var a models.Account
	err := tx.QueryRow(ctx, `
		SELECT account_id, available_balance, escrow_balance, created_at, updated_at
		FROM accounts WHERE account_id = $1
	`, id).Scan(&a.AccountID, &a.AvailableBalance, &a.EscrowBalance, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ApplyGrant adds amount to the available balance.
func (r *AccountRepo) ApplyGrant(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int64) error {
	return r.exec(ctx, tx, `
		UPDATE accounts SET available_balance = available_balance + $1, updated_at = now()
		WHERE account_id = $2
	`, amount, id)
}

// ApplyHold moves amount from available to escrow, guarded so available can
// never go negative. ErrConditionFailed means insufficient funds.
func (r *AccountRepo) ApplyHold(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int64) error {
	return r.exec(ctx, tx, `
		UPDATE accounts
		SET available_balance = available_balance - $1, escrow_balance = escrow_balance + $1, updated_at = now()
		WHERE account_id = $2 AND available_balance >= $1
	`, amount, id)
}

// ApplyRelease removes amount from escrow (the counterparty is credited in
// the earnings projection).
func (r *AccountRepo) ApplyRelease(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int64) error {
	return r.exec(ctx, tx, `
		UPDATE accounts SET escrow_balance = escrow_balance - $1, updated_at = now()
		WHERE account_id = $2 AND escrow_balance >= $1
	`, amount, id)
}

// ApplyRefund returns amount from escrow to the available balance.
func (r *AccountRepo) ApplyRefund(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int64) error {
	return r.exec(ctx, tx, `
		UPDATE accounts
		SET escrow_balance = escrow_balance - $1, available_balance = available_balance + $1, updated_at = now()
		WHERE account_id = $2 AND escrow_balance >= $1
	`, amount, id)
}

// ApplyDebit removes amount from the available balance (grant reversals).
func (r *AccountRepo) ApplyDebit(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int64) error {
	return r.exec(ctx, tx, `
		UPDATE accounts SET available_balance = available_balance - $1, updated_at = now()
		WHERE account_id = $2 AND available_balance >= $1
	`, amount, id)
}

func (r *AccountRepo) exec(ctx context.Context, tx pgx.Tx, sql string, amount int64, id uuid.UUID) error {
	tag, err := tx.Exec(ctx, sql, amount, id)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConditionFailed
	}
	return nil
}
