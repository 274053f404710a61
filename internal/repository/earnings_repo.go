package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/intervia/backend/internal/models"
)

type EarningsRepo struct {
	pool *pgxpool.Pool
}

func NewEarningsRepo(pool *pgxpool.Pool) *EarningsRepo {
	return &EarningsRepo{pool: pool}
}

// GetByID returns the earnings projection, or nil if the account has never
// been credited.
func (r *EarningsRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.EarningsAccount, error) {
	var e models.EarningsAccount
	err := r.pool.QueryRow(ctx, `
		SELECT account_id, total_earned, pending_credits, created_at, updated_at
		FROM earnings_accounts WHERE account_id = $1
	`, id).Scan(&e.AccountID, &e.TotalEarned, &e.PendingCredits, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

// EnsureForUpdate creates the earnings row lazily if missing and locks it.
// Engine release operations lock the spender's account row first, then this
// one, in that fixed order.
func (r *EarningsRepo) EnsureForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.EarningsAccount, error) {
	if _, err := tx.Exec(ctx, `
		INSERT INTO earnings_accounts (account_id) VALUES ($1)
		ON CONFLICT (account_id) DO NOTHING
	`, id); err != nil {
		return nil, mapPgError(err)
	}
	var e models.EarningsAccount
	err := tx.QueryRow(ctx, `
		SELECT account_id, total_earned, pending_credits, created_at, updated_at
		FROM earnings_accounts WHERE account_id = $1 FOR UPDATE
	`, id).Scan(&e.AccountID, &e.TotalEarned, &e.PendingCredits, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, mapPgError(err)
	}
	return &e, nil
}

// Get re-reads the row inside the transaction.
func (r *EarningsRepo) Get(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.EarningsAccount, error) {
	var e models.EarningsAccount
	err := tx.QueryRow(ctx, `
		SELECT account_id, total_earned, pending_credits, created_at, updated_at
		FROM earnings_accounts WHERE account_id = $1
	`, id).Scan(&e.AccountID, &e.TotalEarned, &e.PendingCredits, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Credit adds amount to both total_earned and pending_credits.
func (r *EarningsRepo) Credit(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int64) error {
	tag, err := tx.Exec(ctx, `
		UPDATE earnings_accounts
		SET total_earned = total_earned + $1, pending_credits = pending_credits + $1, updated_at = now()
		WHERE account_id = $2
	`, amount, id)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConditionFailed
	}
	return nil
}
