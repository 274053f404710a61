package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/intervia/backend/internal/models"
	"github.com/intervia/backend/internal/repository"
)

// TxBeginner starts a transaction. *pgxpool.Pool satisfies it.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// EscrowAccountStore is the minimal account projection interface for the
// engine.
type EscrowAccountStore interface {
	EnsureForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Account, error)
	Get(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Account, error)
	ApplyGrant(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int64) error
	ApplyHold(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int64) error
	ApplyRelease(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int64) error
	ApplyRefund(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int64) error
	ApplyDebit(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int64) error
}

// EscrowEarningsStore is the minimal earnings projection interface for the
// engine.
type EscrowEarningsStore interface {
	EnsureForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.EarningsAccount, error)
	Get(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.EarningsAccount, error)
	Credit(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int64) error
}

// EscrowLedgerStore is the minimal ledger interface for the engine.
type EscrowLedgerStore interface {
	AppendTx(ctx context.Context, tx pgx.Tx, entries []*models.LedgerEntry, key models.IdempotencyKey) error
	FindByKindAndReference(ctx context.Context, tx pgx.Tx, kind, referenceID string) (*models.LedgerEntry, error)
	FindTerminalByReference(ctx context.Context, tx pgx.Tx, referenceID string) (*models.LedgerEntry, error)
	FindByID(ctx context.Context, tx pgx.Tx, entryID uuid.UUID) (*models.LedgerEntry, error)
	SumsForAccount(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (models.KindSums, error)
	SumReleasedTo(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (int64, error)
}

// EscrowEngine performs the four credit transitions. Each operation is one
// transaction spanning the row locks, the conditional projection update,
// the ledger append with its idempotency record, and an invariant check.
// Lock order is fixed: accounts row first, then the earnings row.
type EscrowEngine struct {
	db       TxBeginner
	accounts EscrowAccountStore
	earnings EscrowEarningsStore
	ledger   EscrowLedgerStore
	log      *slog.Logger
}

func NewEscrowEngine(db TxBeginner, accounts EscrowAccountStore, earnings EscrowEarningsStore, ledger EscrowLedgerStore, log *slog.Logger) *EscrowEngine {
	if log == nil {
		log = slog.Default()
	}
	return &EscrowEngine{db: db, accounts: accounts, earnings: earnings, ledger: ledger, log: log}
}

func validateArgs(amount int64, referenceID string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if referenceID == "" {
		return ErrEmptyReference
	}
	return nil
}

// Grant increases the available balance. One grant per reference_id; a
// duplicate returns the original entry with ErrAlreadyGranted.
func (e *EscrowEngine) Grant(ctx context.Context, accountID uuid.UUID, amount int64, referenceID string) (*models.LedgerEntry, error) {
	if err := validateArgs(amount, referenceID); err != nil {
		return nil, err
	}
	tx, err := e.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := e.accounts.EnsureForUpdate(ctx, tx, accountID); err != nil {
		return nil, err
	}
	existing, err := e.ledger.FindByKindAndReference(ctx, tx, models.KindGrant, referenceID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, ErrAlreadyGranted
	}
	if err := e.accounts.ApplyGrant(ctx, tx, accountID, amount); err != nil {
		return nil, err
	}
	entry := &models.LedgerEntry{
		EntryID:     uuid.New(),
		AccountID:   accountID,
		Amount:      amount,
		Kind:        models.KindGrant,
		ReferenceID: referenceID,
	}
	if err := e.append(ctx, tx, entry, ErrAlreadyGranted); err != nil {
		return nil, err
	}
	if err := e.verifyAccount(ctx, tx, accountID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	e.log.Info("credits granted", "account_id", accountID, "amount", amount, "reference_id", referenceID)
	return entry, nil
}

// Hold moves amount from available to escrow. Fails atomically with
// ErrInsufficientFunds; a redelivered hold returns ErrAlreadyHeld.
func (e *EscrowEngine) Hold(ctx context.Context, accountID uuid.UUID, amount int64, referenceID string) (*models.LedgerEntry, error) {
	if err := validateArgs(amount, referenceID); err != nil {
		return nil, err
	}
	tx, err := e.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	acc, err := e.accounts.EnsureForUpdate(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}
	existing, err := e.ledger.FindByKindAndReference(ctx, tx, models.KindHold, referenceID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, ErrAlreadyHeld
	}
	if acc.AvailableBalance < amount {
		return nil, ErrInsufficientFunds
	}
	if err := e.accounts.ApplyHold(ctx, tx, accountID, amount); err != nil {
		if errors.Is(err, repository.ErrConditionFailed) {
			return nil, ErrInsufficientFunds
		}
		return nil, err
	}
	entry := &models.LedgerEntry{
		EntryID:     uuid.New(),
		AccountID:   accountID,
		Amount:      -amount,
		Kind:        models.KindHold,
		ReferenceID: referenceID,
	}
	if err := e.append(ctx, tx, entry, ErrAlreadyHeld); err != nil {
		return nil, err
	}
	if err := e.verifyAccount(ctx, tx, accountID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	e.log.Info("credits held", "account_id", accountID, "amount", amount, "reference_id", referenceID)
	return entry, nil
}

// Release clears the hold from the spender's escrow and credits the
// counterparty's earnings. The first durably recorded terminal outcome for
// a reference wins; later attempts are no-ops.
func (e *EscrowEngine) Release(ctx context.Context, accountID, counterpartyID uuid.UUID, amount int64, referenceID string) (*models.LedgerEntry, error) {
	if err := validateArgs(amount, referenceID); err != nil {
		return nil, err
	}
	tx, err := e.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := e.accounts.EnsureForUpdate(ctx, tx, accountID); err != nil {
		return nil, err
	}
	if _, err := e.earnings.EnsureForUpdate(ctx, tx, counterpartyID); err != nil {
		return nil, err
	}
	hold, terminal, err := e.resolveReference(ctx, tx, referenceID)
	if err != nil {
		return nil, err
	}
	if terminal != nil {
		if terminal.Kind == models.KindRelease {
			return terminal, ErrAlreadyReleased
		}
		return terminal, ErrAlreadyRefunded
	}
	if hold == nil {
		return nil, ErrNoActiveHold
	}
	if hold.AccountID != accountID || -hold.Amount != amount {
		return nil, ErrReferenceMismatch
	}
	if err := e.accounts.ApplyRelease(ctx, tx, accountID, amount); err != nil {
		if errors.Is(err, repository.ErrConditionFailed) {
			return nil, fmt.Errorf("escrow balance below hold amount for account %s: %w", accountID, err)
		}
		return nil, err
	}
	if err := e.earnings.Credit(ctx, tx, counterpartyID, amount); err != nil {
		return nil, err
	}
	entry := &models.LedgerEntry{
		EntryID:               uuid.New(),
		AccountID:             accountID,
		CounterpartyAccountID: &counterpartyID,
		Amount:                -amount,
		Kind:                  models.KindRelease,
		ReferenceID:           referenceID,
	}
	if err := e.append(ctx, tx, entry, ErrAlreadyReleased); err != nil {
		return nil, err
	}
	if err := e.verifyAccount(ctx, tx, accountID); err != nil {
		return nil, err
	}
	if err := e.verifyEarnings(ctx, tx, counterpartyID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	e.log.Info("credits released", "account_id", accountID, "counterparty_account_id", counterpartyID, "amount", amount, "reference_id", referenceID)
	return entry, nil
}

// Refund returns the held amount from escrow to the available balance.
// Refund after release is ErrAlreadyResolved: exclusivity is enforced, not
// adjudicated.
func (e *EscrowEngine) Refund(ctx context.Context, accountID uuid.UUID, amount int64, referenceID string) (*models.LedgerEntry, error) {
	if err := validateArgs(amount, referenceID); err != nil {
		return nil, err
	}
	tx, err := e.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := e.accounts.EnsureForUpdate(ctx, tx, accountID); err != nil {
		return nil, err
	}
	hold, terminal, err := e.resolveReference(ctx, tx, referenceID)
	if err != nil {
		return nil, err
	}
	if terminal != nil {
		if terminal.Kind == models.KindRefund {
			return terminal, ErrAlreadyRefunded
		}
		e.log.Warn("refund after release ignored", "reference_id", referenceID, "account_id", accountID)
		return terminal, ErrAlreadyResolved
	}
	if hold == nil {
		return nil, ErrNoActiveHold
	}
	if hold.AccountID != accountID || -hold.Amount != amount {
		return nil, ErrReferenceMismatch
	}
	if err := e.accounts.ApplyRefund(ctx, tx, accountID, amount); err != nil {
		if errors.Is(err, repository.ErrConditionFailed) {
			return nil, fmt.Errorf("escrow balance below hold amount for account %s: %w", accountID, err)
		}
		return nil, err
	}
	entry := &models.LedgerEntry{
		EntryID:     uuid.New(),
		AccountID:   accountID,
		Amount:      amount,
		Kind:        models.KindRefund,
		ReferenceID: referenceID,
	}
	if err := e.append(ctx, tx, entry, ErrAlreadyRefunded); err != nil {
		return nil, err
	}
	if err := e.verifyAccount(ctx, tx, accountID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	e.log.Info("credits refunded", "account_id", accountID, "amount", amount, "reference_id", referenceID)
	return entry, nil
}

// Reverse appends a reversal entry negating an erroneous grant. Grants are
// the only reversible kind: every other kind participates in a hold's
// terminal exclusivity and is corrected by the opposing transition instead.
func (e *EscrowEngine) Reverse(ctx context.Context, entryID uuid.UUID, note string) (*models.LedgerEntry, error) {
	tx, err := e.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	original, err := e.ledger.FindByID(ctx, tx, entryID)
	if err != nil {
		return nil, err
	}
	if original == nil {
		return nil, fmt.Errorf("ledger entry %s not found", entryID)
	}
	if original.Kind != models.KindGrant {
		return nil, ErrNotReversible
	}
	if _, err := e.accounts.EnsureForUpdate(ctx, tx, original.AccountID); err != nil {
		return nil, err
	}
	existing, err := e.ledger.FindByKindAndReference(ctx, tx, models.KindReversal, original.ReferenceID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, ErrAlreadyReversed
	}
	if err := e.accounts.ApplyDebit(ctx, tx, original.AccountID, original.Amount); err != nil {
		if errors.Is(err, repository.ErrConditionFailed) {
			return nil, ErrInsufficientFunds
		}
		return nil, err
	}
	entry := &models.LedgerEntry{
		EntryID:     uuid.New(),
		AccountID:   original.AccountID,
		Amount:      -original.Amount,
		Kind:        models.KindReversal,
		ReferenceID: original.ReferenceID,
		Note:        note,
	}
	if err := e.append(ctx, tx, entry, ErrAlreadyReversed); err != nil {
		return nil, err
	}
	if err := e.verifyAccount(ctx, tx, original.AccountID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	e.log.Info("ledger entry reversed", "entry_id", entryID, "account_id", original.AccountID, "note", note)
	return entry, nil
}

// resolveReference probes the hold and terminal entries for a reference
// inside the current transaction.
func (e *EscrowEngine) resolveReference(ctx context.Context, tx pgx.Tx, referenceID string) (hold, terminal *models.LedgerEntry, err error) {
	hold, err = e.ledger.FindByKindAndReference(ctx, tx, models.KindHold, referenceID)
	if err != nil {
		return nil, nil, err
	}
	terminal, err = e.ledger.FindTerminalByReference(ctx, tx, referenceID)
	if err != nil {
		return nil, nil, err
	}
	return hold, terminal, nil
}

// append writes the entry plus its idempotency record, translating a lost
// race into the operation's duplicate sentinel.
func (e *EscrowEngine) append(ctx context.Context, tx pgx.Tx, entry *models.LedgerEntry, dup error) error {
	key := models.IdempotencyKey{EventType: entry.Kind, ReferenceID: entry.ReferenceID}
	err := e.ledger.AppendTx(ctx, tx, []*models.LedgerEntry{entry}, key)
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyProcessed) {
			return dup
		}
		return err
	}
	return nil
}

// verifyAccount checks that the materialized balances equal the fold of the
// account's ledger entries. A mismatch aborts the transaction.
func (e *EscrowEngine) verifyAccount(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) error {
	sums, err := e.ledger.SumsForAccount(ctx, tx, accountID)
	if err != nil {
		return err
	}
	wantAvailable, wantEscrow := models.FoldBalances(sums)
	acc, err := e.accounts.Get(ctx, tx, accountID)
	if err != nil {
		return err
	}
	if acc.AvailableBalance != wantAvailable || acc.EscrowBalance != wantEscrow {
		return fmt.Errorf("ledger invariant violation for account %s: projection (%d, %d) != fold (%d, %d)",
			accountID, acc.AvailableBalance, acc.EscrowBalance, wantAvailable, wantEscrow)
	}
	return nil
}

// verifyEarnings checks total_earned against the sum of release entries
// naming the account as counterparty.
func (e *EscrowEngine) verifyEarnings(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) error {
	want, err := e.ledger.SumReleasedTo(ctx, tx, accountID)
	if err != nil {
		return err
	}
	ea, err := e.earnings.Get(ctx, tx, accountID)
	if err != nil {
		return err
	}
	if ea.TotalEarned != want {
		return fmt.Errorf("earnings invariant violation for account %s: total_earned %d != released sum %d",
			accountID, ea.TotalEarned, want)
	}
	return nil
}
