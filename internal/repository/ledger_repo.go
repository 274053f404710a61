package repository

import (
	"context"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/intervia/backend/internal/models"
)

// LedgerRepo is the durable append-only ledger store. Entries are written
// only through AppendTx, always together with their idempotency record.
type LedgerRepo struct {
	pool *pgxpool.Pool
}

func NewLedgerRepo(pool *pgxpool.Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

// AppendTx writes the idempotency record and all entries atomically inside
// the caller's transaction. Returns ErrAlreadyProcessed if the key exists
// and ErrConflict on serialization failures.
func (r *LedgerRepo) AppendTx(ctx context.Context, tx pgx.Tx, entries []*models.LedgerEntry, key models.IdempotencyKey) error {
	tag, err := tx.Exec(ctx, `
		INSERT INTO processed_events (event_type, reference_id)
		VALUES ($1, $2)
		ON CONFLICT (event_type, reference_id) DO NOTHING
	`, key.EventType, key.ReferenceID)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyProcessed
	}
	for _, e := range entries {
		err := tx.QueryRow(ctx, `
			INSERT INTO ledger_entries (entry_id, account_id, counterparty_account_id, amount, kind, reference_id, note)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING created_at
		`, e.EntryID, e.AccountID, e.CounterpartyAccountID, e.Amount, e.Kind, e.ReferenceID, e.Note).Scan(&e.CreatedAt)
		if err != nil {
			return mapPgError(err)
		}
	}
	return nil
}

const entryColumns = `entry_id, account_id, counterparty_account_id, amount, kind, reference_id, note, created_at`

func scanEntry(row pgx.Row) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	err := row.Scan(&e.EntryID, &e.AccountID, &e.CounterpartyAccountID, &e.Amount, &e.Kind, &e.ReferenceID, &e.Note, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

// FindByKindAndReference returns the entry for (kind, reference_id), or nil
// if none exists. Used as the dedupe probe inside engine transactions.
func (r *LedgerRepo) FindByKindAndReference(ctx context.Context, tx pgx.Tx, kind, referenceID string) (*models.LedgerEntry, error) {
	return scanEntry(tx.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries WHERE kind = $1 AND reference_id = $2
	`, kind, referenceID))
}

// FindTerminalByReference returns the release or refund entry recorded for
// reference_id, or nil. At most one can exist (terminal exclusivity).
func (r *LedgerRepo) FindTerminalByReference(ctx context.Context, tx pgx.Tx, referenceID string) (*models.LedgerEntry, error) {
	return scanEntry(tx.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries WHERE reference_id = $1 AND kind IN ('release', 'refund')
	`, referenceID))
}

// FindByID returns the entry with the given id, or nil.
func (r *LedgerRepo) FindByID(ctx context.Context, tx pgx.Tx, entryID uuid.UUID) (*models.LedgerEntry, error) {
	return scanEntry(tx.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries WHERE entry_id = $1
	`, entryID))
}

// SumsForAccount returns the per-kind signed amount sums for one account,
// used to verify the balance projection before commit.
func (r *LedgerRepo) SumsForAccount(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (models.KindSums, error) {
	rows, err := tx.Query(ctx, `
		SELECT kind, COALESCE(SUM(amount), 0)
		FROM ledger_entries WHERE account_id = $1 GROUP BY kind
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	sums := models.KindSums{}
	for rows.Next() {
		var kind string
		var sum int64
		if err := rows.Scan(&kind, &sum); err != nil {
			return nil, err
		}
		sums[kind] = sum
	}
	return sums, rows.Err()
}

// SumReleasedTo returns the total credits released to accountID as the
// counterparty of release entries. Must equal the earnings projection's
// total_earned.
func (r *LedgerRepo) SumReleasedTo(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (int64, error) {
	var total int64
	err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(-amount), 0)
		FROM ledger_entries WHERE counterparty_account_id = $1 AND kind = 'release'
	`, accountID).Scan(&total)
	return total, err
}

// ListByAccount returns entries for the account ordered by created_at
// descending, keyset-paginated. Entries where the account is the release
// counterparty are included so earners see their payouts.
func (r *LedgerRepo) ListByAccount(ctx context.Context, accountID uuid.UUID, cursor string, limit int32) ([]*models.LedgerEntry, string, error) {
	q := `
		SELECT ` + entryColumns + `
		FROM ledger_entries
		WHERE (account_id = $1 OR counterparty_account_id = $1)`
	args := []any{accountID}
	if cursor != "" {
		ts, id, err := decodeCursor(cursor)
		if err != nil {
			return nil, "", err
		}
		q += ` AND (created_at, entry_id) < ($2, $3)`
		args = append(args, ts, id)
	}
	q += ` ORDER BY created_at DESC, entry_id DESC LIMIT $` + strconv.Itoa(len(args)+1)
	args = append(args, limit)

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	var list []*models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.EntryID, &e.AccountID, &e.CounterpartyAccountID, &e.Amount, &e.Kind, &e.ReferenceID, &e.Note, &e.CreatedAt); err != nil {
			return nil, "", err
		}
		list = append(list, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	next := ""
	if int32(len(list)) == limit && len(list) > 0 {
		last := list[len(list)-1]
		next = encodeCursor(last.CreatedAt, last.EntryID)
	}
	return list, next, nil
}
