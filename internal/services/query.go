package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/intervia/backend/internal/models"
)

// QueryAccountStore reads the spending-party projection.
type QueryAccountStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
}

// QueryEarningsStore reads the earning-party projection.
type QueryEarningsStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.EarningsAccount, error)
}

// QueryLedgerStore reads paginated transaction history.
type QueryLedgerStore interface {
	ListByAccount(ctx context.Context, accountID uuid.UUID, cursor string, limit int32) ([]*models.LedgerEntry, string, error)
}

type BalanceSummary struct {
	AvailableBalance int64 `json:"available_balance"`
	EscrowBalance    int64 `json:"escrow_balance"`
	TotalBalance     int64 `json:"total_balance"`
}

type EarningsSummary struct {
	TotalEarned    int64 `json:"total_earned"`
	PendingCredits int64 `json:"pending_credits"`
}

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// QueryService is the read-only façade over the projections and the
// ledger. It has no write authority. Balance and earnings reads go through
// an optional short-TTL Redis cache: every answer is advisory anyway, since
// it may be stale by the time a hold runs.
type QueryService struct {
	accounts QueryAccountStore
	earnings QueryEarningsStore
	ledger   QueryLedgerStore
	cache    *redis.Client
	cacheTTL time.Duration
	log      *slog.Logger
}

func NewQueryService(accounts QueryAccountStore, earnings QueryEarningsStore, ledger QueryLedgerStore, cache *redis.Client, log *slog.Logger) *QueryService {
	if log == nil {
		log = slog.Default()
	}
	return &QueryService{
		accounts: accounts,
		earnings: earnings,
		ledger:   ledger,
		cache:    cache,
		cacheTTL: 5 * time.Second,
		log:      log,
	}
}

// Balance returns the current balance summary. Accounts with no activity
// report zeros rather than an error.
func (q *QueryService) Balance(ctx context.Context, accountID uuid.UUID) (*BalanceSummary, error) {
	key := "balance:" + accountID.String()
	var cached BalanceSummary
	if q.cacheGet(ctx, key, &cached) {
		return &cached, nil
	}
	acc, err := q.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	summary := &BalanceSummary{}
	if acc != nil {
		summary.AvailableBalance = acc.AvailableBalance
		summary.EscrowBalance = acc.EscrowBalance
		summary.TotalBalance = acc.AvailableBalance + acc.EscrowBalance
	}
	q.cacheSet(ctx, key, summary)
	return summary, nil
}

// Earnings returns the earnings summary, zeros for unknown accounts.
func (q *QueryService) Earnings(ctx context.Context, accountID uuid.UUID) (*EarningsSummary, error) {
	key := "earnings:" + accountID.String()
	var cached EarningsSummary
	if q.cacheGet(ctx, key, &cached) {
		return &cached, nil
	}
	ea, err := q.earnings.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	summary := &EarningsSummary{}
	if ea != nil {
		summary.TotalEarned = ea.TotalEarned
		summary.PendingCredits = ea.PendingCredits
	}
	q.cacheSet(ctx, key, summary)
	return summary, nil
}

// Transactions returns ledger entries for the account, newest first.
func (q *QueryService) Transactions(ctx context.Context, accountID uuid.UUID, cursor string, limit int32) ([]*models.LedgerEntry, string, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return q.ledger.ListByAccount(ctx, accountID, cursor, limit)
}

// CanAfford reports whether the available balance covers amount. Advisory:
// the authoritative check happens inside Hold.
func (q *QueryService) CanAfford(ctx context.Context, accountID uuid.UUID, amount int64) (bool, error) {
	if amount <= 0 {
		return false, ErrInvalidAmount
	}
	summary, err := q.Balance(ctx, accountID)
	if err != nil {
		return false, err
	}
	return summary.AvailableBalance >= amount, nil
}

// cacheGet loads a cached summary. Redis outages degrade to direct reads.
func (q *QueryService) cacheGet(ctx context.Context, key string, dst any) bool {
	if q.cache == nil {
		return false
	}
	raw, err := q.cache.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			q.log.Warn("balance cache read failed", "key", key, "error", err)
		}
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

func (q *QueryService) cacheSet(ctx context.Context, key string, v any) {
	if q.cache == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := q.cache.Set(ctx, key, raw, q.cacheTTL).Err(); err != nil {
		q.log.Warn("balance cache write failed", "key", key, "error", err)
	}
}
