package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/intervia/backend/internal/models"
	"github.com/intervia/backend/internal/repository"
)

// In-memory stores backing the engine in tests. memTx emulates row locks:
// EnsureForUpdate takes a per-account mutex that Commit/Rollback releases,
// so concurrent operations on one account serialize the way FOR UPDATE
// serializes them against Postgres.

type memState struct {
	mu        sync.Mutex
	accounts  map[uuid.UUID]*models.Account
	earnings  map[uuid.UUID]*models.EarningsAccount
	entries   []*models.LedgerEntry
	processed map[models.IdempotencyKey]bool

	accountLocks  map[uuid.UUID]*sync.Mutex
	earningsLocks map[uuid.UUID]*sync.Mutex
}

func newMemState() *memState {
	return &memState{
		accounts:      make(map[uuid.UUID]*models.Account),
		earnings:      make(map[uuid.UUID]*models.EarningsAccount),
		processed:     make(map[models.IdempotencyKey]bool),
		accountLocks:  make(map[uuid.UUID]*sync.Mutex),
		earningsLocks: make(map[uuid.UUID]*sync.Mutex),
	}
}

type memTx struct {
	pgx.Tx
	mu      sync.Mutex
	done    bool
	unlocks []func()
}

func (t *memTx) Commit(ctx context.Context) error   { t.finish(); return nil }
func (t *memTx) Rollback(ctx context.Context) error { t.finish(); return nil }

func (t *memTx) finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}
	t.done = true
	for i := len(t.unlocks) - 1; i >= 0; i-- {
		t.unlocks[i]()
	}
}

func (t *memTx) holdLock(mu *sync.Mutex) {
	mu.Lock()
	t.mu.Lock()
	t.unlocks = append(t.unlocks, mu.Unlock)
	t.mu.Unlock()
}

type memDB struct{}

func (memDB) Begin(ctx context.Context) (pgx.Tx, error) { return &memTx{}, nil }

type memAccounts struct{ state *memState }

func (s *memAccounts) rowLock(id uuid.UUID) *sync.Mutex {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	mu, ok := s.state.accountLocks[id]
	if !ok {
		mu = &sync.Mutex{}
		s.state.accountLocks[id] = mu
	}
	return mu
}

func (s *memAccounts) EnsureForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Account, error) {
	tx.(*memTx).holdLock(s.rowLock(id))
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	acc, ok := s.state.accounts[id]
	if !ok {
		acc = &models.Account{AccountID: id}
		s.state.accounts[id] = acc
	}
	cp := *acc
	return &cp, nil
}

func (s *memAccounts) Get(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Account, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	cp := *s.state.accounts[id]
	return &cp, nil
}

func (s *memAccounts) ApplyGrant(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int64) error {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	s.state.accounts[id].AvailableBalance += amount
	return nil
}

func (s *memAccounts) ApplyHold(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int64) error {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	acc := s.state.accounts[id]
	if acc.AvailableBalance < amount {
		return repository.ErrConditionFailed
	}
	acc.AvailableBalance -= amount
	acc.EscrowBalance += amount
	return nil
}

func (s *memAccounts) ApplyRelease(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int64) error {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	acc := s.state.accounts[id]
	if acc.EscrowBalance < amount {
		return repository.ErrConditionFailed
	}
	acc.EscrowBalance -= amount
	return nil
}

func (s *memAccounts) ApplyRefund(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int64) error {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	acc := s.state.accounts[id]
	if acc.EscrowBalance < amount {
		return repository.ErrConditionFailed
	}
	acc.EscrowBalance -= amount
	acc.AvailableBalance += amount
	return nil
}

func (s *memAccounts) ApplyDebit(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int64) error {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	acc := s.state.accounts[id]
	if acc.AvailableBalance < amount {
		return repository.ErrConditionFailed
	}
	acc.AvailableBalance -= amount
	return nil
}

type memEarnings struct{ state *memState }

func (s *memEarnings) rowLock(id uuid.UUID) *sync.Mutex {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	mu, ok := s.state.earningsLocks[id]
	if !ok {
		mu = &sync.Mutex{}
		s.state.earningsLocks[id] = mu
	}
	return mu
}

func (s *memEarnings) EnsureForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.EarningsAccount, error) {
	tx.(*memTx).holdLock(s.rowLock(id))
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	ea, ok := s.state.earnings[id]
	if !ok {
		ea = &models.EarningsAccount{AccountID: id}
		s.state.earnings[id] = ea
	}
	cp := *ea
	return &cp, nil
}

func (s *memEarnings) Get(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.EarningsAccount, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	cp := *s.state.earnings[id]
	return &cp, nil
}

func (s *memEarnings) Credit(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int64) error {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	ea := s.state.earnings[id]
	ea.TotalEarned += amount
	ea.PendingCredits += amount
	return nil
}

type memLedger struct{ state *memState }

func (s *memLedger) AppendTx(ctx context.Context, tx pgx.Tx, entries []*models.LedgerEntry, key models.IdempotencyKey) error {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	if s.state.processed[key] {
		return repository.ErrAlreadyProcessed
	}
	for _, e := range entries {
		for _, have := range s.state.entries {
			if have.ReferenceID != e.ReferenceID {
				continue
			}
			if have.Kind == e.Kind && e.Kind != models.KindReversal {
				return repository.ErrAlreadyProcessed
			}
			if models.IsTerminalKind(have.Kind) && models.IsTerminalKind(e.Kind) {
				return repository.ErrAlreadyProcessed
			}
		}
	}
	s.state.processed[key] = true
	for _, e := range entries {
		cp := *e
		cp.CreatedAt = time.Now()
		s.state.entries = append(s.state.entries, &cp)
	}
	return nil
}

func (s *memLedger) FindByKindAndReference(ctx context.Context, tx pgx.Tx, kind, referenceID string) (*models.LedgerEntry, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	for _, e := range s.state.entries {
		if e.Kind == kind && e.ReferenceID == referenceID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memLedger) FindTerminalByReference(ctx context.Context, tx pgx.Tx, referenceID string) (*models.LedgerEntry, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	for _, e := range s.state.entries {
		if e.ReferenceID == referenceID && models.IsTerminalKind(e.Kind) {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memLedger) FindByID(ctx context.Context, tx pgx.Tx, entryID uuid.UUID) (*models.LedgerEntry, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	for _, e := range s.state.entries {
		if e.EntryID == entryID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memLedger) SumsForAccount(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (models.KindSums, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	sums := make(models.KindSums)
	for _, e := range s.state.entries {
		if e.AccountID == accountID {
			sums[e.Kind] += e.Amount
		}
	}
	return sums, nil
}

func (s *memLedger) SumReleasedTo(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (int64, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	var sum int64
	for _, e := range s.state.entries {
		if e.Kind == models.KindRelease && e.CounterpartyAccountID != nil && *e.CounterpartyAccountID == accountID {
			sum += -e.Amount
		}
	}
	return sum, nil
}

func newTestEngine() (*EscrowEngine, *memState) {
	state := newMemState()
	engine := NewEscrowEngine(memDB{}, &memAccounts{state}, &memEarnings{state}, &memLedger{state}, nil)
	return engine, state
}

func (s *memState) balances(t *testing.T, id uuid.UUID) (int64, int64) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return 0, 0
	}
	return acc.AvailableBalance, acc.EscrowBalance
}

func TestGrantIncreasesAvailable(t *testing.T) {
	engine, state := newTestEngine()
	ctx := context.Background()
	account := uuid.New()

	entry, err := engine.Grant(ctx, account, 1000, "signup:abc")
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if entry.Kind != models.KindGrant || entry.Amount != 1000 {
		t.Fatalf("unexpected entry: kind=%s amount=%d", entry.Kind, entry.Amount)
	}
	if avail, escrow := state.balances(t, account); avail != 1000 || escrow != 0 {
		t.Fatalf("balances = (%d, %d), want (1000, 0)", avail, escrow)
	}
}

func TestGrantDuplicateReturnsOriginal(t *testing.T) {
	engine, state := newTestEngine()
	ctx := context.Background()
	account := uuid.New()

	first, err := engine.Grant(ctx, account, 1000, "signup:abc")
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	second, err := engine.Grant(ctx, account, 1000, "signup:abc")
	if !errors.Is(err, ErrAlreadyGranted) {
		t.Fatalf("err = %v, want ErrAlreadyGranted", err)
	}
	if second == nil || second.EntryID != first.EntryID {
		t.Fatalf("duplicate grant did not return the original entry")
	}
	if avail, _ := state.balances(t, account); avail != 1000 {
		t.Fatalf("available = %d, want 1000 (duplicate must not double-credit)", avail)
	}
}

func TestHoldMovesAvailableToEscrow(t *testing.T) {
	engine, state := newTestEngine()
	ctx := context.Background()
	account := uuid.New()

	if _, err := engine.Grant(ctx, account, 1000, "signup:abc"); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	entry, err := engine.Hold(ctx, account, 600, "interview-1")
	if err != nil {
		t.Fatalf("Hold: %v", err)
	}
	if entry.Amount != -600 {
		t.Fatalf("hold entry amount = %d, want -600", entry.Amount)
	}
	if avail, escrow := state.balances(t, account); avail != 400 || escrow != 600 {
		t.Fatalf("balances = (%d, %d), want (400, 600)", avail, escrow)
	}
}

func TestHoldInsufficientFunds(t *testing.T) {
	engine, state := newTestEngine()
	ctx := context.Background()
	account := uuid.New()

	if _, err := engine.Grant(ctx, account, 100, "signup:abc"); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if _, err := engine.Hold(ctx, account, 500, "interview-1"); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if avail, escrow := state.balances(t, account); avail != 100 || escrow != 0 {
		t.Fatalf("balances = (%d, %d), want (100, 0) after failed hold", avail, escrow)
	}
	if e, _ := (&memLedger{state}).FindByKindAndReference(ctx, nil, models.KindHold, "interview-1"); e != nil {
		t.Fatalf("failed hold must not leave a ledger entry")
	}
}

func TestHoldDuplicate(t *testing.T) {
	engine, state := newTestEngine()
	ctx := context.Background()
	account := uuid.New()

	if _, err := engine.Grant(ctx, account, 1000, "signup:abc"); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if _, err := engine.Hold(ctx, account, 300, "interview-1"); err != nil {
		t.Fatalf("Hold: %v", err)
	}
	if _, err := engine.Hold(ctx, account, 300, "interview-1"); !errors.Is(err, ErrAlreadyHeld) {
		t.Fatalf("err = %v, want ErrAlreadyHeld", err)
	}
	if avail, escrow := state.balances(t, account); avail != 700 || escrow != 300 {
		t.Fatalf("balances = (%d, %d), want (700, 300)", avail, escrow)
	}
}

func TestReleaseCreditsCounterparty(t *testing.T) {
	engine, state := newTestEngine()
	ctx := context.Background()
	spender := uuid.New()
	earner := uuid.New()

	if _, err := engine.Grant(ctx, spender, 1000, "signup:abc"); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if _, err := engine.Hold(ctx, spender, 600, "interview-1"); err != nil {
		t.Fatalf("Hold: %v", err)
	}
	entry, err := engine.Release(ctx, spender, earner, 600, "interview-1")
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if entry.CounterpartyAccountID == nil || *entry.CounterpartyAccountID != earner {
		t.Fatalf("release entry missing counterparty")
	}
	if avail, escrow := state.balances(t, spender); avail != 400 || escrow != 0 {
		t.Fatalf("spender balances = (%d, %d), want (400, 0)", avail, escrow)
	}
	state.mu.Lock()
	ea := state.earnings[earner]
	state.mu.Unlock()
	if ea == nil || ea.TotalEarned != 600 || ea.PendingCredits != 600 {
		t.Fatalf("earner = %+v, want total_earned=600 pending=600", ea)
	}
}

func TestTerminalExclusivity(t *testing.T) {
	engine, state := newTestEngine()
	ctx := context.Background()
	spender := uuid.New()
	earner := uuid.New()

	if _, err := engine.Grant(ctx, spender, 1000, "signup:abc"); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if _, err := engine.Hold(ctx, spender, 600, "interview-1"); err != nil {
		t.Fatalf("Hold: %v", err)
	}
	if _, err := engine.Release(ctx, spender, earner, 600, "interview-1"); err != nil {
		t.Fatalf("Release: %v", err)
	}

	// A redelivered release is a duplicate, a refund after release is a
	// conflicting terminal. Neither may move balances again.
	if _, err := engine.Release(ctx, spender, earner, 600, "interview-1"); !errors.Is(err, ErrAlreadyReleased) {
		t.Fatalf("second release err = %v, want ErrAlreadyReleased", err)
	}
	if _, err := engine.Refund(ctx, spender, 600, "interview-1"); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("refund after release err = %v, want ErrAlreadyResolved", err)
	}
	if avail, escrow := state.balances(t, spender); avail != 400 || escrow != 0 {
		t.Fatalf("spender balances = (%d, %d), want (400, 0)", avail, escrow)
	}
	state.mu.Lock()
	earned := state.earnings[earner].TotalEarned
	state.mu.Unlock()
	if earned != 600 {
		t.Fatalf("total_earned = %d, want 600 (no double credit)", earned)
	}
}

func TestRefundReturnsEscrow(t *testing.T) {
	engine, state := newTestEngine()
	ctx := context.Background()
	spender := uuid.New()
	earner := uuid.New()

	if _, err := engine.Grant(ctx, spender, 1000, "signup:abc"); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if _, err := engine.Hold(ctx, spender, 600, "interview-1"); err != nil {
		t.Fatalf("Hold: %v", err)
	}
	entry, err := engine.Refund(ctx, spender, 600, "interview-1")
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if entry.Amount != 600 || entry.Kind != models.KindRefund {
		t.Fatalf("unexpected refund entry: %+v", entry)
	}
	if avail, escrow := state.balances(t, spender); avail != 1000 || escrow != 0 {
		t.Fatalf("balances = (%d, %d), want (1000, 0)", avail, escrow)
	}

	if _, err := engine.Refund(ctx, spender, 600, "interview-1"); !errors.Is(err, ErrAlreadyRefunded) {
		t.Fatalf("second refund err = %v, want ErrAlreadyRefunded", err)
	}
	if _, err := engine.Release(ctx, spender, earner, 600, "interview-1"); !errors.Is(err, ErrAlreadyRefunded) {
		t.Fatalf("release after refund err = %v, want ErrAlreadyRefunded", err)
	}
}

func TestReleaseWithoutHold(t *testing.T) {
	engine, _ := newTestEngine()
	ctx := context.Background()

	if _, err := engine.Release(ctx, uuid.New(), uuid.New(), 600, "interview-x"); !errors.Is(err, ErrNoActiveHold) {
		t.Fatalf("err = %v, want ErrNoActiveHold", err)
	}
	if _, err := engine.Refund(ctx, uuid.New(), 600, "interview-y"); !errors.Is(err, ErrNoActiveHold) {
		t.Fatalf("err = %v, want ErrNoActiveHold", err)
	}
}

func TestReferenceMismatch(t *testing.T) {
	engine, _ := newTestEngine()
	ctx := context.Background()
	spender := uuid.New()
	earner := uuid.New()

	if _, err := engine.Grant(ctx, spender, 1000, "signup:abc"); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if _, err := engine.Hold(ctx, spender, 600, "interview-1"); err != nil {
		t.Fatalf("Hold: %v", err)
	}

	// Wrong amount.
	if _, err := engine.Release(ctx, spender, earner, 500, "interview-1"); !errors.Is(err, ErrReferenceMismatch) {
		t.Fatalf("err = %v, want ErrReferenceMismatch", err)
	}
	// Wrong spender.
	if _, err := engine.Refund(ctx, uuid.New(), 600, "interview-1"); !errors.Is(err, ErrReferenceMismatch) {
		t.Fatalf("err = %v, want ErrReferenceMismatch", err)
	}
}

func TestReverseGrant(t *testing.T) {
	engine, state := newTestEngine()
	ctx := context.Background()
	account := uuid.New()

	grant, err := engine.Grant(ctx, account, 1000, "signup:abc")
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	reversal, err := engine.Reverse(ctx, grant.EntryID, "granted in error")
	if err != nil {
		t.Fatalf("Reverse: %v", err)
	}
	if reversal.Kind != models.KindReversal || reversal.Amount != -1000 {
		t.Fatalf("unexpected reversal entry: %+v", reversal)
	}
	if avail, _ := state.balances(t, account); avail != 0 {
		t.Fatalf("available = %d, want 0 after reversal", avail)
	}
	if _, err := engine.Reverse(ctx, grant.EntryID, "again"); !errors.Is(err, ErrAlreadyReversed) {
		t.Fatalf("second reverse err = %v, want ErrAlreadyReversed", err)
	}
}

func TestReverseNonGrantRejected(t *testing.T) {
	engine, _ := newTestEngine()
	ctx := context.Background()
	account := uuid.New()

	if _, err := engine.Grant(ctx, account, 1000, "signup:abc"); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	hold, err := engine.Hold(ctx, account, 300, "interview-1")
	if err != nil {
		t.Fatalf("Hold: %v", err)
	}
	if _, err := engine.Reverse(ctx, hold.EntryID, "oops"); !errors.Is(err, ErrNotReversible) {
		t.Fatalf("err = %v, want ErrNotReversible", err)
	}
}

func TestReverseSpentGrant(t *testing.T) {
	engine, _ := newTestEngine()
	ctx := context.Background()
	account := uuid.New()

	grant, err := engine.Grant(ctx, account, 1000, "signup:abc")
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if _, err := engine.Hold(ctx, account, 800, "interview-1"); err != nil {
		t.Fatalf("Hold: %v", err)
	}
	// Only 200 available: the reversal cannot drive the balance negative.
	if _, err := engine.Reverse(ctx, grant.EntryID, "oops"); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
}

func TestInvalidArguments(t *testing.T) {
	engine, _ := newTestEngine()
	ctx := context.Background()
	account := uuid.New()

	if _, err := engine.Grant(ctx, account, 0, "ref"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero amount err = %v, want ErrInvalidAmount", err)
	}
	if _, err := engine.Hold(ctx, account, -5, "ref"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("negative amount err = %v, want ErrInvalidAmount", err)
	}
	if _, err := engine.Grant(ctx, account, 100, ""); !errors.Is(err, ErrEmptyReference) {
		t.Fatalf("empty reference err = %v, want ErrEmptyReference", err)
	}
}

func TestBalancesMatchLedgerFold(t *testing.T) {
	engine, state := newTestEngine()
	ctx := context.Background()
	spender := uuid.New()
	earner := uuid.New()

	if _, err := engine.Grant(ctx, spender, 1000, "signup:abc"); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if _, err := engine.Hold(ctx, spender, 300, "interview-1"); err != nil {
		t.Fatalf("Hold 1: %v", err)
	}
	if _, err := engine.Hold(ctx, spender, 200, "interview-2"); err != nil {
		t.Fatalf("Hold 2: %v", err)
	}
	if _, err := engine.Release(ctx, spender, earner, 300, "interview-1"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := engine.Refund(ctx, spender, 200, "interview-2"); err != nil {
		t.Fatalf("Refund: %v", err)
	}

	ledger := &memLedger{state}
	sums, err := ledger.SumsForAccount(ctx, nil, spender)
	if err != nil {
		t.Fatalf("SumsForAccount: %v", err)
	}
	wantAvail, wantEscrow := models.FoldBalances(sums)
	avail, escrow := state.balances(t, spender)
	if avail != wantAvail || escrow != wantEscrow {
		t.Fatalf("projection (%d, %d) != ledger fold (%d, %d)", avail, escrow, wantAvail, wantEscrow)
	}

	// Granted credits are conserved: still held by the spender or earned
	// by the counterparty.
	state.mu.Lock()
	earned := state.earnings[earner].TotalEarned
	state.mu.Unlock()
	if avail+escrow+earned != 1000 {
		t.Fatalf("conservation broken: %d + %d + %d != 1000", avail, escrow, earned)
	}
}

func TestConcurrentHoldsNeverOverdraw(t *testing.T) {
	engine, state := newTestEngine()
	ctx := context.Background()
	account := uuid.New()

	const balance = 1000
	const amount = 300
	const attempts = 10

	if _, err := engine.Grant(ctx, account, balance, "signup:abc"); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.Hold(ctx, account, amount, "interview-"+uuid.NewString())
		}(i)
	}
	wg.Wait()

	var ok, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrInsufficientFunds):
			insufficient++
		default:
			t.Fatalf("unexpected hold error: %v", err)
		}
	}
	if want := balance / amount; ok != want {
		t.Fatalf("%d holds succeeded, want exactly %d", ok, want)
	}
	if ok+insufficient != attempts {
		t.Fatalf("accounted for %d attempts, want %d", ok+insufficient, attempts)
	}
	avail, escrow := state.balances(t, account)
	if avail != balance-int64(ok)*amount || escrow != int64(ok)*amount {
		t.Fatalf("balances = (%d, %d) after concurrent holds", avail, escrow)
	}
	if avail < 0 || escrow < 0 {
		t.Fatalf("negative balance: (%d, %d)", avail, escrow)
	}
}
