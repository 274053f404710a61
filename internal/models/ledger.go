package models

import (
	"time"

	"github.com/google/uuid"
)

// Ledger entry kinds. A reference_id links one hold to at most one of
// release/refund (mutually exclusive terminal outcomes), plus optionally
// one reversal of a grant.
const (
	KindGrant    = "grant"
	KindHold     = "hold"
	KindRelease  = "release"
	KindRefund   = "refund"
	KindReversal = "reversal"
)

// LedgerEntry is an immutable credit movement. Amount is the signed delta
// applied to the bucket the kind moves:
//
//	grant    +a  into available
//	hold     -a  out of available, into escrow
//	release  -a  out of escrow, credited to the counterparty
//	refund   +a  back into available, out of escrow
//	reversal negation of the original grant
//
// Entries are never updated or deleted; corrections append a reversal.
type LedgerEntry struct {
	EntryID               uuid.UUID  `json:"entry_id"`
	AccountID             uuid.UUID  `json:"account_id"`
	CounterpartyAccountID *uuid.UUID `json:"counterparty_account_id,omitempty"`
	Amount                int64      `json:"amount"`
	Kind                  string     `json:"kind"`
	ReferenceID           string     `json:"reference_id"`
	Note                  string     `json:"note,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
}

// IdempotencyKey identifies one logical event. A given key produces at most
// one set of ledger entries, enforced by the processed_events primary key.
type IdempotencyKey struct {
	EventType   string
	ReferenceID string
}

// KindSums maps an entry kind to the sum of signed amounts of that kind for
// one account.
type KindSums map[string]int64

// FoldBalances derives the available and escrow balances an account must
// have given its per-kind ledger sums. The projection tables are valid only
// if they match this fold exactly.
func FoldBalances(sums KindSums) (available, escrow int64) {
	available = sums[KindGrant] + sums[KindHold] + sums[KindRefund] + sums[KindReversal]
	escrow = -sums[KindHold] + sums[KindRelease] - sums[KindRefund]
	return available, escrow
}

// IsTerminalKind reports whether kind resolves a hold.
func IsTerminalKind(kind string) bool {
	return kind == KindRelease || kind == KindRefund
}
