/*
ledger.go - Append-only debt log and balance engine

PURPOSE:
  The Ledger is the source of truth for who owes whom. Every reported debt
  is a Transaction; balances are computed by replaying transactions between
  a pair of users. There is no stored balance that can drift.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete.
  2. POSITIVE AMOUNTS: Direction is creditor vs. debitor, never the sign.
  3. IDEMPOTENT: Same idempotency key = at most one transaction.

BALANCE SIGN:
  Balance(a, b) = sum(a -> b) - sum(b -> a)
  Positive means b owes a. Balance(a, b) == -Balance(b, a).

CONCURRENCY:
  No locks are held here. Record is one insert; reads are not required to
  observe writes made concurrently on other connections.

SEE ALSO:
  - store.go: Persistence interfaces
  - format.go: Sentences built from balances
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER
// =============================================================================

// Ledger records debts and derives balances from them.
type Ledger interface {
	// Record appends a transaction. ID and Timestamp are filled in when empty.
	Record(ctx context.Context, tx Transaction) (Transaction, error)

	// Balance returns the signed net amount between a and b (positive: b owes a).
	Balance(ctx context.Context, a, b UserID) (decimal.Decimal, error)

	// History returns transactions between a and b, oldest first.
	History(ctx context.Context, a, b UserID) ([]Transaction, error)

	// Counterparties returns everyone a has transacted with.
	Counterparties(ctx context.Context, a UserID) ([]UserID, error)

	// Summary returns a's non-even balances, one per counterparty.
	Summary(ctx context.Context, a UserID) ([]PairBalance, error)
}

// =============================================================================
// DEFAULT LEDGER - Implementation using Store
// =============================================================================

type DefaultLedger struct {
	Store Store
	Now   func() time.Time
}

func NewLedger(store Store) *DefaultLedger {
	return &DefaultLedger{Store: store, Now: time.Now}
}

func (l *DefaultLedger) Record(ctx context.Context, tx Transaction) (Transaction, error) {
	if !tx.Amount.IsPositive() {
		return Transaction{}, ErrNonPositiveAmount
	}
	if tx.CreditorID == tx.DebitorID {
		return Transaction{}, ErrSelfTransaction
	}
	if tx.IdempotencyKey != "" {
		exists, err := l.Store.Exists(ctx, tx.IdempotencyKey)
		if err != nil {
			return Transaction{}, fmt.Errorf("check idempotency key: %w", err)
		}
		if exists {
			return Transaction{}, ErrDuplicateIdempotencyKey
		}
	}
	if tx.ID == "" {
		tx.ID = TransactionID(uuid.NewString())
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = l.Now().UTC()
	}
	if err := l.Store.Append(ctx, tx); err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

func (l *DefaultLedger) Balance(ctx context.Context, a, b UserID) (decimal.Decimal, error) {
	txs, err := l.Store.Between(ctx, a, b)
	if err != nil {
		return decimal.Zero, err
	}
	return SumFor(txs, a), nil
}

func (l *DefaultLedger) History(ctx context.Context, a, b UserID) ([]Transaction, error) {
	return l.Store.Between(ctx, a, b)
}

func (l *DefaultLedger) Counterparties(ctx context.Context, a UserID) ([]UserID, error) {
	return l.Store.Counterparties(ctx, a)
}

func (l *DefaultLedger) Summary(ctx context.Context, a UserID) ([]PairBalance, error) {
	others, err := l.Store.Counterparties(ctx, a)
	if err != nil {
		return nil, err
	}

	var out []PairBalance
	for _, other := range others {
		bal, err := l.Balance(ctx, a, other)
		if err != nil {
			return nil, err
		}
		if IsEven(bal) {
			continue
		}
		u, err := l.Store.GetUser(ctx, other)
		if err != nil {
			return nil, err
		}
		if u == nil {
			// Transactions may reference users the directory never saw.
			u = &User{ID: other}
		}
		out = append(out, PairBalance{Counterparty: *u, Balance: bal})
	}
	return out, nil
}

// SumFor replays txs from viewer's side.
func SumFor(txs []Transaction, viewer UserID) decimal.Decimal {
	total := decimal.Zero
	for _, tx := range txs {
		total = total.Add(tx.SignedFor(viewer))
	}
	return total
}
