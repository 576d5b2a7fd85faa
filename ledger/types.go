/*
Package ledger provides the debt ledger: users, aliases, transactions and the
balance engine derived from them.

PURPOSE:
  Every debt reported through the bot ends up here as an immutable
  Transaction between a creditor and a debitor. Balances are never stored;
  they are always recomputed from the transaction log.

KEY CONCEPTS IN THIS FILE (types.go):
  - UserID: Platform identifier of a user (Telegram user id)
  - User: Directory record, re-upserted on every interaction
  - Alias: Per-owner nickname pointing at another user
  - Transaction: Append-only ledger entry

DIRECTION:
  Direction is encoded only by which side is creditor and which is debitor.
  Amount is always positive. "I gave 15 to bob" records
  Creditor=me, Debitor=bob, Amount=15.

SEE ALSO:
  - store.go: Persistence interfaces
  - ledger.go: Recording and balance queries
  - format.go: User-facing balance sentences
*/
package ledger

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// UserID is the opaque platform identifier of a user.
// Zero is never a valid user.
type UserID int64

// TransactionID identifies a ledger entry.
type TransactionID string

// =============================================================================
// USER - Directory record
// =============================================================================

type User struct {
	ID            UserID
	FirstName     string
	LastName      string
	Username      string
	UsernameLower string
}

// NewUser builds a directory record and derives UsernameLower.
func NewUser(id UserID, firstName, lastName, username string) User {
	return User{
		ID:            id,
		FirstName:     firstName,
		LastName:      lastName,
		Username:      username,
		UsernameLower: Fold(username),
	}
}

// DisplayName returns "first last", tolerating missing parts.
func (u User) DisplayName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// ShortName is what the bot calls a user in sentences.
func (u User) ShortName() string {
	if u.FirstName != "" {
		return u.FirstName
	}
	if u.Username != "" {
		return "@" + u.Username
	}
	if name := u.DisplayName(); name != "" {
		return name
	}
	return "someone"
}

// =============================================================================
// ALIAS - Per-owner nickname
// =============================================================================

// Alias maps a nickname to a user, scoped to its owner.
// (OwnerID, Text) is unique; Text is stored folded.
type Alias struct {
	OwnerID  UserID
	Text     string
	TargetID UserID
}

// NormalizeAlias folds case and collapses whitespace.
func NormalizeAlias(text string) string {
	return Fold(strings.Join(strings.Fields(text), " "))
}

// =============================================================================
// TRANSACTION - Append-only ledger entry
// =============================================================================

type Transaction struct {
	ID         TransactionID
	CreditorID UserID
	DebitorID  UserID
	Amount     decimal.Decimal // always > 0
	Reason     string
	Timestamp  time.Time

	// IdempotencyKey is optional. When set it is unique across the ledger.
	IdempotencyKey string
}

// Involves reports whether the transaction is between exactly a and b.
func (t Transaction) Involves(a, b UserID) bool {
	return (t.CreditorID == a && t.DebitorID == b) || (t.CreditorID == b && t.DebitorID == a)
}

// SignedFor returns the amount from viewer's side: positive when viewer is
// the creditor.
func (t Transaction) SignedFor(viewer UserID) decimal.Decimal {
	if t.CreditorID == viewer {
		return t.Amount
	}
	return t.Amount.Neg()
}

// PairBalance is the net balance between an owner and one counterparty.
// Positive means the counterparty owes the owner.
type PairBalance struct {
	Counterparty User
	Balance      decimal.Decimal
}

// Fold case-folds s for case-insensitive comparisons.
// A Caser is stateful, so each call gets its own.
func Fold(s string) string {
	return cases.Fold().String(s)
}
