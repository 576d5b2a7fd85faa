/*
store.go - Persistence interfaces for users, aliases and transactions

PURPOSE:
  Defines the boundary between the debt logic and the database. Every
  component receives a Store explicitly; there is no process-wide handle.

KEY INTERFACES:
  TransactionStore: Append-only transaction log
  Directory:        User records and name search
  AliasStore:       Per-owner nicknames
  Store:            All of the above

APPEND-ONLY CONTRACT:
  TransactionStore has exactly one write (Append). There is no Update or
  Delete. Append must be a single atomic insert.

SEARCH CONTRACT:
  All searches are case-insensitive and parameterized. User-supplied text
  is matched literally: LIKE metacharacters are escaped by implementations.
  Results come back in directory insertion order so callers see a stable
  candidate list.

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory for tests and local runs
  - store/sqlite/sqlite.go: SQLite
  - store/postgres/postgres.go: PostgreSQL (pgx pool)
*/
package ledger

import "context"

// =============================================================================
// TRANSACTION STORE - Append-only
// =============================================================================

type TransactionStore interface {
	// Append persists a transaction. Returns ErrDuplicateIdempotencyKey if
	// the key is already taken. This is the ONLY write operation.
	Append(ctx context.Context, tx Transaction) error

	// Between returns transactions between a and b (either direction),
	// ordered by Timestamp ascending.
	Between(ctx context.Context, a, b UserID) ([]Transaction, error)

	// Counterparties returns the distinct users a has transacted with:
	// debitors where a is creditor, then creditors where a is debitor.
	Counterparties(ctx context.Context, a UserID) ([]UserID, error)

	// Exists checks if an idempotency key is already used.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)
}

// =============================================================================
// DIRECTORY - Users and name search
// =============================================================================

type Directory interface {
	// UpsertUser creates or refreshes a user. Reports whether it was created.
	UpsertUser(ctx context.Context, u User) (created bool, err error)

	// GetUser returns nil when the user is unknown.
	GetUser(ctx context.Context, id UserID) (*User, error)

	// FindByUsername matches UsernameLower exactly. Returns nil when absent.
	FindByUsername(ctx context.Context, usernameLower string) (*User, error)

	// SearchByNameParts returns users whose first name starts with first AND
	// whose last name contains last, OR whose "first last" starts with full.
	SearchByNameParts(ctx context.Context, first, last, full string) ([]User, error)

	// SearchByPrefix returns users whose first name, last name, or
	// "first last" starts with prefix.
	SearchByPrefix(ctx context.Context, prefix string) ([]User, error)
}

// =============================================================================
// ALIAS STORE
// =============================================================================

type AliasStore interface {
	// UpsertAlias creates or retargets (OwnerID, Text).
	UpsertAlias(ctx context.Context, a Alias) error

	// GetAlias returns nil when the owner has no such alias.
	GetAlias(ctx context.Context, owner UserID, text string) (*Alias, error)

	// DeleteAlias reports whether an alias was removed.
	DeleteAlias(ctx context.Context, owner UserID, text string) (bool, error)

	// ListAliases returns the owner's aliases ordered by text.
	ListAliases(ctx context.Context, owner UserID) ([]Alias, error)
}

// Store is the full repository used by the bot.
type Store interface {
	TransactionStore
	Directory
	AliasStore
}
