/*
Package sqlite provides a SQLite-backed implementation of ledger.Store.

PURPOSE:
  Persists users, aliases and the append-only transaction log in a single
  SQLite file. This is the default driver.

INTERFACES IMPLEMENTED:
  ledger.TransactionStore: Transaction persistence
  ledger.Directory:        Users and name search
  ledger.AliasStore:       Per-owner aliases

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on transactions
  - No DELETE statements on transactions
  - idempotency_key is UNIQUE; violations map to ErrDuplicateIdempotencyKey

KEY TABLES:
  users:        Directory, seq keeps insertion order for search results
  aliases:      (owner_id, alias_text) primary key
  transactions: Immutable ledger

TIMESTAMPS:
  Stored as fixed-width UTC text so lexicographic order equals time order.

AMOUNTS:
  Stored as decimal text; never as REAL.

USAGE:
  store, err := sqlite.New("./debts.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  l := ledger.NewLedger(store)

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/debt-engine/ledger"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements ledger.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Directory
	CREATE TABLE IF NOT EXISTS users (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id INTEGER NOT NULL UNIQUE,
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		username TEXT NOT NULL DEFAULT '',
		username_lower TEXT NOT NULL DEFAULT '',
		first_lower TEXT NOT NULL DEFAULT '',
		last_lower TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_users_username_lower
		ON users(username_lower);

	-- Aliases (scoped per owner)
	CREATE TABLE IF NOT EXISTS aliases (
		owner_id INTEGER NOT NULL,
		alias_text TEXT NOT NULL,
		target_user_id INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (owner_id, alias_text)
	);

	-- Transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS transactions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		creditor_id INTEGER NOT NULL,
		debitor_id INTEGER NOT NULL,
		amount TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		timestamp TEXT NOT NULL,
		idempotency_key TEXT UNIQUE
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_pair
		ON transactions(creditor_id, debitor_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_transactions_debitor
		ON transactions(debitor_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTION STORE (ledger.TransactionStore interface)
// =============================================================================

// Append adds a transaction to the ledger.
func (s *Store) Append(ctx context.Context, tx ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions
		(id, creditor_id, debitor_id, amount, reason, timestamp, idempotency_key)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		string(tx.ID),
		int64(tx.CreditorID),
		int64(tx.DebitorID),
		tx.Amount.String(),
		tx.Reason,
		tx.Timestamp.UTC().Format(timeLayout),
		nullString(tx.IdempotencyKey),
	)
	if err != nil {
		if isUniqueConstraintError(err) && strings.Contains(err.Error(), "idempotency_key") {
			return ledger.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

// Between returns transactions between a and b, oldest first.
func (s *Store) Between(ctx context.Context, a, b ledger.UserID) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, creditor_id, debitor_id, amount, reason, timestamp, idempotency_key
		FROM transactions
		WHERE (creditor_id = ? AND debitor_id = ?)
		   OR (creditor_id = ? AND debitor_id = ?)
		ORDER BY timestamp ASC, seq ASC
	`, int64(a), int64(b), int64(b), int64(a))
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []ledger.Transaction
	for rows.Next() {
		var (
			tx                ledger.Transaction
			id, amount, ts    string
			creditor, debitor int64
			idempotencyKey    sql.NullString
		)
		if err := rows.Scan(&id, &creditor, &debitor, &amount, &tx.Reason, &ts, &idempotencyKey); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.ID = ledger.TransactionID(id)
		tx.CreditorID = ledger.UserID(creditor)
		tx.DebitorID = ledger.UserID(debitor)
		if tx.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("transaction %s: bad amount %q: %w", id, amount, err)
		}
		if tx.Timestamp, err = time.Parse(timeLayout, ts); err != nil {
			return nil, fmt.Errorf("transaction %s: bad timestamp %q: %w", id, ts, err)
		}
		tx.IdempotencyKey = idempotencyKey.String
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// Counterparties returns distinct debitors of a, then distinct creditors of a.
func (s *Store) Counterparties(ctx context.Context, a ledger.UserID) ([]ledger.UserID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT other FROM (
			SELECT debitor_id AS other, 0 AS side, MIN(seq) AS first_seq
			FROM transactions WHERE creditor_id = ? GROUP BY debitor_id
			UNION ALL
			SELECT creditor_id AS other, 1 AS side, MIN(seq) AS first_seq
			FROM transactions WHERE debitor_id = ? GROUP BY creditor_id
		)
		ORDER BY side, first_seq
	`, int64(a), int64(a))
	if err != nil {
		return nil, fmt.Errorf("failed to query counterparties: %w", err)
	}
	defer rows.Close()

	seen := make(map[ledger.UserID]bool)
	var out []ledger.UserID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		if uid := ledger.UserID(id); !seen[uid] {
			seen[uid] = true
			out = append(out, uid)
		}
	}
	return out, rows.Err()
}

// Exists checks if an idempotency key exists.
func (s *Store) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE idempotency_key = ?",
		idempotencyKey,
	).Scan(&count)

	return count > 0, err
}

// =============================================================================
// DIRECTORY (ledger.Directory interface)
// =============================================================================

const userColumns = `id, first_name, last_name, username, username_lower`

// UpsertUser inserts or refreshes a user row.
func (s *Store) UpsertUser(ctx context.Context, u ledger.User) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM users WHERE id = ?", int64(u.ID),
	).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check user: %w", err)
	}

	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users
		(id, first_name, last_name, username, username_lower, first_lower, last_lower, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			username = excluded.username,
			username_lower = excluded.username_lower,
			first_lower = excluded.first_lower,
			last_lower = excluded.last_lower,
			updated_at = excluded.updated_at
	`, int64(u.ID), u.FirstName, u.LastName, u.Username,
		ledger.Fold(u.Username), ledger.Fold(u.FirstName), ledger.Fold(u.LastName), now, now)
	if err != nil {
		return false, fmt.Errorf("failed to upsert user: %w", err)
	}
	return count == 0, nil
}

// GetUser returns nil when the user does not exist.
func (s *Store) GetUser(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", int64(id))
	return scanOptionalUser(row)
}

// FindByUsername matches the folded username exactly.
func (s *Store) FindByUsername(ctx context.Context, usernameLower string) (*ledger.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if usernameLower == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE username_lower = ? ORDER BY seq LIMIT 1",
		usernameLower)
	return scanOptionalUser(row)
}

// SearchByNameParts implements the two-token fuzzy search.
func (s *Store) SearchByNameParts(ctx context.Context, first, last, full string) ([]ledger.User, error) {
	return s.searchUsers(ctx, `
		WHERE (first_lower LIKE ? ESCAPE '\' AND last_lower LIKE ? ESCAPE '\')
		   OR (first_lower || ' ' || last_lower) LIKE ? ESCAPE '\'
	`, prefixPattern(first), containsPattern(last), prefixPattern(full))
}

// SearchByPrefix implements the broad single-token fuzzy search.
func (s *Store) SearchByPrefix(ctx context.Context, prefix string) ([]ledger.User, error) {
	p := prefixPattern(prefix)
	return s.searchUsers(ctx, `
		WHERE first_lower LIKE ? ESCAPE '\'
		   OR last_lower LIKE ? ESCAPE '\'
		   OR (first_lower || ' ' || last_lower) LIKE ? ESCAPE '\'
	`, p, p, p)
}

func (s *Store) searchUsers(ctx context.Context, where string, args ...any) ([]ledger.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+userColumns+" FROM users "+where+" ORDER BY seq", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search users: %w", err)
	}
	defer rows.Close()

	var out []ledger.User
	for rows.Next() {
		var u ledger.User
		var id int64
		if err := rows.Scan(&id, &u.FirstName, &u.LastName, &u.Username, &u.UsernameLower); err != nil {
			return nil, err
		}
		u.ID = ledger.UserID(id)
		out = append(out, u)
	}
	return out, rows.Err()
}

// =============================================================================
// ALIASES (ledger.AliasStore interface)
// =============================================================================

func (s *Store) UpsertAlias(ctx context.Context, a ledger.Alias) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO aliases (owner_id, alias_text, target_user_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(owner_id, alias_text) DO UPDATE SET
			target_user_id = excluded.target_user_id
	`, int64(a.OwnerID), ledger.NormalizeAlias(a.Text), int64(a.TargetID), time.Now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to upsert alias: %w", err)
	}
	return nil
}

func (s *Store) GetAlias(ctx context.Context, owner ledger.UserID, text string) (*ledger.Alias, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var a ledger.Alias
	var ownerID, target int64
	err := s.db.QueryRowContext(ctx, `
		SELECT owner_id, alias_text, target_user_id FROM aliases
		WHERE owner_id = ? AND alias_text = ?
	`, int64(owner), ledger.NormalizeAlias(text)).Scan(&ownerID, &a.Text, &target)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alias: %w", err)
	}
	a.OwnerID = ledger.UserID(ownerID)
	a.TargetID = ledger.UserID(target)
	return &a, nil
}

func (s *Store) DeleteAlias(ctx context.Context, owner ledger.UserID, text string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM aliases WHERE owner_id = ? AND alias_text = ?",
		int64(owner), ledger.NormalizeAlias(text))
	if err != nil {
		return false, fmt.Errorf("failed to delete alias: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) ListAliases(ctx context.Context, owner ledger.UserID) ([]ledger.Alias, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT alias_text, target_user_id FROM aliases
		WHERE owner_id = ? ORDER BY alias_text
	`, int64(owner))
	if err != nil {
		return nil, fmt.Errorf("failed to list aliases: %w", err)
	}
	defer rows.Close()

	var out []ledger.Alias
	for rows.Next() {
		a := ledger.Alias{OwnerID: owner}
		var target int64
		if err := rows.Scan(&a.Text, &target); err != nil {
			return nil, err
		}
		a.TargetID = ledger.UserID(target)
		out = append(out, a)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func scanOptionalUser(row *sql.Row) (*ledger.User, error) {
	var u ledger.User
	var id int64
	err := row.Scan(&id, &u.FirstName, &u.LastName, &u.Username, &u.UsernameLower)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	u.ID = ledger.UserID(id)
	return &u, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func prefixPattern(s string) string {
	return likeEscaper.Replace(ledger.Fold(s)) + "%"
}

func containsPattern(s string) string {
	return "%" + likeEscaper.Replace(ledger.Fold(s)) + "%"
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
