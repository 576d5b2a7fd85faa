/*
Package postgres provides a PostgreSQL-backed implementation of ledger.Store.

PURPOSE:
  Same contract as store/sqlite, on a pgx connection pool for deployments
  where several bot processes share one database.

CONCURRENCY:
  No in-process locking. Atomicity comes from single-statement writes and
  the UNIQUE constraint on idempotency_key.

SCHEMA:
  Auto-migrated on New() with CREATE ... IF NOT EXISTS.
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/warp/debt-engine/ledger"
)

const uniqueViolation = "23505"

// Store implements ledger.Store on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// New connects, pings and migrates.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Reset truncates every table. Test helper.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE users, aliases, transactions RESTART IDENTITY`)
	return err
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			seq BIGSERIAL PRIMARY KEY,
			id BIGINT NOT NULL UNIQUE,
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			username TEXT NOT NULL DEFAULT '',
			username_lower TEXT NOT NULL DEFAULT '',
			first_lower TEXT NOT NULL DEFAULT '',
			last_lower TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_users_username_lower ON users(username_lower);

		CREATE TABLE IF NOT EXISTS aliases (
			owner_id BIGINT NOT NULL,
			alias_text TEXT NOT NULL,
			target_user_id BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (owner_id, alias_text)
		);

		CREATE TABLE IF NOT EXISTS transactions (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			creditor_id BIGINT NOT NULL,
			debitor_id BIGINT NOT NULL,
			amount NUMERIC NOT NULL CHECK (amount > 0),
			reason TEXT NOT NULL DEFAULT '',
			ts TIMESTAMPTZ NOT NULL,
			idempotency_key TEXT UNIQUE
		);
		CREATE INDEX IF NOT EXISTS idx_transactions_pair ON transactions(creditor_id, debitor_id, ts);
		CREATE INDEX IF NOT EXISTS idx_transactions_debitor ON transactions(debitor_id);
	`)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (s *Store) Append(ctx context.Context, tx ledger.Transaction) error {
	var key *string
	if tx.IdempotencyKey != "" {
		key = &tx.IdempotencyKey
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO transactions (id, creditor_id, debitor_id, amount, reason, ts, idempotency_key)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7)
	`, string(tx.ID), int64(tx.CreditorID), int64(tx.DebitorID), tx.Amount.String(), tx.Reason, tx.Timestamp.UTC(), key)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && strings.Contains(pgErr.ConstraintName, "idempotency_key") {
			return ledger.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

func (s *Store) Between(ctx context.Context, a, b ledger.UserID) ([]ledger.Transaction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, creditor_id, debitor_id, amount::text, reason, ts, COALESCE(idempotency_key, '')
		FROM transactions
		WHERE (creditor_id = $1 AND debitor_id = $2)
		   OR (creditor_id = $2 AND debitor_id = $1)
		ORDER BY ts ASC, seq ASC
	`, int64(a), int64(b))
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []ledger.Transaction
	for rows.Next() {
		var (
			tx                ledger.Transaction
			id, amount        string
			creditor, debitor int64
		)
		if err := rows.Scan(&id, &creditor, &debitor, &amount, &tx.Reason, &tx.Timestamp, &tx.IdempotencyKey); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.ID = ledger.TransactionID(id)
		tx.CreditorID = ledger.UserID(creditor)
		tx.DebitorID = ledger.UserID(debitor)
		if tx.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("transaction %s: bad amount %q: %w", id, amount, err)
		}
		tx.Timestamp = tx.Timestamp.UTC()
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (s *Store) Counterparties(ctx context.Context, a ledger.UserID) ([]ledger.UserID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT other FROM (
			SELECT debitor_id AS other, 0 AS side, MIN(seq) AS first_seq
			FROM transactions WHERE creditor_id = $1 GROUP BY debitor_id
			UNION ALL
			SELECT creditor_id AS other, 1 AS side, MIN(seq) AS first_seq
			FROM transactions WHERE debitor_id = $1 GROUP BY creditor_id
		) t
		ORDER BY side, first_seq
	`, int64(a))
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

func (s *Store) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM transactions WHERE idempotency_key = $1)`,
		idempotencyKey,
	).Scan(&exists)
	return exists, err
}

// =============================================================================
// DIRECTORY
// =============================================================================

const userColumns = `id, first_name, last_name, username, username_lower`

func (s *Store) UpsertUser(ctx context.Context, u ledger.User) (bool, error) {
	// xmax = 0 only for freshly inserted rows.
	var created bool
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, first_name, last_name, username, username_lower, first_lower, last_lower)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			username = EXCLUDED.username,
			username_lower = EXCLUDED.username_lower,
			first_lower = EXCLUDED.first_lower,
			last_lower = EXCLUDED.last_lower,
			updated_at = now()
		RETURNING (xmax = 0)
	`, int64(u.ID), u.FirstName, u.LastName, u.Username,
		ledger.Fold(u.Username), ledger.Fold(u.FirstName), ledger.Fold(u.LastName),
	).Scan(&created)
	if err != nil {
		return false, fmt.Errorf("failed to upsert user: %w", err)
	}
	return created, nil
}

func (s *Store) GetUser(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, int64(id))
	return scanOptionalUser(row)
}

func (s *Store) FindByUsername(ctx context.Context, usernameLower string) (*ledger.User, error) {
	if usernameLower == "" {
		return nil, nil
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE username_lower = $1 ORDER BY seq LIMIT 1`,
		usernameLower)
	return scanOptionalUser(row)
}

func (s *Store) SearchByNameParts(ctx context.Context, first, last, full string) ([]ledger.User, error) {
	return s.searchUsers(ctx, `
		WHERE (first_lower LIKE $1 AND last_lower LIKE $2)
		   OR (first_lower || ' ' || last_lower) LIKE $3
	`, prefixPattern(first), containsPattern(last), prefixPattern(full))
}

func (s *Store) SearchByPrefix(ctx context.Context, prefix string) ([]ledger.User, error) {
	return s.searchUsers(ctx, `
		WHERE first_lower LIKE $1
		   OR last_lower LIKE $1
		   OR (first_lower || ' ' || last_lower) LIKE $1
	`, prefixPattern(prefix))
}

func (s *Store) searchUsers(ctx context.Context, where string, args ...any) ([]ledger.User, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM users `+where+` ORDER BY seq`, args...)
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
// ALIASES
// =============================================================================

func (s *Store) UpsertAlias(ctx context.Context, a ledger.Alias) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO aliases (owner_id, alias_text, target_user_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (owner_id, alias_text) DO UPDATE SET target_user_id = EXCLUDED.target_user_id
	`, int64(a.OwnerID), ledger.NormalizeAlias(a.Text), int64(a.TargetID))
	if err != nil {
		return fmt.Errorf("failed to upsert alias: %w", err)
	}
	return nil
}

func (s *Store) GetAlias(ctx context.Context, owner ledger.UserID, text string) (*ledger.Alias, error) {
	var a ledger.Alias
	var ownerID, target int64
	err := s.pool.QueryRow(ctx, `
		SELECT owner_id, alias_text, target_user_id FROM aliases
		WHERE owner_id = $1 AND alias_text = $2
	`, int64(owner), ledger.NormalizeAlias(text)).Scan(&ownerID, &a.Text, &target)
	if errors.Is(err, pgx.ErrNoRows) {
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
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM aliases WHERE owner_id = $1 AND alias_text = $2`,
		int64(owner), ledger.NormalizeAlias(text))
	if err != nil {
		return false, fmt.Errorf("failed to delete alias: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) ListAliases(ctx context.Context, owner ledger.UserID) ([]ledger.Alias, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT alias_text, target_user_id FROM aliases
		WHERE owner_id = $1 ORDER BY alias_text
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

func scanOptionalUser(row pgx.Row) (*ledger.User, error) {
	var u ledger.User
	var id int64
	err := row.Scan(&id, &u.FirstName, &u.LastName, &u.Username, &u.UsernameLower)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	u.ID = ledger.UserID(id)
	return &u, nil
}

// PostgreSQL's default LIKE escape character is backslash.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func prefixPattern(s string) string {
	return likeEscaper.Replace(ledger.Fold(s)) + "%"
}

func containsPattern(s string) string {
	return "%" + likeEscaper.Replace(ledger.Fold(s)) + "%"
}
