// Package store provides an in-memory ledger.Store.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/warp/debt-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	transactions []ledger.Transaction // ordered by Timestamp, stable on ties
	idempotency  map[string]bool

	users     map[ledger.UserID]*ledger.User
	userOrder []ledger.UserID // insertion order for stable search results

	aliases map[aliasKey]ledger.Alias
}

type aliasKey struct {
	Owner ledger.UserID
	Text  string
}

func NewMemory() *Memory {
	return &Memory{
		idempotency: make(map[string]bool),
		users:       make(map[ledger.UserID]*ledger.User),
		aliases:     make(map[aliasKey]ledger.Alias),
	}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// Append adds a single transaction. Append-only.
func (m *Memory) Append(_ context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tx.IdempotencyKey != "" && m.idempotency[tx.IdempotencyKey] {
		return ledger.ErrDuplicateIdempotencyKey
	}

	// Binary search for insertion point; equal timestamps keep arrival order.
	i := sort.Search(len(m.transactions), func(i int) bool {
		return m.transactions[i].Timestamp.After(tx.Timestamp)
	})
	m.transactions = append(m.transactions, ledger.Transaction{})
	copy(m.transactions[i+1:], m.transactions[i:])
	m.transactions[i] = tx

	if tx.IdempotencyKey != "" {
		m.idempotency[tx.IdempotencyKey] = true
	}
	return nil
}

func (m *Memory) Between(_ context.Context, a, b ledger.UserID) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Transaction
	for _, tx := range m.transactions {
		if tx.Involves(a, b) {
			result = append(result, tx)
		}
	}
	return result, nil
}

func (m *Memory) Counterparties(_ context.Context, a ledger.UserID) ([]ledger.UserID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[ledger.UserID]bool)
	var out []ledger.UserID
	add := func(id ledger.UserID) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, tx := range m.transactions {
		if tx.CreditorID == a {
			add(tx.DebitorID)
		}
	}
	for _, tx := range m.transactions {
		if tx.DebitorID == a {
			add(tx.CreditorID)
		}
	}
	return out, nil
}

func (m *Memory) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idempotencyKey], nil
}

// =============================================================================
// DIRECTORY
// =============================================================================

func (m *Memory) UpsertUser(_ context.Context, u ledger.User) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u.UsernameLower = ledger.Fold(u.Username)
	_, exists := m.users[u.ID]
	if !exists {
		m.userOrder = append(m.userOrder, u.ID)
	}
	m.users[u.ID] = &u
	return !exists, nil
}

func (m *Memory) GetUser(_ context.Context, id ledger.UserID) (*ledger.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (m *Memory) FindByUsername(_ context.Context, usernameLower string) (*ledger.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if usernameLower == "" {
		return nil, nil
	}
	for _, id := range m.userOrder {
		if u := m.users[id]; u.UsernameLower == usernameLower {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *Memory) SearchByNameParts(_ context.Context, first, last, full string) ([]ledger.User, error) {
	first, last, full = ledger.Fold(first), ledger.Fold(last), ledger.Fold(full)
	return m.search(func(u *ledger.User) bool {
		fn, ln := ledger.Fold(u.FirstName), ledger.Fold(u.LastName)
		return (strings.HasPrefix(fn, first) && strings.Contains(ln, last)) ||
			strings.HasPrefix(fn+" "+ln, full)
	}), nil
}

func (m *Memory) SearchByPrefix(_ context.Context, prefix string) ([]ledger.User, error) {
	prefix = ledger.Fold(prefix)
	return m.search(func(u *ledger.User) bool {
		fn, ln := ledger.Fold(u.FirstName), ledger.Fold(u.LastName)
		return strings.HasPrefix(fn, prefix) ||
			strings.HasPrefix(ln, prefix) ||
			strings.HasPrefix(fn+" "+ln, prefix)
	}), nil
}

func (m *Memory) search(match func(*ledger.User) bool) []ledger.User {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ledger.User
	for _, id := range m.userOrder {
		if u := m.users[id]; match(u) {
			out = append(out, *u)
		}
	}
	return out
}

// =============================================================================
// ALIASES
// =============================================================================

func (m *Memory) UpsertAlias(_ context.Context, a ledger.Alias) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a.Text = ledger.NormalizeAlias(a.Text)
	m.aliases[aliasKey{Owner: a.OwnerID, Text: a.Text}] = a
	return nil
}

func (m *Memory) GetAlias(_ context.Context, owner ledger.UserID, text string) (*ledger.Alias, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.aliases[aliasKey{Owner: owner, Text: ledger.NormalizeAlias(text)}]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (m *Memory) DeleteAlias(_ context.Context, owner ledger.UserID, text string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := aliasKey{Owner: owner, Text: ledger.NormalizeAlias(text)}
	if _, ok := m.aliases[k]; !ok {
		return false, nil
	}
	delete(m.aliases, k)
	return true, nil
}

func (m *Memory) ListAliases(_ context.Context, owner ledger.UserID) ([]ledger.Alias, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ledger.Alias
	for k, a := range m.aliases {
		if k.Owner == owner {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Text < out[j].Text })
	return out, nil
}
