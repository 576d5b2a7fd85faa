// Package storetest holds the behaviour every ledger.Store implementation
// must share. Backends call Run from their own tests.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/debt-engine/ledger"
)

// Run exercises a fresh store per subtest.
func Run(t *testing.T, newStore func(t *testing.T) ledger.Store) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s ledger.Store)
	}{
		{"AppendAndBetween", testAppendAndBetween},
		{"DuplicateIdempotencyKey", testDuplicateIdempotencyKey},
		{"AmountScaleSurvives", testAmountScaleSurvives},
		{"Counterparties", testCounterparties},
		{"UpsertUser", testUpsertUser},
		{"FindByUsername", testFindByUsername},
		{"SearchByNameParts", testSearchByNameParts},
		{"SearchByPrefix", testSearchByPrefix},
		{"SearchEscapesWildcards", testSearchEscapesWildcards},
		{"Aliases", testAliases},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

var base = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

func tx(id string, creditor, debitor ledger.UserID, amount string, minute int) ledger.Transaction {
	return ledger.Transaction{
		ID:         ledger.TransactionID(id),
		CreditorID: creditor,
		DebitorID:  debitor,
		Amount:     decimal.RequireFromString(amount),
		Reason:     "reason " + id,
		Timestamp:  base.Add(time.Duration(minute) * time.Minute),
	}
}

func seedUsers(t *testing.T, s ledger.Store) {
	t.Helper()
	ctx := context.Background()
	for _, u := range []ledger.User{
		ledger.NewUser(1, "Alice", "Jones", "alice"),
		ledger.NewUser(2, "Bob", "Smith", "bobs"),
		ledger.NewUser(3, "Bobby", "Tables", "little_bobby"),
		ledger.NewUser(4, "Carol", "Smithers", ""),
		ledger.NewUser(5, "Émile", "Zola", "emile"),
	} {
		_, err := s.UpsertUser(ctx, u)
		require.NoError(t, err)
	}
}

func ids(users []ledger.User) []ledger.UserID {
	out := make([]ledger.UserID, 0, len(users))
	for _, u := range users {
		out = append(out, u.ID)
	}
	return out
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func testAppendAndBetween(t *testing.T, s ledger.Store) {
	ctx := context.Background()

	// Out of order on purpose; Between must sort by timestamp.
	require.NoError(t, s.Append(ctx, tx("t3", 2, 1, "3", 30)))
	require.NoError(t, s.Append(ctx, tx("t1", 1, 2, "1", 10)))
	require.NoError(t, s.Append(ctx, tx("t2", 1, 3, "2", 20)))

	got, err := s.Between(ctx, 2, 1)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ledger.TransactionID("t1"), got[0].ID)
	assert.Equal(t, ledger.TransactionID("t3"), got[1].ID)
	assert.Equal(t, "reason t3", got[1].Reason)
	assert.True(t, got[1].Timestamp.Equal(base.Add(30*time.Minute)))

	none, err := s.Between(ctx, 2, 3)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testDuplicateIdempotencyKey(t *testing.T, s ledger.Store) {
	ctx := context.Background()

	first := tx("t1", 1, 2, "5", 0)
	first.IdempotencyKey = "selection:10:20"
	require.NoError(t, s.Append(ctx, first))

	exists, err := s.Exists(ctx, "selection:10:20")
	require.NoError(t, err)
	assert.True(t, exists)

	second := tx("t2", 1, 2, "5", 1)
	second.IdempotencyKey = "selection:10:20"
	assert.ErrorIs(t, s.Append(ctx, second), ledger.ErrDuplicateIdempotencyKey)

	// Empty keys never collide.
	require.NoError(t, s.Append(ctx, tx("t3", 1, 2, "1", 2)))
	require.NoError(t, s.Append(ctx, tx("t4", 1, 2, "1", 3)))

	got, err := s.Between(ctx, 1, 2)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func testAmountScaleSurvives(t *testing.T, s ledger.Store) {
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, tx("t1", 1, 2, "12.345", 0)))

	got, err := s.Between(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Amount.Equal(decimal.RequireFromString("12.345")), "amount = %s", got[0].Amount)
}

func testCounterparties(t *testing.T, s ledger.Store) {
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, tx("t1", 1, 3, "1", 0)))
	require.NoError(t, s.Append(ctx, tx("t2", 4, 1, "1", 1)))
	require.NoError(t, s.Append(ctx, tx("t3", 1, 2, "1", 2)))
	require.NoError(t, s.Append(ctx, tx("t4", 2, 1, "1", 3)))
	require.NoError(t, s.Append(ctx, tx("t5", 2, 3, "1", 4)))

	got, err := s.Counterparties(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []ledger.UserID{3, 2, 4}, got)
}

// =============================================================================
// DIRECTORY
// =============================================================================

func testUpsertUser(t *testing.T, s ledger.Store) {
	ctx := context.Background()

	created, err := s.UpsertUser(ctx, ledger.NewUser(7, "Dan", "", "dan"))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.UpsertUser(ctx, ledger.NewUser(7, "Daniel", "Brown", "DanB"))
	require.NoError(t, err)
	assert.False(t, created)

	u, err := s.GetUser(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "Daniel", u.FirstName)
	assert.Equal(t, "Brown", u.LastName)
	assert.Equal(t, "DanB", u.Username)
	assert.Equal(t, "danb", u.UsernameLower)

	missing, err := s.GetUser(ctx, 99)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func testFindByUsername(t *testing.T, s ledger.Store) {
	seedUsers(t, s)
	ctx := context.Background()

	u, err := s.FindByUsername(ctx, "bobs")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, ledger.UserID(2), u.ID)

	u, err = s.FindByUsername(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, u)

	// Users without a username are never matched by the empty string.
	u, err = s.FindByUsername(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, u)
}

func testSearchByNameParts(t *testing.T, s ledger.Store) {
	seedUsers(t, s)
	ctx := context.Background()

	got, err := s.SearchByNameParts(ctx, "bob", "smith", "bob smith")
	require.NoError(t, err)
	assert.Equal(t, []ledger.UserID{2}, ids(got))

	got, err = s.SearchByNameParts(ctx, "c", "smi", "c smi")
	require.NoError(t, err)
	assert.Equal(t, []ledger.UserID{4}, ids(got))

	got, err = s.SearchByNameParts(ctx, "ÉMILE", "zo", "émile zo")
	require.NoError(t, err)
	assert.Equal(t, []ledger.UserID{5}, ids(got))
}

func testSearchByPrefix(t *testing.T, s ledger.Store) {
	seedUsers(t, s)
	ctx := context.Background()

	got, err := s.SearchByPrefix(ctx, "BO")
	require.NoError(t, err)
	assert.Equal(t, []ledger.UserID{2, 3}, ids(got))

	got, err = s.SearchByPrefix(ctx, "smith")
	require.NoError(t, err)
	assert.Equal(t, []ledger.UserID{2, 4}, ids(got))

	got, err = s.SearchByPrefix(ctx, "xyz123")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testSearchEscapesWildcards(t *testing.T, s ledger.Store) {
	seedUsers(t, s)
	ctx := context.Background()

	for _, q := range []string{"%", "_ob", `\`} {
		got, err := s.SearchByPrefix(ctx, q)
		require.NoError(t, err)
		assert.Empty(t, got, q)
	}
}

// =============================================================================
// ALIASES
// =============================================================================

func testAliases(t *testing.T, s ledger.Store) {
	ctx := context.Background()

	require.NoError(t, s.UpsertAlias(ctx, ledger.Alias{OwnerID: 1, Text: "The Boss", TargetID: 2}))
	require.NoError(t, s.UpsertAlias(ctx, ledger.Alias{OwnerID: 1, Text: "ace", TargetID: 3}))
	require.NoError(t, s.UpsertAlias(ctx, ledger.Alias{OwnerID: 9, Text: "the boss", TargetID: 4}))

	a, err := s.GetAlias(ctx, 1, "THE   boss")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, ledger.UserID(2), a.TargetID)

	// Retarget.
	require.NoError(t, s.UpsertAlias(ctx, ledger.Alias{OwnerID: 1, Text: "the boss", TargetID: 5}))
	a, err = s.GetAlias(ctx, 1, "the boss")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, ledger.UserID(5), a.TargetID)

	list, err := s.ListAliases(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "ace", list[0].Text)
	assert.Equal(t, "the boss", list[1].Text)

	removed, err := s.DeleteAlias(ctx, 1, "The Boss")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.DeleteAlias(ctx, 1, "the boss")
	require.NoError(t, err)
	assert.False(t, removed)

	// Other owners are untouched.
	a, err = s.GetAlias(ctx, 9, "the boss")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, ledger.UserID(4), a.TargetID)
}
