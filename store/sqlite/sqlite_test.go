package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/debt-engine/ledger"
	"github.com/warp/debt-engine/ledger/storetest"
	"github.com/warp/debt-engine/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ledger.Store {
		return newTestStore(t)
	})
}

func TestStore_ReopenKeepsData(t *testing.T) {
	// GIVEN: A file-backed database with one user and one transaction
	// WHEN: The store is closed and reopened
	// THEN: Both are still there and migration is a no-op

	path := filepath.Join(t.TempDir(), "debts.db")
	ctx := context.Background()

	s, err := sqlite.New(path)
	require.NoError(t, err)
	_, err = s.UpsertUser(ctx, ledger.NewUser(1, "Alice", "", "alice"))
	require.NoError(t, err)
	_, err = ledger.NewLedger(s).Record(ctx, ledger.Transaction{
		CreditorID: 1,
		DebitorID:  2,
		Amount:     decimal.RequireFromString("10.01"),
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = sqlite.New(path)
	require.NoError(t, err)
	defer s.Close()

	u, err := s.GetUser(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "Alice", u.FirstName)

	txs, err := s.Between(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "10.01", txs[0].Amount.String())
}
