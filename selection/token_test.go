package selection_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/debt-engine/selection"
)

func TestToken_TransactionRoundTrip(t *testing.T) {
	// GIVEN: A pending transaction of 12.30 for "cinema ticket"
	// WHEN: It is encoded for candidate 42 and decoded again
	// THEN: Amount (with its scale) and reason survive unchanged

	action := selection.PendingAction{
		Kind:   selection.KindTransaction,
		Amount: decimal.RequireFromString("12.30"),
		Reason: "cinema ticket",
	}

	tok, err := selection.Encode(action, 42)
	require.NoError(t, err)
	assert.Equal(t, "transaction:42:12.30:cinema ticket", tok)

	c, err := selection.Decode(tok)
	require.NoError(t, err)
	assert.False(t, c.Cancelled())
	assert.EqualValues(t, 42, c.CandidateID)
	assert.Equal(t, selection.KindTransaction, c.Action.Kind)
	assert.Equal(t, "12.30", c.Action.Amount.StringFixed(2))
	assert.True(t, c.Action.Amount.Equal(action.Amount))
	assert.Equal(t, "cinema ticket", c.Action.Reason)
}

func TestToken_NegativeAndIntegerAmounts(t *testing.T) {
	for _, amount := range []string{"-40", "15", "0.001", "-7.50"} {
		tok, err := selection.Encode(selection.PendingAction{
			Kind:   selection.KindTransaction,
			Amount: decimal.RequireFromString(amount),
		}, 1)
		require.NoError(t, err, amount)

		c, err := selection.Decode(tok)
		require.NoError(t, err, amount)
		assert.True(t, c.Action.Amount.Equal(decimal.RequireFromString(amount)), amount)
		assert.Empty(t, c.Action.Reason)
	}
}

func TestToken_EscapesDelimiter(t *testing.T) {
	action := selection.PendingAction{
		Kind:   selection.KindTransaction,
		Amount: decimal.NewFromInt(5),
		Reason: `tea: 2 cups \ milk`,
	}

	tok, err := selection.Encode(action, 7)
	require.NoError(t, err)
	assert.Equal(t, `transaction:7:5:tea\: 2 cups \\ milk`, tok)

	c, err := selection.Decode(tok)
	require.NoError(t, err)
	assert.Equal(t, `tea: 2 cups \ milk`, c.Action.Reason)
}

func TestToken_OtherKinds(t *testing.T) {
	tok, err := selection.Encode(selection.PendingAction{Kind: selection.KindAlias, AliasText: "the:boss"}, 9)
	require.NoError(t, err)
	c, err := selection.Decode(tok)
	require.NoError(t, err)
	assert.Equal(t, selection.KindAlias, c.Action.Kind)
	assert.Equal(t, "the:boss", c.Action.AliasText)

	for _, kind := range []selection.Kind{selection.KindHistory, selection.KindBalance} {
		tok, err := selection.Encode(selection.PendingAction{Kind: kind}, 9)
		require.NoError(t, err)
		assert.Equal(t, string(kind)+":9", tok)

		c, err := selection.Decode(tok)
		require.NoError(t, err)
		assert.Equal(t, kind, c.Action.Kind)
		assert.EqualValues(t, 9, c.CandidateID)
	}
}

func TestToken_CancelForEveryKind(t *testing.T) {
	actions := []selection.PendingAction{
		{Kind: selection.KindTransaction, Amount: decimal.NewFromInt(10), Reason: "lunch"},
		{Kind: selection.KindAlias, AliasText: "boss"},
		{Kind: selection.KindHistory},
		{Kind: selection.KindBalance},
	}
	for _, a := range actions {
		tok, err := selection.Encode(a, 0)
		require.NoError(t, err)

		c, err := selection.Decode(tok)
		require.NoError(t, err)
		assert.True(t, c.Cancelled(), a.Kind)
		assert.Equal(t, a.Kind, c.Action.Kind)
	}
}

func TestToken_LengthBound(t *testing.T) {
	// Long reasons are cut to fit, never splitting a rune or an escape.
	long := strings.Repeat("ü:", 40)
	tok, err := selection.Encode(selection.PendingAction{
		Kind:   selection.KindTransaction,
		Amount: decimal.RequireFromString("123.45"),
		Reason: long,
	}, 1234567890)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(tok), selection.MaxTokenLen)
	assert.True(t, utf8.ValidString(tok))

	c, err := selection.Decode(tok)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(long, c.Action.Reason))
	assert.NotEmpty(t, c.Action.Reason)

	_, err = selection.Encode(selection.PendingAction{
		Kind:      selection.KindAlias,
		AliasText: strings.Repeat("x", selection.MaxTokenLen),
	}, 1)
	assert.ErrorIs(t, err, selection.ErrTokenTooLong)
}

func TestToken_DecodeFailsClosed(t *testing.T) {
	bad := []string{
		"",
		"transaction",
		"transfer:1",
		"history:abc",
		"history:-1",
		"history:01",
		"history:1:extra",
		"balance",
		"transaction:1:12.30",
		"transaction:1:twelve:lunch",
		"transaction:1:5:lunch\\",
		"transaction:1:5:lu\\nch",
		"alias:1",
		"history:" + strings.Repeat("1", selection.MaxTokenLen),
		"history:1\xff",
	}
	for _, tok := range bad {
		_, err := selection.Decode(tok)
		assert.ErrorIs(t, err, selection.ErrMalformedToken, "%q", tok)
	}
}
