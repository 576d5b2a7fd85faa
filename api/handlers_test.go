package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/debt-engine/api"
	"github.com/warp/debt-engine/ledger"
	"github.com/warp/debt-engine/store/sqlite"
)

var (
	sam = ledger.NewUser(100, "Sam", "Speaker", "sam")
	bob = ledger.NewUser(1, "Bob", "Smith", "bob")
)

func newServer(t *testing.T, webhook http.Handler) (*httptest.Server, *sqlite.Store) {
	t.Helper()
	return newServerWith(t, func(h *api.Handler) http.Handler {
		return api.NewRouter(h, api.Options{Webhook: webhook})
	})
}

func newServerWith(t *testing.T, router func(h *api.Handler) http.Handler) (*httptest.Server, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	for _, u := range []ledger.User{sam, bob} {
		_, err := store.UpsertUser(ctx, u)
		require.NoError(t, err)
	}

	srv := httptest.NewServer(router(api.NewHandler(store, zerolog.Nop())))
	t.Cleanup(srv.Close)
	return srv, store
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func appendTx(t *testing.T, store *sqlite.Store, id string, creditor, debitor ledger.UserID, amount string, day int) {
	t.Helper()
	require.NoError(t, store.Append(context.Background(), ledger.Transaction{
		ID:         ledger.TransactionID(id),
		CreditorID: creditor,
		DebitorID:  debitor,
		Amount:     decimal.RequireFromString(amount),
		Reason:     "pizza",
		Timestamp:  time.Date(2025, time.March, day, 12, 0, 0, 0, time.UTC),
	}))
}

func TestHealth(t *testing.T) {
	srv, _ := newServer(t, nil)

	var h api.HealthResponse
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/healthz", &h))
	assert.Equal(t, "ok", h.Status)
}

func TestGetUser(t *testing.T) {
	srv, _ := newServer(t, nil)

	var u api.UserDTO
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/users/1", &u))
	assert.Equal(t, "Bob Smith", u.DisplayName)
	assert.Equal(t, "bob", u.Username)

	var e api.ErrorResponse
	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/api/users/42", &e))
	assert.Equal(t, "user not found", e.Error)
	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/api/users/bob", &e))
}

func TestBalancesAndHistory(t *testing.T) {
	// GIVEN: Sam lent Bob 15, Bob paid back 4.5
	// THEN: Both sides see the same balance with opposite signs

	srv, store := newServer(t, nil)
	appendTx(t, store, "t1", sam.ID, bob.ID, "15", 1)
	appendTx(t, store, "t2", bob.ID, sam.ID, "4.5", 2)

	var list []api.BalanceDTO
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/users/100/balances", &list))
	require.Len(t, list, 1)
	assert.Equal(t, int64(1), list[0].Counterparty.ID)
	assert.True(t, list[0].Balance.Equal(decimal.RequireFromString("10.5")))
	assert.Equal(t, "Bob owes you 10.50.", list[0].Text)

	var one api.BalanceDTO
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/users/1/balances/100", &one))
	assert.True(t, one.Balance.Equal(decimal.RequireFromString("-10.5")))
	assert.Equal(t, "You owe Sam 10.50.", one.Text)

	var hist api.HistoryResponse
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/users/100/history/1", &hist))
	require.Len(t, hist.Transactions, 2)
	assert.Equal(t, "t1", hist.Transactions[0].ID)
	assert.True(t, hist.Transactions[1].Signed.Equal(decimal.RequireFromString("-4.5")))
	assert.True(t, hist.Balance.Balance.Equal(decimal.RequireFromString("10.5")))
}

func TestBalances_EmptyIsArray(t *testing.T) {
	srv, _ := newServer(t, nil)

	resp, err := http.Get(srv.URL + "/api/users/100/balances")
	require.NoError(t, err)
	defer resp.Body.Close()

	var raw json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	assert.Equal(t, "[]", string(raw))
}

func TestAliases(t *testing.T) {
	srv, store := newServer(t, nil)
	require.NoError(t, store.UpsertAlias(context.Background(), ledger.Alias{
		OwnerID: sam.ID, Text: "bobby", TargetID: bob.ID,
	}))

	var out []api.AliasDTO
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/users/100/aliases", &out))
	require.Len(t, out, 1)
	assert.Equal(t, "bobby", out[0].Text)
	assert.Equal(t, "Bob Smith", out[0].Target.DisplayName)
}

func TestWebhookMountedOnlyWhenGiven(t *testing.T) {
	srv, _ := newServer(t, nil)
	resp, err := http.Post(srv.URL+api.WebhookPath, "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	called := false
	hook := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})
	srv, _ = newServer(t, hook)
	resp, err = http.Post(srv.URL+api.WebhookPath, "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, called)
}

func TestReadAPI_RequiresBearerToken(t *testing.T) {
	// GIVEN: The read API configured with a token
	// WHEN: Requests arrive without it or with the wrong one
	// THEN: 401, and no ledger data in the body

	srv, store := newServerWith(t, func(h *api.Handler) http.Handler {
		return api.NewRouter(h, api.Options{Token: "s3cret"})
	})
	appendTx(t, store, "t1", sam.ID, bob.ID, "15", 1)

	for _, header := range []string{"", "Bearer wrong", "s3cret", "Basic s3cret"} {
		req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/users/100/balances", nil)
		require.NoError(t, err)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		var e api.ErrorResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, header)
		assert.Equal(t, "unauthorized", e.Error)
	}

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/users/100/balances", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var list []api.BalanceDTO
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, list, 1)

	// Health stays open for load balancers.
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/healthz", nil))
}

func TestPublicRouter_HidesLedger(t *testing.T) {
	// GIVEN: The public listener used for the Telegram webhook
	// THEN: Only health and the webhook are served

	hook := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	srv, store := newServerWith(t, func(h *api.Handler) http.Handler {
		return api.NewPublicRouter(h, hook)
	})
	appendTx(t, store, "t1", sam.ID, bob.ID, "15", 1)

	for _, path := range []string{"/api/users/100", "/api/users/100/balances", "/api/users/100/history/1", "/api/users/100/aliases"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}

	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/healthz", nil))
	resp, err := http.Post(srv.URL+api.WebhookPath, "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
