/*
handlers.go - Read-only HTTP view of the ledger

ENDPOINTS:
  GET /healthz                              Store reachability
  GET /api/users/{id}                       User details
  GET /api/users/{id}/balances              Non-even balances
  GET /api/users/{id}/balances/{other}      Balance with one user
  GET /api/users/{id}/history/{other}       Transactions with one user
  GET /api/users/{id}/aliases               Nicknames owned by the user

Writes only happen through the chat bot; this surface never appends.

ERROR HANDLING:
  - 400: ids that are not integers
  - 404: unknown user
  - 500: store failures
  - 503: health check failed

SECURITY NOTE:
  Served on API_ADDR, apart from the public webhook listener. Set
  API_TOKEN to require a bearer token.
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/warp/debt-engine/ledger"
)

// Pinger is implemented by stores that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store  ledger.Store
	Ledger ledger.Ledger
	Log    zerolog.Logger
}

func NewHandler(store ledger.Store, log zerolog.Logger) *Handler {
	return &Handler{Store: store, Ledger: ledger.NewLedger(store), Log: log}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(Pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			h.Log.Error().Err(err).Msg("health check failed")
			writeError(w, http.StatusServiceUnavailable, "store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	u, ok := h.userParam(w, r, "id")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(u))
}

func (h *Handler) ListBalances(w http.ResponseWriter, r *http.Request) {
	u, ok := h.userParam(w, r, "id")
	if !ok {
		return
	}
	pairs, err := h.Ledger.Summary(r.Context(), u.ID)
	if err != nil {
		h.internal(w, "summary failed", err)
		return
	}
	out := make([]BalanceDTO, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, toBalanceDTO(p.Counterparty, p.Balance))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	u, ok := h.userParam(w, r, "id")
	if !ok {
		return
	}
	other, ok := h.userParam(w, r, "other")
	if !ok {
		return
	}
	bal, err := h.Ledger.Balance(r.Context(), u.ID, other.ID)
	if err != nil {
		h.internal(w, "balance failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(other, bal))
}

func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	u, ok := h.userParam(w, r, "id")
	if !ok {
		return
	}
	other, ok := h.userParam(w, r, "other")
	if !ok {
		return
	}
	txs, err := h.Ledger.History(r.Context(), u.ID, other.ID)
	if err != nil {
		h.internal(w, "history failed", err)
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{
		Transactions: toTransactionDTOs(txs, u.ID),
		Balance:      toBalanceDTO(other, ledger.SumFor(txs, u.ID)),
	})
}

func (h *Handler) ListAliases(w http.ResponseWriter, r *http.Request) {
	u, ok := h.userParam(w, r, "id")
	if !ok {
		return
	}
	aliases, err := h.Store.ListAliases(r.Context(), u.ID)
	if err != nil {
		h.internal(w, "list aliases failed", err)
		return
	}
	out := make([]AliasDTO, 0, len(aliases))
	for _, a := range aliases {
		target, err := h.Store.GetUser(r.Context(), a.TargetID)
		if err != nil {
			h.internal(w, "alias target lookup failed", err)
			return
		}
		if target == nil {
			target = &ledger.User{ID: a.TargetID}
		}
		out = append(out, AliasDTO{Text: a.Text, Target: toUserDTO(*target)})
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// HELPERS
// =============================================================================

// userParam loads the user named by a path parameter, writing the error
// response itself when it cannot.
func (h *Handler) userParam(w http.ResponseWriter, r *http.Request, name string) (ledger.User, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id", err)
		return ledger.User{}, false
	}
	u, err := h.Store.GetUser(r.Context(), ledger.UserID(id))
	if err != nil {
		h.internal(w, "user lookup failed", err)
		return ledger.User{}, false
	}
	if u == nil {
		writeError(w, http.StatusNotFound, "user not found", nil)
		return ledger.User{}, false
	}
	return *u, true
}

func (h *Handler) internal(w http.ResponseWriter, msg string, err error) {
	h.Log.Error().Err(err).Msg(msg)
	writeError(w, http.StatusInternalServerError, msg, nil)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
