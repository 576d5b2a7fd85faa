/*
dto.go - JSON shapes of the read-only HTTP API

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Response: Wrappers around several DTOs

Amounts are decimal strings ("15", "4.5"). Balances are signed from the
path user's side: positive means the counterparty owes them.
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/debt-engine/ledger"
)

// UserDTO represents a registered chat user.
type UserDTO struct {
	ID          int64  `json:"id"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name,omitempty"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"display_name"`
}

// BalanceDTO is the net balance with one counterparty.
type BalanceDTO struct {
	Counterparty UserDTO         `json:"counterparty"`
	Balance      decimal.Decimal `json:"balance"`
	Even         bool            `json:"even"`
	Text         string          `json:"text"`
}

// TransactionDTO is one ledger entry. Signed is the amount from the path
// user's side.
type TransactionDTO struct {
	ID         string          `json:"id"`
	CreditorID int64           `json:"creditor_id"`
	DebitorID  int64           `json:"debitor_id"`
	Amount     decimal.Decimal `json:"amount"`
	Signed     decimal.Decimal `json:"signed"`
	Reason     string          `json:"reason,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// HistoryResponse lists the transactions between two users and their
// resulting balance.
type HistoryResponse struct {
	Transactions []TransactionDTO `json:"transactions"`
	Balance      BalanceDTO       `json:"balance"`
}

// AliasDTO is one of a user's nicknames.
type AliasDTO struct {
	Text   string  `json:"text"`
	Target UserDTO `json:"target"`
}

// HealthResponse is returned by /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION
// =============================================================================

func toUserDTO(u ledger.User) UserDTO {
	return UserDTO{
		ID:          int64(u.ID),
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		Username:    u.Username,
		DisplayName: u.DisplayName(),
	}
}

func toBalanceDTO(counterparty ledger.User, balance decimal.Decimal) BalanceDTO {
	return BalanceDTO{
		Counterparty: toUserDTO(counterparty),
		Balance:      balance,
		Even:         ledger.IsEven(balance),
		Text:         ledger.DebtSentence(counterparty.ShortName(), balance, ""),
	}
}

func toTransactionDTOs(txs []ledger.Transaction, viewer ledger.UserID) []TransactionDTO {
	out := make([]TransactionDTO, 0, len(txs))
	for _, tx := range txs {
		out = append(out, TransactionDTO{
			ID:         string(tx.ID),
			CreditorID: int64(tx.CreditorID),
			DebitorID:  int64(tx.DebitorID),
			Amount:     tx.Amount,
			Signed:     tx.SignedFor(viewer),
			Reason:     tx.Reason,
			Timestamp:  tx.Timestamp,
		})
	}
	return out
}
