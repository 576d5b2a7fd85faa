/*
token.go - Self-contained encoding of a pending action

PURPOSE:
  When a reference is ambiguous the bot cannot write yet. Everything needed
  to finish the action later travels inside the button's callback data, so
  no server state survives between prompt and press. Tokens must therefore
  decode identically across restarts and versions.

WIRE FORMAT:
  <kind>:<candidate_id>[:<field>...]

  transaction:<id>:<amount>:<reason>
  alias:<id>:<alias text>
  history:<id>
  balance:<id>

  Inside fields "\" is written "\\" and ":" is written "\:".
  candidate_id 0 is the "none of these" choice.

LIMITS:
  Telegram caps callback data at 64 bytes. Transaction reasons are cut to
  fit (BuildSelection tells the user); alias text that does not fit is an
  error.
*/
package selection

import (
	"errors"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/warp/debt-engine/ledger"
)

// MaxTokenLen is the largest token in bytes.
const MaxTokenLen = 64

var (
	// ErrMalformedToken is returned for anything Decode cannot trust.
	ErrMalformedToken = errors.New("malformed selection token")

	// ErrTokenTooLong is returned when a pending action cannot fit.
	ErrTokenTooLong = errors.New("selection token too long")
)

// =============================================================================
// PENDING ACTION
// =============================================================================

type Kind string

const (
	KindTransaction Kind = "transaction"
	KindHistory     Kind = "history"
	KindBalance     Kind = "balance"
	KindAlias       Kind = "alias"
)

// fields is the number of extra fields each kind carries.
var fields = map[Kind]int{
	KindTransaction: 2,
	KindAlias:       1,
	KindHistory:     0,
	KindBalance:     0,
}

// PendingAction is what the user asked for, minus the person.
type PendingAction struct {
	Kind Kind

	// Transaction: signed amount from the speaker's side, and reason.
	Amount decimal.Decimal
	Reason string

	// Alias: nickname to create.
	AliasText string
}

// Choice is a decoded button press.
type Choice struct {
	Action      PendingAction
	CandidateID ledger.UserID
}

// Cancelled reports whether the user picked "none of these".
func (c Choice) Cancelled() bool {
	return c.CandidateID == 0
}

// =============================================================================
// ENCODE / DECODE
// =============================================================================

var escaper = strings.NewReplacer(`\`, `\\`, `:`, `\:`)

// Encode renders action for candidate. Pass 0 for the cancel option.
func Encode(action PendingAction, candidate ledger.UserID) (string, error) {
	n, ok := fields[action.Kind]
	if !ok {
		return "", errors.New("unknown selection kind " + strconv.Quote(string(action.Kind)))
	}
	if candidate < 0 {
		return "", errors.New("negative candidate id")
	}

	head := string(action.Kind) + ":" + strconv.FormatInt(int64(candidate), 10)
	switch n {
	case 0:
		return head, nil
	case 1:
		tok := head + ":" + escaper.Replace(action.AliasText)
		if len(tok) > MaxTokenLen {
			return "", ErrTokenTooLong
		}
		return tok, nil
	}

	head += ":" + formatAmount(action.Amount) + ":"
	budget := MaxTokenLen - len(head)
	if budget < 0 {
		return "", ErrTokenTooLong
	}
	return head + truncateEscaped(action.Reason, budget), nil
}

// FitReason returns the transaction reason as it survives Encode for
// candidate. Larger ids leave less room.
func FitReason(action PendingAction, candidate ledger.UserID) (string, error) {
	tok, err := Encode(action, candidate)
	if err != nil {
		return "", err
	}
	c, err := Decode(tok)
	if err != nil {
		return "", err
	}
	return c.Action.Reason, nil
}

// Decode parses a token produced by Encode.
func Decode(token string) (Choice, error) {
	if token == "" || len(token) > MaxTokenLen || !utf8.ValidString(token) {
		return Choice{}, ErrMalformedToken
	}
	parts, ok := split(token)
	if !ok || len(parts) < 2 {
		return Choice{}, ErrMalformedToken
	}

	kind := Kind(parts[0])
	n, known := fields[kind]
	if !known || len(parts) != 2+n {
		return Choice{}, ErrMalformedToken
	}

	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || id < 0 || parts[1] != strconv.FormatInt(id, 10) {
		return Choice{}, ErrMalformedToken
	}

	c := Choice{Action: PendingAction{Kind: kind}, CandidateID: ledger.UserID(id)}
	switch kind {
	case KindTransaction:
		amount, err := decimal.NewFromString(parts[2])
		if err != nil {
			return Choice{}, ErrMalformedToken
		}
		c.Action.Amount = amount
		c.Action.Reason = parts[3]
	case KindAlias:
		c.Action.AliasText = parts[2]
	}
	return c, nil
}

// formatAmount keeps the literal scale: 12.30 stays "12.30".
func formatAmount(d decimal.Decimal) string {
	if exp := d.Exponent(); exp < 0 {
		return d.StringFixed(-exp)
	}
	return d.String()
}

// truncateEscaped escapes s and cuts it to at most budget bytes without
// splitting a rune or an escape sequence.
func truncateEscaped(s string, budget int) string {
	var b strings.Builder
	for _, r := range s {
		piece := string(r)
		if r == '\\' || r == ':' {
			piece = `\` + piece
		}
		if b.Len()+len(piece) > budget {
			break
		}
		b.WriteString(piece)
	}
	return b.String()
}

// split cuts on unescaped ':' and unescapes each field. A dangling or
// unknown escape fails.
func split(token string) ([]string, bool) {
	var (
		parts []string
		cur   strings.Builder
	)
	for i := 0; i < len(token); i++ {
		switch c := token[i]; c {
		case '\\':
			if i+1 >= len(token) {
				return nil, false
			}
			next := token[i+1]
			if next != '\\' && next != ':' {
				return nil, false
			}
			cur.WriteByte(next)
			i++
		case ':':
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	return append(parts, cur.String()), true
}
