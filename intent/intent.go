/*
intent.go - Structured debt statements extracted from free text

PURPOSE:
  An Intent is what the bot understood from a message: who the other person
  is (still unresolved text), how much, which way the money went, and why.

SIGN CONVENTION:
  Amount is signed from the speaker's side.
    Amount > 0  ->  speaker gave money to Recipient (speaker is creditor)
    Amount < 0  ->  speaker received money from Recipient (speaker is debitor)

  "I gave 15 to bob"   ->  +15
  "I got 15 from bob"  ->  -15
  "I owe bob 15"       ->  -15
  "bob owes me 15"     ->  +15
  "bob gave me 15"     ->  -15
  "bob 15 pizza"       ->  +15

SEE ALSO:
  - parser.go: Ordered matcher cascade
  - matchers.go: The three grammars
*/
package intent

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// INTENT
// =============================================================================

type Direction int

const (
	Gave Direction = iota
	Got
)

func (d Direction) String() string {
	if d == Got {
		return "got"
	}
	return "gave"
}

type Intent struct {
	Direction Direction
	Amount    decimal.Decimal // signed, see SIGN CONVENTION
	Recipient string          // verbatim reference, case preserved, no leading @
	Reason    string          // "" when absent
	Matcher   string          // name of the grammar that matched
}

// Magnitude is |Amount|, what the ledger stores.
func (i Intent) Magnitude() decimal.Decimal {
	return i.Amount.Abs()
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrParseFailure is the umbrella for every way a message can fail to
	// parse. Callers reply with a fixed apology and skip resolution.
	ErrParseFailure = errors.New("message not understood")

	// ErrNoMatch means no grammar accepted the message.
	ErrNoMatch = fmt.Errorf("%w: no grammar matched", ErrParseFailure)

	// ErrMalformedAmount means a grammar matched but its amount literal is
	// not a valid decimal ("1,000", "1.2.3").
	ErrMalformedAmount = fmt.Errorf("%w: malformed amount", ErrParseFailure)
)

// AmountError carries the offending literal.
type AmountError struct {
	Literal string
	Matcher string
}

func (e *AmountError) Error() string {
	return fmt.Sprintf("malformed amount %q (matched by %s)", e.Literal, e.Matcher)
}

func (e *AmountError) Unwrap() error {
	return ErrMalformedAmount
}

// IsParseFailure reports whether err means the text was not understood.
func IsParseFailure(err error) bool {
	return errors.Is(err, ErrParseFailure)
}
