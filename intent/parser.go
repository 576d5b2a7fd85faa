/*
parser.go - Ordered cascade of grammars

PURPOSE:
  Free text is ambiguous: "bob 15" and "I owe bob 15" can overlap several
  grammars. The Parser tries its matchers in a fixed order and the first one
  that accepts the text wins. There is no best-match scoring.

DEFAULT ORDER:
  1. subject-first   [I] <verb> <amount> [to|from] <recipient> [reason]
                     [I] <verb> <recipient> <amount> [reason]
  2. recipient-first <recipient> <verb> [me] <amount> [to|from me] [reason]
  3. shorthand       <recipient> <amount> [reason]

AMOUNTS:
  Once a grammar accepts the text its amount literal must be a valid
  decimal. A bad literal stops the cascade with ErrMalformedAmount; later
  grammars are not consulted.
*/
package intent

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

type Parser struct {
	matchers []Matcher
}

// NewParser builds a parser over matchers in the given order.
// With no arguments it uses DefaultMatchers.
func NewParser(matchers ...Matcher) *Parser {
	if len(matchers) == 0 {
		matchers = DefaultMatchers()
	}
	return &Parser{matchers: matchers}
}

// Matchers returns the cascade order.
func (p *Parser) Matchers() []string {
	names := make([]string, len(p.matchers))
	for i, m := range p.matchers {
		names[i] = m.Name()
	}
	return names
}

// Parse returns the first grammar's reading of text.
func (p *Parser) Parse(text string) (Intent, error) {
	text = collapseSpaces(text)
	if text == "" {
		return Intent{}, ErrNoMatch
	}

	for _, m := range p.matchers {
		raw, ok := m.Match(text)
		if !ok {
			continue
		}
		amount, ok := parseAmount(raw.Amount)
		if !ok {
			return Intent{}, &AmountError{Literal: raw.Amount, Matcher: m.Name()}
		}
		signed := normalize(raw.Verb, amount, raw.Reversed)

		in := Intent{
			Direction: Gave,
			Amount:    signed,
			Recipient: strings.TrimPrefix(raw.Recipient, "@"),
			Reason:    stripConnective(raw.Reason),
			Matcher:   m.Name(),
		}
		if signed.IsNegative() {
			in.Direction = Got
		}
		return in, nil
	}
	return Intent{}, ErrNoMatch
}

// =============================================================================
// NORMALIZATION - shared by every grammar
// =============================================================================

// normalize turns a grammar's (verb, amount) into the speaker-relative sign.
// Receive verbs negate; reversed grammars negate once more because their
// subject is the counterparty.
func normalize(verb string, amount decimal.Decimal, reversed bool) decimal.Decimal {
	if IsReceiveVerb(verb) {
		amount = amount.Neg()
	}
	if reversed {
		amount = amount.Neg()
	}
	return amount
}

var literal = regexp.MustCompile(`^[-+]?(?:[0-9]+(?:\.[0-9]*)?|\.[0-9]+)$`)

// parseAmount accepts an optional sign, digits and at most one decimal
// point. Thousands separators are rejected.
func parseAmount(s string) (decimal.Decimal, bool) {
	if !literal.MatchString(s) {
		return decimal.Zero, false
	}
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimLeft(s, "+-")
	s = strings.TrimSuffix(s, ".")
	if strings.HasPrefix(s, ".") {
		s = "0" + s
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	if neg {
		d = d.Neg()
	}
	return d, true
}

var connective = regexp.MustCompile(`(?i)^(?:for|because(?:\s+of)?|in)(?:\s+|$)`)

// stripConnective removes one leading "for", "because", "because of" or "in".
func stripConnective(reason string) string {
	return strings.TrimSpace(connective.ReplaceAllString(reason, ""))
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
