package ledger

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Epsilon absorbs rounding residue when deciding whether two users are even.
var Epsilon = decimal.New(1, -3)

// IsEven reports whether |balance| < Epsilon.
func IsEven(balance decimal.Decimal) bool {
	return balance.Abs().LessThan(Epsilon)
}

// FormatAmount renders the magnitude with two decimals, dropping ".00".
func FormatAmount(d decimal.Decimal) string {
	return strings.TrimSuffix(d.Abs().StringFixed(2), ".00")
}

// DebtSentence phrases a balance relative to the counterparty name.
// Positive balance means name owes the viewer. qualifier ("now",
// "currently") is optional.
//
//	DebtSentence("Bob", 15, "now")  -> "Bob now owes you 15."
//	DebtSentence("Bob", -15, "")    -> "You owe Bob 15."
//	DebtSentence("Bob", 0, "now")   -> "You and Bob are now even."
func DebtSentence(name string, balance decimal.Decimal, qualifier string) string {
	q := ""
	if qualifier != "" {
		q = qualifier + " "
	}
	if IsEven(balance) {
		return fmt.Sprintf("You and %s are %seven.", name, q)
	}
	if balance.IsPositive() {
		return fmt.Sprintf("%s %sowes you %s.", name, q, FormatAmount(balance))
	}
	return fmt.Sprintf("You %sowe %s %s.", q, name, FormatAmount(balance))
}

// GaveSentence phrases a single signed transfer from the viewer's side.
func GaveSentence(name string, signed decimal.Decimal) string {
	if signed.IsPositive() {
		return fmt.Sprintf("You gave %s %s", name, FormatAmount(signed))
	}
	return fmt.Sprintf("%s gave you %s", name, FormatAmount(signed))
}

// HistoryLine renders one transaction for viewer's /history output.
func HistoryLine(tx Transaction, viewer UserID, name string) string {
	var b strings.Builder
	b.WriteString(tx.Timestamp.Format("2006-01-02"))
	b.WriteString(":  ")
	b.WriteString(GaveSentence(name, tx.SignedFor(viewer)))
	if tx.Reason != "" {
		b.WriteString(" for ")
		b.WriteString(tx.Reason)
	}
	b.WriteString(".")
	return b.String()
}
