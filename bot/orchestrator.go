/*
orchestrator.go - Turns a resolved intent into exactly one ledger write

PURPOSE:
  Maps the signed amount to creditor/debitor, records the transaction once,
  and phrases the outcome for both people from the post-write balance.

FAILURE MODEL:
  The write is the source of truth. Anything after it (balance read, event
  publishing, notification delivery) may fail without undoing it, and
  Execute never retries.

SEE ALSO:
  - ledger/format.go: Sentences
  - events/publisher.go: debt.recorded events
*/
package bot

import (
	"context"
	"math/rand/v2"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/warp/debt-engine/events"
	"github.com/warp/debt-engine/ledger"
)

// Outcome of a successful Execute.
type Outcome struct {
	Transaction  ledger.Transaction
	Balance      decimal.Decimal // speaker vs recipient after the write
	Confirmation string
	Notification Notification
}

type Orchestrator struct {
	Ledger ledger.Ledger
	Events events.Publisher
	Log    zerolog.Logger

	// Affirm picks the opening word of a confirmation.
	Affirm func() string
}

func NewOrchestrator(l ledger.Ledger, pub events.Publisher, log zerolog.Logger) *Orchestrator {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Orchestrator{
		Ledger: l,
		Events: pub,
		Log:    log,
		Affirm: randomAffirmation,
	}
}

func randomAffirmation() string {
	return Affirmations[rand.IntN(len(Affirmations))]
}

// Execute records signed (positive: speaker gave) between speaker and
// recipient. idempotencyKey may be empty.
func (o *Orchestrator) Execute(ctx context.Context, speaker, recipient ledger.User, signed decimal.Decimal, reason, idempotencyKey string) (Outcome, error) {
	tx := ledger.Transaction{
		CreditorID:     speaker.ID,
		DebitorID:      recipient.ID,
		Amount:         signed.Abs(),
		Reason:         strings.TrimSpace(reason),
		IdempotencyKey: idempotencyKey,
	}
	if signed.IsNegative() {
		tx.CreditorID, tx.DebitorID = recipient.ID, speaker.ID
	}

	recorded, err := o.Ledger.Record(ctx, tx)
	if err != nil {
		return Outcome{}, err
	}

	log := o.Log.With().
		Str("transaction_id", string(recorded.ID)).
		Int64("creditor_id", int64(recorded.CreditorID)).
		Int64("debitor_id", int64(recorded.DebitorID)).
		Logger()
	log.Info().Str("amount", recorded.Amount.String()).Msg("transaction recorded")

	out := Outcome{Transaction: recorded}
	balance, err := o.Ledger.Balance(ctx, speaker.ID, recipient.ID)
	haveBalance := err == nil
	if err != nil {
		log.Warn().Err(err).Msg("post-write balance unavailable")
	} else {
		out.Balance = balance
	}

	out.Confirmation = o.confirmation(recipient.ShortName(), signed, tx.Reason, balance, haveBalance)
	out.Notification = Notification{
		To:   recipient.ID,
		Text: notification(speaker.ShortName(), signed.Neg(), tx.Reason, balance.Neg(), haveBalance),
	}

	if haveBalance {
		creditorBalance := balance
		if recorded.CreditorID != speaker.ID {
			creditorBalance = balance.Neg()
		}
		if err := o.Events.PublishRecorded(ctx, events.NewRecordedEvent(recorded, creditorBalance)); err != nil {
			log.Warn().Err(err).Msg("publish debt.recorded failed")
		}
	}
	return out, nil
}

func (o *Orchestrator) confirmation(name string, signed decimal.Decimal, reason string, balance decimal.Decimal, haveBalance bool) string {
	var b strings.Builder
	b.WriteString(o.Affirm())
	b.WriteString("! ")
	b.WriteString(transferSentence(name, signed, reason))
	if haveBalance {
		b.WriteString("\n\n")
		b.WriteString(ledger.DebtSentence(name, balance, "now"))
	}
	return b.String()
}

// notification is written from the recipient's side, so amounts and
// balances arrive already negated.
func notification(name string, signed decimal.Decimal, reason string, balance decimal.Decimal, haveBalance bool) string {
	msg := transferSentence(name, signed, reason)
	if haveBalance {
		msg += "\n\n" + ledger.DebtSentence(name, balance, "now")
	}
	return msg
}

func transferSentence(name string, signed decimal.Decimal, reason string) string {
	s := ledger.GaveSentence(name, signed)
	if reason != "" {
		s += " for " + reason
	}
	return s + "."
}
