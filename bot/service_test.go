package bot_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/debt-engine/bot"
	"github.com/warp/debt-engine/events"
	"github.com/warp/debt-engine/ledger"
	"github.com/warp/debt-engine/selection"
	"github.com/warp/debt-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	sam    = ledger.NewUser(100, "Sam", "Speaker", "sam")
	bob    = ledger.NewUser(1, "Bob", "Smith", "bob")
	bonnie = ledger.NewUser(2, "Bonnie", "Jones", "")
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.RecordedEvent
	err    error
}

func (p *recordingPublisher) PublishRecorded(_ context.Context, e events.RecordedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

type fixture struct {
	svc    *bot.Service
	store  *sqlite.Store
	events *recordingPublisher
}

func newFixture(t *testing.T, users ...ledger.User) fixture {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	for _, u := range users {
		_, err := store.UpsertUser(ctx, u)
		require.NoError(t, err)
	}

	pub := &recordingPublisher{}
	svc := bot.NewService(bot.Deps{Store: store, Events: pub, Log: zerolog.Nop()})
	svc.Orchestrator().Affirm = func() string { return "Cool" }
	return fixture{svc: svc, store: store, events: pub}
}

func (f fixture) balance(t *testing.T, a, b ledger.UserID) decimal.Decimal {
	t.Helper()
	bal, err := ledger.NewLedger(f.store).Balance(context.Background(), a, b)
	require.NoError(t, err)
	return bal
}

func (f fixture) history(t *testing.T, a, b ledger.UserID) []ledger.Transaction {
	t.Helper()
	txs, err := f.store.Between(context.Background(), a, b)
	require.NoError(t, err)
	return txs
}

func press(t *testing.T, f fixture, prompt *selection.Prompt, label string, msgID int) bot.CallbackReply {
	t.Helper()
	require.NotNil(t, prompt)
	for _, o := range prompt.Options {
		if o.Label == label {
			return f.svc.HandleCallback(context.Background(), sam, bot.MessageRef{ChatID: 100, MessageID: msgID}, o.Token)
		}
	}
	t.Fatalf("no option %q", label)
	return bot.CallbackReply{}
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestHandleText_GaveToUsername(t *testing.T) {
	// GIVEN: Exactly one registered user with username bob
	// WHEN: Sam says "I gave 15 to bob for pizza"
	// THEN: Sam is creditor, bob owes Sam 15, bob is notified

	f := newFixture(t, bob)

	r := f.svc.HandleText(context.Background(), sam, "I gave 15 to bob for pizza")

	assert.Equal(t, "Cool! You gave Bob 15 for pizza.\n\nBob now owes you 15.", r.Text)
	require.Len(t, r.Notifications, 1)
	assert.Equal(t, bob.ID, r.Notifications[0].To)
	assert.Equal(t, "Sam gave you 15 for pizza.\n\nYou now owe Sam 15.", r.Notifications[0].Text)

	txs := f.history(t, sam.ID, bob.ID)
	require.Len(t, txs, 1)
	assert.Equal(t, sam.ID, txs[0].CreditorID)
	assert.Equal(t, bob.ID, txs[0].DebitorID)
	assert.Contains(t, txs[0].Reason, "pizza")
	assert.True(t, f.balance(t, sam.ID, bob.ID).Equal(decimal.NewFromInt(15)))

	require.Len(t, f.events.events, 1)
	assert.Equal(t, int64(sam.ID), f.events.events[0].CreditorID)
	assert.True(t, f.events.events[0].Balance.Equal(decimal.NewFromInt(15)))
}

func TestHandleText_OwesMeMatchesGave(t *testing.T) {
	// "bob owes me 40" makes bob the debitor, like "I gave 40 to bob".
	owes := newFixture(t, bob)
	owes.svc.HandleText(context.Background(), sam, "bob owes me 40 for groceries")

	gave := newFixture(t, bob)
	gave.svc.HandleText(context.Background(), sam, "I gave 40 to bob for groceries")

	a, b := owes.history(t, sam.ID, bob.ID), gave.history(t, sam.ID, bob.ID)
	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Equal(t, b[0].CreditorID, a[0].CreditorID)
	assert.Equal(t, b[0].DebitorID, a[0].DebitorID)
	assert.True(t, a[0].Amount.Equal(b[0].Amount))
	assert.Equal(t, b[0].Reason, a[0].Reason)
	assert.True(t, owes.balance(t, sam.ID, bob.ID).Equal(decimal.NewFromInt(40)))
}

func TestHandleText_GotFrom(t *testing.T) {
	f := newFixture(t, bob)

	r := f.svc.HandleText(context.Background(), sam, "I got 12.30 from bob for the cinema ticket")

	assert.Equal(t, "Cool! Bob gave you 12.30 for the cinema ticket.\n\nYou now owe Bob 12.30.", r.Text)
	assert.True(t, f.balance(t, sam.ID, bob.ID).Equal(decimal.RequireFromString("-12.30")))
}

func TestHandleText_RecipientNotFound(t *testing.T) {
	f := newFixture(t, bob, bonnie)

	r := f.svc.HandleText(context.Background(), sam, "xyz123 15 lunch")

	assert.Equal(t, "Sorry, I don't know who xyz123 is. Maybe you have to ask them to register?", r.Text)
	assert.Empty(t, f.history(t, sam.ID, bob.ID))
	assert.Empty(t, r.Notifications)
}

func TestHandleText_NotUnderstood(t *testing.T) {
	f := newFixture(t, bob)

	for _, text := range []string{"hello there", "I gave 1,000 to bob", "I gave 15", "I owe 15"} {
		r := f.svc.HandleText(context.Background(), sam, text)
		assert.Equal(t, bot.MsgNotUnderstood, r.Text, text)
	}
	assert.Empty(t, f.history(t, sam.ID, bob.ID))
}

func TestHandleText_MultiWordRecipient(t *testing.T) {
	// GIVEN: Bob Smith and Bob Jones are both registered
	// WHEN: Sam names Bob Smith in full after "to" / "from"
	// THEN: The whole name is resolved and only the reason follows it

	bobJones := ledger.NewUser(3, "Bob", "Jones", "")
	f := newFixture(t, bob, bobJones)
	ctx := context.Background()

	r := f.svc.HandleText(ctx, sam, "I gave 15 to Bob Smith for pizza")
	assert.Equal(t, "Cool! You gave Bob 15 for pizza.\n\nBob now owes you 15.", r.Text)

	txs := f.history(t, sam.ID, bob.ID)
	require.Len(t, txs, 1)
	assert.Equal(t, "pizza", txs[0].Reason)
	assert.Empty(t, f.history(t, sam.ID, bobJones.ID))

	f.svc.HandleText(ctx, sam, "I got 12.30 from Bob Smith")
	assert.True(t, f.balance(t, sam.ID, bob.ID).Equal(decimal.RequireFromString("2.70")))
	assert.Empty(t, f.history(t, sam.ID, bobJones.ID))
}

func TestHandleText_FullNameNeverFallsBackToFirstName(t *testing.T) {
	// Only Bob Jones exists: "Bob Smith" must not land on him.
	bobJones := ledger.NewUser(3, "Bob", "Jones", "")
	f := newFixture(t, bobJones)

	r := f.svc.HandleText(context.Background(), sam, "I gave 15 to Bob Smith for pizza")

	assert.Equal(t, "Sorry, I don't know who Bob Smith is. Maybe you have to ask them to register?", r.Text)
	assert.Empty(t, f.history(t, sam.ID, bobJones.ID))
}

func TestHandleText_ZeroAndSelf(t *testing.T) {
	f := newFixture(t, bob)
	ctx := context.Background()

	assert.Equal(t, bot.MsgZeroAmount, f.svc.HandleText(ctx, sam, "I gave 0 to bob").Text)
	assert.Equal(t, bot.MsgSelfTransaction, f.svc.HandleText(ctx, sam, "I gave 5 to sam").Text)
}

func TestHandleText_RegistersSender(t *testing.T) {
	f := newFixture(t)

	f.svc.HandleText(context.Background(), sam, "hello")

	u, err := f.store.GetUser(context.Background(), sam.ID)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "Sam", u.FirstName)
}

// =============================================================================
// DISAMBIGUATION
// =============================================================================

func TestHandleText_AmbiguousThenSelect(t *testing.T) {
	// GIVEN: Bob Smith and Bonnie Jones both start with "bo"
	// WHEN: Sam says "bo 10" and then picks Bob Smith
	// THEN: Nothing is written until the pick; then bob owes Sam 10

	f := newFixture(t, bob, bonnie)
	ctx := context.Background()

	r := f.svc.HandleText(ctx, sam, "bo 10")
	require.NotNil(t, r.Selection)
	assert.Len(t, r.Selection.Options, 3)
	assert.Equal(t, "Bob Smith", r.Selection.Options[0].Label)
	assert.Equal(t, "Bonnie Jones", r.Selection.Options[1].Label)
	assert.Equal(t, selection.NoneLabel, r.Selection.Options[2].Label)
	assert.Empty(t, f.history(t, sam.ID, bob.ID), "no write before the pick")

	cb := press(t, f, r.Selection, "Bob Smith", 555)
	assert.Equal(t, bot.AnswerDone, cb.Answer)
	assert.Equal(t, "Cool! You gave Bob 10.\n\nBob now owes you 10.", cb.Text)
	require.Len(t, cb.Notifications, 1)
	assert.Equal(t, bob.ID, cb.Notifications[0].To)

	txs := f.history(t, sam.ID, bob.ID)
	require.Len(t, txs, 1)
	assert.Equal(t, "selection:100:555", txs[0].IdempotencyKey)
	assert.Empty(t, f.history(t, sam.ID, bonnie.ID))
}

func TestHandleCallback_DoublePressRejected(t *testing.T) {
	f := newFixture(t, bob, bonnie)
	ctx := context.Background()

	r := f.svc.HandleText(ctx, sam, "bo 10")
	press(t, f, r.Selection, "Bob Smith", 7)

	again := press(t, f, r.Selection, "Bob Smith", 7)
	assert.Equal(t, bot.MsgAlreadyResolved, again.Answer)
	assert.Empty(t, again.Text, "prompt is not edited again")

	other := press(t, f, r.Selection, "Bonnie Jones", 7)
	assert.Equal(t, bot.MsgAlreadyResolved, other.Answer)

	assert.Len(t, f.history(t, sam.ID, bob.ID), 1)
	assert.Empty(t, f.history(t, sam.ID, bonnie.ID))
}

func TestHandleCallback_LedgerKeyBacksUpTracker(t *testing.T) {
	// GIVEN: Tracker state lost between presses (fresh tracker, same store)
	// THEN: The ledger idempotency key still refuses a second write

	f := newFixture(t, bob, bonnie)
	ctx := context.Background()
	r := f.svc.HandleText(ctx, sam, "bo 10")
	press(t, f, r.Selection, "Bob Smith", 9)

	restarted := bot.NewService(bot.Deps{Store: f.store, Log: zerolog.Nop()})
	tok := r.Selection.Options[0].Token
	cb := restarted.HandleCallback(ctx, sam, bot.MessageRef{ChatID: 100, MessageID: 9}, tok)

	assert.Equal(t, bot.MsgAlreadyResolved, cb.Answer)
	assert.Len(t, f.history(t, sam.ID, bob.ID), 1)
}

func TestHandleCallback_Cancel(t *testing.T) {
	f := newFixture(t, bob, bonnie)
	r := f.svc.HandleText(context.Background(), sam, "bo 10")

	cb := press(t, f, r.Selection, selection.NoneLabel, 1)

	assert.Equal(t, bot.MsgSelectionCancelled, cb.Text)
	assert.Equal(t, bot.AnswerCancelled, cb.Answer)
	assert.Empty(t, f.history(t, sam.ID, bob.ID))
	assert.Empty(t, f.history(t, sam.ID, bonnie.ID))
}

func TestHandleCallback_MalformedToken(t *testing.T) {
	f := newFixture(t, bob)

	cb := f.svc.HandleCallback(context.Background(), sam, bot.MessageRef{ChatID: 1, MessageID: 1}, "transaction:abc")

	assert.Equal(t, bot.MsgMalformedToken, cb.Answer)
	assert.Empty(t, cb.Text)
}

func TestHandleCallback_BypassesAlias(t *testing.T) {
	// GIVEN: Sam aliased "bob" to Bonnie
	// WHEN: A token for candidate Bob arrives
	// THEN: Bob is used, the alias is not consulted

	f := newFixture(t, bob, bonnie)
	ctx := context.Background()
	require.NoError(t, f.store.UpsertAlias(ctx, ledger.Alias{OwnerID: sam.ID, Text: "bob", TargetID: bonnie.ID}))

	tok, err := selection.Encode(selection.PendingAction{Kind: selection.KindTransaction, Amount: decimal.NewFromInt(3)}, bob.ID)
	require.NoError(t, err)
	f.svc.HandleCallback(ctx, sam, bot.MessageRef{ChatID: 100, MessageID: 2}, tok)

	assert.Len(t, f.history(t, sam.ID, bob.ID), 1)
	assert.Empty(t, f.history(t, sam.ID, bonnie.ID))
}

func TestHandleText_AliasResolvesExactly(t *testing.T) {
	f := newFixture(t, bob, bonnie)
	ctx := context.Background()
	require.NoError(t, f.store.UpsertAlias(ctx, ledger.Alias{OwnerID: sam.ID, Text: "bo", TargetID: bonnie.ID}))

	r := f.svc.HandleText(ctx, sam, "bo 10")

	assert.Nil(t, r.Selection)
	assert.Len(t, f.history(t, sam.ID, bonnie.ID), 1)
}

// =============================================================================
// FAILURES
// =============================================================================

type failingStore struct {
	ledger.Store
	appendErr error
}

func (s failingStore) Append(context.Context, ledger.Transaction) error {
	return s.appendErr
}

func TestHandleText_StorageFailureIsGeneric(t *testing.T) {
	f := newFixture(t, bob)
	svc := bot.NewService(bot.Deps{Store: failingStore{Store: f.store, appendErr: errors.New("disk full")}, Log: zerolog.Nop()})

	r := svc.HandleText(context.Background(), sam, "I gave 5 to bob")

	assert.Equal(t, bot.MsgGenericFailure, r.Text)
	assert.Empty(t, r.Notifications)
}

func TestHandleCallback_StorageFailureKeepsPromptAlive(t *testing.T) {
	f := newFixture(t, bob, bonnie)
	ctx := context.Background()
	tracker := selection.NewMemoryTracker()

	broken := bot.NewService(bot.Deps{Store: failingStore{Store: f.store, appendErr: errors.New("disk full")}, Tracker: tracker, Log: zerolog.Nop()})
	r := broken.HandleText(ctx, sam, "bo 10")
	require.NotNil(t, r.Selection)

	tok := r.Selection.Options[0].Token
	ref := bot.MessageRef{ChatID: 100, MessageID: 3}
	cb := broken.HandleCallback(ctx, sam, ref, tok)
	assert.Equal(t, bot.MsgGenericFailure, cb.Answer)
	assert.Empty(t, cb.Text)

	healthy := bot.NewService(bot.Deps{Store: f.store, Tracker: tracker, Log: zerolog.Nop()})
	cb = healthy.HandleCallback(ctx, sam, ref, tok)
	assert.Equal(t, bot.AnswerDone, cb.Answer)
	assert.Len(t, f.history(t, sam.ID, bob.ID), 1)
}

func TestHandleText_EventFailureDoesNotUndoWrite(t *testing.T) {
	f := newFixture(t, bob)
	f.events.err = errors.New("broker down")

	r := f.svc.HandleText(context.Background(), sam, "I gave 5 to bob")

	assert.True(t, strings.HasPrefix(r.Text, "Cool! "))
	assert.Len(t, f.history(t, sam.ID, bob.ID), 1)
}

type panickingStore struct {
	ledger.Store
}

func (panickingStore) Append(context.Context, ledger.Transaction) error {
	panic("driver bug")
}

func TestHandleCallback_PanicReleasesPrompt(t *testing.T) {
	// GIVEN: A store that panics on write
	// WHEN: Sam presses a prompt button
	// THEN: The press fails generically, and the same button works once the
	//       store is healthy again

	f := newFixture(t, bob, bonnie)
	ctx := context.Background()
	tracker := selection.NewMemoryTracker()

	broken := bot.NewService(bot.Deps{Store: panickingStore{Store: f.store}, Tracker: tracker, Log: zerolog.Nop()})
	r := broken.HandleText(ctx, sam, "bo 10")
	require.NotNil(t, r.Selection)

	tok := r.Selection.Options[0].Token
	ref := bot.MessageRef{ChatID: 100, MessageID: 4}
	cb := broken.HandleCallback(ctx, sam, ref, tok)
	assert.Equal(t, bot.MsgGenericFailure, cb.Answer)
	assert.Empty(t, cb.Text)
	assert.Nil(t, cb.Selection)

	healthy := bot.NewService(bot.Deps{Store: f.store, Tracker: tracker, Log: zerolog.Nop()})
	cb = healthy.HandleCallback(ctx, sam, ref, tok)
	assert.Equal(t, bot.AnswerDone, cb.Answer)
	assert.Len(t, f.history(t, sam.ID, bob.ID), 1)
}

func TestHandleText_LongReasonIsAnnounced(t *testing.T) {
	// GIVEN: An ambiguous recipient and a reason longer than a button holds
	// THEN: The prompt says which reason will be saved, every option carries
	//       that same reason, and that is what gets recorded

	f := newFixture(t, bob, bonnie)
	ctx := context.Background()
	long := strings.TrimSpace(strings.Repeat("pizza ", 12))

	r := f.svc.HandleText(ctx, sam, "bo 10 "+long)
	require.NotNil(t, r.Selection)

	var reasons []string
	for _, o := range r.Selection.Options {
		c, err := selection.Decode(o.Token)
		require.NoError(t, err)
		reasons = append(reasons, c.Action.Reason)
	}
	kept := reasons[0]
	for _, got := range reasons {
		assert.Equal(t, kept, got)
	}
	require.NotEmpty(t, kept)
	assert.Less(t, len(kept), len(long))
	assert.True(t, strings.HasPrefix(long, kept))
	assert.Contains(t, r.Text, selection.ShortenedNotice(kept))

	press(t, f, r.Selection, "Bonnie Jones", 21)
	txs := f.history(t, sam.ID, bonnie.ID)
	require.Len(t, txs, 1)
	assert.Equal(t, kept, txs[0].Reason)

	// Short reasons are not announced.
	r = f.svc.HandleText(ctx, sam, "bo 10 pizza")
	require.NotNil(t, r.Selection)
	assert.NotContains(t, r.Text, "too long")
}
