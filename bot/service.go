/*
service.go - Transport-agnostic bot

PURPOSE:
  One entry point per kind of update: free text, button press, command.
  Each call is an independent unit of work and returns a Reply describing
  what the transport should send. No state is held between calls except in
  the store and the prompt tracker.

FLOW (free text):
  upsert sender -> parse -> resolve -> execute        (Exact)
                                    -> prompt         (Ambiguous)
                                    -> "don't know"   (NotFound)

FLOW (button press):
  decode token -> claim prompt -> cancel | re-dispatch with the chosen id
  (aliases are not consulted again)

ERRORS:
  Parse and resolution outcomes become fixed messages. Anything else is
  logged and answered with MsgGenericFailure by guard. Panics are
  recovered there too.
*/
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/warp/debt-engine/events"
	"github.com/warp/debt-engine/intent"
	"github.com/warp/debt-engine/ledger"
	"github.com/warp/debt-engine/logger"
	"github.com/warp/debt-engine/resolve"
	"github.com/warp/debt-engine/selection"
)

// Deps are the collaborators of a Service. Store is required.
type Deps struct {
	Store   ledger.Store
	Events  events.Publisher
	Tracker selection.Tracker
	Parser  *intent.Parser
	Log     zerolog.Logger
}

type Service struct {
	store        ledger.Store
	ledger       ledger.Ledger
	parser       *intent.Parser
	resolver     *resolve.Resolver
	orchestrator *Orchestrator
	tracker      selection.Tracker
	log          zerolog.Logger
}

func NewService(d Deps) *Service {
	if d.Tracker == nil {
		d.Tracker = selection.NewMemoryTracker()
	}
	if d.Parser == nil {
		d.Parser = intent.NewParser()
	}
	l := ledger.NewLedger(d.Store)
	return &Service{
		store:        d.Store,
		ledger:       l,
		parser:       d.Parser,
		resolver:     resolve.New(d.Store),
		orchestrator: NewOrchestrator(l, d.Events, d.Log),
		tracker:      d.Tracker,
		log:          d.Log,
	}
}

// Orchestrator is exposed so callers can swap the affirmation source.
func (s *Service) Orchestrator() *Orchestrator {
	return s.orchestrator
}

// =============================================================================
// FREE TEXT
// =============================================================================

// HandleText records a debt stated in free text.
func (s *Service) HandleText(ctx context.Context, sender ledger.User, text string) Reply {
	return s.run(ctx, "text", func() (Reply, error) {
		if _, err := s.store.UpsertUser(ctx, sender); err != nil {
			return Reply{}, fmt.Errorf("upsert sender: %w", err)
		}

		in, err := s.parser.Parse(text)
		if err != nil {
			if intent.IsParseFailure(err) {
				s.logger(ctx).Debug().Err(err).Msg("message not understood")
				return Reply{Text: MsgNotUnderstood}, nil
			}
			return Reply{}, err
		}
		if in.Amount.IsZero() {
			return Reply{Text: MsgZeroAmount}, nil
		}

		res, err := s.resolver.Resolve(ctx, sender.ID, in.Recipient, true)
		if err != nil {
			return Reply{}, err
		}
		switch res.Kind {
		case resolve.NotFound:
			return Reply{Text: msgNotFound(in.Recipient)}, nil
		case resolve.Ambiguous:
			return s.prompt(in.Recipient, res.Candidates, selection.PendingAction{
				Kind:   selection.KindTransaction,
				Amount: in.Amount,
				Reason: in.Reason,
			})
		}
		return s.execute(ctx, sender, res.User, in.Amount, in.Reason, "")
	})
}

func (s *Service) execute(ctx context.Context, sender, recipient ledger.User, signed decimal.Decimal, reason, key string) (Reply, error) {
	if sender.ID == recipient.ID {
		return Reply{Text: MsgSelfTransaction}, nil
	}
	out, err := s.orchestrator.Execute(ctx, sender, recipient, signed, reason, key)
	if err != nil {
		return Reply{}, err
	}
	return Reply{
		Text:          out.Confirmation,
		Notifications: []Notification{out.Notification},
	}, nil
}

func (s *Service) prompt(reference string, candidates []ledger.User, action selection.PendingAction) (Reply, error) {
	p, err := selection.BuildSelection(reference, candidates, action)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Text: p.Text, Selection: &p}, nil
}

// =============================================================================
// BUTTON PRESSES
// =============================================================================

// HandleCallback completes a pending action chosen from a prompt. ref is the
// prompt message; it keys the one-press-only rule.
func (s *Service) HandleCallback(ctx context.Context, sender ledger.User, ref MessageRef, token string) CallbackReply {
	var (
		answer string
		held   string // claimed prompt key, cleared once the action succeeds
	)
	reply, failed := s.guard(ctx, "callback", func() (Reply, error) {
		choice, err := selection.Decode(token)
		if err != nil {
			s.logger(ctx).Warn().Err(err).Str("token", token).Msg("rejected selection token")
			answer = MsgMalformedToken
			return Reply{}, nil
		}

		key := selection.PromptKey(ref.ChatID, ref.MessageID)
		claimed, err := s.tracker.Claim(ctx, key)
		if err != nil {
			return Reply{}, err
		}
		if !claimed {
			answer = MsgAlreadyResolved
			return Reply{}, nil
		}

		held = key
		r, ans, err := s.dispatch(ctx, sender, choice, key)
		if err != nil {
			return Reply{}, err
		}
		held = ""
		answer = ans
		return r, nil
	})
	if held != "" {
		if err := s.tracker.Release(ctx, held); err != nil {
			s.logger(ctx).Warn().Err(err).Str("prompt", held).Msg("release prompt failed")
		}
	}
	if failed {
		// Leave the prompt and its buttons in place so the user can retry.
		return CallbackReply{Answer: MsgGenericFailure}
	}
	return CallbackReply{Reply: reply, Answer: answer}
}

func (s *Service) dispatch(ctx context.Context, sender ledger.User, choice selection.Choice, key string) (Reply, string, error) {
	if _, err := s.store.UpsertUser(ctx, sender); err != nil {
		return Reply{}, "", fmt.Errorf("upsert sender: %w", err)
	}
	if choice.Cancelled() {
		return Reply{Text: MsgSelectionCancelled}, AnswerCancelled, nil
	}

	target, err := s.store.GetUser(ctx, choice.CandidateID)
	if err != nil {
		return Reply{}, "", err
	}
	if target == nil {
		return Reply{Text: MsgSelectionCancelled}, AnswerCancelled, nil
	}

	var r Reply
	switch a := choice.Action; a.Kind {
	case selection.KindTransaction:
		if a.Amount.IsZero() {
			return Reply{Text: MsgZeroAmount}, AnswerDone, nil
		}
		r, err = s.execute(ctx, sender, *target, a.Amount, a.Reason, key)
		if errors.Is(err, ledger.ErrDuplicateIdempotencyKey) {
			return Reply{Text: MsgAlreadyResolved}, MsgAlreadyResolved, nil
		}
	case selection.KindBalance:
		r, err = s.showDebt(ctx, sender, *target)
	case selection.KindHistory:
		r, err = s.showHistory(ctx, sender, *target)
	case selection.KindAlias:
		r, err = s.setAlias(ctx, sender, a.AliasText, *target)
	default:
		return Reply{}, "", fmt.Errorf("unhandled selection kind %q", a.Kind)
	}
	if err != nil {
		return Reply{}, "", err
	}
	return r, AnswerDone, nil
}

// =============================================================================
// TOP-LEVEL GUARD
// =============================================================================

// guard converts any error or panic from fn into the generic apology and
// reports that it did.
func (s *Service) guard(ctx context.Context, op string, fn func() (Reply, error)) (reply Reply, failed bool) {
	defer func() {
		if p := recover(); p != nil {
			s.logger(ctx).Error().Str("op", op).Interface("panic", p).Msg("handler panicked")
			reply, failed = Reply{Text: MsgGenericFailure}, true
		}
	}()

	r, err := fn()
	if err != nil {
		s.logger(ctx).Error().Err(err).Str("op", op).Msg("request failed")
		return Reply{Text: MsgGenericFailure}, true
	}
	return r, false
}

func (s *Service) run(ctx context.Context, op string, fn func() (Reply, error)) Reply {
	r, _ := s.guard(ctx, op, fn)
	return r
}

func (s *Service) logger(ctx context.Context) *zerolog.Logger {
	if l, ok := logger.Lookup(ctx); ok {
		return &l
	}
	return &s.log
}

func normalizeCommand(name string) string {
	name = strings.TrimPrefix(strings.TrimSpace(name), "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name)
}
