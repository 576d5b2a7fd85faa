package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/warp/debt-engine/ledger"
	"github.com/warp/debt-engine/resolve"
	"github.com/warp/debt-engine/selection"
)

// HandleCommand runs a slash command. name may carry the leading "/" and a
// "@botname" suffix; args is the raw text after it.
func (s *Service) HandleCommand(ctx context.Context, sender ledger.User, name, args string) Reply {
	cmd := normalizeCommand(name)
	return s.run(ctx, "command:"+cmd, func() (Reply, error) {
		created, err := s.store.UpsertUser(ctx, sender)
		if err != nil {
			return Reply{}, fmt.Errorf("upsert sender: %w", err)
		}
		args = strings.Join(strings.Fields(args), " ")

		switch cmd {
		case "register", "start":
			if created {
				return Reply{Text: MsgRegistered}, nil
			}
			return Reply{Text: MsgAlreadyRegistered}, nil
		case "debts":
			return s.debts(ctx, sender, args)
		case "history":
			return s.history(ctx, sender, args)
		case "alias":
			return s.alias(ctx, sender, args)
		case "unalias":
			return s.unalias(ctx, sender, args)
		case "aliases":
			return s.aliases(ctx, sender)
		case "help":
			return Reply{Text: HelpText, Markdown: true}, nil
		default:
			return Reply{Text: MsgUnknownCommand}, nil
		}
	})
}

// lookup resolves a person for a command and hands back either a user or
// a finished reply (not found, or a prompt for kind).
func (s *Service) lookup(ctx context.Context, sender ledger.User, reference string, action selection.PendingAction) (*ledger.User, *Reply, error) {
	res, err := s.resolver.Resolve(ctx, sender.ID, reference, true)
	if err != nil {
		return nil, nil, err
	}
	switch res.Kind {
	case resolve.NotFound:
		return nil, &Reply{Text: msgNotFound(reference)}, nil
	case resolve.Ambiguous:
		r, err := s.prompt(reference, res.Candidates, action)
		if err != nil {
			return nil, nil, err
		}
		return nil, &r, nil
	}
	return &res.User, nil, nil
}

// =============================================================================
// DEBTS
// =============================================================================

func (s *Service) debts(ctx context.Context, sender ledger.User, args string) (Reply, error) {
	if args != "" {
		u, r, err := s.lookup(ctx, sender, args, selection.PendingAction{Kind: selection.KindBalance})
		if err != nil || r != nil {
			return deref(r), err
		}
		return s.showDebt(ctx, sender, *u)
	}

	summary, err := s.ledger.Summary(ctx, sender.ID)
	if err != nil {
		return Reply{}, err
	}
	if len(summary) == 0 {
		return Reply{Text: MsgNoDebts}, nil
	}
	lines := make([]string, 0, len(summary))
	for _, pb := range summary {
		lines = append(lines, ledger.DebtSentence(pb.Counterparty.ShortName(), pb.Balance, ""))
	}
	return Reply{Text: strings.Join(lines, "\n")}, nil
}

func (s *Service) showDebt(ctx context.Context, sender, other ledger.User) (Reply, error) {
	bal, err := s.ledger.Balance(ctx, sender.ID, other.ID)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Text: ledger.DebtSentence(other.ShortName(), bal, "currently")}, nil
}

// =============================================================================
// HISTORY
// =============================================================================

func (s *Service) history(ctx context.Context, sender ledger.User, args string) (Reply, error) {
	if args == "" {
		return Reply{Text: MsgHistoryUsage}, nil
	}
	u, r, err := s.lookup(ctx, sender, args, selection.PendingAction{Kind: selection.KindHistory})
	if err != nil || r != nil {
		return deref(r), err
	}
	return s.showHistory(ctx, sender, *u)
}

func (s *Service) showHistory(ctx context.Context, sender, other ledger.User) (Reply, error) {
	txs, err := s.ledger.History(ctx, sender.ID, other.ID)
	if err != nil {
		return Reply{}, err
	}

	name := other.ShortName()
	var b strings.Builder
	for _, tx := range txs {
		b.WriteString(ledger.HistoryLine(tx, sender.ID, name))
		b.WriteString("\n")
	}
	if len(txs) > 0 {
		b.WriteString("\n")
	}
	b.WriteString(ledger.DebtSentence(name, ledger.SumFor(txs, sender.ID), ""))
	return Reply{Text: b.String()}, nil
}

// =============================================================================
// ALIASES
// =============================================================================

func (s *Service) alias(ctx context.Context, sender ledger.User, args string) (Reply, error) {
	nick, person, ok := strings.Cut(args, " ")
	if !ok || nick == "" || person == "" {
		return Reply{Text: MsgAliasUsage}, nil
	}

	u, r, err := s.lookup(ctx, sender, person, selection.PendingAction{Kind: selection.KindAlias, AliasText: nick})
	if errors.Is(err, selection.ErrTokenTooLong) {
		return Reply{Text: MsgAliasTooLong}, nil
	}
	if err != nil || r != nil {
		return deref(r), err
	}
	return s.setAlias(ctx, sender, nick, *u)
}

func (s *Service) setAlias(ctx context.Context, sender ledger.User, nick string, target ledger.User) (Reply, error) {
	if target.ID == sender.ID {
		return Reply{Text: MsgSelfAlias}, nil
	}
	nick = ledger.NormalizeAlias(nick)
	if err := s.store.UpsertAlias(ctx, ledger.Alias{OwnerID: sender.ID, Text: nick, TargetID: target.ID}); err != nil {
		return Reply{}, err
	}
	return Reply{Text: msgAliasSet(nick, selection.Label(target))}, nil
}

func (s *Service) unalias(ctx context.Context, sender ledger.User, args string) (Reply, error) {
	if args == "" {
		return Reply{Text: MsgUnaliasUsage}, nil
	}
	nick := ledger.NormalizeAlias(args)
	removed, err := s.store.DeleteAlias(ctx, sender.ID, nick)
	if err != nil {
		return Reply{}, err
	}
	if !removed {
		return Reply{Text: msgNoSuchAlias(nick)}, nil
	}
	return Reply{Text: msgAliasRemoved(nick)}, nil
}

func (s *Service) aliases(ctx context.Context, sender ledger.User) (Reply, error) {
	list, err := s.store.ListAliases(ctx, sender.ID)
	if err != nil {
		return Reply{}, err
	}
	if len(list) == 0 {
		return Reply{Text: MsgNoAliases}, nil
	}

	lines := make([]string, 0, len(list))
	for _, a := range list {
		target, err := s.store.GetUser(ctx, a.TargetID)
		if err != nil {
			return Reply{}, err
		}
		label := fmt.Sprintf("User %d", a.TargetID)
		if target != nil {
			label = selection.Label(*target)
		}
		lines = append(lines, fmt.Sprintf("%s: %s", a.Text, label))
	}
	return Reply{Text: strings.Join(lines, "\n")}, nil
}

func deref(r *Reply) Reply {
	if r == nil {
		return Reply{}
	}
	return *r
}
