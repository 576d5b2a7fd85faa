package selection

import (
	"fmt"
	"strings"

	"github.com/warp/debt-engine/ledger"
)

// NoneLabel is the text of the trailing cancel option.
const NoneLabel = "None of these"

// Option is one button in a prompt.
type Option struct {
	Label       string
	Token       string
	CandidateID ledger.UserID
}

// Prompt asks the user to pick one of several candidates.
type Prompt struct {
	Text    string
	Options []Option
}

// BuildSelection renders one option per candidate in order, followed by the
// cancel option. len(Options) == len(candidates)+1.
//
// A transaction reason too long for the buttons is cut once, to what fits
// the largest candidate id, so every option records the same reason; the
// prompt text then shows the shortened reason.
func BuildSelection(reference string, candidates []ledger.User, action PendingAction) (Prompt, error) {
	p := Prompt{
		Text:    question(reference),
		Options: make([]Option, 0, len(candidates)+1),
	}
	if action.Kind == KindTransaction && action.Reason != "" {
		var widest ledger.UserID
		for _, c := range candidates {
			widest = max(widest, c.ID)
		}
		fit, err := FitReason(action, widest)
		if err != nil {
			return Prompt{}, fmt.Errorf("fit reason: %w", err)
		}
		if fit = strings.TrimSpace(fit); fit != strings.TrimSpace(action.Reason) {
			action.Reason = fit
			p.Text += "\n\n" + ShortenedNotice(fit)
		}
	}
	for _, c := range candidates {
		tok, err := Encode(action, c.ID)
		if err != nil {
			return Prompt{}, fmt.Errorf("encode candidate %d: %w", c.ID, err)
		}
		p.Options = append(p.Options, Option{Label: Label(c), Token: tok, CandidateID: c.ID})
	}

	tok, err := Encode(action, 0)
	if err != nil {
		return Prompt{}, fmt.Errorf("encode cancel option: %w", err)
	}
	p.Options = append(p.Options, Option{Label: NoneLabel, Token: tok})
	return p, nil
}

// Label is "first last". Chat clients reject empty buttons, so users with
// no name at all fall back to their username.
func Label(u ledger.User) string {
	if name := u.DisplayName(); name != "" {
		return name
	}
	if u.Username != "" {
		return "@" + u.Username
	}
	return fmt.Sprintf("User %d", u.ID)
}

// ShortenedNotice tells the user which reason will be saved.
func ShortenedNotice(reason string) string {
	if reason == "" {
		return "The reason is too long to keep and will be left out."
	}
	return fmt.Sprintf("The reason is too long to keep in full and will be saved as %q.", reason)
}

func question(reference string) string {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return "Who do you mean?"
	}
	return fmt.Sprintf("I know more than one %q. Who do you mean?", reference)
}
