package intent

import (
	"regexp"
	"strings"
)

// Raw is what a grammar pulls out of a message before normalization.
type Raw struct {
	Verb      string
	Amount    string // literal, not yet validated
	Recipient string
	Reason    string

	// Reversed is set by grammars whose subject is the counterparty
	// rather than the speaker.
	Reversed bool
}

// Matcher is one grammar in the cascade.
type Matcher interface {
	Name() string
	Match(text string) (Raw, bool)
}

// =============================================================================
// VOCABULARY
// =============================================================================

const (
	verbPattern   = `(give|gave|get|got|owe|owes|owed)`
	amountPattern = `([-+]?\.?[0-9][0-9.,]*)`
	reasonPattern = `(?:\s+(.*))?`

	// connectiveReasonPattern only starts a reason at a connective word, so
	// a multi-word recipient before it stays whole.
	connectiveReasonPattern = `(?:\s+((?:for|because|in)(?:\s.*)?))?`
)

var receiveVerbs = map[string]bool{
	"get":  true,
	"got":  true,
	"owe":  true,
	"owes": true,
	"owed": true,
}

// IsReceiveVerb reports whether the verb means the subject received value.
func IsReceiveVerb(verb string) bool {
	return receiveVerbs[strings.ToLower(verb)]
}

// Pronouns that can never be a counterparty.
var pronouns = map[string]bool{"i": true, "me": true}

// isPronoun reports whether ref starts with a pronoun: "me", "I gave".
func isPronoun(ref string) bool {
	first, _, _ := strings.Cut(ref, " ")
	return pronouns[strings.ToLower(first)]
}

// =============================================================================
// SUBJECT-FIRST - "I gave 15 to bob for pizza", "I owe bob 15"
// =============================================================================

var (
	subjectAmountFirst = regexp.MustCompile(
		`(?i)^(?:i\s+)?` + verbPattern + `\s+` + amountPattern + `\s+(?:(?:to|from)\s+)?@?(.+?)` + connectiveReasonPattern + `$`)
	subjectRecipientFirst = regexp.MustCompile(
		`(?i)^(?:i\s+)?` + verbPattern + `\s+@?(.+?)\s+` + amountPattern + reasonPattern + `$`)
)

type subjectFirst struct{}

func (subjectFirst) Name() string { return "subject-first" }

func (subjectFirst) Match(text string) (Raw, bool) {
	if m := subjectAmountFirst.FindStringSubmatch(text); m != nil && !isPronoun(m[3]) {
		return Raw{Verb: m[1], Amount: m[2], Recipient: m[3], Reason: m[4]}, true
	}
	if m := subjectRecipientFirst.FindStringSubmatch(text); m != nil && !isPronoun(m[2]) {
		return Raw{Verb: m[1], Recipient: m[2], Amount: m[3], Reason: m[4]}, true
	}
	return Raw{}, false
}

// =============================================================================
// RECIPIENT-FIRST - "bob owes me 15", "bob gave me 12.30 for cinema"
// =============================================================================

var counterpartySubject = regexp.MustCompile(
	`(?i)^@?(.+?)\s+` + verbPattern + `\s+(?:me\s+)?` + amountPattern + `(?:\s+(?:to|from)\s+me)?` + reasonPattern + `$`)

type recipientFirst struct{}

func (recipientFirst) Name() string { return "recipient-first" }

func (recipientFirst) Match(text string) (Raw, bool) {
	m := counterpartySubject.FindStringSubmatch(text)
	if m == nil || isPronoun(m[1]) {
		return Raw{}, false
	}
	return Raw{Recipient: m[1], Verb: m[2], Amount: m[3], Reason: m[4], Reversed: true}, true
}

// =============================================================================
// SHORTHAND - "bob 15 pizza"
// =============================================================================

var noVerb = regexp.MustCompile(`(?i)^@?(.+?)\s+` + amountPattern + reasonPattern + `$`)

type shorthand struct{}

func (shorthand) Name() string { return "shorthand" }

func (shorthand) Match(text string) (Raw, bool) {
	m := noVerb.FindStringSubmatch(text)
	if m == nil || isPronoun(m[1]) {
		return Raw{}, false
	}
	return Raw{Verb: "gave", Recipient: m[1], Amount: m[2], Reason: m[3]}, true
}

// SubjectFirst, RecipientFirst and Shorthand are the built-in grammars.
func SubjectFirst() Matcher   { return subjectFirst{} }
func RecipientFirst() Matcher { return recipientFirst{} }
func Shorthand() Matcher      { return shorthand{} }

// DefaultMatchers returns the cascade in priority order.
func DefaultMatchers() []Matcher {
	return []Matcher{SubjectFirst(), RecipientFirst(), Shorthand()}
}
