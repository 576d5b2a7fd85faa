package bot

import "fmt"

// Fixed user-facing texts.
const (
	MsgNotUnderstood      = "Sorry, I could not understand your message at all :("
	MsgGenericFailure     = "Sorry, something went wrong on my side. Please try again later."
	MsgMalformedToken     = "Sorry, something went wrong, please retry."
	MsgSelectionCancelled = "Okay, I could not find the person you meant. Maybe you have to ask them to register?"
	MsgAlreadyResolved    = "This was already taken care of."
	MsgNotYourPrompt      = "This question was meant for someone else."
	MsgZeroAmount         = "There is nothing to record for an amount of 0."
	MsgSelfTransaction    = "You can't owe money to yourself."
	MsgSelfAlias          = "You don't need a nickname for yourself."
	MsgNoDebts            = "You have no open debts. Everyone is even!"
	MsgHistoryUsage       = "Please give me the name of the person for which you want to know the transaction history."
	MsgAliasUsage         = "Usage: /alias nickname person, for example: /alias boss Bob Smith"
	MsgUnaliasUsage       = "Usage: /unalias nickname"
	MsgAliasTooLong       = "That nickname is too long, please pick a shorter one."
	MsgNoAliases          = "You have no nicknames yet. Create one with /alias nickname person."
	MsgUnknownCommand     = "Sorry, I don't know that command. Try /help."

	MsgRegistered        = "Hi! Thanks for registering with Debt Bot. People can now register their debts with you."
	MsgAlreadyRegistered = "Looks like you're already registered. You're good to go!"

	AnswerDone      = "Done"
	AnswerCancelled = "Cancelled"
)

const HelpText = "I'm a debt bot! I can keep track of your debts!\n\n" +
	"In order to use me, you first have to /register. " +
	"After that, you can send me transactions with other people " +
	"(given they are also registered), and I will keep track of who owes money to whom.\n\n" +
	"Examples:\n" +
	"I gave 15 to bob14 for pizza\n" +
	"I got 12.30 from bob14 for the cinema ticket\n" +
	"bob14 owes me 40 for groceries\n" +
	"bob14 15 pizza\n\n" +
	"You can use a username, @mention someone, or just type their name. " +
	"If more than one person matches, I will ask you who you mean.\n\n" +
	"To see all your debts, use: /debts\n" +
	"To see debts with a specific person, use: /debts _person_\n" +
	"To see a transaction history, use: /history _person_\n" +
	"To give someone a nickname, use: /alias _nickname_ _person_\n" +
	"To forget a nickname, use: /unalias _nickname_\n" +
	"To list your nicknames, use: /aliases"

// Affirmations open every confirmation.
var Affirmations = []string{
	"Cool",
	"Nice",
	"Doing great",
	"Awesome",
	"Okey dokey",
	"Neat",
	"Whoo",
	"Wonderful",
	"Splendid",
}

func msgNotFound(reference string) string {
	return fmt.Sprintf("Sorry, I don't know who %s is. Maybe you have to ask them to register?", reference)
}

func msgAliasSet(alias, name string) string {
	return fmt.Sprintf("Okay, %q now means %s.", alias, name)
}

func msgAliasRemoved(alias string) string {
	return fmt.Sprintf("Okay, I forgot the nickname %q.", alias)
}

func msgNoSuchAlias(alias string) string {
	return fmt.Sprintf("You have no nickname %q.", alias)
}
