package bot

import (
	"github.com/warp/debt-engine/ledger"
	"github.com/warp/debt-engine/selection"
)

// Reply is everything the transport should do in response to one update.
//
//	Text           always shown to the sender (possibly empty for callbacks)
//	Selection      optional buttons under Text
//	Notifications  optional messages to other users, best-effort
type Reply struct {
	Text          string
	Markdown      bool
	Selection     *selection.Prompt
	Notifications []Notification
}

// Notification is a side message to another user.
type Notification struct {
	To   ledger.UserID
	Text string
}

// MessageRef identifies the chat message that carried a prompt.
type MessageRef struct {
	ChatID    int64
	MessageID int
}

// CallbackReply answers a button press. When Reply.Text is non-empty the
// prompt message is replaced by it and its buttons removed. Answer is the
// short toast shown on the pressing client.
type CallbackReply struct {
	Reply
	Answer string
}
