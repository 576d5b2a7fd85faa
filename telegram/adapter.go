/*
Package telegram connects the bot service to the Telegram Bot API.

INBOUND:
  callback query  -> Service.HandleCallback
  /command        -> Service.HandleCommand
  text            -> Service.HandleText (private chats only)

Outside private chats a prompt is sent as a reply to the message that
asked for it, and only that message's author may press its buttons.

OUTBOUND:
  reply        sendMessage, with an inline keyboard for prompts
  notify       sendMessage to the counterparty; failures are only logged
  edit         editMessageText on the prompt, which drops its keyboard
  answer       answerCallbackQuery, always sent so the client stops spinning

Updates arrive through long polling (Poll) or a webhook (WebhookHandler).
*/
package telegram

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/warp/debt-engine/bot"
	"github.com/warp/debt-engine/ledger"
	"github.com/warp/debt-engine/logger"
	"github.com/warp/debt-engine/selection"
)

// Client is the part of *tgbotapi.BotAPI the adapter uses.
type Client interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Service is implemented by *bot.Service.
type Service interface {
	HandleText(ctx context.Context, sender ledger.User, text string) bot.Reply
	HandleCallback(ctx context.Context, sender ledger.User, ref bot.MessageRef, token string) bot.CallbackReply
	HandleCommand(ctx context.Context, sender ledger.User, name, args string) bot.Reply
}

type Adapter struct {
	client Client
	svc    Service
	log    zerolog.Logger
}

func NewAdapter(client Client, svc Service, log zerolog.Logger) *Adapter {
	return &Adapter{client: client, svc: svc, log: log}
}

// HandleUpdate processes one update to completion.
func (a *Adapter) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	switch {
	case upd.CallbackQuery != nil:
		a.handleCallback(ctx, upd.UpdateID, upd.CallbackQuery)
	case upd.Message != nil:
		a.handleMessage(ctx, upd.UpdateID, upd.Message)
	}
}

func (a *Adapter) handleMessage(ctx context.Context, updateID int, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil || msg.Text == "" {
		return
	}
	sender := userFrom(msg.From)
	ctx = a.scope(ctx, updateID, sender.ID)

	var reply bot.Reply
	switch {
	case msg.IsCommand():
		reply = a.svc.HandleCommand(ctx, sender, msg.Command(), msg.CommandArguments())
	case msg.Chat.IsPrivate():
		reply = a.svc.HandleText(ctx, sender, msg.Text)
	default:
		return
	}
	a.reply(ctx, msg.Chat.ID, msg.MessageID, reply)
}

func (a *Adapter) handleCallback(ctx context.Context, updateID int, q *tgbotapi.CallbackQuery) {
	if q.From == nil {
		return
	}
	sender := userFrom(q.From)
	ctx = a.scope(ctx, updateID, sender.ID)
	log := logger.FromContext(ctx)

	if q.Message == nil || q.Message.Chat == nil {
		a.answer(ctx, q.ID, bot.MsgMalformedToken)
		return
	}

	if !q.Message.Chat.IsPrivate() && !promptedBy(q.Message, q.From.ID) {
		log.Info().Int("message_id", q.Message.MessageID).Msg("press on someone else's prompt")
		a.answer(ctx, q.ID, bot.MsgNotYourPrompt)
		return
	}

	chatID, messageID := q.Message.Chat.ID, q.Message.MessageID
	res := a.svc.HandleCallback(ctx, sender, bot.MessageRef{ChatID: chatID, MessageID: messageID}, q.Data)
	a.answer(ctx, q.ID, res.Answer)

	if res.Text != "" {
		edit := tgbotapi.NewEditMessageText(chatID, messageID, res.Text)
		if res.Markdown {
			edit.ParseMode = tgbotapi.ModeMarkdown
		}
		if res.Selection != nil {
			kb := keyboard(res.Selection)
			edit.ReplyMarkup = &kb
		}
		if _, err := a.client.Send(edit); err != nil {
			log.Error().Err(err).Int("message_id", messageID).Msg("edit prompt failed")
		}
	}
	a.notify(ctx, res.Notifications)
}

// =============================================================================
// OUTBOUND
// =============================================================================

// reply answers the message replyTo. Prompts quote it so a later press can
// be checked against its author.
func (a *Adapter) reply(ctx context.Context, chatID int64, replyTo int, r bot.Reply) {
	if r.Text != "" {
		msg := tgbotapi.NewMessage(chatID, r.Text)
		if r.Markdown {
			msg.ParseMode = tgbotapi.ModeMarkdown
		}
		if r.Selection != nil {
			msg.ReplyMarkup = keyboard(r.Selection)
			msg.ReplyToMessageID = replyTo
		}
		if _, err := a.client.Send(msg); err != nil {
			l := logger.FromContext(ctx)
			l.Error().Err(err).Int64("chat_id", chatID).Msg("send reply failed")
		}
	}
	a.notify(ctx, r.Notifications)
}

// notify is best-effort: the ledger write already happened.
func (a *Adapter) notify(ctx context.Context, ns []bot.Notification) {
	log := logger.FromContext(ctx)
	for _, n := range ns {
		if _, err := a.client.Send(tgbotapi.NewMessage(int64(n.To), n.Text)); err != nil {
			log.Warn().Err(err).Int64("to", int64(n.To)).Msg("notification not delivered")
		}
	}
}

func (a *Adapter) answer(ctx context.Context, callbackID, text string) {
	if _, err := a.client.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		l := logger.FromContext(ctx)
		l.Warn().Err(err).Msg("answer callback failed")
	}
}

// keyboard puts one option per row.
func keyboard(p *selection.Prompt) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(p.Options))
	for _, o := range p.Options {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(o.Label, o.Token),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// =============================================================================
// HELPERS
// =============================================================================

func (a *Adapter) scope(ctx context.Context, updateID int, userID ledger.UserID) context.Context {
	l := a.log.With().Int("update_id", updateID).Int64("user_id", int64(userID)).Logger()
	return logger.WithContext(ctx, l)
}

// promptedBy reports whether the prompt was sent in reply to a message
// from userID.
func promptedBy(prompt *tgbotapi.Message, userID int64) bool {
	asked := prompt.ReplyToMessage
	return asked != nil && asked.From != nil && asked.From.ID == userID
}

func userFrom(u *tgbotapi.User) ledger.User {
	return ledger.NewUser(ledger.UserID(u.ID), u.FirstName, u.LastName, u.UserName)
}
