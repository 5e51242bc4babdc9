// Package telegram adapts the Telegram Bot API to the chat.Messenger
// interface the rest of the bot is written against.
package telegram

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/inercia/opencode-telegram/internal/chat"
)

// Sender is the subset of *tele.Bot the messenger uses.
type Sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	Edit(msg tele.Editable, what interface{}, opts ...interface{}) (*tele.Message, error)
	Delete(msg tele.Editable) error
	Pin(msg tele.Editable, opts ...interface{}) error
	UnpinAll(chat tele.Recipient) error
	Notify(to tele.Recipient, action tele.ChatAction, threadID ...int) error
}

// Messenger sends to a single chat through the Bot API.
type Messenger struct {
	bot    Sender
	chatID int64
}

// NewMessenger returns a Messenger bound to chatID.
func NewMessenger(bot Sender, chatID int64) *Messenger {
	return &Messenger{bot: bot, chatID: chatID}
}

var _ chat.Messenger = (*Messenger)(nil)

func (m *Messenger) recipient() tele.Recipient {
	return tele.ChatID(m.chatID)
}

func (m *Messenger) stored(id chat.MessageID) tele.StoredMessage {
	return tele.StoredMessage{MessageID: strconv.Itoa(int(id)), ChatID: m.chatID}
}

// Send posts a text message.
func (m *Messenger) Send(ctx context.Context, text string, opts ...chat.SendOption) (chat.MessageID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	msg, err := m.bot.Send(m.recipient(), text, sendOptions(chat.ApplyOptions(opts...)))
	if err != nil {
		return 0, classify(err)
	}
	return chat.MessageID(msg.ID), nil
}

// Edit replaces the text and inline keyboard of a message.
func (m *Messenger) Edit(ctx context.Context, id chat.MessageID, text string, opts ...chat.SendOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := m.bot.Edit(m.stored(id), text, sendOptions(chat.ApplyOptions(opts...)))
	return classify(err)
}

// Delete removes a message.
func (m *Messenger) Delete(ctx context.Context, id chat.MessageID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return classify(m.bot.Delete(m.stored(id)))
}

// Pin pins a message without notifying the chat.
func (m *Messenger) Pin(ctx context.Context, id chat.MessageID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return classify(m.bot.Pin(m.stored(id), tele.Silent))
}

// UnpinAll removes every pinned message of the chat.
func (m *Messenger) UnpinAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return classify(m.bot.UnpinAll(m.recipient()))
}

// SendTyping shows the typing indicator for a few seconds.
func (m *Messenger) SendTyping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return classify(m.bot.Notify(m.recipient(), tele.Typing))
}

// SendDocument uploads doc as a file attachment.
func (m *Messenger) SendDocument(ctx context.Context, doc chat.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	file := &tele.Document{
		File:     tele.FromReader(bytes.NewReader(doc.Data)),
		FileName: doc.Name,
		Caption:  doc.Caption,
	}
	_, err := m.bot.Send(m.recipient(), file, &tele.SendOptions{DisableNotification: true})
	if err != nil {
		return fmt.Errorf("failed to send document %s: %w", doc.Name, classify(err))
	}
	return nil
}

func sendOptions(o chat.SendOptions) *tele.SendOptions {
	opts := &tele.SendOptions{DisableNotification: o.Silent}
	if o.Markdown {
		opts.ParseMode = tele.ModeMarkdown
	}
	switch {
	case len(o.Inline) > 0:
		opts.ReplyMarkup = inlineMarkup(o.Inline)
	case len(o.Reply) > 0:
		opts.ReplyMarkup = replyMarkup(o.Reply)
	}
	return opts
}

func inlineMarkup(kb chat.InlineKeyboard) *tele.ReplyMarkup {
	rows := make([][]tele.InlineButton, 0, len(kb))
	for _, row := range kb {
		buttons := make([]tele.InlineButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tele.InlineButton{Text: b.Text, Data: b.Data})
		}
		rows = append(rows, buttons)
	}
	return &tele.ReplyMarkup{InlineKeyboard: rows}
}

func replyMarkup(kb chat.Keyboard) *tele.ReplyMarkup {
	rows := make([][]tele.ReplyButton, 0, len(kb))
	for _, row := range kb {
		buttons := make([]tele.ReplyButton, 0, len(row))
		for _, label := range row {
			buttons = append(buttons, tele.ReplyButton{Text: label})
		}
		rows = append(rows, buttons)
	}
	return &tele.ReplyMarkup{ReplyKeyboard: rows, ResizeKeyboard: true}
}

// classify maps Bot API errors onto the chat sentinel errors.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "message is not modified"):
		return fmt.Errorf("%w: %v", chat.ErrMessageNotModified, err)
	case strings.Contains(msg, "message to edit not found"),
		strings.Contains(msg, "message to delete not found"),
		strings.Contains(msg, "message to pin not found"):
		return fmt.Errorf("%w: %v", chat.ErrMessageNotFound, err)
	}
	return err
}
