// Package chat defines the messaging surface the bot core talks to.
//
// A Messenger is bound to a single chat. The core only ever sends, edits,
// deletes and pins messages through it, so the Telegram SDK stays behind
// one small interface and the managers can be tested with a fake.
package chat

import (
	"context"
	"errors"
)

// MessageID identifies a message within the bound chat.
type MessageID int

var (
	// ErrMessageNotModified is returned by Edit when the new content is identical.
	ErrMessageNotModified = errors.New("message is not modified")

	// ErrMessageNotFound is returned by Edit or Delete when the message no longer exists.
	ErrMessageNotFound = errors.New("message to edit not found")
)

// Button is an inline keyboard button carrying callback data.
type Button struct {
	Text string
	Data string
}

// InlineKeyboard is a grid of inline buttons attached to one message.
type InlineKeyboard [][]Button

// Keyboard is a reply keyboard shown under the input field, as rows of labels.
type Keyboard [][]string

// Document is a file sent as an attachment.
type Document struct {
	Name    string
	Data    []byte
	Caption string
}

// SendOptions holds the optional parts of an outgoing message.
type SendOptions struct {
	Reply    Keyboard
	Inline   InlineKeyboard
	Markdown bool
	Silent   bool
}

// SendOption configures SendOptions.
type SendOption func(*SendOptions)

// WithReplyKeyboard attaches a reply keyboard.
func WithReplyKeyboard(k Keyboard) SendOption {
	return func(o *SendOptions) { o.Reply = k }
}

// WithInlineKeyboard attaches inline buttons.
func WithInlineKeyboard(k InlineKeyboard) SendOption {
	return func(o *SendOptions) { o.Inline = k }
}

// WithMarkdown asks the platform to parse the text as Markdown.
func WithMarkdown() SendOption {
	return func(o *SendOptions) { o.Markdown = true }
}

// Silent sends without a notification sound.
func Silent() SendOption {
	return func(o *SendOptions) { o.Silent = true }
}

// ApplyOptions folds opts into a SendOptions value.
func ApplyOptions(opts ...SendOption) SendOptions {
	var o SendOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// Messenger performs message operations on one chat.
// Implementations must be safe for concurrent use.
type Messenger interface {
	Send(ctx context.Context, text string, opts ...SendOption) (MessageID, error)
	Edit(ctx context.Context, id MessageID, text string, opts ...SendOption) error
	Delete(ctx context.Context, id MessageID) error
	Pin(ctx context.Context, id MessageID) error
	UnpinAll(ctx context.Context) error
	SendTyping(ctx context.Context) error
	SendDocument(ctx context.Context, doc Document) error
}
