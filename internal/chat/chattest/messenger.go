// Package chattest provides an in-memory chat.Messenger for tests.
package chattest

import (
	"context"
	"reflect"
	"sync"

	"github.com/inercia/opencode-telegram/internal/chat"
)

// Message is a message recorded by Messenger.
type Message struct {
	ID      chat.MessageID
	Text    string
	Options chat.SendOptions
	Deleted bool
}

// Messenger records every operation. Errors for the next call of each kind
// can be injected through the Err fields.
type Messenger struct {
	mu sync.Mutex

	Messages  []*Message
	Documents []chat.Document
	Pinned    []chat.MessageID
	Edits     int
	Typing    int
	Unpins    int

	SendErr   error
	EditErr   error
	DeleteErr error
	PinErr    error

	nextID chat.MessageID
}

// New returns an empty Messenger.
func New() *Messenger {
	return &Messenger{nextID: 100}
}

var _ chat.Messenger = (*Messenger)(nil)

func (m *Messenger) Send(_ context.Context, text string, opts ...chat.SendOption) (chat.MessageID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := take(&m.SendErr); err != nil {
		return 0, err
	}
	m.nextID++
	m.Messages = append(m.Messages, &Message{ID: m.nextID, Text: text, Options: chat.ApplyOptions(opts...)})
	return m.nextID, nil
}

func (m *Messenger) Edit(_ context.Context, id chat.MessageID, text string, opts ...chat.SendOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := take(&m.EditErr); err != nil {
		return err
	}
	msg := m.find(id)
	if msg == nil {
		return chat.ErrMessageNotFound
	}
	o := chat.ApplyOptions(opts...)
	if msg.Text == text && reflect.DeepEqual(msg.Options, o) {
		return chat.ErrMessageNotModified
	}
	msg.Text = text
	msg.Options = o
	m.Edits++
	return nil
}

func (m *Messenger) Delete(_ context.Context, id chat.MessageID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := take(&m.DeleteErr); err != nil {
		return err
	}
	msg := m.find(id)
	if msg == nil {
		return chat.ErrMessageNotFound
	}
	msg.Deleted = true
	return nil
}

func (m *Messenger) Pin(_ context.Context, id chat.MessageID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := take(&m.PinErr); err != nil {
		return err
	}
	m.Pinned = append(m.Pinned, id)
	return nil
}

func (m *Messenger) UnpinAll(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Pinned = nil
	m.Unpins++
	return nil
}

func (m *Messenger) SendTyping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Typing++
	return nil
}

func (m *Messenger) SendDocument(_ context.Context, doc chat.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Documents = append(m.Documents, doc)
	return nil
}

// Texts returns the text of every non-deleted message, in send order.
func (m *Messenger) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, msg := range m.Messages {
		if !msg.Deleted {
			out = append(out, msg.Text)
		}
	}
	return out
}

// Get returns a copy of the message with id, or nil.
func (m *Messenger) Get(id chat.MessageID) *Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := m.find(id)
	if msg == nil {
		return nil
	}
	cp := *msg
	return &cp
}

// Last returns a copy of the most recently sent message, or nil.
func (m *Messenger) Last() *Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Messages) == 0 {
		return nil
	}
	cp := *m.Messages[len(m.Messages)-1]
	return &cp
}

// Forget drops a message so later edits report chat.ErrMessageNotFound,
// as if a user deleted it from the chat.
func (m *Messenger) Forget(id chat.MessageID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, msg := range m.Messages {
		if msg.ID == id {
			m.Messages = append(m.Messages[:i], m.Messages[i+1:]...)
			return
		}
	}
}

// TypingCount returns how many typing actions were sent.
func (m *Messenger) TypingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Typing
}

func (m *Messenger) find(id chat.MessageID) *Message {
	for _, msg := range m.Messages {
		if msg.ID == id && !msg.Deleted {
			return msg
		}
	}
	return nil
}

func take(err *error) error {
	e := *err
	*err = nil
	return e
}

// EditCount returns how many edits changed a message.
func (m *Messenger) EditCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Edits
}

// PinnedIDs returns the currently pinned messages.
func (m *Messenger) PinnedIDs() []chat.MessageID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]chat.MessageID(nil), m.Pinned...)
}
