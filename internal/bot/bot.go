// Package bot connects the agent event stream to one Telegram chat.
//
// A Bot owns the aggregator and the small state machines it drives (poll,
// permission prompt, pinned status and keyboard), wires the aggregator's
// callbacks to chat messages, and handles what the user sends back: prompts,
// custom poll answers and inline button presses.
package bot

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/inercia/opencode-telegram/internal/background"
	"github.com/inercia/opencode-telegram/internal/chat"
	"github.com/inercia/opencode-telegram/internal/keyboard"
	"github.com/inercia/opencode-telegram/internal/logging"
	"github.com/inercia/opencode-telegram/internal/opencode"
	"github.com/inercia/opencode-telegram/internal/permission"
	"github.com/inercia/opencode-telegram/internal/pinned"
	"github.com/inercia/opencode-telegram/internal/question"
	"github.com/inercia/opencode-telegram/internal/settings"
	"github.com/inercia/opencode-telegram/internal/summary"
)

// API is the part of the agent client the bot uses.
// *opencode.Client implements it.
type API interface {
	pinned.API
	SendPrompt(ctx context.Context, p opencode.PromptRequest) error
	ReplyQuestion(ctx context.Context, requestID, directory string, answers [][]string) error
	ReplyPermission(ctx context.Context, requestID, directory, reply string) error
	CreateSession(ctx context.Context, directory string) (*opencode.Session, error)
	SessionStatus(ctx context.Context, directory string) (map[string]opencode.SessionState, error)
}

// Events is the event subscription. *opencode.EventSource implements it.
type Events interface {
	Subscribe(ctx context.Context, directory string, handler func(opencode.Event)) error
	Listening() (string, bool)
	Stop()
}

// Display holds the options that can change while the bot runs.
type Display struct {
	ShowThinking   bool
	ShowToolEvents bool
}

// Config configures a Bot.
type Config struct {
	// ProjectDir is the directory new sessions are created in.
	ProjectDir string
	// MaxFileSizeKB is the size ceiling for tool file attachments.
	MaxFileSizeKB int
	// DefaultModel is stored as the selected model when none is.
	DefaultModel settings.Model
	Display      Display
}

// Option configures a Bot.
type Option func(*options)

type options struct {
	dispatch       background.Dispatcher
	pinnedDebounce time.Duration
	keyboardLimit  time.Duration
	typingInterval time.Duration
}

// WithDispatcher sets how background work is scheduled. Tests use
// background.Inline.
func WithDispatcher(d background.Dispatcher) Option {
	return func(o *options) { o.dispatch = d }
}

// WithPinnedDebounce sets the pinned status debounce.
func WithPinnedDebounce(d time.Duration) Option {
	return func(o *options) { o.pinnedDebounce = d }
}

// WithKeyboardInterval sets the minimum time between keyboard pushes.
func WithKeyboardInterval(d time.Duration) Option {
	return func(o *options) { o.keyboardLimit = d }
}

// WithTypingInterval sets the typing indicator period.
func WithTypingInterval(d time.Duration) Option {
	return func(o *options) { o.typingInterval = d }
}

// Bot serves a single chat. It is safe for concurrent use.
type Bot struct {
	ctx        context.Context
	messenger  chat.Messenger
	api        API
	events     Events
	store      *settings.Store
	dispatch   background.Dispatcher
	logger     *slog.Logger
	projectDir string

	display atomic.Pointer[Display]

	aggregator  *summary.Aggregator
	questions   *question.Manager
	permissions *permission.Manager
	pinned      *pinned.Manager
	keyboard    *keyboard.Manager

	// promptMu serializes session creation and prompt sending.
	promptMu sync.Mutex
}

// New creates a Bot that talks to messenger. ctx bounds every background
// operation, including the event subscription; cancel it to stop the bot.
func New(ctx context.Context, messenger chat.Messenger, api API, events Events, store *settings.Store, cfg Config, opts ...Option) *Bot {
	o := options{
		dispatch:       background.Go,
		pinnedDebounce: pinned.DefaultDebounce,
		keyboardLimit:  keyboard.DefaultMinInterval,
		typingInterval: summary.DefaultTypingInterval,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if err := store.SetDefaultModel(cfg.DefaultModel); err != nil {
		logging.Bot().Warn("Failed to store default model", "error", err)
	}

	b := &Bot{
		ctx:        ctx,
		messenger:  messenger,
		api:        api,
		events:     events,
		store:      store,
		dispatch:   o.dispatch,
		logger:     logging.Bot(),
		projectDir: cfg.ProjectDir,

		questions:   question.NewManager(),
		permissions: permission.NewManager(),
		pinned: pinned.New(messenger, api, store,
			pinned.WithDebounce(o.pinnedDebounce),
			pinned.WithDispatcher(o.dispatch),
		),
		keyboard: keyboard.New(messenger, store.Agent(), store.Model(),
			keyboard.WithMinInterval(o.keyboardLimit),
		),
	}
	b.SetDisplay(cfg.Display)

	maxKB := cfg.MaxFileSizeKB
	if maxKB <= 0 {
		maxKB = summary.DefaultMaxFileSizeKB
	}
	b.aggregator = summary.New(messenger, b.callbacks(),
		summary.WithDispatcher(o.dispatch),
		summary.WithMaxFileSizeKB(maxKB),
		summary.WithTypingInterval(o.typingInterval),
	)
	b.pinned.SetOnKeyboardUpdate(b.keyboard.UpdateContext)

	if sess, ok := store.CurrentSession(); ok {
		b.aggregator.SetSession(sess.ID)
		b.aggregator.SetDirectory(sess.Directory)
	}
	return b
}

// SetDisplay replaces the display options. It is called on config reload.
func (b *Bot) SetDisplay(d Display) {
	b.display.Store(&d)
	b.logger.Debug("Display options updated", "show_thinking", d.ShowThinking, "show_tool_events", d.ShowToolEvents)
}

func (b *Bot) displayOptions() Display {
	return *b.display.Load()
}

// Aggregator returns the event aggregator.
func (b *Bot) Aggregator() *summary.Aggregator { return b.aggregator }

// Questions returns the poll state.
func (b *Bot) Questions() *question.Manager { return b.questions }

// Permissions returns the permission prompt state.
func (b *Bot) Permissions() *permission.Manager { return b.permissions }

// Pinned returns the pinned status manager.
func (b *Bot) Pinned() *pinned.Manager { return b.pinned }

// Keyboard returns the keyboard manager.
func (b *Bot) Keyboard() *keyboard.Manager { return b.keyboard }

// Start resumes the event subscription of a stored session, if any.
func (b *Bot) Start() {
	if sess, ok := b.store.CurrentSession(); ok && sess.Directory == b.projectDir {
		b.logger.Info("Resuming session", "session_id", sess.ID, "directory", sess.Directory)
		b.ensureSubscription(sess.Directory)
	}
}

// Stop cancels the event subscription and the typing indicator.
func (b *Bot) Stop() {
	b.events.Stop()
	b.aggregator.StopTyping()
}

// send delivers text, logging and dropping any error.
func (b *Bot) send(ctx context.Context, text string, opts ...chat.SendOption) (chat.MessageID, bool) {
	id, err := b.messenger.Send(ctx, text, opts...)
	if err != nil {
		b.logger.Error("Failed to send message", "error", err, "length", len(text))
		return 0, false
	}
	return id, true
}

func (b *Bot) deleteMessage(ctx context.Context, id chat.MessageID) {
	if id == 0 {
		return
	}
	if err := b.messenger.Delete(ctx, id); err != nil {
		b.logger.Debug("Failed to delete message", "message_id", id, "error", err)
	}
}

// directory returns the directory requests for the current session use.
func (b *Bot) directory() string {
	if sess, ok := b.store.CurrentSession(); ok && sess.Directory != "" {
		return sess.Directory
	}
	return b.projectDir
}

func (b *Bot) ensureSubscription(directory string) {
	if dir, ok := b.events.Listening(); ok && dir == directory {
		return
	}
	b.dispatch("events.subscribe", func() {
		err := b.events.Subscribe(b.ctx, directory, b.aggregator.ProcessEvent)
		if err == nil {
			return
		}
		b.logger.Error("Event stream permanently disconnected", "directory", directory, "error", err)
		b.send(b.ctx, TextStreamDisconnected)
	})
}
