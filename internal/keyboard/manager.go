// Package keyboard maintains the reply keyboard shown under the input field.
// It mirrors the selected agent, model, variant and context usage, and
// pushes a refreshed keyboard to the chat at a limited rate.
package keyboard

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/mattn/go-runewidth"
	"golang.org/x/time/rate"

	"github.com/inercia/opencode-telegram/internal/chat"
	"github.com/inercia/opencode-telegram/internal/logging"
	"github.com/inercia/opencode-telegram/internal/pinned"
	"github.com/inercia/opencode-telegram/internal/settings"
)

const (
	// DefaultMinInterval is the minimum time between two keyboard pushes.
	DefaultMinInterval = 2 * time.Second

	// MaxLabelWidth is the display width a button label is truncated to.
	MaxLabelWidth = 32

	// DefaultAgent is shown when no agent was selected.
	DefaultAgent = "build"

	// TextUpdated accompanies a pushed keyboard.
	TextUpdated = "⌨️ Keyboard updated"
)

var agentEmoji = map[string]string{
	"plan":       "📋",
	"build":      "🛠️",
	"general":    "💬",
	"explore":    "🔍",
	"ask":        "🤔",
	"title":      "📝",
	"summary":    "📄",
	"compaction": "📦",
}

// ContextInfo is the context window usage shown on the keyboard.
type ContextInfo struct {
	Used  int64
	Limit int64
}

// State is the information the keyboard displays.
type State struct {
	Agent   string
	Model   settings.Model
	Variant string
	Context *ContextInfo
}

// Option configures a Manager.
type Option func(*Manager)

// WithMinInterval sets the minimum time between pushes.
func WithMinInterval(d time.Duration) Option {
	return func(m *Manager) { m.interval = d }
}

// Manager holds the keyboard state. Updates are cheap and synchronous;
// only SendUpdate talks to the chat. It is safe for concurrent use.
type Manager struct {
	messenger chat.Messenger
	logger    *slog.Logger
	interval  time.Duration

	mu      sync.Mutex
	state   State
	limiter *rate.Limiter
}

// New returns a Manager showing agent and model.
func New(messenger chat.Messenger, agent string, model settings.Model, opts ...Option) *Manager {
	m := &Manager{
		messenger: messenger,
		logger:    logging.Keyboard(),
		interval:  DefaultMinInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.limiter = rate.NewLimiter(rate.Every(m.interval), 1)
	m.state = initialState(agent, model)
	m.logger.Debug("Keyboard initialized", "agent", m.state.Agent, "model", model.String(), "variant", m.state.Variant)
	return m
}

func initialState(agent string, model settings.Model) State {
	if agent == "" {
		agent = DefaultAgent
	}
	return State{Agent: agent, Model: model, Variant: model.Variant}
}

// UpdateAgent sets the agent label.
func (m *Manager) UpdateAgent(agent string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Agent = agent
	m.logger.Debug("Agent updated", "agent", agent)
}

// UpdateModel sets the model and its variant.
func (m *Manager) UpdateModel(model settings.Model) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Model = model
	m.state.Variant = model.Variant
	m.logger.Debug("Model updated", "model", model.String(), "variant", model.Variant)
}

// UpdateVariant sets the variant label.
func (m *Manager) UpdateVariant(variant string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Variant = variant
	m.logger.Debug("Variant updated", "variant", variant)
}

// UpdateContext sets the context usage.
func (m *Manager) UpdateContext(used, limit int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Context = &ContextInfo{Used: used, Limit: limit}
	m.logger.Debug("Context updated", "used", used, "limit", limit)
}

// ClearContext removes the context usage.
func (m *Manager) ClearContext() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Context = nil
}

// ContextInfo returns the context usage, if known.
func (m *Manager) ContextInfo() (ContextInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Context == nil {
		return ContextInfo{}, false
	}
	return *m.state.Context, true
}

// State returns a copy of the displayed state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state
	if s.Context != nil {
		c := *s.Context
		s.Context = &c
	}
	return s
}

// Reset restores the initial agent and model and allows an immediate push.
func (m *Manager) Reset(agent string, model settings.Model) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = initialState(agent, model)
	m.limiter = rate.NewLimiter(rate.Every(m.interval), 1)
}

// Keyboard builds the label grid for the current state.
func (m *Manager) Keyboard() chat.Keyboard {
	return Build(m.State())
}

// SendUpdate pushes the current keyboard with a short notice. Pushes closer
// together than the minimum interval are skipped. It reports whether a
// message was sent.
func (m *Manager) SendUpdate(ctx context.Context) bool {
	if m.messenger == nil {
		m.logger.Warn("Messenger not initialized, skipping keyboard update")
		return false
	}
	m.mu.Lock()
	limiter := m.limiter
	m.mu.Unlock()
	if !limiter.Allow() {
		m.logger.Debug("Keyboard update throttled")
		return false
	}
	if _, err := m.messenger.Send(ctx, TextUpdated, chat.WithReplyKeyboard(m.Keyboard()), chat.Silent()); err != nil {
		m.logger.Error("Failed to send keyboard update", "error", err)
		return false
	}
	m.logger.Debug("Keyboard update sent")
	return true
}

// Build renders s as two rows of labels.
func Build(s State) chat.Keyboard {
	return chat.Keyboard{
		{label(AgentLabel(s.Agent)), label(ModelLabel(s.Model))},
		{label(ContextLabel(s.Context)), label(VariantLabel(s.Variant))},
	}
}

func label(s string) string {
	return runewidth.Truncate(s, MaxLabelWidth, "...")
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// AgentLabel renders an agent as "🛠️ Build Mode".
func AgentLabel(agent string) string {
	if agent == "" {
		agent = DefaultAgent
	}
	emoji, ok := agentEmoji[agent]
	if !ok {
		emoji = "🤖"
	}
	return fmt.Sprintf("%s %s Mode", emoji, capitalize(agent))
}

// ModelLabel renders the model identity.
func ModelLabel(model settings.Model) string {
	if !model.IsSet() {
		return "🧠 No model"
	}
	return "🧠 " + model.String()
}

// VariantLabel renders a model variant, "💡 Default" when unset.
func VariantLabel(variant string) string {
	if strings.TrimSpace(variant) == "" {
		variant = "default"
	}
	return "💡 " + capitalize(variant)
}

// ContextLabel renders the context usage, "📊 0" when unknown.
func ContextLabel(c *ContextInfo) string {
	if c == nil || c.Limit <= 0 {
		return "📊 0"
	}
	return fmt.Sprintf("📊 %s / %s (%d%%)",
		pinned.FormatTokens(c.Used), pinned.FormatTokens(c.Limit), pinned.Percent(c.Used, c.Limit))
}
