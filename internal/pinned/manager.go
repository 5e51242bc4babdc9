// Package pinned keeps a pinned status message in the chat up to date with
// the current session: its title, project, model, context usage and the
// files the agent changed.
package pinned

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/inercia/opencode-telegram/internal/background"
	"github.com/inercia/opencode-telegram/internal/chat"
	"github.com/inercia/opencode-telegram/internal/logging"
	"github.com/inercia/opencode-telegram/internal/opencode"
	"github.com/inercia/opencode-telegram/internal/settings"
)

const (
	// DefaultContextLimit is used when the model's limit cannot be looked up.
	DefaultContextLimit int64 = 200_000

	// DefaultDebounce delays renders triggered by individual file changes.
	DefaultDebounce = 500 * time.Millisecond
)

// API is the part of the agent client the manager reads from.
type API interface {
	SessionMessages(ctx context.Context, sessionID, directory string) ([]opencode.MessageWithParts, error)
	SessionDiff(ctx context.Context, sessionID, directory string) ([]opencode.FileDiff, error)
	GetSession(ctx context.Context, sessionID, directory string) (*opencode.Session, error)
	Providers(ctx context.Context) ([]opencode.Provider, error)
}

// Store persists the pinned message id and supplies the current session
// and model. *settings.Store implements it.
type Store interface {
	PinnedMessageID() int
	SetPinnedMessageID(id int) error
	ClearPinnedMessageID() error
	CurrentSession() (settings.Session, bool)
	SetSessionTitle(title string) error
	Model() settings.Model
}

// State is a snapshot of the status shown in the pinned message.
type State struct {
	MessageID    chat.MessageID
	SessionID    string
	SessionTitle string
	ProjectName  string
	TokensUsed   int64
	TokensLimit  int64
	ChangedFiles []opencode.FileDiff
	LastUpdated  time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithDebounce sets the delay used to coalesce file-change renders.
func WithDebounce(d time.Duration) Option {
	return func(m *Manager) { m.debounce = d }
}

// WithDispatcher sets how keyboard update notifications are scheduled.
func WithDispatcher(d background.Dispatcher) Option {
	return func(m *Manager) { m.dispatch = d }
}

// Manager owns the pinned status message. It is safe for concurrent use.
type Manager struct {
	messenger chat.Messenger
	api       API
	store     Store
	logger    *slog.Logger
	debounce  time.Duration
	dispatch  background.Dispatcher

	flight singleflight.Group

	// renderMu serializes message I/O so edits land in order.
	renderMu sync.Mutex

	mu               sync.Mutex
	state            State
	contextLimit     int64
	timer            *time.Timer
	timerGen         uint64
	onKeyboardUpdate func(used, limit int64)
}

// New returns a Manager that restores the pinned message id from store.
// A nil messenger leaves the manager uninitialized: state is tracked but
// nothing is sent.
func New(messenger chat.Messenger, api API, store Store, opts ...Option) *Manager {
	m := &Manager{
		messenger: messenger,
		api:       api,
		store:     store,
		logger:    logging.Pinned(),
		debounce:  DefaultDebounce,
		dispatch:  background.Go,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.state = State{SessionTitle: DefaultSessionTitle}
	if id := store.PinnedMessageID(); id != 0 {
		m.state.MessageID = chat.MessageID(id)
	}
	return m
}

// IsInitialized reports whether the manager can send messages.
func (m *Manager) IsInitialized() bool {
	return m.messenger != nil
}

// SetOnKeyboardUpdate registers fn to receive context usage after renders.
func (m *Manager) SetOnKeyboardUpdate(fn func(used, limit int64)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onKeyboardUpdate = fn
}

// State returns a copy of the current status.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state
	s.ChangedFiles = append([]opencode.FileDiff(nil), m.state.ChangedFiles...)
	return s
}

// ContextInfo returns the context usage, or false while no limit is known.
func (m *Manager) ContextInfo() (used, limit int64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = m.state.TokensLimit
	if limit <= 0 {
		limit = m.contextLimit
	}
	return m.state.TokensUsed, limit, limit > 0
}

// ContextLimit returns the cached context limit of the current model, or 0.
func (m *Manager) ContextLimit() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.contextLimit > 0 {
		return m.contextLimit
	}
	return m.state.TokensLimit
}

// RefreshContextLimit looks the limit up again, e.g. after a model change.
func (m *Manager) RefreshContextLimit(ctx context.Context) {
	m.fetchContextLimit(ctx)
}

// OnSessionChange starts a fresh status for a newly bound session: the old
// message is unpinned, a new one is pinned, and any existing diffs are
// loaded from the server.
func (m *Manager) OnSessionChange(ctx context.Context, sessionID, title string) {
	m.logger.Info("Session changed", "session_id", sessionID, "title", title)

	project := textUnknown
	if sess, ok := m.store.CurrentSession(); ok && sess.ProjectName() != "" {
		project = sess.ProjectName()
	}
	if title == "" {
		title = DefaultSessionTitle
	}

	m.mu.Lock()
	m.stopTimerLocked()
	m.state.SessionID = sessionID
	m.state.SessionTitle = title
	m.state.ProjectName = project
	m.state.TokensUsed = 0
	m.state.ChangedFiles = nil
	m.mu.Unlock()

	limit := m.fetchContextLimit(ctx)
	m.notifyKeyboard(0, limit)

	m.renderMu.Lock()
	m.unpinAll(ctx)
	m.create(ctx)
	m.renderMu.Unlock()

	m.loadDiffs(ctx, sessionID)
}

// OnSessionTitleUpdate renders a new session title.
func (m *Manager) OnSessionTitleUpdate(ctx context.Context, title string) {
	m.mu.Lock()
	changed := title != "" && title != m.state.SessionTitle
	if changed {
		m.state.SessionTitle = title
	}
	m.mu.Unlock()

	if changed {
		m.logger.Debug("Session title updated", "title", title)
		m.update(ctx)
	}
}

// LoadContextFromHistory sets the context usage to the peak reported by
// the session's assistant messages, skipping summaries.
func (m *Manager) LoadContextFromHistory(ctx context.Context, sessionID, directory string) {
	messages, err := m.api.SessionMessages(ctx, sessionID, directory)
	if err != nil {
		m.logger.Warn("Failed to load session history", "session_id", sessionID, "error", err)
		return
	}
	peak := peakContext(messages)

	m.mu.Lock()
	m.state.TokensUsed = peak
	m.state.SessionID = sessionID
	m.mu.Unlock()

	m.logger.Info("Loaded context from history", "session_id", sessionID, "messages", len(messages), "tokens", peak)
	m.update(ctx)
}

// OnSessionCompacted reloads the context usage after a compaction.
func (m *Manager) OnSessionCompacted(ctx context.Context, sessionID, directory string) {
	m.logger.Info("Session compacted, reloading context", "session_id", sessionID)
	m.LoadContextFromHistory(ctx, sessionID, directory)
}

// OnMessageComplete sets the context usage to the latest reported value.
func (m *Manager) OnMessageComplete(ctx context.Context, tokens opencode.Tokens) {
	if m.ContextLimit() == 0 {
		m.fetchContextLimit(ctx)
	}

	m.mu.Lock()
	m.state.TokensUsed = tokens.Context()
	m.mu.Unlock()

	m.refreshSessionTitle(ctx)
	m.update(ctx)
}

// OnSessionDiff replaces the changed files with an authoritative snapshot.
// An empty snapshot does not wipe files already collected.
func (m *Manager) OnSessionDiff(ctx context.Context, diffs []opencode.FileDiff) {
	m.mu.Lock()
	if len(diffs) == 0 && len(m.state.ChangedFiles) > 0 {
		m.mu.Unlock()
		m.logger.Debug("Ignoring empty session diff")
		return
	}
	m.state.ChangedFiles = append([]opencode.FileDiff(nil), diffs...)
	m.mu.Unlock()

	m.logger.Debug("Session diff updated", "files", len(diffs))
	m.update(ctx)
}

// AddFileChange adds change to the counters of its file and schedules a
// debounced render.
func (m *Manager) AddFileChange(change opencode.FileDiff) {
	m.mu.Lock()
	defer m.mu.Unlock()

	found := false
	for i := range m.state.ChangedFiles {
		if f := &m.state.ChangedFiles[i]; f.File == change.File {
			f.Additions += change.Additions
			f.Deletions += change.Deletions
			found = true
			break
		}
	}
	if !found {
		m.state.ChangedFiles = append(m.state.ChangedFiles, change)
	}
	m.logger.Debug("File change added",
		"file", change.File,
		"additions", change.Additions,
		"deletions", change.Deletions,
		"total", len(m.state.ChangedFiles),
	)

	m.stopTimerLocked()
	gen := m.timerGen
	m.timer = time.AfterFunc(m.debounce, func() { m.flushChanges(gen) })
}

// flushChanges renders the file list for the debounce timer of generation
// gen. Timers that were stopped or replaced after firing do nothing.
func (m *Manager) flushChanges(gen uint64) {
	m.mu.Lock()
	if m.timer == nil || m.timerGen != gen {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.mu.Unlock()
	m.update(context.Background())
}

// Clear unpins the status message and forgets the session.
func (m *Manager) Clear(ctx context.Context) {
	m.mu.Lock()
	m.stopTimerLocked()
	m.state = State{SessionTitle: DefaultSessionTitle}
	m.mu.Unlock()

	if m.messenger != nil {
		m.renderMu.Lock()
		m.unpinAll(ctx)
		m.renderMu.Unlock()
	}
	if err := m.store.ClearPinnedMessageID(); err != nil {
		m.logger.Warn("Failed to clear pinned message id", "error", err)
	}
	m.logger.Info("Cleared pinned message state")
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.timerGen++
}

func (m *Manager) notifyKeyboard(used, limit int64) {
	m.mu.Lock()
	fn := m.onKeyboardUpdate
	m.mu.Unlock()
	if fn == nil || limit <= 0 {
		return
	}
	m.dispatch("pinned-keyboard-update", func() { fn(used, limit) })
}

// fetchContextLimit resolves the current model's context window.
// Concurrent callers share one lookup.
func (m *Manager) fetchContextLimit(ctx context.Context) int64 {
	v, _, _ := m.flight.Do("context-limit", func() (any, error) {
		model := m.store.Model()
		if !model.IsSet() {
			m.logger.Warn("No model configured, using default context limit")
			return DefaultContextLimit, nil
		}
		providers, err := m.api.Providers(ctx)
		if err != nil {
			m.logger.Warn("Failed to fetch providers, using default context limit", "error", err)
			return DefaultContextLimit, nil
		}
		if limit := opencode.ContextLimit(providers, model.ProviderID, model.ModelID); limit > 0 {
			m.logger.Debug("Context limit resolved", "model", model.String(), "limit", limit)
			return limit, nil
		}
		m.logger.Warn("Model not found in providers, using default context limit", "model", model.String())
		return DefaultContextLimit, nil
	})
	limit := v.(int64)

	m.mu.Lock()
	m.contextLimit = limit
	m.state.TokensLimit = limit
	m.mu.Unlock()
	return limit
}

func (m *Manager) refreshSessionTitle(ctx context.Context) {
	sess, ok := m.store.CurrentSession()
	if !ok {
		return
	}
	info, err := m.api.GetSession(ctx, sess.ID, sess.Directory)
	if err != nil {
		m.logger.Debug("Could not refresh session title", "session_id", sess.ID, "error", err)
		return
	}

	m.mu.Lock()
	changed := info.Title != "" && info.Title != m.state.SessionTitle
	if changed {
		m.state.SessionTitle = info.Title
	}
	m.mu.Unlock()

	if changed {
		m.logger.Debug("Session title refreshed", "title", info.Title)
		if err := m.store.SetSessionTitle(info.Title); err != nil {
			m.logger.Warn("Failed to persist session title", "error", err)
		}
	}
}

// loadDiffs fills the changed files from the server, falling back to the
// tool calls in the session history.
func (m *Manager) loadDiffs(ctx context.Context, sessionID string) {
	sess, ok := m.store.CurrentSession()
	if !ok || sess.Directory == "" {
		m.logger.Debug("No project directory, skipping diff load")
		return
	}

	diffs, err := m.api.SessionDiff(ctx, sessionID, sess.Directory)
	if err != nil {
		m.logger.Debug("Could not load session diff", "session_id", sessionID, "error", err)
	}
	if len(diffs) == 0 {
		messages, err := m.api.SessionMessages(ctx, sessionID, sess.Directory)
		if err != nil {
			m.logger.Debug("Could not load diffs from messages", "session_id", sessionID, "error", err)
			return
		}
		diffs = diffsFromMessages(messages)
	}
	if len(diffs) == 0 {
		return
	}

	m.mu.Lock()
	m.state.ChangedFiles = diffs
	m.mu.Unlock()

	m.logger.Info("Loaded file diffs", "session_id", sessionID, "files", len(diffs))
	m.update(ctx)
}

func (m *Manager) render() string {
	worktree := ""
	if sess, ok := m.store.CurrentSession(); ok {
		worktree = sess.Directory
	}
	model := m.store.Model().String()

	m.mu.Lock()
	defer m.mu.Unlock()
	return formatStatus(m.state, model, worktree)
}

// create sends and pins a new status message. Callers hold renderMu.
func (m *Manager) create(ctx context.Context) {
	if m.messenger == nil {
		m.logger.Warn("Messenger not initialized, skipping pinned message")
		return
	}

	id, err := m.messenger.Send(ctx, m.render())
	if err != nil {
		m.logger.Error("Failed to create pinned message", "error", err)
		return
	}

	m.mu.Lock()
	m.state.MessageID = id
	m.state.LastUpdated = time.Now()
	m.mu.Unlock()

	if err := m.store.SetPinnedMessageID(int(id)); err != nil {
		m.logger.Warn("Failed to persist pinned message id", "error", err)
	}
	if err := m.messenger.Pin(ctx, id); err != nil {
		m.logger.Error("Failed to pin message", "message_id", id, "error", err)
		return
	}
	m.logger.Info("Created and pinned message", "message_id", id)
}

// unpinAll drops every pin in the chat. Callers hold renderMu.
func (m *Manager) unpinAll(ctx context.Context) {
	if m.messenger == nil {
		return
	}
	if err := m.messenger.UnpinAll(ctx); err != nil {
		m.logger.Debug("Failed to unpin messages", "error", err)
	}

	m.mu.Lock()
	m.state.MessageID = 0
	m.mu.Unlock()
	if err := m.store.ClearPinnedMessageID(); err != nil {
		m.logger.Warn("Failed to clear pinned message id", "error", err)
	}
}

// update edits the pinned message with the current status. A message that
// was deleted out of band is recreated.
func (m *Manager) update(ctx context.Context) {
	if m.messenger == nil {
		return
	}
	m.renderMu.Lock()
	defer m.renderMu.Unlock()

	m.mu.Lock()
	id := m.state.MessageID
	m.mu.Unlock()
	if id == 0 {
		return
	}

	err := m.messenger.Edit(ctx, id, m.render())
	switch {
	case errors.Is(err, chat.ErrMessageNotModified):
		return
	case errors.Is(err, chat.ErrMessageNotFound):
		m.logger.Warn("Pinned message was deleted, recreating", "message_id", id)
		m.mu.Lock()
		m.state.MessageID = 0
		m.mu.Unlock()
		if err := m.store.ClearPinnedMessageID(); err != nil {
			m.logger.Warn("Failed to clear pinned message id", "error", err)
		}
		m.create(ctx)
		return
	case err != nil:
		m.logger.Error("Failed to update pinned message", "message_id", id, "error", err)
		return
	}

	m.mu.Lock()
	m.state.LastUpdated = time.Now()
	used, limit := m.state.TokensUsed, m.state.TokensLimit
	m.mu.Unlock()

	m.logger.Debug("Updated pinned message", "message_id", id)
	m.notifyKeyboard(used, limit)
}
