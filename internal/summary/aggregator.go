// Package summary interprets the agent event stream for one chat.
//
// The Aggregator follows the messages of the current session, accumulates
// streamed text and tool activity, and reports what the user should see
// through Callbacks. It also drives the typing indicator while an assistant
// message is in flight.
package summary

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/inercia/opencode-telegram/internal/background"
	"github.com/inercia/opencode-telegram/internal/chat"
	"github.com/inercia/opencode-telegram/internal/logging"
	"github.com/inercia/opencode-telegram/internal/opencode"
)

// ToolInfo describes a completed tool call.
type ToolInfo struct {
	MessageID string
	CallID    string
	Tool      string
	Status    string
	Title     string
	Input     map[string]any
	Metadata  map[string]any
}

// Callbacks receive the aggregator's output. All fields are optional.
//
// OnTokens, OnComplete, OnTool, OnToolFile and OnFileChange run on the
// goroutine that called ProcessEvent. The others are handed to the
// aggregator's Dispatcher.
type Callbacks struct {
	// OnComplete receives the final text of an assistant message.
	OnComplete func(sessionID, text string)
	// OnTool is called once per completed tool call.
	OnTool func(info ToolInfo)
	// OnToolFile receives the attachment for a write or edit.
	OnToolFile func(doc chat.Document)
	// OnQuestion is called when the agent asks the user a poll.
	OnQuestion func(questions []opencode.Question, requestID string)
	// OnQuestionError is called when the question tool fails.
	OnQuestionError func()
	// OnPermission is called when the agent needs approval.
	OnPermission func(req opencode.PermissionRequest)
	// OnThinking is called when a new assistant message starts.
	OnThinking func()
	// OnTokens receives the token usage of a completed message.
	OnTokens func(tokens opencode.Tokens)
	// OnSessionCompacted is called after the session history was summarized.
	OnSessionCompacted func(sessionID, directory string)
	// OnSessionDiff receives the complete list of changed files.
	OnSessionDiff func(sessionID string, diffs []opencode.FileDiff)
	// OnFileChange receives the change made by one write or edit.
	OnFileChange func(change opencode.FileDiff)
	// OnSessionUpdated receives changed session metadata.
	OnSessionUpdated func(session opencode.Session)
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithDispatcher sets how asynchronous callbacks are run.
// The default is background.Go.
func WithDispatcher(d background.Dispatcher) Option {
	return func(a *Aggregator) {
		if d != nil {
			a.dispatch = d
		}
	}
}

// WithMaxFileSizeKB sets the size ceiling for tool file attachments.
func WithMaxFileSizeKB(kb int) Option {
	return func(a *Aggregator) { a.maxFileKB = kb }
}

// WithTypingInterval sets the typing indicator period.
func WithTypingInterval(d time.Duration) Option {
	return func(a *Aggregator) { a.typingInterval = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}

// DefaultMaxFileSizeKB is the default attachment size ceiling.
const DefaultMaxFileSizeKB = 100

// Aggregator turns raw events into Callbacks for the bound session.
// It is safe for concurrent use; ProcessEvent calls are serialized.
type Aggregator struct {
	callbacks      Callbacks
	dispatch       background.Dispatcher
	maxFileKB      int
	typingInterval time.Duration
	typing         *Typing
	logger         *slog.Logger

	// procMu serializes ProcessEvent, including its synchronous callbacks.
	procMu sync.Mutex

	mu        sync.Mutex
	sessionID string
	directory string
	parts     map[string][]string
	pending   map[string][]string
	roles     map[string]string
	hashes    map[string]map[string]struct{}
	// processed holds "notified-<callID>" and "file-<callID>" markers.
	processed map[string]struct{}
}

// New creates an Aggregator. messenger is used only for the typing
// indicator and may be nil.
func New(messenger chat.Messenger, cb Callbacks, opts ...Option) *Aggregator {
	a := &Aggregator{
		callbacks: cb,
		dispatch:  background.Go,
		maxFileKB: DefaultMaxFileSizeKB,
		logger:    logging.Aggregator(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.typing = NewTyping(messenger, a.typingInterval, a.logger)
	a.resetLocked()
	return a
}

func (a *Aggregator) resetLocked() {
	a.sessionID = ""
	a.clearInflightLocked()
	a.processed = make(map[string]struct{})
}

func (a *Aggregator) clearInflightLocked() {
	a.parts = make(map[string][]string)
	a.pending = make(map[string][]string)
	a.roles = make(map[string]string)
	a.hashes = make(map[string]map[string]struct{})
}

// SetSession binds the aggregator to sessionID. Switching to another
// session drops all in-flight message state; binding the same id again
// keeps it.
func (a *Aggregator) SetSession(sessionID string) {
	a.mu.Lock()
	if a.sessionID == sessionID {
		a.mu.Unlock()
		return
	}
	a.sessionID = sessionID
	a.clearInflightLocked()
	a.mu.Unlock()

	a.typing.Stop()
	logging.WithSession(a.logger, sessionID).Debug("Aggregator bound to session")
}

// SessionID returns the bound session, or "".
func (a *Aggregator) SessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID
}

// SetDirectory sets the project directory reported by OnSessionCompacted.
func (a *Aggregator) SetDirectory(dir string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.directory = dir
}

// Reset unbinds the session and forgets every message and tool marker.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.resetLocked()
	a.mu.Unlock()
	a.typing.Stop()
}

// StopTyping stops the typing indicator.
func (a *Aggregator) StopTyping() {
	a.typing.Stop()
}

// effects collects the calls an event produces so they run after the
// state lock is released, in order.
type effects []func()

func (e *effects) add(f func()) { *e = append(*e, f) }

func (a *Aggregator) async(e *effects, name string, f func()) {
	dispatch := a.dispatch
	e.add(func() { dispatch(name, f) })
}

// ProcessEvent updates the state with ev and fires the resulting callbacks.
// Events for sessions other than the bound one are ignored.
func (a *Aggregator) ProcessEvent(ev opencode.Event) {
	if ev == nil {
		return
	}
	a.procMu.Lock()
	defer a.procMu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("Panic while processing event", "type", ev.Type(), "panic", r)
		}
	}()

	if u, ok := ev.(opencode.Unknown); ok {
		if u.Err != nil {
			a.logger.Warn("Skipping malformed event", "type", u.Name, "error", u.Err)
		} else {
			a.logger.Debug("Unhandled event type", "type", u.Name)
		}
		return
	}

	for _, f := range a.collect(ev) {
		f()
	}
}

// collect applies ev to the state and returns the calls it produces.
func (a *Aggregator) collect(ev opencode.Event) effects {
	var out effects
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sessionID == "" || ev.SessionID() != a.sessionID {
		return nil
	}
	logger := logging.WithSession(a.logger, a.sessionID)

	switch e := ev.(type) {
	case opencode.MessageUpdated:
		a.messageUpdatedLocked(&out, e.Info, logger)
	case opencode.PartUpdated:
		a.partUpdatedLocked(&out, e.Part, logger)
	case opencode.SessionStatus:
		logger.Debug("Session status", "status", e.Status.Type)
	case opencode.SessionIdle:
		logger.Info("Session became idle")
		out.add(a.typing.Stop)
	case opencode.SessionCompacted:
		logger.Info("Session compacted")
		if cb := a.callbacks.OnSessionCompacted; cb != nil {
			if dir := a.directory; dir != "" {
				sid := e.Session
				a.async(&out, "session-compacted", func() { cb(sid, dir) })
			} else {
				logger.Warn("No project directory, skipping context reload after compaction")
			}
		}
	case opencode.QuestionAsked:
		logger.Info("Question asked", "request_id", e.ID, "questions", len(e.Questions))
		if cb := a.callbacks.OnQuestion; cb != nil {
			qs, id := e.Questions, e.ID
			a.async(&out, "question-asked", func() { cb(qs, id) })
		}
	case opencode.SessionDiff:
		logger.Debug("Session diff", "files", len(e.Diff))
		if cb := a.callbacks.OnSessionDiff; cb != nil {
			sid, diff := e.Session, append([]opencode.FileDiff(nil), e.Diff...)
			a.async(&out, "session-diff", func() { cb(sid, diff) })
		}
	case opencode.PermissionAsked:
		logger.Info("Permission asked",
			"request_id", e.ID,
			"permission", e.Permission,
			"patterns", len(e.Patterns),
		)
		if cb := a.callbacks.OnPermission; cb != nil {
			req := e.PermissionRequest
			a.async(&out, "permission-asked", func() { cb(req) })
		}
	case opencode.SessionUpdated:
		if cb := a.callbacks.OnSessionUpdated; cb != nil {
			s := e.Info
			a.async(&out, "session-updated", func() { cb(s) })
		}
	case opencode.QuestionReplied:
		logger.Info("Question replied", "request_id", e.RequestID)
	case opencode.QuestionRejected:
		logger.Info("Question rejected", "request_id", e.RequestID)
	case opencode.PermissionReplied:
		logger.Info("Permission replied", "request_id", e.RequestID, "reply", e.Reply)
	default:
		logger.Debug("Unhandled event type", "type", ev.Type())
	}
	return out
}

func (a *Aggregator) messageUpdatedLocked(out *effects, info opencode.MessageInfo, logger *slog.Logger) {
	id := info.ID
	a.roles[id] = info.Role
	if info.Role != opencode.RoleAssistant {
		delete(a.pending, id)
		delete(a.hashes, id)
		return
	}

	if _, ok := a.parts[id]; !ok {
		a.parts[id] = []string{}
		out.add(a.typing.Start)
		if cb := a.callbacks.OnThinking; cb != nil {
			a.async(out, "thinking", cb)
		}
	}
	if pending := a.pending[id]; len(pending) > 0 {
		a.parts[id] = append(a.parts[id], pending...)
	}
	delete(a.pending, id)

	if info.Time.Completed == 0 {
		return
	}

	parts := a.parts[id]
	var text string
	if len(parts) > 0 {
		text = parts[len(parts)-1]
	}
	logger.Debug("Assistant message completed",
		"message_id", id,
		"text_length", len(text),
		"parts", len(parts),
	)

	// Tokens go first so the keyboard shows the new context size
	// before the reply is sent.
	if cb := a.callbacks.OnTokens; cb != nil && info.Tokens != nil {
		tokens := *info.Tokens
		out.add(func() { cb(tokens) })
	}
	if cb := a.callbacks.OnComplete; cb != nil && text != "" {
		sid := a.sessionID
		out.add(func() { cb(sid, text) })
	}

	delete(a.parts, id)
	delete(a.roles, id)
	delete(a.hashes, id)

	if len(a.parts) == 0 {
		out.add(a.typing.Stop)
	}
}

func hashText(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func (a *Aggregator) partUpdatedLocked(out *effects, part opencode.Part, logger *slog.Logger) {
	switch part.Type {
	case opencode.PartText:
		a.textPartLocked(out, part)
	case opencode.PartTool:
		a.toolPartLocked(out, part, logger)
	}
}

func (a *Aggregator) textPartLocked(out *effects, part opencode.Part) {
	if part.Text == "" {
		return
	}
	id := part.MessageID
	if a.roles[id] == opencode.RoleUser {
		return
	}

	seen := a.hashes[id]
	if seen == nil {
		seen = make(map[string]struct{})
		a.hashes[id] = seen
	}
	h := hashText(part.Text)
	if _, dup := seen[h]; dup {
		return
	}
	seen[h] = struct{}{}

	if a.roles[id] != opencode.RoleAssistant {
		a.pending[id] = append(a.pending[id], part.Text)
		return
	}
	if _, ok := a.parts[id]; !ok {
		a.parts[id] = []string{}
		out.add(a.typing.Start)
	}
	a.parts[id] = append(a.parts[id], part.Text)
}

func (a *Aggregator) markLocked(key string) bool {
	if _, ok := a.processed[key]; ok {
		return false
	}
	a.processed[key] = struct{}{}
	return true
}

func (a *Aggregator) toolPartLocked(out *effects, part opencode.Part, logger *slog.Logger) {
	state := part.State
	if state == nil {
		return
	}
	logger.Debug("Tool event", "call_id", part.CallID, "tool", part.Tool, "status", state.Status)

	if part.Tool == "question" && state.Status == opencode.ToolError {
		logger.Info("Question tool failed, clearing active poll", "call_id", part.CallID)
		if cb := a.callbacks.OnQuestionError; cb != nil {
			a.async(out, "question-error", cb)
		}
		return
	}

	if state.Status != opencode.ToolCompleted {
		return
	}

	if a.markLocked("notified-" + part.CallID) {
		if cb := a.callbacks.OnTool; cb != nil {
			info := ToolInfo{
				MessageID: part.MessageID,
				CallID:    part.CallID,
				Tool:      part.Tool,
				Status:    state.Status,
				Title:     state.Title,
				Input:     state.Input,
				Metadata:  state.Metadata,
			}
			out.add(func() { cb(info) })
		}
	}

	if !a.markLocked("file-" + part.CallID) {
		return
	}

	switch part.Tool {
	case "write":
		content, okContent := stringField(state.Input, "content")
		path, okPath := stringField(state.Input, "filePath")
		if !okContent || !okPath {
			return
		}
		a.fileEffectsLocked(out, content, path, OpWrite, opencode.FileDiff{
			File:      path,
			Additions: countLines(content),
		}, logger)
	case "edit":
		fd, okDiff := state.Metadata["filediff"].(map[string]any)
		diff, _ := stringField(state.Metadata, "diff")
		if !okDiff {
			return
		}
		path, _ := stringField(fd, "file")
		if path == "" || diff == "" {
			return
		}
		a.fileEffectsLocked(out, diff, path, OpEdit, opencode.FileDiff{
			File:      path,
			Additions: intField(fd, "additions"),
			Deletions: intField(fd, "deletions"),
		}, logger)
	}
}

func (a *Aggregator) fileEffectsLocked(out *effects, content, path, op string, change opencode.FileDiff, logger *slog.Logger) {
	if cb := a.callbacks.OnToolFile; cb != nil {
		if doc := PrepareCodeFile(content, path, op, a.maxFileKB); doc != nil {
			logger.Debug("Sending tool file", "file", doc.Name, "bytes", len(doc.Data))
			d := *doc
			out.add(func() { cb(d) })
		} else {
			logger.Debug("Tool file too large, not sending", "path", path, "max_kb", a.maxFileKB)
		}
	}
	if cb := a.callbacks.OnFileChange; cb != nil {
		out.add(func() { cb(change) })
	}
}
