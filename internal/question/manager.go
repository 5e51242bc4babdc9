// Package question tracks the interactive poll the agent asks the user.
//
// A poll is a list of questions answered one at a time, either by picking
// options or by typing a free-text answer. Once every question has been
// shown, Answers returns the payload for the agent's reply endpoint.
package question

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/inercia/opencode-telegram/internal/chat"
	"github.com/inercia/opencode-telegram/internal/logging"
	"github.com/inercia/opencode-telegram/internal/opencode"
)

// AnsweredQuestion pairs a question with the answer shown in the
// completion notice.
type AnsweredQuestion struct {
	Question string
	Answer   string
}

// Manager holds the single active poll. It is safe for concurrent use.
type Manager struct {
	logger *slog.Logger

	mu         sync.Mutex
	active     bool
	requestID  string
	questions  []opencode.Question
	current    int
	selected   map[int]map[int]struct{}
	custom     map[int]string
	messageIDs []chat.MessageID
}

// NewManager returns an idle Manager.
func NewManager() *Manager {
	m := &Manager{logger: logging.Question()}
	m.clearLocked()
	return m
}

func (m *Manager) clearLocked() {
	m.active = false
	m.requestID = ""
	m.questions = nil
	m.current = 0
	m.selected = make(map[int]map[int]struct{})
	m.custom = make(map[int]string)
	m.messageIDs = nil
}

// Start begins a poll for requestID, discarding any poll in progress.
func (m *Manager) Start(questions []opencode.Question, requestID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active {
		m.logger.Info("Poll already active, replacing it",
			"old_request_id", m.requestID,
			"request_id", requestID,
		)
	}
	m.clearLocked()
	m.questions = append([]opencode.Question(nil), questions...)
	m.requestID = requestID
	m.active = true
	m.logger.Info("Poll started", "request_id", requestID, "questions", len(questions))
}

// IsActive reports whether a poll is in progress.
func (m *Manager) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// RequestID returns the agent request the poll answers, or "".
func (m *Manager) RequestID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestID
}

// CurrentQuestion returns the question being shown, or false once every
// question has been passed.
func (m *Manager) CurrentQuestion() (opencode.Question, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current >= len(m.questions) {
		return opencode.Question{}, false
	}
	return m.questions[m.current], true
}

// CurrentIndex returns the index of the question being shown.
func (m *Manager) CurrentIndex() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Total returns the number of questions in the poll.
func (m *Manager) Total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.questions)
}

// SelectOption picks option o of question q. A single-choice question keeps
// only the latest pick; a multiple-choice question toggles it.
func (m *Manager) SelectOption(q, o int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active || q < 0 || q >= len(m.questions) {
		return
	}
	question := m.questions[q]
	if o < 0 || o >= len(question.Options) {
		return
	}

	set := m.selected[q]
	if set == nil {
		set = make(map[int]struct{})
		m.selected[q] = set
	}
	if question.Multiple {
		if _, ok := set[o]; ok {
			delete(set, o)
		} else {
			set[o] = struct{}{}
		}
	} else {
		clear(set)
		set[o] = struct{}{}
	}
	m.logger.Debug("Option selected", "question", q, "selected", sortedKeys(set))
}

// SelectedOptions returns the selected option indexes of question q, sorted.
func (m *Manager) SelectedOptions(q int) []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedKeys(m.selected[q])
}

func (m *Manager) selectedLabelsLocked(q int) []string {
	if q < 0 || q >= len(m.questions) {
		return nil
	}
	question := m.questions[q]
	var out []string
	for _, idx := range sortedKeys(m.selected[q]) {
		opt := question.Options[idx]
		out = append(out, opt.Label+": "+opt.Description)
	}
	return out
}

// SelectedAnswer renders the selected options of question q as
// "* label: description" lines.
func (m *Manager) SelectedAnswer(q int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	labels := m.selectedLabelsLocked(q)
	for i := range labels {
		labels[i] = "* " + labels[i]
	}
	return strings.Join(labels, "\n")
}

// SetCustomAnswer records a free-text answer for question q.
func (m *Manager) SetCustomAnswer(q int, answer string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.custom[q] = answer
	m.logger.Debug("Custom answer received", "question", q)
}

// CustomAnswer returns the free-text answer of question q.
func (m *Manager) CustomAnswer(q int) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.custom[q]
	return a, ok
}

// HasCustomAnswer reports whether question q has a free-text answer.
func (m *Manager) HasCustomAnswer(q int) bool {
	_, ok := m.CustomAnswer(q)
	return ok
}

// Next moves to the following question. The index never goes back.
func (m *Manager) Next() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current < len(m.questions) {
		m.current++
	}
	m.logger.Debug("Moving to next question", "index", m.current, "total", len(m.questions))
}

// HasNext reports whether a question remains to be shown.
func (m *Manager) HasNext() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current < len(m.questions)
}

// AddMessageID records a message sent for the poll.
func (m *Manager) AddMessageID(id chat.MessageID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messageIDs = append(m.messageIDs, id)
}

// MessageIDs returns the messages sent for the poll, oldest first.
func (m *Manager) MessageIDs() []chat.MessageID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]chat.MessageID(nil), m.messageIDs...)
}

// Cancel deactivates the poll but keeps its data until Clear.
func (m *Manager) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = false
	m.logger.Info("Poll cancelled", "request_id", m.requestID)
}

// Clear forgets the poll.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLocked()
}

// Answers returns one entry per question, in order. A free-text answer
// wins over selected options; an unanswered question gets an empty slice.
func (m *Manager) Answers() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([][]string, len(m.questions))
	for i := range m.questions {
		switch custom, ok := m.custom[i]; {
		case ok && strings.TrimSpace(custom) != "":
			out[i] = []string{custom}
		default:
			if labels := m.selectedLabelsLocked(i); len(labels) > 0 {
				out[i] = labels
			} else {
				out[i] = []string{}
			}
		}
	}
	return out
}

// Summary lists the answered questions for the completion notice.
func (m *Manager) Summary() []AnsweredQuestion {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []AnsweredQuestion
	for i, q := range m.questions {
		answer := m.custom[i]
		if answer == "" {
			labels := m.selectedLabelsLocked(i)
			for j := range labels {
				labels[j] = "* " + labels[j]
			}
			answer = strings.Join(labels, "\n")
		}
		if answer != "" {
			out = append(out, AnsweredQuestion{Question: q.Question, Answer: answer})
		}
	}
	return out
}

func sortedKeys(set map[int]struct{}) []int {
	out := make([]int, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}
