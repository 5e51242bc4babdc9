// Package permission tracks the single permission request the agent is
// waiting on and renders its prompt.
package permission

import (
	"log/slog"
	"sync"

	"github.com/inercia/opencode-telegram/internal/chat"
	"github.com/inercia/opencode-telegram/internal/logging"
	"github.com/inercia/opencode-telegram/internal/opencode"
)

// Manager holds the active permission request. It is safe for concurrent use.
type Manager struct {
	logger *slog.Logger

	mu        sync.Mutex
	request   *opencode.PermissionRequest
	messageID chat.MessageID
}

// NewManager returns an idle Manager.
func NewManager() *Manager {
	return &Manager{logger: logging.Permission()}
}

// Start makes req the active request, replacing any previous one.
func (m *Manager) Start(req opencode.PermissionRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.request != nil {
		m.logger.Warn("Permission request already active, overwriting",
			"old_request_id", m.request.ID,
			"request_id", req.ID,
		)
	}
	r := req
	r.Patterns = append([]string(nil), req.Patterns...)
	m.request = &r
	m.messageID = 0
	m.logger.Info("Permission request started",
		"request_id", req.ID,
		"permission", req.Permission,
		"patterns", len(req.Patterns),
	)
}

// Request returns a copy of the active request.
func (m *Manager) Request() (opencode.PermissionRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.request == nil {
		return opencode.PermissionRequest{}, false
	}
	return *m.request, true
}

// RequestID returns the id of the active request, or "".
func (m *Manager) RequestID() string {
	req, _ := m.Request()
	return req.ID
}

// Kind returns the permission type of the active request, e.g. "bash".
func (m *Manager) Kind() string {
	req, _ := m.Request()
	return req.Permission
}

// Patterns returns the patterns of the active request.
func (m *Manager) Patterns() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.request == nil {
		return nil
	}
	return append([]string(nil), m.request.Patterns...)
}

// SetMessageID records the message showing the request.
func (m *Manager) SetMessageID(id chat.MessageID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messageID = id
}

// MessageID returns the message showing the request, or 0.
func (m *Manager) MessageID() chat.MessageID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.messageID
}

// IsActive reports whether a request is waiting for a reply.
func (m *Manager) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.request != nil
}

// Clear forgets the active request. Calling it when idle is a no-op.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.request != nil {
		m.logger.Debug("Permission request cleared", "request_id", m.request.ID)
	}
	m.request = nil
	m.messageID = 0
}
