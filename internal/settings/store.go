// Package settings persists the small amount of bot state that must
// survive a restart: the pinned status message, the current session and
// the selected agent and model.
package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
)

// Session is the session the chat is bound to.
type Session struct {
	ID        string `yaml:"id"`
	Title     string `yaml:"title,omitempty"`
	Directory string `yaml:"directory"`
}

// ProjectName returns the last element of the session directory.
func (s Session) ProjectName() string {
	if s.Directory == "" {
		return ""
	}
	return filepath.Base(filepath.ToSlash(s.Directory))
}

// Model identifies the model prompts are sent to.
type Model struct {
	ProviderID string `yaml:"provider_id,omitempty"`
	ModelID    string `yaml:"model_id,omitempty"`
	Variant    string `yaml:"variant,omitempty"`
}

// IsSet reports whether both the provider and the model are known.
func (m Model) IsSet() bool {
	return m.ProviderID != "" && m.ModelID != ""
}

// String returns "provider/model", or "" when unset.
func (m Model) String() string {
	if !m.IsSet() {
		return ""
	}
	return m.ProviderID + "/" + m.ModelID
}

// Data is the on-disk document.
type Data struct {
	PinnedMessageID int      `yaml:"pinned_message_id,omitempty"`
	Session         *Session `yaml:"session,omitempty"`
	Agent           string   `yaml:"agent,omitempty"`
	Model           Model    `yaml:"model,omitempty"`
}

// Store is a YAML-backed settings file. Every setter writes the file
// through. A Store with an empty path keeps everything in memory.
// It is safe for concurrent use.
type Store struct {
	path string

	mu   sync.Mutex
	data Data
}

// Open loads the settings at path. A missing file yields empty settings.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	if path == "" {
		return s, nil
	}
	if err := readYAML(path, &s.data); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load settings from %s: %w", path, err)
	}
	return s, nil
}

// NewMemory returns a Store that is never written to disk.
func NewMemory() *Store {
	return &Store{}
}

// Path returns the backing file, or "" for an in-memory store.
func (s *Store) Path() string {
	return s.path
}

// Snapshot returns a copy of the current settings.
func (s *Store) Snapshot() Data {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.data
	if d.Session != nil {
		sess := *d.Session
		d.Session = &sess
	}
	return d
}

func (s *Store) update(fn func(*Data)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.data)
	if s.path == "" {
		return nil
	}
	if err := writeYAMLAtomic(s.path, s.data, 0o600); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// PinnedMessageID returns the persisted pinned message id, or 0.
func (s *Store) PinnedMessageID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.PinnedMessageID
}

// SetPinnedMessageID persists the pinned message id.
func (s *Store) SetPinnedMessageID(id int) error {
	return s.update(func(d *Data) { d.PinnedMessageID = id })
}

// ClearPinnedMessageID forgets the pinned message id.
func (s *Store) ClearPinnedMessageID() error {
	return s.SetPinnedMessageID(0)
}

// CurrentSession returns the bound session.
func (s *Store) CurrentSession() (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data.Session == nil {
		return Session{}, false
	}
	return *s.data.Session, true
}

// SetCurrentSession binds the chat to sess.
func (s *Store) SetCurrentSession(sess Session) error {
	return s.update(func(d *Data) { d.Session = &sess })
}

// SetSessionTitle updates the title of the bound session, if any.
func (s *Store) SetSessionTitle(title string) error {
	return s.update(func(d *Data) {
		if d.Session != nil {
			d.Session.Title = title
		}
	})
}

// ClearCurrentSession unbinds the chat.
func (s *Store) ClearCurrentSession() error {
	return s.update(func(d *Data) { d.Session = nil })
}

// Agent returns the selected agent, or "".
func (s *Store) Agent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Agent
}

// SetAgent persists the selected agent.
func (s *Store) SetAgent(agent string) error {
	return s.update(func(d *Data) { d.Agent = agent })
}

// Model returns the selected model.
func (s *Store) Model() Model {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Model
}

// SetModel persists the selected model.
func (s *Store) SetModel(m Model) error {
	return s.update(func(d *Data) { d.Model = m })
}

// SetDefaultModel stores m only when no model has been selected yet.
func (s *Store) SetDefaultModel(m Model) error {
	if !m.IsSet() {
		return nil
	}
	s.mu.Lock()
	set := s.data.Model.IsSet()
	s.mu.Unlock()
	if set {
		return nil
	}
	return s.SetModel(m)
}
