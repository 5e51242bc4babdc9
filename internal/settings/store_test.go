package settings

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.yaml")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if s.PinnedMessageID() != 0 || s.Agent() != "" {
		t.Fatal("fresh store is not empty")
	}

	if err := s.SetPinnedMessageID(321); err != nil {
		t.Fatalf("SetPinnedMessageID() error = %v", err)
	}
	if err := s.SetCurrentSession(Session{ID: "ses_1", Title: "Fix bug", Directory: "/work/app"}); err != nil {
		t.Fatalf("SetCurrentSession() error = %v", err)
	}
	if err := s.SetAgent("build"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetModel(Model{ProviderID: "anthropic", ModelID: "claude", Variant: "high"}); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if got := reopened.PinnedMessageID(); got != 321 {
		t.Errorf("PinnedMessageID() = %d", got)
	}
	sess, ok := reopened.CurrentSession()
	if !ok || sess.ID != "ses_1" || sess.Directory != "/work/app" || sess.ProjectName() != "app" {
		t.Errorf("CurrentSession() = %+v, %v", sess, ok)
	}
	if reopened.Agent() != "build" {
		t.Errorf("Agent() = %q", reopened.Agent())
	}
	if m := reopened.Model(); m.String() != "anthropic/claude" || m.Variant != "high" {
		t.Errorf("Model() = %+v", m)
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("perm = %o, want 600", perm)
	}
}

func TestStore_ClearOperations(t *testing.T) {
	s := NewMemory()
	_ = s.SetPinnedMessageID(5)
	_ = s.SetCurrentSession(Session{ID: "x", Directory: "/d"})

	if err := s.ClearPinnedMessageID(); err != nil {
		t.Fatal(err)
	}
	if err := s.ClearCurrentSession(); err != nil {
		t.Fatal(err)
	}
	if s.PinnedMessageID() != 0 {
		t.Error("pinned id not cleared")
	}
	if _, ok := s.CurrentSession(); ok {
		t.Error("session not cleared")
	}
	if err := s.SetSessionTitle("ignored"); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.CurrentSession(); ok {
		t.Error("SetSessionTitle created a session")
	}
}

func TestStore_SetDefaultModel(t *testing.T) {
	s := NewMemory()
	if err := s.SetDefaultModel(Model{ProviderID: "p"}); err != nil {
		t.Fatal(err)
	}
	if s.Model().IsSet() {
		t.Error("incomplete default applied")
	}

	_ = s.SetDefaultModel(Model{ProviderID: "p", ModelID: "m"})
	_ = s.SetDefaultModel(Model{ProviderID: "q", ModelID: "n"})
	if got := s.Model().String(); got != "p/m" {
		t.Errorf("Model() = %q, want the first default", got)
	}
}

func TestStore_SnapshotIsCopy(t *testing.T) {
	s := NewMemory()
	_ = s.SetCurrentSession(Session{ID: "a", Title: "one"})

	snap := s.Snapshot()
	snap.Session.Title = "changed"

	if sess, _ := s.CurrentSession(); sess.Title != "one" {
		t.Errorf("snapshot aliases store state: %q", sess.Title)
	}
}

func TestOpen_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte("session: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := Open(path)
	if err == nil || !strings.Contains(err.Error(), "failed to load settings") {
		t.Errorf("Open() error = %v", err)
	}
}
