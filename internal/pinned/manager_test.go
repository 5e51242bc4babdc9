package pinned

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/inercia/opencode-telegram/internal/background"
	"github.com/inercia/opencode-telegram/internal/chat/chattest"
	"github.com/inercia/opencode-telegram/internal/opencode"
	"github.com/inercia/opencode-telegram/internal/settings"
)

type fakeAPI struct {
	mu            sync.Mutex
	messages      []opencode.MessageWithParts
	diffs         []opencode.FileDiff
	title         string
	providers     []opencode.Provider
	providersErr  error
	providerCalls int
}

func (f *fakeAPI) SessionMessages(context.Context, string, string) ([]opencode.MessageWithParts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages, nil
}

func (f *fakeAPI) SessionDiff(context.Context, string, string) ([]opencode.FileDiff, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.diffs, nil
}

func (f *fakeAPI) GetSession(_ context.Context, id, dir string) (*opencode.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &opencode.Session{ID: id, Title: f.title, Directory: dir}, nil
}

func (f *fakeAPI) Providers(context.Context) ([]opencode.Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.providerCalls++
	return f.providers, f.providersErr
}

func newTestManager(t *testing.T, opts ...Option) (*Manager, *chattest.Messenger, *fakeAPI, *settings.Store) {
	t.Helper()
	msgr := chattest.New()
	api := &fakeAPI{}
	store := settings.NewMemory()
	_ = store.SetCurrentSession(settings.Session{ID: "s1", Directory: "/work/app"})
	opts = append([]Option{WithDispatcher(background.Inline)}, opts...)
	return New(msgr, api, store, opts...), msgr, api, store
}

func assistantMsg(input, cacheRead int64, summary bool) opencode.MessageWithParts {
	return opencode.MessageWithParts{Info: opencode.MessageInfo{
		Role:    opencode.RoleAssistant,
		Summary: summary,
		Tokens:  &opencode.Tokens{Input: input, Cache: opencode.CacheUsage{Read: cacheRead}},
	}}
}

func TestManager_SessionChangeCreatesPinnedMessage(t *testing.T) {
	m, msgr, _, store := newTestManager(t)
	ctx := context.Background()

	var gotUsed, gotLimit int64 = -1, -1
	m.SetOnKeyboardUpdate(func(used, limit int64) { gotUsed, gotLimit = used, limit })

	m.OnSessionChange(ctx, "s1", "")

	st := m.State()
	if st.MessageID == 0 || st.SessionTitle != DefaultSessionTitle || st.ProjectName != "app" {
		t.Fatalf("state = %+v", st)
	}
	if store.PinnedMessageID() != int(st.MessageID) {
		t.Errorf("persisted id = %d, want %d", store.PinnedMessageID(), st.MessageID)
	}
	if pins := msgr.PinnedIDs(); len(pins) != 1 || pins[0] != st.MessageID {
		t.Errorf("pins = %v", pins)
	}
	if st.TokensLimit != DefaultContextLimit {
		t.Errorf("limit = %d, want default", st.TokensLimit)
	}
	if gotUsed != 0 || gotLimit != DefaultContextLimit {
		t.Errorf("keyboard update = %d/%d", gotUsed, gotLimit)
	}
	text := msgr.Get(st.MessageID).Text
	if !strings.Contains(text, "Model: Unknown") || !strings.Contains(text, "Context: 0 / 200K (0%)") {
		t.Errorf("text = %q", text)
	}
}

func TestManager_LoadContextFromHistoryUsesPeak(t *testing.T) {
	m, _, api, _ := newTestManager(t)
	api.messages = []opencode.MessageWithParts{
		assistantMsg(40, 10, false),
		assistantMsg(100, 20, false),
		assistantMsg(500, 0, true),
		assistantMsg(90, 0, false),
		{Info: opencode.MessageInfo{Role: opencode.RoleUser}},
	}

	m.LoadContextFromHistory(context.Background(), "s1", "/work/app")

	if got := m.State().TokensUsed; got != 120 {
		t.Errorf("TokensUsed = %d, want 120", got)
	}
}

func TestManager_OnMessageCompleteUsesLatest(t *testing.T) {
	m, _, api, store := newTestManager(t)
	ctx := context.Background()
	api.title = "Refactor parser"
	_ = store.SetModel(settings.Model{ProviderID: "p", ModelID: "big"})
	api.providers = []opencode.Provider{{ID: "p", Models: map[string]opencode.Model{"big": {Limit: opencode.ModelLimit{Context: 1_000_000}}}}}

	m.OnMessageComplete(ctx, opencode.Tokens{Input: 5000, Cache: opencode.CacheUsage{Read: 1000}})
	m.OnMessageComplete(ctx, opencode.Tokens{Input: 100})

	st := m.State()
	if st.TokensUsed != 100 {
		t.Errorf("TokensUsed = %d, want latest value 100", st.TokensUsed)
	}
	if st.TokensLimit != 1_000_000 {
		t.Errorf("TokensLimit = %d", st.TokensLimit)
	}
	if st.SessionTitle != "Refactor parser" {
		t.Errorf("SessionTitle = %q", st.SessionTitle)
	}
	if sess, _ := store.CurrentSession(); sess.Title != "Refactor parser" {
		t.Errorf("persisted title = %q", sess.Title)
	}
	if api.providerCalls != 1 {
		t.Errorf("providers fetched %d times, want 1", api.providerCalls)
	}
}

func TestManager_ContextLimitFallsBackOnError(t *testing.T) {
	m, _, api, store := newTestManager(t)
	_ = store.SetModel(settings.Model{ProviderID: "p", ModelID: "m"})
	api.providersErr = errors.New("down")

	m.RefreshContextLimit(context.Background())
	if got := m.ContextLimit(); got != DefaultContextLimit {
		t.Errorf("ContextLimit() = %d", got)
	}
	used, limit, ok := m.ContextInfo()
	if !ok || used != 0 || limit != DefaultContextLimit {
		t.Errorf("ContextInfo() = %d, %d, %v", used, limit, ok)
	}
}

func TestManager_ContextInfoUnknownLimit(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	if _, _, ok := m.ContextInfo(); ok {
		t.Error("ContextInfo() ok without a limit")
	}
}

func TestManager_SessionDiffKeepsDataOnEmptySnapshot(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()

	m.OnSessionDiff(ctx, []opencode.FileDiff{{File: "/work/app/a.go", Additions: 2}})
	m.OnSessionDiff(ctx, nil)
	if files := m.State().ChangedFiles; len(files) != 1 {
		t.Errorf("empty snapshot wiped files: %v", files)
	}

	m.OnSessionDiff(ctx, []opencode.FileDiff{{File: "/work/app/b.go", Deletions: 1}})
	if files := m.State().ChangedFiles; len(files) != 1 || files[0].File != "/work/app/b.go" {
		t.Errorf("snapshot not applied: %v", files)
	}
}

func TestManager_AddFileChangeAccumulates(t *testing.T) {
	m, _, _, _ := newTestManager(t, WithDebounce(time.Hour))
	t.Cleanup(func() { m.Clear(context.Background()) })

	m.AddFileChange(opencode.FileDiff{File: "a.go", Additions: 2, Deletions: 1})
	m.AddFileChange(opencode.FileDiff{File: "b.go", Additions: 1})
	m.AddFileChange(opencode.FileDiff{File: "a.go", Additions: 3, Deletions: 4})

	files := m.State().ChangedFiles
	if len(files) != 2 {
		t.Fatalf("files = %v", files)
	}
	if files[0] != (opencode.FileDiff{File: "a.go", Additions: 5, Deletions: 5}) {
		t.Errorf("a.go = %+v", files[0])
	}
}

func TestManager_DebounceCoalescesBursts(t *testing.T) {
	m, msgr, _, _ := newTestManager(t, WithDebounce(30*time.Millisecond))
	ctx := context.Background()
	m.OnSessionChange(ctx, "s1", "Title")
	base := msgr.EditCount()

	for i := 0; i < 10; i++ {
		m.AddFileChange(opencode.FileDiff{File: "/work/app/x.go", Additions: 1})
	}

	deadline := time.Now().Add(2 * time.Second)
	for msgr.EditCount() == base && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)

	if got := msgr.EditCount() - base; got != 1 {
		t.Errorf("edits = %d, want 1", got)
	}
	if text := msgr.Get(m.State().MessageID).Text; !strings.Contains(text, "  x.go (+10)") {
		t.Errorf("text = %q", text)
	}
}

func TestManager_StaleDebounceTimerDoesNotRender(t *testing.T) {
	m, msgr, _, _ := newTestManager(t, WithDebounce(time.Hour))
	ctx := context.Background()
	m.OnSessionChange(ctx, "s1", "Title")
	base := msgr.EditCount()

	m.AddFileChange(opencode.FileDiff{File: "/work/app/a.go", Additions: 1})
	m.mu.Lock()
	first := m.timerGen
	m.mu.Unlock()
	m.AddFileChange(opencode.FileDiff{File: "/work/app/b.go", Additions: 2})
	m.mu.Lock()
	second := m.timerGen
	m.mu.Unlock()

	// the first timer fired while the second change was being added
	m.flushChanges(first)
	m.mu.Lock()
	pending := m.timer != nil
	m.mu.Unlock()
	if !pending {
		t.Fatal("stale timer cancelled the pending render")
	}
	if got := msgr.EditCount() - base; got != 0 {
		t.Errorf("stale timer rendered %d times", got)
	}

	m.flushChanges(second)
	if got := msgr.EditCount() - base; got != 1 {
		t.Errorf("edits = %d, want 1", got)
	}
	m.flushChanges(second)
	if got := msgr.EditCount() - base; got != 1 {
		t.Errorf("edits after repeated fire = %d, want 1", got)
	}
}

func TestManager_ClearCancelsFiredTimer(t *testing.T) {
	m, msgr, _, _ := newTestManager(t, WithDebounce(time.Hour))
	ctx := context.Background()
	m.OnSessionChange(ctx, "s1", "Title")

	m.AddFileChange(opencode.FileDiff{File: "/work/app/a.go", Additions: 1})
	m.mu.Lock()
	gen := m.timerGen
	m.mu.Unlock()
	m.Clear(ctx)
	base := msgr.EditCount()

	m.flushChanges(gen)
	if got := msgr.EditCount() - base; got != 0 {
		t.Errorf("edits after Clear = %d, want 0", got)
	}
}

func TestManager_RecreatesDeletedMessage(t *testing.T) {
	m, msgr, _, store := newTestManager(t)
	ctx := context.Background()
	m.OnSessionChange(ctx, "s1", "Title")
	old := m.State().MessageID

	msgr.Forget(old)
	m.OnSessionTitleUpdate(ctx, "Renamed")

	st := m.State()
	if st.MessageID == 0 || st.MessageID == old {
		t.Fatalf("message not recreated: old=%d new=%d", old, st.MessageID)
	}
	if store.PinnedMessageID() != int(st.MessageID) {
		t.Errorf("persisted id = %d, want %d", store.PinnedMessageID(), st.MessageID)
	}
	if !strings.HasPrefix(msgr.Get(st.MessageID).Text, "Renamed\n") {
		t.Errorf("text = %q", msgr.Get(st.MessageID).Text)
	}
}

func TestManager_EditErrorsSwallowed(t *testing.T) {
	m, msgr, _, _ := newTestManager(t)
	ctx := context.Background()
	m.OnSessionChange(ctx, "s1", "Title")
	id := m.State().MessageID

	m.OnSessionTitleUpdate(ctx, "Title")
	msgr.EditErr = errors.New("flood")
	m.OnSessionTitleUpdate(ctx, "Other")

	if m.State().MessageID != id {
		t.Error("a generic edit error replaced the message")
	}
}

func TestManager_RestoresPinnedIDAndClear(t *testing.T) {
	store := settings.NewMemory()
	_ = store.SetPinnedMessageID(77)
	m := New(nil, &fakeAPI{}, store)

	if m.IsInitialized() {
		t.Error("IsInitialized() with nil messenger")
	}
	if got := m.State().MessageID; got != 77 {
		t.Errorf("MessageID = %d, want restored 77", got)
	}

	m.Clear(context.Background())
	if m.State().MessageID != 0 || store.PinnedMessageID() != 0 {
		t.Error("Clear kept the pinned id")
	}
}

func TestManager_LoadsDiffsFromMessagesFallback(t *testing.T) {
	m, _, api, _ := newTestManager(t)
	api.messages = []opencode.MessageWithParts{{Parts: []opencode.Part{
		{Type: opencode.PartTool, Tool: "write", State: &opencode.ToolState{
			Status: opencode.ToolCompleted,
			Input:  map[string]any{"filePath": "/work/app/new.go", "content": "a\nb"},
		}},
		{Type: opencode.PartTool, Tool: "edit", State: &opencode.ToolState{
			Status:   opencode.ToolCompleted,
			Metadata: map[string]any{"filediff": map[string]any{"file": "/work/app/new.go", "additions": 1.0, "deletions": 2.0}},
		}},
		{Type: opencode.PartTool, Tool: "edit", State: &opencode.ToolState{Status: opencode.ToolError}},
	}}}

	m.OnSessionChange(context.Background(), "s1", "T")

	files := m.State().ChangedFiles
	want := opencode.FileDiff{File: "/work/app/new.go", Additions: 3, Deletions: 2}
	if len(files) != 1 || files[0] != want {
		t.Errorf("files = %+v, want %+v", files, want)
	}
}
