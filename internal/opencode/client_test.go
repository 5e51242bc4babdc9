package opencode

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

type recordedRequest struct {
	Method  string
	Path    string
	Query   string
	Body    string
	User    string
	Pass    string
	HasAuth bool
}

type requestLog struct {
	mu   sync.Mutex
	reqs []recordedRequest
}

func (l *requestLog) all() []recordedRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]recordedRequest(nil), l.reqs...)
}

func newTestServer(t *testing.T, status int, response string) (*Client, *requestLog) {
	t.Helper()
	log := &requestLog{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		user, pass, ok := r.BasicAuth()
		log.mu.Lock()
		defer log.mu.Unlock()
		log.reqs = append(log.reqs, recordedRequest{
			Method:  r.Method,
			Path:    r.URL.Path,
			Query:   r.URL.Query().Get("directory"),
			Body:    string(body),
			User:    user,
			Pass:    pass,
			HasAuth: ok,
		})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, response)
	}))
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, WithBasicAuth("", "secret"))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return c, log
}

func TestNew_InvalidURL(t *testing.T) {
	tests := []string{"", "localhost:4096", "ftp://host"}
	for _, u := range tests {
		if _, err := New(u); err == nil {
			t.Errorf("New(%q) should fail", u)
		}
	}
}

func TestNew_TrimsTrailingSlash(t *testing.T) {
	c, err := New("http://localhost:4096/")
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if c.BaseURL() != "http://localhost:4096" {
		t.Errorf("BaseURL() = %q", c.BaseURL())
	}
}

func TestSendPrompt(t *testing.T) {
	c, reqs := newTestServer(t, http.StatusOK, `{}`)

	err := c.SendPrompt(context.Background(), PromptRequest{
		SessionID: "ses_1",
		Directory: "/work/app",
		Text:      "hello",
		Model:     &ModelRef{ProviderID: "anthropic", ModelID: "claude"},
		Agent:     "build",
	})
	if err != nil {
		t.Fatalf("SendPrompt() failed: %v", err)
	}

	got := reqs.all()[0]
	if got.Method != http.MethodPost || got.Path != "/session/ses_1/message" {
		t.Errorf("request = %s %s", got.Method, got.Path)
	}
	if got.Query != "/work/app" {
		t.Errorf("directory = %q", got.Query)
	}
	if !got.HasAuth || got.User != DefaultUsername || got.Pass != "secret" {
		t.Errorf("basic auth = %q/%q (%v)", got.User, got.Pass, got.HasAuth)
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(got.Body), &body); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	parts := body["parts"].([]any)
	part := parts[0].(map[string]any)
	if part["type"] != "text" || part["text"] != "hello" {
		t.Errorf("parts = %v", parts)
	}
	if body["agent"] != "build" {
		t.Errorf("agent = %v", body["agent"])
	}
	if _, ok := body["variant"]; ok {
		t.Error("empty variant should be omitted")
	}
}

func TestSendPrompt_RequiresSession(t *testing.T) {
	c, reqs := newTestServer(t, http.StatusOK, `{}`)
	if err := c.SendPrompt(context.Background(), PromptRequest{Text: "x"}); err == nil {
		t.Error("expected error without session id")
	}
	if len(reqs.all()) != 0 {
		t.Error("no request should be sent")
	}
}

func TestReplyQuestion_EmptyAnswersAreArrays(t *testing.T) {
	c, reqs := newTestServer(t, http.StatusOK, `true`)

	answers := [][]string{{"a"}, nil}
	if err := c.ReplyQuestion(context.Background(), "que_1", "/w", answers); err != nil {
		t.Fatalf("ReplyQuestion() failed: %v", err)
	}

	got := reqs.all()[0]
	if got.Path != "/question/que_1/reply" {
		t.Errorf("path = %q", got.Path)
	}
	if strings.TrimSpace(got.Body) != `{"answers":[["a"],[]]}` {
		t.Errorf("body = %s", got.Body)
	}
}

func TestReplyPermission(t *testing.T) {
	c, reqs := newTestServer(t, http.StatusOK, `true`)

	if err := c.ReplyPermission(context.Background(), "per_1", "/w", ReplyAlways); err != nil {
		t.Fatalf("ReplyPermission() failed: %v", err)
	}
	if got := reqs.all()[0]; got.Path != "/permission/per_1/reply" || strings.TrimSpace(got.Body) != `{"reply":"always"}` {
		t.Errorf("request = %s %s", got.Path, got.Body)
	}

	if err := c.ReplyPermission(context.Background(), "per_1", "/w", "maybe"); err == nil {
		t.Error("invalid reply should fail")
	}
	if len(reqs.all()) != 1 {
		t.Error("invalid reply should not be sent")
	}
}

func TestRequestError(t *testing.T) {
	c, _ := newTestServer(t, http.StatusNotFound, `session not found`)

	_, err := c.GetSession(context.Background(), "missing", "/w")
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected *RequestError, got %T: %v", err, err)
	}
	if reqErr.StatusCode != http.StatusNotFound || reqErr.Path != "/session/missing" {
		t.Errorf("RequestError = %+v", reqErr)
	}
	want := "opencode request failed (GET /session/missing): session not found"
	if reqErr.Error() != want {
		t.Errorf("Error() = %q, want %q", reqErr.Error(), want)
	}
}

func TestSessionMessages_DecodesParts(t *testing.T) {
	payload := `[
	  {"info":{"id":"m1","sessionID":"s","role":"user","time":{"created":1},"summary":{"title":"x"}},"parts":[]},
	  {"info":{"id":"m2","sessionID":"s","role":"assistant","time":{"created":2,"completed":3},
	    "tokens":{"input":100,"output":5,"reasoning":0,"cache":{"read":20,"write":0}},"summary":true},
	   "parts":[{"id":"p","sessionID":"s","messageID":"m2","type":"tool","callID":"c1","tool":"write",
	     "state":{"status":"completed","input":{"filePath":"/a.go","content":"x"}}}]}
	]`
	c, _ := newTestServer(t, http.StatusOK, payload)

	msgs, err := c.SessionMessages(context.Background(), "s", "/w")
	if err != nil {
		t.Fatalf("SessionMessages() failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len = %d", len(msgs))
	}
	if msgs[0].Info.Summary {
		t.Error("user summary object should not count as a summary message")
	}
	if !msgs[1].Info.Summary || msgs[1].Info.Tokens.Context() != 120 {
		t.Errorf("assistant info = %+v", msgs[1].Info)
	}
	if st := msgs[1].Parts[0].State; st == nil || st.Input["filePath"] != "/a.go" {
		t.Errorf("tool state = %+v", st)
	}
}

func TestSessionStatus(t *testing.T) {
	c, _ := newTestServer(t, http.StatusOK, `{"s1":{"type":"busy"},"s2":{"type":"idle"}}`)

	statuses, err := c.SessionStatus(context.Background(), "/w")
	if err != nil {
		t.Fatalf("SessionStatus() failed: %v", err)
	}
	if !statuses["s1"].Busy() || statuses["s2"].Busy() || statuses["s3"].Busy() {
		t.Errorf("statuses = %+v", statuses)
	}
}

func TestProviders_ContextLimit(t *testing.T) {
	c, reqs := newTestServer(t, http.StatusOK,
		`{"providers":[{"id":"anthropic","models":{"claude":{"id":"claude","limit":{"context":200000,"output":8192}}}}]}`)

	providers, err := c.Providers(context.Background())
	if err != nil {
		t.Fatalf("Providers() failed: %v", err)
	}
	if reqs.all()[0].Path != "/config/providers" {
		t.Errorf("path = %q", reqs.all()[0].Path)
	}

	tests := []struct {
		provider, model string
		want            int64
	}{
		{"anthropic", "claude", 200000},
		{"anthropic", "other", 0},
		{"openai", "claude", 0},
	}
	for _, tt := range tests {
		if got := ContextLimit(providers, tt.provider, tt.model); got != tt.want {
			t.Errorf("ContextLimit(%s/%s) = %d, want %d", tt.provider, tt.model, got, tt.want)
		}
	}
}

func TestCreateSession(t *testing.T) {
	c, reqs := newTestServer(t, http.StatusOK, `{"id":"ses_new","title":"New session","directory":"/w"}`)

	s, err := c.CreateSession(context.Background(), "/w")
	if err != nil {
		t.Fatalf("CreateSession() failed: %v", err)
	}
	want := &Session{ID: "ses_new", Title: "New session", Directory: "/w"}
	if !reflect.DeepEqual(s, want) {
		t.Errorf("CreateSession() = %+v, want %+v", s, want)
	}
	if reqs.all()[0].Method != http.MethodPost || reqs.all()[0].Query != "/w" {
		t.Errorf("request = %+v", reqs.all()[0])
	}
}

func TestNoAuthWithoutPassword(t *testing.T) {
	var hasAuth atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _, ok := r.BasicAuth()
		hasAuth.Store(ok)
		_, _ = io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.SessionDiff(context.Background(), "s", "/w"); err != nil {
		t.Fatalf("SessionDiff() failed: %v", err)
	}
	if hasAuth.Load() {
		t.Error("basic auth should not be sent without a password")
	}
}
