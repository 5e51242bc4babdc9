package opencode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Tokens is the token accounting of an assistant message.
type Tokens struct {
	Input     int64      `json:"input"`
	Output    int64      `json:"output"`
	Reasoning int64      `json:"reasoning"`
	Cache     CacheUsage `json:"cache"`
}

// CacheUsage counts prompt cache reads and writes.
type CacheUsage struct {
	Read  int64 `json:"read"`
	Write int64 `json:"write"`
}

// Context returns the number of tokens occupying the context window.
func (t Tokens) Context() int64 {
	return t.Input + t.Cache.Read
}

// MessageTime holds the creation and completion timestamps (ms since epoch).
type MessageTime struct {
	Created   int64 `json:"created"`
	Completed int64 `json:"completed,omitempty"`
}

// MessageInfo describes a message in a session.
type MessageInfo struct {
	ID         string      `json:"id"`
	SessionID  string      `json:"sessionID"`
	Role       string      `json:"role"`
	Time       MessageTime `json:"time"`
	Tokens     *Tokens     `json:"tokens,omitempty"`
	ProviderID string      `json:"providerID,omitempty"`
	ModelID    string      `json:"modelID,omitempty"`
	Summary    bool        `json:"summary,omitempty"`
}

// UnmarshalJSON tolerates user messages, whose "summary" is an object
// rather than a flag.
func (m *MessageInfo) UnmarshalJSON(data []byte) error {
	type alias MessageInfo
	var raw struct {
		alias
		Summary json.RawMessage `json:"summary,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = MessageInfo(raw.alias)
	m.Summary = string(raw.Summary) == "true"
	return nil
}

// Role values.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Part types.
const (
	PartText = "text"
	PartTool = "tool"
)

// Tool statuses.
const (
	ToolPending   = "pending"
	ToolRunning   = "running"
	ToolCompleted = "completed"
	ToolError     = "error"
)

// ToolState is the state of a tool invocation.
type ToolState struct {
	Status   string         `json:"status"`
	Input    map[string]any `json:"input,omitempty"`
	Output   string         `json:"output,omitempty"`
	Title    string         `json:"title,omitempty"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Part is one piece of a message: text, a tool call, or another kind that
// the bot ignores.
type Part struct {
	ID        string     `json:"id"`
	SessionID string     `json:"sessionID"`
	MessageID string     `json:"messageID"`
	Type      string     `json:"type"`
	Text      string     `json:"text,omitempty"`
	CallID    string     `json:"callID,omitempty"`
	Tool      string     `json:"tool,omitempty"`
	State     *ToolState `json:"state,omitempty"`
}

// MessageWithParts is an entry returned by SessionMessages.
type MessageWithParts struct {
	Info  MessageInfo `json:"info"`
	Parts []Part      `json:"parts"`
}

// FileDiff summarizes the changes to one file.
type FileDiff struct {
	File      string `json:"file"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

// QuestionOption is one selectable answer.
type QuestionOption struct {
	Label       string `json:"label"`
	Description string `json:"description"`
}

// Question is one question of a poll asked by the agent.
type Question struct {
	Question string           `json:"question"`
	Header   string           `json:"header,omitempty"`
	Options  []QuestionOption `json:"options"`
	Multiple bool             `json:"multiple,omitempty"`
}

// PermissionRequest asks the user to approve a tool action.
type PermissionRequest struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"sessionID"`
	Permission string         `json:"permission"`
	Patterns   []string       `json:"patterns"`
	Always     []string       `json:"always,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Permission replies.
const (
	ReplyOnce   = "once"
	ReplyAlways = "always"
	ReplyReject = "reject"
)

// ValidPermissionReply reports whether reply is accepted by the server.
func ValidPermissionReply(reply string) bool {
	switch reply {
	case ReplyOnce, ReplyAlways, ReplyReject:
		return true
	}
	return false
}

// Session describes an agent session.
type Session struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Directory string `json:"directory"`
	ProjectID string `json:"projectID,omitempty"`
}

// SessionState is the run state of a session.
type SessionState struct {
	Type string `json:"type"`
}

// Busy reports whether the session is processing a prompt.
func (s SessionState) Busy() bool {
	return s.Type == "busy" || s.Type == "retry"
}

// ModelLimit holds a model's token limits.
type ModelLimit struct {
	Context int64 `json:"context"`
	Output  int64 `json:"output"`
}

// Model is a model offered by a provider.
type Model struct {
	ID    string     `json:"id"`
	Name  string     `json:"name,omitempty"`
	Limit ModelLimit `json:"limit"`
}

// Provider is a model provider.
type Provider struct {
	ID     string           `json:"id"`
	Name   string           `json:"name,omitempty"`
	Models map[string]Model `json:"models"`
}

// ContextLimit returns the context window of modelID, or 0 if unknown.
func ContextLimit(providers []Provider, providerID, modelID string) int64 {
	for _, p := range providers {
		if p.ID != providerID {
			continue
		}
		if m, ok := p.Models[modelID]; ok {
			return m.Limit.Context
		}
	}
	return 0
}

// ModelRef selects a model for a prompt.
type ModelRef struct {
	ProviderID string `json:"providerID"`
	ModelID    string `json:"modelID"`
}

// PromptRequest is a user prompt for a session.
type PromptRequest struct {
	SessionID string
	Directory string
	Text      string
	Model     *ModelRef
	Agent     string
	Variant   string
}

type textPartInput struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type promptBody struct {
	Parts   []textPartInput `json:"parts"`
	Model   *ModelRef       `json:"model,omitempty"`
	Agent   string          `json:"agent,omitempty"`
	Variant string          `json:"variant,omitempty"`
}

// StreamEvents opens the server-sent event stream for directory.
// The caller must close the returned body.
func (c *Client) StreamEvents(ctx context.Context, directory string) (io.ReadCloser, error) {
	path := withDirectory("/event", directory)
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to open event stream: %w", err)
	}
	if err := checkResponse(resp, http.MethodGet, path); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

// SendPrompt submits a prompt. The server answers once the agent finishes,
// so callers usually run it in the background and follow the event stream.
func (c *Client) SendPrompt(ctx context.Context, p PromptRequest) error {
	if strings.TrimSpace(p.SessionID) == "" {
		return fmt.Errorf("session id is required")
	}
	body := promptBody{
		Parts:   []textPartInput{{Type: PartText, Text: p.Text}},
		Model:   p.Model,
		Agent:   p.Agent,
		Variant: p.Variant,
	}
	path := withDirectory("/session/"+url.PathEscape(p.SessionID)+"/message", p.Directory)
	return c.doJSON(ctx, http.MethodPost, path, body, nil)
}

// ReplyQuestion answers a question request. answers holds one entry per
// question; an empty entry means unanswered.
func (c *Client) ReplyQuestion(ctx context.Context, requestID, directory string, answers [][]string) error {
	for i := range answers {
		if answers[i] == nil {
			answers[i] = []string{}
		}
	}
	body := map[string]any{"answers": answers}
	path := withDirectory("/question/"+url.PathEscape(requestID)+"/reply", directory)
	return c.doJSON(ctx, http.MethodPost, path, body, nil)
}

// ReplyPermission answers a permission request with once, always or reject.
func (c *Client) ReplyPermission(ctx context.Context, requestID, directory, reply string) error {
	if !ValidPermissionReply(reply) {
		return fmt.Errorf("invalid permission reply %q", reply)
	}
	body := map[string]string{"reply": reply}
	path := withDirectory("/permission/"+url.PathEscape(requestID)+"/reply", directory)
	return c.doJSON(ctx, http.MethodPost, path, body, nil)
}

// SessionMessages returns the message history of a session.
func (c *Client) SessionMessages(ctx context.Context, sessionID, directory string) ([]MessageWithParts, error) {
	var out []MessageWithParts
	path := withDirectory("/session/"+url.PathEscape(sessionID)+"/message", directory)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SessionDiff returns the files changed by a session.
func (c *Client) SessionDiff(ctx context.Context, sessionID, directory string) ([]FileDiff, error) {
	var out []FileDiff
	path := withDirectory("/session/"+url.PathEscape(sessionID)+"/diff", directory)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetSession fetches one session.
func (c *Client) GetSession(ctx context.Context, sessionID, directory string) (*Session, error) {
	var out Session
	path := withDirectory("/session/"+url.PathEscape(sessionID), directory)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateSession starts a new session in directory.
func (c *Client) CreateSession(ctx context.Context, directory string) (*Session, error) {
	var out Session
	if err := c.doJSON(ctx, http.MethodPost, withDirectory("/session", directory), map[string]any{}, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("server returned a session without id")
	}
	return &out, nil
}

// SessionStatus returns the run state of every non-idle session, keyed by id.
func (c *Client) SessionStatus(ctx context.Context, directory string) (map[string]SessionState, error) {
	out := map[string]SessionState{}
	if err := c.doJSON(ctx, http.MethodGet, withDirectory("/session/status", directory), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Providers lists the configured providers and their models.
func (c *Client) Providers(ctx context.Context) ([]Provider, error) {
	var out struct {
		Providers []Provider `json:"providers"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/config/providers", nil, &out); err != nil {
		return nil, err
	}
	return out.Providers, nil
}
