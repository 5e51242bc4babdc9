package summary

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/x/ansi"

	"github.com/inercia/opencode-telegram/internal/chat"
)

// MessageLimit is the longest text Telegram accepts in one message.
const MessageLimit = 4096

// File operations handled by PrepareCodeFile.
const (
	OpWrite = "write"
	OpEdit  = "edit"
)

const (
	maxTodos   = 20
	fence      = "```"
	fileHeader = "%s File/Path: %s\n============================================================\n\n"
)

// SplitText splits text into chunks of at most max runes, breaking after
// the last newline that fits when there is one.
func SplitText(text string, max int) []string {
	if max <= 0 {
		return []string{text}
	}
	runes := []rune(text)
	var parts []string
	for start := 0; start < len(runes); {
		end := start + max
		if end >= len(runes) {
			parts = append(parts, string(runes[start:]))
			break
		}
		for i := end; i > start; i-- {
			if runes[i] == '\n' {
				end = i + 1
				break
			}
		}
		parts = append(parts, string(runes[start:end]))
		start = end
	}
	return parts
}

// FormatSummary prepares a completed assistant reply for sending. Replies
// that need several messages are sent as code blocks so each chunk renders
// on its own.
func FormatSummary(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	parts := SplitText(text, MessageLimit)
	multi := len(parts) > 1
	if multi {
		parts = SplitText(text, MessageLimit-len(fence+"\n\n"+fence))
	}

	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		if multi {
			trimmed = fence + "\n" + trimmed + "\n" + fence
		}
		out = append(out, trimmed)
	}
	return out
}

func toolIcon(tool string) string {
	switch tool {
	case "read":
		return "📖"
	case "write":
		return "✍️"
	case "edit":
		return "✏️"
	case "bash":
		return "💻"
	case "glob":
		return "📁"
	case "grep":
		return "🔍"
	case "task":
		return "🤖"
	case "question":
		return "❓"
	case "todoread":
		return "📋"
	case "todowrite":
		return "📝"
	case "webfetch":
		return "🌐"
	case "web-search_tavily_search":
		return "🔎"
	case "web-search_tavily_extract":
		return "📄"
	case "skill":
		return "🎓"
	default:
		return "🛠️"
	}
}

func stringField(m map[string]any, key string) (string, bool) {
	v, ok := m[key].(string)
	return v, ok
}

// toolDetails picks the most descriptive input field of a tool call.
func toolDetails(tool string, input map[string]any) string {
	if len(input) == 0 {
		return ""
	}

	switch tool {
	case "read", "edit", "write":
		if p, ok := stringField(input, "path"); ok {
			return p
		}
		if p, ok := stringField(input, "filePath"); ok {
			return p
		}
	case "bash":
		if c, ok := stringField(input, "command"); ok {
			return c
		}
	case "grep", "glob":
		if p, ok := stringField(input, "pattern"); ok {
			return p
		}
	}

	for _, field := range []string{"query", "url", "name", "prompt", "text"} {
		if v, ok := stringField(input, field); ok {
			return v
		}
	}

	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k == "description" {
			continue
		}
		if v, ok := stringField(input, k); ok && v != "" {
			return v
		}
	}
	return ""
}

type todo struct {
	Content string
	Status  string
}

func parseTodos(raw any) ([]todo, bool) {
	list, ok := raw.([]any)
	if !ok {
		return nil, false
	}
	todos := make([]todo, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		content, _ := stringField(m, "content")
		status, _ := stringField(m, "status")
		todos = append(todos, todo{Content: content, Status: status})
	}
	return todos, true
}

func formatTodos(todos []todo) string {
	var b strings.Builder
	for i, t := range todos {
		if i == maxTodos {
			break
		}
		marker := " "
		switch t.Status {
		case "completed":
			marker = "x"
		case "in_progress":
			marker = "~"
		case "pending":
			marker = "  "
		}
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[%s] %s", marker, t.Content)
	}
	if len(todos) > maxTodos {
		fmt.Fprintf(&b, "\n(%d more tasks)", len(todos)-maxTodos)
	}
	return b.String()
}

func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return 0
}

// FormatToolInfo renders a one-line notice for a completed tool call.
// todowrite calls list their todos instead.
func FormatToolInfo(info ToolInfo) string {
	icon := toolIcon(info.Tool)

	if info.Tool == "todowrite" {
		if todos, ok := parseTodos(info.Metadata["todos"]); ok {
			return fmt.Sprintf("%s %s (%d)\n%s", icon, info.Tool, len(todos), formatTodos(todos))
		}
	}

	details := info.Title
	if details == "" {
		details = toolDetails(info.Tool, info.Input)
	}
	if info.Tool == "bash" {
		if c, ok := stringField(info.Input, "command"); ok {
			details = c
		}
	}
	details = ansi.Strip(details)

	description := ""
	if d, ok := stringField(info.Input, "description"); ok {
		description = ansi.Strip(d) + "\n"
	}

	var lineInfo string
	if info.Tool == "write" {
		if content, ok := stringField(info.Input, "content"); ok {
			lineInfo = fmt.Sprintf(" (+%d)", countLines(content))
		}
	}
	if info.Tool == "edit" {
		if fd, ok := info.Metadata["filediff"].(map[string]any); ok {
			var parts []string
			if n := intField(fd, "additions"); n > 0 {
				parts = append(parts, fmt.Sprintf("+%d", n))
			}
			if n := intField(fd, "deletions"); n > 0 {
				parts = append(parts, fmt.Sprintf("-%d", n))
			}
			if len(parts) > 0 {
				lineInfo = " (" + strings.Join(parts, " ") + ")"
			}
		}
	}

	if details != "" {
		details = " " + details
	}
	return icon + " " + description + info.Tool + details + lineInfo
}

func countLines(text string) int {
	return strings.Count(text, "\n") + 1
}

// formatDiff drops unified diff headers and spaces out +/- markers.
func formatDiff(diff string) string {
	lines := strings.Split(diff, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "@@"),
			strings.HasPrefix(line, "---"),
			strings.HasPrefix(line, "+++"),
			strings.HasPrefix(line, "Index:"),
			strings.HasPrefix(line, "==="),
			strings.HasPrefix(line, `\ No newline`):
			continue
		case strings.HasPrefix(line, "+"):
			out = append(out, "+ "+line[1:])
		case strings.HasPrefix(line, "-"):
			out = append(out, "- "+line[1:])
		default:
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// PrepareCodeFile builds the attachment sent after a write or edit. Edit
// content is a unified diff and is cleaned up first. It returns nil when
// the body exceeds maxKB kilobytes.
func PrepareCodeFile(content, filePath, op string, maxKB int) *chat.Document {
	body := content
	if op == OpEdit {
		body = formatDiff(content)
	}

	if maxKB > 0 && float64(len(body))/1024 > float64(maxKB) {
		return nil
	}

	label := "Write"
	if op == OpEdit {
		label = "Edit"
	}
	header := fmt.Sprintf(fileHeader, label, filePath)

	return &chat.Document{
		Name: fmt.Sprintf("%s_%s.txt", op, filepath.Base(filePath)),
		Data: []byte(header + body),
	}
}
