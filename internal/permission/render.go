package permission

import (
	"fmt"
	"strings"

	"github.com/inercia/opencode-telegram/internal/chat"
	"github.com/inercia/opencode-telegram/internal/opencode"
)

// CallbackPrefix starts the callback data of every permission button.
const CallbackPrefix = "permission:"

// User-facing texts.
const (
	TextInactive  = "Permission request is inactive"
	TextNoRequest = "Error: no active request"
	TextSendError = "❌ Failed to send permission reply"
)

var displayNames = map[string]string{
	"bash":      "Bash",
	"edit":      "Edit",
	"write":     "Write",
	"read":      "Read",
	"webfetch":  "Web Fetch",
	"websearch": "Web Search",
	"glob":      "File Search",
	"grep":      "Content Search",
	"list":      "List Directory",
	"task":      "Task",
	"lsp":       "LSP",
}

var emojis = map[string]string{
	"bash":      "💻",
	"edit":      "✏️",
	"write":     "📝",
	"read":      "📖",
	"webfetch":  "🌐",
	"websearch": "🔎",
	"glob":      "📁",
	"grep":      "🔍",
	"list":      "📂",
	"task":      "🤖",
	"lsp":       "🧠",
}

// DisplayName returns the human name of a permission type.
func DisplayName(kind string) string {
	if name, ok := displayNames[kind]; ok {
		return name
	}
	return kind
}

func emoji(kind string) string {
	if e, ok := emojis[kind]; ok {
		return e
	}
	return "🔐"
}

// FormatRequest renders the prompt shown for req.
func FormatRequest(req opencode.PermissionRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s Permission request: %s", emoji(req.Permission), DisplayName(req.Permission))
	if len(req.Patterns) > 0 {
		b.WriteString("\n")
		for _, p := range req.Patterns {
			b.WriteString("\n")
			b.WriteString(p)
		}
	}
	return b.String()
}

// Keyboard returns the reply buttons.
func Keyboard() chat.InlineKeyboard {
	return chat.InlineKeyboard{{
		{Text: "✅ Allow", Data: CallbackPrefix + opencode.ReplyOnce},
		{Text: "🔓 Always", Data: CallbackPrefix + opencode.ReplyAlways},
		{Text: "❌ Reject", Data: CallbackPrefix + opencode.ReplyReject},
	}}
}

// ParseCallback extracts the reply from button data.
func ParseCallback(data string) (reply string, ok bool) {
	if !strings.HasPrefix(data, CallbackPrefix) {
		return "", false
	}
	reply = strings.TrimPrefix(data, CallbackPrefix)
	return reply, opencode.ValidPermissionReply(reply)
}

// ReplyNotice is the toast shown after the user picks reply.
func ReplyNotice(reply string) string {
	switch reply {
	case opencode.ReplyOnce:
		return "Allowed once"
	case opencode.ReplyAlways:
		return "Always allowed"
	default:
		return "Rejected"
	}
}
