package bot

import (
	"github.com/inercia/opencode-telegram/internal/chat"
	"github.com/inercia/opencode-telegram/internal/opencode"
	"github.com/inercia/opencode-telegram/internal/permission"
	"github.com/inercia/opencode-telegram/internal/summary"
)

// callbacks binds the aggregator output to chat messages and managers.
func (b *Bot) callbacks() summary.Callbacks {
	return summary.Callbacks{
		OnComplete:         b.onComplete,
		OnTool:             b.onTool,
		OnToolFile:         b.onToolFile,
		OnQuestion:         b.onQuestion,
		OnQuestionError:    b.onQuestionError,
		OnPermission:       b.onPermission,
		OnThinking:         b.onThinking,
		OnTokens:           b.onTokens,
		OnSessionCompacted: b.onSessionCompacted,
		OnSessionDiff:      b.onSessionDiff,
		OnFileChange:       b.pinned.AddFileChange,
		OnSessionUpdated:   b.onSessionUpdated,
	}
}

func (b *Bot) isCurrentSession(sessionID string) bool {
	sess, ok := b.store.CurrentSession()
	return ok && sess.ID == sessionID
}

func (b *Bot) onComplete(sessionID, text string) {
	if !b.isCurrentSession(sessionID) {
		b.logger.Debug("Ignoring completion of another session", "session_id", sessionID)
		return
	}

	parts := summary.FormatSummary(text)
	b.logger.Debug("Sending completed message", "session_id", sessionID, "parts", len(parts))
	for i, part := range parts {
		var opts []chat.SendOption
		if i == len(parts)-1 {
			opts = append(opts, chat.WithReplyKeyboard(b.keyboard.Keyboard()))
		}
		if _, err := b.messenger.Send(b.ctx, part, opts...); err != nil {
			b.logger.Error("Failed to send completed message, dropping in-flight state",
				"session_id", sessionID,
				"part", i+1,
				"error", err,
			)
			// The next prompt binds the session again.
			b.aggregator.Reset()
			return
		}
	}
}

func (b *Bot) onTool(info summary.ToolInfo) {
	if !b.displayOptions().ShowToolEvents {
		return
	}
	if !b.isCurrentSession(b.aggregator.SessionID()) {
		return
	}
	if msg := summary.FormatToolInfo(info); msg != "" {
		b.send(b.ctx, msg, chat.Silent())
	}
}

func (b *Bot) onToolFile(doc chat.Document) {
	if _, ok := b.store.CurrentSession(); !ok {
		return
	}
	b.logger.Debug("Sending code file", "file", doc.Name, "size", len(doc.Data))
	if err := b.messenger.SendDocument(b.ctx, doc); err != nil {
		b.logger.Error("Failed to send code file", "file", doc.Name, "error", err)
	}
}

func (b *Bot) onQuestion(questions []opencode.Question, requestID string) {
	b.logger.Info("Received questions from agent", "questions", len(questions), "request_id", requestID)
	for _, id := range b.questions.MessageIDs() {
		b.deleteMessage(b.ctx, id)
	}
	b.questions.Start(questions, requestID)
	b.showCurrentQuestion(b.ctx)
}

func (b *Bot) onQuestionError() {
	b.logger.Info("Question tool failed, clearing active poll")
	for _, id := range b.questions.MessageIDs() {
		b.deleteMessage(b.ctx, id)
	}
	b.questions.Clear()
}

func (b *Bot) onPermission(req opencode.PermissionRequest) {
	b.logger.Info("Received permission request", "permission", req.Permission, "request_id", req.ID)
	if old := b.permissions.MessageID(); b.permissions.IsActive() && old != 0 {
		b.deleteMessage(b.ctx, old)
	}
	b.permissions.Start(req)

	id, ok := b.send(b.ctx, permission.FormatRequest(req), chat.WithInlineKeyboard(permission.Keyboard()))
	if !ok {
		return
	}
	b.permissions.SetMessageID(id)
	b.aggregator.StopTyping()
}

func (b *Bot) onThinking() {
	if !b.displayOptions().ShowThinking {
		return
	}
	b.send(b.ctx, TextThinking, chat.Silent())
}

// onTokens runs before the completion is sent, so the keyboard attached
// to the reply already shows the new usage. The pinned message refresh
// talks to the server and must not hold up the reply.
func (b *Bot) onTokens(tokens opencode.Tokens) {
	b.logger.Debug("Received tokens", "input", tokens.Input, "output", tokens.Output, "cache_read", tokens.Cache.Read)
	if limit := b.pinned.ContextLimit(); limit > 0 {
		b.keyboard.UpdateContext(tokens.Context(), limit)
	}
	b.dispatch("pinned.tokens", func() {
		b.pinned.OnMessageComplete(b.ctx, tokens)
	})
}

func (b *Bot) onSessionCompacted(sessionID, directory string) {
	b.pinned.OnSessionCompacted(b.ctx, sessionID, directory)
}

func (b *Bot) onSessionDiff(_ string, diffs []opencode.FileDiff) {
	b.pinned.OnSessionDiff(b.ctx, diffs)
}

func (b *Bot) onSessionUpdated(s opencode.Session) {
	sess, ok := b.store.CurrentSession()
	if !ok || sess.ID != s.ID || s.Title == "" || s.Title == sess.Title {
		return
	}
	if err := b.store.SetSessionTitle(s.Title); err != nil {
		b.logger.Warn("Failed to store session title", "error", err)
	}
	b.pinned.OnSessionTitleUpdate(b.ctx, s.Title)
}
