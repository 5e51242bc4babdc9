package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/inercia/opencode-telegram/internal/chat"
	"github.com/inercia/opencode-telegram/internal/keyboard"
	"github.com/inercia/opencode-telegram/internal/opencode"
	"github.com/inercia/opencode-telegram/internal/settings"
)

// HandleText handles a plain text message. While a poll is active the text
// answers the current question; a keyboard label opens its menu; anything
// else is sent to the agent as a prompt.
func (b *Bot) HandleText(ctx context.Context, text string) {
	text = strings.TrimSpace(text)
	if text == "" || strings.HasPrefix(text, "/") {
		return
	}

	if b.questions.IsActive() {
		b.answerWithText(ctx, text)
		return
	}
	if b.handleKeyboardButton(ctx, text) {
		return
	}
	b.prompt(ctx, text)
}

// HandleNew unbinds the current session so the next prompt creates one.
func (b *Bot) HandleNew(ctx context.Context) {
	b.resetSession(ctx)
	b.send(ctx, TextNewSession, chat.WithReplyKeyboard(b.keyboard.Keyboard()))
}

// HandleStart greets the user and shows the keyboard.
func (b *Bot) HandleStart(ctx context.Context) {
	b.send(ctx, TextWelcome, chat.WithReplyKeyboard(b.keyboard.Keyboard()))
}

func (b *Bot) prompt(ctx context.Context, text string) {
	b.promptMu.Lock()
	defer b.promptMu.Unlock()

	sess, ok := b.store.CurrentSession()
	if ok && sess.Directory != b.projectDir {
		b.logger.Warn("Session belongs to another project, resetting",
			"session_directory", sess.Directory,
			"project_directory", b.projectDir,
		)
		b.resetSession(ctx)
		b.send(ctx, TextSessionReset)
		return
	}

	if !ok {
		created, err := b.createSession(ctx)
		if err != nil {
			return
		}
		sess = created
	} else if b.pinned.State().MessageID == 0 {
		b.pinned.OnSessionChange(ctx, sess.ID, sess.Title)
	}

	b.aggregator.SetSession(sess.ID)
	b.aggregator.SetDirectory(sess.Directory)
	b.ensureSubscription(sess.Directory)

	if b.isBusy(ctx, sess) {
		b.logger.Info("Ignoring prompt, session is busy", "session_id", sess.ID)
		b.send(ctx, TextSessionBusy)
		return
	}

	req := opencode.PromptRequest{
		SessionID: sess.ID,
		Directory: sess.Directory,
		Text:      text,
		Agent:     b.agent(),
	}
	if m := b.store.Model(); m.IsSet() {
		req.Model = &opencode.ModelRef{ProviderID: m.ProviderID, ModelID: m.ModelID}
		req.Variant = m.Variant
	}

	b.logger.Info("Sending prompt", "session_id", sess.ID, "agent", req.Agent, "length", len(text))
	b.dispatch("session.prompt", func() {
		if err := b.api.SendPrompt(b.ctx, req); err != nil {
			b.logger.Error("Failed to send prompt", "session_id", req.SessionID, "error", err)
			b.send(b.ctx, fmt.Sprintf(TextPromptError, err))
			return
		}
		b.logger.Debug("Prompt accepted", "session_id", req.SessionID)
	})
}

func (b *Bot) createSession(ctx context.Context) (settings.Session, error) {
	b.send(ctx, TextCreatingSession)

	s, err := b.api.CreateSession(ctx, b.projectDir)
	if err != nil {
		b.logger.Error("Failed to create session", "directory", b.projectDir, "error", err)
		b.send(ctx, TextCreateSessionError)
		return settings.Session{}, err
	}

	sess := settings.Session{ID: s.ID, Title: s.Title, Directory: b.projectDir}
	if err := b.store.SetCurrentSession(sess); err != nil {
		b.logger.Warn("Failed to store current session", "error", err)
	}
	b.logger.Info("Created session", "session_id", s.ID, "title", s.Title, "directory", b.projectDir)

	b.pinned.OnSessionChange(ctx, sess.ID, sess.Title)
	if used, limit, ok := b.pinned.ContextInfo(); ok {
		b.keyboard.UpdateContext(used, limit)
	}
	b.send(ctx, fmt.Sprintf(TextSessionCreated, sess.Title), chat.WithReplyKeyboard(b.keyboard.Keyboard()))
	return sess, nil
}

// isBusy reports whether the agent is still working on sess. Lookup
// failures count as idle.
func (b *Bot) isBusy(ctx context.Context, sess settings.Session) bool {
	status, err := b.api.SessionStatus(ctx, sess.Directory)
	if err != nil {
		b.logger.Warn("Failed to check session status before prompt", "error", err)
		return false
	}
	state, ok := status[sess.ID]
	return ok && state.Busy()
}

func (b *Bot) agent() string {
	if a := b.store.Agent(); a != "" {
		return a
	}
	return keyboard.DefaultAgent
}

// resetSession drops everything bound to the current session.
func (b *Bot) resetSession(ctx context.Context) {
	b.events.Stop()
	b.aggregator.Reset()
	b.questions.Clear()
	b.permissions.Clear()
	if err := b.store.ClearCurrentSession(); err != nil {
		b.logger.Warn("Failed to clear current session", "error", err)
	}
	b.keyboard.ClearContext()
	b.pinned.Clear(ctx)
}

// handleKeyboardButton reacts to a press of one of the reply keyboard
// labels. It reports whether text was such a label.
func (b *Bot) handleKeyboardButton(ctx context.Context, text string) bool {
	state := b.keyboard.State()
	kb := keyboard.Build(state)
	switch text {
	case kb[0][0]:
		b.showAgentMenu(ctx)
	case kb[1][0]:
		if b.pinned.ContextLimit() == 0 {
			b.pinned.RefreshContextLimit(ctx)
		}
		if used, limit, ok := b.pinned.ContextInfo(); ok {
			b.keyboard.UpdateContext(used, limit)
		}
		b.keyboard.SendUpdate(ctx)
	case kb[0][1], kb[1][1]:
		b.keyboard.SendUpdate(ctx)
	default:
		return false
	}
	return true
}

func (b *Bot) showAgentMenu(ctx context.Context) {
	current := b.agent()
	var row []chat.Button
	for _, a := range agents {
		label := keyboard.AgentLabel(a)
		if a == current {
			label = "✅ " + label
		}
		row = append(row, chat.Button{Text: label, Data: agentCallbackPrefix + a})
	}
	b.send(ctx, TextAgentMenu, chat.WithInlineKeyboard(chat.InlineKeyboard{row}))
}
