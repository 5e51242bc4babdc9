package bot

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/inercia/opencode-telegram/internal/chat"
	"github.com/inercia/opencode-telegram/internal/keyboard"
	"github.com/inercia/opencode-telegram/internal/permission"
	"github.com/inercia/opencode-telegram/internal/question"
)

const agentCallbackPrefix = "agent:"

// Answer is the toast shown for a button press. A zero Answer just
// acknowledges it.
type Answer struct {
	Text  string
	Alert bool
}

func alert(text string) Answer {
	return Answer{Text: text, Alert: true}
}

// HandleCallback handles a press of an inline button carrying data,
// attached to message id.
func (b *Bot) HandleCallback(ctx context.Context, id chat.MessageID, data string) Answer {
	switch {
	case strings.HasPrefix(data, question.CallbackPrefix):
		return b.questionCallback(ctx, id, data)
	case strings.HasPrefix(data, permission.CallbackPrefix):
		return b.permissionCallback(ctx, id, data)
	case strings.HasPrefix(data, agentCallbackPrefix):
		return b.agentCallback(ctx, id, strings.TrimPrefix(data, agentCallbackPrefix))
	}
	b.logger.Warn("Unknown callback", "data", data)
	return alert(TextUnknownAction)
}

func (b *Bot) questionCallback(ctx context.Context, id chat.MessageID, data string) Answer {
	if !b.questions.IsActive() {
		return alert(question.TextInactive)
	}
	cb, ok := question.ParseCallback(data)
	if !ok {
		b.logger.Warn("Malformed poll callback", "data", data)
		return alert(question.TextProcessingError)
	}

	switch cb.Action {
	case question.ActionSelect:
		q, ok := b.questions.CurrentQuestion()
		if !ok || cb.Question != b.questions.CurrentIndex() || cb.Option >= len(q.Options) {
			return Answer{}
		}
		b.questions.SelectOption(cb.Question, cb.Option)
		if q.Multiple {
			text := question.FormatQuestion(q, cb.Question, b.questions.Total())
			kb := question.Keyboard(q, cb.Question, b.questions.SelectedOptions(cb.Question))
			if err := b.messenger.Edit(ctx, id, text, chat.WithInlineKeyboard(kb)); err != nil {
				b.logger.Error("Failed to update question message", "error", err)
			}
			return Answer{}
		}
		b.deleteMessage(ctx, id)
		b.showNextQuestion(ctx)

	case question.ActionSubmit:
		if cb.Question != b.questions.CurrentIndex() {
			return Answer{}
		}
		if b.questions.SelectedAnswer(cb.Question) == "" {
			return alert(question.TextSelectOne)
		}
		b.deleteMessage(ctx, id)
		b.showNextQuestion(ctx)

	case question.ActionCustom:
		return alert(question.TextEnterCustom)

	case question.ActionCancel:
		b.questions.Cancel()
		if err := b.messenger.Edit(ctx, id, question.TextCancelled); err != nil {
			b.logger.Error("Failed to mark poll as cancelled", "error", err)
		}
	}
	return Answer{}
}

// answerWithText records text as the custom answer of the current question.
func (b *Bot) answerWithText(ctx context.Context, text string) {
	idx := b.questions.CurrentIndex()
	if b.questions.HasCustomAnswer(idx) {
		b.send(ctx, question.TextAlreadyAnswered)
		return
	}
	b.questions.SetCustomAnswer(idx, text)

	if ids := b.questions.MessageIDs(); len(ids) > 0 {
		b.deleteMessage(ctx, ids[len(ids)-1])
	}
	b.showNextQuestion(ctx)
}

func (b *Bot) showNextQuestion(ctx context.Context) {
	b.questions.Next()
	if b.questions.HasNext() {
		b.showCurrentQuestion(ctx)
		return
	}
	b.finishPoll(ctx)
}

func (b *Bot) showCurrentQuestion(ctx context.Context) {
	q, ok := b.questions.CurrentQuestion()
	if !ok {
		b.finishPoll(ctx)
		return
	}
	idx := b.questions.CurrentIndex()
	text := question.FormatQuestion(q, idx, b.questions.Total())
	kb := question.Keyboard(q, idx, b.questions.SelectedOptions(idx))

	id, sent := b.send(ctx, text, chat.WithInlineKeyboard(kb))
	if !sent {
		return
	}
	b.questions.AddMessageID(id)
	b.aggregator.StopTyping()
}

// finishPoll submits every answer in one reply, shows a summary and
// clears the poll whatever the outcome.
func (b *Bot) finishPoll(ctx context.Context) {
	defer b.questions.Clear()

	requestID := b.questions.RequestID()
	answers := b.questions.Answers()
	summary := b.questions.Summary()
	b.logger.Info("Poll completed", "answered", len(summary), "total", b.questions.Total())

	if requestID == "" {
		b.logger.Error("No request id for poll answers")
		b.send(ctx, question.TextNoRequest)
		return
	}

	directory := b.directory()
	b.dispatch("question.reply", func() {
		if err := b.api.ReplyQuestion(b.ctx, requestID, directory, answers); err != nil {
			b.logger.Error("Failed to send poll answers", "request_id", requestID, "error", err)
			b.send(b.ctx, question.TextSendError)
			return
		}
		b.logger.Info("Poll answers sent", "request_id", requestID)
	})

	b.send(ctx, question.FormatSummary(summary))
}

func (b *Bot) permissionCallback(ctx context.Context, id chat.MessageID, data string) Answer {
	if !b.permissions.IsActive() {
		return alert(permission.TextInactive)
	}
	reply, ok := permission.ParseCallback(data)
	if !ok {
		b.logger.Warn("Malformed permission callback", "data", data)
		return alert(question.TextProcessingError)
	}
	requestID := b.permissions.RequestID()
	if requestID == "" {
		return alert(permission.TextNoRequest)
	}

	b.deleteMessage(ctx, id)
	b.aggregator.StopTyping()

	directory := b.directory()
	b.logger.Info("Sending permission reply", "reply", reply, "request_id", requestID)
	b.dispatch("permission.reply", func() {
		if err := b.api.ReplyPermission(b.ctx, requestID, directory, reply); err != nil {
			b.logger.Error("Failed to send permission reply", "request_id", requestID, "error", err)
			b.send(b.ctx, permission.TextSendError)
			return
		}
		b.logger.Info("Permission reply sent", "request_id", requestID)
	})

	b.permissions.Clear()
	return Answer{Text: permission.ReplyNotice(reply)}
}

func (b *Bot) agentCallback(ctx context.Context, id chat.MessageID, agent string) Answer {
	if !slices.Contains(agents, agent) {
		return alert(TextUnknownAction)
	}
	if err := b.store.SetAgent(agent); err != nil {
		b.logger.Warn("Failed to store agent", "error", err)
	}
	b.keyboard.UpdateAgent(agent)
	b.deleteMessage(ctx, id)

	label := keyboard.AgentLabel(agent)
	b.send(ctx, fmt.Sprintf(TextAgentChanged, label), chat.WithReplyKeyboard(b.keyboard.Keyboard()))
	return Answer{Text: label}
}
