package question

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/inercia/opencode-telegram/internal/chat"
	"github.com/inercia/opencode-telegram/internal/opencode"
)

// MaxButtonWidth is the display width an option button is truncated to.
const MaxButtonWidth = 60

// CallbackPrefix starts the callback data of every poll button.
const CallbackPrefix = "question:"

// Callback actions.
const (
	ActionSelect = "select"
	ActionSubmit = "submit"
	ActionCustom = "custom"
	ActionCancel = "cancel"
)

// User-facing texts.
const (
	TextCancelled        = "❌ Poll cancelled"
	TextInactive         = "Poll is inactive"
	TextSelectOne        = "Select at least one option"
	TextEnterCustom      = "Send your custom answer as a message"
	TextAlreadyAnswered  = "Answer already received, please wait..."
	TextNoAnswers        = "✅ Poll completed (no answers)"
	TextNoRequest        = "❌ No active request"
	TextSendError        = "❌ Failed to send answers to agent"
	TextProcessingError  = "Processing error"
	textMultiHint        = "\n(You can select multiple options)"
	textSubmitButton     = "✅ Done"
	textCustomButton     = "🔤 Custom answer"
	textCancelButton     = "❌ Cancel"
	textSummaryTitle     = "✅ Poll completed!\n\n"
	textSummaryQuestion  = "Question %d:\n%s\n\n"
	textSummaryAnswer    = "Answer:\n%s\n\n"
	textSelectedBoxCheck = "✅ "
)

// Callback is a parsed poll button press.
type Callback struct {
	Action   string
	Question int
	Option   int
}

// ParseCallback decodes button data. ok is false for data that does not
// belong to a poll or is malformed.
func ParseCallback(data string) (cb Callback, ok bool) {
	if !strings.HasPrefix(data, CallbackPrefix) {
		return Callback{}, false
	}
	parts := strings.Split(strings.TrimPrefix(data, CallbackPrefix), ":")
	cb.Action = parts[0]

	atoi := func(i int) (int, bool) {
		if i >= len(parts) {
			return 0, false
		}
		n, err := strconv.Atoi(parts[i])
		return n, err == nil && n >= 0
	}

	switch cb.Action {
	case ActionCancel:
		return cb, true
	case ActionSubmit, ActionCustom:
		cb.Question, ok = atoi(1)
		return cb, ok
	case ActionSelect:
		if cb.Question, ok = atoi(1); !ok {
			return cb, false
		}
		cb.Option, ok = atoi(2)
		return cb, ok
	}
	return cb, false
}

// FormatQuestion renders the message text for question q, shown as
// number index+1 of total.
func FormatQuestion(q opencode.Question, index, total int) string {
	var title []string
	if total > 0 {
		title = append(title, fmt.Sprintf("%d/%d", index+1, total))
	}
	if q.Header != "" {
		title = append(title, q.Header)
	}

	var b strings.Builder
	if len(title) > 0 {
		b.WriteString(strings.Join(title, " "))
		b.WriteString("\n\n")
	}
	b.WriteString(q.Question)
	if q.Multiple {
		b.WriteString(textMultiHint)
	}
	return b.String()
}

func buttonText(opt opencode.QuestionOption, selected bool) string {
	text := opt.Label
	if selected {
		text = textSelectedBoxCheck + text
	} else if opt.Description != "" {
		text += " - " + opt.Description
	}
	return runewidth.Truncate(text, MaxButtonWidth, "...")
}

// Keyboard builds the inline buttons for question q at index.
func Keyboard(q opencode.Question, index int, selected []int) chat.InlineKeyboard {
	isSelected := make(map[int]bool, len(selected))
	for _, s := range selected {
		isSelected[s] = true
	}

	kb := make(chat.InlineKeyboard, 0, len(q.Options)+1)
	for i, opt := range q.Options {
		kb = append(kb, []chat.Button{{
			Text: buttonText(opt, isSelected[i]),
			Data: fmt.Sprintf("%s%s:%d:%d", CallbackPrefix, ActionSelect, index, i),
		}})
	}

	var last []chat.Button
	if q.Multiple {
		last = append(last, chat.Button{Text: textSubmitButton, Data: fmt.Sprintf("%s%s:%d", CallbackPrefix, ActionSubmit, index)})
	}
	last = append(last,
		chat.Button{Text: textCustomButton, Data: fmt.Sprintf("%s%s:%d", CallbackPrefix, ActionCustom, index)},
		chat.Button{Text: textCancelButton, Data: CallbackPrefix + ActionCancel},
	)
	return append(kb, last)
}

// FormatSummary renders the completion notice.
func FormatSummary(answers []AnsweredQuestion) string {
	if len(answers) == 0 {
		return TextNoAnswers
	}
	var b strings.Builder
	b.WriteString(textSummaryTitle)
	for i, a := range answers {
		fmt.Fprintf(&b, textSummaryQuestion, i+1, a.Question)
		fmt.Fprintf(&b, textSummaryAnswer, a.Answer)
	}
	return strings.TrimRight(b.String(), "\n")
}
