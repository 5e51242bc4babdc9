package bot

import (
	"log/slog"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/inercia/opencode-telegram/internal/chat"
	"github.com/inercia/opencode-telegram/internal/logging"
)

// Register installs the bot handlers on tb. Updates from anyone but
// allowedUserID are dropped.
func (b *Bot) Register(tb *tele.Bot, allowedUserID int64) {
	tb.Use(allowOnly(allowedUserID, b.logger))

	tb.Handle("/start", b.withLog("start", func(tele.Context) error {
		b.HandleStart(b.ctx)
		return nil
	}))
	tb.Handle("/new", b.withLog("new", func(tele.Context) error {
		b.HandleNew(b.ctx)
		return nil
	}))
	tb.Handle(tele.OnText, b.withLog("text", func(c tele.Context) error {
		b.HandleText(b.ctx, c.Text())
		return nil
	}))
	tb.Handle(tele.OnCallback, b.withLog("callback", func(c tele.Context) error {
		cb := c.Callback()
		if cb == nil {
			return nil
		}
		var id chat.MessageID
		if cb.Message != nil {
			id = chat.MessageID(cb.Message.ID)
		}
		answer := b.HandleCallback(b.ctx, id, strings.TrimPrefix(cb.Data, "\f"))
		return c.Respond(&tele.CallbackResponse{Text: answer.Text, ShowAlert: answer.Alert})
	}))
}

// allowOnly drops updates whose sender is not userID.
func allowOnly(userID int64, logger *slog.Logger) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			sender := c.Sender()
			if sender == nil || sender.ID != userID {
				attrs := []any{"allowed_user_id", userID}
				if sender != nil {
					attrs = append(attrs, "user_id", sender.ID, "username", sender.Username)
				}
				logger.Warn("Ignoring update from unauthorized user", attrs...)
				return nil
			}
			return next(c)
		}
	}
}

func (b *Bot) withLog(name string, h tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		logger := b.logger.With("handler", name)
		if ch := c.Chat(); ch != nil {
			logger = logging.WithChat(logger, ch.ID)
		}
		attrs := []any{"text_length", len(c.Text())}
		if msg := c.Message(); msg != nil {
			attrs = append(attrs, "message_id", msg.ID)
		}
		logger.Debug("Telegram update received", attrs...)

		if err := h(c); err != nil {
			logger.Error("Telegram handler failed", "error", err)
			return err
		}
		return nil
	}
}
