package summary

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/inercia/opencode-telegram/internal/chat"
)

// DefaultTypingInterval is how often the typing action is repeated.
// Telegram shows it for about five seconds.
const DefaultTypingInterval = 4 * time.Second

const typingSendTimeout = 10 * time.Second

// Typing keeps the chat's "typing..." indicator alive while the agent works.
type Typing struct {
	messenger chat.Messenger
	interval  time.Duration
	logger    *slog.Logger

	mu   sync.Mutex
	stop chan struct{}
}

// NewTyping creates a stopped indicator. A nil messenger makes every
// operation a no-op.
func NewTyping(m chat.Messenger, interval time.Duration, logger *slog.Logger) *Typing {
	if interval <= 0 {
		interval = DefaultTypingInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Typing{messenger: m, interval: interval, logger: logger}
}

// Start sends the typing action now and then every interval until Stop.
// Starting a running indicator does nothing.
func (t *Typing) Start() {
	if t == nil || t.messenger == nil {
		return
	}
	t.mu.Lock()
	if t.stop != nil {
		t.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	t.stop = stop
	t.mu.Unlock()

	go t.loop(stop)
}

// Stop halts the indicator. It is safe to call when not running.
func (t *Typing) Stop() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
}

// Active reports whether the indicator is running.
func (t *Typing) Active() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stop != nil
}

func (t *Typing) loop(stop <-chan struct{}) {
	t.send()
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.send()
		}
	}
}

func (t *Typing) send() {
	ctx, cancel := context.WithTimeout(context.Background(), typingSendTimeout)
	defer cancel()
	if err := t.messenger.SendTyping(ctx); err != nil {
		t.logger.Error("Failed to send typing action", "error", err)
	}
}
