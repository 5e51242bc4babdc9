package opencode

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inercia/opencode-telegram/internal/background"
	"github.com/inercia/opencode-telegram/internal/logging"
)

// ErrNoStream is returned by Subscribe when the server accepted the
// subscription but produced no stream. It is not retried.
var ErrNoStream = errors.New("no stream returned from event subscription")

const (
	defaultReconnectBase = 1 * time.Second
	defaultReconnectMax  = 15 * time.Second

	eventQueueSize = 256
)

// StreamOpener opens the raw event stream for a directory.
// *Client implements it.
type StreamOpener interface {
	StreamEvents(ctx context.Context, directory string) (io.ReadCloser, error)
}

// EventSource keeps one logical subscription to the server event stream,
// reconnecting with exponential backoff until stopped.
type EventSource struct {
	opener StreamOpener
	logger *slog.Logger

	reconnectBase time.Duration
	reconnectMax  time.Duration
	wait          func(ctx context.Context, d time.Duration) bool

	mu        sync.Mutex
	gen       uint64
	listening bool
	directory string
	handler   func(Event)
	cancel    context.CancelFunc
}

// EventSourceOption configures an EventSource.
type EventSourceOption func(*EventSource)

// WithReconnectDelays overrides the base and maximum reconnect delays.
func WithReconnectDelays(base, max time.Duration) EventSourceOption {
	return func(s *EventSource) {
		s.reconnectBase = base
		s.reconnectMax = max
	}
}

// WithSourceLogger sets the logger.
func WithSourceLogger(l *slog.Logger) EventSourceOption {
	return func(s *EventSource) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewEventSource creates an EventSource reading from opener.
func NewEventSource(opener StreamOpener, opts ...EventSourceOption) *EventSource {
	s := &EventSource{
		opener:        opener,
		logger:        logging.Events(),
		reconnectBase: defaultReconnectBase,
		reconnectMax:  defaultReconnectMax,
		wait:          wait,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe delivers the events of directory to handler, in arrival order,
// until ctx is done, Stop is called, or a fatal error occurs.
//
// If the source already listens on directory, the handler is replaced and
// Subscribe returns nil at once. If it listens on another directory, that
// subscription is cancelled (without waiting for it) and a new one starts.
// Transient failures are retried forever; only ErrNoStream is returned.
func (s *EventSource) Subscribe(ctx context.Context, directory string, handler func(Event)) error {
	directory = strings.TrimSpace(directory)
	if directory == "" {
		s.logger.Warn("Refusing to subscribe to events without a directory")
		return nil
	}

	s.mu.Lock()
	if s.listening && s.directory == directory {
		s.handler = handler
		s.mu.Unlock()
		s.logger.Debug("Event listener already running", "directory", directory)
		return nil
	}
	if s.listening {
		s.logger.Info("Switching event listener", "from", s.directory, "to", directory)
		s.cancel()
		s.cancel = nil
		s.listening = false
		s.directory = ""
	}

	subCtx, cancel := context.WithCancel(ctx)
	s.gen++
	gen := s.gen
	s.cancel = cancel
	s.directory = directory
	s.handler = handler
	s.listening = true
	s.mu.Unlock()

	logger := s.logger.With("directory", directory, "connection_id", uuid.NewString())
	logger.Info("Event listener started")

	defer func() {
		cancel()
		s.mu.Lock()
		if s.gen == gen {
			s.listening = false
			s.directory = ""
			s.handler = nil
			s.cancel = nil
		}
		s.mu.Unlock()
	}()

	return s.run(subCtx, gen, directory, logger)
}

// Stop cancels the current subscription. It is safe to call at any time,
// any number of times.
func (s *EventSource) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	wasListening := s.listening
	s.gen++
	s.cancel = nil
	s.listening = false
	s.directory = ""
	s.handler = nil
	s.mu.Unlock()

	if wasListening {
		s.logger.Info("Event listener stopped")
	}
}

// Listening reports whether a subscription is active, and for which directory.
func (s *EventSource) Listening() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.directory, s.listening
}

func (s *EventSource) active(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listening && s.gen == gen
}

func (s *EventSource) handlerFor(gen uint64) func(Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.listening || s.gen != gen {
		return nil
	}
	return s.handler
}

func (s *EventSource) run(ctx context.Context, gen uint64, directory string, logger *slog.Logger) error {
	queue := make(chan Event, eventQueueSize)
	defer close(queue)

	background.Go("opencode-event-dispatch", func() {
		for ev := range queue {
			h := s.handlerFor(gen)
			if h == nil {
				continue
			}
			background.Inline("opencode-event", func() { h(ev) })
		}
	})

	attempt := 0
	for {
		if ctx.Err() != nil || !s.active(gen) {
			return nil
		}

		body, err := s.opener.StreamEvents(ctx, directory)
		if err == nil && body == nil {
			logger.Error("Event stream fatal error", "error", ErrNoStream)
			return ErrNoStream
		}

		if err != nil {
			if ctx.Err() != nil || !s.active(gen) {
				logger.Info("Event listener aborted")
				return nil
			}
			attempt++
			delay := backoffDelay(attempt, s.reconnectBase, s.reconnectMax)
			logger.Error("Event stream error, reconnecting",
				"error", err,
				"attempt", attempt,
				"delay", delay,
			)
			if !s.wait(ctx, delay) {
				return nil
			}
			continue
		}

		attempt = 0
		streamErr := s.consume(ctx, gen, body, queue, logger)
		body.Close()

		if ctx.Err() != nil || !s.active(gen) {
			return nil
		}
		attempt++
		delay := backoffDelay(attempt, s.reconnectBase, s.reconnectMax)
		logger.Warn("Event stream ended, reconnecting",
			"error", streamErr,
			"attempt", attempt,
			"delay", delay,
		)
		if !s.wait(ctx, delay) {
			return nil
		}
	}
}

func (s *EventSource) consume(ctx context.Context, gen uint64, body io.Reader, queue chan<- Event, logger *slog.Logger) error {
	return readSSE(body, func(payload string) bool {
		if ctx.Err() != nil || !s.active(gen) {
			return false
		}
		ev, err := DecodeEvent([]byte(payload))
		if err != nil {
			logger.Warn("Skipping undecodable event", "error", err)
			return true
		}

		// Let other goroutines (the Telegram poller) run between events.
		runtime.Gosched()

		select {
		case queue <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	})
}

// backoffDelay returns min(base * 2^(attempt-1), max) for attempt >= 1.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// wait sleeps for d and reports whether it completed before ctx was done.
func wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
