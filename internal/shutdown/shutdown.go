// Package shutdown coordinates graceful termination of the bot.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/inercia/opencode-telegram/internal/logging"
)

// Func performs cleanup during shutdown. It receives a reason string
// describing why shutdown was triggered.
type Func func(reason string)

// Manager ensures cleanup functions run exactly once, whether shutdown is
// triggered by a signal, a fatal error or a command. Its Context is
// cancelled as soon as shutdown begins, so long-running loops can stop
// before cleanups run.
//
// It is safe for concurrent use.
type Manager struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	once     sync.Once
	done     chan struct{}
	reason   string
	cleanups []Func
	stop     func()
}

// New creates a manager whose Context derives from parent.
// It does not handle signals until Start is called.
func New(parent context.Context) *Manager {
	ctx, cancel := context.WithCancel(parent)
	return &Manager{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Context is cancelled when shutdown begins.
func (m *Manager) Context() context.Context {
	return m.ctx
}

// AddCleanup adds a cleanup function. Cleanups run in the order they were
// added.
func (m *Manager) AddCleanup(fn Func) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanups = append(m.cleanups, fn)
}

// Start begins listening for SIGINT and SIGTERM. A received signal calls
// Shutdown.
func (m *Manager) Start() {
	logger := logging.Shutdown()
	logger.Debug("Shutdown manager started, listening for signals")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	m.mu.Lock()
	m.stop = func() { signal.Stop(sigChan) }
	m.mu.Unlock()

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("Signal received, initiating shutdown", "signal", sig.String())
			m.Shutdown("signal:" + sig.String())
		case <-m.done:
		}
	}()
}

// Shutdown cancels the Context and runs the cleanups. Only the first call
// has any effect; every call blocks until cleanup is complete.
func (m *Manager) Shutdown(reason string) {
	m.once.Do(func() {
		m.doShutdown(reason)
	})
	<-m.done
}

func (m *Manager) doShutdown(reason string) {
	logger := logging.Shutdown()
	logger.Info("Starting shutdown sequence", "reason", reason)

	m.mu.Lock()
	m.reason = reason
	cleanups := append([]Func(nil), m.cleanups...)
	stop := m.stop
	m.mu.Unlock()

	if stop != nil {
		stop()
	}
	m.cancel()

	for i, fn := range cleanups {
		logger.Debug("Running cleanup function", "index", i, "total", len(cleanups))
		fn(reason)
	}

	logger.Info("Shutdown sequence complete", "reason", reason)
	close(m.done)
}

// Done returns a channel that is closed when shutdown is complete.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Reason returns the reason for shutdown, or "" if not yet shut down.
func (m *Manager) Reason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reason
}
