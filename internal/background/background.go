// Package background runs fire-and-forget tasks on their own goroutines.
// A panicking task is recovered and logged instead of crashing the bot.
package background

import (
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/inercia/opencode-telegram/internal/logging"
)

// Dispatcher schedules fn to run without blocking the caller.
// name identifies the task in logs.
type Dispatcher func(name string, fn func())

var tracked sync.WaitGroup

// Go runs fn on a new goroutine, recovering and logging any panic.
// It satisfies Dispatcher.
func Go(name string, fn func()) {
	tracked.Add(1)
	go func() {
		defer tracked.Done()
		defer recoverTask(logging.Get(), name)
		fn()
	}()
}

// Task is Go with success and failure continuations: onDone receives the
// error returned by fn. A nil onDone only logs failures.
func Task(name string, fn func() error, onDone func(error)) {
	Go(name, func() {
		err := fn()
		if onDone != nil {
			onDone(err)
			return
		}
		if err != nil {
			logging.Get().Error("Background task failed", "task", name, "error", err)
		}
	})
}

// Inline runs fn on the caller's goroutine. Tests use it as a Dispatcher to
// make asynchronous callbacks deterministic.
func Inline(name string, fn func()) {
	defer recoverTask(logging.Get(), name)
	fn()
}

// Wait blocks until every task started with Go has returned.
// It is used during shutdown.
func Wait() {
	tracked.Wait()
}

func recoverTask(logger *slog.Logger, name string) {
	if r := recover(); r != nil {
		logger.Error("Background task panicked",
			"task", name,
			"panic", r,
			"stack", string(debug.Stack()),
		)
	}
}
