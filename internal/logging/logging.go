// Package logging provides centralized logging configuration for the bot.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// globalLogger is the application-wide logger
	globalLogger *slog.Logger
	globalMu     sync.RWMutex

	// fileWriter holds the rotating log file (if any) for cleanup
	fileWriter   io.WriteCloser
	fileWriterMu sync.Mutex

	// allowedComponents stores the set of components to log (nil means all)
	allowedComponents map[string]bool
	componentsMu      sync.RWMutex
)

// Default rotation settings for file logging.
const (
	DefaultMaxSizeMB  = 10
	DefaultMaxBackups = 3
)

// FileLogConfig holds configuration for file-based logging with rotation.
type FileLogConfig struct {
	// Path is the file path for the log file.
	// Empty string disables file logging.
	Path string

	// MaxSizeMB is the maximum size of the log file in megabytes before rotation.
	MaxSizeMB int

	// MaxBackups is the maximum number of old log files to retain.
	MaxBackups int

	// Compress determines if rotated log files should be gzipped.
	Compress bool
}

// Config holds logging configuration.
type Config struct {
	// Level is the minimum log level for console output (debug, info, warn, error)
	Level string
	// FileLevel is the minimum log level for file output.
	// If empty, defaults to Level.
	FileLevel string
	// File enables file logging with rotation when its Path is set.
	File *FileLogConfig
	// JSON enables JSON output format
	JSON bool
	// Components is a list of component names to include in logs (empty means all)
	Components []string
}

// Initialize sets up the global logger with the given configuration.
// When a log file is configured, records go to both stderr and the file.
// If FileLevel differs from Level, each destination gets its own handler.
func Initialize(cfg Config) error {
	consoleLevel := ParseLevel(cfg.Level)
	fileLevel := consoleLevel
	if cfg.FileLevel != "" {
		fileLevel = ParseLevel(cfg.FileLevel)
	}

	SetComponents(cfg.Components)

	fileWriterMu.Lock()
	defer fileWriterMu.Unlock()

	var fw io.Writer
	if cfg.File != nil && cfg.File.Path != "" {
		maxSize := cfg.File.MaxSizeMB
		if maxSize <= 0 {
			maxSize = DefaultMaxSizeMB
		}
		maxBackups := cfg.File.MaxBackups
		if maxBackups <= 0 {
			maxBackups = DefaultMaxBackups
		}
		lj := &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    maxSize, // megabytes
			MaxBackups: maxBackups,
			Compress:   cfg.File.Compress,
		}
		fileWriter = lj
		fw = lj
	}

	newHandler := func(w io.Writer, level slog.Level) slog.Handler {
		opts := &slog.HandlerOptions{Level: level}
		if cfg.JSON {
			return slog.NewJSONHandler(w, opts)
		}
		return slog.NewTextHandler(w, opts)
	}

	var handler slog.Handler
	switch {
	case fw != nil && fileLevel != consoleLevel:
		handler = &fanoutHandler{handlers: []slog.Handler{
			newHandler(os.Stderr, consoleLevel),
			newHandler(fw, fileLevel),
		}}
	case fw != nil:
		handler = newHandler(io.MultiWriter(os.Stderr, fw), consoleLevel)
	default:
		handler = newHandler(os.Stderr, consoleLevel)
	}

	logger := slog.New(handler)

	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()

	slog.SetDefault(logger)
	return nil
}

// SetComponents restricts logging to the named components.
// An empty list enables every component.
func SetComponents(components []string) {
	componentsMu.Lock()
	defer componentsMu.Unlock()

	allowedComponents = nil
	for _, c := range components {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if allowedComponents == nil {
			allowedComponents = make(map[string]bool)
		}
		allowedComponents[c] = true
	}
}

// fanoutHandler sends records to several handlers.
// It is used when console and file have different log levels.
type fanoutHandler struct {
	handlers []slog.Handler
}

func (h *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, r.Level) {
			continue
		}
		if err := handler.Handle(ctx, r.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &fanoutHandler{handlers: handlers}
}

func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &fanoutHandler{handlers: handlers}
}

// Get returns the global logger.
// If Initialize hasn't been called, returns slog.Default().
func Get() *slog.Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()

	if globalLogger == nil {
		return slog.Default()
	}
	return globalLogger
}

// Close flushes and closes the log file, if any.
func Close() error {
	fileWriterMu.Lock()
	defer fileWriterMu.Unlock()

	if fileWriter != nil {
		err := fileWriter.Close()
		fileWriter = nil
		return err
	}
	return nil
}

// ParseLevel converts a string level to slog.Level. Unknown values map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func isComponentAllowed(component string) bool {
	componentsMu.RLock()
	defer componentsMu.RUnlock()

	if allowedComponents == nil {
		return true
	}
	return allowedComponents[component]
}

// componentFilterHandler drops records for components that are not enabled.
type componentFilterHandler struct {
	inner     slog.Handler
	component string
}

func (h *componentFilterHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return isComponentAllowed(h.component) && h.inner.Enabled(ctx, level)
}

func (h *componentFilterHandler) Handle(ctx context.Context, r slog.Record) error {
	if !isComponentAllowed(h.component) {
		return nil
	}
	return h.inner.Handle(ctx, r)
}

func (h *componentFilterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &componentFilterHandler{inner: h.inner.WithAttrs(attrs), component: h.component}
}

func (h *componentFilterHandler) WithGroup(name string) slog.Handler {
	return &componentFilterHandler{inner: h.inner.WithGroup(name), component: h.component}
}

// WithComponent returns a logger with a component attribute.
// If component filtering is enabled and this component is not in the allowed list,
// the returned logger discards everything.
func WithComponent(component string) *slog.Logger {
	base := Get()
	return slog.New(&componentFilterHandler{
		inner:     base.Handler().WithAttrs([]slog.Attr{slog.String("component", component)}),
		component: component,
	})
}

// Events returns a logger for the agent event stream.
func Events() *slog.Logger { return WithComponent("events") }

// Aggregator returns a logger for event interpretation.
func Aggregator() *slog.Logger { return WithComponent("aggregator") }

// Bot returns a logger for Telegram-facing handlers.
func Bot() *slog.Logger { return WithComponent("bot") }

// Pinned returns a logger for the pinned status message.
func Pinned() *slog.Logger { return WithComponent("pinned") }

// Keyboard returns a logger for reply keyboard updates.
func Keyboard() *slog.Logger { return WithComponent("keyboard") }

// Question returns a logger for interactive polls.
func Question() *slog.Logger { return WithComponent("question") }

// Permission returns a logger for permission prompts.
func Permission() *slog.Logger { return WithComponent("permission") }

// Settings returns a logger for configuration loading and reloads.
func Settings() *slog.Logger { return WithComponent("config") }

// Shutdown returns a logger for shutdown events.
func Shutdown() *slog.Logger { return WithComponent("shutdown") }

// WithSession returns a child logger that includes session_id.
func WithSession(base *slog.Logger, sessionID string) *slog.Logger {
	if base == nil {
		return nil
	}
	return base.With("session_id", sessionID)
}

// WithChat returns a child logger that includes chat_id.
func WithChat(base *slog.Logger, chatID int64) *slog.Logger {
	if base == nil {
		return nil
	}
	return base.With("chat_id", chatID)
}
