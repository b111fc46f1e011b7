// Package logger defines the small leveled logging interface used across the
// SDK, with a zerolog-backed implementation and a no-op fallback.
package logger

import (
	"io"

	"github.com/rs/zerolog"
)

// Logger accepts a message and alternating key-value args, in the log/slog
// argument convention.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// ZerologHandler adapts a zerolog.Logger to the Logger interface.
type ZerologHandler struct {
	logger zerolog.Logger
}

// New returns a ZerologHandler writing JSON lines to w.
func New(w io.Writer) *ZerologHandler {
	return &ZerologHandler{logger: zerolog.New(w).With().Timestamp().Logger()}
}

// FromZerolog wraps an existing zerolog.Logger.
func FromZerolog(l zerolog.Logger) *ZerologHandler {
	return &ZerologHandler{logger: l}
}

func (h *ZerologHandler) Debug(msg string, args ...any) { h.emit(h.logger.Debug(), msg, args) }
func (h *ZerologHandler) Info(msg string, args ...any)  { h.emit(h.logger.Info(), msg, args) }
func (h *ZerologHandler) Warn(msg string, args ...any)  { h.emit(h.logger.Warn(), msg, args) }
func (h *ZerologHandler) Error(msg string, args ...any) { h.emit(h.logger.Error(), msg, args) }

func (h *ZerologHandler) emit(ev *zerolog.Event, msg string, args []any) {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		ev = ev.Interface(key, args[i+1])
	}
	ev.Msg(msg)
}

// Nop discards everything. Components default to it when no logger is
// injected.
type Nop struct{}

func (Nop) Debug(string, ...any) {}
func (Nop) Info(string, ...any)  {}
func (Nop) Warn(string, ...any)  {}
func (Nop) Error(string, ...any) {}
