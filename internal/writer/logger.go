package writer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
)

// multiHandler fans records out to every handler enabled for their level
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, r.Level) {
			continue
		}
		if err := handler.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

// NewConsoleLogger logs text to w, or stdout when w is nil
func NewConsoleLogger(w io.Writer, level slog.Leveler) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// SetupLogger creates a logger that writes text to console and JSON to the
// session log. The caller closes the returned file.
func SetupLogger(sessionMgr *SessionManager, level slog.Leveler, console io.Writer) (*slog.Logger, *os.File, error) {
	logFile, err := os.OpenFile(sessionMgr.GetLogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, err
	}
	if console == nil {
		console = os.Stdout
	}

	logger := slog.New(&multiHandler{
		handlers: []slog.Handler{
			slog.NewTextHandler(console, &slog.HandlerOptions{Level: level}),
			slog.NewJSONHandler(logFile, &slog.HandlerOptions{Level: level}),
		},
	})
	sessionMgr.SetLogger(logger)
	return logger, logFile, nil
}
