package logger

import (
	"context"
	"io"
	"log/slog"
	"sync"
)

// ANSI sequences for the level token. Errors stay the loudest: they are
// what an operator scans for when a tool misbehaves.
const (
	ansiReset   = "\033[0m"
	ansiCyan    = "\033[36m"
	ansiGreen   = "\033[32m"
	ansiYellow  = "\033[33m"
	ansiBoldRed = "\033[1;31m"
)

// ColorTextHandler prefixes every line with a colorized level token and
// renders the rest in slog.TextHandler's key=value form. The token is
// written to the writer directly: TextHandler would escape the ANSI
// control bytes if they were smuggled through the record.
type ColorTextHandler struct {
	mu    *sync.Mutex
	w     io.Writer
	inner slog.Handler
}

// NewColorTextHandler builds the handler. When showTime is false the
// time attribute is dropped, which reads better on an interactive
// terminal.
func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions, showTime bool) *ColorTextHandler {
	return &ColorTextHandler{
		mu:    &sync.Mutex{},
		w:     w,
		inner: slog.NewTextHandler(w, textOptions(opts, showTime)),
	}
}

// textOptions drops the built-in level attribute (the colored prefix
// replaces it) and, when showTime is false, the time attribute.
func textOptions(opts *slog.HandlerOptions, showTime bool) *slog.HandlerOptions {
	var o slog.HandlerOptions
	if opts != nil {
		o = *opts
	}
	user := o.ReplaceAttr
	o.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
		if len(groups) == 0 {
			if a.Key == slog.LevelKey || (a.Key == slog.TimeKey && !showTime) {
				return slog.Attr{}
			}
		}
		if user != nil {
			return user(groups, a)
		}
		return a
	}
	return &o
}

// levelColor picks the color for a level. Records between the standard
// levels (e.g. INFO+2) take the nearest threshold below them.
func levelColor(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return ansiBoldRed
	case l >= slog.LevelWarn:
		return ansiYellow
	case l >= slog.LevelInfo:
		return ansiGreen
	default:
		return ansiCyan
	}
}

func (h *ColorTextHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.inner.Enabled(ctx, l)
}

// Handle writes the token and the record under one lock so concurrent
// loggers cannot interleave the two writes.
func (h *ColorTextHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := io.WriteString(h.w, levelColor(r.Level)+r.Level.String()+ansiReset+" "); err != nil {
		return err
	}
	return h.inner.Handle(ctx, r)
}

func (h *ColorTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ColorTextHandler{mu: h.mu, w: h.w, inner: h.inner.WithAttrs(attrs)}
}

func (h *ColorTextHandler) WithGroup(name string) slog.Handler {
	return &ColorTextHandler{mu: h.mu, w: h.w, inner: h.inner.WithGroup(name)}
}
