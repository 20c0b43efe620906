package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
)

// terminalHandler renders records as a single aligned human-readable line,
// the way an operator watching a validator's stdout expects to read it:
// "INFO  [consensus] block produced height=12 txs=3".
type terminalHandler struct {
	mu   *sync.Mutex
	w    io.Writer
	lvl  slog.Level
	attr []slog.Attr
}

// NewTerminalHandlerWithLevel builds a handler that writes to w, filtering
// out records below lvl. useColor is accepted for interface parity with
// richer terminal loggers but colorization is intentionally left out here.
func NewTerminalHandlerWithLevel(w io.Writer, lvl slog.Level, useColor bool) slog.Handler {
	return &terminalHandler{mu: new(sync.Mutex), w: w, lvl: lvl}
}

func (h *terminalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.lvl
}

func (h *terminalHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	attrs := append([]slog.Attr{}, h.attr...)
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)
		return true
	})

	module := ""
	kv := attrs[:0]
	for _, a := range attrs {
		if a.Key == "module" && module == "" {
			module = a.Value.String()
			continue
		}
		kv = append(kv, a)
	}
	sort.SliceStable(kv, func(i, j int) bool { return kv[i].Key < kv[j].Key })

	fmt.Fprintf(h.w, "%s [%s] %s", LevelAlignedString(r.Level), module, r.Message)
	for _, a := range kv {
		fmt.Fprintf(h.w, " %s=%v", a.Key, a.Value.Any())
	}
	fmt.Fprintln(h.w)
	return nil
}

func (h *terminalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &terminalHandler{mu: h.mu, w: h.w, lvl: h.lvl, attr: append(append([]slog.Attr{}, h.attr...), attrs...)}
}

func (h *terminalHandler) WithGroup(name string) slog.Handler {
	return h
}

// NewJSONHandler builds a machine-readable handler for log aggregation.
func NewJSONHandler(w io.Writer, lvl slog.Level) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
}
