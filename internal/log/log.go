package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// DefaultKeep is how many records a Handler retains.
const DefaultKeep = 20

// Handler is a slog.Handler that keeps the most recent records so the
// daemon can report them through its status.
type Handler struct {
	slog.Handler
	ring *ring
	// attrs added through WithAttrs, rendered into retained lines.
	prefix string
}

type ring struct {
	mu    sync.Mutex
	keep  int
	lines []string
}

// NewHandler wraps handler, retaining the last keep records.
func NewHandler(handler slog.Handler, keep int) *Handler {
	return &Handler{
		Handler: handler,
		ring:    &ring{keep: keep},
	}
}

// Handle stores the record and passes it on.
func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	h.ring.add(h.format(r))
	return h.Handler.Handle(ctx, r)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var b strings.Builder
	b.WriteString(h.prefix)
	for _, a := range attrs {
		writeAttr(&b, a)
	}
	return &Handler{Handler: h.Handler.WithAttrs(attrs), ring: h.ring, prefix: b.String()}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{Handler: h.Handler.WithGroup(name), ring: h.ring, prefix: h.prefix}
}

func (h *Handler) format(r slog.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s", r.Time.Format(time.TimeOnly), r.Level, r.Message)
	b.WriteString(h.prefix)
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, a)
		return true
	})
	return b.String()
}

func writeAttr(b *strings.Builder, a slog.Attr) {
	if a.Equal(slog.Attr{}) {
		return
	}
	fmt.Fprintf(b, " %s=%v", a.Key, a.Value.Resolve())
}

func (r *ring) add(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
	if len(r.lines) > r.keep {
		r.lines = r.lines[len(r.lines)-r.keep:]
	}
}

// Lines returns the retained records, oldest first.
func (h *Handler) Lines() []string {
	h.ring.mu.Lock()
	defer h.ring.mu.Unlock()
	return append([]string(nil), h.ring.lines...)
}

var (
	level          slog.LevelVar
	defaultHandler *Handler
)

// Init installs a text handler writing to w as the default logger and
// returns it. Debug records are emitted only after SetDebug(true).
func Init(w io.Writer, debug bool) *Handler {
	SetDebug(debug)
	defaultHandler = NewHandler(slog.NewTextHandler(w, &slog.HandlerOptions{Level: &level}), DefaultKeep)
	slog.SetDefault(slog.New(defaultHandler))
	return defaultHandler
}

// SetDebug switches the log level between debug and info.
func SetDebug(debug bool) {
	if debug {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}
}

// Debugging reports whether debug records are enabled.
func Debugging() bool {
	return level.Level() <= slog.LevelDebug
}

// Lines returns the records retained by the default handler.
func Lines() []string {
	if defaultHandler == nil {
		return nil
	}
	return defaultHandler.Lines()
}
