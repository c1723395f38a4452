package mesh3d

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// RingHandler keeps the last records as formatted lines for an on-screen
// log, and forwards every record to an optional next handler.
//
// RingHandler is safe for concurrent use.
type RingHandler struct {
	ring   *ring
	next   slog.Handler
	level  slog.Leveler
	prefix string
	group  string
}

type ring struct {
	mu    sync.Mutex
	lines []string
	start int
	n     int
}

// NewRingHandler keeps size lines of records at or above level. next may
// be nil.
func NewRingHandler(next slog.Handler, size int, level slog.Leveler) *RingHandler {
	if size < 1 {
		size = 1
	}
	if level == nil {
		level = slog.LevelInfo
	}
	return &RingHandler{ring: &ring{lines: make([]string, size)}, next: next, level: level}
}

func (h *RingHandler) Enabled(ctx context.Context, l slog.Level) bool {
	if l >= h.level.Level() {
		return true
	}
	return h.next != nil && h.next.Enabled(ctx, l)
}

func (h *RingHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= h.level.Level() {
		var b strings.Builder
		b.WriteString(r.Time.Format("15:04:05"))
		b.WriteByte(' ')
		b.WriteString(r.Level.String())
		b.WriteByte(' ')
		b.WriteString(r.Message)
		b.WriteString(h.prefix)
		r.Attrs(func(a slog.Attr) bool {
			writeAttr(&b, h.group, a)
			return true
		})
		h.ring.push(b.String())
	}
	if h.next != nil && h.next.Enabled(ctx, r.Level) {
		return h.next.Handle(ctx, r)
	}
	return nil
}

func (h *RingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := *h
	var b strings.Builder
	b.WriteString(h.prefix)
	for _, a := range attrs {
		writeAttr(&b, h.group, a)
	}
	out.prefix = b.String()
	if h.next != nil {
		out.next = h.next.WithAttrs(attrs)
	}
	return &out
}

func (h *RingHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	out := *h
	out.group = h.group + name + "."
	if h.next != nil {
		out.next = h.next.WithGroup(name)
	}
	return &out
}

// Lines returns the retained lines, oldest first.
func (h *RingHandler) Lines() []string {
	h.ring.mu.Lock()
	defer h.ring.mu.Unlock()
	out := make([]string, h.ring.n)
	for i := range out {
		out[i] = h.ring.lines[(h.ring.start+i)%len(h.ring.lines)]
	}
	return out
}

func (r *ring) push(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.n < len(r.lines) {
		r.lines[(r.start+r.n)%len(r.lines)] = line
		r.n++
		return
	}
	r.lines[r.start] = line
	r.start = (r.start + 1) % len(r.lines)
}

func writeAttr(b *strings.Builder, group string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		g := group
		if a.Key != "" {
			g += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			writeAttr(b, g, ga)
		}
		return
	}
	b.WriteByte(' ')
	b.WriteString(group)
	b.WriteString(a.Key)
	b.WriteByte('=')
	b.WriteString(a.Value.String())
}
