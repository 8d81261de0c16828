package buslog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sat8bit/nexus/bus"
	"github.com/sat8bit/nexus/message"
)

// SessionKey は slog の属性名で、この値を持つレコードだけをそのセッションのバスに流します。
const SessionKey = "session"

// BusHandler is a slog.Handler that mirrors log records onto a bus.Bus as
// KindLog diagnostics and then passes them to the wrapped handler.
type BusHandler struct {
	bus     bus.Bus
	next    slog.Handler
	level   slog.Leveler
	attrs   []slog.Attr
	session string
}

// NewBusHandler creates a new BusHandler. next may be nil.
func NewBusHandler(b bus.Bus, next slog.Handler, level slog.Leveler) *BusHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &BusHandler{bus: b, next: next, level: level}
}

// Enabled reports whether the handler handles records at the given level.
func (h *BusHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if level >= h.level.Level() {
		return true
	}
	return h.next != nil && h.next.Enabled(ctx, level)
}

// Handle broadcasts the record to the bus and then passes it to the wrapped handler.
func (h *BusHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= h.level.Level() && h.bus != nil {
		var b strings.Builder
		fmt.Fprintf(&b, "[%s] %s", r.Level, r.Message)
		session := h.session
		write := func(a slog.Attr) bool {
			if a.Key == SessionKey {
				session = a.Value.String()
				return true
			}
			fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
			return true
		}
		for _, a := range h.attrs {
			write(a)
		}
		r.Attrs(write)

		at := r.Time
		if at.IsZero() {
			at = time.Now()
		}
		// バスが閉じていてもログ出力自体は止めない
		_ = h.bus.Broadcast(&message.Message{
			Kind:      message.KindLog,
			SessionID: session,
			Text:      b.String(),
			At:        at,
		})
	}
	if h.next != nil && h.next.Enabled(ctx, r.Level) {
		return h.next.Handle(ctx, r)
	}
	return nil
}

// WithAttrs returns a new BusHandler whose attributes consist of
// the handler's attributes followed by attrs.
func (h *BusHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	nh.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	for _, a := range attrs {
		if a.Key == SessionKey {
			nh.session = a.Value.String()
		}
	}
	if h.next != nil {
		nh.next = h.next.WithAttrs(attrs)
	}
	return &nh
}

// WithGroup returns a new BusHandler with the given group name.
func (h *BusHandler) WithGroup(name string) slog.Handler {
	nh := *h
	if h.next != nil {
		nh.next = h.next.WithGroup(name)
	}
	return &nh
}

var _ slog.Handler = (*BusHandler)(nil)
