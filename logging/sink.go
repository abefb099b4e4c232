package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/invoice-relay/store"
)

// Appender persists one log line. *store.Logs satisfies it.
type Appender interface {
	Append(ctx context.Context, level store.Level, message string, at time.Time) (store.LogEntry, error)
}

// SinkHandler forwards records to next and appends every record at INFO or
// above to the log feed. WARN and ERROR are stored as ERROR.
type SinkHandler struct {
	next    slog.Handler
	sink    Appender
	onEntry func(store.LogEntry)
	prefix  string
	attrs   []slog.Attr
}

func NewSinkHandler(next slog.Handler, sink Appender, onEntry func(store.LogEntry)) *SinkHandler {
	return &SinkHandler{next: next, sink: sink, onEntry: onEntry}
}

func (h *SinkHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= slog.LevelInfo || h.next.Enabled(ctx, level)
}

func (h *SinkHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.next.Enabled(ctx, r.Level) {
		if err := h.next.Handle(ctx, r); err != nil {
			return err
		}
	}
	if r.Level < slog.LevelInfo {
		return nil
	}

	level := store.LevelInfo
	if r.Level >= slog.LevelWarn {
		level = store.LevelError
	}
	at := r.Time
	if at.IsZero() {
		at = time.Now()
	}

	// the feed outlives the request that logged the line
	entry, err := h.sink.Append(context.WithoutCancel(ctx), level, h.format(r), at)
	if err != nil {
		fail := slog.NewRecord(time.Now(), slog.LevelError, "failed to persist log entry", 0)
		fail.AddAttrs(slog.String("error", err.Error()))
		_ = h.next.Handle(ctx, fail)
		return nil
	}
	if h.onEntry != nil {
		h.onEntry(entry)
	}
	return nil
}

func (h *SinkHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.next = h.next.WithAttrs(attrs)
	c.attrs = append([]slog.Attr{}, h.attrs...)
	for _, a := range attrs {
		c.attrs = append(c.attrs, slog.Attr{Key: h.prefix + a.Key, Value: a.Value})
	}
	return &c
}

func (h *SinkHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.next = h.next.WithGroup(name)
	c.prefix = h.prefix + name + "."
	return &c
}

// format renders msg followed by key=value pairs.
func (h *SinkHandler) format(r slog.Record) string {
	var b strings.Builder
	b.WriteString(r.Message)
	write := func(key string, v slog.Value) {
		if key == "" {
			return
		}
		fmt.Fprintf(&b, " %s=%v", key, v.Resolve().Any())
	}
	for _, a := range h.attrs {
		write(a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		if a.Value.Kind() == slog.KindGroup {
			for _, ga := range a.Value.Group() {
				write(h.prefix+a.Key+"."+ga.Key, ga.Value)
			}
			return true
		}
		write(h.prefix+a.Key, a.Value)
		return true
	})
	return b.String()
}
