package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	// DefaultRingCapacity is the number of log entries retained in memory
	// when no capacity is configured.
	DefaultRingCapacity = 500
	// subscriberBufferSize is the per-subscriber event buffer size.
	subscriberBufferSize = 100
)

// LogEntry is a single captured log record, shaped for the dashboard feed.
type LogEntry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Component string         `json:"component,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// LogSubscriber receives log entries as they are produced.
type LogSubscriber struct {
	ID     string
	Events chan *LogEntry
	Done   chan struct{}
}

// LogRing captures recent log records in a bounded in-memory buffer and
// fans them out to subscribers. The dashboard forwards entries to connected
// clients and serves the backlog on connect.
type LogRing struct {
	mu          sync.RWMutex
	entries     []LogEntry
	capacity    int
	subscribers map[string]*LogSubscriber
	total       int64
	byLevel     map[string]int64
}

// NewLogRing creates a log ring with the given capacity. Zero or negative
// capacity uses DefaultRingCapacity.
func NewLogRing(capacity int) *LogRing {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	return &LogRing{
		entries:     make([]LogEntry, 0, capacity),
		capacity:    capacity,
		subscribers: make(map[string]*LogSubscriber),
		byLevel:     make(map[string]int64),
	}
}

// WrapHandler wraps an existing slog.Handler so records are captured by the
// ring in addition to being written to their destination.
func (r *LogRing) WrapHandler(handler slog.Handler) slog.Handler {
	return &ringHandler{ring: r, wrapped: handler}
}

// Add appends an entry and broadcasts it to subscribers.
func (r *LogRing) Add(entry LogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry.ID == "" {
		entry.ID = ulid.Make().String()
	}

	r.total++
	r.byLevel[entry.Level]++

	if len(r.entries) >= r.capacity {
		r.entries = r.entries[1:]
	}
	r.entries = append(r.entries, entry)

	// Broadcast to subscribers (non-blocking)
	for _, sub := range r.subscribers {
		select {
		case sub.Events <- &entry:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// Subscribe registers a subscriber for live log entries. The subscription
// ends when ctx is cancelled or the subscriber's Done channel is closed.
func (r *LogRing) Subscribe(ctx context.Context) *LogSubscriber {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub := &LogSubscriber{
		ID:     ulid.Make().String(),
		Events: make(chan *LogEntry, subscriberBufferSize),
		Done:   make(chan struct{}),
	}
	r.subscribers[sub.ID] = sub

	go func() {
		select {
		case <-ctx.Done():
		case <-sub.Done:
		}
		r.Unsubscribe(sub.ID)
	}()

	return sub
}

// Unsubscribe removes a subscriber and closes its event channel.
func (r *LogRing) Unsubscribe(subscriberID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sub, ok := r.subscribers[subscriberID]; ok {
		close(sub.Events)
		delete(r.subscribers, subscriberID)
	}
}

// Recent returns the most recent entries up to limit. A non-positive limit
// returns everything retained.
func (r *LogRing) Recent(limit int) []LogEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > len(r.entries) {
		limit = len(r.entries)
	}
	start := len(r.entries) - limit

	result := make([]LogEntry, limit)
	copy(result, r.entries[start:])
	return result
}

// CountByLevel returns a copy of the per-level counters.
func (r *LogRing) CountByLevel() map[string]int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int64, len(r.byLevel))
	for level, n := range r.byLevel {
		counts[level] = n
	}
	return counts
}

// Total returns the number of entries captured since startup.
func (r *LogRing) Total() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}

// SubscriberCount returns the number of active subscribers.
func (r *LogRing) SubscriberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers)
}

// ringHandler is a slog.Handler that captures records into the ring and
// passes them through to the wrapped handler.
type ringHandler struct {
	ring    *LogRing
	wrapped slog.Handler
	attrs   []slog.Attr
}

// Enabled reports whether the handler handles records at the given level.
func (h *ringHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.wrapped.Enabled(ctx, level)
}

// Handle handles the Record.
func (h *ringHandler) Handle(ctx context.Context, rec slog.Record) error {
	entry := LogEntry{
		ID:        ulid.Make().String(),
		Timestamp: rec.Time,
		Level:     levelToString(rec.Level),
		Message:   rec.Message,
		Fields:    make(map[string]any),
	}

	for _, attr := range h.attrs {
		addAttr(&entry, attr)
	}
	rec.Attrs(func(a slog.Attr) bool {
		addAttr(&entry, a)
		return true
	})

	h.ring.Add(entry)

	return h.wrapped.Handle(ctx, rec)
}

// WithAttrs returns a new Handler with the given attributes.
func (h *ringHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	copy(newAttrs[len(h.attrs):], attrs)
	return &ringHandler{ring: h.ring, wrapped: h.wrapped.WithAttrs(attrs), attrs: newAttrs}
}

// WithGroup returns a new Handler with the given group appended.
func (h *ringHandler) WithGroup(name string) slog.Handler {
	return &ringHandler{ring: h.ring, wrapped: h.wrapped.WithGroup(name), attrs: h.attrs}
}

// addAttr maps an attribute onto the log entry.
func addAttr(entry *LogEntry, attr slog.Attr) {
	switch attr.Key {
	case "component", "app":
		if s, ok := attr.Value.Any().(string); ok {
			entry.Component = s
			return
		}
	}
	entry.Fields[attr.Key] = attr.Value.Any()
}

// levelToString converts slog.Level to a string level name.
func levelToString(level slog.Level) string {
	switch {
	case level < slog.LevelDebug:
		return "trace"
	case level == slog.LevelDebug:
		return "debug"
	case level == slog.LevelInfo:
		return "info"
	case level == slog.LevelWarn:
		return "warn"
	case level >= slog.LevelError:
		return "error"
	default:
		return "info"
	}
}
