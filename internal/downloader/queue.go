package downloader

import (
	"sync"

	"github.com/jmylchreest/rotarr/internal/metrics"
)

// defaultQueueSize bounds the registration queue when no size is configured.
const defaultQueueSize = 512

// VideoRegistration is one downloaded file awaiting store insertion. The
// worker produces these; only the orchestrator, which owns the store,
// consumes them.
type VideoRegistration struct {
	PlaylistName    string
	Filename        string
	Title           string
	DurationSeconds float64
	FileSizeMB      float64
}

// RegistrationQueue is the bounded hand-off between the download worker and
// the store owner. Push never blocks; a full queue drops the record and the
// file is picked up by the next catalog sync instead.
type RegistrationQueue struct {
	ch chan VideoRegistration
}

// NewRegistrationQueue creates a queue with the given capacity.
func NewRegistrationQueue(size int) *RegistrationQueue {
	if size <= 0 {
		size = defaultQueueSize
	}
	return &RegistrationQueue{ch: make(chan VideoRegistration, size)}
}

// Push enqueues one registration without blocking. It reports whether the
// record was accepted.
func (q *RegistrationQueue) Push(reg VideoRegistration) bool {
	select {
	case q.ch <- reg:
		metrics.RegistrationQueueDepth.Set(float64(len(q.ch)))
		return true
	default:
		return false
	}
}

// Drain removes up to max queued registrations without blocking. max <= 0
// drains everything currently queued.
func (q *RegistrationQueue) Drain(max int) []VideoRegistration {
	if max <= 0 {
		max = cap(q.ch)
	}

	var out []VideoRegistration
	for len(out) < max {
		select {
		case reg := <-q.ch:
			out = append(out, reg)
		default:
			metrics.RegistrationQueueDepth.Set(float64(len(q.ch)))
			return out
		}
	}
	metrics.RegistrationQueueDepth.Set(float64(len(q.ch)))
	return out
}

// Len returns the number of queued registrations.
func (q *RegistrationQueue) Len() int {
	return len(q.ch)
}

// NameHandoff is a mutex-guarded cell of playlist names passed from the
// worker to the store owner. The worker adds names; the orchestrator takes
// the whole batch on its next tick.
type NameHandoff struct {
	mu    sync.Mutex
	names []string
}

// Add appends names to the pending batch, skipping duplicates.
func (h *NameHandoff) Add(names ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, name := range names {
		if !containsName(h.names, name) {
			h.names = append(h.names, name)
		}
	}
}

// Take returns the pending batch and clears the cell.
func (h *NameHandoff) Take() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := h.names
	h.names = nil
	return names
}

// Len returns the number of pending names.
func (h *NameHandoff) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.names)
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
