// Package platform pushes stream titles and categories to broadcast
// platforms and polls upstream channels for liveness. Adapters are
// deliberately thin HTTP clients; policy (when to push, how to react to
// failure) lives with the caller.
package platform

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmylchreest/rotarr/internal/metrics"
)

// requestTimeout bounds every adapter API request.
const requestTimeout = 10 * time.Second

// Adapter updates the title and category of one broadcast platform.
// Implementations own their auth state and must treat any 2xx response,
// body or not, as success.
type Adapter interface {
	// Name returns the platform identifier, e.g. "twitch".
	Name() string

	// UpdateTitle sets the stream title only.
	UpdateTitle(ctx context.Context, title string) error

	// UpdateCategory sets the stream category only. Adapters may ignore
	// categories they cannot resolve.
	UpdateCategory(ctx context.Context, category string) error

	// UpdateStreamInfo sets title and category in a single request where
	// the platform permits. An unresolvable category must not prevent the
	// title from being applied.
	UpdateStreamInfo(ctx context.Context, title, category string) error
}

// LiveChecker reports whether the watched upstream channel is live.
// Adapters implement it when a target streamer is configured.
type LiveChecker interface {
	Name() string
	IsLive(ctx context.Context) (bool, error)
}

// Manager fans stream-info updates out to all enabled adapters. Platform
// errors never abort a rotation; they are logged and reflected in the
// per-platform result map.
type Manager struct {
	log      *slog.Logger
	adapters []Adapter
}

// NewManager creates a Manager over the given adapters.
func NewManager(log *slog.Logger, adapters ...Adapter) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{log: log, adapters: adapters}
}

// Adapters returns the managed adapters.
func (m *Manager) Adapters() []Adapter {
	return m.adapters
}

// Names returns the platform names in adapter order.
func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.adapters))
	for _, a := range m.adapters {
		names = append(names, a.Name())
	}
	return names
}

// CategoryResolver maps an adapter name to the category it should publish.
// Playlists can override the category per platform, so each adapter may
// receive a different value for the same push.
type CategoryResolver func(adapter string) string

// UpdateStreamInfo pushes title and category to every adapter and returns
// per-platform success. An empty adapter set returns an empty map.
func (m *Manager) UpdateStreamInfo(ctx context.Context, title, category string) map[string]bool {
	return m.UpdateStreamInfoFor(ctx, title, func(string) string { return category })
}

// UpdateStreamInfoFor pushes the title with a per-adapter category and
// returns per-platform success.
func (m *Manager) UpdateStreamInfoFor(ctx context.Context, title string, categoryFor CategoryResolver) map[string]bool {
	results := make(map[string]bool, len(m.adapters))

	for _, a := range m.adapters {
		category := categoryFor(a.Name())
		reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		err := a.UpdateStreamInfo(reqCtx, title, category)
		cancel()

		if err != nil {
			results[a.Name()] = false
			metrics.PlatformPushesTotal.WithLabelValues(a.Name(), "error").Inc()
			m.log.Warn("platform update failed",
				slog.String("platform", a.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}

		results[a.Name()] = true
		metrics.PlatformPushesTotal.WithLabelValues(a.Name(), "ok").Inc()
		m.log.Info("platform updated",
			slog.String("platform", a.Name()),
			slog.String("title", title),
			slog.String("category", category),
		)
	}

	return results
}

// LiveCheckers returns the managed adapters that can poll liveness.
func (m *Manager) LiveCheckers() []LiveChecker {
	var checkers []LiveChecker
	for _, a := range m.adapters {
		if c, ok := a.(LiveChecker); ok {
			checkers = append(checkers, c)
		}
	}
	return checkers
}
