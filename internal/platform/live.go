package platform

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/rotarr/internal/metrics"
)

// defaultLiveCheckInterval is used when no poll cadence is configured.
const defaultLiveCheckInterval = 60 * time.Second

// StreamerWatch polls upstream channels and exposes the current liveness
// verdict. The orchestrator calls Poll on its tick; StreamerWatch decides
// whether the cadence has elapsed. When every checker errors the previous
// verdict is kept, so a network blip never flaps the rotation.
type StreamerWatch struct {
	log      *slog.Logger
	interval time.Duration
	checkers []LiveChecker

	lastPoll time.Time
	live     atomic.Bool
}

// NewStreamerWatch creates a watch over the given checkers. A watch with
// no checkers always reports offline.
func NewStreamerWatch(interval time.Duration, log *slog.Logger, checkers ...LiveChecker) *StreamerWatch {
	if interval <= 0 {
		interval = defaultLiveCheckInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &StreamerWatch{log: log, interval: interval, checkers: checkers}
}

// Live returns the most recent liveness verdict. Safe to call from any
// goroutine.
func (w *StreamerWatch) Live() bool {
	return w.live.Load()
}

// Enabled reports whether any checker is configured.
func (w *StreamerWatch) Enabled() bool {
	return len(w.checkers) > 0
}

// Poll checks liveness if the cadence has elapsed. It returns the current
// verdict and whether it changed during this call. Between polls it
// returns the cached verdict with changed=false.
func (w *StreamerWatch) Poll(ctx context.Context, now time.Time) (live, changed bool) {
	if len(w.checkers) == 0 {
		return false, false
	}
	if !w.lastPoll.IsZero() && now.Sub(w.lastPoll) < w.interval {
		return w.live.Load(), false
	}
	w.lastPoll = now

	verdict, ok := w.check(ctx)
	if !ok {
		// All checkers failed; keep the previous verdict.
		return w.live.Load(), false
	}

	previous := w.live.Swap(verdict)
	if verdict {
		metrics.StreamerLive.Set(1)
	} else {
		metrics.StreamerLive.Set(0)
	}

	if previous != verdict {
		w.log.Info("streamer liveness changed", slog.Bool("live", verdict))
		return verdict, true
	}
	return verdict, false
}

// check queries every checker. Any single "live" answer wins. The second
// return is false when no checker answered at all.
func (w *StreamerWatch) check(ctx context.Context) (live, ok bool) {
	for _, c := range w.checkers {
		reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		isLive, err := c.IsLive(reqCtx)
		cancel()

		if err != nil {
			metrics.LiveChecksTotal.WithLabelValues("error").Inc()
			w.log.Warn("live check failed",
				slog.String("platform", c.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}

		metrics.LiveChecksTotal.WithLabelValues("ok").Inc()
		ok = true
		if isLive {
			return true, true
		}
	}
	return false, ok
}
