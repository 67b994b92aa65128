package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmylchreest/rotarr/internal/content"
	"github.com/jmylchreest/rotarr/internal/dashboard"
	"github.com/jmylchreest/rotarr/internal/metrics"
	"github.com/jmylchreest/rotarr/internal/models"
	"github.com/jmylchreest/rotarr/internal/monitor"
	"github.com/jmylchreest/rotarr/internal/obs"
)

// tick runs one pass of the control loop. The order matters: player events
// are drained first so every later decision sees the freshest playback
// pointer, the reconnect gate sits before anything that talks to the
// compositor, and the snapshot push comes last so it reflects everything
// the tick changed.
func (o *Orchestrator) tick(ctx context.Context, now time.Time) {
	res := o.monitor.Check(ctx)
	o.recordTransition(ctx, res)

	o.manager.ProcessQueues(ctx)
	o.finishPreparedDownload()
	o.drainCommands(ctx)

	if !o.ensureConnected(ctx) {
		return
	}

	o.checkFreeze(ctx, now)
	o.checkStreamer(ctx, now)
	o.applyFallback(ctx, now)

	if o.monitor.NeedsRefresh() {
		if err := o.manager.RefreshTempPlayback(ctx); err != nil {
			// The refresh flag survives, so the reload is retried next tick.
			o.log.Error("media refresh failed", slog.String("error", err.Error()))
		}
	}

	o.applyDeferredSeek(ctx)

	session := o.currentSession(ctx)
	o.savePosition(ctx, session)
	o.consumeOverride(ctx)
	o.handleConsumed(ctx, session, now)
	o.pollPrepared(ctx, now)
	o.manager.PrepareNextRotation(ctx)
	o.pushSnapshot(ctx, now)
}

// recordTransition appends a playback-log row for every file that finished
// this tick and surfaces the transition to Discord when the owner opted in.
// The monitor has already filtered the compositor's spurious events and
// counted the metric.
func (o *Orchestrator) recordTransition(ctx context.Context, res monitor.Result) {
	if !res.Transition {
		return
	}
	o.logPlayback(ctx, res.Finished)

	if res.CurrentVideo == "" || !o.catalog.Settings().NotifyVideoTransitions {
		return
	}
	o.notifier.Success("Now playing", content.StripOrderPrefix(res.CurrentVideo))
}

// logPlayback writes the history rows for the finished files. A file the
// store never registered (fallback content, manual drops) is logged by
// filename alone.
func (o *Orchestrator) logPlayback(ctx context.Context, finished []string) {
	if o.history == nil || len(finished) == 0 {
		return
	}

	var sessionID *models.ULID
	if session := o.currentSession(ctx); session != nil {
		id := session.ID
		sessionID = &id
	}

	for _, name := range finished {
		entry := &models.PlaybackLogEntry{
			SessionID:     sessionID,
			VideoFilename: content.StripOrderPrefix(name),
		}
		if o.videos != nil {
			if video, err := o.videos.GetByFilename(ctx, name); err == nil && video != nil {
				id := video.ID
				entry.VideoID = &id
				entry.PlaylistName = video.PlaylistName
			}
		}
		if err := o.history.Log(ctx, entry); err != nil {
			o.log.Error("appending playback log failed",
				slog.String("video", entry.VideoFilename),
				slog.String("error", err.Error()),
			)
		}
	}
}

// ensureConnected blocks the tick in a backoff reconnect loop while the
// compositor is unreachable. An unattended stream has nothing better to do
// without its compositor, so shutdown is the only early exit; the return is
// false when the context ended.
func (o *Orchestrator) ensureConnected(ctx context.Context) bool {
	if o.comp.Connected() {
		metrics.CompositorConnected.Set(1)
		o.wasConnected = true
		return true
	}

	metrics.CompositorConnected.Set(0)
	if o.wasConnected {
		o.wasConnected = false
		o.log.Error("compositor connection lost")
		o.notifier.Error("Compositor disconnected", "Reconnecting with backoff until it returns.")
	}

	wait := o.cfg.OBS.ReconnectBase
	if wait <= 0 {
		wait = 2 * time.Second
	}
	maxWait := o.cfg.OBS.ReconnectMax
	if maxWait <= 0 {
		maxWait = time.Minute
	}

	for ctx.Err() == nil {
		err := o.comp.Connect(ctx)
		if err == nil {
			metrics.ReconnectsTotal.Inc()
			metrics.CompositorConnected.Set(1)
			o.wasConnected = true
			o.log.Info("compositor reconnected")
			o.notifier.Success("Compositor reconnected", "Resuming normal operation.")
			return true
		}
		o.log.Warn("compositor reconnect failed",
			slog.String("error", err.Error()),
			slog.Duration("retry_in", wait),
		)
		if !sleepCtx(ctx, wait) {
			return false
		}
		wait *= 2
		if wait > maxWait {
			wait = maxWait
		}
	}
	return false
}

// checkFreeze advances the freeze monitor and reacts to state changes. The
// monitor performs the relaunch itself; what is left here is suppressing
// the phantom transition the relaunch causes and telling the owner.
func (o *Orchestrator) checkFreeze(ctx context.Context, now time.Time) {
	if o.freeze == nil {
		return
	}
	state := o.freeze.Tick(ctx, now)
	if state == o.lastFreeze {
		return
	}
	switch state {
	case obs.FreezeFrozen:
		metrics.FreezeRecoveriesTotal.Inc()
		// The relaunched compositor restarts its media input from the top;
		// the "started" it emits is not a playlist advance.
		o.monitor.NoteMediaReconfigured()
		o.notifier.Error("Render freeze", "Compositor relaunched after the render output stalled.")
	case obs.FreezeFinal:
		o.notifier.Error("Render frozen again",
			"Second stall after a relaunch; giving up on automatic recovery.")
	case obs.FreezeOK:
		o.notifier.Success("Render recovered", "Frames are advancing again.")
	}
	o.lastFreeze = state
}

// checkStreamer polls upstream liveness and pauses or resumes the rotation
// on transitions. While ignore_streamer is set the poll still runs so the
// dashboard and title suppression stay accurate, but transitions are not
// acted on.
func (o *Orchestrator) checkStreamer(ctx context.Context, now time.Time) {
	if o.streamer == nil || !o.streamer.Enabled() {
		return
	}
	live, changed := o.streamer.Poll(ctx, now)
	if !changed || o.catalog.Settings().IgnoreStreamer {
		return
	}
	if live {
		o.pauseForStreamer(ctx)
	} else {
		o.resumeFromStreamer(ctx)
	}
}

// pauseForStreamer parks the rotation behind the pause scene. The live pause
// supersedes any manual one so the offline transition resumes playback.
func (o *Orchestrator) pauseForStreamer(ctx context.Context) {
	o.capturePauseCursor(ctx)
	o.switchToPause(ctx)
	o.manualPause = false
	o.livePaused = true
	o.notifier.StreamerLive("Streamer is live", "Rotation paused behind the pause scene.")
}

func (o *Orchestrator) resumeFromStreamer(ctx context.Context) {
	o.livePaused = false
	o.notifier.StreamerLive("Streamer went offline", "Rotation resuming.")
	if o.manualPause {
		return
	}
	o.resumePlayback(ctx)
}

// capturePauseCursor remembers what was playing and where, so the resume
// can seek back once the player confirms the same file is on screen.
func (o *Orchestrator) capturePauseCursor(ctx context.Context) {
	o.pausedVideo = o.monitor.CurrentVideoOriginalName()
	o.pausedCursorMS = 0
	if st, err := o.comp.MediaStatus(ctx); err == nil {
		o.pausedCursorMS = st.CursorMS
	}
}

func (o *Orchestrator) switchToPause(ctx context.Context) {
	if err := o.comp.SetScene(ctx, o.scenes.Pause); err != nil {
		o.log.Error("switching to pause scene failed", slog.String("error", err.Error()))
	}
	// Events arriving while parked would advance the pointer and delete
	// files nobody watched.
	o.monitor.SetSuspended(true)
}

func (o *Orchestrator) resumePlayback(ctx context.Context) {
	if err := o.comp.SetScene(ctx, o.scenes.Stream); err != nil {
		o.log.Error("switching to stream scene failed", slog.String("error", err.Error()))
	}
	o.monitor.SetSuspended(false)
	if o.pausedVideo != "" && o.pausedCursorMS > 0 {
		o.pendingSeekVideo = o.pausedVideo
		o.pendingSeekMS = o.pausedCursorMS
	}
	o.pausedVideo = ""
	o.pausedCursorMS = 0
}

// applyFallback activates the fallback tier when downloads have failed
// repeatedly, clears it on the first success, and paces retry downloads
// while it is active.
func (o *Orchestrator) applyFallback(ctx context.Context, now time.Time) {
	failures := o.worker.ConsecutiveFailures()
	threshold := o.cfg.Rotation.FailureThreshold
	if threshold < 1 {
		threshold = 3
	}

	if failures >= threshold && !o.fallback.Active() {
		o.fallback.Activate(ctx)
	}
	if !o.fallback.Active() {
		return
	}
	if failures == 0 {
		o.fallback.Deactivate(ctx)
		return
	}
	o.fallback.MaybeRetry(ctx, now)
}

// applyDeferredSeek issues a pending cursor restore once the player reports
// the target file is actually playing. Seeking earlier would land on
// whatever track happened to load first. The attempt clears the request
// either way; a failed seek is a cosmetic loss, not worth retry loops.
func (o *Orchestrator) applyDeferredSeek(ctx context.Context) {
	if o.pendingSeekVideo == "" {
		return
	}
	if o.monitor.CurrentVideoOriginalName() != o.pendingSeekVideo {
		return
	}
	st, err := o.comp.MediaStatus(ctx)
	if err != nil || !st.IsPlaying() {
		return
	}

	if err := o.comp.SetMediaCursor(ctx, o.pendingSeekMS); err != nil {
		o.log.Warn("deferred seek failed",
			slog.String("video", o.pendingSeekVideo),
			slog.String("error", err.Error()),
		)
	} else {
		o.log.Info("restored playback position",
			slog.String("video", o.pendingSeekVideo),
			slog.Int64("cursor_ms", o.pendingSeekMS),
		)
	}
	o.clearSeek()
}

// savePosition persists the playback cursor for crash recovery. Skipped
// while paused so the position captured at pause time survives a crash
// during the pause window.
func (o *Orchestrator) savePosition(ctx context.Context, session *models.RotationSession) {
	if session == nil || o.manualPause || o.livePaused {
		return
	}
	video := o.monitor.CurrentVideo()
	if video == "" {
		return
	}
	st, err := o.comp.MediaStatus(ctx)
	if err != nil {
		return
	}
	if err := o.sessions.SavePlaybackPosition(ctx, session.ID, st.CursorMS, video); err != nil {
		o.log.Error("saving playback position failed", slog.String("error", err.Error()))
		return
	}
	o.lastCursorMS = st.CursorMS
}

func (o *Orchestrator) currentSession(ctx context.Context) *models.RotationSession {
	session, err := o.sessions.Current(ctx)
	if err != nil {
		o.log.Error("loading current session failed", slog.String("error", err.Error()))
		return nil
	}
	return session
}

// consumeOverride picks up a triggered override document. The document is
// cleared on read, so a crash between trigger and pickup replays it once.
func (o *Orchestrator) consumeOverride(ctx context.Context) {
	if o.override == nil {
		return
	}
	ov, err := o.override.Consume()
	if err != nil {
		o.log.Error("reading override document failed", slog.String("error", err.Error()))
		return
	}
	if ov == nil {
		return
	}

	o.log.Info("manual override triggered", slog.Any("playlists", ov.SelectedPlaylists))
	if err := o.manager.StartOverride(ctx, ov.SelectedPlaylists); err != nil {
		o.log.Error("override rotation failed", slog.String("error", err.Error()))
		o.notifier.Error("Override failed", err.Error())
		return
	}
	o.clearSeek()
}

// handleConsumed reacts when the player has finished everything in its
// folder: exit the temp-playback bridge once its downloads are done,
// restore the displaced rotation when an override ran dry, bridge into the
// pending folder while downloads are still running, and otherwise rotate.
// While the fallback is active those last two are its job instead.
func (o *Orchestrator) handleConsumed(ctx context.Context, session *models.RotationSession, now time.Time) {
	if o.monitor.TempPlayback() {
		if session == nil || !session.AllNextCompleted() {
			return
		}
		seek, err := o.manager.ExitTempPlayback(ctx)
		if err != nil {
			o.log.Error("temp playback exit failed", slog.String("error", err.Error()))
			return
		}
		o.setSeek(seek)
		return
	}

	if session == nil {
		o.maybeBootstrapRotation(ctx, now)
		return
	}
	if !o.monitor.AllConsumed() {
		return
	}

	switch {
	case session.OverrideActive:
		seek, err := o.manager.RestoreAfterOverride(ctx, session)
		if err != nil {
			o.log.Error("restore after override failed", slog.String("error", err.Error()))
			o.notifier.Error("Override restore failed", err.Error())
			return
		}
		o.setSeek(seek)

	case len(session.PendingNext()) > 0:
		if o.fallback.Active() {
			return
		}
		if err := o.manager.ActivateTempPlayback(ctx); err != nil {
			o.log.Error("temp playback activation failed", slog.String("error", err.Error()))
		}

	default:
		if o.fallback.Active() {
			return
		}
		if err := o.manager.HandleNormalRotation(ctx); err != nil {
			o.log.Error("rotation failed", slog.String("error", err.Error()))
			o.notifier.Error("Rotation failed", err.Error())
			return
		}
		o.clearSeek()
	}
}

// pollPrepared auto-executes prepared rotations whose schedule came due.
func (o *Orchestrator) pollPrepared(ctx context.Context, now time.Time) {
	if o.prepared == nil {
		return
	}
	for _, rot := range o.prepared.DueScheduled(now) {
		o.log.Info("scheduled rotation due", slog.String("slug", rot.Slug))
		if err := o.executePrepared(ctx, rot.Slug); err != nil {
			o.log.Error("scheduled rotation failed",
				slog.String("slug", rot.Slug),
				slog.String("error", err.Error()),
			)
			o.notifier.Error("Scheduled rotation failed", err.Error())
		}
	}
}

// pushSnapshot publishes dashboard state on the snapshot cadence.
func (o *Orchestrator) pushSnapshot(ctx context.Context, now time.Time) {
	if o.dash == nil {
		return
	}
	interval := o.cfg.Dashboard.SnapshotInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if !o.lastSnapshot.IsZero() && now.Sub(o.lastSnapshot) < interval {
		return
	}
	o.lastSnapshot = now
	o.dash.PushSnapshot(o.buildSnapshot(ctx, now))
}

func (o *Orchestrator) buildSnapshot(ctx context.Context, now time.Time) *dashboard.Snapshot {
	snap := &dashboard.Snapshot{
		Timestamp: now.UTC(),
		Status: dashboard.PlaybackStatus{
			Connected:           o.comp.Connected(),
			Scene:               o.comp.CachedScene(),
			CurrentVideo:        o.monitor.CurrentVideo(),
			PositionMS:          o.lastCursorMS,
			TempPlayback:        o.monitor.TempPlayback(),
			FallbackTier:        o.fallback.Tier().String(),
			StreamerLive:        o.streamer != nil && o.streamer.Live(),
			Paused:              o.manualPause || o.livePaused,
			WorkerBusy:          o.worker.Busy(),
			ConsecutiveFailures: o.worker.ConsecutiveFailures(),
		},
		System: dashboard.CollectSystem(o.startTime),
	}

	if session := o.currentSession(ctx); session != nil {
		snap.Status.OverrideActive = session.OverrideActive
		s := &dashboard.SessionSnapshot{
			ID:          session.ID.String(),
			StartedAt:   session.StartedAt,
			Playlists:   session.CurrentPlaylists,
			StreamTitle: session.StreamTitle,
		}
		for _, name := range session.NextPlaylists {
			s.NextPlaylists = append(s.NextPlaylists, dashboard.NextPlaylist{
				Name:   name,
				Status: string(session.NextPlaylistsStatus[name]),
			})
		}
		snap.Session = s
	}

	if rows, err := o.playlists.List(ctx); err == nil {
		snap.Playlists = make([]dashboard.PlaylistSnapshot, 0, len(rows))
		for _, p := range rows {
			snap.Playlists = append(snap.Playlists, dashboard.PlaylistSnapshot{
				Name:       p.Name,
				URL:        p.URL,
				Enabled:    models.BoolVal(p.Enabled),
				Priority:   p.Priority,
				IsShort:    p.IsShort,
				Category:   p.Category,
				PlayCount:  p.PlayCount,
				LastPlayed: p.LastPlayed,
			})
		}
	}

	if o.prepared != nil {
		snap.Prepared = o.prepared.List()
	}
	return snap
}
