// Package monitor tracks playback progress of the rotation folder by
// consuming the compositor's media events. It decides when a file has
// genuinely finished, deletes consumed files, and reports when the folder
// is exhausted so the orchestrator can rotate.
//
// The compositor fires spurious "started" events whenever the media source
// is reconfigured, and depending on its VLC build the "ended" event may
// fire per track or only once per playlist. The suppression counter and
// the local ended/started pairing make the transition count correct under
// both behaviours.
package monitor

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jmylchreest/rotarr/internal/content"
	"github.com/jmylchreest/rotarr/internal/metrics"
	"github.com/jmylchreest/rotarr/internal/obs"
)

// Compositor is the slice of the compositor client the monitor consumes.
type Compositor interface {
	Connected() bool
	CachedScene() string
	DrainMediaEvents() []obs.MediaEvent
	ConfigureMediaInput(ctx context.Context, paths []string, loop, shuffle bool) error
}

// Result is the outcome of one Check call.
type Result struct {
	// Transition reports whether at least one file finished this tick.
	Transition bool

	// PreviousVideo is the prefixed filename that finished most recently.
	PreviousVideo string

	// Finished lists every prefixed filename that finished this tick, in
	// playback order. Multiple entries happen when a retried deletion
	// released a backlog of pending transitions at once.
	Finished []string

	// CurrentVideo is the prefixed filename now considered playing.
	CurrentVideo string

	// AllConsumed reports that the folder has no playable files left.
	AllConsumed bool
}

// Monitor owns the per-folder playback pointer. It is driven exclusively
// from the orchestrator tick, so no internal locking is needed.
type Monitor struct {
	log         *slog.Logger
	comp        Compositor
	streamScene string

	folder       string
	currentVideo string
	allConsumed  bool
	needsRefresh bool
	suspended    bool
	tempPlayback bool

	// deleteOnTransition survives re-initialisation. The fallback
	// controller turns it off to loop remaining content; prepared playback
	// turns it off so copied files stay reusable.
	deleteOnTransition bool

	// suppressStarted absorbs the spurious "started" the compositor emits
	// for each media-source reconfiguration.
	suppressStarted int

	// pendingTransitions carries counted-but-unprocessed transitions
	// across ticks when a file deletion has to be retried.
	pendingTransitions int
}

// New creates a monitor bound to the compositor's media source. streamScene
// is the scene during which events are trusted; in any other scene the
// queue is drained and discarded.
func New(comp Compositor, streamScene string, log *slog.Logger) *Monitor {
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{
		log:                log,
		comp:               comp,
		streamScene:        streamScene,
		deleteOnTransition: true,
	}
}

// Initialize points the monitor at a folder after a content switch. Stale
// events are discarded, the pointer moves to the alphabetically-first
// file, and one spurious "started" from the upcoming reconfiguration is
// absorbed. The delete-on-transition flag is fallback state and survives.
func (m *Monitor) Initialize(folder string) error {
	m.comp.DrainMediaEvents()

	first, err := content.FirstVideo(folder)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	m.folder = folder
	m.currentVideo = first
	m.allConsumed = first == ""
	m.needsRefresh = false
	m.tempPlayback = false
	m.suppressStarted = 1
	m.pendingTransitions = 0

	m.log.Info("playback monitor initialised",
		slog.String("folder", folder),
		slog.String("current_video", first),
	)
	return nil
}

// Folder returns the folder being monitored.
func (m *Monitor) Folder() string { return m.folder }

// CurrentVideo returns the prefixed on-disk name of the playing file.
func (m *Monitor) CurrentVideo() string { return m.currentVideo }

// CurrentVideoOriginalName returns the playing file without its ordering
// prefix, the form stored in the videos table.
func (m *Monitor) CurrentVideoOriginalName() string {
	return content.StripOrderPrefix(m.currentVideo)
}

// SetCurrentVideo points the monitor at a specific file. Used after a
// resume reorders the player queue so the saved video plays first instead
// of the alphabetically-first one Initialize assumed.
func (m *Monitor) SetCurrentVideo(name string) { m.currentVideo = name }

// AllConsumed reports whether the folder is exhausted. Sticky until the
// next Initialize.
func (m *Monitor) AllConsumed() bool { return m.allConsumed }

// NeedsRefresh reports that the media source must be reloaded from the
// folder because temp playback ran out of loaded files.
func (m *Monitor) NeedsRefresh() bool { return m.needsRefresh }

// ClearRefresh acknowledges a completed media-source reload.
func (m *Monitor) ClearRefresh() { m.needsRefresh = false }

// SetTempPlayback toggles temp-playback semantics: the last loaded file
// triggers a refresh instead of consuming the folder.
func (m *Monitor) SetTempPlayback(on bool) { m.tempPlayback = on }

// TempPlayback reports whether temp-playback semantics are active.
func (m *Monitor) TempPlayback() bool { return m.tempPlayback }

// SetDeleteOnTransition toggles deletion of finished files. The fallback
// controller and prepared playback disable it so content loops.
func (m *Monitor) SetDeleteOnTransition(on bool) { m.deleteOnTransition = on }

// DeleteOnTransition reports whether finished files are deleted.
func (m *Monitor) DeleteOnTransition() bool { return m.deleteOnTransition }

// SetSuspended pauses event processing during freeze recovery. Events
// arriving while suspended are discarded.
func (m *Monitor) SetSuspended(on bool) { m.suspended = on }

// NoteMediaReconfigured absorbs the spurious "started" an external
// media-source reconfiguration is about to cause.
func (m *Monitor) NoteMediaReconfigured() { m.suppressStarted++ }

// Check drains the event queue and processes any genuine transitions. It
// is called once per orchestrator tick.
func (m *Monitor) Check(ctx context.Context) Result {
	res := Result{CurrentVideo: m.currentVideo, AllConsumed: m.allConsumed}

	// The folder is done, nobody is listening, or the events are not
	// ours: discard and wait.
	if m.suspended || m.allConsumed || !m.comp.Connected() {
		m.comp.DrainMediaEvents()
		return res
	}
	if scene := m.comp.CachedScene(); scene != "" && scene != m.streamScene {
		m.comp.DrainMediaEvents()
		return res
	}

	m.pendingTransitions += m.countTransitions(m.comp.DrainMediaEvents())

	for m.pendingTransitions > 0 {
		outcome := m.handleTransition(ctx, &res)
		if outcome == transitionRetry {
			// Deletion refused (file still locked). Keep the pending
			// count and try again next tick without advancing.
			break
		}
		m.pendingTransitions--
		if outcome == transitionRefresh {
			break
		}
	}

	res.CurrentVideo = m.currentVideo
	res.AllConsumed = m.allConsumed
	return res
}

// countTransitions collapses an event batch into a transition count.
// "ended" always counts and absorbs an immediately following "started";
// "started" counts only when neither locally paired nor absorbed by the
// suppression counter.
func (m *Monitor) countTransitions(events []obs.MediaEvent) int {
	count := 0
	localSuppress := false

	for _, ev := range events {
		switch ev {
		case obs.MediaEnded:
			count++
			localSuppress = true
		case obs.MediaStarted:
			if localSuppress {
				localSuppress = false
				continue
			}
			if m.suppressStarted > 0 {
				m.suppressStarted--
				continue
			}
			count++
		}
	}
	return count
}

type transitionOutcome int

const (
	transitionDone transitionOutcome = iota
	transitionRetry
	transitionRefresh
)

// handleTransition consumes one finished file: delete it (unless disabled),
// reconfigure the media source on the remainder, and advance the pointer.
func (m *Monitor) handleTransition(ctx context.Context, res *Result) transitionOutcome {
	finished := m.currentVideo
	if finished == "" {
		m.allConsumed = true
		return transitionDone
	}

	names, err := content.ListVideos(m.folder)
	if err != nil {
		m.log.Error("listing playback folder failed",
			slog.String("folder", m.folder),
			slog.String("error", err.Error()),
		)
		return transitionRetry
	}

	// Temp playback: when the final loaded file finishes the folder has
	// usually grown since the source was configured. Ask for a reload
	// instead of consuming the file.
	if m.tempPlayback && isLast(names, finished) {
		m.needsRefresh = true
		m.log.Info("temp playback reached last loaded file, refresh requested",
			slog.String("file", finished),
		)
		return transitionRefresh
	}

	if !m.deleteOnTransition {
		// Looping content (fallback or prepared playback). Track the
		// player's own advance through the unchanged file list.
		next := nextAfter(names, finished)
		if next == "" || next == finished {
			return transitionDone
		}
		res.Transition = true
		res.PreviousVideo = finished
		res.Finished = append(res.Finished, finished)
		m.currentVideo = next
		return transitionDone
	}

	if err := os.Remove(filepath.Join(m.folder, finished)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		// Still locked by the player. Retry next tick, pointer unmoved.
		m.log.Warn("finished file still locked, retrying next tick",
			slog.String("file", finished),
			slog.String("error", err.Error()),
		)
		return transitionRetry
	}
	metrics.FilesDeletedTotal.Inc()

	remaining, err := content.ListVideoPaths(m.folder)
	if err != nil {
		m.log.Error("listing playback folder failed",
			slog.String("folder", m.folder),
			slog.String("error", err.Error()),
		)
		remaining = nil
	}

	if len(remaining) > 0 {
		// Reloading the source makes the player pick up the shrunk list;
		// it answers with one more spurious "started".
		if err := m.comp.ConfigureMediaInput(ctx, remaining, true, false); err != nil {
			m.log.Warn("reconfiguring media source failed",
				slog.String("error", err.Error()),
			)
		} else {
			m.suppressStarted++
		}
	}

	res.Transition = true
	res.PreviousVideo = finished
	res.Finished = append(res.Finished, finished)
	metrics.TransitionsTotal.Inc()

	first, err := content.FirstVideo(m.folder)
	if err != nil {
		first = ""
	}
	m.currentVideo = first
	if first == "" {
		m.allConsumed = true
		m.log.Info("playback folder consumed", slog.String("folder", m.folder))
	} else {
		m.log.Info("video transition",
			slog.String("finished", finished),
			slog.String("now_playing", first),
		)
	}
	return transitionDone
}

// isLast reports whether name sorts last among names.
func isLast(names []string, name string) bool {
	if len(names) == 0 {
		return false
	}
	return names[len(names)-1] == name
}

// nextAfter returns the entry following name in sorted cyclic order, or
// empty when names is empty.
func nextAfter(names []string, name string) string {
	if len(names) == 0 {
		return ""
	}
	for i, n := range names {
		if n == name {
			return names[(i+1)%len(names)]
		}
	}
	return names[0]
}
