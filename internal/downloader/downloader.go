// Package downloader runs the serial download pipeline. One worker
// goroutine fetches remote playlists with yt-dlp, probes the resulting
// files, and hands records to the orchestrator through bounded queues. The
// worker never touches the store; everything crosses the thread boundary as
// plain values.
package downloader

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmylchreest/rotarr/internal/config"
	"github.com/jmylchreest/rotarr/internal/content"
	"github.com/jmylchreest/rotarr/internal/mediainfo"
	"github.com/jmylchreest/rotarr/internal/metrics"
)

// shutdownGrace is how long Shutdown waits for an in-flight run before
// abandoning it.
const shutdownGrace = 5 * time.Second

// sigintGrace is how long a cancelled yt-dlp gets to clean up partial
// fragments after SIGINT before it is killed.
const sigintGrace = 5 * time.Second

// PlaylistJob names one remote playlist to fetch.
type PlaylistJob struct {
	Name string
	URL  string
}

// Batch is one unit of work: the playlists of a rotation downloaded into a
// single target folder under shared settings.
type Batch struct {
	Playlists []PlaylistJob
	TargetDir string

	// Retries is the per-playlist retry budget from the settings document.
	Retries int

	UseCookies bool
	Browser    string
	Verbose    bool
}

// Names returns the playlist names in batch order.
func (b Batch) Names() []string {
	names := make([]string, 0, len(b.Playlists))
	for _, p := range b.Playlists {
		names = append(names, p.Name)
	}
	return names
}

// Worker is the single-goroutine download executor. Downloads are serial by
// design; parallel fetches get the daemon throttled by the remote host.
type Worker struct {
	log    *slog.Logger
	cfg    config.DownloaderConfig
	prober *mediainfo.Prober

	jobs chan Batch
	done chan struct{}

	// Cross-thread hand-offs drained by the orchestrator.
	Registrations *RegistrationQueue
	ToInitialize  *NameHandoff
	ToComplete    *NameHandoff

	mu                  sync.Mutex
	busy                bool
	activeBatch         []string
	consecutiveFailures int
}

// NewWorker creates a download worker. Call Run to start it.
func NewWorker(cfg config.DownloaderConfig, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}

	return &Worker{
		log:           log,
		cfg:           cfg,
		prober:        mediainfo.NewProber(cfg.FFprobeBinary),
		jobs:          make(chan Batch, 2),
		done:          make(chan struct{}),
		Registrations: NewRegistrationQueue(cfg.RegistrationQueueSize),
		ToInitialize:  &NameHandoff{},
		ToComplete:    &NameHandoff{},
	}
}

// Run processes batches until ctx is cancelled. It must be started exactly
// once, on its own goroutine.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			return
		case batch := <-w.jobs:
			w.runBatch(ctx, batch)
		}
	}
}

// Shutdown waits for the in-flight run to finish, up to the grace period.
// The caller cancels the Run context first; a run that outlives the grace
// is abandoned and the subprocess reaped by its own SIGINT handling.
func (w *Worker) Shutdown() {
	select {
	case <-w.done:
	case <-time.After(shutdownGrace):
		w.log.Warn("download worker did not stop in time, abandoning")
	}
}

// TryEnqueue submits a batch unless the intake is full. It reports whether
// the batch was accepted.
func (w *Worker) TryEnqueue(batch Batch) bool {
	if len(batch.Playlists) == 0 {
		return false
	}
	select {
	case w.jobs <- batch:
		return true
	default:
		return false
	}
}

// Busy reports whether a batch is downloading right now or waiting in the
// intake.
func (w *Worker) Busy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.busy || len(w.jobs) > 0
}

// ActivePlaylists returns the names in the currently running batch.
func (w *Worker) ActivePlaylists() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.activeBatch))
	copy(out, w.activeBatch)
	return out
}

// ConsecutiveFailures returns the count of playlists that exhausted their
// retries since the last success. The fallback controller reads this.
func (w *Worker) ConsecutiveFailures() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.consecutiveFailures
}

// ResetFailures clears the failure counter, used when fallback exits.
func (w *Worker) ResetFailures() {
	w.mu.Lock()
	w.consecutiveFailures = 0
	w.mu.Unlock()
}

func (w *Worker) runBatch(ctx context.Context, batch Batch) {
	w.mu.Lock()
	w.busy = true
	w.activeBatch = batch.Names()
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.busy = false
		w.activeBatch = nil
		w.mu.Unlock()
	}()

	if err := content.EnsureDir(batch.TargetDir); err != nil {
		w.log.Error("creating download folder failed",
			slog.String("dir", batch.TargetDir),
			slog.String("error", err.Error()),
		)
		return
	}

	w.ToInitialize.Add(batch.Names()...)
	w.log.Info("download batch started",
		slog.Any("playlists", batch.Names()),
		slog.String("dir", batch.TargetDir),
	)

	for _, job := range batch.Playlists {
		if ctx.Err() != nil {
			return
		}
		w.runPlaylist(ctx, batch, job)
	}
}

// runPlaylist downloads one playlist with retries, probes the new files,
// and queues their registrations. Success completes the playlist; an
// exhausted retry budget counts one consecutive failure.
func (w *Worker) runPlaylist(ctx context.Context, batch Batch, job PlaylistJob) {
	retries := batch.Retries
	if retries < 1 {
		retries = 1
	}

	before, err := snapshotFiles(batch.TargetDir)
	if err != nil {
		w.log.Error("listing download folder failed",
			slog.String("dir", batch.TargetDir),
			slog.String("error", err.Error()),
		)
		return
	}

	start := time.Now()
	var runErr error
	for attempt := 1; attempt <= retries; attempt++ {
		if ctx.Err() != nil {
			return
		}

		runErr = w.runTool(ctx, batch, job)
		if runErr == nil {
			break
		}
		w.log.Warn("playlist download attempt failed",
			slog.String("playlist", job.Name),
			slog.Int("attempt", attempt),
			slog.Int("retries", retries),
			slog.String("error", runErr.Error()),
		)
	}
	elapsed := time.Since(start)
	metrics.DownloadDuration.Observe(elapsed.Seconds())

	registered := w.registerNewFiles(ctx, batch.TargetDir, before, job.Name)

	// A run that errored but still produced files counts as a success:
	// yt-dlp exits non-zero when any single entry fails even though the
	// rest of the playlist landed.
	if runErr != nil && registered == 0 {
		w.mu.Lock()
		w.consecutiveFailures++
		failures := w.consecutiveFailures
		w.mu.Unlock()

		metrics.DownloadsTotal.WithLabelValues("error").Inc()
		w.log.Error("playlist download failed",
			slog.String("playlist", job.Name),
			slog.Duration("elapsed", elapsed),
			slog.Int("consecutive_failures", failures),
			slog.String("error", runErr.Error()),
		)
		return
	}

	w.mu.Lock()
	w.consecutiveFailures = 0
	w.mu.Unlock()

	w.ToComplete.Add(job.Name)
	metrics.DownloadsTotal.WithLabelValues("ok").Inc()
	w.log.Info("playlist download finished",
		slog.String("playlist", job.Name),
		slog.Int("new_files", registered),
		slog.Duration("elapsed", elapsed),
	)
}

// runTool executes one yt-dlp invocation, streaming its output into the
// log at debug level.
func (w *Worker) runTool(ctx context.Context, batch Batch, job PlaylistJob) error {
	args := BuildArgs(ArgsSpec{
		PlaylistName: job.Name,
		URL:          job.URL,
		TargetDir:    batch.TargetDir,
		Format:       w.cfg.Format,
		RateLimit:    w.cfg.RateLimit,
		UseCookies:   batch.UseCookies,
		Browser:      batch.Browser,
		Verbose:      batch.Verbose,
	})

	runCtx := ctx
	if w.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, w.cfg.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, w.cfg.Binary, args...)
	// On cancel, give the tool a SIGINT first so it can finalise the
	// archive file; kill only after the grace period.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = sigintGrace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", w.cfg.Binary, err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		w.log.Debug("yt-dlp", slog.String("line", scanner.Text()))
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("running %s: %w", w.cfg.Binary, err)
	}
	return nil
}

// registerNewFiles probes files that appeared since the pre-run snapshot
// and queues their registrations. It returns how many were queued.
func (w *Worker) registerNewFiles(ctx context.Context, dir string, before map[string]bool, playlistName string) int {
	after, err := snapshotFiles(dir)
	if err != nil {
		w.log.Error("listing download folder failed",
			slog.String("dir", dir),
			slog.String("error", err.Error()),
		)
		return 0
	}

	count := 0
	for name := range after {
		if before[name] {
			continue
		}

		info, probeErr := w.prober.Probe(ctx, filepath.Join(dir, name))
		if probeErr != nil {
			// Size still comes back from the prober; register anyway so
			// the file is playable even without a duration.
			w.log.Warn("probing downloaded file failed",
				slog.String("file", name),
				slog.String("error", probeErr.Error()),
			)
		}

		title := info.Title
		if title == "" {
			title = content.StripOrderPrefix(name)
		}

		accepted := w.Registrations.Push(VideoRegistration{
			PlaylistName:    playlistName,
			Filename:        content.StripOrderPrefix(name),
			Title:           title,
			DurationSeconds: info.DurationSeconds,
			FileSizeMB:      info.FileSizeMB,
		})
		if !accepted {
			w.log.Warn("registration queue full, dropping record",
				slog.String("file", name),
			)
			continue
		}

		metrics.VideosRegisteredTotal.Inc()
		count++
	}
	return count
}

// snapshotFiles returns the set of video filenames currently in dir.
func snapshotFiles(dir string) (map[string]bool, error) {
	names, err := content.ListVideos(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]bool{}, nil
		}
		return nil, err
	}

	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set, nil
}
