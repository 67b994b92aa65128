package obs

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/jmylchreest/rotarr/internal/config"
)

// FreezeState describes the render output health.
type FreezeState string

const (
	// FreezeOK means frames are advancing.
	FreezeOK FreezeState = "ok"
	// FreezeFrozen means the output stalled and a relaunch is in flight.
	FreezeFrozen FreezeState = "frozen"
	// FreezeFinal means the output stalled again after a relaunch; no
	// further kills are attempted until frames advance.
	FreezeFinal FreezeState = "frozen_final"
)

// freezeClient is the slice of Client the freeze monitor needs.
type freezeClient interface {
	Connected() bool
	Stats(ctx context.Context) (Stats, error)
	StreamStatus(ctx context.Context) (StreamStatus, error)
	StartStream(ctx context.Context) error
	Connect(ctx context.Context) error
	Close() error
}

// FreezeMonitor polls the compositor's render frame counter and relaunches
// the process when frames stop advancing. One relaunch per incident: a
// second stall without intervening progress parks the monitor in
// FreezeFinal instead of kill-looping.
type FreezeMonitor struct {
	log    *slog.Logger
	cfg    config.OBSConfig
	client freezeClient

	lastPoll   time.Time
	lastFrames int64
	haveFrames bool
	stallCount int
	recovered  bool
	state      FreezeState

	killFn   func()
	launchFn func() error
	sleepFn  func(ctx context.Context, d time.Duration)
}

// NewFreezeMonitor creates a monitor over an existing client. The caller
// drives it by calling Tick from its scheduling loop.
func NewFreezeMonitor(cfg config.OBSConfig, client *Client, log *slog.Logger) *FreezeMonitor {
	return newFreezeMonitor(cfg, client, log)
}

func newFreezeMonitor(cfg config.OBSConfig, client freezeClient, log *slog.Logger) *FreezeMonitor {
	if log == nil {
		log = slog.Default()
	}
	f := &FreezeMonitor{
		log:    log,
		cfg:    cfg,
		client: client,
		state:  FreezeOK,
	}
	f.killFn = f.killProcess
	f.launchFn = f.launch
	f.sleepFn = sleepCtx
	return f
}

// State returns the current render health without polling.
func (f *FreezeMonitor) State() FreezeState {
	return f.state
}

// Tick polls the render counters when the poll interval has elapsed and
// returns the resulting state. Calls between polls return the last state.
func (f *FreezeMonitor) Tick(ctx context.Context, now time.Time) FreezeState {
	if now.Sub(f.lastPoll) < f.cfg.FreezePollInterval {
		return f.state
	}
	f.lastPoll = now

	if !f.client.Connected() {
		return f.state
	}

	stats, err := f.client.Stats(ctx)
	if err != nil {
		f.log.Debug("render stats unavailable", slog.String("error", err.Error()))
		return f.state
	}

	if !f.haveFrames {
		f.lastFrames = stats.RenderTotalFrames
		f.haveFrames = true
		return f.state
	}

	if stats.RenderTotalFrames > f.lastFrames {
		f.lastFrames = stats.RenderTotalFrames
		if f.state != FreezeOK {
			f.log.Info("render output recovered", slog.Int64("frames", stats.RenderTotalFrames))
		}
		f.stallCount = 0
		f.recovered = false
		f.state = FreezeOK
		return f.state
	}

	f.stallCount++
	f.log.Warn("render output stalled",
		slog.Int64("frames", stats.RenderTotalFrames),
		slog.Int("stall_count", f.stallCount),
		slog.Int("stall_limit", f.cfg.FreezeStallLimit),
	)
	if f.stallCount < f.cfg.FreezeStallLimit {
		return f.state
	}

	if f.recovered {
		if f.state != FreezeFinal {
			f.log.Error("render output frozen again after relaunch, manual intervention required")
		}
		f.state = FreezeFinal
		return f.state
	}

	f.state = FreezeFrozen
	f.recover(ctx)
	return f.state
}

// recover kills and relaunches the compositor process, then reconnects and
// resumes the broadcast if one was active.
func (f *FreezeMonitor) recover(ctx context.Context) {
	f.recovered = true
	f.stallCount = 0
	f.haveFrames = false

	f.log.Error("render output frozen, relaunching compositor",
		slog.String("binary", f.cfg.LaunchPath),
	)

	wasStreaming := false
	if st, err := f.client.StreamStatus(ctx); err == nil {
		wasStreaming = st.Active
	}

	_ = f.client.Close()
	f.killFn()
	f.clearSentinels()

	if err := f.launchFn(); err != nil {
		f.log.Error("compositor relaunch failed", slog.String("error", err.Error()))
		return
	}
	f.sleepFn(ctx, f.cfg.RelaunchWait)

	if err := f.client.Connect(ctx); err != nil {
		f.log.Error("reconnect after relaunch failed", slog.String("error", err.Error()))
		return
	}
	if wasStreaming {
		if err := f.client.StartStream(ctx); err != nil {
			f.log.Warn("restarting broadcast after relaunch failed", slog.String("error", err.Error()))
		} else {
			f.log.Info("broadcast restarted after relaunch")
		}
	}
	f.log.Info("compositor relaunched")
}

// killProcess terminates every process whose name matches the launch
// binary.
func (f *FreezeMonitor) killProcess() {
	target := filepath.Base(f.cfg.LaunchPath)
	if target == "" || target == "." {
		return
	}
	procs, err := process.Processes()
	if err != nil {
		f.log.Warn("listing processes failed", slog.String("error", err.Error()))
		return
	}
	killed := 0
	for _, p := range procs {
		name, err := p.Name()
		if err != nil || name != target {
			continue
		}
		if err := p.Kill(); err != nil {
			f.log.Warn("killing compositor process failed",
				slog.Int("pid", int(p.Pid)),
				slog.String("error", err.Error()),
			)
			continue
		}
		killed++
	}
	f.log.Info("killed compositor processes", slog.Int("count", killed), slog.String("name", target))
}

// clearSentinels removes crash sentinel files so the relaunched compositor
// does not block on a safe-mode prompt.
func (f *FreezeMonitor) clearSentinels() {
	if f.cfg.SentinelDir == "" {
		return
	}
	entries, err := os.ReadDir(f.cfg.SentinelDir)
	if err != nil {
		if !os.IsNotExist(err) {
			f.log.Warn("reading sentinel directory failed", slog.String("error", err.Error()))
		}
		return
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(f.cfg.SentinelDir, e.Name())); err != nil {
			f.log.Warn("removing sentinel failed",
				slog.String("name", e.Name()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// launch starts the compositor binary detached from the daemon.
func (f *FreezeMonitor) launch() error {
	cmd := exec.Command(f.cfg.LaunchPath)
	cmd.Dir = filepath.Dir(f.cfg.LaunchPath)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
