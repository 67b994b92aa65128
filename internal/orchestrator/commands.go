package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmylchreest/rotarr/internal/catalog"
	"github.com/jmylchreest/rotarr/internal/config"
	"github.com/jmylchreest/rotarr/internal/dashboard"
	"github.com/jmylchreest/rotarr/internal/downloader"
	"github.com/jmylchreest/rotarr/internal/models"
	"github.com/jmylchreest/rotarr/internal/prepared"
)

// drainCommands executes every queued dashboard command. Commands run on the
// control goroutine so they can touch the stores and managers directly.
func (o *Orchestrator) drainCommands(ctx context.Context) {
	if o.dash == nil {
		return
	}
	for {
		select {
		case cmd := <-o.dash.Commands():
			o.execCommand(ctx, cmd)
		default:
			return
		}
	}
}

// execCommand dispatches one dashboard command. Argument values are not
// logged; they can carry secrets on the env path.
func (o *Orchestrator) execCommand(ctx context.Context, cmd dashboard.Command) {
	o.log.Info("executing dashboard command", slog.String("command", cmd.Name))

	var err error
	switch cmd.Name {
	case dashboard.CmdSkipVideo:
		err = o.manager.SkipVideo(ctx)
	case dashboard.CmdTriggerRotation:
		err = o.cmdTriggerRotation(ctx, cmd)
	case dashboard.CmdPauseStream:
		o.cmdPauseStream(ctx)
	case dashboard.CmdResumeStream:
		o.cmdResumeStream(ctx)
	case dashboard.CmdUpdateSetting:
		err = o.catalog.UpdateSetting(cmd.String("key"), cmd.Value("value"))
	case dashboard.CmdAddPlaylist:
		err = o.cmdAddPlaylist(ctx, cmd)
	case dashboard.CmdUpdatePlaylist:
		err = o.cmdUpdatePlaylist(ctx, cmd)
	case dashboard.CmdRemovePlaylist:
		err = o.cmdRemovePlaylist(ctx, cmd)
	case dashboard.CmdRenamePlaylist:
		err = o.cmdRenamePlaylist(ctx, cmd)
	case dashboard.CmdTogglePlaylist:
		err = o.cmdTogglePlaylist(ctx, cmd)
	case dashboard.CmdCreatePrepared:
		err = o.cmdCreatePrepared(cmd)
	case dashboard.CmdDownloadPrepared:
		err = o.cmdDownloadPrepared(cmd)
	case dashboard.CmdExecutePrepared:
		err = o.executePrepared(ctx, cmd.String("slug"))
	case dashboard.CmdDeletePrepared:
		err = o.prepared.Delete(cmd.String("slug"))
	case dashboard.CmdSchedulePrepared:
		err = o.cmdSchedulePrepared(cmd)
	case dashboard.CmdCancelPreparedSchedule:
		_, err = o.prepared.CancelSchedule(cmd.String("slug"))
	case dashboard.CmdClearCompletedPrepared:
		_, err = o.prepared.DeleteCompleted(time.Now())
	case dashboard.CmdReloadEnv:
		err = config.ReloadEnvFile(o.cfg.Content.EnvFile)
	case dashboard.CmdUpdateEnv:
		err = o.cmdUpdateEnv(cmd)
	default:
		o.log.Warn("unknown dashboard command", slog.String("command", cmd.Name))
		return
	}

	if err != nil {
		o.log.Error("dashboard command failed",
			slog.String("command", cmd.Name),
			slog.String("error", err.Error()),
		)
		o.notifier.Warning("Command failed", fmt.Sprintf("%s: %s", cmd.Name, err))
	}
}

// cmdTriggerRotation rotates immediately. With an explicit playlist list the
// request goes through the override document, so the displaced rotation is
// stashed for restore and the trigger survives a crash; without one the
// normal selection runs in place.
func (o *Orchestrator) cmdTriggerRotation(ctx context.Context, cmd dashboard.Command) error {
	names := cmd.StringSlice("playlists")
	if len(names) == 0 {
		if err := o.manager.HandleNormalRotation(ctx); err != nil {
			return err
		}
		o.clearSeek()
		return nil
	}
	if o.override == nil {
		return errors.New("override store not configured")
	}
	return o.override.Write(catalog.Override{
		OverrideActive:    true,
		SelectedPlaylists: names,
		TriggerNow:        true,
	})
}

func (o *Orchestrator) cmdPauseStream(ctx context.Context) {
	o.capturePauseCursor(ctx)
	o.switchToPause(ctx)
	o.manualPause = true
}

// cmdResumeStream resumes unconditionally, clearing a live pause too: the
// owner pressing resume outranks the live checker until its next transition.
func (o *Orchestrator) cmdResumeStream(ctx context.Context) {
	o.manualPause = false
	o.livePaused = false
	o.resumePlayback(ctx)
}

// syncCatalog pushes catalog edits into the playlist store so selection and
// downloads see them on this same tick.
func (o *Orchestrator) syncCatalog(ctx context.Context) {
	if _, err := o.playlists.SyncFromCatalog(ctx, o.catalog.PlaylistModels()); err != nil {
		o.log.Error("catalog sync failed", slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) cmdAddPlaylist(ctx context.Context, cmd dashboard.Command) error {
	entry := catalog.Entry{
		Name:           cmd.String("name"),
		URL:            cmd.String("url"),
		Priority:       cmd.Int("priority"),
		IsShort:        cmd.Bool("is_short"),
		Category:       cmd.String("category"),
		TwitchCategory: cmd.String("twitch_category"),
		KickCategory:   cmd.String("kick_category"),
	}
	if cmd.Value("enabled") != nil {
		entry.Enabled = models.BoolPtr(cmd.Bool("enabled"))
	}
	if err := o.catalog.AddEntry(entry); err != nil {
		return err
	}
	o.syncCatalog(ctx)
	return nil
}

// cmdUpdatePlaylist applies only the arguments present in the command, so a
// partial edit does not zero the untouched fields.
func (o *Orchestrator) cmdUpdatePlaylist(ctx context.Context, cmd dashboard.Command) error {
	err := o.catalog.UpdateEntry(cmd.String("name"), func(e *catalog.Entry) error {
		if v := cmd.String("url"); v != "" {
			e.URL = v
		}
		if cmd.Value("priority") != nil {
			e.Priority = cmd.Int("priority")
		}
		if cmd.Value("is_short") != nil {
			e.IsShort = cmd.Bool("is_short")
		}
		if cmd.Value("enabled") != nil {
			e.Enabled = models.BoolPtr(cmd.Bool("enabled"))
		}
		if cmd.Value("category") != nil {
			e.Category = cmd.String("category")
		}
		if cmd.Value("twitch_category") != nil {
			e.TwitchCategory = cmd.String("twitch_category")
		}
		if cmd.Value("kick_category") != nil {
			e.KickCategory = cmd.String("kick_category")
		}
		return nil
	})
	if err != nil {
		return err
	}
	o.syncCatalog(ctx)
	return nil
}

// cmdRemovePlaylist deletes from both the catalog and the store. The sync
// path cannot do it because it deliberately leaves unknown names alone.
func (o *Orchestrator) cmdRemovePlaylist(ctx context.Context, cmd dashboard.Command) error {
	name := cmd.String("name")
	if err := o.catalog.RemoveEntry(name); err != nil {
		return err
	}
	return o.playlists.Delete(ctx, name)
}

func (o *Orchestrator) cmdRenamePlaylist(ctx context.Context, cmd dashboard.Command) error {
	oldName := cmd.String("name")
	newName := cmd.String("new_name")
	if err := o.catalog.RenameEntry(oldName, newName); err != nil {
		return err
	}
	return o.playlists.Rename(ctx, oldName, newName)
}

// cmdTogglePlaylist sets the enabled state when given, or flips the current
// one when the argument is absent.
func (o *Orchestrator) cmdTogglePlaylist(ctx context.Context, cmd dashboard.Command) error {
	name := cmd.String("name")
	enabled := cmd.Bool("enabled")
	if cmd.Value("enabled") == nil {
		for _, e := range o.catalog.Entries() {
			if strings.EqualFold(e.Name, name) {
				enabled = !models.BoolVal(e.Enabled)
				break
			}
		}
	}
	if err := o.catalog.SetEntryEnabled(name, enabled); err != nil {
		return err
	}
	return o.playlists.SetEnabled(ctx, name, enabled)
}

func (o *Orchestrator) cmdCreatePrepared(cmd dashboard.Command) error {
	_, err := o.prepared.Create(
		cmd.String("slug"),
		cmd.String("title"),
		cmd.StringSlice("playlists"),
		cmd.Bool("is_fallback"),
	)
	return err
}

func (o *Orchestrator) cmdSchedulePrepared(cmd dashboard.Command) error {
	at, err := cmd.Time("at")
	if err != nil {
		return err
	}
	_, err = o.prepared.Schedule(cmd.String("slug"), at)
	return err
}

// cmdDownloadPrepared fills a prepared folder in the background. Only one
// prepared download runs at a time; rotation downloads sharing the worker
// are the reason completion is tracked by name instead of by busy flag.
func (o *Orchestrator) cmdDownloadPrepared(cmd dashboard.Command) error {
	slug := cmd.String("slug")
	rot, err := o.prepared.Get(slug)
	if err != nil {
		return err
	}
	if o.prepDownload != nil {
		return fmt.Errorf("a prepared download for %q is already running", o.prepDownload.slug)
	}
	if len(rot.Playlists) == 0 {
		return fmt.Errorf("prepared rotation %q has no playlists", slug)
	}

	dir, err := o.prepared.Folder(slug)
	if err != nil {
		return err
	}
	batch, err := o.buildPreparedBatch(rot.Playlists, dir)
	if err != nil {
		return err
	}
	if !o.worker.TryEnqueue(batch) {
		return errors.New("download queue is full")
	}

	if _, err := o.prepared.UpdateStatus(slug, prepared.StatusDownloading); err != nil {
		o.log.Warn("marking prepared rotation downloading failed",
			slog.String("slug", slug),
			slog.String("error", err.Error()),
		)
	}
	o.prepDownload = &preparedDownload{slug: slug, names: batch.Names()}
	return nil
}

// buildPreparedBatch resolves playlist URLs from the catalog and targets the
// prepared folder instead of the pending one.
func (o *Orchestrator) buildPreparedBatch(names []string, dir string) (downloader.Batch, error) {
	entries := o.catalog.Entries()
	byName := make(map[string]catalog.Entry, len(entries))
	for _, e := range entries {
		byName[strings.ToLower(e.Name)] = e
	}

	jobs := make([]downloader.PlaylistJob, 0, len(names))
	for _, name := range names {
		e, ok := byName[strings.ToLower(name)]
		if !ok {
			return downloader.Batch{}, fmt.Errorf("playlist %q is not in the catalog", name)
		}
		jobs = append(jobs, downloader.PlaylistJob{Name: e.Name, URL: e.URL})
	}

	settings := o.catalog.Settings()
	return downloader.Batch{
		Playlists:  jobs,
		TargetDir:  dir,
		Retries:    settings.DownloadRetryAttempts,
		UseCookies: settings.YtDlpUseCookies,
		Browser:    settings.YtDlpBrowserForCookies,
		Verbose:    settings.YtDlpVerbose,
	}, nil
}

// finishPreparedDownload flips a downloading prepared folder to ready once
// its batch has left the worker. A batch that finishes between two polls is
// caught by the idle-tick counter.
func (o *Orchestrator) finishPreparedDownload() {
	job := o.prepDownload
	if job == nil {
		return
	}

	if containsAny(o.worker.ActivePlaylists(), job.names) {
		job.started = true
		job.idleTicks = 0
		return
	}
	if !job.started {
		if o.worker.Busy() {
			// Queued behind a rotation batch.
			return
		}
		job.idleTicks++
		if job.idleTicks < 2 {
			return
		}
	}

	o.prepDownload = nil
	rot, err := o.prepared.RefreshVideoCount(job.slug)
	if err != nil {
		o.log.Error("refreshing prepared video count failed",
			slog.String("slug", job.slug),
			slog.String("error", err.Error()),
		)
		return
	}
	if rot.Status != prepared.StatusDownloading {
		// The owner deleted or edited the rotation mid-download; keep their
		// status.
		return
	}

	if rot.VideoCount == 0 {
		if _, err := o.prepared.UpdateStatus(job.slug, prepared.StatusCreated); err != nil {
			o.log.Warn("updating prepared status failed", slog.String("error", err.Error()))
		}
		o.notifier.Warning("Prepared download empty",
			fmt.Sprintf("No videos landed in %q; check the playlist URLs.", job.slug))
		return
	}

	if _, err := o.prepared.UpdateStatus(job.slug, prepared.StatusReady); err != nil {
		o.log.Warn("updating prepared status failed", slog.String("error", err.Error()))
	}
	o.log.Info("prepared rotation ready",
		slog.String("slug", job.slug),
		slog.Int("videos", rot.VideoCount),
	)
	o.notifier.Success("Prepared rotation ready",
		fmt.Sprintf("%q downloaded %d videos.", job.slug, rot.VideoCount))
}

// executePrepared copies a prepared folder on screen. The folder survives
// execution so it can be replayed; its files play with per-file deletion
// disabled.
func (o *Orchestrator) executePrepared(ctx context.Context, slug string) error {
	rot, err := o.prepared.Get(slug)
	if err != nil {
		return err
	}
	switch rot.Status {
	case prepared.StatusReady, prepared.StatusScheduled, prepared.StatusCompleted:
	default:
		return fmt.Errorf("prepared rotation %q is not executable while %q", slug, rot.Status)
	}

	dir, err := o.prepared.Folder(slug)
	if err != nil {
		return err
	}
	if _, err := o.prepared.UpdateStatus(slug, prepared.StatusExecuting); err != nil {
		return err
	}

	if err := o.manager.ExecutePrepared(ctx, dir, rot.Playlists, prepared.MetadataFile); err != nil {
		if _, uerr := o.prepared.UpdateStatus(slug, prepared.StatusReady); uerr != nil {
			o.log.Warn("restoring prepared status failed", slog.String("error", uerr.Error()))
		}
		return err
	}

	o.clearSeek()
	if _, err := o.prepared.UpdateStatus(slug, prepared.StatusCompleted); err != nil {
		o.log.Warn("updating prepared status failed", slog.String("error", err.Error()))
	}
	o.notifier.Success("Prepared rotation live", rot.Title)
	return nil
}

func (o *Orchestrator) cmdUpdateEnv(cmd dashboard.Command) error {
	key := cmd.String("key")
	if key == "" {
		return errors.New(`argument "key" is required`)
	}
	return config.UpdateEnvFile(o.cfg.Content.EnvFile, key, cmd.String("value"))
}

func containsAny(haystack, needles []string) bool {
	for _, h := range haystack {
		for _, n := range needles {
			if h == n {
				return true
			}
		}
	}
	return false
}
