// Package startup runs the one-shot recovery tasks performed before the
// first orchestrator tick.
package startup

import (
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
)

// partialDownloadRe matches the working files yt-dlp leaves behind when a
// download is interrupted: .part payloads (including fragment parts), .ytdl
// state files, .temp.<ext> post-processing scratch, and unmerged .fNNN.<ext>
// format streams.
var partialDownloadRe = regexp.MustCompile(`(?i)(\.part(-frag\d+)?|\.ytdl|\.temp\.[a-z0-9]+|\.f\d+\.[a-z0-9]+)$`)

// IsPartialDownload reports whether the filename is an interrupted-download
// leftover rather than a playable video.
func IsPartialDownload(name string) bool {
	return partialDownloadRe.MatchString(name)
}

// CleanupPartialDownloads removes interrupted-download leftovers from the
// given folders. A crash mid-download leaves .part/.ytdl files that the
// media source would otherwise try to play. Missing folders are skipped.
//
// Returns the number of files removed.
func CleanupPartialDownloads(log *slog.Logger, dirs ...string) (int, error) {
	if log == nil {
		log = slog.Default()
	}

	removed := 0
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			log.Error("reading folder for cleanup failed",
				slog.String("path", dir),
				slog.String("error", err.Error()),
			)
			return removed, err
		}

		for _, entry := range entries {
			if entry.IsDir() || !IsPartialDownload(entry.Name()) {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			if err := os.Remove(path); err != nil {
				log.Warn("removing partial download failed",
					slog.String("path", path),
					slog.String("error", err.Error()),
				)
				continue
			}
			log.Info("removed partial download", slog.String("path", path))
			removed++
		}
	}
	return removed, nil
}
