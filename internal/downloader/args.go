package downloader

import (
	"fmt"
	"path/filepath"

	"github.com/jmylchreest/rotarr/internal/config"
	"github.com/jmylchreest/rotarr/internal/content"
	"github.com/jmylchreest/rotarr/internal/version"
)

// Download tool defaults.
const (
	DefaultBinary = "yt-dlp"

	// defaultFormat prefers progressive mp4 up to 1080p so the compositor's
	// media source never has to remux.
	defaultFormat = "bestvideo[height<=1080]+bestaudio/best[height<=1080]"

	downloadRetries = 10
	fragmentRetries = 10
)

// ArgsSpec carries everything needed to build one yt-dlp invocation.
type ArgsSpec struct {
	// PlaylistName keys the output template. It is sanitised for
	// filesystem use before templating.
	PlaylistName string

	// URL is the remote playlist.
	URL string

	// TargetDir receives the files and the shared archive file.
	TargetDir string

	// Format overrides the default format selector.
	Format string

	// RateLimit caps the download rate in bytes per second. Zero means
	// unlimited.
	RateLimit config.ByteSize

	// UseCookies extracts cookies from Browser for age or region locked
	// playlists.
	UseCookies bool
	Browser    string

	// Verbose passes the tool's own verbose flag through.
	Verbose bool
}

// BuildArgs assembles the yt-dlp argument vector. The archive file keeps
// previously downloaded and since-deleted videos from being fetched again,
// which temp playback depends on.
func BuildArgs(spec ArgsSpec) []string {
	format := spec.Format
	if format == "" {
		format = defaultFormat
	}

	outputTemplate := filepath.Join(
		spec.TargetDir,
		content.SanitizeName(spec.PlaylistName)+"_%(playlist_index)02d_%(title)s.%(ext)s",
	)

	args := []string{
		"--format", format,
		"--output", outputTemplate,
		"--download-archive", filepath.Join(spec.TargetDir, content.ArchiveFile),
		"--retries", fmt.Sprintf("%d", downloadRetries),
		"--fragment-retries", fmt.Sprintf("%d", fragmentRetries),
		"--geo-bypass",
		"--ignore-errors",
		"--no-overwrites",
		"--restrict-filenames",
		"--match-filter", "!is_live",
		"--user-agent", version.UserAgent(),
		"--newline",
	}

	if spec.UseCookies && spec.Browser != "" {
		args = append(args, "--cookies-from-browser", spec.Browser)
	}
	if spec.RateLimit > 0 {
		args = append(args, "--limit-rate", fmt.Sprintf("%d", int64(spec.RateLimit)))
	}
	if spec.Verbose {
		args = append(args, "--verbose")
	}

	args = append(args, spec.URL)
	return args
}
