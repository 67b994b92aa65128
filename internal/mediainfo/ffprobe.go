// Package mediainfo probes downloaded video files for the metadata the
// store records: duration and file size. It shells out to ffprobe the same
// way the downloader shells out to yt-dlp.
package mediainfo

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"
)

// DefaultTimeout bounds a single probe. Local files answer in well under a
// second; the timeout only matters when a download left a truncated file.
const DefaultTimeout = 30 * time.Second

// Info is the per-file metadata registered with the store.
type Info struct {
	DurationSeconds float64
	FileSizeMB      float64
	Title           string
}

// Prober probes local video files with ffprobe.
type Prober struct {
	binary  string
	timeout time.Duration
}

// NewProber creates a prober using the given ffprobe binary. An empty binary
// falls back to "ffprobe" on PATH.
func NewProber(binary string) *Prober {
	if binary == "" {
		binary = "ffprobe"
	}
	return &Prober{binary: binary, timeout: DefaultTimeout}
}

// WithTimeout sets the per-probe timeout.
func (p *Prober) WithTimeout(timeout time.Duration) *Prober {
	if timeout > 0 {
		p.timeout = timeout
	}
	return p
}

// probeFormat is the subset of ffprobe's -show_format output we consume.
type probeFormat struct {
	Format struct {
		Duration string            `json:"duration"`
		Size     string            `json:"size"`
		Tags     map[string]string `json:"tags"`
	} `json:"format"`
}

// Probe returns the file's duration, size, and container title. A file
// ffprobe cannot parse still yields its on-disk size so registration never
// blocks on a bad container; the duration comes back zero.
func (p *Prober) Probe(ctx context.Context, path string) (Info, error) {
	info := Info{FileSizeMB: fileSizeMB(path)}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		path,
	}
	cmd := exec.CommandContext(ctx, p.binary, args...)
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return info, fmt.Errorf("probe timeout after %v", p.timeout)
		}
		return info, fmt.Errorf("ffprobe %s: %w", path, err)
	}

	var result probeFormat
	if err := json.Unmarshal(output, &result); err != nil {
		return info, fmt.Errorf("parsing ffprobe output for %s: %w", path, err)
	}

	if d, err := strconv.ParseFloat(result.Format.Duration, 64); err == nil {
		info.DurationSeconds = d
	}
	if size, err := strconv.ParseFloat(result.Format.Size, 64); err == nil && size > 0 {
		info.FileSizeMB = size / (1024 * 1024)
	}
	info.Title = result.Format.Tags["title"]

	return info, nil
}

// fileSizeMB stats the file directly so size survives probe failures.
func fileSizeMB(path string) float64 {
	st, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return float64(st.Size()) / (1024 * 1024)
}
