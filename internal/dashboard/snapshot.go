package dashboard

import (
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/jmylchreest/rotarr/internal/prepared"
)

// PlaybackStatus is the live playback state block of a snapshot.
type PlaybackStatus struct {
	Connected           bool   `json:"connected"`
	Scene               string `json:"scene,omitempty"`
	CurrentVideo        string `json:"current_video,omitempty"`
	PositionMS          int64  `json:"position_ms"`
	TempPlayback        bool   `json:"temp_playback"`
	FallbackTier        string `json:"fallback_tier"`
	StreamerLive        bool   `json:"streamer_live"`
	Paused              bool   `json:"paused"`
	OverrideActive      bool   `json:"override_active"`
	WorkerBusy          bool   `json:"worker_busy"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
}

// NextPlaylist is one entry of the next-rotation preparation state.
type NextPlaylist struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// SessionSnapshot summarises the active rotation session.
type SessionSnapshot struct {
	ID            string         `json:"id"`
	StartedAt     time.Time      `json:"started_at"`
	Playlists     []string       `json:"playlists"`
	StreamTitle   string         `json:"stream_title"`
	NextPlaylists []NextPlaylist `json:"next_playlists,omitempty"`
}

// PlaylistSnapshot is one catalog playlist with its play history.
type PlaylistSnapshot struct {
	Name       string     `json:"name"`
	URL        string     `json:"url"`
	Enabled    bool       `json:"enabled"`
	Priority   int        `json:"priority"`
	IsShort    bool       `json:"is_short"`
	Category   string     `json:"category,omitempty"`
	PlayCount  int        `json:"play_count"`
	LastPlayed *time.Time `json:"last_played,omitempty"`
}

// SystemSnapshot carries host and process statistics for the dashboard
// header.
type SystemSnapshot struct {
	Load1Min        float64 `json:"load_1min"`
	MemoryUsedMB    float64 `json:"memory_used_mb"`
	MemoryTotalMB   float64 `json:"memory_total_mb"`
	ProcessMemoryMB float64 `json:"process_memory_mb"`
	Goroutines      int     `json:"goroutines"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
}

// Snapshot is the full dashboard state pushed to clients on the snapshot
// cadence and served from the status endpoint between pushes.
type Snapshot struct {
	Timestamp time.Time            `json:"timestamp"`
	Status    PlaybackStatus       `json:"status"`
	Session   *SessionSnapshot     `json:"session,omitempty"`
	Playlists []PlaylistSnapshot   `json:"playlists"`
	Prepared  []*prepared.Rotation `json:"prepared"`
	System    SystemSnapshot       `json:"system"`
}

// CollectSystem gathers host statistics for a snapshot. Collection errors
// leave the affected fields at zero; a dashboard with partial numbers beats
// no dashboard.
func CollectSystem(startTime time.Time) SystemSnapshot {
	sys := SystemSnapshot{
		Goroutines:    runtime.NumGoroutine(),
		UptimeSeconds: time.Since(startTime).Seconds(),
	}

	if avg, err := load.Avg(); err == nil && avg != nil {
		sys.Load1Min = avg.Load1
	}
	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		sys.MemoryUsedMB = float64(vm.Used) / 1024 / 1024
		sys.MemoryTotalMB = float64(vm.Total) / 1024 / 1024
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if info, err := proc.MemoryInfo(); err == nil && info != nil {
			sys.ProcessMemoryMB = float64(info.RSS) / 1024 / 1024
		}
	}
	return sys
}
