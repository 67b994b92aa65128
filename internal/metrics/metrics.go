// Package metrics defines the Prometheus collectors rotarr exposes on the
// dashboard's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	TicksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rotarr",
		Name:      "ticks_total",
		Help:      "Total orchestrator ticks executed.",
	})

	TickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "rotarr",
		Name:      "tick_duration_seconds",
		Help:      "Orchestrator tick duration in seconds.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	TransitionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rotarr",
		Name:      "video_transitions_total",
		Help:      "Total detected video transitions.",
	})

	FilesDeletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rotarr",
		Name:      "files_deleted_total",
		Help:      "Total consumed video files deleted by the playback monitor.",
	})

	RotationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rotarr",
		Name:      "rotations_total",
		Help:      "Total content switches executed.",
	})

	DownloadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rotarr",
		Name:      "downloads_total",
		Help:      "Total playlist downloads by result.",
	}, []string{"result"})

	DownloadDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "rotarr",
		Name:      "download_duration_seconds",
		Help:      "Per-playlist download duration in seconds.",
		Buckets:   []float64{10, 30, 60, 120, 300, 600, 1800, 3600},
	})

	FallbackTier = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rotarr",
		Name:      "fallback_tier",
		Help:      "Active fallback tier (0 = normal playback).",
	})

	FallbackActivationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rotarr",
		Name:      "fallback_activations_total",
		Help:      "Total fallback activations by tier.",
	}, []string{"tier"})

	ReconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rotarr",
		Name:      "compositor_reconnects_total",
		Help:      "Total successful compositor reconnects.",
	})

	CompositorConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rotarr",
		Name:      "compositor_connected",
		Help:      "Whether the compositor websocket is connected (0/1).",
	})

	FreezeRecoveriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rotarr",
		Name:      "freeze_recoveries_total",
		Help:      "Total compositor relaunches triggered by the freeze monitor.",
	})

	PlatformPushesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rotarr",
		Name:      "platform_pushes_total",
		Help:      "Total stream info pushes by platform and result.",
	}, []string{"platform", "result"})

	LiveChecksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rotarr",
		Name:      "live_checks_total",
		Help:      "Total upstream liveness polls by result.",
	}, []string{"result"})

	StreamerLive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rotarr",
		Name:      "streamer_live",
		Help:      "Whether the upstream streamer is live (0/1).",
	})

	TempPlaybackActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rotarr",
		Name:      "temp_playback_active",
		Help:      "Whether playback currently runs out of the pending folder (0/1).",
	})

	VideosRegisteredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rotarr",
		Name:      "videos_registered_total",
		Help:      "Total downloaded videos registered with the store.",
	})

	RegistrationQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rotarr",
		Name:      "registration_queue_depth",
		Help:      "Videos waiting in the cross-thread registration queue.",
	})

	DashboardClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rotarr",
		Name:      "dashboard_clients",
		Help:      "Connected dashboard websocket clients.",
	})

	MaintenanceRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rotarr",
		Name:      "maintenance_runs_total",
		Help:      "Completed maintenance runs by job and result.",
	}, []string{"job", "result"})
)

// Register adds every rotarr collector to the given registry.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		TicksTotal,
		TickDuration,
		TransitionsTotal,
		FilesDeletedTotal,
		RotationsTotal,
		DownloadsTotal,
		DownloadDuration,
		FallbackTier,
		FallbackActivationsTotal,
		ReconnectsTotal,
		CompositorConnected,
		FreezeRecoveriesTotal,
		PlatformPushesTotal,
		LiveChecksTotal,
		StreamerLive,
		TempPlaybackActive,
		VideosRegisteredTotal,
		RegistrationQueueDepth,
		DashboardClients,
		MaintenanceRunsTotal,
	)
}
