package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	JobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ptguard",
			Name:      "job_runs_total",
			Help:      "Scheduled job executions by outcome.",
		},
		[]string{"job", "result"},
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ptguard",
			Name:      "job_duration_seconds",
			Help:      "Duration of scheduled job executions.",
		},
		[]string{"job"},
	)

	Transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ptguard",
			Name:      "item_transitions_total",
			Help:      "Lifecycle status transitions applied to items.",
		},
		[]string{"from", "to"},
	)

	SafetySkips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ptguard",
			Name:      "safety_skips_total",
			Help:      "Safety actions skipped because policy disabled them or state was stale.",
		},
		[]string{"reason"},
	)

	DownloaderRPCErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ptguard",
			Name:      "downloader_rpc_errors_total",
			Help:      "Errors from download client calls.",
		},
		[]string{"kind", "method"},
	)

	DownloaderRPCLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ptguard",
			Name:      "downloader_rpc_latency_seconds",
			Help:      "Latency of download client calls.",
		},
		[]string{"kind", "method"},
	)

	DownloaderEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ptguard",
			Name:      "downloader_events_total",
			Help:      "Push events received from download clients.",
		},
		[]string{"type"},
	)

	TrackerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ptguard",
			Name:      "tracker_requests_total",
			Help:      "Requests sent to the tracker by page and outcome.",
		},
		[]string{"page", "result"},
	)

	ScrapeDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ptguard",
			Name:      "scrape_dropped_total",
			Help:      "Malformed rows dropped while parsing tracker pages.",
		},
		[]string{"page"},
	)

	PendingDeadlines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ptguard",
			Name:      "pending_deadlines",
			Help:      "One-shot deadline jobs waiting to fire.",
		},
	)
)

// Register registers the ptguard metrics into the default registry.
func Register() {
	prometheus.MustRegister(JobRuns, JobDuration, Transitions, SafetySkips, DownloaderRPCErrors,
		DownloaderRPCLatency, DownloaderEvents, TrackerRequests, ScrapeDropped, PendingDeadlines)
}
