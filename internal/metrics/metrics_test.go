package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersAndGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(JobRuns, SafetySkips, PendingDeadlines)

	JobRuns.WithLabelValues("status_sync", "ok").Inc()
	SafetySkips.WithLabelValues("policy_disabled").Add(2)
	PendingDeadlines.Set(3)

	expectedRuns := `# HELP ptguard_job_runs_total Scheduled job executions by outcome.
# TYPE ptguard_job_runs_total counter
ptguard_job_runs_total{job="status_sync",result="ok"} 1
`
	if err := testutil.CollectAndCompare(JobRuns, strings.NewReader(expectedRuns)); err != nil {
		t.Fatalf("unexpected job runs metric: %v", err)
	}

	expectedSkips := `# HELP ptguard_safety_skips_total Safety actions skipped because policy disabled them or state was stale.
# TYPE ptguard_safety_skips_total counter
ptguard_safety_skips_total{reason="policy_disabled"} 2
`
	if err := testutil.CollectAndCompare(SafetySkips, strings.NewReader(expectedSkips)); err != nil {
		t.Fatalf("unexpected safety skips metric: %v", err)
	}

	expectedGauge := `# HELP ptguard_pending_deadlines One-shot deadline jobs waiting to fire.
# TYPE ptguard_pending_deadlines gauge
ptguard_pending_deadlines 3
`
	if err := testutil.CollectAndCompare(PendingDeadlines, strings.NewReader(expectedGauge)); err != nil {
		t.Fatalf("unexpected pending deadlines gauge: %v", err)
	}
}

func TestDownloaderLatencyHistogram(t *testing.T) {
	DownloaderRPCLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ptguard",
			Name:      "downloader_rpc_latency_seconds",
			Help:      "Latency of download client calls.",
		},
		[]string{"kind", "method"},
	)

	DownloaderRPCLatency.WithLabelValues("qbittorrent", "torrents/info").Observe(0.03)
	DownloaderRPCLatency.WithLabelValues("qbittorrent", "torrents/info").Observe(0.6)

	if n := testutil.CollectAndCount(DownloaderRPCLatency); n != 1 {
		t.Fatalf("expected one series, got %d", n)
	}
	if err := testutil.CollectAndCompare(DownloaderRPCLatency, strings.NewReader(`# HELP ptguard_downloader_rpc_latency_seconds Latency of download client calls.
# TYPE ptguard_downloader_rpc_latency_seconds histogram
ptguard_downloader_rpc_latency_seconds_bucket{kind="qbittorrent",method="torrents/info",le="0.005"} 0
ptguard_downloader_rpc_latency_seconds_bucket{kind="qbittorrent",method="torrents/info",le="0.01"} 0
ptguard_downloader_rpc_latency_seconds_bucket{kind="qbittorrent",method="torrents/info",le="0.025"} 0
ptguard_downloader_rpc_latency_seconds_bucket{kind="qbittorrent",method="torrents/info",le="0.05"} 1
ptguard_downloader_rpc_latency_seconds_bucket{kind="qbittorrent",method="torrents/info",le="0.1"} 1
ptguard_downloader_rpc_latency_seconds_bucket{kind="qbittorrent",method="torrents/info",le="0.25"} 1
ptguard_downloader_rpc_latency_seconds_bucket{kind="qbittorrent",method="torrents/info",le="0.5"} 1
ptguard_downloader_rpc_latency_seconds_bucket{kind="qbittorrent",method="torrents/info",le="1"} 2
ptguard_downloader_rpc_latency_seconds_bucket{kind="qbittorrent",method="torrents/info",le="2.5"} 2
ptguard_downloader_rpc_latency_seconds_bucket{kind="qbittorrent",method="torrents/info",le="5"} 2
ptguard_downloader_rpc_latency_seconds_bucket{kind="qbittorrent",method="torrents/info",le="10"} 2
ptguard_downloader_rpc_latency_seconds_bucket{kind="qbittorrent",method="torrents/info",le="+Inf"} 2
ptguard_downloader_rpc_latency_seconds_sum{kind="qbittorrent",method="torrents/info"} 0.63
ptguard_downloader_rpc_latency_seconds_count{kind="qbittorrent",method="torrents/info"} 2
`)); err != nil {
		t.Fatalf("unexpected histogram: %v", err)
	}
}
