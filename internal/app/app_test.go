package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinoosan/ptguard/internal/config"
	"github.com/tinoosan/ptguard/internal/data"
	"github.com/tinoosan/ptguard/internal/jobs"
	"github.com/tinoosan/ptguard/internal/lifecycle"
)

func testConfig() *config.Config {
	return &config.Config{
		Database:     config.DatabaseConfig{Driver: "memory"},
		SessionStore: config.SessionStoreConfig{Driver: "memory", TTL: time.Minute, MaxItems: 4},
		Tracker:      config.TrackerConfig{TimeZone: "Asia/Shanghai", RequestDelay: time.Millisecond},
	}
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNewWiresEveryJob(t *testing.T) {
	a, err := New(context.Background(), testConfig(), quiet())
	require.NoError(t, err)
	defer a.Close()

	assert.Len(t, a.Jobs.Names(), 8)
	require.NoError(t, a.Jobs.Run(context.Background(), jobs.StatusSync))
}

func TestStartRestoresDeadlinesAndInstallsJobs(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(), quiet())
	require.NoError(t, err)
	defer a.Close()

	end := time.Now().Add(time.Hour)
	it, err := a.Store.AddItem(ctx, &data.Item{TorrentID: "1", Status: data.StatusDownloading, Discount: data.DiscountFree, DiscountEnd: &end})
	require.NoError(t, err)

	stop, err := a.Start(ctx)
	require.NoError(t, err)

	ids := map[string]bool{}
	for _, e := range a.Scheduler.Snapshot() {
		ids[e.ID] = true
	}
	assert.True(t, ids[jobs.StatsSnapshot], "stats snapshot is always installed")
	_, armed := a.Scheduler.Next(lifecycle.ExpiryJobID(it.ID))
	assert.True(t, armed, "active item deadline restored")

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, stop(stopCtx))
}

func TestBadTimeZone(t *testing.T) {
	cfg := testConfig()
	cfg.Tracker.TimeZone = "Mars/Olympus"
	_, err := New(context.Background(), cfg, quiet())
	assert.Error(t, err)
}

func TestOpenStoreUnknownDriver(t *testing.T) {
	_, err := OpenStore(context.Background(), config.DatabaseConfig{Driver: "mongo"})
	assert.ErrorIs(t, err, config.ErrDriver)
}
