package reconciler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/tinoosan/ptguard/internal/downloader"
)

type countingReconciler struct {
	mu    sync.Mutex
	calls map[int64]int
	done  chan struct{}
}

func (c *countingReconciler) ReconcileClient(_ context.Context, id int64) (int, error) {
	c.mu.Lock()
	c.calls[id]++
	c.mu.Unlock()
	select {
	case c.done <- struct{}{}:
	default:
	}
	return 1, nil
}

func (c *countingReconciler) count(id int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[id]
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// TestBurstCollapses ensures a burst of events for one client triggers a
// single reconcile and events without a client are ignored.
func TestBurstCollapses(t *testing.T) {
	rec := &countingReconciler{calls: map[int64]int{}, done: make(chan struct{}, 1)}
	events := make(chan downloader.Event, 16)
	r := New(quiet(), rec, events, 20*time.Millisecond)
	r.Run()
	defer r.Stop()

	for i := 0; i < 5; i++ {
		events <- downloader.Event{ClientID: 3, Hash: "abc", Type: downloader.EventComplete}
	}
	events <- downloader.Event{Hash: "zzz", Type: downloader.EventFailed}

	select {
	case <-rec.done:
	case <-time.After(5 * time.Second):
		t.Fatal("reconcile not triggered")
	}
	time.Sleep(60 * time.Millisecond)
	if n := rec.count(3); n != 1 {
		t.Fatalf("reconciles = %d, want 1", n)
	}
	if n := rec.count(0); n != 0 {
		t.Fatalf("client-less event reconciled")
	}
}

func TestClosedChannelFlushes(t *testing.T) {
	rec := &countingReconciler{calls: map[int64]int{}, done: make(chan struct{}, 1)}
	events := make(chan downloader.Event, 4)
	r := New(quiet(), rec, events, time.Hour)
	events <- downloader.Event{ClientID: 7, Type: downloader.EventStopped}
	close(events)
	r.Run()
	r.wg.Wait()
	if rec.count(7) != 1 {
		t.Fatal("pending client not reconciled on close")
	}
	r.Stop()
}
