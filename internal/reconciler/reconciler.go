// Package reconciler turns download client push events into targeted
// status reconciliation. Events are only nudges: a burst of events for one
// client collapses into a single re-read of that client.
package reconciler

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tinoosan/ptguard/internal/downloader"
	"github.com/tinoosan/ptguard/internal/metrics"
)

// DefaultDebounce is how long events for a client are gathered before the
// client is reconciled.
const DefaultDebounce = 2 * time.Second

// ClientReconciler re-reads one client and applies transitions.
type ClientReconciler interface {
	ReconcileClient(ctx context.Context, clientID int64) (int, error)
}

// Reconciler consumes downloader events and reconciles the clients they
// came from.
type Reconciler struct {
	rec      ClientReconciler
	events   <-chan downloader.Event
	debounce time.Duration
	log      *slog.Logger
	ctx      context.Context
	cancel   context.CancelFunc

	mu      sync.Mutex
	pending map[int64]struct{}

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a Reconciler. A non-positive debounce uses DefaultDebounce.
func New(log *slog.Logger, rec ClientReconciler, events <-chan downloader.Event, debounce time.Duration) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Reconciler{
		rec:      rec,
		events:   events,
		debounce: debounce,
		log:      log,
		ctx:      context.Background(),
		pending:  make(map[int64]struct{}),
	}
}

// Run starts the event loop.
func (r *Reconciler) Run() {
	r.stop = make(chan struct{})
	r.ctx, r.cancel = context.WithCancel(r.ctx)
	r.log = r.log.With("operation_id", uuid.NewString())
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		timer := time.NewTimer(r.debounce)
		if !timer.Stop() {
			<-timer.C
		}
		armed := false
		for {
			select {
			case <-r.stop:
				timer.Stop()
				return
			case e, ok := <-r.events:
				if !ok {
					r.flush()
					return
				}
				if r.handle(e) && !armed {
					timer.Reset(r.debounce)
					armed = true
				}
			case <-timer.C:
				armed = false
				r.flush()
			}
		}
	}()
}

// Stop terminates the event loop. Pending nudges are dropped.
func (r *Reconciler) Stop() {
	if r.stop != nil {
		close(r.stop)
		if r.cancel != nil {
			r.cancel()
		}
		r.wg.Wait()
	}
}

// handle records e and reports whether a reconcile is now pending.
func (r *Reconciler) handle(e downloader.Event) bool {
	metrics.DownloaderEvents.WithLabelValues(strings.ToLower(string(e.Type))).Inc()
	if e.ClientID == 0 {
		r.log.Debug("event without client", "hash", e.Hash, "type", e.Type)
		return false
	}
	r.log.Debug("client event", "client_id", e.ClientID, "hash", e.Hash, "type", e.Type)
	r.mu.Lock()
	r.pending[e.ClientID] = struct{}{}
	r.mu.Unlock()
	return true
}

func (r *Reconciler) flush() {
	r.mu.Lock()
	ids := make([]int64, 0, len(r.pending))
	for id := range r.pending {
		ids = append(ids, id)
	}
	r.pending = make(map[int64]struct{})
	r.mu.Unlock()

	for _, id := range ids {
		n, err := r.rec.ReconcileClient(r.ctx, id)
		if err != nil {
			r.log.Error("reconcile after event", "client_id", id, "err", err)
			continue
		}
		if n > 0 {
			r.log.Info("reconciled after event", "client_id", id, "changed", n)
		}
	}
}
