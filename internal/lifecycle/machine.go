// Package lifecycle owns the status of every acquired item. It moves items
// through their states in response to the download client, promotion
// deadlines, disk capacity and tracker de-listing, and it never moves an
// item back into an active state.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tinoosan/ptguard/internal/audit"
	"github.com/tinoosan/ptguard/internal/data"
	"github.com/tinoosan/ptguard/internal/downloader"
	"github.com/tinoosan/ptguard/internal/metrics"
	"github.com/tinoosan/ptguard/internal/policy"
	"github.com/tinoosan/ptguard/internal/repo"
	"github.com/tinoosan/ptguard/internal/scheduler"
)

// DefaultExpiryLead is how long before a promotion deadline the expiry job fires.
const DefaultExpiryLead = time.Minute

var (
	ErrMissingClient = errors.New("download client not configured")
	// ErrPenaltyGuard is returned when a transition would delete an item
	// that carries a hit-and-run obligation.
	ErrPenaltyGuard = errors.New("transition refused for hit-and-run item")
)

// Store is the persistence the machine needs.
type Store interface {
	repo.ItemRepo
	repo.ClientRepo
	repo.SettingsRepo
}

// Clients resolves a stored client configuration to a live client.
type Clients interface {
	Get(cfg *data.Client) (downloader.Client, error)
}

// Timers registers and cancels one-shot jobs.
type Timers interface {
	ScheduleOnce(id, label string, at time.Time, job scheduler.Job) time.Time
	Cancel(id string) bool
}

type noTimers struct{}

func (noTimers) ScheduleOnce(_, _ string, at time.Time, _ scheduler.Job) time.Time { return at }
func (noTimers) Cancel(string) bool                                                { return false }

// Options tune a Machine.
type Options struct {
	ExpiryLead time.Duration
	// UnregisteredMarkers are matched against tracker messages by
	// SweepUnregistered. Empty means "unregistered".
	UnregisteredMarkers []string
}

// Machine applies lifecycle transitions. All methods are safe for
// concurrent use; every write re-checks the stored record.
type Machine struct {
	store   Store
	clients Clients
	timers  Timers
	audit   audit.Sink
	lead    time.Duration
	markers []string
	log     *slog.Logger
	now     func() time.Time
}

func New(store Store, clients Clients, timers Timers, sink audit.Sink, log *slog.Logger, opts Options) *Machine {
	if log == nil {
		log = slog.Default()
	}
	if sink == nil {
		sink = audit.Discard
	}
	if timers == nil {
		timers = noTimers{}
	}
	if opts.ExpiryLead <= 0 {
		opts.ExpiryLead = DefaultExpiryLead
	}
	if len(opts.UnregisteredMarkers) == 0 {
		opts.UnregisteredMarkers = []string{"unregistered"}
	}
	return &Machine{
		store:   store,
		clients: clients,
		timers:  timers,
		audit:   sink,
		lead:    opts.ExpiryLead,
		markers: opts.UnregisteredMarkers,
		log:     log,
		now:     time.Now,
	}
}

// ExpiryJobID names the one-shot job guarding item id.
func ExpiryJobID(id int64) string { return fmt.Sprintf("expiry_%d", id) }

func (m *Machine) opLogger(op string) *slog.Logger {
	return m.log.With("op", op, "operation_id", uuid.NewString())
}

func (m *Machine) capacity(ctx context.Context) (policy.Capacity, error) {
	c, err := repo.LoadCapacity(ctx, m.store)
	if err != nil {
		return c, fmt.Errorf("load capacity policy: %w", err)
	}
	return c, nil
}

// client resolves the live client for a stored client id.
func (m *Machine) client(ctx context.Context, id int64) (downloader.Client, error) {
	if id == 0 {
		return nil, ErrMissingClient
	}
	cfg, err := m.store.GetClient(ctx, id)
	if errors.Is(err, data.ErrNotFound) {
		return nil, fmt.Errorf("client %d: %w", id, ErrMissingClient)
	}
	if err != nil {
		return nil, err
	}
	return m.clients.Get(cfg)
}

// eligibility re-checks a freshly loaded record inside the write.
type eligibility func(cur *data.Item) bool

func isActive(cur *data.Item) bool { return cur.Status.Active() }

// transition moves item id to next when ok still holds for the stored copy.
// It returns data.ErrStaleTransition when the record moved on meanwhile.
func (m *Machine) transition(ctx context.Context, log *slog.Logger, id int64, next data.ItemStatus, ok eligibility) (*data.Item, error) {
	var prev data.ItemStatus
	it, err := m.store.UpdateItem(ctx, id, func(cur *data.Item) error {
		if ok != nil && !ok(cur) {
			return data.ErrStaleTransition
		}
		if !cur.Status.CanAdvanceTo(next) {
			return data.ErrStaleTransition
		}
		if cur.HitAndRun && next.Destructive() {
			return ErrPenaltyGuard
		}
		prev = cur.Status
		cur.Status = next
		return nil
	})
	if err != nil {
		if errors.Is(err, data.ErrStaleTransition) {
			log.Debug("transition skipped, record changed", "item_id", id, "to", next)
		}
		return nil, err
	}
	metrics.Transitions.WithLabelValues(string(prev), string(next)).Inc()
	log.Info("item transitioned", "item_id", id, "torrent_id", it.TorrentID, "from", prev, "to", next)
	if !next.Active() {
		m.timers.Cancel(ExpiryJobID(id))
	}
	return it, nil
}

func (m *Machine) emit(ctx context.Context, kind audit.Kind, it *data.Item, msg string) {
	e := audit.Event{Kind: kind, Message: msg}
	if it != nil {
		e.ItemID = it.ID
		e.Status = string(it.Status)
	}
	m.audit.Emit(ctx, e)
}

// ScheduleExpiry registers the deadline job for it, or cancels it when the
// item has no deadline or is no longer active.
func (m *Machine) ScheduleExpiry(it *data.Item) time.Time {
	id := ExpiryJobID(it.ID)
	if it.DiscountEnd == nil || !it.Status.Active() {
		m.timers.Cancel(id)
		return time.Time{}
	}
	itemID := it.ID
	return m.timers.ScheduleOnce(id, "expiry "+it.TorrentID, it.DiscountEnd.Add(-m.lead), func(ctx context.Context) error {
		return m.HandleExpiry(ctx, itemID)
	})
}

// RestoreDeadlines re-registers the deadline job of every active item with
// a promotion deadline. It runs once at startup.
func (m *Machine) RestoreDeadlines(ctx context.Context) (int, error) {
	items, err := m.store.ListItems(ctx, data.ItemFilter{Statuses: data.ActiveStatuses, HasDeadline: true})
	if err != nil {
		return 0, fmt.Errorf("list deadlines: %w", err)
	}
	for _, it := range items {
		m.ScheduleExpiry(it)
	}
	if len(items) > 0 {
		m.log.Info("restored deadline jobs", "count", len(items))
	}
	return len(items), nil
}
