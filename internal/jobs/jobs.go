// Package jobs binds the recurring work to the scheduler: each job has a
// stable name, can be run on demand, and is installed or removed according
// to the persisted intervals and switches.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/tinoosan/ptguard/internal/audit"
	"github.com/tinoosan/ptguard/internal/data"
	"github.com/tinoosan/ptguard/internal/downloader"
	"github.com/tinoosan/ptguard/internal/repo"
	"github.com/tinoosan/ptguard/internal/scheduler"
	"github.com/tinoosan/ptguard/internal/tracker"
)

const (
	AutoAcquire       = "auto_download"
	AccountRefresh    = "account_refresh"
	StatusSync        = "status_sync"
	ExpiredCheck      = "expired_check"
	DynamicDelete     = "dynamic_delete"
	UnregisteredCheck = "unregistered_check"
	HitAndRunSync     = "hr_sync"
	StatsSnapshot     = "stats_snapshot"
)

var ErrUnknownJob = errors.New("unknown job")

// Lifecycle is the sweep surface of the lifecycle machine.
type Lifecycle interface {
	Reconcile(ctx context.Context) (int, error)
	SweepNonFree(ctx context.Context) (int, error)
	SweepExpired(ctx context.Context) (int, error)
	Evict(ctx context.Context) (int, error)
	SweepUnregistered(ctx context.Context) (int, error)
}

type Acquirer interface {
	AutoAcquire(ctx context.Context) (int, error)
}

// AccountSite is the tracker surface the account jobs need.
type AccountSite interface {
	UID(ctx context.Context) (string, error)
	UserStats(ctx context.Context, uid string) (*tracker.UserStats, error)
	Passkey(ctx context.Context) (string, error)
	HitAndRuns(ctx context.Context, status data.HitAndRunStatus) ([]data.HitAndRun, error)
}

type Sites interface {
	For(acc *data.Account) (AccountSite, error)
}

// PoolSites adapts a tracker.Pool to Sites.
type PoolSites struct{ Pool *tracker.Pool }

func (p PoolSites) For(acc *data.Account) (AccountSite, error) {
	s, err := p.Pool.For(acc)
	if err != nil {
		return nil, err
	}
	return s, nil
}

type Clients interface {
	Get(cfg *data.Client) (downloader.Client, error)
}

type Store interface {
	repo.AccountRepo
	repo.ClientRepo
	repo.HitAndRunRepo
	repo.SnapshotRepo
	repo.SettingsRepo
}

// Deps are the collaborators the jobs run against.
type Deps struct {
	Store     Store
	Lifecycle Lifecycle
	Acquirer  Acquirer
	Sites     Sites
	Clients   Clients
	Audit     audit.Sink
}

// Registry maps job names to their bodies.
type Registry struct {
	deps Deps
	jobs map[string]scheduler.Job
	log  *slog.Logger
}

func NewRegistry(deps Deps, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	if deps.Audit == nil {
		deps.Audit = audit.Discard
	}
	r := &Registry{deps: deps, jobs: make(map[string]scheduler.Job), log: log}
	r.add(AutoAcquire, counted(log, AutoAcquire, deps.Acquirer.AutoAcquire))
	r.add(StatusSync, r.statusSync)
	r.add(ExpiredCheck, counted(log, ExpiredCheck, deps.Lifecycle.SweepExpired))
	r.add(DynamicDelete, counted(log, DynamicDelete, deps.Lifecycle.Evict))
	r.add(UnregisteredCheck, counted(log, UnregisteredCheck, deps.Lifecycle.SweepUnregistered))
	r.add(AccountRefresh, r.refreshAccounts)
	r.add(HitAndRunSync, r.syncHitAndRuns)
	r.add(StatsSnapshot, r.snapshotStats)
	return r
}

// add registers fn under name, reporting an invalid tracker session to the
// audit sink.
func (r *Registry) add(name string, fn scheduler.Job) {
	r.jobs[name] = func(ctx context.Context) error {
		err := fn(ctx)
		if errors.Is(err, tracker.ErrSessionInvalid) {
			r.deps.Audit.Emit(ctx, audit.Event{Kind: audit.KindSessionInvalid, Message: fmt.Sprintf("%s: tracker session expired, log in again", name)})
		}
		return err
	}
}

func counted(log *slog.Logger, name string, fn func(context.Context) (int, error)) scheduler.Job {
	return func(ctx context.Context) error {
		n, err := fn(ctx)
		if n > 0 {
			log.Info("job applied changes", "job", name, "count", n)
		}
		return err
	}
}

// Names lists the registered jobs in lexical order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.jobs))
	for n := range r.jobs {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Get returns the job body for name.
func (r *Registry) Get(name string) (scheduler.Job, bool) {
	j, ok := r.jobs[name]
	return j, ok
}

// Run executes name synchronously.
func (r *Registry) Run(ctx context.Context, name string) error {
	j, ok := r.jobs[name]
	if !ok {
		return fmt.Errorf("%q: %w", name, ErrUnknownJob)
	}
	return j(ctx)
}

// statusSync reconciles item statuses, then drops non-free downloads.
func (r *Registry) statusSync(ctx context.Context) error {
	n, err := r.deps.Lifecycle.Reconcile(ctx)
	if n > 0 {
		r.log.Info("status sync applied changes", "count", n)
	}
	removed, nerr := r.deps.Lifecycle.SweepNonFree(ctx)
	if removed > 0 {
		r.log.Info("removed non-free downloads", "count", removed)
	}
	return errors.Join(err, nerr)
}
