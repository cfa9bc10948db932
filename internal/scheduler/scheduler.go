// Package scheduler hosts the process's timers: one-shot jobs pinned to a
// wall-clock deadline and recurring jobs on a fixed interval.
//
// Job identifiers are unique across both kinds. Registering an id that is
// already taken replaces the previous registration, whatever its kind, so an
// id never fires twice for one registration. Nothing is persisted: Stop drops
// every registration and callers rebuild them from their own records on the
// next start.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/tinoosan/ptguard/internal/metrics"
)

const (
	// DefaultGraceOffset is how far past now a due one-shot job is pushed.
	DefaultGraceOffset = 10 * time.Second
	// DefaultMisfireGrace is how late a one-shot job may still run.
	DefaultMisfireGrace = 5 * time.Minute

	maxSleepCap    = 60 * time.Second
	defaultWorkers = 4
	queueDepth     = 64
)

var ErrInterval = errors.New("interval must be at least one second")

// Job is the body of a scheduled job. The context is cancelled on Stop.
type Job func(ctx context.Context) error

// Kind is the trigger family of a registration.
type Kind string

const (
	KindOnce  Kind = "date"
	KindEvery Kind = "interval"
)

// Entry describes one registration in a Snapshot.
type Entry struct {
	ID       string        `json:"id"`
	Label    string        `json:"label"`
	Kind     Kind          `json:"kind"`
	Next     time.Time     `json:"next"`
	Interval time.Duration `json:"interval,omitempty"`
}

// Options tune a Scheduler. Zero values take the defaults.
type Options struct {
	GraceOffset  time.Duration
	MisfireGrace time.Duration
	Workers      int
}

type onceJob struct {
	id    string
	label string
	at    time.Time
	job   Job
	index int
}

type recurringJob struct {
	entryID cron.EntryID
	label   string
	every   time.Duration
}

// Scheduler owns every timer in the process. Construct one at startup and
// pass it to whatever needs to register jobs.
type Scheduler struct {
	log          *slog.Logger
	graceOffset  time.Duration
	misfireGrace time.Duration
	now          func() time.Time

	cron *cron.Cron

	mu        sync.Mutex
	pending   onceHeap
	byID      map[string]*onceJob
	recurring map[string]recurringJob
	started   bool

	wake   chan struct{}
	queues []chan func()
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a stopped Scheduler.
func New(log *slog.Logger, opts Options) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	if opts.GraceOffset <= 0 {
		opts.GraceOffset = DefaultGraceOffset
	}
	if opts.MisfireGrace <= 0 {
		opts.MisfireGrace = DefaultMisfireGrace
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	cl := cronLogger{log: log}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		log:          log,
		graceOffset:  opts.GraceOffset,
		misfireGrace: opts.MisfireGrace,
		now:          time.Now,
		cron:         cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		byID:         make(map[string]*onceJob),
		recurring:    make(map[string]recurringJob),
		wake:         make(chan struct{}, 1),
		queues:       make([]chan func(), opts.Workers),
		ctx:          ctx,
		cancel:       cancel,
	}
	for i := range s.queues {
		s.queues[i] = make(chan func(), queueDepth)
	}
	return s
}

// ScheduleOnce registers job to run once at at and returns the effective
// fire time. A time that is not strictly in the future is moved to now plus
// the grace offset so due work still runs.
func (s *Scheduler) ScheduleOnce(id, label string, at time.Time, job Job) time.Time {
	now := s.now()
	if !at.After(now) {
		at = now.Add(s.graceOffset)
	}
	s.mu.Lock()
	s.removeLocked(id)
	oj := &onceJob{id: id, label: label, at: at, job: job}
	heap.Push(&s.pending, oj)
	s.byID[id] = oj
	metrics.PendingDeadlines.Set(float64(len(s.byID)))
	s.mu.Unlock()
	s.poke()
	s.log.Debug("scheduled one-shot job", "id", id, "label", label, "at", at)
	return at
}

// ScheduleEvery registers job to run every interval, first one interval
// after registration (or after Start when not yet running).
func (s *Scheduler) ScheduleEvery(id, label string, every time.Duration, job Job) error {
	if every < time.Second {
		return fmt.Errorf("schedule %s: %w", id, ErrInterval)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(id)
	eid := s.cron.Schedule(cron.Every(every), cron.FuncJob(func() { s.execute(id, label, job) }))
	s.recurring[id] = recurringJob{entryID: eid, label: label, every: every}
	s.log.Info("scheduled recurring job", "id", id, "label", label, "every", every)
	return nil
}

// Cancel removes a registration. It reports whether one existed.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(id)
}

func (s *Scheduler) removeLocked(id string) bool {
	if oj, ok := s.byID[id]; ok {
		heapRemove(&s.pending, oj)
		delete(s.byID, id)
		metrics.PendingDeadlines.Set(float64(len(s.byID)))
		return true
	}
	if rj, ok := s.recurring[id]; ok {
		s.cron.Remove(rj.entryID)
		delete(s.recurring, id)
		return true
	}
	return false
}

// Next returns the next fire time for id.
func (s *Scheduler) Next(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if oj, ok := s.byID[id]; ok {
		return oj.at, true
	}
	if rj, ok := s.recurring[id]; ok {
		return s.cron.Entry(rj.entryID).Next, true
	}
	return time.Time{}, false
}

// Snapshot lists every registration ordered by next fire time. Recurring
// jobs report a zero time until the scheduler is started; those sort last.
func (s *Scheduler) Snapshot() []Entry {
	s.mu.Lock()
	out := make([]Entry, 0, len(s.byID)+len(s.recurring))
	for _, oj := range s.byID {
		out = append(out, Entry{ID: oj.id, Label: oj.label, Kind: KindOnce, Next: oj.at})
	}
	for id, rj := range s.recurring {
		out = append(out, Entry{ID: id, Label: rj.label, Kind: KindEvery, Next: s.cron.Entry(rj.entryID).Next, Interval: rj.every})
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Next, out[j].Next
		if a.IsZero() != b.IsZero() {
			return b.IsZero()
		}
		if a.Equal(b) {
			return out[i].ID < out[j].ID
		}
		return a.Before(b)
	})
	return out
}

// Start launches the timer loop, the one-shot workers and cron.
// A stopped Scheduler cannot be started again.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started || s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	for _, q := range s.queues {
		s.wg.Add(1)
		go s.worker(q)
	}
	s.wg.Add(1)
	go s.loop()
	s.cron.Start()
	s.log.Info("scheduler started")
}

// Stop drops every registration and waits for running jobs until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.pending = nil
	s.byID = make(map[string]*onceJob)
	for id, rj := range s.recurring {
		s.cron.Remove(rj.entryID)
		delete(s.recurring, id)
	}
	metrics.PendingDeadlines.Set(0)
	s.mu.Unlock()

	cronDone := s.cron.Stop()
	s.cancel()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// loop sleeps until the earliest one-shot deadline. Sleeps are capped so a
// suspended host that resumes past a deadline is noticed promptly.
func (s *Scheduler) loop() {
	defer s.wg.Done()
	timer := time.NewTimer(maxSleepCap)
	defer timer.Stop()
	for {
		timer.Reset(s.sleepFor())
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		case <-timer.C:
		}
		s.fireDue()
	}
}

func (s *Scheduler) sleepFor() time.Duration {
	s.mu.Lock()
	next := s.pending.peek()
	s.mu.Unlock()
	if next == nil {
		return maxSleepCap
	}
	d := next.at.Sub(s.now())
	if d > maxSleepCap {
		return maxSleepCap
	}
	if d < 0 {
		return 0
	}
	return d
}

func (s *Scheduler) fireDue() {
	now := s.now()
	var due []*onceJob
	s.mu.Lock()
	for s.pending.Len() > 0 && !s.pending.peek().at.After(now) {
		oj := heap.Pop(&s.pending).(*onceJob)
		delete(s.byID, oj.id)
		due = append(due, oj)
	}
	if len(due) > 0 {
		metrics.PendingDeadlines.Set(float64(len(s.byID)))
	}
	s.mu.Unlock()

	for _, oj := range due {
		oj := oj // per-iteration copy: the closure below runs on a worker goroutine
		if late := now.Sub(oj.at); late > s.misfireGrace {
			s.log.Warn("one-shot job missed its grace window", "id", oj.id, "label", oj.label, "late", late)
			metrics.JobRuns.WithLabelValues(jobName(oj.id), "missed").Inc()
			continue
		}
		s.dispatch(oj.id, func() { s.execute(oj.id, oj.label, oj.job) })
	}
}

// dispatch hands fn to the worker owning id so one id never runs twice at once.
func (s *Scheduler) dispatch(id string, fn func()) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	q := s.queues[h.Sum32()%uint32(len(s.queues))]
	select {
	case q <- fn:
	case <-s.ctx.Done():
	}
}

func (s *Scheduler) worker(q chan func()) {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case fn := <-q:
			fn()
		}
	}
}

// execute runs job inside an error boundary.
func (s *Scheduler) execute(id, label string, job Job) {
	name := jobName(id)
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("job panicked", "id", id, "label", label, "panic", r, "stack", string(debug.Stack()))
			metrics.JobRuns.WithLabelValues(name, "panic").Inc()
		}
	}()
	err := job(s.ctx)
	metrics.JobDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		s.log.Error("job failed", "id", id, "label", label, "err", err)
		metrics.JobRuns.WithLabelValues(name, "error").Inc()
		return
	}
	metrics.JobRuns.WithLabelValues(name, "ok").Inc()
}

// jobName strips a trailing numeric suffix ("expiry_42" -> "expiry") to keep
// metric label cardinality bounded.
func jobName(id string) string {
	i := strings.LastIndexByte(id, '_')
	if i <= 0 || i == len(id)-1 {
		return id
	}
	for _, r := range id[i+1:] {
		if r < '0' || r > '9' {
			return id
		}
	}
	return id[:i]
}
