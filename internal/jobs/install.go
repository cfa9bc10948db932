package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinoosan/ptguard/internal/policy"
	"github.com/tinoosan/ptguard/internal/repo"
	"github.com/tinoosan/ptguard/internal/scheduler"
)

// StatsInterval is the fixed period of the stats snapshot job.
const StatsInterval = 10 * time.Minute

// Scheduler registers and cancels recurring jobs.
type Scheduler interface {
	ScheduleEvery(id, label string, every time.Duration, job scheduler.Job) error
	Cancel(id string) bool
}

type binding struct {
	name    string
	label   string
	enabled func(policy.ScheduleControl) bool
	every   func(policy.Intervals) time.Duration
}

var bindings = []binding{
	{AutoAcquire, "auto acquire",
		func(c policy.ScheduleControl) bool { return c.AutoDownloadEnabled },
		func(iv policy.Intervals) time.Duration { return policy.Every(iv.AutoDownload, 10) }},
	{AccountRefresh, "account refresh",
		func(c policy.ScheduleControl) bool { return c.AccountRefreshEnabled },
		func(iv policy.Intervals) time.Duration { return policy.Every(iv.AccountRefresh, 60) }},
	{StatusSync, "status sync",
		func(c policy.ScheduleControl) bool { return c.StatusSyncEnabled },
		func(iv policy.Intervals) time.Duration { return policy.Every(iv.StatusSync, 5) }},
	{ExpiredCheck, "expired check",
		func(c policy.ScheduleControl) bool { return c.ExpiredCheckEnabled },
		func(iv policy.Intervals) time.Duration { return policy.Every(iv.ExpiredCheck, 30) }},
	{DynamicDelete, "dynamic delete",
		func(c policy.ScheduleControl) bool { return c.DynamicDeleteEnabled },
		func(iv policy.Intervals) time.Duration { return policy.Every(iv.DynamicDelete, 10) }},
	{UnregisteredCheck, "unregistered check",
		func(c policy.ScheduleControl) bool { return c.UnregisteredCheckEnabled },
		func(iv policy.Intervals) time.Duration { return policy.Every(iv.UnregisteredCheck, 10) }},
	{HitAndRunSync, "hit and run sync",
		func(c policy.ScheduleControl) bool { return c.HitAndRunSyncEnabled },
		func(iv policy.Intervals) time.Duration { return policy.Every(iv.HitAndRunSync, 120) }},
	{StatsSnapshot, "stats snapshot",
		func(policy.ScheduleControl) bool { return true },
		func(policy.Intervals) time.Duration { return StatsInterval }},
}

// Installer keeps the scheduler's recurring jobs in line with the
// persisted intervals and switches.
type Installer struct {
	reg      *Registry
	sched    Scheduler
	settings repo.SettingsRepo
	log      *slog.Logger
}

func NewInstaller(reg *Registry, sched Scheduler, settings repo.SettingsRepo, log *slog.Logger) *Installer {
	if log == nil {
		log = slog.Default()
	}
	return &Installer{reg: reg, sched: sched, settings: settings, log: log}
}

// Apply registers every enabled job at its interval and cancels the rest.
// It is safe to call again after the settings change.
func (i *Installer) Apply(ctx context.Context) error {
	iv, err := repo.LoadIntervals(ctx, i.settings)
	if err != nil {
		return fmt.Errorf("load intervals: %w", err)
	}
	sc, err := repo.LoadScheduleControl(ctx, i.settings)
	if err != nil {
		return fmt.Errorf("load schedule control: %w", err)
	}
	var errs []error
	for _, b := range bindings {
		job, ok := i.reg.Get(b.name)
		if !ok {
			continue
		}
		if !b.enabled(sc) {
			if i.sched.Cancel(b.name) {
				i.log.Info("recurring job disabled", "job", b.name)
			}
			continue
		}
		if err := i.sched.ScheduleEvery(b.name, b.label, b.every(iv), job); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
