// Package policy holds the operator-tunable blobs that steer automation:
// capacity handling, refresh intervals and per-job enable switches.
package policy

import "time"

// Setting keys under which the blobs are persisted.
const (
	KeyCapacity        = "capacity_policy"
	KeyIntervals       = "refresh_intervals"
	KeyScheduleControl = "schedule_control"
)

// GiB is the unit used by the disk thresholds.
const GiB = int64(1024 * 1024 * 1024)

// ExpiryAction is what happens to an item whose promotion lapsed.
// Values: "pause" | "delete".
type ExpiryAction string

const (
	ExpiryPause  ExpiryAction = "pause"
	ExpiryDelete ExpiryAction = "delete"
)

// ParseExpiryAction converts a string to an ExpiryAction with default.
func ParseExpiryAction(s string) ExpiryAction {
	switch ExpiryAction(s) {
	case ExpiryPause:
		return ExpiryPause
	case ExpiryDelete:
		fallthrough
	default:
		return ExpiryDelete
	}
}

// Capacity controls the destructive sweeps. Every sweep requires Enabled
// plus its own flag.
type Capacity struct {
	Enabled              bool         `json:"enabled"`
	DeleteExpired        bool         `json:"delete_expired"`
	ExpiredAction        ExpiryAction `json:"expired_action"`
	DeleteNonFree        bool         `json:"delete_non_free"`
	DynamicDeleteEnabled bool         `json:"dynamic_delete_enabled"`
	DiskMaxGB            float64      `json:"disk_max_gb"`
	DiskTargetGB         float64      `json:"disk_target_gb"`
	DeleteUnregistered   bool         `json:"delete_unregistered"`
}

// DefaultCapacity is used when nothing is persisted. Everything is off.
func DefaultCapacity() Capacity {
	return Capacity{ExpiredAction: ExpiryDelete, DiskMaxGB: 10000}
}

// Action returns the expiry action, forcing pause for H&R items.
func (c Capacity) Action(hitAndRun bool) ExpiryAction {
	if hitAndRun {
		return ExpiryPause
	}
	return ParseExpiryAction(string(c.ExpiredAction))
}

// ExpiryArmed reports whether expiry handling may act.
func (c Capacity) ExpiryArmed() bool { return c.Enabled && c.DeleteExpired }

// NonFreeArmed reports whether non-free cleanup may act.
func (c Capacity) NonFreeArmed() bool { return c.Enabled && c.DeleteNonFree }

// EvictionArmed reports whether dynamic eviction may act.
func (c Capacity) EvictionArmed() bool { return c.Enabled && c.DynamicDeleteEnabled }

// DelistingArmed reports whether de-listed items may be removed.
func (c Capacity) DelistingArmed() bool { return c.Enabled && c.DeleteUnregistered }

// Thresholds returns the upper bound and target in bytes. A missing upper
// bound defaults to 10000 GiB and a missing target to 80% of the bound.
func (c Capacity) Thresholds() (upper, target int64) {
	maxGB := c.DiskMaxGB
	if maxGB <= 0 {
		maxGB = 10000
	}
	targetGB := c.DiskTargetGB
	if targetGB <= 0 || targetGB > maxGB {
		targetGB = maxGB * 0.8
	}
	return int64(maxGB * float64(GiB)), int64(targetGB * float64(GiB))
}

// Intervals are recurring job periods in minutes.
type Intervals struct {
	AutoDownload      int `json:"auto_download"`
	AccountRefresh    int `json:"account_refresh"`
	StatusSync        int `json:"status_sync"`
	ExpiredCheck      int `json:"expired_check"`
	DynamicDelete     int `json:"dynamic_delete"`
	UnregisteredCheck int `json:"unregistered_check"`
	HitAndRunSync     int `json:"hr_sync"`
}

func DefaultIntervals() Intervals {
	return Intervals{
		AutoDownload:      10,
		AccountRefresh:    60,
		StatusSync:        5,
		ExpiredCheck:      30,
		DynamicDelete:     10,
		UnregisteredCheck: 10,
		HitAndRunSync:     120,
	}
}

// Every converts minutes to a duration, substituting def for non-positive values.
func Every(minutes, def int) time.Duration {
	if minutes <= 0 {
		minutes = def
	}
	return time.Duration(minutes) * time.Minute
}

// ScheduleControl switches each recurring job on or off. All default to off.
type ScheduleControl struct {
	AutoDownloadEnabled      bool `json:"auto_download_enabled"`
	AccountRefreshEnabled    bool `json:"account_refresh_enabled"`
	StatusSyncEnabled        bool `json:"status_sync_enabled"`
	ExpiredCheckEnabled      bool `json:"expired_check_enabled"`
	DynamicDeleteEnabled     bool `json:"dynamic_delete_enabled"`
	UnregisteredCheckEnabled bool `json:"unregistered_check_enabled"`
	HitAndRunSyncEnabled     bool `json:"hr_sync_enabled"`
}
