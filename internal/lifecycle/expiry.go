package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinoosan/ptguard/internal/audit"
	"github.com/tinoosan/ptguard/internal/data"
	"github.com/tinoosan/ptguard/internal/downloader"
	"github.com/tinoosan/ptguard/internal/metrics"
	"github.com/tinoosan/ptguard/internal/policy"
)

// HandleExpiry is the body of an item's deadline job.
func (m *Machine) HandleExpiry(ctx context.Context, id int64) error {
	log := m.opLogger("expiry").With("item_id", id)
	it, err := m.store.GetItem(ctx, id)
	if errors.Is(err, data.ErrNotFound) {
		log.Warn("expiry for unknown item")
		return nil
	}
	if err != nil {
		return err
	}
	if !it.Status.Active() {
		log.Debug("item already terminal", "status", it.Status)
		return nil
	}
	// The job is registered lead ahead of the deadline.
	cutoff := m.now().Add(m.lead)
	if !it.Expired(cutoff) {
		log.Debug("deadline not reached", "deadline", it.DiscountEnd)
		return nil
	}
	c, err := m.capacity(ctx)
	if err != nil {
		return err
	}
	if !c.ExpiryArmed() {
		m.expirySkipped(ctx, log, it)
		return nil
	}
	if err := m.expire(ctx, log, it, c, cutoff); err != nil && !errors.Is(err, data.ErrStaleTransition) {
		return err
	}
	return nil
}

// SweepExpired handles every active item whose deadline has passed. It
// backs up deadline jobs that were missed or dropped.
func (m *Machine) SweepExpired(ctx context.Context) (int, error) {
	log := m.opLogger("expired_check")
	now := m.now()
	items, err := m.store.ListItems(ctx, data.ItemFilter{Statuses: data.ActiveStatuses, DeadlineBefore: &now})
	if err != nil {
		return 0, fmt.Errorf("list expired items: %w", err)
	}
	if len(items) == 0 {
		return 0, nil
	}
	c, err := m.capacity(ctx)
	if err != nil {
		return 0, err
	}
	if !c.ExpiryArmed() {
		for _, it := range items {
			m.expirySkipped(ctx, log, it)
		}
		return 0, nil
	}
	var errs []error
	n := 0
	for _, it := range items {
		if err := m.expire(ctx, log, it, c, now); err != nil {
			if !errors.Is(err, data.ErrStaleTransition) {
				errs = append(errs, err)
			}
			continue
		}
		n++
	}
	log.Info("expired check finished", "candidates", len(items), "handled", n)
	return n, errors.Join(errs...)
}

// expirySkipped records that protection is off while an item is past its
// deadline. Every occurrence is surfaced.
func (m *Machine) expirySkipped(ctx context.Context, log *slog.Logger, it *data.Item) {
	log.Warn("promotion expired but expiry protection is disabled; item left running",
		"item_id", it.ID, "torrent_id", it.TorrentID, "title", it.Title, "deadline", it.DiscountEnd)
	metrics.SafetySkips.WithLabelValues("policy_disabled").Inc()
	m.emit(ctx, audit.KindExpirySkipped, it, fmt.Sprintf("promotion on %s ended but expiry protection is disabled", it.TorrentID))
}

// expire pauses or removes it when its deadline is at or before cutoff.
func (m *Machine) expire(ctx context.Context, log *slog.Logger, it *data.Item, c policy.Capacity, cutoff time.Time) error {
	action := c.Action(it.HitAndRun)
	next := data.StatusExpiredDeleted
	if action == policy.ExpiryPause {
		next = data.StatusExpiredPaused
	}
	if it.HitAndRun {
		log.Warn("hit-and-run item expired; pausing instead of deleting", "item_id", it.ID, "torrent_id", it.TorrentID)
	}
	stillDue := func(cur *data.Item) bool { return cur.Status.Active() && cur.Expired(cutoff) }

	if err := m.act(ctx, log, it, action == policy.ExpiryPause); err != nil {
		return err
	}
	done, err := m.transition(ctx, log, it.ID, next, stillDue)
	if err != nil {
		return err
	}
	kind := audit.KindRemoved
	if next == data.StatusExpiredPaused {
		kind = audit.KindPaused
	}
	m.emit(ctx, kind, done, fmt.Sprintf("promotion on %s ended", it.TorrentID))
	return nil
}

// act pauses or removes it in its download client. A missing client or an
// unknown hash is recorded and treated as done so the status still
// advances; a client error is returned and the status stays put.
func (m *Machine) act(ctx context.Context, log *slog.Logger, it *data.Item, pause bool) error {
	if it.InfoHash == "" {
		log.Warn("item has no hash; updating status only", "item_id", it.ID, "torrent_id", it.TorrentID)
		return nil
	}
	cl, err := m.client(ctx, it.ClientID)
	if errors.Is(err, ErrMissingClient) {
		log.Warn("download client missing; updating status only", "item_id", it.ID, "client_id", it.ClientID)
		m.emit(ctx, audit.KindMissingClient, it, fmt.Sprintf("client %d for %s is not configured", it.ClientID, it.TorrentID))
		return nil
	}
	if err != nil {
		log.Error("resolve client", "item_id", it.ID, "err", err)
		return err
	}
	if pause {
		err = cl.Pause(ctx, it.InfoHash)
	} else {
		err = cl.Remove(ctx, it.InfoHash, true)
	}
	if errors.Is(err, downloader.ErrNotFound) {
		log.Info("torrent already gone from client", "item_id", it.ID, "hash", it.InfoHash)
		return nil
	}
	if err != nil {
		log.Error("download client action failed", "item_id", it.ID, "pause", pause, "err", err)
		return fmt.Errorf("item %d: %w", it.ID, err)
	}
	return nil
}
