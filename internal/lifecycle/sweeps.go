package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tinoosan/ptguard/internal/audit"
	"github.com/tinoosan/ptguard/internal/data"
	"github.com/tinoosan/ptguard/internal/downloader"
	"github.com/tinoosan/ptguard/internal/policy"
	"github.com/tinoosan/ptguard/internal/tracker"
)

// SweepNonFree removes downloading items that carry no promotion and no
// hit-and-run obligation.
func (m *Machine) SweepNonFree(ctx context.Context) (int, error) {
	log := m.opLogger("non_free")
	c, err := m.capacity(ctx)
	if err != nil {
		return 0, err
	}
	if !c.NonFreeArmed() {
		return 0, nil
	}
	items, err := m.store.ListItems(ctx, data.ItemFilter{Statuses: []data.ItemStatus{data.StatusDownloading}})
	if err != nil {
		return 0, fmt.Errorf("list downloading items: %w", err)
	}
	stillNonFree := func(cur *data.Item) bool {
		return cur.Status == data.StatusDownloading && cur.Discount == data.DiscountNone && !cur.HitAndRun
	}
	var errs []error
	n := 0
	for _, it := range items {
		if !stillNonFree(it) {
			continue
		}
		if err := m.act(ctx, log, it, false); err != nil {
			errs = append(errs, err)
			continue
		}
		done, err := m.transition(ctx, log, it.ID, data.StatusDeleted, stillNonFree)
		if err != nil {
			continue
		}
		n++
		m.emit(ctx, audit.KindRemoved, done, fmt.Sprintf("%s downloading without promotion", it.TorrentID))
	}
	return n, errors.Join(errs...)
}

// Evict frees space on every client whose used storage reached the upper
// bound, removing the oldest seeding items until usage is back at the
// target. Hit-and-run items are never evicted.
func (m *Machine) Evict(ctx context.Context) (int, error) {
	log := m.opLogger("dynamic_delete")
	c, err := m.capacity(ctx)
	if err != nil {
		return 0, err
	}
	if !c.EvictionArmed() {
		return 0, nil
	}
	cfgs, err := m.store.ListClients(ctx)
	if err != nil {
		return 0, fmt.Errorf("list clients: %w", err)
	}
	var errs []error
	total := 0
	for _, cfg := range cfgs {
		n, err := m.evictClient(ctx, log.With("client_id", cfg.ID), cfg, c)
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

func (m *Machine) evictClient(ctx context.Context, log *slog.Logger, cfg *data.Client, c policy.Capacity) (int, error) {
	cl, err := m.clients.Get(cfg)
	if err != nil {
		log.Error("resolve client", "err", err)
		return 0, err
	}
	st, err := cl.Stats(ctx)
	if err != nil {
		log.Error("client stats", "err", err)
		return 0, fmt.Errorf("client %d stats: %w", cfg.ID, err)
	}
	snaps, err := cl.List(ctx)
	if err != nil {
		log.Error("list client torrents", "err", err)
		return 0, fmt.Errorf("client %d list: %w", cfg.ID, err)
	}
	upper, target := c.Thresholds()
	used := downloader.UsedSpace(st, snaps)
	if used < upper {
		return 0, nil
	}
	log.Warn("used storage over limit; evicting oldest seeding items", "used", used, "upper", upper, "target", target)

	candidates, err := m.store.ListItems(ctx, data.ItemFilter{Statuses: []data.ItemStatus{data.StatusSeeding}, ClientID: cfg.ID})
	if err != nil {
		return 0, fmt.Errorf("list seeding items: %w", err)
	}
	idx := downloader.Index(snaps)
	stillSeeding := func(cur *data.Item) bool { return cur.Status == data.StatusSeeding && !cur.HitAndRun }

	var freed int64
	n := 0
	for _, it := range candidates {
		if used-freed <= target {
			break
		}
		if it.HitAndRun {
			log.Warn("skipping hit-and-run item", "item_id", it.ID, "torrent_id", it.TorrentID)
			continue
		}
		size := it.Size
		if s, ok := idx[data.NormalizeHash(it.InfoHash)]; ok && s.Size > 0 {
			size = s.Size
		}
		if it.InfoHash != "" {
			if err := cl.Remove(ctx, it.InfoHash, true); err != nil && !errors.Is(err, downloader.ErrNotFound) {
				log.Error("evict failed", "item_id", it.ID, "err", err)
				continue
			}
			// The data is gone whatever the status write says.
			freed += size
		}
		done, err := m.transition(ctx, log, it.ID, data.StatusDynamicDeleted, stillSeeding)
		if err != nil {
			continue
		}
		if it.InfoHash == "" {
			freed += size
		}
		n++
		m.emit(ctx, audit.KindRemoved, done, fmt.Sprintf("%s evicted to free %d bytes", it.TorrentID, size))
	}
	log.Info("eviction finished", "removed", n, "freed", freed, "used_after", used-freed)
	return n, nil
}

// SweepUnregistered removes active items whose tracker reports them as no
// longer registered. Hit-and-run items are included: the obligation ends
// with the listing.
func (m *Machine) SweepUnregistered(ctx context.Context) (int, error) {
	log := m.opLogger("unregistered_check")
	c, err := m.capacity(ctx)
	if err != nil {
		return 0, err
	}
	if !c.DelistingArmed() {
		return 0, nil
	}
	items, err := m.store.ListItems(ctx, data.ItemFilter{Statuses: data.ActiveStatuses, HasHash: true})
	if err != nil {
		return 0, fmt.Errorf("list active items: %w", err)
	}
	clients := map[int64]downloader.Client{}
	var errs []error
	n := 0
	for _, it := range items {
		cl, ok := clients[it.ClientID]
		if !ok {
			cl, err = m.client(ctx, it.ClientID)
			if err != nil {
				if !errors.Is(err, ErrMissingClient) {
					errs = append(errs, err)
				}
				clients[it.ClientID] = nil
				continue
			}
			clients[it.ClientID] = cl
		}
		if cl == nil {
			continue
		}
		snap, err := cl.Status(ctx, it.InfoHash)
		if errors.Is(err, downloader.ErrNotFound) {
			continue
		}
		if err != nil {
			log.Error("status lookup failed", "item_id", it.ID, "err", err)
			errs = append(errs, err)
			continue
		}
		if !tracker.MatchesMarker(snap.TrackerMessage, m.markers) {
			continue
		}
		log.Warn("tracker no longer lists item", "item_id", it.ID, "torrent_id", it.TorrentID, "message", snap.TrackerMessage)
		if err := cl.Remove(ctx, it.InfoHash, true); err != nil && !errors.Is(err, downloader.ErrNotFound) {
			log.Error("remove failed", "item_id", it.ID, "err", err)
			errs = append(errs, err)
			continue
		}
		done, err := m.transition(ctx, log, it.ID, data.StatusUnregisteredDeleted, isActive)
		if err != nil {
			continue
		}
		n++
		m.emit(ctx, audit.KindRemoved, done, fmt.Sprintf("%s de-listed: %s", it.TorrentID, snap.TrackerMessage))
	}
	return n, errors.Join(errs...)
}
