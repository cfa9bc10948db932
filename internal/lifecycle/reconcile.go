package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tinoosan/ptguard/internal/audit"
	"github.com/tinoosan/ptguard/internal/data"
	"github.com/tinoosan/ptguard/internal/downloader"
)

// statusFor maps a normalized client state to an item status. Error and
// unknown states report false and leave the item alone.
func statusFor(s downloader.State) (data.ItemStatus, bool) {
	switch s {
	case downloader.StateDownloading:
		return data.StatusDownloading, true
	case downloader.StateSeeding:
		return data.StatusSeeding, true
	case downloader.StatePaused:
		return data.StatusPaused, true
	case downloader.StateCompleted:
		return data.StatusCompleted, true
	}
	return "", false
}

// Reconcile aligns every active item with its download client, listing
// each client once. It returns the number of transitions applied.
func (m *Machine) Reconcile(ctx context.Context) (int, error) {
	log := m.opLogger("reconcile")
	items, err := m.store.ListItems(ctx, data.ItemFilter{Statuses: data.ActiveStatuses, HasHash: true})
	if err != nil {
		return 0, fmt.Errorf("list active items: %w", err)
	}
	groups := map[int64]data.Items{}
	var order []int64
	for _, it := range items {
		if _, ok := groups[it.ClientID]; !ok {
			order = append(order, it.ClientID)
		}
		groups[it.ClientID] = append(groups[it.ClientID], it)
	}
	var errs []error
	total := 0
	for _, cid := range order {
		n, err := m.reconcileGroup(ctx, log, cid, groups[cid])
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	log.Info("reconcile finished", "items", len(items), "clients", len(order), "changed", total)
	return total, errors.Join(errs...)
}

// ReconcileClient aligns the active items of one client.
func (m *Machine) ReconcileClient(ctx context.Context, clientID int64) (int, error) {
	log := m.opLogger("reconcile_client")
	items, err := m.store.ListItems(ctx, data.ItemFilter{Statuses: data.ActiveStatuses, ClientID: clientID, HasHash: true})
	if err != nil {
		return 0, fmt.Errorf("list active items: %w", err)
	}
	return m.reconcileGroup(ctx, log, clientID, items)
}

func (m *Machine) reconcileGroup(ctx context.Context, log *slog.Logger, clientID int64, items data.Items) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	log = log.With("client_id", clientID)
	cl, err := m.client(ctx, clientID)
	if errors.Is(err, ErrMissingClient) {
		log.Warn("active items reference a missing client", "items", len(items))
		return 0, nil
	}
	if err != nil {
		log.Error("resolve client", "err", err)
		return 0, err
	}
	snaps, err := cl.List(ctx)
	if err != nil {
		log.Error("list client torrents", "err", err)
		return 0, fmt.Errorf("client %d: %w", clientID, err)
	}
	idx := downloader.Index(snaps)

	n := 0
	for _, it := range items {
		snap, present := idx[data.NormalizeHash(it.InfoHash)]
		if present {
			next, ok := statusFor(snap.State)
			if !ok || next == it.Status {
				continue
			}
			from := it.Status
			if _, err := m.transition(ctx, log, it.ID, next, func(cur *data.Item) bool { return cur.Status == from }); err == nil {
				n++
			}
			continue
		}

		if it.HitAndRun {
			// never delete an obligation on the strength of an absence
			done, err := m.transition(ctx, log, it.ID, data.StatusPaused, isActive)
			if err == nil {
				n++
				m.emit(ctx, audit.KindMissingPenalty, done, fmt.Sprintf("hit-and-run item %s no longer in client %d; marked paused", it.TorrentID, clientID))
			}
			continue
		}
		if _, err := m.transition(ctx, log, it.ID, data.StatusDeleted, isActive); err == nil {
			n++
		}
	}
	return n, nil
}
