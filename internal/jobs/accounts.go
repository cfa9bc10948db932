package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tinoosan/ptguard/internal/data"
)

// refreshAccounts updates each active account's uid, transfer totals,
// ratio, bonus and passkey from the tracker.
func (r *Registry) refreshAccounts(ctx context.Context) error {
	log := r.log.With("op", AccountRefresh, "operation_id", uuid.NewString())
	accs, err := r.deps.Store.ListAccounts(ctx, true)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	var errs []error
	for _, acc := range accs {
		if err := r.refreshAccount(ctx, acc); err != nil {
			log.Error("account refresh failed", "account_id", acc.ID, "err", err)
			errs = append(errs, fmt.Errorf("account %d: %w", acc.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) refreshAccount(ctx context.Context, acc *data.Account) error {
	site, err := r.deps.Sites.For(acc)
	if err != nil {
		return err
	}
	uid := acc.UID
	if uid == "" {
		if uid, err = site.UID(ctx); err != nil {
			return err
		}
	}
	st, err := site.UserStats(ctx, uid)
	if err != nil {
		return err
	}
	passkey := acc.Passkey
	if passkey == "" {
		if passkey, err = site.Passkey(ctx); err != nil {
			r.log.Warn("passkey not found", "account_id", acc.ID, "err", err)
		}
	}
	now := time.Now()
	_, err = r.deps.Store.UpdateAccount(ctx, acc.ID, func(a *data.Account) error {
		a.UID = uid
		if st.Username != "" {
			a.Username = st.Username
		}
		a.Uploaded = st.Uploaded
		a.Downloaded = st.Downloaded
		a.Ratio = st.FiniteRatio()
		a.Bonus = st.Bonus
		a.UserClass = st.UserClass
		if passkey != "" {
			a.Passkey = passkey
		}
		a.LastRefresh = &now
		return nil
	})
	return err
}

// syncHitAndRuns mirrors every H&R tab of each active account.
func (r *Registry) syncHitAndRuns(ctx context.Context) error {
	log := r.log.With("op", HitAndRunSync, "operation_id", uuid.NewString())
	accs, err := r.deps.Store.ListAccounts(ctx, true)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	var errs []error
	for _, acc := range accs {
		site, err := r.deps.Sites.For(acc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		n := 0
		for _, status := range data.HitAndRunStatuses {
			hrs, err := site.HitAndRuns(ctx, status)
			if err != nil {
				errs = append(errs, fmt.Errorf("account %d %s: %w", acc.ID, status, err))
				break
			}
			for i := range hrs {
				hr := hrs[i]
				hr.AccountID = acc.ID
				if err := r.deps.Store.UpsertHitAndRun(ctx, &hr); err != nil {
					errs = append(errs, err)
					continue
				}
				n++
			}
		}
		log.Info("hit and run records synced", "account_id", acc.ID, "records", n)
	}
	return errors.Join(errs...)
}

// snapshotStats stores the summed client speeds and account totals.
func (r *Registry) snapshotStats(ctx context.Context) error {
	snap := &data.StatsSnapshot{CreatedAt: time.Now()}
	cfgs, err := r.deps.Store.ListClients(ctx)
	if err != nil {
		return fmt.Errorf("list clients: %w", err)
	}
	for _, cfg := range cfgs {
		cl, err := r.deps.Clients.Get(cfg)
		if err != nil {
			r.log.Warn("stats snapshot: client unavailable", "client_id", cfg.ID, "err", err)
			continue
		}
		st, err := cl.Stats(ctx)
		if err != nil {
			r.log.Warn("stats snapshot: client stats", "client_id", cfg.ID, "err", err)
			continue
		}
		snap.UploadSpeed += st.UploadSpeed
		snap.DownloadSpeed += st.DownloadSpeed
	}
	accs, err := r.deps.Store.ListAccounts(ctx, true)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	for _, a := range accs {
		snap.Uploaded += a.Uploaded
		snap.Downloaded += a.Downloaded
	}
	if len(accs) == 1 {
		snap.AccountID = accs[0].ID
	}
	return r.deps.Store.AddSnapshot(ctx, snap)
}
