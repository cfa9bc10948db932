// Package service holds the acquisition step shared by the manual push
// endpoint and the auto-acquire job: fetch the payload from the tracker,
// hand it to a download client, record the item and arm its deadline.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tinoosan/ptguard/internal/data"
	"github.com/tinoosan/ptguard/internal/downloader"
	"github.com/tinoosan/ptguard/internal/repo"
	"github.com/tinoosan/ptguard/internal/rules"
	"github.com/tinoosan/ptguard/internal/tracker"
)

var (
	ErrDuplicate = errors.New("torrent already acquired")
	ErrNoClient  = errors.New("no download client configured")
	ErrTorrentID = errors.New("torrent id is required")
)

// Site is the tracker surface acquisition needs.
type Site interface {
	Search(ctx context.Context, p tracker.SearchParams) ([]data.Torrent, error)
	Detail(ctx context.Context, id string) (*data.Torrent, error)
	Download(ctx context.Context, id, passkey string) ([]byte, error)
}

// Sites resolves the tracker session of an account.
type Sites interface {
	For(acc *data.Account) (Site, error)
}

// PoolSites adapts a tracker.Pool to Sites.
type PoolSites struct{ Pool *tracker.Pool }

func (p PoolSites) For(acc *data.Account) (Site, error) {
	s, err := p.Pool.For(acc)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Clients resolves a stored client configuration to a live client.
type Clients interface {
	Get(cfg *data.Client) (downloader.Client, error)
}

// Deadlines arms the expiry job of a new item.
type Deadlines interface {
	ScheduleExpiry(it *data.Item) time.Time
}

type Store interface {
	repo.ItemRepo
	repo.RuleRepo
	repo.ClientRepo
	repo.AccountRepo
}

// PushRequest asks for one tracker item to be acquired. Zero ids select
// the first active account and the default client.
type PushRequest struct {
	TorrentID string   `json:"torrentId"`
	AccountID int64    `json:"accountId,omitempty"`
	ClientID  int64    `json:"clientId,omitempty"`
	SavePath  string   `json:"savePath,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

type Acquirer struct {
	store     Store
	sites     Sites
	clients   Clients
	deadlines Deadlines
	resolve   downloader.ResolveOptions
	log       *slog.Logger
	now       func() time.Time
}

func NewAcquirer(store Store, sites Sites, clients Clients, deadlines Deadlines, log *slog.Logger) *Acquirer {
	if log == nil {
		log = slog.Default()
	}
	return &Acquirer{
		store:     store,
		sites:     sites,
		clients:   clients,
		deadlines: deadlines,
		log:       log,
		now:       time.Now,
	}
}

// SetResolveOptions bounds the hash confirmation poll after an add.
func (a *Acquirer) SetResolveOptions(o downloader.ResolveOptions) { a.resolve = o }

// Push acquires one tracker item by id.
func (a *Acquirer) Push(ctx context.Context, req PushRequest) (*data.Item, error) {
	id := strings.TrimSpace(req.TorrentID)
	if id == "" {
		return nil, ErrTorrentID
	}
	log := a.log.With("op", "push", "operation_id", uuid.NewString(), "torrent_id", id)
	known, err := a.store.TorrentIDs(ctx)
	if err != nil {
		return nil, err
	}
	if _, dup := known[id]; dup {
		return nil, fmt.Errorf("%s: %w", id, ErrDuplicate)
	}
	acc, err := a.account(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	cfg, err := a.clientConfig(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}
	site, err := a.sites.For(acc)
	if err != nil {
		return nil, err
	}
	t, err := site.Detail(ctx, id)
	if err != nil {
		log.Error("fetch detail", "err", err)
		return nil, err
	}
	return a.acquire(ctx, log, site, acc, cfg, t, acquireOpts{savePath: req.SavePath, tags: req.Tags})
}

type acquireOpts struct {
	ruleID   int64
	savePath string
	tags     []string
}

func (a *Acquirer) acquire(ctx context.Context, log *slog.Logger, site Site, acc *data.Account, cfg *data.Client, t *data.Torrent, o acquireOpts) (*data.Item, error) {
	payload, err := site.Download(ctx, t.ID, acc.Passkey)
	if err != nil {
		log.Error("download payload", "torrent_id", t.ID, "err", err)
		return nil, err
	}
	cl, err := a.clients.Get(cfg)
	if err != nil {
		return nil, err
	}
	a.ensureTags(ctx, log, cl, o.tags)
	reported, err := cl.Add(ctx, payload, downloader.AddOptions{SavePath: o.savePath, Tags: o.tags})
	if err != nil {
		log.Error("add to client", "torrent_id", t.ID, "client_id", cfg.ID, "err", err)
		return nil, fmt.Errorf("add %s: %w", t.ID, err)
	}
	hash, err := downloader.ResolveHash(ctx, cl, payload, reported, a.resolve)
	if err != nil {
		log.Warn("could not confirm info hash", "torrent_id", t.ID, "err", err)
	}
	var ruleID *int64
	if o.ruleID != 0 {
		id := o.ruleID
		ruleID = &id
	}
	it, err := a.store.AddItem(ctx, &data.Item{
		TorrentID:   t.ID,
		InfoHash:    hash,
		Title:       t.Title,
		Size:        t.Size,
		Status:      data.StatusDownloading,
		Discount:    t.Discount,
		DiscountEnd: t.DiscountEnd,
		HitAndRun:   t.HitAndRun,
		AccountID:   acc.ID,
		ClientID:    cfg.ID,
		RuleID:      ruleID,
		SavePath:    o.savePath,
		Tags:        o.tags,
	})
	if err != nil {
		return nil, err
	}
	at := a.deadlines.ScheduleExpiry(it)
	log.Info("item acquired", "item_id", it.ID, "torrent_id", it.TorrentID, "hash", it.InfoHash,
		"discount", it.Discount, "expiry_at", at, "hit_and_run", it.HitAndRun)
	return it, nil
}

func (a *Acquirer) ensureTags(ctx context.Context, log *slog.Logger, cl downloader.Client, tags []string) {
	if len(tags) == 0 {
		return
	}
	have, err := cl.Tags(ctx)
	if err != nil {
		if !errors.Is(err, downloader.ErrUnsupported) {
			log.Warn("list client tags", "err", err)
		}
		return
	}
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, t := range tags {
		if _, ok := set[t]; ok {
			continue
		}
		if err := cl.CreateTag(ctx, t); err != nil {
			log.Warn("create client tag", "tag", t, "err", err)
		}
	}
}

func (a *Acquirer) account(ctx context.Context, id int64) (*data.Account, error) {
	if id != 0 {
		acc, err := a.store.GetAccount(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("account %d: %w", id, err)
		}
		return acc, nil
	}
	accs, err := a.store.ListAccounts(ctx, true)
	if err != nil {
		return nil, err
	}
	if len(accs) == 0 {
		return nil, data.ErrNoAccount
	}
	return accs[0], nil
}

// clientConfig returns client id, or the default client, or the first one.
func (a *Acquirer) clientConfig(ctx context.Context, id int64) (*data.Client, error) {
	if id != 0 {
		cfg, err := a.store.GetClient(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("client %d: %w", id, err)
		}
		return cfg, nil
	}
	cfgs, err := a.store.ListClients(ctx)
	if err != nil {
		return nil, err
	}
	if len(cfgs) == 0 {
		return nil, ErrNoClient
	}
	for _, c := range cfgs {
		if c.IsDefault {
			return c, nil
		}
	}
	return cfgs[0], nil
}

// AutoAcquire runs every enabled rule in order: search, filter, and acquire
// until the rule's downloading cap is reached. An invalid tracker session
// aborts the run.
func (a *Acquirer) AutoAcquire(ctx context.Context) (int, error) {
	log := a.log.With("op", "auto_acquire", "operation_id", uuid.NewString())
	rs, err := a.store.ListRules(ctx, true)
	if err != nil {
		return 0, fmt.Errorf("list rules: %w", err)
	}
	if len(rs) == 0 {
		log.Debug("no enabled rules")
		return 0, nil
	}
	known, err := a.store.TorrentIDs(ctx)
	if err != nil {
		return 0, err
	}
	var errs []error
	total := 0
	for _, r := range rs {
		n, err := a.runRule(ctx, log.With("rule_id", r.ID, "rule", r.Name), r, known)
		total += n
		if errors.Is(err, tracker.ErrSessionInvalid) {
			return total, err
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %q: %w", r.Name, err))
		}
	}
	log.Info("auto acquire finished", "rules", len(rs), "added", total)
	return total, errors.Join(errs...)
}

func (a *Acquirer) runRule(ctx context.Context, log *slog.Logger, r *data.Rule, known map[string]struct{}) (int, error) {
	running, err := a.store.CountItems(ctx, data.ItemFilter{Statuses: []data.ItemStatus{data.StatusDownloading}, RuleID: r.ID})
	if err != nil {
		return 0, err
	}
	if running >= r.Cap() {
		log.Debug("rule at capacity", "downloading", running, "cap", r.Cap())
		return 0, nil
	}
	acc, err := a.account(ctx, r.AccountID)
	if err != nil {
		return 0, err
	}
	cfg, err := a.clientConfig(ctx, r.ClientID)
	if err != nil {
		return 0, err
	}
	site, err := a.sites.For(acc)
	if err != nil {
		return 0, err
	}
	p := tracker.SearchParams{Keyword: rules.SearchKeyword(r)}
	if r.FreeOnly {
		p.SPState = tracker.SPStateFree
	}
	found, err := site.Search(ctx, p)
	if err != nil {
		return 0, err
	}
	picks := rules.Filter(r, found, known, a.now())
	log.Debug("rule matched", "listed", len(found), "matched", len(picks))

	n := 0
	for i := range picks {
		if running >= r.Cap() {
			break
		}
		t := &picks[i]
		if _, err := a.acquire(ctx, log, site, acc, cfg, t, acquireOpts{ruleID: r.ID, savePath: r.SavePath, tags: r.Tags}); err != nil {
			if errors.Is(err, tracker.ErrSessionInvalid) {
				return n, err
			}
			continue
		}
		known[t.ID] = struct{}{}
		running++
		n++
	}
	return n, nil
}
