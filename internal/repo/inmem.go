package repo

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/tinoosan/ptguard/internal/data"
)

// InMemory is a Store kept in process memory. It is safe for concurrent use
// and hands out copies so callers never alias stored records.
type InMemory struct {
	mu        sync.RWMutex
	items     data.Items
	rules     []*data.Rule
	clients   []*data.Client
	accounts  []*data.Account
	settings  map[string][]byte
	hrs       []*data.HitAndRun
	snapshots []*data.StatsSnapshot
	nextID    int64
	now       func() time.Time
}

var _ Store = (*InMemory)(nil)

func NewInMemory() *InMemory {
	return &InMemory{settings: make(map[string][]byte), nextID: 1, now: time.Now}
}

func (r *InMemory) Close() error               { return nil }
func (r *InMemory) Ping(context.Context) error { return nil }

func (r *InMemory) id() int64 {
	id := r.nextID
	r.nextID++
	return id
}

func (r *InMemory) GetItem(ctx context.Context, id int64) (*data.Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	it, err := r.findItem(id)
	if err != nil {
		return nil, err
	}
	return it.Clone(), nil
}

func (r *InMemory) ListItems(ctx context.Context, f data.ItemFilter) (data.Items, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(data.Items, 0)
	for _, it := range r.items {
		if f.Matches(it) {
			out = append(out, it.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *InMemory) CountItems(ctx context.Context, f data.ItemFilter) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, it := range r.items {
		if f.Matches(it) {
			n++
		}
	}
	return n, nil
}

func (r *InMemory) TorrentIDs(ctx context.Context) (map[string]struct{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]struct{}, len(r.items))
	for _, it := range r.items {
		if it.TorrentID != "" {
			out[it.TorrentID] = struct{}{}
		}
	}
	return out, nil
}

func (r *InMemory) AddItem(ctx context.Context, it *data.Item) (*data.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := it.Clone()
	cp.ID = r.id()
	cp.InfoHash = data.NormalizeHash(cp.InfoHash)
	now := r.now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	r.items = append(r.items, cp)
	return cp.Clone(), nil
}

func (r *InMemory) UpdateItem(ctx context.Context, id int64, mutate func(*data.Item) error) (*data.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, err := r.findItem(id)
	if err != nil {
		return nil, err
	}
	next := cur.Clone()
	if mutate != nil {
		if err := mutate(next); err != nil {
			return nil, err
		}
	}
	// id and creation time are immutable
	next.ID = cur.ID
	next.CreatedAt = cur.CreatedAt
	next.InfoHash = data.NormalizeHash(next.InfoHash)
	next.UpdatedAt = r.now()
	*cur = *next
	return cur.Clone(), nil
}

func (r *InMemory) findItem(id int64) (*data.Item, error) {
	for _, it := range r.items {
		if it.ID == id {
			return it, nil
		}
	}
	return nil, data.ErrNotFound
}

func (r *InMemory) ListRules(ctx context.Context, enabledOnly bool) ([]*data.Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*data.Rule, 0, len(r.rules))
	for _, rl := range r.rules {
		if enabledOnly && !rl.Enabled {
			continue
		}
		out = append(out, rl.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SortOrder == out[j].SortOrder {
			return out[i].ID < out[j].ID
		}
		return out[i].SortOrder < out[j].SortOrder
	})
	return out, nil
}

func (r *InMemory) GetRule(ctx context.Context, id int64) (*data.Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rl := range r.rules {
		if rl.ID == id {
			return rl.Clone(), nil
		}
	}
	return nil, data.ErrNotFound
}

func (r *InMemory) AddRule(ctx context.Context, rl *data.Rule) (*data.Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := rl.Clone()
	cp.ID = r.id()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = r.now()
	}
	r.rules = append(r.rules, cp)
	return cp.Clone(), nil
}

func (r *InMemory) ListClients(ctx context.Context) ([]*data.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*data.Client, 0, len(r.clients))
	for _, c := range r.clients {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (r *InMemory) GetClient(ctx context.Context, id int64) (*data.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.clients {
		if c.ID == id {
			cp := *c
			return &cp, nil
		}
	}
	return nil, data.ErrNotFound
}

func (r *InMemory) AddClient(ctx context.Context, c *data.Client) (*data.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	cp.ID = r.id()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = r.now()
	}
	r.clients = append(r.clients, &cp)
	out := cp
	return &out, nil
}

func (r *InMemory) ListAccounts(ctx context.Context, activeOnly bool) ([]*data.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*data.Account, 0, len(r.accounts))
	for _, a := range r.accounts {
		if activeOnly && !a.Active {
			continue
		}
		out = append(out, a.Clone())
	}
	return out, nil
}

func (r *InMemory) GetAccount(ctx context.Context, id int64) (*data.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.accounts {
		if a.ID == id {
			return a.Clone(), nil
		}
	}
	return nil, data.ErrNotFound
}

func (r *InMemory) AddAccount(ctx context.Context, a *data.Account) (*data.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := a.Clone()
	cp.ID = r.id()
	now := r.now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	r.accounts = append(r.accounts, cp)
	return cp.Clone(), nil
}

func (r *InMemory) UpdateAccount(ctx context.Context, id int64, mutate func(*data.Account) error) (*data.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.ID != id {
			continue
		}
		next := a.Clone()
		if mutate != nil {
			if err := mutate(next); err != nil {
				return nil, err
			}
		}
		next.ID = a.ID
		next.CreatedAt = a.CreatedAt
		next.UpdatedAt = r.now()
		*a = *next
		return a.Clone(), nil
	}
	return nil, data.ErrNotFound
}

func (r *InMemory) GetSetting(ctx context.Context, key string, dst any) (bool, error) {
	r.mu.RLock()
	raw, ok := r.settings[key]
	r.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return true, err
	}
	return true, nil
}

func (r *InMemory) PutSetting(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.settings[key] = raw
	r.mu.Unlock()
	return nil
}

func (r *InMemory) UpsertHitAndRun(ctx context.Context, hr *data.HitAndRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *hr
	cp.UpdatedAt = r.now()
	for i, cur := range r.hrs {
		if cur.AccountID == hr.AccountID && cur.HRID == hr.HRID {
			cp.ID = cur.ID
			r.hrs[i] = &cp
			return nil
		}
	}
	cp.ID = r.id()
	r.hrs = append(r.hrs, &cp)
	return nil
}

func (r *InMemory) ListHitAndRuns(ctx context.Context, accountID int64) ([]*data.HitAndRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*data.HitAndRun
	for _, hr := range r.hrs {
		if accountID != 0 && hr.AccountID != accountID {
			continue
		}
		cp := *hr
		out = append(out, &cp)
	}
	return out, nil
}

func (r *InMemory) AddSnapshot(ctx context.Context, s *data.StatsSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	cp.ID = r.id()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = r.now()
	}
	r.snapshots = append(r.snapshots, &cp)
	return nil
}

// Snapshots returns stored stats snapshots, oldest first.
func (r *InMemory) Snapshots() []*data.StatsSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*data.StatsSnapshot, 0, len(r.snapshots))
	for _, s := range r.snapshots {
		cp := *s
		out = append(out, &cp)
	}
	return out
}
