// Package repo defines the persistence contracts the core depends on and
// ships an in-memory store and a SQL store.
package repo

import (
	"context"

	"github.com/tinoosan/ptguard/internal/data"
)

// Store is the full persistence collaborator.
type Store interface {
	ItemRepo
	RuleRepo
	ClientRepo
	AccountRepo
	SettingsRepo
	HitAndRunRepo
	SnapshotRepo
	Ping(ctx context.Context) error
	Close() error
}

type ItemRepo interface {
	ItemReader
	ItemWriter
}

type ItemReader interface {
	GetItem(ctx context.Context, id int64) (*data.Item, error)
	// ListItems returns matching items ordered by creation time, oldest first.
	ListItems(ctx context.Context, f data.ItemFilter) (data.Items, error)
	CountItems(ctx context.Context, f data.ItemFilter) (int, error)
	// TorrentIDs returns the tracker ids of every recorded item.
	TorrentIDs(ctx context.Context) (map[string]struct{}, error)
}

type ItemWriter interface {
	AddItem(ctx context.Context, it *data.Item) (*data.Item, error)
	// UpdateItem loads the latest copy, applies mutate and writes it back
	// atomically. An error from mutate aborts the write and is returned as is.
	UpdateItem(ctx context.Context, id int64, mutate func(*data.Item) error) (*data.Item, error)
}

type RuleRepo interface {
	// ListRules returns rules ordered by sort order then id.
	ListRules(ctx context.Context, enabledOnly bool) ([]*data.Rule, error)
	GetRule(ctx context.Context, id int64) (*data.Rule, error)
	AddRule(ctx context.Context, r *data.Rule) (*data.Rule, error)
}

type ClientRepo interface {
	ListClients(ctx context.Context) ([]*data.Client, error)
	GetClient(ctx context.Context, id int64) (*data.Client, error)
	AddClient(ctx context.Context, c *data.Client) (*data.Client, error)
}

type AccountRepo interface {
	ListAccounts(ctx context.Context, activeOnly bool) ([]*data.Account, error)
	GetAccount(ctx context.Context, id int64) (*data.Account, error)
	AddAccount(ctx context.Context, a *data.Account) (*data.Account, error)
	UpdateAccount(ctx context.Context, id int64, mutate func(*data.Account) error) (*data.Account, error)
}

// SettingsRepo stores JSON blobs by key.
type SettingsRepo interface {
	// GetSetting decodes the blob into dst. It reports false when absent.
	GetSetting(ctx context.Context, key string, dst any) (bool, error)
	PutSetting(ctx context.Context, key string, v any) error
}

type HitAndRunRepo interface {
	// UpsertHitAndRun inserts or updates by (account, tracker hr id).
	UpsertHitAndRun(ctx context.Context, hr *data.HitAndRun) error
	ListHitAndRuns(ctx context.Context, accountID int64) ([]*data.HitAndRun, error)
}

type SnapshotRepo interface {
	AddSnapshot(ctx context.Context, s *data.StatsSnapshot) error
}
