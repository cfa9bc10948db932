package service

import (
	"context"
	"fmt"

	"github.com/tinoosan/ptguard/internal/data"
	"github.com/tinoosan/ptguard/internal/rules"
	"github.com/tinoosan/ptguard/internal/tracker"
)

// Verdict is the rule engine's answer for one listed item.
type Verdict struct {
	Torrent data.Torrent `json:"torrent"`
	Match   bool         `json:"match"`
	Reason  rules.Reason `json:"reason,omitempty"`
	Known   bool         `json:"known"`
}

// Preview runs rule id's search and evaluates every listed item without
// acquiring anything.
func (a *Acquirer) Preview(ctx context.Context, id int64) ([]Verdict, error) {
	r, err := a.store.GetRule(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("rule %d: %w", id, err)
	}
	acc, err := a.account(ctx, r.AccountID)
	if err != nil {
		return nil, err
	}
	site, err := a.sites.For(acc)
	if err != nil {
		return nil, err
	}
	p := tracker.SearchParams{Keyword: rules.SearchKeyword(r)}
	if r.FreeOnly {
		p.SPState = tracker.SPStateFree
	}
	found, err := site.Search(ctx, p)
	if err != nil {
		return nil, err
	}
	known, err := a.store.TorrentIDs(ctx)
	if err != nil {
		return nil, err
	}
	now := a.now()
	out := make([]Verdict, 0, len(found))
	for i := range found {
		ok, why := rules.Evaluate(r, &found[i], now)
		_, dup := known[found[i].ID]
		out = append(out, Verdict{Torrent: found[i], Match: ok && !dup, Reason: why, Known: dup})
	}
	return out, nil
}
