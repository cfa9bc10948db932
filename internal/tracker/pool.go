package tracker

import (
	"log/slog"
	"sync"

	"github.com/tinoosan/ptguard/internal/data"
)

// Pool hands out one Site per account and rebuilds it when the account's
// URL or cookie changes. Every Site shares the template's limiter.
type Pool struct {
	tmpl Config
	log  *slog.Logger

	mu    sync.Mutex
	sites map[int64]pooledSite
}

type pooledSite struct {
	url    string
	cookie string
	site   *Site
}

func NewPool(tmpl Config, log *slog.Logger) *Pool {
	if log == nil {
		log = slog.Default()
	}
	return &Pool{tmpl: tmpl, log: log, sites: make(map[int64]pooledSite)}
}

// For returns the Site for acc.
func (p *Pool) For(acc *data.Account) (*Site, error) {
	if acc == nil {
		return nil, data.ErrNoAccount
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if ps, ok := p.sites[acc.ID]; ok && ps.url == acc.SiteURL && ps.cookie == acc.Cookie {
		return ps.site, nil
	}
	cfg := p.tmpl
	cfg.URL = acc.SiteURL
	cfg.Cookie = acc.Cookie
	s, err := New(cfg, p.log.With("account_id", acc.ID))
	if err != nil {
		return nil, err
	}
	p.sites[acc.ID] = pooledSite{url: acc.SiteURL, cookie: acc.Cookie, site: s}
	return s, nil
}
