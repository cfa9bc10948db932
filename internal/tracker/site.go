// Package tracker scrapes a NexusPHP tracker: search listings, detail
// pages, payload downloads, account statistics and the H&R ledger. It also
// drives the site's challenge-response login.
package tracker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/tinoosan/ptguard/internal/metrics"
	"github.com/tinoosan/ptguard/internal/ratelimit"
)

const (
	DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36"
	defaultTimeout   = 30 * time.Second
	maxPayload       = 16 << 20
)

// Config describes one tracker account session.
type Config struct {
	URL       string
	Cookie    string
	UserAgent string
	Timeout   time.Duration
	// Origins is shared by every Site and Login in the process so that all
	// traffic to one host is spaced the same way.
	Origins *ratelimit.Origins
	Dialect *Dialect
}

// Site is a logged-in view of one tracker.
type Site struct {
	base    *url.URL
	cookie  string
	agent   string
	dialect Dialect
	http    *http.Client
	log     *slog.Logger
}

// New builds a Site. A nil Origins gets a private limiter with the default
// delay.
func New(cfg Config, log *slog.Logger) (*Site, error) {
	if log == nil {
		log = slog.Default()
	}
	base, err := parseBase(cfg.URL)
	if err != nil {
		return nil, err
	}
	d := DefaultDialect()
	if cfg.Dialect != nil {
		d = *cfg.Dialect
	}
	return &Site{
		base:    base,
		cookie:  cfg.Cookie,
		agent:   userAgent(cfg.UserAgent),
		dialect: d,
		http:    limitedClient(cfg.Origins, cfg.Timeout),
		log:     log.With("site", base.Host),
	}, nil
}

func parseBase(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(raw), "/"))
	if err != nil {
		return nil, fmt.Errorf("tracker url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("tracker url %q: need http(s)://host", raw)
	}
	return u, nil
}

func userAgent(s string) string {
	if s == "" {
		return DefaultUserAgent
	}
	return s
}

func limitedClient(o *ratelimit.Origins, timeout time.Duration) *http.Client {
	if o == nil {
		o = ratelimit.New(ratelimit.DefaultDelay)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: &ratelimit.Transport{Base: http.DefaultTransport, Origins: o},
	}
}

// URL returns the tracker root.
func (s *Site) URL() string { return s.base.String() }

// Dialect returns the dialect pages are parsed with.
func (s *Site) Dialect() Dialect { return s.dialect }

func (s *Site) endpoint(page string, q url.Values) string {
	u := *s.base
	u.Path = strings.TrimRight(u.Path, "/") + "/" + page
	u.RawQuery = q.Encode()
	return u.String()
}

// fetch issues a GET for page and returns the response with an open body.
// A redirect chain that ends on login.php is reported as ErrSessionInvalid.
func (s *Site) fetch(ctx context.Context, page string, q url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint(page, q), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", s.agent)
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	if s.cookie != "" {
		req.Header.Set("Cookie", s.cookie)
	}
	s.log.Debug("tracker request", "page", page)
	resp, err := s.http.Do(req)
	if err != nil {
		metrics.TrackerRequests.WithLabelValues(page, "error").Inc()
		return nil, fmt.Errorf("tracker %s: %w", page, err)
	}
	if loginRedirect(resp.Request.URL) {
		_ = resp.Body.Close()
		metrics.TrackerRequests.WithLabelValues(page, "session_invalid").Inc()
		return nil, fmt.Errorf("tracker %s: %w", page, ErrSessionInvalid)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_ = resp.Body.Close()
		metrics.TrackerRequests.WithLabelValues(page, "error").Inc()
		return nil, fmt.Errorf("tracker %s: http %d", page, resp.StatusCode)
	}
	metrics.TrackerRequests.WithLabelValues(page, "ok").Inc()
	return resp, nil
}

func (s *Site) page(ctx context.Context, page string, q url.Values) (*goquery.Document, error) {
	resp, err := s.fetch(ctx, page, q)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tracker %s: parse: %w", page, err)
	}
	return doc, nil
}

func loginRedirect(u *url.URL) bool {
	if u == nil {
		return false
	}
	p := strings.ToLower(u.Path)
	return strings.HasSuffix(p, "login.php") && !strings.HasSuffix(p, "takelogin.php")
}

// Download fetches the torrent payload for id. The passkey is optional on
// sites that authenticate downloads by cookie.
func (s *Site) Download(ctx context.Context, id, passkey string) ([]byte, error) {
	q := url.Values{"id": {id}}
	if passkey != "" {
		q.Set("passkey", passkey)
	}
	resp, err := s.fetch(ctx, "download.php", q)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		return nil, fmt.Errorf("download %s: %w", id, ErrNotTorrent)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxPayload))
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", id, err)
	}
	return b, nil
}
