// Package qbittorrent implements downloader.Client over the qBittorrent
// Web API v2.
package qbittorrent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tinoosan/ptguard/internal/data"
	"github.com/tinoosan/ptguard/internal/downloader"
	"github.com/tinoosan/ptguard/internal/metrics"
)

const kind = "qbittorrent"

// Client talks to one qBittorrent instance. The SID cookie lives in the
// client's jar and is refreshed transparently when the server answers 403.
type Client struct {
	base     string
	username string
	password string
	http     *http.Client
	log      *slog.Logger

	mu       sync.Mutex
	loggedIn bool
}

var _ downloader.Client = (*Client)(nil)

// New builds a Client for cfg.
func New(cfg data.Client, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &Client{
		base:     fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port),
		username: cfg.Username,
		password: cfg.Password,
		http:     &http.Client{Timeout: 15 * time.Second, Jar: jar},
		log:      log,
	}, nil
}

// Constructor adapts New to downloader.Constructor.
func Constructor(cfg data.Client, log *slog.Logger) (downloader.Client, error) {
	return New(cfg, log)
}

// errStatus carries a non-2xx HTTP status out of do.
type errStatus struct {
	code int
	body string
}

func (e *errStatus) Error() string { return fmt.Sprintf("qbittorrent http %d: %s", e.code, e.body) }

type request struct {
	method      string
	path        string
	query       url.Values
	form        url.Values
	body        []byte
	contentType string
}

func (c *Client) login(ctx context.Context) error {
	form := url.Values{"username": {c.username}, "password": {c.password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/v2/auth/login", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", c.base)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(b)) != "Ok." {
		return fmt.Errorf("qbittorrent login: %w", downloader.ErrAuth)
	}
	c.log.Debug("qbittorrent login ok")
	return nil
}

func (c *Client) ensureLogin(ctx context.Context, force bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loggedIn && !force {
		return nil
	}
	c.loggedIn = false
	if err := c.login(ctx); err != nil {
		return err
	}
	c.loggedIn = true
	return nil
}

// call performs r with one transparent re-login on 403.
func (c *Client) call(ctx context.Context, r request) ([]byte, error) {
	name := strings.TrimPrefix(r.path, "/api/v2/")
	timer := prometheus.NewTimer(metrics.DownloaderRPCLatency.WithLabelValues(kind, name))
	defer timer.ObserveDuration()

	b, err := c.attempt(ctx, r, false)
	var se *errStatus
	if errors.As(err, &se) && se.code == http.StatusForbidden {
		b, err = c.attempt(ctx, r, true)
	}
	if err != nil {
		metrics.DownloaderRPCErrors.WithLabelValues(kind, name).Inc()
		return nil, err
	}
	return b, nil
}

func (c *Client) attempt(ctx context.Context, r request, relogin bool) ([]byte, error) {
	if err := c.ensureLogin(ctx, relogin); err != nil {
		return nil, err
	}
	u := c.base + r.path
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}
	var body io.Reader
	ct := r.contentType
	switch {
	case r.body != nil:
		body = bytes.NewReader(r.body)
	case r.form != nil:
		body = strings.NewReader(r.form.Encode())
		ct = "application/x-www-form-urlencoded"
	}
	req, err := http.NewRequestWithContext(ctx, r.method, u, body)
	if err != nil {
		return nil, err
	}
	if ct != "" {
		req.Header.Set("Content-Type", ct)
	}
	req.Header.Set("Referer", c.base)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &errStatus{code: resp.StatusCode, body: strings.TrimSpace(string(b))}
	}
	return b, nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	b, err := c.call(ctx, request{method: http.MethodGet, path: path, query: q})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("qbittorrent decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, form url.Values) error {
	_, err := c.call(ctx, request{method: http.MethodPost, path: path, form: form})
	return err
}

func multipartBody(payload []byte, opts downloader.AddOptions) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("torrents", "torrent.torrent")
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(payload); err != nil {
		return nil, "", err
	}
	if opts.SavePath != "" {
		_ = w.WriteField("savepath", opts.SavePath)
	}
	if len(opts.Tags) > 0 {
		_ = w.WriteField("tags", strings.Join(opts.Tags, ","))
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
