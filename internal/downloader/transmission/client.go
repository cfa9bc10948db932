// Package transmission implements downloader.Client over the Transmission
// RPC protocol.
package transmission

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tinoosan/ptguard/internal/data"
	"github.com/tinoosan/ptguard/internal/downloader"
	"github.com/tinoosan/ptguard/internal/metrics"
)

const (
	kind            = "transmission"
	sessionIDHeader = "X-Transmission-Session-Id"
)

var torrentFields = []string{
	"id", "hashString", "name", "totalSize", "percentDone", "status", "error",
	"rateDownload", "rateUpload", "downloadDir", "trackerStats", "labels",
}

// Client talks to one Transmission daemon.
type Client struct {
	endpoint string
	username string
	password string
	http     *http.Client
	log      *slog.Logger

	mu        sync.Mutex
	sessionID string
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
	return &Client{
		endpoint: fmt.Sprintf("%s://%s:%d/transmission/rpc", scheme, cfg.Host, cfg.Port),
		username: cfg.Username,
		password: cfg.Password,
		http:     &http.Client{Timeout: 15 * time.Second},
		log:      log,
	}, nil
}

// Constructor adapts New to downloader.Constructor.
func Constructor(cfg data.Client, log *slog.Logger) (downloader.Client, error) {
	return New(cfg, log)
}

type rpcReq struct {
	Method    string `json:"method"`
	Arguments any    `json:"arguments,omitempty"`
}

type rpcResp struct {
	Result    string          `json:"result"`
	Arguments json.RawMessage `json:"arguments"`
}

// call performs one RPC, retrying once with a fresh session id on 409.
func (c *Client) call(ctx context.Context, method string, args any, out any) error {
	timer := prometheus.NewTimer(metrics.DownloaderRPCLatency.WithLabelValues(kind, method))
	defer timer.ObserveDuration()
	body, _ := json.Marshal(rpcReq{Method: method, Arguments: args})

	var (
		resp *http.Response
		err  error
	)
	for attempt := 0; attempt < 2; attempt++ {
		resp, err = c.post(ctx, body)
		if err != nil {
			metrics.DownloaderRPCErrors.WithLabelValues(kind, method).Inc()
			return err
		}
		if resp.StatusCode != http.StatusConflict {
			break
		}
		c.mu.Lock()
		c.sessionID = resp.Header.Get(sessionIDHeader)
		c.mu.Unlock()
		_ = resp.Body.Close()
	}
	defer func() { _ = resp.Body.Close() }()

	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusUnauthorized {
		metrics.DownloaderRPCErrors.WithLabelValues(kind, method).Inc()
		return fmt.Errorf("transmission %s: %w", method, downloader.ErrAuth)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.DownloaderRPCErrors.WithLabelValues(kind, method).Inc()
		return fmt.Errorf("transmission http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var rr rpcResp
	if err := json.Unmarshal(b, &rr); err != nil {
		metrics.DownloaderRPCErrors.WithLabelValues(kind, method).Inc()
		return fmt.Errorf("transmission rpc decode: %w (%s)", err, string(b))
	}
	if rr.Result != "success" {
		metrics.DownloaderRPCErrors.WithLabelValues(kind, method).Inc()
		return fmt.Errorf("transmission %s: %s", method, rr.Result)
	}
	if out != nil && len(rr.Arguments) > 0 {
		if err := json.Unmarshal(rr.Arguments, out); err != nil {
			return fmt.Errorf("transmission %s arguments: %w", method, err)
		}
	}
	return nil
}

func (c *Client) post(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.mu.Lock()
	if c.sessionID != "" {
		req.Header.Set(sessionIDHeader, c.sessionID)
	}
	c.mu.Unlock()
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	return c.http.Do(req)
}

type torrent struct {
	ID           int64   `json:"id"`
	HashString   string  `json:"hashString"`
	Name         string  `json:"name"`
	TotalSize    int64   `json:"totalSize"`
	PercentDone  float64 `json:"percentDone"`
	Status       int     `json:"status"`
	Error        int     `json:"error"`
	RateDownload int64   `json:"rateDownload"`
	RateUpload   int64   `json:"rateUpload"`
	DownloadDir  string  `json:"downloadDir"`
	TrackerStats []struct {
		LastAnnounceResult string `json:"lastAnnounceResult"`
	} `json:"trackerStats"`
	Labels []string `json:"labels"`
}

func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, "session-get", map[string]any{"fields": []string{"version"}}, nil)
}

func (c *Client) Add(ctx context.Context, payload []byte, opts downloader.AddOptions) (string, error) {
	args := map[string]any{"metainfo": base64.StdEncoding.EncodeToString(payload)}
	if opts.SavePath != "" {
		args["download-dir"] = opts.SavePath
	}
	if len(opts.Tags) > 0 {
		args["labels"] = opts.Tags
	}
	var out struct {
		Added *struct {
			HashString string `json:"hashString"`
		} `json:"torrent-added"`
		Duplicate *struct {
			HashString string `json:"hashString"`
		} `json:"torrent-duplicate"`
	}
	if err := c.call(ctx, "torrent-add", args, &out); err != nil {
		return "", err
	}
	switch {
	case out.Added != nil:
		return strings.ToLower(out.Added.HashString), nil
	case out.Duplicate != nil:
		return strings.ToLower(out.Duplicate.HashString), nil
	}
	return "", nil
}

// Remove and Pause address torrents by hash; Transmission accepts hash
// strings in ids.
func (c *Client) Remove(ctx context.Context, hash string, deleteFiles bool) error {
	if _, err := c.Status(ctx, hash); err != nil {
		return err
	}
	return c.call(ctx, "torrent-remove", map[string]any{"ids": []string{hash}, "delete-local-data": deleteFiles}, nil)
}

func (c *Client) Pause(ctx context.Context, hash string) error {
	if _, err := c.Status(ctx, hash); err != nil {
		return err
	}
	return c.call(ctx, "torrent-stop", map[string]any{"ids": []string{hash}}, nil)
}

func (c *Client) torrents(ctx context.Context, ids []string) ([]torrent, error) {
	args := map[string]any{"fields": torrentFields}
	if ids != nil {
		args["ids"] = ids
	}
	var out struct {
		Torrents []torrent `json:"torrents"`
	}
	if err := c.call(ctx, "torrent-get", args, &out); err != nil {
		return nil, err
	}
	return out.Torrents, nil
}

func (c *Client) Status(ctx context.Context, hash string) (*downloader.Snapshot, error) {
	ts, err := c.torrents(ctx, []string{strings.ToLower(hash)})
	if err != nil {
		return nil, err
	}
	for _, t := range ts {
		if strings.EqualFold(t.HashString, hash) {
			s := toSnapshot(t)
			return &s, nil
		}
	}
	return nil, downloader.ErrNotFound
}

func (c *Client) List(ctx context.Context) ([]downloader.Snapshot, error) {
	ts, err := c.torrents(ctx, nil)
	if err != nil {
		return nil, err
	}
	out := make([]downloader.Snapshot, 0, len(ts))
	for _, t := range ts {
		out = append(out, toSnapshot(t))
	}
	return out, nil
}

func (c *Client) Stats(ctx context.Context) (*downloader.Stats, error) {
	var stats struct {
		DownloadSpeed int64 `json:"downloadSpeed"`
		UploadSpeed   int64 `json:"uploadSpeed"`
	}
	if err := c.call(ctx, "session-stats", nil, &stats); err != nil {
		return nil, err
	}
	st := &downloader.Stats{DownloadSpeed: stats.DownloadSpeed, UploadSpeed: stats.UploadSpeed}

	var session struct {
		DownloadDir string `json:"download-dir"`
	}
	if err := c.call(ctx, "session-get", map[string]any{"fields": []string{"download-dir"}}, &session); err != nil {
		return nil, err
	}
	if session.DownloadDir != "" {
		var fs struct {
			SizeBytes int64 `json:"size-bytes"`
			TotalSize int64 `json:"total_size"`
		}
		if err := c.call(ctx, "free-space", map[string]any{"path": session.DownloadDir}, &fs); err != nil {
			c.log.Warn("transmission free-space failed", "path", session.DownloadDir, "err", err)
		} else {
			st.FreeSpace = fs.SizeBytes
			st.TotalSpace = fs.TotalSize
		}
	}

	snaps, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	downloader.Count(st, snaps)
	return st, nil
}

// Tags is the union of labels across torrents.
func (c *Client) Tags(ctx context.Context) ([]string, error) {
	ts, err := c.torrents(ctx, nil)
	if err != nil {
		return nil, err
	}
	set := map[string]struct{}{}
	for _, t := range ts {
		for _, l := range t.Labels {
			set[l] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for l := range set {
		out = append(out, l)
	}
	sort.Strings(out)
	return out, nil
}

// CreateTag is unsupported: labels exist only on torrents.
func (c *Client) CreateTag(ctx context.Context, tag string) error {
	return downloader.ErrUnsupported
}

func toSnapshot(t torrent) downloader.Snapshot {
	s := downloader.Snapshot{
		Hash:          strings.ToLower(t.HashString),
		Name:          t.Name,
		Size:          t.TotalSize,
		Progress:      t.PercentDone,
		State:         mapStatus(t.Status, t.Error, t.PercentDone),
		DownloadSpeed: t.RateDownload,
		UploadSpeed:   t.RateUpload,
		SavePath:      t.DownloadDir,
		Tags:          append([]string(nil), t.Labels...),
	}
	for _, ts := range t.TrackerStats {
		if ts.LastAnnounceResult != "" {
			s.TrackerMessage = ts.LastAnnounceResult
			break
		}
	}
	return s
}

// mapStatus follows tr_torrent_activity: 0 stopped, 1 check wait, 2 check,
// 3 download wait, 4 download, 5 seed wait, 6 seed. Error 3 is a local error.
func mapStatus(status, errCode int, percentDone float64) downloader.State {
	if errCode == 3 {
		return downloader.StateError
	}
	switch status {
	case 0:
		if percentDone >= 1 {
			return downloader.StateCompleted
		}
		return downloader.StatePaused
	case 1, 2, 3, 4:
		return downloader.StateDownloading
	case 5, 6:
		return downloader.StateSeeding
	default:
		return downloader.StateUnknown
	}
}
