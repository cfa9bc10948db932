package qbittorrent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tinoosan/ptguard/internal/downloader"
)

type torrentInfo struct {
	Hash     string  `json:"hash"`
	Name     string  `json:"name"`
	Size     int64   `json:"size"`
	Progress float64 `json:"progress"`
	State    string  `json:"state"`
	DLSpeed  int64   `json:"dlspeed"`
	UPSpeed  int64   `json:"upspeed"`
	SavePath string  `json:"save_path"`
	Tags     string  `json:"tags"`
	Tracker  string  `json:"tracker"`
}

type trackerInfo struct {
	URL    string `json:"url"`
	Status int    `json:"status"`
	Msg    string `json:"msg"`
}

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, request{method: http.MethodGet, path: "/api/v2/app/version"})
	return err
}

// Add uploads the payload. qBittorrent does not report the hash, so the
// returned hash is always empty.
func (c *Client) Add(ctx context.Context, payload []byte, opts downloader.AddOptions) (string, error) {
	body, ct, err := multipartBody(payload, opts)
	if err != nil {
		return "", err
	}
	b, err := c.call(ctx, request{method: http.MethodPost, path: "/api/v2/torrents/add", body: body, contentType: ct})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(string(b)) != "Ok." {
		return "", fmt.Errorf("qbittorrent add rejected: %s", strings.TrimSpace(string(b)))
	}
	return "", nil
}

func (c *Client) Remove(ctx context.Context, hash string, deleteFiles bool) error {
	return c.post(ctx, "/api/v2/torrents/delete", url.Values{
		"hashes":      {hash},
		"deleteFiles": {fmt.Sprint(deleteFiles)},
	})
}

// Pause uses torrents/pause and falls back to torrents/stop, its name
// since Web API 2.11.
func (c *Client) Pause(ctx context.Context, hash string) error {
	form := url.Values{"hashes": {hash}}
	err := c.post(ctx, "/api/v2/torrents/pause", form)
	var se *errStatus
	if errors.As(err, &se) && se.code == http.StatusNotFound {
		return c.post(ctx, "/api/v2/torrents/stop", form)
	}
	return err
}

func (c *Client) Status(ctx context.Context, hash string) (*downloader.Snapshot, error) {
	var infos []torrentInfo
	if err := c.getJSON(ctx, "/api/v2/torrents/info", url.Values{"hashes": {strings.ToLower(hash)}}, &infos); err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, downloader.ErrNotFound
	}
	s := c.snapshot(ctx, infos[0])
	return &s, nil
}

func (c *Client) List(ctx context.Context) ([]downloader.Snapshot, error) {
	var infos []torrentInfo
	if err := c.getJSON(ctx, "/api/v2/torrents/info", nil, &infos); err != nil {
		return nil, err
	}
	out := make([]downloader.Snapshot, 0, len(infos))
	for _, ti := range infos {
		out = append(out, c.snapshot(ctx, ti))
	}
	return out, nil
}

// snapshot converts ti. Tracker messages are only fetched for torrents
// without a working tracker, which is where de-listing shows up.
func (c *Client) snapshot(ctx context.Context, ti torrentInfo) downloader.Snapshot {
	s := downloader.Snapshot{
		Hash:          strings.ToLower(ti.Hash),
		Name:          ti.Name,
		Size:          ti.Size,
		Progress:      ti.Progress,
		State:         mapState(ti.State, ti.Progress),
		DownloadSpeed: ti.DLSpeed,
		UploadSpeed:   ti.UPSpeed,
		SavePath:      ti.SavePath,
		Tags:          splitTags(ti.Tags),
	}
	if ti.Tracker == "" {
		s.TrackerMessage = c.trackerMessage(ctx, ti.Hash)
	}
	return s
}

func (c *Client) trackerMessage(ctx context.Context, hash string) string {
	var trackers []trackerInfo
	if err := c.getJSON(ctx, "/api/v2/torrents/trackers", url.Values{"hash": {hash}}, &trackers); err != nil {
		c.log.Debug("qbittorrent trackers lookup failed", "hash", hash, "err", err)
		return ""
	}
	for _, t := range trackers {
		// DHT, PeX and LSD pseudo-trackers
		if strings.HasPrefix(t.URL, "** [") {
			continue
		}
		if t.Msg != "" {
			return t.Msg
		}
	}
	return ""
}

func (c *Client) Stats(ctx context.Context) (*downloader.Stats, error) {
	var transfer struct {
		DLSpeed int64 `json:"dl_info_speed"`
		UPSpeed int64 `json:"up_info_speed"`
	}
	if err := c.getJSON(ctx, "/api/v2/transfer/info", nil, &transfer); err != nil {
		return nil, err
	}
	var main struct {
		ServerState struct {
			FreeSpace int64 `json:"free_space_on_disk"`
		} `json:"server_state"`
	}
	if err := c.getJSON(ctx, "/api/v2/sync/maindata", nil, &main); err != nil {
		return nil, err
	}
	var infos []torrentInfo
	if err := c.getJSON(ctx, "/api/v2/torrents/info", nil, &infos); err != nil {
		return nil, err
	}
	snaps := make([]downloader.Snapshot, 0, len(infos))
	for _, ti := range infos {
		snaps = append(snaps, downloader.Snapshot{State: mapState(ti.State, ti.Progress)})
	}
	st := &downloader.Stats{
		DownloadSpeed: transfer.DLSpeed,
		UploadSpeed:   transfer.UPSpeed,
		FreeSpace:     main.ServerState.FreeSpace,
	}
	downloader.Count(st, snaps)
	return st, nil
}

func (c *Client) Tags(ctx context.Context) ([]string, error) {
	var tags []string
	if err := c.getJSON(ctx, "/api/v2/torrents/tags", nil, &tags); err != nil {
		return nil, err
	}
	return tags, nil
}

func (c *Client) CreateTag(ctx context.Context, tag string) error {
	return c.post(ctx, "/api/v2/torrents/createTags", url.Values{"tags": {tag}})
}

func mapState(state string, progress float64) downloader.State {
	switch state {
	case "downloading", "stalledDL", "metaDL", "forcedDL", "queuedDL", "checkingDL", "allocating", "forcedMetaDL":
		return downloader.StateDownloading
	case "uploading", "stalledUP", "forcedUP", "queuedUP", "checkingUP":
		return downloader.StateSeeding
	case "pausedDL", "stoppedDL":
		return downloader.StatePaused
	case "pausedUP", "stoppedUP":
		if progress >= 1 {
			return downloader.StateCompleted
		}
		return downloader.StatePaused
	case "error", "missingFiles":
		return downloader.StateError
	default:
		return downloader.StateUnknown
	}
}

func splitTags(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
