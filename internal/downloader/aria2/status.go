package aria2dl

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tinoosan/ptguard/internal/downloader"
)

// statusKeys limits tellStatus-family responses to what snapshots need.
var statusKeys = []string{
	"gid", "infoHash", "status", "totalLength", "completedLength", "downloadSpeed",
	"uploadSpeed", "dir", "files", "bittorrent", "errorMessage", "seeder",
}

const pageSize = 1000

// entry is a partial tellStatus response. Numeric values are decimal strings.
type entry struct {
	GID             string `json:"gid"`
	InfoHash        string `json:"infoHash"`
	Status          string `json:"status"`
	TotalLength     string `json:"totalLength"`
	CompletedLength string `json:"completedLength"`
	DownloadSpeed   string `json:"downloadSpeed"`
	UploadSpeed     string `json:"uploadSpeed"`
	Dir             string `json:"dir"`
	ErrorMessage    string `json:"errorMessage"`
	Seeder          string `json:"seeder"`
	Files           []struct {
		Path string `json:"path"`
	} `json:"files"`
	Bittorrent struct {
		Info struct {
			Name string `json:"name"`
		} `json:"info"`
	} `json:"bittorrent"`
}

func parseInt(s string) int64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func (e *entry) name() string {
	if e.Bittorrent.Info.Name != "" {
		return e.Bittorrent.Info.Name
	}
	if len(e.Files) > 0 && e.Files[0].Path != "" {
		return filepath.Base(e.Files[0].Path)
	}
	return ""
}

func (e *entry) snapshot() downloader.Snapshot {
	total, done := parseInt(e.TotalLength), parseInt(e.CompletedLength)
	s := downloader.Snapshot{
		Hash:          strings.ToLower(e.InfoHash),
		Name:          e.name(),
		Size:          total,
		State:         mapStatus(e.Status, e.Seeder == "true", total, done),
		DownloadSpeed: parseInt(e.DownloadSpeed),
		UploadSpeed:   parseInt(e.UploadSpeed),
		SavePath:      e.Dir,
	}
	if total > 0 {
		s.Progress = float64(done) / float64(total)
	}
	if e.Status == "error" {
		s.TrackerMessage = e.ErrorMessage
	}
	return s
}

func mapStatus(status string, seeder bool, total, done int64) downloader.State {
	switch status {
	case "active":
		if seeder {
			return downloader.StateSeeding
		}
		return downloader.StateDownloading
	case "waiting":
		return downloader.StateDownloading
	case "paused":
		if total > 0 && done >= total {
			return downloader.StateCompleted
		}
		return downloader.StatePaused
	case "complete":
		return downloader.StateCompleted
	case "error":
		return downloader.StateError
	default:
		return downloader.StateUnknown
	}
}

// entries lists every BitTorrent task aria2 still knows about.
func (a *Adapter) entries(ctx context.Context) ([]entry, error) {
	var out []entry
	calls := []struct {
		method string
		params []interface{}
	}{
		{"aria2.tellActive", a.params(statusKeys)},
		{"aria2.tellWaiting", a.params(0, pageSize, statusKeys)},
		{"aria2.tellStopped", a.params(0, pageSize, statusKeys)},
	}
	for _, c := range calls {
		res, err := a.call(ctx, c.method, c.params)
		if err != nil {
			return nil, err
		}
		var es []entry
		if err := json.Unmarshal(res, &es); err != nil {
			return nil, fmt.Errorf("parse %s: %w", c.method, err)
		}
		for _, e := range es {
			if e.InfoHash == "" || e.Status == "removed" {
				continue
			}
			out = append(out, e)
		}
	}
	return out, nil
}

func (a *Adapter) find(ctx context.Context, hash string) (*entry, error) {
	es, err := a.entries(ctx)
	if err != nil {
		return nil, err
	}
	for i := range es {
		if strings.EqualFold(es[i].InfoHash, hash) {
			return &es[i], nil
		}
	}
	return nil, downloader.ErrNotFound
}

// hashOf resolves the info hash behind a gid.
func (a *Adapter) hashOf(ctx context.Context, gid string) (string, error) {
	res, err := a.call(ctx, "aria2.tellStatus", a.params(gid, []string{"infoHash"}))
	if err != nil {
		return "", err
	}
	var e entry
	if err := json.Unmarshal(res, &e); err != nil {
		return "", fmt.Errorf("parse tellStatus: %w", err)
	}
	return strings.ToLower(e.InfoHash), nil
}
