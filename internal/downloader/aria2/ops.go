package aria2dl

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/tinoosan/ptguard/internal/downloader"
	"github.com/tinoosan/ptguard/internal/fp"
)

// Ping performs a lightweight RPC to check aria2 liveness/readiness.
func (a *Adapter) Ping(ctx context.Context) error {
	_, err := a.call(ctx, "aria2.getVersion", a.params())
	return err
}

// Add: aria2.addTorrent([token?, base64, [], options]). aria2 answers with
// a gid, so the hash comes from the payload itself.
func (a *Adapter) Add(ctx context.Context, payload []byte, opts downloader.AddOptions) (string, error) {
	o := map[string]string{}
	if opts.SavePath != "" {
		o["dir"] = opts.SavePath
	}
	res, err := a.call(ctx, "aria2.addTorrent", a.params(base64.StdEncoding.EncodeToString(payload), []string{}, o))
	if err != nil {
		return "", err
	}
	var gid string
	if err := json.Unmarshal(res, &gid); err != nil {
		return "", fmt.Errorf("parse addTorrent result: %w", err)
	}
	a.log.Debug("aria2 torrent added", "gid", gid)
	// an unparsable payload leaves the hash to ResolveHash, which reports it
	hash, _ := fp.InfoHash(payload)
	return hash, nil
}

// Pause: aria2.pause([token?, gid]). Finished tasks are already inert.
func (a *Adapter) Pause(ctx context.Context, hash string) error {
	e, err := a.find(ctx, hash)
	if err != nil {
		return err
	}
	if e.Status != "active" && e.Status != "waiting" {
		return nil
	}
	_, err = a.call(ctx, "aria2.pause", a.params(e.GID))
	return err
}

// Remove stops the task, clears its result and optionally purges files.
func (a *Adapter) Remove(ctx context.Context, hash string, deleteFiles bool) error {
	e, err := a.find(ctx, hash)
	if err != nil {
		return err
	}
	switch e.Status {
	case "active", "waiting", "paused":
		if _, err := a.call(ctx, "aria2.forceRemove", a.params(e.GID)); err != nil && !isGIDNotFound(err) {
			return err
		}
	}
	// Remove download result to clean aria2 session (best effort).
	_, _ = a.call(ctx, "aria2.removeDownloadResult", a.params(e.GID))
	if !deleteFiles {
		return nil
	}
	paths := make([]string, 0, len(e.Files))
	for _, f := range e.Files {
		if f.Path != "" {
			paths = append(paths, f.Path)
		}
	}
	return a.purge(ctx, e.Dir, paths)
}

func (a *Adapter) Status(ctx context.Context, hash string) (*downloader.Snapshot, error) {
	e, err := a.find(ctx, hash)
	if err != nil {
		return nil, err
	}
	s := e.snapshot()
	return &s, nil
}

func (a *Adapter) List(ctx context.Context) ([]downloader.Snapshot, error) {
	es, err := a.entries(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]downloader.Snapshot, 0, len(es))
	for i := range es {
		out = append(out, es[i].snapshot())
	}
	return out, nil
}

// Stats reports global speeds. aria2 does not expose disk figures, so
// storage falls back to the sum of task sizes.
func (a *Adapter) Stats(ctx context.Context) (*downloader.Stats, error) {
	res, err := a.call(ctx, "aria2.getGlobalStat", a.params())
	if err != nil {
		return nil, err
	}
	var g struct {
		DownloadSpeed string `json:"downloadSpeed"`
		UploadSpeed   string `json:"uploadSpeed"`
	}
	if err := json.Unmarshal(res, &g); err != nil {
		return nil, fmt.Errorf("parse getGlobalStat: %w", err)
	}
	snaps, err := a.List(ctx)
	if err != nil {
		return nil, err
	}
	st := &downloader.Stats{DownloadSpeed: parseInt(g.DownloadSpeed), UploadSpeed: parseInt(g.UploadSpeed)}
	downloader.Count(st, snaps)
	return st, nil
}

func (a *Adapter) Tags(ctx context.Context) ([]string, error) {
	return nil, downloader.ErrUnsupported
}

func (a *Adapter) CreateTag(ctx context.Context, tag string) error {
	return downloader.ErrUnsupported
}
