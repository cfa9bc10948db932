package aria2dl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tinoosan/ptguard/internal/reqid"
)

// purge removes the payload roots of files and their .aria2 control files.
// Every path must resolve strictly under the base directory: the adapter's
// configured download dir when set, otherwise the task's own dir.
func (a *Adapter) purge(ctx context.Context, dir string, files []string) error {
	base := a.baseDir
	if base == "" {
		base = dir
	}
	if base == "" {
		return fmt.Errorf("refusing to delete without a base directory")
	}
	base = filepath.Clean(base)
	baseWithSep := base
	if !strings.HasSuffix(baseWithSep, string(os.PathSeparator)) {
		baseWithSep += string(os.PathSeparator)
	}
	isSafe := func(p string) bool {
		return p != base && strings.HasPrefix(p, baseWithSep)
	}

	taskDir := filepath.Clean(dir)
	if dir == "" {
		taskDir = base
	}

	// The root is the first path segment below the task dir: the torrent's
	// folder for multi-file torrents, the file itself otherwise.
	var roots []string
	for _, p := range files {
		if !filepath.IsAbs(p) {
			p = filepath.Join(taskDir, p)
		}
		p = filepath.Clean(p)
		if !isSafe(p) {
			return fmt.Errorf("refusing to delete outside base: %s", p)
		}
		root := p
		if rel, err := filepath.Rel(taskDir, p); err == nil && !strings.HasPrefix(rel, "..") {
			root = filepath.Join(taskDir, strings.Split(rel, string(os.PathSeparator))[0])
		}
		if !isSafe(root) {
			return fmt.Errorf("refusing to delete outside base: %s", root)
		}
		roots = append(roots, root)
	}
	roots = dedup(roots)
	sort.Strings(roots)

	log := a.log
	if rid, ok := reqid.From(ctx); ok {
		log = log.With("request_id", rid)
	}
	for _, r := range roots {
		log.Info("delete payload", "path", r)
		if err := a.fs.RemoveAll(r); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Error("delete payload", "path", r, "err", err)
			return fmt.Errorf("delete %s: %w", r, err)
		}
		sidecar := r + ".aria2"
		if err := a.fs.Remove(sidecar); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Error("delete sidecar", "path", sidecar, "err", err)
			return fmt.Errorf("delete %s: %w", sidecar, err)
		}
	}
	return nil
}

// dedup returns a new slice with duplicates removed, preserving order.
func dedup(in []string) []string {
	if len(in) <= 1 {
		return in
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, p := range in {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
