package downloader

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/tinoosan/ptguard/internal/fp"
)

// Memory is an in-process Client for dry runs and tests. Added torrents
// start downloading and stay there until a test moves them with SetState.
type Memory struct {
	mu       sync.Mutex
	torrents map[string]*Snapshot
	tags     map[string]struct{}
	stats    Stats
	err      error
	// HideHash makes Add report an empty hash like qBittorrent does.
	HideHash bool
}

func NewMemory() *Memory {
	return &Memory{torrents: make(map[string]*Snapshot), tags: make(map[string]struct{})}
}

var _ Client = (*Memory)(nil)

func (m *Memory) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *Memory) Add(ctx context.Context, payload []byte, opts AddOptions) (string, error) {
	meta, err := fp.Parse(payload)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.torrents[meta.InfoHash] = &Snapshot{
		Hash:     meta.InfoHash,
		Name:     meta.Name,
		Size:     meta.Size,
		State:    StateDownloading,
		SavePath: opts.SavePath,
		Tags:     append([]string(nil), opts.Tags...),
	}
	if m.HideHash {
		return "", nil
	}
	return meta.InfoHash, nil
}

func (m *Memory) Remove(ctx context.Context, hash string, deleteFiles bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	hash = strings.ToLower(hash)
	if _, ok := m.torrents[hash]; !ok {
		return ErrNotFound
	}
	delete(m.torrents, hash)
	return nil
}

func (m *Memory) Pause(ctx context.Context, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	t, ok := m.torrents[strings.ToLower(hash)]
	if !ok {
		return ErrNotFound
	}
	t.State = StatePaused
	return nil
}

func (m *Memory) Status(ctx context.Context, hash string) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	t, ok := m.torrents[strings.ToLower(hash)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	cp.Tags = append([]string(nil), t.Tags...)
	return &cp, nil
}

func (m *Memory) List(ctx context.Context) ([]Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make([]Snapshot, 0, len(m.torrents))
	for _, t := range m.torrents {
		cp := *t
		cp.Tags = append([]string(nil), t.Tags...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hash < out[j].Hash })
	return out, nil
}

func (m *Memory) Stats(ctx context.Context) (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	st := m.stats
	snaps := make([]Snapshot, 0, len(m.torrents))
	for _, t := range m.torrents {
		st.DownloadSpeed += t.DownloadSpeed
		st.UploadSpeed += t.UploadSpeed
		snaps = append(snaps, *t)
	}
	Count(&st, snaps)
	return &st, nil
}

func (m *Memory) Tags(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.tags))
	for t := range m.tags {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, m.err
}

func (m *Memory) CreateTag(ctx context.Context, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.tags[tag] = struct{}{}
	return nil
}

// Put inserts or replaces a snapshot.
func (m *Memory) Put(s Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.Hash = strings.ToLower(s.Hash)
	m.torrents[s.Hash] = &s
}

// SetState moves a held torrent to state.
func (m *Memory) SetState(hash string, state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.torrents[strings.ToLower(hash)]; ok {
		t.State = state
	}
}

// SetSpace sets the reported volume size and free space.
func (m *Memory) SetSpace(total, free int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.TotalSpace = total
	m.stats.FreeSpace = free
}

// SetErr makes every subsequent call fail with err.
func (m *Memory) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}
