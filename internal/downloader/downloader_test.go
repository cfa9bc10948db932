package downloader

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/tinoosan/ptguard/internal/data"
	"github.com/tinoosan/ptguard/internal/fp"
)

func payload(name string, size int) []byte {
	return []byte("d4:infod6:lengthi" + strconv.Itoa(size) + "e4:name" + strconv.Itoa(len(name)) + ":" + name + "6:pieces0:ee")
}

func TestUsedSpace(t *testing.T) {
	snaps := []Snapshot{{Size: 100}, {Size: 50}}
	if got := UsedSpace(&Stats{TotalSpace: 1000, FreeSpace: 300}, snaps); got != 700 {
		t.Fatalf("used with total = %d, want 700", got)
	}
	if got := UsedSpace(&Stats{FreeSpace: 300}, snaps); got != 150 {
		t.Fatalf("used without total = %d, want 150", got)
	}
	if got := UsedSpace(nil, nil); got != 0 {
		t.Fatalf("used of nothing = %d", got)
	}
}

func TestResolveHash(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.HideHash = true
	p := payload("a.mkv", 10)
	want, _ := fp.InfoHash(p)

	reported, err := m.Add(ctx, p, AddOptions{})
	if err != nil || reported != "" {
		t.Fatalf("add: %q %v", reported, err)
	}
	got, err := ResolveHash(ctx, m, p, reported, ResolveOptions{Attempts: 2, Interval: time.Millisecond})
	if err != nil || got != want {
		t.Fatalf("ResolveHash = %q, %v; want %q", got, err, want)
	}

	if got, _ := ResolveHash(ctx, m, p, "ABCDEF", ResolveOptions{}); got != "abcdef" {
		t.Fatalf("reported hash should win, got %q", got)
	}

	_, err = ResolveHash(ctx, NewMemory(), p, "", ResolveOptions{Attempts: 2, Interval: time.Millisecond})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unseen torrent, got %v", err)
	}
}

func TestMemoryClientLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	h, err := m.Add(ctx, payload("b.iso", 2048), AddOptions{SavePath: "/data", Tags: []string{"pt"}})
	if err != nil {
		t.Fatal(err)
	}
	s, err := m.Status(ctx, h)
	if err != nil || s.State != StateDownloading || s.Size != 2048 || s.Name != "b.iso" {
		t.Fatalf("status after add: %+v %v", s, err)
	}
	if err := m.Pause(ctx, h); err != nil {
		t.Fatal(err)
	}
	st, _ := m.Stats(ctx)
	if st.DownloadingCount != 0 {
		t.Fatalf("paused torrent counted as downloading: %+v", st)
	}
	if err := m.Remove(ctx, h, true); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Status(ctx, h); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after remove, got %v", err)
	}
	m.SetErr(errors.New("down"))
	if TestConnection(ctx, m) {
		t.Fatal("failing client reported connected")
	}
}

func TestFactoryCachesPerConfig(t *testing.T) {
	f := NewFactory(slog.Default())
	builds := 0
	f.Register(data.ClientQBittorrent, func(cfg data.Client, _ *slog.Logger) (Client, error) {
		builds++
		return NewMemory(), nil
	})
	cfg := &data.Client{ID: 1, Kind: data.ClientQBittorrent, Host: "qb", Port: 8080}
	a, _ := f.Get(cfg)
	b, _ := f.Get(cfg)
	if a != b || builds != 1 {
		t.Fatalf("expected cached client, builds=%d", builds)
	}
	cfg.Port = 8081
	c, _ := f.Get(cfg)
	if c == a || builds != 2 {
		t.Fatalf("config change should rebuild, builds=%d", builds)
	}

	if _, err := f.Get(&data.Client{ID: 2, Kind: "deluge"}); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
	if _, err := f.Get(&data.Client{ID: 3, Kind: data.ClientMemory}); err != nil {
		t.Fatalf("memory kind should be built in: %v", err)
	}
}

func TestChanReporterDropsWhenFull(t *testing.T) {
	ch := make(chan Event, 1)
	r := NewChanReporter(ch)
	r.Report(Event{Hash: "a"})
	r.Report(Event{Hash: "b"})
	if e := <-ch; e.Hash != "a" || len(ch) != 0 {
		t.Fatalf("unexpected events: %+v", e)
	}
	var nilRep *ChanReporter
	nilRep.Report(Event{})
}
