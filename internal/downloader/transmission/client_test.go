package transmission

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/tinoosan/ptguard/internal/data"
	"github.com/tinoosan/ptguard/internal/downloader"
)

type fakeDaemon struct {
	t        *testing.T
	methods  []string
	conflict int
	stopped  []any
	removed  map[string]any
}

func (f *fakeDaemon) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if u, p, ok := r.BasicAuth(); !ok || u != "tr" || p != "pw" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if r.Header.Get(sessionIDHeader) != "sess-1" {
		f.conflict++
		w.Header().Set(sessionIDHeader, "sess-1")
		w.WriteHeader(http.StatusConflict)
		return
	}
	var req struct {
		Method    string         `json:"method"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		f.t.Errorf("decode: %v", err)
	}
	f.methods = append(f.methods, req.Method)
	reply := func(args any) {
		_ = json.NewEncoder(w).Encode(map[string]any{"result": "success", "arguments": args})
	}
	switch req.Method {
	case "session-get":
		reply(map[string]any{"download-dir": "/downloads", "version": "4.0.5"})
	case "torrent-add":
		if req.Arguments["metainfo"] == "" || req.Arguments["download-dir"] != "/data" {
			f.t.Errorf("bad add args: %v", req.Arguments)
		}
		reply(map[string]any{"torrent-added": map[string]any{"hashString": "ABCDEF", "id": 1}})
	case "torrent-get":
		all := []map[string]any{
			{"id": 1, "hashString": "abcdef", "name": "one", "totalSize": 100, "percentDone": 0.5, "status": 4, "labels": []string{"pt"}},
			{"id": 2, "hashString": "123456", "name": "two", "totalSize": 300, "percentDone": 1, "status": 6, "labels": []string{"pt", "x"},
				"trackerStats": []map[string]any{{"lastAnnounceResult": "Torrent not registered with this tracker"}}},
		}
		if ids, ok := req.Arguments["ids"].([]any); ok {
			var out []map[string]any
			for _, t := range all {
				for _, id := range ids {
					if t["hashString"] == id {
						out = append(out, t)
					}
				}
			}
			all = out
		}
		reply(map[string]any{"torrents": all})
	case "torrent-stop":
		f.stopped = append(f.stopped, req.Arguments["ids"])
		reply(map[string]any{})
	case "torrent-remove":
		f.removed = req.Arguments
		reply(map[string]any{})
	case "session-stats":
		reply(map[string]any{"downloadSpeed": 5, "uploadSpeed": 7})
	case "free-space":
		reply(map[string]any{"path": "/downloads", "size-bytes": 1000, "total_size": 5000})
	default:
		_ = json.NewEncoder(w).Encode(map[string]any{"result": "method name not recognized"})
	}
}

func newTestClient(t *testing.T, f *fakeDaemon, password string) *Client {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	u, _ := url.Parse(srv.URL)
	port, _ := strconv.Atoi(u.Port())
	c, _ := New(data.Client{Host: u.Hostname(), Port: port, Username: "tr", Password: password}, nil)
	return c
}

func TestSessionIDRetry(t *testing.T) {
	f := &fakeDaemon{t: t}
	c := newTestClient(t, f, "pw")
	ctx := context.Background()
	if err := c.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if err := c.Ping(ctx); err != nil {
		t.Fatalf("second ping: %v", err)
	}
	if f.conflict != 1 {
		t.Fatalf("session id should be reused, conflicts=%d", f.conflict)
	}
}

func TestUnauthorized(t *testing.T) {
	c := newTestClient(t, &fakeDaemon{t: t}, "nope")
	if err := c.Ping(context.Background()); !errors.Is(err, downloader.ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
}

func TestOperations(t *testing.T) {
	f := &fakeDaemon{t: t}
	c := newTestClient(t, f, "pw")
	ctx := context.Background()

	h, err := c.Add(ctx, []byte("d4:infod4:name1:aee"), downloader.AddOptions{SavePath: "/data"})
	if err != nil || h != "abcdef" {
		t.Fatalf("add: %q %v", h, err)
	}

	snaps, err := c.List(ctx)
	if err != nil || len(snaps) != 2 {
		t.Fatalf("list: %v %+v", err, snaps)
	}
	if snaps[0].State != downloader.StateDownloading || snaps[1].State != downloader.StateSeeding {
		t.Fatalf("states: %+v", snaps)
	}
	if snaps[1].TrackerMessage == "" {
		t.Fatal("tracker message not mapped")
	}

	if err := c.Pause(ctx, "ABCDEF"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if len(f.stopped) != 1 {
		t.Fatalf("torrent-stop not sent: %v", f.methods)
	}
	if err := c.Pause(ctx, "ffff"); !errors.Is(err, downloader.ErrNotFound) {
		t.Fatalf("pause of unknown hash: %v", err)
	}
	if err := c.Remove(ctx, "123456", true); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if f.removed["delete-local-data"] != true {
		t.Fatalf("delete-local-data not set: %v", f.removed)
	}

	st, err := c.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.FreeSpace != 1000 || st.TotalSpace != 5000 || st.DownloadingCount != 1 || st.SeedingCount != 1 {
		t.Fatalf("stats: %+v", st)
	}
	if used := downloader.UsedSpace(st, snaps); used != 4000 {
		t.Fatalf("used = %d", used)
	}

	tags, _ := c.Tags(ctx)
	if len(tags) != 2 || tags[0] != "pt" || tags[1] != "x" {
		t.Fatalf("tags: %v", tags)
	}
	if err := c.CreateTag(ctx, "x"); !errors.Is(err, downloader.ErrUnsupported) {
		t.Fatalf("CreateTag: %v", err)
	}
}

func TestMapStatus(t *testing.T) {
	cases := []struct {
		status, errCode int
		done            float64
		want            downloader.State
	}{
		{0, 0, 0.4, downloader.StatePaused},
		{0, 0, 1, downloader.StateCompleted},
		{2, 0, 0, downloader.StateDownloading},
		{4, 0, 0.5, downloader.StateDownloading},
		{5, 0, 1, downloader.StateSeeding},
		{6, 3, 1, downloader.StateError},
		{9, 0, 0, downloader.StateUnknown},
	}
	for _, tc := range cases {
		if got := mapStatus(tc.status, tc.errCode, tc.done); got != tc.want {
			t.Errorf("mapStatus(%d, %d, %v) = %q, want %q", tc.status, tc.errCode, tc.done, got, tc.want)
		}
	}
}
