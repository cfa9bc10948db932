package aria2dl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/tinoosan/ptguard/internal/aria2"
	"github.com/tinoosan/ptguard/internal/downloader"
	"github.com/tinoosan/ptguard/internal/fp"
	"github.com/tinoosan/ptguard/internal/metrics"
)

// fakeRPC answers aria2 methods from a table and records the calls.
type fakeRPC struct {
	t       *testing.T
	mu      sync.Mutex
	calls   []rpcReq
	results map[string]any
	errs    map[string]string
}

func (f *fakeRPC) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.Method)
	}
	return out
}

func (f *fakeRPC) RoundTrip(r *http.Request) (*http.Response, error) {
	b, _ := io.ReadAll(r.Body)
	var req rpcReq
	if err := json.Unmarshal(b, &req); err != nil {
		f.t.Fatalf("decode request: %v", err)
	}
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	resp := rpcResp{Jsonrpc: "2.0", ID: req.ID}
	status := http.StatusOK
	if msg, ok := f.errs[req.Method]; ok {
		resp.Error = &rpcError{Code: 1, Message: msg}
		status = http.StatusBadRequest
	} else {
		res, _ := json.Marshal(f.results[req.Method])
		resp.Result = res
	}
	rb, _ := json.Marshal(resp)
	return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewReader(rb)), Header: make(http.Header)}, nil
}

func newTestAdapter(t *testing.T, secret string, rt http.RoundTripper, rep downloader.Reporter) *Adapter {
	t.Helper()
	c, err := aria2.NewClient(aria2.Config{URL: "http://example.com/jsonrpc", Secret: secret})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	c.HTTP().Transport = rt
	a := NewAdapter(c, 7, "/downloads", rep)
	a.fs = afero.NewMemMapFs()
	return a
}

func standardResults() map[string]any {
	return map[string]any{
		"aria2.tellActive": []map[string]any{
			{"gid": "g1", "infoHash": "AAAA", "status": "active", "seeder": "true", "totalLength": "100", "completedLength": "100",
				"uploadSpeed": "5", "dir": "/downloads", "files": []map[string]any{{"path": "/downloads/Show/ep1.mkv"}, {"path": "/downloads/Show/ep2.mkv"}},
				"bittorrent": map[string]any{"info": map[string]any{"name": "Show"}}},
			{"gid": "h1", "status": "active", "totalLength": "9"},
		},
		"aria2.tellWaiting": []map[string]any{},
		"aria2.tellStopped": []map[string]any{
			{"gid": "g2", "infoHash": "bbbb", "status": "error", "errorMessage": "tracker said no", "totalLength": "50", "completedLength": "10", "dir": "/downloads"},
			{"gid": "g3", "infoHash": "cccc", "status": "removed"},
		},
		"aria2.tellStatus":           map[string]any{"infoHash": "AAAA"},
		"aria2.getGlobalStat":        map[string]any{"downloadSpeed": "11", "uploadSpeed": "22"},
		"aria2.addTorrent":           "gid9",
		"aria2.forceRemove":          "g1",
		"aria2.pause":                "g1",
		"aria2.getVersion":           map[string]any{"version": "1.37.0"},
		"aria2.removeDownloadResult": "OK",
	}
}

func TestAddUsesTokenAndDerivesHash(t *testing.T) {
	f := &fakeRPC{t: t, results: standardResults()}
	a := newTestAdapter(t, "s3cret", f, nil)
	payload := []byte("d4:infod6:lengthi3e4:name1:a6:pieces0:ee")
	want, _ := fp.InfoHash(payload)

	hash, err := a.Add(context.Background(), payload, downloader.AddOptions{SavePath: "/downloads/pt"})
	if err != nil || hash != want {
		t.Fatalf("Add = %q, %v; want %q", hash, err, want)
	}
	req := f.calls[0]
	if req.Method != "aria2.addTorrent" || len(req.Params) != 4 || req.Params[0] != "token:s3cret" {
		t.Fatalf("unexpected request: %+v", req)
	}
	if opts, _ := req.Params[3].(map[string]any); opts["dir"] != "/downloads/pt" {
		t.Fatalf("dir option missing: %+v", req.Params[3])
	}
}

func TestListMapsEntries(t *testing.T) {
	f := &fakeRPC{t: t, results: standardResults()}
	a := newTestAdapter(t, "", f, nil)
	snaps, err := a.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("expected non-torrent and removed tasks to be skipped, got %+v", snaps)
	}
	if s := snaps[0]; s.Hash != "aaaa" || s.State != downloader.StateSeeding || s.Name != "Show" || s.Progress != 1 {
		t.Fatalf("first snapshot: %+v", s)
	}
	if s := snaps[1]; s.State != downloader.StateError || s.TrackerMessage != "tracker said no" {
		t.Fatalf("second snapshot: %+v", s)
	}

	st, err := a.Stats(context.Background())
	if err != nil || st.UploadSpeed != 22 || st.SeedingCount != 1 || st.TotalSpace != 0 {
		t.Fatalf("Stats: %v %+v", err, st)
	}
	if _, err := a.Status(context.Background(), "dddd"); !errors.Is(err, downloader.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := a.Tags(context.Background()); !errors.Is(err, downloader.ErrUnsupported) {
		t.Fatalf("Tags: %v", err)
	}
}

func TestRemoveDeletesPayloadUnderBase(t *testing.T) {
	f := &fakeRPC{t: t, results: standardResults()}
	a := newTestAdapter(t, "", f, nil)
	show := filepath.Join("/downloads", "Show")
	_ = afero.WriteFile(a.fs, filepath.Join(show, "ep1.mkv"), []byte("x"), 0o644)
	_ = afero.WriteFile(a.fs, filepath.Join(show, "ep2.mkv"), []byte("x"), 0o644)
	_ = afero.WriteFile(a.fs, show+".aria2", []byte("c"), 0o644)
	_ = afero.WriteFile(a.fs, "/downloads/Other/keep.mkv", []byte("k"), 0o644)

	if err := a.Remove(context.Background(), "aaaa", true); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	got := f.methods()
	if got[len(got)-2] != "aria2.forceRemove" || got[len(got)-1] != "aria2.removeDownloadResult" {
		t.Fatalf("unexpected call order: %v", got)
	}
	if ok, _ := afero.Exists(a.fs, show); ok {
		t.Fatal("payload root not removed")
	}
	if ok, _ := afero.Exists(a.fs, show+".aria2"); ok {
		t.Fatal("control file not removed")
	}
	if ok, _ := afero.Exists(a.fs, "/downloads/Other/keep.mkv"); !ok {
		t.Fatal("unrelated payload removed")
	}
}

func TestPurgeRefusesOutsideBase(t *testing.T) {
	a := newTestAdapter(t, "", &fakeRPC{t: t}, nil)
	_ = afero.WriteFile(a.fs, "/etc/passwd", []byte("root"), 0o644)
	for _, files := range [][]string{
		{"/etc/passwd"},
		{"/downloads/../etc/passwd"},
		{"/downloads"},
	} {
		if err := a.purge(context.Background(), "/downloads", files); err == nil {
			t.Fatalf("purge(%v) should refuse", files)
		}
	}
	if ok, _ := afero.Exists(a.fs, "/etc/passwd"); !ok {
		t.Fatal("file outside base removed")
	}
}

func TestRPCErrorCountsMetric(t *testing.T) {
	f := &fakeRPC{t: t, results: standardResults(), errs: map[string]string{"aria2.pause": "GID g1 is not found"}}
	a := newTestAdapter(t, "", f, nil)
	before := testutil.ToFloat64(metrics.DownloaderRPCErrors.WithLabelValues(kind, "aria2.pause"))
	if err := a.Pause(context.Background(), "AAAA"); err == nil {
		t.Fatal("expected pause error")
	}
	after := testutil.ToFloat64(metrics.DownloaderRPCErrors.WithLabelValues(kind, "aria2.pause"))
	if after-before != 1 {
		t.Fatalf("error counter delta = %v", after-before)
	}
}

func TestHandleNotificationReportsHash(t *testing.T) {
	f := &fakeRPC{t: t, results: standardResults()}
	events := make(chan downloader.Event, 4)
	a := newTestAdapter(t, "", f, downloader.NewChanReporter(events))

	a.handleNotification(context.Background(), aria2.Notification{Method: "aria2.onBtDownloadComplete", Params: []aria2.NotificationEvent{{GID: "g1"}}})
	a.handleNotification(context.Background(), aria2.Notification{Method: "aria2.onSomethingElse", Params: []aria2.NotificationEvent{{GID: "g1"}}})

	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	e := <-events
	if e.ClientID != 7 || e.Hash != "aaaa" || e.Type != downloader.EventComplete {
		t.Fatalf("unexpected event: %+v", e)
	}
}
