package aria2

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

func TestNewClient(t *testing.T) {
	tests := []struct {
		name        string
		cfg         Config
		wantURL     string
		wantTimeout time.Duration
		wantErr     bool
	}{
		{name: "defaults", wantURL: defaultRPCURL, wantTimeout: 3 * time.Second},
		{
			name:        "explicit values",
			cfg:         Config{URL: "http://localhost:6801/jsonrpc", Secret: "abc123", Timeout: 1500 * time.Millisecond},
			wantURL:     "http://localhost:6801/jsonrpc",
			wantTimeout: 1500 * time.Millisecond,
		},
		{name: "negative timeout", cfg: Config{Timeout: -25}, wantURL: defaultRPCURL, wantTimeout: 3 * time.Second},
		{name: "bad url", cfg: Config{URL: "::bad::url"}, wantErr: true},
		{name: "bad scheme", cfg: Config{URL: "ftp://host/jsonrpc"}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, err := NewClient(tc.cfg)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewClient: %v", err)
			}
			if got := c.BaseURL().String(); got != tc.wantURL {
				t.Fatalf("url = %q, want %q", got, tc.wantURL)
			}
			if c.HTTP().Timeout != tc.wantTimeout {
				t.Fatalf("timeout = %v, want %v", c.HTTP().Timeout, tc.wantTimeout)
			}
			if c.Secret() != tc.cfg.Secret {
				t.Fatalf("secret = %q", c.Secret())
			}
		})
	}
}

func TestWebsocketURL(t *testing.T) {
	c, _ := NewClient(Config{URL: "https://seedbox:6800/jsonrpc"})
	u, err := c.WebsocketURL()
	if err != nil || u != "wss://seedbox:6800/jsonrpc" {
		t.Fatalf("WebsocketURL = %q, %v", u, err)
	}
}

func TestNotificationsSkipsResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()
		ctx := r.Context()
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"jsonrpc":"2.0","id":"1","result":"OK"}`))
		_ = conn.Write(ctx, websocket.MessageText, []byte("{\"jsonrpc\":\"2.0\",\"method\":\"aria2.onDownloadComplete\",\"params\":[{\"gid\":\"g1\"}]}\n"))
		time.Sleep(100 * time.Millisecond)
	}))
	defer srv.Close()

	c, _ := NewClient(Config{URL: srv.URL + "/jsonrpc"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ch, err := c.Notifications(ctx)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	n, ok := <-ch
	if !ok {
		t.Fatal("channel closed before notification")
	}
	if n.Method != "aria2.onDownloadComplete" || len(n.Params) != 1 || n.Params[0].GID != "g1" {
		t.Fatalf("unexpected notification: %+v", n)
	}
}
