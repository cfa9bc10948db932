// Package aria2dl implements downloader.Client on top of an aria2 JSON-RPC
// endpoint.
package aria2dl

import (
	"fmt"
	"log/slog"

	"github.com/spf13/afero"
	"github.com/tinoosan/ptguard/internal/aria2"
	"github.com/tinoosan/ptguard/internal/data"
	"github.com/tinoosan/ptguard/internal/downloader"
)

// Adapter translates downloader.Client operations into aria2 RPC calls.
// aria2 cannot delete payload data itself, so file removal goes through fs
// and is confined under baseDir.
type Adapter struct {
	cl       *aria2.Client
	clientID int64
	baseDir  string
	rep      downloader.Reporter
	log      *slog.Logger
	fs       afero.Fs
}

// NewAdapter creates an Adapter. rep may be nil when events are not wanted.
func NewAdapter(cl *aria2.Client, clientID int64, baseDir string, rep downloader.Reporter) *Adapter {
	return &Adapter{cl: cl, clientID: clientID, baseDir: baseDir, rep: rep, log: slog.Default(), fs: afero.NewOsFs()}
}

var (
	_ downloader.Client      = (*Adapter)(nil)
	_ downloader.EventSource = (*Adapter)(nil)
)

// SetLogger allows wiring a shared application logger into the adapter.
func (a *Adapter) SetLogger(l *slog.Logger) {
	if l != nil {
		a.log = l
	}
}

// Constructor returns a downloader.Constructor that reports events to rep.
// The stored password doubles as the RPC secret.
func Constructor(rep downloader.Reporter) downloader.Constructor {
	return func(cfg data.Client, log *slog.Logger) (downloader.Client, error) {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		cl, err := aria2.NewClient(aria2.Config{
			URL:    fmt.Sprintf("%s://%s:%d/jsonrpc", scheme, cfg.Host, cfg.Port),
			Secret: cfg.Password,
		})
		if err != nil {
			return nil, err
		}
		a := NewAdapter(cl, cfg.ID, cfg.DownloadDir, rep)
		a.SetLogger(log)
		return a, nil
	}
}
