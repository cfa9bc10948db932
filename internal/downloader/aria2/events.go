package aria2dl

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tinoosan/ptguard/internal/aria2"
	"github.com/tinoosan/ptguard/internal/downloader"
)

const reconnectDelay = 5 * time.Second

var eventTypes = map[string]downloader.EventType{
	"aria2.onDownloadStart":      downloader.EventStart,
	"aria2.onDownloadPause":      downloader.EventPaused,
	"aria2.onDownloadStop":       downloader.EventStopped,
	"aria2.onDownloadComplete":   downloader.EventComplete,
	"aria2.onBtDownloadComplete": downloader.EventComplete,
	"aria2.onDownloadError":      downloader.EventFailed,
}

// Run subscribes to aria2 notifications and reports them as downloader
// events until ctx ends, reconnecting after the socket drops.
func (a *Adapter) Run(ctx context.Context) {
	// Tag this run with a stable operation_id for correlation.
	lg := a.log.With("operation_id", uuid.NewString(), "client_id", a.clientID)
	for {
		ch, err := a.cl.Notifications(ctx)
		if err != nil {
			lg.Warn("aria2 notifications unavailable", "err", err)
		} else {
			lg.Info("aria2 notifications connected")
			for n := range ch {
				a.handleNotification(ctx, n)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (a *Adapter) handleNotification(ctx context.Context, n aria2.Notification) {
	typ, ok := eventTypes[n.Method]
	if !ok || a.rep == nil {
		return
	}
	for _, p := range n.Params {
		hash, err := a.hashOf(ctx, p.GID)
		if err != nil {
			a.log.Debug("aria2 notification for unknown gid", "gid", p.GID, "err", err)
			continue
		}
		if hash == "" {
			// plain HTTP/FTP task, not ours
			continue
		}
		a.rep.Report(downloader.Event{ClientID: a.clientID, Hash: hash, Type: typ})
	}
}
