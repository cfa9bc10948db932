package downloader

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned when the client does not hold the torrent.
	ErrNotFound = errors.New("torrent not found in download client")
	// ErrUnsupported is returned for capabilities a protocol lacks.
	ErrUnsupported = errors.New("operation not supported by download client")
	// ErrAuth is returned when the client rejects the configured credentials.
	ErrAuth = errors.New("download client rejected credentials")
)

// State is the normalized torrent state across protocols.
type State string

const (
	StateDownloading State = "downloading"
	StateSeeding     State = "seeding"
	StatePaused      State = "paused"
	StateCompleted   State = "completed"
	StateError       State = "error"
	StateUnknown     State = "unknown"
)

// Snapshot is the client's view of one torrent.
type Snapshot struct {
	Hash           string   `json:"hash"`
	Name           string   `json:"name"`
	Size           int64    `json:"size"`
	Progress       float64  `json:"progress"`
	State          State    `json:"state"`
	DownloadSpeed  int64    `json:"downloadSpeed"`
	UploadSpeed    int64    `json:"uploadSpeed"`
	TrackerMessage string   `json:"trackerMessage,omitempty"`
	SavePath       string   `json:"savePath,omitempty"`
	Tags           []string `json:"tags,omitempty"`
}

// Stats are client-wide transfer and storage figures. A zero TotalSpace
// means the client does not report it.
type Stats struct {
	DownloadSpeed    int64 `json:"downloadSpeed"`
	UploadSpeed      int64 `json:"uploadSpeed"`
	DownloadingCount int   `json:"downloadingCount"`
	SeedingCount     int   `json:"seedingCount"`
	FreeSpace        int64 `json:"freeSpace"`
	TotalSpace       int64 `json:"totalSpace"`
}

// AddOptions tune an Add call.
type AddOptions struct {
	SavePath string
	Tags     []string
}

// Client is the capability set every download client protocol provides.
type Client interface {
	Ping(ctx context.Context) error
	// Add submits a metainfo payload. The returned hash may be empty when
	// the protocol does not report it; see ResolveHash.
	Add(ctx context.Context, payload []byte, opts AddOptions) (string, error)
	Remove(ctx context.Context, hash string, deleteFiles bool) error
	Pause(ctx context.Context, hash string) error
	// Status returns ErrNotFound when the client does not hold hash.
	Status(ctx context.Context, hash string) (*Snapshot, error)
	List(ctx context.Context) ([]Snapshot, error)
	Stats(ctx context.Context) (*Stats, error)
	Tags(ctx context.Context) ([]string, error)
	CreateTag(ctx context.Context, tag string) error
}

// EventSource is implemented by clients that push asynchronous events.
// The reconciler launches Run(ctx) when available.
type EventSource interface {
	Run(ctx context.Context)
}

// UsedSpace is the storage attributed to a client: total minus free when the
// client reports its volume size, otherwise the sum of torrent sizes.
func UsedSpace(st *Stats, snaps []Snapshot) int64 {
	if st != nil && st.TotalSpace > 0 {
		used := st.TotalSpace - st.FreeSpace
		if used < 0 {
			return 0
		}
		return used
	}
	var sum int64
	for _, s := range snaps {
		sum += s.Size
	}
	return sum
}

// Index maps snapshots by lowercase hash.
func Index(snaps []Snapshot) map[string]Snapshot {
	out := make(map[string]Snapshot, len(snaps))
	for _, s := range snaps {
		out[strings.ToLower(s.Hash)] = s
	}
	return out
}

// Count tallies downloading and seeding snapshots into st.
func Count(st *Stats, snaps []Snapshot) {
	st.DownloadingCount, st.SeedingCount = 0, 0
	for _, s := range snaps {
		switch s.State {
		case StateDownloading:
			st.DownloadingCount++
		case StateSeeding:
			st.SeedingCount++
		}
	}
}
