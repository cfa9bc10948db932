package downloader

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tinoosan/ptguard/internal/data"
)

var ErrUnknownKind = errors.New("unknown download client kind")

// Constructor builds a Client for one stored configuration.
type Constructor func(cfg data.Client, log *slog.Logger) (Client, error)

// Factory hands out one Client per stored configuration and rebuilds it
// when the configuration changes. Protocols register a Constructor under
// their kind.
type Factory struct {
	log *slog.Logger

	mu    sync.Mutex
	ctors map[data.ClientKind]Constructor
	cache map[int64]cached
}

type cached struct {
	cfg data.Client
	cl  Client
}

func NewFactory(log *slog.Logger) *Factory {
	if log == nil {
		log = slog.Default()
	}
	f := &Factory{log: log, ctors: make(map[data.ClientKind]Constructor), cache: make(map[int64]cached)}
	f.Register(data.ClientMemory, func(cfg data.Client, _ *slog.Logger) (Client, error) { return NewMemory(), nil })
	return f
}

// Register installs the constructor for kind, replacing any previous one.
func (f *Factory) Register(kind data.ClientKind, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctors[kind] = ctor
}

// Get returns the Client for cfg, constructing it on first use.
func (f *Factory) Get(cfg *data.Client) (Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("client config: %w", data.ErrNotFound)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.cache[cfg.ID]; ok && sameEndpoint(c.cfg, *cfg) {
		return c.cl, nil
	}
	ctor, ok := f.ctors[cfg.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
	}
	cl, err := ctor(*cfg, f.log.With("client_id", cfg.ID, "kind", string(cfg.Kind)))
	if err != nil {
		return nil, fmt.Errorf("build %s client %d: %w", cfg.Kind, cfg.ID, err)
	}
	f.cache[cfg.ID] = cached{cfg: *cfg, cl: cl}
	return cl, nil
}

// Forget drops the cached client for id.
func (f *Factory) Forget(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.cache, id)
}

// Each calls fn for every cached client.
func (f *Factory) Each(fn func(id int64, c Client)) {
	f.mu.Lock()
	snapshot := make(map[int64]Client, len(f.cache))
	for id, c := range f.cache {
		snapshot[id] = c.cl
	}
	f.mu.Unlock()
	for id, c := range snapshot {
		fn(id, c)
	}
}

func sameEndpoint(a, b data.Client) bool {
	return a.Kind == b.Kind && a.Host == b.Host && a.Port == b.Port &&
		a.Username == b.Username && a.Password == b.Password &&
		a.UseSSL == b.UseSSL && a.DownloadDir == b.DownloadDir
}
