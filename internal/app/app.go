// Package app assembles the long-running process from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	v1 "github.com/tinoosan/ptguard/api/v1"
	"github.com/tinoosan/ptguard/internal/audit"
	"github.com/tinoosan/ptguard/internal/config"
	"github.com/tinoosan/ptguard/internal/data"
	"github.com/tinoosan/ptguard/internal/downloader"
	aria2dl "github.com/tinoosan/ptguard/internal/downloader/aria2"
	"github.com/tinoosan/ptguard/internal/downloader/qbittorrent"
	"github.com/tinoosan/ptguard/internal/downloader/transmission"
	"github.com/tinoosan/ptguard/internal/jobs"
	"github.com/tinoosan/ptguard/internal/lifecycle"
	"github.com/tinoosan/ptguard/internal/metrics"
	"github.com/tinoosan/ptguard/internal/ratelimit"
	"github.com/tinoosan/ptguard/internal/reconciler"
	"github.com/tinoosan/ptguard/internal/repo"
	"github.com/tinoosan/ptguard/internal/router"
	"github.com/tinoosan/ptguard/internal/scheduler"
	"github.com/tinoosan/ptguard/internal/service"
	"github.com/tinoosan/ptguard/internal/tracker"
)

const (
	auditCapacity   = 500
	eventBuffer     = 256
	shutdownTimeout = 30 * time.Second
)

// App holds every long-lived collaborator of the process.
type App struct {
	cfg *config.Config
	log *slog.Logger

	Store     repo.Store
	Clients   *downloader.Factory
	Pool      *tracker.Pool
	Scheduler *scheduler.Scheduler
	Audit     *audit.Log
	Machine   *lifecycle.Machine
	Acquirer  *service.Acquirer
	Logins    *service.Logins
	Jobs      *jobs.Registry
	Installer *jobs.Installer

	events   chan downloader.Event
	telegram *audit.Telegram
	closers  []io.Closer
}

// New wires the process. Nothing runs until Serve.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	a := &App{cfg: cfg, log: log, events: make(chan downloader.Event, eventBuffer)}

	store, err := OpenStore(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	a.Store = store
	a.closers = append(a.closers, store)

	a.Clients = downloader.NewFactory(log)
	a.Clients.Register(data.ClientQBittorrent, qbittorrent.Constructor)
	a.Clients.Register(data.ClientTransmission, transmission.Constructor)
	a.Clients.Register(data.ClientAria2, aria2dl.Constructor(downloader.NewChanReporter(a.events)))

	dialect, err := tracker.DefaultDialect().WithTimeZone(cfg.Tracker.TimeZone)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("tracker time zone: %w", err)
	}
	if len(cfg.Tracker.UnregisteredMarkers) > 0 {
		dialect.UnregisteredMarkers = cfg.Tracker.UnregisteredMarkers
	}
	origins := ratelimit.New(cfg.Tracker.RequestDelay)
	a.Pool = tracker.NewPool(tracker.Config{
		UserAgent: cfg.Tracker.UserAgent,
		Timeout:   cfg.Tracker.Timeout,
		Origins:   origins,
		Dialect:   &dialect,
	}, log)

	sessions, err := a.sessionStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	flow := tracker.NewLogin(tracker.LoginConfig{
		Store:     sessions,
		UserAgent: cfg.Tracker.UserAgent,
		Timeout:   cfg.Tracker.Timeout,
		Origins:   origins,
	}, log)

	var notifiers []audit.Notifier
	if tg := cfg.Notify.Telegram; tg.Enabled {
		a.telegram, err = audit.NewTelegram(audit.TelegramConfig{
			Token:        tg.BotToken,
			ChatID:       tg.ChatID,
			WarningsOnly: tg.WarningsOnly,
		}, log)
		if err != nil {
			a.Close()
			return nil, err
		}
		notifiers = append(notifiers, a.telegram)
	}
	a.Audit = audit.NewLog(auditCapacity, log, notifiers...)

	a.Scheduler = scheduler.New(log, scheduler.Options{
		GraceOffset:  cfg.Scheduler.GraceOffset,
		MisfireGrace: cfg.Scheduler.MisfireGrace,
		Workers:      cfg.Scheduler.Workers,
	})
	a.Machine = lifecycle.New(store, a.Clients, a.Scheduler, a.Audit, log, lifecycle.Options{
		ExpiryLead:          cfg.Scheduler.ExpiryLead,
		UnregisteredMarkers: dialect.UnregisteredMarkers,
	})
	a.Acquirer = service.NewAcquirer(store, service.PoolSites{Pool: a.Pool}, a.Clients, a.Machine, log)
	a.Logins = service.NewLogins(flow, store, a.Audit, log)
	a.Jobs = jobs.NewRegistry(jobs.Deps{
		Store:     store,
		Lifecycle: a.Machine,
		Acquirer:  a.Acquirer,
		Sites:     jobs.PoolSites{Pool: a.Pool},
		Clients:   a.Clients,
		Audit:     a.Audit,
	}, log)
	a.Installer = jobs.NewInstaller(a.Jobs, a.Scheduler, store, log)
	return a, nil
}

// OpenStore opens the configured database.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig) (repo.Store, error) {
	switch cfg.Driver {
	case "memory":
		return repo.NewInMemory(), nil
	case "sqlite":
		return openSQL(ctx, repo.DialectSQLite, cfg.Path)
	case "postgres":
		pg := repo.PostgresConfig{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Name,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
		}
		return openSQL(ctx, repo.DialectPostgres, pg.DSN())
	}
	return nil, fmt.Errorf("%w: %q", config.ErrDriver, cfg.Driver)
}

func openSQL(ctx context.Context, d repo.Dialect, dsn string) (repo.Store, error) {
	s, err := repo.OpenSQL(ctx, d, dsn)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (a *App) sessionStore(ctx context.Context) (tracker.SessionStore, error) {
	sc := a.cfg.SessionStore
	if sc.Driver != "redis" {
		return tracker.NewMemoryStore(sc.TTL, sc.MaxItems), nil
	}
	cl := redis.NewClient(&redis.Options{Addr: sc.Redis.Addr, Password: sc.Redis.Password, DB: sc.Redis.DB})
	if err := cl.Ping(ctx).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("redis session store: %w", err)
	}
	a.closers = append(a.closers, cl)
	return tracker.NewRedisStore(cl, sc.TTL), nil
}

// Start launches the scheduler, re-arms persisted deadlines and installs the
// recurring jobs. The returned stop function undoes it.
func (a *App) Start(ctx context.Context) (func(context.Context) error, error) {
	a.Scheduler.Start()
	n, err := a.Machine.RestoreDeadlines(ctx)
	if err != nil {
		_ = a.Scheduler.Stop(ctx)
		return nil, fmt.Errorf("restore deadlines: %w", err)
	}
	a.log.Info("deadlines restored", "count", n)
	if err := a.Installer.Apply(ctx); err != nil {
		_ = a.Scheduler.Stop(ctx)
		return nil, fmt.Errorf("install jobs: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	rec := reconciler.New(a.log, a.Machine, a.events, a.cfg.Scheduler.EventDebounce)
	rec.Run()
	a.startEventSources(runCtx)
	if a.telegram != nil {
		go a.telegram.Run(runCtx)
	}

	return func(ctx context.Context) error {
		cancel()
		rec.Stop()
		return a.Scheduler.Stop(ctx)
	}, nil
}

func (a *App) startEventSources(ctx context.Context) {
	cfgs, err := a.Store.ListClients(ctx)
	if err != nil {
		a.log.Warn("list clients for events", "err", err)
		return
	}
	for _, cfg := range cfgs {
		cl, err := a.Clients.Get(cfg)
		if err != nil {
			a.log.Warn("client unavailable", "client_id", cfg.ID, "err", err)
			continue
		}
		if src, ok := cl.(downloader.EventSource); ok {
			a.log.Info("listening for client events", "client_id", cfg.ID, "kind", cfg.Kind)
			go src.Run(ctx)
		}
	}
}

// Serve runs the process until ctx is cancelled, then shuts down gracefully.
func (a *App) Serve(ctx context.Context) error {
	metrics.Register()
	stop, err := a.Start(ctx)
	if err != nil {
		return err
	}

	handler := router.New(a.log, a.cfg.Server.APIToken, a.Store, v1.Deps{
		Scheduler: a.Scheduler,
		Audit:     a.Audit,
		Jobs:      a.Jobs,
		Push:      a.Acquirer,
		Logins:    a.Logins,
	})
	server := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           handler,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      5 * time.Minute,
	}
	if a.cfg.Server.APIToken == "" {
		a.log.Warn("api token not set; the operator API rejects every request")
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("starting ptguard api", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		a.log.Info("received terminate, graceful shutdown")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.log.Error("http shutdown", "err", err)
	}
	if err := stop(shutdownCtx); err != nil {
		a.log.Error("scheduler shutdown", "err", err)
	}
	return serveErr
}

// Close releases the store and session backends.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}
