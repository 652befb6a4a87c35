// Package app assembles the cache, telemetry collector and sync coordinator
// from a loaded configuration and owns their shared resources.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/runnerr0/tidepool/internal/cache"
	"github.com/runnerr0/tidepool/internal/config"
	"github.com/runnerr0/tidepool/internal/connectivity"
	"github.com/runnerr0/tidepool/internal/crypt"
	"github.com/runnerr0/tidepool/internal/logging"
	"github.com/runnerr0/tidepool/internal/offline"
	"github.com/runnerr0/tidepool/internal/storage"
	"github.com/runnerr0/tidepool/internal/telemetry"
	"github.com/runnerr0/tidepool/internal/tracing"
	"github.com/runnerr0/tidepool/internal/transport"
)

// App is a fully wired tidepool runtime.
type App struct {
	Config    *config.Config
	Log       zerolog.Logger
	Store     *storage.SQLiteStore
	Client    *transport.Client
	Monitor   *connectivity.Monitor
	Cache     *cache.Cache
	Telemetry *telemetry.Collector
	Offline   *offline.Coordinator

	dbPath        string
	logCloser     io.Closer
	traceShutdown func(context.Context) error
	closers       []func(context.Context) error
}

// Option customises construction. Tests use them to swap in an in-memory
// database or a fixed logger.
type Option func(*options)

type options struct {
	dbPath string
	logger *zerolog.Logger
}

// WithDBPath overrides the configured database location.
func WithDBPath(path string) Option {
	return func(o *options) { o.dbPath = path }
}

// WithLogger skips logger construction from config.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = &l }
}

// New builds every component described by cfg. On failure everything
// already opened is released.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (_ *App, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	if o.logger != nil {
		a.Log = *o.logger
	} else {
		log, closer, lerr := logging.New(cfg.Logging)
		if lerr != nil {
			return nil, fmt.Errorf("init logging: %w", lerr)
		}
		a.Log, a.logCloser = log, closer
	}

	a.traceShutdown, err = tracing.Setup(ctx, cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	a.dbPath = o.dbPath
	if a.dbPath == "" {
		a.dbPath, err = cfg.Storage.DBPath()
		if err != nil {
			return nil, fmt.Errorf("resolve db path: %w", err)
		}
	}
	db, err := storage.Open(ctx, cfg.Storage.Driver, a.dbPath)
	if err != nil {
		return nil, err
	}
	a.Store, err = storage.NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create store: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error {
		return errors.Join(a.Store.Close(), db.Close())
	})

	clientOpts := []transport.Option{transport.WithToken(cfg.Transport.Token)}
	if cfg.Transport.TimeoutMs > 0 {
		clientOpts = append(clientOpts, transport.WithTimeout(time.Duration(cfg.Transport.TimeoutMs)*time.Millisecond))
	}
	if cfg.Transport.HealthPath != "" {
		clientOpts = append(clientOpts, transport.WithHealthPath(cfg.Transport.HealthPath))
	}
	a.Client = transport.New(cfg.Transport.BaseURL, clientOpts...)

	monOpts := []connectivity.Option{connectivity.WithLogger(logging.Component(a.Log, "connectivity"))}
	if cfg.Transport.ProbeIntervalMs > 0 {
		monOpts = append(monOpts, connectivity.WithProbe(a.Client, time.Duration(cfg.Transport.ProbeIntervalMs)*time.Millisecond))
	}
	a.Monitor = connectivity.NewMonitor(true, monOpts...)
	a.closers = append(a.closers, func(context.Context) error {
		a.Monitor.Close()
		return nil
	})

	cacheOpts := []cache.Option{cache.WithLogger(logging.Component(a.Log, "cache"))}
	if cfg.Cache.EncryptionEnabled {
		sealer, serr := a.sealer(ctx)
		if serr != nil {
			return nil, serr
		}
		if sealer != nil {
			cacheOpts = append(cacheOpts, cache.WithSealer(sealer))
		}
	}
	if cfg.Cache.PersistToDisk {
		cacheOpts = append(cacheOpts, cache.WithPersister(a.Store))
	}
	a.Cache, err = cache.New(ctx, cache.FromConfig(cfg.Cache), cacheOpts...)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	a.closers = append(a.closers, a.Cache.Close)

	a.Telemetry = telemetry.New(telemetry.FromConfig(cfg.Telemetry), a.Client,
		telemetry.WithStore(a.Store),
		telemetry.WithConnectivity(a.Monitor),
		telemetry.WithLogger(logging.Component(a.Log, "telemetry")),
	)
	a.closers = append(a.closers, a.Telemetry.Close)

	a.Offline = offline.New(a.Store, a.Client,
		offline.WithConnectivity(a.Monitor),
		offline.WithMaxRetries(cfg.Offline.MaxRetries),
		offline.WithContentEndpoint(cfg.Offline.ContentSyncEndpoint),
		offline.WithLogger(logging.Component(a.Log, "offline")),
	)
	a.closers = append(a.closers, a.Offline.Close)

	return a, nil
}

// sealer unlocks (or creates) the data key. Without a passphrase the cache
// runs unencrypted and says so.
func (a *App) sealer(ctx context.Context) (*crypt.Sealer, error) {
	key, err := crypt.LoadOrCreateKey(ctx, a.Store, a.Config.Cache.Passphrase)
	if errors.Is(err, crypt.ErrNoPassphrase) {
		a.Log.Warn().Msg("cache encryption enabled without a passphrase, storing plaintext")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cache key: %w", err)
	}
	sealer, err := crypt.NewSealer(key)
	if err != nil {
		return nil, fmt.Errorf("create sealer: %w", err)
	}
	return sealer, nil
}

// DBPath is the database location in use.
func (a *App) DBPath() string { return a.dbPath }

// Start begins connectivity probing and lets the collector and coordinator
// react to reconnects.
func (a *App) Start(ctx context.Context) {
	a.Monitor.Start(ctx)
	a.Telemetry.Start(ctx)
	a.Offline.Start(ctx)
	a.Log.Debug().Str("db", a.dbPath).Str("base_url", a.Client.BaseURL()).Msg("tidepool started")
}

// Close shuts components down in reverse construction order. Telemetry
// flushes its queue and the cache writes its final snapshot before the
// store closes.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil

	if a.traceShutdown != nil {
		if err := a.traceShutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
		}
		a.traceShutdown = nil
	}
	if a.logCloser != nil {
		if err := a.logCloser.Close(); err != nil {
			errs = append(errs, err)
		}
		a.logCloser = nil
	}
	return errors.Join(errs...)
}
