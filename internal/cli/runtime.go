package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/campbellsync/internal/campbell"
	"github.com/roach88/campbellsync/internal/config"
	"github.com/roach88/campbellsync/internal/engine"
	"github.com/roach88/campbellsync/internal/reconcile"
	"github.com/roach88/campbellsync/internal/report"
	"github.com/roach88/campbellsync/internal/store"
	"github.com/roach88/campbellsync/internal/store/pgstore"
)

// backend is an opened store together with its registration and close
// operations, which differ per driver.
type backend struct {
	client   store.Client
	register func(ctx context.Context, ref, title string) error
	close    func() error
}

// openBackend opens the configured store driver.
func openBackend(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (*backend, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		pg, err := pgstore.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		pg.SetLogger(logger)
		return &backend{client: pg, register: pg.RegisterDevice, close: pg.Close}, nil
	case config.DriverSQLite, "":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = config.DefaultSQLiteDSN
		}
		st, err := store.Open(dsn)
		if err != nil {
			return nil, err
		}
		st.SetLogger(logger)
		return &backend{
			client: st,
			register: func(ctx context.Context, ref, title string) error {
				_, err := st.RegisterDevice(ctx, ref, title)
				return err
			},
			close: st.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// runtime is everything a fleet needs, built from a configuration.
type runtime struct {
	backend *backend
	metrics *report.Metrics
	deps    engine.Deps
	closers []func()
	logger  *slog.Logger
}

// newRuntime opens the store and the optional MQTT and Redis reporters.
// A reporter whose server is unreachable is logged and left out; the
// store is required.
func newRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	b, err := openBackend(ctx, cfg.Store, logger)
	if err != nil {
		return nil, exitWrap(ExitCommandError, err, "failed to open store")
	}
	rt := &runtime{backend: b, metrics: report.NewMetrics(), logger: logger}

	reporters := report.Multi{report.NewLog(logger), rt.metrics}

	if cfg.MQTT.Enabled() {
		client, err := report.DialMQTT(cfg.MQTT.Broker, cfg.MQTT.ClientID, cfg.HTTP.Timeout.Std())
		if err != nil {
			logger.Warn("mqtt reporter disabled", "broker", cfg.MQTT.Broker, "error", err)
		} else {
			reporters = append(reporters, report.NewMQTT(client, cfg.MQTT.TopicPrefix, logger))
			rt.closers = append(rt.closers, func() { client.Disconnect(250) })
			logger.Info("mqtt reporter enabled", "broker", cfg.MQTT.Broker, "prefix", cfg.MQTT.TopicPrefix)
		}
	}

	if cfg.Redis.Enabled() {
		rdb, err := report.DialRedis(ctx, cfg.Redis.Addr)
		if err != nil {
			logger.Warn("redis reporter disabled", "addr", cfg.Redis.Addr, "error", err)
		} else {
			reporters = append(reporters, report.NewRedis(rdb, cfg.Redis.TTL.Std(), logger))
			rt.closers = append(rt.closers, func() {
				if err := rdb.Close(); err != nil {
					logger.Error("error closing redis", "error", err)
				}
			})
			logger.Info("redis reporter enabled", "addr", cfg.Redis.Addr)
		}
	}

	fetcher := campbell.NewHTTPFetcher(
		campbell.WithTimeout(cfg.HTTP.Timeout.Std()),
		campbell.WithRetry(campbell.RetryConfig{
			Attempts: cfg.HTTP.Retries,
			Delay:    cfg.HTTP.RetryDelay.Std(),
			MaxDelay: cfg.HTTP.Timeout.Std(),
		}),
		campbell.WithLogger(logger),
	)

	rt.deps = engine.Deps{
		Store:      b.client,
		Fetcher:    fetcher,
		Reconciler: reconcile.New(reconcile.WithWorkers(cfg.Reconcile.Workers), reconcile.WithLogger(logger)),
		Reporter:   reporters,
		Logger:     logger,
	}
	return rt, nil
}

// Close releases reporters first, then the store.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	if err := rt.backend.close(); err != nil {
		rt.logger.Error("error closing store", "error", err)
	}
}

// loadConfig loads a configuration file, mapping failures to exit codes:
// an unreadable file is a command error, an invalid one a failure.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		var verr *config.Error
		if errors.As(err, &verr) {
			return nil, exitWrap(ExitFailure, err, "invalid configuration")
		}
		return nil, exitWrap(ExitCommandError, err, "failed to load configuration")
	}
	return cfg, nil
}
