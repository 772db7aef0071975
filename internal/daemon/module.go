package daemon

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/lfmartins/telesync/internal/bus"
	"github.com/lfmartins/telesync/internal/config"
	"github.com/lfmartins/telesync/internal/lock"
	"github.com/lfmartins/telesync/internal/logging"
	"github.com/lfmartins/telesync/internal/session"
	"github.com/lfmartins/telesync/internal/store"
	"github.com/lfmartins/telesync/internal/syncer"
	"github.com/lfmartins/telesync/internal/telegram"
)

// Params holds the resolved invocation options passed to the fx module.
type Params struct {
	Dir     string
	Verbose bool
}

// Module composes the daemon: providers for every component plus the
// lifecycle hooks that start and stop them in order.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideLock,
			provideStore,
			provideClient,
			provideEngine,
			NewDaemonFromParams,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	if err := session.EnsureDir(p.Dir); err != nil {
		return nil, err
	}
	return logging.New(session.LogPath(p.Dir), p.Verbose)
}

func provideConfig(p Params) (*config.Config, error) {
	cfg, err := config.Load(session.ConfigPath(p.Dir))
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	l, err := lock.Acquire(p.Dir)
	if err != nil {
		return nil, fmt.Errorf("acquire daemon lock: %w", err)
	}
	logger.Info("daemon lock acquired", zap.String("dir", p.Dir))
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	db, err := store.Open(session.CachePath(p.Dir))
	if err != nil {
		return nil, err
	}
	if !db.HasFTS() {
		logger.Warn("full-text index unavailable, search falls back to substring scan")
	}
	logger.Info("cache opened", zap.String("path", session.CachePath(p.Dir)))
	return db, nil
}

func provideClient(p Params, cfg *config.Config, db *store.DB, logger *zap.Logger) *telegram.Client {
	// No auth flow: the daemon must never block on a terminal. An
	// unauthorized session fails Run with a re-auth message.
	return telegram.New(telegram.Options{
		APIID:       cfg.APIID,
		APIHash:     cfg.APIHash,
		SessionPath: session.SessionPath(p.Dir),
		Updates:     telegram.NewUpdateStore(db),
		Logger:      logger.Named("telegram"),
	})
}

func provideEngine(client *telegram.Client, db *store.DB, b *bus.Bus, logger *zap.Logger) *syncer.Engine {
	return syncer.New(client, db, b, logger.Named("syncer"))
}

func NewDaemonFromParams(p Params, cfg *config.Config, db *store.DB, b *bus.Bus, client *telegram.Client, engine *syncer.Engine, logger *zap.Logger, shutdowner fx.Shutdowner) *Daemon {
	return NewDaemon(p.Dir, cfg, db, b, client, engine, logger, shutdowner)
}

func registerLifecycle(lc fx.Lifecycle, d *Daemon, lk *lock.Lock, db *store.DB, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			return d.Start()
		},
		OnStop: func(ctx context.Context) error {
			if err := d.Stop(ctx); err != nil {
				logger.Warn("daemon stop", zap.Error(err))
			}
			if err := db.Close(); err != nil {
				logger.Warn("close cache", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("release lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
