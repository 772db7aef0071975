package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/lfmartins/telesync/internal/bus"
	"github.com/lfmartins/telesync/internal/config"
	"github.com/lfmartins/telesync/internal/ctl"
	"github.com/lfmartins/telesync/internal/listener"
	"github.com/lfmartins/telesync/internal/session"
	"github.com/lfmartins/telesync/internal/store"
	"github.com/lfmartins/telesync/internal/syncer"
	"github.com/lfmartins/telesync/internal/telegram"
)

// Daemon owns the single authenticated connection: it runs the update
// listener and the control socket server for the connection's lifetime.
type Daemon struct {
	dir        string
	cfg        *config.Config
	db         *store.DB
	bus        *bus.Bus
	client     *telegram.Client
	engine     *syncer.Engine
	log        *zap.Logger
	shutdowner fx.Shutdowner

	cancel context.CancelFunc
	done   chan struct{}
}

func NewDaemon(dir string, cfg *config.Config, db *store.DB, b *bus.Bus, client *telegram.Client, engine *syncer.Engine, log *zap.Logger, shutdowner fx.Shutdowner) *Daemon {
	return &Daemon{
		dir:        dir,
		cfg:        cfg,
		db:         db,
		bus:        b,
		client:     client,
		engine:     engine,
		log:        log,
		shutdowner: shutdowner,
	}
}

// Start launches the connection loop in the background.
func (d *Daemon) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	go d.run(ctx)
	return nil
}

// Stop cancels the connection loop and waits for it to drain.
func (d *Daemon) Stop(ctx context.Context) error {
	d.cancel()
	select {
	case <-d.done:
	case <-ctx.Done():
		d.log.Warn("daemon stop timed out waiting for drain")
	}
	return nil
}

func (d *Daemon) run(ctx context.Context) {
	defer close(d.done)

	// Listen keeps the gap manager pumping updates alongside the
	// listener loop; Run would return as soon as the loop does.
	err := d.client.Listen(ctx, func(ctx context.Context) error {
		d.log.Info("connected", zap.Int64("self_id", d.client.SelfID()))

		lst := listener.New(d.client.Events(), d.client, d.engine, d.db, d.bus,
			d.log.Named("listener"), listener.Options{
				IgnoreChats:    d.cfg.IgnoreChats,
				IgnoreChannels: d.cfg.IgnoreChannels,
				OnStop: func() {
					d.log.Info("stop requested over control socket")
					_ = d.shutdowner.Shutdown()
				},
			})

		loopDone := make(chan struct{})
		srv := ctl.NewServer(session.SocketPath(d.dir), session.CachePath(d.dir),
			lst.Commands(), loopDone, d.log.Named("ctl"))
		if err := srv.Start(); err != nil {
			return err
		}
		defer srv.Stop()

		err := lst.Run(ctx)
		close(loopDone)
		return err
	})
	if err != nil && ctx.Err() == nil {
		d.log.Error("connection ended", zap.Error(err))
		_ = d.shutdowner.Shutdown()
	}
}
