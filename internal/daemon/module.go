package daemon

import (
	"context"
	"path/filepath"

	"github.com/gfurtadoalmeida/deskhub/internal/bus"
	"github.com/gfurtadoalmeida/deskhub/internal/call"
	"github.com/gfurtadoalmeida/deskhub/internal/config"
	"github.com/gfurtadoalmeida/deskhub/internal/lock"
	"github.com/gfurtadoalmeida/deskhub/internal/logging"
	"github.com/gfurtadoalmeida/deskhub/internal/notify"
	"github.com/gfurtadoalmeida/deskhub/internal/persist"
	"github.com/gfurtadoalmeida/deskhub/internal/presence"
	"github.com/gfurtadoalmeida/deskhub/internal/relay"
	"github.com/gfurtadoalmeida/deskhub/internal/store"
	"github.com/gfurtadoalmeida/deskhub/internal/transport"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved configuration passed to the fx module.
type Params struct {
	Config *config.Config
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideRegistry,
			provideAggregator,
			provideSignaler,
			provideRelay,
			provideWriter,
			provideHub,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(p.Config.LogPath)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	dataDir := filepath.Dir(p.Config.DBPath)
	logger.Info("acquiring data dir lock", zap.String("dir", dataDir))
	l, err := lock.Acquire(dataDir)
	if err != nil {
		return nil, err
	}
	logger.Info("data dir lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	db, err := store.Open(p.Config.DBPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", p.Config.DBPath))
	return db, nil
}

func provideRegistry(b *bus.Bus, logger *zap.Logger) *presence.Registry {
	return presence.NewRegistry(b, logger)
}

func provideAggregator() *notify.Aggregator {
	return notify.NewAggregator()
}

func provideSignaler(p Params, registry *presence.Registry, b *bus.Bus, logger *zap.Logger) *call.Signaler {
	return call.NewSignaler(registry, b, logger, p.Config.RingTimeout())
}

func provideRelay(registry *presence.Registry, db *store.DB, notifier *notify.Aggregator, b *bus.Bus, logger *zap.Logger) *relay.Relay {
	return relay.New(registry, db, notifier, b, logger)
}

func provideWriter(db *store.DB, b *bus.Bus, logger *zap.Logger) *persist.Writer {
	return persist.NewWriter(db, b, logger)
}

func provideHub(p Params, registry *presence.Registry, rl *relay.Relay, notifier *notify.Aggregator, signaler *call.Signaler, db *store.DB, b *bus.Bus, logger *zap.Logger) *transport.Hub {
	return transport.NewHub(registry, rl, notifier, signaler, db, b, logger,
		p.Config.JWTSecret, p.Config.AllowedOrigins)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, hub *transport.Hub, writer *persist.Writer, lk *lock.Lock, db *store.DB, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			writer.Start(context.Background())
			hub.Start(context.Background())

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			hub.Stop()
			writer.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
