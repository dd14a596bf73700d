// Package app wires the client components together with fx.
package app

import (
	"context"
	"net/http"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/matheus3301/bunnychat/internal/api"
	"github.com/matheus3301/bunnychat/internal/auth"
	"github.com/matheus3301/bunnychat/internal/bus"
	"github.com/matheus3301/bunnychat/internal/config"
	"github.com/matheus3301/bunnychat/internal/home"
	"github.com/matheus3301/bunnychat/internal/logging"
	"github.com/matheus3301/bunnychat/internal/metrics"
	"github.com/matheus3301/bunnychat/internal/session"
	"github.com/matheus3301/bunnychat/internal/status"
	"github.com/matheus3301/bunnychat/internal/store"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	ConfigPath  string // empty = session.ConfigPath()
	BaseURL     string // overrides config and environment when set
}

// Module returns the fx module of the client, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("bunnychat",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideStore,
			provideSessionStore,
			provideMetrics,
			provideAPIClient,
			provideAuth,
			provideHome,
			NewTranscripts,
		),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = session.ConfigPath()
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, err
	}
	if p.BaseURL != "" {
		cfg.BaseURL = p.BaseURL
	}
	return cfg, nil
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	return logging.New(session.LogPath(p.SessionName), p.SessionName, cfg.LogLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
	db, result, err := store.OpenMigrated(dbPath)
	if err != nil {
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	}
	logger.Debug("store initialized", zap.String("path", db.Path()))
	return db, nil
}

func provideSessionStore(db *store.DB) *session.Store {
	return session.NewStore(db)
}

func provideMetrics() *metrics.Metrics {
	return metrics.New()
}

func provideAPIClient(cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) (*api.Client, error) {
	hc := &http.Client{
		Transport: m.Transport(nil),
		Timeout:   cfg.RequestTimeout.Duration,
	}
	return api.New(cfg.BaseURL, api.WithHTTPClient(hc), api.WithLogger(logger.Named("api")))
}

func provideAuth(client *api.Client, st *session.Store, machine *status.Machine, logger *zap.Logger) *auth.Service {
	return auth.NewService(client, st, machine, logger.Named("auth"))
}

func provideHome(client *api.Client, svc *auth.Service, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *home.Model {
	return home.New(client, svc, logger.Named("home"), b, m)
}

func registerLifecycle(lc fx.Lifecycle, p Params, cfg *config.Config, svc *auth.Service, db *store.DB, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) {
	var unsubscribe func()
	stop := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			var events <-chan bus.Event
			events, unsubscribe = b.Subscribe("", 64)
			go logEvents(events, stop, logger.Named("events"))

			// A broken stored user leaves the session in ERROR; logout and
			// signin still work from there.
			if err := svc.Restore(ctx); err != nil {
				logger.Warn("session not restored", zap.Error(err))
			}
			logger.Debug("client started",
				zap.String("base_url", cfg.BaseURL),
				zap.String("state", string(svc.State())))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if unsubscribe != nil {
				unsubscribe()
				close(stop)
			}
			if err := m.WriteTextfile(cfg.MetricsTextfile); err != nil {
				logger.Warn("failed to write metrics", zap.Error(err))
			}
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			logger.Debug("client stopped", zap.String("session", p.SessionName))
			_ = logger.Sync()
			return nil
		},
	})
}

// logEvents records bus traffic until stop is closed.
func logEvents(events <-chan bus.Event, stop <-chan struct{}, logger *zap.Logger) {
	for {
		select {
		case evt := <-events:
			logger.Debug("event", zap.String("kind", evt.Kind), zap.Any("payload", evt.Payload))
		case <-stop:
			return
		}
	}
}
