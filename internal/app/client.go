package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/tripledger/internal/auth"
	"github.com/hitoshi/tripledger/internal/config"
	"github.com/hitoshi/tripledger/internal/database"
	"github.com/hitoshi/tripledger/internal/ledger"
	"github.com/hitoshi/tripledger/internal/metrics"
	"github.com/hitoshi/tripledger/internal/model"
	"github.com/hitoshi/tripledger/internal/repository"
	"github.com/hitoshi/tripledger/internal/security"
	"github.com/hitoshi/tripledger/internal/store"
)

// clientContext はIdP、ストア、同期エンジンをまとめたプロセス単位のクライアント。
// newClientContextで明示的に構築し、グローバル状態は持たない。
type clientContext struct {
	cfg    *config.Config
	logger *slog.Logger

	db          *sql.DB // Postgres構成時のみ
	store       store.CollectionStore
	storeCloser io.Closer
	tokens      repository.TokenRepository // Postgres構成時のみ

	bootstrapper *auth.Bootstrapper
	engine       *ledger.Engine

	registry *prometheus.Registry
	metrics  *metrics.Collector

	unsubscribe func()
}

// newClientContext は設定に従ってクライアントを構築する。
// ストアが未構成の場合、エンジンはIdleのままとなりIDの確立のみ行う。
func newClientContext(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*clientContext, error) {
	registry := prometheus.NewRegistry()
	c := &clientContext{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		metrics:  metrics.NewCollector(registry),
	}

	var provider auth.Provider

	switch cfg.StoreBackend {
	case config.BackendPostgres:
		db, err := database.OpenAndPing(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		logger.Info("database connection established")

		listener := store.NewPQListener(cfg.DatabaseURL, store.ListenerConfig{
			MinReconnect: cfg.ListenerMinReconnect,
			MaxReconnect: cfg.ListenerMaxReconnect,
		}, logger)
		pgStore, err := store.NewPostgresStore(db, listener, logger)
		if err != nil {
			listener.Close()
			db.Close()
			return nil, fmt.Errorf("failed to start store: %w", err)
		}

		c.db = db
		c.store = pgStore
		c.storeCloser = pgStore
		c.tokens = repository.NewPostgresTokenRepo(db)
		provider = auth.NewPostgresProvider(
			repository.NewPostgresUserRepo(db), c.tokens,
			auth.PostgresProviderConfig{TokenTTL: cfg.AuthTokenTTL},
		)

	case config.BackendMemory:
		c.store = store.NewMemoryStore()
		mp := auth.NewMemoryProvider()
		if cfg.InitialAuthToken != "" {
			mp.AddToken(cfg.InitialAuthToken, uuid.New().String())
		}
		provider = mp

	default:
		logger.Warn("store backend is not configured, ledger stays idle")
		provider = auth.NewMemoryProvider()
	}

	c.engine = ledger.NewEngine(c.store, cfg.AppID,
		ledger.WithSanitizer(security.NewTextSanitizer()),
		ledger.WithRecorder(c.metrics),
		ledger.WithLogger(logger),
		ledger.WithDefaultCurrency(cfg.DefaultCurrency),
	)
	c.bootstrapper = auth.NewBootstrapper(provider,
		auth.WithRecorder(c.metrics),
		auth.WithLogger(logger),
	)

	return c, nil
}

// start はIDの変化をエンジンに接続し、IDを確立する。
// エンジンへの反映はBootstrapの中で同期的に行われる。
func (c *clientContext) start(ctx context.Context) (model.Identity, error) {
	c.unsubscribe = c.bootstrapper.Subscribe(func(id model.Identity) {
		if err := c.engine.SetIdentity(ctx, id); err != nil {
			c.logger.Error("failed to switch expense subscription",
				slog.String("user_id", id.UserID),
				slog.String("error", err.Error()),
			)
		}
	})

	identity, err := c.bootstrapper.Bootstrap(ctx, c.cfg.InitialAuthToken)
	if err != nil {
		return model.Identity{}, fmt.Errorf("failed to bootstrap identity: %w", err)
	}
	return identity, nil
}

// Close はエンジン、ストア、DB接続を順に閉じる。
func (c *clientContext) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	c.bootstrapper.Close()
	c.engine.Close()

	if c.storeCloser != nil {
		if err := c.storeCloser.Close(); err != nil {
			c.logger.Error("failed to close store", slog.String("error", err.Error()))
		}
	}
	if c.db != nil {
		c.db.Close()
	}
}
