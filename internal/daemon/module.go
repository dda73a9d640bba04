package daemon

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/DemianF-dev/7pet-mvp-sub001/internal/backend"
	"github.com/DemianF-dev/7pet-mvp-sub001/internal/bus"
	"github.com/DemianF-dev/7pet-mvp-sub001/internal/chat"
	"github.com/DemianF-dev/7pet-mvp-sub001/internal/config"
	"github.com/DemianF-dev/7pet-mvp-sub001/internal/lifecycle"
	"github.com/DemianF-dev/7pet-mvp-sub001/internal/lock"
	"github.com/DemianF-dev/7pet-mvp-sub001/internal/logging"
	"github.com/DemianF-dev/7pet-mvp-sub001/internal/notify"
	"github.com/DemianF-dev/7pet-mvp-sub001/internal/observability"
	"github.com/DemianF-dev/7pet-mvp-sub001/internal/profile"
	"github.com/DemianF-dev/7pet-mvp-sub001/internal/realtime"
	"github.com/DemianF-dev/7pet-mvp-sub001/internal/snapshot"
	"github.com/DemianF-dev/7pet-mvp-sub001/internal/status"
	"github.com/DemianF-dev/7pet-mvp-sub001/internal/store"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
	SocketPath  string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideConfig,
			provideStatusStore,
			provideLock,
			provideStore,
			provideBackendClient,
			provideManager,
			provideBinder,
			provideChatCache,
			provideChatService,
			provideRegistrar,
			provideAlertFeed,
			provideCoordinator,
			provideSnapshotEngine,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideConfig(logger *zap.Logger) *config.Config {
	cfg, err := config.Load(profile.ConfigPath())
	if err != nil {
		logger.Info("no config file, using defaults", zap.Error(err))
		return config.Default()
	}
	return cfg
}

func provideStatusStore(b *bus.Bus) *status.Store {
	return status.NewStore(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.ProfileName)
	db, err := store.Open(dbPath)
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
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideBackendClient(cfg *config.Config, logger *zap.Logger) *backend.Client {
	return backend.NewClient(cfg.Backend.BaseURL, logger)
}

func provideManager(cfg *config.Config, st *status.Store, b *bus.Bus, logger *zap.Logger) *realtime.Manager {
	mc := realtime.Config{
		URL:             cfg.Realtime.URL,
		MaxAttempts:     cfg.Realtime.MaxAttempts,
		BackoffStart:    cfg.Realtime.BackoffStart,
		BackoffCap:      cfg.Realtime.BackoffCap,
		BreakerCooldown: cfg.Realtime.BreakerCooldown,
	}
	return realtime.NewManager(mc, realtime.NewWebsocketTransport(), st, b, logger)
}

func provideBinder(mgr *realtime.Manager, b *bus.Bus, logger *zap.Logger) *lifecycle.Binder {
	return lifecycle.NewBinder(mgr, b, lifecycle.DefaultDebounce, logger)
}

func provideChatCache(mgr *realtime.Manager) *chat.Cache {
	return chat.NewCache(mgr.UserID)
}

func provideChatService(cache *chat.Cache, client *backend.Client, mgr *realtime.Manager, b *bus.Bus, logger *zap.Logger) *chat.Service {
	return chat.NewService(cache, client, mgr, b, logger)
}

func provideRegistrar(db *store.DB) notify.Registrar {
	return &pushRegistrar{db: db}
}

func provideAlertFeed() *alertFeed {
	return newAlertFeed()
}

func provideCoordinator(client *backend.Client, mgr *realtime.Manager, registrar notify.Registrar, feed *alertFeed, cfg *config.Config, b *bus.Bus, logger *zap.Logger) *notify.Coordinator {
	// The daemon has no display or speaker of its own; alerts and audio
	// cues are buffered on the feed and drained by the host shell through
	// /v1/alerts and /v1/chime.
	return notify.NewCoordinator(client, mgr, feed, feed, registrar, b, mgr.UserID, cfg.Sound, logger)
}

func provideSnapshotEngine(db *store.DB, b *bus.Bus, logger *zap.Logger) *snapshot.Engine {
	return snapshot.NewEngine(db, b, logger)
}

func registerLifecycle(
	lc fx.Lifecycle,
	srv *Server,
	lk *lock.Lock,
	engine *snapshot.Engine,
	chatSvc *chat.Service,
	coordinator *notify.Coordinator,
	binder *lifecycle.Binder,
	mgr *realtime.Manager,
	client *backend.Client,
	db *store.DB,
	b *bus.Bus,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Warm the cache from the last snapshot before any network IO.
			warmCache(chatSvc.Cache(), db, logger)

			engine.Start(context.Background())
			chatSvc.Start()
			coordinator.Start()
			binder.Start(context.Background())

			trackConnectionGauge(b)

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("control server error", zap.Error(err))
				}
			}()

			// Env bootstrap lets a supervised daemon come up authenticated
			// without waiting for the shell to post a session.
			if userID, token := os.Getenv("PETLINK_USER_ID"), os.Getenv("PETLINK_TOKEN"); userID != "" && token != "" {
				logger.Info("bootstrapping session from environment")
				client.SetToken(token)
				binder.SetCredentials(userID, token)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			binder.Close()
			coordinator.Stop()
			chatSvc.Stop()
			engine.Stop()
			mgr.Disconnect("shutdown")
			srv.Stop(ctx)
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

// warmCache loads the snapshotted conversation list so listings work before
// the first backend refresh.
func warmCache(cache *chat.Cache, db *store.DB, logger *zap.Logger) {
	rows, err := db.ListConversations(200, 0)
	if err != nil {
		logger.Warn("snapshot load failed", zap.Error(err))
		return
	}
	if len(rows) == 0 {
		return
	}
	convs := make([]chat.Conversation, 0, len(rows))
	for _, r := range rows {
		convs = append(convs, chat.Conversation{
			ID:            r.ID,
			Type:          r.Type,
			Name:          r.Name,
			UnreadCount:   r.UnreadCount,
			LastMessageAt: time.UnixMilli(r.LastMessageAt),
		})
	}
	cache.Load(convs)
	logger.Info("cache warmed from snapshot", zap.Int("conversations", len(convs)))
}

// trackConnectionGauge mirrors connection status changes into the
// connection_up gauge.
func trackConnectionGauge(b *bus.Bus) {
	ch, _ := b.Subscribe("conn.", 64)
	go func() {
		for evt := range ch {
			state, ok := evt.Payload.(status.State)
			if !ok {
				continue
			}
			if state.Status == status.Connected {
				observability.ConnectionUp().Set(1)
			} else {
				observability.ConnectionUp().Set(0)
			}
		}
	}()
}

// pushRegistrar builds the device push subscription from flags the host
// shell stored through the control API.
type pushRegistrar struct {
	db *store.DB
}

func (r *pushRegistrar) Subscription(_ context.Context) (notify.PushSubscription, error) {
	now := time.Now()
	deviceID, ok, err := r.db.GetFlag("push.device_id", now)
	if err != nil {
		return notify.PushSubscription{}, err
	}
	if !ok {
		deviceID = uuid.NewString()
		if err := r.db.SetFlag("push.device_id", deviceID, 0); err != nil {
			return notify.PushSubscription{}, err
		}
	}

	endpoint, _, err := r.db.GetFlag("push.endpoint", now)
	if err != nil {
		return notify.PushSubscription{}, err
	}
	sub := notify.PushSubscription{DeviceID: deviceID, Endpoint: endpoint}
	if raw, ok, err := r.db.GetFlag("push.keys", now); err != nil {
		return notify.PushSubscription{}, err
	} else if ok {
		_ = json.Unmarshal([]byte(raw), &sub.Keys)
	}
	return sub, nil
}
