// Package app assembles the points engine from configuration: store, rank
// index, event bus, command and query handlers. The API server, the worker
// and pointsctl all build on it.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bonkcomputer/points-engine/config"
	"github.com/bonkcomputer/points-engine/internal/application/command"
	"github.com/bonkcomputer/points-engine/internal/application/eventhandler"
	"github.com/bonkcomputer/points-engine/internal/application/query"
	"github.com/bonkcomputer/points-engine/internal/application/saga"
	"github.com/bonkcomputer/points-engine/internal/domain/leaderboard"
	"github.com/bonkcomputer/points-engine/internal/domain/ledger"
	"github.com/bonkcomputer/points-engine/internal/domain/shared"
	"github.com/bonkcomputer/points-engine/internal/infrastructure/messaging"
	"github.com/bonkcomputer/points-engine/internal/infrastructure/persistence/memory"
	"github.com/bonkcomputer/points-engine/internal/infrastructure/persistence/postgres"
	"github.com/bonkcomputer/points-engine/internal/infrastructure/persistence/redis"
	httpserver "github.com/bonkcomputer/points-engine/internal/interface/http"
	"github.com/bonkcomputer/points-engine/internal/interface/http/handlers"
	"github.com/bonkcomputer/points-engine/pkg/circuitbreaker"
	"github.com/bonkcomputer/points-engine/pkg/logger"
)

// Commands groups the write side.
type Commands struct {
	CreateUser       *command.CreateUserHandler
	Award            *command.AwardHandler
	RecordTrade      *command.RecordTradeHandler
	BindReferral     *command.BindReferralHandler
	AdjustPoints     *command.AdjustPointsHandler
	Evaluate         *command.EvaluateAchievementsHandler
	CheckPromotion   *command.CheckPromotionHandler
	Reconcile        *command.ReconcileLedgerHandler
	SeedAchievements *command.SeedAchievementsHandler
	Onboarding       *saga.OnboardingSaga
}

// Queries groups the read side.
type Queries struct {
	Leaderboard         *query.GetLeaderboardHandler
	UserSummary         *query.GetUserSummaryHandler
	PointsHistory       *query.GetPointsHistoryHandler
	ReferralStats       *query.GetReferralStatsHandler
	CheckReferralCode   *query.CheckReferralCodeHandler
	RecognitionProgress *query.GetRecognitionProgressHandler
	Achievements        *query.ListAchievementsHandler
}

// App is a fully wired engine.
type App struct {
	Config *config.Config
	Engine command.EngineConfig
	Log    *logger.Logger
	Slog   *slog.Logger

	Store ledger.Store

	// Index is nil when Redis is disabled; rank queries then use the store.
	Index leaderboard.RankIndex
	Bus   shared.EventBus

	Pipeline *command.Pipeline
	Commands Commands
	Queries  Queries
	Health   *handlers.CompositeHealthChecker

	closers []func()
}

// Option customises New.
type Option func(*options)

type options struct {
	store ledger.Store
	index leaderboard.RankIndex
	log   *logger.Logger
	sync  bool
}

// WithStore uses the given store instead of the configured driver.
func WithStore(s ledger.Store) Option {
	return func(o *options) { o.store = s }
}

// WithRankIndex uses the given index instead of Redis.
func WithRankIndex(idx leaderboard.RankIndex) Option {
	return func(o *options) { o.index = idx }
}

// WithLogger replaces the logger built from the configuration. Slog shares
// its handler.
func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithSyncEvents delivers events on the publishing goroutine.
func WithSyncEvents() Option {
	return func(o *options) { o.sync = true }
}

// New builds the engine. Close releases everything it opened.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		o.log = NewLogger(cfg)
	}

	engine, err := config.LoadRules(cfg.Engine.RulesFile, command.DefaultEngineConfig())
	if err != nil {
		return nil, err
	}
	if cfg.Engine.AwardTimeout > 0 {
		engine.AwardTimeout = cfg.Engine.AwardTimeout
	}

	a := &App{
		Config: cfg,
		Engine: engine,
		Log:    o.log,
		Slog:   o.log.Slog(),
		Health: handlers.NewCompositeHealthChecker(cfg.App.Version),
	}

	if err := a.openStore(ctx, o.store); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openRedis(ctx, o.index, o.sync); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.wire(); err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Engine.SeedCatalog {
		if err := a.Commands.SeedAchievements.Handle(ctx, nil); err != nil {
			a.Close()
			return nil, fmt.Errorf("seed catalog: %w", err)
		}
	}
	return a, nil
}

// openStore selects the ledger store.
func (a *App) openStore(ctx context.Context, given ledger.Store) error {
	if given != nil {
		a.Store = given
		return nil
	}

	sc := a.Config.Store
	switch sc.Driver {
	case config.StoreDriverMemory:
		a.Store = memory.New(memory.WithLockTimeout(sc.LockTimeout))
		a.Log.Warn("using in-memory store, data is lost on exit")
		return nil

	case config.StoreDriverPostgres:
		pgCfg := postgres.DefaultConfig()
		pgCfg.URL = sc.DatabaseURL
		pgCfg.MaxConns = sc.MaxConns
		pgCfg.MinConns = sc.MinConns
		pgCfg.MaxConnLifetime = sc.ConnMaxLifetime
		pgCfg.MaxConnIdleTime = sc.ConnMaxIdleTime
		pgCfg.LockTimeout = sc.LockTimeout

		conn, err := postgres.NewConnection(ctx, pgCfg)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, conn.Close)
		a.Health.AddCheck("postgres", handlers.NewPingCheck(conn))

		if sc.MigrateOnStart {
			applied, err := postgres.NewMigrator(conn).Migrate(ctx)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			a.Log.Info("migrations applied", logger.Int("count", applied))
		}
		a.Store = postgres.NewStore(conn)
		return nil

	default:
		return fmt.Errorf("unknown store driver %q", sc.Driver)
	}
}

// openRedis connects the rank index and picks the event bus.
func (a *App) openRedis(ctx context.Context, given leaderboard.RankIndex, syncEvents bool) error {
	busCfg := messaging.DefaultLocalConfig()
	busCfg.Logger = a.Slog
	busCfg.Sync = syncEvents

	rc := a.Config.Redis
	if given != nil || !rc.Enabled {
		a.Index = given
		bus := messaging.NewLocalBus(busCfg)
		a.closers = append(a.closers, func() { _ = bus.Close() })
		a.Bus = bus
		return nil
	}

	redisCfg := redis.DefaultConfig()
	redisCfg.URL = rc.URL
	redisCfg.Host = rc.Host
	redisCfg.Port = rc.Port
	redisCfg.Password = rc.Password
	redisCfg.DB = rc.DB
	redisCfg.PoolSize = rc.PoolSize
	redisCfg.MinIdleConns = rc.MinIdleConns
	redisCfg.DialTimeout = rc.DialTimeout
	redisCfg.ReadTimeout = rc.ReadTimeout
	redisCfg.WriteTimeout = rc.WriteTimeout
	redisCfg.KeyPrefix = rc.KeyPrefix

	client, err := redis.NewClient(ctx, redisCfg)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() { _ = client.Close() })
	a.Health.AddOptionalCheck("redis", handlers.NewPingCheck(client))
	a.Index = redis.NewRankIndex(client)

	if !rc.EventsFanout {
		bus := messaging.NewLocalBus(busCfg)
		a.closers = append(a.closers, func() { _ = bus.Close() })
		a.Bus = bus
		return nil
	}

	bus, err := messaging.NewFanoutBus(messaging.FanoutConfig{
		Transport: redis.NewPubSub(client),
		Channel:   rc.EventChannel,
		Local:     busCfg,
		Logger:    a.Slog,
	})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() { _ = bus.Close() })
	a.Bus = bus
	return nil
}

// wire builds the handlers and subscribes the rank index updater.
func (a *App) wire() error {
	pipeline, err := command.NewPipeline(a.Store, a.Bus, a.Log, a.Engine)
	if err != nil {
		return err
	}
	a.Pipeline = pipeline

	if a.Index != nil {
		onChanged := eventhandler.NewOnPointsChangedHandler(a.Index, nil, a.Slog)
		for _, t := range onChanged.EventTypes() {
			if err := a.Bus.Subscribe(t, onChanged.Handle); err != nil {
				return fmt.Errorf("subscribe %s: %w", t, err)
			}
		}
	}

	a.Commands = Commands{
		CreateUser:       command.NewCreateUserHandler(pipeline, a.Log),
		Award:            command.NewAwardHandler(pipeline, a.Log),
		RecordTrade:      command.NewRecordTradeHandler(pipeline),
		BindReferral:     command.NewBindReferralHandler(pipeline, a.Log),
		AdjustPoints:     command.NewAdjustPointsHandler(pipeline, a.Log),
		Evaluate:         command.NewEvaluateAchievementsHandler(pipeline),
		CheckPromotion:   command.NewCheckPromotionHandler(pipeline),
		Reconcile:        command.NewReconcileLedgerHandler(pipeline, a.Log),
		SeedAchievements: command.NewSeedAchievementsHandler(a.Store, a.Log),
	}
	a.Commands.Onboarding = saga.NewOnboardingSaga(
		a.Commands.CreateUser,
		a.Commands.Award,
		a.Commands.BindReferral,
		a.Log,
		saga.OnboardingSagaConfig{Clock: a.Engine.Clock},
	)

	var breaker *circuitbreaker.Breaker
	if a.Index != nil {
		log := a.Log.With(logger.Component("rank_index"))
		breaker = circuitbreaker.RankIndexBreaker(func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", string(from)),
				logger.String("to", string(to)),
			)
		})
		a.Health.AddOptionalCheck("rank_index_breaker", breaker.Check)
	}
	ranks := query.NewRankResolver(a.Store, a.Index, breaker, a.Log)
	a.Queries = Queries{
		Leaderboard:         query.NewGetLeaderboardHandler(a.Store, ranks, a.Engine.Clock),
		UserSummary:         query.NewGetUserSummaryHandler(a.Store, ranks, a.Engine.Clock),
		PointsHistory:       query.NewGetPointsHistoryHandler(a.Store),
		ReferralStats:       query.NewGetReferralStatsHandler(a.Store),
		CheckReferralCode:   query.NewCheckReferralCodeHandler(a.Store),
		RecognitionProgress: query.NewGetRecognitionProgressHandler(a.Store, a.Engine.Recognition),
		Achievements:        query.NewListAchievementsHandler(a.Store),
	}
	return nil
}

// HTTPDependencies maps the handlers onto the HTTP server.
func (a *App) HTTPDependencies() httpserver.Dependencies {
	return httpserver.Dependencies{
		Onboarding:       a.Commands.Onboarding,
		Award:            a.Commands.Award,
		RecordTrade:      a.Commands.RecordTrade,
		BindReferral:     a.Commands.BindReferral,
		AdjustPoints:     a.Commands.AdjustPoints,
		Evaluate:         a.Commands.Evaluate,
		CheckPromotion:   a.Commands.CheckPromotion,
		Reconcile:        a.Commands.Reconcile,
		SeedAchievements: a.Commands.SeedAchievements,

		Leaderboard:         a.Queries.Leaderboard,
		UserSummary:         a.Queries.UserSummary,
		PointsHistory:       a.Queries.PointsHistory,
		ReferralStats:       a.Queries.ReferralStats,
		CheckReferralCode:   a.Queries.CheckReferralCode,
		RecognitionProgress: a.Queries.RecognitionProgress,
		Achievements:        a.Queries.Achievements,

		HealthChecker: a.Health,
		Logger:        a.Log,
	}
}

// HTTPConfig converts the loaded configuration.
func (a *App) HTTPConfig() httpserver.Config {
	hc := httpserver.DefaultConfig()
	hc.Host = a.Config.HTTP.Host
	hc.Port = a.Config.HTTP.Port
	if a.Config.HTTP.ReadTimeout > 0 {
		hc.ReadTimeout = a.Config.HTTP.ReadTimeout
	}
	if a.Config.HTTP.WriteTimeout > 0 {
		hc.WriteTimeout = a.Config.HTTP.WriteTimeout
	}
	if a.Config.HTTP.IdleTimeout > 0 {
		hc.IdleTimeout = a.Config.HTTP.IdleTimeout
	}
	hc.AdminAPIKeys = a.Config.HTTP.AdminAPIKeys
	hc.Version = a.Config.App.Version
	return hc
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LOGGING
// ══════════════════════════════════════════════════════════════════════════════

// NewLogger builds the structured application logger.
func NewLogger(cfg *config.Config) *logger.Logger {
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	opts.Format = logger.ParseFormat(cfg.Observability.LogFormat)
	opts.AddCaller = cfg.App.Debug
	return logger.New(opts).With(
		logger.String("app", cfg.App.Name),
		logger.String("env", string(cfg.App.Environment)),
	)
}
