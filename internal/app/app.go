// Package app assembles the identity services from configuration. The server
// and the admin CLI share it so both run against the same wiring.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"rollcall/internal/identity/activity"
	"rollcall/internal/identity/adapters/kafka"
	"rollcall/internal/identity/adapters/legacy"
	"rollcall/internal/identity/conflict"
	"rollcall/internal/identity/merge"
	"rollcall/internal/identity/mergeaudit"
	"rollcall/internal/identity/metrics"
	"rollcall/internal/identity/notify"
	"rollcall/internal/identity/personsync"
	"rollcall/internal/identity/ports"
	"rollcall/internal/identity/scorer"
	"rollcall/internal/identity/store"
	"rollcall/internal/platform/config"
	"rollcall/internal/platform/redis"
	"rollcall/pkg/platform/circuit"
)

// App holds the assembled services and the resources behind them.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Stores   ports.Stores
	TxRunner ports.TxRunner
	// Queue is nil when jobs run inline.
	Queue *notify.Queue

	Merger    *merge.Engine
	Conflicts *conflict.Workflow
	Audits    *mergeaudit.Reader
	Sync      *personsync.Engine

	db        *sql.DB
	redis     *redis.Client
	publisher *kafka.Publisher
	legacy    ports.LegacySource
}

// Options tune Build for the calling process.
type Options struct {
	// AllowMemoryStore lets a dev process without DATABASE_URL run on the
	// in-memory store.
	AllowMemoryStore bool
	// InlineDispatch runs notifications in the calling goroutine instead of
	// the background queue. Short-lived processes set it.
	InlineDispatch bool
	// Registry receives the service metrics; a fresh one is used when nil.
	Registry *prometheus.Registry
}

// Build connects every configured backend and wires the services. On error
// the resources opened so far are released.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (_ *App, err error) {
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	a := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: reg,
		Metrics:  metrics.New(reg),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err = a.openStore(ctx, opts.AllowMemoryStore); err != nil {
		return nil, err
	}
	if err = a.openLegacy(ctx); err != nil {
		return nil, err
	}
	notifier, events, err := a.openNotifier(ctx)
	if err != nil {
		return nil, err
	}

	var dispatcher ports.Dispatcher = notify.Inline{Logger: logger}
	if !opts.InlineDispatch {
		a.Queue = notify.NewQueue(cfg.Policy.DispatchQueueSize, notify.WithLogger(logger))
		dispatcher = a.Queue
	}
	mergeOpts := []merge.Option{
		merge.WithNotifier(notifier),
		merge.WithDispatcher(dispatcher),
		merge.WithLogger(logger),
		merge.WithMetrics(a.Metrics),
	}
	if events != nil {
		mergeOpts = append(mergeOpts, merge.WithEventPublisher(events))
	}
	if a.legacy != nil {
		mergeOpts = append(mergeOpts, merge.WithLegacySource(a.legacy))
	}
	a.Merger = merge.New(a.Stores, a.TxRunner, mergeOpts...)

	assessor := scorer.New(a.Stores)
	guard := activity.New(a.Stores.Invitations, activity.WithWindow(cfg.Policy.RecentInvitationWindow))
	a.Conflicts = conflict.New(a.Stores, a.Merger, assessor, guard,
		conflict.WithNotifier(notifier),
		conflict.WithDispatcher(dispatcher),
		conflict.WithLogger(logger),
		conflict.WithMetrics(a.Metrics),
	)
	a.Audits = mergeaudit.New(a.Stores.Audits, mergeaudit.WithRecentWindow(cfg.Policy.AuditRecentWindow))

	syncOpts := []personsync.Option{
		personsync.WithNotifier(notifier),
		personsync.WithDispatcher(dispatcher),
		personsync.WithLogger(logger),
		personsync.WithMetrics(a.Metrics),
		personsync.WithConcurrency(cfg.Policy.SyncConcurrency),
		personsync.WithStalePolicy(cfg.Policy.SyncStaleAfter, cfg.Policy.SyncBatchSize),
		personsync.WithPersonURL(cfg.Legacy.PersonURL),
	}
	if a.legacy != nil {
		syncOpts = append(syncOpts, personsync.WithLegacySource(a.legacy))
	}
	a.Sync = personsync.New(a.Stores, a.TxRunner, a.Merger, a.Conflicts, assessor, guard, syncOpts...)
	return a, nil
}

func (a *App) openStore(ctx context.Context, allowMemory bool) error {
	cfg := a.Config.Database
	if cfg.URL == "" {
		if !allowMemory || !a.Config.IsDev() {
			return errors.New("DATABASE_URL is required")
		}
		a.Logger.Warn("DATABASE_URL not set, using the in-memory store")
		mem := store.NewMemory()
		a.Stores, a.TxRunner = mem.Stores(), mem
		return nil
	}

	db, err := store.Open(ctx, cfg.Driver, cfg.URL)
	if err != nil {
		return err
	}
	a.db = db
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	applied, err := store.Migrate(ctx, db)
	if err != nil {
		return err
	}
	if len(applied) > 0 {
		a.Logger.Info("database migrated", "applied", applied)
	}
	pg := store.NewPostgres(db, store.WithTxTimeout(a.Config.Policy.MergeTxTimeout))
	a.Stores, a.TxRunner = pg.Stores(), pg
	return nil
}

func (a *App) openLegacy(ctx context.Context) error {
	cfg := a.Config.Legacy
	if cfg.BaseURL == "" {
		a.Logger.Warn("LEGACY_BASE_URL not set, legacy sync is disabled")
		return nil
	}
	breaker := circuit.New("legacy", circuit.WithFailureThreshold(cfg.FailureThreshold))
	client, err := legacy.NewClient(cfg.BaseURL,
		legacy.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		legacy.WithBreaker(breaker),
		legacy.WithLogger(a.Logger),
		legacy.WithMetrics(a.Metrics),
	)
	if err != nil {
		return err
	}
	a.legacy = client

	rdb, err := redis.New(ctx, a.Config.Redis)
	if err != nil {
		return err
	}
	if rdb != nil {
		a.redis = rdb
		a.legacy = legacy.NewCache(client, rdb.Client,
			legacy.WithTTL(cfg.CacheTTL),
			legacy.WithCacheLogger(a.Logger),
			legacy.WithCacheMetrics(a.Metrics),
		)
	}
	return nil
}

// openNotifier returns the Kafka publisher when brokers are configured and
// the log notifier otherwise. events is nil without Kafka.
func (a *App) openNotifier(ctx context.Context) (ports.Notifier, ports.EventPublisher, error) {
	cfg := a.Config.Kafka
	if len(cfg.Brokers) == 0 {
		return notify.NewLogNotifier(a.Logger), nil, nil
	}
	pub, err := kafka.NewPublisher(cfg.Brokers, kafka.Topics{
		Notifications: cfg.NotificationsTopic,
		Events:        cfg.EventsTopic,
	}, kafka.WithLogger(a.Logger))
	if err != nil {
		return nil, nil, err
	}
	a.publisher = pub
	if cfg.CreateTopics {
		if err := pub.EnsureTopics(ctx, 1, 1); err != nil {
			return nil, nil, fmt.Errorf("create kafka topics: %w", err)
		}
	}
	return pub, pub, nil
}

// Health pings every backend that is configured.
func (a *App) Health(ctx context.Context) map[string]error {
	checks := map[string]error{}
	if a.db != nil {
		checks["database"] = a.db.PingContext(ctx)
	}
	if a.redis != nil {
		checks["redis"] = a.redis.Health(ctx)
	}
	if a.publisher != nil {
		checks["kafka"] = a.publisher.Ping(ctx)
	}
	return checks
}

// Close runs any queued notifications and releases every resource. Stop the
// queue's Run loop before calling it.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Queue != nil {
		a.Queue.Flush()
	}
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.Logger.Warn("close redis", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.Logger.Warn("close database", "error", err)
		}
	}
}
