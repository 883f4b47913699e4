package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hostelhub/notifyrouter/internal/audit"
	"github.com/hostelhub/notifyrouter/internal/directory"
	"github.com/hostelhub/notifyrouter/internal/engine"
	"github.com/hostelhub/notifyrouter/internal/escalation"
	"github.com/hostelhub/notifyrouter/internal/notification"
	"github.com/hostelhub/notifyrouter/internal/routing"
	"github.com/hostelhub/notifyrouter/internal/shared/config"
	"github.com/hostelhub/notifyrouter/internal/shared/database"
	"github.com/hostelhub/notifyrouter/internal/shared/logging"
)

// App holds all application dependencies
type App struct {
	Config *config.Config
	Log    *zap.SugaredLogger
	DB     *database.DB

	Journal     audit.Journal
	Snapshots   *routing.SnapshotProvider
	Engine      *engine.Engine
	Escalations *escalation.Service
	Ticker      *escalation.Ticker

	closers []func()
}

type appOptions struct {
	// memory keeps routes and escalation state in process instead of PostgreSQL
	memory bool
}

// loadConfig loads configuration and builds the logger
func loadConfig() (*config.Config, *zap.SugaredLogger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	log, err := logging.New(cfg.Log.Level, cfg.Server.Env)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func newApp(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger, opts appOptions) (*App, error) {
	app := &App{Config: cfg, Log: log}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	var (
		routes routing.RouteRepository
		loader routing.ConfigLoader
		store  escalation.Store
	)
	if opts.memory {
		log.Warn("running with in-memory storage; routes and escalations are lost on restart")
		repo := routing.NewMemoryRepository()
		routes, loader = repo, repo
		store = escalation.NewMemoryStore()
	} else {
		db, err := database.New(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		app.DB = db
		app.closers = append(app.closers, db.Close)

		repo := routing.NewPostgresRepository(db.Pool)
		routes, loader = repo, repo
		store = escalation.NewPostgresStore(db.Pool)
	}

	app.Journal = newJournal(ctx, app)

	dir, err := newDirectory(cfg.Directory, log)
	if err != nil {
		return nil, err
	}

	transport, err := newTransport(cfg.Delivery, log)
	if err != nil {
		return nil, err
	}
	dispatcher := notification.NewDispatcher(transport, notification.DispatcherConfig{
		Timeout: cfg.Delivery.Timeout,
		Retry: notification.RetryConfig{
			MaxRetries:        cfg.Delivery.MaxRetries,
			InitialBackoff:    cfg.Delivery.InitialBackoff,
			MaxBackoff:        cfg.Delivery.MaxBackoff,
			BackoffMultiplier: 2.0,
		},
		RatePerSecond: cfg.Delivery.RatePerSecond,
		RateBurst:     cfg.Delivery.RateBurst,
	}, nil, log)
	app.closers = append(app.closers, func() {
		if err := dispatcher.Close(); err != nil {
			log.Warnw("failed to close delivery transport", "error", err)
		}
	})

	var triage notification.Triage = notification.NewLogTriage(log)
	if cfg.Mail.Enabled {
		triage = notification.NewMailTriage(cfg.Mail, log)
	}

	fallback, err := fileDefaults(cfg.Routing.DefaultsFile)
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(cfg.Routing.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid routing timezone: %w", err)
	}

	resolver := routing.NewResolver(dir, log)
	app.Snapshots = routing.NewSnapshotProvider(loader, fallback, cfg.Routing.SnapshotTTL, nil, log)
	scheduler := escalation.NewScheduler(store, routes, app.Journal, nil, log)

	app.Engine = engine.New(engine.Deps{
		Snapshots: app.Snapshots,
		Evaluator: routing.NewEvaluator(loc),
		Resolver:  resolver,
		Builder:   routing.NewBuilder(routes, nil),
		Routes:    routes,
		Scheduler: scheduler,
		Deliverer: dispatcher,
		Triage:    triage,
		Journal:   app.Journal,
		Log:       log,
	})
	app.Escalations = escalation.NewService(store, app.Journal, nil, log)
	app.Ticker = escalation.NewTicker(store, dispatcher, resolver, routes, app.Journal, escalation.TickerConfig{
		Interval: cfg.Escalation.TickInterval,
		Batch:    cfg.Escalation.ClaimBatch,
	}, nil, log)

	ok = true
	return app, nil
}

// Close releases resources in reverse order of acquisition
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// newJournal connects the KurrentDB audit journal, falling back to the log
// journal when it is disabled or unreachable.
func newJournal(ctx context.Context, app *App) audit.Journal {
	cfg, log := app.Config, app.Log
	if !cfg.KurrentDB.Enabled {
		return audit.NewLogJournal(log)
	}

	journal, err := audit.NewKurrentDBJournal(ctx, cfg.KurrentDB)
	if err != nil {
		log.Warnw("KurrentDB not available, journaling to log", "error", err)
		return audit.NewLogJournal(log)
	}
	app.closers = append(app.closers, func() { journal.Close() })
	log.Infow("audit journal initialized",
		"host", cfg.KurrentDB.Host,
		"stream", cfg.KurrentDB.Stream,
	)
	return journal
}

func newDirectory(cfg config.DirectoryConfig, log *zap.SugaredLogger) (routing.Directory, error) {
	switch {
	case cfg.URL != "":
		log.Infow("using identity directory", "url", cfg.URL)
		return directory.NewHTTPClient(cfg, log), nil
	case cfg.StaticFile != "":
		log.Infow("using static directory", "file", cfg.StaticFile)
		return directory.LoadStatic(cfg.StaticFile)
	default:
		log.Warn("no directory configured; roles and groups resolve to nobody")
		return &directory.Static{}, nil
	}
}

func newTransport(cfg config.DeliveryConfig, log *zap.SugaredLogger) (notification.Transport, error) {
	if cfg.Transport == "kafka" {
		return notification.NewKafkaTransport(notification.KafkaConfig{
			Brokers:      cfg.KafkaBrokers,
			Topic:        cfg.KafkaTopic,
			WriteTimeout: cfg.Timeout,
		}, log)
	}
	return notification.NewLogTransport(log), nil
}

func fileDefaults(path string) ([]routing.DefaultPolicy, error) {
	if path == "" {
		return nil, nil
	}
	entries, err := config.LoadDefaultPolicies(path)
	if err != nil {
		return nil, err
	}
	return routing.DefaultPoliciesFromConfig(entries)
}
