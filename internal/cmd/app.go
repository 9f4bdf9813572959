package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/miradorstack/mirador-sentinel/internal/agents"
	"github.com/miradorstack/mirador-sentinel/internal/cache"
	"github.com/miradorstack/mirador-sentinel/internal/config"
	"github.com/miradorstack/mirador-sentinel/internal/dispatch"
	"github.com/miradorstack/mirador-sentinel/internal/events"
	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/monitor"
	"github.com/miradorstack/mirador-sentinel/internal/orchestrator"
	"github.com/miradorstack/mirador-sentinel/internal/planner"
	"github.com/miradorstack/mirador-sentinel/internal/store"
	"github.com/miradorstack/mirador-sentinel/internal/tools"
	"github.com/miradorstack/mirador-sentinel/internal/workers"
)

// app holds the wired coordination core.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	bus          *events.Broadcaster
	dispatcher   *dispatch.Dispatcher
	registry     *agents.Registry
	tracker      *planner.Tracker
	store        store.Store
	orchestrator *orchestrator.Orchestrator
	poller       *monitor.Poller

	cacheProvider cache.Provider
}

// newApp wires every component from cfg. Extra sinks receive the same events
// as the broadcaster.
func newApp(cfg *config.Config, logger *slog.Logger, extra ...events.Sink) (*app, error) {
	a := &app{cfg: cfg, logger: logger, cacheProvider: cache.NoopProvider{}}

	a.bus = events.NewBroadcaster(logger)
	var sink events.Sink = a.bus
	if len(extra) > 0 {
		sink = append(events.Fanout{a.bus}, extra...)
	}

	sim := tools.NewSimulator(cfg.Workers.Seed, cfg.Workers.SimulatedLatency)
	catalog := tools.DefaultCatalog(sim)
	a.dispatcher = dispatch.NewDispatcher(catalog, sink, logger, cfg.Pipeline.CallLogSize)
	if err := a.bindWorkers(catalog); err != nil {
		return nil, err
	}

	a.registry = agents.NewRegistry(catalog, logger)
	a.store = a.buildStore()
	a.tracker = planner.NewTracker(cfg.Pipeline.ConfidenceThreshold, sink, logger)
	a.orchestrator = orchestrator.New(orchestrator.Config{
		EscalationStatus: models.IncidentStatus(cfg.Pipeline.EscalationStatus),
		VerifyAttempts:   cfg.Pipeline.VerifyAttempts,
		VerifyInterval:   cfg.Pipeline.VerifyInterval,
	}, a.dispatcher, a.tracker, a.registry, a.store, sink, logger)

	if cfg.Monitor.Enabled {
		a.poller = monitor.NewPoller(monitor.Config{
			Service:        cfg.Monitor.Service,
			Interval:       cfg.Monitor.Interval,
			Thresholds:     cfg.Monitor.Thresholds,
			DriftThreshold: cfg.Monitor.DriftThreshold,
			BaselineSize:   cfg.Monitor.BaselineSize,
		}, monitor.NewHTTPSource(cfg.Monitor.HealthURL, cfg.Monitor.Timeout), a.store, a.orchestrator, sink, logger)
	}
	return a, nil
}

// bindWorkers binds the diagnostic rule pack and, in http mode, the remote
// worker. Remote bindings are applied last and win.
func (a *app) bindWorkers(catalog *tools.Catalog) error {
	playbook, err := workers.LoadPlaybook(a.cfg.Workers.DiagnosticRules, a.logger)
	if err != nil {
		return fmt.Errorf("load diagnostic rules: %w", err)
	}
	if playbook != nil {
		if err := a.dispatcher.BindAll(playbook.Bindings()); err != nil {
			return fmt.Errorf("bind diagnostic rules: %w", err)
		}
		a.logger.Info("diagnostic rules loaded",
			slog.String("path", a.cfg.Workers.DiagnosticRules),
			slog.Int("rules", playbook.Rules()))
	}

	if a.cfg.Workers.Mode != config.WorkersHTTP {
		return nil
	}
	ids := catalog.IDs()
	if len(a.cfg.Workers.Tools) > 0 {
		ids = ids[:0]
		for _, name := range a.cfg.Workers.Tools {
			ids = append(ids, tools.ID(name))
		}
	}
	worker := workers.NewHTTPWorker(a.cfg.Workers.BaseURL, a.cfg.Workers.Timeout, a.logger)
	if err := a.dispatcher.BindAll(worker.Bindings(ids...)); err != nil {
		return fmt.Errorf("bind http workers: %w", err)
	}
	a.logger.Info("http workers bound",
		slog.String("base_url", a.cfg.Workers.BaseURL),
		slog.Int("tools", len(ids)))
	return nil
}

func (a *app) buildStore() store.Store {
	if a.cfg.Store.Backend != config.StoreValkey {
		return store.NewMemory()
	}
	provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
		Addr:         a.cfg.Cache.Addr,
		Username:     a.cfg.Cache.Username,
		Password:     a.cfg.Cache.Password,
		DB:           a.cfg.Cache.DB,
		DialTimeout:  a.cfg.Cache.DialTimeout,
		ReadTimeout:  a.cfg.Cache.ReadTimeout,
		WriteTimeout: a.cfg.Cache.WriteTimeout,
		MaxRetries:   a.cfg.Cache.MaxRetries,
		TLS:          a.cfg.Cache.TLS,
	})
	if err != nil {
		a.logger.Warn("valkey store unavailable, using memory", slog.Any("error", err))
		return store.NewMemory()
	}
	a.cacheProvider = provider
	return store.NewSnapshot(provider, a.cfg.Store.Prefix, a.cfg.Store.TerminalTTL, a.logger)
}

// startMonitor runs the poller until ctx ends or close is called.
func (a *app) startMonitor(ctx context.Context) {
	if a.poller == nil {
		return
	}
	a.logger.Info("health monitor started",
		slog.String("service", a.cfg.Monitor.Service),
		slog.String("url", a.cfg.Monitor.HealthURL),
		slog.Duration("interval", a.cfg.Monitor.Interval))
	go func() {
		if err := a.poller.Run(ctx); err != nil {
			a.logger.Error("health monitor exited", slog.Any("error", err))
		}
	}()
}

// close stops the poller, drains running pipelines and releases the cache.
func (a *app) close() {
	if a.poller != nil {
		a.poller.Stop()
	}
	a.orchestrator.Stop()
	a.orchestrator.Wait()
	if err := a.cacheProvider.Close(); err != nil {
		a.logger.Warn("cache close", slog.Any("error", err))
	}
}
