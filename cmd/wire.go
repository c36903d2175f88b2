package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"network-monitor/pkg/config"
	"network-monitor/pkg/database"
	"network-monitor/pkg/httpx"
	"network-monitor/pkg/ipinfo"
	"network-monitor/pkg/metrics"
	"network-monitor/pkg/parser"
	"network-monitor/pkg/probe"
	"network-monitor/pkg/scheduler"
	"network-monitor/pkg/server"
	"network-monitor/pkg/store"
	"network-monitor/pkg/tester"
)

// app holds the components a command needs. Everything is built lazily so
// that read-only commands never touch the probe or the database.
type app struct {
	cfg       config.Config
	invoker   probe.Invoker
	speedtest probe.Speedtest
	transport string
	metrics   *metrics.Metrics

	catalog *server.Catalog
	closers []io.Closer
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("error creating data directory: %w", err)
	}
	transport, err := config.ResolveTransport(ctx, cfg.Fetch.Transport)
	if err != nil {
		return nil, fmt.Errorf("error resolving fetch transport: %w", err)
	}
	return &app{
		cfg:       cfg,
		invoker:   probe.NewExecInvoker(),
		speedtest: cfg.SpeedtestProbe(),
		transport: transport,
		metrics:   metrics.New(),
	}, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			logger.Warn("Error closing resource", "error", err)
		}
	}
}

func (a *app) path(name string) string {
	return filepath.Join(a.cfg.DataDir, name)
}

// Catalog builds the server catalog and loads the selection cache.
func (a *app) Catalog(ctx context.Context) (*server.Catalog, error) {
	if a.catalog != nil {
		return a.catalog, nil
	}

	source, err := server.NewSource(server.SourceConfig{
		Kind:      server.SourceKind(a.cfg.Selection.Catalog),
		URL:       a.cfg.Selection.CatalogURL,
		Path:      a.cfg.Selection.CatalogFile,
		Transport: a.transport,
		Timeout:   a.cfg.Speedtest.ListTimeout,
		Invoker:   a.invoker,
		Speedtest: a.speedtest,
	})
	if err != nil {
		return nil, err
	}

	cache, err := server.NewCacheStore(server.CacheConfig{
		Backend:       server.CacheBackend(a.cfg.Selection.CacheBackend),
		DataDir:       a.cfg.DataDir,
		RedisAddr:     a.cfg.Redis.Addr,
		RedisPassword: a.cfg.Redis.Password,
		RedisDB:       a.cfg.Redis.DB,
		RedisKey:      a.cfg.Redis.Key,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating selection cache: %w", err)
	}
	if c, ok := cache.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	catalog := server.NewCatalog(source, a.invoker, a.speedtest, cache, a.cfg.CatalogOptions(), logger)
	if err := catalog.Load(ctx); err != nil {
		return nil, err
	}
	a.catalog = catalog
	return catalog, nil
}

// Scheduler opens the history tables and wires the optional mirror and ISP
// lookup.
func (a *app) Scheduler(ctx context.Context, settings scheduler.Settings) (*scheduler.Scheduler, error) {
	catalog, err := a.Catalog(ctx)
	if err != nil {
		return nil, err
	}

	speed, err := store.OpenSpeed(a.path(httpx.SpeedFileName), logger)
	if err != nil {
		return nil, err
	}
	ping, err := store.OpenPing(a.path(httpx.PingFileName), logger)
	if err != nil {
		return nil, err
	}

	latency, err := parser.NewLatencyParser(parser.Platform(a.cfg.Ping.Platform))
	if err != nil {
		return nil, err
	}
	pinger := &tester.Prober{
		Invoker: a.invoker,
		Parser:  latency,
		Command: a.cfg.Ping.Command,
		Count:   a.cfg.Ping.Count,
		Timeout: a.cfg.Ping.Timeout,
		Workers: a.cfg.Ping.Workers,
		Logger:  logger,
	}

	deps := scheduler.Deps{
		Invoker:   a.invoker,
		Speedtest: a.speedtest,
		Selector:  catalog,
		Pinger:    pinger,
		Speed:     speed,
		Ping:      ping,
		Metrics:   a.metrics,
		Logger:    logger,
	}

	if a.cfg.Database.Enabled {
		db, err := initDB(ctx, a.cfg.Database)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db)
		deps.Mirror = db
	}
	if a.cfg.IPInfo.Enabled {
		client, err := ipinfo.NewClient(a.cfg.IPInfo.BaseURL, a.cfg.IPInfo.Token, a.transport)
		if err != nil {
			return nil, fmt.Errorf("error creating ipinfo client: %w", err)
		}
		deps.IPInfo = client
	}

	return scheduler.New(settings, deps), nil
}

// API builds the read API. sched may be nil.
func (a *app) API(sched *scheduler.Scheduler) *httpx.API {
	api := &httpx.API{
		DataDir: a.cfg.DataDir,
		Metrics: a.metrics,
		Logger:  logger,
	}
	if a.catalog != nil {
		api.Preferred = a.catalog.Preferred
	}
	if sched != nil {
		api.SchedulerState = func() string { return sched.State().String() }
	}
	return api
}

func initDB(ctx context.Context, cfg config.DatabaseConfig) (*database.DB, error) {
	db, err := database.NewDB(ctx, database.Config{
		User:     cfg.User,
		Password: cfg.Password,
		Host:     cfg.Host,
		Port:     cfg.Port,
		DBName:   cfg.DBName,
		SSLMode:  cfg.SSLMode,
	})
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	if err := db.InitSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}
	return db, nil
}
