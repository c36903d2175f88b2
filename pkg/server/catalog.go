package server

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"sync"
	"time"

	"network-monitor/pkg/models"
	"network-monitor/pkg/parser"
	"network-monitor/pkg/probe"
)

var (
	ErrCatalogUnavailable  = errors.New("server catalog unavailable")
	ErrNoCandidates        = errors.New("no server candidates")
	ErrAllBenchmarksFailed = errors.New("all server benchmarks failed")
	ErrProbeFailed         = errors.New("benchmark probe failed")
	ErrParseFailed         = errors.New("benchmark output unparseable")
)

// Defaults for Options.
const (
	DefaultMaxCandidates = 5
	DefaultProbeDelay    = 2 * time.Second
	DefaultPingDivisor   = 10.0
)

// State is the catalog's selection lifecycle state.
type State int

const (
	StateUncached State = iota
	StateBenchmarking
	StateCached
)

func (s State) String() string {
	switch s {
	case StateUncached:
		return "uncached"
	case StateBenchmarking:
		return "benchmarking"
	case StateCached:
		return "cached"
	default:
		return "unknown"
	}
}

// Scorer ranks benchmark results. Higher is better.
type Scorer struct {
	PingDivisor float64
}

func (s Scorer) Score(perf models.ServerPerformance) float64 {
	div := s.PingDivisor
	if div <= 0 {
		div = DefaultPingDivisor
	}
	return perf.DownloadMbps - perf.PingMs/div
}

// Options tunes benchmarking.
type Options struct {
	// ProbeDelay separates consecutive benchmarks so they do not contend.
	ProbeDelay time.Duration
	// SkipFailed keeps going past a failed benchmark. When false the first
	// failure ends the selection run.
	SkipFailed bool
	Scorer     Scorer
}

func DefaultOptions() Options {
	return Options{
		ProbeDelay: DefaultProbeDelay,
		SkipFailed: true,
		Scorer:     Scorer{PingDivisor: DefaultPingDivisor},
	}
}

// Catalog lists, benchmarks, and remembers speedtest servers.
type Catalog struct {
	source    Source
	invoker   probe.Invoker
	speedtest probe.Speedtest
	cache     CacheStore
	opts      Options
	logger    *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	state State
	sel   Selection
}

func NewCatalog(source Source, invoker probe.Invoker, speedtest probe.Speedtest, cache CacheStore, opts Options, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		source:    source,
		invoker:   invoker,
		speedtest: speedtest,
		cache:     cache,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
		sleep:     sleepContext,
		sel:       Selection{TestResults: map[string]models.ServerPerformance{}},
	}
}

// Load reads the persisted selection. It is called once at startup; an
// unreadable cache is logged and treated as empty.
func (c *Catalog) Load(ctx context.Context) error {
	sel, err := c.cache.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrCacheCorrupt) {
			c.logger.Warn("Ignoring unreadable selection cache", "error", err)
			return nil
		}
		return err
	}
	if sel.TestResults == nil {
		sel.TestResults = map[string]models.ServerPerformance{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sel = sel
	if sel.ServerID != nil {
		c.state = StateCached
	}
	c.logger.Debug("Loaded selection cache", "server_id", derefID(sel.ServerID), "results", len(sel.TestResults))
	return nil
}

// ListCandidates returns candidates ordered by ascending distance.
func (c *Catalog) ListCandidates(ctx context.Context) ([]models.ServerCandidate, error) {
	candidates, err := c.source.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCatalogUnavailable, err)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: empty server list", ErrCatalogUnavailable)
	}
	slices.SortStableFunc(candidates, func(a, b models.ServerCandidate) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		}
		return 0
	})
	return candidates, nil
}

// Benchmark runs a full speedtest pinned to candidate and scores it.
func (c *Catalog) Benchmark(ctx context.Context, candidate models.ServerCandidate) (models.ServerPerformance, error) {
	cmd := c.speedtest.Measure(candidate.ID)
	out, err := c.invoker.Invoke(ctx, cmd)
	if err != nil {
		return models.ServerPerformance{}, fmt.Errorf("%w: server %d: %w", ErrProbeFailed, candidate.ID, err)
	}

	now := c.now()
	rec, err := parser.ParseSpeedtest(out.Stdout, now)
	if err != nil {
		return models.ServerPerformance{}, fmt.Errorf("%w: server %d: %w", ErrParseFailed, candidate.ID, err)
	}

	perf := models.ServerPerformance{
		ServerID:     candidate.ID,
		ServerName:   candidate.Name,
		Location:     candidate.DisplayLocation(),
		Distance:     candidate.Distance,
		DownloadMbps: rec.DownloadMbps,
		UploadMbps:   rec.UploadMbps,
		PingMs:       rec.PingMs,
		JitterMs:     rec.IdleJitterMs,
		TestedAt:     now,
	}
	perf.Score = c.opts.Scorer.Score(perf)
	return perf, nil
}

// SelectBest returns the preferred server id. A cached choice is returned
// without probing unless forceRetest is set. Otherwise the nearest
// maxCandidates servers are benchmarked one after another and the highest
// score wins; ties go to the nearer server.
func (c *Catalog) SelectBest(ctx context.Context, maxCandidates int, forceRetest bool) (int, error) {
	c.mu.Lock()
	if !forceRetest && c.sel.ServerID != nil {
		id := *c.sel.ServerID
		c.mu.Unlock()
		c.logger.Debug("Using cached server", "server_id", id)
		return id, nil
	}
	prev := c.state
	c.state = StateBenchmarking
	c.mu.Unlock()

	id, err := c.selectBest(ctx, maxCandidates)
	if err != nil {
		c.mu.Lock()
		c.state = prev
		c.mu.Unlock()
		return 0, err
	}
	return id, nil
}

func (c *Catalog) selectBest(ctx context.Context, maxCandidates int) (int, error) {
	if maxCandidates <= 0 {
		maxCandidates = DefaultMaxCandidates
	}

	candidates, err := c.ListCandidates(ctx)
	if err != nil {
		return 0, err
	}
	if len(candidates) > maxCandidates {
		candidates = candidates[:maxCandidates]
	}
	if len(candidates) == 0 {
		return 0, ErrNoCandidates
	}

	c.logger.Info("Benchmarking servers", "candidates", len(candidates))

	// A benchmark that has started runs to completion; cancellation is only
	// observed between candidates.
	benchCtx := context.WithoutCancel(ctx)
	var results []models.ServerPerformance
	for i, candidate := range candidates {
		if i > 0 && ctx.Err() == nil && c.opts.ProbeDelay > 0 {
			// The sleep error is ctx.Err(), handled below.
			_ = c.sleep(ctx, c.opts.ProbeDelay)
		}
		if ctx.Err() != nil {
			c.logger.Info("Server selection interrupted", "benchmarked", len(results), "candidates", len(candidates))
			if len(results) == 0 {
				return 0, ctx.Err()
			}
			break
		}

		perf, err := c.Benchmark(benchCtx, candidate)
		if err != nil {
			c.logger.Warn("Server benchmark failed",
				"server_id", candidate.ID,
				"server_name", candidate.Name,
				"error", err)
			if !c.opts.SkipFailed {
				return 0, err
			}
			continue
		}
		c.logger.Info("Server benchmarked",
			"server_id", perf.ServerID,
			"server_name", perf.ServerName,
			"download_mbps", perf.DownloadMbps,
			"ping_ms", perf.PingMs,
			"score", perf.Score)
		results = append(results, perf)
	}

	if len(results) == 0 {
		return 0, fmt.Errorf("%w: %d candidates tried", ErrAllBenchmarksFailed, len(candidates))
	}

	rankByScore(results)
	best := results[0]

	c.mu.Lock()
	next := c.sel.clone()
	for _, r := range results {
		next.TestResults[strconv.Itoa(r.ServerID)] = r
	}
	id := best.ServerID
	next.ServerID = &id
	next.LastUpdated = c.now()
	c.mu.Unlock()

	if err := c.cache.Save(ctx, next); err != nil {
		c.logger.Error("Failed to persist server selection", "server_id", id, "error", err)
	}

	c.mu.Lock()
	c.sel = next
	c.state = StateCached
	c.mu.Unlock()

	c.logger.Info("Selected best server", "server_id", id, "server_name", best.ServerName, "score", best.Score)
	return id, nil
}

// SetPreferred pins id without benchmarking it.
func (c *Catalog) SetPreferred(ctx context.Context, id int) error {
	if id <= 0 {
		return fmt.Errorf("invalid server id %d", id)
	}

	c.mu.Lock()
	next := c.sel.clone()
	next.ServerID = &id
	next.LastUpdated = c.now()
	c.mu.Unlock()

	if err := c.cache.Save(ctx, next); err != nil {
		return err
	}

	c.mu.Lock()
	c.sel = next
	c.state = StateCached
	c.mu.Unlock()
	c.logger.Info("Preferred server set", "server_id", id)
	return nil
}

// Preferred returns the cached server id, if any.
func (c *Catalog) Preferred() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sel.ServerID == nil {
		return 0, false
	}
	return *c.sel.ServerID, true
}

// Results returns a copy of the cached benchmark results keyed by server id.
func (c *Catalog) Results() map[string]models.ServerPerformance {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sel.clone().TestResults
}

// Ranked returns the cached benchmark results, highest score first. Ties go
// to the nearer server, as in selection.
func (c *Catalog) Ranked() []models.ServerPerformance {
	ranked := slices.Collect(maps.Values(c.Results()))
	slices.SortFunc(ranked, func(a, b models.ServerPerformance) int {
		return cmp.Or(cmp.Compare(a.Distance, b.Distance), cmp.Compare(a.ServerID, b.ServerID))
	})
	rankByScore(ranked)
	return ranked
}

// rankByScore sorts highest score first, keeping the existing order on ties.
func rankByScore(results []models.ServerPerformance) {
	slices.SortStableFunc(results, func(a, b models.ServerPerformance) int {
		return cmp.Compare(b.Score, a.Score)
	})
}

func (c *Catalog) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func derefID(id *int) any {
	if id == nil {
		return nil
	}
	return *id
}
