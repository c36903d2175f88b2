package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"network-monitor/pkg/ipinfo"
	"network-monitor/pkg/metrics"
	"network-monitor/pkg/models"
	"network-monitor/pkg/parser"
	"network-monitor/pkg/probe"
	"network-monitor/pkg/tester"
)

const (
	DefaultInterval = 10 * time.Minute
	DefaultCooldown = 60 * time.Second

	mirrorTimeout = 10 * time.Second
)

// ErrPanic wraps a panic recovered during a cycle.
var ErrPanic = errors.New("measurement cycle panicked")

// DefaultTargets are pinged when no targets are configured.
var DefaultTargets = []string{"8.8.8.8", "1.1.1.1", "208.67.222.222"}

// Mode selects how the throughput probe picks its server.
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeCached Mode = "cached"
	ModePinned Mode = "pinned"
)

// State is the scheduler's lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type Settings struct {
	Mode          Mode
	ServerID      int // used by ModePinned
	MaxCandidates int
	AutoBenchmark bool
	Targets       []string
	Cooldown      time.Duration
}

// Selector picks the speedtest server; *server.Catalog implements it.
type Selector interface {
	SelectBest(ctx context.Context, maxCandidates int, forceRetest bool) (int, error)
	Preferred() (int, bool)
}

type SpeedStore interface {
	Append(rec *models.MeasurementRecord) error
}

type PingStore interface {
	Append(rec *models.PingRecord) error
}

// Mirror receives a copy of every appended record.
type Mirror interface {
	InsertSpeed(ctx context.Context, rec *models.MeasurementRecord) error
	InsertPing(ctx context.Context, rec *models.PingRecord) error
}

// IPLookup resolves the public IP's owner; *ipinfo.Client implements it.
type IPLookup interface {
	GetIPInfo(ctx context.Context, ip string) (ipinfo.IPInfoResponse, error)
}

// Deps are the collaborators of a Scheduler. Mirror, Metrics and IPInfo are
// optional.
type Deps struct {
	Invoker   probe.Invoker
	Speedtest probe.Speedtest
	Selector  Selector
	Pinger    *tester.Prober
	Speed     SpeedStore
	Ping      PingStore

	Mirror  Mirror
	Metrics *metrics.Metrics
	IPInfo  IPLookup
	Logger  *slog.Logger
}

// Result is what one cycle recorded. Pings are in target order.
type Result struct {
	CycleID string
	Speed   *models.MeasurementRecord
	Pings   []models.PingRecord
}

type Scheduler struct {
	settings Settings
	deps     Deps
	logger   *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	state atomic.Int32
}

func New(settings Settings, deps Deps) *Scheduler {
	if settings.Mode == "" {
		settings.Mode = ModeAuto
	}
	if settings.Cooldown <= 0 {
		settings.Cooldown = DefaultCooldown
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		settings: settings,
		deps:     deps,
		logger:   logger,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

func (s *Scheduler) State() State {
	return State(s.state.Load())
}

func (s *Scheduler) setState(st State) {
	s.state.Store(int32(st))
}

// CheckProbe verifies the speedtest CLI can be run and, when latency targets
// are configured, that the ping command is installed.
func (s *Scheduler) CheckProbe(ctx context.Context) error {
	out, err := s.deps.Invoker.Invoke(ctx, s.deps.Speedtest.Version())
	if err != nil {
		return fmt.Errorf("speedtest CLI unavailable: %w", err)
	}
	version, _, _ := strings.Cut(strings.TrimSpace(string(out.Stdout)), "\n")
	s.logger.Info("Found speedtest CLI", "version", version)

	p := s.deps.Pinger
	if p == nil || len(s.settings.Targets) == 0 {
		return nil
	}
	resolver, ok := p.Invoker.(probe.PathResolver)
	if !ok {
		return nil
	}
	path, err := resolver.LookPath(p.CommandName())
	if err != nil {
		return fmt.Errorf("ping command unavailable: %w", err)
	}
	s.logger.Info("Found ping command", "path", path)
	return nil
}

// RunForever runs cycles until ctx is canceled, sleeping interval between
// them. A cycle that returns an error is followed by the cooldown instead.
func (s *Scheduler) RunForever(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	defer s.setState(StateStopped)

	s.logger.Info("Starting measurement loop", "interval", interval, "mode", s.settings.Mode)
	for {
		if ctx.Err() != nil {
			s.setState(StateDraining)
			return
		}

		res, err := s.RunOnce(ctx)
		wait := interval
		if err != nil {
			s.logger.Error("Measurement cycle failed",
				"cycle_id", res.CycleID,
				"error", err,
				"cooldown", s.settings.Cooldown)
			s.recordError("scheduler", "cycle")
			wait = s.settings.Cooldown
		}

		if ctx.Err() != nil {
			s.setState(StateDraining)
			s.logger.Info("Measurement loop stopping")
			return
		}

		s.setState(StateIdle)
		s.logger.Debug("Waiting for next cycle", "wait", wait)
		if err := s.sleep(ctx, wait); err != nil {
			s.setState(StateDraining)
			s.logger.Info("Measurement loop stopping")
			return
		}
	}
}

// RunOnce performs one cycle.
func (s *Scheduler) RunOnce(ctx context.Context) (res Result, err error) {
	res.CycleID = uuid.NewString()
	logger := s.logger.With("cycle_id", res.CycleID)
	start := time.Now()
	s.setState(StateRunning)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Recovered from panic", "panic", r, "stack", string(debug.Stack()))
			err = errors.Join(err, fmt.Errorf("%w: %v", ErrPanic, r))
		}
		if ctx.Err() != nil {
			s.setState(StateDraining)
		}
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordCycle(time.Since(start).Seconds())
		}
	}()

	// Probes already started run to completion even if ctx is canceled.
	probeCtx := context.WithoutCancel(ctx)
	var errs []error

	logger.Info("Starting measurement cycle")

	if rec := s.measureSpeed(ctx, probeCtx, logger); rec != nil {
		if err := s.deps.Speed.Append(rec); err != nil {
			logger.Error("Failed to save speed test", "error", err)
			errs = append(errs, err)
		} else {
			res.Speed = rec
			s.afterSpeedAppend(probeCtx, rec, logger)
		}
	}

	pings, pingErrs := s.measureLatency(ctx, logger)
	res.Pings = pings
	errs = append(errs, pingErrs...)

	logger.Info("Measurement cycle complete",
		"speed_recorded", res.Speed != nil,
		"pings_recorded", len(res.Pings),
		"duration", time.Since(start).Round(time.Millisecond))
	return res, errors.Join(errs...)
}

// chooseServer returns the server for this cycle's throughput probe; 0 lets
// the vendor choose.
func (s *Scheduler) chooseServer(ctx context.Context, logger *slog.Logger) int {
	switch s.settings.Mode {
	case ModePinned:
		return s.settings.ServerID
	case ModeCached:
		if s.deps.Selector == nil {
			return 0
		}
		if id, ok := s.deps.Selector.Preferred(); ok {
			return id
		}
		if !s.settings.AutoBenchmark {
			return 0
		}
		logger.Info("No cached server, running server selection")
		id, err := s.deps.Selector.SelectBest(ctx, s.settings.MaxCandidates, false)
		if err != nil {
			logger.Warn("Server selection failed, using automatic selection", "error", err)
			s.recordError("selection", reason(err))
			return 0
		}
		return id
	default:
		return 0
	}
}

func (s *Scheduler) measureSpeed(ctx, probeCtx context.Context, logger *slog.Logger) *models.MeasurementRecord {
	if ctx.Err() != nil {
		return nil
	}
	serverID := s.chooseServer(ctx, logger)
	if s.deps.Metrics != nil {
		s.deps.Metrics.SetSelectedServer(serverID)
	}
	if ctx.Err() != nil {
		return nil
	}

	rec, err := s.runSpeedtest(probeCtx, serverID)
	if err != nil && serverID > 0 && ctx.Err() == nil {
		logger.Warn("Speed test against selected server failed, retrying with automatic selection",
			"server_id", serverID,
			"error", err)
		s.recordError("speedtest", reason(err))
		serverID = 0
		rec, err = s.runSpeedtest(probeCtx, serverID)
	}
	if err != nil {
		logger.Error("Speed test failed",
			"command", s.deps.Speedtest.Measure(serverID).String(),
			"error", err)
		s.recordError("speedtest", reason(err))
		return nil
	}

	if rec.ISP == "" && s.deps.IPInfo != nil {
		info, err := s.deps.IPInfo.GetIPInfo(probeCtx, "")
		if err != nil {
			logger.Warn("ISP lookup failed", "error", err)
		} else {
			ipinfo.UpdateMeasurementWithIPInfo(rec, info)
		}
	}
	return rec
}

func (s *Scheduler) runSpeedtest(ctx context.Context, serverID int) (*models.MeasurementRecord, error) {
	out, err := s.deps.Invoker.Invoke(ctx, s.deps.Speedtest.Measure(serverID))
	if s.deps.Metrics != nil && out.Duration > 0 {
		s.deps.Metrics.RecordProbe("speedtest", out.Duration.Seconds())
	}
	if err != nil {
		return nil, err
	}
	rec, err := parser.ParseSpeedtest(out.Stdout, s.now())
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Scheduler) afterSpeedAppend(ctx context.Context, rec *models.MeasurementRecord, logger *slog.Logger) {
	logger.Info("Speed test recorded",
		"download_mbps", rec.DownloadMbps,
		"upload_mbps", rec.UploadMbps,
		"ping_ms", rec.PingMs,
		"server_id", rec.ServerID,
		"server_name", rec.ServerName)

	if m := s.deps.Metrics; m != nil {
		m.SetSpeed(rec.DownloadMbps, rec.UploadMbps, rec.PingMs)
		m.RecordAppend("speed")
	}
	if s.deps.Mirror != nil {
		mctx, cancel := context.WithTimeout(ctx, mirrorTimeout)
		defer cancel()
		if err := s.deps.Mirror.InsertSpeed(mctx, rec); err != nil {
			logger.Warn("Failed to mirror speed test", "error", err)
			s.recordError("mirror", "insert")
		}
	}
}

// measureLatency pings every target and appends each result as it arrives.
func (s *Scheduler) measureLatency(ctx context.Context, logger *slog.Logger) ([]models.PingRecord, []error) {
	targets := s.settings.Targets
	if len(targets) == 0 || s.deps.Pinger == nil || ctx.Err() != nil {
		return nil, nil
	}

	type indexed struct {
		index int
		rec   models.PingRecord
	}
	var (
		recorded []indexed
		errs     []error
	)
	for r := range s.deps.Pinger.ProbeAll(ctx, targets) {
		if r.Err != nil {
			logger.Warn("Ping failed", "target", r.Target, "error", r.Err)
			s.recordError("ping", reason(r.Err))
			continue
		}

		rec := models.PingRecord{
			Timestamp:         s.now(),
			Target:            r.Target,
			AvgLatencyMs:      r.Stats.AvgMs,
			MinLatencyMs:      r.Stats.MinMs,
			MaxLatencyMs:      r.Stats.MaxMs,
			PacketLossPercent: r.Stats.PacketLossPercent,
		}
		if err := s.deps.Ping.Append(&rec); err != nil {
			logger.Error("Failed to save ping test", "target", r.Target, "error", err)
			errs = append(errs, err)
			continue
		}
		logger.Info("Ping recorded",
			"target", rec.Target,
			"avg_ms", rec.AvgLatencyMs,
			"packet_loss_percent", rec.PacketLossPercent)
		s.afterPingAppend(ctx, &rec, logger)
		recorded = append(recorded, indexed{index: r.Index, rec: rec})
	}

	sort.Slice(recorded, func(i, j int) bool { return recorded[i].index < recorded[j].index })
	pings := make([]models.PingRecord, len(recorded))
	for i, r := range recorded {
		pings[i] = r.rec
	}
	return pings, errs
}

func (s *Scheduler) afterPingAppend(ctx context.Context, rec *models.PingRecord, logger *slog.Logger) {
	if m := s.deps.Metrics; m != nil {
		m.SetPing(rec.Target, rec.AvgLatencyMs, rec.PacketLossPercent)
		m.RecordAppend("ping")
	}
	if s.deps.Mirror != nil {
		mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mirrorTimeout)
		defer cancel()
		if err := s.deps.Mirror.InsertPing(mctx, rec); err != nil {
			logger.Warn("Failed to mirror ping test", "target", rec.Target, "error", err)
			s.recordError("mirror", "insert")
		}
	}
}

func (s *Scheduler) recordError(component, reason string) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordError(component, reason)
	}
}

// reason condenses err into a metrics label.
func reason(err error) string {
	var perr *probe.Error
	switch {
	case errors.As(err, &perr):
		return perr.Kind.String()
	case errors.Is(err, parser.ErrMalformed), errors.Is(err, parser.ErrNoSamples):
		return "malformed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
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
