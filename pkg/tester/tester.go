// Package tester runs latency probes against a set of targets with a small
// worker pool.
package tester

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"network-monitor/pkg/parser"
	"network-monitor/pkg/probe"
)

const (
	DefaultCount   = 10
	DefaultTimeout = 30 * time.Second
)

// Result is the outcome of probing one target. Index is the target's
// position in the list passed to ProbeAll.
type Result struct {
	Index  int
	Target string
	Stats  parser.PingStats
	Err    error
}

// Prober pings targets through the host ping command.
type Prober struct {
	Invoker probe.Invoker
	Parser  parser.LatencyOutputParser
	Command string
	Count   int
	Timeout time.Duration
	// Workers bounds concurrent probes. 1 probes targets one after another.
	Workers int
	Logger  *slog.Logger
}

// CommandName is the ping executable in use.
func (p *Prober) CommandName() string {
	if p.Command == "" {
		return "ping"
	}
	return p.Command
}

// Probe pings a single target.
func (p *Prober) Probe(ctx context.Context, target string) (parser.PingStats, error) {
	count := p.Count
	if count <= 0 {
		count = DefaultCount
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	cmd := probe.Command{Name: p.CommandName(), Args: p.Parser.Args(target, count), Timeout: timeout}
	out, err := p.Invoker.Invoke(ctx, cmd)
	if err != nil {
		return parser.PingStats{}, err
	}
	stats, err := p.Parser.Parse(string(out.Stdout))
	if err != nil {
		return parser.PingStats{}, fmt.Errorf("parse %s output: %w", target, err)
	}
	return stats, nil
}

// ProbeAll probes every target and delivers results as they complete. The
// channel is closed once all targets are done. Targets not yet started when
// ctx is canceled are skipped; probes already running finish under their own
// timeout.
func (p *Prober) ProbeAll(ctx context.Context, targets []string) <-chan Result {
	probeCtx := context.WithoutCancel(ctx)
	workers := p.Workers
	if workers <= 0 {
		workers = 1
	}
	if workers > len(targets) {
		workers = len(targets)
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	jobs := make(chan Result, len(targets))
	results := make(chan Result, len(targets))

	// Start worker pool
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go p.worker(ctx, probeCtx, logger, &wg, jobs, results)
	}

	// Send jobs to workers
	for i, target := range targets {
		jobs <- Result{Index: i, Target: target}
	}
	close(jobs)

	// Wait for all workers to finish
	go func() {
		wg.Wait()
		close(results)
	}()

	return results
}

func (p *Prober) worker(ctx, probeCtx context.Context, logger *slog.Logger, wg *sync.WaitGroup, jobs <-chan Result, results chan<- Result) {
	defer wg.Done()
	for job := range jobs {
		if ctx.Err() != nil {
			logger.Debug("Skipping latency probe during shutdown", "target", job.Target)
			continue
		}
		job.Stats, job.Err = p.Probe(probeCtx, job.Target)
		results <- job
	}
}
