/*
Package scheduler runs measurement cycles: one throughput probe followed by
one latency probe per target, each result appended to the history tables as
soon as it is parsed.

Key Components:

  - Scheduler: owns the stores, the server selector, and the lifecycle state
  - Settings: selection mode, targets, and the error cooldown
  - Deps: the collaborators a Scheduler drives

Selection Modes:

	auto    the speedtest CLI picks the server
	cached  use the catalog's preferred server; on a cold cache run a
	        selection first when AutoBenchmark is set
	pinned  always use Settings.ServerID

A throughput probe against a specific server that fails, or whose output
cannot be parsed, is retried once right away with automatic selection.
Probe and parse failures are logged and never end a cycle; only store write
failures (and recovered panics) are returned from RunOnce.

Lifecycle:

	Idle -> Running -> Idle ...            normal operation
	Running -> Draining -> Stopped         context canceled

A probe that is already running when the context is canceled is allowed to
finish and its record is kept. No further probe starts and the inter-cycle
sleep is cut short.

Usage Example:

	sched := scheduler.New(scheduler.Settings{
		Mode:    scheduler.ModeCached,
		Targets: []string{"8.8.8.8", "1.1.1.1"},
	}, scheduler.Deps{
		Invoker:   probe.NewExecInvoker(),
		Speedtest: probe.DefaultSpeedtest(),
		Selector:  catalog,
		Pinger:    prober,
		Speed:     speedTable,
		Ping:      pingTable,
		Logger:    logger,
	})

	if err := sched.CheckProbe(ctx); err != nil {
		log.Fatal(err)
	}
	sched.RunForever(ctx, 10*time.Minute)
*/
package scheduler
