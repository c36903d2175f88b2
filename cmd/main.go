// File: main.go

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"network-monitor/pkg/config"
	"network-monitor/pkg/httpx"
	"network-monitor/pkg/scheduler"
	"network-monitor/pkg/store"
)

const shutdownTimeout = 5 * time.Second

var (
	debugFlag  bool
	logFormat  string
	configFile string
	logger     *slog.Logger
	v          *viper.Viper
)

var rootCmd = &cobra.Command{
	Use:           "network-monitor",
	Short:         "Periodically measure internet throughput and latency",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var logLevel slog.Level
		if debugFlag {
			logLevel = slog.LevelDebug
		} else {
			logLevel = slog.LevelInfo
		}

		opts := &slog.HandlerOptions{Level: logLevel}
		switch logFormat {
		case "json":
			logger = slog.New(slog.NewJSONHandler(os.Stderr, opts))
		case "text", "":
			logger = slog.New(slog.NewTextHandler(os.Stderr, opts))
		default:
			return fmt.Errorf("invalid --log-format %q: must be text or json", logFormat)
		}
		slog.SetDefault(logger)

		var err error
		v, err = config.New(configFile)
		if err != nil {
			return err
		}
		return v.BindPFlag("data_dir", rootCmd.PersistentFlags().Lookup("data-dir"))
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Measure continuously until interrupted",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg := loadConfig(cmd)
		a := mustApp(ctx, cfg)
		defer a.Close()

		sched, err := a.Scheduler(ctx, cfg.SchedulerSettings())
		if err != nil {
			logger.Error("Error initializing scheduler", "error", err)
			os.Exit(1)
		}
		if err := sched.CheckProbe(ctx); err != nil {
			logger.Error("Cannot start without the measurement tools", "error", err)
			os.Exit(1)
		}

		var srv *httpx.Server
		if cfg.HTTP.Listen != "" {
			srv = httpx.NewServer(cfg.HTTP.Listen, a.API(sched).Handler(), logger)
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("HTTP server failed", "error", err)
				}
			}()
		}

		sched.RunForever(ctx, cfg.Interval)

		if srv != nil {
			if err := srv.Stop(shutdownTimeout); err != nil {
				logger.Warn("Error stopping HTTP server", "error", err)
			}
		}
		logger.Info("Network monitor stopped")
	},
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single measurement cycle",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg := loadConfig(cmd)
		a := mustApp(ctx, cfg)
		defer a.Close()

		sched, err := a.Scheduler(ctx, cfg.SchedulerSettings())
		if err != nil {
			logger.Error("Error initializing scheduler", "error", err)
			os.Exit(1)
		}
		if err := sched.CheckProbe(ctx); err != nil {
			logger.Error("Cannot run without the measurement tools", "error", err)
			os.Exit(1)
		}

		res, err := sched.RunOnce(ctx)
		if res.Speed != nil {
			fmt.Printf("Download: %.2f Mbps  Upload: %.2f Mbps  Ping: %.2f ms  Server: %s (%d)\n",
				res.Speed.DownloadMbps, res.Speed.UploadMbps, res.Speed.PingMs, res.Speed.ServerName, res.Speed.ServerID)
		} else {
			fmt.Println("Speed test: no result")
		}
		for _, p := range res.Pings {
			fmt.Printf("Ping %-16s avg %.2f ms  min %.2f ms  max %.2f ms  loss %.1f%%\n",
				p.Target, p.AvgLatencyMs, p.MinLatencyMs, p.MaxLatencyMs, p.PacketLossPercent)
		}
		if err != nil {
			logger.Error("Measurement cycle failed", "error", err)
			a.Close()
			os.Exit(1)
		}
	},
}

var listServersCmd = &cobra.Command{
	Use:   "list-servers",
	Short: "List nearby speedtest servers",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		cfg := loadConfig(cmd)
		a := mustApp(ctx, cfg)
		defer a.Close()

		catalog, err := a.Catalog(ctx)
		if err != nil {
			logger.Error("Error initializing server catalog", "error", err)
			os.Exit(1)
		}
		candidates, err := catalog.ListCandidates(ctx)
		if err != nil {
			logger.Error("Error listing servers", "error", err)
			a.Close()
			os.Exit(1)
		}

		limit, _ := cmd.Flags().GetInt("limit")
		if limit > 0 && len(candidates) > limit {
			candidates = candidates[:limit]
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tLOCATION\tDISTANCE")
		for _, c := range candidates {
			fmt.Fprintf(w, "%d\t%s\t%s\t%.1f\n", c.ID, c.Name, c.DisplayLocation(), c.Distance)
		}
		w.Flush()
	},
}

var findBestServerCmd = &cobra.Command{
	Use:   "find-best-server",
	Short: "Benchmark nearby servers and cache the best one",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg := loadConfig(cmd)
		a := mustApp(ctx, cfg)
		defer a.Close()

		catalog, err := a.Catalog(ctx)
		if err != nil {
			logger.Error("Error initializing server catalog", "error", err)
			os.Exit(1)
		}

		force, _ := cmd.Flags().GetBool("test-servers")
		id, err := catalog.SelectBest(ctx, cfg.Selection.MaxCandidates, force)
		if err != nil {
			logger.Error("Error selecting best server", "error", err)
			a.Close()
			os.Exit(1)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tLOCATION\tDOWNLOAD\tUPLOAD\tPING\tSCORE")
		for _, perf := range catalog.Ranked() {
			fmt.Fprintf(w, "%d\t%s\t%s\t%.2f\t%.2f\t%.2f\t%.2f\n",
				perf.ServerID, perf.ServerName, perf.Location, perf.DownloadMbps, perf.UploadMbps, perf.PingMs, perf.Score)
		}
		w.Flush()
		fmt.Printf("Best server: %d\n", id)
	},
}

var setPreferredServerCmd = &cobra.Command{
	Use:   "set-preferred-server [id]",
	Short: "Pin the server used in cached mode",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := strconv.Atoi(args[0])
		if err != nil || id <= 0 {
			logger.Error("Invalid server id", "id", args[0])
			os.Exit(1)
		}

		ctx := context.Background()
		cfg := loadConfig(cmd)
		a := mustApp(ctx, cfg)
		defer a.Close()

		catalog, err := a.Catalog(ctx)
		if err != nil {
			logger.Error("Error initializing server catalog", "error", err)
			os.Exit(1)
		}
		if err := catalog.SetPreferred(ctx, id); err != nil {
			logger.Error("Error saving preferred server", "error", err)
			a.Close()
			os.Exit(1)
		}
		logger.Info("Preferred server saved", "server_id", id)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the recorded history over HTTP",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg := loadConfig(cmd)
		a := mustApp(ctx, cfg)
		defer a.Close()

		if _, err := a.Catalog(ctx); err != nil {
			logger.Warn("Server catalog unavailable, preferred server will not be reported", "error", err)
		}

		srv := httpx.NewServer(cfg.HTTP.Listen, a.API(nil).Handler(), logger)
		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		select {
		case err := <-errCh:
			if err != nil {
				logger.Error("HTTP server failed", "error", err)
				a.Close()
				os.Exit(1)
			}
		case <-ctx.Done():
			if err := srv.Stop(shutdownTimeout); err != nil {
				logger.Warn("Error stopping HTTP server", "error", err)
			}
		}
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recorded history and the cached server",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		cfg := loadConfig(cmd)
		a := mustApp(ctx, cfg)
		defer a.Close()

		speed, err := store.Count(a.path(httpx.SpeedFileName))
		if err != nil {
			logger.Error("Error reading speed tests", "error", err)
		}
		ping, err := store.Count(a.path(httpx.PingFileName))
		if err != nil {
			logger.Error("Error reading ping tests", "error", err)
		}

		fmt.Printf("Data directory: %s\n", cfg.DataDir)
		fmt.Printf("Speed tests:    %d\n", speed)
		fmt.Printf("Ping tests:     %d\n", ping)

		catalog, err := a.Catalog(ctx)
		switch {
		case err != nil:
			fmt.Printf("Preferred server: unavailable (%v)\n", err)
		default:
			if id, ok := catalog.Preferred(); ok {
				fmt.Printf("Preferred server: %d\n", id)
			} else {
				fmt.Println("Preferred server: none")
			}
		}

		recs, err := store.ReadSpeed(a.path(httpx.SpeedFileName), logger)
		if err != nil && !errors.Is(err, store.ErrUnknownSchema) {
			logger.Error("Error reading speed tests", "error", err)
		}
		if len(recs) > 0 {
			last := recs[len(recs)-1]
			fmt.Printf("Last speed test: %s  %.2f/%.2f Mbps  %.2f ms\n",
				last.Timestamp.Local().Format(time.DateTime), last.DownloadMbps, last.UploadMbps, last.PingMs)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (default: search ./config.yaml, $HOME/.network-monitor, /etc/network-monitor)")
	rootCmd.PersistentFlags().String("data-dir", config.DefaultDataDir, "Directory holding the CSV history and the server cache")

	for _, cmd := range []*cobra.Command{runCmd, onceCmd} {
		cmd.Flags().Int("server-id", 0, "Always test against this server")
		cmd.Flags().Bool("no-server-optimization", false, "Let the speedtest CLI pick the server")
	}
	runCmd.Flags().Duration("interval", scheduler.DefaultInterval, "Time between measurement cycles")
	runCmd.Flags().String("listen", "", "Serve the read API on this address (default from http.listen)")
	listServersCmd.Flags().Int("limit", 10, "Number of servers to show (0 shows all)")
	findBestServerCmd.Flags().Bool("test-servers", false, "Benchmark again even if a server is cached")
	serveCmd.Flags().String("listen", "", "Address to listen on (default from http.listen)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(onceCmd)
	rootCmd.AddCommand(listServersCmd)
	rootCmd.AddCommand(findBestServerCmd)
	rootCmd.AddCommand(setPreferredServerCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
}

// loadConfig applies command flags on top of the viper settings and exits on
// invalid configuration.
func loadConfig(cmd *cobra.Command) config.Config {
	flags := cmd.Flags()
	if f := flags.Lookup("interval"); f != nil && f.Changed {
		v.Set("interval", f.Value.String())
	}
	if f := flags.Lookup("listen"); f != nil && f.Changed {
		v.Set("http.listen", f.Value.String())
	}
	if f := flags.Lookup("server-id"); f != nil && f.Changed {
		id, _ := flags.GetInt("server-id")
		v.Set("selection.mode", string(scheduler.ModePinned))
		v.Set("selection.server_id", id)
	}
	if noOpt, _ := flags.GetBool("no-server-optimization"); noOpt {
		v.Set("selection.mode", string(scheduler.ModeAuto))
	}

	cfg, err := config.Load(v)
	if err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	logger.Debug("Configuration loaded",
		"config_file", v.ConfigFileUsed(),
		"data_dir", cfg.DataDir,
		"mode", cfg.Selection.Mode,
		"catalog", cfg.Selection.Catalog,
		"cache_backend", cfg.Selection.CacheBackend)
	return cfg
}

func mustApp(ctx context.Context, cfg config.Config) *app {
	a, err := newApp(ctx, cfg)
	if err != nil {
		logger.Error("Error initializing", "error", err)
		os.Exit(1)
	}
	return a
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
