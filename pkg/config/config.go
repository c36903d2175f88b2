// Package config loads the monitor's settings through viper. Values come from
// defaults, an optional YAML file and NETMON_* environment variables, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"network-monitor/pkg/parser"
	"network-monitor/pkg/probe"
	"network-monitor/pkg/scheduler"
	"network-monitor/pkg/server"
	"network-monitor/pkg/tester"
)

const (
	EnvPrefix      = "NETMON"
	DefaultDataDir = "/var/lib/network-monitor"
	DefaultListen  = ":9284"
)

type Config struct {
	DataDir  string        `mapstructure:"data_dir"`
	Interval time.Duration `mapstructure:"interval"`
	Cooldown time.Duration `mapstructure:"cooldown"`

	Speedtest SpeedtestConfig `mapstructure:"speedtest"`
	Selection SelectionConfig `mapstructure:"selection"`
	Ping      PingConfig      `mapstructure:"ping"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Database  DatabaseConfig  `mapstructure:"database"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	IPInfo    IPInfoConfig    `mapstructure:"ipinfo"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
}

type SpeedtestConfig struct {
	Command        string        `mapstructure:"command"`
	Timeout        time.Duration `mapstructure:"timeout"`
	ListTimeout    time.Duration `mapstructure:"list_timeout"`
	VersionTimeout time.Duration `mapstructure:"version_timeout"`
}

type SelectionConfig struct {
	Mode          string        `mapstructure:"mode"`
	ServerID      int           `mapstructure:"server_id"`
	MaxCandidates int           `mapstructure:"max_candidates"`
	ProbeDelay    time.Duration `mapstructure:"probe_delay"`
	PingDivisor   float64       `mapstructure:"ping_divisor"`
	SkipFailed    bool          `mapstructure:"skip_failed"`
	AutoBenchmark bool          `mapstructure:"auto_benchmark"`
	CacheBackend  string        `mapstructure:"cache_backend"`
	Catalog       string        `mapstructure:"catalog"`
	CatalogURL    string        `mapstructure:"catalog_url"`
	CatalogFile   string        `mapstructure:"catalog_file"`
}

type PingConfig struct {
	Command  string        `mapstructure:"command"`
	Count    int           `mapstructure:"count"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Targets  []string      `mapstructure:"targets"`
	Platform string        `mapstructure:"platform"`
	Workers  int           `mapstructure:"workers"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type HTTPConfig struct {
	Listen string `mapstructure:"listen"`
}

type IPInfoConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
	BaseURL string `mapstructure:"base_url"`
}

type FetchConfig struct {
	Transport string `mapstructure:"transport"`
}

// SetDefaults registers every key with its default so that environment
// overrides are picked up by Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", DefaultDataDir)
	v.SetDefault("interval", scheduler.DefaultInterval)
	v.SetDefault("cooldown", scheduler.DefaultCooldown)

	v.SetDefault("speedtest.command", "speedtest")
	v.SetDefault("speedtest.timeout", probe.DefaultSpeedtestTimeout)
	v.SetDefault("speedtest.list_timeout", probe.DefaultListTimeout)
	v.SetDefault("speedtest.version_timeout", probe.DefaultVersionTimeout)

	v.SetDefault("selection.mode", string(scheduler.ModeCached))
	v.SetDefault("selection.server_id", 0)
	v.SetDefault("selection.max_candidates", server.DefaultMaxCandidates)
	v.SetDefault("selection.probe_delay", server.DefaultProbeDelay)
	v.SetDefault("selection.ping_divisor", server.DefaultPingDivisor)
	v.SetDefault("selection.skip_failed", true)
	v.SetDefault("selection.auto_benchmark", true)
	v.SetDefault("selection.cache_backend", string(server.CacheFile))
	v.SetDefault("selection.catalog", string(server.SourceCLI))
	v.SetDefault("selection.catalog_url", "")
	v.SetDefault("selection.catalog_file", "")

	v.SetDefault("ping.command", "ping")
	v.SetDefault("ping.count", tester.DefaultCount)
	v.SetDefault("ping.timeout", tester.DefaultTimeout)
	v.SetDefault("ping.targets", scheduler.DefaultTargets)
	v.SetDefault("ping.platform", string(parser.PlatformAuto))
	v.SetDefault("ping.workers", 1)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key", server.DefaultRedisKey)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.dbname", "network_monitor")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("http.listen", DefaultListen)

	v.SetDefault("ipinfo.enabled", false)
	v.SetDefault("ipinfo.token", "")
	v.SetDefault("ipinfo.base_url", "https://ipinfo.io")

	v.SetDefault("fetch.transport", "")
}

// New returns a viper instance with defaults and environment bindings. When
// file is empty config.yaml is searched in the usual places; a missing file
// is not an error.
func New(file string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", file, err)
		}
		return v, nil
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.network-monitor")
	v.AddConfigPath("/etc/network-monitor/")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return v, nil
}

// Load unmarshals v into a Config and validates it.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("error decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.DataDir != "", "data_dir must not be empty")
	check(c.Interval > 0, "interval must be positive, got %s", c.Interval)
	check(c.Cooldown > 0, "cooldown must be positive, got %s", c.Cooldown)
	check(c.Speedtest.Command != "", "speedtest.command must not be empty")
	check(c.Speedtest.Timeout > 0, "speedtest.timeout must be positive")

	switch scheduler.Mode(c.Selection.Mode) {
	case scheduler.ModeAuto, scheduler.ModeCached:
	case scheduler.ModePinned:
		check(c.Selection.ServerID > 0, "selection.server_id is required in pinned mode")
	default:
		errs = append(errs, fmt.Errorf("selection.mode must be auto, cached or pinned, got %q", c.Selection.Mode))
	}
	check(c.Selection.MaxCandidates > 0, "selection.max_candidates must be positive")
	check(c.Selection.ProbeDelay >= 0, "selection.probe_delay must not be negative")
	check(c.Selection.PingDivisor > 0, "selection.ping_divisor must be positive")

	switch server.CacheBackend(c.Selection.CacheBackend) {
	case server.CacheFile:
	case server.CacheRedis:
		check(c.Redis.Addr != "", "redis.addr is required for the redis cache backend")
	default:
		errs = append(errs, fmt.Errorf("selection.cache_backend must be file or redis, got %q", c.Selection.CacheBackend))
	}
	switch server.SourceKind(c.Selection.Catalog) {
	case server.SourceCLI:
	case server.SourceHTTP:
		check(c.Selection.CatalogURL != "", "selection.catalog_url is required for the http catalog")
	case server.SourceFile:
		check(c.Selection.CatalogFile != "", "selection.catalog_file is required for the file catalog")
	default:
		errs = append(errs, fmt.Errorf("selection.catalog must be cli, http or file, got %q", c.Selection.Catalog))
	}

	check(c.Ping.Command != "", "ping.command must not be empty")
	check(c.Ping.Count > 0, "ping.count must be positive")
	check(c.Ping.Timeout > 0, "ping.timeout must be positive")
	check(c.Ping.Workers > 0, "ping.workers must be positive")
	if _, err := parser.NewLatencyParser(parser.Platform(c.Ping.Platform)); err != nil {
		errs = append(errs, fmt.Errorf("ping.platform: %w", err))
	}
	for _, target := range c.Ping.Targets {
		check(strings.TrimSpace(target) != "", "ping.targets must not contain empty entries")
	}

	if c.Database.Enabled {
		check(c.Database.Host != "", "database.host is required when the database is enabled")
		check(c.Database.DBName != "", "database.dbname is required when the database is enabled")
	}

	return errors.Join(errs...)
}

// SpeedtestProbe returns the speedtest command description.
func (c Config) SpeedtestProbe() probe.Speedtest {
	return probe.Speedtest{
		Path:           c.Speedtest.Command,
		Timeout:        c.Speedtest.Timeout,
		ListTimeout:    c.Speedtest.ListTimeout,
		VersionTimeout: c.Speedtest.VersionTimeout,
	}
}

// CatalogOptions returns the server catalog options.
func (c Config) CatalogOptions() server.Options {
	return server.Options{
		ProbeDelay: c.Selection.ProbeDelay,
		SkipFailed: c.Selection.SkipFailed,
		Scorer:     server.Scorer{PingDivisor: c.Selection.PingDivisor},
	}
}

// SchedulerSettings returns the scheduler settings.
func (c Config) SchedulerSettings() scheduler.Settings {
	return scheduler.Settings{
		Mode:          scheduler.Mode(c.Selection.Mode),
		ServerID:      c.Selection.ServerID,
		MaxCandidates: c.Selection.MaxCandidates,
		AutoBenchmark: c.Selection.AutoBenchmark,
		Targets:       c.Ping.Targets,
		Cooldown:      c.Cooldown,
	}
}
