package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func load(t *testing.T, file string) (Config, error) {
	t.Helper()
	v, err := New(file)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return Load(v)
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := load(t, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DataDir != DefaultDataDir {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, DefaultDataDir)
	}
	if cfg.Interval != 10*time.Minute || cfg.Cooldown != 60*time.Second {
		t.Errorf("Interval, Cooldown = %s, %s", cfg.Interval, cfg.Cooldown)
	}
	if cfg.Selection.Mode != "cached" || cfg.Selection.MaxCandidates != 5 || cfg.Selection.PingDivisor != 10 {
		t.Errorf("Selection = %+v", cfg.Selection)
	}
	if cfg.Selection.ProbeDelay != 2*time.Second || !cfg.Selection.SkipFailed {
		t.Errorf("Selection = %+v", cfg.Selection)
	}
	want := []string{"8.8.8.8", "1.1.1.1", "208.67.222.222"}
	if strings.Join(cfg.Ping.Targets, ",") != strings.Join(want, ",") {
		t.Errorf("Ping.Targets = %v, want %v", cfg.Ping.Targets, want)
	}
	if cfg.Speedtest.Timeout != 120*time.Second {
		t.Errorf("Speedtest.Timeout = %s", cfg.Speedtest.Timeout)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	yaml := `data_dir: /tmp/netmon
interval: 15m
selection:
  mode: pinned
  server_id: 1234
  ping_divisor: 5
ping:
  targets:
    - 9.9.9.9
  workers: 2
database:
  enabled: true
  host: db.internal
`
	if err := os.WriteFile(file, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("NETMON_INTERVAL", "30m")
	t.Setenv("NETMON_REDIS_ADDR", "redis:6380")

	cfg, err := load(t, file)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DataDir != "/tmp/netmon" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.Interval != 30*time.Minute {
		t.Errorf("Interval = %s, want env override 30m", cfg.Interval)
	}
	if cfg.Redis.Addr != "redis:6380" {
		t.Errorf("Redis.Addr = %q", cfg.Redis.Addr)
	}
	if cfg.Selection.Mode != "pinned" || cfg.Selection.ServerID != 1234 || cfg.Selection.PingDivisor != 5 {
		t.Errorf("Selection = %+v", cfg.Selection)
	}
	if len(cfg.Ping.Targets) != 1 || cfg.Ping.Targets[0] != "9.9.9.9" || cfg.Ping.Workers != 2 {
		t.Errorf("Ping = %+v", cfg.Ping)
	}
	if !cfg.Database.Enabled || cfg.Database.Host != "db.internal" || cfg.Database.Port != 5432 {
		t.Errorf("Database = %+v", cfg.Database)
	}

	settings := cfg.SchedulerSettings()
	if settings.ServerID != 1234 || string(settings.Mode) != "pinned" {
		t.Errorf("SchedulerSettings() = %+v", settings)
	}
	if st := cfg.SpeedtestProbe(); st.Path != "speedtest" || st.Timeout != 120*time.Second {
		t.Errorf("SpeedtestProbe() = %+v", st)
	}
}

func TestNewMissingExplicitFile(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("New() error = nil, want error for missing explicit file")
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		v := viper.New()
		SetDefaults(v)
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			t.Fatal(err)
		}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"pinned without server", func(c *Config) { c.Selection.Mode = "pinned" }, "selection.server_id"},
		{"unknown mode", func(c *Config) { c.Selection.Mode = "fastest" }, "selection.mode"},
		{"zero divisor", func(c *Config) { c.Selection.PingDivisor = 0 }, "ping_divisor"},
		{"http catalog without url", func(c *Config) { c.Selection.Catalog = "http" }, "catalog_url"},
		{"file catalog without path", func(c *Config) { c.Selection.Catalog = "file" }, "catalog_file"},
		{"unknown cache backend", func(c *Config) { c.Selection.CacheBackend = "memcached" }, "cache_backend"},
		{"bad platform", func(c *Config) { c.Ping.Platform = "plan9" }, "ping.platform"},
		{"empty target", func(c *Config) { c.Ping.Targets = []string{"8.8.8.8", " "} }, "ping.targets"},
		{"zero interval", func(c *Config) { c.Interval = 0 }, "interval"},
		{"database without host", func(c *Config) {
			c.Database.Enabled = true
			c.Database.Host = ""
		}, "database.host"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}
