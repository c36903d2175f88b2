package server

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"network-monitor/pkg/models"
	"network-monitor/pkg/probe"
	"network-monitor/pkg/probe/probetest"
)

func TestFileCacheMissingFile(t *testing.T) {
	t.Parallel()
	c := NewFileCache(t.TempDir())

	sel, err := c.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !sel.Empty() {
		t.Errorf("Load() = %+v, want empty selection", sel)
	}
}

func TestFileCacheSaveLoad(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "nested")
	c := NewFileCache(dir)

	id := 321
	ts := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	want := Selection{
		ServerID: &id,
		TestResults: map[string]models.ServerPerformance{
			"321": {ServerID: 321, ServerName: "Fast", DownloadMbps: 90, PingMs: 8, Score: 89.2, TestedAt: ts},
		},
		LastUpdated: ts,
	}
	if err := c.Save(context.Background(), want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, CacheFileName)); err != nil {
		t.Fatalf("cache file not written: %v", err)
	}

	got, err := c.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.ServerID == nil || *got.ServerID != 321 {
		t.Errorf("ServerID = %v, want 321", got.ServerID)
	}
	if !got.LastUpdated.Equal(ts) {
		t.Errorf("LastUpdated = %v, want %v", got.LastUpdated, ts)
	}
	if got.TestResults["321"].Score != 89.2 {
		t.Errorf("TestResults = %+v", got.TestResults)
	}

	leftovers, _ := filepath.Glob(filepath.Join(dir, "*.tmp-*"))
	if len(leftovers) != 0 {
		t.Errorf("temporary files left behind: %v", leftovers)
	}
}

func TestFileCacheLoadFormats(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		content string
		wantID  *int
		wantErr error
	}{
		{
			name:    "naive timestamp",
			content: `{"server_id": 1234, "test_results": {"1234": {"server_id": 1234, "score": 50.1, "jitter": 1.2, "test_time": "2024-06-01T09:30:00.123456Z"}}, "last_updated": "2024-06-01T09:30:00.123456"}`,
			wantID:  intPtr(1234),
		},
		{
			name:    "null server id",
			content: `{"server_id": null, "test_results": {}, "last_updated": "2024-06-01T09:30:00Z"}`,
		},
		{
			name:    "truncated",
			content: `{"server_id": 12`,
			wantErr: ErrCacheCorrupt,
		},
		{
			name:    "bad timestamp",
			content: `{"server_id": 1, "last_updated": "last tuesday"}`,
			wantErr: ErrCacheCorrupt,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			if err := os.WriteFile(filepath.Join(dir, CacheFileName), []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			sel, err := NewFileCache(dir).Load(context.Background())
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Load() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			switch {
			case tt.wantID == nil && sel.ServerID != nil:
				t.Errorf("ServerID = %d, want nil", *sel.ServerID)
			case tt.wantID != nil && (sel.ServerID == nil || *sel.ServerID != *tt.wantID):
				t.Errorf("ServerID = %v, want %d", sel.ServerID, *tt.wantID)
			}
		})
	}
}

func TestCatalogLoadIgnoresCorruptCache(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, CacheFileName), []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	c := NewCatalog(staticSource{}, &probetest.Fake{}, probe.DefaultSpeedtest(), NewFileCache(dir), DefaultOptions(), nil)

	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, ok := c.Preferred(); ok {
		t.Error("Preferred() reported a server from a corrupt cache")
	}
	if c.State() != StateUncached {
		t.Errorf("State() = %v, want uncached", c.State())
	}
}

func TestNewCacheStore(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		config  CacheConfig
		wantErr bool
	}{
		{"default is file", CacheConfig{DataDir: "/tmp/x"}, false},
		{"file", CacheConfig{Backend: CacheFile, DataDir: "/tmp/x"}, false},
		{"redis without address", CacheConfig{Backend: CacheRedis}, true},
		{"unknown", CacheConfig{Backend: "memcached"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCacheStore(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewCacheStore() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func intPtr(v int) *int { return &v }
