//go:build integration

package server

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redis"

	"network-monitor/pkg/models"
	"network-monitor/pkg/probe"
)

// setupRedisContainer starts a Redis container for testing
func setupRedisContainer(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	redisContainer, err := redis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(redisContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := redisContainer.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get redis endpoint: %v", err)
	}
	return strings.TrimPrefix(endpoint, "redis://")
}

func TestRedisCache(t *testing.T) {
	addr := setupRedisContainer(t)
	ctx := context.Background()

	cache, err := NewRedisCache(addr, "", 0, "test:best_server")
	if err != nil {
		t.Fatalf("NewRedisCache() error = %v", err)
	}
	defer cache.Close()

	sel, err := cache.Load(ctx)
	if err != nil {
		t.Fatalf("Load() on empty key error = %v", err)
	}
	if !sel.Empty() {
		t.Errorf("Load() = %+v, want empty", sel)
	}

	id := 99
	ts := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	err = cache.Save(ctx, Selection{
		ServerID:    &id,
		TestResults: map[string]models.ServerPerformance{"99": {ServerID: 99, Score: 42}},
		LastUpdated: ts,
	})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := cache.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.ServerID == nil || *got.ServerID != 99 || got.TestResults["99"].Score != 42 {
		t.Errorf("Load() = %+v", got)
	}
	if !got.LastUpdated.Equal(ts) {
		t.Errorf("LastUpdated = %v, want %v", got.LastUpdated, ts)
	}
}

func TestRedisCacheSharedBetweenCatalogs(t *testing.T) {
	addr := setupRedisContainer(t)
	ctx := context.Background()

	first, err := NewRedisCache(addr, "", 0, "")
	if err != nil {
		t.Fatalf("NewRedisCache() error = %v", err)
	}
	defer first.Close()
	second, err := NewRedisCache(addr, "", 0, "")
	if err != nil {
		t.Fatalf("NewRedisCache() error = %v", err)
	}
	defer second.Close()

	writer := NewCatalog(staticSource{}, nil, probe.DefaultSpeedtest(), first, DefaultOptions(), nil)
	if err := writer.SetPreferred(ctx, 1234); err != nil {
		t.Fatalf("SetPreferred() error = %v", err)
	}

	reader := NewCatalog(staticSource{}, nil, probe.DefaultSpeedtest(), second, DefaultOptions(), nil)
	if err := reader.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if id, ok := reader.Preferred(); !ok || id != 1234 {
		t.Errorf("Preferred() = %d, %v; want 1234, true", id, ok)
	}
}

func TestNewRedisCacheInvalidAddr(t *testing.T) {
	if _, err := NewRedisCache("invalid:99999", "", 0, ""); err == nil {
		t.Error("NewRedisCache() error = nil, want connection error")
	}
}
