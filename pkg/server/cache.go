package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"network-monitor/pkg/models"
)

// CacheFileName is the selection cache file inside the data directory.
const CacheFileName = "best_server.json"

// ErrCacheCorrupt reports a stored selection that could not be decoded.
var ErrCacheCorrupt = errors.New("selection cache is corrupt")

// Selection is the persisted server choice. A nil ServerID means the vendor
// picks the server. TestResults is keyed by the decimal server id.
type Selection struct {
	ServerID    *int                                `json:"server_id"`
	TestResults map[string]models.ServerPerformance `json:"test_results"`
	LastUpdated time.Time                           `json:"last_updated"`
}

// Empty reports whether nothing has been selected or benchmarked yet.
func (s Selection) Empty() bool {
	return s.ServerID == nil && len(s.TestResults) == 0
}

func (s Selection) clone() Selection {
	out := Selection{LastUpdated: s.LastUpdated, TestResults: make(map[string]models.ServerPerformance, len(s.TestResults))}
	if s.ServerID != nil {
		id := *s.ServerID
		out.ServerID = &id
	}
	for k, v := range s.TestResults {
		out.TestResults[k] = v
	}
	return out
}

// CacheStore persists a Selection. Load of a store that was never written
// returns an empty Selection and no error.
type CacheStore interface {
	Load(ctx context.Context) (Selection, error)
	Save(ctx context.Context, sel Selection) error
}

// FileCache keeps the selection as a JSON document on disk.
type FileCache struct {
	Path string
}

func NewFileCache(dataDir string) *FileCache {
	return &FileCache{Path: filepath.Join(dataDir, CacheFileName)}
}

func (c *FileCache) Load(_ context.Context) (Selection, error) {
	data, err := os.ReadFile(c.Path)
	if errors.Is(err, os.ErrNotExist) {
		return Selection{}, nil
	}
	if err != nil {
		return Selection{}, fmt.Errorf("read selection cache: %w", err)
	}
	return decodeSelection(data)
}

// Save replaces the cache file atomically.
func (c *FileCache) Save(_ context.Context, sel Selection) error {
	data, err := json.MarshalIndent(sel, "", "  ")
	if err != nil {
		return fmt.Errorf("encode selection cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.Path), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(c.Path), CacheFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("write selection cache: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write selection cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write selection cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.Path); err != nil {
		return fmt.Errorf("write selection cache: %w", err)
	}
	return nil
}

func decodeSelection(data []byte) (Selection, error) {
	var raw struct {
		ServerID    *int                                `json:"server_id"`
		TestResults map[string]models.ServerPerformance `json:"test_results"`
		LastUpdated string                              `json:"last_updated"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Selection{}, fmt.Errorf("%w: %v", ErrCacheCorrupt, err)
	}
	sel := Selection{ServerID: raw.ServerID, TestResults: raw.TestResults}
	if raw.LastUpdated != "" {
		ts, err := parseCacheTime(raw.LastUpdated)
		if err != nil {
			return Selection{}, fmt.Errorf("%w: last_updated: %v", ErrCacheCorrupt, err)
		}
		sel.LastUpdated = ts
	}
	return sel, nil
}

// Caches written by earlier monitors carry naive local timestamps.
func parseCacheTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts, nil
	}
	return time.ParseInLocation("2006-01-02T15:04:05.999999999", s, time.Local)
}
