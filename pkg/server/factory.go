package server

import (
	"fmt"
	"time"

	"network-monitor/pkg/fetch"
	"network-monitor/pkg/probe"
)

// SourceKind names where candidates are listed from.
type SourceKind string

const (
	SourceCLI  SourceKind = "cli"
	SourceHTTP SourceKind = "http"
	SourceFile SourceKind = "file"
)

// SourceConfig configures NewSource.
type SourceConfig struct {
	Kind      SourceKind
	URL       string        // only used by SourceHTTP
	Path      string        // only used by SourceFile
	Transport string        // outline-sdk transport for SourceHTTP
	Timeout   time.Duration // request timeout for SourceHTTP
	Invoker   probe.Invoker // only used by SourceCLI
	Speedtest probe.Speedtest
}

// NewSource creates the candidate source named by config.Kind.
func NewSource(config SourceConfig) (Source, error) {
	switch config.Kind {
	case SourceCLI, "":
		return &CLISource{Invoker: config.Invoker, Speedtest: config.Speedtest}, nil
	case SourceHTTP:
		return NewHTTPSource(config.URL, fetch.Options{Transport: config.Transport, Timeout: config.Timeout})
	case SourceFile:
		if config.Path == "" {
			return nil, fmt.Errorf("catalog file path is required")
		}
		return &FileSource{Path: config.Path}, nil
	default:
		return nil, fmt.Errorf("unsupported catalog source: %s", config.Kind)
	}
}

// CacheBackend names a CacheStore implementation.
type CacheBackend string

const (
	CacheFile  CacheBackend = "file"
	CacheRedis CacheBackend = "redis"
)

// CacheConfig configures NewCacheStore.
type CacheConfig struct {
	Backend       CacheBackend
	DataDir       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisKey      string
}

// NewCacheStore creates the selection cache backend named by config.Backend.
func NewCacheStore(config CacheConfig) (CacheStore, error) {
	switch config.Backend {
	case CacheFile, "":
		return NewFileCache(config.DataDir), nil
	case CacheRedis:
		return NewRedisCache(config.RedisAddr, config.RedisPassword, config.RedisDB, config.RedisKey)
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", config.Backend)
	}
}
