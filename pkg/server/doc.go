// Package server discovers speedtest endpoints, benchmarks them, and keeps
// the chosen one.
//
// # Sources
//
// Candidates come from a Source:
//
//   - CLISource runs `speedtest --servers --format=json` (the default).
//   - HTTPSource GETs a JSON catalog, optionally through an outline-sdk
//     transport (see package fetch).
//   - FileSource reads a JSON catalog from disk, for hosts with a curated
//     server list.
//
// All three feed the same parser and come back ordered by ascending distance.
//
// # Selection
//
// Catalog.SelectBest benchmarks the nearest candidates one at a time, scores
// each as
//
//	download_mbps - ping_ms / PingDivisor
//
// and persists the winner together with every benchmark result. A stored
// winner is reused without probing until a retest is forced or another
// server is pinned with SetPreferred.
//
// The catalog moves through three states:
//
//	Uncached --SelectBest--> Benchmarking --success--> Cached
//	Cached --SelectBest(force)--> Benchmarking --failure--> previous state
//
// # Persistence
//
// The selection is stored through a CacheStore. FileCache writes
// best_server.json in the data directory; RedisCache keeps the same JSON
// document under one key so several monitors can share a choice.
package server
