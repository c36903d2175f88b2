package server

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"

	"network-monitor/pkg/models"
	"network-monitor/pkg/probe"
	"network-monitor/pkg/probe/probetest"
)

type staticSource struct {
	candidates []models.ServerCandidate
	err        error
}

func (s staticSource) List(context.Context) ([]models.ServerCandidate, error) {
	out := make([]models.ServerCandidate, len(s.candidates))
	copy(out, s.candidates)
	return out, s.err
}

type memCache struct {
	mu    sync.Mutex
	sel   Selection
	saves int
}

func (m *memCache) Load(context.Context) (Selection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sel.clone(), nil
}

func (m *memCache) Save(_ context.Context, sel Selection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sel = sel.clone()
	m.saves++
	return nil
}

// speedtestJSON renders CLI output for the given throughput and latency.
func speedtestJSON(downloadMbps, pingMs float64) string {
	bw := int64(downloadMbps * 1_000_000 / 8)
	return fmt.Sprintf(`{"type":"result","ping":{"latency":%g,"jitter":1.5},"download":{"bandwidth":%d},"upload":{"bandwidth":1250000},"server":{"id":1}}`, pingMs, bw)
}

func candidates(n int) []models.ServerCandidate {
	out := make([]models.ServerCandidate, n)
	for i := range out {
		out[i] = models.ServerCandidate{ID: 100 + i, Name: "srv" + strconv.Itoa(i), Location: "City", Country: "Land", Distance: float64(10 * (i + 1))}
	}
	return out
}

// benchFake answers benchmarks by server id.
func benchFake(t *testing.T, byID map[string]string, failing map[string]bool) *probetest.Fake {
	t.Helper()
	return &probetest.Fake{Handler: func(cmd probe.Command) (probe.Output, error) {
		id := probetest.ArgValue(cmd, "--server-id")
		if failing[id] {
			return probe.Output{}, probetest.Timeout(cmd)
		}
		out, ok := byID[id]
		if !ok {
			t.Errorf("unexpected benchmark of server %q", id)
			return probe.Output{}, probetest.Exit(cmd, 1, "unexpected")
		}
		return probetest.Stdout(out), nil
	}}
}

func newTestCatalog(src Source, inv probe.Invoker, cache CacheStore, opts Options) *Catalog {
	opts.ProbeDelay = 0
	return NewCatalog(src, inv, probe.DefaultSpeedtest(), cache, opts, nil)
}

func TestScorer(t *testing.T) {
	tests := []struct {
		name    string
		divisor float64
		perf    models.ServerPerformance
		want    float64
	}{
		{"default divisor", 0, models.ServerPerformance{DownloadMbps: 100, PingMs: 20}, 98},
		{"custom divisor", 5, models.ServerPerformance{DownloadMbps: 100, PingMs: 20}, 96},
		{"ping dominates", 10, models.ServerPerformance{DownloadMbps: 1, PingMs: 50}, -4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := (Scorer{PingDivisor: tt.divisor}).Score(tt.perf); got != tt.want {
				t.Errorf("Score() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSelectBestPicksHighestScore(t *testing.T) {
	tests := []struct {
		name      string
		downloads [3]float64
	}{
		{"best first", [3]float64{25, 17, 10}},
		{"best first reversed tail", [3]float64{25, 10, 17}},
		{"best middle", [3]float64{10, 25, 17}},
		{"best middle reversed", [3]float64{17, 25, 10}},
		{"best last", [3]float64{10, 17, 25}},
		{"best last reversed", [3]float64{17, 10, 25}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			byID := map[string]string{}
			idOf := map[float64]int{}
			for i, d := range tt.downloads {
				byID[strconv.Itoa(100+i)] = speedtestJSON(d, 0)
				idOf[d] = 100 + i
			}
			cache := &memCache{}
			fake := benchFake(t, byID, nil)
			c := newTestCatalog(staticSource{candidates: candidates(3)}, fake, cache, DefaultOptions())

			id, err := c.SelectBest(context.Background(), 5, false)
			if err != nil {
				t.Fatalf("SelectBest() error = %v", err)
			}
			if want := idOf[25]; id != want {
				t.Errorf("SelectBest() = %d, want %d", id, want)
			}
			if c.State() != StateCached {
				t.Errorf("State() = %v, want cached", c.State())
			}
			if len(fake.Calls()) != 3 {
				t.Errorf("benchmarks run = %d, want 3", len(fake.Calls()))
			}
			if cache.saves != 1 || cache.sel.ServerID == nil || *cache.sel.ServerID != idOf[25] {
				t.Errorf("persisted selection = %+v (saves %d)", cache.sel, cache.saves)
			}
			if got := cache.sel.TestResults[strconv.Itoa(idOf[17])].Score; got != 17 {
				t.Errorf("persisted score for %d = %v, want 17", idOf[17], got)
			}
			if got := c.Results()[strconv.Itoa(id)].Location; got != "City, Land" {
				t.Errorf("Results()[%d].Location = %q", id, got)
			}

			ranked := c.Ranked()
			if len(ranked) != 3 {
				t.Fatalf("Ranked() returned %d results, want 3", len(ranked))
			}
			for i, want := range []float64{25, 17, 10} {
				if ranked[i].ServerID != idOf[want] || ranked[i].Score != want {
					t.Errorf("Ranked()[%d] = server %d score %v, want server %d score %v",
						i, ranked[i].ServerID, ranked[i].Score, idOf[want], want)
				}
			}
		})
	}
}

func TestSelectBestTieGoesToNearer(t *testing.T) {
	fake := benchFake(t, map[string]string{
		"100": speedtestJSON(50, 10),
		"101": speedtestJSON(50, 10),
	}, nil)
	c := newTestCatalog(staticSource{candidates: candidates(2)}, fake, &memCache{}, DefaultOptions())

	id, err := c.SelectBest(context.Background(), 5, false)
	if err != nil {
		t.Fatalf("SelectBest() error = %v", err)
	}
	if id != 100 {
		t.Errorf("SelectBest() = %d, want 100", id)
	}
}

func TestSelectBestUsesCache(t *testing.T) {
	id := 4242
	cache := &memCache{sel: Selection{ServerID: &id}}
	fake := &probetest.Fake{}
	c := newTestCatalog(staticSource{candidates: candidates(3)}, fake, cache, DefaultOptions())
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if c.State() != StateCached {
		t.Errorf("State() after Load = %v, want cached", c.State())
	}

	got, err := c.SelectBest(context.Background(), 5, false)
	if err != nil {
		t.Fatalf("SelectBest() error = %v", err)
	}
	if got != id {
		t.Errorf("SelectBest() = %d, want %d", got, id)
	}
	if n := len(fake.Calls()); n != 0 {
		t.Errorf("probe invocations = %d, want 0", n)
	}
}

func TestSelectBestForceRetest(t *testing.T) {
	old := 4242
	cache := &memCache{sel: Selection{ServerID: &old, TestResults: map[string]models.ServerPerformance{
		"4242": {ServerID: 4242, Score: 1},
	}}}
	fake := benchFake(t, map[string]string{"100": speedtestJSON(30, 0)}, nil)
	c := newTestCatalog(staticSource{candidates: candidates(1)}, fake, cache, DefaultOptions())
	if err := c.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	id, err := c.SelectBest(context.Background(), 5, true)
	if err != nil {
		t.Fatalf("SelectBest() error = %v", err)
	}
	if id != 100 {
		t.Errorf("SelectBest() = %d, want 100", id)
	}
	if _, ok := cache.sel.TestResults["4242"]; !ok {
		t.Error("earlier results were dropped instead of merged")
	}
	if len(cache.sel.TestResults) != 2 {
		t.Errorf("TestResults has %d entries, want 2", len(cache.sel.TestResults))
	}
}

func TestSelectBestLimitsCandidates(t *testing.T) {
	fake := benchFake(t, map[string]string{
		"100": speedtestJSON(10, 0),
		"101": speedtestJSON(20, 0),
	}, nil)
	c := newTestCatalog(staticSource{candidates: candidates(6)}, fake, &memCache{}, DefaultOptions())

	if _, err := c.SelectBest(context.Background(), 2, false); err != nil {
		t.Fatalf("SelectBest() error = %v", err)
	}
	if n := len(fake.Calls()); n != 2 {
		t.Errorf("benchmarks run = %d, want 2", n)
	}
}

func TestSelectBestFailures(t *testing.T) {
	tests := []struct {
		name       string
		source     Source
		byID       map[string]string
		failing    map[string]bool
		skipFailed bool
		wantErr    error
		wantID     int
	}{
		{
			name:       "skips failed benchmark",
			source:     staticSource{candidates: candidates(3)},
			byID:       map[string]string{"101": speedtestJSON(20, 0), "102": "not json"},
			failing:    map[string]bool{"100": true},
			skipFailed: true,
			wantID:     101,
		},
		{
			name:       "first failure aborts",
			source:     staticSource{candidates: candidates(3)},
			byID:       map[string]string{"101": speedtestJSON(20, 0), "102": speedtestJSON(20, 0)},
			failing:    map[string]bool{"100": true},
			skipFailed: false,
			wantErr:    probe.ErrTimeout,
		},
		{
			name:       "all failed",
			source:     staticSource{candidates: candidates(2)},
			failing:    map[string]bool{"100": true, "101": true},
			skipFailed: true,
			wantErr:    ErrAllBenchmarksFailed,
		},
		{
			name:       "catalog error",
			source:     staticSource{err: errors.New("no network")},
			skipFailed: true,
			wantErr:    ErrCatalogUnavailable,
		},
		{
			name:       "empty catalog",
			source:     staticSource{},
			skipFailed: true,
			wantErr:    ErrCatalogUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			opts.SkipFailed = tt.skipFailed
			cache := &memCache{}
			c := newTestCatalog(tt.source, benchFake(t, tt.byID, tt.failing), cache, opts)

			id, err := c.SelectBest(context.Background(), 5, false)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("SelectBest() error = %v, want %v", err, tt.wantErr)
				}
				if c.State() != StateUncached {
					t.Errorf("State() = %v, want uncached after failure", c.State())
				}
				if cache.saves != 0 {
					t.Errorf("cache saved %d times after failure", cache.saves)
				}
				return
			}
			if err != nil {
				t.Fatalf("SelectBest() error = %v", err)
			}
			if id != tt.wantID {
				t.Errorf("SelectBest() = %d, want %d", id, tt.wantID)
			}
		})
	}
}

func TestSelectBestFailureKeepsCachedState(t *testing.T) {
	old := 7
	cache := &memCache{sel: Selection{ServerID: &old}}
	fake := benchFake(t, nil, map[string]bool{"100": true})
	c := newTestCatalog(staticSource{candidates: candidates(1)}, fake, cache, DefaultOptions())
	if err := c.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	if _, err := c.SelectBest(context.Background(), 5, true); !errors.Is(err, ErrAllBenchmarksFailed) {
		t.Fatalf("SelectBest() error = %v, want ErrAllBenchmarksFailed", err)
	}
	if c.State() != StateCached {
		t.Errorf("State() = %v, want cached", c.State())
	}
	if id, ok := c.Preferred(); !ok || id != old {
		t.Errorf("Preferred() = %d, %v; want %d, true", id, ok, old)
	}
}

func TestBenchmarkErrors(t *testing.T) {
	cand := models.ServerCandidate{ID: 9}
	tests := []struct {
		name    string
		handler probetest.HandlerFunc
		wantErr error
	}{
		{
			name:    "probe failure",
			handler: func(cmd probe.Command) (probe.Output, error) { return probe.Output{}, probetest.Exit(cmd, 2, "") },
			wantErr: ErrProbeFailed,
		},
		{
			name:    "parse failure",
			handler: func(probe.Command) (probe.Output, error) { return probetest.Stdout(`{"type":"result"}`), nil },
			wantErr: ErrParseFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCatalog(staticSource{}, &probetest.Fake{Handler: tt.handler}, &memCache{}, DefaultOptions())
			if _, err := c.Benchmark(context.Background(), cand); !errors.Is(err, tt.wantErr) {
				t.Errorf("Benchmark() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSetPreferred(t *testing.T) {
	cache := &memCache{}
	fake := &probetest.Fake{}
	c := newTestCatalog(staticSource{}, fake, cache, DefaultOptions())

	if err := c.SetPreferred(context.Background(), 0); err == nil {
		t.Error("SetPreferred(0) error = nil, want error")
	}
	if err := c.SetPreferred(context.Background(), 555); err != nil {
		t.Fatalf("SetPreferred() error = %v", err)
	}
	if id, ok := c.Preferred(); !ok || id != 555 {
		t.Errorf("Preferred() = %d, %v; want 555, true", id, ok)
	}
	if cache.sel.ServerID == nil || *cache.sel.ServerID != 555 {
		t.Errorf("persisted ServerID = %v", cache.sel.ServerID)
	}
	if len(fake.Calls()) != 0 {
		t.Errorf("SetPreferred ran %d probes", len(fake.Calls()))
	}
}

func TestListCandidatesSortsByDistance(t *testing.T) {
	src := staticSource{candidates: []models.ServerCandidate{
		{ID: 1, Distance: 30}, {ID: 2, Distance: 5}, {ID: 3, Distance: 30}, {ID: 4, Distance: 0},
	}}
	c := newTestCatalog(src, &probetest.Fake{}, &memCache{}, DefaultOptions())

	got, err := c.ListCandidates(context.Background())
	if err != nil {
		t.Fatalf("ListCandidates() error = %v", err)
	}
	want := []int{4, 2, 1, 3}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("candidate[%d] = %d, want %d", i, got[i].ID, id)
		}
	}
}
