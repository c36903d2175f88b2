package httpx

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"network-monitor/pkg/metrics"
	"network-monitor/pkg/models"
	"network-monitor/pkg/store"
)

// File names inside the data directory.
const (
	SpeedFileName = "speed_tests.csv"
	PingFileName  = "ping_tests.csv"
)

const defaultLimit = 100

// Status is the body of GET /api/status.
type Status struct {
	DataDir           string                    `json:"data_dir"`
	SpeedTests        int                       `json:"speed_tests"`
	PingTests         int                       `json:"ping_tests"`
	PreferredServerID *int                      `json:"preferred_server_id"`
	SchedulerState    string                    `json:"scheduler_state,omitempty"`
	LastSpeed         *models.MeasurementRecord `json:"last_speed,omitempty"`
}

// API serves the recorded history from DataDir.
type API struct {
	DataDir string
	Metrics *metrics.Metrics
	// Preferred reports the cached server, if any.
	Preferred func() (int, bool)
	// SchedulerState is nil when no scheduler runs in this process.
	SchedulerState func() string
	Logger         *slog.Logger
}

// Handler returns the routed, logged and panic-safe handler.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/speed", a.handleSpeed)
	mux.HandleFunc("GET /api/ping", a.handlePing)
	mux.HandleFunc("GET /api/status", a.handleStatus)
	mux.Handle("GET /healthz", HealthHandler(a.checkDataDir))
	if a.Metrics != nil {
		mux.Handle("GET /metrics", a.Metrics.Handler())
	}

	var h http.Handler = mux
	h = LoggingMiddleware(a.logger())(h)
	h = RecoveryMiddleware(a.logger())(h)
	return h
}

func (a *API) logger() *slog.Logger {
	if a.Logger == nil {
		return slog.Default()
	}
	return a.Logger
}

func (a *API) path(name string) string {
	return filepath.Join(a.DataDir, name)
}

func (a *API) checkDataDir() error {
	info, err := os.Stat(a.DataDir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", a.DataDir)
	}
	return nil
}

// GET /api/speed?since=<RFC3339>&limit=<n>
func (a *API) handleSpeed(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err)
		return
	}

	recs, err := store.ReadSpeed(a.path(SpeedFileName), a.logger())
	if err != nil {
		a.logger().Error("Failed to read speed tests", "error", err)
		WriteError(w, http.StatusInternalServerError, err)
		return
	}

	out := make([]models.MeasurementRecord, 0, len(recs))
	for _, rec := range recs {
		if rec.Timestamp.After(q.since) {
			out = append(out, rec)
		}
	}
	WriteJSON(w, http.StatusOK, tail(out, q.limit))
}

// GET /api/ping?target=<host>&since=<RFC3339>&limit=<n>
func (a *API) handlePing(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err)
		return
	}
	target := r.URL.Query().Get("target")

	recs, err := store.ReadPing(a.path(PingFileName), a.logger())
	if err != nil {
		a.logger().Error("Failed to read ping tests", "error", err)
		WriteError(w, http.StatusInternalServerError, err)
		return
	}

	out := make([]models.PingRecord, 0, len(recs))
	for _, rec := range recs {
		if target != "" && rec.Target != target {
			continue
		}
		if rec.Timestamp.After(q.since) {
			out = append(out, rec)
		}
	}
	WriteJSON(w, http.StatusOK, tail(out, q.limit))
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := Status{DataDir: a.DataDir}

	var err error
	if st.SpeedTests, err = store.Count(a.path(SpeedFileName)); err != nil {
		WriteError(w, http.StatusInternalServerError, err)
		return
	}
	if st.PingTests, err = store.Count(a.path(PingFileName)); err != nil {
		WriteError(w, http.StatusInternalServerError, err)
		return
	}
	if a.Preferred != nil {
		if id, ok := a.Preferred(); ok {
			st.PreferredServerID = &id
		}
	}
	if a.SchedulerState != nil {
		st.SchedulerState = a.SchedulerState()
	}
	if st.SpeedTests > 0 {
		recs, err := store.ReadSpeed(a.path(SpeedFileName), a.logger())
		if err == nil && len(recs) > 0 {
			st.LastSpeed = &recs[len(recs)-1]
		}
	}

	WriteJSON(w, http.StatusOK, st)
}

type query struct {
	since time.Time
	limit int
}

func parseQuery(r *http.Request) (query, error) {
	q := query{limit: defaultLimit}
	values := r.URL.Query()

	if s := values.Get("since"); s != "" {
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return query{}, fmt.Errorf("invalid since %q: want RFC3339", s)
		}
		q.since = ts
	}
	if s := values.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return query{}, fmt.Errorf("invalid limit %q", s)
		}
		q.limit = n
	}
	return q, nil
}

// tail keeps the newest limit records; 0 keeps all.
func tail[T any](recs []T, limit int) []T {
	if limit > 0 && len(recs) > limit {
		return recs[len(recs)-limit:]
	}
	return recs
}
