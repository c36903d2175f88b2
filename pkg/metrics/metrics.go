// Package metrics provides Prometheus instrumentation for the monitor.
//
// Metrics exposed:
//   - netmon_download_mbps, netmon_upload_mbps, netmon_speed_ping_ms:
//     Gauges of the latest throughput measurement
//   - netmon_ping_latency_ms{target}: Gauge of the latest average latency
//   - netmon_ping_packet_loss_percent{target}: Gauge of the latest loss
//   - netmon_cycle_seconds: Histogram of measurement cycle duration
//   - netmon_probe_seconds{probe}: Histogram of probe duration
//   - netmon_records_total{table}: Counter of appended records
//   - netmon_errors_total{component,reason}: Counter of soft failures
//   - netmon_selected_server_id: Gauge of the preferred server (0 = auto)
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the monitor.
type Metrics struct {
	registry *prometheus.Registry

	DownloadMbps     prometheus.Gauge
	UploadMbps       prometheus.Gauge
	SpeedPingMs      prometheus.Gauge
	PingLatencyMs    *prometheus.GaugeVec
	PingPacketLoss   *prometheus.GaugeVec
	CycleSeconds     prometheus.Histogram
	ProbeSeconds     *prometheus.HistogramVec
	RecordsTotal     *prometheus.CounterVec
	ErrorsTotal      *prometheus.CounterVec
	SelectedServerID prometheus.Gauge
}

// New creates the metrics on a registry of their own, so several monitors
// (or tests) can coexist in one process.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	probeBuckets := []float64{1, 2.5, 5, 10, 20, 30, 45, 60, 90, 120}

	return &Metrics{
		registry: reg,

		DownloadMbps: f.NewGauge(prometheus.GaugeOpts{
			Name: "netmon_download_mbps",
			Help: "Download throughput of the latest speed test",
		}),
		UploadMbps: f.NewGauge(prometheus.GaugeOpts{
			Name: "netmon_upload_mbps",
			Help: "Upload throughput of the latest speed test",
		}),
		SpeedPingMs: f.NewGauge(prometheus.GaugeOpts{
			Name: "netmon_speed_ping_ms",
			Help: "Idle latency reported by the latest speed test",
		}),
		PingLatencyMs: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "netmon_ping_latency_ms",
			Help: "Average latency of the latest ping per target",
		}, []string{"target"}),
		PingPacketLoss: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "netmon_ping_packet_loss_percent",
			Help: "Packet loss of the latest ping per target",
		}, []string{"target"}),
		CycleSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "netmon_cycle_seconds",
			Help:    "Time spent on one measurement cycle",
			Buckets: probeBuckets,
		}),
		ProbeSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "netmon_probe_seconds",
			Help:    "Time spent in external probes",
			Buckets: probeBuckets,
		}, []string{"probe"}),
		RecordsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "netmon_records_total",
			Help: "Records appended to the history tables",
		}, []string{"table"}),
		ErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "netmon_errors_total",
			Help: "Total number of errors by component and reason",
		}, []string{"component", "reason"}),
		SelectedServerID: f.NewGauge(prometheus.GaugeOpts{
			Name: "netmon_selected_server_id",
			Help: "Preferred speedtest server id, 0 when the vendor selects",
		}),
	}
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetSpeed records the latest throughput measurement.
func (m *Metrics) SetSpeed(downloadMbps, uploadMbps, pingMs float64) {
	m.DownloadMbps.Set(downloadMbps)
	m.UploadMbps.Set(uploadMbps)
	m.SpeedPingMs.Set(pingMs)
}

// SetPing records the latest latency measurement for target.
func (m *Metrics) SetPing(target string, avgMs, lossPercent float64) {
	m.PingLatencyMs.WithLabelValues(target).Set(avgMs)
	m.PingPacketLoss.WithLabelValues(target).Set(lossPercent)
}

func (m *Metrics) RecordCycle(seconds float64) {
	m.CycleSeconds.Observe(seconds)
}

func (m *Metrics) RecordProbe(probe string, seconds float64) {
	m.ProbeSeconds.WithLabelValues(probe).Observe(seconds)
}

func (m *Metrics) RecordAppend(table string) {
	m.RecordsTotal.WithLabelValues(table).Inc()
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, reason string) {
	m.ErrorsTotal.WithLabelValues(component, reason).Inc()
}

func (m *Metrics) SetSelectedServer(id int) {
	m.SelectedServerID.Set(float64(id))
}
