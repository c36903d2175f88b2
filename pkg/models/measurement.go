package models

import (
	"time"

	"github.com/uptrace/bun"
)

// MeasurementRecord is the result of one throughput probe.
type MeasurementRecord struct {
	bun.BaseModel `bun:"table:speed_tests,alias:st"`

	ID        int64     `bun:",pk,autoincrement" json:"-"`
	Timestamp time.Time `bun:",notnull" json:"timestamp"`

	DownloadMbps float64 `bun:",notnull" json:"download_mbps"`
	UploadMbps   float64 `bun:",notnull" json:"upload_mbps"`
	PingMs       float64 `bun:",notnull" json:"ping_ms"`

	IdleJitterMs float64 `json:"idle_jitter_ms"`
	IdleLowMs    float64 `json:"idle_low_ms"`
	IdleHighMs   float64 `json:"idle_high_ms"`

	DownloadLatencyIQMMs  float64 `bun:"download_latency_iqm_ms" json:"download_latency_iqm_ms"`
	DownloadLatencyLowMs  float64 `json:"download_latency_low_ms"`
	DownloadLatencyHighMs float64 `json:"download_latency_high_ms"`
	DownloadJitterMs      float64 `json:"download_jitter_ms"`

	UploadLatencyIQMMs  float64 `bun:"upload_latency_iqm_ms" json:"upload_latency_iqm_ms"`
	UploadLatencyLowMs  float64 `json:"upload_latency_low_ms"`
	UploadLatencyHighMs float64 `json:"upload_latency_high_ms"`
	UploadJitterMs      float64 `json:"upload_jitter_ms"`

	PacketLossPercent float64 `json:"packet_loss_percent"`
	DownloadBytes     uint64  `json:"download_bytes"`
	UploadBytes       uint64  `json:"upload_bytes"`

	ServerID       int    `json:"server_id"`
	ServerName     string `json:"server_name"`
	ServerLocation string `json:"server_location"`
	ISP            string `bun:"isp" json:"isp"`
	ExternalIP     string `bun:"external_ip" json:"external_ip"`
	ResultURL      string `bun:"result_url" json:"result_url,omitempty"`
}

// PingRecord summarizes one latency probe against a target.
type PingRecord struct {
	bun.BaseModel `bun:"table:ping_tests,alias:pt"`

	ID                int64     `bun:",pk,autoincrement" json:"-"`
	Timestamp         time.Time `bun:",notnull" json:"timestamp"`
	Target            string    `bun:",notnull" json:"target"`
	AvgLatencyMs      float64   `json:"avg_latency_ms"`
	MinLatencyMs      float64   `json:"min_latency_ms"`
	MaxLatencyMs      float64   `json:"max_latency_ms"`
	PacketLossPercent float64   `json:"packet_loss_percent"`
}
