// Package parser turns raw probe output into typed records.
//
// Speedtest output is JSON and is read with gjson path extraction. Required
// fields must be present; every optional field has an explicit default:
//
//	ping.jitter, ping.low, ping.high                   0
//	download.latency.{iqm,low,high,jitter}             0
//	upload.latency.{iqm,low,high,jitter}               0
//	packetLoss                                         0
//	download.bytes, upload.bytes                       0
//	server.id                                          0
//	server.name, server.location, server.country       ""
//	isp, interface.externalIp, result.url              ""
//
// Ping output is plain text whose grammar differs per host platform, see
// LatencyOutputParser.
package parser

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/tidwall/gjson"

	"network-monitor/pkg/models"
	"network-monitor/pkg/probe"
)

var (
	// ErrMalformed reports output that could not be turned into a record.
	ErrMalformed = errors.New("malformed probe output")
	// ErrNoSamples reports ping output without any latency sample.
	ErrNoSamples = errors.New("no latency samples in probe output")
)

const snippetLen = 200

var requiredSpeedtestPaths = []string{
	"download.bandwidth",
	"upload.bandwidth",
	"ping.latency",
}

// ParseSpeedtest parses `speedtest --format=json` output. The tool may print
// progress or log lines as JSON-lines before the result; the last document
// with "type":"result" wins, and a lone document without a type is accepted.
func ParseSpeedtest(raw []byte, now time.Time) (models.MeasurementRecord, error) {
	doc, err := resultDocument(raw)
	if err != nil {
		return models.MeasurementRecord{}, err
	}

	for _, path := range requiredSpeedtestPaths {
		if !doc.Get(path).Exists() {
			return models.MeasurementRecord{}, fmt.Errorf("%w: missing %s in %q", ErrMalformed, path, probe.Truncate(doc.Raw, snippetLen))
		}
	}

	rec := models.MeasurementRecord{
		Timestamp:    now,
		DownloadMbps: BandwidthToMbps(doc.Get("download.bandwidth").Float()),
		UploadMbps:   BandwidthToMbps(doc.Get("upload.bandwidth").Float()),
		PingMs:       round2(doc.Get("ping.latency").Float()),

		IdleJitterMs: round2(doc.Get("ping.jitter").Float()),
		IdleLowMs:    round2(doc.Get("ping.low").Float()),
		IdleHighMs:   round2(doc.Get("ping.high").Float()),

		DownloadLatencyIQMMs:  round2(doc.Get("download.latency.iqm").Float()),
		DownloadLatencyLowMs:  round2(doc.Get("download.latency.low").Float()),
		DownloadLatencyHighMs: round2(doc.Get("download.latency.high").Float()),
		DownloadJitterMs:      round2(doc.Get("download.latency.jitter").Float()),

		UploadLatencyIQMMs:  round2(doc.Get("upload.latency.iqm").Float()),
		UploadLatencyLowMs:  round2(doc.Get("upload.latency.low").Float()),
		UploadLatencyHighMs: round2(doc.Get("upload.latency.high").Float()),
		UploadJitterMs:      round2(doc.Get("upload.latency.jitter").Float()),

		PacketLossPercent: round2(doc.Get("packetLoss").Float()),
		DownloadBytes:     doc.Get("download.bytes").Uint(),
		UploadBytes:       doc.Get("upload.bytes").Uint(),

		ServerID:       int(doc.Get("server.id").Int()),
		ServerName:     doc.Get("server.name").String(),
		ServerLocation: models.JoinLocation(doc.Get("server.location").String(), doc.Get("server.country").String()),
		ISP:            doc.Get("isp").String(),
		ExternalIP:     doc.Get("interface.externalIp").String(),
		ResultURL:      doc.Get("result.url").String(),
	}

	if err := validateMeasurement(rec); err != nil {
		return models.MeasurementRecord{}, err
	}
	return rec, nil
}

func resultDocument(raw []byte) (gjson.Result, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return gjson.Result{}, fmt.Errorf("%w: empty output", ErrMalformed)
	}
	if gjson.ValidBytes(raw) {
		doc := gjson.ParseBytes(raw)
		if !doc.IsObject() {
			return gjson.Result{}, fmt.Errorf("%w: expected JSON object, got %q", ErrMalformed, probe.Truncate(string(raw), snippetLen))
		}
		if t := doc.Get("type"); t.Exists() && t.String() != "result" {
			return gjson.Result{}, fmt.Errorf("%w: no result document (type %q)", ErrMalformed, t.String())
		}
		return doc, nil
	}

	var found gjson.Result
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || !gjson.ValidBytes(line) {
			continue
		}
		if doc := gjson.ParseBytes(line); doc.Get("type").String() == "result" {
			found = doc
		}
	}
	if !found.Exists() {
		return gjson.Result{}, fmt.Errorf("%w: no result document in %q", ErrMalformed, probe.Truncate(string(raw), snippetLen))
	}
	return found, nil
}

func validateMeasurement(rec models.MeasurementRecord) error {
	nonNegative := map[string]float64{
		"download_mbps":            rec.DownloadMbps,
		"upload_mbps":              rec.UploadMbps,
		"ping_ms":                  rec.PingMs,
		"idle_jitter_ms":           rec.IdleJitterMs,
		"download_latency_iqm_ms":  rec.DownloadLatencyIQMMs,
		"download_jitter_ms":       rec.DownloadJitterMs,
		"upload_latency_iqm_ms":    rec.UploadLatencyIQMMs,
		"upload_jitter_ms":         rec.UploadJitterMs,
		"download_latency_high_ms": rec.DownloadLatencyHighMs,
		"upload_latency_high_ms":   rec.UploadLatencyHighMs,
	}
	for name, v := range nonNegative {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s=%v", ErrMalformed, name, v)
		}
	}
	if rec.PacketLossPercent < 0 || rec.PacketLossPercent > 100 {
		return fmt.Errorf("%w: packet_loss_percent=%v out of range", ErrMalformed, rec.PacketLossPercent)
	}
	return nil
}

// BandwidthToMbps converts the CLI's bytes-per-second figure to Mbps.
func BandwidthToMbps(bytesPerSec float64) float64 {
	return round2(bytesPerSec * 8 / 1_000_000)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
