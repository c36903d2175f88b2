/*
Package models defines the records the network monitor produces and the server
descriptions it works with.

Core Types:

MeasurementRecord is the result of one throughput probe. Bandwidth is in
Mbps, latency in milliseconds, byte counts are totals for the test:

	type MeasurementRecord struct {
		Timestamp      time.Time // when the probe finished
		DownloadMbps   float64
		UploadMbps     float64
		PingMs         float64   // idle latency
		...                      // idle, download and upload latency breakdown
		PacketLossPercent float64
		ServerID       int       // 0 when the vendor did not report one
		ServerName     string
		ServerLocation string    // "<location>, <country>"
		ISP            string
		ExternalIP     string
		ResultURL      string
	}

PingRecord summarizes one latency probe against a target:

	type PingRecord struct {
		Timestamp         time.Time
		Target            string
		AvgLatencyMs      float64
		MinLatencyMs      float64
		MaxLatencyMs      float64
		PacketLossPercent float64
	}

ServerCandidate is an entry of the speedtest server catalog, and
ServerPerformance the scored outcome of benchmarking one.

Database Integration:

MeasurementRecord and PingRecord carry bun tags for the speed_tests and
ping_tests tables used by the PostgreSQL mirror, and json tags for the HTTP
read API and the selection cache. The CSV history does not use either; its
column layout is owned by the store package.

Usage Example:

	rec := &models.PingRecord{
		Timestamp:    time.Now(),
		Target:       "8.8.8.8",
		AvgLatencyMs: 12.4,
	}
	if err := pingTable.Append(rec); err != nil {
		return err
	}
*/
package models
