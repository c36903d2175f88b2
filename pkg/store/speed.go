package store

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"network-monitor/pkg/models"
)

// SpeedTable is the throughput history (speed_tests.csv).
type SpeedTable struct {
	*table
}

// OpenSpeed opens or creates the throughput table at path, migrating an
// older layout in place.
func OpenSpeed(path string, logger *slog.Logger) (*SpeedTable, error) {
	t, err := openTable(path, speedKind, logger)
	if err != nil {
		return nil, err
	}
	return &SpeedTable{table: t}, nil
}

// Append durably adds rec. A timestamp not after the previous row is moved
// forward by one nanosecond, and rec is updated to match what was written.
func (t *SpeedTable) Append(rec *models.MeasurementRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec.Timestamp = t.nextTimestamp(rec.Timestamp)
	if err := t.appendRow(encodeSpeed(rec)); err != nil {
		return err
	}
	t.last = rec.Timestamp
	return nil
}

// Count returns the number of data rows.
func (t *SpeedTable) Count() (int, error) {
	return Count(t.path)
}

func encodeSpeed(r *models.MeasurementRecord) []string {
	return []string{
		formatTimestamp(r.Timestamp),
		formatFloat(r.DownloadMbps),
		formatFloat(r.UploadMbps),
		formatFloat(r.PingMs),
		formatFloat(r.IdleJitterMs),
		formatFloat(r.IdleLowMs),
		formatFloat(r.IdleHighMs),
		formatFloat(r.DownloadLatencyIQMMs),
		formatFloat(r.DownloadLatencyLowMs),
		formatFloat(r.DownloadLatencyHighMs),
		formatFloat(r.DownloadJitterMs),
		formatFloat(r.UploadLatencyIQMMs),
		formatFloat(r.UploadLatencyLowMs),
		formatFloat(r.UploadLatencyHighMs),
		formatFloat(r.UploadJitterMs),
		formatFloat(r.PacketLossPercent),
		strconv.FormatUint(r.DownloadBytes, 10),
		strconv.FormatUint(r.UploadBytes, 10),
		strconv.Itoa(r.ServerID),
		r.ServerName,
		r.ServerLocation,
		r.ISP,
		r.ExternalIP,
		r.ResultURL,
	}
}

func decodeSpeed(row []string) (models.MeasurementRecord, error) {
	if len(row) != len(SpeedSchemaV3.Columns) {
		return models.MeasurementRecord{}, fmt.Errorf("expected %d fields, got %d", len(SpeedSchemaV3.Columns), len(row))
	}
	ts, err := parseTimestamp(row[0])
	if err != nil {
		return models.MeasurementRecord{}, err
	}

	d := fieldDecoder{row: row}
	rec := models.MeasurementRecord{
		Timestamp:             ts,
		DownloadMbps:          d.float(1),
		UploadMbps:            d.float(2),
		PingMs:                d.float(3),
		IdleJitterMs:          d.float(4),
		IdleLowMs:             d.float(5),
		IdleHighMs:            d.float(6),
		DownloadLatencyIQMMs:  d.float(7),
		DownloadLatencyLowMs:  d.float(8),
		DownloadLatencyHighMs: d.float(9),
		DownloadJitterMs:      d.float(10),
		UploadLatencyIQMMs:    d.float(11),
		UploadLatencyLowMs:    d.float(12),
		UploadLatencyHighMs:   d.float(13),
		UploadJitterMs:        d.float(14),
		PacketLossPercent:     d.float(15),
		DownloadBytes:         d.uint(16),
		UploadBytes:           d.uint(17),
		ServerID:              d.int(18),
		ServerName:            row[19],
		ServerLocation:        row[20],
		ISP:                   row[21],
		ExternalIP:            row[22],
		ResultURL:             row[23],
	}
	if d.err != nil {
		return models.MeasurementRecord{}, d.err
	}
	return rec, nil
}

// ReadSpeed returns every readable row of the throughput table at path in
// insertion order. Rows that fail to decode are logged and skipped; a missing
// file yields no records.
func ReadSpeed(path string, logger *slog.Logger) ([]models.MeasurementRecord, error) {
	rows, err := readDataRows(path, speedKind)
	if err != nil || rows == nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	records := make([]models.MeasurementRecord, 0, len(rows))
	for i, row := range rows {
		rec, err := decodeSpeed(row)
		if err != nil {
			logger.Warn("Skipping unreadable row", "table", speedKind.name, "line", i+2, "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// readDataRows loads the rows below the header. The header must be the
// current layout; readers never migrate.
func readDataRows(path string, k kind) ([][]string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s table: %w", k.name, err)
	}
	header, rows, err := readRows(data)
	if err != nil {
		return nil, fmt.Errorf("read %s table: %w", k.name, err)
	}
	if header == nil {
		return nil, nil
	}
	if k.detect(header) != k.current().Version {
		return nil, fmt.Errorf("%w: %s table at %s is not in the current layout", ErrUnknownSchema, k.name, path)
	}
	return rows, nil
}

// Timestamps are written as RFC 3339 with nanoseconds. Older files carry
// naive local timestamps, with or without a "T" separator.
var legacyTimestampLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func formatTimestamp(ts time.Time) string {
	return ts.Format(time.RFC3339Nano)
}

func parseTimestamp(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts, nil
	}
	for _, layout := range legacyTimestampLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// fieldDecoder parses numeric fields, keeping the first error. Empty fields
// decode to zero; they are what migration writes for new columns.
type fieldDecoder struct {
	row []string
	err error
}

func (d *fieldDecoder) float(i int) float64 {
	if d.err != nil || d.row[i] == "" {
		return 0
	}
	v, err := strconv.ParseFloat(d.row[i], 64)
	if err != nil {
		d.err = fmt.Errorf("field %d: %w", i, err)
	}
	return v
}

func (d *fieldDecoder) uint(i int) uint64 {
	if d.err != nil || d.row[i] == "" {
		return 0
	}
	// Python-era files may carry integral values as "123.0".
	v, err := strconv.ParseUint(d.row[i], 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(d.row[i], 64)
		if ferr != nil || f < 0 {
			d.err = fmt.Errorf("field %d: %w", i, err)
			return 0
		}
		return uint64(f)
	}
	return v
}

func (d *fieldDecoder) int(i int) int {
	if d.err != nil || d.row[i] == "" {
		return 0
	}
	v, err := strconv.Atoi(d.row[i])
	if err != nil {
		f, ferr := strconv.ParseFloat(d.row[i], 64)
		if ferr != nil {
			d.err = fmt.Errorf("field %d: %w", i, err)
			return 0
		}
		return int(f)
	}
	return v
}
