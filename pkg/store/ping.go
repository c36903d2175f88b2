package store

import (
	"fmt"
	"log/slog"

	"network-monitor/pkg/models"
)

// PingTable is the latency history (ping_tests.csv).
type PingTable struct {
	*table
}

func OpenPing(path string, logger *slog.Logger) (*PingTable, error) {
	t, err := openTable(path, pingKind, logger)
	if err != nil {
		return nil, err
	}
	return &PingTable{table: t}, nil
}

// Append durably adds rec, clamping its timestamp like SpeedTable.Append.
func (t *PingTable) Append(rec *models.PingRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec.Timestamp = t.nextTimestamp(rec.Timestamp)
	if err := t.appendRow(encodePing(rec)); err != nil {
		return err
	}
	t.last = rec.Timestamp
	return nil
}

func (t *PingTable) Count() (int, error) {
	return Count(t.path)
}

func encodePing(r *models.PingRecord) []string {
	return []string{
		formatTimestamp(r.Timestamp),
		r.Target,
		formatFloat(r.AvgLatencyMs),
		formatFloat(r.MinLatencyMs),
		formatFloat(r.MaxLatencyMs),
		formatFloat(r.PacketLossPercent),
	}
}

func decodePing(row []string) (models.PingRecord, error) {
	if len(row) != len(PingSchemaV1.Columns) {
		return models.PingRecord{}, fmt.Errorf("expected %d fields, got %d", len(PingSchemaV1.Columns), len(row))
	}
	ts, err := parseTimestamp(row[0])
	if err != nil {
		return models.PingRecord{}, err
	}
	d := fieldDecoder{row: row}
	rec := models.PingRecord{
		Timestamp:         ts,
		Target:            row[1],
		AvgLatencyMs:      d.float(2),
		MinLatencyMs:      d.float(3),
		MaxLatencyMs:      d.float(4),
		PacketLossPercent: d.float(5),
	}
	if d.err != nil {
		return models.PingRecord{}, d.err
	}
	return rec, nil
}

// ReadPing returns every readable row of the latency table at path.
func ReadPing(path string, logger *slog.Logger) ([]models.PingRecord, error) {
	rows, err := readDataRows(path, pingKind)
	if err != nil || rows == nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	records := make([]models.PingRecord, 0, len(rows))
	for i, row := range rows {
		rec, err := decodePing(row)
		if err != nil {
			logger.Warn("Skipping unreadable row", "table", pingKind.name, "line", i+2, "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
