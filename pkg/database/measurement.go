package database

import (
	"context"
	"fmt"
	"time"

	"network-monitor/pkg/models"

	"github.com/uptrace/bun"
)

// InsertSpeed saves a throughput record. The record's ID is set from the
// database.
func (db *DB) InsertSpeed(ctx context.Context, rec *models.MeasurementRecord) error {
	_, err := db.NewInsert().
		Model(rec).
		Returning("id").
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("error inserting speed record: %w", err)
	}

	return nil
}

// InsertPing saves a latency record.
func (db *DB) InsertPing(ctx context.Context, rec *models.PingRecord) error {
	_, err := db.NewInsert().
		Model(rec).
		Returning("id").
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("error inserting ping record: %w", err)
	}

	return nil
}

// SpeedSince returns throughput records newer than since, oldest first.
func (db *DB) SpeedSince(ctx context.Context, since time.Time) ([]models.MeasurementRecord, error) {
	var records []models.MeasurementRecord
	err := db.speedSinceQuery(&records, since).Scan(ctx)

	if err != nil {
		return nil, fmt.Errorf("error retrieving speed records: %w", err)
	}

	return records, nil
}

func (db *DB) speedSinceQuery(dest *[]models.MeasurementRecord, since time.Time) *bun.SelectQuery {
	return db.NewSelect().
		Model(dest).
		Where(`"timestamp" > ?`, since).
		Order("timestamp ASC")
}

// PingSince returns latency records for target newer than since. An empty
// target matches every target.
func (db *DB) PingSince(ctx context.Context, target string, since time.Time) ([]models.PingRecord, error) {
	var records []models.PingRecord
	q := db.NewSelect().
		Model(&records).
		Where(`"timestamp" > ?`, since).
		Order("timestamp ASC")
	if target != "" {
		q = q.Where("target = ?", target)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("error retrieving ping records: %w", err)
	}

	return records, nil
}
