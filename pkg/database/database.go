// Package database mirrors appended measurement records into PostgreSQL.
// The CSV tables stay the system of record; the mirror is best effort.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"network-monitor/pkg/models"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// Config holds the connection settings.
type Config struct {
	User     string
	Password string
	Host     string
	Port     int
	DBName   string
	SSLMode  string
}

// DSN renders the settings as a postgres:// URL.
func (c Config) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + c.DBName,
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	u.RawQuery = url.Values{"sslmode": {sslmode}}.Encode()
	return u.String()
}

type DB struct {
	*bun.DB
}

// Open creates the handle without connecting.
func Open(cfg Config) *DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN())))
	return &DB{bun.NewDB(sqldb, pgdialect.New())}
}

// NewDB opens the database and verifies the connection.
func NewDB(ctx context.Context, cfg Config) (*DB, error) {
	db := Open(cfg)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// InitSchema creates the mirror tables and their timestamp indexes if they
// don't exist.
func (db *DB) InitSchema(ctx context.Context) error {
	for _, model := range []any{(*models.MeasurementRecord)(nil), (*models.PingRecord)(nil)} {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	_, err := db.NewCreateIndex().
		Model((*models.MeasurementRecord)(nil)).
		Index("speed_tests_timestamp_idx").
		IfNotExists().
		Column("timestamp").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	_, err = db.NewCreateIndex().
		Model((*models.PingRecord)(nil)).
		Index("ping_tests_target_timestamp_idx").
		IfNotExists().
		Column("target", "timestamp").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}
