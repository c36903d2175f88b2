// Package store keeps measurement history in append-only, header-first CSV
// tables. Opening a table migrates older layouts forward once; appends are
// flushed to disk before they return.
package store

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"
)

var (
	// ErrStoreIO wraps write failures; the table is left without a partial row.
	ErrStoreIO = errors.New("record store write failed")
	// ErrUnknownSchema reports a header that cannot be mapped onto the current layout.
	ErrUnknownSchema = errors.New("unrecognized table schema")
)

// appendFile is the subset of *os.File used by Append.
type appendFile interface {
	io.Writer
	Sync() error
	Truncate(size int64) error
	Stat() (os.FileInfo, error)
	Close() error
}

func openAppend(path string) (appendFile, error) {
	return os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
}

// MigrationResult describes an in-place layout upgrade.
type MigrationResult struct {
	FromVersion int // 0 when the source header was an aliased layout
	ToVersion   int
	Rows        int
	BackupPath  string
}

// table is the format-agnostic core shared by the speed and ping tables.
type table struct {
	path   string
	kind   kind
	logger *slog.Logger

	mu       sync.Mutex
	last     time.Time
	open     func(path string) (appendFile, error)
	migrated *MigrationResult
}

func openTable(path string, k kind, logger *slog.Logger) (*table, error) {
	if logger == nil {
		logger = slog.Default()
	}
	t := &table{path: path, kind: k, logger: logger, open: openAppend}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(bytes.TrimSpace(data)) == 0) {
		if err := writeFileAtomic(path, encodeRows([][]string{k.current().Columns})); err != nil {
			return nil, fmt.Errorf("create %s table: %w", k.name, err)
		}
		logger.Debug("Created table", "table", k.name, "path", path)
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s table: %w", k.name, err)
	}

	if data[len(data)-1] != '\n' {
		// A crash mid-write can leave an unterminated row; close it off so
		// the next append starts on its own line and readers skip the stub.
		if err := appendBytes(path, []byte("\n")); err != nil {
			return nil, fmt.Errorf("terminate trailing row: %w", err)
		}
		logger.Warn("Terminated partial trailing row", "table", k.name, "path", path)
		data = append(data, '\n')
	}

	header, rows, err := readRows(data)
	if err != nil {
		return nil, fmt.Errorf("read %s table: %w", k.name, err)
	}

	if !slices.Equal(header, k.current().Columns) {
		res, err := t.migrate(data, header, rows)
		if err != nil {
			return nil, err
		}
		t.migrated = res
		logger.Info("Migrated table to current schema",
			"table", k.name,
			"from_version", res.FromVersion,
			"to_version", res.ToVersion,
			"rows", res.Rows,
			"backup", res.BackupPath)
	}

	for i := len(rows) - 1; i >= 0; i-- {
		if len(rows[i]) == 0 {
			continue
		}
		if ts, err := parseTimestamp(rows[i][0]); err == nil {
			t.last = ts
			break
		}
	}
	return t, nil
}

// migrate backs up the original file and rewrites it in the current layout.
func (t *table) migrate(original []byte, header []string, rows [][]string) (*MigrationResult, error) {
	mapping, err := t.kind.columnMapping(header)
	if err != nil {
		return nil, err
	}

	target := t.kind.current()
	out := make([][]string, 0, len(rows)+1)
	out = append(out, target.Columns)
	for _, row := range rows {
		m := mapping
		if positional := t.kind.rowMapping(header, len(row)); positional != nil {
			m = positional
		}
		out = append(out, migrateRow(row, m))
	}

	backup := fmt.Sprintf("%s.%s.bak", t.path, time.Now().Format("20060102T150405"))
	if err := writeFileAtomic(backup, original); err != nil {
		return nil, fmt.Errorf("write backup: %w", err)
	}
	if err := writeFileAtomic(t.path, encodeRows(out)); err != nil {
		return nil, fmt.Errorf("rewrite %s table: %w", t.kind.name, err)
	}

	return &MigrationResult{
		FromVersion: t.kind.detect(header),
		ToVersion:   target.Version,
		Rows:        len(rows),
		BackupPath:  backup,
	}, nil
}

// appendRow writes one row with a single write and fsyncs it. On failure the
// file is truncated back to its previous size.
func (t *table) appendRow(row []string) error {
	line := encodeRows([][]string{row})

	f, err := t.open(t.path)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrStoreIO, t.path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("%w: stat %s: %v", ErrStoreIO, t.path, err)
	}
	prev := info.Size()

	_, err = f.Write(line)
	if err == nil {
		err = f.Sync()
	}
	if err != nil {
		if terr := f.Truncate(prev); terr != nil {
			t.logger.Error("Failed to roll back partial row", "path", t.path, "error", terr)
		}
		return fmt.Errorf("%w: append to %s: %v", ErrStoreIO, t.path, err)
	}
	return nil
}

// nextTimestamp keeps appended timestamps strictly increasing.
func (t *table) nextTimestamp(ts time.Time) time.Time {
	if !t.last.IsZero() && !ts.After(t.last) {
		return t.last.Add(time.Nanosecond)
	}
	return ts
}

// Migration reports the upgrade performed when the table was opened, if any.
func (t *table) Migration() *MigrationResult {
	return t.migrated
}

func readRows(data []byte) ([]string, [][]string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(records) == 0 {
		return nil, nil, nil
	}
	return records[0], records[1:], nil
}

func encodeRows(rows [][]string) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	// Writes to a bytes.Buffer cannot fail.
	_ = w.WriteAll(rows)
	return buf.Bytes()
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func appendBytes(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Count returns the number of data rows in the table at path: total lines
// minus the header. A missing file counts as zero.
func Count(path string) (int, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()

	lines := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		lines++
	}
	if err := sc.Err(); err != nil {
		return 0, err
	}
	if lines == 0 {
		return 0, nil
	}
	return lines - 1, nil
}
