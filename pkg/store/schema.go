package store

import (
	"fmt"
	"slices"
)

// Schema is one on-disk column layout of a table.
type Schema struct {
	Version int
	Columns []string
}

// Speed table layouts, oldest first. v1 is what the first monitor releases
// wrote, v2 added server_id, v3 added the extended latency breakdown.
var (
	SpeedSchemaV1 = Schema{Version: 1, Columns: []string{
		"timestamp", "download_mbps", "upload_mbps", "ping_ms",
		"server_name", "server_location", "isp", "external_ip",
	}}
	SpeedSchemaV2 = Schema{Version: 2, Columns: []string{
		"timestamp", "download_mbps", "upload_mbps", "ping_ms",
		"server_name", "server_location", "server_id", "isp", "external_ip",
	}}
	SpeedSchemaV3 = Schema{Version: 3, Columns: []string{
		"timestamp", "download_mbps", "upload_mbps", "ping_ms",
		"idle_jitter_ms", "idle_low_ms", "idle_high_ms",
		"download_latency_iqm_ms", "download_latency_low_ms", "download_latency_high_ms", "download_jitter_ms",
		"upload_latency_iqm_ms", "upload_latency_low_ms", "upload_latency_high_ms", "upload_jitter_ms",
		"packet_loss_percent", "download_bytes", "upload_bytes",
		"server_id", "server_name", "server_location", "isp", "external_ip", "result_url",
	}}

	PingSchemaV1 = Schema{Version: 1, Columns: []string{
		"timestamp", "target", "avg_latency_ms", "min_latency_ms", "max_latency_ms", "packet_loss_percent",
	}}
)

// speedAliases maps column names used by some earlier extended-format files
// onto their current names.
var speedAliases = map[string]string{
	"idle_latency_ms":     "ping_ms",
	"download_latency_ms": "download_latency_iqm_ms",
	"download_low_ms":     "download_latency_low_ms",
	"download_high_ms":    "download_latency_high_ms",
	"upload_latency_ms":   "upload_latency_iqm_ms",
	"upload_low_ms":       "upload_latency_low_ms",
	"upload_high_ms":      "upload_latency_high_ms",
}

// rowLayout names the fields of rows that do not follow their file's header.
type rowLayout struct {
	header []string
	// fields holds the current column name at each row position; "" drops
	// the field.
	fields []string
}

// The Linux monitor wrote this extended header but appended 23-field rows in
// its own order, with idle latency repeated after external_ip.
var speedWrittenOrder = rowLayout{
	header: []string{
		"timestamp", "download_mbps", "upload_mbps",
		"idle_latency_ms", "idle_jitter_ms", "idle_low_ms", "idle_high_ms",
		"download_latency_ms", "download_jitter_ms", "download_low_ms", "download_high_ms",
		"upload_latency_ms", "upload_jitter_ms", "upload_low_ms", "upload_high_ms",
		"packet_loss_percent", "download_bytes", "upload_bytes",
		"server_name", "server_location", "server_id", "isp", "external_ip", "result_url",
	},
	fields: []string{
		"timestamp", "download_mbps", "upload_mbps", "ping_ms",
		"server_name", "server_location", "server_id", "isp", "external_ip",
		"", "idle_jitter_ms",
		"download_latency_low_ms", "download_latency_high_ms", "download_latency_iqm_ms", "download_jitter_ms",
		"upload_latency_low_ms", "upload_latency_high_ms", "upload_latency_iqm_ms", "upload_jitter_ms",
		"packet_loss_percent", "download_bytes", "upload_bytes", "result_url",
	},
}

// kind describes a table family: its known layouts and column aliases.
type kind struct {
	name    string
	schemas []Schema
	aliases map[string]string
	rows    []rowLayout
}

var (
	speedKind = kind{
		name:    "speed",
		schemas: []Schema{SpeedSchemaV1, SpeedSchemaV2, SpeedSchemaV3},
		aliases: speedAliases,
		rows:    []rowLayout{speedWrittenOrder},
	}
	pingKind  = kind{name: "ping", schemas: []Schema{PingSchemaV1}}
)

func (k kind) current() Schema {
	return k.schemas[len(k.schemas)-1]
}

// detect returns the version whose columns equal header exactly, or 0 when
// the header is not a known layout.
func (k kind) detect(header []string) int {
	for _, s := range k.schemas {
		if slices.Equal(s.Columns, header) {
			return s.Version
		}
	}
	return 0
}

// columnMapping returns, for each current column, the index of the source
// column holding it (-1 when the source has no such column). Source columns
// that have no home in the current layout make the header unknown.
func (k kind) columnMapping(header []string) ([]int, error) {
	target := k.current()
	mapping := make([]int, len(target.Columns))
	for i := range mapping {
		mapping[i] = -1
	}
	for src, name := range header {
		if alias, ok := k.aliases[name]; ok {
			name = alias
		}
		dst := slices.Index(target.Columns, name)
		if dst < 0 {
			return nil, fmt.Errorf("%w: %s table has unexpected column %q", ErrUnknownSchema, k.name, header[src])
		}
		if mapping[dst] >= 0 {
			return nil, fmt.Errorf("%w: %s table has duplicate column %q", ErrUnknownSchema, k.name, header[src])
		}
		mapping[dst] = src
	}
	if mapping[0] < 0 {
		return nil, fmt.Errorf("%w: %s table has no %q column", ErrUnknownSchema, k.name, target.Columns[0])
	}
	return mapping, nil
}

// rowMapping returns the positional mapping for rows of the given width found
// under header, or nil when such rows follow the header.
func (k kind) rowMapping(header []string, width int) []int {
	for _, l := range k.rows {
		if len(l.fields) != width || !slices.Equal(l.header, header) {
			continue
		}
		target := k.current()
		mapping := make([]int, len(target.Columns))
		for i := range mapping {
			mapping[i] = -1
		}
		for src, name := range l.fields {
			if dst := slices.Index(target.Columns, name); name != "" && dst >= 0 {
				mapping[dst] = src
			}
		}
		return mapping
	}
	return nil
}

// migrateRow rewrites one data row into the current layout. Columns the
// source lacks, and fields missing from short rows, default to "".
func migrateRow(row []string, mapping []int) []string {
	out := make([]string, len(mapping))
	for dst, src := range mapping {
		if src >= 0 && src < len(row) {
			out[dst] = row[src]
		}
	}
	return out
}
