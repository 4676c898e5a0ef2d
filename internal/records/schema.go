package records

import (
	"context"
	"database/sql"
	"fmt"

	"fieldcore/pkg/domain"
)

// tableName maps a record kind to its physical table.
func tableName(kind domain.RecordKind) string {
	return fmt.Sprintf("%s_records", kind)
}

// hasLocation reports whether the kind carries the plot triple. Only sensor
// records are bound to spatial plot location.
func hasLocation(kind domain.RecordKind) bool {
	return kind == domain.RecordSensor
}

// createStatements returns the DDL for one kind's table and indexes: the
// natural-key unique index (the atomic check-and-insert primitive), the
// (timestamp, id) index backing ordered keyset scans, and covering indexes
// for the natural-key prefix predicates the query compiler plans against.
func createStatements(kind domain.RecordKind, d Dialect) []string {
	table := tableName(kind)
	bigint := d.BigIntType()

	locationCols := ""
	naturalKeyTail := ""
	if hasLocation(kind) {
		locationCols = fmt.Sprintf(`
	plot %[1]s NOT NULL DEFAULT 0,
	row_num %[1]s NOT NULL DEFAULT 0,
	col_num %[1]s NOT NULL DEFAULT 0,`, bigint)
		naturalKeyTail = ", plot, row_num, col_num"
	}

	create := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
	id TEXT PRIMARY KEY,
	ts_ns %[2]s NOT NULL,
	collection_date TEXT NOT NULL,
	emitter_name TEXT NOT NULL,
	dataset_name TEXT NOT NULL,
	experiment_name TEXT NOT NULL,
	season_name TEXT NOT NULL,
	site_name TEXT NOT NULL,%[3]s
	payload TEXT NOT NULL DEFAULT '{}',
	info TEXT NOT NULL DEFAULT '{}',
	payload_ref TEXT NOT NULL DEFAULT '',
	created_at_ns %[2]s NOT NULL,
	updated_at_ns %[2]s NOT NULL
)`, table, bigint, locationCols)

	return []string{
		create,
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS ux_%[1]s_natural_key ON %[1]s
	(ts_ns, emitter_name, dataset_name, experiment_name, season_name, site_name%[2]s)`, table, naturalKeyTail),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS ix_%[1]s_ts ON %[1]s (ts_ns, id)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS ix_%[1]s_emitter ON %[1]s (emitter_name, ts_ns)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS ix_%[1]s_experiment ON %[1]s (experiment_name, ts_ns)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS ix_%[1]s_dataset ON %[1]s (dataset_name, ts_ns)`, table),
	}
}

// Migrate creates all six record tables and their indexes.
func Migrate(ctx context.Context, db *sql.DB, d Dialect) error {
	for _, kind := range domain.RecordKinds {
		for _, stmt := range createStatements(kind, d) {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migrate %s: %w", tableName(kind), err)
			}
		}
	}
	return nil
}
