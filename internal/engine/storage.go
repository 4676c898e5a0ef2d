package engine

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib" // postgres driver
	_ "modernc.org/sqlite"             // pure go sqlite driver

	"fieldcore/internal/catalog"
	"fieldcore/internal/infra/persistence/postgres"
	"fieldcore/internal/infra/persistence/sqlite"
	"fieldcore/internal/records"
	"fieldcore/pkg/domain"
)

// Storage driver selection:
//
//	FIELDCORE_STORAGE_DRIVER: memory|sqlite|postgres (default memory)
//	FIELDCORE_SQLITE_PATH: metadata snapshot db path (default fieldcore-meta.db)
//	FIELDCORE_RECORDS_SQLITE_PATH: record db path (default fieldcore-records.db)
//	FIELDCORE_POSTGRES_DSN: DSN shared by metadata and records when driver=postgres

const (
	driverMemory   = "memory"
	driverSQLite   = "sqlite"
	driverPostgres = "postgres"
)

func storageDriver() string {
	if d := os.Getenv("FIELDCORE_STORAGE_DRIVER"); d != "" {
		return d
	}
	return driverMemory
}

// OpenMetadataStore selects the metadata backend from process environment.
// The memory driver keeps everything in process; sqlite and postgres add a
// snapshot table for durability.
func OpenMetadataStore(_ context.Context) (domain.MetadataStore, error) {
	switch driver := storageDriver(); driver {
	case driverMemory:
		return catalog.NewStore(), nil
	case driverSQLite:
		return sqlite.NewStore(os.Getenv("FIELDCORE_SQLITE_PATH"))
	case driverPostgres:
		return postgres.NewStore(os.Getenv("FIELDCORE_POSTGRES_DSN"))
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}

// OpenRecordSet opens the record database for the configured driver and
// migrates the six collection tables. The memory driver uses a shared-cache
// in-memory sqlite database, which requires a single connection.
func OpenRecordSet(ctx context.Context) (*records.Set, error) {
	switch driver := storageDriver(); driver {
	case driverMemory:
		db, err := sql.Open("sqlite", "file:fieldcore-records?mode=memory&cache=shared")
		if err != nil {
			return nil, fmt.Errorf("open in-memory records db: %w", err)
		}
		db.SetMaxOpenConns(1)
		return records.OpenSet(ctx, db, records.SQLiteDialect{})
	case driverSQLite:
		path := os.Getenv("FIELDCORE_RECORDS_SQLITE_PATH")
		if path == "" {
			path = "fieldcore-records.db"
		}
		db, err := records.OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		return records.OpenSet(ctx, db, records.SQLiteDialect{})
	case driverPostgres:
		dsn := os.Getenv("FIELDCORE_POSTGRES_DSN")
		if dsn == "" {
			dsn = "postgres://localhost/fieldcore?sslmode=disable"
		}
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open records db: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping records db: %w", err)
		}
		return records.OpenSet(ctx, db, records.PostgresDialect{})
	default:
		return nil, fmt.Errorf("unknown storage driver %s", storageDriver())
	}
}
