// Package postgres provides a PostgreSQL-backed metadata store mirroring the
// sqlite snapshot semantics for server deployments.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"fieldcore/internal/catalog"
	"fieldcore/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.MetadataStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/fieldcore?sslmode=disable"

	bucketEntities     = "entities"
	bucketAssociations = "associations"
)

// Store persists catalog snapshots to a Postgres table keyed by bucket.
type Store struct {
	*catalog.Store
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens a Postgres-backed metadata store using the provided DSN
// (falls back to a local default), ensures the snapshot table exists, and
// hydrates the in-memory catalog from any existing snapshot.
func NewStore(dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	db, err := sql.Open(defaultDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("ensure state table: %w", err)
	}
	s := &Store{Store: catalog.NewStore(), db: db}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snap catalog.Snapshot
	var loaded bool
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return fmt.Errorf("scan state: %w", err)
		}
		switch bucket {
		case bucketEntities:
			if err := json.Unmarshal(payload, &snap.Entities); err != nil {
				return fmt.Errorf("decode entities: %w", err)
			}
			loaded = true
		case bucketAssociations:
			if err := json.Unmarshal(payload, &snap.Associations); err != nil {
				return fmt.Errorf("decode associations: %w", err)
			}
			loaded = true
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate state: %w", err)
	}
	if loaded {
		s.Store.Import(snap)
	}
	return nil
}

// RunInTransaction applies fn in memory, then snapshots the committed state.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.CatalogTransaction) error) error {
	if err := s.Store.RunInTransaction(ctx, fn); err != nil {
		return err
	}
	return s.persist(ctx)
}

func (s *Store) persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.Store.Export()
	entities, err := json.Marshal(snap.Entities)
	if err != nil {
		return fmt.Errorf("encode entities: %w", err)
	}
	associations, err := json.Marshal(snap.Associations)
	if err != nil {
		return fmt.Errorf("encode associations: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const upsert = `INSERT INTO state (bucket, payload) VALUES ($1, $2)
		ON CONFLICT (bucket) DO UPDATE SET payload = EXCLUDED.payload`
	if _, err := tx.ExecContext(ctx, upsert, bucketEntities, entities); err != nil {
		return fmt.Errorf("write entities: %w", err)
	}
	if _, err := tx.ExecContext(ctx, upsert, bucketAssociations, associations); err != nil {
		return fmt.Errorf("write associations: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle for integration tests.
func (s *Store) DB() *sql.DB { return s.db }
