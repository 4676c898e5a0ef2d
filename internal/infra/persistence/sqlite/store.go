// Package sqlite provides a SQLite-backed metadata store that snapshots the
// in-memory catalog state after every committed transaction. Metadata volume
// is small and mutated through low-frequency administrative operations, so a
// full snapshot per commit keeps recovery trivial without a write-ahead
// protocol of its own.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"fieldcore/internal/catalog"
	"fieldcore/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.MetadataStore = (*Store)(nil)

const (
	bucketEntities     = "entities"
	bucketAssociations = "associations"
)

// Store persists catalog snapshots to a single SQLite table keyed by bucket.
type Store struct {
	*catalog.Store
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore opens (or creates) the metadata database at path and hydrates the
// in-memory catalog from any existing snapshot.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "fieldcore-meta.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create state table: %w", err)
	}
	s := &Store{Store: catalog.NewStore(), db: db, path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	rows, err := s.db.Query(`SELECT bucket, payload FROM state`)
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

	const upsert = `INSERT INTO state (bucket, payload) VALUES (?, ?)
		ON CONFLICT(bucket) DO UPDATE SET payload = excluded.payload`
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
