// Package records implements the six parallel record collections on top of
// SQL storage. One generic store serves every kind; only the sensor
// collection carries the plot-location triple. Natural-key uniqueness rides
// on a composite unique index, making the constraint check and the insert a
// single atomic statement.
package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"fieldcore/pkg/domain"
)

// Store provides write-once inserts, metadata patches, and ordered scans for
// one record collection. Collections are independent; concurrent writers are
// serialized only by the unique index.
type Store struct {
	db      *sql.DB
	dialect Dialect
	kind    domain.RecordKind
	table   string
	located bool
}

// NewStore binds a store to one collection. The table must already exist
// (see Migrate).
func NewStore(db *sql.DB, d Dialect, kind domain.RecordKind) *Store {
	return &Store{
		db:      db,
		dialect: d,
		kind:    kind,
		table:   tableName(kind),
		located: hasLocation(kind),
	}
}

// Set bundles the six collection stores sharing one database handle.
type Set struct {
	db     *sql.DB
	stores map[domain.RecordKind]*Store
}

// OpenSet migrates the record schema and constructs a store per kind.
func OpenSet(ctx context.Context, db *sql.DB, d Dialect) (*Set, error) {
	if err := Migrate(ctx, db, d); err != nil {
		return nil, err
	}
	stores := make(map[domain.RecordKind]*Store, len(domain.RecordKinds))
	for _, kind := range domain.RecordKinds {
		stores[kind] = NewStore(db, d, kind)
	}
	return &Set{db: db, stores: stores}, nil
}

// Store returns the collection store for kind.
func (s *Set) Store(kind domain.RecordKind) (*Store, error) {
	st, ok := s.stores[kind]
	if !ok {
		return nil, fmt.Errorf("unknown record kind %q", kind)
	}
	return st, nil
}

// Close closes the shared database handle.
func (s *Set) Close() error { return s.db.Close() }

func (s *Store) columns() []string {
	cols := []string{
		"id", "ts_ns", "collection_date",
		"emitter_name", "dataset_name", "experiment_name", "season_name", "site_name",
	}
	if s.located {
		cols = append(cols, "plot", "row_num", "col_num")
	}
	return append(cols, "payload", "info", "payload_ref", "created_at_ns", "updated_at_ns")
}

// Insert stores a new record under the natural-key constraint. Duplicate
// keys fail with ErrDuplicateKey carrying the existing record's id; callers
// needing upsert must delete then insert, or patch the existing record. A
// concurrent conflict where the winning row disappears before it can be
// identified is retried exactly once.
func (s *Store) Insert(ctx context.Context, rec domain.Record) (domain.Record, error) {
	if rec.Timestamp.IsZero() {
		return domain.Record{}, fmt.Errorf("record timestamp required")
	}
	rec.Kind = s.kind
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return domain.Record{}, fmt.Errorf("generate id: %w", err)
		}
		rec.ID = id.String()
	}
	if rec.CollectionDate == "" {
		rec.CollectionDate = domain.DefaultCollectionDate(rec.Timestamp)
	}
	if s.located && rec.Location == nil {
		rec.Location = &domain.PlotLocation{}
	}
	if !s.located {
		rec.Location = nil
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	for attempt := 0; ; attempt++ {
		err := s.insertOnce(ctx, rec)
		if err == nil {
			return domain.CloneRecord(rec), nil
		}
		if !s.dialect.IsUniqueViolation(err) {
			return domain.Record{}, fmt.Errorf("insert %s record: %w", s.kind, err)
		}
		existing, found, lookupErr := s.findByNaturalKey(ctx, rec)
		if lookupErr != nil {
			return domain.Record{}, lookupErr
		}
		if found {
			return domain.Record{}, domain.ErrDuplicateKey{Kind: s.kind, ExistingID: existing}
		}
		// The conflicting row vanished between the violation and the lookup
		// (a racing delete). One fresh attempt, then give up as a duplicate.
		if attempt >= 1 {
			return domain.Record{}, domain.ErrDuplicateKey{Kind: s.kind, ExistingID: existing}
		}
	}
}

func (s *Store) insertOnce(ctx context.Context, rec domain.Record) error {
	payload, err := encodeMap(rec.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	info, err := encodeMap(rec.Info)
	if err != nil {
		return fmt.Errorf("encode info: %w", err)
	}

	cols := s.columns()
	args := []any{
		rec.ID, rec.Timestamp.UnixNano(), rec.CollectionDate,
		rec.Emitter, rec.Dataset, rec.Experiment, rec.Season, rec.Site,
	}
	if s.located {
		args = append(args, rec.Location.Plot, rec.Location.Row, rec.Location.Column)
	}
	args = append(args, payload, info, rec.PayloadRef, rec.CreatedAt.UnixNano(), rec.UpdatedAt.UnixNano())

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		s.table, strings.Join(cols, ", "), placeholders(len(cols)))
	_, err = s.db.ExecContext(ctx, s.dialect.Rebind(stmt), args...)
	return err
}

func (s *Store) findByNaturalKey(ctx context.Context, rec domain.Record) (string, bool, error) {
	where := []string{
		"ts_ns = ?", "emitter_name = ?", "dataset_name = ?",
		"experiment_name = ?", "season_name = ?", "site_name = ?",
	}
	args := []any{
		rec.Timestamp.UnixNano(), rec.Emitter, rec.Dataset,
		rec.Experiment, rec.Season, rec.Site,
	}
	if s.located {
		where = append(where, "plot = ?", "row_num = ?", "col_num = ?")
		args = append(args, rec.Location.Plot, rec.Location.Row, rec.Location.Column)
	}
	stmt := fmt.Sprintf("SELECT id FROM %s WHERE %s", s.table, strings.Join(where, " AND "))
	var id string
	err := s.db.QueryRowContext(ctx, s.dialect.Rebind(stmt), args...).Scan(&id)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("natural key lookup: %w", err)
	}
	return id, true, nil
}

// GetByID retrieves a record by id.
func (s *Store) GetByID(ctx context.Context, id string) (domain.Record, error) {
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", strings.Join(s.columns(), ", "), s.table)
	row := s.db.QueryRowContext(ctx, s.dialect.Rebind(stmt), id)
	rec, err := s.scanRecord(row.Scan)
	if err == sql.ErrNoRows {
		return domain.Record{}, domain.ErrNotFound{Entity: string(s.kind) + " record", Ref: id}
	}
	if err != nil {
		return domain.Record{}, fmt.Errorf("get %s record: %w", s.kind, err)
	}
	return rec, nil
}

// PatchInfo merges the partial map into the record's info map. A nil value
// removes the key. Natural-key fields are never touched.
func (s *Store) PatchInfo(ctx context.Context, id string, partial map[string]any) (domain.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Record{}, fmt.Errorf("begin patch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw string
	sel := fmt.Sprintf("SELECT info FROM %s WHERE id = ?%s", s.table, s.dialect.lockSuffix())
	err = tx.QueryRowContext(ctx, s.dialect.Rebind(sel), id).Scan(&raw)
	if err == sql.ErrNoRows {
		return domain.Record{}, domain.ErrNotFound{Entity: string(s.kind) + " record", Ref: id}
	}
	if err != nil {
		return domain.Record{}, fmt.Errorf("read info: %w", err)
	}
	info, err := decodeMap(raw)
	if err != nil {
		return domain.Record{}, err
	}
	if info == nil {
		info = map[string]any{}
	}
	for k, v := range partial {
		if v == nil {
			delete(info, k)
			continue
		}
		info[k] = v
	}
	encoded, err := encodeMap(info)
	if err != nil {
		return domain.Record{}, fmt.Errorf("encode info: %w", err)
	}
	upd := fmt.Sprintf("UPDATE %s SET info = ?, updated_at_ns = ? WHERE id = ?", s.table)
	if _, err := tx.ExecContext(ctx, s.dialect.Rebind(upd), encoded, time.Now().UTC().UnixNano(), id); err != nil {
		return domain.Record{}, fmt.Errorf("write info: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Record{}, fmt.Errorf("commit patch: %w", err)
	}
	return s.GetByID(ctx, id)
}

// PatchPayloadRef replaces the record's external payload reference.
func (s *Store) PatchPayloadRef(ctx context.Context, id, uri string) (domain.Record, error) {
	stmt := fmt.Sprintf("UPDATE %s SET payload_ref = ?, updated_at_ns = ? WHERE id = ?", s.table)
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(stmt), uri, time.Now().UTC().UnixNano(), id)
	if err != nil {
		return domain.Record{}, fmt.Errorf("patch payload ref: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Record{}, domain.ErrNotFound{Entity: string(s.kind) + " record", Ref: id}
	}
	return s.GetByID(ctx, id)
}

// Delete removes a record by id.
func (s *Store) Delete(ctx context.Context, id string) error {
	stmt := fmt.Sprintf("DELETE FROM %s WHERE id = ?", s.table)
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(stmt), id)
	if err != nil {
		return fmt.Errorf("delete %s record: %w", s.kind, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound{Entity: string(s.kind) + " record", Ref: id}
	}
	return nil
}

// References reports whether any record in this collection names the entity
// in the column its kind occupies. Used by the entity-deletion dependents
// check.
func (s *Store) References(ctx context.Context, kind domain.EntityKind, name string) (bool, error) {
	var cols []string
	switch kind {
	case domain.KindExperiment:
		cols = []string{"experiment_name"}
	case domain.KindSeason:
		cols = []string{"season_name"}
	case domain.KindSite:
		cols = []string{"site_name"}
	case domain.KindDataset:
		cols = []string{"dataset_name"}
	default:
		if domain.IsEmitterKind(kind) && kind == domain.EmitterKindFor(s.kind) {
			cols = []string{"emitter_name"}
		}
	}
	if kind == domain.KindDataset && domain.EmitterKindFor(s.kind) == domain.KindDataset {
		cols = append(cols, "emitter_name")
	}
	if len(cols) == 0 {
		return false, nil
	}
	clauses := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		clauses[i] = col + " = ?"
		args[i] = name
	}
	stmt := fmt.Sprintf("SELECT 1 FROM %s WHERE %s LIMIT 1", s.table, strings.Join(clauses, " OR "))
	var one int
	err := s.db.QueryRowContext(ctx, s.dialect.Rebind(stmt), args...).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reference check: %w", err)
	}
	return true, nil
}

func (s *Store) scanRecord(scan func(...any) error) (domain.Record, error) {
	var (
		rec                        domain.Record
		tsNS, createdNS, updatedNS int64
		plot, row, col             int64
		payloadRaw, infoRaw        string
	)
	dest := []any{
		&rec.ID, &tsNS, &rec.CollectionDate,
		&rec.Emitter, &rec.Dataset, &rec.Experiment, &rec.Season, &rec.Site,
	}
	if s.located {
		dest = append(dest, &plot, &row, &col)
	}
	dest = append(dest, &payloadRaw, &infoRaw, &rec.PayloadRef, &createdNS, &updatedNS)
	if err := scan(dest...); err != nil {
		return domain.Record{}, err
	}
	rec.Kind = s.kind
	rec.Timestamp = time.Unix(0, tsNS).UTC()
	rec.CreatedAt = time.Unix(0, createdNS).UTC()
	rec.UpdatedAt = time.Unix(0, updatedNS).UTC()
	if s.located {
		rec.Location = &domain.PlotLocation{Plot: int(plot), Row: int(row), Column: int(col)}
	}
	var err error
	if rec.Payload, err = decodeMap(payloadRaw); err != nil {
		return domain.Record{}, err
	}
	if rec.Info, err = decodeMap(infoRaw); err != nil {
		return domain.Record{}, err
	}
	return rec, nil
}

func encodeMap(m map[string]any) (string, error) {
	if m == nil {
		m = map[string]any{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeMap(raw string) (map[string]any, error) {
	if raw == "" || raw == "{}" {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("decode map column: %w", err)
	}
	return m, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
