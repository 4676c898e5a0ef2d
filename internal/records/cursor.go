package records

import (
	"context"
	"fmt"
	"strings"

	"fieldcore/internal/metrics"
	"fieldcore/internal/query"
	"fieldcore/pkg/domain"
)

// defaultBatchSize bounds the rows held in memory per cursor step. Peak
// memory for a scan is one batch regardless of result-set size.
const defaultBatchSize = 256

// Cursor streams records in (timestamp, id) ascending order using keyset
// pagination: each batch resumes strictly after the last key seen, so an
// arbitrarily large result set never materializes and concurrent writes
// behind the cursor position are never revisited. Close is idempotent and
// safe to call from a defer on every exit path.
type Cursor struct {
	store     *Store
	plan      query.Plan
	batchSize int

	batch  []domain.Record
	idx    int
	lastNS int64
	lastID string
	done   bool
	closed bool
}

// Scan opens a cursor over the collection for the compiled plan.
func (s *Store) Scan(_ context.Context, plan query.Plan) (*Cursor, error) {
	if plan.Kind != s.kind {
		return nil, fmt.Errorf("plan targets %s records, store holds %s", plan.Kind, s.kind)
	}
	return &Cursor{store: s, plan: plan, batchSize: defaultBatchSize, lastNS: -1 << 63}, nil
}

// Next returns the next matching record. The boolean is false when the scan
// is exhausted or the cursor closed. ctx cancellation aborts the scan at the
// next batch boundary.
func (c *Cursor) Next(ctx context.Context) (domain.Record, bool, error) {
	for {
		if c.closed {
			return domain.Record{}, false, nil
		}
		for c.idx < len(c.batch) {
			rec := c.batch[c.idx]
			c.idx++
			if c.plan.Matches(rec) {
				return rec, true, nil
			}
		}
		if c.done {
			c.Close()
			return domain.Record{}, false, nil
		}
		if err := c.fetch(ctx); err != nil {
			c.Close()
			return domain.Record{}, false, err
		}
	}
}

// ForEach drains the cursor, invoking fn per record until exhaustion, error,
// or fn returning false.
func (c *Cursor) ForEach(ctx context.Context, fn func(domain.Record) (bool, error)) error {
	defer c.Close()
	for {
		rec, ok, err := c.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		cont, err := fn(rec)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
}

// Close releases the cursor. Batches are fully drained from the database at
// fetch time, so there is no row handle to release; Close only stops
// further fetching.
func (c *Cursor) Close() {
	c.closed = true
	c.batch = nil
}

func (c *Cursor) fetch(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	where := append([]string{}, c.plan.Where...)
	args := append([]any{}, c.plan.Args...)
	where = append(where, "(ts_ns > ? OR (ts_ns = ? AND id > ?))")
	args = append(args, c.lastNS, c.lastNS, c.lastID)

	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY ts_ns ASC, id ASC LIMIT %d",
		strings.Join(c.store.columns(), ", "), c.store.table, strings.Join(where, " AND "), c.batchSize)
	rows, err := c.store.db.QueryContext(ctx, c.store.dialect.Rebind(stmt), args...)
	if err != nil {
		return fmt.Errorf("scan %s records: %w", c.store.kind, err)
	}
	defer func() { _ = rows.Close() }()

	c.batch = c.batch[:0]
	c.idx = 0
	for rows.Next() {
		rec, err := c.store.scanRecord(rows.Scan)
		if err != nil {
			return fmt.Errorf("decode %s record: %w", c.store.kind, err)
		}
		c.batch = append(c.batch, rec)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate %s records: %w", c.store.kind, err)
	}
	metrics.RecordsScanned.WithLabelValues(string(c.store.kind)).Add(float64(len(c.batch)))
	if len(c.batch) > 0 {
		last := c.batch[len(c.batch)-1]
		c.lastNS = last.Timestamp.UnixNano()
		c.lastID = last.ID
	}
	if len(c.batch) < c.batchSize {
		c.done = true
	}
	return nil
}
