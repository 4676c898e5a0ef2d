package records

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// OpenSQLite opens a file-backed record database configured for concurrent
// writers: WAL keeps readers off the writer's lock, and the busy timeout
// makes contending writers queue instead of failing with SQLITE_BUSY. A
// racing duplicate insert then reaches the unique constraint and reports
// ErrDuplicateKey rather than a lock error.
func OpenSQLite(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite records db %s: %w", path, err)
	}
	return db, nil
}
