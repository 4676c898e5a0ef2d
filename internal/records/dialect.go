package records

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Dialect abstracts the differences between the embedded sqlite backend and
// PostgreSQL: placeholder syntax, integer width, and unique-violation
// detection. Everything else in the store is shared SQL.
type Dialect interface {
	// Name identifies the dialect ("sqlite" or "postgres").
	Name() string
	// Rebind converts `?` placeholders to the dialect's syntax.
	Rebind(query string) string
	// BigIntType returns the column type for 64-bit integers.
	BigIntType() string
	// IsUniqueViolation reports whether err is a unique-constraint failure.
	IsUniqueViolation(err error) bool
	// lockSuffix returns the row-lock clause for read-modify-write patches.
	lockSuffix() string
}

// SQLiteDialect targets modernc.org/sqlite through database/sql.
type SQLiteDialect struct{}

func (SQLiteDialect) Name() string               { return "sqlite" }
func (SQLiteDialect) Rebind(query string) string { return query }
func (SQLiteDialect) BigIntType() string         { return "INTEGER" }

// sqlite serializes writers at the database level; no row lock exists.
func (SQLiteDialect) lockSuffix() string { return "" }

func (SQLiteDialect) IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	// modernc/sqlite surfaces SQLITE_CONSTRAINT_UNIQUE (2067) in the message.
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "(2067)")
}

// PostgresDialect targets PostgreSQL through the pgx stdlib driver.
type PostgresDialect struct{}

func (PostgresDialect) Name() string       { return "postgres" }
func (PostgresDialect) BigIntType() string { return "BIGINT" }

func (PostgresDialect) lockSuffix() string { return " FOR UPDATE" }

func (PostgresDialect) Rebind(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (PostgresDialect) IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
