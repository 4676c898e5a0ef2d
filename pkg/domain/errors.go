package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a referenced entity or record does not exist.
type ErrNotFound struct {
	Entity string // entity kind or record kind
	Ref    string // id or name that failed to resolve
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.Ref)
}

// ErrDuplicateName is returned when an entity name collides within its kind.
type ErrDuplicateName struct {
	Kind EntityKind
	Name string
}

func (e ErrDuplicateName) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Kind, e.Name)
}

// ErrDuplicateKey is returned when a record insert collides with an existing
// natural key. ExistingID references the record that owns the key.
type ErrDuplicateKey struct {
	Kind       RecordKind
	ExistingID string
}

func (e ErrDuplicateKey) Error() string {
	return fmt.Sprintf("%s record with identical natural key already exists as %s", e.Kind, e.ExistingID)
}

// ErrInvalidCombination is returned when the experiment/season/site/dataset
// (and emitter) tuple has no corresponding association chain. Missing names
// the first link that failed, so callers can identify what to fix.
type ErrInvalidCombination struct {
	Experiment string
	Missing    string // e.g. `season "2024"`, `sensor "Cam1"`
}

func (e ErrInvalidCombination) Error() string {
	return fmt.Sprintf("experiment %q has no association with %s", e.Experiment, e.Missing)
}

// ErrUnknownField is returned when a filter predicate references a field the
// engine does not recognize. Predicates are never silently dropped.
type ErrUnknownField struct {
	Field string
}

func (e ErrUnknownField) Error() string {
	return fmt.Sprintf("unknown filter field %q", e.Field)
}

// ErrHasDependents is returned when deleting an entity that associations or
// records still reference.
type ErrHasDependents struct {
	Kind EntityKind
	Name string
}

func (e ErrHasDependents) Error() string {
	return fmt.Sprintf("%s %q still has dependent associations or records", e.Kind, e.Name)
}

// ErrPayloadStore wraps a blob-store failure during a record write. The
// record insert must not proceed when an expected file could not be stored.
type ErrPayloadStore struct {
	Err error
}

func (e ErrPayloadStore) Error() string {
	return fmt.Sprintf("payload store: %v", e.Err)
}

func (e ErrPayloadStore) Unwrap() error { return e.Err }

// ErrConflict marks a state conflict: a unique-constraint race observed
// during insert (the record store retries once before surfacing
// ErrDuplicateKey) or an association that would violate a scope rule.
var ErrConflict = errors.New("conflict")

// IsNotFound reports whether err is an ErrNotFound.
func IsNotFound(err error) bool {
	var nf ErrNotFound
	return errors.As(err, &nf)
}
