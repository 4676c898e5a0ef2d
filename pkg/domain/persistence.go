package domain

import "context"

// EmitterRef names an emitter entity together with its kind, for validity
// checks that include the optional fifth tuple element.
type EmitterRef struct {
	Kind EntityKind
	Name string
}

// CatalogTransaction exposes the catalog and association-graph mutations a
// metadata store must support within an atomic scope.
type CatalogTransaction interface {
	CreateEntity(Entity) (Entity, error)
	PatchEntityAttributes(id string, attrs map[string]any) (Entity, error)
	// DeleteEntity fails with ErrHasDependents while associations still
	// reference the entity.
	DeleteEntity(id string) error
	// Link records an undirected association. Creating an existing link is a
	// no-op. Linking a season to a second experiment is rejected: seasons are
	// scoped to one experiment.
	Link(aID, bID string) error
	// Unlink removes an association; removing an absent link is a no-op.
	Unlink(aID, bID string) error
	Snapshot() CatalogView
}

// CatalogView provides read-only access to a consistent catalog snapshot.
type CatalogView interface {
	EntityByID(id string) (Entity, bool)
	EntityByName(kind EntityKind, name string) (Entity, bool)
	ListEntities(kind EntityKind) []Entity
	ListLinked(id string, kind EntityKind) []Entity
	IsLinked(aID, bID string) bool
	Associations() []Association
	// ValidCombination reports whether every pairwise association required
	// for the tuple holds. A nil emitter checks only the 4-tuple. Returns
	// ErrInvalidCombination naming the first missing link, or ErrNotFound
	// when a named entity does not exist.
	ValidCombination(experiment, season, site, dataset string, emitter *EmitterRef) error
}

// MetadataStore is the durable home of entities, associations, and the
// validity projection. Implementations recompute the projection
// synchronously whenever a transaction links or unlinks, so validity checks
// always observe a consistent snapshot.
type MetadataStore interface {
	RunInTransaction(ctx context.Context, fn func(CatalogTransaction) error) error
	View(ctx context.Context, fn func(CatalogView) error) error
	EntityByID(id string) (Entity, bool)
	EntityByName(kind EntityKind, name string) (Entity, bool)
	ListEntities(kind EntityKind) []Entity
	ListLinked(id string, kind EntityKind) []Entity
	IsLinked(aID, bID string) bool
	ValidCombination(experiment, season, site, dataset string, emitter *EmitterRef) error
	Close() error
}
