// Package engine composes the metadata store, the record collections, and
// payload storage into the single service the external surfaces call.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"fieldcore/internal/blob"
	"fieldcore/internal/metrics"
	"fieldcore/internal/records"
	"fieldcore/pkg/domain"
)

// Service is the application facade. All invariants hold across its
// methods: catalog writes recompute the validity projection before they
// return, and record inserts never bypass the validity gate.
type Service struct {
	meta     domain.MetadataStore
	records  *records.Set
	payloads *blob.Payloads
	log      *slog.Logger
}

// New wires a Service. A nil logger falls back to slog.Default.
func New(meta domain.MetadataStore, set *records.Set, payloads *blob.Payloads, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{meta: meta, records: set, payloads: payloads, log: log}
}

// Payloads exposes the payload facade, mainly for the HTTP layer.
func (s *Service) Payloads() *blob.Payloads { return s.payloads }

// Close releases both storage backends.
func (s *Service) Close() error {
	metaErr := s.meta.Close()
	recErr := s.records.Close()
	if metaErr != nil {
		return metaErr
	}
	return recErr
}

// CreateEntity registers a catalog entity. Names are unique per kind.
func (s *Service) CreateEntity(ctx context.Context, kind domain.EntityKind, name string, attributes map[string]any) (domain.Entity, error) {
	started := time.Now()
	var created domain.Entity
	err := s.meta.RunInTransaction(ctx, func(tx domain.CatalogTransaction) error {
		var txErr error
		created, txErr = tx.CreateEntity(domain.Entity{Kind: kind, Name: name, Attributes: attributes})
		return txErr
	})
	metrics.ObserveOperation("create_entity", started, err)
	if err != nil {
		return domain.Entity{}, err
	}
	s.log.InfoContext(ctx, "entity created", "kind", string(kind), "name", name, "id", created.ID)
	return created, nil
}

// GetEntity fetches an entity by id.
func (s *Service) GetEntity(_ context.Context, id string) (domain.Entity, error) {
	if ent, ok := s.meta.EntityByID(id); ok {
		return ent, nil
	}
	return domain.Entity{}, domain.ErrNotFound{Entity: "entity", Ref: id}
}

// GetEntityByName fetches an entity by kind and name.
func (s *Service) GetEntityByName(_ context.Context, kind domain.EntityKind, name string) (domain.Entity, error) {
	if ent, ok := s.meta.EntityByName(kind, name); ok {
		return ent, nil
	}
	return domain.Entity{}, domain.ErrNotFound{Entity: string(kind), Ref: name}
}

// ListEntities lists all entities of one kind, sorted by name.
func (s *Service) ListEntities(_ context.Context, kind domain.EntityKind) ([]domain.Entity, error) {
	if !domain.KnownEntityKind(kind) {
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
	return s.meta.ListEntities(kind), nil
}

// PatchEntityAttributes merges a partial attribute bag; a nil value removes
// the key.
func (s *Service) PatchEntityAttributes(ctx context.Context, id string, attrs map[string]any) (domain.Entity, error) {
	var patched domain.Entity
	err := s.meta.RunInTransaction(ctx, func(tx domain.CatalogTransaction) error {
		var txErr error
		patched, txErr = tx.PatchEntityAttributes(id, attrs)
		return txErr
	})
	if err != nil {
		return domain.Entity{}, err
	}
	return patched, nil
}

// DeleteEntity removes an entity that nothing references. Dependents are
// either live associations or records naming the entity in a natural-key
// column; both block deletion with ErrHasDependents.
func (s *Service) DeleteEntity(ctx context.Context, id string) error {
	started := time.Now()
	ent, ok := s.meta.EntityByID(id)
	if !ok {
		return domain.ErrNotFound{Entity: "entity", Ref: id}
	}
	referenced, err := s.recordsReference(ctx, ent.Kind, ent.Name)
	if err != nil {
		return err
	}
	if referenced {
		return domain.ErrHasDependents{Kind: ent.Kind, Name: ent.Name}
	}
	err = s.meta.RunInTransaction(ctx, func(tx domain.CatalogTransaction) error {
		return tx.DeleteEntity(id)
	})
	metrics.ObserveOperation("delete_entity", started, err)
	if err != nil {
		return err
	}
	s.log.InfoContext(ctx, "entity deleted", "kind", string(ent.Kind), "name", ent.Name, "id", id)
	return nil
}

// recordsReference probes every collection that could name the entity.
func (s *Service) recordsReference(ctx context.Context, kind domain.EntityKind, name string) (bool, error) {
	for _, rk := range domain.RecordKinds {
		store, err := s.records.Store(rk)
		if err != nil {
			return false, err
		}
		found, err := store.References(ctx, kind, name)
		if err != nil {
			return false, err
		}
		if found {
			return true, nil
		}
	}
	return false, nil
}

// Link associates two entities. Linking an already linked pair is a no-op;
// linking a season to a second experiment fails.
func (s *Service) Link(ctx context.Context, aID, bID string) error {
	started := time.Now()
	err := s.meta.RunInTransaction(ctx, func(tx domain.CatalogTransaction) error {
		return tx.Link(aID, bID)
	})
	metrics.ObserveOperation("link", started, err)
	return err
}

// Unlink removes an association; absent links are a no-op.
func (s *Service) Unlink(ctx context.Context, aID, bID string) error {
	started := time.Now()
	err := s.meta.RunInTransaction(ctx, func(tx domain.CatalogTransaction) error {
		return tx.Unlink(aID, bID)
	})
	metrics.ObserveOperation("unlink", started, err)
	return err
}

// ListLinked returns the entities of one kind linked to id.
func (s *Service) ListLinked(_ context.Context, id string, kind domain.EntityKind) ([]domain.Entity, error) {
	if _, ok := s.meta.EntityByID(id); !ok {
		return nil, domain.ErrNotFound{Entity: "entity", Ref: id}
	}
	return s.meta.ListLinked(id, kind), nil
}

// IsLinked reports whether an association exists between two entities.
func (s *Service) IsLinked(_ context.Context, aID, bID string) bool {
	return s.meta.IsLinked(aID, bID)
}

// ValidCombination checks the pairwise associations for a record tuple.
func (s *Service) ValidCombination(_ context.Context, experiment, season, site, dataset string, emitter *domain.EmitterRef) error {
	return s.meta.ValidCombination(experiment, season, site, dataset, emitter)
}
