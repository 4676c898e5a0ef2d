package catalog

import (
	"fmt"
	"strings"

	"fieldcore/pkg/domain"
)

// CreateEntity stores a new entity. Names are unique within a kind.
func (tx *Transaction) CreateEntity(e domain.Entity) (domain.Entity, error) {
	if !domain.KnownEntityKind(e.Kind) {
		return domain.Entity{}, fmt.Errorf("unknown entity kind %q", e.Kind)
	}
	if strings.TrimSpace(e.Name) == "" {
		return domain.Entity{}, fmt.Errorf("entity name required")
	}
	byName := tx.state.names[e.Kind]
	if byName == nil {
		byName = make(map[string]string)
		tx.state.names[e.Kind] = byName
	}
	if _, exists := byName[e.Name]; exists {
		return domain.Entity{}, domain.ErrDuplicateName{Kind: e.Kind, Name: e.Name}
	}
	if e.ID == "" {
		id, err := newID()
		if err != nil {
			return domain.Entity{}, err
		}
		e.ID = id
	}
	if _, exists := tx.state.entities[e.ID]; exists {
		return domain.Entity{}, fmt.Errorf("entity %q already exists", e.ID)
	}
	e.CreatedAt = tx.now
	e.UpdatedAt = tx.now
	if e.Attributes == nil {
		e.Attributes = map[string]any{}
	}
	tx.state.entities[e.ID] = domain.CloneEntity(e)
	byName[e.Name] = e.ID
	return domain.CloneEntity(e), nil
}

// PatchEntityAttributes merges the partial attribute map into the entity's
// bag. A nil value removes the key. Name and kind are immutable here.
func (tx *Transaction) PatchEntityAttributes(id string, attrs map[string]any) (domain.Entity, error) {
	current, ok := tx.state.entities[id]
	if !ok {
		return domain.Entity{}, domain.ErrNotFound{Entity: "entity", Ref: id}
	}
	updated := domain.CloneEntity(current)
	if updated.Attributes == nil {
		updated.Attributes = map[string]any{}
	}
	for k, v := range attrs {
		if v == nil {
			delete(updated.Attributes, k)
			continue
		}
		updated.Attributes[k] = v
	}
	updated.UpdatedAt = tx.now
	tx.state.entities[id] = domain.CloneEntity(updated)
	return updated, nil
}

// DeleteEntity removes an entity that has no remaining associations.
// Dependent records are checked a layer up, where the record stores live.
func (tx *Transaction) DeleteEntity(id string) error {
	current, ok := tx.state.entities[id]
	if !ok {
		return domain.ErrNotFound{Entity: "entity", Ref: id}
	}
	if len(tx.state.adjacency[id]) > 0 {
		return domain.ErrHasDependents{Kind: current.Kind, Name: current.Name}
	}
	delete(tx.state.entities, id)
	if byName := tx.state.names[current.Kind]; byName != nil {
		delete(byName, current.Name)
	}
	tx.deleted = append(tx.deleted, id)
	return nil
}

// Link records an undirected association between two existing entities.
// Creating an existing association is a no-op. A season may belong to at
// most one experiment, so a second experiment link for it is rejected.
func (tx *Transaction) Link(aID, bID string) error {
	a, ok := tx.state.entities[aID]
	if !ok {
		return domain.ErrNotFound{Entity: "entity", Ref: aID}
	}
	b, ok := tx.state.entities[bID]
	if !ok {
		return domain.ErrNotFound{Entity: "entity", Ref: bID}
	}
	if aID == bID {
		return fmt.Errorf("cannot associate %q with itself", aID)
	}
	if set := tx.state.adjacency[aID]; set != nil {
		if _, exists := set[bID]; exists {
			return nil
		}
	}
	if err := tx.checkSeasonScope(a, b); err != nil {
		return err
	}
	link(tx.state.adjacency, aID, bID)
	tx.noteTouched(a, b)
	return nil
}

// Unlink removes an association. Removing an absent link is a no-op.
func (tx *Transaction) Unlink(aID, bID string) error {
	a, okA := tx.state.entities[aID]
	b, okB := tx.state.entities[bID]
	unlink(tx.state.adjacency, aID, bID)
	if okA && okB {
		tx.noteTouched(a, b)
	}
	return nil
}

// Snapshot exposes the transaction's working state read-only.
func (tx *Transaction) Snapshot() domain.CatalogView {
	return view{state: &tx.state, projection: tx.store.projection}
}

func (tx *Transaction) noteTouched(a, b domain.Entity) {
	if a.Kind == domain.KindExperiment {
		tx.touched[a.ID] = struct{}{}
	}
	if b.Kind == domain.KindExperiment {
		tx.touched[b.ID] = struct{}{}
	}
}

func (tx *Transaction) checkSeasonScope(a, b domain.Entity) error {
	var exp, season domain.Entity
	switch {
	case a.Kind == domain.KindExperiment && b.Kind == domain.KindSeason:
		exp, season = a, b
	case a.Kind == domain.KindSeason && b.Kind == domain.KindExperiment:
		exp, season = b, a
	default:
		return nil
	}
	// Scan the season's working-state neighbors rather than the committed
	// projection: an earlier link in this transaction must count.
	for neighborID := range tx.state.adjacency[season.ID] {
		neighbor, ok := tx.state.entities[neighborID]
		if !ok || neighbor.Kind != domain.KindExperiment {
			continue
		}
		if neighbor.ID != exp.ID {
			return fmt.Errorf("season %q already belongs to experiment %q: %w", season.Name, neighbor.Name, domain.ErrConflict)
		}
	}
	return nil
}
