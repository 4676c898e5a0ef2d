// Package catalog implements the in-memory metadata store holding the entity
// catalog and the association graph, together with the validity projection
// derived from them. Durable backends wrap this store and snapshot its state
// after each committed transaction.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"fieldcore/internal/validity"
	"fieldcore/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.MetadataStore = (*Store)(nil)

type state struct {
	entities map[string]domain.Entity
	// names indexes entity ids by kind and name; uniqueness is per kind.
	names map[domain.EntityKind]map[string]string
	// adjacency holds the symmetric association sets keyed by entity id.
	adjacency map[string]map[string]struct{}
}

func newState() state {
	return state{
		entities:  make(map[string]domain.Entity),
		names:     make(map[domain.EntityKind]map[string]string),
		adjacency: make(map[string]map[string]struct{}),
	}
}

func (s state) clone() state {
	cloned := newState()
	for id, e := range s.entities {
		cloned.entities[id] = domain.CloneEntity(e)
	}
	for kind, byName := range s.names {
		m := make(map[string]string, len(byName))
		for name, id := range byName {
			m[name] = id
		}
		cloned.names[kind] = m
	}
	for id, neighbors := range s.adjacency {
		set := make(map[string]struct{}, len(neighbors))
		for n := range neighbors {
			set[n] = struct{}{}
		}
		cloned.adjacency[id] = set
	}
	return cloned
}

// Snapshot captures a point-in-time serializable copy of the store state.
type Snapshot struct {
	Entities     map[string]domain.Entity `json:"entities"`
	Associations []domain.Association     `json:"associations"`
}

// Store provides the transactional metadata store. A single RWMutex guards
// entities, associations, and the projection; the projection is recomputed
// for touched experiments before a transaction commits, so readers always
// see catalog state and validity view from the same snapshot.
type Store struct {
	mu         sync.RWMutex
	state      state
	projection *validity.Projection
	nowFn      func() time.Time
}

// NewStore constructs an empty metadata store.
func NewStore() *Store {
	return &Store{
		state:      newState(),
		projection: validity.New(),
		nowFn:      func() time.Time { return time.Now().UTC() },
	}
}

func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return id.String(), nil
}

// Transaction applies mutations to a cloned state that replaces the
// committed state only when the transaction function returns nil.
type Transaction struct {
	store *Store
	state state
	now   time.Time
	// touched collects experiment ids whose projection must be rebuilt.
	touched map[string]struct{}
	deleted []string
}

// RunInTransaction executes fn within a transactional copy of the store
// state. On success the state is swapped in and the validity projection is
// recomputed for every touched experiment before the lock is released.
func (s *Store) RunInTransaction(_ context.Context, fn func(domain.CatalogTransaction) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Transaction{
		store:   s,
		state:   s.state.clone(),
		now:     s.nowFn(),
		touched: make(map[string]struct{}),
	}
	if err := fn(tx); err != nil {
		return err
	}

	s.state = tx.state
	for _, id := range tx.deleted {
		s.projection.DropEntity(id)
	}
	for expID := range tx.touched {
		s.projection.RebuildExperiment(expID, s.state.adjacency[expID], func(id string) (domain.Entity, bool) {
			e, ok := s.state.entities[id]
			return e, ok
		})
	}
	return nil
}

// View executes fn against a read-only snapshot of committed state.
func (s *Store) View(_ context.Context, fn func(domain.CatalogView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(view{state: &s.state, projection: s.projection})
}

// Close releases no resources for the memory store.
func (s *Store) Close() error { return nil }

// Export returns a serializable snapshot of committed state.
func (s *Store) Export() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{Entities: make(map[string]domain.Entity, len(s.state.entities))}
	for id, e := range s.state.entities {
		snap.Entities[id] = domain.CloneEntity(e)
	}
	seen := make(map[domain.Association]struct{})
	for a, neighbors := range s.state.adjacency {
		for b := range neighbors {
			assoc := domain.Association{A: a, B: b}.Normalize()
			if _, dup := seen[assoc]; dup {
				continue
			}
			seen[assoc] = struct{}{}
			snap.Associations = append(snap.Associations, assoc)
		}
	}
	sort.Slice(snap.Associations, func(i, j int) bool {
		if snap.Associations[i].A != snap.Associations[j].A {
			return snap.Associations[i].A < snap.Associations[j].A
		}
		return snap.Associations[i].B < snap.Associations[j].B
	})
	return snap
}

// Import replaces committed state from a snapshot and rebuilds the name
// index and the full validity projection. Used by durable backends on load.
func (s *Store) Import(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := newState()
	for id, e := range snap.Entities {
		e.ID = id
		st.entities[id] = domain.CloneEntity(e)
		byName := st.names[e.Kind]
		if byName == nil {
			byName = make(map[string]string)
			st.names[e.Kind] = byName
		}
		byName[e.Name] = id
	}
	for _, assoc := range snap.Associations {
		link(st.adjacency, assoc.A, assoc.B)
	}
	s.state = st

	s.projection = validity.New()
	lookup := func(id string) (domain.Entity, bool) {
		e, ok := st.entities[id]
		return e, ok
	}
	for id, e := range st.entities {
		if e.Kind == domain.KindExperiment {
			s.projection.RebuildExperiment(id, st.adjacency[id], lookup)
		}
	}
}

func link(adjacency map[string]map[string]struct{}, a, b string) {
	for _, pair := range [2][2]string{{a, b}, {b, a}} {
		set := adjacency[pair[0]]
		if set == nil {
			set = make(map[string]struct{})
			adjacency[pair[0]] = set
		}
		set[pair[1]] = struct{}{}
	}
}

func unlink(adjacency map[string]map[string]struct{}, a, b string) {
	if set := adjacency[a]; set != nil {
		delete(set, b)
		if len(set) == 0 {
			delete(adjacency, a)
		}
	}
	if set := adjacency[b]; set != nil {
		delete(set, a)
		if len(set) == 0 {
			delete(adjacency, b)
		}
	}
}

// Committed-state conveniences -----------------------------------------------

// EntityByID retrieves an entity by id from committed state.
func (s *Store) EntityByID(id string) (domain.Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.state.entities[id]
	if !ok {
		return domain.Entity{}, false
	}
	return domain.CloneEntity(e), true
}

// EntityByName retrieves an entity by kind and name from committed state.
func (s *Store) EntityByName(kind domain.EntityKind, name string) (domain.Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return view{state: &s.state, projection: s.projection}.EntityByName(kind, name)
}

// ListEntities returns all entities of a kind ordered by name.
func (s *Store) ListEntities(kind domain.EntityKind) []domain.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return view{state: &s.state, projection: s.projection}.ListEntities(kind)
}

// ListLinked returns the entities of the given kind associated with id.
func (s *Store) ListLinked(id string, kind domain.EntityKind) []domain.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return view{state: &s.state, projection: s.projection}.ListLinked(id, kind)
}

// IsLinked reports whether an association exists between the two ids.
func (s *Store) IsLinked(aID, bID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return view{state: &s.state, projection: s.projection}.IsLinked(aID, bID)
}

// ValidCombination checks the tuple against the committed projection.
func (s *Store) ValidCombination(experiment, season, site, dataset string, emitter *domain.EmitterRef) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return view{state: &s.state, projection: s.projection}.ValidCombination(experiment, season, site, dataset, emitter)
}
