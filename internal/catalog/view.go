package catalog

import (
	"fmt"
	"sort"

	"fieldcore/internal/validity"
	"fieldcore/pkg/domain"
)

// view implements domain.CatalogView over a state and its projection.
// Callers hold the store lock for the lifetime of the view.
type view struct {
	state      *state
	projection *validity.Projection
}

var _ domain.CatalogView = view{}

func (v view) EntityByID(id string) (domain.Entity, bool) {
	e, ok := v.state.entities[id]
	if !ok {
		return domain.Entity{}, false
	}
	return domain.CloneEntity(e), true
}

func (v view) EntityByName(kind domain.EntityKind, name string) (domain.Entity, bool) {
	byName, ok := v.state.names[kind]
	if !ok {
		return domain.Entity{}, false
	}
	id, ok := byName[name]
	if !ok {
		return domain.Entity{}, false
	}
	return v.EntityByID(id)
}

func (v view) ListEntities(kind domain.EntityKind) []domain.Entity {
	out := make([]domain.Entity, 0)
	for _, e := range v.state.entities {
		if e.Kind == kind {
			out = append(out, domain.CloneEntity(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (v view) ListLinked(id string, kind domain.EntityKind) []domain.Entity {
	out := make([]domain.Entity, 0)
	for neighborID := range v.state.adjacency[id] {
		e, ok := v.state.entities[neighborID]
		if ok && e.Kind == kind {
			out = append(out, domain.CloneEntity(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (v view) IsLinked(aID, bID string) bool {
	set, ok := v.state.adjacency[aID]
	if !ok {
		return false
	}
	_, ok = set[bID]
	return ok
}

func (v view) Associations() []domain.Association {
	seen := make(map[domain.Association]struct{})
	out := make([]domain.Association, 0)
	for a, neighbors := range v.state.adjacency {
		for b := range neighbors {
			assoc := domain.Association{A: a, B: b}.Normalize()
			if _, dup := seen[assoc]; dup {
				continue
			}
			seen[assoc] = struct{}{}
			out = append(out, assoc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].A != out[j].A {
			return out[i].A < out[j].A
		}
		return out[i].B < out[j].B
	})
	return out
}

// ValidCombination walks the tuple's required links against the projection.
// Every dimension must resolve by name and hold an association with the
// experiment; the first failure is reported with enough detail to identify
// the missing link.
func (v view) ValidCombination(experiment, season, site, dataset string, emitter *domain.EmitterRef) error {
	exp, ok := v.EntityByName(domain.KindExperiment, experiment)
	if !ok {
		return domain.ErrNotFound{Entity: string(domain.KindExperiment), Ref: experiment}
	}
	seasonEnt, ok := v.EntityByName(domain.KindSeason, season)
	if !ok {
		return domain.ErrNotFound{Entity: string(domain.KindSeason), Ref: season}
	}
	if !v.projection.HasSeason(exp.ID, seasonEnt.ID) {
		return domain.ErrInvalidCombination{Experiment: experiment, Missing: fmt.Sprintf("season %q", season)}
	}
	siteEnt, ok := v.EntityByName(domain.KindSite, site)
	if !ok {
		return domain.ErrNotFound{Entity: string(domain.KindSite), Ref: site}
	}
	if !v.projection.HasSite(exp.ID, siteEnt.ID) {
		return domain.ErrInvalidCombination{Experiment: experiment, Missing: fmt.Sprintf("site %q", site)}
	}
	datasetEnt, ok := v.EntityByName(domain.KindDataset, dataset)
	if !ok {
		return domain.ErrNotFound{Entity: string(domain.KindDataset), Ref: dataset}
	}
	if !v.projection.HasDataset(exp.ID, datasetEnt.ID) {
		return domain.ErrInvalidCombination{Experiment: experiment, Missing: fmt.Sprintf("dataset %q", dataset)}
	}
	if emitter == nil {
		return nil
	}
	emitterEnt, ok := v.EntityByName(emitter.Kind, emitter.Name)
	if !ok {
		return domain.ErrNotFound{Entity: string(emitter.Kind), Ref: emitter.Name}
	}
	if !v.projection.HasEmitter(exp.ID, emitter.Kind, emitterEnt.ID) {
		return domain.ErrInvalidCombination{Experiment: experiment, Missing: fmt.Sprintf("%s %q", emitter.Kind, emitter.Name)}
	}
	return nil
}
