// Package validity maintains the materialized view of legal
// experiment/season/site/dataset/emitter combinations derived from the
// association graph.
//
// The projection is recomputed synchronously whenever a catalog transaction
// links or unlinks, under the same lock that serializes graph mutations, so
// checks never observe an intermediate state. That trades write-path latency
// on association changes for a read path that is a handful of set lookups;
// association mutation is low-frequency relative to record writes.
package validity

import "fieldcore/pkg/domain"

// membership holds one experiment's member sets, keyed by entity id.
type membership struct {
	seasons  map[string]struct{}
	sites    map[string]struct{}
	datasets map[string]struct{}
	emitters map[domain.EntityKind]map[string]struct{}
}

func newMembership() *membership {
	return &membership{
		seasons:  make(map[string]struct{}),
		sites:    make(map[string]struct{}),
		datasets: make(map[string]struct{}),
		emitters: make(map[domain.EntityKind]map[string]struct{}),
	}
}

// Projection indexes, per experiment, the entities reachable through a
// direct association. Lookups are O(1) amortized; no join fan-out happens at
// check time. The owner serializes access: Projection carries no lock.
type Projection struct {
	experiments map[string]*membership
	// seasonOwner enforces the season-per-experiment scope at link time.
	seasonOwner map[string]string
}

// New returns an empty projection.
func New() *Projection {
	return &Projection{
		experiments: make(map[string]*membership),
		seasonOwner: make(map[string]string),
	}
}

// EntityLookup resolves an entity id to its kind during rebuilds.
type EntityLookup func(id string) (domain.Entity, bool)

// RebuildExperiment recomputes one experiment's member sets from its
// adjacency set. Called for every link/unlink that touches the experiment.
func (p *Projection) RebuildExperiment(expID string, neighbors map[string]struct{}, lookup EntityLookup) {
	for seasonID, owner := range p.seasonOwner {
		if owner == expID {
			delete(p.seasonOwner, seasonID)
		}
	}
	if len(neighbors) == 0 {
		delete(p.experiments, expID)
		return
	}
	m := newMembership()
	for id := range neighbors {
		ent, ok := lookup(id)
		if !ok {
			continue
		}
		switch ent.Kind {
		case domain.KindSeason:
			m.seasons[id] = struct{}{}
			p.seasonOwner[id] = expID
		case domain.KindSite:
			m.sites[id] = struct{}{}
		}
		if domain.IsEmitterKind(ent.Kind) {
			set := m.emitters[ent.Kind]
			if set == nil {
				set = make(map[string]struct{})
				m.emitters[ent.Kind] = set
			}
			set[id] = struct{}{}
			if ent.Kind == domain.KindDataset {
				m.datasets[id] = struct{}{}
			}
		}
	}
	p.experiments[expID] = m
}

// DropEntity removes a deleted entity from every member set.
func (p *Projection) DropEntity(id string) {
	delete(p.experiments, id)
	delete(p.seasonOwner, id)
	for _, m := range p.experiments {
		delete(m.seasons, id)
		delete(m.sites, id)
		delete(m.datasets, id)
		for _, set := range m.emitters {
			delete(set, id)
		}
	}
}

// SeasonOwner returns the experiment a season currently belongs to.
func (p *Projection) SeasonOwner(seasonID string) (string, bool) {
	exp, ok := p.seasonOwner[seasonID]
	return exp, ok
}

// HasSeason reports whether the season belongs to the experiment.
func (p *Projection) HasSeason(expID, seasonID string) bool {
	m, ok := p.experiments[expID]
	if !ok {
		return false
	}
	_, ok = m.seasons[seasonID]
	return ok
}

// HasSite reports whether the site is associated with the experiment.
func (p *Projection) HasSite(expID, siteID string) bool {
	m, ok := p.experiments[expID]
	if !ok {
		return false
	}
	_, ok = m.sites[siteID]
	return ok
}

// HasDataset reports whether the dataset is associated with the experiment.
func (p *Projection) HasDataset(expID, datasetID string) bool {
	m, ok := p.experiments[expID]
	if !ok {
		return false
	}
	_, ok = m.datasets[datasetID]
	return ok
}

// HasEmitter reports whether the emitter of the given kind is associated
// with the experiment.
func (p *Projection) HasEmitter(expID string, kind domain.EntityKind, emitterID string) bool {
	m, ok := p.experiments[expID]
	if !ok {
		return false
	}
	set, ok := m.emitters[kind]
	if !ok {
		return false
	}
	_, ok = set[emitterID]
	return ok
}
