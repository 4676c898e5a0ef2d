// Package domain defines the core catalog entities, record types, filter
// vocabulary, and error taxonomy used by fieldcore.
package domain

import "time"

// EntityKind identifies the kind of a catalog entity.
type EntityKind string

// Supported entity kinds. Name uniqueness is enforced per kind, so two kinds
// may share a name.
const (
	// KindExperiment identifies a research experiment.
	KindExperiment EntityKind = "experiment"
	// KindSeason identifies a growing season scoped to one experiment.
	KindSeason EntityKind = "season"
	// KindSite identifies a physical research site.
	KindSite EntityKind = "site"
	// KindDataset identifies a named dataset.
	KindDataset EntityKind = "dataset"
	// KindSensor identifies a sensor emitter.
	KindSensor EntityKind = "sensor"
	// KindTrait identifies a trait emitter.
	KindTrait EntityKind = "trait"
	// KindProcedure identifies a procedure emitter.
	KindProcedure EntityKind = "procedure"
	// KindScript identifies a script emitter.
	KindScript EntityKind = "script"
	// KindModel identifies a model emitter.
	KindModel EntityKind = "model"
	// KindPlot identifies a field plot.
	KindPlot EntityKind = "plot"
	// KindPlant identifies an individual plant.
	KindPlant EntityKind = "plant"
	// KindCultivar identifies a cultivar.
	KindCultivar EntityKind = "cultivar"
)

// EntityKinds lists every catalog kind in a stable order.
var EntityKinds = []EntityKind{
	KindExperiment, KindSeason, KindSite, KindDataset,
	KindSensor, KindTrait, KindProcedure, KindScript, KindModel,
	KindPlot, KindPlant, KindCultivar,
}

// EmitterKinds lists the kinds whose entities generate records.
var EmitterKinds = []EntityKind{
	KindSensor, KindTrait, KindProcedure, KindScript, KindModel, KindDataset,
}

// IsEmitterKind reports whether k produces records.
func IsEmitterKind(k EntityKind) bool {
	for _, e := range EmitterKinds {
		if e == k {
			return true
		}
	}
	return false
}

// KnownEntityKind reports whether k is a catalog kind.
func KnownEntityKind(k EntityKind) bool {
	for _, known := range EntityKinds {
		if known == k {
			return true
		}
	}
	return false
}

// Entity is a named, identified object in the catalog. Kind-specific
// information lives in the open attribute bag rather than per-kind structs.
type Entity struct {
	ID         string         `json:"id"`
	Kind       EntityKind     `json:"kind"`
	Name       string         `json:"name"`
	Attributes map[string]any `json:"attributes,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// CloneEntity returns a deep copy of e, including the attribute bag.
func CloneEntity(e Entity) Entity {
	cp := e
	if e.Attributes != nil {
		cp.Attributes = make(map[string]any, len(e.Attributes))
		for k, v := range e.Attributes {
			cp.Attributes[k] = v
		}
	}
	return cp
}

// Association is an undirected membership link between two entities. It
// carries no payload; creating an existing association is a no-op.
type Association struct {
	A string `json:"a"`
	B string `json:"b"`
}

// Normalize orders the pair so the same link always serializes identically.
func (a Association) Normalize() Association {
	if a.B < a.A {
		return Association{A: a.B, B: a.A}
	}
	return a
}
