package validity

import (
	"testing"

	"fieldcore/pkg/domain"
)

func lookupFrom(entities map[string]domain.Entity) EntityLookup {
	return func(id string) (domain.Entity, bool) {
		e, ok := entities[id]
		return e, ok
	}
}

func neighborSet(ids ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func TestRebuildExperimentIndexesDimensions(t *testing.T) {
	entities := map[string]domain.Entity{
		"exp":  {ID: "exp", Kind: domain.KindExperiment, Name: "Exp A"},
		"s24":  {ID: "s24", Kind: domain.KindSeason, Name: "2024"},
		"davi": {ID: "davi", Kind: domain.KindSite, Name: "Davis"},
		"ds":   {ID: "ds", Kind: domain.KindDataset, Name: "RGB"},
		"cam":  {ID: "cam", Kind: domain.KindSensor, Name: "Cam1"},
	}
	p := New()
	p.RebuildExperiment("exp", neighborSet("s24", "davi", "ds", "cam"), lookupFrom(entities))

	if !p.HasSeason("exp", "s24") {
		t.Fatalf("expected season membership")
	}
	if !p.HasSite("exp", "davi") {
		t.Fatalf("expected site membership")
	}
	if !p.HasDataset("exp", "ds") {
		t.Fatalf("expected dataset membership")
	}
	if !p.HasEmitter("exp", domain.KindSensor, "cam") {
		t.Fatalf("expected sensor emitter membership")
	}
	// Datasets are emitters too.
	if !p.HasEmitter("exp", domain.KindDataset, "ds") {
		t.Fatalf("expected dataset emitter membership")
	}
	if p.HasEmitter("exp", domain.KindTrait, "cam") {
		t.Fatalf("sensor must not appear under trait emitters")
	}
}

func TestRebuildExperimentNarrowsOnUnlink(t *testing.T) {
	entities := map[string]domain.Entity{
		"exp": {ID: "exp", Kind: domain.KindExperiment, Name: "Exp A"},
		"s24": {ID: "s24", Kind: domain.KindSeason, Name: "2024"},
		"st":  {ID: "st", Kind: domain.KindSite, Name: "Davis"},
	}
	p := New()
	p.RebuildExperiment("exp", neighborSet("s24", "st"), lookupFrom(entities))
	if !p.HasSite("exp", "st") {
		t.Fatalf("expected site membership before unlink")
	}

	p.RebuildExperiment("exp", neighborSet("s24"), lookupFrom(entities))
	if p.HasSite("exp", "st") {
		t.Fatalf("site membership must disappear after rebuild without the link")
	}
	if !p.HasSeason("exp", "s24") {
		t.Fatalf("season membership must survive the rebuild")
	}
}

func TestSeasonOwnerTracksRebuilds(t *testing.T) {
	entities := map[string]domain.Entity{
		"e1":  {ID: "e1", Kind: domain.KindExperiment, Name: "Exp A"},
		"e2":  {ID: "e2", Kind: domain.KindExperiment, Name: "Exp B"},
		"s24": {ID: "s24", Kind: domain.KindSeason, Name: "2024"},
	}
	p := New()
	p.RebuildExperiment("e1", neighborSet("s24"), lookupFrom(entities))
	owner, ok := p.SeasonOwner("s24")
	if !ok || owner != "e1" {
		t.Fatalf("expected season owner e1, got %q ok=%v", owner, ok)
	}

	// Unlinking from e1 releases the season.
	p.RebuildExperiment("e1", nil, lookupFrom(entities))
	if _, ok := p.SeasonOwner("s24"); ok {
		t.Fatalf("season owner must clear after the experiment drops the link")
	}
	p.RebuildExperiment("e2", neighborSet("s24"), lookupFrom(entities))
	owner, ok = p.SeasonOwner("s24")
	if !ok || owner != "e2" {
		t.Fatalf("expected season owner e2, got %q ok=%v", owner, ok)
	}
}

func TestDropEntityRemovesAllMemberships(t *testing.T) {
	entities := map[string]domain.Entity{
		"e1": {ID: "e1", Kind: domain.KindExperiment, Name: "Exp A"},
		"e2": {ID: "e2", Kind: domain.KindExperiment, Name: "Exp B"},
		"st": {ID: "st", Kind: domain.KindSite, Name: "Davis"},
	}
	p := New()
	p.RebuildExperiment("e1", neighborSet("st"), lookupFrom(entities))
	p.RebuildExperiment("e2", neighborSet("st"), lookupFrom(entities))

	p.DropEntity("st")
	if p.HasSite("e1", "st") || p.HasSite("e2", "st") {
		t.Fatalf("dropped entity must leave every member set")
	}

	p.DropEntity("e1")
	if p.HasSite("e1", "st") {
		t.Fatalf("dropped experiment must lose its membership view")
	}
}
