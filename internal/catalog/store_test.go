package catalog

import (
	"context"
	"errors"
	"testing"

	"fieldcore/pkg/domain"
)

func mustCreate(t *testing.T, s *Store, kind domain.EntityKind, name string) domain.Entity {
	t.Helper()
	var created domain.Entity
	err := s.RunInTransaction(context.Background(), func(tx domain.CatalogTransaction) error {
		var txErr error
		created, txErr = tx.CreateEntity(domain.Entity{Kind: kind, Name: name})
		return txErr
	})
	if err != nil {
		t.Fatalf("create %s %q: %v", kind, name, err)
	}
	return created
}

func mustLink(t *testing.T, s *Store, aID, bID string) {
	t.Helper()
	err := s.RunInTransaction(context.Background(), func(tx domain.CatalogTransaction) error {
		return tx.Link(aID, bID)
	})
	if err != nil {
		t.Fatalf("link %s %s: %v", aID, bID, err)
	}
}

func TestCreateEntityDuplicateNamePerKind(t *testing.T) {
	s := NewStore()
	mustCreate(t, s, domain.KindExperiment, "Exp A")

	err := s.RunInTransaction(context.Background(), func(tx domain.CatalogTransaction) error {
		_, txErr := tx.CreateEntity(domain.Entity{Kind: domain.KindExperiment, Name: "Exp A"})
		return txErr
	})
	var dup domain.ErrDuplicateName
	if !errors.As(err, &dup) {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}

	// The same name under a different kind is fine.
	mustCreate(t, s, domain.KindSite, "Exp A")
}

func TestTransactionRollbackLeavesStateUntouched(t *testing.T) {
	s := NewStore()
	failure := errors.New("boom")
	err := s.RunInTransaction(context.Background(), func(tx domain.CatalogTransaction) error {
		if _, txErr := tx.CreateEntity(domain.Entity{Kind: domain.KindSensor, Name: "Cam1"}); txErr != nil {
			return txErr
		}
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("expected the transaction error back, got %v", err)
	}
	if _, ok := s.EntityByName(domain.KindSensor, "Cam1"); ok {
		t.Fatalf("failed transaction must not leave entities behind")
	}
}

func TestPatchEntityAttributesMergesAndDeletes(t *testing.T) {
	s := NewStore()
	ent := mustCreate(t, s, domain.KindSensor, "Cam1")

	err := s.RunInTransaction(context.Background(), func(tx domain.CatalogTransaction) error {
		if _, txErr := tx.PatchEntityAttributes(ent.ID, map[string]any{"vendor": "flir", "fps": 30}); txErr != nil {
			return txErr
		}
		_, txErr := tx.PatchEntityAttributes(ent.ID, map[string]any{"fps": nil, "mount": "gantry"})
		return txErr
	})
	if err != nil {
		t.Fatalf("patch: %v", err)
	}

	got, ok := s.EntityByID(ent.ID)
	if !ok {
		t.Fatalf("entity disappeared")
	}
	if got.Attributes["vendor"] != "flir" || got.Attributes["mount"] != "gantry" {
		t.Fatalf("unexpected attributes: %v", got.Attributes)
	}
	if _, present := got.Attributes["fps"]; present {
		t.Fatalf("nil value must delete the key: %v", got.Attributes)
	}
}

func TestLinkIsIdempotentAndSymmetric(t *testing.T) {
	s := NewStore()
	exp := mustCreate(t, s, domain.KindExperiment, "Exp A")
	site := mustCreate(t, s, domain.KindSite, "Davis")

	mustLink(t, s, exp.ID, site.ID)
	mustLink(t, s, exp.ID, site.ID)
	mustLink(t, s, site.ID, exp.ID)

	if !s.IsLinked(exp.ID, site.ID) || !s.IsLinked(site.ID, exp.ID) {
		t.Fatalf("association must be symmetric")
	}
	linked := s.ListLinked(exp.ID, domain.KindSite)
	if len(linked) != 1 || linked[0].ID != site.ID {
		t.Fatalf("expected exactly one linked site, got %v", linked)
	}
}

func TestUnlinkAbsentIsNoOp(t *testing.T) {
	s := NewStore()
	exp := mustCreate(t, s, domain.KindExperiment, "Exp A")
	site := mustCreate(t, s, domain.KindSite, "Davis")

	err := s.RunInTransaction(context.Background(), func(tx domain.CatalogTransaction) error {
		return tx.Unlink(exp.ID, site.ID)
	})
	if err != nil {
		t.Fatalf("unlink absent: %v", err)
	}
}

func TestSeasonScopedToSingleExperiment(t *testing.T) {
	s := NewStore()
	e1 := mustCreate(t, s, domain.KindExperiment, "Exp A")
	e2 := mustCreate(t, s, domain.KindExperiment, "Exp B")
	season := mustCreate(t, s, domain.KindSeason, "2024")

	mustLink(t, s, e1.ID, season.ID)
	// Relinking to the same experiment stays a no-op.
	mustLink(t, s, e1.ID, season.ID)

	err := s.RunInTransaction(context.Background(), func(tx domain.CatalogTransaction) error {
		return tx.Link(e2.ID, season.ID)
	})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict linking season to second experiment, got %v", err)
	}

	// After unlinking from the first experiment the season is free again.
	if err := s.RunInTransaction(context.Background(), func(tx domain.CatalogTransaction) error {
		return tx.Unlink(e1.ID, season.ID)
	}); err != nil {
		t.Fatalf("unlink: %v", err)
	}
	mustLink(t, s, e2.ID, season.ID)
}

func TestDeleteEntityWithAssociationsFails(t *testing.T) {
	s := NewStore()
	exp := mustCreate(t, s, domain.KindExperiment, "Exp A")
	site := mustCreate(t, s, domain.KindSite, "Davis")
	mustLink(t, s, exp.ID, site.ID)

	err := s.RunInTransaction(context.Background(), func(tx domain.CatalogTransaction) error {
		return tx.DeleteEntity(site.ID)
	})
	var dep domain.ErrHasDependents
	if !errors.As(err, &dep) {
		t.Fatalf("expected ErrHasDependents, got %v", err)
	}

	if err := s.RunInTransaction(context.Background(), func(tx domain.CatalogTransaction) error {
		if txErr := tx.Unlink(exp.ID, site.ID); txErr != nil {
			return txErr
		}
		return tx.DeleteEntity(site.ID)
	}); err != nil {
		t.Fatalf("delete after unlink: %v", err)
	}
	if _, ok := s.EntityByID(site.ID); ok {
		t.Fatalf("entity must be gone after delete")
	}
}

func TestValidCombination(t *testing.T) {
	s := NewStore()
	exp := mustCreate(t, s, domain.KindExperiment, "Exp A")
	season := mustCreate(t, s, domain.KindSeason, "2024")
	site := mustCreate(t, s, domain.KindSite, "Davis")
	dataset := mustCreate(t, s, domain.KindDataset, "RGB")
	sensor := mustCreate(t, s, domain.KindSensor, "Cam1")

	mustLink(t, s, exp.ID, season.ID)
	mustLink(t, s, exp.ID, site.ID)
	mustLink(t, s, exp.ID, dataset.ID)

	emitter := &domain.EmitterRef{Kind: domain.KindSensor, Name: "Cam1"}
	err := s.ValidCombination("Exp A", "2024", "Davis", "RGB", emitter)
	var invalid domain.ErrInvalidCombination
	if !errors.As(err, &invalid) {
		t.Fatalf("expected ErrInvalidCombination for unlinked sensor, got %v", err)
	}

	mustLink(t, s, exp.ID, sensor.ID)
	if err := s.ValidCombination("Exp A", "2024", "Davis", "RGB", emitter); err != nil {
		t.Fatalf("combination should be valid once all links exist: %v", err)
	}
	// The 4-tuple check skips the emitter.
	if err := s.ValidCombination("Exp A", "2024", "Davis", "RGB", nil); err != nil {
		t.Fatalf("4-tuple check: %v", err)
	}

	if err := s.ValidCombination("Exp A", "2024", "Davis", "Thermal", nil); !domain.IsNotFound(err) {
		t.Fatalf("unknown dataset name must be ErrNotFound, got %v", err)
	}
	if err := s.ValidCombination("Nope", "2024", "Davis", "RGB", nil); !domain.IsNotFound(err) {
		t.Fatalf("unknown experiment must be ErrNotFound, got %v", err)
	}
}

func TestValidCombinationNarrowsAfterUnlink(t *testing.T) {
	s := NewStore()
	exp := mustCreate(t, s, domain.KindExperiment, "Exp A")
	season := mustCreate(t, s, domain.KindSeason, "2024")
	site := mustCreate(t, s, domain.KindSite, "Davis")
	dataset := mustCreate(t, s, domain.KindDataset, "RGB")
	mustLink(t, s, exp.ID, season.ID)
	mustLink(t, s, exp.ID, site.ID)
	mustLink(t, s, exp.ID, dataset.ID)

	if err := s.ValidCombination("Exp A", "2024", "Davis", "RGB", nil); err != nil {
		t.Fatalf("combination should be valid: %v", err)
	}
	if err := s.RunInTransaction(context.Background(), func(tx domain.CatalogTransaction) error {
		return tx.Unlink(exp.ID, site.ID)
	}); err != nil {
		t.Fatalf("unlink: %v", err)
	}
	var invalid domain.ErrInvalidCombination
	if err := s.ValidCombination("Exp A", "2024", "Davis", "RGB", nil); !errors.As(err, &invalid) {
		t.Fatalf("expected ErrInvalidCombination after unlink, got %v", err)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	s := NewStore()
	exp := mustCreate(t, s, domain.KindExperiment, "Exp A")
	season := mustCreate(t, s, domain.KindSeason, "2024")
	site := mustCreate(t, s, domain.KindSite, "Davis")
	dataset := mustCreate(t, s, domain.KindDataset, "RGB")
	mustLink(t, s, exp.ID, season.ID)
	mustLink(t, s, exp.ID, site.ID)
	mustLink(t, s, exp.ID, dataset.ID)

	restored := NewStore()
	restored.Import(s.Export())

	if _, ok := restored.EntityByName(domain.KindExperiment, "Exp A"); !ok {
		t.Fatalf("entities must survive the round trip")
	}
	if !restored.IsLinked(exp.ID, site.ID) {
		t.Fatalf("associations must survive the round trip")
	}
	// The projection is rebuilt on import, not serialized.
	if err := restored.ValidCombination("Exp A", "2024", "Davis", "RGB", nil); err != nil {
		t.Fatalf("projection must be rebuilt on import: %v", err)
	}
}
