package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"fieldcore/pkg/domain"
)

func TestSnapshotSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.db")

	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	var exp, season, site, dataset domain.Entity
	err = store.RunInTransaction(context.Background(), func(tx domain.CatalogTransaction) error {
		var txErr error
		if exp, txErr = tx.CreateEntity(domain.Entity{Kind: domain.KindExperiment, Name: "Exp A"}); txErr != nil {
			return txErr
		}
		if season, txErr = tx.CreateEntity(domain.Entity{Kind: domain.KindSeason, Name: "2024"}); txErr != nil {
			return txErr
		}
		if site, txErr = tx.CreateEntity(domain.Entity{Kind: domain.KindSite, Name: "Davis"}); txErr != nil {
			return txErr
		}
		if dataset, txErr = tx.CreateEntity(domain.Entity{Kind: domain.KindDataset, Name: "RGB"}); txErr != nil {
			return txErr
		}
		for _, id := range []string{season.ID, site.ID, dataset.ID} {
			if txErr = tx.Link(exp.ID, id); txErr != nil {
				return txErr
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	if _, ok := reopened.EntityByName(domain.KindExperiment, "Exp A"); !ok {
		t.Fatalf("entities must be restored from the snapshot")
	}
	if !reopened.IsLinked(exp.ID, site.ID) {
		t.Fatalf("associations must be restored from the snapshot")
	}
	// The projection is rebuilt on load, so validity checks work immediately.
	if err := reopened.ValidCombination("Exp A", "2024", "Davis", "RGB", nil); err != nil {
		t.Fatalf("projection after reload: %v", err)
	}
}

func TestFailedTransactionWritesNoSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.db")
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	boom := errors.New("boom")
	err = store.RunInTransaction(context.Background(), func(tx domain.CatalogTransaction) error {
		if _, txErr := tx.CreateEntity(domain.Entity{Kind: domain.KindSensor, Name: "Cam1"}); txErr != nil {
			return txErr
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected the transaction error, got %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	if _, ok := reopened.EntityByName(domain.KindSensor, "Cam1"); ok {
		t.Fatalf("rolled-back entity must not be persisted")
	}
}
