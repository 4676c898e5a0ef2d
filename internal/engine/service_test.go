package engine

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fieldcore/internal/blob"
	"fieldcore/internal/catalog"
	"fieldcore/internal/records"
	"fieldcore/pkg/domain"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := records.OpenSQLite(filepath.Join(t.TempDir(), "records.db"))
	if err != nil {
		t.Fatalf("open records db: %v", err)
	}
	set, err := records.OpenSet(context.Background(), db, records.SQLiteDialect{})
	if err != nil {
		t.Fatalf("open record set: %v", err)
	}
	svc := New(catalog.NewStore(), set, blob.NewPayloads(blob.NewMemory()), slog.New(slog.DiscardHandler))
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func mustEntity(t *testing.T, svc *Service, kind domain.EntityKind, name string) domain.Entity {
	t.Helper()
	ent, err := svc.CreateEntity(context.Background(), kind, name, nil)
	if err != nil {
		t.Fatalf("create %s %q: %v", kind, name, err)
	}
	return ent
}

func mustLinkSvc(t *testing.T, svc *Service, aID, bID string) {
	t.Helper()
	if err := svc.Link(context.Background(), aID, bID); err != nil {
		t.Fatalf("link: %v", err)
	}
}

// seedTuple creates and links the experiment/season/site/dataset backbone
// the scenario tests share. The sensor entity exists but stays unlinked.
func seedTuple(t *testing.T, svc *Service) (exp, season, site, dataset, sensor domain.Entity) {
	t.Helper()
	exp = mustEntity(t, svc, domain.KindExperiment, "Exp A")
	season = mustEntity(t, svc, domain.KindSeason, "2024")
	site = mustEntity(t, svc, domain.KindSite, "Davis")
	dataset = mustEntity(t, svc, domain.KindDataset, "RGB")
	sensor = mustEntity(t, svc, domain.KindSensor, "Cam1")
	mustLinkSvc(t, svc, exp.ID, season.ID)
	mustLinkSvc(t, svc, exp.ID, site.ID)
	mustLinkSvc(t, svc, exp.ID, dataset.ID)
	return exp, season, site, dataset, sensor
}

func cam1Record(ts time.Time) domain.Record {
	return domain.Record{
		Timestamp:  ts,
		Emitter:    "Cam1",
		Dataset:    "RGB",
		Experiment: "Exp A",
		Season:     "2024",
		Site:       "Davis",
		Location:   &domain.PlotLocation{Plot: 4, Row: 1, Column: 2},
	}
}

func TestInsertLifecycleAcrossValidityAndUniqueness(t *testing.T) {
	svc := newTestService(t)
	exp, _, _, _, sensor := seedTuple(t, svc)
	ts := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)

	// The sensor is not linked yet, so the tuple is invalid.
	_, err := svc.InsertRecord(context.Background(), domain.RecordSensor, cam1Record(ts), nil)
	var invalid domain.ErrInvalidCombination
	if !errors.As(err, &invalid) {
		t.Fatalf("expected ErrInvalidCombination, got %v", err)
	}
	if !strings.Contains(invalid.Missing, "Cam1") {
		t.Fatalf("missing-link detail should name the sensor: %q", invalid.Missing)
	}

	// Linking the sensor makes the same insert valid.
	mustLinkSvc(t, svc, exp.ID, sensor.ID)
	inserted, err := svc.InsertRecord(context.Background(), domain.RecordSensor, cam1Record(ts), nil)
	if err != nil {
		t.Fatalf("insert after link: %v", err)
	}
	if inserted.ID == "" {
		t.Fatalf("expected assigned id")
	}

	// The exact same natural key is write-once.
	_, err = svc.InsertRecord(context.Background(), domain.RecordSensor, cam1Record(ts), nil)
	var dup domain.ErrDuplicateKey
	if !errors.As(err, &dup) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
	if dup.ExistingID != inserted.ID {
		t.Fatalf("duplicate must reference the winning id %s, got %s", inserted.ID, dup.ExistingID)
	}

	// Querying by emitter returns exactly the inserted record.
	other := mustEntity(t, svc, domain.KindSensor, "Cam2")
	mustLinkSvc(t, svc, exp.ID, other.ID)
	rec2 := cam1Record(ts.Add(time.Minute))
	rec2.Emitter = "Cam2"
	if _, err := svc.InsertRecord(context.Background(), domain.RecordSensor, rec2, nil); err != nil {
		t.Fatalf("insert Cam2 record: %v", err)
	}
	cursor, err := svc.QueryRecords(context.Background(), domain.RecordSensor, url.Values{"emitter_name": {"Cam1"}})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	var got []domain.Record
	if err := cursor.ForEach(context.Background(), func(rec domain.Record) (bool, error) {
		got = append(got, rec)
		return true, nil
	}); err != nil {
		t.Fatalf("stream: %v", err)
	}
	if len(got) != 1 || got[0].ID != inserted.ID {
		t.Fatalf("expected exactly the Cam1 record, got %v", got)
	}

	// Patching info merges while natural-key fields stay put.
	patched, err := svc.PatchRecordInfo(context.Background(), domain.RecordSensor, inserted.ID, map[string]any{"reviewed": true})
	if err != nil {
		t.Fatalf("patch info: %v", err)
	}
	if patched.Info["reviewed"] != true {
		t.Fatalf("info not merged: %v", patched.Info)
	}
	if !patched.Timestamp.Equal(ts) || patched.Emitter != "Cam1" || patched.Site != "Davis" {
		t.Fatalf("natural-key fields must be unchanged: %+v", patched)
	}
}

func TestInsertDatasetRecordDefaultsEmitterToDataset(t *testing.T) {
	svc := newTestService(t)
	seedTuple(t, svc)

	rec := domain.Record{
		Timestamp:  time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		Dataset:    "RGB",
		Experiment: "Exp A",
		Season:     "2024",
		Site:       "Davis",
	}
	inserted, err := svc.InsertRecord(context.Background(), domain.RecordDataset, rec, nil)
	if err != nil {
		t.Fatalf("insert dataset record: %v", err)
	}
	if inserted.Emitter != "RGB" {
		t.Fatalf("expected dataset as emitter, got %q", inserted.Emitter)
	}
}

func TestInsertWithPayloadStoresBlobFirst(t *testing.T) {
	svc := newTestService(t)
	exp, _, _, _, sensor := seedTuple(t, svc)
	mustLinkSvc(t, svc, exp.ID, sensor.ID)

	ts := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
	inserted, err := svc.InsertRecord(context.Background(), domain.RecordSensor, cam1Record(ts), &PayloadUpload{
		Reader:      strings.NewReader("pixels"),
		Name:        "frame.png",
		ContentType: "image/png",
	})
	if err != nil {
		t.Fatalf("insert with payload: %v", err)
	}
	if !strings.HasPrefix(inserted.PayloadRef, "blob://") {
		t.Fatalf("expected payload ref, got %q", inserted.PayloadRef)
	}

	info, body, err := svc.OpenPayload(context.Background(), domain.RecordSensor, inserted.ID)
	if err != nil {
		t.Fatalf("open payload: %v", err)
	}
	_ = body.Close()
	if info.ContentType != "image/png" {
		t.Fatalf("unexpected content type %q", info.ContentType)
	}
}

func TestInsertRemovesPayloadWhenRecordWriteFails(t *testing.T) {
	svc := newTestService(t)
	exp, _, _, _, sensor := seedTuple(t, svc)
	mustLinkSvc(t, svc, exp.ID, sensor.ID)

	ts := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
	if _, err := svc.InsertRecord(context.Background(), domain.RecordSensor, cam1Record(ts), nil); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// The duplicate insert fails after its payload was written; the blob
	// must not linger.
	_, err := svc.InsertRecord(context.Background(), domain.RecordSensor, cam1Record(ts), &PayloadUpload{
		Reader: strings.NewReader("pixels"),
		Name:   "dup.png",
	})
	var dup domain.ErrDuplicateKey
	if !errors.As(err, &dup) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
	infos, err := svc.payloads.Backend().List(context.Background(), "")
	if err != nil {
		t.Fatalf("list blobs: %v", err)
	}
	if len(infos) != 0 {
		t.Fatalf("orphaned payloads left behind: %v", infos)
	}
}

func TestDeleteRecordRemovesPayload(t *testing.T) {
	svc := newTestService(t)
	exp, _, _, _, sensor := seedTuple(t, svc)
	mustLinkSvc(t, svc, exp.ID, sensor.ID)

	ts := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
	inserted, err := svc.InsertRecord(context.Background(), domain.RecordSensor, cam1Record(ts), &PayloadUpload{
		Reader: strings.NewReader("pixels"),
		Name:   "frame.png",
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := svc.DeleteRecord(context.Background(), domain.RecordSensor, inserted.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.GetRecord(context.Background(), domain.RecordSensor, inserted.ID); !domain.IsNotFound(err) {
		t.Fatalf("record must be gone, got %v", err)
	}
	infos, err := svc.payloads.Backend().List(context.Background(), "")
	if err != nil {
		t.Fatalf("list blobs: %v", err)
	}
	if len(infos) != 0 {
		t.Fatalf("payload must be deleted with the record: %v", infos)
	}
}

func TestAttachPayloadReplacesPrevious(t *testing.T) {
	svc := newTestService(t)
	exp, _, _, _, sensor := seedTuple(t, svc)
	mustLinkSvc(t, svc, exp.ID, sensor.ID)

	ts := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
	inserted, err := svc.InsertRecord(context.Background(), domain.RecordSensor, cam1Record(ts), &PayloadUpload{
		Reader: strings.NewReader("v1"),
		Name:   "frame.png",
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	patched, err := svc.AttachPayload(context.Background(), domain.RecordSensor, inserted.ID, PayloadUpload{
		Reader: strings.NewReader("v2"),
		Name:   "frame2.png",
	})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if patched.PayloadRef == inserted.PayloadRef {
		t.Fatalf("payload ref must change")
	}
	infos, err := svc.payloads.Backend().List(context.Background(), "")
	if err != nil {
		t.Fatalf("list blobs: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("previous payload must be removed, got %v", infos)
	}
}

func TestDownloadURLRequiresPayload(t *testing.T) {
	svc := newTestService(t)
	exp, _, _, _, sensor := seedTuple(t, svc)
	mustLinkSvc(t, svc, exp.ID, sensor.ID)

	ts := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
	inserted, err := svc.InsertRecord(context.Background(), domain.RecordSensor, cam1Record(ts), nil)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := svc.IssueDownload(context.Background(), domain.RecordSensor, inserted.ID, time.Minute); !domain.IsNotFound(err) {
		t.Fatalf("expected not found without payload, got %v", err)
	}
}

func TestDeleteEntityBlockedByRecords(t *testing.T) {
	svc := newTestService(t)
	exp, _, _, _, sensor := seedTuple(t, svc)
	mustLinkSvc(t, svc, exp.ID, sensor.ID)

	ts := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
	inserted, err := svc.InsertRecord(context.Background(), domain.RecordSensor, cam1Record(ts), nil)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Unlink first so only the record blocks deletion.
	if err := svc.Unlink(context.Background(), exp.ID, sensor.ID); err != nil {
		t.Fatalf("unlink: %v", err)
	}
	err = svc.DeleteEntity(context.Background(), sensor.ID)
	var dep domain.ErrHasDependents
	if !errors.As(err, &dep) {
		t.Fatalf("expected ErrHasDependents while a record names the sensor, got %v", err)
	}

	if err := svc.DeleteRecord(context.Background(), domain.RecordSensor, inserted.ID); err != nil {
		t.Fatalf("delete record: %v", err)
	}
	if err := svc.DeleteEntity(context.Background(), sensor.ID); err != nil {
		t.Fatalf("delete entity after record removal: %v", err)
	}
}

func TestQueryRejectsUnknownField(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.QueryRecords(context.Background(), domain.RecordTrait, url.Values{"emiter_name": {"x"}})
	var unknown domain.ErrUnknownField
	if !errors.As(err, &unknown) {
		t.Fatalf("expected ErrUnknownField, got %v", err)
	}
}
