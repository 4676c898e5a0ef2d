package engine

import (
	"context"
	"io"
	"net/url"
	"time"

	"fieldcore/internal/blob"
	"fieldcore/internal/metrics"
	"fieldcore/internal/query"
	"fieldcore/internal/records"
	"fieldcore/pkg/domain"
)

// PayloadUpload carries an inbound file destined for blob storage.
type PayloadUpload struct {
	Reader      io.Reader
	Name        string
	ContentType string
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// InsertRecord validates the record's tuple against the association graph,
// stores the optional payload, and inserts the record. The operation is
// all-or-nothing: a failed blob write aborts before any row exists, and a
// failed insert removes the just-written blob.
func (s *Service) InsertRecord(ctx context.Context, kind domain.RecordKind, rec domain.Record, upload *PayloadUpload) (domain.Record, error) {
	started := time.Now()
	inserted, err := s.insertRecord(ctx, kind, rec, upload)
	metrics.ObserveOperation("insert_record", started, err)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordInserts.WithLabelValues(string(kind), status).Inc()
	return inserted, err
}

func (s *Service) insertRecord(ctx context.Context, kind domain.RecordKind, rec domain.Record, upload *PayloadUpload) (domain.Record, error) {
	store, err := s.records.Store(kind)
	if err != nil {
		return domain.Record{}, err
	}
	// Dataset records emit into their own dataset.
	if kind == domain.RecordDataset && rec.Emitter == "" {
		rec.Emitter = rec.Dataset
	}
	emitter := &domain.EmitterRef{Kind: domain.EmitterKindFor(kind), Name: rec.Emitter}
	if err := s.meta.ValidCombination(rec.Experiment, rec.Season, rec.Site, rec.Dataset, emitter); err != nil {
		return domain.Record{}, err
	}
	if upload != nil {
		counted := &countingReader{r: upload.Reader}
		uri, putErr := s.payloads.Store(ctx, counted, upload.Name, upload.ContentType)
		if putErr != nil {
			return domain.Record{}, domain.ErrPayloadStore{Err: putErr}
		}
		metrics.PayloadBytes.Add(float64(counted.n))
		rec.PayloadRef = uri
	}
	inserted, err := store.Insert(ctx, rec)
	if err != nil {
		if upload != nil && rec.PayloadRef != "" {
			if delErr := s.payloads.Delete(ctx, rec.PayloadRef); delErr != nil {
				s.log.WarnContext(ctx, "orphaned payload after failed insert", "uri", rec.PayloadRef, "error", delErr)
			}
		}
		return domain.Record{}, err
	}
	s.log.InfoContext(ctx, "record inserted", "kind", string(kind), "id", inserted.ID, "dataset", inserted.Dataset)
	return inserted, nil
}

// QueryRecords compiles the wire predicates and opens a streaming cursor.
// The caller owns the cursor and must Close it.
func (s *Service) QueryRecords(ctx context.Context, kind domain.RecordKind, values url.Values) (*records.Cursor, error) {
	filter, err := query.ParseValues(kind, values)
	if err != nil {
		return nil, err
	}
	return s.ScanRecords(ctx, kind, filter)
}

// ScanRecords opens a cursor for an already-parsed filter.
func (s *Service) ScanRecords(ctx context.Context, kind domain.RecordKind, filter domain.RecordFilter) (*records.Cursor, error) {
	store, err := s.records.Store(kind)
	if err != nil {
		return nil, err
	}
	plan, err := query.Compile(kind, filter)
	if err != nil {
		return nil, err
	}
	return store.Scan(ctx, plan)
}

// GetRecord fetches one record by id.
func (s *Service) GetRecord(ctx context.Context, kind domain.RecordKind, id string) (domain.Record, error) {
	store, err := s.records.Store(kind)
	if err != nil {
		return domain.Record{}, err
	}
	return store.GetByID(ctx, id)
}

// PatchRecordInfo merges a partial info map; a nil value removes the key.
// Natural-key fields stay immutable.
func (s *Service) PatchRecordInfo(ctx context.Context, kind domain.RecordKind, id string, partial map[string]any) (domain.Record, error) {
	store, err := s.records.Store(kind)
	if err != nil {
		return domain.Record{}, err
	}
	return store.PatchInfo(ctx, id, partial)
}

// AttachPayload stores a new payload and points the record at it. The
// previous payload, if any, is removed after the reference switch.
func (s *Service) AttachPayload(ctx context.Context, kind domain.RecordKind, id string, upload PayloadUpload) (domain.Record, error) {
	store, err := s.records.Store(kind)
	if err != nil {
		return domain.Record{}, err
	}
	prev, err := store.GetByID(ctx, id)
	if err != nil {
		return domain.Record{}, err
	}
	counted := &countingReader{r: upload.Reader}
	uri, err := s.payloads.Store(ctx, counted, upload.Name, upload.ContentType)
	if err != nil {
		return domain.Record{}, domain.ErrPayloadStore{Err: err}
	}
	metrics.PayloadBytes.Add(float64(counted.n))
	patched, err := store.PatchPayloadRef(ctx, id, uri)
	if err != nil {
		if delErr := s.payloads.Delete(ctx, uri); delErr != nil {
			s.log.WarnContext(ctx, "orphaned payload after failed patch", "uri", uri, "error", delErr)
		}
		return domain.Record{}, err
	}
	if prev.PayloadRef != "" && prev.PayloadRef != uri {
		if delErr := s.payloads.Delete(ctx, prev.PayloadRef); delErr != nil {
			s.log.WarnContext(ctx, "stale payload left behind", "uri", prev.PayloadRef, "error", delErr)
		}
	}
	return patched, nil
}

// DeleteRecord removes a record and its payload, if one is attached.
func (s *Service) DeleteRecord(ctx context.Context, kind domain.RecordKind, id string) error {
	started := time.Now()
	err := s.deleteRecord(ctx, kind, id)
	metrics.ObserveOperation("delete_record", started, err)
	return err
}

func (s *Service) deleteRecord(ctx context.Context, kind domain.RecordKind, id string) error {
	store, err := s.records.Store(kind)
	if err != nil {
		return err
	}
	rec, err := store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := store.Delete(ctx, id); err != nil {
		return err
	}
	if rec.PayloadRef != "" {
		if delErr := s.payloads.Delete(ctx, rec.PayloadRef); delErr != nil {
			s.log.WarnContext(ctx, "payload delete failed", "uri", rec.PayloadRef, "error", delErr)
		}
	}
	return nil
}

// IssueDownload resolves a record's payload to a time-limited signed URL.
func (s *Service) IssueDownload(ctx context.Context, kind domain.RecordKind, id string, ttl time.Duration) (string, error) {
	store, err := s.records.Store(kind)
	if err != nil {
		return "", err
	}
	rec, err := store.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if rec.PayloadRef == "" {
		return "", domain.ErrNotFound{Entity: "payload", Ref: id}
	}
	return s.payloads.IssueDownloadURL(ctx, rec.PayloadRef, ttl)
}

// OpenPayload streams a record's payload content directly.
func (s *Service) OpenPayload(ctx context.Context, kind domain.RecordKind, id string) (blob.Info, io.ReadCloser, error) {
	store, err := s.records.Store(kind)
	if err != nil {
		return blob.Info{}, nil, err
	}
	rec, err := store.GetByID(ctx, id)
	if err != nil {
		return blob.Info{}, nil, err
	}
	if rec.PayloadRef == "" {
		return blob.Info{}, nil, domain.ErrNotFound{Entity: "payload", Ref: id}
	}
	return s.payloads.Open(ctx, rec.PayloadRef)
}
