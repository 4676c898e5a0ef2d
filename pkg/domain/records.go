package domain

import "time"

// RecordKind identifies one of the six parallel record collections.
type RecordKind string

// Record collections, one per emitter kind.
const (
	RecordDataset   RecordKind = "dataset"
	RecordModel     RecordKind = "model"
	RecordProcedure RecordKind = "procedure"
	RecordScript    RecordKind = "script"
	RecordSensor    RecordKind = "sensor"
	RecordTrait     RecordKind = "trait"
)

// RecordKinds lists the collections in a stable order.
var RecordKinds = []RecordKind{
	RecordDataset, RecordModel, RecordProcedure, RecordScript, RecordSensor, RecordTrait,
}

// KnownRecordKind reports whether k names a record collection.
func KnownRecordKind(k RecordKind) bool {
	for _, known := range RecordKinds {
		if known == k {
			return true
		}
	}
	return false
}

// EmitterKindFor maps a record kind to the catalog kind of its emitter.
func EmitterKindFor(k RecordKind) EntityKind {
	switch k {
	case RecordDataset:
		return KindDataset
	case RecordModel:
		return KindModel
	case RecordProcedure:
		return KindProcedure
	case RecordScript:
		return KindScript
	case RecordSensor:
		return KindSensor
	case RecordTrait:
		return KindTrait
	}
	return ""
}

// PlotLocation is the spatial plot reference carried only by sensor records.
type PlotLocation struct {
	Plot   int `json:"plot"`
	Row    int `json:"row"`
	Column int `json:"column"`
}

// Record represents one observation or emission at a point in time. All six
// collections share this shape; only sensor records populate Location.
//
// The natural key is (Timestamp, Emitter, Dataset, Experiment, Season, Site)
// plus the plot triple for sensor records. Natural-key fields are fixed at
// insert; only Info and PayloadRef may be patched afterwards.
type Record struct {
	ID             string         `json:"id"`
	Kind           RecordKind     `json:"kind"`
	Timestamp      time.Time      `json:"timestamp"`
	CollectionDate string         `json:"collection_date"`
	Emitter        string         `json:"emitter_name"`
	Dataset        string         `json:"dataset_name"`
	Experiment     string         `json:"experiment_name"`
	Season         string         `json:"season_name"`
	Site           string         `json:"site_name"`
	Location       *PlotLocation  `json:"location,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
	Info           map[string]any `json:"info,omitempty"`
	PayloadRef     string         `json:"payload_ref,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// CollectionDateLayout is the wire format of the derived collection date.
const CollectionDateLayout = "2006-01-02"

// DefaultCollectionDate derives the collection date from the timestamp.
func DefaultCollectionDate(ts time.Time) string {
	return ts.UTC().Format(CollectionDateLayout)
}

// CloneRecord returns a deep copy of r, including both open maps.
func CloneRecord(r Record) Record {
	cp := r
	if r.Location != nil {
		loc := *r.Location
		cp.Location = &loc
	}
	cp.Payload = cloneMap(r.Payload)
	cp.Info = cloneMap(r.Info)
	return cp
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Representation flattens the record into the wire map emitted one per line
// by the streaming query surface.
func (r Record) Representation() map[string]any {
	rep := map[string]any{
		"id":              r.ID,
		"kind":            string(r.Kind),
		"timestamp":       r.Timestamp.UTC().Format(time.RFC3339Nano),
		"collection_date": r.CollectionDate,
		"emitter_name":    r.Emitter,
		"dataset_name":    r.Dataset,
		"experiment_name": r.Experiment,
		"season_name":     r.Season,
		"site_name":       r.Site,
	}
	if r.Location != nil {
		rep["plot"] = r.Location.Plot
		rep["row"] = r.Location.Row
		rep["column"] = r.Location.Column
	}
	if len(r.Payload) > 0 {
		rep["payload"] = r.Payload
	}
	if len(r.Info) > 0 {
		rep["info"] = r.Info
	}
	if r.PayloadRef != "" {
		rep["payload_ref"] = r.PayloadRef
	}
	return rep
}
