package domain

import "time"

// Filter field names accepted by the query surface. The dotted prefixes
// address individual keys inside the open maps (`info.reviewed=true`).
const (
	FieldTimestampFrom  = "timestamp_from"
	FieldTimestampTo    = "timestamp_to"
	FieldCollectionDate = "collection_date"
	FieldEmitter        = "emitter_name"
	FieldDataset        = "dataset_name"
	FieldExperiment     = "experiment_name"
	FieldSeason         = "season_name"
	FieldSite           = "site_name"
	FieldPlot           = "plot"
	FieldRow            = "row"
	FieldColumn         = "column"
	FieldInfoPrefix     = "info."
	FieldPayloadPrefix  = "payload."
)

// RecordFilter is a sparse predicate set over the common record fields. A nil
// or zero field imposes no constraint; a set field must match exactly (or,
// for the timestamp range, contain the record's timestamp). Predicates
// compose with logical AND.
//
// Map predicates (Info, Payload) match on field-level equality against the
// record's open maps. They cannot use an index and are applied as a
// post-filter during cursor iteration, which is documented as the slow path.
type RecordFilter struct {
	TimestampFrom  *time.Time     `json:"timestamp_from,omitempty"`
	TimestampTo    *time.Time     `json:"timestamp_to,omitempty"`
	CollectionDate string         `json:"collection_date,omitempty"`
	Emitter        string         `json:"emitter_name,omitempty"`
	Dataset        string         `json:"dataset_name,omitempty"`
	Experiment     string         `json:"experiment_name,omitempty"`
	Season         string         `json:"season_name,omitempty"`
	Site           string         `json:"site_name,omitempty"`
	Plot           *int           `json:"plot,omitempty"`
	Row            *int           `json:"row,omitempty"`
	Column         *int           `json:"column,omitempty"`
	Info           map[string]any `json:"info,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
}

// UsesPlotFields reports whether any sensor-only predicate is set.
func (f RecordFilter) UsesPlotFields() bool {
	return f.Plot != nil || f.Row != nil || f.Column != nil
}
