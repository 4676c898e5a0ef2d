// Package query compiles sparse record filters into index-assisted scan
// plans. Named scalar predicates become WHERE fragments over the record
// tables' indexed columns; open-map predicates cannot use an index and
// compile to post-filters applied during cursor iteration.
package query

import (
	"fmt"
	"reflect"
	"time"

	"fieldcore/pkg/domain"
)

// PostFilter is a predicate applied to each scanned record after the indexed
// WHERE clauses have narrowed the scan.
type PostFilter func(domain.Record) bool

// Plan is a deterministic scan plan over one record collection. Where
// fragments use `?` placeholders and compose with AND; ordering is fixed at
// (timestamp, id) ascending for stable streaming.
type Plan struct {
	Kind  domain.RecordKind
	Where []string
	Args  []any
	Post  []PostFilter
}

// Compile translates a sparse filter into a plan. An omitted field imposes
// no constraint; a present field must match exactly, or for the timestamp
// range, contain the record's timestamp. Sensor-only plot predicates on any
// other kind are rejected as unknown fields.
func Compile(kind domain.RecordKind, f domain.RecordFilter) (Plan, error) {
	if !domain.KnownRecordKind(kind) {
		return Plan{}, fmt.Errorf("unknown record kind %q", kind)
	}
	if kind != domain.RecordSensor && f.UsesPlotFields() {
		field := domain.FieldPlot
		switch {
		case f.Row != nil:
			field = domain.FieldRow
		case f.Column != nil:
			field = domain.FieldColumn
		}
		if f.Plot != nil {
			field = domain.FieldPlot
		}
		return Plan{}, domain.ErrUnknownField{Field: field}
	}

	plan := Plan{Kind: kind}
	where := func(clause string, arg any) {
		plan.Where = append(plan.Where, clause)
		plan.Args = append(plan.Args, arg)
	}

	if f.TimestampFrom != nil {
		where("ts_ns >= ?", f.TimestampFrom.UnixNano())
	}
	if f.TimestampTo != nil {
		where("ts_ns <= ?", f.TimestampTo.UnixNano())
	}
	if f.CollectionDate != "" {
		if _, err := time.Parse(domain.CollectionDateLayout, f.CollectionDate); err != nil {
			return Plan{}, fmt.Errorf("invalid collection date %q: %w", f.CollectionDate, err)
		}
		where("collection_date = ?", f.CollectionDate)
	}
	if f.Emitter != "" {
		where("emitter_name = ?", f.Emitter)
	}
	if f.Dataset != "" {
		where("dataset_name = ?", f.Dataset)
	}
	if f.Experiment != "" {
		where("experiment_name = ?", f.Experiment)
	}
	if f.Season != "" {
		where("season_name = ?", f.Season)
	}
	if f.Site != "" {
		where("site_name = ?", f.Site)
	}
	if f.Plot != nil {
		where("plot = ?", *f.Plot)
	}
	if f.Row != nil {
		where("row_num = ?", *f.Row)
	}
	if f.Column != nil {
		where("col_num = ?", *f.Column)
	}

	if len(f.Info) > 0 {
		want := cloneFilterMap(f.Info)
		plan.Post = append(plan.Post, func(r domain.Record) bool {
			return containsAll(r.Info, want)
		})
	}
	if len(f.Payload) > 0 {
		want := cloneFilterMap(f.Payload)
		plan.Post = append(plan.Post, func(r domain.Record) bool {
			return containsAll(r.Payload, want)
		})
	}
	return plan, nil
}

// Matches applies the plan's post-filters to a record.
func (p Plan) Matches(r domain.Record) bool {
	for _, post := range p.Post {
		if !post(r) {
			return false
		}
	}
	return true
}

// containsAll implements the containment operator for map fields: every
// wanted key must be present with an equal value.
func containsAll(have map[string]any, want map[string]any) bool {
	for k, v := range want {
		got, ok := have[k]
		if !ok || !valuesEqual(got, v) {
			return false
		}
	}
	return true
}

// valuesEqual compares loosely across the representations JSON decoding and
// query-parameter parsing produce for the same value.
func valuesEqual(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func cloneFilterMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
