package query

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"fieldcore/pkg/domain"
)

// ParseValues converts wire query parameters into a RecordFilter. Unknown
// parameter names fail with ErrUnknownField rather than being dropped, so a
// typo never silently widens a result set.
func ParseValues(kind domain.RecordKind, values url.Values) (domain.RecordFilter, error) {
	var f domain.RecordFilter
	for key, vals := range values {
		if len(vals) == 0 || vals[0] == "" {
			continue
		}
		raw := vals[0]
		switch key {
		case domain.FieldTimestampFrom:
			ts, err := parseTimestamp(raw)
			if err != nil {
				return domain.RecordFilter{}, err
			}
			f.TimestampFrom = &ts
		case domain.FieldTimestampTo:
			ts, err := parseTimestamp(raw)
			if err != nil {
				return domain.RecordFilter{}, err
			}
			f.TimestampTo = &ts
		case domain.FieldCollectionDate:
			f.CollectionDate = raw
		case domain.FieldEmitter:
			f.Emitter = raw
		case domain.FieldDataset:
			f.Dataset = raw
		case domain.FieldExperiment:
			f.Experiment = raw
		case domain.FieldSeason:
			f.Season = raw
		case domain.FieldSite:
			f.Site = raw
		case domain.FieldPlot, domain.FieldRow, domain.FieldColumn:
			if kind != domain.RecordSensor {
				return domain.RecordFilter{}, domain.ErrUnknownField{Field: key}
			}
			n, err := strconv.Atoi(raw)
			if err != nil {
				return domain.RecordFilter{}, fmt.Errorf("invalid %s %q: %w", key, raw, err)
			}
			switch key {
			case domain.FieldPlot:
				f.Plot = &n
			case domain.FieldRow:
				f.Row = &n
			default:
				f.Column = &n
			}
		default:
			switch {
			case strings.HasPrefix(key, domain.FieldInfoPrefix):
				if f.Info == nil {
					f.Info = map[string]any{}
				}
				f.Info[strings.TrimPrefix(key, domain.FieldInfoPrefix)] = raw
			case strings.HasPrefix(key, domain.FieldPayloadPrefix):
				if f.Payload == nil {
					f.Payload = map[string]any{}
				}
				f.Payload[strings.TrimPrefix(key, domain.FieldPayloadPrefix)] = raw
			default:
				return domain.RecordFilter{}, domain.ErrUnknownField{Field: key}
			}
		}
	}
	return f, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", raw)
}
