package router

import (
	"time"

	"github.com/jamesprial/admanager-gateway/internal/envelope"
)

const (
	dateLayout       = "2006-01-02"
	defaultDateRange = "LAST_WEEK"
	customDateRange  = "CUSTOM_DATE"
)

// reportDefinition fixes the dimensions and columns of a report type.
type reportDefinition struct {
	dimensions []string
	columns    []string
}

var reportDefinitions = map[string]reportDefinition{
	"campaign_performance": {
		dimensions: []string{"ORDER_ID", "ORDER_NAME", "LINE_ITEM_ID", "LINE_ITEM_NAME"},
		columns: []string{
			"AD_SERVER_IMPRESSIONS",
			"AD_SERVER_CLICKS",
			"AD_SERVER_CTR",
			"AD_SERVER_CPM_AND_CPC_REVENUE",
		},
	},
	"inventory_usage": {
		dimensions: []string{"AD_UNIT_ID", "AD_UNIT_NAME", "CUSTOM_TARGETING_VALUE_ID"},
		columns: []string{
			"TOTAL_LINE_ITEM_LEVEL_IMPRESSIONS",
			"TOTAL_LINE_ITEM_LEVEL_CLICKS",
			"TOTAL_LINE_ITEM_LEVEL_CPM_AND_CPC_REVENUE",
		},
	},
	"creative_performance": {
		dimensions: []string{"CREATIVE_ID", "CREATIVE_NAME", "CREATIVE_TYPE"},
		columns: []string{
			"AD_SERVER_IMPRESSIONS",
			"AD_SERVER_CLICKS",
			"AD_SERVER_CTR",
		},
	},
}

// query builds the reportQuery element. fields may carry date_range, or
// start_date and end_date (YYYY-MM-DD) for a custom range.
func (d reportDefinition) query(fields map[string]any) (map[string]any, error) {
	q := map[string]any{
		"dimensions": toAny(d.dimensions),
		"columns":    toAny(d.columns),
	}

	start, err := dateField(fields, "start_date")
	if err != nil {
		return nil, err
	}
	end, err := dateField(fields, "end_date")
	if err != nil {
		return nil, err
	}

	switch {
	case start != nil || end != nil:
		if start == nil || end == nil {
			return nil, &envelope.DecodeError{Field: "start_date", Reason: "start_date and end_date must be given together"}
		}
		if end.Before(*start) {
			return nil, &envelope.DecodeError{Field: "end_date", Reason: "must not be before start_date"}
		}
		q["dateRangeType"] = customDateRange
		q["startDate"] = adDate(*start)
		q["endDate"] = adDate(*end)
	default:
		rng, err := enumField(fields, "date_range")
		if err != nil {
			return nil, err
		}
		if rng == "" {
			rng = defaultDateRange
		}
		q["dateRangeType"] = rng
	}
	return q, nil
}

func dateField(fields map[string]any, name string) (*time.Time, error) {
	raw, ok := fields[name]
	if !ok || raw == nil {
		return nil, nil
	}
	s, ok := raw.(string)
	if !ok {
		return nil, &envelope.DecodeError{Field: name, Reason: "must be a YYYY-MM-DD date"}
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil, &envelope.DecodeError{Field: name, Reason: "must be a YYYY-MM-DD date"}
	}
	return &t, nil
}

func adDate(t time.Time) map[string]any {
	return map[string]any{
		"year":  t.Year(),
		"month": int(t.Month()),
		"day":   t.Day(),
	}
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
