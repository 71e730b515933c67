// Package records describes the business records the console edits and displays.
// The backend owns the data; records only knows how to label, format and prefill it.
package records

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Record is one backend document as decoded from JSON.
type Record map[string]any

func (r Record) ID() string {
	for _, key := range []string{"id", "_id"} {
		if v, ok := r[key]; ok && v != nil {
			switch id := v.(type) {
			case string:
				return id
			case float64:
				return strconv.FormatFloat(id, 'f', -1, 64)
			default:
				return fmt.Sprint(id)
			}
		}
	}
	return ""
}

func (r Record) String(key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	default:
		return fmt.Sprint(s)
	}
}

func (r Record) Float(key string) float64 {
	f, _ := toFloat(r[key])
	return f
}

func (r Record) Bool(key string) bool {
	switch v := r[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	case float64:
		return v != 0
	}
	return false
}

// Items returns the rows of an items field. Rows that are not objects are skipped.
func (r Record) Items(key string) []Record {
	raw, ok := r[key].([]any)
	if !ok {
		if typed, ok := r[key].([]Record); ok {
			return typed
		}
		if maps, ok := r[key].([]map[string]any); ok {
			out := make([]Record, 0, len(maps))
			for _, m := range maps {
				out = append(out, Record(m))
			}
			return out
		}
		return nil
	}
	out := make([]Record, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, Record(m))
		}
	}
	return out
}

// Clone deep-copies r through JSON so nested rows are not shared.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		out := make(Record, len(r))
		for k, v := range r {
			out[k] = v
		}
		return out
	}
	var out Record
	_ = json.Unmarshal(data, &out)
	return out
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(n), ",", ""), 64)
		return f, err == nil
	}
	return 0, false
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006",
	"2 Jan 2006",
	"02 Jan 2006",
	"Jan 2, 2006",
	"January 2, 2006",
}

// ParseDate accepts the date shapes the backend and spreadsheets produce.
func ParseDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}
