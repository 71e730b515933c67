package records

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/phillip-england/projectdesk/internal/richtext"
)

// ComputeTotals fills item amounts and the subtotal/tax/total fields of rec in place.
// The figures are for display; the backend keeps its own.
func ComputeTotals(s *Schema, rec Record) {
	items, ok := s.Field("items")
	if !ok || items.Kind != KindItems {
		return
	}
	var subtotal float64
	rows := rec.Items("items")
	out := make([]any, 0, len(rows))
	for _, row := range rows {
		amount := round2(row.Float("quantity") * row.Float("rate"))
		row["amount"] = amount
		subtotal += amount
		out = append(out, map[string]any(row))
	}
	rec["items"] = out
	subtotal = round2(subtotal)
	tax := round2(subtotal * rec.Float("taxPercent") / 100)
	rec["subtotal"] = subtotal
	rec["taxAmount"] = tax
	rec["total"] = round2(subtotal + tax)
}

// Derive prefills a new target record from a record of the previous workflow stage.
func Derive(target *Schema, sourceName string, source Record) (Record, error) {
	mapping, ok := target.Derive[sourceName]
	if !ok {
		return nil, fmt.Errorf("%s cannot be created from %s", target.Plural, sourceName)
	}
	out := Record{}
	for to, from := range mapping {
		if v, ok := source[from]; ok && v != nil {
			out[to] = Record{"v": v}.Clone()["v"]
		}
	}
	if target.Parent != nil && target.Parent.Entity == sourceName {
		out[target.Parent.Key] = source.ID()
	}
	if target.Name == Revisions.Name {
		out["revisionDate"] = time.Now().Format("2006-01-02")
	}
	ComputeTotals(target, out)
	return out, nil
}

// NextRevisionNumber returns one more than the highest revisionNumber in existing.
func NextRevisionNumber(existing []Record) int {
	highest := 0
	for _, rec := range existing {
		if n := int(rec.Float("revisionNumber")); n > highest {
			highest = n
		}
	}
	return highest + 1
}

// FromValues reads a submitted form into a record. Item rows arrive as parallel
// "<field>.<column>" arrays; rows whose cells are all blank are dropped.
func FromValues(s *Schema, values url.Values) Record {
	rec := Record{}
	for _, f := range s.Fields {
		if f.Computed && f.Kind != KindItems {
			continue
		}
		switch f.Kind {
		case KindItems:
			rec[f.Key] = itemsFromValues(f, values)
		case KindBool:
			v := strings.TrimSpace(values.Get(f.Key))
			rec[f.Key] = v == "on" || v == "true" || v == "1"
		default:
			if _, present := values[f.Key]; !present {
				continue
			}
			if v, ok := scalarFromValue(f, values.Get(f.Key)); ok {
				rec[f.Key] = v
			}
		}
	}
	ComputeTotals(s, rec)
	return rec
}

func scalarFromValue(f Field, raw string) (any, bool) {
	switch f.Kind {
	case KindRichText:
		return richtext.Sanitize(raw), true
	case KindTextarea:
		return strings.TrimRight(raw, " \t\r\n"), true
	}
	raw = strings.TrimSpace(raw)
	switch f.Kind {
	case KindMoney, KindNumber, KindPercent:
		if raw == "" {
			return nil, true
		}
		if n, ok := toFloat(raw); ok {
			return n, true
		}
		return raw, true
	}
	return raw, true
}

func itemsFromValues(f Field, values url.Values) []any {
	count := 0
	for _, col := range f.Columns {
		if n := len(values[f.Key+"."+col.Key]); n > count {
			count = n
		}
	}
	rows := make([]any, 0, count)
	for i := 0; i < count; i++ {
		row := map[string]any{}
		blank := true
		for _, col := range f.Columns {
			if col.Computed {
				continue
			}
			cells := values[f.Key+"."+col.Key]
			raw := ""
			if i < len(cells) {
				raw = cells[i]
			}
			if strings.TrimSpace(raw) != "" {
				blank = false
			}
			if v, ok := scalarFromValue(col, raw); ok && v != nil {
				row[col.Key] = v
			}
		}
		if !blank {
			rows = append(rows, row)
		}
	}
	return rows
}

// MissingRequired lists the labels of required fields left empty in rec.
func MissingRequired(s *Schema, rec Record) []string {
	var missing []string
	for _, f := range s.Fields {
		if !f.Required {
			continue
		}
		if f.Kind == KindItems {
			if len(rec.Items(f.Key)) == 0 {
				missing = append(missing, f.Label)
			}
			continue
		}
		if strings.TrimSpace(rec.String(f.Key)) == "" {
			missing = append(missing, f.Label)
		}
	}
	return missing
}

// FormatNumberCode renders auto numbers such as QT-0012.
func FormatNumberCode(prefix string, n int) string {
	return prefix + "-" + fmt.Sprintf("%04d", n)
}

// ParseNumberCode is the inverse of FormatNumberCode.
func ParseNumberCode(code string) (string, int, bool) {
	prefix, digits, ok := strings.Cut(code, "-")
	if !ok {
		return "", 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return "", 0, false
	}
	return prefix, n, true
}

// NumberPrefixes maps schema name to auto number prefix.
var NumberPrefixes = map[string]string{
	Leads.Name:          "LD",
	Quotations.Name:     "QT",
	Revisions.Name:      "REV",
	Projects.Name:       "PRJ",
	Variations.Name:     "VO",
	SiteVisits.Name:     "SV",
	PurchaseOrders.Name: "PO",
}
