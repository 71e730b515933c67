package records

import (
	"math"
	"strconv"
	"strings"

	"github.com/phillip-england/projectdesk/internal/richtext"
)

const DisplayDateLayout = "02 Jan 2006"

// FormatMoney renders v with two decimals and thousands separators.
func FormatMoney(v float64) string {
	neg := v < 0
	s := strconv.FormatFloat(math.Abs(round2(v)), 'f', 2, 64)
	whole, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	for i, c := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	out := b.String() + "." + frac
	if neg {
		return "-" + out
	}
	return out
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Display formats one field value for tables, detail pages and PDFs.
func Display(f Field, value any) string {
	if value == nil {
		return ""
	}
	rec := Record{"v": value}
	switch f.Kind {
	case KindMoney:
		n, ok := toFloat(value)
		if !ok {
			return rec.String("v")
		}
		return FormatMoney(n)
	case KindNumber:
		n, ok := toFloat(value)
		if !ok {
			return rec.String("v")
		}
		return formatNumber(n)
	case KindPercent:
		n, ok := toFloat(value)
		if !ok {
			return rec.String("v")
		}
		return formatNumber(n) + "%"
	case KindDate:
		raw := rec.String("v")
		if t, ok := ParseDate(raw); ok {
			return t.Format(DisplayDateLayout)
		}
		return raw
	case KindBool:
		if rec.Bool("v") {
			return "Yes"
		}
		return "No"
	case KindRichText:
		return richtext.PlainText(rec.String("v"))
	case KindItems:
		n := len(rec.Items("v"))
		if n == 1 {
			return "1 row"
		}
		return strconv.Itoa(n) + " rows"
	}
	return strings.TrimSpace(rec.String("v"))
}

// FormValue is the value an input control is prefilled with.
func FormValue(f Field, value any) string {
	if value == nil {
		return ""
	}
	rec := Record{"v": value}
	switch f.Kind {
	case KindDate:
		raw := rec.String("v")
		if t, ok := ParseDate(raw); ok {
			return t.Format("2006-01-02")
		}
		return raw
	case KindMoney, KindNumber, KindPercent:
		if n, ok := toFloat(value); ok {
			return formatNumber(n)
		}
	}
	return rec.String("v")
}

// ItemRows renders an items field as display strings, one slice per row.
func ItemRows(f Field, rec Record) [][]string {
	rows := rec.Items(f.Key)
	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		cells := make([]string, len(f.Columns))
		for i, col := range f.Columns {
			cells[i] = Display(col, row[col.Key])
		}
		out = append(out, cells)
	}
	return out
}
