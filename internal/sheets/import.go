package sheets

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/xuri/excelize/v2"

	"github.com/phillip-england/projectdesk/internal/records"
)

type RowError struct {
	Row     int
	Message string
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Row, e.Message)
}

// ImportRecords maps spreadsheet rows onto records of s. The first non-blank row
// is the header; columns are matched to field labels or keys. Row numbers in
// errors are 1-based as shown by spreadsheet programs.
func ImportRecords(s *records.Schema, rows [][]string) ([]records.Record, []RowError) {
	headerAt := -1
	for i, row := range rows {
		if !blankRow(row) {
			headerAt = i
			break
		}
	}
	if headerAt < 0 {
		return nil, []RowError{{Row: 1, Message: "no header row found"}}
	}

	byName := map[string]records.Field{}
	for _, f := range s.Fields {
		if f.Computed || f.Kind == records.KindItems || f.Kind == records.KindRef {
			continue
		}
		byName[normalizeHeader(f.Label)] = f
		byName[normalizeHeader(f.Key)] = f
	}
	columns := map[int]records.Field{}
	for i, h := range rows[headerAt] {
		if f, ok := byName[normalizeHeader(h)]; ok {
			columns[i] = f
		}
	}
	if len(columns) == 0 {
		return nil, []RowError{{Row: headerAt + 1, Message: "no recognised columns in header"}}
	}

	var (
		out  []records.Record
		errs []RowError
	)
	for i := headerAt + 1; i < len(rows); i++ {
		row := rows[i]
		if blankRow(row) {
			continue
		}
		rec := records.Record{}
		var problems []string
		for idx, f := range columns {
			raw := cellValue(row, idx)
			if raw == "" {
				continue
			}
			v, err := convertCell(f, raw)
			if err != nil {
				problems = append(problems, f.Label+": "+err.Error())
				continue
			}
			rec[f.Key] = v
		}
		missing := records.MissingRequired(s, rec)
		if len(missing) > 0 {
			problems = append(problems, "missing "+strings.Join(missing, ", "))
		}
		if len(problems) > 0 {
			// columns is a map, so sort for a stable message
			sort.Strings(problems)
			errs = append(errs, RowError{Row: i + 1, Message: strings.Join(problems, "; ")})
			continue
		}
		out = append(out, rec)
	}
	return out, errs
}

func convertCell(f records.Field, raw string) (any, error) {
	switch f.Kind {
	case records.KindMoney, records.KindNumber, records.KindPercent:
		n, ok := parseAmount(raw)
		if !ok {
			return nil, fmt.Errorf("%q is not a number", raw)
		}
		return n, nil
	case records.KindDate:
		d, ok := NormalizeDate(raw)
		if !ok {
			return nil, fmt.Errorf("%q is not a date", raw)
		}
		return d, nil
	case records.KindSelect:
		for _, opt := range f.Options {
			if strings.EqualFold(opt, raw) {
				return opt, nil
			}
		}
		return raw, nil
	case records.KindBool:
		switch strings.ToLower(raw) {
		case "yes", "y", "true", "1", "x":
			return true, nil
		}
		return false, nil
	}
	return raw, nil
}

// parseAmount reads numbers as people type them into spreadsheets: an optional
// currency prefix or suffix ("Rs.", "INR", "$"), grouping commas and a trailing
// percent sign.
func parseAmount(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	negative := false
	if rest, ok := strings.CutPrefix(s, "-"); ok {
		negative, s = true, rest
	}
	s = trimCurrency(s)
	if rest, ok := strings.CutPrefix(s, "-"); ok && !negative {
		negative, s = true, rest
	}
	s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	s = strings.Map(func(r rune) rune {
		switch r {
		case ',', ' ', '\u00a0':
			return -1
		}
		return r
	}, s)

	digits, dots := 0, 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '.':
			dots++
		default:
			return 0, false
		}
	}
	if digits == 0 || dots > 1 {
		return 0, false
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	if negative {
		n = -n
	}
	return n, true
}

func trimCurrency(s string) string {
	isMark := func(r rune) bool { return unicode.IsLetter(r) || unicode.Is(unicode.Sc, r) }
	if trimmed := strings.TrimLeftFunc(s, isMark); trimmed != s {
		// the dot in "Rs." belongs to the prefix
		s = strings.TrimPrefix(trimmed, ".")
	}
	return strings.TrimSpace(strings.TrimRightFunc(strings.TrimSpace(s), isMark))
}

var dateFormats = []string{
	"2006-01-02",
	"2006/01/02",
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"2 Jan 2006",
	"02 Jan 2006",
	"2 January 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// NormalizeDate converts Excel serials and common layouts to YYYY-MM-DD.
// Slash dates are read day first.
func NormalizeDate(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	// Plain years and small counts are not treated as serials.
	if serial, err := strconv.ParseFloat(value, 64); err == nil {
		if serial >= 20000 && serial <= 80000 {
			if parsed, err := excelize.ExcelDateToTime(serial, false); err == nil {
				return parsed.Format("2006-01-02"), true
			}
		}
		return "", false
	}
	for _, layout := range dateFormats {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.Format("2006-01-02"), true
		}
	}
	return "", false
}

func normalizeHeader(header string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return -1
	}, header)
}

func cellValue(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
