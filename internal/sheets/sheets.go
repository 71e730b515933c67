// Package sheets reads and writes the spreadsheets the console imports and exports.
package sheets

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"

	"github.com/phillip-england/projectdesk/internal/records"
)

const maxRows = 100000

var ErrEmptySheet = errors.New("worksheet is empty")

// ReadRows returns every row of the first worksheet. Legacy .xls files must hold
// a single sheet.
func ReadRows(reader io.Reader, filename string) ([][]string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xls":
		workbook, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
		if err != nil {
			return nil, fmt.Errorf("open xls: %w", err)
		}
		if workbook.NumSheets() == 0 {
			return nil, errors.New("no worksheet found")
		}
		if workbook.NumSheets() > 1 {
			return nil, errors.New("multiple worksheets found; please upload a file with a single sheet")
		}
		rows := workbook.ReadAllCells(maxRows)
		if len(rows) == 0 {
			return nil, ErrEmptySheet
		}
		return rows, nil
	case ".xlsx", ".xlsm", "":
		file, err := excelize.OpenReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("open xlsx: %w", err)
		}
		defer func() { _ = file.Close() }()

		sheetName := file.GetSheetName(0)
		if sheetName == "" {
			return nil, errors.New("no worksheet found")
		}
		// raw values keep dates as serials and numbers free of display formatting
		rows, err := file.GetRows(sheetName, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, ErrEmptySheet
		}
		return rows, nil
	default:
		return nil, fmt.Errorf("unsupported spreadsheet type %q", filepath.Ext(filename))
	}
}

// WriteXLSX writes one worksheet with a bold, frozen header row.
func WriteXLSX(w io.Writer, sheetName string, headers []string, rows [][]any) error {
	file := excelize.NewFile()
	defer func() { _ = file.Close() }()

	sheet := cleanSheetName(sheetName)
	if err := file.SetSheetName(file.GetSheetName(0), sheet); err != nil {
		return err
	}

	header := make([]any, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	if err := file.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for r, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		values := append([]any(nil), row...)
		if err := file.SetSheetRow(sheet, cell, &values); err != nil {
			return err
		}
		for i, v := range row {
			if i < len(widths) {
				widths[i] = max(widths[i], len(fmt.Sprint(v)))
			}
		}
	}

	if len(headers) > 0 {
		style, err := file.NewStyle(&excelize.Style{
			Font: &excelize.Font{Bold: true},
			Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"E4E7EC"}},
		})
		if err != nil {
			return err
		}
		last, err := excelize.CoordinatesToCellName(len(headers), 1)
		if err != nil {
			return err
		}
		if err := file.SetCellStyle(sheet, "A1", last, style); err != nil {
			return err
		}
		for i, width := range widths {
			col, err := excelize.ColumnNumberToName(i + 1)
			if err != nil {
				return err
			}
			if err := file.SetColWidth(sheet, col, col, float64(min(max(width+2, 8), 60))); err != nil {
				return err
			}
		}
		if err := file.SetPanes(sheet, &excelize.Panes{
			Freeze:      true,
			YSplit:      1,
			TopLeftCell: "A2",
			ActivePane:  "bottomLeft",
		}); err != nil {
			return err
		}
	}
	return file.Write(w)
}

func cleanSheetName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case '[', ']', ':', '*', '?', '/', '\\':
			return '-'
		}
		return r
	}, strings.TrimSpace(name))
	if name == "" {
		return "Sheet1"
	}
	if len(name) > 31 {
		name = name[:31]
	}
	return name
}

// RecordRows lays records out for export: one column per scalar field, numbers
// kept numeric so the spreadsheet can sum them.
func RecordRows(s *records.Schema, recs []records.Record) ([]string, [][]any) {
	var fields []records.Field
	for _, f := range s.Fields {
		if f.Kind == records.KindItems {
			continue
		}
		fields = append(fields, f)
	}
	headers := make([]string, len(fields))
	for i, f := range fields {
		headers[i] = f.Label
	}
	rows := make([][]any, 0, len(recs))
	for _, rec := range recs {
		row := make([]any, len(fields))
		for i, f := range fields {
			switch f.Kind {
			case records.KindMoney, records.KindNumber, records.KindPercent:
				if v, ok := rec[f.Key]; ok && v != nil {
					row[i] = rec.Float(f.Key)
					continue
				}
				row[i] = ""
			default:
				row[i] = records.Display(f, rec[f.Key])
			}
		}
		rows = append(rows, row)
	}
	return headers, rows
}
