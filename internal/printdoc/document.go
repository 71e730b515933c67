// Package printdoc turns records into a printable document definition and lays
// that definition out as a paginated PDF.
package printdoc

import (
	"image"
	"strings"
	"time"

	"github.com/phillip-england/projectdesk/internal/diffsummary"
	"github.com/phillip-england/projectdesk/internal/records"
	"github.com/phillip-england/projectdesk/internal/richtext"
)

type KeyValue struct {
	Key   string
	Value string
}

type Letterhead struct {
	Name    string
	Address string
	Phone   string
	Email   string
	Logo    image.Image
}

type Align string

const (
	AlignLeft  Align = "L"
	AlignRight Align = "R"
)

type Column struct {
	Label string
	// Weight is the share of the printable width; zero counts as one.
	Weight float64
	Align  Align
}

type Table struct {
	Columns []Column
	Rows    [][]string
	Totals  []KeyValue
}

// Section is one titled part of the body. Fields, Table, Blocks and Text are
// printed in that order when present.
type Section struct {
	Heading string
	Fields  []KeyValue
	Table   *Table
	Blocks  []richtext.Block
	Text    string
}

type Document struct {
	Title      string
	Subtitle   string
	Letterhead Letterhead
	Meta       []KeyValue
	Sections   []Section
	Footer     string
}

type Options struct {
	Letterhead Letterhead
	Footer     string
	Now        time.Time
}

var totalKeys = map[string]bool{"subtotal": true, "taxAmount": true, "total": true, "taxPercent": true}

// FromRecord builds the document for one record of schema s.
func FromRecord(s *records.Schema, rec records.Record, opts Options) Document {
	rec = rec.Clone()
	records.ComputeTotals(s, rec)

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	doc := Document{
		Title:      s.PDFTitle,
		Subtitle:   s.Title(rec),
		Letterhead: opts.Letterhead,
		Footer:     opts.Footer,
	}
	if doc.Title == "" {
		doc.Title = s.Singular
	}
	if doc.Footer == "" {
		doc.Footer = "Generated " + now.Format(records.DisplayDateLayout)
	}

	if number := rec.String(s.NumberField); number != "" {
		doc.Meta = append(doc.Meta, KeyValue{Key: "No.", Value: number})
	}
	for _, f := range s.Fields {
		if f.Kind == records.KindDate {
			if v := records.Display(f, rec[f.Key]); v != "" {
				doc.Meta = append(doc.Meta, KeyValue{Key: f.Label, Value: v})
			}
			break
		}
	}
	if status := rec.String(s.StatusField); status != "" {
		doc.Meta = append(doc.Meta, KeyValue{Key: "Status", Value: status})
	}

	details := Section{Heading: "Details"}
	for _, f := range s.Fields {
		if !f.Scalar() || f.Kind == records.KindRef || f.Key == s.NumberField || f.Key == s.StatusField || totalKeys[f.Key] {
			continue
		}
		if v := records.Display(f, rec[f.Key]); v != "" {
			details.Fields = append(details.Fields, KeyValue{Key: f.Label, Value: v})
		}
	}
	if len(details.Fields) > 0 {
		doc.Sections = append(doc.Sections, details)
	}

	for _, f := range s.Fields {
		switch f.Kind {
		case records.KindItems:
			table := itemsTable(s, f, rec)
			if len(table.Rows) == 0 {
				continue
			}
			doc.Sections = append(doc.Sections, Section{Heading: f.Label, Table: table})
		case records.KindRichText:
			blocks, err := richtext.Parse(rec.String(f.Key))
			if err != nil || len(blocks) == 0 {
				if text := strings.TrimSpace(rec.String(f.Key)); text != "" && err != nil {
					doc.Sections = append(doc.Sections, Section{Heading: f.Label, Text: text})
				}
				continue
			}
			doc.Sections = append(doc.Sections, Section{Heading: f.Label, Blocks: blocks})
		}
	}
	return doc
}

func itemsTable(s *records.Schema, f records.Field, rec records.Record) *Table {
	table := &Table{Rows: records.ItemRows(f, rec)}
	for _, col := range f.Columns {
		c := Column{Label: col.Label, Weight: 1, Align: AlignLeft}
		switch col.Kind {
		case records.KindMoney, records.KindNumber, records.KindPercent:
			c.Align = AlignRight
		}
		if col.Key == "description" {
			c.Weight = 3
		}
		table.Columns = append(table.Columns, c)
	}
	if f.Key != "items" {
		return table
	}
	if _, ok := s.Field("subtotal"); ok {
		table.Totals = append(table.Totals, KeyValue{Key: "Subtotal", Value: records.FormatMoney(rec.Float("subtotal"))})
	}
	if _, ok := s.Field("taxAmount"); ok {
		label := "Tax"
		if pct := rec.Float("taxPercent"); pct != 0 {
			label = "Tax (" + records.Display(records.Field{Kind: records.KindPercent}, pct) + ")"
		}
		table.Totals = append(table.Totals, KeyValue{Key: label, Value: records.FormatMoney(rec.Float("taxAmount"))})
	}
	if _, ok := s.Field("total"); ok {
		table.Totals = append(table.Totals, KeyValue{Key: "Total", Value: records.FormatMoney(rec.Float("total"))})
	}
	return table
}

// WithChanges appends a section listing the field changes in summary.
func WithChanges(doc Document, heading string, summary diffsummary.Summary) Document {
	section := Section{Heading: heading}
	if summary.Empty() {
		section.Text = "No changes."
		doc.Sections = append(doc.Sections, section)
		return doc
	}
	section.Table = &Table{Columns: []Column{
		{Label: "Field", Weight: 1},
		{Label: "Before", Weight: 2},
		{Label: "After", Weight: 2},
	}}
	for _, c := range summary.Changes {
		section.Table.Rows = append(section.Table.Rows, []string{c.Label, c.Before, c.After})
	}
	doc.Sections = append(doc.Sections, section)
	return doc
}
