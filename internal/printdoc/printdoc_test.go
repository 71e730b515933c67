package printdoc

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phillip-england/projectdesk/internal/diffsummary"
	"github.com/phillip-england/projectdesk/internal/records"
)

func sampleQuotation() records.Record {
	return records.Record{
		"id":            "q1",
		"number":        "QT-0007",
		"customerName":  "Harbour Logistics",
		"projectName":   "Warehouse Extension",
		"quotationDate": "2025-04-02",
		"status":        "Sent",
		"taxPercent":    15.0,
		"items": []any{
			map[string]any{"description": "Steel portal frame", "unit": "t", "quantity": 12.0, "rate": 2100.0},
			map[string]any{"description": "Roof sheeting", "unit": "m2", "quantity": 800.0, "rate": 18.5},
		},
		"scopeOfWork": "<h3>Scope</h3><ul><li>Design</li><li>Erect frame</li></ul><p>Excludes <b>civil works</b>.</p>",
	}
}

func TestFromRecordBuildsSections(t *testing.T) {
	now := time.Date(2025, 4, 3, 0, 0, 0, 0, time.UTC)
	doc := FromRecord(records.Quotations, sampleQuotation(), Options{Now: now})

	assert.Equal(t, "Quotation", doc.Title)
	assert.Equal(t, "QT-0007 · Warehouse Extension", doc.Subtitle)
	assert.Equal(t, "Generated 03 Apr 2025", doc.Footer)
	assert.Equal(t, []KeyValue{{Key: "No.", Value: "QT-0007"}, {Key: "Date", Value: "02 Apr 2025"}, {Key: "Status", Value: "Sent"}}, doc.Meta)

	var headings []string
	for _, s := range doc.Sections {
		headings = append(headings, s.Heading)
	}
	assert.Equal(t, []string{"Details", "Line Items", "Scope of Work"}, headings)

	items := doc.Sections[1].Table
	require.NotNil(t, items)
	assert.Len(t, items.Rows, 2)
	assert.Equal(t, "25,200.00", items.Rows[0][4])
	assert.Equal(t, []KeyValue{
		{Key: "Subtotal", Value: "40,000.00"},
		{Key: "Tax (15%)", Value: "6,000.00"},
		{Key: "Total", Value: "46,000.00"},
	}, items.Totals)

	for _, kv := range doc.Sections[0].Fields {
		assert.NotEqual(t, "Total", kv.Key)
		assert.NotEqual(t, "Status", kv.Key)
	}
}

func TestWithChanges(t *testing.T) {
	doc := WithChanges(Document{}, "Changes", diffsummary.Summary{})
	require.Len(t, doc.Sections, 1)
	assert.Equal(t, "No changes.", doc.Sections[0].Text)

	summary := diffsummary.Compare(records.Quotations, records.Record{"status": "Draft"}, records.Record{"status": "Sent"})
	doc = WithChanges(Document{}, "Changes", summary)
	require.NotNil(t, doc.Sections[0].Table)
	assert.Equal(t, []string{"Status", "Draft", "Sent"}, doc.Sections[0].Table.Rows[0])
}

func TestRenderProducesPDF(t *testing.T) {
	doc := FromRecord(records.Quotations, sampleQuotation(), Options{Letterhead: Letterhead{Name: "ProjectDesk Builders", Address: "1 Quay St"}})
	var buf bytes.Buffer
	res, err := Render(&buf, doc)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pages)
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
}

func TestRenderPaginatesLongTables(t *testing.T) {
	rec := sampleQuotation()
	var rows []any
	for i := 0; i < 120; i++ {
		rows = append(rows, map[string]any{"description": fmt.Sprintf("Line %d %s", i, strings.Repeat("detail ", 8)), "quantity": 1.0, "rate": 10.0})
	}
	rec["items"] = rows
	var buf bytes.Buffer
	res, err := Render(&buf, FromRecord(records.Quotations, rec, Options{}))
	require.NoError(t, err)
	assert.Greater(t, res.Pages, 2)
}

func TestRenderWithLogo(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 1200, 400))
	for x := 0; x < 1200; x++ {
		src.Set(x, x%400, color.RGBA{R: 200, A: 255})
	}
	var raw bytes.Buffer
	require.NoError(t, png.Encode(&raw, src))

	logo, err := DecodeLogo(raw.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 600, logo.Bounds().Dx())
	assert.Equal(t, 200, logo.Bounds().Dy())

	var buf bytes.Buffer
	_, err = Render(&buf, Document{Title: "Site Visit Report", Letterhead: Letterhead{Name: "Co", Logo: logo}})
	require.NoError(t, err)
	assert.NotZero(t, buf.Len())
}

func TestDecodeLogoRejectsGarbage(t *testing.T) {
	_, err := DecodeLogo([]byte("not an image"))
	assert.Error(t, err)
}

func TestRenderSplitsRowsTallerThanAPage(t *testing.T) {
	var before, after strings.Builder
	for i := 1; i <= 60; i++ {
		fmt.Fprintf(&before, "<p>Clause %02d applies to all works.</p>", i)
		fmt.Fprintf(&after, "<p>Clause %02d applies to all works.</p>", i)
	}
	after.WriteString("<p>Clause 61 covers retention.</p>")
	summary := diffsummary.Compare(records.Revisions,
		records.Record{"termsAndConditions": before.String()},
		records.Record{"termsAndConditions": after.String()})
	require.Len(t, summary.Changes, 1)

	var buf bytes.Buffer
	res, err := Render(&buf, WithChanges(Document{Title: "Revision"}, "Changes", summary))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.Pages, 2)
	assert.Less(t, res.Pages, 5)
}

func TestRenderLongLineItemDescription(t *testing.T) {
	rec := sampleQuotation()
	rec["items"] = []any{
		map[string]any{"description": strings.Repeat("reinforced concrete ", 250), "quantity": 1.0, "rate": 10.0},
		map[string]any{"description": "Handover", "quantity": 1.0, "rate": 5.0},
	}
	var buf bytes.Buffer
	res, err := Render(&buf, FromRecord(records.Quotations, rec, Options{}))
	require.NoError(t, err)
	assert.Less(t, res.Pages, 8)
}

func TestRenderLongFieldValue(t *testing.T) {
	doc := Document{Title: "Lead", Sections: []Section{{
		Heading: "Details",
		Fields:  []KeyValue{{Key: "Notes", Value: strings.Repeat("call back after the site survey ", 300)}, {Key: "Status", Value: "Open"}},
	}}}
	var buf bytes.Buffer
	res, err := Render(&buf, doc)
	require.NoError(t, err)
	assert.Less(t, res.Pages, 8)
}

func TestPrintable(t *testing.T) {
	assert.Equal(t, "Rs.5,00,000", printable("₹5,00,000"))
	assert.Equal(t, "Łódź Привет €12", printable("Łódź Привет €12"))
	assert.Equal(t, "ok ?", printable("ok 😀"))
	assert.Equal(t, "a b\nc", printable("a\tb\nc\x07"))
	assert.Equal(t, "???", printable("नमस"))
}

func TestRenderNonLatinText(t *testing.T) {
	doc := Document{Title: "Quotation", Sections: []Section{{
		Heading: "Details",
		Fields:  []KeyValue{{Key: "Customer", Value: "Zoë Müller · Привет 😀"}, {Key: "Amount", Value: "₹1,25,000"}},
		Table: &Table{
			Columns: []Column{{Label: "Описание", Weight: 3}, {Label: "Сумма", Weight: 1, Align: AlignRight}},
			Rows:    [][]string{{"Бетон M20 नमस्ते", "₹500"}},
		},
	}}}
	var buf bytes.Buffer
	res, err := Render(&buf, doc)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pages)
}
