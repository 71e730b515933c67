package printdoc

import (
	"bytes"
	"fmt"
	"image/png"
	"io"
	"strconv"
	"strings"

	"github.com/go-pdf/fpdf"

	"github.com/phillip-england/projectdesk/internal/richtext"
)

const (
	marginX      = 15.0
	marginTop    = 15.0
	marginBottom = 18.0
	lineHeight   = 5.0
)

// Result describes a rendered document.
type Result struct {
	Pages int
}

type renderer struct {
	pdf *fpdf.Fpdf
	tr  func(string) string
	doc Document
}

// Render lays doc out on A4 pages and writes the PDF to w.
func Render(w io.Writer, doc Document) (Result, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(marginX, marginTop, marginX)
	pdf.SetAutoPageBreak(true, marginBottom)
	pdf.AliasNbPages("")
	pdf.SetTitle(doc.Title, true)
	pdf.SetCreator("projectdesk", true)
	if doc.Letterhead.Name != "" {
		pdf.SetAuthor(doc.Letterhead.Name, true)
	}

	registerFonts(pdf)
	r := &renderer{pdf: pdf, tr: printable, doc: doc}
	if doc.Letterhead.Logo != nil {
		var buf bytes.Buffer
		if err := png.Encode(&buf, doc.Letterhead.Logo); err != nil {
			return Result{}, fmt.Errorf("encode logo: %w", err)
		}
		pdf.RegisterImageOptionsReader("logo", fpdf.ImageOptions{ImageType: "PNG"}, &buf)
	}
	pdf.SetHeaderFunc(r.header)
	pdf.SetFooterFunc(r.footer)

	pdf.AddPage()
	r.titleBlock()
	for _, section := range doc.Sections {
		r.section(section)
	}
	if err := pdf.Error(); err != nil {
		return Result{}, fmt.Errorf("layout pdf: %w", err)
	}
	pages := pdf.PageCount()
	if err := pdf.Output(w); err != nil {
		return Result{}, fmt.Errorf("write pdf: %w", err)
	}
	return Result{Pages: pages}, nil
}

func (r *renderer) width() float64 {
	pageW, _ := r.pdf.GetPageSize()
	return pageW - 2*marginX
}

func (r *renderer) bottom() float64 {
	_, pageH := r.pdf.GetPageSize()
	return pageH - marginBottom
}

func (r *renderer) header() {
	pdf := r.pdf
	lh := r.doc.Letterhead
	left, _, _, _ := pdf.GetMargins()
	pdf.SetLeftMargin(marginX)
	pdf.SetX(marginX)
	defer pdf.SetLeftMargin(left)
	if pdf.PageNo() > 1 {
		pdf.SetFont(bodyFont, "", 8)
		pdf.SetTextColor(110, 110, 110)
		pdf.CellFormat(r.width()/2, 4, r.tr(lh.Name), "", 0, "L", false, 0, "")
		pdf.CellFormat(r.width()/2, 4, r.tr(strings.TrimSpace(r.doc.Title+" "+r.doc.Subtitle)), "", 1, "R", false, 0, "")
		r.rule(0.2)
		pdf.Ln(3)
		pdf.SetTextColor(0, 0, 0)
		return
	}

	textX := marginX
	top := pdf.GetY()
	if lh.Logo != nil {
		b := lh.Logo.Bounds()
		h := 16.0
		w := h * float64(b.Dx()) / float64(max(b.Dy(), 1))
		if w > 50 {
			w = 50
			h = w * float64(b.Dy()) / float64(max(b.Dx(), 1))
		}
		pdf.ImageOptions("logo", marginX, top, w, h, false, fpdf.ImageOptions{ImageType: "PNG"}, 0, "")
		textX = marginX + w + 4
	}
	pdf.SetXY(textX, top)
	pdf.SetFont(bodyFont, "B", 14)
	pdf.CellFormat(0, 7, r.tr(lh.Name), "", 1, "L", false, 0, "")
	pdf.SetFont(bodyFont, "", 8)
	pdf.SetTextColor(90, 90, 90)
	for _, line := range []string{lh.Address, joinNonEmpty(" · ", lh.Phone, lh.Email)} {
		if line == "" {
			continue
		}
		pdf.SetX(textX)
		pdf.MultiCell(0, 4, r.tr(line), "", "L", false)
	}
	pdf.SetTextColor(0, 0, 0)
	if lh.Logo != nil && pdf.GetY() < top+17 {
		pdf.SetY(top + 17)
	}
	pdf.Ln(1)
	r.rule(0.4)
	pdf.Ln(4)
}

func (r *renderer) footer() {
	pdf := r.pdf
	pdf.SetY(-12)
	pdf.SetFont(bodyFont, "", 8)
	pdf.SetTextColor(120, 120, 120)
	pdf.CellFormat(r.width()/2, 5, r.tr(r.doc.Footer), "", 0, "L", false, 0, "")
	pdf.CellFormat(r.width()/2, 5, "Page "+strconv.Itoa(pdf.PageNo())+" of {nb}", "", 0, "R", false, 0, "")
	pdf.SetTextColor(0, 0, 0)
}

func (r *renderer) rule(width float64) {
	pdf := r.pdf
	y := pdf.GetY()
	pdf.SetLineWidth(width)
	pdf.SetDrawColor(160, 160, 160)
	pdf.Line(marginX, y, marginX+r.width(), y)
	pdf.SetLineWidth(0.2)
	pdf.SetDrawColor(0, 0, 0)
}

func (r *renderer) titleBlock() {
	pdf := r.pdf
	pdf.SetFont(bodyFont, "B", 16)
	pdf.CellFormat(0, 8, r.tr(r.doc.Title), "", 1, "L", false, 0, "")
	if r.doc.Subtitle != "" {
		pdf.SetFont(bodyFont, "", 11)
		pdf.MultiCell(0, 5.5, r.tr(r.doc.Subtitle), "", "L", false)
	}
	if len(r.doc.Meta) > 0 {
		pdf.Ln(1)
		pdf.SetFont(bodyFont, "", 9)
		parts := make([]string, 0, len(r.doc.Meta))
		for _, kv := range r.doc.Meta {
			parts = append(parts, kv.Key+" "+kv.Value)
		}
		pdf.SetTextColor(70, 70, 70)
		pdf.MultiCell(0, 4.5, r.tr(strings.Join(parts, "   |   ")), "", "L", false)
		pdf.SetTextColor(0, 0, 0)
	}
	pdf.Ln(3)
}

func (r *renderer) section(s Section) {
	pdf := r.pdf
	// Keep a heading with at least a couple of lines of its content.
	if pdf.GetY()+18 > r.bottom() {
		pdf.AddPage()
	}
	if s.Heading != "" {
		pdf.SetFont(bodyFont, "B", 11)
		pdf.SetFillColor(238, 240, 243)
		pdf.CellFormat(0, 7, r.tr(s.Heading), "", 1, "L", true, 0, "")
		pdf.Ln(2)
	}
	if len(s.Fields) > 0 {
		r.fields(s.Fields)
	}
	if s.Table != nil {
		r.table(s.Table.Columns, s.Table.Rows, true)
		r.totals(s.Table.Totals)
	}
	if len(s.Blocks) > 0 {
		r.blocks(s.Blocks)
	}
	if s.Text != "" {
		pdf.SetFont(bodyFont, "", 10)
		pdf.MultiCell(0, lineHeight, r.tr(s.Text), "", "L", false)
	}
	pdf.Ln(4)
}

func (r *renderer) fields(fields []KeyValue) {
	pdf := r.pdf
	labelW := 45.0
	valueW := r.width() - labelW
	for _, kv := range fields {
		pdf.SetFont(bodyFont, "", 10)
		lines := pdf.SplitText(r.tr(kv.Value), valueW)
		h := float64(max(len(lines), 1)) * lineHeight
		if pdf.GetY()+h > r.bottom() && h <= r.pageCapacity() {
			pdf.AddPage()
		}
		y := pdf.GetY()
		pdf.SetFont(bodyFont, "B", 9)
		pdf.SetTextColor(80, 80, 80)
		pdf.CellFormat(labelW, lineHeight, r.tr(kv.Key), "", 0, "L", false, 0, "")
		pdf.SetTextColor(0, 0, 0)
		pdf.SetFont(bodyFont, "", 10)
		page := pdf.PageNo()
		pdf.SetXY(marginX+labelW, y)
		// values taller than a page flow on through MultiCell's own page breaks
		pdf.MultiCell(valueW, lineHeight, r.tr(kv.Value), "", "L", false)
		if pdf.PageNo() == page {
			pdf.SetY(max(pdf.GetY(), y+lineHeight))
		}
	}
}

func columnWidths(cols []Column, total float64) []float64 {
	sum := 0.0
	for _, c := range cols {
		sum += weight(c)
	}
	out := make([]float64, len(cols))
	for i, c := range cols {
		out[i] = total * weight(c) / sum
	}
	return out
}

func weight(c Column) float64 {
	if c.Weight <= 0 {
		return 1
	}
	return c.Weight
}

// table draws a grid and repeats the header row on every page it spans. A row
// that does not fit on a fresh page is split across pages.
func (r *renderer) table(cols []Column, rows [][]string, withHeader bool) {
	if len(cols) == 0 {
		return
	}
	pdf := r.pdf
	widths := columnWidths(cols, r.width())
	const pad = 1.5
	cellLines := func(cells []string) [][]string {
		out := make([][]string, len(cols))
		for i := range cols {
			text := ""
			if i < len(cells) {
				text = cells[i]
			}
			lines := pdf.SplitText(r.tr(text), widths[i]-2*pad)
			if len(lines) == 0 {
				lines = []string{""}
			}
			out[i] = lines
		}
		return out
	}
	draw := func(lines [][]string, header bool) {
		h := rowHeight(lines)
		x, y := marginX, pdf.GetY()
		for i := range cols {
			style := "D"
			if header {
				pdf.SetFillColor(228, 231, 236)
				style = "FD"
			}
			pdf.SetDrawColor(190, 190, 190)
			pdf.Rect(x, y, widths[i], h, style)
			align := string(cols[i].Align)
			if align == "" || header {
				align = "L"
			}
			for j, line := range lines[i] {
				pdf.SetXY(x+pad, y+1+float64(j)*lineHeight)
				pdf.CellFormat(widths[i]-2*pad, lineHeight, line, "", 0, align, false, 0, "")
			}
			x += widths[i]
		}
		pdf.SetDrawColor(0, 0, 0)
		pdf.SetXY(marginX, y+h)
	}

	labels := make([]string, len(cols))
	for i, c := range cols {
		labels[i] = c.Label
	}
	pdf.SetFont(bodyFont, "B", 9)
	headerLines := cellLines(labels)
	headerH := 0.0
	if withHeader {
		headerH = rowHeight(headerLines)
	}
	drawHeader := func() {
		if !withHeader {
			return
		}
		pdf.SetFont(bodyFont, "B", 9)
		draw(headerLines, true)
		pdf.SetFont(bodyFont, "", 9)
	}
	newPage := func() {
		pdf.AddPage()
		drawHeader()
	}
	capacity := r.pageCapacity() - headerH

	pdf.SetFont(bodyFont, "", 9)
	firstH := rowHeight(cellLines(firstRow(rows)))
	if firstH > capacity {
		firstH = minSplitLines*lineHeight + 2
	}
	if pdf.GetY()+headerH+firstH > r.bottom() {
		pdf.AddPage()
	}
	drawHeader()
	for _, row := range rows {
		pdf.SetFont(bodyFont, "", 9)
		lines := cellLines(row)
		h := rowHeight(lines)
		if pdf.GetY()+h <= r.bottom() {
			draw(lines, false)
			continue
		}
		if h <= capacity {
			newPage()
			draw(lines, false)
			continue
		}
		total := maxLines(lines)
		for offset := 0; offset < total; {
			fit := int((r.bottom() - pdf.GetY() - 2) / lineHeight)
			if fit < minSplitLines {
				newPage()
				continue
			}
			end := min(offset+fit, total)
			draw(sliceLines(lines, offset, end), false)
			offset = end
			if offset < total {
				newPage()
			}
		}
	}
}

// minSplitLines is the fewest lines of a split row worth starting at the foot
// of a page.
const minSplitLines = 3

// continuationTop is where the body starts on pages after the first, below the
// running header.
const continuationTop = marginTop + 4 + 3

// pageCapacity is the body height of a continuation page.
func (r *renderer) pageCapacity() float64 {
	return r.bottom() - continuationTop
}

func rowHeight(lines [][]string) float64 {
	return float64(maxLines(lines))*lineHeight + 2
}

func maxLines(lines [][]string) int {
	most := 1
	for _, l := range lines {
		most = max(most, len(l))
	}
	return most
}

func sliceLines(lines [][]string, from, to int) [][]string {
	out := make([][]string, len(lines))
	for i, l := range lines {
		lo, hi := min(from, len(l)), min(to, len(l))
		out[i] = l[lo:hi]
	}
	return out
}

func firstRow(rows [][]string) []string {
	if len(rows) == 0 {
		return nil
	}
	return rows[0]
}

func (r *renderer) totals(totals []KeyValue) {
	if len(totals) == 0 {
		return
	}
	pdf := r.pdf
	if pdf.GetY()+float64(len(totals))*6+2 > r.bottom() {
		pdf.AddPage()
	}
	pdf.Ln(1)
	labelW, valueW := 40.0, 35.0
	for i, kv := range totals {
		style := ""
		if i == len(totals)-1 {
			style = "B"
		}
		pdf.SetX(marginX + r.width() - labelW - valueW)
		pdf.SetFont(bodyFont, style, 10)
		pdf.CellFormat(labelW, 6, r.tr(kv.Key), "", 0, "R", false, 0, "")
		pdf.CellFormat(valueW, 6, r.tr(kv.Value), "", 1, "R", false, 0, "")
	}
}

func (r *renderer) blocks(blocks []richtext.Block) {
	pdf := r.pdf
	for _, b := range blocks {
		switch b.Kind {
		case richtext.Heading:
			size := 13.0 - float64(b.Level)
			if size < 9 {
				size = 9
			}
			pdf.Ln(1)
			r.spans(b.Spans, marginX, size, "B")
			pdf.Ln(size * 0.5)
		case richtext.ListItem:
			indent := marginX + 5*float64(b.Depth)
			if marker := richtext.Marker(b); marker != "" {
				pdf.SetFont(bodyFont, "", 10)
				pdf.SetX(indent - 5)
				pdf.CellFormat(5, lineHeight, r.tr(marker), "", 0, "L", false, 0, "")
			}
			r.spans(b.Spans, indent, 10, "")
			pdf.Ln(lineHeight + 0.5)
		case richtext.Quote:
			pdf.SetTextColor(85, 85, 85)
			r.spans(b.Spans, marginX+6, 10, "I")
			pdf.SetTextColor(0, 0, 0)
			pdf.Ln(lineHeight + 1)
		case richtext.Preformatted:
			pdf.SetFont(monoFont, "", 9)
			pdf.SetFillColor(245, 245, 245)
			pdf.MultiCell(0, 4.5, r.tr(b.Text()), "", "L", true)
			pdf.Ln(1)
		case richtext.TableBlock:
			r.htmlTable(b)
			pdf.Ln(2)
		case richtext.Rule:
			pdf.Ln(1)
			r.rule(0.2)
			pdf.Ln(2)
		default:
			r.spans(b.Spans, marginX, 10, "")
			pdf.Ln(lineHeight + 1.5)
		}
	}
}

// spans flows styled runs from the left edge at x, wrapping at the right margin.
func (r *renderer) spans(spans []richtext.Span, x, size float64, base string) {
	pdf := r.pdf
	pdf.SetLeftMargin(x)
	pdf.SetX(x)
	h := size * 0.5
	if h < lineHeight {
		h = lineHeight
	}
	for _, s := range spans {
		family := bodyFont
		if s.Style.Has(richtext.Code) {
			family = monoFont
		}
		pdf.SetFont(family, fontStyle(base, s), size)
		text := r.tr(s.Text)
		if s.Href != "" {
			pdf.SetTextColor(30, 80, 170)
			pdf.WriteLinkString(h, text, s.Href)
			pdf.SetTextColor(0, 0, 0)
			continue
		}
		pdf.Write(h, text)
	}
	pdf.SetLeftMargin(marginX)
}

func fontStyle(base string, s richtext.Span) string {
	style := base
	add := func(flag richtext.Style, code string) {
		if s.Style.Has(flag) && !strings.Contains(style, code) {
			style += code
		}
	}
	add(richtext.Bold, "B")
	add(richtext.Italic, "I")
	add(richtext.Underline, "U")
	add(richtext.Strike, "S")
	if s.Href != "" && !strings.Contains(style, "U") {
		style += "U"
	}
	return style
}

func (r *renderer) htmlTable(b richtext.Block) {
	cols := 0
	for _, row := range b.Rows {
		cols = max(cols, len(row))
	}
	if cols == 0 {
		return
	}
	columns := make([]Column, cols)
	var header []string
	start := 0
	if len(b.Rows) > 0 && allHeader(b.Rows[0]) {
		for _, c := range b.Rows[0] {
			header = append(header, cellText(c))
		}
		start = 1
	}
	for i := range columns {
		if i < len(header) {
			columns[i].Label = header[i]
		}
	}
	rows := make([][]string, 0, len(b.Rows)-start)
	for _, row := range b.Rows[start:] {
		cells := make([]string, len(row))
		for i, c := range row {
			cells[i] = cellText(c)
		}
		rows = append(rows, cells)
	}
	r.table(columns, rows, header != nil)
}

func allHeader(row []richtext.Cell) bool {
	for _, c := range row {
		if !c.Header {
			return false
		}
	}
	return len(row) > 0
}

func cellText(c richtext.Cell) string {
	var sb strings.Builder
	for _, s := range c.Spans {
		sb.WriteString(s.Text)
	}
	return sb.String()
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
