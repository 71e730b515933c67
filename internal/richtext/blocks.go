package richtext

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

type BlockKind string

const (
	Paragraph    BlockKind = "paragraph"
	Heading      BlockKind = "heading"
	ListItem     BlockKind = "list-item"
	Quote        BlockKind = "quote"
	Preformatted BlockKind = "pre"
	TableBlock   BlockKind = "table"
	Rule         BlockKind = "rule"
)

type Style uint8

const (
	Bold Style = 1 << iota
	Italic
	Underline
	Strike
	Code
)

func (s Style) Has(flag Style) bool { return s&flag != 0 }

// Span is a run of text with one style. A "\n" inside Text is a hard line break.
type Span struct {
	Text  string
	Style Style
	Href  string
}

type Cell struct {
	Spans  []Span
	Header bool
}

type Block struct {
	Kind BlockKind
	// Level is the heading level, 1 through 6.
	Level int
	// Depth is the list nesting depth starting at 1.
	Depth   int
	Ordered bool
	// Index is the 1-based position in an ordered or unordered list. Zero marks
	// text that continues an item after a nested list.
	Index int
	Spans []Span
	Rows  [][]Cell
}

// Text concatenates the span text of b.
func (b Block) Text() string {
	var sb strings.Builder
	for _, s := range b.Spans {
		sb.WriteString(s.Text)
	}
	return sb.String()
}

type listState struct {
	ordered bool
	count   int
}

type walker struct {
	blocks []Block
	cur    *Block
	lists  []listState
	// inItem is the list depth of the innermost open li, or 0.
	inItem int
	quote  int
	pre    int
}

// Parse walks an HTML fragment into blocks. Malformed markup is repaired by the
// HTML parser the way a browser would; the result is best effort.
func Parse(fragment string) ([]Block, error) {
	if strings.TrimSpace(fragment) == "" {
		return nil, nil
	}
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), body)
	if err != nil {
		return nil, err
	}
	w := &walker{}
	for _, n := range nodes {
		w.walk(n, 0, "")
	}
	w.flush()
	return w.blocks, nil
}

func (w *walker) walk(n *html.Node, style Style, href string) {
	switch n.Type {
	case html.TextNode:
		w.text(n.Data, style, href)
		return
	case html.ElementNode:
	case html.DocumentNode:
		w.children(n, style, href)
		return
	default:
		return
	}

	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Head, atom.Title, atom.Template, atom.Noscript:
		return
	case atom.Br:
		w.ensure()
		w.push(Span{Text: "\n", Style: style, Href: href})
		return
	case atom.B, atom.Strong:
		style |= Bold
	case atom.I, atom.Em:
		style |= Italic
	case atom.U, atom.Ins:
		style |= Underline
	case atom.S, atom.Strike, atom.Del:
		style |= Strike
	case atom.Code, atom.Kbd, atom.Samp, atom.Tt:
		if w.pre == 0 {
			style |= Code
		}
	case atom.A:
		if v := attr(n, "href"); v != "" {
			href = v
		}
	case atom.P, atom.Div, atom.Section, atom.Article, atom.Header, atom.Footer, atom.Main, atom.Aside:
		// <li><p>text</p></li> keeps the text on the item itself.
		if w.cur == nil || w.cur.Kind != ListItem || strings.TrimSpace(w.cur.Text()) != "" {
			w.flush()
		}
		w.children(n, style|inlineStyle(n), href)
		w.flush()
		return
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		w.flush()
		level, _ := strconv.Atoi(n.Data[1:])
		w.cur = &Block{Kind: Heading, Level: level}
		w.children(n, style|inlineStyle(n), href)
		w.flush()
		return
	case atom.Ul, atom.Ol:
		w.flush()
		w.lists = append(w.lists, listState{ordered: n.DataAtom == atom.Ol})
		w.children(n, style, href)
		w.lists = w.lists[:len(w.lists)-1]
		w.flush()
		return
	case atom.Li:
		w.flush()
		depth := len(w.lists)
		ordered := false
		index := 1
		if depth == 0 {
			depth = 1
		} else {
			ls := &w.lists[depth-1]
			ls.count++
			ordered = ls.ordered
			index = ls.count
		}
		outer := w.inItem
		w.inItem = depth
		w.cur = &Block{Kind: ListItem, Depth: depth, Ordered: ordered, Index: index}
		w.children(n, style|inlineStyle(n), href)
		w.flush()
		w.inItem = outer
		return
	case atom.Blockquote:
		w.flush()
		w.quote++
		w.children(n, style, href)
		w.flush()
		w.quote--
		return
	case atom.Pre:
		w.flush()
		w.pre++
		w.cur = &Block{Kind: Preformatted}
		w.children(n, style, href)
		w.flush()
		w.pre--
		return
	case atom.Table:
		w.flush()
		if rows := tableRows(n); len(rows) > 0 {
			w.blocks = append(w.blocks, Block{Kind: TableBlock, Rows: rows})
		}
		return
	case atom.Hr:
		w.flush()
		w.blocks = append(w.blocks, Block{Kind: Rule})
		return
	case atom.Img:
		if alt := strings.TrimSpace(attr(n, "alt")); alt != "" {
			w.text("["+alt+"]", style, href)
		}
		return
	}
	w.children(n, style|inlineStyle(n), href)
}

func (w *walker) children(n *html.Node, style Style, href string) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c, style, href)
	}
}

func (w *walker) ensure() {
	if w.cur != nil {
		return
	}
	switch {
	case w.pre > 0:
		w.cur = &Block{Kind: Preformatted}
	case w.inItem > 0:
		w.cur = &Block{Kind: ListItem, Depth: w.inItem}
	case w.quote > 0:
		w.cur = &Block{Kind: Quote}
	default:
		w.cur = &Block{Kind: Paragraph}
	}
}

func (w *walker) text(raw string, style Style, href string) {
	if w.pre == 0 {
		raw = collapse(raw)
		if raw == " " && w.cur == nil {
			return
		}
	}
	if raw == "" {
		return
	}
	w.ensure()
	if w.pre == 0 && strings.HasPrefix(raw, " ") && w.endsWithSpace() {
		raw = raw[1:]
		if raw == "" {
			return
		}
	}
	w.push(Span{Text: raw, Style: style, Href: href})
}

func (w *walker) endsWithSpace() bool {
	if w.cur == nil || len(w.cur.Spans) == 0 {
		return true
	}
	last := w.cur.Spans[len(w.cur.Spans)-1].Text
	return strings.HasSuffix(last, " ") || strings.HasSuffix(last, "\n")
}

func (w *walker) push(s Span) {
	spans := w.cur.Spans
	if n := len(spans); n > 0 && spans[n-1].Style == s.Style && spans[n-1].Href == s.Href {
		spans[n-1].Text += s.Text
		return
	}
	w.cur.Spans = append(spans, s)
}

func (w *walker) flush() {
	b := w.cur
	w.cur = nil
	if b == nil {
		return
	}
	if b.Kind != Preformatted {
		trimSpans(b)
	} else {
		trimNewlines(b)
	}
	if strings.TrimSpace(b.Text()) == "" {
		return
	}
	w.blocks = append(w.blocks, *b)
}

func trimSpans(b *Block) {
	for i := range b.Spans {
		b.Spans[i].Text = strings.ReplaceAll(b.Spans[i].Text, " \n", "\n")
		b.Spans[i].Text = strings.ReplaceAll(b.Spans[i].Text, "\n ", "\n")
	}
	for len(b.Spans) > 0 {
		b.Spans[0].Text = strings.TrimLeft(b.Spans[0].Text, " \n")
		if b.Spans[0].Text != "" {
			break
		}
		b.Spans = b.Spans[1:]
	}
	for len(b.Spans) > 0 {
		last := len(b.Spans) - 1
		b.Spans[last].Text = strings.TrimRight(b.Spans[last].Text, " \n")
		if b.Spans[last].Text != "" {
			break
		}
		b.Spans = b.Spans[:last]
	}
}

func trimNewlines(b *Block) {
	if len(b.Spans) == 0 {
		return
	}
	b.Spans[0].Text = strings.TrimPrefix(b.Spans[0].Text, "\n")
	last := len(b.Spans) - 1
	b.Spans[last].Text = strings.TrimRight(b.Spans[last].Text, "\n")
}

func collapse(s string) string {
	var sb strings.Builder
	space := false
	for _, r := range s {
		switch r {
		case ' ', '\t', '\n', '\r', '\f', '\u00a0':
			if !space {
				sb.WriteByte(' ')
			}
			space = true
		default:
			sb.WriteRune(r)
			space = false
		}
	}
	return sb.String()
}

func tableRows(table *html.Node) [][]Cell {
	var rows [][]Cell
	var visit func(*html.Node, bool)
	visit = func(n *html.Node, head bool) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			switch c.DataAtom {
			case atom.Thead:
				visit(c, true)
			case atom.Tbody, atom.Tfoot:
				visit(c, false)
			case atom.Tr:
				var row []Cell
				for cell := c.FirstChild; cell != nil; cell = cell.NextSibling {
					if cell.Type != html.ElementNode || (cell.DataAtom != atom.Td && cell.DataAtom != atom.Th) {
						continue
					}
					row = append(row, Cell{Spans: cellSpans(cell), Header: head || cell.DataAtom == atom.Th})
				}
				if len(row) > 0 {
					rows = append(rows, row)
				}
			}
		}
	}
	visit(table, false)
	return rows
}

// cellSpans flattens whatever blocks a cell contains into one run of spans.
func cellSpans(cell *html.Node) []Span {
	w := &walker{}
	w.children(cell, 0, "")
	w.flush()
	var out []Span
	for i, b := range w.blocks {
		if i > 0 {
			out = append(out, Span{Text: "\n"})
		}
		if b.Kind == TableBlock {
			out = append(out, Span{Text: plainBlock(b)})
			continue
		}
		out = append(out, b.Spans...)
	}
	return out
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// inlineStyle maps the handful of CSS declarations editors emit onto styles.
func inlineStyle(n *html.Node) Style {
	css := attr(n, "style")
	if css == "" {
		return 0
	}
	var style Style
	for _, decl := range strings.Split(css, ";") {
		prop, value, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		prop = strings.ToLower(strings.TrimSpace(prop))
		value = strings.ToLower(strings.TrimSpace(value))
		switch prop {
		case "font-weight":
			if n, err := strconv.Atoi(value); value == "bold" || value == "bolder" || err == nil && n >= 600 {
				style |= Bold
			}
		case "font-style":
			if value == "italic" || value == "oblique" {
				style |= Italic
			}
		case "text-decoration", "text-decoration-line":
			if strings.Contains(value, "underline") {
				style |= Underline
			}
			if strings.Contains(value, "line-through") {
				style |= Strike
			}
		}
	}
	return style
}
