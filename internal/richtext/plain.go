package richtext

import (
	"strconv"
	"strings"
)

// PlainText flattens a fragment to text with one line per block. Input that fails
// to parse is returned trimmed.
func PlainText(fragment string) string {
	blocks, err := Parse(fragment)
	if err != nil {
		return strings.TrimSpace(fragment)
	}
	return BlocksText(blocks)
}

func BlocksText(blocks []Block) string {
	lines := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b.Kind == Rule {
			continue
		}
		lines = append(lines, plainBlock(b))
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// Marker is the bullet or number printed before a list item.
func Marker(b Block) string {
	if b.Kind != ListItem || b.Index == 0 {
		return ""
	}
	if b.Ordered {
		return strconv.Itoa(b.Index) + "."
	}
	return "•"
}

func plainBlock(b Block) string {
	switch b.Kind {
	case TableBlock:
		rows := make([]string, 0, len(b.Rows))
		for _, row := range b.Rows {
			cells := make([]string, len(row))
			for i, c := range row {
				cells[i] = strings.ReplaceAll(spansText(c.Spans), "\n", " ")
			}
			rows = append(rows, strings.Join(cells, " | "))
		}
		return strings.Join(rows, "\n")
	case ListItem:
		indent := strings.Repeat("  ", max(b.Depth-1, 0))
		marker := Marker(b)
		if marker == "" {
			return indent + "  " + b.Text()
		}
		if marker == "•" {
			marker = "-"
		}
		return indent + marker + " " + b.Text()
	}
	return b.Text()
}

func spansText(spans []Span) string {
	var sb strings.Builder
	for _, s := range spans {
		sb.WriteString(s.Text)
	}
	return sb.String()
}
