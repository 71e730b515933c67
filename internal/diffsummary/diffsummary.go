// Package diffsummary compares two versions of a record field by field and renders
// the differences for humans.
package diffsummary

import (
	"encoding/json"
	"html/template"
	"sort"
	"strings"
	"unicode"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/phillip-england/projectdesk/internal/records"
)

type Kind string

const (
	Added    Kind = "added"
	Removed  Kind = "removed"
	Modified Kind = "modified"
)

type Op int

const (
	Equal Op = iota
	Insert
	Delete
)

type Segment struct {
	Op   Op
	Text string
}

type Change struct {
	Key      string
	Label    string
	Kind     Kind
	Before   string
	After    string
	Segments []Segment
}

type Summary struct {
	Changes []Change
}

func (s Summary) Empty() bool { return len(s.Changes) == 0 }

// Labels returns the labels of the changed fields in order.
func (s Summary) Labels() []string {
	out := make([]string, len(s.Changes))
	for i, c := range s.Changes {
		out[i] = c.Label
	}
	return out
}

// bookkeeping keys are written by the backend on every save.
var bookkeeping = map[string]bool{
	"id": true, "_id": true, "__v": true,
	"createdAt": true, "updatedAt": true, "createdBy": true, "updatedBy": true,
}

// Compare lists the fields that differ between before and after. With a nil
// schema every key of either record is compared, bookkeeping keys excepted.
func Compare(s *records.Schema, before, after records.Record) Summary {
	if before == nil {
		before = records.Record{}
	}
	if after == nil {
		after = records.Record{}
	}
	var summary Summary
	if s == nil {
		for _, key := range unionKeys(before, after) {
			summary.add(key, Humanize(key), anyText(before[key]), anyText(after[key]), false)
		}
		return summary
	}
	before, after = before.Clone(), after.Clone()
	records.ComputeTotals(s, before)
	records.ComputeTotals(s, after)
	for _, f := range s.Fields {
		if f.Kind == records.KindItems {
			summary.add(f.Key, f.Label, itemsText(f, before), itemsText(f, after), true)
			continue
		}
		summary.add(f.Key, f.Label, records.Display(f, before[f.Key]), records.Display(f, after[f.Key]), false)
	}
	return summary
}

func (s *Summary) add(key, label, before, after string, lines bool) {
	before, after = strings.TrimSpace(before), strings.TrimSpace(after)
	if before == after {
		return
	}
	c := Change{Key: key, Label: label, Before: before, After: after}
	switch {
	case before == "":
		c.Kind = Added
	case after == "":
		c.Kind = Removed
	default:
		c.Kind = Modified
		if lines {
			c.Segments = LineDiff(before, after)
		} else {
			c.Segments = TextDiff(before, after)
		}
	}
	s.Changes = append(s.Changes, c)
}

func unionKeys(a, b records.Record) []string {
	seen := map[string]bool{}
	var keys []string
	for _, m := range []records.Record{a, b} {
		for k := range m {
			if bookkeeping[k] || seen[k] {
				continue
			}
			seen[k] = true
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func anyText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case map[string]any, []any:
		data, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(data)
	}
	return records.Record{"v": v}.String("v")
}

func itemsText(f records.Field, rec records.Record) string {
	rows := records.ItemRows(f, rec)
	lines := make([]string, len(rows))
	for i, cells := range rows {
		lines[i] = strings.Join(cells, " | ")
	}
	return strings.Join(lines, "\n")
}

// TextDiff is a character diff cleaned up to word-ish boundaries.
func TextDiff(a, b string) []Segment {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	return segments(diffs)
}

// LineDiff compares whole lines, used for item tables.
func LineDiff(a, b string) []Segment {
	dmp := diffmatchpatch.New()
	ca, cb, lines := dmp.DiffLinesToChars(a+"\n", b+"\n")
	diffs := dmp.DiffMain(ca, cb, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)
	return segments(diffs)
}

func segments(diffs []diffmatchpatch.Diff) []Segment {
	out := make([]Segment, 0, len(diffs))
	for _, d := range diffs {
		if d.Text == "" {
			continue
		}
		op := Equal
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			op = Insert
		case diffmatchpatch.DiffDelete:
			op = Delete
		}
		out = append(out, Segment{Op: op, Text: d.Text})
	}
	return out
}

// Humanize turns "customerName" or "site_address" into "Customer Name".
func Humanize(key string) string {
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = cur[:0]
		}
	}
	runes := []rune(key)
	for i, r := range runes {
		switch {
		case r == '_' || r == '-' || r == ' ' || r == '.':
			flush()
			continue
		case unicode.IsUpper(r) && i > 0 && !unicode.IsUpper(runes[i-1]):
			flush()
		}
		cur = append(cur, r)
	}
	flush()
	for i, w := range words {
		rs := []rune(w)
		rs[0] = unicode.ToUpper(rs[0])
		words[i] = string(rs)
	}
	return strings.Join(words, " ")
}

// RenderHTML renders the summary as a table with deletions and insertions marked.
func RenderHTML(s Summary) template.HTML {
	if s.Empty() {
		return template.HTML(`<p class="diff-empty">No changes</p>`)
	}
	var b strings.Builder
	b.WriteString(`<table class="diff-summary"><thead><tr><th>Field</th><th>Before</th><th>After</th></tr></thead><tbody>`)
	for _, c := range s.Changes {
		b.WriteString(`<tr class="diff-`)
		b.WriteString(string(c.Kind))
		b.WriteString(`"><th scope="row">`)
		b.WriteString(template.HTMLEscapeString(c.Label))
		b.WriteString(`</th><td>`)
		switch c.Kind {
		case Added:
			b.WriteString(`<span class="diff-none">empty</span></td><td><ins>`)
			b.WriteString(escapeLines(c.After))
			b.WriteString(`</ins>`)
		case Removed:
			b.WriteString(`<del>`)
			b.WriteString(escapeLines(c.Before))
			b.WriteString(`</del></td><td><span class="diff-none">empty</span>`)
		default:
			writeSegments(&b, c.Segments, Delete)
			b.WriteString(`</td><td>`)
			writeSegments(&b, c.Segments, Insert)
		}
		b.WriteString(`</td></tr>`)
	}
	b.WriteString(`</tbody></table>`)
	return template.HTML(b.String())
}

// writeSegments writes one side of a diff: the equal text plus the segments of op.
func writeSegments(b *strings.Builder, segs []Segment, op Op) {
	tag := "ins"
	if op == Delete {
		tag = "del"
	}
	for _, seg := range segs {
		switch seg.Op {
		case Equal:
			b.WriteString(escapeLines(seg.Text))
		case op:
			b.WriteString("<" + tag + ">")
			b.WriteString(escapeLines(seg.Text))
			b.WriteString("</" + tag + ">")
		}
	}
}

func escapeLines(s string) string {
	return strings.ReplaceAll(template.HTMLEscapeString(strings.TrimRight(s, "\n")), "\n", "<br>")
}
