package diffsummary

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phillip-england/projectdesk/internal/records"
)

func TestCompareWithSchema(t *testing.T) {
	before := records.Record{
		"customerName": "Acme",
		"status":       "Draft",
		"scopeOfWork":  "<p>Build a <b>shed</b></p>",
		"items":        []any{map[string]any{"description": "Timber", "quantity": 2.0, "rate": 10.0}},
	}
	after := records.Record{
		"customerName": "Acme",
		"status":       "Sent",
		"scopeOfWork":  "<p>Build a <i>shed</i></p>",
		"validUntil":   "2025-03-01",
		"items": []any{
			map[string]any{"description": "Timber", "quantity": 3.0, "rate": 10.0},
		},
	}
	s := Compare(records.Quotations, before, after)
	assert.Equal(t, []string{"Valid Until", "Status", "Line Items", "Subtotal", "Total"}, s.Labels())

	byKey := map[string]Change{}
	for _, c := range s.Changes {
		byKey[c.Key] = c
	}
	assert.Equal(t, Added, byKey["validUntil"].Kind)
	assert.Equal(t, "01 Mar 2025", byKey["validUntil"].After)
	assert.Equal(t, Modified, byKey["status"].Kind)
	assert.Equal(t, "Timber |  | 3 | 10.00 | 30.00", byKey["items"].After)
	assert.Equal(t, "30.00", byKey["total"].After)
}

func TestCompareIgnoresFormattingOnlyRichTextChanges(t *testing.T) {
	s := Compare(records.Leads, records.Record{"requirements": "<p>Two floors</p>"}, records.Record{"requirements": "<p><b>Two</b> floors</p>"})
	assert.True(t, s.Empty())
}

func TestCompareWithoutSchema(t *testing.T) {
	before := records.Record{"id": "1", "updatedAt": "x", "status": "New", "notes": "call back"}
	after := records.Record{"id": "1", "updatedAt": "y", "status": "Won", "nested": map[string]any{"a": 1.0}}
	s := Compare(nil, before, after)
	require.Len(t, s.Changes, 3)
	assert.Equal(t, []string{"Nested", "Notes", "Status"}, s.Labels())
	assert.Equal(t, Removed, s.Changes[1].Kind)
	assert.Equal(t, `{"a":1}`, s.Changes[0].After)
}

func TestTextDiff(t *testing.T) {
	segs := TextDiff("pour slab on monday", "pour slab on friday")
	var rebuiltBefore, rebuiltAfter strings.Builder
	for _, seg := range segs {
		if seg.Op != Insert {
			rebuiltBefore.WriteString(seg.Text)
		}
		if seg.Op != Delete {
			rebuiltAfter.WriteString(seg.Text)
		}
	}
	assert.Equal(t, "pour slab on monday", rebuiltBefore.String())
	assert.Equal(t, "pour slab on friday", rebuiltAfter.String())
	assert.Equal(t, Equal, segs[0].Op)
}

func TestHumanize(t *testing.T) {
	assert.Equal(t, "Customer Name", Humanize("customerName"))
	assert.Equal(t, "Site Address", Humanize("site_address"))
	assert.Equal(t, "GRN", Humanize("GRN"))
}

func TestRenderHTML(t *testing.T) {
	assert.Contains(t, string(RenderHTML(Summary{})), "No changes")

	s := Summary{Changes: []Change{
		{Label: "Status", Kind: Modified, Before: "Draft", After: "Sent", Segments: TextDiff("Draft", "Sent")},
		{Label: "Notes <x>", Kind: Added, After: "a\nb"},
	}}
	out := string(RenderHTML(s))
	assert.Contains(t, out, "<del>")
	assert.Contains(t, out, "<ins>")
	assert.Contains(t, out, "Notes &lt;x&gt;")
	assert.Contains(t, out, "a<br>b")
}
