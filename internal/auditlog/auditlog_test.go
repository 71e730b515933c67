package auditlog

import (
	"bytes"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phillip-england/projectdesk/internal/records"
)

func TestFromRecordNestedUser(t *testing.T) {
	e := FromRecord(records.Record{
		"_id":         "a1",
		"entityType":  "quotations",
		"entityId":    "q9",
		"action":      "UPDATE",
		"user":        map[string]any{"name": "Pat Lee", "email": "pat@example.com"},
		"description": "Status changed",
		"before":      map[string]any{"status": "Draft"},
		"after":       map[string]any{"status": "Sent"},
		"createdAt":   "2025-05-04T09:30:00Z",
	})
	assert.Equal(t, "a1", e.ID)
	assert.Equal(t, "update", e.Action)
	assert.Equal(t, "Pat Lee", e.User())
	assert.Equal(t, "pat@example.com", e.UserEmail)
	assert.Equal(t, "Draft", e.Before.String("status"))
	assert.Equal(t, 2025, e.CreatedAt.Year())
}

func TestFromRecordFlatFieldsAndChangesMap(t *testing.T) {
	e := FromRecord(records.Record{
		"id":        "a2",
		"module":    "leads",
		"recordId":  "l1",
		"operation": "update",
		"userEmail": "ops@example.com",
		"timestamp": "2025-05-04 10:00:00",
		"changes": map[string]any{
			"status": map[string]any{"old": "New", "new": "Won"},
		},
	})
	assert.Equal(t, "leads", e.EntityType)
	assert.Equal(t, "l1", e.EntityID)
	assert.Equal(t, "ops@example.com", e.User())
	assert.Equal(t, "New", e.Before.String("status"))
	assert.Equal(t, "Won", e.After.String("status"))
	assert.False(t, e.CreatedAt.IsZero())

	assert.Equal(t, "system", FromRecord(records.Record{}).User())
}

func TestFilterValues(t *testing.T) {
	f := ParseFilter(url.Values{
		"entityType": {"projects"},
		"action":     {"Delete"},
		"from":       {"2025-01-01"},
		"to":         {"not-a-date"},
		"page":       {"3"},
		"limit":      {"5000"},
	})
	assert.Equal(t, "delete", f.Action)
	assert.Equal(t, "", f.To)
	assert.Equal(t, 3, f.Page)
	assert.Equal(t, MaxLimit, f.Limit)

	q := f.Values()
	assert.Equal(t, "projects", q.Get("entityType"))
	assert.Equal(t, "3", q.Get("page"))
	assert.Equal(t, "200", q.Get("limit"))
	assert.False(t, q.Has("to"))

	assert.False(t, ParseFilter(url.Values{}).WithPage(0).Values().Has("page"))
}

func TestFilterMatch(t *testing.T) {
	e := Entry{EntityType: "leads", Action: "create", UserName: "Pat Lee", Summary: "Created lead Acme", CreatedAt: time.Date(2025, 2, 10, 12, 0, 0, 0, time.UTC)}
	assert.True(t, Filter{EntityType: "Leads", User: "pat", Search: "acme", From: "2025-02-10", To: "2025-02-10"}.Match(e))
	assert.False(t, Filter{Action: "delete"}.Match(e))
	assert.False(t, Filter{From: "2025-02-11"}.Match(e))
}

func TestArchiveRoundTrip(t *testing.T) {
	entries := []Entry{
		{ID: "1", EntityType: "leads", Action: "create", After: records.Record{"customerName": "Acme"}, CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "2", EntityType: "leads", Action: "delete", CreatedAt: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteArchive(&buf, entries))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}))

	got, err := ReadArchive(&buf)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Acme", got[0].After.String("customerName"))
	assert.True(t, got[1].CreatedAt.Equal(entries[1].CreatedAt))

	_, err = ReadArchive(bytes.NewReader([]byte("plain")))
	assert.Error(t, err)
	assert.Equal(t, "audit-logs-20250102-030405.jsonl.xz", ArchiveName(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)))
}
