// Package auditlog reads unified audit log records, maps viewer filters to query
// parameters and archives entries as xz-compressed JSON lines.
package auditlog

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/phillip-england/projectdesk/internal/records"
)

type Entry struct {
	ID         string         `json:"id"`
	EntityType string         `json:"entityType"`
	EntityID   string         `json:"entityId"`
	Action     string         `json:"action"`
	UserName   string         `json:"userName,omitempty"`
	UserEmail  string         `json:"userEmail,omitempty"`
	Summary    string         `json:"summary,omitempty"`
	Before     records.Record `json:"before,omitempty"`
	After      records.Record `json:"after,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// User is the best label for who acted.
func (e Entry) User() string {
	if e.UserName != "" {
		return e.UserName
	}
	if e.UserEmail != "" {
		return e.UserEmail
	}
	return "system"
}

func first(rec records.Record, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(rec.String(k)); v != "" {
			return v
		}
	}
	return ""
}

func object(rec records.Record, keys ...string) records.Record {
	for _, k := range keys {
		if m, ok := rec[k].(map[string]any); ok {
			return records.Record(m)
		}
		if m, ok := rec[k].(records.Record); ok {
			return m
		}
	}
	return nil
}

// FromRecord reads an entry from the shapes the backend has used over time: the
// user as an object or flat fields, timestamps under createdAt or timestamp, and
// snapshots as before/after or a per-field changes map.
func FromRecord(rec records.Record) Entry {
	e := Entry{
		ID:         rec.ID(),
		EntityType: first(rec, "entityType", "entity", "module", "collection"),
		EntityID:   first(rec, "entityId", "recordId", "documentId"),
		Action:     strings.ToLower(first(rec, "action", "operation", "event")),
		Summary:    first(rec, "description", "summary", "message"),
		Before:     object(rec, "before", "previousData", "oldData", "oldValue"),
		After:      object(rec, "after", "newData", "newValue"),
	}
	if user := object(rec, "user", "performedBy"); user != nil {
		e.UserName = first(user, "name", "fullName", "username")
		e.UserEmail = first(user, "email")
	} else {
		e.UserName = first(rec, "userName", "performedBy", "user")
		e.UserEmail = first(rec, "userEmail", "email")
	}
	if changes := object(rec, "changes"); changes != nil && e.Before == nil && e.After == nil {
		e.Before, e.After = records.Record{}, records.Record{}
		for field, raw := range changes {
			pair, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			for _, k := range []string{"old", "from", "before"} {
				if v, ok := pair[k]; ok {
					e.Before[field] = v
				}
			}
			for _, k := range []string{"new", "to", "after"} {
				if v, ok := pair[k]; ok {
					e.After[field] = v
				}
			}
		}
	}
	if t, ok := records.ParseDate(first(rec, "createdAt", "timestamp", "date")); ok {
		e.CreatedAt = t
	}
	return e
}

const (
	DefaultLimit = 25
	MaxLimit     = 200
)

type Filter struct {
	EntityType string
	EntityID   string
	Action     string
	User       string
	Search     string
	// From and To are inclusive YYYY-MM-DD dates.
	From  string
	To    string
	Page  int
	Limit int
}

// ParseFilter reads a filter from the viewer's query string.
func ParseFilter(q url.Values) Filter {
	f := Filter{
		EntityType: strings.TrimSpace(q.Get("entityType")),
		EntityID:   strings.TrimSpace(q.Get("entityId")),
		Action:     strings.ToLower(strings.TrimSpace(q.Get("action"))),
		User:       strings.TrimSpace(q.Get("user")),
		Search:     strings.TrimSpace(q.Get("q")),
		From:       dateOnly(q.Get("from")),
		To:         dateOnly(q.Get("to")),
		Page:       1,
		Limit:      DefaultLimit,
	}
	if n, err := strconv.Atoi(q.Get("page")); err == nil && n > 0 {
		f.Page = n
	}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		f.Limit = min(n, MaxLimit)
	}
	return f
}

func dateOnly(v string) string {
	v = strings.TrimSpace(v)
	if _, err := time.Parse("2006-01-02", v); err != nil {
		return ""
	}
	return v
}

// Values is the query sent to the backend and used for pager links.
func (f Filter) Values() url.Values {
	q := url.Values{}
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	set("entityType", f.EntityType)
	set("entityId", f.EntityID)
	set("action", f.Action)
	set("user", f.User)
	set("q", f.Search)
	set("from", f.From)
	set("to", f.To)
	if f.Page > 1 {
		q.Set("page", strconv.Itoa(f.Page))
	}
	if f.Limit > 0 && f.Limit != DefaultLimit {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	return q
}

// WithPage returns a copy of f pointing at page.
func (f Filter) WithPage(page int) Filter {
	f.Page = max(page, 1)
	return f
}

// Match reports whether e passes f. The backend filters too; this is for
// archives and entries fetched without server-side filtering.
func (f Filter) Match(e Entry) bool {
	if f.EntityType != "" && !strings.EqualFold(f.EntityType, e.EntityType) {
		return false
	}
	if f.EntityID != "" && f.EntityID != e.EntityID {
		return false
	}
	if f.Action != "" && f.Action != e.Action {
		return false
	}
	if f.User != "" {
		u := strings.ToLower(f.User)
		if !strings.Contains(strings.ToLower(e.UserName), u) && !strings.Contains(strings.ToLower(e.UserEmail), u) {
			return false
		}
	}
	if f.Search != "" && !strings.Contains(strings.ToLower(e.Summary), strings.ToLower(f.Search)) {
		return false
	}
	day := e.CreatedAt.UTC().Format("2006-01-02")
	if f.From != "" && day < f.From {
		return false
	}
	if f.To != "" && day > f.To {
		return false
	}
	return true
}
