package console

import (
	"bytes"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/phillip-england/projectdesk/internal/apiclient"
	"github.com/phillip-england/projectdesk/internal/auditlog"
	"github.com/phillip-england/projectdesk/internal/diffsummary"
	"github.com/phillip-england/projectdesk/internal/records"
)

const archiveLimit = 20000

var auditActions = []string{"create", "update", "status_change", "delete", "attach", "detach"}

func entityTypeNames() []string {
	schemas := records.Editable()
	out := make([]string, 0, len(schemas))
	for _, s := range schemas {
		out = append(out, s.Name)
	}
	return out
}

// filterQuery is the filter as query parameters without paging.
func filterQuery(f auditlog.Filter) url.Values {
	q := f.Values()
	q.Del("page")
	q.Del("limit")
	return q
}

// auditPager links to neighbouring pages of the same filter.
func auditPager(f auditlog.Filter, page *apiclient.Page) *pagerView {
	p := pager("/audit-logs", nil, page)
	link := func(n int) string {
		q := f.WithPage(n).Values()
		if len(q) == 0 {
			return "/audit-logs"
		}
		return "/audit-logs?" + q.Encode()
	}
	p.PrevURL = link(p.Page - 1)
	p.NextURL = link(p.Page + 1)
	return p
}

func (s *Server) auditLogsPage(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	filter := auditlog.ParseFilter(r.URL.Query())
	page, err := s.api.List(r.Context(), sess.Token, records.AuditLogs.Endpoint, filter.Values())
	if err != nil {
		s.pageFailed(w, r, err, "Unable to load audit logs")
		return
	}

	rows := make([]auditRow, 0, len(page.Items))
	for _, rec := range page.Items {
		rows = append(rows, auditRowFrom(auditlog.FromRecord(rec)))
	}

	data := s.basePage(r, records.AuditLogs.Plural, records.AuditLogs.Name)
	data.Schema = records.AuditLogs
	data.Filter = filter
	data.Recent = rows
	data.EntityTypes = entityTypeNames()
	data.AuditActions = auditActions
	data.Pager = auditPager(filter, page)
	data.ArchiveURL = "/audit-logs/archive"
	if q := filterQuery(filter); len(q) > 0 {
		data.ArchiveURL += "?" + q.Encode()
	}
	s.render(w, http.StatusOK, "audit_logs", data)
}

func (s *Server) auditLogPage(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	rec, err := s.api.Get(r.Context(), sess.Token, records.AuditLogs.Endpoint, chi.URLParam(r, "id"))
	if err != nil {
		s.pageFailed(w, r, err, "Audit log not found")
		return
	}
	entry := auditlog.FromRecord(rec)
	view := &auditEntryView{
		Row:      auditRowFrom(entry),
		Email:    entry.UserEmail,
		Snapshot: entry.Before != nil || entry.After != nil,
	}
	schema, known := records.Lookup(entry.EntityType)
	if known && entry.Action != "delete" && entry.EntityID != "" {
		view.Link = recordPath(schema, entry.EntityID)
	}
	if !known {
		schema = nil
	}

	data := s.basePage(r, "Audit Log", records.AuditLogs.Name)
	data.Entry = view
	if view.Snapshot {
		data.Changes = diffsummary.RenderHTML(diffsummary.Compare(schema, entry.Before, entry.After))
	}
	s.render(w, http.StatusOK, "audit_log", data)
}

// auditArchiveFile downloads every entry matching the filter as xz-compressed
// JSON lines.
func (s *Server) auditArchiveFile(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	filter := auditlog.ParseFilter(r.URL.Query())
	recs, err := s.api.ListAll(r.Context(), sess.Token, records.AuditLogs.Endpoint, filterQuery(filter), archiveLimit)
	if err != nil {
		s.pageFailed(w, r, err, "Unable to export audit logs")
		return
	}
	entries := make([]auditlog.Entry, 0, len(recs))
	for _, rec := range recs {
		if e := auditlog.FromRecord(rec); filter.Match(e) {
			entries = append(entries, e)
		}
	}
	var buf bytes.Buffer
	if err := auditlog.WriteArchive(&buf, entries); err != nil {
		s.logger.Error("write audit archive", zap.Error(err))
		s.renderError(w, r, http.StatusInternalServerError, "Unable to build archive")
		return
	}
	setDownloadHeaders(w, "application/x-xz", auditlog.ArchiveName(time.Now()), buf.Len())
	_, _ = w.Write(buf.Bytes())
}
