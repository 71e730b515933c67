package console

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/phillip-england/projectdesk/internal/apiclient"
	"github.com/phillip-england/projectdesk/internal/auditlog"
	"github.com/phillip-england/projectdesk/internal/diffsummary"
	"github.com/phillip-england/projectdesk/internal/kvstore"
	"github.com/phillip-england/projectdesk/internal/records"
)

const (
	childListLimit   = 50
	refOptionsLimit  = 200
	recentAuditLimit = 10
)

func (s *Server) dashboardPage(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	schemas := records.Editable()
	counts := make([]countView, len(schemas))
	var recent []auditRow
	var partial atomic.Bool

	g, ctx := errgroup.WithContext(r.Context())
	for i, schema := range schemas {
		counts[i] = countView{Label: schema.Plural, Href: entityPath(schema)}
		g.Go(func() error {
			page, err := s.api.List(ctx, sess.Token, schema.Endpoint, url.Values{"limit": {"1"}})
			if err != nil {
				return s.softFail(err, &partial, "count "+schema.Name)
			}
			counts[i].Total = max(page.Total, len(page.Items))
			return nil
		})
	}
	g.Go(func() error {
		page, err := s.api.List(ctx, sess.Token, records.AuditLogs.Endpoint, url.Values{"limit": {strconv.Itoa(recentAuditLimit)}})
		if err != nil {
			return s.softFail(err, &partial, "recent activity")
		}
		for _, rec := range page.Items {
			recent = append(recent, auditRowFrom(auditlog.FromRecord(rec)))
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		s.pageFailed(w, r, err, "Unable to load dashboard")
		return
	}

	data := s.basePage(r, "Dashboard", "")
	data.Counts = counts
	data.Recent = recent
	if partial.Load() && data.Error == "" {
		data.Error = "Some figures could not be loaded"
	}
	s.render(w, http.StatusOK, "dashboard", data)
}

// softFail logs a secondary fetch failure and only propagates an expired token.
func (s *Server) softFail(err error, partial *atomic.Bool, what string) error {
	if errors.Is(err, apiclient.ErrUnauthorized) {
		return err
	}
	s.logger.Warn("secondary fetch failed", zap.String("what", what), zap.Error(err))
	if partial != nil {
		partial.Store(true)
	}
	return nil
}

// listQuery maps the console's list filters onto the backend query.
func (s *Server) listQuery(schema *records.Schema, q url.Values) (url.Values, url.Values) {
	kept := url.Values{}
	api := url.Values{}
	if search := strings.TrimSpace(q.Get("q")); search != "" {
		kept.Set("q", search)
		api.Set("q", search)
	}
	if status := strings.TrimSpace(q.Get("status")); status != "" && schema.StatusField != "" {
		kept.Set("status", status)
		api.Set(schema.StatusField, status)
	}
	if schema.Parent != nil {
		if parent := strings.TrimSpace(q.Get(schema.Parent.Key)); parent != "" {
			kept.Set(schema.Parent.Key, parent)
			api.Set(schema.Parent.Key, parent)
		}
	}
	return kept, api
}

func (s *Server) listPage(w http.ResponseWriter, r *http.Request) {
	schema, ok := s.schemaFor(w, r)
	if !ok {
		return
	}
	sess := sessionFromContext(r.Context())
	q := r.URL.Query()
	kept, apiQuery := s.listQuery(schema, q)
	apiQuery.Set("page", strconv.Itoa(parsePositiveInt(q.Get("page"), 1)))
	apiQuery.Set("limit", strconv.Itoa(s.pageSize))

	page, err := s.api.List(r.Context(), sess.Token, schema.Endpoint, apiQuery)
	if err != nil {
		s.pageFailed(w, r, err, "Unable to load "+strings.ToLower(schema.Plural))
		return
	}

	data := s.basePage(r, schema.Plural, schema.Name)
	data.Schema = schema
	data.Columns, data.Rows = listRows(schema, page.Items)
	data.Search = kept.Get("q")
	data.Status = kept.Get("status")
	data.StatusOptions = schema.StatusOptions()
	data.Pager = pager(entityPath(schema), kept, page)
	data.ExportURL = entityPath(schema) + "/export.xlsx"
	if len(kept) > 0 {
		data.ExportURL += "?" + kept.Encode()
	}
	s.render(w, http.StatusOK, "list", data)
}

func (s *Server) newPage(w http.ResponseWriter, r *http.Request) {
	schema, ok := s.schemaFor(w, r)
	if !ok {
		return
	}
	sess := sessionFromContext(r.Context())
	q := r.URL.Query()
	rec := records.Record{}

	from, fromID := q.Get("from"), q.Get("fromId")
	if from != "" && fromID != "" {
		source, ok := records.Lookup(from)
		if !ok {
			s.renderError(w, r, http.StatusBadRequest, "Unknown source record type")
			return
		}
		src, err := s.api.Get(r.Context(), sess.Token, source.Endpoint, fromID)
		if err != nil {
			s.pageFailed(w, r, err, source.Singular+" not found")
			return
		}
		rec, err = records.Derive(schema, from, src)
		if err != nil {
			http.Redirect(w, r, withQuery(recordPath(source, fromID), "error", err.Error()), http.StatusFound)
			return
		}
	}
	if schema == records.Revisions && rec.String("quotationId") != "" {
		existing, err := s.api.ListAll(r.Context(), sess.Token, schema.Endpoint, url.Values{"quotationId": {rec.String("quotationId")}}, 0)
		if err != nil {
			s.pageFailed(w, r, err, "Unable to number the revision")
			return
		}
		rec["revisionNumber"] = float64(records.NextRevisionNumber(existing))
	}
	for _, f := range schema.Fields {
		if f.Kind == records.KindDate && f.Required && rec.String(f.Key) == "" {
			rec[f.Key] = today()
		}
	}

	data := s.basePage(r, "New "+schema.Singular, schema.Name)
	data.From, data.FromID = from, fromID
	s.renderForm(w, r, http.StatusOK, data, schema, rec, entityPath(schema))
}

// renderForm fills the reference pickers in parallel and renders the form.
func (s *Server) renderForm(w http.ResponseWriter, r *http.Request, status int, data pageData, schema *records.Schema, rec records.Record, action string) {
	sess := sessionFromContext(r.Context())
	options := map[string][]optionView{}
	lists := make([][]optionView, len(schema.Fields))

	g, ctx := errgroup.WithContext(r.Context())
	for i, f := range schema.Fields {
		if f.Kind != records.KindRef {
			continue
		}
		ref, ok := records.Lookup(f.Ref)
		if !ok {
			continue
		}
		g.Go(func() error {
			recs, err := s.api.ListAll(ctx, sess.Token, ref.Endpoint, nil, refOptionsLimit)
			if err != nil {
				return s.softFail(err, nil, "options "+ref.Name)
			}
			lists[i] = refOptionsFrom(ref, recs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.pageFailed(w, r, err, "Unable to load form")
		return
	}
	for i, f := range schema.Fields {
		if lists[i] != nil {
			options[f.Key] = lists[i]
		}
	}

	data.Schema = schema
	data.Fields = formFields(schema, rec, options)
	data.FormAction = action
	s.render(w, status, "form", data)
}

func (s *Server) createProxy(w http.ResponseWriter, r *http.Request) {
	schema, ok := s.schemaFor(w, r)
	if !ok {
		return
	}
	sess := sessionFromContext(r.Context())
	if err := r.ParseForm(); err != nil {
		http.Redirect(w, r, withQuery(entityPath(schema)+"/new", "error", "Invalid form submission"), http.StatusFound)
		return
	}
	rec := records.FromValues(schema, r.PostForm)
	records.ComputeTotals(schema, rec)

	data := s.basePage(r, "New "+schema.Singular, schema.Name)
	data.From, data.FromID = r.PostForm.Get("from"), r.PostForm.Get("fromId")
	if missing := records.MissingRequired(schema, rec); len(missing) > 0 {
		data.Error = requiredMessage(missing)
		s.renderForm(w, r, http.StatusUnprocessableEntity, data, schema, rec, entityPath(schema))
		return
	}

	created, err := s.api.Create(r.Context(), sess.Token, schema.Endpoint, rec)
	if err != nil {
		if s.sessionExpired(w, r, err) {
			return
		}
		s.logger.Warn("create failed", zap.String("entity", schema.Name), zap.Error(err))
		data.Error = apiclient.Message(err, "Unable to create "+strings.ToLower(schema.Singular))
		s.renderForm(w, r, failureStatus(err), data, schema, rec, entityPath(schema))
		return
	}
	if created.ID() == "" {
		http.Redirect(w, r, withQuery(entityPath(schema), "message", schema.Singular+" created"), http.StatusFound)
		return
	}
	http.Redirect(w, r, withQuery(recordPath(schema, created.ID()), "message", schema.Singular+" created"), http.StatusFound)
}

func requiredMessage(labels []string) string {
	return strings.Join(labels, ", ") + " required"
}

func failureStatus(err error) int {
	var apiErr *apiclient.Error
	if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 {
		return http.StatusUnprocessableEntity
	}
	return http.StatusBadGateway
}

func (s *Server) detailPage(w http.ResponseWriter, r *http.Request) {
	schema, ok := s.schemaFor(w, r)
	if !ok {
		return
	}
	sess := sessionFromContext(r.Context())
	id := chi.URLParam(r, "id")
	rec, err := s.api.Get(r.Context(), sess.Token, schema.Endpoint, id)
	if err != nil {
		s.pageFailed(w, r, err, schema.Singular+" not found")
		return
	}

	view := newRecordView(schema, rec)
	children := records.Children(schema)
	childViews := make([]childView, len(children))
	var attachments []attachmentView
	var activity []auditRow

	g, ctx := errgroup.WithContext(r.Context())
	for i, child := range children {
		query := url.Values{child.Parent.Key: {rec.ID()}}
		childViews[i] = childView{
			Schema:  child,
			NewHref: entityPath(child) + "/new?" + url.Values{"from": {schema.Name}, "fromId": {rec.ID()}}.Encode(),
			AllHref: entityPath(child) + "?" + query.Encode(),
		}
		if _, ok := child.Derive[schema.Name]; !ok {
			childViews[i].NewHref = ""
		}
		g.Go(func() error {
			recs, err := s.api.ListAll(ctx, sess.Token, child.Endpoint, query, childListLimit)
			if err != nil {
				return s.softFail(err, nil, "children "+child.Name)
			}
			childViews[i].Columns, childViews[i].Rows = listRows(child, recs)
			return nil
		})
	}
	if schema.Parent != nil && rec.String(schema.Parent.Key) != "" {
		g.Go(func() error {
			parentSchema, ok := records.Lookup(schema.Parent.Entity)
			if !ok {
				return nil
			}
			parentID := rec.String(schema.Parent.Key)
			parent, err := s.api.Get(ctx, sess.Token, parentSchema.Endpoint, parentID)
			if err != nil {
				return s.softFail(err, nil, "parent "+parentSchema.Name)
			}
			view.Parent = &linkView{Label: parentSchema.Singular + " " + parentSchema.Title(parent), Href: recordPath(parentSchema, parentID)}
			return nil
		})
	}
	if schema.Attachments {
		g.Go(func() error {
			page, err := s.api.List(ctx, sess.Token, recordEndpoint(schema, rec.ID())+"/attachments", nil)
			if err != nil {
				return s.softFail(err, nil, "attachments")
			}
			for _, a := range page.Items {
				attachments = append(attachments, attachmentViewFrom(schema, rec.ID(), a))
			}
			return nil
		})
	}
	g.Go(func() error {
		query := url.Values{"entityType": {schema.Name}, "entityId": {rec.ID()}, "limit": {strconv.Itoa(recentAuditLimit)}}
		page, err := s.api.List(ctx, sess.Token, records.AuditLogs.Endpoint, query)
		if err != nil {
			return s.softFail(err, nil, "activity")
		}
		for _, item := range page.Items {
			activity = append(activity, auditRowFrom(auditlog.FromRecord(item)))
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		s.pageFailed(w, r, err, "Unable to load "+strings.ToLower(schema.Singular))
		return
	}

	data := s.basePage(r, view.Title, schema.Name)
	data.Schema = schema
	data.Record = view
	data.Children = childViews
	data.Attachments = attachments
	data.Activity = activity
	data.Actions = s.actionsFor(sess, schema, rec)
	if schema == records.PurchaseOrders {
		data.Receipt = receiptFields(rec, sess)
	}

	var changes diffsummary.Summary
	changesKey := changesScratchKey(schema, rec.ID())
	if err := s.loadScratch(r.Context(), sess, changesKey, &changes); err == nil {
		data.Changes = diffsummary.RenderHTML(changes)
		s.dropScratch(r.Context(), sess, changesKey)
	} else if !errors.Is(err, kvstore.ErrNotFound) {
		s.logger.Warn("load change summary", zap.Error(err))
	}
	s.render(w, http.StatusOK, "detail", data)
}

func (s *Server) actionsFor(sess *session, schema *records.Schema, rec records.Record) actionsView {
	base := recordPath(schema, rec.ID())
	a := actionsView{
		CanEdit:   !schema.ReadOnly,
		CanDelete: sess.canDelete(),
		PDFURL:    base + "/pdf",
		RecordGRN: schema == records.PurchaseOrders,
	}
	if schema.Approvable && sess.canApprove() {
		status := rec.String(schema.StatusField)
		a.CanApprove = true
		if status != schema.ApproveStatus {
			a.Approve = base + "/approve"
		}
		if status != schema.RejectStatus {
			a.Reject = base + "/reject"
		}
	}
	if schema == records.Revisions {
		a.CompareURL = base + "/compare"
	}
	for _, target := range records.Editable() {
		if _, ok := target.Derive[schema.Name]; !ok {
			continue
		}
		href := entityPath(target) + "/new?" + url.Values{"from": {schema.Name}, "fromId": {rec.ID()}}.Encode()
		a.Derive = append(a.Derive, linkView{Label: "New " + target.Singular, Href: href})
	}
	return a
}

func receiptFields(rec records.Record, sess *session) []fieldView {
	f, _ := records.PurchaseOrders.Field("receipts")
	defaults := map[string]string{
		"grnNumber":    records.FormatNumberCode("GRN", len(rec.Items("receipts"))+1),
		"receivedDate": today(),
		"receivedBy":   sess.User.Name,
	}
	out := make([]fieldView, 0, len(f.Columns))
	for _, col := range f.Columns {
		fv := baseField(col)
		fv.Input = defaults[col.Key]
		out = append(out, fv)
	}
	return out
}

func scratchRecordKey(schema *records.Schema, id string) string {
	return "record:" + schema.Name + ":" + id
}

func changesScratchKey(schema *records.Schema, id string) string {
	return "changes:" + schema.Name + ":" + id
}

func recordEndpoint(schema *records.Schema, id string) string {
	return schema.Endpoint + "/" + url.PathEscape(id)
}

func (s *Server) editPage(w http.ResponseWriter, r *http.Request) {
	schema, ok := s.schemaFor(w, r)
	if !ok {
		return
	}
	sess := sessionFromContext(r.Context())
	id := chi.URLParam(r, "id")
	rec, err := s.api.Get(r.Context(), sess.Token, schema.Endpoint, id)
	if err != nil {
		s.pageFailed(w, r, err, schema.Singular+" not found")
		return
	}
	if err := s.saveScratch(r.Context(), sess, scratchRecordKey(schema, id), rec); err != nil {
		s.logger.Warn("save scratch copy", zap.String("entity", schema.Name), zap.Error(err))
	}
	data := s.basePage(r, "Edit "+schema.Title(rec), schema.Name)
	data.Record = newRecordView(schema, rec)
	s.renderForm(w, r, http.StatusOK, data, schema, rec, recordPath(schema, id))
}

// updateProxy merges the submitted fields over the copy saved when the edit
// screen opened, saves it and keeps the change summary for the detail screen.
func (s *Server) updateProxy(w http.ResponseWriter, r *http.Request) {
	schema, ok := s.schemaFor(w, r)
	if !ok {
		return
	}
	sess := sessionFromContext(r.Context())
	id := chi.URLParam(r, "id")
	if err := r.ParseForm(); err != nil {
		http.Redirect(w, r, withQuery(recordPath(schema, id)+"/edit", "error", "Invalid form submission"), http.StatusFound)
		return
	}

	scratchKey := scratchRecordKey(schema, id)
	var before records.Record
	if err := s.loadScratch(r.Context(), sess, scratchKey, &before); err != nil {
		before, err = s.api.Get(r.Context(), sess.Token, schema.Endpoint, id)
		if err != nil {
			s.actionFailed(w, r, err, recordPath(schema, id), schema.Singular+" not found")
			return
		}
	}
	after := before.Clone()
	for key, value := range records.FromValues(schema, r.PostForm) {
		after[key] = value
	}
	records.ComputeTotals(schema, after)

	data := s.basePage(r, "Edit "+schema.Title(before), schema.Name)
	data.Record = newRecordView(schema, before)
	if missing := records.MissingRequired(schema, after); len(missing) > 0 {
		data.Error = requiredMessage(missing)
		s.renderForm(w, r, http.StatusUnprocessableEntity, data, schema, after, recordPath(schema, id))
		return
	}

	updated, err := s.api.Update(r.Context(), sess.Token, schema.Endpoint, id, after)
	if err != nil {
		if s.sessionExpired(w, r, err) {
			return
		}
		s.logger.Warn("update failed", zap.String("entity", schema.Name), zap.Error(err))
		data.Error = apiclient.Message(err, "Unable to save "+strings.ToLower(schema.Singular))
		s.renderForm(w, r, failureStatus(err), data, schema, after, recordPath(schema, id))
		return
	}
	if len(updated) == 0 {
		updated = after
	}
	s.dropScratch(r.Context(), sess, scratchKey)

	summary := diffsummary.Compare(schema, before, updated)
	message := schema.Singular + " saved"
	if !summary.Empty() {
		if err := s.saveScratch(r.Context(), sess, changesScratchKey(schema, id), summary); err != nil {
			s.logger.Warn("save change summary", zap.Error(err))
		}
		message = fmt.Sprintf("%s saved: %s changed", schema.Singular, strings.Join(summary.Labels(), ", "))
	}
	http.Redirect(w, r, withQuery(recordPath(schema, id), "message", message), http.StatusFound)
}

func (s *Server) deleteProxy(w http.ResponseWriter, r *http.Request) {
	schema, ok := s.schemaFor(w, r)
	if !ok {
		return
	}
	sess := sessionFromContext(r.Context())
	id := chi.URLParam(r, "id")
	if !sess.canDelete() {
		http.Redirect(w, r, withQuery(recordPath(schema, id), "error", "You do not have permission to delete records"), http.StatusFound)
		return
	}
	if err := s.api.Delete(r.Context(), sess.Token, schema.Endpoint, id); err != nil {
		s.actionFailed(w, r, err, recordPath(schema, id), "Unable to delete "+strings.ToLower(schema.Singular))
		return
	}
	s.dropScratch(r.Context(), sess, scratchRecordKey(schema, id))
	http.Redirect(w, r, withQuery(entityPath(schema), "message", schema.Singular+" deleted"), http.StatusFound)
}

func (s *Server) approveProxy(w http.ResponseWriter, r *http.Request) {
	s.setApprovalStatus(w, r, true)
}

func (s *Server) rejectProxy(w http.ResponseWriter, r *http.Request) {
	s.setApprovalStatus(w, r, false)
}

func (s *Server) setApprovalStatus(w http.ResponseWriter, r *http.Request, approve bool) {
	schema, ok := s.schemaFor(w, r)
	if !ok {
		return
	}
	sess := sessionFromContext(r.Context())
	id := chi.URLParam(r, "id")
	back := recordPath(schema, id)
	if !schema.Approvable {
		http.Redirect(w, r, withQuery(back, "error", schema.Plural+" do not need approval"), http.StatusFound)
		return
	}
	if !sess.canApprove() {
		http.Redirect(w, r, withQuery(back, "error", "You do not have permission to approve records"), http.StatusFound)
		return
	}
	status, verb := schema.ApproveStatus, "approved"
	if !approve {
		status, verb = schema.RejectStatus, "rejected"
	}
	if _, err := s.api.Patch(r.Context(), sess.Token, schema.Endpoint, id, records.Record{schema.StatusField: status}); err != nil {
		s.actionFailed(w, r, err, back, "Unable to update status")
		return
	}
	http.Redirect(w, r, withQuery(back, "message", schema.Singular+" "+verb), http.StatusFound)
}

// recordReceiptProxy appends one goods receipt note to a purchase order.
func (s *Server) recordReceiptProxy(w http.ResponseWriter, r *http.Request) {
	schema, ok := s.schemaFor(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	back := recordPath(schema, id)
	if schema != records.PurchaseOrders {
		s.renderError(w, r, http.StatusNotFound, "Page not found")
		return
	}
	sess := sessionFromContext(r.Context())
	if err := r.ParseForm(); err != nil {
		http.Redirect(w, r, withQuery(back, "error", "Invalid form submission"), http.StatusFound)
		return
	}
	po, err := s.api.Get(r.Context(), sess.Token, schema.Endpoint, id)
	if err != nil {
		s.actionFailed(w, r, err, back, schema.Singular+" not found")
		return
	}

	existing := po.Items("receipts")
	receipt := map[string]any{}
	f, _ := schema.Field("receipts")
	for _, col := range f.Columns {
		raw := strings.TrimSpace(r.PostForm.Get(col.Key))
		if raw == "" {
			continue
		}
		if col.Kind == records.KindNumber {
			if n, err := strconv.ParseFloat(raw, 64); err == nil {
				receipt[col.Key] = n
			}
			continue
		}
		receipt[col.Key] = raw
	}
	if receipt["grnNumber"] == nil {
		receipt["grnNumber"] = records.FormatNumberCode("GRN", len(existing)+1)
	}
	if receipt["receivedDate"] == nil {
		receipt["receivedDate"] = today()
	}
	if receipt["receivedBy"] == nil && sess.User.Name != "" {
		receipt["receivedBy"] = sess.User.Name
	}

	rows := make([]any, 0, len(existing)+1)
	for _, row := range existing {
		rows = append(rows, map[string]any(row))
	}
	rows = append(rows, receipt)
	if _, err := s.api.Patch(r.Context(), sess.Token, schema.Endpoint, id, records.Record{"receipts": rows}); err != nil {
		s.actionFailed(w, r, err, back, "Unable to record goods receipt")
		return
	}
	http.Redirect(w, r, withQuery(back, "message", fmt.Sprintf("%v recorded", receipt["grnNumber"])), http.StatusFound)
}
