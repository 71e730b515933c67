package console

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/phillip-england/projectdesk/internal/apiclient"
	"github.com/phillip-england/projectdesk/internal/diffsummary"
	"github.com/phillip-england/projectdesk/internal/printdoc"
	"github.com/phillip-england/projectdesk/internal/records"
	"github.com/phillip-england/projectdesk/internal/sheets"
)

const (
	exportLimit      = 5000
	maxUploadBytes   = 20 << 20
	importErrorsShow = 3
)

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func safeFilename(name, ext string) string {
	name = strings.Trim(unsafeFileChars.ReplaceAllString(name, "-"), "-")
	if name == "" {
		name = "document"
	}
	return name + ext
}

func setDownloadHeaders(w http.ResponseWriter, contentType, filename string, size int) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	if size > 0 {
		w.Header().Set("Content-Length", fmt.Sprint(size))
	}
}

func (s *Server) exportXLSX(w http.ResponseWriter, r *http.Request) {
	schema, ok := s.schemaFor(w, r)
	if !ok {
		return
	}
	sess := sessionFromContext(r.Context())
	_, apiQuery := s.listQuery(schema, r.URL.Query())
	recs, err := s.api.ListAll(r.Context(), sess.Token, schema.Endpoint, apiQuery, exportLimit)
	if err != nil {
		s.pageFailed(w, r, err, "Unable to export "+strings.ToLower(schema.Plural))
		return
	}
	headers, rows := sheets.RecordRows(schema, recs)
	var buf bytes.Buffer
	if err := sheets.WriteXLSX(&buf, schema.Plural, headers, rows); err != nil {
		s.logger.Error("write spreadsheet", zap.String("entity", schema.Name), zap.Error(err))
		s.renderError(w, r, http.StatusInternalServerError, "Unable to build spreadsheet")
		return
	}
	filename := safeFilename(schema.Name+"-"+time.Now().Format("20060102"), ".xlsx")
	setDownloadHeaders(w, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", filename, buf.Len())
	_, _ = w.Write(buf.Bytes())
}

// importProxy creates one record per spreadsheet row. Rows that fail to convert
// or that the backend rejects are reported and the rest still imported.
func (s *Server) importProxy(w http.ResponseWriter, r *http.Request) {
	schema, ok := s.schemaFor(w, r)
	if !ok {
		return
	}
	back := entityPath(schema)
	if !schema.Importable {
		http.Redirect(w, r, withQuery(back, "error", schema.Plural+" cannot be imported"), http.StatusFound)
		return
	}
	sess := sessionFromContext(r.Context())
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Redirect(w, r, withQuery(back, "error", "Invalid upload"), http.StatusFound)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Redirect(w, r, withQuery(back, "error", "Choose a spreadsheet to import"), http.StatusFound)
		return
	}
	defer file.Close()

	rows, err := sheets.ReadRows(file, header.Filename)
	if err != nil {
		http.Redirect(w, r, withQuery(back, "error", err.Error()), http.StatusFound)
		return
	}
	recs, rowErrs := sheets.ImportRecords(schema, rows)
	problems := make([]string, 0, len(rowErrs))
	for _, rowErr := range rowErrs {
		problems = append(problems, rowErr.Error())
	}

	created := 0
	for i, rec := range recs {
		if _, err := s.api.Create(r.Context(), sess.Token, schema.Endpoint, rec); err != nil {
			if s.sessionExpired(w, r, err) {
				return
			}
			problems = append(problems, fmt.Sprintf("record %d: %s", i+1, apiclient.Message(err, "rejected")))
			continue
		}
		created++
	}
	s.logger.Info("import finished", zap.String("entity", schema.Name), zap.Int("created", created), zap.Int("problems", len(problems)))

	target := withQuery(back, "message", fmt.Sprintf("Imported %d %s", created, strings.ToLower(pluralFor(schema, created))))
	if len(problems) > 0 {
		shown := problems[:min(len(problems), importErrorsShow)]
		msg := strings.Join(shown, "; ")
		if extra := len(problems) - len(shown); extra > 0 {
			msg += fmt.Sprintf(" (and %d more)", extra)
		}
		target = withQuery(target, "error", msg)
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func pluralFor(schema *records.Schema, n int) string {
	if n == 1 {
		return schema.Singular
	}
	return schema.Plural
}

func (s *Server) printOptions() printdoc.Options {
	footer := s.company.Name
	if footer == "" {
		footer = "Generated by projectdesk"
	}
	return printdoc.Options{Letterhead: s.letterhead, Footer: footer, Now: time.Now()}
}

func (s *Server) writePDF(w http.ResponseWriter, r *http.Request, doc printdoc.Document, filename string) {
	var buf bytes.Buffer
	result, err := printdoc.Render(&buf, doc)
	if err != nil {
		s.logger.Error("render pdf", zap.String("title", doc.Title), zap.Error(err))
		s.renderError(w, r, http.StatusInternalServerError, "Unable to build PDF")
		return
	}
	s.logger.Debug("pdf rendered", zap.String("file", filename), zap.Int("pages", result.Pages))
	setDownloadHeaders(w, "application/pdf", filename, buf.Len())
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) pdfFile(w http.ResponseWriter, r *http.Request) {
	schema, ok := s.schemaFor(w, r)
	if !ok {
		return
	}
	sess := sessionFromContext(r.Context())
	rec, err := s.api.Get(r.Context(), sess.Token, schema.Endpoint, chi.URLParam(r, "id"))
	if err != nil {
		s.pageFailed(w, r, err, schema.Singular+" not found")
		return
	}
	name := rec.String(schema.NumberField)
	if name == "" {
		name = schema.Name + "-" + rec.ID()
	}
	s.writePDF(w, r, printdoc.FromRecord(schema, rec, s.printOptions()), safeFilename(name, ".pdf"))
}

// revisionBase finds what a revision is compared against: the revision of the
// same quotation with the next lower revision number, else the quotation itself.
func (s *Server) revisionBase(r *http.Request, rev records.Record) (records.Record, string, error) {
	sess := sessionFromContext(r.Context())
	quotationID := rev.String("quotationId")
	if quotationID == "" {
		return nil, "", fmt.Errorf("revision has no quotation")
	}
	siblings, err := s.api.ListAll(r.Context(), sess.Token, records.Revisions.Endpoint, url.Values{"quotationId": {quotationID}}, 0)
	if err != nil {
		return nil, "", err
	}
	current := rev.Float("revisionNumber")
	var base records.Record
	for _, sib := range siblings {
		n := sib.Float("revisionNumber")
		if sib.ID() == rev.ID() || n >= current {
			continue
		}
		if base == nil || n > base.Float("revisionNumber") {
			base = sib
		}
	}
	if base != nil {
		return base, records.Revisions.Singular + " " + records.Revisions.Title(base), nil
	}
	quotation, err := s.api.Get(r.Context(), sess.Token, records.Quotations.Endpoint, quotationID)
	if err != nil {
		return nil, "", err
	}
	return quotation, records.Quotations.Singular + " " + records.Quotations.Title(quotation), nil
}

func (s *Server) loadRevisionComparison(w http.ResponseWriter, r *http.Request) (records.Record, string, diffsummary.Summary, bool) {
	schema, ok := s.schemaFor(w, r)
	if !ok {
		return nil, "", diffsummary.Summary{}, false
	}
	if schema != records.Revisions {
		s.renderError(w, r, http.StatusNotFound, "Only revisions can be compared")
		return nil, "", diffsummary.Summary{}, false
	}
	sess := sessionFromContext(r.Context())
	rev, err := s.api.Get(r.Context(), sess.Token, schema.Endpoint, chi.URLParam(r, "id"))
	if err != nil {
		s.pageFailed(w, r, err, "Revision not found")
		return nil, "", diffsummary.Summary{}, false
	}
	base, baseTitle, err := s.revisionBase(r, rev)
	if err != nil {
		s.pageFailed(w, r, err, "Unable to load the previous version")
		return nil, "", diffsummary.Summary{}, false
	}
	return rev, baseTitle, diffsummary.Compare(records.Revisions, base, rev), true
}

func (s *Server) comparePage(w http.ResponseWriter, r *http.Request) {
	rev, baseTitle, summary, ok := s.loadRevisionComparison(w, r)
	if !ok {
		return
	}
	data := s.basePage(r, "Compare "+records.Revisions.Title(rev), records.Revisions.Name)
	data.Schema = records.Revisions
	data.Record = newRecordView(records.Revisions, rev)
	data.BaseTitle = baseTitle
	data.Changes = diffsummary.RenderHTML(summary)
	data.Actions.PDFURL = recordPath(records.Revisions, rev.ID()) + "/compare.pdf"
	s.render(w, http.StatusOK, "compare", data)
}

func (s *Server) comparePDFFile(w http.ResponseWriter, r *http.Request) {
	rev, baseTitle, summary, ok := s.loadRevisionComparison(w, r)
	if !ok {
		return
	}
	doc := printdoc.FromRecord(records.Revisions, rev, s.printOptions())
	doc = printdoc.WithChanges(doc, "Changes from "+baseTitle, summary)
	name := rev.String("number")
	if name == "" {
		name = "revision-" + rev.ID()
	}
	s.writePDF(w, r, doc, safeFilename(name+"-changes", ".pdf"))
}

func attachmentViewFrom(schema *records.Schema, recordID string, a records.Record) attachmentView {
	name := a.String("fileName")
	if name == "" {
		name = a.String("name")
	}
	if name == "" {
		name = a.ID()
	}
	href := recordPath(schema, recordID) + "/attachments/" + url.PathEscape(a.ID())
	return attachmentView{
		ID:        a.ID(),
		Name:      name,
		Size:      humanSize(a.Float("size")),
		Href:      href + "?" + url.Values{"name": {name}}.Encode(),
		DeleteURL: href + "/delete",
	}
}

func (s *Server) uploadAttachmentProxy(w http.ResponseWriter, r *http.Request) {
	schema, ok := s.schemaFor(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	back := recordPath(schema, id)
	if !schema.Attachments {
		http.Redirect(w, r, withQuery(back, "error", schema.Plural+" do not take attachments"), http.StatusFound)
		return
	}
	sess := sessionFromContext(r.Context())
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Redirect(w, r, withQuery(back, "error", "Upload is too large"), http.StatusFound)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Redirect(w, r, withQuery(back, "error", "Choose a file to attach"), http.StatusFound)
		return
	}
	defer file.Close()

	if _, err := s.api.UploadAttachment(r.Context(), sess.Token, schema.Endpoint, id, header.Filename, header.Header.Get("Content-Type"), file); err != nil {
		s.actionFailed(w, r, err, back, "Unable to upload attachment")
		return
	}
	http.Redirect(w, r, withQuery(back, "message", header.Filename+" attached"), http.StatusFound)
}

func (s *Server) attachmentFile(w http.ResponseWriter, r *http.Request) {
	schema, ok := s.schemaFor(w, r)
	if !ok {
		return
	}
	sess := sessionFromContext(r.Context())
	body, contentType, err := s.api.OpenAttachment(r.Context(), sess.Token, schema.Endpoint, chi.URLParam(r, "id"), chi.URLParam(r, "attachmentID"))
	if err != nil {
		s.pageFailed(w, r, err, "Attachment not found")
		return
	}
	defer body.Close()
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		name = chi.URLParam(r, "attachmentID")
	}
	setDownloadHeaders(w, contentType, name, 0)
	if _, err := io.Copy(w, body); err != nil {
		s.logger.Warn("stream attachment", zap.Error(err))
	}
}

func (s *Server) deleteAttachmentProxy(w http.ResponseWriter, r *http.Request) {
	schema, ok := s.schemaFor(w, r)
	if !ok {
		return
	}
	sess := sessionFromContext(r.Context())
	id := chi.URLParam(r, "id")
	back := recordPath(schema, id)
	if !sess.canDelete() {
		http.Redirect(w, r, withQuery(back, "error", "You do not have permission to delete attachments"), http.StatusFound)
		return
	}
	if err := s.api.DeleteAttachment(r.Context(), sess.Token, schema.Endpoint, id, chi.URLParam(r, "attachmentID")); err != nil {
		s.actionFailed(w, r, err, back, "Unable to delete attachment")
		return
	}
	http.Redirect(w, r, withQuery(back, "message", "Attachment deleted"), http.StatusFound)
}
