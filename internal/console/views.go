package console

import (
	"html/template"
	"net/url"
	"strconv"
	"time"

	"github.com/phillip-england/projectdesk/internal/apiclient"
	"github.com/phillip-england/projectdesk/internal/auditlog"
	"github.com/phillip-england/projectdesk/internal/records"
	"github.com/phillip-england/projectdesk/internal/richtext"
)

// blankItemRows is how many empty rows an items table offers for new lines.
const blankItemRows = 3

type pageData struct {
	Title   string
	Error   string
	Message string
	CSRF    string
	User    *apiclient.User
	Company string
	Nav     []navItem

	Schema     *records.Schema
	Record     *recordView
	Fields     []fieldView
	FormAction string
	From       string
	FromID     string

	Columns       []string
	Rows          []rowView
	Search        string
	Status        string
	StatusOptions []string
	Pager         *pagerView
	ExportURL     string

	Children    []childView
	Attachments []attachmentView
	Activity    []auditRow
	Changes     template.HTML
	Actions     actionsView
	Receipt     []fieldView

	Counts []countView
	Recent []auditRow

	Filter       auditlog.Filter
	EntityTypes  []string
	AuditActions []string
	ArchiveURL   string
	Entry        *auditEntryView

	BaseTitle string
}

type navItem struct {
	Label  string
	Href   string
	Active bool
}

type recordView struct {
	ID       string
	Title    string
	Href     string
	Status   string
	Fields   []fieldView
	Parent   *linkView
	Modified string
}

type linkView struct {
	Label string
	Href  string
}

type fieldView struct {
	Key      string
	Label    string
	Kind     string
	Value    string
	Input    string
	HTML     template.HTML
	Options  []optionView
	Required bool
	Computed bool
	Columns  []columnView
	Rows     [][]string
	Inputs   [][]cellView
	Link     string
}

type optionView struct {
	Value    string
	Label    string
	Selected bool
}

type columnView struct {
	Label    string
	Kind     string
	Computed bool
}

type cellView struct {
	Name     string
	Value    string
	Kind     string
	Computed bool
}

type rowView struct {
	Href  string
	Cells []string
}

type pagerView struct {
	Page       int
	TotalPages int
	Total      int
	HasPrev    bool
	HasNext    bool
	PrevURL    string
	NextURL    string
}

type childView struct {
	Schema  *records.Schema
	Columns []string
	Rows    []rowView
	NewHref string
	AllHref string
}

type attachmentView struct {
	ID        string
	Name      string
	Size      string
	Href      string
	DeleteURL string
}

type actionsView struct {
	CanEdit    bool
	CanDelete  bool
	CanApprove bool
	Approve    string
	Reject     string
	PDFURL     string
	CompareURL string
	RecordGRN  bool
	Derive     []linkView
}

type countView struct {
	Label string
	Href  string
	Total int
}

type auditRow struct {
	Href   string
	When   string
	Entity string
	Record string
	Action string
	User   string
	Text   string
}

type auditEntryView struct {
	Row      auditRow
	Email    string
	Link     string
	Snapshot bool
}

func entityPath(s *records.Schema) string {
	return "/" + s.Name
}

func recordPath(s *records.Schema, id string) string {
	return entityPath(s) + "/" + url.PathEscape(id)
}

func navItems(active string) []navItem {
	items := []navItem{{Label: "Dashboard", Href: "/", Active: active == ""}}
	for _, s := range records.All() {
		items = append(items, navItem{Label: s.Plural, Href: entityPath(s), Active: active == s.Name})
	}
	return items
}

// displayFields renders every field of rec for a detail page.
func displayFields(s *records.Schema, rec records.Record) []fieldView {
	out := make([]fieldView, 0, len(s.Fields))
	for _, f := range s.Fields {
		fv := baseField(f)
		switch f.Kind {
		case records.KindItems:
			fv.Rows = records.ItemRows(f, rec)
		case records.KindRichText:
			fv.HTML = template.HTML(richtext.Sanitize(rec.String(f.Key)))
		case records.KindRef:
			fv.Value = rec.String(f.Key)
			if ref, ok := records.Lookup(f.Ref); ok && fv.Value != "" {
				fv.Link = recordPath(ref, fv.Value)
			}
		default:
			fv.Value = records.Display(f, rec[f.Key])
		}
		out = append(out, fv)
	}
	return out
}

// formFields renders the inputs for rec. refOptions holds the choices for
// reference fields, keyed by field key.
func formFields(s *records.Schema, rec records.Record, refOptions map[string][]optionView) []fieldView {
	out := make([]fieldView, 0, len(s.Fields))
	for _, f := range s.Fields {
		fv := baseField(f)
		fv.Input = records.FormValue(f, rec[f.Key])
		fv.Value = records.Display(f, rec[f.Key])
		switch f.Kind {
		case records.KindSelect:
			fv.Options = selectOptions(f.Options, fv.Input)
		case records.KindRef:
			fv.Options = markSelected(refOptions[f.Key], fv.Input)
		case records.KindRichText:
			fv.HTML = template.HTML(richtext.Sanitize(rec.String(f.Key)))
		case records.KindItems:
			fv.Inputs = itemInputs(f, rec)
		case records.KindBool:
			if rec.Bool(f.Key) {
				fv.Input = "true"
			}
		}
		out = append(out, fv)
	}
	return out
}

func baseField(f records.Field) fieldView {
	fv := fieldView{
		Key:      f.Key,
		Label:    f.Label,
		Kind:     string(f.Kind),
		Required: f.Required,
		Computed: f.Computed,
	}
	for _, col := range f.Columns {
		fv.Columns = append(fv.Columns, columnView{Label: col.Label, Kind: string(col.Kind), Computed: col.Computed})
	}
	return fv
}

func itemInputs(f records.Field, rec records.Record) [][]cellView {
	rows := rec.Items(f.Key)
	out := make([][]cellView, 0, len(rows)+blankItemRows)
	for _, row := range rows {
		cells := make([]cellView, len(f.Columns))
		for i, col := range f.Columns {
			value := records.FormValue(col, row[col.Key])
			if col.Computed {
				value = records.Display(col, row[col.Key])
			}
			cells[i] = cellView{Name: f.Key + "." + col.Key, Value: value, Kind: string(col.Kind), Computed: col.Computed}
		}
		out = append(out, cells)
	}
	for range blankItemRows {
		cells := make([]cellView, len(f.Columns))
		for i, col := range f.Columns {
			cells[i] = cellView{Name: f.Key + "." + col.Key, Kind: string(col.Kind), Computed: col.Computed}
		}
		out = append(out, cells)
	}
	return out
}

func selectOptions(options []string, selected string) []optionView {
	out := make([]optionView, 0, len(options)+1)
	known := false
	for _, o := range options {
		out = append(out, optionView{Value: o, Label: o, Selected: o == selected})
		known = known || o == selected
	}
	// keep values the backend sent that the option list does not know about
	if selected != "" && !known {
		out = append(out, optionView{Value: selected, Label: selected, Selected: true})
	}
	return out
}

func markSelected(options []optionView, selected string) []optionView {
	out := make([]optionView, 0, len(options)+1)
	known := false
	for _, o := range options {
		o.Selected = o.Value == selected
		known = known || o.Selected
		out = append(out, o)
	}
	if selected != "" && !known {
		out = append(out, optionView{Value: selected, Label: selected, Selected: true})
	}
	return out
}

func refOptionsFrom(s *records.Schema, recs []records.Record) []optionView {
	out := make([]optionView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, optionView{Value: rec.ID(), Label: s.Title(rec)})
	}
	return out
}

func listRows(s *records.Schema, recs []records.Record) ([]string, []rowView) {
	fields := s.ListFields()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Label
	}
	rows := make([]rowView, 0, len(recs))
	for _, rec := range recs {
		cells := make([]string, len(fields))
		for i, f := range fields {
			cells[i] = records.Display(f, rec[f.Key])
		}
		href := ""
		if rec.ID() != "" {
			href = recordPath(s, rec.ID())
		}
		rows = append(rows, rowView{Href: href, Cells: cells})
	}
	return columns, rows
}

func newRecordView(s *records.Schema, rec records.Record) *recordView {
	v := &recordView{
		ID:     rec.ID(),
		Title:  s.Title(rec),
		Href:   recordPath(s, rec.ID()),
		Fields: displayFields(s, rec),
	}
	if s.StatusField != "" {
		v.Status = rec.String(s.StatusField)
	}
	if t, ok := records.ParseDate(rec.String("updatedAt")); ok {
		v.Modified = t.Local().Format("02 Jan 2006 15:04")
	}
	return v
}

func pager(base string, query url.Values, page *apiclient.Page) *pagerView {
	link := func(n int) string {
		q := url.Values{}
		for k, v := range query {
			q[k] = v
		}
		q.Del("page")
		if n > 1 {
			q.Set("page", strconv.Itoa(n))
		}
		if len(q) == 0 {
			return base
		}
		return base + "?" + q.Encode()
	}
	p := &pagerView{
		Page:       max(page.Page, 1),
		TotalPages: max(page.TotalPages, 1),
		Total:      page.Total,
	}
	p.HasPrev = p.Page > 1
	p.HasNext = p.Page < p.TotalPages
	p.PrevURL = link(p.Page - 1)
	p.NextURL = link(p.Page + 1)
	return p
}

func auditRowFrom(e auditlog.Entry) auditRow {
	row := auditRow{
		Href:   "/audit-logs/" + url.PathEscape(e.ID),
		Entity: e.EntityType,
		Record: e.EntityID,
		Action: e.Action,
		User:   e.User(),
		Text:   e.Summary,
	}
	if s, ok := records.Lookup(e.EntityType); ok {
		row.Entity = s.Singular
	}
	if !e.CreatedAt.IsZero() {
		row.When = e.CreatedAt.Local().Format("02 Jan 2006 15:04")
	}
	return row
}

func humanSize(n float64) string {
	switch {
	case n >= 1<<20:
		return strconv.FormatFloat(n/(1<<20), 'f', 1, 64) + " MB"
	case n >= 1<<10:
		return strconv.FormatFloat(n/(1<<10), 'f', 0, 64) + " KB"
	}
	return strconv.FormatFloat(n, 'f', 0, 64) + " B"
}

func today() string {
	return time.Now().Format("2006-01-02")
}
