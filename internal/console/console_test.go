package console

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"io/fs"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/phillip-england/projectdesk/internal/apiclient"
	"github.com/phillip-england/projectdesk/internal/auditlog"
	"github.com/phillip-england/projectdesk/internal/config"
	"github.com/phillip-england/projectdesk/internal/devapi"
	"github.com/phillip-england/projectdesk/internal/kvstore"
	"github.com/phillip-england/projectdesk/internal/records"
	"github.com/phillip-england/projectdesk/internal/sheets"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreAnyFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreAnyFunction("net/http.(*persistConn).writeLoop"),
	)
}

const (
	adminEmail    = "admin@example.com"
	adminPassword = "correct-horse-battery"
)

var csrfPattern = regexp.MustCompile(`name="csrf_token" value="([^"]+)"`)

type harness struct {
	api      *httptest.Server
	apiToken string
	backend  *apiclient.Client
	console  *Server
	srv      *httptest.Server
}

type browser struct {
	client *http.Client
	base   string
	csrf   string
}

func newHarness(t *testing.T, configure ...func(*config.ConsoleConfig)) *harness {
	t.Helper()
	api, err := devapi.New(context.Background(), config.APIConfig{
		DBPath:        filepath.Join(t.TempDir(), "api.db"),
		AdminEmail:    adminEmail,
		AdminPassword: adminPassword,
		AdminName:     "Ada Admin",
		JWTSecret:     "0123456789abcdef0123",
		TokenTTL:      time.Hour,
	}, nil)
	require.NoError(t, err)
	apiSrv := httptest.NewServer(api.Handler())

	cfg := config.ConsoleConfig{
		APIBaseURL:    apiSrv.URL,
		SessionSecret: "console-session-secret-0123",
		SessionTTL:    time.Hour,
		PageSize:      2,
		Company:       config.CompanyConfig{Name: "Acme Construction"},
	}
	for _, fn := range configure {
		fn(&cfg)
	}
	console, err := newServer(cfg, nil, apiSrv.Client())
	require.NoError(t, err)
	srv := httptest.NewServer(console.Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = console.Close()
		apiSrv.Close()
		_ = api.Close()
	})

	backend := apiclient.New(apiSrv.URL, apiSrv.Client())
	login, err := backend.Login(context.Background(), adminEmail, adminPassword)
	require.NoError(t, err)
	return &harness{api: apiSrv, apiToken: login.Token, backend: backend, console: console, srv: srv}
}

func (h *harness) newBrowser(t *testing.T) *browser {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	transport := &http.Transport{}
	t.Cleanup(transport.CloseIdleConnections)
	return &browser{
		base: h.srv.URL,
		client: &http.Client{
			Jar:       jar,
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// openLoginForm loads the sign-in page so the next POST carries its token.
func (b *browser) openLoginForm(t *testing.T) {
	t.Helper()
	status, body := b.get(t, "/login")
	require.Equal(t, http.StatusOK, status)
	match := csrfPattern.FindStringSubmatch(body)
	require.Len(t, match, 2)
	b.csrf = match[1]
}

// signIn logs a new browser in and picks up its CSRF token from the dashboard.
func (h *harness) signIn(t *testing.T, email, password string) *browser {
	t.Helper()
	b := h.newBrowser(t)
	b.openLoginForm(t)
	resp := b.postForm(t, "/login", url.Values{"email": {email}, "password": {password}})
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/", resp.Header.Get("Location"))

	status, body := b.get(t, "/")
	require.Equal(t, http.StatusOK, status)
	match := csrfPattern.FindStringSubmatch(body)
	require.Len(t, match, 2)
	b.csrf = match[1]
	return b
}

func (h *harness) createUser(t *testing.T, email string, canApprove, canDelete bool) {
	t.Helper()
	body, _ := json.Marshal(map[string]any{
		"email": email, "name": "Sam Site", "password": "another-long-password",
		"canApprove": canApprove, "canDelete": canDelete,
	})
	req, _ := http.NewRequest(http.MethodPost, h.api.URL+"/api/users", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+h.apiToken)
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.api.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func (h *harness) create(t *testing.T, s *records.Schema, rec records.Record) records.Record {
	t.Helper()
	out, err := h.backend.Create(context.Background(), h.apiToken, s.Endpoint, rec)
	require.NoError(t, err)
	return out
}

func (b *browser) get(t *testing.T, path string) (int, string) {
	t.Helper()
	resp, err := b.client.Get(b.base + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func (b *browser) getRaw(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := b.client.Get(b.base + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func (b *browser) postForm(t *testing.T, path string, form url.Values) *http.Response {
	t.Helper()
	if b.csrf != "" {
		form.Set(csrfFieldName, b.csrf)
	}
	resp, err := b.client.PostForm(b.base+path, form)
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp
}

func (b *browser) postFile(t *testing.T, path, filename string, data []byte) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField(csrfFieldName, b.csrf))
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := b.client.Post(b.base+path, mw.FormDataContentType(), &body)
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp
}

func location(t *testing.T, resp *http.Response) *url.URL {
	t.Helper()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	u, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	return u
}

func TestLoginRequired(t *testing.T) {
	h := newHarness(t)
	b := h.newBrowser(t)

	resp, _ := b.getRaw(t, "/")
	assert.Equal(t, "/login", location(t, resp).Path)
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	b.openLoginForm(t)
	resp = b.postForm(t, "/login", url.Values{"email": {adminEmail}, "password": {"wrong-password-here"}})
	loc := location(t, resp)
	assert.Equal(t, "/login", loc.Path)
	assert.Equal(t, "invalid credentials", loc.Query().Get("error"))

	resp = b.postForm(t, "/login", url.Values{"email": {""}, "password": {""}})
	assert.Equal(t, "Email and password are required", location(t, resp).Query().Get("error"))

	status, body := b.get(t, "/login?error=Session+expired")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Session expired")
	assert.Contains(t, body, "Acme Construction")
}

func TestLoginFormToken(t *testing.T) {
	h := newHarness(t)
	form := func() url.Values { return url.Values{"email": {adminEmail}, "password": {adminPassword}} }

	b := h.newBrowser(t)
	resp := b.postForm(t, "/login", form())
	assert.Equal(t, "Sign-in form expired, please try again", location(t, resp).Query().Get("error"))

	b.openLoginForm(t)
	first := b.csrf
	b.openLoginForm(t)
	assert.Equal(t, first, b.csrf)

	// a token lifted from another browser does not match this one's cookie
	other := h.newBrowser(t)
	other.csrf = first
	resp = other.postForm(t, "/login", form())
	assert.Equal(t, "Sign-in form expired, please try again", location(t, resp).Query().Get("error"))

	b.csrf = "not-the-token"
	resp = b.postForm(t, "/login", form())
	assert.Equal(t, "/login", location(t, resp).Path)

	b.csrf = first
	resp = b.postForm(t, "/login", form())
	assert.Equal(t, "/", location(t, resp).Path)
}

func TestDashboardAndLogout(t *testing.T) {
	h := newHarness(t)
	h.create(t, records.Leads, records.Record{"customerName": "Acme Builders"})
	b := h.signIn(t, adminEmail, adminPassword)

	status, body := b.get(t, "/")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Dashboard")
	assert.Contains(t, body, `<span class="stat-value">1</span>`)
	assert.Contains(t, body, "Ada Admin")
	assert.Contains(t, body, "Recent activity")

	// signed-in users skip the login screen
	resp, _ := b.getRaw(t, "/login")
	assert.Equal(t, "/", location(t, resp).Path)

	resp = b.postForm(t, "/logout", url.Values{})
	assert.Equal(t, "Signed out", location(t, resp).Query().Get("message"))
	resp, _ = b.getRaw(t, "/")
	assert.Equal(t, "/login", location(t, resp).Path)
}

func TestPostWithoutCSRFTokenIsRejected(t *testing.T) {
	h := newHarness(t)
	b := h.signIn(t, adminEmail, adminPassword)
	token := b.csrf
	b.csrf = ""

	resp := b.postForm(t, "/leads", url.Values{"customerName": {"Acme"}})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	b.csrf = "not-the-token"
	resp = b.postForm(t, "/leads", url.Values{"customerName": {"Acme"}})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	b.csrf = token
	resp = b.postForm(t, "/leads", url.Values{"customerName": {"Acme"}})
	assert.Equal(t, http.StatusFound, resp.StatusCode)
}

func TestCreateLeadAndDeriveQuotation(t *testing.T) {
	h := newHarness(t)
	b := h.signIn(t, adminEmail, adminPassword)

	status, body := b.get(t, "/leads/new")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `name="customerName"`)

	resp := b.postForm(t, "/leads", url.Values{
		"customerName": {"Acme Builders"},
		"phone":        {"555-0100"},
		"status":       {"New"},
		"requirements": {`<p>Two storey <b>office</b></p><script>alert(1)</script>`},
	})
	loc := location(t, resp)
	require.True(t, strings.HasPrefix(loc.Path, "/leads/"))
	assert.Equal(t, "Lead created", loc.Query().Get("message"))
	leadID := strings.TrimPrefix(loc.Path, "/leads/")

	status, body = b.get(t, loc.Path)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "LD-0001 · Acme Builders")
	assert.Contains(t, body, "<b>office</b>")
	assert.NotContains(t, body, "<script>alert(1)</script>")
	assert.Contains(t, body, "New Quotation")

	status, body = b.get(t, "/quotations/new?from=leads&fromId="+leadID)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `value="Acme Builders"`)
	assert.Contains(t, body, `<option value="`+leadID+`" selected>LD-0001 · Acme Builders</option>`)

	status, _ = b.get(t, "/quotations/new?from=widgets&fromId=1")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestCreateMissingRequiredFieldsKeepsInput(t *testing.T) {
	h := newHarness(t)
	b := h.signIn(t, adminEmail, adminPassword)

	form := url.Values{"phone": {"555-0199"}, csrfFieldName: {b.csrf}}
	resp, err := b.client.PostForm(b.base+"/leads", form)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, string(body), "Customer required")
	assert.Contains(t, string(body), `value="555-0199"`)
}

func TestListSearchPagingAndExport(t *testing.T) {
	h := newHarness(t)
	for _, name := range []string{"North Yard", "South Quay", "East Dock"} {
		h.create(t, records.Leads, records.Record{"customerName": name, "status": "New"})
	}
	h.create(t, records.Leads, records.Record{"customerName": "West Mill", "status": "Won"})
	b := h.signIn(t, adminEmail, adminPassword)

	status, body := b.get(t, "/leads")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Page 1 of 2")
	assert.Contains(t, body, `href="/leads?page=2"`)

	_, body = b.get(t, "/leads?q=north")
	assert.Contains(t, body, "North Yard")
	assert.NotContains(t, body, "South Quay")

	_, body = b.get(t, "/leads?status=Won")
	assert.Contains(t, body, "West Mill")
	assert.NotContains(t, body, "East Dock")
	assert.Contains(t, body, `href="/leads/export.xlsx?status=Won"`)

	resp, raw := b.getRaw(t, "/leads/export.xlsx?status=New")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), ".xlsx")
	rows, err := sheets.ReadRows(bytes.NewReader(raw), "leads.xlsx")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Contains(t, rows[0], "Customer")

	status, _ = b.get(t, "/widgets")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestEditShowsChangeSummaryOnce(t *testing.T) {
	h := newHarness(t)
	lead := h.create(t, records.Leads, records.Record{"customerName": "Acme Builders", "status": "New", "phone": "555-0100"})
	b := h.signIn(t, adminEmail, adminPassword)
	path := "/leads/" + lead.ID()

	status, body := b.get(t, path+"/edit")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `value="Acme Builders"`)

	resp := b.postForm(t, path, url.Values{"customerName": {"Acme Holdings"}, "status": {"Contacted"}})
	loc := location(t, resp)
	assert.Equal(t, path, loc.Path)
	assert.Equal(t, "Lead saved: Customer, Status changed", loc.Query().Get("message"))

	saved, err := h.backend.Get(context.Background(), h.apiToken, records.Leads.Endpoint, lead.ID())
	require.NoError(t, err)
	assert.Equal(t, "Acme Holdings", saved.String("customerName"))
	assert.Equal(t, "555-0100", saved.String("phone"))

	_, body = b.get(t, path)
	assert.Contains(t, body, "Changes saved")
	assert.Contains(t, body, "<ins>")
	_, body = b.get(t, path)
	assert.NotContains(t, body, "Changes saved")

	resp = b.postForm(t, path, url.Values{"customerName": {""}})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestApprovalAndDeleteFollowUserFlags(t *testing.T) {
	h := newHarness(t)
	quote := h.create(t, records.Quotations, records.Record{"customerName": "Acme", "projectName": "Riverside", "status": "Sent"})
	h.createUser(t, "site@example.com", false, false)
	staff := h.signIn(t, "site@example.com", "another-long-password")
	admin := h.signIn(t, adminEmail, adminPassword)
	path := "/quotations/" + quote.ID()

	_, body := staff.get(t, path)
	assert.NotContains(t, body, path+"/approve")
	assert.NotContains(t, body, path+"/delete")

	resp := staff.postForm(t, path+"/approve", url.Values{})
	assert.Equal(t, "You do not have permission to approve records", location(t, resp).Query().Get("error"))
	resp = staff.postForm(t, path+"/delete", url.Values{})
	assert.Equal(t, "You do not have permission to delete records", location(t, resp).Query().Get("error"))

	_, body = admin.get(t, path)
	assert.Contains(t, body, path+"/approve")
	assert.Contains(t, body, path+"/reject")

	resp = admin.postForm(t, path+"/approve", url.Values{})
	assert.Equal(t, "Quotation approved", location(t, resp).Query().Get("message"))
	saved, err := h.backend.Get(context.Background(), h.apiToken, records.Quotations.Endpoint, quote.ID())
	require.NoError(t, err)
	assert.Equal(t, "Approved", saved.String("status"))

	_, body = admin.get(t, path)
	assert.NotContains(t, body, path+"/approve")

	resp = admin.postForm(t, path+"/delete", url.Values{})
	loc := location(t, resp)
	assert.Equal(t, "/quotations", loc.Path)
	assert.Equal(t, "Quotation deleted", loc.Query().Get("message"))
	_, err = h.backend.Get(context.Background(), h.apiToken, records.Quotations.Endpoint, quote.ID())
	assert.True(t, apiclient.IsNotFound(err))

	// leads have no approval step
	lead := h.create(t, records.Leads, records.Record{"customerName": "Acme"})
	resp = admin.postForm(t, "/leads/"+lead.ID()+"/approve", url.Values{})
	assert.Equal(t, "Leads do not need approval", location(t, resp).Query().Get("error"))
}

func TestDetailShowsChildrenParentAndActivity(t *testing.T) {
	h := newHarness(t)
	project := h.create(t, records.Projects, records.Record{"projectName": "Riverside", "customerName": "Acme"})
	h.create(t, records.Variations, records.Record{"projectId": project.ID(), "title": "Extra basement"})
	b := h.signIn(t, adminEmail, adminPassword)

	status, body := b.get(t, "/projects/"+project.ID())
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Extra basement")
	assert.Contains(t, body, "VO-0001")
	assert.Contains(t, body, "/site-visits/new?from=projects&amp;fromId="+project.ID())
	assert.Contains(t, body, "create")

	page, err := h.backend.List(context.Background(), h.apiToken, records.Variations.Endpoint, nil)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	_, body = b.get(t, "/project-variations/"+page.Items[0].ID())
	assert.Contains(t, body, "Project PRJ-0001 · Riverside")

	status, _ = b.get(t, "/projects/missing-id")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestPDFDownload(t *testing.T) {
	h := newHarness(t)
	quote := h.create(t, records.Quotations, records.Record{
		"customerName": "Acme", "projectName": "Riverside", "taxPercent": 5.0,
		"items":       []any{map[string]any{"description": "Concrete", "quantity": 10.0, "rate": 100.0}},
		"scopeOfWork": "<ul><li>Foundations</li><li>Frame</li></ul>",
	})
	b := h.signIn(t, adminEmail, adminPassword)

	resp, raw := b.getRaw(t, "/quotations/"+quote.ID()+"/pdf")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "QT-0001.pdf")
	assert.True(t, bytes.HasPrefix(raw, []byte("%PDF")))
}

func TestRevisionNumberingAndCompare(t *testing.T) {
	h := newHarness(t)
	quote := h.create(t, records.Quotations, records.Record{
		"customerName": "Acme", "projectName": "Riverside", "taxPercent": 5.0,
		"items": []any{map[string]any{"description": "Concrete", "quantity": 10.0, "rate": 100.0}},
	})
	b := h.signIn(t, adminEmail, adminPassword)

	_, body := b.get(t, "/revisions/new?from=quotations&fromId="+quote.ID())
	assert.Contains(t, body, `name="revisionNumber" value="1"`)
	assert.Contains(t, body, `value="Concrete"`)

	rev := h.create(t, records.Revisions, records.Record{
		"quotationId": quote.ID(), "revisionNumber": 1.0, "reason": "Client asked", "taxPercent": 5.0,
		"items": []any{map[string]any{"description": "Concrete", "quantity": 10.0, "rate": 120.0}},
	})
	_, body = b.get(t, "/revisions/new?from=quotations&fromId="+quote.ID())
	assert.Contains(t, body, `name="revisionNumber" value="2"`)

	status, body := b.get(t, "/revisions/"+rev.ID()+"/compare")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Compared with Quotation QT-0001 · Riverside")
	assert.Contains(t, body, "<del>")
	assert.Contains(t, body, "<ins>")

	second := h.create(t, records.Revisions, records.Record{
		"quotationId": quote.ID(), "revisionNumber": 2.0, "reason": "Scope cut",
		"items": []any{map[string]any{"description": "Concrete", "quantity": 8.0, "rate": 120.0}},
	})
	_, body = b.get(t, "/revisions/"+second.ID()+"/compare")
	assert.Contains(t, body, "Compared with Revision REV-0001")

	resp, raw := b.getRaw(t, "/revisions/"+second.ID()+"/compare.pdf")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, bytes.HasPrefix(raw, []byte("%PDF")))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "REV-0002-changes.pdf")

	status, _ = b.get(t, "/quotations/"+quote.ID()+"/compare")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestImportLeads(t *testing.T) {
	h := newHarness(t)
	b := h.signIn(t, adminEmail, adminPassword)

	var sheet bytes.Buffer
	require.NoError(t, sheets.WriteXLSX(&sheet, "Leads", []string{"Customer", "Phone", "Estimated Value"}, [][]any{
		{"North Yard", "555-1000", 1200},
		{"", "555-2000", 5},
		{"South Quay", "555-3000", 800},
	}))
	resp := b.postFile(t, "/leads/import", "leads.xlsx", sheet.Bytes())
	loc := location(t, resp)
	assert.Equal(t, "/leads", loc.Path)
	assert.Equal(t, "Imported 2 leads", loc.Query().Get("message"))
	assert.Equal(t, "row 3: missing Customer", loc.Query().Get("error"))

	page, err := h.backend.List(context.Background(), h.apiToken, records.Leads.Endpoint, url.Values{"q": {"north"}})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, 1200.0, page.Items[0].Float("estimatedValue"))

	resp = b.postFile(t, "/quotations/import", "q.xlsx", sheet.Bytes())
	assert.Equal(t, "Quotations cannot be imported", location(t, resp).Query().Get("error"))
}

func TestPurchaseOrderReceipts(t *testing.T) {
	h := newHarness(t)
	project := h.create(t, records.Projects, records.Record{"projectName": "Riverside", "customerName": "Acme"})
	po := h.create(t, records.PurchaseOrders, records.Record{"projectId": project.ID(), "supplierName": "Steel Co"})
	b := h.signIn(t, adminEmail, adminPassword)
	path := "/purchase-orders/" + po.ID()

	_, body := b.get(t, path)
	assert.Contains(t, body, `value="GRN-0001"`)

	resp := b.postForm(t, path+"/receipts", url.Values{"description": {"Rebar"}, "quantity": {"5"}})
	assert.Equal(t, "GRN-0001 recorded", location(t, resp).Query().Get("message"))
	resp = b.postForm(t, path+"/receipts", url.Values{"description": {"Mesh"}, "quantity": {"2"}})
	assert.Equal(t, "GRN-0002 recorded", location(t, resp).Query().Get("message"))

	saved, err := h.backend.Get(context.Background(), h.apiToken, records.PurchaseOrders.Endpoint, po.ID())
	require.NoError(t, err)
	receipts := saved.Items("receipts")
	require.Len(t, receipts, 2)
	assert.Equal(t, "GRN-0001", receipts[0].String("grnNumber"))
	assert.Equal(t, 5.0, receipts[0].Float("quantity"))
	assert.Equal(t, "Ada Admin", receipts[0].String("receivedBy"))
	assert.Equal(t, "Mesh", receipts[1].String("description"))
}

func TestAttachments(t *testing.T) {
	h := newHarness(t)
	lead := h.create(t, records.Leads, records.Record{"customerName": "Acme"})
	b := h.signIn(t, adminEmail, adminPassword)
	path := "/leads/" + lead.ID()

	resp := b.postFile(t, path+"/attachments", "survey.txt", []byte("site survey notes"))
	assert.Equal(t, "survey.txt attached", location(t, resp).Query().Get("message"))

	_, body := b.get(t, path)
	assert.Contains(t, body, "survey.txt")
	match := regexp.MustCompile(`href="(` + regexp.QuoteMeta(path) + `/attachments/[^"?]+)\?name=survey.txt"`).FindStringSubmatch(body)
	require.Len(t, match, 2)

	resp, raw := b.getRaw(t, match[1]+"?name=survey.txt")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "site survey notes", string(raw))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "survey.txt")

	resp = b.postForm(t, match[1]+"/delete", url.Values{})
	assert.Equal(t, "Attachment deleted", location(t, resp).Query().Get("message"))
	_, body = b.get(t, path)
	assert.Contains(t, body, "No attachments.")
}

func TestAuditLogViewerAndArchive(t *testing.T) {
	h := newHarness(t)
	b := h.signIn(t, adminEmail, adminPassword)
	b.postForm(t, "/leads", url.Values{"customerName": {"Acme Builders"}})
	h.create(t, records.Projects, records.Record{"projectName": "Riverside", "customerName": "Acme"})

	status, body := b.get(t, "/audit-logs?entityType=leads")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Acme Builders")
	assert.NotContains(t, body, "Riverside")
	assert.Contains(t, body, `href="/audit-logs/archive?entityType=leads"`)

	page, err := h.backend.List(context.Background(), h.apiToken, records.AuditLogs.Endpoint, url.Values{"entityType": {"leads"}})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	_, body = b.get(t, "/audit-logs/"+page.Items[0].ID())
	assert.Contains(t, body, "Open record")
	assert.Contains(t, body, "Acme Builders")

	resp, raw := b.getRaw(t, "/audit-logs/archive")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-xz", resp.Header.Get("Content-Type"))
	entries, err := auditlog.ReadArchive(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "create", entries[0].Action)
}

func TestExpiredBackendTokenEndsSession(t *testing.T) {
	h := newHarness(t)
	b := h.signIn(t, adminEmail, adminPassword)

	base, _ := url.Parse(h.srv.URL)
	var sealed string
	for _, c := range b.client.Jar.Cookies(base) {
		if c.Name == sessionCookieName {
			sealed = c.Value
		}
	}
	require.NotEmpty(t, sealed)
	id, err := h.console.sealer.Open(sealed)
	require.NoError(t, err)

	ctx := context.Background()
	var sess session
	require.NoError(t, kvstore.GetJSON(ctx, h.console.store, sessionKey(string(id)), &sess))
	sess.Token = "expired"
	require.NoError(t, kvstore.SetJSON(ctx, h.console.store, sessionKey(string(id)), sess, time.Hour))

	resp, _ := b.getRaw(t, "/leads")
	loc := location(t, resp)
	assert.Equal(t, "/login", loc.Path)
	assert.Equal(t, "Session expired", loc.Query().Get("error"))

	_, err = h.console.store.Get(ctx, sessionKey(string(id)))
	assert.ErrorIs(t, err, kvstore.ErrNotFound)
}

func TestTemplateDirReload(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, fs.WalkDir(embeddedFS, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		target := filepath.Join(dir, filepath.FromSlash(path))
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		raw, err := fs.ReadFile(embeddedFS, path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, raw, 0o644)
	}))

	h := newHarness(t, func(cfg *config.ConsoleConfig) { cfg.TemplateDir = dir })
	b := h.newBrowser(t)
	_, body := b.get(t, "/login")
	require.Contains(t, body, "<h1>Sign in</h1>")

	loginPath := filepath.Join(dir, "templates", "login.html")
	raw, err := os.ReadFile(loginPath)
	require.NoError(t, err)
	updated := strings.Replace(string(raw), "<h1>Sign in</h1>", "<h1>Welcome back</h1>", 1)
	require.NoError(t, os.WriteFile(loginPath, []byte(updated), 0o644))

	require.Eventually(t, func() bool {
		_, body := b.get(t, "/login")
		return strings.Contains(body, "Welcome back")
	}, 5*time.Second, 50*time.Millisecond)

	// a broken edit keeps the last good templates
	require.NoError(t, os.WriteFile(loginPath, []byte(`{{define "content"}}{{.Nope`), 0o644))
	assert.Never(t, func() bool {
		_, body := b.get(t, "/login")
		return !strings.Contains(body, "Welcome back")
	}, 300*time.Millisecond, 50*time.Millisecond)
}

func TestViewHelpers(t *testing.T) {
	p := pager("/leads", url.Values{"q": {"acme"}}, &apiclient.Page{Page: 2, TotalPages: 3, Total: 30})
	assert.True(t, p.HasPrev)
	assert.True(t, p.HasNext)
	assert.Equal(t, "/leads?q=acme", p.PrevURL)
	assert.Equal(t, "/leads?page=3&q=acme", p.NextURL)

	audit := auditPager(auditlog.Filter{EntityType: "leads", Page: 2}, &apiclient.Page{Page: 2, TotalPages: 3})
	assert.Equal(t, "/audit-logs?entityType=leads", audit.PrevURL)
	assert.Equal(t, "/audit-logs?entityType=leads&page=3", audit.NextURL)
	assert.Equal(t, "/audit-logs", auditPager(auditlog.Filter{}, &apiclient.Page{Page: 2}).PrevURL)

	empty := pager("/leads", nil, &apiclient.Page{})
	assert.Equal(t, 1, empty.TotalPages)
	assert.False(t, empty.HasNext)

	opts := selectOptions([]string{"New", "Won"}, "Archived")
	require.Len(t, opts, 3)
	assert.True(t, opts[2].Selected)

	assert.Equal(t, "/leads?error=a+b", withQuery("/leads", "error", "a b"))
	assert.Equal(t, "/leads?x=1&message=ok", withQuery("/leads?x=1", "message", "ok"))
	assert.Equal(t, "QT-0001.pdf", safeFilename("QT-0001", ".pdf"))
	assert.Equal(t, "Acme-Co.pdf", safeFilename("Acme & Co", ".pdf"))
	assert.Equal(t, "2 KB", humanSize(1536))
	assert.Equal(t, "1.5 MB", humanSize(1.5*(1<<20)))

	fields := formFields(records.Quotations, records.Record{"items": []any{map[string]any{"description": "Concrete"}}}, nil)
	for _, f := range fields {
		if f.Key == "items" {
			assert.Len(t, f.Inputs, 1+blankItemRows)
			assert.Equal(t, "items.description", f.Inputs[0][0].Name)
		}
	}
}
