// Package console is the server-rendered admin console. It keeps the backend
// token and user object in a per-session key-value entry and renders every
// entity screen from the record schemas.
package console

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/phillip-england/projectdesk/internal/apiclient"
	"github.com/phillip-england/projectdesk/internal/config"
	"github.com/phillip-england/projectdesk/internal/kvstore"
	"github.com/phillip-england/projectdesk/internal/middleware"
	"github.com/phillip-england/projectdesk/internal/printdoc"
	"github.com/phillip-england/projectdesk/internal/records"
	"github.com/phillip-england/projectdesk/internal/security"
)

type Server struct {
	api        *apiclient.Client
	store      kvstore.Store
	sealer     *security.Sealer
	sessionTTL time.Duration
	pageSize   int
	company    config.CompanyConfig
	letterhead printdoc.Letterhead
	templates  *templateSet
	watcher    *templateWatcher
	assets     fs.FS
	logger     *zap.Logger
}

func New(cfg config.ConsoleConfig, logger *zap.Logger) (*Server, error) {
	return newServer(cfg, logger, &http.Client{Timeout: cfg.RequestTimeout})
}

func newServer(cfg config.ConsoleConfig, logger *zap.Logger, httpClient *http.Client) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 25
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 12 * time.Hour
	}

	var fsys fs.FS = embeddedFS
	if cfg.TemplateDir != "" {
		fsys = os.DirFS(cfg.TemplateDir)
	}
	templates, err := newTemplateSet(fsys)
	if err != nil {
		return nil, err
	}

	var store kvstore.Store = kvstore.NewMemory()
	if cfg.StorePath != "" {
		store, err = kvstore.OpenSQLite(cfg.StorePath, time.Minute, logger)
		if err != nil {
			return nil, fmt.Errorf("open session store: %w", err)
		}
	}

	s := &Server{
		api:        apiclient.New(cfg.APIBaseURL, httpClient),
		store:      store,
		sealer:     security.NewSealer(cfg.SessionSecret),
		sessionTTL: cfg.SessionTTL,
		pageSize:   cfg.PageSize,
		company:    cfg.Company,
		templates:  templates,
		assets:     fsys,
		logger:     logger,
	}
	s.letterhead = printdoc.Letterhead{
		Name:    cfg.Company.Name,
		Address: cfg.Company.Address,
		Phone:   cfg.Company.Phone,
		Email:   cfg.Company.Email,
	}
	if cfg.Company.LogoPath != "" {
		logo, err := printdoc.LoadLogo(cfg.Company.LogoPath)
		if err != nil {
			logger.Warn("letterhead logo not loaded", zap.String("path", cfg.Company.LogoPath), zap.Error(err))
		} else {
			s.letterhead.Logo = logo
		}
	}
	if cfg.TemplateDir != "" {
		s.watcher, err = watchTemplates(cfg.TemplateDir, templates, logger)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *Server) Close() error {
	var errs []error
	if s.watcher != nil {
		errs = append(errs, s.watcher.Close())
	}
	errs = append(errs, s.store.Close())
	return errors.Join(errs...)
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/login", s.loginPage)
	r.Post("/login", s.login)
	r.Get("/assets/app.css", s.appCSSFile)

	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)
		r.Post("/logout", s.logout)
		r.Get("/", s.dashboardPage)

		r.Get("/audit-logs", s.auditLogsPage)
		r.Get("/audit-logs/archive", s.auditArchiveFile)
		r.Get("/audit-logs/{id}", s.auditLogPage)

		r.Route("/{entity}", func(r chi.Router) {
			r.Get("/", s.listPage)
			r.Post("/", s.createProxy)
			r.Get("/new", s.newPage)
			r.Get("/export.xlsx", s.exportXLSX)
			r.Post("/import", s.importProxy)
			r.Get("/{id}", s.detailPage)
			r.Post("/{id}", s.updateProxy)
			r.Get("/{id}/edit", s.editPage)
			r.Post("/{id}/delete", s.deleteProxy)
			r.Post("/{id}/approve", s.approveProxy)
			r.Post("/{id}/reject", s.rejectProxy)
			r.Get("/{id}/pdf", s.pdfFile)
			r.Get("/{id}/compare", s.comparePage)
			r.Get("/{id}/compare.pdf", s.comparePDFFile)
			r.Post("/{id}/receipts", s.recordReceiptProxy)
			r.Post("/{id}/attachments", s.uploadAttachmentProxy)
			r.Get("/{id}/attachments/{attachmentID}", s.attachmentFile)
			r.Post("/{id}/attachments/{attachmentID}/delete", s.deleteAttachmentProxy)
		})
	})

	csp := strings.Join([]string{
		"default-src 'self'",
		"style-src 'self' 'unsafe-inline'",
		"img-src 'self' data:",
		"script-src 'self' 'unsafe-inline'",
		"form-action 'self'",
		"frame-ancestors 'none'",
	}, "; ")

	return middleware.Chain(
		r,
		middleware.RequestID,
		middleware.RequestLogger(s.logger),
		middleware.Recover(s.logger),
		middleware.SecurityHeaders(middleware.SecurityHeadersConfig{ContentSecurityPolicy: csp}),
	)
}

func Run(ctx context.Context, cfg config.ConsoleConfig, logger *zap.Logger) error {
	s, err := New(cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("console listening", zap.String("addr", cfg.Addr), zap.String("api", cfg.APIBaseURL))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) loginPage(w http.ResponseWriter, r *http.Request) {
	if s.sessionIsValid(r) {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	token, err := s.loginToken(w, r)
	if err != nil {
		s.logger.Error("issue login token", zap.Error(err))
		s.renderError(w, r, http.StatusInternalServerError, "Unable to show the sign-in form")
		return
	}
	data := pageData{
		Title:   "Sign in",
		Company: s.company.Name,
		CSRF:    token,
		Error:   r.URL.Query().Get("error"),
		Message: r.URL.Query().Get("message"),
	}
	s.render(w, http.StatusOK, "login", data)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Redirect(w, r, "/login?error=Invalid+form+submission", http.StatusFound)
		return
	}
	if !s.validLoginToken(r) {
		http.Redirect(w, r, "/login?error=Sign-in+form+expired,+please+try+again", http.StatusFound)
		return
	}
	email := strings.TrimSpace(r.FormValue("email"))
	password := r.FormValue("password")
	if email == "" || password == "" {
		http.Redirect(w, r, "/login?error=Email+and+password+are+required", http.StatusFound)
		return
	}

	result, err := s.api.Login(r.Context(), email, password)
	if err != nil {
		var apiErr *apiclient.Error
		if !errors.As(err, &apiErr) {
			s.logger.Warn("login request failed", zap.Error(err))
			http.Redirect(w, r, "/login?error=Authentication+service+unavailable", http.StatusFound)
			return
		}
		http.Redirect(w, r, withQuery("/login", "error", apiclient.Message(err, "Invalid credentials")), http.StatusFound)
		return
	}
	if _, err := s.startSession(r.Context(), w, result); err != nil {
		s.logger.Error("start session", zap.Error(err))
		http.Redirect(w, r, "/login?error=Unable+to+start+session", http.StatusFound)
		return
	}
	clearLoginCookie(w)
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	s.endSession(r.Context(), w, sessionFromContext(r.Context()))
	http.Redirect(w, r, "/login?message=Signed+out", http.StatusFound)
}

func (s *Server) appCSSFile(w http.ResponseWriter, r *http.Request) {
	css, err := fs.ReadFile(s.assets, "assets/app.css")
	if err != nil {
		// a template dir without built assets falls back to the embedded stylesheet
		css, err = fs.ReadFile(embeddedFS, "assets/app.css")
	}
	if err != nil {
		http.Error(w, "stylesheet unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=300")
	_, _ = w.Write(css)
}

// schemaFor resolves the {entity} route segment. Read-only schemas have their
// own screens and are not served by the generic routes.
func (s *Server) schemaFor(w http.ResponseWriter, r *http.Request) (*records.Schema, bool) {
	schema, ok := records.Lookup(chi.URLParam(r, "entity"))
	if !ok || schema.ReadOnly {
		s.renderError(w, r, http.StatusNotFound, "Page not found")
		return nil, false
	}
	return schema, true
}

func (s *Server) basePage(r *http.Request, title, active string) pageData {
	sess := sessionFromContext(r.Context())
	q := r.URL.Query()
	data := pageData{
		Title:   title,
		Company: s.company.Name,
		Nav:     navItems(active),
		Error:   q.Get("error"),
		Message: q.Get("message"),
	}
	if sess != nil {
		data.CSRF = sess.CSRF
		user := sess.User
		data.User = &user
	}
	return data
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data pageData) {
	if err := s.templates.render(w, status, name, data); err != nil {
		http.Error(w, "template render failed", http.StatusInternalServerError)
		s.logger.Error("template render failed", zap.String("template", name), zap.Error(err))
	}
}

func (s *Server) renderError(w http.ResponseWriter, r *http.Request, status int, message string) {
	data := s.basePage(r, http.StatusText(status), "")
	data.Error = message
	s.render(w, status, "error", data)
}

// pageFailed handles a backend error on a GET screen. An expired backend token
// ends the session.
func (s *Server) pageFailed(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	if s.sessionExpired(w, r, err) {
		return
	}
	status := http.StatusBadGateway
	if apiclient.IsNotFound(err) {
		status = http.StatusNotFound
	}
	s.logger.Warn("backend request failed", zap.String("path", r.URL.Path), zap.Error(err))
	s.renderError(w, r, status, apiclient.Message(err, fallback))
}

// actionFailed handles a backend error on a POST by redirecting back with the
// backend's message or fallback.
func (s *Server) actionFailed(w http.ResponseWriter, r *http.Request, err error, back, fallback string) {
	if s.sessionExpired(w, r, err) {
		return
	}
	s.logger.Warn("backend request failed", zap.String("path", r.URL.Path), zap.Error(err))
	http.Redirect(w, r, withQuery(back, "error", apiclient.Message(err, fallback)), http.StatusFound)
}

func (s *Server) sessionExpired(w http.ResponseWriter, r *http.Request, err error) bool {
	if !errors.Is(err, apiclient.ErrUnauthorized) {
		return false
	}
	s.endSession(r.Context(), w, sessionFromContext(r.Context()))
	http.Redirect(w, r, "/login?error=Session+expired", http.StatusFound)
	return true
}

func withQuery(path, key, value string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + key + "=" + url.QueryEscape(value)
}

func parsePositiveInt(raw string, fallback int) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
