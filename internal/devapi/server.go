// Package devapi is a development backend that serves the endpoints the console
// consumes, backed by a local sqlite file.
package devapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/phillip-england/projectdesk/internal/auditlog"
	"github.com/phillip-england/projectdesk/internal/config"
	"github.com/phillip-england/projectdesk/internal/middleware"
	"github.com/phillip-england/projectdesk/internal/records"
	"github.com/phillip-england/projectdesk/internal/security"
)

const maxUploadBytes = 20 << 20

type contextKey string

const userContextKey contextKey = "user"

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type createUserRequest struct {
	Email      string `json:"email"`
	Name       string `json:"name"`
	Password   string `json:"password"`
	Role       string `json:"role"`
	CanApprove bool   `json:"canApprove"`
	CanDelete  bool   `json:"canDelete"`
}

// Server owns the store and the routes. Close releases the database.
type Server struct {
	store    *sqliteStore
	secret   string
	tokenTTL time.Duration
	logger   *zap.Logger
}

// New opens the database at cfg.DBPath and seeds the admin user.
func New(ctx context.Context, cfg config.APIConfig, logger *zap.Logger) (*Server, error) {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		return nil, errors.New("ADMIN_EMAIL and ADMIN_PASSWORD are required")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 12 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	store, err := openStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	name := cfg.AdminName
	if name == "" {
		name = "Administrator"
	}
	if err := store.ensureAdminUser(ctx, cfg.AdminEmail, name, cfg.AdminPassword); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("ensure admin user: %w", err)
	}
	return &Server{store: store, secret: cfg.JWTSecret, tokenTTL: cfg.TokenTTL, logger: logger}, nil
}

func (s *Server) Close() error {
	return s.store.Close()
}

// Handler returns the API routes wrapped in the standard middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/api/health", s.health)
	r.Post("/api/auth/login", s.login)

	r.Group(func(r chi.Router) {
		r.Use(s.requireUser)
		r.Get("/api/auth/me", s.me)
		r.With(s.requireAdmin).Post("/api/users", s.createUser)

		r.Get("/api/unified-audit-logs", s.listAuditLogs)
		r.Get("/api/unified-audit-logs/{id}", s.getAuditLog)

		for _, schema := range records.Editable() {
			r.Route(schema.Endpoint, func(r chi.Router) {
				r.Get("/", s.listDocuments(schema))
				r.Post("/", s.createDocument(schema))
				r.Get("/{id}", s.getDocument(schema))
				r.Put("/{id}", s.updateDocument(schema, false))
				r.Patch("/{id}", s.updateDocument(schema, true))
				r.Delete("/{id}", s.deleteDocument(schema))
				r.Get("/{id}/attachments", s.listAttachments(schema))
				r.Post("/{id}/attachments", s.uploadAttachment(schema))
				r.Get("/{id}/attachments/{attachmentID}", s.getAttachment(schema))
				r.Delete("/{id}/attachments/{attachmentID}", s.deleteAttachment(schema))
			})
		}
	})

	return middleware.Chain(
		r,
		middleware.RequestID,
		middleware.RequestLogger(s.logger),
		middleware.Recover(s.logger),
		middleware.SecurityHeaders(middleware.SecurityHeadersConfig{ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'"}),
	)
}

// Run serves the API until ctx is cancelled.
func Run(ctx context.Context, cfg config.APIConfig, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	srv, err := New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer srv.Close()

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", zap.String("addr", cfg.Addr), zap.String("db", cfg.DBPath))
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

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	version, err := s.store.schemaVersion()
	if err != nil {
		s.logger.Error("read schema version", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "schemaVersion": version})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, hash, err := s.store.lookupUserByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, errNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		s.logger.Error("lookup user", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "authentication failed")
		return
	}
	if !security.VerifyPassword(req.Password, hash) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := security.IssueToken(s.secret, user.claims(), s.tokenTTL)
	if err != nil {
		s.logger.Error("issue token", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "authentication failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "user": user.json()})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"user": userFromContext(r.Context()).json()})
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "email and name are required")
		return
	}
	u, err := s.store.createUser(r.Context(), userRecord{
		Email: req.Email, Name: req.Name, Role: req.Role,
		CanApprove: req.CanApprove, CanDelete: req.CanDelete,
	}, req.Password)
	if err != nil {
		if errors.Is(err, security.ErrPasswordTooShort) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusConflict, "unable to create user")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": u.json()})
}

func (s *Server) listDocuments(schema *records.Schema) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docs, err := s.store.listDocuments(r.Context(), schema.Name)
		if err != nil {
			s.serverError(w, "list documents", err)
			return
		}
		writeJSON(w, http.StatusOK, parseListQuery(r.URL.Query()).apply(docs))
	}
}

func (s *Server) getDocument(schema *records.Schema) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := s.store.getDocument(r.Context(), schema.Name, chi.URLParam(r, "id"))
		if err != nil {
			s.notFoundOr500(w, schema, "get document", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": doc})
	}
}

func (s *Server) createDocument(schema *records.Schema) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, ok := decodeRecord(w, r)
		if !ok {
			return
		}
		if missing := records.MissingRequired(schema, rec); len(missing) > 0 {
			writeError(w, http.StatusUnprocessableEntity, strings.Join(missing, ", ")+" required")
			return
		}
		user := userFromContext(r.Context())
		doc, err := s.store.createDocument(r.Context(), schema.Name, rec, user)
		if err != nil {
			s.serverError(w, "create document", err)
			return
		}
		s.logger.Info("document created", zap.String("collection", schema.Name), zap.String("id", doc.ID()), zap.String("user", user.Email))
		writeJSON(w, http.StatusCreated, map[string]any{"data": doc})
	}
}

func (s *Server) updateDocument(schema *records.Schema, merge bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, ok := decodeRecord(w, r)
		if !ok {
			return
		}
		id := chi.URLParam(r, "id")
		user := userFromContext(r.Context())
		if schema.Approvable {
			before, err := s.store.getDocument(r.Context(), schema.Name, id)
			if err != nil {
				s.notFoundOr500(w, schema, "get document", err)
				return
			}
			status := rec.String(schema.StatusField)
			decision := status == schema.ApproveStatus || status == schema.RejectStatus
			if decision && status != before.String(schema.StatusField) && !user.CanApprove && !user.IsAdmin {
				writeError(w, http.StatusForbidden, "you are not allowed to approve or reject "+strings.ToLower(schema.Plural))
				return
			}
		}
		if !merge {
			if missing := records.MissingRequired(schema, rec); len(missing) > 0 {
				writeError(w, http.StatusUnprocessableEntity, strings.Join(missing, ", ")+" required")
				return
			}
		}
		doc, err := s.store.updateDocument(r.Context(), schema.Name, id, rec, merge, user)
		if err != nil {
			s.notFoundOr500(w, schema, "update document", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": doc})
	}
}

func (s *Server) deleteDocument(schema *records.Schema) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := userFromContext(r.Context())
		if !user.CanDelete && !user.IsAdmin {
			writeError(w, http.StatusForbidden, "you are not allowed to delete records")
			return
		}
		if err := s.store.deleteDocument(r.Context(), schema.Name, chi.URLParam(r, "id"), user); err != nil {
			s.notFoundOr500(w, schema, "delete document", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) listAttachments(schema *records.Schema) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := s.store.getDocument(r.Context(), schema.Name, id); err != nil {
			s.notFoundOr500(w, schema, "get document", err)
			return
		}
		list, err := s.store.listAttachments(r.Context(), schema.Name, id)
		if err != nil {
			s.serverError(w, "list attachments", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": list, "total": len(list)})
	}
}

func (s *Server) uploadAttachment(schema *records.Schema) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeError(w, http.StatusBadRequest, "invalid upload")
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "file is required")
			return
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid upload")
			return
		}
		mime := header.Header.Get("Content-Type")
		if mime == "" || mime == "application/octet-stream" {
			mime = http.DetectContentType(data)
		}
		a, err := s.store.addAttachment(r.Context(), schema.Name, chi.URLParam(r, "id"), attachment{
			FileName: header.Filename,
			FileMime: mime,
		}, data, userFromContext(r.Context()))
		if err != nil {
			s.notFoundOr500(w, schema, "add attachment", err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"data": a})
	}
}

func (s *Server) getAttachment(schema *records.Schema) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, data, err := s.store.getAttachment(r.Context(), schema.Name, chi.URLParam(r, "id"), chi.URLParam(r, "attachmentID"))
		if err != nil {
			if errors.Is(err, errNotFound) {
				writeError(w, http.StatusNotFound, "attachment not found")
				return
			}
			s.serverError(w, "get attachment", err)
			return
		}
		w.Header().Set("Content-Type", a.FileMime)
		w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", a.FileName))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}

func (s *Server) deleteAttachment(schema *records.Schema) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := s.store.deleteAttachment(r.Context(), schema.Name, chi.URLParam(r, "id"), chi.URLParam(r, "attachmentID"), userFromContext(r.Context()))
		if err != nil {
			if errors.Is(err, errNotFound) {
				writeError(w, http.StatusNotFound, "attachment not found")
				return
			}
			s.serverError(w, "delete attachment", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// listAuditLogs filters with the same rules the console's viewer uses.
func (s *Server) listAuditLogs(w http.ResponseWriter, r *http.Request) {
	all, err := s.store.listAudit(r.Context())
	if err != nil {
		s.serverError(w, "list audit logs", err)
		return
	}
	filter := auditlog.ParseFilter(r.URL.Query())
	matched := make([]records.Record, 0, len(all))
	for _, rec := range all {
		if filter.Match(auditlog.FromRecord(rec)) {
			matched = append(matched, rec)
		}
	}
	lq := listQuery{Sort: "createdAt", Desc: true, Page: filter.Page, Limit: filter.Limit}
	writeJSON(w, http.StatusOK, lq.apply(matched))
}

func (s *Server) getAuditLog(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.getAudit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, errNotFound) {
			writeError(w, http.StatusNotFound, "audit log not found")
			return
		}
		s.serverError(w, "get audit log", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": rec})
}

func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		claims, err := security.ParseToken(s.secret, strings.TrimSpace(token))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "session expired, please sign in again")
			return
		}
		user, err := s.store.getUser(r.Context(), claims.UserID)
		if err != nil {
			if errors.Is(err, errNotFound) {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			s.serverError(w, "session check", err)
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !userFromContext(r.Context()).IsAdmin {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userFromContext(ctx context.Context) userRecord {
	u, _ := ctx.Value(userContextKey).(userRecord)
	return u
}

func decodeRecord(w http.ResponseWriter, r *http.Request) (records.Record, bool) {
	var rec records.Record
	if err := json.NewDecoder(io.LimitReader(r.Body, 4<<20)).Decode(&rec); err != nil || rec == nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	return rec, true
}

func (s *Server) notFoundOr500(w http.ResponseWriter, schema *records.Schema, op string, err error) {
	if errors.Is(err, errNotFound) {
		writeError(w, http.StatusNotFound, schema.Singular+" not found")
		return
	}
	s.serverError(w, op, err)
}

func (s *Server) serverError(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "something went wrong")
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
