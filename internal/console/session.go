package console

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/phillip-england/projectdesk/internal/apiclient"
	"github.com/phillip-england/projectdesk/internal/kvstore"
	"github.com/phillip-england/projectdesk/internal/security"
)

const (
	sessionCookieName = "projectdesk_session"
	loginCookieName   = "projectdesk_login"
	loginTokenTTL     = time.Hour
	csrfFieldName     = "csrf_token"
	csrfHeaderName    = "X-CSRF-Token"
)

type sessionContextKey struct{}

// session is what the console keeps for a signed-in user: the backend token
// and the user object returned at login.
type session struct {
	ID        string         `json:"id"`
	Token     string         `json:"token"`
	User      apiclient.User `json:"user"`
	CSRF      string         `json:"csrf"`
	CreatedAt time.Time      `json:"createdAt"`
}

func (s *session) canApprove() bool { return s.User.CanApprove || s.User.IsAdmin }
func (s *session) canDelete() bool  { return s.User.CanDelete || s.User.IsAdmin }

func sessionKey(id string) string { return "session:" + id }

// scratchPrefix namespaces the unsaved working copies of one session.
func scratchPrefix(sessionID string) string { return "scratch:" + sessionID + ":" }

func (s *Server) startSession(ctx context.Context, w http.ResponseWriter, login apiclient.LoginResult) (*session, error) {
	csrf, err := security.RandomToken(24)
	if err != nil {
		return nil, err
	}
	sess := &session{
		ID:        uuid.NewString(),
		Token:     login.Token,
		User:      login.User,
		CSRF:      csrf,
		CreatedAt: time.Now().UTC(),
	}
	if err := kvstore.SetJSON(ctx, s.store, sessionKey(sess.ID), sess, s.sessionTTL); err != nil {
		return nil, err
	}
	sealed, err := s.sealer.Seal([]byte(sess.ID))
	if err != nil {
		return nil, err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sealed,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.sessionTTL.Seconds()),
	})
	return sess, nil
}

func (s *Server) loadSession(r *http.Request) (*session, error) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return nil, err
	}
	id, err := s.sealer.Open(cookie.Value)
	if err != nil {
		return nil, err
	}
	var sess session
	if err := kvstore.GetJSON(r.Context(), s.store, sessionKey(string(id)), &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Server) endSession(ctx context.Context, w http.ResponseWriter, sess *session) {
	if sess != nil {
		if err := s.store.Delete(ctx, sessionKey(sess.ID)); err != nil {
			s.logger.Warn("delete session", zap.Error(err))
		}
		if err := s.store.DeletePrefix(ctx, scratchPrefix(sess.ID)); err != nil {
			s.logger.Warn("delete scratch copies", zap.Error(err))
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// loginToken returns the CSRF token for the sign-in form, reusing the one in
// the browser's login cookie while it still opens.
func (s *Server) loginToken(w http.ResponseWriter, r *http.Request) (string, error) {
	if token, ok := s.openLoginCookie(r); ok {
		return token, nil
	}
	token, err := security.RandomToken(24)
	if err != nil {
		return "", err
	}
	sealed, err := s.sealer.Seal([]byte(token))
	if err != nil {
		return "", err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     loginCookieName,
		Value:    sealed,
		Path:     "/login",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(loginTokenTTL.Seconds()),
	})
	return token, nil
}

func (s *Server) openLoginCookie(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(loginCookieName)
	if err != nil {
		return "", false
	}
	token, err := s.sealer.Open(cookie.Value)
	if err != nil || len(token) == 0 {
		return "", false
	}
	return string(token), true
}

// validLoginToken checks the submitted sign-in form against the login cookie.
func (s *Server) validLoginToken(r *http.Request) bool {
	want, ok := s.openLoginCookie(r)
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(r.FormValue(csrfFieldName)), []byte(want)) == 1
}

func clearLoginCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     loginCookieName,
		Value:    "",
		Path:     "/login",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

func (s *Server) sessionIsValid(r *http.Request) bool {
	_, err := s.loadSession(r)
	return err == nil
}

// requireSession loads the session into the request context and checks the
// CSRF token on every POST.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.loadSession(r)
		if err != nil {
			if !errors.Is(err, http.ErrNoCookie) && !errors.Is(err, kvstore.ErrNotFound) && !errors.Is(err, security.ErrInvalidSeal) {
				s.logger.Warn("load session", zap.Error(err))
			}
			http.Redirect(w, r, "/login?error=Please+sign+in", http.StatusFound)
			return
		}
		if r.Method == http.MethodPost {
			r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
			token := r.Header.Get(csrfHeaderName)
			if token == "" {
				token = r.FormValue(csrfFieldName)
			}
			if subtle.ConstantTimeCompare([]byte(token), []byte(sess.CSRF)) != 1 {
				http.Error(w, "invalid csrf token", http.StatusForbidden)
				return
			}
		}
		ctx := context.WithValue(r.Context(), sessionContextKey{}, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFromContext(ctx context.Context) *session {
	sess, _ := ctx.Value(sessionContextKey{}).(*session)
	return sess
}

func (s *Server) saveScratch(ctx context.Context, sess *session, key string, v any) error {
	return kvstore.SetJSON(ctx, s.store, scratchPrefix(sess.ID)+key, v, s.sessionTTL)
}

func (s *Server) loadScratch(ctx context.Context, sess *session, key string, v any) error {
	return kvstore.GetJSON(ctx, s.store, scratchPrefix(sess.ID)+key, v)
}

func (s *Server) dropScratch(ctx context.Context, sess *session, key string) {
	if err := s.store.Delete(ctx, scratchPrefix(sess.ID)+key); err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		s.logger.Warn("delete scratch copy", zap.String("key", key), zap.Error(err))
	}
}
