package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	ipa "github.com/netresearch/ipa-admin-portal"
	"github.com/netresearch/ipa-admin-portal/internal/session"
)

type loginResponse struct {
	Status    string `json:"status"`
	User      string `json:"user"`
	SessionID string `json:"session_id"`
}

// handleLogin authenticates the operator against the directory and binds the
// resulting handle to a new session.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")
	if username == "" || password == "" {
		badRequest(w, "username and password are required")
		return
	}

	ctx := ipa.WithClientIP(r.Context(), clientIP(r))
	dir, err := s.deps.Connector.Login(ctx, username, password)
	if err != nil {
		switch {
		case errors.Is(err, ipa.ErrRateLimited):
			s.deps.Metrics.ObserveLogin("locked_out")
			WriteProblem(w, http.StatusTooManyRequests, err.Error())
		case ipa.IsAuthenticationError(err):
			s.deps.Metrics.ObserveLogin("invalid_credentials")
			unauthorized(w, "authentication failed: "+ipa.UpstreamMessage(err))
		default:
			s.deps.Metrics.ObserveLogin("error")
			badGateway(w, "authentication failed: "+ipa.UpstreamMessage(err))
		}
		return
	}

	sess, err := s.deps.Sessions.Create(username, s.deps.Metrics.Instrument(dir))
	if err != nil {
		_ = dir.Close()
		s.logger.Error("session_create_failed", slog.String("error", err.Error()))
		WriteProblem(w, http.StatusInternalServerError, "could not create session")
		return
	}
	s.deps.Metrics.ObserveLogin("success")

	ttl := s.deps.Sessions.TTL()
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    sess.Token,
		Path:     "/",
		MaxAge:   int(ttl / time.Second),
		Expires:  sess.Expires,
		HttpOnly: true,
		Secure:   s.cfg.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, loginResponse{Status: "ok", User: username, SessionID: sess.Token})
}

// handleLogout ends the session, if any, and clears the cookie. It succeeds
// for unknown or missing sessions too.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(s.cfg.CookieName); err == nil && cookie.Value != "" {
		if err := s.deps.Sessions.End(cookie.Value); err != nil && !errors.Is(err, session.ErrNotFound) {
			s.logger.Warn("session_end_failed", slog.String("error", err.Error()))
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

// operatorOf returns the session owner for audit log lines.
func operatorOf(r *http.Request) string {
	if sess := SessionFromContext(r.Context()); sess != nil {
		return sess.Owner
	}
	return "unknown"
}

// directoryOf returns the directory handle bound to the request's session.
// Only valid behind requireSession.
func directoryOf(r *http.Request) ipa.Directory {
	return SessionFromContext(r.Context()).Directory
}
