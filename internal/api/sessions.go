package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/orchestrator"
	"github.com/JakeFAU/listing-harvester/internal/scrape"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	SessionID string `json:"session_id,omitempty"`
	Status    string `json:"status"`
	ExpiresIn int64  `json:"expires_in,omitempty"`
	Error     string `json:"error,omitempty"`
}

type sessionResponse struct {
	SessionID  string    `json:"session_id"`
	Owner      string    `json:"owner"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
	ExpiresIn  int64     `json:"expires_in"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	sess, err := s.deps.Scraper.Login(r.Context(), scrape.Credentials{Email: req.Email, Password: req.Password})
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, scrape.ErrLoginRejected) {
			status = http.StatusUnauthorized
		}
		s.logger.Warn("login failed", zap.Error(err))
		writeJSON(w, status, loginResponse{Status: "failed", Error: err.Error()})
		return
	}
	// The caller is gone once the request times out, so nobody would learn
	// the session id; drop the session and free its browser.
	if ctxErr := r.Context().Err(); ctxErr != nil {
		if s.deps.Sessions != nil {
			s.deps.Sessions.Close(sess.ID)
		}
		s.logger.Warn("login finished after request ended, session closed",
			zap.String("session_id", sess.ID),
			zap.Error(ctxErr),
		)
		writeError(w, http.StatusServiceUnavailable, "login finished after the request ended")
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		SessionID: sess.ID,
		Status:    "authenticated",
		ExpiresIn: int64(sess.Remaining(s.now()) / time.Second),
	})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		writeError(w, http.StatusServiceUnavailable, orchestrator.ErrSessionsUnavailable.Error())
		return
	}
	sess, err := s.deps.Sessions.Lookup(chi.URLParam(r, "session_id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		SessionID:  sess.ID,
		Owner:      sess.Owner,
		CreatedAt:  sess.CreatedAt,
		LastUsedAt: sess.LastUsedAt,
		ExpiresIn:  int64(sess.Remaining(s.now()) / time.Second),
	})
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		writeError(w, http.StatusServiceUnavailable, orchestrator.ErrSessionsUnavailable.Error())
		return
	}
	closed := s.deps.Sessions.Close(chi.URLParam(r, "session_id"))
	writeJSON(w, http.StatusOK, map[string]bool{"success": closed})
}

// checkSession surfaces unknown or expired sessions before any work is
// queued. An empty id passes.
func (s *Server) checkSession(w http.ResponseWriter, id string) bool {
	if id == "" {
		return true
	}
	if s.deps.Sessions == nil {
		writeError(w, http.StatusServiceUnavailable, orchestrator.ErrSessionsUnavailable.Error())
		return false
	}
	if _, err := s.deps.Sessions.Lookup(id); err != nil {
		writeError(w, statusFor(err), err.Error())
		return false
	}
	return true
}
