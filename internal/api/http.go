package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/pegesund/concentratee-cache-sub000/internal/adminauth"
	"github.com/pegesund/concentratee-cache-sub000/internal/livefeed"
	"github.com/pegesund/concentratee-cache-sub000/internal/middleware"
	"github.com/pegesund/concentratee-cache-sub000/internal/obslog"
)

// Server wires Service onto a plain net/http mux - no framework, matching
// the teacher's own api/ and internal/api/handlers style. Mutating/
// admin-only routes are gated by adminauth when it is configured; all
// others are read-only and ungated. Every route passes through a per-IP
// rate limiter first.
type Server struct {
	svc     *Service
	auth    *adminauth.Service
	hub     *livefeed.Hub
	limiter *middleware.RateLimiter
	mux     *http.ServeMux
}

// NewServer builds the HTTP surface over svc. auth/hub may be nil (admin
// auth disabled, livefeed disabled respectively).
func NewServer(svc *Service, auth *adminauth.Service, hub *livefeed.Hub) *Server {
	s := &Server{
		svc:     svc,
		auth:    auth,
		hub:     hub,
		limiter: middleware.NewRateLimiter(middleware.DefaultRateLimitConfig()),
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.limiter.Middleware(s.mux).ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /stats", s.handleStats)
	s.mux.HandleFunc("GET /sessions", s.handleSessions)
	s.mux.HandleFunc("GET /profiles", s.handleProfiles)
	s.mux.HandleFunc("GET /rules/school", s.handleSchoolRules)
	s.mux.HandleFunc("GET /tracking/stats", s.handleTrackingStats)
	s.mux.HandleFunc("GET /tracking/session/{id}", s.handleSessionTracking)
	s.mux.HandleFunc("GET /tracking/teacher/{id}", s.handleTeacherTracking)
	s.mux.HandleFunc("POST /admin/login", s.handleAdminLogin)
	s.mux.HandleFunc("POST /admin/cleanup", s.requireAdmin(s.handleCleanup))
	if s.hub != nil {
		s.mux.HandleFunc("GET /ws/live", func(w http.ResponseWriter, r *http.Request) {
			livefeed.ServeWs(s.hub, w, r)
		})
	}
}

// requireAdmin gates a handler behind a valid admin bearer token. If
// adminauth isn't configured (s.auth == nil or not Enabled), the route is
// left open - internal/config.Validate logs a warning about a missing
// ADMIN_PASSWORD_HASH at startup when ENVIRONMENT is production, matching
// the teacher's own "unauthenticated in dev" posture.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.auth == nil || !s.auth.Enabled() {
			next(w, r)
			return
		}
		token := bearerToken(r)
		if _, err := s.auth.ValidateToken(token); err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Healthy(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "down", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.StatsSnapshot())
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}
	writeJSON(w, http.StatusOK, s.svc.SessionsForEmail(email))
}

func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}
	expand := r.URL.Query().Get("expand") == "true"
	track := r.URL.Query().Get("track") == "true"
	writeJSON(w, http.StatusOK, s.svc.ActiveProfilesForEmail(r.Context(), email, expand, track))
}

func (s *Server) handleSchoolRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.SchoolRules())
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	s.svc.TriggerCleanup()
	if s.hub != nil {
		s.hub.Publish(livefeed.Event{Type: livefeed.EventCleanupRun})
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "triggered"})
}

func (s *Server) handleTrackingStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.TrackingStats())
}

func (s *Server) handleSessionTracking(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	stats, ok := s.svc.SessionTracking(id)
	if !ok {
		writeError(w, http.StatusNotFound, "no live tracker for session")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleTeacherTracking(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid teacher id")
		return
	}
	writeJSON(w, http.StatusOK, s.svc.TeacherTracking(id))
}

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil || !s.auth.Enabled() {
		writeError(w, http.StatusServiceUnavailable, "admin auth not configured")
		return
	}
	var body struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	token, err := s.auth.Login(body.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		obslog.Error("failed to encode response", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
