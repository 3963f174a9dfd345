// Package api implements the thin HTTP surface (§6's "external
// collaborator") wrapping the core operations: statsSnapshot,
// sessionsForEmail, activeProfilesForEmail, schoolRules, triggerCleanup,
// trackingStats, sessionTracking, teacherTracking. Routing and
// serialization are explicitly out of scope for the core per spec.md §1;
// this package is that external collaborator, modeled on the teacher's
// api/ and internal/api/handlers plain net/http + manual mux style (no
// framework).
package api

import (
	"context"
	"time"

	"github.com/pegesund/concentratee-cache-sub000/internal/cleaner"
	"github.com/pegesund/concentratee-cache-sub000/internal/index"
	"github.com/pegesund/concentratee-cache-sub000/internal/models"
	"github.com/pegesund/concentratee-cache-sub000/internal/resolve"
	"github.com/pegesund/concentratee-cache-sub000/internal/store"
	"github.com/pegesund/concentratee-cache-sub000/internal/tracker"
)

// Stats is the response shape for statsSnapshot().
type Stats struct {
	Students int                   `json:"students"`
	Profiles int                   `json:"profiles"`
	Rules    int                   `json:"rules"`
	Sessions int                   `json:"sessions"`
	Tracking tracker.TrackingStats `json:"tracking"`
}

// HealthChecker reports database reachability for the /health contract
// (§6: "Only the /health contract surfaces database reachability").
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Service implements the eight core operations §6 lists as the HTTP
// layer's contract. It holds no HTTP concepts of its own.
type Service struct {
	store    *store.Store
	sessions *index.SessionIndex
	rules    *index.RuleIndex
	resolver *resolve.Resolver
	trackers *tracker.Registry
	cleaner  *cleaner.Cleaner
	health   HealthChecker
}

// New builds a Service over the given components.
func New(st *store.Store, sessions *index.SessionIndex, rules *index.RuleIndex, resolver *resolve.Resolver, trackers *tracker.Registry, cl *cleaner.Cleaner, health HealthChecker) *Service {
	return &Service{
		store:    st,
		sessions: sessions,
		rules:    rules,
		resolver: resolver,
		trackers: trackers,
		cleaner:  cl,
		health:   health,
	}
}

// StatsSnapshot implements statsSnapshot().
func (s *Service) StatsSnapshot() Stats {
	return Stats{
		Students: s.store.Students.Len(),
		Profiles: s.store.Profiles.Len(),
		Rules:    s.store.Rules.Len(),
		Sessions: s.store.Sessions.Len(),
		Tracking: s.trackers.Stats(),
	}
}

// SessionsForEmail implements sessionsForEmail(email): today's sessions
// for the student, per invariant I5.
func (s *Service) SessionsForEmail(email string) []*models.Session {
	return s.sessions.ByEmailToday(email, time.Now())
}

// ProfileResolution is the response shape for activeProfilesForEmail.
type ProfileResolution struct {
	ProfileIDs []int64           `json:"profileIds"`
	Profiles   []*models.Profile `json:"profiles,omitempty"`
}

// ActiveProfilesForEmail implements activeProfilesForEmail(email, expand,
// track). track is honored by the resolver itself, which only records a
// heartbeat if at least one resolved profile has TrackingEnabled (§6:
// "The track input is ignored unless at least one resolved profile has
// trackingEnabled = true").
func (s *Service) ActiveProfilesForEmail(ctx context.Context, email string, expand, track bool) ProfileResolution {
	ids := s.resolver.ActiveProfiles(ctx, email, track)
	res := ProfileResolution{ProfileIDs: ids}
	if expand {
		res.Profiles = make([]*models.Profile, 0, len(ids))
		for _, id := range ids {
			if p, ok := s.store.Profiles.Get(id); ok {
				res.Profiles = append(res.Profiles, p)
			}
		}
	}
	return res
}

// SchoolRules implements schoolRules(): every rule whose scope is School.
func (s *Service) SchoolRules() []*models.Rule {
	var out []*models.Rule
	s.store.Rules.Each(func(_ int64, r *models.Rule) {
		if r.Scope == models.ScopeSchool {
			out = append(out, r)
		}
	})
	return out
}

// TriggerCleanup implements triggerCleanup(): runs a cleanup sweep
// synchronously so the caller observes its effect immediately, rather
// than merely scheduling one via the ticker-driven path.
func (s *Service) TriggerCleanup() {
	s.cleaner.Sweep()
}

// TrackingStats implements trackingStats().
func (s *Service) TrackingStats() tracker.TrackingStats {
	return s.trackers.Stats()
}

// SessionTracking implements sessionTracking(sessionId).
func (s *Service) SessionTracking(sessionID int64) (tracker.SessionStats, bool) {
	return s.trackers.SessionTrackingStats(sessionID)
}

// TeacherTracking implements teacherTracking(teacherId).
func (s *Service) TeacherTracking(teacherID int64) []tracker.SessionStats {
	return s.trackers.TeacherTrackingStats(teacherID)
}

// Healthy reports database reachability for the /health contract.
func (s *Service) Healthy(ctx context.Context) error {
	if s.health == nil {
		return nil
	}
	return s.health.Ping(ctx)
}
