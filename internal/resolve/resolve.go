// Package resolve implements the resolver (C6): given a student email,
// return the deduplicated set of profile IDs currently in force, and
// optionally record a per-minute heartbeat for tracked sessions/rules.
package resolve

import (
	"context"
	"strconv"
	"time"

	"github.com/pegesund/concentratee-cache-sub000/internal/index"
	"github.com/pegesund/concentratee-cache-sub000/internal/models"
	"github.com/pegesund/concentratee-cache-sub000/internal/obsmetrics"
	"github.com/pegesund/concentratee-cache-sub000/internal/store"
	"github.com/pegesund/concentratee-cache-sub000/internal/tracker"
)

// Clock lets tests substitute a fixed "now"; production code uses
// time.Now via the default wall clock.
type Clock func() time.Time

// Resolver implements profile resolution for a student email and, when
// requested and eligible, feeds the tracker registry.
type Resolver struct {
	store    *store.Store
	sessions *index.SessionIndex
	rules    *index.RuleIndex
	trackers *tracker.Registry
	now      Clock
}

// New creates a Resolver over the given store/index/tracker instances.
func New(st *store.Store, sessions *index.SessionIndex, rules *index.RuleIndex, trackers *tracker.Registry) *Resolver {
	return &Resolver{
		store:    st,
		sessions: sessions,
		rules:    rules,
		trackers: trackers,
		now:      time.Now,
	}
}

// WithClock overrides the resolver's notion of "now" (used by tests).
func (r *Resolver) WithClock(clock Clock) *Resolver {
	r.now = clock
	return r
}

// activeSessionsAndRules computes S_active (§4.6 steps 1-2) and the full
// set of currently-active rule candidates (§4.6 steps 4-5, before any
// trackingEnabled or "sessions win" filtering) for one student.
//
// Returns student=nil if the email isn't known to the cache.
func (r *Resolver) activeSessionsAndRules(email string) (student *models.Student, activeSessions []*models.Session, activeRules []*models.Rule) {
	now := r.now()

	todaySessions := r.sessions.ByEmailToday(email, now)
	for _, sess := range todaySessions {
		if sess.ActiveAt(now) {
			activeSessions = append(activeSessions, sess)
		}
	}

	// Find the student record to derive School/Grade/Class scope values.
	// Sessions already carry StudentID; prefer the store lookup by the
	// first active (or today) session's StudentID, falling back to a
	// linear scan only if no session exists - the store has no
	// email-keyed index of its own (that's what sessionsByEmail is for;
	// a student index by email would duplicate it, see §9 guidance to
	// prefer the cheapest index shape available).
	student = r.findStudent(email, todaySessions)

	values := map[models.Scope][]string{
		models.ScopeStudent: {},
		models.ScopeSchool:  {},
		models.ScopeGrade:   {},
		models.ScopeClass:   {},
	}
	seen := map[models.Scope]map[string]bool{
		models.ScopeStudent: {},
		models.ScopeSchool:  {},
		models.ScopeGrade:   {},
		models.ScopeClass:   {},
	}
	addValue := func(scope models.Scope, v string) {
		if seen[scope][v] {
			return
		}
		seen[scope][v] = true
		values[scope] = append(values[scope], v)
	}

	for _, sess := range activeSessions {
		addValue(models.ScopeStudent, strconv.FormatInt(sess.StudentID, 10))
		addValue(models.ScopeSchool, strconv.FormatInt(sess.SchoolID, 10))
		if sess.Grade != nil {
			addValue(models.ScopeGrade, *sess.Grade)
		}
		if sess.ClassID != nil {
			addValue(models.ScopeClass, strconv.FormatInt(*sess.ClassID, 10))
		}
	}
	if student != nil {
		addValue(models.ScopeStudent, strconv.FormatInt(student.ID, 10))
		addValue(models.ScopeSchool, strconv.FormatInt(student.SchoolID, 10))
		if student.Grade != nil {
			addValue(models.ScopeGrade, *student.Grade)
		}
		if student.ClassID != nil {
			addValue(models.ScopeClass, strconv.FormatInt(*student.ClassID, 10))
		}
	}

	for scope, vals := range values {
		// Each scope plus the wildcard key, per §4.6 step 4-5.
		lookups := append(append([]string{}, vals...), models.WildcardValue)
		seenLookup := map[string]bool{}
		for _, v := range lookups {
			if seenLookup[v] {
				continue
			}
			seenLookup[v] = true
			for _, rule := range r.rules.Lookup(scope, v) {
				if rule.ActiveAt(now) {
					activeRules = append(activeRules, rule)
				}
			}
		}
	}

	return student, activeSessions, activeRules
}

// findStudent looks up the Student record for email. It first tries any
// session's StudentID (fast path, O(1) via the entity store), then falls
// back to a bounded scan of the student store - acceptable because this
// only runs when a student has no sessions today, a comparatively rare
// and already O(existing-students) "no profile" case in the cache's
// expected cardinalities (§4.6 complexity note assumes small scope-value
// cardinalities, not large scans on the hot path).
func (r *Resolver) findStudent(email string, sessions []*models.Session) *models.Student {
	for _, sess := range sessions {
		if s, ok := r.store.Students.Get(sess.StudentID); ok && s.Email == email {
			return s
		}
	}

	var found *models.Student
	r.store.Students.Each(func(id int64, s *models.Student) {
		if found == nil && s.Email == email {
			found = s
		}
	})
	return found
}

// ActiveProfiles implements §4.6: the full resolution algorithm. When
// track is true and any resolved profile has TrackingEnabled set, it also
// records a heartbeat via the tracker registry (§4.6 final paragraph,
// §4.9).
func (r *Resolver) ActiveProfiles(ctx context.Context, email string, track bool) []int64 {
	start := time.Now()
	defer func() {
		obsmetrics.RecordResolve(float64(time.Since(start).Microseconds()))
	}()

	student, activeSessions, activeRules := r.activeSessionsAndRules(email)

	seen := make(map[int64]struct{})
	var out []int64
	addProfile := func(id int64) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}

	for _, sess := range activeSessions {
		if sess.ProfileID != nil {
			addProfile(*sess.ProfileID)
		}
	}
	for _, rule := range activeRules {
		addProfile(rule.ProfileID)
	}

	if track && student != nil && r.anyTrackingEnabled(out) {
		r.trackers.RecordHeartbeat(student, activeSessions, activeRules)
	}

	return out
}

// anyTrackingEnabled implements the §4.6/§9 gating rule exactly as
// worded: heartbeat recording is gated on *any* resolved profile having
// TrackingEnabled set, not on a per-profile basis (DESIGN.md Open
// Question Decisions #3).
func (r *Resolver) anyTrackingEnabled(profileIDs []int64) bool {
	for _, id := range profileIDs {
		if p, ok := r.store.Profiles.Get(id); ok && p.TrackingEnabled {
			return true
		}
	}
	return false
}

