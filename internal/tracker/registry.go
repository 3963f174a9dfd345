package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pegesund/concentratee-cache-sub000/internal/models"
	"github.com/pegesund/concentratee-cache-sub000/internal/obslog"
	"github.com/pegesund/concentratee-cache-sub000/internal/obsmetrics"
)

// ContextKey builds the canonical context-key string for a non-session
// tracking scope (§4.9). School/Grade/Class follow the spec's formats
// exactly; Student is handled the same way as a sensible extension of the
// same pattern, since the spec's table omits it but the resolver's rule
// scopes include Student alongside School/Grade/Class.
func ContextKey(scope models.Scope, scopeValue string, studentSchoolID int64) string {
	switch scope {
	case models.ScopeSchool:
		return "school:" + scopeValue
	case models.ScopeGrade:
		return fmt.Sprintf("grade:%s:school:%d", scopeValue, studentSchoolID)
	case models.ScopeClass:
		return fmt.Sprintf("class:%s:school:%d", scopeValue, studentSchoolID)
	default: // models.ScopeStudent
		return "student:" + scopeValue
	}
}

// SessionTracker holds the per-student minute trackers for one live
// session, plus the metadata needed to compute percentage/isActive at
// persistence time.
type SessionTracker struct {
	SessionID    int64
	TeacherID    int64
	Start        time.Time
	End          time.Time
	TotalMinutes int

	mu      sync.RWMutex
	byEmail map[string]*MinuteTracker
}

func newSessionTracker(sess *models.Session) *SessionTracker {
	return &SessionTracker{
		SessionID:    sess.ID,
		TeacherID:    sess.TeacherID,
		Start:        sess.StartTime,
		End:          sess.EndTime,
		TotalMinutes: minutesBetween(sess.StartTime, sess.EndTime),
		byEmail:      make(map[string]*MinuteTracker),
	}
}

func (st *SessionTracker) emails() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]string, 0, len(st.byEmail))
	for email := range st.byEmail {
		out = append(out, email)
	}
	return out
}

func minutesBetween(start, end time.Time) int {
	d := end.Sub(start)
	if d <= 0 {
		return 0
	}
	return int(d / time.Minute)
}

func (st *SessionTracker) trackerFor(email string) *MinuteTracker {
	st.mu.RLock()
	t, ok := st.byEmail[email]
	st.mu.RUnlock()
	if ok {
		return t
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if t, ok = st.byEmail[email]; ok {
		return t
	}
	t = NewMinuteTracker()
	st.byEmail[email] = t
	return t
}

func (st *SessionTracker) rotateAll() {
	st.mu.RLock()
	defer st.mu.RUnlock()
	for _, t := range st.byEmail {
		t.RotateMinute()
	}
}

func (st *SessionTracker) studentCount() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.byEmail)
}

// Aggregate computes the session-level aggregate per §4.9: mean of
// per-student percentages, and isActive as the strict >0.8 majority of
// per-student isActive flags.
func (st *SessionTracker) Aggregate(threshold float64) (percentage float64, isActive bool, studentCount int) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	studentCount = len(st.byEmail)
	if studentCount == 0 {
		return 0, false, 0
	}

	var sumPct float64
	var activeCount int
	for _, t := range st.byEmail {
		sumPct += t.Percentage(st.TotalMinutes)
		if t.IsActive(st.TotalMinutes, threshold) {
			activeCount++
		}
	}

	percentage = roundTo2(sumPct / float64(studentCount))
	isActive = (float64(activeCount) / float64(studentCount)) > threshold
	return percentage, isActive, studentCount
}

// RuleTracker holds the per-student minute trackers for one rule context
// (School/Grade/Class/Student), plus last-activity bookkeeping for the
// staleness sweep.
type RuleTracker struct {
	ContextKey string
	SchoolID   int64

	mu           sync.RWMutex
	byEmail      map[string]*MinuteTracker
	lastActivity time.Time
}

func newRuleTracker(key string, schoolID int64, now time.Time) *RuleTracker {
	return &RuleTracker{
		ContextKey:   key,
		SchoolID:     schoolID,
		byEmail:      make(map[string]*MinuteTracker),
		lastActivity: now,
	}
}

func (rt *RuleTracker) trackerFor(email string, now time.Time) *MinuteTracker {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.lastActivity = now
	t, ok := rt.byEmail[email]
	if !ok {
		t = NewMinuteTracker()
		rt.byEmail[email] = t
	}
	return t
}

func (rt *RuleTracker) rotateAll() {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	for _, t := range rt.byEmail {
		t.RotateMinute()
	}
}

func (rt *RuleTracker) idleSince(now time.Time) time.Duration {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return now.Sub(rt.lastActivity)
}

// Persister writes the two-column session aggregate back to the database
// (§4.9, §6 write contract). Implemented in cmd/server over the pgx pool.
type Persister interface {
	PersistSessionAggregate(ctx context.Context, sessionID int64, isActive bool, percentage float64) error
}

// Registry is the tracker registry (C9): session and rule-context tracker
// maps, their lookup indexes, and the scheduled duties that rotate,
// persist, and garbage-collect them.
type Registry struct {
	threshold    float64
	staleAfter   time.Duration
	persister    Persister
	retryOnFail  bool

	mu              sync.RWMutex
	sessionTrackers map[int64]*SessionTracker
	ruleTrackers    map[string]*RuleTracker

	emailToSessions   map[string]map[int64]struct{}
	teacherToSessions map[int64]map[int64]struct{}
	schoolToContexts  map[int64]map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry(threshold float64, staleAfter time.Duration, persister Persister, retryOnFail bool) *Registry {
	return &Registry{
		threshold:         threshold,
		staleAfter:        staleAfter,
		persister:         persister,
		retryOnFail:       retryOnFail,
		sessionTrackers:   make(map[int64]*SessionTracker),
		ruleTrackers:      make(map[string]*RuleTracker),
		emailToSessions:   make(map[string]map[int64]struct{}),
		teacherToSessions: make(map[int64]map[int64]struct{}),
		schoolToContexts:  make(map[int64]map[string]struct{}),
	}
}

// RecordHeartbeat implements the §4.9 "Heartbeat intake" algorithm for one
// student, given the active sessions and rule-scope candidates the caller
// (the resolver, C6) has already computed. activeSessions and
// candidateRules must both be restricted to "active now" per §4.6 step 2/5
// - Registry does not re-check time windows.
func (r *Registry) RecordHeartbeat(student *models.Student, activeSessions []*models.Session, candidateRules []*models.Rule) {
	sessionProfileIDs := make(map[int64]struct{}, len(activeSessions))
	for _, sess := range activeSessions {
		if sess.ProfileID != nil {
			sessionProfileIDs[*sess.ProfileID] = struct{}{}
		}
	}

	for _, sess := range activeSessions {
		st := r.sessionTrackerFor(sess, student)
		st.trackerFor(student.Email).RecordHeartbeat()
	}

	// "Sessions win over rules": drop any rule whose ProfileID matches a
	// profile already assigned via an active session, via set membership
	// (§9), not a nested scan.
	now := time.Now()
	for _, rule := range candidateRules {
		if _, dup := sessionProfileIDs[rule.ProfileID]; dup {
			continue
		}
		rt := r.ruleTrackerFor(rule, student)
		rt.trackerFor(student.Email, now).RecordHeartbeat()
	}
}

func (r *Registry) sessionTrackerFor(sess *models.Session, student *models.Student) *SessionTracker {
	r.mu.RLock()
	st, ok := r.sessionTrackers[sess.ID]
	r.mu.RUnlock()
	if ok {
		return st
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok = r.sessionTrackers[sess.ID]; ok {
		return st
	}
	st = newSessionTracker(sess)
	r.sessionTrackers[sess.ID] = st
	r.indexSessionLocked(sess.ID, student.Email, sess.TeacherID)
	obsmetrics.SetTrackerCount("session", len(r.sessionTrackers))
	return st
}

func (r *Registry) ruleTrackerFor(rule *models.Rule, student *models.Student) *RuleTracker {
	key := ContextKey(rule.Scope, rule.ScopeValue, student.SchoolID)

	r.mu.RLock()
	rt, ok := r.ruleTrackers[key]
	r.mu.RUnlock()
	if ok {
		return rt
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rt, ok = r.ruleTrackers[key]; ok {
		return rt
	}
	rt = newRuleTracker(key, student.SchoolID, time.Now())
	r.ruleTrackers[key] = rt
	r.indexContextLocked(student.SchoolID, key)
	obsmetrics.SetTrackerCount("rule", len(r.ruleTrackers))
	return rt
}

// indexSessionLocked must be called with r.mu held for writing.
func (r *Registry) indexSessionLocked(sessionID int64, email string, teacherID int64) {
	if email != "" {
		set := r.emailToSessions[email]
		if set == nil {
			set = make(map[int64]struct{})
			r.emailToSessions[email] = set
		}
		set[sessionID] = struct{}{}
	}

	set := r.teacherToSessions[teacherID]
	if set == nil {
		set = make(map[int64]struct{})
		r.teacherToSessions[teacherID] = set
	}
	set[sessionID] = struct{}{}
}

// indexContextLocked must be called with r.mu held for writing.
func (r *Registry) indexContextLocked(schoolID int64, key string) {
	set := r.schoolToContexts[schoolID]
	if set == nil {
		set = make(map[string]struct{})
		r.schoolToContexts[schoolID] = set
	}
	set[key] = struct{}{}
}

// RotateAll calls RotateMinute on every tracker in both registries. Driven
// by the top-of-minute tick.
func (r *Registry) RotateAll() {
	r.mu.RLock()
	sessions := make([]*SessionTracker, 0, len(r.sessionTrackers))
	for _, st := range r.sessionTrackers {
		sessions = append(sessions, st)
	}
	rules := make([]*RuleTracker, 0, len(r.ruleTrackers))
	for _, rt := range r.ruleTrackers {
		rules = append(rules, rt)
	}
	r.mu.RUnlock()

	for _, st := range sessions {
		st.rotateAll()
		obsmetrics.RecordTrackerRotation()
	}
	for _, rt := range rules {
		rt.rotateAll()
		obsmetrics.RecordTrackerRotation()
	}
}

// PersistEnded finds every session tracker whose session has ended
// (endTime < now), writes its aggregate, and removes it along with its
// index entries - every 5 minutes per §4.9. Trackers with zero students
// are skipped (no aggregate is written) but are still removed.
func (r *Registry) PersistEnded(ctx context.Context, now time.Time) {
	r.mu.RLock()
	var ended []*SessionTracker
	for _, st := range r.sessionTrackers {
		if st.End.Before(now) {
			ended = append(ended, st)
		}
	}
	r.mu.RUnlock()

	for _, st := range ended {
		r.persistAndRemove(ctx, st)
	}
}

func (r *Registry) persistAndRemove(ctx context.Context, st *SessionTracker) {
	pct, active, count := st.Aggregate(r.threshold)

	if count > 0 {
		err := r.persister.PersistSessionAggregate(ctx, st.SessionID, active, pct)
		if err != nil {
			obslog.Error("aggregate persist failed", err,
				obslog.EntityRef("session", st.SessionID),
				obslog.Component("tracker"))
		}
		obsmetrics.RecordAggregatePersist(err == nil)
		// §9 Open Question #2: the tracker is removed unconditionally,
		// even on write failure, to avoid unbounded memory under a
		// persistent database outage. r.retryOnFail exists as a visible
		// config knob but no retry-queue path is implemented.
		_ = r.retryOnFail
	}

	emails := st.emails()

	r.mu.Lock()
	delete(r.sessionTrackers, st.SessionID)
	for _, email := range emails {
		if set, ok := r.emailToSessions[email]; ok {
			delete(set, st.SessionID)
			if len(set) == 0 {
				delete(r.emailToSessions, email)
			}
		}
	}
	if set, ok := r.teacherToSessions[st.TeacherID]; ok {
		delete(set, st.SessionID)
		if len(set) == 0 {
			delete(r.teacherToSessions, st.TeacherID)
		}
	}
	r.mu.Unlock()
	obsmetrics.SetTrackerCount("session", r.sessionCount())
}

// EvictStaleRuleTrackers removes rule-context trackers idle longer than
// staleAfter - every 10 minutes per §4.9.
func (r *Registry) EvictStaleRuleTrackers(now time.Time) {
	r.mu.RLock()
	type staleEntry struct {
		key      string
		schoolID int64
	}
	var stale []staleEntry
	for key, rt := range r.ruleTrackers {
		if rt.idleSince(now) > r.staleAfter {
			stale = append(stale, staleEntry{key, rt.SchoolID})
		}
	}
	r.mu.RUnlock()

	if len(stale) == 0 {
		return
	}

	r.mu.Lock()
	for _, e := range stale {
		delete(r.ruleTrackers, e.key)
		if set, ok := r.schoolToContexts[e.schoolID]; ok {
			delete(set, e.key)
			if len(set) == 0 {
				delete(r.schoolToContexts, e.schoolID)
			}
		}
	}
	r.mu.Unlock()
	obsmetrics.SetTrackerCount("rule", r.ruleCount())
}

func (r *Registry) sessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessionTrackers)
}

func (r *Registry) ruleCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ruleTrackers)
}

// SessionStats exposes a read-only snapshot of one session tracker, used
// by the sessionTracking(sessionId) HTTP contract.
type SessionStats struct {
	SessionID    int64
	TotalMinutes int
	Percentage   float64
	IsActive     bool
	StudentCount int
}

// SessionTrackingStats returns the current stats for one session tracker,
// or ok=false if no tracker exists (e.g. not yet started, or already
// persisted and evicted).
func (r *Registry) SessionTrackingStats(sessionID int64) (SessionStats, bool) {
	r.mu.RLock()
	st, ok := r.sessionTrackers[sessionID]
	r.mu.RUnlock()
	if !ok {
		return SessionStats{}, false
	}

	pct, active, count := st.Aggregate(r.threshold)
	return SessionStats{
		SessionID:    sessionID,
		TotalMinutes: st.TotalMinutes,
		Percentage:   pct,
		IsActive:     active,
		StudentCount: count,
	}, true
}

// TeacherTrackingStats returns the stats for every live session tracker
// belonging to teacherID, used by the teacherTracking(teacherId) contract.
func (r *Registry) TeacherTrackingStats(teacherID int64) []SessionStats {
	r.mu.RLock()
	sessionIDs := r.teacherToSessions[teacherID]
	ids := make([]int64, 0, len(sessionIDs))
	for id := range sessionIDs {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	out := make([]SessionStats, 0, len(ids))
	for _, id := range ids {
		if stats, ok := r.SessionTrackingStats(id); ok {
			out = append(out, stats)
		}
	}
	return out
}

// TrackingStats is a process-wide snapshot for the trackingStats() HTTP
// contract.
type TrackingStats struct {
	LiveSessionTrackers int
	LiveRuleTrackers    int
}

// Stats returns a process-wide snapshot of live tracker counts.
func (r *Registry) Stats() TrackingStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return TrackingStats{
		LiveSessionTrackers: len(r.sessionTrackers),
		LiveRuleTrackers:    len(r.ruleTrackers),
	}
}
