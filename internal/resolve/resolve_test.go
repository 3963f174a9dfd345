package resolve

import (
	"context"
	"testing"
	"time"

	"github.com/pegesund/concentratee-cache-sub000/internal/index"
	"github.com/pegesund/concentratee-cache-sub000/internal/models"
	"github.com/pegesund/concentratee-cache-sub000/internal/store"
	"github.com/pegesund/concentratee-cache-sub000/internal/tracker"
)

func int64p(v int64) *int64 { return &v }
func strp(v string) *string { return &v }

type noopPersister struct{}

func (noopPersister) PersistSessionAggregate(ctx context.Context, sessionID int64, isActive bool, percentage float64) error {
	return nil
}

func newFixture(now time.Time) (*store.Store, *index.SessionIndex, *index.RuleIndex, *tracker.Registry) {
	st := store.New()
	sessions := index.NewSessionIndex()
	rules := index.NewRuleIndex()
	trackers := tracker.NewRegistry(0.8, 30*time.Minute, noopPersister{}, false)
	return st, sessions, rules, trackers
}

// A student with an active session today resolves that session's
// profile, plus any active rule whose scope matches the student/school/
// grade/class, deduplicated.
func TestActiveProfilesSessionAndRuleUnion(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	st, sessions, rules, trackers := newFixture(now)

	student := &models.Student{ID: 1, Email: "kid@school.test", SchoolID: 5, Grade: strp("7")}
	st.Students.Put(1, student)

	sess := &models.Session{
		ID: 10, StudentID: 1, StudentEmail: "kid@school.test", SchoolID: 5,
		ProfileID: int64p(100), StartTime: now.Add(-time.Hour), EndTime: now.Add(time.Hour),
	}
	st.Sessions.Put(10, sess)
	sessions.Insert(sess)

	schoolRule := &models.Rule{ID: 1, Scope: models.ScopeSchool, ScopeValue: "5", ProfileID: 200, StartTime: now.Add(-time.Hour), EndTime: now.Add(time.Hour)}
	rules.Insert(schoolRule)

	r := New(st, sessions, rules, trackers).WithClock(func() time.Time { return now })

	got := r.ActiveProfiles(context.Background(), "kid@school.test", false)
	want := map[int64]bool{100: true, 200: true}
	if len(got) != len(want) {
		t.Fatalf("ActiveProfiles = %v, want profiles 100 and 200", got)
	}
	for _, id := range got {
		if !want[id] {
			t.Errorf("unexpected profile id %d in result", id)
		}
	}
}

// An unknown email resolves to an empty profile list, not an error.
func TestActiveProfilesUnknownEmail(t *testing.T) {
	now := time.Now()
	st, sessions, rules, trackers := newFixture(now)
	r := New(st, sessions, rules, trackers)

	got := r.ActiveProfiles(context.Background(), "nobody@school.test", true)
	if len(got) != 0 {
		t.Fatalf("ActiveProfiles for unknown email = %v, want empty", got)
	}
}

// Heartbeat recording is gated on any resolved profile having
// TrackingEnabled set; with track=true but no tracked profile, no
// tracker should be created.
func TestActiveProfilesTrackGatedByTrackingEnabled(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	st, sessions, rules, trackers := newFixture(now)

	student := &models.Student{ID: 1, Email: "kid@school.test", SchoolID: 5}
	st.Students.Put(1, student)
	st.Profiles.Put(100, &models.Profile{ID: 100, TrackingEnabled: false})

	sess := &models.Session{
		ID: 10, StudentID: 1, StudentEmail: "kid@school.test", SchoolID: 5,
		ProfileID: int64p(100), StartTime: now.Add(-time.Hour), EndTime: now.Add(time.Hour),
	}
	st.Sessions.Put(10, sess)
	sessions.Insert(sess)

	r := New(st, sessions, rules, trackers).WithClock(func() time.Time { return now })
	r.ActiveProfiles(context.Background(), "kid@school.test", true)

	if stats := trackers.Stats(); stats.LiveSessionTrackers != 0 {
		t.Fatalf("expected no tracker created when no resolved profile has TrackingEnabled, got %d", stats.LiveSessionTrackers)
	}

	// Now flip TrackingEnabled on and confirm the heartbeat is recorded.
	st.Profiles.Put(100, &models.Profile{ID: 100, TrackingEnabled: true})
	r.ActiveProfiles(context.Background(), "kid@school.test", true)
	if stats := trackers.Stats(); stats.LiveSessionTrackers != 1 {
		t.Fatalf("expected 1 live session tracker once TrackingEnabled, got %d", stats.LiveSessionTrackers)
	}
}

// A session that started on an earlier day is excluded from S_active even
// though its time window still covers now (I5).
func TestActiveProfilesSessionNotTodayExcluded(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	st, sessions, rules, trackers := newFixture(now)

	student := &models.Student{ID: 1, Email: "kid@school.test", SchoolID: 5}
	st.Students.Put(1, student)

	yesterday := &models.Session{
		ID: 10, StudentID: 1, StudentEmail: "kid@school.test", SchoolID: 5,
		ProfileID: int64p(100), StartTime: now.Add(-25 * time.Hour), EndTime: now.Add(time.Hour),
	}
	st.Sessions.Put(10, yesterday)
	sessions.Insert(yesterday)

	r := New(st, sessions, rules, trackers).WithClock(func() time.Time { return now })
	got := r.ActiveProfiles(context.Background(), "kid@school.test", false)
	if len(got) != 0 {
		t.Fatalf("expected no active profiles from yesterday's session, got %v", got)
	}
}
