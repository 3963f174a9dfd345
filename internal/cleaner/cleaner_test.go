package cleaner

import (
	"testing"
	"time"

	"github.com/pegesund/concentratee-cache-sub000/internal/index"
	"github.com/pegesund/concentratee-cache-sub000/internal/models"
	"github.com/pegesund/concentratee-cache-sub000/internal/store"
)

func int64p(v int64) *int64 { return &v }

func TestSweepSessionsRemovesOnlyPastDayAndNotYearLong(t *testing.T) {
	st := store.New()
	sessions := index.NewSessionIndex()
	rules := index.NewRuleIndex()
	now := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)

	stale := &models.Session{ID: 1, StudentEmail: "a@school.test", ProfileID: int64p(1), StartTime: now.Add(-48 * time.Hour), EndTime: now.Add(-47 * time.Hour)}
	today := &models.Session{ID: 2, StudentEmail: "b@school.test", ProfileID: int64p(2), StartTime: now.Add(-time.Hour), EndTime: now.Add(time.Hour)}
	yearLong := &models.Session{ID: 3, StudentEmail: "c@school.test", ProfileID: int64p(3), StartTime: now.Add(-30 * 24 * time.Hour), EndTime: now.Add(300 * 24 * time.Hour)}

	for _, s := range []*models.Session{stale, today, yearLong} {
		st.Sessions.Put(s.ID, s)
		sessions.Insert(s)
	}

	c := New(st, sessions, rules, time.Hour, 0).WithClock(func() time.Time { return now })
	removed := c.sweepSessions(now)

	if removed != 1 {
		t.Fatalf("sweepSessions removed %d, want 1", removed)
	}
	if _, ok := st.Sessions.Get(1); ok {
		t.Fatalf("stale session 1 should have been removed")
	}
	if _, ok := st.Sessions.Get(2); !ok {
		t.Fatalf("today's session 2 should survive")
	}
	if _, ok := st.Sessions.Get(3); !ok {
		t.Fatalf("year-long session 3 should survive (past start, future end)")
	}
	if got := sessions.ByEmailToday("a@school.test", now); len(got) != 0 {
		t.Fatalf("expected removed session's index entry gone, got %+v", got)
	}
}

func TestSweepRulesRemovesExpiredOnly(t *testing.T) {
	st := store.New()
	sessions := index.NewSessionIndex()
	rules := index.NewRuleIndex()
	now := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)

	expired := &models.Rule{ID: 1, Scope: models.ScopeSchool, ScopeValue: "5", ProfileID: 1, StartTime: now.Add(-time.Hour), EndTime: now.Add(-time.Minute)}
	active := &models.Rule{ID: 2, Scope: models.ScopeSchool, ScopeValue: "5", ProfileID: 2, StartTime: now.Add(-time.Hour), EndTime: now.Add(time.Hour)}

	for _, r := range []*models.Rule{expired, active} {
		st.Rules.Put(r.ID, r)
		rules.Insert(r)
	}

	c := New(st, sessions, rules, time.Hour, 0).WithClock(func() time.Time { return now })
	removed := c.sweepRules(now)

	if removed != 1 {
		t.Fatalf("sweepRules removed %d, want 1", removed)
	}
	if _, ok := st.Rules.Get(1); ok {
		t.Fatalf("expired rule 1 should have been removed")
	}
	if _, ok := st.Rules.Get(2); !ok {
		t.Fatalf("active rule 2 should survive")
	}
	got := rules.Lookup(models.ScopeSchool, "5")
	if len(got) != 1 || got[0].ID != 2 {
		t.Fatalf("Lookup after sweep = %+v, want only rule 2", got)
	}
}

func TestSweepRemovesBothKinds(t *testing.T) {
	st := store.New()
	sessions := index.NewSessionIndex()
	rules := index.NewRuleIndex()
	now := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)

	stale := &models.Session{ID: 1, StudentEmail: "a@school.test", StartTime: now.Add(-48 * time.Hour), EndTime: now.Add(-47 * time.Hour)}
	st.Sessions.Put(1, stale)
	sessions.Insert(stale)

	expired := &models.Rule{ID: 1, Scope: models.ScopeSchool, ScopeValue: "5", EndTime: now.Add(-time.Minute)}
	st.Rules.Put(1, expired)
	rules.Insert(expired)

	c := New(st, sessions, rules, time.Hour, 0).WithClock(func() time.Time { return now })
	c.Sweep() // exercises the combined synchronous path end-to-end

	if st.Sessions.Len() != 0 || st.Rules.Len() != 0 {
		t.Fatalf("expected both stores empty after Sweep, got sessions=%d rules=%d", st.Sessions.Len(), st.Rules.Len())
	}
}

func TestTriggerNowCoalescesPendingRequests(t *testing.T) {
	st := store.New()
	c := New(st, index.NewSessionIndex(), index.NewRuleIndex(), time.Hour, 0)

	c.TriggerNow()
	c.TriggerNow() // must not block even though the buffered channel already holds one

	select {
	case <-c.trigger:
	default:
		t.Fatalf("expected a pending trigger after TriggerNow")
	}
}
