package index

import (
	"testing"
	"time"

	"github.com/pegesund/concentratee-cache-sub000/internal/models"
)

func int64ptr(v int64) *int64 { return &v }

func TestSessionIndexInsertByEmailToday(t *testing.T) {
	idx := NewSessionIndex()
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)

	today := &models.Session{ID: 1, StudentEmail: "a@school.test", ProfileID: int64ptr(10), StartTime: now.Add(-time.Hour), EndTime: now.Add(time.Hour)}
	yesterday := &models.Session{ID: 2, StudentEmail: "a@school.test", ProfileID: int64ptr(11), StartTime: now.Add(-25 * time.Hour), EndTime: now.Add(-24 * time.Hour)}

	idx.Insert(today)
	idx.Insert(yesterday)

	got := idx.ByEmailToday("a@school.test", now)
	if len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("ByEmailToday returned %+v, want only session 1", got)
	}

	byProfile := idx.ByProfile(10)
	if len(byProfile) != 1 || byProfile[0].ID != 1 {
		t.Fatalf("ByProfile(10) = %+v, want [session 1]", byProfile)
	}
}

func TestSessionIndexRemoveDeletesEmptyBuckets(t *testing.T) {
	idx := NewSessionIndex()
	sess := &models.Session{ID: 1, StudentEmail: "a@school.test", ProfileID: int64ptr(10)}
	idx.Insert(sess)

	idx.Remove(1, "a@school.test", int64ptr(10))

	if got := idx.ByEmailToday("a@school.test", time.Now()); len(got) != 0 {
		t.Fatalf("expected empty email bucket after Remove, got %+v", got)
	}
	if got := idx.ByProfile(10); len(got) != 0 {
		t.Fatalf("expected empty profile bucket after Remove, got %+v", got)
	}
	idx.mu.RLock()
	_, hasEmail := idx.byEmail["a@school.test"]
	_, hasProfile := idx.byProfile[10]
	idx.mu.RUnlock()
	if hasEmail || hasProfile {
		t.Fatalf("expected empty buckets to be deleted from their parent maps")
	}
}

func TestSessionIndexReset(t *testing.T) {
	idx := NewSessionIndex()
	idx.Insert(&models.Session{ID: 1, StudentEmail: "a@school.test"})
	idx.Reset()
	if got := idx.ByEmailToday("a@school.test", time.Now()); len(got) != 0 {
		t.Fatalf("Reset left stale entries: %+v", got)
	}
}

func TestRuleIndexLookupWithWildcardCoercion(t *testing.T) {
	idx := NewRuleIndex()
	rule := &models.Rule{ID: 1, Scope: models.ScopeSchool, ScopeValue: CoerceScopeValue(nil), ProfileID: 99}
	idx.Insert(rule)

	got := idx.Lookup(models.ScopeSchool, models.WildcardValue)
	if len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("Lookup(School, wildcard) = %+v, want [rule 1]", got)
	}

	idx.Remove(1, models.ScopeSchool, models.WildcardValue)
	if got := idx.Lookup(models.ScopeSchool, models.WildcardValue); len(got) != 0 {
		t.Fatalf("expected empty lookup after Remove, got %+v", got)
	}
	idx.mu.RLock()
	_, stillPresent := idx.byScope[models.ScopeSchool]
	idx.mu.RUnlock()
	if stillPresent {
		t.Fatalf("expected empty scope entry to be collapsed after last removal")
	}
}

func TestCoerceScopeValue(t *testing.T) {
	if got := CoerceScopeValue(nil); got != models.WildcardValue {
		t.Fatalf("CoerceScopeValue(nil) = %q, want wildcard", got)
	}
	v := "123"
	if got := CoerceScopeValue(&v); got != "123" {
		t.Fatalf("CoerceScopeValue(&v) = %q, want %q", got, v)
	}
}
