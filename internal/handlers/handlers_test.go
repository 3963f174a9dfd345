package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/pegesund/concentratee-cache-sub000/internal/index"
	"github.com/pegesund/concentratee-cache-sub000/internal/models"
	"github.com/pegesund/concentratee-cache-sub000/internal/notify"
	"github.com/pegesund/concentratee-cache-sub000/internal/store"
)

func int64p(v int64) *int64 { return &v }

// None of these tests exercise applyUpsert: that path calls through to a
// concrete *loader.Loader backed by a live Postgres pool, so it has no
// unit-testable seam here - only the DB-independent delete/no-op paths and
// the router's channel-routing logic are covered.

func TestStudentHandlerApplyDeleteReindexesSessions(t *testing.T) {
	st := store.New()
	sessions := index.NewSessionIndex()
	h := &StudentHandler{store: st, sessions: sessions}

	st.Students.Put(1, &models.Student{ID: 1, Email: "a@school.test"})
	sess := &models.Session{ID: 10, StudentID: 1, StudentEmail: "a@school.test", ProfileID: int64p(5)}
	st.Sessions.Put(10, sess)
	sessions.Insert(sess)

	if err := h.Apply(context.Background(), notify.Notification{Operation: notify.OpDelete, ID: 1}); err != nil {
		t.Fatalf("Apply(DELETE) returned error: %v", err)
	}

	if _, ok := st.Students.Get(1); ok {
		t.Fatalf("expected student removed from store")
	}
	if got := sessions.ByEmailToday("a@school.test", sess.StartTime); len(got) != 0 {
		t.Fatalf("expected session's old email bucket cleared, got %+v", got)
	}
	updated, _ := st.Sessions.Get(10)
	if updated.StudentEmail != "" {
		t.Fatalf("expected session's StudentEmail cleared to \"\", got %q", updated.StudentEmail)
	}
}

func TestStudentHandlerApplyDeleteAbsentIsNoOp(t *testing.T) {
	h := &StudentHandler{store: store.New(), sessions: index.NewSessionIndex()}
	if err := h.Apply(context.Background(), notify.Notification{Operation: notify.OpDelete, ID: 999}); err != nil {
		t.Fatalf("Apply(DELETE) on absent id returned error: %v", err)
	}
}

func TestRuleHandlerApplyDelete(t *testing.T) {
	st := store.New()
	rules := index.NewRuleIndex()
	h := &RuleHandler{store: st, rules: rules}

	rule := &models.Rule{ID: 1, Scope: models.ScopeSchool, ScopeValue: "5", ProfileID: 9}
	st.Rules.Put(1, rule)
	rules.Insert(rule)

	if err := h.Apply(context.Background(), notify.Notification{Operation: notify.OpDelete, ID: 1}); err != nil {
		t.Fatalf("Apply(DELETE) returned error: %v", err)
	}
	if _, ok := st.Rules.Get(1); ok {
		t.Fatalf("expected rule removed from store")
	}
	if got := rules.Lookup(models.ScopeSchool, "5"); len(got) != 0 {
		t.Fatalf("expected rule index entry removed, got %+v", got)
	}
}

func TestSessionHandlerApplyDelete(t *testing.T) {
	st := store.New()
	sessions := index.NewSessionIndex()
	h := &SessionHandler{store: st, sessions: sessions}

	sess := &models.Session{ID: 10, StudentEmail: "a@school.test", ProfileID: int64p(5)}
	st.Sessions.Put(10, sess)
	sessions.Insert(sess)

	if err := h.Apply(context.Background(), notify.Notification{Operation: notify.OpDelete, ID: 10}); err != nil {
		t.Fatalf("Apply(DELETE) returned error: %v", err)
	}
	if _, ok := st.Sessions.Get(10); ok {
		t.Fatalf("expected session removed from store")
	}
	if got := sessions.ByProfile(5); len(got) != 0 {
		t.Fatalf("expected profile index entry removed, got %+v", got)
	}
}

func TestProfileHandlerApplyDelete(t *testing.T) {
	st := store.New()
	h := &ProfileHandler{store: st}
	st.Profiles.Put(1, &models.Profile{ID: 1})

	if err := h.Apply(context.Background(), notify.Notification{Operation: notify.OpDelete, ID: 1}); err != nil {
		t.Fatalf("Apply(DELETE) returned error: %v", err)
	}
	if _, ok := st.Profiles.Get(1); ok {
		t.Fatalf("expected profile removed from store")
	}
}

// RELOAD for a profile id the cache doesn't already hold must be a
// genuine no-op - it must not call through to the loader or insert the
// profile, unlike INSERT/UPDATE which always fetch-and-put.
func TestProfileHandlerReloadAbsentIDIsNoOp(t *testing.T) {
	h := &ProfileHandler{store: store.New()} // no loader: a call to refetch would nil-pointer panic
	if err := h.Apply(context.Background(), notify.Notification{Operation: notify.OpReload, ID: 404}); err != nil {
		t.Fatalf("Apply(RELOAD) on an uncached id returned error: %v", err)
	}
	if _, ok := h.store.Profiles.Get(404); ok {
		t.Fatalf("RELOAD for an absent id must not insert a profile")
	}
}

func TestRouterDispatchRoutesByChannel(t *testing.T) {
	st := store.New()
	sessions := index.NewSessionIndex()
	rules := index.NewRuleIndex()
	r := New(st, sessions, rules, nil)

	st.Students.Put(1, &models.Student{ID: 1})
	if err := r.Dispatch(context.Background(), notify.Notification{Channel: "students_changes", Operation: notify.OpDelete, ID: 1}); err != nil {
		t.Fatalf("Dispatch(students_changes) returned error: %v", err)
	}
	if _, ok := st.Students.Get(1); ok {
		t.Fatalf("expected student removed via router dispatch")
	}

	st.Rules.Put(2, &models.Rule{ID: 2, Scope: models.ScopeSchool, ScopeValue: "5"})
	rules.Insert(&models.Rule{ID: 2, Scope: models.ScopeSchool, ScopeValue: "5"})
	if err := r.Dispatch(context.Background(), notify.Notification{Channel: "rules_changes", Operation: notify.OpDelete, ID: 2}); err != nil {
		t.Fatalf("Dispatch(rules_changes) returned error: %v", err)
	}
	if _, ok := st.Rules.Get(2); ok {
		t.Fatalf("expected rule removed via router dispatch")
	}
}

func TestRouterDispatchUnknownChannel(t *testing.T) {
	r := New(store.New(), index.NewSessionIndex(), index.NewRuleIndex(), nil)
	err := r.Dispatch(context.Background(), notify.Notification{Channel: "bogus_changes", Operation: notify.OpDelete, ID: 1})
	if err == nil {
		t.Fatalf("expected an error for an unknown channel")
	}
	var target error
	_ = errors.As(err, &target) // just confirm it's a plain error, not a panic
}
