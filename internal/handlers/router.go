// Package handlers implements the change handlers (C5): total, idempotent
// per-entity apply logic dispatched off the change subscriber's delivery
// loop (C4). Each handler mutates the entity store (C1) and atomically
// updates the derived indexes (C2) per the index-consistency rules in
// spec.md §4.5.
package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/pegesund/concentratee-cache-sub000/internal/index"
	"github.com/pegesund/concentratee-cache-sub000/internal/loader"
	"github.com/pegesund/concentratee-cache-sub000/internal/notify"
	"github.com/pegesund/concentratee-cache-sub000/internal/obsmetrics"
	"github.com/pegesund/concentratee-cache-sub000/internal/store"
)

// Router implements notify.Dispatcher, routing a decoded Notification to
// the handler for its channel.
type Router struct {
	student *StudentHandler
	profile *ProfileHandler
	rule    *RuleHandler
	session *SessionHandler
}

// New builds a Router wired to the given store/indexes/loader.
func New(st *store.Store, sessions *index.SessionIndex, rules *index.RuleIndex, ld *loader.Loader) *Router {
	return &Router{
		student: &StudentHandler{store: st, sessions: sessions, loader: ld},
		profile: &ProfileHandler{store: st, loader: ld},
		rule:    &RuleHandler{store: st, rules: rules, loader: ld},
		session: &SessionHandler{store: st, sessions: sessions, loader: ld},
	}
}

// Dispatch routes n to the handler for its channel and records handler
// latency metrics.
func (r *Router) Dispatch(ctx context.Context, n notify.Notification) error {
	start := time.Now()
	var err error
	var entity string

	switch n.Channel {
	case "students_changes":
		entity = "student"
		err = r.student.Apply(ctx, n)
	case "profiles_changes":
		entity = "profile"
		err = r.profile.Apply(ctx, n)
	case "rules_changes":
		entity = "rule"
		err = r.rule.Apply(ctx, n)
	case "sessions_changes":
		entity = "session"
		err = r.session.Apply(ctx, n)
	default:
		return fmt.Errorf("unknown channel %q", n.Channel)
	}

	obsmetrics.RecordHandlerDuration(entity, string(n.Operation), float64(time.Since(start).Milliseconds()))
	return err
}
