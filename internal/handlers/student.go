package handlers

import (
	"context"

	"github.com/pegesund/concentratee-cache-sub000/internal/index"
	"github.com/pegesund/concentratee-cache-sub000/internal/loader"
	"github.com/pegesund/concentratee-cache-sub000/internal/models"
	"github.com/pegesund/concentratee-cache-sub000/internal/notify"
	"github.com/pegesund/concentratee-cache-sub000/internal/store"
)

// StudentHandler applies students_changes notifications (§4.5).
type StudentHandler struct {
	store    *store.Store
	sessions *index.SessionIndex
	loader   *loader.Loader
}

// Apply is total and idempotent: DELETE clears studentEmail on every
// affected session and rebuilds its email bucket; INSERT/UPDATE patches
// studentEmail and rebuilds only the old and new buckets.
func (h *StudentHandler) Apply(ctx context.Context, n notify.Notification) error {
	switch n.Operation {
	case notify.OpDelete:
		return h.applyDelete(n.ID)
	case notify.OpInsert, notify.OpUpdate:
		return h.applyUpsert(ctx, n.ID)
	case notify.OpReload, notify.OpReloadAll:
		// Students aren't subject to RELOAD/RELOAD_ALL in §4.4's channel
		// table (those apply to profiles_changes only); treat as a no-op
		// rather than guessing at undocumented semantics.
		return nil
	default:
		return nil
	}
}

func (h *StudentHandler) applyDelete(id int64) error {
	if _, ok := h.store.Students.Remove(id); !ok {
		return nil // RELOAD/DELETE for an absent id is a no-op
	}
	h.reindexSessionsForStudent(id, "")
	return nil
}

func (h *StudentHandler) applyUpsert(ctx context.Context, id int64) error {
	s, err := h.loader.FetchStudentByID(ctx, id)
	if err != nil {
		return err
	}
	if s == nil {
		// UnknownReference on UPDATE is treated as an INSERT; since there
		// is nothing to insert (the row is gone), remove any stale entry.
		h.applyDelete(id)
		return nil
	}
	h.store.Students.Put(id, s)
	h.reindexSessionsForStudent(id, s.Email)
	return nil
}

// reindexSessionsForStudent walks every session currently keyed by
// studentId == id, patches its StudentEmail to newEmail, and rebuilds
// only the old and new email buckets (§4.5's "rebuild only the old and
// new email buckets" for UPDATE; DELETE rebuilds just the one old
// bucket since newEmail is "").
func (h *StudentHandler) reindexSessionsForStudent(id int64, newEmail string) {
	var affected []*models.Session
	h.store.Sessions.Each(func(_ int64, s *models.Session) {
		if s.StudentID == id {
			affected = append(affected, s)
		}
	})

	for _, s := range affected {
		oldEmail := s.StudentEmail
		if oldEmail == newEmail {
			continue
		}
		h.sessions.Remove(s.ID, oldEmail, s.ProfileID)
		s.StudentEmail = newEmail
		h.store.Sessions.Put(s.ID, s)
		h.sessions.Insert(s)
	}
}
