package handlers

import (
	"context"

	"github.com/pegesund/concentratee-cache-sub000/internal/index"
	"github.com/pegesund/concentratee-cache-sub000/internal/loader"
	"github.com/pegesund/concentratee-cache-sub000/internal/notify"
	"github.com/pegesund/concentratee-cache-sub000/internal/store"
)

// SessionHandler applies sessions_changes notifications (§4.5).
type SessionHandler struct {
	store    *store.Store
	sessions *index.SessionIndex
	loader   *loader.Loader
}

func (h *SessionHandler) Apply(ctx context.Context, n notify.Notification) error {
	switch n.Operation {
	case notify.OpDelete:
		return h.applyDelete(n.ID)
	case notify.OpInsert, notify.OpUpdate:
		return h.applyUpsert(ctx, n.ID)
	case notify.OpReload, notify.OpReloadAll:
		return nil // not part of the sessions_changes contract (§4.4)
	default:
		return nil
	}
}

func (h *SessionHandler) applyDelete(id int64) error {
	old, ok := h.store.Sessions.Remove(id)
	if !ok {
		return nil
	}
	h.sessions.Remove(id, old.StudentEmail, old.ProfileID)
	return nil
}

func (h *SessionHandler) applyUpsert(ctx context.Context, id int64) error {
	if old, ok := h.store.Sessions.Remove(id); ok {
		h.sessions.Remove(id, old.StudentEmail, old.ProfileID)
	}

	s, err := h.loader.FetchSessionByID(ctx, id)
	if err != nil {
		return err
	}
	if s == nil {
		// UnknownReference, or the session fell out of the forward window.
		return nil
	}
	// s.StudentEmail already carries the result of the students join in
	// FetchSessionByID (empty if studentId is unknown), satisfying the
	// "UPDATE referencing an unknown studentId leaves studentEmail null
	// but keeps the session indexed by profile" tie-break: Insert only
	// populates the email bucket when StudentEmail != "".
	h.store.Sessions.Put(id, s)
	h.sessions.Insert(s)
	return nil
}
