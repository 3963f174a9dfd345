package handlers

import (
	"context"

	"github.com/pegesund/concentratee-cache-sub000/internal/loader"
	"github.com/pegesund/concentratee-cache-sub000/internal/notify"
	"github.com/pegesund/concentratee-cache-sub000/internal/obslog"
	"github.com/pegesund/concentratee-cache-sub000/internal/store"
)

// ProfileHandler applies profiles_changes notifications (§4.5). RELOAD and
// RELOAD_ALL are triggered by category/subcategory/URL hierarchy changes
// that don't carry a profiles-table id of their own.
type ProfileHandler struct {
	store  *store.Store
	loader *loader.Loader
}

func (h *ProfileHandler) Apply(ctx context.Context, n notify.Notification) error {
	switch n.Operation {
	case notify.OpDelete:
		h.store.Profiles.Remove(n.ID)
		return nil
	case notify.OpInsert, notify.OpUpdate:
		return h.refetch(ctx, n.ID)
	case notify.OpReload:
		return h.reloadOne(ctx, n.ID)
	case notify.OpReloadAll:
		return h.reloadAll(ctx)
	default:
		return nil
	}
}

// refetch re-fetches id unconditionally and writes the result (INSERT and
// UPDATE both mean the row may be new or changed, so there is no presence
// check to gate on).
func (h *ProfileHandler) refetch(ctx context.Context, id int64) error {
	p, err := h.loader.FetchProfileByID(ctx, id)
	if err != nil {
		return err
	}
	if p == nil {
		h.store.Profiles.Remove(id) // unknown reference: clear any stale entry
		return nil
	}
	h.store.Profiles.Put(id, p)
	return nil
}

// reloadOne handles a RELOAD notification, which only asks the cache to
// refresh a profile it already holds - a RELOAD for an id not currently
// cached is a no-op (§4.5) and must not insert one.
func (h *ProfileHandler) reloadOne(ctx context.Context, id int64) error {
	if _, ok := h.store.Profiles.Get(id); !ok {
		return nil
	}
	return h.refetch(ctx, id)
}

// reloadAll re-fetches every profile currently known to the cache. This
// is the expensive path §4.5 warns is "triggered only by rare
// hierarchy-table changes" - it does not discover brand-new profile ids,
// which arrive via their own INSERT notification.
func (h *ProfileHandler) reloadAll(ctx context.Context) error {
	ids := h.store.Profiles.Snapshot()
	obslog.Info("profile RELOAD_ALL", obslog.Int("profile_count", len(ids)))
	for id := range ids {
		if err := h.refetch(ctx, id); err != nil {
			obslog.Error("RELOAD_ALL profile refetch failed", err, obslog.EntityRef("profile", id))
		}
	}
	return nil
}
