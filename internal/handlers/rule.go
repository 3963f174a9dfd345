package handlers

import (
	"context"

	"github.com/pegesund/concentratee-cache-sub000/internal/index"
	"github.com/pegesund/concentratee-cache-sub000/internal/loader"
	"github.com/pegesund/concentratee-cache-sub000/internal/notify"
	"github.com/pegesund/concentratee-cache-sub000/internal/store"
)

// RuleHandler applies rules_changes notifications (§4.5).
type RuleHandler struct {
	store  *store.Store
	rules  *index.RuleIndex
	loader *loader.Loader
}

func (h *RuleHandler) Apply(ctx context.Context, n notify.Notification) error {
	switch n.Operation {
	case notify.OpDelete:
		return h.applyDelete(n.ID)
	case notify.OpInsert, notify.OpUpdate:
		return h.applyUpsert(ctx, n.ID)
	case notify.OpReload, notify.OpReloadAll:
		return nil // not part of the rules_changes contract (§4.4)
	default:
		return nil
	}
}

func (h *RuleHandler) applyDelete(id int64) error {
	old, ok := h.store.Rules.Remove(id)
	if !ok {
		return nil // DELETE for an already-absent id is a no-op
	}
	h.rules.Remove(id, old.Scope, old.ScopeValue)
	return nil
}

func (h *RuleHandler) applyUpsert(ctx context.Context, id int64) error {
	if old, ok := h.store.Rules.Remove(id); ok {
		h.rules.Remove(id, old.Scope, old.ScopeValue)
	}

	r, err := h.loader.FetchRuleByID(ctx, id)
	if err != nil {
		return err
	}
	if r == nil {
		// UnknownReference, or the updated window no longer intersects the
		// forward window - either way, nothing further to index.
		return nil
	}
	h.store.Rules.Put(id, r)
	h.rules.Insert(r)
	return nil
}
