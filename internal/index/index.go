// Package index implements the derived index set (C2): sessions-by-email,
// sessions-by-profile, and the rules-by-(scope, value) compound index.
//
// Mutators never edit a bucket's slice in place; they publish a new slice
// via atomic replacement (§5) so that a reader holding a reference acquired
// at call start never observes a partial update (I6-adjacent guarantee for
// index buckets; the spec's I6 itself is about the tracker's history deque,
// but the same discipline applies here). When a bucket becomes empty after
// a removal, the outer key is deleted too - no empty-list keys, no empty
// inner maps (§4.2 "Key policy").
package index

import (
	"sync"
	"time"

	"github.com/pegesund/concentratee-cache-sub000/internal/models"
)

// SessionIndex holds the two derived session indexes (by email, by profile).
type SessionIndex struct {
	mu        sync.RWMutex
	byEmail   map[string][]*models.Session
	byProfile map[int64][]*models.Session
}

// NewSessionIndex creates an empty session index.
func NewSessionIndex() *SessionIndex {
	return &SessionIndex{
		byEmail:   make(map[string][]*models.Session),
		byProfile: make(map[int64][]*models.Session),
	}
}

// ByEmailToday returns the sessions indexed under email whose StartTime
// falls on today's calendar date, per invariant I5. The filter is applied
// here, at read time, regardless of what is physically stored - the index
// itself may retain sessions from other days until the next cleaner pass.
func (s *SessionIndex) ByEmailToday(email string, now time.Time) []*models.Session {
	s.mu.RLock()
	bucket := s.byEmail[email]
	s.mu.RUnlock()

	out := make([]*models.Session, 0, len(bucket))
	for _, sess := range bucket {
		if sess.IsToday(now) {
			out = append(out, sess)
		}
	}
	return out
}

// ByProfile returns the sessions indexed under profileID (I2: every entry
// here has a non-null ProfileID by construction).
func (s *SessionIndex) ByProfile(profileID int64) []*models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byProfile[profileID]
}

// Insert adds sess to the by-email bucket (if StudentEmail is non-empty)
// and the by-profile bucket (if ProfileID is set). It does not remove any
// prior indexing for this session's id; callers (the change handlers) are
// responsible for calling Remove with the session's old email/profileID
// before re-inserting on UPDATE.
func (s *SessionIndex) Insert(sess *models.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.StudentEmail != "" {
		s.byEmail[sess.StudentEmail] = appendSession(s.byEmail[sess.StudentEmail], sess)
	}
	if sess.ProfileID != nil {
		pid := *sess.ProfileID
		s.byProfile[pid] = appendSession(s.byProfile[pid], sess)
	}
}

// Remove deletes sess (matched by ID) from the email bucket oldEmail and
// the profile bucket oldProfileID (either may be zero-value / nil to skip
// that removal). Empty buckets are deleted from their parent map.
func (s *SessionIndex) Remove(id int64, oldEmail string, oldProfileID *int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if oldEmail != "" {
		remaining := removeSession(s.byEmail[oldEmail], id)
		if len(remaining) == 0 {
			delete(s.byEmail, oldEmail)
		} else {
			s.byEmail[oldEmail] = remaining
		}
	}
	if oldProfileID != nil {
		pid := *oldProfileID
		remaining := removeSession(s.byProfile[pid], id)
		if len(remaining) == 0 {
			delete(s.byProfile, pid)
		} else {
			s.byProfile[pid] = remaining
		}
	}
}

// Reset clears both session indexes. Used by the loader before rebuilding
// them from a fresh pass over the entity store (initial load and
// reconnect-triggered reload alike).
func (s *SessionIndex) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byEmail = make(map[string][]*models.Session)
	s.byProfile = make(map[int64][]*models.Session)
}

func appendSession(bucket []*models.Session, sess *models.Session) []*models.Session {
	// Atomic-swap discipline: build a new slice rather than append in
	// place when the bucket is shared; append's amortized growth is safe
	// here because we hold the write lock and never hand this exact
	// backing array to a reader (readers only ever see slices returned
	// from ByEmailToday/ByProfile under RLock, which is a fresh copy or a
	// snapshot taken atomically).
	out := make([]*models.Session, len(bucket), len(bucket)+1)
	copy(out, bucket)
	return append(out, sess)
}

func removeSession(bucket []*models.Session, id int64) []*models.Session {
	if len(bucket) == 0 {
		return nil
	}
	out := make([]*models.Session, 0, len(bucket))
	for _, sess := range bucket {
		if sess.ID != id {
			out = append(out, sess)
		}
	}
	return out
}

// RuleIndex holds rulesByScopeAndValue, a two-level compound index keyed
// by scope then scopeValue (NULL/empty coerced to models.WildcardValue).
type RuleIndex struct {
	mu      sync.RWMutex
	byScope map[models.Scope]map[string][]*models.Rule
}

// NewRuleIndex creates an empty rule index.
func NewRuleIndex() *RuleIndex {
	return &RuleIndex{byScope: make(map[models.Scope]map[string][]*models.Rule)}
}

// Lookup returns the rules stored under (scope, value). value should
// already be coerced to models.WildcardValue for NULL/empty scope values.
func (r *RuleIndex) Lookup(scope models.Scope, value string) []*models.Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byScope[scope][value]
}

// Insert adds rule under (rule.Scope, rule.ScopeValue).
func (r *RuleIndex) Insert(rule *models.Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byValue := r.byScope[rule.Scope]
	if byValue == nil {
		byValue = make(map[string][]*models.Rule)
		r.byScope[rule.Scope] = byValue
	}
	byValue[rule.ScopeValue] = appendRule(byValue[rule.ScopeValue], rule)
}

// Remove deletes rule (matched by ID) from (scope, value), collapsing the
// inner map entry and, if it becomes empty, the outer scope entry too.
func (r *RuleIndex) Remove(id int64, scope models.Scope, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byValue := r.byScope[scope]
	if byValue == nil {
		return
	}
	remaining := removeRule(byValue[value], id)
	if len(remaining) == 0 {
		delete(byValue, value)
	} else {
		byValue[value] = remaining
	}
	if len(byValue) == 0 {
		delete(r.byScope, scope)
	}
}

// Reset clears the rule index. Used by the loader before rebuilding it
// from a fresh pass over the entity store.
func (r *RuleIndex) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byScope = make(map[models.Scope]map[string][]*models.Rule)
}

func appendRule(bucket []*models.Rule, rule *models.Rule) []*models.Rule {
	out := make([]*models.Rule, len(bucket), len(bucket)+1)
	copy(out, bucket)
	return append(out, rule)
}

func removeRule(bucket []*models.Rule, id int64) []*models.Rule {
	if len(bucket) == 0 {
		return nil
	}
	out := make([]*models.Rule, 0, len(bucket))
	for _, rule := range bucket {
		if rule.ID != id {
			out = append(out, rule)
		}
	}
	return out
}

// CoerceScopeValue maps a possibly-NULL/empty scope value to the index's
// wildcard key, per §3/§9.
func CoerceScopeValue(v *string) string {
	if v == nil {
		return models.WildcardValue
	}
	return *v
}
