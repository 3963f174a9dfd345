// Package cleaner implements the scheduled pruning component (C7):
// removing past-day sessions and expired rules on a ticker, with a
// startup delay, an on-demand trigger (TriggerNow), and a synchronous
// Sweep that the HTTP admin surface calls directly.
package cleaner

import (
	"context"
	"time"

	"github.com/pegesund/concentratee-cache-sub000/internal/index"
	"github.com/pegesund/concentratee-cache-sub000/internal/models"
	"github.com/pegesund/concentratee-cache-sub000/internal/obslog"
	"github.com/pegesund/concentratee-cache-sub000/internal/obsmetrics"
	"github.com/pegesund/concentratee-cache-sub000/internal/store"
)

// Cleaner removes Sessions whose StartTime is before today (preserving
// year-long sessions still active by EndTime) and Rules whose EndTime has
// passed, maintaining both the primary store and derived indexes.
type Cleaner struct {
	store    *store.Store
	sessions *index.SessionIndex
	rules    *index.RuleIndex
	interval time.Duration
	delay    time.Duration
	now      func() time.Time

	trigger chan struct{}
}

// New creates a Cleaner. interval/delay come from internal/config's
// CleanupInterval/StartupCleanupDelay (defaults 6h/1h per §6).
func New(st *store.Store, sessions *index.SessionIndex, rules *index.RuleIndex, interval, delay time.Duration) *Cleaner {
	return &Cleaner{
		store:    st,
		sessions: sessions,
		rules:    rules,
		interval: interval,
		delay:    delay,
		now:      time.Now,
		trigger:  make(chan struct{}, 1),
	}
}

// Run blocks, ticking every interval after the initial delay, until ctx
// is canceled. TriggerNow can be called concurrently to force an
// out-of-band pass; a trigger made during the initial delay is served
// once the delay has passed.
func (c *Cleaner) Run(ctx context.Context) {
	select {
	case <-time.After(c.delay):
	case <-ctx.Done():
		return
	}
	c.Sweep()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		case <-c.trigger:
			c.Sweep()
		}
	}
}

// TriggerNow requests an out-of-band sweep at the next opportunity. It
// never blocks: if a trigger is already pending, the request is coalesced.
func (c *Cleaner) TriggerNow() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// Sweep removes expired sessions and rules synchronously. Safe to call
// directly (e.g. from tests) without going through Run/TriggerNow.
func (c *Cleaner) Sweep() {
	now := c.now()

	removedSessions := c.sweepSessions(now)
	removedRules := c.sweepRules(now)

	obsmetrics.RecordCleanerRemoval("session", removedSessions)
	obsmetrics.RecordCleanerRemoval("rule", removedRules)
	obslog.Info("cleaner sweep completed",
		obslog.Int("sessions_removed", removedSessions),
		obslog.Int("rules_removed", removedRules))
}

// sweepSessions removes sessions whose StartTime.date < today, per §4.7.
// A session with a past start but a still-future end (a "year-long"
// session) is explicitly preserved.
func (c *Cleaner) sweepSessions(now time.Time) int {
	today := dayStart(now)
	var toRemove []*models.Session
	c.store.Sessions.Each(func(_ int64, s *models.Session) {
		if !s.StartTime.Before(today) {
			return // starts today or later, not stale
		}
		if s.EndTime.After(now) {
			return // year-long session: past start, future end - preserve
		}
		toRemove = append(toRemove, s)
	})

	for _, s := range toRemove {
		c.store.Sessions.Remove(s.ID)
		c.sessions.Remove(s.ID, s.StudentEmail, s.ProfileID)
	}
	return len(toRemove)
}

// sweepRules removes rules whose EndTime has passed, per §4.7.
func (c *Cleaner) sweepRules(now time.Time) int {
	var toRemove []*models.Rule
	c.store.Rules.Each(func(_ int64, r *models.Rule) {
		if r.EndTime.Before(now) {
			toRemove = append(toRemove, r)
		}
	})

	for _, r := range toRemove {
		c.store.Rules.Remove(r.ID)
		c.rules.Remove(r.ID, r.Scope, r.ScopeValue)
	}
	return len(toRemove)
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// WithClock overrides the cleaner's notion of "now" (used by tests).
func (c *Cleaner) WithClock(clock func() time.Time) *Cleaner {
	c.now = clock
	return c
}
