// Package loader implements the bulk loader (C3): the initial in-order
// population of the entity store (C1) and derived indexes (C2), plus the
// single-row re-fetch queries the change handlers (C5) reuse on
// INSERT/UPDATE/RELOAD. Grounded on the teacher's database/migrate.go for
// connection conventions, generalized from database/sql+lib/pq to
// pgx/v5's pgxpool.Pool (see DESIGN.md).
package loader

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pegesund/concentratee-cache-sub000/internal/errs"
	"github.com/pegesund/concentratee-cache-sub000/internal/index"
	"github.com/pegesund/concentratee-cache-sub000/internal/models"
	"github.com/pegesund/concentratee-cache-sub000/internal/obslog"
	"github.com/pegesund/concentratee-cache-sub000/internal/obsmetrics"
	"github.com/pegesund/concentratee-cache-sub000/internal/store"
)

// Loader runs the five ordered steps of §4.3 over a Postgres pool and
// populates a Store plus its two derived indexes.
type Loader struct {
	pool          *pgxpool.Pool
	store         *store.Store
	sessions      *index.SessionIndex
	rules         *index.RuleIndex
	forwardWindow time.Duration
	now           func() time.Time
}

// New creates a Loader bound to pool, store and the two derived indexes.
func New(pool *pgxpool.Pool, st *store.Store, sessions *index.SessionIndex, rules *index.RuleIndex, forwardWindow time.Duration) *Loader {
	return &Loader{
		pool:          pool,
		store:         st,
		sessions:      sessions,
		rules:         rules,
		forwardWindow: forwardWindow,
		now:           time.Now,
	}
}

// LoadAll runs steps 1-5 of §4.3 in order: students, profiles, rules,
// sessions, then a single pass building the derived indexes. No reads
// should be served on the caller's store/index pair before this returns
// (the tiny staleness window between step 5 and C4's Subscribe call is
// documented in cmd/server/main.go, not hidden here).
func (l *Loader) LoadAll(ctx context.Context) error {
	steps := []struct {
		phase string
		fn    func(context.Context) error
	}{
		{"students", l.loadStudents},
		{"profiles", l.loadProfiles},
		{"rules", l.loadRules},
		{"sessions", l.loadSessions},
	}

	for _, step := range steps {
		start := time.Now()
		err := step.fn(ctx)
		obsmetrics.RecordLoaderPhase(step.phase, float64(time.Since(start).Milliseconds()), err)
		if err != nil {
			return fmt.Errorf("loader phase %s: %w", step.phase, err)
		}
	}

	start := time.Now()
	l.buildIndexes()
	obsmetrics.RecordLoaderPhase("index_build", float64(time.Since(start).Milliseconds()), nil)

	obslog.Info("loader completed initial population",
		obslog.Int("students", l.store.Students.Len()),
		obslog.Int("profiles", l.store.Profiles.Len()),
		obslog.Int("rules", l.store.Rules.Len()),
		obslog.Int("sessions", l.store.Sessions.Len()),
	)
	return nil
}

// Reload re-runs steps 2-5 only (profiles, rules, sessions, index build),
// skipping students - this is what the change subscriber (C4) calls after
// a reconnect to recover events missed during the outage (§4.4).
func (l *Loader) Reload(ctx context.Context) error {
	steps := []struct {
		phase string
		fn    func(context.Context) error
	}{
		{"profiles", l.loadProfiles},
		{"rules", l.loadRules},
		{"sessions", l.loadSessions},
	}
	for _, step := range steps {
		start := time.Now()
		err := step.fn(ctx)
		obsmetrics.RecordLoaderPhase(step.phase, float64(time.Since(start).Milliseconds()), err)
		if err != nil {
			return fmt.Errorf("reload phase %s: %w", step.phase, err)
		}
	}
	l.buildIndexes()
	return nil
}

func (l *Loader) loadStudents(ctx context.Context) error {
	rows, err := l.pool.Query(ctx, `
		SELECT id, feide_email, school_id, grade, class_id
		FROM students
		WHERE feide_email IS NOT NULL AND feide_email != ''
	`)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrTransientStore, err)
	}
	defer rows.Close()

	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return fmt.Errorf("%w: %v", errs.ErrTransientStore, err)
		}
		l.store.Students.Put(s.ID, s)
	}
	return rows.Err()
}

func scanStudent(row pgx.Row) (*models.Student, error) {
	var s models.Student
	if err := row.Scan(&s.ID, &s.Email, &s.SchoolID, &s.Grade, &s.ClassID); err != nil {
		return nil, err
	}
	return &s, nil
}

// FetchStudentByID re-fetches a single student row, used by change
// handlers on INSERT/UPDATE. Returns (nil, nil) if the id no longer
// exists (UnknownReference is the caller's concern, not the query's).
func (l *Loader) FetchStudentByID(ctx context.Context, id int64) (*models.Student, error) {
	row := l.pool.QueryRow(ctx, `
		SELECT id, feide_email, school_id, grade, class_id
		FROM students WHERE id = $1
	`, id)
	s, err := scanStudent(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", errs.ErrTransientStore, err)
	}
	if s.Email == "" {
		return nil, nil
	}
	return s, nil
}

func (l *Loader) loadProfiles(ctx context.Context) error {
	rows, err := l.pool.Query(ctx, `
		SELECT id, name, teacher_id, school_id, is_whitelist_url, tracking_enabled
		FROM profiles
	`)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrTransientStore, err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		var name string
		var teacherID, schoolID int64
		var whitelist, tracking bool
		if err := rows.Scan(&id, &name, &teacherID, &schoolID, &whitelist, &tracking); err != nil {
			rows.Close()
			return fmt.Errorf("%w: %v", errs.ErrTransientStore, err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrTransientStore, err)
	}

	for _, id := range ids {
		p, err := l.FetchProfileByID(ctx, id)
		if err != nil {
			return err
		}
		if p != nil {
			l.store.Profiles.Put(id, p)
		}
	}
	return nil
}

// FetchProfileByID re-fetches the full hierarchy for one profile: scalar
// fields, domains, programs, and the Category -> Subcategory -> URL tree
// with active-mask composition per §3. Used by the initial load and by
// the RELOAD/RELOAD_ALL/INSERT/UPDATE change handlers.
func (l *Loader) FetchProfileByID(ctx context.Context, id int64) (*models.Profile, error) {
	var p models.Profile
	row := l.pool.QueryRow(ctx, `
		SELECT id, name, teacher_id, school_id, is_whitelist_url, tracking_enabled
		FROM profiles WHERE id = $1
	`, id)
	if err := row.Scan(&p.ID, &p.Name, &p.TeacherID, &p.SchoolID, &p.IsWhitelistURL, &p.TrackingEnabled); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", errs.ErrTransientStore, err)
	}

	domains, err := l.fetchProfileDomains(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Domains = domains

	programs, err := l.fetchProfilePrograms(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Programs = programs

	categories, err := l.fetchProfileCategories(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Categories = categories

	return &p, nil
}

func (l *Loader) fetchProfileDomains(ctx context.Context, profileID int64) ([]string, error) {
	rows, err := l.pool.Query(ctx, `SELECT domain FROM profiles_domains WHERE profile_id = $1 ORDER BY id`, profileID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrTransientStore, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrTransientStore, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (l *Loader) fetchProfilePrograms(ctx context.Context, profileID int64) ([]string, error) {
	rows, err := l.pool.Query(ctx, `SELECT program FROM profiles_programs WHERE profile_id = $1 ORDER BY id`, profileID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrTransientStore, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrTransientStore, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// fetchProfileCategories loads the Category -> Subcategory -> URL tree
// for one profile, composing activity per §3: a category/subcategory/URL
// is active iff profiles_categories.is_active is true AND it is absent
// from the corresponding profile_inactive_* override table.
func (l *Loader) fetchProfileCategories(ctx context.Context, profileID int64) ([]models.Category, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT c.id, c.name, pc.is_active
		FROM profiles_categories pc
		JOIN url_categories c ON c.id = pc.category_id
		WHERE pc.profile_id = $1
		ORDER BY c.id
	`, profileID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrTransientStore, err)
	}
	type catRow struct {
		id       int64
		name     string
		isActive bool
	}
	var catRows []catRow
	for rows.Next() {
		var c catRow
		if err := rows.Scan(&c.id, &c.name, &c.isActive); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: %v", errs.ErrTransientStore, err)
		}
		catRows = append(catRows, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrTransientStore, err)
	}

	inactiveSubs, err := l.fetchInactiveSubcategories(ctx, profileID)
	if err != nil {
		return nil, err
	}
	inactiveURLs, err := l.fetchInactiveURLs(ctx, profileID)
	if err != nil {
		return nil, err
	}

	categories := make([]models.Category, 0, len(catRows))
	for _, c := range catRows {
		subs, err := l.fetchSubcategories(ctx, c.id, inactiveSubs, inactiveURLs)
		if err != nil {
			return nil, err
		}
		categories = append(categories, models.Category{
			ID:            c.id,
			Name:          c.name,
			IsActive:      c.isActive,
			Subcategories: subs,
		})
	}
	return categories, nil
}

func (l *Loader) fetchSubcategories(ctx context.Context, categoryID int64, inactiveSubs, inactiveURLs map[int64]bool) ([]models.Subcategory, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT id, name FROM url_subcategories WHERE category_id = $1 ORDER BY id
	`, categoryID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrTransientStore, err)
	}
	type subRow struct {
		id   int64
		name string
	}
	var subRows []subRow
	for rows.Next() {
		var s subRow
		if err := rows.Scan(&s.id, &s.name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: %v", errs.ErrTransientStore, err)
		}
		subRows = append(subRows, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrTransientStore, err)
	}

	out := make([]models.Subcategory, 0, len(subRows))
	for _, s := range subRows {
		urls, err := l.fetchCategoryURLs(ctx, s.id, inactiveURLs)
		if err != nil {
			return nil, err
		}
		out = append(out, models.Subcategory{
			ID:           s.id,
			Name:         s.name,
			IsActive:     !inactiveSubs[s.id],
			CategoryUrls: urls,
		})
	}
	return out, nil
}

func (l *Loader) fetchCategoryURLs(ctx context.Context, subcategoryID int64, inactiveURLs map[int64]bool) ([]models.CategoryURL, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT id, url FROM urls WHERE subcategory_id = $1 ORDER BY id
	`, subcategoryID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrTransientStore, err)
	}
	defer rows.Close()
	var out []models.CategoryURL
	for rows.Next() {
		var u models.CategoryURL
		if err := rows.Scan(&u.ID, &u.URL); err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrTransientStore, err)
		}
		u.IsActive = !inactiveURLs[u.ID]
		out = append(out, u)
	}
	return out, rows.Err()
}

func (l *Loader) fetchInactiveSubcategories(ctx context.Context, profileID int64) (map[int64]bool, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT subcategory_id FROM profile_inactive_subcategories WHERE profile_id = $1
	`, profileID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrTransientStore, err)
	}
	defer rows.Close()
	out := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrTransientStore, err)
		}
		out[id] = true
	}
	return out, rows.Err()
}

func (l *Loader) fetchInactiveURLs(ctx context.Context, profileID int64) (map[int64]bool, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT url_id FROM profile_inactive_urls WHERE profile_id = $1
	`, profileID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrTransientStore, err)
	}
	defer rows.Close()
	out := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrTransientStore, err)
		}
		out[id] = true
	}
	return out, rows.Err()
}

// forwardWindowBounds returns [today, today+window] for the rules/sessions
// forward-window filter described in §4.3 and flagged ambiguous for
// sessions in §9 (DESIGN.md Open Question Decisions #1 keeps both the
// same for now).
func (l *Loader) forwardWindowBounds() (time.Time, time.Time) {
	now := l.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return today, today.Add(l.forwardWindow)
}

func (l *Loader) loadRules(ctx context.Context) error {
	from, to := l.forwardWindowBounds()
	rows, err := l.pool.Query(ctx, `
		SELECT id, scope, scope_value, start_time, end_time, profile_id
		FROM rules
		WHERE start_time <= $2 AND end_time >= $1
	`, from, to)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrTransientStore, err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return fmt.Errorf("%w: %v", errs.ErrTransientStore, err)
		}
		l.store.Rules.Put(r.ID, r)
	}
	return rows.Err()
}

func scanRule(row pgx.Row) (*models.Rule, error) {
	var r models.Rule
	var scopeValue *string
	if err := row.Scan(&r.ID, &r.Scope, &scopeValue, &r.StartTime, &r.EndTime, &r.ProfileID); err != nil {
		return nil, err
	}
	r.ScopeValue = index.CoerceScopeValue(scopeValue)
	return &r, nil
}

// FetchRuleByID re-fetches a single rule, respecting the forward-window
// filter: a rule whose window no longer intersects [today, today+window]
// is treated as absent (nil, nil), matching "UPDATE moved it out of
// range" to an effective delete at the handler layer.
func (l *Loader) FetchRuleByID(ctx context.Context, id int64) (*models.Rule, error) {
	row := l.pool.QueryRow(ctx, `
		SELECT id, scope, scope_value, start_time, end_time, profile_id
		FROM rules WHERE id = $1
	`, id)
	r, err := scanRule(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", errs.ErrTransientStore, err)
	}
	from, to := l.forwardWindowBounds()
	if r.StartTime.After(to) || r.EndTime.Before(from) {
		return nil, nil
	}
	return r, nil
}

func (l *Loader) loadSessions(ctx context.Context) error {
	from, to := l.forwardWindowBounds()
	rows, err := l.pool.Query(ctx, `
		SELECT s.id, s.title, s.start_time, s.end_time, s.student_id,
		       st.feide_email, s.class_id, s.teacher_id, s.school_id,
		       s.teacher_session_id, s.grade, s.profile_id, s.is_active, s.percentage
		FROM sessions s
		LEFT JOIN students st ON st.id = s.student_id
		WHERE s.start_time >= $1 AND s.start_time < $2
	`, from, to)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrTransientStore, err)
	}
	defer rows.Close()

	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return fmt.Errorf("%w: %v", errs.ErrTransientStore, err)
		}
		l.store.Sessions.Put(sess.ID, sess)
	}
	return rows.Err()
}

func scanSession(row pgx.Row) (*models.Session, error) {
	var s models.Session
	var email *string
	if err := row.Scan(&s.ID, &s.Title, &s.StartTime, &s.EndTime, &s.StudentID,
		&email, &s.ClassID, &s.TeacherID, &s.SchoolID,
		&s.TeacherSessionID, &s.Grade, &s.ProfileID, &s.IsActive, &s.Percentage); err != nil {
		return nil, err
	}
	if email != nil {
		s.StudentEmail = *email
	}
	return &s, nil
}

// FetchSessionByID re-fetches a single session, respecting the forward
// window (§4.3 step 4). A session that has fallen out of the window is
// reported as absent, same contract as FetchRuleByID.
func (l *Loader) FetchSessionByID(ctx context.Context, id int64) (*models.Session, error) {
	row := l.pool.QueryRow(ctx, `
		SELECT s.id, s.title, s.start_time, s.end_time, s.student_id,
		       st.feide_email, s.class_id, s.teacher_id, s.school_id,
		       s.teacher_session_id, s.grade, s.profile_id, s.is_active, s.percentage
		FROM sessions s
		LEFT JOIN students st ON st.id = s.student_id
		WHERE s.id = $1
	`, id)
	sess, err := scanSession(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", errs.ErrTransientStore, err)
	}
	from, to := l.forwardWindowBounds()
	if sess.StartTime.Before(from) || !sess.StartTime.Before(to) {
		return nil, nil
	}
	return sess, nil
}

// buildIndexes does the single pass over C1 that §4.3 step 5 describes,
// populating both derived session indexes and the rule index from
// whatever is currently in the store. Safe to call again after a Reload.
func (l *Loader) buildIndexes() {
	l.rules.Reset()
	l.store.Rules.Each(func(_ int64, r *models.Rule) {
		l.rules.Insert(r)
	})

	l.sessions.Reset()
	l.store.Sessions.Each(func(_ int64, s *models.Session) {
		l.sessions.Insert(s)
	})

	obsmetrics.SetEntityCount("student", l.store.Students.Len())
	obsmetrics.SetEntityCount("profile", l.store.Profiles.Len())
	obsmetrics.SetEntityCount("rule", l.store.Rules.Len())
	obsmetrics.SetEntityCount("session", l.store.Sessions.Len())
}

// Pool exposes the underlying pgxpool.Pool for the tracker's aggregate
// persistence writer (internal/tracker.Persister is implemented in
// cmd/server by wrapping this pool directly; Loader itself never writes).
func (l *Loader) Pool() *pgxpool.Pool { return l.pool }
