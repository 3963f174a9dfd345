// Package models holds the entity types mirrored from the authoritative
// Postgres store: students, profiles (with their category/subcategory/URL
// hierarchy), rules, and sessions.
package models

import "time"

// Student mirrors a row in the students table. A Student is only present
// in the cache once its email is known (see Loader and change handlers).
type Student struct {
	ID       int64
	Email    string
	SchoolID int64
	Grade    *string
	ClassID  *int64
}

// Scope identifies what a Rule's ScopeValue is matched against.
type Scope string

const (
	ScopeStudent Scope = "Student"
	ScopeSchool  Scope = "School"
	ScopeGrade   Scope = "Grade"
	ScopeClass   Scope = "Class"
)

// WildcardValue is the canonical index key for a rule whose ScopeValue is
// NULL or empty in the source row (see spec §3, §4.2, §9).
const WildcardValue = ""

// Rule mirrors a row in the rules table.
type Rule struct {
	ID         int64
	Scope      Scope
	ScopeValue string // "" means wildcard
	StartTime  time.Time
	EndTime    time.Time
	ProfileID  int64
}

// ActiveAt reports whether the rule is active at t (inclusive both ends).
func (r Rule) ActiveAt(t time.Time) bool {
	return !t.Before(r.StartTime) && !t.After(r.EndTime)
}

// CategoryURL is a single URL entry under a Subcategory.
type CategoryURL struct {
	ID       int64
	URL      string
	IsActive bool
}

// Subcategory groups a set of CategoryURLs under a Category.
type Subcategory struct {
	ID           int64
	Name         string
	IsActive     bool
	CategoryUrls []CategoryURL
}

// Category groups a set of Subcategories under a Profile.
type Category struct {
	ID            int64
	Name          string
	IsActive      bool
	Subcategories []Subcategory
}

// Profile mirrors the full hierarchy loaded for one profiles row: its
// scalar fields plus the Category -> Subcategory -> CategoryUrl tree,
// with activity already composed from profiles_categories.is_active,
// profile_inactive_subcategories and profile_inactive_urls (see §3).
//
// Per §9's re-architecture guidance, the tree is an owned value graph:
// it is rebuilt whole on any hierarchy change and never shares nodes
// across profiles.
type Profile struct {
	ID              int64
	Name            string
	Domains         []string
	Programs        []string
	Categories      []Category
	TeacherID       int64
	SchoolID        int64
	IsWhitelistURL  bool
	TrackingEnabled bool // optional; zero value (false) if the source had no flag
}

// Session mirrors a row in the sessions table, with StudentEmail
// denormalized from Student at index time (invariant I1) and IsActive /
// Percentage written only by the tracker (C9), never by change handlers.
type Session struct {
	ID              int64
	Title           string
	StartTime       time.Time
	EndTime         time.Time
	StudentID       int64
	StudentEmail    string // "" if the student is unknown or has no email
	ClassID         *int64
	TeacherID       int64
	SchoolID        int64
	TeacherSessionID *int64
	Grade           *string
	ProfileID       *int64
	IsActive        bool
	Percentage      float64
}

// ActiveAt reports whether the session is active at t (inclusive both ends).
func (s Session) ActiveAt(t time.Time) bool {
	return !t.Before(s.StartTime) && !t.After(s.EndTime)
}

// IsToday reports whether the session's StartTime falls on the calendar
// day of 'today', using today's location. This backs invariant I5.
func (s Session) IsToday(today time.Time) bool {
	y1, m1, d1 := s.StartTime.In(today.Location()).Date()
	y2, m2, d2 := today.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}
