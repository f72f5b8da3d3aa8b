// Package session keeps the per-user conversation record: who the user is, where they
// are, what they are looking for, and which step of the conversation they are in.
package session

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/m3rciful/placebot/internal/geo"
)

// State is the persisted conversation step of a session.
type State string

const (
	StateNew              State = "new"
	StateAwaitingLocation State = "awaiting_location"
	StateAwaitingCategory State = "awaiting_category"
	StateAwaitingRadius   State = "awaiting_radius"
	StateBrowsing         State = "browsing"
)

// DefaultRadiusMeters is used when a session has no radius selected yet.
const DefaultRadiusMeters = 1800

// ErrInvalidRadius is returned for radii outside the allowed set.
var ErrInvalidRadius = errors.New("session: radius not allowed")

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StateNew, StateAwaitingLocation, StateAwaitingCategory, StateAwaitingRadius, StateBrowsing:
		return true
	}
	return false
}

// Session is one user's conversation record. Treat it as a value: copy, change, save.
type Session struct {
	UserID       int64
	DisplayName  string
	Handle       string
	Location     *geo.Point
	Category     string
	RadiusMeters int
	State        State
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// New returns a fresh session for a user who has just made contact.
func New(userID int64, displayName, handle string) Session {
	return Session{
		UserID:      userID,
		DisplayName: displayName,
		Handle:      handle,
		State:       StateAwaitingLocation,
	}
}

// Clone returns a deep copy so the caller may mutate it freely.
func (s Session) Clone() Session {
	out := s
	if s.Location != nil {
		loc := *s.Location
		out.Location = &loc
	}
	return out
}

// Equal reports whether two sessions hold the same data, ignoring timestamps.
func (s Session) Equal(o Session) bool {
	if s.UserID != o.UserID || s.DisplayName != o.DisplayName || s.Handle != o.Handle ||
		s.Category != o.Category || s.RadiusMeters != o.RadiusMeters || s.State != o.State {
		return false
	}
	if s.Location == nil || o.Location == nil {
		return s.Location == nil && o.Location == nil
	}
	return *s.Location == *o.Location
}

// HasLocation reports whether the user has shared a location.
func (s Session) HasLocation() bool { return s.Location != nil }

// HasCategory reports whether a search category is set.
func (s Session) HasCategory() bool { return strings.TrimSpace(s.Category) != "" }

// Searchable reports whether both search prerequisites are present.
func (s Session) Searchable() bool { return s.HasLocation() && s.HasCategory() }

// EffectiveRadius returns the selected radius or fallback when none is set.
func (s Session) EffectiveRadius(fallback int) int {
	if s.RadiusMeters > 0 {
		return s.RadiusMeters
	}
	if fallback > 0 {
		return fallback
	}
	return DefaultRadiusMeters
}

// Greeting returns the name used to address the user.
func (s Session) Greeting() string {
	if name := strings.TrimSpace(s.DisplayName); name != "" {
		return name
	}
	if h := strings.TrimSpace(s.Handle); h != "" {
		return h
	}
	return "there"
}

// ValidateRadius checks meters against the allowed set.
func ValidateRadius(meters int, allowed []int) error {
	if meters <= 0 || !slices.Contains(allowed, meters) {
		return fmt.Errorf("%w: %d", ErrInvalidRadius, meters)
	}
	return nil
}
