package model

import (
	"strings"
	"time"
)

// SessionStatus is the lifecycle state of a testing session.
type SessionStatus string

const (
	SessionScheduled SessionStatus = "SCHEDULED"
	SessionActive    SessionStatus = "ACTIVE"
	SessionCompleted SessionStatus = "COMPLETED"
	SessionCancelled SessionStatus = "CANCELLED"
)

var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionScheduled: {SessionActive, SessionCancelled},
	SessionActive:    {SessionCompleted, SessionCancelled},
}

// ParseSessionStatus normalizes s and reports whether it names a known status.
func ParseSessionStatus(s string) (SessionStatus, bool) {
	switch v := SessionStatus(strings.ToUpper(strings.TrimSpace(s))); v {
	case SessionScheduled, SessionActive, SessionCompleted, SessionCancelled:
		return v, true
	}
	return "", false
}

// CanTransition reports whether the session state machine allows s -> to.
func (s SessionStatus) CanTransition(to SessionStatus) bool {
	for _, next := range sessionTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionCancelled
}

// Session represents a scheduled block of time at a location during which
// testers play one or more games.  Registration counts are not stored on
// the session; they are derived from live registration rows.
//
// Fields:
//
//	ID            – primary key identifier (uuid).
//	Name          – display name.
//	LocationID    – location hosting the session.
//	ManagerID     – participant id of the session manager.
//	StartsAt      – session date plus start time (UTC).
//	EndsAt        – session date plus end time (UTC, after StartsAt).
//	MaxTesters    – tester slots, at least one.
//	MaxDevelopers – developer slots (nil means unlimited).
//	MaxObservers  – observer slots (nil means unlimited).
//	AutoConfirm   – joins start CONFIRMED instead of PENDING.
//	Status        – SCHEDULED, ACTIVE, COMPLETED or CANCELLED.
//	RequestIDs    – testing requests played in this session.
//	CompletedAt   – when the session moved to COMPLETED.
type Session struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	LocationID    string        `json:"location_id"`
	ManagerID     string        `json:"manager_id"`
	StartsAt      time.Time     `json:"starts_at"`
	EndsAt        time.Time     `json:"ends_at"`
	MaxTesters    int           `json:"max_testers"`
	MaxDevelopers *int          `json:"max_developers,omitempty"`
	MaxObservers  *int          `json:"max_observers,omitempty"`
	AutoConfirm   bool          `json:"auto_confirm"`
	Status        SessionStatus `json:"status"`
	RequestIDs    []string      `json:"request_ids"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// SessionDate returns the calendar date of the session in YYYY-MM-DD form.
func (s *Session) SessionDate() string { return s.StartsAt.UTC().Format("2006-01-02") }

// MaxFor returns the slot limit for a role and whether the role is limited.
func (s *Session) MaxFor(role Role) (int, bool) {
	switch role {
	case RoleTester:
		return s.MaxTesters, true
	case RoleDeveloper:
		if s.MaxDevelopers != nil {
			return *s.MaxDevelopers, true
		}
	case RoleObserver:
		if s.MaxObservers != nil {
			return *s.MaxObservers, true
		}
	}
	return 0, false
}

// SessionView is a session together with its derived registration counts.
type SessionView struct {
	Session
	RegisteredTesterCount        int `json:"registered_tester_count"`
	RegisteredProjectMemberCount int `json:"registered_project_member_count"`
	RegisteredProjectCount       int `json:"registered_project_count"`
}
