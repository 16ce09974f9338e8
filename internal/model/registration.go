package model

import (
	"strings"
	"time"
)

// Role is the registration type a participant joins a session with.  The
// identity provider resolves it; the service only validates membership.
type Role string

const (
	RoleTester    Role = "TESTER"
	RoleDeveloper Role = "DEVELOPER"
	RoleObserver  Role = "OBSERVER"
)

// ParseRole normalizes s and reports whether it names a registration role.
func ParseRole(s string) (Role, bool) {
	switch v := Role(strings.ToUpper(strings.TrimSpace(s))); v {
	case RoleTester, RoleDeveloper, RoleObserver:
		return v, true
	}
	return "", false
}

// RegistrationStatus is the lifecycle state of one participant's claim on
// a session slot.
type RegistrationStatus string

const (
	RegistrationPending   RegistrationStatus = "PENDING"
	RegistrationConfirmed RegistrationStatus = "CONFIRMED"
	RegistrationCancelled RegistrationStatus = "CANCELLED"
	RegistrationAttended  RegistrationStatus = "ATTENDED"
	RegistrationNoShow    RegistrationStatus = "NO_SHOW"
)

var registrationTransitions = map[RegistrationStatus][]RegistrationStatus{
	RegistrationPending:   {RegistrationConfirmed, RegistrationCancelled},
	RegistrationConfirmed: {RegistrationCancelled, RegistrationAttended, RegistrationNoShow},
}

// ParseRegistrationStatus normalizes s and reports whether it names a known status.
func ParseRegistrationStatus(s string) (RegistrationStatus, bool) {
	switch v := RegistrationStatus(strings.ToUpper(strings.TrimSpace(s))); v {
	case RegistrationPending, RegistrationConfirmed, RegistrationCancelled, RegistrationAttended, RegistrationNoShow:
		return v, true
	}
	return "", false
}

// CanTransition reports whether the registration state machine allows s -> to.
func (s RegistrationStatus) CanTransition(to RegistrationStatus) bool {
	for _, next := range registrationTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Open reports whether the registration can still change state.
func (s RegistrationStatus) Open() bool {
	return s == RegistrationPending || s == RegistrationConfirmed
}

// Registration records a participant's claim on a slot in a session.
// Rows are never deleted: cancellation is a status change so history is
// preserved for statistics.  HoldsSlot is the capacity ledger's
// bookkeeping flag and is cleared exactly once when the slot is released.
type Registration struct {
	ID               string             `json:"id"`
	SessionID        string             `json:"session_id"`
	ParticipantID    string             `json:"participant_id"`
	RegistrationType Role               `json:"registration_type"`
	Status           RegistrationStatus `json:"status"`
	HoldsSlot        bool               `json:"-"`
	RegisteredAt     time.Time          `json:"registered_at"`
	AttendedAt       *time.Time         `json:"attended_at,omitempty"`
	UpdatedAt        time.Time          `json:"updated_at"`
}
