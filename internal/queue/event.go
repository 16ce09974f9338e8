// Package queue defines the domain events published after a unit of work
// commits, and the broker adapters that carry them.
package queue

import "time"

// Event types.
const (
	RegistrationJoined    = "registration.joined"
	RegistrationLeft      = "registration.left"
	RegistrationConfirmed = "registration.confirmed"
	RegistrationRejected  = "registration.rejected"
	RegistrationAttended  = "registration.attendance"
	SessionTransitioned   = "session.transitioned"
	FeedbackSubmitted     = "feedback.submitted"
	FeedbackModerated     = "feedback.moderated"
)

// Event is published once the change it describes is committed.  It
// carries enough for downstream consumers to log, notify or trigger
// analytics without querying the primary database.  Fields not relevant to
// an event type are left empty.
type Event struct {
	Type           string    `json:"type"`
	SessionID      string    `json:"session_id,omitempty"`
	RegistrationID string    `json:"registration_id,omitempty"`
	ParticipantID  string    `json:"participant_id,omitempty"`
	Role           string    `json:"role,omitempty"`
	RequestID      string    `json:"request_id,omitempty"`
	FeedbackID     string    `json:"feedback_id,omitempty"`
	From           string    `json:"from,omitempty"`
	To             string    `json:"to,omitempty"`
	Affected       int       `json:"affected,omitempty"` // registrations cancelled by a cascade
	ActorID        string    `json:"actor_id,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Key is the partition/routing key: events of one session or feedback item
// stay ordered relative to each other.
func (e Event) Key() string {
	switch {
	case e.SessionID != "":
		return e.SessionID
	case e.FeedbackID != "":
		return e.FeedbackID
	}
	return e.RequestID
}
