package model

import (
	"strings"
	"time"
)

// RequestStatus is the lifecycle state of a testing request.
type RequestStatus string

const (
	RequestDraft      RequestStatus = "DRAFT"
	RequestOpen       RequestStatus = "OPEN"
	RequestInProgress RequestStatus = "IN_PROGRESS"
	RequestCompleted  RequestStatus = "COMPLETED"
	RequestCancelled  RequestStatus = "CANCELLED"
)

var requestTransitions = map[RequestStatus][]RequestStatus{
	RequestDraft:      {RequestOpen, RequestCancelled},
	RequestOpen:       {RequestInProgress, RequestCompleted, RequestCancelled},
	RequestInProgress: {RequestCompleted, RequestCancelled},
}

// ParseRequestStatus normalizes s and reports whether it names a known status.
func ParseRequestStatus(s string) (RequestStatus, bool) {
	v := RequestStatus(strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), "-", "_"))
	switch v {
	case RequestDraft, RequestOpen, RequestInProgress, RequestCompleted, RequestCancelled:
		return v, true
	}
	return "", false
}

// CanTransition reports whether the request state machine allows s -> to.
func (s RequestStatus) CanTransition(to RequestStatus) bool {
	for _, next := range requestTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// AcceptsFeedback reports whether feedback can be submitted in this state.
func (s RequestStatus) AcceptsFeedback() bool {
	return s == RequestOpen || s == RequestInProgress || s == RequestCompleted
}

// TestingRequest is a call for testers issued against a project version,
// independent of any particular session.  A nil MaxTesters means the
// request accepts an unlimited number of testers.
type TestingRequest struct {
	ID                 string        `json:"id"`
	Title              string        `json:"title"`
	Description        string        `json:"description"`
	ProjectID          string        `json:"project_id"`
	VersionID          string        `json:"version_id,omitempty"`
	OwnerID            string        `json:"owner_id"`
	Status             RequestStatus `json:"status"`
	MaxTesters         *int          `json:"max_testers,omitempty"`
	CurrentTesterCount int           `json:"current_tester_count"`
	StartDate          *time.Time    `json:"start_date,omitempty"`
	EndDate            *time.Time    `json:"end_date,omitempty"`
	FeedbackSchema     string        `json:"feedback_schema,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// HasRoom reports whether another tester can join the request.
func (r *TestingRequest) HasRoom() bool {
	return r.MaxTesters == nil || r.CurrentTesterCount < *r.MaxTesters
}
