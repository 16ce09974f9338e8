package model

import (
	"strings"
	"time"
)

// ReviewStatus is the moderation state of a feedback submission.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "PENDING"
	ReviewApproved ReviewStatus = "APPROVED"
	ReviewFlagged  ReviewStatus = "FLAGGED"
	ReviewRejected ReviewStatus = "REJECTED"
)

// Moderation is one-directional: nothing returns to PENDING and REJECTED
// is terminal.  APPROVED can still be re-flagged after an abuse report.
var reviewTransitions = map[ReviewStatus][]ReviewStatus{
	ReviewPending:  {ReviewApproved, ReviewFlagged, ReviewRejected},
	ReviewApproved: {ReviewFlagged},
	ReviewFlagged:  {ReviewApproved, ReviewRejected},
}

// ParseReviewStatus normalizes s and reports whether it names a known status.
func ParseReviewStatus(s string) (ReviewStatus, bool) {
	switch v := ReviewStatus(strings.ToUpper(strings.TrimSpace(s))); v {
	case ReviewPending, ReviewApproved, ReviewFlagged, ReviewRejected:
		return v, true
	}
	return "", false
}

// CanTransition reports whether moderation allows s -> to.
func (s ReviewStatus) CanTransition(to ReviewStatus) bool {
	for _, next := range reviewTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// QualityRating is the moderator's verdict on a feedback item.
type QualityRating string

const (
	QualityPositive QualityRating = "POSITIVE"
	QualityNegative QualityRating = "NEGATIVE"
	QualityNeutral  QualityRating = "NEUTRAL"
)

// ParseQualityRating normalizes s and reports whether it names a known rating.
func ParseQualityRating(s string) (QualityRating, bool) {
	switch v := QualityRating(strings.ToUpper(strings.TrimSpace(s))); v {
	case QualityPositive, QualityNegative, QualityNeutral:
		return v, true
	}
	return "", false
}

// Feedback is a tester's post-session report on a testing request.  It is
// invisible to the public until approved.  QualityRating is only set while
// the item is APPROVED or REJECTED.
type Feedback struct {
	ID                string            `json:"id"`
	RequestID         string            `json:"request_id"`
	SessionID         string            `json:"session_id,omitempty"`
	SubmitterID       string            `json:"submitter_id"`
	Rating            int               `json:"rating"`
	Responses         map[string]string `json:"responses"`
	ReviewStatus      ReviewStatus      `json:"review_status"`
	QualityRating     *QualityRating    `json:"quality_rating,omitempty"`
	DeveloperResponse string            `json:"developer_response,omitempty"`
	ModeratorID       string            `json:"moderator_id,omitempty"`
	ReviewedAt        *time.Time        `json:"reviewed_at,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}
