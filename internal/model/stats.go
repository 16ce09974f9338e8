package model

// SessionStats is a read-only rollup of a session's capacity and attendance.
type SessionStats struct {
	SessionID      string  `json:"session_id"`
	TesterCount    int     `json:"tester_count"`
	MaxTesters     int     `json:"max_testers"`
	FillPct        float64 `json:"fill_pct"`
	IsFull         bool    `json:"is_full"`
	DeveloperCount int     `json:"developer_count"`
	ObserverCount  int     `json:"observer_count"`
	Attended       int     `json:"attended"`
	NoShow         int     `json:"no_show"`
	AttendanceRate float64 `json:"attendance_rate"`
}

// FeedbackStats summarizes moderation for a request, or for all requests
// when Scope is empty.  AverageRating covers APPROVED items only.
type FeedbackStats struct {
	Scope         string  `json:"scope,omitempty"`
	Total         int     `json:"total"`
	Pending       int     `json:"pending"`
	Approved      int     `json:"approved"`
	Flagged       int     `json:"flagged"`
	Rejected      int     `json:"rejected"`
	AverageRating float64 `json:"average_rating"`
}
