package service

import (
	"context"

	"github.com/iliyamo/playtest-sessions/internal/model"
)

// StatsService serves read-only rollups.  Each read is one SQL statement,
// so it sees either all or none of any committed unit of work.
type StatsService struct{ *core }

// SessionStats returns capacity and attendance figures for a session.
func (s *StatsService) SessionStats(ctx context.Context, sessionID string) (*model.SessionStats, error) {
	st, err := s.sessions.Stats(ctx, sessionID)
	if err != nil {
		return nil, notFound(err, "session", sessionID)
	}
	return st, nil
}

// FeedbackStats returns moderation counts and the approved-only average
// rating for one request, or across all requests when scope is empty.
func (s *StatsService) FeedbackStats(ctx context.Context, scope string) (*model.FeedbackStats, error) {
	st, err := s.feedback.Stats(ctx, scope)
	if err != nil {
		return nil, notFound(err, "request", scope)
	}
	return st, nil
}
