package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/iliyamo/playtest-sessions/internal/ledger"
	"github.com/iliyamo/playtest-sessions/internal/model"
	"github.com/iliyamo/playtest-sessions/internal/queue"
	"github.com/iliyamo/playtest-sessions/internal/repository"
	"github.com/iliyamo/playtest-sessions/internal/telemetry"
)

// FeedbackService accepts tester feedback and runs it through moderation.
// Every review change adjusts the request's tallies in the same
// transaction, so statistics never see half a moderation.
type FeedbackService struct{ *core }

// SubmitFeedbackInput is one tester's report.  SessionID is optional and
// scopes the one-per-submitter rule.
type SubmitFeedbackInput struct {
	RequestID   string            `json:"request_id"`
	SessionID   string            `json:"session_id,omitempty"`
	SubmitterID string            `json:"submitter_id"`
	Rating      int               `json:"rating"`
	Responses   map[string]string `json:"responses"`
}

// SubmitFeedback stores a PENDING feedback item.  The request must accept
// feedback and the submitter may leave one item per request and session
// context.
func (s *FeedbackService) SubmitFeedback(ctx context.Context, in SubmitFeedbackInput) (*model.Feedback, error) {
	if strings.TrimSpace(in.RequestID) == "" {
		return nil, validation("request_id is required")
	}
	if strings.TrimSpace(in.SubmitterID) == "" {
		return nil, validation("submitter_id is required")
	}
	if in.Rating < 1 || in.Rating > 5 {
		return nil, validation("rating must be between 1 and 5, got %d", in.Rating)
	}
	if in.Responses == nil {
		in.Responses = map[string]string{}
	}
	var f *model.Feedback
	err := s.uow.run(ctx, ledger.RequestKey(in.RequestID), func(ctx context.Context, tx *sql.Tx) error {
		req, err := s.requests.GetTx(ctx, tx, in.RequestID)
		if err != nil {
			return notFound(err, "request", in.RequestID)
		}
		if !req.Status.AcceptsFeedback() {
			return fmt.Errorf("%w: request is %s", ErrRequestClosed, req.Status)
		}
		if in.SessionID != "" {
			if _, err := s.sessions.GetTx(ctx, tx, in.SessionID); err != nil {
				return notFound(err, "session", in.SessionID)
			}
		}
		if err := validateResponses(req.FeedbackSchema, in.Responses); err != nil {
			return err
		}
		dup, err := s.feedback.ExistsTx(ctx, tx, in.RequestID, in.SubmitterID, in.SessionID)
		if err != nil {
			return err
		}
		if dup {
			return fmt.Errorf("%w: %s on request %s", ErrAlreadySubmitted, in.SubmitterID, in.RequestID)
		}
		now := s.now()
		f = &model.Feedback{
			RequestID:    in.RequestID,
			SessionID:    in.SessionID,
			SubmitterID:  in.SubmitterID,
			Rating:       in.Rating,
			Responses:    in.Responses,
			ReviewStatus: model.ReviewPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.feedback.CreateTx(ctx, tx, f); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return fmt.Errorf("%w: %s on request %s", ErrAlreadySubmitted, in.SubmitterID, in.RequestID)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, queue.Event{
		Type:          queue.FeedbackSubmitted,
		RequestID:     f.RequestID,
		SessionID:     f.SessionID,
		FeedbackID:    f.ID,
		ParticipantID: f.SubmitterID,
		To:            string(f.ReviewStatus),
		OccurredAt:    f.CreatedAt,
	})
	return f, nil
}

// checkQuality enforces which quality rating accompanies each review
// status and returns the rating to store.
func checkQuality(to model.ReviewStatus, q *model.QualityRating) (*model.QualityRating, error) {
	switch to {
	case model.ReviewApproved:
		if q == nil || (*q != model.QualityPositive && *q != model.QualityNeutral) {
			return nil, validation("approval requires quality_rating POSITIVE or NEUTRAL")
		}
		return q, nil
	case model.ReviewFlagged:
		if q != nil {
			return nil, validation("flagging takes no quality_rating")
		}
		return nil, nil
	case model.ReviewRejected:
		if q == nil {
			neg := model.QualityNegative
			return &neg, nil
		}
		if *q != model.QualityNegative {
			return nil, validation("rejection requires quality_rating NEGATIVE")
		}
		return q, nil
	}
	return nil, nil
}

// ModerateFeedback moves a feedback item to target.  Transitions outside
// the review table fail with ErrInvalidModerationTransition and leave the
// item unchanged.
func (s *FeedbackService) ModerateFeedback(ctx context.Context, id string, target model.ReviewStatus, quality *model.QualityRating, moderatorID string) (*model.Feedback, error) {
	parsed, ok := model.ParseReviewStatus(string(target))
	if !ok {
		return nil, validation("unknown review status %q", target)
	}
	target = parsed
	if quality != nil {
		q, ok := model.ParseQualityRating(string(*quality))
		if !ok {
			return nil, validation("unknown quality rating %q", *quality)
		}
		quality = &q
	}
	var (
		f    *model.Feedback
		from model.ReviewStatus
	)
	err := s.uow.run(ctx, ledger.FeedbackKey(id), func(ctx context.Context, tx *sql.Tx) error {
		var err error
		if f, err = s.feedback.GetTx(ctx, tx, id); err != nil {
			return notFound(err, "feedback", id)
		}
		from = f.ReviewStatus
		if !from.CanTransition(target) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidModerationTransition, from, target)
		}
		q, err := checkQuality(target, quality)
		if err != nil {
			return err
		}
		now := s.now()
		f.ReviewStatus = target
		f.QualityRating = q
		f.ModeratorID = moderatorID
		f.ReviewedAt = &now
		f.UpdatedAt = now
		if err := s.feedback.UpdateReviewTx(ctx, tx, f); err != nil {
			return err
		}
		var d repository.TallyDelta
		d.Add(from, f.Rating, -1)
		d.Add(target, f.Rating, 1)
		return s.feedback.ApplyTallyTx(ctx, tx, f.RequestID, d)
	})
	if err != nil {
		if errors.Is(err, ErrInvalidModerationTransition) {
			s.log.Warn("moderation state violation", "feedback_id", id, "target", target, "err", err)
		}
		return nil, err
	}
	telemetry.Count(ctx, s.metrics.Moderations, telemetry.FromKey.String(string(from)), telemetry.ToKey.String(string(target)))
	s.emit(ctx, queue.Event{
		Type:       queue.FeedbackModerated,
		RequestID:  f.RequestID,
		FeedbackID: f.ID,
		From:       string(from),
		To:         string(target),
		ActorID:    moderatorID,
		OccurredAt: f.UpdatedAt,
	})
	return f, nil
}

// RespondToFeedback attaches the request owner's reply to an APPROVED item.
func (s *FeedbackService) RespondToFeedback(ctx context.Context, id, developerID, response string) (*model.Feedback, error) {
	response = strings.TrimSpace(response)
	if response == "" {
		return nil, validation("response is required")
	}
	var f *model.Feedback
	err := s.uow.run(ctx, ledger.FeedbackKey(id), func(ctx context.Context, tx *sql.Tx) error {
		var err error
		if f, err = s.feedback.GetTx(ctx, tx, id); err != nil {
			return notFound(err, "feedback", id)
		}
		if f.ReviewStatus != model.ReviewApproved {
			return fmt.Errorf("%w: cannot respond to %s feedback", ErrInvalidTransition, f.ReviewStatus)
		}
		req, err := s.requests.GetTx(ctx, tx, f.RequestID)
		if err != nil {
			return notFound(err, "request", f.RequestID)
		}
		if req.OwnerID != developerID {
			return fmt.Errorf("%w: only the request owner may respond", ErrForbidden)
		}
		f.DeveloperResponse = response
		f.UpdatedAt = s.now()
		return s.feedback.UpdateResponseTx(ctx, tx, f)
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// GetFeedback returns one feedback item regardless of review status.
func (s *FeedbackService) GetFeedback(ctx context.Context, id string) (*model.Feedback, error) {
	f, err := s.feedback.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err, "feedback", id)
	}
	return f, nil
}

// ListFeedback returns a request's feedback, optionally filtered by review
// status.
func (s *FeedbackService) ListFeedback(ctx context.Context, requestID, status string) ([]model.Feedback, error) {
	var st model.ReviewStatus
	if status != "" {
		var ok bool
		if st, ok = model.ParseReviewStatus(status); !ok {
			return nil, validation("unknown review status %q", status)
		}
	}
	if _, err := s.requests.GetByID(ctx, requestID); err != nil {
		return nil, notFound(err, "request", requestID)
	}
	return s.feedback.List(ctx, requestID, st)
}
