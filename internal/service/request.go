package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/playtest-sessions/internal/ledger"
	"github.com/iliyamo/playtest-sessions/internal/model"
	"github.com/iliyamo/playtest-sessions/internal/repository"
)

// RequestService manages testing requests and their tester rosters.  A
// request's roster is independent of session registrations.
type RequestService struct{ *core }

// CreateRequestInput describes a new testing request.  Dates are
// YYYY-MM-DD.  FeedbackSchema, when set, must be a JSON Schema that
// feedback responses are validated against.
type CreateRequestInput struct {
	Title          string `json:"title"`
	Description    string `json:"description"`
	ProjectID      string `json:"project_id"`
	VersionID      string `json:"version_id"`
	OwnerID        string `json:"owner_id"`
	MaxTesters     *int   `json:"max_testers,omitempty"`
	StartDate      string `json:"start_date,omitempty"`
	EndDate        string `json:"end_date,omitempty"`
	FeedbackSchema string `json:"feedback_schema,omitempty"`
	Open           bool   `json:"open"`
}

func parseDate(field, v string) (*time.Time, error) {
	if strings.TrimSpace(v) == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(v), time.UTC)
	if err != nil {
		return nil, validation("invalid %s: %v", field, err)
	}
	return &t, nil
}

// CreateRequest stores a request in DRAFT, or OPEN when in.Open is set.
func (s *RequestService) CreateRequest(ctx context.Context, in CreateRequestInput) (*model.TestingRequest, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, validation("title is required")
	}
	if strings.TrimSpace(in.ProjectID) == "" {
		return nil, validation("project_id is required")
	}
	if strings.TrimSpace(in.OwnerID) == "" {
		return nil, validation("owner_id is required")
	}
	if in.MaxTesters != nil && *in.MaxTesters < 1 {
		return nil, validation("max_testers must be at least 1 when set")
	}
	start, err := parseDate("start_date", in.StartDate)
	if err != nil {
		return nil, err
	}
	end, err := parseDate("end_date", in.EndDate)
	if err != nil {
		return nil, err
	}
	if start != nil && end != nil && end.Before(*start) {
		return nil, validation("end_date must not be before start_date")
	}
	if in.FeedbackSchema != "" {
		if _, err := compileSchema(in.FeedbackSchema); err != nil {
			return nil, validation("feedback_schema: %v", err)
		}
	}
	now := s.now()
	t := &model.TestingRequest{
		Title:          strings.TrimSpace(in.Title),
		Description:    in.Description,
		ProjectID:      in.ProjectID,
		VersionID:      in.VersionID,
		OwnerID:        in.OwnerID,
		Status:         model.RequestDraft,
		MaxTesters:     in.MaxTesters,
		StartDate:      start,
		EndDate:        end,
		FeedbackSchema: in.FeedbackSchema,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if in.Open {
		t.Status = model.RequestOpen
	}
	if err := s.uow.do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return s.requests.CreateTx(ctx, tx, t)
	}); err != nil {
		return nil, err
	}
	return t, nil
}

// TransitionRequest moves a request through its lifecycle.
func (s *RequestService) TransitionRequest(ctx context.Context, id string, target model.RequestStatus) (*model.TestingRequest, error) {
	parsed, ok := model.ParseRequestStatus(string(target))
	if !ok {
		return nil, validation("unknown request status %q", target)
	}
	target = parsed
	var t *model.TestingRequest
	err := s.uow.run(ctx, ledger.RequestKey(id), func(ctx context.Context, tx *sql.Tx) error {
		var err error
		if t, err = s.requests.GetTx(ctx, tx, id); err != nil {
			return notFound(err, "request", id)
		}
		if !t.Status.CanTransition(target) {
			return fmt.Errorf("%w: request %s -> %s", ErrInvalidTransition, t.Status, target)
		}
		now := s.now()
		if err := s.requests.UpdateStatusTx(ctx, tx, id, target, now); err != nil {
			return err
		}
		t.Status = target
		t.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// JoinRequest adds a tester to an OPEN request that has room.
func (s *RequestService) JoinRequest(ctx context.Context, id, testerID string) (*model.TestingRequest, error) {
	if strings.TrimSpace(testerID) == "" {
		return nil, validation("tester id is required")
	}
	var t *model.TestingRequest
	err := s.uow.run(ctx, ledger.RequestKey(id), func(ctx context.Context, tx *sql.Tx) error {
		var err error
		if t, err = s.requests.GetTx(ctx, tx, id); err != nil {
			return notFound(err, "request", id)
		}
		if t.Status != model.RequestOpen {
			return fmt.Errorf("%w: request is %s", ErrRequestClosed, t.Status)
		}
		joined, err := s.requests.HasActiveTesterTx(ctx, tx, id, testerID)
		if err != nil {
			return err
		}
		if joined {
			return fmt.Errorf("%w: %s already joined request %s", ErrAlreadyRegistered, testerID, id)
		}
		if !t.HasRoom() {
			return fmt.Errorf("%w: request %s has %d/%d testers", ErrRequestClosed, id, t.CurrentTesterCount, *t.MaxTesters)
		}
		if err := s.requests.AddTesterTx(ctx, tx, id, testerID, s.now()); err != nil {
			return err
		}
		t.CurrentTesterCount++
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// LeaveRequest takes a tester off the roster.
func (s *RequestService) LeaveRequest(ctx context.Context, id, testerID string) (*model.TestingRequest, error) {
	if strings.TrimSpace(testerID) == "" {
		return nil, validation("tester id is required")
	}
	var t *model.TestingRequest
	err := s.uow.run(ctx, ledger.RequestKey(id), func(ctx context.Context, tx *sql.Tx) error {
		var err error
		if t, err = s.requests.GetTx(ctx, tx, id); err != nil {
			return notFound(err, "request", id)
		}
		if err := s.requests.RemoveTesterTx(ctx, tx, id, testerID, s.now()); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%w: %s is not on request %s", ErrNotRegistered, testerID, id)
			}
			return err
		}
		t.CurrentTesterCount--
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// GetRequest returns one request with its current tester count.
func (s *RequestService) GetRequest(ctx context.Context, id string) (*model.TestingRequest, error) {
	t, err := s.requests.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err, "request", id)
	}
	return t, nil
}

// ListRequests returns requests matching f.
func (s *RequestService) ListRequests(ctx context.Context, f repository.RequestFilter) ([]model.TestingRequest, error) {
	return s.requests.List(ctx, f)
}
