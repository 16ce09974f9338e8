package service

import (
	"context"
	"errors"
	"testing"

	"github.com/iliyamo/playtest-sessions/internal/model"
)

func TestRequestRoster(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	two := 2
	req, err := f.svc.Requests.CreateRequest(ctx, CreateRequestInput{Title: "Gamma", ProjectID: "p", OwnerID: "dev-1", MaxTesters: &two})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Requests.JoinRequest(ctx, req.ID, "alice"); !errors.Is(err, ErrRequestClosed) {
		t.Fatalf("draft request: want ErrRequestClosed, got %v", err)
	}
	if _, err := f.svc.Requests.TransitionRequest(ctx, req.ID, model.RequestOpen); err != nil {
		t.Fatal(err)
	}
	for _, who := range []string{"alice", "bob"} {
		if _, err := f.svc.Requests.JoinRequest(ctx, req.ID, who); err != nil {
			t.Fatalf("join %s: %v", who, err)
		}
	}
	if _, err := f.svc.Requests.JoinRequest(ctx, req.ID, "alice"); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("rejoin: want ErrAlreadyRegistered, got %v", err)
	}
	if _, err := f.svc.Requests.JoinRequest(ctx, req.ID, "carol"); !errors.Is(err, ErrRequestClosed) {
		t.Fatalf("full request: want ErrRequestClosed, got %v", err)
	}
	got, err := f.svc.Requests.LeaveRequest(ctx, req.ID, "alice")
	if err != nil || got.CurrentTesterCount != 1 {
		t.Fatalf("leave: %v %+v", err, got)
	}
	if _, err := f.svc.Requests.LeaveRequest(ctx, req.ID, "alice"); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("second leave: want ErrNotRegistered, got %v", err)
	}
	if _, err := f.svc.Requests.JoinRequest(ctx, req.ID, "carol"); err != nil {
		t.Fatalf("join after leave: %v", err)
	}
	if _, err := f.svc.Requests.TransitionRequest(ctx, req.ID, model.RequestDraft); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("open -> draft: want ErrInvalidTransition, got %v", err)
	}
}

func TestTransitionRequestNormalizesStatus(t *testing.T) {
	f := newFixture(t)
	req := f.request(t, true)
	got, err := f.svc.Requests.TransitionRequest(context.Background(), req.ID, "in-progress")
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if got.Status != model.RequestInProgress {
		t.Fatalf("want IN_PROGRESS, got %s", got.Status)
	}
	if _, err := f.svc.Requests.TransitionRequest(context.Background(), req.ID, "completed"); err != nil {
		t.Fatalf("complete: %v", err)
	}
}

func TestRequestRosterRequiresTester(t *testing.T) {
	f := newFixture(t)
	req := f.request(t, true)
	for _, id := range []string{"", "   "} {
		if _, err := f.svc.Requests.LeaveRequest(context.Background(), req.ID, id); !errors.Is(err, ErrValidation) {
			t.Fatalf("leave with %q: want ErrValidation, got %v", id, err)
		}
		if _, err := f.svc.Requests.JoinRequest(context.Background(), req.ID, id); !errors.Is(err, ErrValidation) {
			t.Fatalf("join with %q: want ErrValidation, got %v", id, err)
		}
	}
}
