package service

import (
	"context"
	"errors"
	"testing"

	"github.com/iliyamo/playtest-sessions/internal/model"
)

func TestDeleteLocationConflictsWithOpenSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.session(t, 1, nil)

	if err := f.svc.Locations.DeleteLocation(ctx, s.LocationID); !errors.Is(err, ErrConflict) {
		t.Fatalf("want ErrConflict, got %v", err)
	}
	f.transition(t, s.ID, model.SessionCancelled)
	if err := f.svc.Locations.DeleteLocation(ctx, s.LocationID); err != nil {
		t.Fatalf("delete after cancel: %v", err)
	}
	if err := f.svc.Locations.DeleteLocation(ctx, s.LocationID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestLocationInputValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Locations.CreateLocation(ctx, LocationInput{Name: " ", MaxTestersCapacity: 1}); !errors.Is(err, ErrValidation) {
		t.Fatalf("blank name: want ErrValidation, got %v", err)
	}
	if _, err := f.svc.Locations.CreateLocation(ctx, LocationInput{Name: "Lab", MaxTestersCapacity: 1, Status: "closed"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("bad status: want ErrValidation, got %v", err)
	}
	l := f.location(t, 10, 2)
	if l.Status != model.LocationActive {
		t.Fatalf("new locations start ACTIVE, got %s", l.Status)
	}
	list, err := f.svc.Locations.ListLocations(ctx, "active")
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %v %+v", err, list)
	}
}
