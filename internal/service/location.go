package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/iliyamo/playtest-sessions/internal/ledger"
	"github.com/iliyamo/playtest-sessions/internal/model"
	"github.com/iliyamo/playtest-sessions/internal/repository"
)

// LocationService manages the rooms sessions are scheduled in.
type LocationService struct{ *core }

// LocationInput carries the editable fields of a location.  A blank
// Status means ACTIVE on create and "unchanged" on update.
type LocationInput struct {
	Name                string `json:"name"`
	Address             string `json:"address"`
	MaxTestersCapacity  int    `json:"max_testers_capacity"`
	MaxProjectsCapacity int    `json:"max_projects_capacity"`
	Equipment           string `json:"equipment"`
	Status              string `json:"status"`
}

func (in *LocationInput) apply(l *model.Location) error {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return validation("name is required")
	}
	if in.MaxTestersCapacity < 1 {
		return validation("max_testers_capacity must be at least 1")
	}
	if in.MaxProjectsCapacity < 0 {
		return validation("max_projects_capacity must not be negative")
	}
	if in.Status != "" {
		st, ok := model.ParseLocationStatus(in.Status)
		if !ok {
			return validation("unknown location status %q", in.Status)
		}
		l.Status = st
	}
	l.Name = name
	l.Address = strings.TrimSpace(in.Address)
	l.MaxTestersCapacity = in.MaxTestersCapacity
	l.MaxProjectsCapacity = in.MaxProjectsCapacity
	l.Equipment = strings.TrimSpace(in.Equipment)
	return nil
}

// CreateLocation stores a new location.
func (s *LocationService) CreateLocation(ctx context.Context, in LocationInput) (*model.Location, error) {
	l := &model.Location{Status: model.LocationActive}
	if err := in.apply(l); err != nil {
		return nil, err
	}
	now := s.now()
	l.CreatedAt, l.UpdatedAt = now, now
	if err := s.uow.do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return s.locations.CreateTx(ctx, tx, l)
	}); err != nil {
		return nil, err
	}
	return l, nil
}

// UpdateLocation overwrites a location's editable fields.  Updates
// serialize with scheduling on the location key, so a session is never
// created against capacity that is being reduced.
func (s *LocationService) UpdateLocation(ctx context.Context, id string, in LocationInput) (*model.Location, error) {
	var l *model.Location
	err := s.uow.run(ctx, ledger.LocationKey(id), func(ctx context.Context, tx *sql.Tx) error {
		var err error
		if l, err = s.locations.GetTx(ctx, tx, id); err != nil {
			return notFound(err, "location", id)
		}
		if err := in.apply(l); err != nil {
			return err
		}
		l.UpdatedAt = s.now()
		return s.locations.UpdateTx(ctx, tx, l)
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// GetLocation returns one location.
func (s *LocationService) GetLocation(ctx context.Context, id string) (*model.Location, error) {
	l, err := s.locations.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err, "location", id)
	}
	return l, nil
}

// ListLocations returns locations, optionally filtered by status.
func (s *LocationService) ListLocations(ctx context.Context, status string) ([]model.Location, error) {
	var st model.LocationStatus
	if status != "" {
		var ok bool
		if st, ok = model.ParseLocationStatus(status); !ok {
			return nil, validation("unknown location status %q", status)
		}
	}
	return s.locations.List(ctx, st)
}

// DeleteLocation removes a location.  It fails with ErrConflict while
// SCHEDULED or ACTIVE sessions reference it.
func (s *LocationService) DeleteLocation(ctx context.Context, id string) error {
	return s.uow.run(ctx, ledger.LocationKey(id), func(ctx context.Context, tx *sql.Tx) error {
		err := s.locations.DeleteTx(ctx, tx, id)
		if errors.Is(err, repository.ErrConflict) {
			return fmt.Errorf("%w: location %s has open sessions", ErrConflict, id)
		}
		return notFound(err, "location", id)
	})
}
