// Package seed loads fixture data (locations, testing requests, sessions)
// from YAML and creates it through the services, so seeded rows obey the
// same validation as API writes.
package seed

import (
	"context"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/iliyamo/playtest-sessions/internal/service"
)

// File is the seed document.  Sessions refer to locations and requests by
// their Key, which only lives inside the document.
type File struct {
	Locations []Location `yaml:"locations"`
	Requests  []Request  `yaml:"requests"`
	Sessions  []Session  `yaml:"sessions"`
}

type Location struct {
	Key                 string `yaml:"key"`
	Name                string `yaml:"name"`
	Address             string `yaml:"address"`
	MaxTestersCapacity  int    `yaml:"max_testers_capacity"`
	MaxProjectsCapacity int    `yaml:"max_projects_capacity"`
	Equipment           string `yaml:"equipment"`
}

type Request struct {
	Key         string `yaml:"key"`
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	ProjectID   string `yaml:"project_id"`
	VersionID   string `yaml:"version_id"`
	OwnerID     string `yaml:"owner_id"`
	MaxTesters  *int   `yaml:"max_testers"`
	StartDate   string `yaml:"start_date"`
	EndDate     string `yaml:"end_date"`
	Open        bool   `yaml:"open"`
}

type Session struct {
	Name          string   `yaml:"name"`
	Location      string   `yaml:"location"`
	ManagerID     string   `yaml:"manager_id"`
	Date          string   `yaml:"date"`
	Start         string   `yaml:"start"`
	End           string   `yaml:"end"`
	MaxTesters    int      `yaml:"max_testers"`
	MaxDevelopers *int     `yaml:"max_developers"`
	MaxObservers  *int     `yaml:"max_observers"`
	AutoConfirm   *bool    `yaml:"auto_confirm"`
	Requests      []string `yaml:"requests"`
}

// Result maps document keys to the ids the services assigned.
type Result struct {
	Locations map[string]string
	Requests  map[string]string
	Sessions  []string
}

// Decode parses a seed document.  Unknown fields are rejected.
func Decode(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	return &f, nil
}

// Apply creates the document's entities in dependency order.  It stops at
// the first failure; rows created before it are kept.
func Apply(ctx context.Context, svc *service.Services, f *File) (*Result, error) {
	res := &Result{Locations: map[string]string{}, Requests: map[string]string{}}

	for i, l := range f.Locations {
		if l.Key == "" {
			return res, fmt.Errorf("locations[%d]: key is required", i)
		}
		if _, dup := res.Locations[l.Key]; dup {
			return res, fmt.Errorf("locations[%d]: duplicate key %q", i, l.Key)
		}
		loc, err := svc.Locations.CreateLocation(ctx, service.LocationInput{
			Name:                l.Name,
			Address:             l.Address,
			MaxTestersCapacity:  l.MaxTestersCapacity,
			MaxProjectsCapacity: l.MaxProjectsCapacity,
			Equipment:           l.Equipment,
		})
		if err != nil {
			return res, fmt.Errorf("location %q: %w", l.Key, err)
		}
		res.Locations[l.Key] = loc.ID
	}

	for i, r := range f.Requests {
		if r.Key == "" {
			return res, fmt.Errorf("requests[%d]: key is required", i)
		}
		if _, dup := res.Requests[r.Key]; dup {
			return res, fmt.Errorf("requests[%d]: duplicate key %q", i, r.Key)
		}
		t, err := svc.Requests.CreateRequest(ctx, service.CreateRequestInput{
			Title:       r.Title,
			Description: r.Description,
			ProjectID:   r.ProjectID,
			VersionID:   r.VersionID,
			OwnerID:     r.OwnerID,
			MaxTesters:  r.MaxTesters,
			StartDate:   r.StartDate,
			EndDate:     r.EndDate,
			Open:        r.Open,
		})
		if err != nil {
			return res, fmt.Errorf("request %q: %w", r.Key, err)
		}
		res.Requests[r.Key] = t.ID
	}

	for i, s := range f.Sessions {
		locID, ok := res.Locations[s.Location]
		if !ok {
			return res, fmt.Errorf("sessions[%d]: unknown location %q", i, s.Location)
		}
		reqIDs := make([]string, 0, len(s.Requests))
		for _, key := range s.Requests {
			id, ok := res.Requests[key]
			if !ok {
				return res, fmt.Errorf("sessions[%d]: unknown request %q", i, key)
			}
			reqIDs = append(reqIDs, id)
		}
		v, err := svc.Sessions.CreateSession(ctx, service.CreateSessionInput{
			Name:          s.Name,
			LocationID:    locID,
			ManagerID:     s.ManagerID,
			Date:          s.Date,
			Start:         s.Start,
			End:           s.End,
			MaxTesters:    s.MaxTesters,
			MaxDevelopers: s.MaxDevelopers,
			MaxObservers:  s.MaxObservers,
			AutoConfirm:   s.AutoConfirm,
			RequestIDs:    reqIDs,
		})
		if err != nil {
			return res, fmt.Errorf("session %q: %w", s.Name, err)
		}
		res.Sessions = append(res.Sessions, v.ID)
	}
	return res, nil
}
