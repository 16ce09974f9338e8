package model

import (
	"strings"
	"time"
)

// LocationStatus is the operational state of a testing location.
type LocationStatus string

const (
	LocationActive      LocationStatus = "ACTIVE"
	LocationMaintenance LocationStatus = "MAINTENANCE"
	LocationInactive    LocationStatus = "INACTIVE"
)

// ParseLocationStatus normalizes s and reports whether it names a known status.
func ParseLocationStatus(s string) (LocationStatus, bool) {
	switch v := LocationStatus(strings.ToUpper(strings.TrimSpace(s))); v {
	case LocationActive, LocationMaintenance, LocationInactive:
		return v, true
	}
	return "", false
}

// Location represents a lab room where playtest sessions take place.
// Sessions reference a location without owning it.  A session can only
// be scheduled at an ACTIVE location whose capacities cover the
// session's configured maxima.
//
// Fields:
//
//	ID                  – primary key identifier (uuid).
//	Name                – display name.
//	Address             – free-form address or room number.
//	MaxTestersCapacity  – how many testers the room can seat.
//	MaxProjectsCapacity – how many projects can be demoed at once.
//	Equipment           – description of available hardware.
//	Status              – ACTIVE, MAINTENANCE or INACTIVE.
//	CreatedAt/UpdatedAt – bookkeeping timestamps.
type Location struct {
	ID                  string         `json:"id"`
	Name                string         `json:"name"`
	Address             string         `json:"address"`
	MaxTestersCapacity  int            `json:"max_testers_capacity"`
	MaxProjectsCapacity int            `json:"max_projects_capacity"`
	Equipment           string         `json:"equipment,omitempty"`
	Status              LocationStatus `json:"status"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// CanHost reports whether a session with the given maxima fits the location.
func (l *Location) CanHost(maxTesters, projects int) bool {
	return l.Status == LocationActive &&
		l.MaxTestersCapacity >= maxTesters &&
		l.MaxProjectsCapacity >= projects
}
