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
	"github.com/iliyamo/playtest-sessions/internal/queue"
	"github.com/iliyamo/playtest-sessions/internal/repository"
	"github.com/iliyamo/playtest-sessions/internal/telemetry"
)

// SessionService schedules sessions and drives their state machine.
type SessionService struct{ *core }

// CreateSessionInput describes a new session.  Date is YYYY-MM-DD and
// Start/End are HH:MM, all in UTC.  A nil AutoConfirm takes the policy
// default.
type CreateSessionInput struct {
	Name          string   `json:"name"`
	LocationID    string   `json:"location_id"`
	ManagerID     string   `json:"manager_id"`
	Date          string   `json:"date"`
	Start         string   `json:"start"`
	End           string   `json:"end"`
	MaxTesters    int      `json:"max_testers"`
	MaxDevelopers *int     `json:"max_developers,omitempty"`
	MaxObservers  *int     `json:"max_observers,omitempty"`
	AutoConfirm   *bool    `json:"auto_confirm,omitempty"`
	RequestIDs    []string `json:"request_ids"`
}

func parseSlot(date, clock string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02 15:04", strings.TrimSpace(date)+" "+strings.TrimSpace(clock), time.UTC)
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func (in *CreateSessionInput) validate(today time.Time) (startsAt, endsAt time.Time, err error) {
	if strings.TrimSpace(in.Name) == "" {
		return startsAt, endsAt, validation("name is required")
	}
	if strings.TrimSpace(in.LocationID) == "" {
		return startsAt, endsAt, validation("location_id is required")
	}
	if strings.TrimSpace(in.ManagerID) == "" {
		return startsAt, endsAt, validation("manager_id is required")
	}
	if in.MaxTesters < 1 {
		return startsAt, endsAt, validation("max_testers must be at least 1")
	}
	if in.MaxDevelopers != nil && *in.MaxDevelopers < 0 {
		return startsAt, endsAt, validation("max_developers must not be negative")
	}
	if in.MaxObservers != nil && *in.MaxObservers < 0 {
		return startsAt, endsAt, validation("max_observers must not be negative")
	}
	if startsAt, err = parseSlot(in.Date, in.Start); err != nil {
		return startsAt, endsAt, validation("invalid date or start time: %v", err)
	}
	if endsAt, err = parseSlot(in.Date, in.End); err != nil {
		return startsAt, endsAt, validation("invalid end time: %v", err)
	}
	if !endsAt.After(startsAt) {
		return startsAt, endsAt, validation("end time must be after start time")
	}
	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	if startsAt.Before(day) {
		return startsAt, endsAt, validation("session date %s is in the past", in.Date)
	}
	return startsAt, endsAt, nil
}

// CreateSession schedules a session at an ACTIVE location whose capacity
// covers the session's maxima.  Scheduling is serialized per location.
func (s *SessionService) CreateSession(ctx context.Context, in CreateSessionInput) (*model.SessionView, error) {
	now := s.now()
	startsAt, endsAt, err := in.validate(now)
	if err != nil {
		return nil, err
	}
	requestIDs := dedupe(in.RequestIDs)
	autoConfirm := s.policy.AutoConfirm
	if in.AutoConfirm != nil {
		autoConfirm = *in.AutoConfirm
	}
	sess := &model.Session{
		Name:          strings.TrimSpace(in.Name),
		LocationID:    in.LocationID,
		ManagerID:     in.ManagerID,
		StartsAt:      startsAt,
		EndsAt:        endsAt,
		MaxTesters:    in.MaxTesters,
		MaxDevelopers: in.MaxDevelopers,
		MaxObservers:  in.MaxObservers,
		AutoConfirm:   autoConfirm,
		Status:        model.SessionScheduled,
		RequestIDs:    requestIDs,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err = s.uow.run(ctx, ledger.LocationKey(in.LocationID), func(ctx context.Context, tx *sql.Tx) error {
		loc, err := s.locations.GetTx(ctx, tx, in.LocationID)
		if err != nil {
			return notFound(err, "location", in.LocationID)
		}
		if loc.Status != model.LocationActive {
			return validation("location %s is %s", loc.ID, loc.Status)
		}
		if !loc.CanHost(in.MaxTesters, len(requestIDs)) {
			return validation("location %s holds %d testers and %d projects", loc.ID, loc.MaxTestersCapacity, loc.MaxProjectsCapacity)
		}
		if n, err := s.requests.CountExistingTx(ctx, tx, requestIDs); err != nil {
			return err
		} else if n != len(requestIDs) {
			return validation("unknown testing request in request_ids")
		}
		return s.sessions.CreateTx(ctx, tx, sess)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("session scheduled", "session_id", sess.ID, "location_id", sess.LocationID, "starts_at", sess.StartsAt)
	return &model.SessionView{Session: *sess, RegisteredProjectCount: len(requestIDs)}, nil
}

// GetSession returns a session with its derived counts.
func (s *SessionService) GetSession(ctx context.Context, id string) (*model.SessionView, error) {
	v, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err, "session", id)
	}
	return v, nil
}

// ListSessions returns sessions matching f.
func (s *SessionService) ListSessions(ctx context.Context, f repository.SessionFilter) ([]model.SessionView, error) {
	return s.sessions.List(ctx, f)
}

// TransitionSession moves a session to target.  Cancelling cascades: every
// PENDING or CONFIRMED registration is cancelled and every slot of the
// session is released in the same transaction.  COMPLETED stamps the
// completion time.
func (s *SessionService) TransitionSession(ctx context.Context, id string, target model.SessionStatus, actorID string) (*model.Session, error) {
	parsed, ok := model.ParseSessionStatus(string(target))
	if !ok {
		return nil, validation("unknown session status %q", target)
	}
	target = parsed
	var (
		sess     *model.Session
		from     model.SessionStatus
		affected int64
	)
	err := s.uow.run(ctx, ledger.SessionKey(id), func(ctx context.Context, tx *sql.Tx) error {
		var err error
		if sess, err = s.sessions.GetTx(ctx, tx, id); err != nil {
			return notFound(err, "session", id)
		}
		from = sess.Status
		if !from.CanTransition(target) {
			return fmt.Errorf("%w: session %s -> %s", ErrInvalidTransition, from, target)
		}
		now := s.now()
		var completedAt *time.Time
		switch target {
		case model.SessionCancelled:
			if affected, err = s.registrations.CancelOpenBySessionTx(ctx, tx, id, now); err != nil {
				return err
			}
			if _, err = s.registrations.ReleaseAllBySessionTx(ctx, tx, id); err != nil {
				return err
			}
		case model.SessionCompleted:
			completedAt = &now
		}
		if err := s.sessions.UpdateStatusTx(ctx, tx, id, target, completedAt, now); err != nil {
			return err
		}
		sess.Status = target
		sess.UpdatedAt = now
		if completedAt != nil {
			sess.CompletedAt = completedAt
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			s.log.Warn("session state violation", "session_id", id, "target", target, "err", err)
		}
		return nil, err
	}
	telemetry.Count(ctx, s.metrics.Transitions, telemetry.FromKey.String(string(from)), telemetry.ToKey.String(string(target)))
	s.emit(ctx, queue.Event{
		Type:       queue.SessionTransitioned,
		SessionID:  id,
		From:       string(from),
		To:         string(target),
		Affected:   int(affected),
		ActorID:    actorID,
		OccurredAt: sess.UpdatedAt,
	})
	return sess, nil
}

// AdvanceDue activates SCHEDULED sessions whose start has passed and
// completes ACTIVE sessions whose end has passed.  The engine owns no
// timer; a scheduler or the CLI calls this periodically.
func (s *SessionService) AdvanceDue(ctx context.Context) (activated, completed []string, err error) {
	now := s.now()
	toActivate, toComplete, err := s.sessions.DueIDs(ctx, now)
	if err != nil {
		return nil, nil, err
	}
	for _, id := range toActivate {
		sess, err := s.TransitionSession(ctx, id, model.SessionActive, "")
		if errors.Is(err, ErrInvalidTransition) {
			continue
		}
		if err != nil {
			return activated, completed, err
		}
		activated = append(activated, id)
		if !sess.EndsAt.After(now) {
			toComplete = append(toComplete, id)
		}
	}
	for _, id := range toComplete {
		_, err := s.TransitionSession(ctx, id, model.SessionCompleted, "")
		if errors.Is(err, ErrInvalidTransition) {
			continue
		}
		if err != nil {
			return activated, completed, err
		}
		completed = append(completed, id)
	}
	return activated, completed, nil
}
