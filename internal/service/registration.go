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

// RegistrationService moves participants in and out of sessions.  All
// calls for one session are serialized on the session's key, so the
// capacity check and the insert that takes the slot are atomic.
type RegistrationService struct{ *core }

func requireIDs(sessionID, participantID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return validation("session id is required")
	}
	if strings.TrimSpace(participantID) == "" {
		return validation("participant id is required")
	}
	return nil
}

func (s *RegistrationService) record(ctx context.Context, op string, role model.Role, err error) {
	telemetry.Count(ctx, s.metrics.Registrations, telemetry.OperationKey.String(op),
		telemetry.OutcomeKey.String(outcome(err)), telemetry.RoleKey.String(string(role)))
	if errors.Is(err, ErrInvalidTransition) {
		s.log.Warn("registration state violation", "op", op, "err", err)
	}
}

// loadSession reads the session row inside tx.
func (s *RegistrationService) loadSession(ctx context.Context, tx *sql.Tx, id string) (*model.Session, error) {
	sess, err := s.sessions.GetTx(ctx, tx, id)
	if err != nil {
		return nil, notFound(err, "session", id)
	}
	return sess, nil
}

// current returns the participant's live registration or ErrNotRegistered.
func (s *RegistrationService) current(ctx context.Context, tx *sql.Tx, sessionID, participantID string) (*model.Registration, error) {
	reg, err := s.registrations.CurrentTx(ctx, tx, sessionID, participantID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s in session %s", ErrNotRegistered, participantID, sessionID)
	}
	return reg, err
}

// Join registers participantID in the session with the given role.  The
// registration starts CONFIRMED when the session auto-confirms, PENDING
// otherwise.
func (s *RegistrationService) Join(ctx context.Context, sessionID, participantID string, role model.Role) (reg *model.Registration, err error) {
	defer func() { s.record(ctx, "join", role, err) }()
	if err := requireIDs(sessionID, participantID); err != nil {
		return nil, err
	}
	r, ok := model.ParseRole(string(role))
	if !ok {
		return nil, validation("unknown registration type %q", role)
	}
	role = r

	err = s.uow.run(ctx, ledger.SessionKey(sessionID), func(ctx context.Context, tx *sql.Tx) error {
		sess, err := s.loadSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if sess.Status != model.SessionScheduled {
			return fmt.Errorf("%w: session is %s", ErrSessionNotOpen, sess.Status)
		}
		if _, err := s.registrations.CurrentTx(ctx, tx, sessionID, participantID); err == nil {
			return fmt.Errorf("%w: %s in session %s", ErrAlreadyRegistered, participantID, sessionID)
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		if err := s.ledger.Reserve(ctx, tx, sess, role); err != nil {
			if errors.Is(err, ledger.ErrCapacityExceeded) {
				return fmt.Errorf("%w: %w", ErrSessionFull, err)
			}
			return err
		}
		now := s.now()
		status := model.RegistrationPending
		if sess.AutoConfirm {
			status = model.RegistrationConfirmed
		}
		reg = &model.Registration{
			SessionID:        sessionID,
			ParticipantID:    participantID,
			RegistrationType: role,
			Status:           status,
			HoldsSlot:        true,
			RegisteredAt:     now,
			UpdatedAt:        now,
		}
		return s.registrations.CreateTx(ctx, tx, reg)
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, registrationEvent(queue.RegistrationJoined, reg, "", string(reg.Status)))
	return reg, nil
}

// Leave cancels the participant's registration.  Leaving a SCHEDULED
// session always frees the slot; leaving an ACTIVE one frees it when the
// late-leave policy allows.  COMPLETED and CANCELLED sessions are frozen.
func (s *RegistrationService) Leave(ctx context.Context, sessionID, participantID string) (reg *model.Registration, err error) {
	defer func() {
		var role model.Role
		if reg != nil {
			role = reg.RegistrationType
		}
		s.record(ctx, "leave", role, err)
	}()
	if err := requireIDs(sessionID, participantID); err != nil {
		return nil, err
	}
	var from model.RegistrationStatus
	err = s.uow.run(ctx, ledger.SessionKey(sessionID), func(ctx context.Context, tx *sql.Tx) error {
		sess, err := s.loadSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if sess.Status.Terminal() {
			return fmt.Errorf("%w: session is %s", ErrSessionNotOpen, sess.Status)
		}
		cur, err := s.current(ctx, tx, sessionID, participantID)
		if err != nil {
			return err
		}
		if !cur.Status.Open() {
			return fmt.Errorf("%w: registration is %s", ErrNotRegistered, cur.Status)
		}
		now := s.now()
		if err := s.registrations.UpdateStatusTx(ctx, tx, cur.ID, model.RegistrationCancelled, nil, now); err != nil {
			return err
		}
		if sess.Status == model.SessionScheduled || s.policy.ReleaseOnLateLeave {
			released, err := s.ledger.Release(ctx, tx, cur.ID)
			if err != nil {
				return err
			}
			cur.HoldsSlot = cur.HoldsSlot && !released
		}
		from = cur.Status
		cur.Status = model.RegistrationCancelled
		cur.UpdatedAt = now
		reg = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, registrationEvent(queue.RegistrationLeft, reg, string(from), string(reg.Status)))
	return reg, nil
}

// Confirm moves a PENDING registration to CONFIRMED.
func (s *RegistrationService) Confirm(ctx context.Context, sessionID, participantID string) (*model.Registration, error) {
	return s.decide(ctx, "confirm", queue.RegistrationConfirmed, sessionID, participantID, model.RegistrationConfirmed)
}

// Reject moves a PENDING registration to CANCELLED and frees its slot.
func (s *RegistrationService) Reject(ctx context.Context, sessionID, participantID string) (*model.Registration, error) {
	return s.decide(ctx, "reject", queue.RegistrationRejected, sessionID, participantID, model.RegistrationCancelled)
}

func (s *RegistrationService) decide(ctx context.Context, op, eventType, sessionID, participantID string, to model.RegistrationStatus) (reg *model.Registration, err error) {
	defer func() {
		var role model.Role
		if reg != nil {
			role = reg.RegistrationType
		}
		s.record(ctx, op, role, err)
	}()
	if err := requireIDs(sessionID, participantID); err != nil {
		return nil, err
	}
	err = s.uow.run(ctx, ledger.SessionKey(sessionID), func(ctx context.Context, tx *sql.Tx) error {
		sess, err := s.loadSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if sess.Status != model.SessionScheduled && sess.Status != model.SessionActive {
			return fmt.Errorf("%w: session is %s", ErrSessionNotOpen, sess.Status)
		}
		cur, err := s.current(ctx, tx, sessionID, participantID)
		if err != nil {
			return err
		}
		if cur.Status != model.RegistrationPending {
			return fmt.Errorf("%w: cannot %s a %s registration", ErrInvalidTransition, op, cur.Status)
		}
		now := s.now()
		if err := s.registrations.UpdateStatusTx(ctx, tx, cur.ID, to, nil, now); err != nil {
			return err
		}
		if to == model.RegistrationCancelled {
			released, err := s.ledger.Release(ctx, tx, cur.ID)
			if err != nil {
				return err
			}
			cur.HoldsSlot = cur.HoldsSlot && !released
		}
		cur.Status = to
		cur.UpdatedAt = now
		reg = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, registrationEvent(eventType, reg, string(model.RegistrationPending), string(to)))
	return reg, nil
}

// MarkAttendance records whether a CONFIRMED participant showed up.  It is
// allowed while the session is ACTIVE and for the attendance grace period
// after it completes.
func (s *RegistrationService) MarkAttendance(ctx context.Context, sessionID, participantID string, attended bool) (reg *model.Registration, err error) {
	defer func() {
		var role model.Role
		if reg != nil {
			role = reg.RegistrationType
		}
		s.record(ctx, "attendance", role, err)
	}()
	if err := requireIDs(sessionID, participantID); err != nil {
		return nil, err
	}
	err = s.uow.run(ctx, ledger.SessionKey(sessionID), func(ctx context.Context, tx *sql.Tx) error {
		sess, err := s.loadSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		now := s.now()
		if !s.attendanceOpen(sess, now) {
			return fmt.Errorf("%w: attendance cannot be marked while session is %s", ErrInvalidTransition, sess.Status)
		}
		cur, err := s.current(ctx, tx, sessionID, participantID)
		if err != nil {
			return err
		}
		to := model.RegistrationNoShow
		var at *time.Time
		if attended {
			to = model.RegistrationAttended
			at = &now
		}
		if !cur.Status.CanTransition(to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, to)
		}
		if err := s.registrations.UpdateStatusTx(ctx, tx, cur.ID, to, at, now); err != nil {
			return err
		}
		cur.Status = to
		cur.AttendedAt = at
		cur.UpdatedAt = now
		reg = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, registrationEvent(queue.RegistrationAttended, reg, string(model.RegistrationConfirmed), string(reg.Status)))
	return reg, nil
}

func (s *RegistrationService) attendanceOpen(sess *model.Session, now time.Time) bool {
	switch sess.Status {
	case model.SessionActive:
		return true
	case model.SessionCompleted:
		return sess.CompletedAt != nil && now.Before(sess.CompletedAt.Add(s.policy.AttendanceGrace))
	}
	return false
}

// ListRegistrations returns every registration of a session, cancelled
// ones included.
func (s *RegistrationService) ListRegistrations(ctx context.Context, sessionID string) ([]model.Registration, error) {
	if _, err := s.sessions.GetByID(ctx, sessionID); err != nil {
		return nil, notFound(err, "session", sessionID)
	}
	return s.registrations.ListBySession(ctx, sessionID)
}

// ParticipantRegistrations returns a participant's registration history.
func (s *RegistrationService) ParticipantRegistrations(ctx context.Context, participantID string) ([]model.Registration, error) {
	if strings.TrimSpace(participantID) == "" {
		return nil, validation("participant id is required")
	}
	return s.registrations.ListByParticipant(ctx, participantID)
}

func registrationEvent(typ string, reg *model.Registration, from, to string) queue.Event {
	return queue.Event{
		Type:           typ,
		SessionID:      reg.SessionID,
		RegistrationID: reg.ID,
		ParticipantID:  reg.ParticipantID,
		Role:           string(reg.RegistrationType),
		From:           from,
		To:             to,
		OccurredAt:     reg.UpdatedAt,
	}
}
