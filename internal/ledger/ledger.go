// Package ledger answers "is there room in this session" and serializes
// the units of work that change the answer.  Counts are recomputed from
// registration rows on every call, inside the caller's transaction, so the
// ledger never drifts from the rows it summarizes.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iliyamo/playtest-sessions/internal/model"
)

// ErrCapacityExceeded is returned by Reserve when the role is at its limit.
var ErrCapacityExceeded = errors.New("capacity exceeded")

// Store is the slice of the registration repository the ledger needs.
type Store interface {
	CountHoldingTx(ctx context.Context, tx *sql.Tx, sessionID string, role model.Role) (int, error)
	ReleaseSlotTx(ctx context.Context, tx *sql.Tx, registrationID string) (bool, error)
}

// Ledger checks and releases session slots.  Callers must hold the
// session's key lock for the lifetime of tx.
type Ledger struct {
	store Store
}

// New returns a Ledger backed by store.
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// Count returns how many registrations of role hold a slot in the session.
func (l *Ledger) Count(ctx context.Context, tx *sql.Tx, sessionID string, role model.Role) (int, error) {
	return l.store.CountHoldingTx(ctx, tx, sessionID, role)
}

// Reserve reports whether one more registration of role fits the session.
// The slot itself is taken by inserting a row with HoldsSlot set in the
// same transaction.
func (l *Ledger) Reserve(ctx context.Context, tx *sql.Tx, s *model.Session, role model.Role) error {
	limit, limited := s.MaxFor(role)
	if !limited {
		return nil
	}
	n, err := l.store.CountHoldingTx(ctx, tx, s.ID, role)
	if err != nil {
		return fmt.Errorf("count %s slots: %w", role, err)
	}
	if n >= limit {
		return fmt.Errorf("%w: %d/%d %s slots taken", ErrCapacityExceeded, n, limit, role)
	}
	return nil
}

// Release frees the slot held by a registration.  A second release of the
// same registration is a no-op and reports false.
func (l *Ledger) Release(ctx context.Context, tx *sql.Tx, registrationID string) (bool, error) {
	return l.store.ReleaseSlotTx(ctx, tx, registrationID)
}

// SessionKey is the lock key for work on one session.
func SessionKey(id string) string { return "session:" + id }

// FeedbackKey is the lock key for moderation of one feedback item.
func FeedbackKey(id string) string { return "feedback:" + id }

// RequestKey is the lock key for roster changes on one testing request.
func RequestKey(id string) string { return "request:" + id }

// LocationKey is the lock key for scheduling against one location.
func LocationKey(id string) string { return "location:" + id }
