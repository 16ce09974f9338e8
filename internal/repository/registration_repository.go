package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/playtest-sessions/internal/model"
)

// RegistrationRepo manages session_registrations.  Rows are never deleted:
// cancellation is a status change and releasing a slot clears holds_slot.
type RegistrationRepo struct {
	db *sql.DB
}

// NewRegistrationRepo constructs a RegistrationRepo with the given DB handle.
func NewRegistrationRepo(db *sql.DB) *RegistrationRepo {
	return &RegistrationRepo{db: db}
}

const registrationColumns = `id, session_id, participant_id, registration_type, status, holds_slot, registered_at, attended_at, updated_at`

func scanRegistration(row rowScanner) (*model.Registration, error) {
	var (
		reg                     model.Registration
		role, status            string
		holds                   int
		registeredAt, updatedAt int64
		attendedAt              sql.NullInt64
	)
	if err := row.Scan(&reg.ID, &reg.SessionID, &reg.ParticipantID, &role, &status, &holds,
		&registeredAt, &attendedAt, &updatedAt); err != nil {
		return nil, err
	}
	reg.RegistrationType = model.Role(role)
	reg.Status = model.RegistrationStatus(status)
	reg.HoldsSlot = holds != 0
	reg.RegisteredAt = fromMillis(registeredAt)
	reg.AttendedAt = timePtr(attendedAt)
	reg.UpdatedAt = fromMillis(updatedAt)
	return &reg, nil
}

func collectRegistrations(rows *sql.Rows) ([]model.Registration, error) {
	defer rows.Close()
	out := []model.Registration{}
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *reg)
	}
	return out, rows.Err()
}

// CreateTx inserts a registration inside tx.  A uuid is assigned when
// reg.ID is empty.
func (r *RegistrationRepo) CreateTx(ctx context.Context, tx *sql.Tx, reg *model.Registration) error {
	if reg.ID == "" {
		reg.ID = uuid.NewString()
	}
	const q = `INSERT INTO session_registrations (` + registrationColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q, reg.ID, reg.SessionID, reg.ParticipantID, string(reg.RegistrationType),
		string(reg.Status), boolInt(reg.HoldsSlot), toMillis(reg.RegisteredAt), nullMillis(reg.AttendedAt),
		toMillis(reg.UpdatedAt))
	if IsUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// CurrentTx returns the participant's most recent non-cancelled
// registration for the session, or ErrNotFound.
func (r *RegistrationRepo) CurrentTx(ctx context.Context, tx *sql.Tx, sessionID, participantID string) (*model.Registration, error) {
	const q = `SELECT ` + registrationColumns + ` FROM session_registrations
               WHERE session_id = ? AND participant_id = ? AND status <> ?
               ORDER BY registered_at DESC, id DESC LIMIT 1`
	reg, err := scanRegistration(tx.QueryRowContext(ctx, q, sessionID, participantID, string(model.RegistrationCancelled)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return reg, err
}

// UpdateStatusTx moves a registration to status, stamping attendedAt when
// given.
func (r *RegistrationRepo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id string, status model.RegistrationStatus, attendedAt *time.Time, now time.Time) error {
	const q = `UPDATE session_registrations SET status = ?, attended_at = COALESCE(?, attended_at), updated_at = ? WHERE id = ?`
	res, err := tx.ExecContext(ctx, q, string(status), nullMillis(attendedAt), toMillis(now), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountHoldingTx counts registrations of role that currently hold a slot
// in the session.
func (r *RegistrationRepo) CountHoldingTx(ctx context.Context, tx *sql.Tx, sessionID string, role model.Role) (int, error) {
	const q = `SELECT COUNT(*) FROM session_registrations WHERE session_id = ? AND registration_type = ? AND holds_slot = 1`
	var n int
	err := tx.QueryRowContext(ctx, q, sessionID, string(role)).Scan(&n)
	return n, err
}

// ReleaseSlotTx clears holds_slot on one registration.  It reports false
// when the slot was already released.
func (r *RegistrationRepo) ReleaseSlotTx(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE session_registrations SET holds_slot = 0 WHERE id = ? AND holds_slot = 1`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CancelOpenBySessionTx cancels every PENDING or CONFIRMED registration of
// the session and returns how many rows changed.
func (r *RegistrationRepo) CancelOpenBySessionTx(ctx context.Context, tx *sql.Tx, sessionID string, now time.Time) (int64, error) {
	const q = `UPDATE session_registrations SET status = ?, updated_at = ? WHERE session_id = ? AND status IN (?, ?)`
	res, err := tx.ExecContext(ctx, q, string(model.RegistrationCancelled), toMillis(now), sessionID,
		string(model.RegistrationPending), string(model.RegistrationConfirmed))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ReleaseAllBySessionTx clears holds_slot on every registration of the
// session and returns how many slots were freed.
func (r *RegistrationRepo) ReleaseAllBySessionTx(ctx context.Context, tx *sql.Tx, sessionID string) (int64, error) {
	res, err := tx.ExecContext(ctx, `UPDATE session_registrations SET holds_slot = 0 WHERE session_id = ? AND holds_slot = 1`, sessionID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetByID retrieves a registration by its ID.
func (r *RegistrationRepo) GetByID(ctx context.Context, id string) (*model.Registration, error) {
	reg, err := scanRegistration(r.db.QueryRowContext(ctx, `SELECT `+registrationColumns+` FROM session_registrations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return reg, err
}

// ListBySession returns all registrations of a session, cancelled ones
// included, in registration order.
func (r *RegistrationRepo) ListBySession(ctx context.Context, sessionID string) ([]model.Registration, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+registrationColumns+` FROM session_registrations
        WHERE session_id = ? ORDER BY registered_at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	return collectRegistrations(rows)
}

// ListByParticipant returns a participant's registrations, newest first.
func (r *RegistrationRepo) ListByParticipant(ctx context.Context, participantID string) ([]model.Registration, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+registrationColumns+` FROM session_registrations
        WHERE participant_id = ? ORDER BY registered_at DESC, id DESC`, participantID)
	if err != nil {
		return nil, err
	}
	return collectRegistrations(rows)
}
