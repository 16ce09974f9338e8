package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/playtest-sessions/internal/database"
	"github.com/iliyamo/playtest-sessions/internal/model"
)

// SessionRepo manages persistence for sessions and their linked requests.
// Registration counts are never stored; reads that need them compute the
// counts from session_registrations in the same statement.
type SessionRepo struct {
	db      *sql.DB
	dialect database.Dialect
}

// NewSessionRepo constructs a SessionRepo with the given DB handle.
func NewSessionRepo(db *sql.DB, dialect database.Dialect) *SessionRepo {
	return &SessionRepo{db: db, dialect: dialect}
}

// DB exposes the underlying sql.DB so callers can begin transactions that
// span multiple repositories.
func (r *SessionRepo) DB() *sql.DB { return r.db }

// SessionFilter narrows List.  Zero values mean "any".
type SessionFilter struct {
	Status     model.SessionStatus
	LocationID string
	ManagerID  string
	From, To   time.Time
	Limit      int
	Offset     int
}

const sessionColumns = `s.id, s.name, s.location_id, s.manager_id, s.starts_at, s.ends_at, s.max_testers,
    s.max_developers, s.max_observers, s.auto_confirm, s.status, s.completed_at, s.created_at, s.updated_at`

// sessionCounts are appended to sessionColumns for view reads.
const sessionCounts = `,
    (SELECT COUNT(*) FROM session_registrations r WHERE r.session_id = s.id AND r.holds_slot = 1 AND r.registration_type = 'TESTER'),
    (SELECT COUNT(*) FROM session_registrations r WHERE r.session_id = s.id AND r.holds_slot = 1 AND r.registration_type = 'DEVELOPER'),
    (SELECT COUNT(*) FROM session_requests sr WHERE sr.session_id = s.id)`

type rowScanner interface{ Scan(...any) error }

func sessionDest(s *model.Session, raw *sessionRaw) []any {
	return []any{&s.ID, &s.Name, &s.LocationID, &s.ManagerID, &raw.startsAt, &raw.endsAt, &s.MaxTesters,
		&raw.maxDevelopers, &raw.maxObservers, &raw.autoConfirm, &raw.status, &raw.completedAt,
		&raw.createdAt, &raw.updatedAt}
}

type sessionRaw struct {
	startsAt, endsAt, createdAt, updatedAt int64
	maxDevelopers, maxObservers           sql.NullInt64
	autoConfirm                           int
	status                                string
	completedAt                           sql.NullInt64
}

func (raw *sessionRaw) apply(s *model.Session) {
	s.StartsAt = fromMillis(raw.startsAt)
	s.EndsAt = fromMillis(raw.endsAt)
	s.MaxDevelopers = intPtr(raw.maxDevelopers)
	s.MaxObservers = intPtr(raw.maxObservers)
	s.AutoConfirm = raw.autoConfirm != 0
	s.Status = model.SessionStatus(raw.status)
	s.CompletedAt = timePtr(raw.completedAt)
	s.CreatedAt = fromMillis(raw.createdAt)
	s.UpdatedAt = fromMillis(raw.updatedAt)
}

func scanSession(row rowScanner) (*model.Session, error) {
	var (
		s   model.Session
		raw sessionRaw
	)
	if err := row.Scan(sessionDest(&s, &raw)...); err != nil {
		return nil, err
	}
	raw.apply(&s)
	return &s, nil
}

func scanSessionView(row rowScanner) (*model.SessionView, error) {
	var (
		v   model.SessionView
		raw sessionRaw
	)
	dest := append(sessionDest(&v.Session, &raw),
		&v.RegisteredTesterCount, &v.RegisteredProjectMemberCount, &v.RegisteredProjectCount)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	raw.apply(&v.Session)
	return &v, nil
}

// CreateTx inserts a session and its request links inside tx.  A uuid is
// assigned when s.ID is empty.
func (r *SessionRepo) CreateTx(ctx context.Context, tx *sql.Tx, s *model.Session) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	const q = `INSERT INTO sessions (id, name, location_id, manager_id, starts_at, ends_at, max_testers,
               max_developers, max_observers, auto_confirm, status, completed_at, created_at, updated_at)
               VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, q, s.ID, s.Name, s.LocationID, s.ManagerID, toMillis(s.StartsAt),
		toMillis(s.EndsAt), s.MaxTesters, nullInt(s.MaxDevelopers), nullInt(s.MaxObservers),
		boolInt(s.AutoConfirm), string(s.Status), nullMillis(s.CompletedAt),
		toMillis(s.CreatedAt), toMillis(s.UpdatedAt)); err != nil {
		if IsUniqueViolation(err) {
			return ErrConflict
		}
		return err
	}
	for _, reqID := range s.RequestIDs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO session_requests (session_id, request_id) VALUES (?, ?)`, s.ID, reqID); err != nil {
			if IsUniqueViolation(err) {
				return ErrConflict
			}
			return err
		}
	}
	return nil
}

// GetByID retrieves a session with its derived counts.  It returns
// ErrNotFound if there is no matching row.
func (r *SessionRepo) GetByID(ctx context.Context, id string) (*model.SessionView, error) {
	q := `SELECT ` + sessionColumns + sessionCounts + ` FROM sessions s WHERE s.id = ?`
	v, err := scanSessionView(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if v.RequestIDs, err = r.requestIDs(ctx, r.db, id); err != nil {
		return nil, err
	}
	return v, nil
}

// GetTx reads a session inside tx, locking the row on MySQL.  Request ids
// are not loaded.
func (r *SessionRepo) GetTx(ctx context.Context, tx *sql.Tx, id string) (*model.Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM sessions s WHERE s.id = ?` + r.dialect.LockClause()
	s, err := scanSession(tx.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

func (r *SessionRepo) requestIDs(ctx context.Context, q Querier, sessionID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT request_id FROM session_requests WHERE session_id = ? ORDER BY request_id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// List returns sessions matching f ordered by start time.  Request ids are
// not loaded for list reads.
func (r *SessionRepo) List(ctx context.Context, f SessionFilter) ([]model.SessionView, error) {
	q := `SELECT ` + sessionColumns + sessionCounts + ` FROM sessions s WHERE 1 = 1`
	var args []any
	if f.Status != "" {
		q += ` AND s.status = ?`
		args = append(args, string(f.Status))
	}
	if f.LocationID != "" {
		q += ` AND s.location_id = ?`
		args = append(args, f.LocationID)
	}
	if f.ManagerID != "" {
		q += ` AND s.manager_id = ?`
		args = append(args, f.ManagerID)
	}
	if !f.From.IsZero() {
		q += ` AND s.starts_at >= ?`
		args = append(args, toMillis(f.From))
	}
	if !f.To.IsZero() {
		q += ` AND s.starts_at < ?`
		args = append(args, toMillis(f.To))
	}
	q += ` ORDER BY s.starts_at ASC, s.id ASC`
	if f.Limit > 0 {
		q += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.SessionView{}
	for rows.Next() {
		v, err := scanSessionView(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

// UpdateStatusTx sets the status and, for COMPLETED, the completion stamp.
func (r *SessionRepo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id string, status model.SessionStatus, completedAt *time.Time, now time.Time) error {
	const q = `UPDATE sessions SET status = ?, completed_at = COALESCE(?, completed_at), updated_at = ? WHERE id = ?`
	res, err := tx.ExecContext(ctx, q, string(status), nullMillis(completedAt), toMillis(now), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DueIDs returns SCHEDULED sessions whose start has passed and ACTIVE
// sessions whose end has passed, as of now.
func (r *SessionRepo) DueIDs(ctx context.Context, now time.Time) (toActivate, toComplete []string, err error) {
	const q = `SELECT id, status FROM sessions
               WHERE (status = ? AND starts_at <= ?) OR (status = ? AND ends_at <= ?)
               ORDER BY starts_at ASC`
	ms := toMillis(now)
	rows, err := r.db.QueryContext(ctx, q, string(model.SessionScheduled), ms, string(model.SessionActive), ms)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, nil, err
		}
		if model.SessionStatus(status) == model.SessionScheduled {
			toActivate = append(toActivate, id)
		} else {
			toComplete = append(toComplete, id)
		}
	}
	return toActivate, toComplete, rows.Err()
}

// Stats computes the capacity and attendance rollup of one session in a
// single statement.  It returns ErrNotFound for an unknown session.
func (r *SessionRepo) Stats(ctx context.Context, id string) (*model.SessionStats, error) {
	const q = `SELECT s.id, s.max_testers,
        COALESCE(SUM(CASE WHEN r.holds_slot = 1 AND r.registration_type = 'TESTER' THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(CASE WHEN r.holds_slot = 1 AND r.registration_type = 'DEVELOPER' THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(CASE WHEN r.holds_slot = 1 AND r.registration_type = 'OBSERVER' THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(CASE WHEN r.status = 'ATTENDED' THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(CASE WHEN r.status = 'NO_SHOW' THEN 1 ELSE 0 END), 0)
      FROM sessions s
      LEFT JOIN session_registrations r ON r.session_id = s.id
      WHERE s.id = ?
      GROUP BY s.id, s.max_testers`
	var st model.SessionStats
	err := r.db.QueryRowContext(ctx, q, id).Scan(&st.SessionID, &st.MaxTesters, &st.TesterCount,
		&st.DeveloperCount, &st.ObserverCount, &st.Attended, &st.NoShow)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if st.MaxTesters > 0 {
		st.FillPct = float64(st.TesterCount) * 100 / float64(st.MaxTesters)
	}
	st.IsFull = st.TesterCount >= st.MaxTesters
	if marked := st.Attended + st.NoShow; marked > 0 {
		st.AttendanceRate = float64(st.Attended) / float64(marked)
	}
	return &st, nil
}
