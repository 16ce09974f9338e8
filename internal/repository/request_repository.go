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

// RequestRepo manages testing requests and their tester rosters.  Every
// request owns a feedback_tallies row created together with it.
type RequestRepo struct {
	db      *sql.DB
	dialect database.Dialect
}

// NewRequestRepo constructs a RequestRepo with the given DB handle.
func NewRequestRepo(db *sql.DB, dialect database.Dialect) *RequestRepo {
	return &RequestRepo{db: db, dialect: dialect}
}

// RequestFilter narrows List.  Zero values mean "any".
type RequestFilter struct {
	Status    model.RequestStatus
	OwnerID   string
	ProjectID string
}

const requestColumns = `t.id, t.title, t.description, t.project_id, t.version_id, t.owner_id, t.status,
    t.max_testers, t.start_date, t.end_date, t.feedback_schema, t.created_at, t.updated_at,
    (SELECT COUNT(*) FROM request_testers rt WHERE rt.request_id = t.id AND rt.left_at IS NULL)`

func scanRequest(row rowScanner) (*model.TestingRequest, error) {
	var (
		t                    model.TestingRequest
		description, schema  sql.NullString
		status               string
		maxTesters           sql.NullInt64
		startDate, endDate   sql.NullInt64
		createdAt, updatedAt int64
	)
	if err := row.Scan(&t.ID, &t.Title, &description, &t.ProjectID, &t.VersionID, &t.OwnerID, &status,
		&maxTesters, &startDate, &endDate, &schema, &createdAt, &updatedAt, &t.CurrentTesterCount); err != nil {
		return nil, err
	}
	t.Description = description.String
	t.FeedbackSchema = schema.String
	t.Status = model.RequestStatus(status)
	t.MaxTesters = intPtr(maxTesters)
	t.StartDate = timePtr(startDate)
	t.EndDate = timePtr(endDate)
	t.CreatedAt = fromMillis(createdAt)
	t.UpdatedAt = fromMillis(updatedAt)
	return &t, nil
}

// CreateTx inserts a request and its empty feedback tally inside tx.
func (r *RequestRepo) CreateTx(ctx context.Context, tx *sql.Tx, t *model.TestingRequest) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	const q = `INSERT INTO testing_requests (id, title, description, project_id, version_id, owner_id, status,
               max_testers, start_date, end_date, feedback_schema, created_at, updated_at)
               VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, q, t.ID, t.Title, nullString(t.Description), t.ProjectID, t.VersionID,
		t.OwnerID, string(t.Status), nullInt(t.MaxTesters), nullMillis(t.StartDate), nullMillis(t.EndDate),
		nullString(t.FeedbackSchema), toMillis(t.CreatedAt), toMillis(t.UpdatedAt)); err != nil {
		if IsUniqueViolation(err) {
			return ErrConflict
		}
		return err
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO feedback_tallies (request_id, total, pending, approved, flagged, rejected, approved_rating_sum)
        VALUES (?, 0, 0, 0, 0, 0, 0)`, t.ID)
	return err
}

// GetByID retrieves a request with its current tester count.
func (r *RequestRepo) GetByID(ctx context.Context, id string) (*model.TestingRequest, error) {
	return r.get(ctx, r.db, id, false)
}

// GetTx reads a request inside tx, locking the row on MySQL.
func (r *RequestRepo) GetTx(ctx context.Context, tx *sql.Tx, id string) (*model.TestingRequest, error) {
	return r.get(ctx, tx, id, true)
}

func (r *RequestRepo) get(ctx context.Context, q Querier, id string, lock bool) (*model.TestingRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM testing_requests t WHERE t.id = ?`
	if lock {
		query += r.dialect.LockClause()
	}
	t, err := scanRequest(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// List returns requests matching f, newest first.
func (r *RequestRepo) List(ctx context.Context, f RequestFilter) ([]model.TestingRequest, error) {
	q := `SELECT ` + requestColumns + ` FROM testing_requests t WHERE 1 = 1`
	var args []any
	if f.Status != "" {
		q += ` AND t.status = ?`
		args = append(args, string(f.Status))
	}
	if f.OwnerID != "" {
		q += ` AND t.owner_id = ?`
		args = append(args, f.OwnerID)
	}
	if f.ProjectID != "" {
		q += ` AND t.project_id = ?`
		args = append(args, f.ProjectID)
	}
	q += ` ORDER BY t.created_at DESC, t.id ASC`
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.TestingRequest{}
	for rows.Next() {
		t, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// CountExistingTx reports how many of ids name existing requests.
func (r *RequestRepo) CountExistingTx(ctx context.Context, tx *sql.Tx, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM testing_requests WHERE id IN (`+placeholders(len(ids))+`)`, args...).Scan(&n)
	return n, err
}

// UpdateStatusTx sets the status of a request.
func (r *RequestRepo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id string, status model.RequestStatus, now time.Time) error {
	res, err := tx.ExecContext(ctx, `UPDATE testing_requests SET status = ?, updated_at = ? WHERE id = ?`, string(status), toMillis(now), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// HasActiveTesterTx reports whether tester is currently on the roster.
func (r *RequestRepo) HasActiveTesterTx(ctx context.Context, tx *sql.Tx, requestID, testerID string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM request_testers WHERE request_id = ? AND tester_id = ? AND left_at IS NULL`,
		requestID, testerID).Scan(&n)
	return n > 0, err
}

// AddTesterTx puts a tester on the roster.
func (r *RequestRepo) AddTesterTx(ctx context.Context, tx *sql.Tx, requestID, testerID string, now time.Time) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO request_testers (id, request_id, tester_id, joined_at) VALUES (?, ?, ?, ?)`,
		uuid.NewString(), requestID, testerID, toMillis(now))
	return err
}

// RemoveTesterTx stamps left_at on the tester's active roster entry.  It
// returns ErrNotFound when the tester is not on the roster.
func (r *RequestRepo) RemoveTesterTx(ctx context.Context, tx *sql.Tx, requestID, testerID string, now time.Time) error {
	res, err := tx.ExecContext(ctx, `UPDATE request_testers SET left_at = ? WHERE request_id = ? AND tester_id = ? AND left_at IS NULL`,
		toMillis(now), requestID, testerID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
