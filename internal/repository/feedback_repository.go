package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/iliyamo/playtest-sessions/internal/database"
	"github.com/iliyamo/playtest-sessions/internal/model"
)

// FeedbackRepo manages feedback rows and the per-request tallies that back
// feedback statistics.  Tallies are only ever adjusted inside the same
// transaction as the feedback write they summarize.
type FeedbackRepo struct {
	db      *sql.DB
	dialect database.Dialect
}

// NewFeedbackRepo constructs a FeedbackRepo with the given DB handle.
func NewFeedbackRepo(db *sql.DB, dialect database.Dialect) *FeedbackRepo {
	return &FeedbackRepo{db: db, dialect: dialect}
}

// TallyDelta is a signed adjustment to one request's tallies.
type TallyDelta struct {
	Total, Pending, Approved, Flagged, Rejected int
	ApprovedRatingSum                           int
}

// Add counts one item in status with the given rating.
func (d *TallyDelta) Add(status model.ReviewStatus, rating int, sign int) {
	switch status {
	case model.ReviewPending:
		d.Pending += sign
	case model.ReviewApproved:
		d.Approved += sign
		d.ApprovedRatingSum += sign * rating
	case model.ReviewFlagged:
		d.Flagged += sign
	case model.ReviewRejected:
		d.Rejected += sign
	}
}

const feedbackColumns = `id, request_id, session_id, submitter_id, rating, responses, review_status, quality_rating,
    developer_response, moderator_id, reviewed_at, created_at, updated_at`

func scanFeedback(row rowScanner) (*model.Feedback, error) {
	var (
		f                                      model.Feedback
		responses, quality, devResponse, modID sql.NullString
		status                                 string
		reviewedAt                             sql.NullInt64
		createdAt, updatedAt                   int64
	)
	if err := row.Scan(&f.ID, &f.RequestID, &f.SessionID, &f.SubmitterID, &f.Rating, &responses, &status,
		&quality, &devResponse, &modID, &reviewedAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	f.Responses = map[string]string{}
	if responses.Valid && responses.String != "" {
		if err := json.Unmarshal([]byte(responses.String), &f.Responses); err != nil {
			return nil, fmt.Errorf("decode responses of %s: %w", f.ID, err)
		}
	}
	f.ReviewStatus = model.ReviewStatus(status)
	if quality.Valid {
		q := model.QualityRating(quality.String)
		f.QualityRating = &q
	}
	f.DeveloperResponse = devResponse.String
	f.ModeratorID = modID.String
	f.ReviewedAt = timePtr(reviewedAt)
	f.CreatedAt = fromMillis(createdAt)
	f.UpdatedAt = fromMillis(updatedAt)
	return &f, nil
}

func nullQuality(q *model.QualityRating) any {
	if q == nil {
		return nil
	}
	return string(*q)
}

// CreateTx inserts a feedback row and counts it in the request's tally.
// A duplicate (request, submitter, session) yields ErrConflict.
func (r *FeedbackRepo) CreateTx(ctx context.Context, tx *sql.Tx, f *model.Feedback) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	responses, err := json.Marshal(f.Responses)
	if err != nil {
		return err
	}
	const q = `INSERT INTO feedback (` + feedbackColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, q, f.ID, f.RequestID, f.SessionID, f.SubmitterID, f.Rating, string(responses),
		string(f.ReviewStatus), nullQuality(f.QualityRating), nullString(f.DeveloperResponse),
		nullString(f.ModeratorID), nullMillis(f.ReviewedAt), toMillis(f.CreatedAt), toMillis(f.UpdatedAt)); err != nil {
		if IsUniqueViolation(err) {
			return ErrConflict
		}
		return err
	}
	d := TallyDelta{Total: 1}
	d.Add(f.ReviewStatus, f.Rating, 1)
	return r.ApplyTallyTx(ctx, tx, f.RequestID, d)
}

// ExistsTx reports whether the submitter already left feedback for the
// request in the given session context.
func (r *FeedbackRepo) ExistsTx(ctx context.Context, tx *sql.Tx, requestID, submitterID, sessionID string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM feedback WHERE request_id = ? AND submitter_id = ? AND session_id = ?`,
		requestID, submitterID, sessionID).Scan(&n)
	return n > 0, err
}

// GetByID retrieves a feedback item by its ID.
func (r *FeedbackRepo) GetByID(ctx context.Context, id string) (*model.Feedback, error) {
	return r.get(ctx, r.db, id, false)
}

// GetTx reads a feedback item inside tx, locking the row on MySQL.
func (r *FeedbackRepo) GetTx(ctx context.Context, tx *sql.Tx, id string) (*model.Feedback, error) {
	return r.get(ctx, tx, id, true)
}

func (r *FeedbackRepo) get(ctx context.Context, q Querier, id string, lock bool) (*model.Feedback, error) {
	query := `SELECT ` + feedbackColumns + ` FROM feedback WHERE id = ?`
	if lock {
		query += r.dialect.LockClause()
	}
	f, err := scanFeedback(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return f, err
}

// List returns feedback for a request, oldest first.  A non-empty status
// filters by review status.
func (r *FeedbackRepo) List(ctx context.Context, requestID string, status model.ReviewStatus) ([]model.Feedback, error) {
	q := `SELECT ` + feedbackColumns + ` FROM feedback WHERE request_id = ?`
	args := []any{requestID}
	if status != "" {
		q += ` AND review_status = ?`
		args = append(args, string(status))
	}
	q += ` ORDER BY created_at ASC, id ASC`
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Feedback{}
	for rows.Next() {
		f, err := scanFeedback(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

// UpdateReviewTx stores the moderation columns of f.
func (r *FeedbackRepo) UpdateReviewTx(ctx context.Context, tx *sql.Tx, f *model.Feedback) error {
	const q = `UPDATE feedback SET review_status = ?, quality_rating = ?, moderator_id = ?, reviewed_at = ?, updated_at = ?
               WHERE id = ?`
	res, err := tx.ExecContext(ctx, q, string(f.ReviewStatus), nullQuality(f.QualityRating), nullString(f.ModeratorID),
		nullMillis(f.ReviewedAt), toMillis(f.UpdatedAt), f.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateResponseTx stores the developer's response to f.
func (r *FeedbackRepo) UpdateResponseTx(ctx context.Context, tx *sql.Tx, f *model.Feedback) error {
	res, err := tx.ExecContext(ctx, `UPDATE feedback SET developer_response = ?, updated_at = ? WHERE id = ?`,
		nullString(f.DeveloperResponse), toMillis(f.UpdatedAt), f.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ApplyTallyTx adjusts a request's tallies by d with atomic increments.
func (r *FeedbackRepo) ApplyTallyTx(ctx context.Context, tx *sql.Tx, requestID string, d TallyDelta) error {
	const q = `UPDATE feedback_tallies SET total = total + ?, pending = pending + ?, approved = approved + ?,
               flagged = flagged + ?, rejected = rejected + ?, approved_rating_sum = approved_rating_sum + ?
               WHERE request_id = ?`
	res, err := tx.ExecContext(ctx, q, d.Total, d.Pending, d.Approved, d.Flagged, d.Rejected, d.ApprovedRatingSum, requestID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Stats reads the feedback rollup for one request, or for every request
// when requestID is empty, in a single statement.
func (r *FeedbackRepo) Stats(ctx context.Context, requestID string) (*model.FeedbackStats, error) {
	q := `SELECT COALESCE(SUM(total), 0), COALESCE(SUM(pending), 0), COALESCE(SUM(approved), 0),
            COALESCE(SUM(flagged), 0), COALESCE(SUM(rejected), 0), COALESCE(SUM(approved_rating_sum), 0), COUNT(*)
          FROM feedback_tallies`
	var args []any
	if requestID != "" {
		q += ` WHERE request_id = ?`
		args = append(args, requestID)
	}
	st := model.FeedbackStats{Scope: requestID}
	var (
		sum  int64
		rows int
	)
	if err := r.db.QueryRowContext(ctx, q, args...).Scan(&st.Total, &st.Pending, &st.Approved, &st.Flagged,
		&st.Rejected, &sum, &rows); err != nil {
		return nil, err
	}
	if requestID != "" && rows == 0 {
		return nil, ErrNotFound
	}
	if st.Approved > 0 {
		st.AverageRating = float64(sum) / float64(st.Approved)
	}
	return &st, nil
}
