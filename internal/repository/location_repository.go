// Package repository contains data access logic for the playtest domain.
// This file covers testing locations: the rooms sessions are scheduled in.
package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/iliyamo/playtest-sessions/internal/database"
	"github.com/iliyamo/playtest-sessions/internal/model"
)

// LocationRepo manages persistence for locations.
type LocationRepo struct {
	db      *sql.DB
	dialect database.Dialect
}

// NewLocationRepo constructs a LocationRepo with the given DB handle.
func NewLocationRepo(db *sql.DB, dialect database.Dialect) *LocationRepo {
	return &LocationRepo{db: db, dialect: dialect}
}

const locationColumns = `id, name, address, max_testers_capacity, max_projects_capacity, equipment, status, created_at, updated_at`

func scanLocation(row interface{ Scan(...any) error }) (*model.Location, error) {
	var (
		l                    model.Location
		equipment            sql.NullString
		status               string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&l.ID, &l.Name, &l.Address, &l.MaxTestersCapacity, &l.MaxProjectsCapacity,
		&equipment, &status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	l.Equipment = equipment.String
	l.Status = model.LocationStatus(status)
	l.CreatedAt = fromMillis(createdAt)
	l.UpdatedAt = fromMillis(updatedAt)
	return &l, nil
}

// CreateTx inserts a new location inside the caller's transaction.  A
// uuid is assigned when l.ID is empty.
func (r *LocationRepo) CreateTx(ctx context.Context, tx *sql.Tx, l *model.Location) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	const q = `INSERT INTO locations (` + locationColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q, l.ID, l.Name, l.Address, l.MaxTestersCapacity, l.MaxProjectsCapacity,
		nullString(l.Equipment), string(l.Status), toMillis(l.CreatedAt), toMillis(l.UpdatedAt))
	if IsUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// GetByID retrieves a location by its ID.  It returns ErrNotFound if there
// is no matching row.
func (r *LocationRepo) GetByID(ctx context.Context, id string) (*model.Location, error) {
	return r.get(ctx, r.db, id, false)
}

// GetTx reads a location inside tx and locks its row on MySQL.
func (r *LocationRepo) GetTx(ctx context.Context, tx *sql.Tx, id string) (*model.Location, error) {
	return r.get(ctx, tx, id, true)
}

func (r *LocationRepo) get(ctx context.Context, q Querier, id string, lock bool) (*model.Location, error) {
	query := `SELECT ` + locationColumns + ` FROM locations WHERE id = ?`
	if lock {
		query += r.dialect.LockClause()
	}
	l, err := scanLocation(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return l, err
}

// List returns locations ordered by name.  A non-empty status filters the
// result.  When nothing matches it returns an empty slice and nil error.
func (r *LocationRepo) List(ctx context.Context, status model.LocationStatus) ([]model.Location, error) {
	query := `SELECT ` + locationColumns + ` FROM locations`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY name ASC, id ASC`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Location{}
	for rows.Next() {
		l, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// UpdateTx overwrites the mutable columns of a location.
func (r *LocationRepo) UpdateTx(ctx context.Context, tx *sql.Tx, l *model.Location) error {
	const q = `UPDATE locations SET name = ?, address = ?, max_testers_capacity = ?, max_projects_capacity = ?,
               equipment = ?, status = ?, updated_at = ? WHERE id = ?`
	res, err := tx.ExecContext(ctx, q, l.Name, l.Address, l.MaxTestersCapacity, l.MaxProjectsCapacity,
		nullString(l.Equipment), string(l.Status), toMillis(l.UpdatedAt), l.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountOpenSessionsTx counts SCHEDULED or ACTIVE sessions at the location.
func (r *LocationRepo) CountOpenSessionsTx(ctx context.Context, tx *sql.Tx, id string) (int, error) {
	const q = `SELECT COUNT(*) FROM sessions WHERE location_id = ? AND status IN (?, ?)`
	var n int
	err := tx.QueryRowContext(ctx, q, id, string(model.SessionScheduled), string(model.SessionActive)).Scan(&n)
	return n, err
}

// DeleteTx removes a location.  It returns ErrConflict while open sessions
// still reference it and ErrNotFound when the row does not exist.
func (r *LocationRepo) DeleteTx(ctx context.Context, tx *sql.Tx, id string) error {
	open, err := r.CountOpenSessionsTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if open > 0 {
		return ErrConflict
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM locations WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
