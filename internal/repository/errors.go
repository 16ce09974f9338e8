// Package repository defines error types that are reused across multiple
// repositories.  These sentinel values allow higher layers such as the
// service package to distinguish between different failure scenarios.
// ErrNotFound means the referenced row does not exist, while ErrConflict
// signals that an operation cannot proceed because of existing dependent
// records (e.g. deleting a location with scheduled sessions) or because a
// uniqueness constraint was hit.
package repository

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write conflicts with existing state.
var ErrConflict = errors.New("conflict")

// IsUniqueViolation reports whether err is a duplicate-key error from
// either supported driver.
func IsUniqueViolation(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1062
	}
	var se *msqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		case sqlite3lib.SQLITE_CONSTRAINT:
			return strings.Contains(se.Error(), "UNIQUE")
		}
	}
	return false
}

// IsTransient reports whether err is a lock conflict the database resolved
// by aborting our statement (deadlock, lock wait timeout, busy).  Retrying
// the whole transaction is safe.
func IsTransient(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1213 || me.Number == 1205
	}
	var se *msqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_LOCKED:
			return true
		}
	}
	return false
}
