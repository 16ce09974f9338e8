package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/iliyamo/playtest-sessions/internal/ledger"
	"github.com/iliyamo/playtest-sessions/internal/repository"
)

// txFunc is the body of a unit of work.  It must use tx for every read
// and write: the SQLite pool holds a single connection.
type txFunc func(ctx context.Context, tx *sql.Tx) error

// unitOfWork runs txFuncs under a per-key lock in one transaction.
type unitOfWork struct {
	db      *sql.DB
	locks   *ledger.KeyedMutex
	wait    time.Duration
	retries uint64
}

// run acquires key, then executes fn in a transaction, retrying transient
// database conflicts with exponential backoff.  A caller that cancels
// before the lock is acquired gets ctx.Err() and nothing runs; once the
// lock is held the work is detached from ctx and commits or rolls back
// as a whole.
func (u *unitOfWork) run(ctx context.Context, key string, fn txFunc) error {
	unlock, err := u.locks.Lock(ctx, key, u.wait)
	if err != nil {
		if errors.Is(err, ledger.ErrLockTimeout) {
			return fmt.Errorf("%w: %s is locked", ErrBusy, key)
		}
		return err
	}
	defer unlock()

	return u.do(context.WithoutCancel(ctx), fn)
}

// do executes fn in a transaction without taking a lock, retrying
// transient conflicts.  Exhausted retries surface as ErrBusy.
func (u *unitOfWork) do(ctx context.Context, fn txFunc) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxInterval = 250 * time.Millisecond
	op := func() error {
		err := u.once(ctx, fn)
		if err == nil || repository.IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, u.retries), ctx))
	if err != nil && repository.IsTransient(err) {
		return fmt.Errorf("%w: %v", ErrBusy, err)
	}
	return err
}

func (u *unitOfWork) once(ctx context.Context, fn txFunc) error {
	tx, err := u.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}
