package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/playtest-sessions/internal/ledger"
	"github.com/iliyamo/playtest-sessions/internal/model"
	"github.com/iliyamo/playtest-sessions/internal/queue"
)

func TestTwoJoinsRaceForLastSlot(t *testing.T) {
	f := newFixture(t)
	s := f.session(t, 1, nil)

	var ok, full atomic.Int32
	var g errgroup.Group
	for _, who := range []string{"alice", "bob"} {
		g.Go(func() error {
			_, err := f.svc.Registrations.Join(context.Background(), s.ID, who, model.RoleTester)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrSessionFull):
				full.Add(1)
			default:
				return fmt.Errorf("%s: %w", who, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if ok.Load() != 1 || full.Load() != 1 {
		t.Fatalf("want one ok and one full, got ok=%d full=%d", ok.Load(), full.Load())
	}
	st := f.stats(t, s.ID)
	if st.TesterCount != 1 || st.MaxTesters != 1 || st.FillPct != 100 || !st.IsFull {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestNoOverbookingUnderLoad(t *testing.T) {
	f := newFixture(t)
	s := f.session(t, 3, nil)

	var ok atomic.Int32
	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			_, err := f.svc.Registrations.Join(context.Background(), s.ID, fmt.Sprintf("tester-%d", i), model.RoleTester)
			if err == nil {
				ok.Add(1)
				return nil
			}
			if errors.Is(err, ErrSessionFull) {
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if ok.Load() != 3 {
		t.Fatalf("want exactly 3 joins, got %d", ok.Load())
	}
	if st := f.stats(t, s.ID); st.TesterCount != 3 || !st.IsFull {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestJoinSessionFullWrapsCapacityExceeded(t *testing.T) {
	f := newFixture(t)
	s := f.session(t, 1, nil)
	ctx := context.Background()
	if _, err := f.svc.Registrations.Join(ctx, s.ID, "alice", model.RoleTester); err != nil {
		t.Fatal(err)
	}
	_, err := f.svc.Registrations.Join(ctx, s.ID, "bob", model.RoleTester)
	if !errors.Is(err, ErrSessionFull) || !errors.Is(err, ledger.ErrCapacityExceeded) {
		t.Fatalf("want SessionFull wrapping CapacityExceeded, got %v", err)
	}
}

func TestJoinUniquenessAndRejoin(t *testing.T) {
	f := newFixture(t)
	s := f.session(t, 2, nil)
	ctx := context.Background()

	reg, err := f.svc.Registrations.Join(ctx, s.ID, "alice", model.RoleTester)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if reg.Status != model.RegistrationPending || !reg.RegisteredAt.Equal(f.clock()) {
		t.Fatalf("unexpected registration: %+v", reg)
	}
	if _, err := f.svc.Registrations.Join(ctx, s.ID, "alice", model.RoleObserver); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("want ErrAlreadyRegistered, got %v", err)
	}
	if _, err := f.svc.Registrations.Leave(ctx, s.ID, "alice"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if _, err := f.svc.Registrations.Join(ctx, s.ID, "alice", model.RoleTester); err != nil {
		t.Fatalf("rejoin after leave: %v", err)
	}
	regs, err := f.svc.Registrations.ListRegistrations(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(regs) != 2 || regs[0].Status != model.RegistrationCancelled {
		t.Fatalf("history should keep the cancelled row: %+v", regs)
	}
	if got := f.pub.types(); len(got) != 3 || got[0] != queue.RegistrationJoined || got[1] != queue.RegistrationLeft {
		t.Fatalf("unexpected events: %v", got)
	}
}

func TestJoinValidation(t *testing.T) {
	f := newFixture(t)
	s := f.session(t, 2, nil)
	ctx := context.Background()
	if _, err := f.svc.Registrations.Join(ctx, s.ID, "alice", "ADMIN"); !errors.Is(err, ErrValidation) {
		t.Fatalf("want ErrValidation for role, got %v", err)
	}
	if _, err := f.svc.Registrations.Join(ctx, s.ID, " ", model.RoleTester); !errors.Is(err, ErrValidation) {
		t.Fatalf("want ErrValidation for participant, got %v", err)
	}
	if _, err := f.svc.Registrations.Join(ctx, "missing", "alice", model.RoleTester); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestJoinBlockedOnceActive(t *testing.T) {
	f := newFixture(t)
	s := f.session(t, 2, nil)
	f.transition(t, s.ID, model.SessionActive)
	if _, err := f.svc.Registrations.Join(context.Background(), s.ID, "alice", model.RoleTester); !errors.Is(err, ErrSessionNotOpen) {
		t.Fatalf("want ErrSessionNotOpen, got %v", err)
	}
}

func TestAutoConfirm(t *testing.T) {
	f := newFixture(t)
	yes := true
	s := f.session(t, 2, func(in *CreateSessionInput) { in.AutoConfirm = &yes })
	reg, err := f.svc.Registrations.Join(context.Background(), s.ID, "alice", model.RoleTester)
	if err != nil {
		t.Fatal(err)
	}
	if reg.Status != model.RegistrationConfirmed {
		t.Fatalf("want CONFIRMED, got %s", reg.Status)
	}
}

func TestRoleLimitsAreIndependent(t *testing.T) {
	f := newFixture(t)
	one := 1
	s := f.session(t, 1, func(in *CreateSessionInput) { in.MaxDevelopers = &one })
	ctx := context.Background()
	if _, err := f.svc.Registrations.Join(ctx, s.ID, "alice", model.RoleTester); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Registrations.Join(ctx, s.ID, "dev", model.RoleDeveloper); err != nil {
		t.Fatalf("developer slot: %v", err)
	}
	if _, err := f.svc.Registrations.Join(ctx, s.ID, "dev2", model.RoleDeveloper); !errors.Is(err, ErrSessionFull) {
		t.Fatalf("want ErrSessionFull for second developer, got %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := f.svc.Registrations.Join(ctx, s.ID, fmt.Sprintf("obs-%d", i), model.RoleObserver); err != nil {
			t.Fatalf("observers are unlimited: %v", err)
		}
	}
	st := f.stats(t, s.ID)
	if st.TesterCount != 1 || st.DeveloperCount != 1 || st.ObserverCount != 5 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	v, err := f.svc.Sessions.GetSession(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if v.RegisteredTesterCount != 1 || v.RegisteredProjectMemberCount != 1 {
		t.Fatalf("unexpected derived counts: %+v", v)
	}
}

func TestLeaveIsIdempotentOnCapacity(t *testing.T) {
	f := newFixture(t)
	s := f.session(t, 1, nil)
	ctx := context.Background()
	if _, err := f.svc.Registrations.Join(ctx, s.ID, "alice", model.RoleTester); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Registrations.Leave(ctx, s.ID, "alice"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if _, err := f.svc.Registrations.Leave(ctx, s.ID, "alice"); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("second leave: want ErrNotRegistered, got %v", err)
	}
	if st := f.stats(t, s.ID); st.TesterCount != 0 {
		t.Fatalf("slot should be free once: %+v", st)
	}
	if _, err := f.svc.Registrations.Join(ctx, s.ID, "bob", model.RoleTester); err != nil {
		t.Fatalf("freed slot should be reusable: %v", err)
	}
}

func TestLateLeavePolicy(t *testing.T) {
	for _, release := range []bool{true, false} {
		t.Run(fmt.Sprintf("release=%v", release), func(t *testing.T) {
			policy := testPolicy
			policy.ReleaseOnLateLeave = release
			f := newFixtureWithPolicy(t, policy)
			s := f.session(t, 2, nil)
			ctx := context.Background()
			if _, err := f.svc.Registrations.Join(ctx, s.ID, "alice", model.RoleTester); err != nil {
				t.Fatal(err)
			}
			f.transition(t, s.ID, model.SessionActive)
			reg, err := f.svc.Registrations.Leave(ctx, s.ID, "alice")
			if err != nil {
				t.Fatalf("late leave: %v", err)
			}
			want := 1
			if release {
				want = 0
			}
			if st := f.stats(t, s.ID); st.TesterCount != want {
				t.Fatalf("want tester count %d, got %+v", want, st)
			}
			if reg.HoldsSlot == release {
				t.Fatalf("HoldsSlot=%v with release=%v", reg.HoldsSlot, release)
			}
		})
	}
}

func TestLeaveFrozenAfterCompletion(t *testing.T) {
	f := newFixture(t)
	s := f.session(t, 2, nil)
	ctx := context.Background()
	if _, err := f.svc.Registrations.Join(ctx, s.ID, "alice", model.RoleTester); err != nil {
		t.Fatal(err)
	}
	f.transition(t, s.ID, model.SessionActive)
	f.transition(t, s.ID, model.SessionCompleted)
	if _, err := f.svc.Registrations.Leave(ctx, s.ID, "alice"); !errors.Is(err, ErrSessionNotOpen) {
		t.Fatalf("want ErrSessionNotOpen, got %v", err)
	}
}

func TestConfirmAndReject(t *testing.T) {
	f := newFixture(t)
	s := f.session(t, 2, nil)
	ctx := context.Background()
	for _, who := range []string{"alice", "bob"} {
		if _, err := f.svc.Registrations.Join(ctx, s.ID, who, model.RoleTester); err != nil {
			t.Fatal(err)
		}
	}
	reg, err := f.svc.Registrations.Confirm(ctx, s.ID, "alice")
	if err != nil || reg.Status != model.RegistrationConfirmed {
		t.Fatalf("confirm: %v %+v", err, reg)
	}
	if _, err := f.svc.Registrations.Confirm(ctx, s.ID, "alice"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("confirm twice: want ErrInvalidTransition, got %v", err)
	}
	if _, err := f.svc.Registrations.Reject(ctx, s.ID, "alice"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("reject confirmed: want ErrInvalidTransition, got %v", err)
	}
	if _, err := f.svc.Registrations.Reject(ctx, s.ID, "bob"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if st := f.stats(t, s.ID); st.TesterCount != 1 {
		t.Fatalf("rejection should release the slot: %+v", st)
	}
	if _, err := f.svc.Registrations.Confirm(ctx, s.ID, "carol"); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("want ErrNotRegistered, got %v", err)
	}
}

func TestMarkAttendance(t *testing.T) {
	f := newFixture(t)
	s := f.session(t, 3, nil)
	ctx := context.Background()
	for _, who := range []string{"alice", "bob", "carol"} {
		if _, err := f.svc.Registrations.Join(ctx, s.ID, who, model.RoleTester); err != nil {
			t.Fatal(err)
		}
	}
	for _, who := range []string{"alice", "bob"} {
		if _, err := f.svc.Registrations.Confirm(ctx, s.ID, who); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.svc.Registrations.MarkAttendance(ctx, s.ID, "alice", true); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("before start: want ErrInvalidTransition, got %v", err)
	}
	f.transition(t, s.ID, model.SessionActive)

	reg, err := f.svc.Registrations.MarkAttendance(ctx, s.ID, "alice", true)
	if err != nil {
		t.Fatalf("mark attended: %v", err)
	}
	if reg.Status != model.RegistrationAttended || reg.AttendedAt == nil {
		t.Fatalf("unexpected registration: %+v", reg)
	}
	if _, err := f.svc.Registrations.MarkAttendance(ctx, s.ID, "carol", true); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("pending registration: want ErrInvalidTransition, got %v", err)
	}
	if _, err := f.svc.Registrations.MarkAttendance(ctx, s.ID, "alice", false); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("terminal registration: want ErrInvalidTransition, got %v", err)
	}

	f.transition(t, s.ID, model.SessionCompleted)
	f.advance(30 * time.Minute)
	if _, err := f.svc.Registrations.MarkAttendance(ctx, s.ID, "bob", false); err != nil {
		t.Fatalf("within grace: %v", err)
	}
	st := f.stats(t, s.ID)
	if st.Attended != 1 || st.NoShow != 1 || st.AttendanceRate != 0.5 {
		t.Fatalf("unexpected attendance stats: %+v", st)
	}

	f.advance(time.Hour)
	if _, err := f.svc.Registrations.MarkAttendance(ctx, s.ID, "carol", true); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("after grace: want ErrInvalidTransition, got %v", err)
	}
}

func TestCancelledCallerBeforeLockHasNoEffect(t *testing.T) {
	f := newFixture(t)
	s := f.session(t, 1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.svc.Registrations.Join(ctx, s.ID, "alice", model.RoleTester); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if st := f.stats(t, s.ID); st.TesterCount != 0 {
		t.Fatalf("cancelled join must not take a slot: %+v", st)
	}
}

func TestLockWaitTimeoutIsBusy(t *testing.T) {
	policy := testPolicy
	policy.LockWaitTimeout = 20 * time.Millisecond
	f := newFixtureWithPolicy(t, policy)
	s := f.session(t, 1, nil)

	unlock, err := f.svc.Registrations.uow.locks.Lock(context.Background(), ledger.SessionKey(s.ID), 0)
	if err != nil {
		t.Fatal(err)
	}
	defer unlock()
	if _, err := f.svc.Registrations.Join(context.Background(), s.ID, "alice", model.RoleTester); !errors.Is(err, ErrBusy) {
		t.Fatalf("want ErrBusy, got %v", err)
	}
}
