package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/iliyamo/playtest-sessions/internal/database"
	"github.com/iliyamo/playtest-sessions/internal/model"
	"github.com/iliyamo/playtest-sessions/internal/testutil"
)

func TestSessionRoundTripAndStats(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()
	sessions := NewSessionRepo(db, database.SQLite)
	regs := NewRegistrationRepo(db)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	devs := 3
	s := &model.Session{
		Name: "Sprint demo", LocationID: "loc", ManagerID: "mgr",
		StartsAt: now.Add(time.Hour), EndsAt: now.Add(3 * time.Hour),
		MaxTesters: 2, MaxDevelopers: &devs, Status: model.SessionScheduled,
		RequestIDs: []string{"req-a", "req-b"}, CreatedAt: now, UpdatedAt: now,
	}
	if err := sessions.CreateTx(ctx, tx, s); err != nil {
		t.Fatalf("create session: %v", err)
	}
	for _, p := range []struct {
		who   string
		role  model.Role
		holds bool
	}{{"alice", model.RoleTester, true}, {"bob", model.RoleTester, false}, {"dev", model.RoleDeveloper, true}} {
		reg := &model.Registration{SessionID: s.ID, ParticipantID: p.who, RegistrationType: p.role,
			Status: model.RegistrationConfirmed, HoldsSlot: p.holds, RegisteredAt: now, UpdatedAt: now}
		if err := regs.CreateTx(ctx, tx, reg); err != nil {
			t.Fatalf("create registration: %v", err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	v, err := sessions.GetByID(ctx, s.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v.RegisteredTesterCount != 1 || v.RegisteredProjectMemberCount != 1 || v.RegisteredProjectCount != 2 {
		t.Fatalf("unexpected counts: %+v", v)
	}
	if *v.MaxDevelopers != 3 || v.MaxObservers != nil || !v.StartsAt.Equal(s.StartsAt) {
		t.Fatalf("round trip mismatch: %+v", v.Session)
	}

	st, err := sessions.Stats(ctx, s.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.TesterCount != 1 || st.MaxTesters != 2 || st.FillPct != 50 || st.IsFull || st.DeveloperCount != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if _, err := sessions.Stats(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestLocationDeleteConflictsWithOpenSessions(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()
	locations := NewLocationRepo(db, database.SQLite)
	sessions := NewSessionRepo(db, database.SQLite)
	now := time.Now().UTC()

	tx, _ := db.BeginTx(ctx, nil)
	loc := &model.Location{Name: "Lab 1", Address: "B-101", MaxTestersCapacity: 10, MaxProjectsCapacity: 2,
		Status: model.LocationActive, CreatedAt: now, UpdatedAt: now}
	if err := locations.CreateTx(ctx, tx, loc); err != nil {
		t.Fatalf("create location: %v", err)
	}
	s := &model.Session{Name: "s", LocationID: loc.ID, ManagerID: "m", StartsAt: now, EndsAt: now.Add(time.Hour),
		MaxTesters: 1, Status: model.SessionScheduled, CreatedAt: now, UpdatedAt: now}
	if err := sessions.CreateTx(ctx, tx, s); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := locations.DeleteTx(ctx, tx, loc.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("want ErrConflict, got %v", err)
	}
	if err := sessions.UpdateStatusTx(ctx, tx, s.ID, model.SessionCancelled, nil, now); err != nil {
		t.Fatalf("cancel session: %v", err)
	}
	if err := locations.DeleteTx(ctx, tx, loc.ID); err != nil {
		t.Fatalf("delete after cancel: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	if _, err := locations.GetByID(ctx, loc.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestFeedbackTalliesAndUniqueness(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()
	requests := NewRequestRepo(db, database.SQLite)
	feedback := NewFeedbackRepo(db, database.SQLite)
	now := time.Now().UTC()

	tx, _ := db.BeginTx(ctx, nil)
	req := &model.TestingRequest{Title: "Alpha build", ProjectID: "p", VersionID: "v1", OwnerID: "dev",
		Status: model.RequestOpen, CreatedAt: now, UpdatedAt: now}
	if err := requests.CreateTx(ctx, tx, req); err != nil {
		t.Fatalf("create request: %v", err)
	}
	f := &model.Feedback{RequestID: req.ID, SubmitterID: "alice", Rating: 4,
		Responses: map[string]string{"fun": "yes"}, ReviewStatus: model.ReviewPending, CreatedAt: now, UpdatedAt: now}
	if err := feedback.CreateTx(ctx, tx, f); err != nil {
		t.Fatalf("create feedback: %v", err)
	}
	var d TallyDelta
	d.Add(model.ReviewPending, f.Rating, -1)
	d.Add(model.ReviewApproved, f.Rating, 1)
	if err := feedback.ApplyTallyTx(ctx, tx, req.ID, d); err != nil {
		t.Fatalf("apply tally: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	tx, _ = db.BeginTx(ctx, nil)
	dup := &model.Feedback{RequestID: req.ID, SubmitterID: "alice", Rating: 1, ReviewStatus: model.ReviewPending,
		CreatedAt: now, UpdatedAt: now}
	if err := feedback.CreateTx(ctx, tx, dup); !errors.Is(err, ErrConflict) {
		t.Fatalf("want ErrConflict for duplicate, got %v", err)
	}
	_ = tx.Rollback()

	st, err := feedback.Stats(ctx, req.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Total != 1 || st.Pending != 0 || st.Approved != 1 || st.AverageRating != 4 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	got, err := feedback.GetByID(ctx, f.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Responses["fun"] != "yes" {
		t.Fatalf("responses not decoded: %+v", got.Responses)
	}
	if _, err := feedback.Stats(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}
