package service

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/iliyamo/playtest-sessions/internal/config"
	"github.com/iliyamo/playtest-sessions/internal/database"
	"github.com/iliyamo/playtest-sessions/internal/model"
	"github.com/iliyamo/playtest-sessions/internal/queue"
	"github.com/iliyamo/playtest-sessions/internal/telemetry"
	"github.com/iliyamo/playtest-sessions/internal/testutil"
)

// recorder is a queue.Publisher that keeps events in memory.
type recorder struct {
	mu     sync.Mutex
	events []queue.Event
}

func (r *recorder) Publish(_ context.Context, ev queue.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) Close() error { return nil }

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

type fixture struct {
	svc *Services
	pub *recorder
	db  *sql.DB

	mu  sync.Mutex
	now time.Time
}

var testPolicy = config.PolicyConfig{
	ReleaseOnLateLeave: true,
	AttendanceGrace:    time.Hour,
	LockWaitTimeout:    5 * time.Second,
	TxMaxRetries:       3,
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithPolicy(t, testPolicy)
}

func newFixtureWithPolicy(t *testing.T, policy config.PolicyConfig) *fixture {
	t.Helper()
	metrics, err := telemetry.New(noop.NewMeterProvider().Meter("test"))
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{
		pub: &recorder{},
		db:  testutil.OpenDB(t),
		now: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC),
	}
	f.svc = New(f.db, database.SQLite, Options{
		Policy:    policy,
		Clock:     f.clock,
		Publisher: f.pub,
		Metrics:   metrics,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return f
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func (f *fixture) location(t *testing.T, testers, projects int) *model.Location {
	t.Helper()
	l, err := f.svc.Locations.CreateLocation(context.Background(), LocationInput{
		Name: "Lab", Address: "B-101", MaxTestersCapacity: testers, MaxProjectsCapacity: projects,
	})
	if err != nil {
		t.Fatalf("create location: %v", err)
	}
	return l
}

func (f *fixture) request(t *testing.T, open bool) *model.TestingRequest {
	t.Helper()
	r, err := f.svc.Requests.CreateRequest(context.Background(), CreateRequestInput{
		Title: "Alpha build", ProjectID: "proj-1", VersionID: "0.1.0", OwnerID: "dev-1", Open: open,
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	return r
}

// session schedules a session today from 10:00 to 12:00 at a roomy
// location.  mutate may adjust the input before creation.
func (f *fixture) session(t *testing.T, maxTesters int, mutate func(*CreateSessionInput)) *model.SessionView {
	t.Helper()
	loc := f.location(t, 50, 5)
	in := CreateSessionInput{
		Name: "Playtest", LocationID: loc.ID, ManagerID: "mgr-1",
		Date: "2026-06-01", Start: "10:00", End: "12:00", MaxTesters: maxTesters,
	}
	if mutate != nil {
		mutate(&in)
	}
	s, err := f.svc.Sessions.CreateSession(context.Background(), in)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return s
}

func (f *fixture) transition(t *testing.T, id string, to model.SessionStatus) {
	t.Helper()
	if _, err := f.svc.Sessions.TransitionSession(context.Background(), id, to, "mgr-1"); err != nil {
		t.Fatalf("transition to %s: %v", to, err)
	}
}

func (f *fixture) stats(t *testing.T, id string) *model.SessionStats {
	t.Helper()
	st, err := f.svc.Stats.SessionStats(context.Background(), id)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	return st
}
