package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/iliyamo/playtest-sessions/internal/config"
	"github.com/iliyamo/playtest-sessions/internal/database"
	"github.com/iliyamo/playtest-sessions/internal/ledger"
	"github.com/iliyamo/playtest-sessions/internal/queue"
	"github.com/iliyamo/playtest-sessions/internal/repository"
	"github.com/iliyamo/playtest-sessions/internal/telemetry"
)

// Options configures the services.  Zero values fall back to defaults: the
// wall clock, a no-op publisher, the global meter and slog.Default.
type Options struct {
	Policy    config.PolicyConfig
	Clock     func() time.Time
	Publisher queue.Publisher
	Metrics   *telemetry.Metrics
	Logger    *slog.Logger
}

// Services bundles every service over one database.
type Services struct {
	Locations     *LocationService
	Sessions      *SessionService
	Registrations *RegistrationService
	Requests      *RequestService
	Feedback      *FeedbackService
	Stats         *StatsService
}

// core is the state shared by all services.
type core struct {
	uow       *unitOfWork
	ledger    *ledger.Ledger
	policy    config.PolicyConfig
	now       func() time.Time
	publisher queue.Publisher
	metrics   *telemetry.Metrics
	log       *slog.Logger

	locations     *repository.LocationRepo
	sessions      *repository.SessionRepo
	registrations *repository.RegistrationRepo
	requests      *repository.RequestRepo
	feedback      *repository.FeedbackRepo
}

// New wires the services over db.
func New(db *sql.DB, dialect database.Dialect, opts Options) *Services {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Publisher == nil {
		opts.Publisher = queue.NewNoop()
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.Global()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	regs := repository.NewRegistrationRepo(db)
	c := &core{
		uow: &unitOfWork{
			db:      db,
			locks:   ledger.NewKeyedMutex(),
			wait:    opts.Policy.LockWaitTimeout,
			retries: opts.Policy.TxMaxRetries,
		},
		ledger:        ledger.New(regs),
		policy:        opts.Policy,
		now:           func() time.Time { return opts.Clock().UTC() },
		publisher:     opts.Publisher,
		metrics:       opts.Metrics,
		log:           opts.Logger,
		locations:     repository.NewLocationRepo(db, dialect),
		sessions:      repository.NewSessionRepo(db, dialect),
		registrations: regs,
		requests:      repository.NewRequestRepo(db, dialect),
		feedback:      repository.NewFeedbackRepo(db, dialect),
	}
	return &Services{
		Locations:     &LocationService{c},
		Sessions:      &SessionService{c},
		Registrations: &RegistrationService{c},
		Requests:      &RequestService{c},
		Feedback:      &FeedbackService{c},
		Stats:         &StatsService{c},
	}
}

// emit publishes committed events.  Failures are logged and counted, never
// returned: the change they describe is already durable.
func (c *core) emit(ctx context.Context, events ...queue.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	for _, ev := range events {
		outcome := "ok"
		if err := c.publisher.Publish(ctx, ev); err != nil {
			outcome = "error"
			c.log.Warn("publish event failed", "type", ev.Type, "key", ev.Key(), "err", err)
		}
		telemetry.Count(ctx, c.metrics.Events, telemetry.EventTypeKey.String(ev.Type), telemetry.OutcomeKey.String(outcome))
	}
}

// notFound translates a repository miss into the service error kind.
func notFound(err error, what, id string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s %s", ErrNotFound, what, id)
	}
	return err
}

func validation(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}

// outcome labels an operation result for metrics.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrSessionFull):
		return "full"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound):
		return "rejected"
	}
	return "refused"
}
