package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/iliyamo/playtest-sessions/internal/authz"
	"github.com/iliyamo/playtest-sessions/internal/config"
	"github.com/iliyamo/playtest-sessions/internal/database"
	"github.com/iliyamo/playtest-sessions/internal/queue"
	"github.com/iliyamo/playtest-sessions/internal/seed"
	"github.com/iliyamo/playtest-sessions/internal/service"
	"github.com/iliyamo/playtest-sessions/internal/utils"
)

// env holds what every database-backed command needs.
type env struct {
	cfg     config.Config
	log     *slog.Logger
	db      *sql.DB
	dialect database.Dialect
}

func openEnv() (*env, error) {
	cfg, err := config.Parse()
	if err != nil {
		return nil, err
	}
	logger := config.SetupLogger(cfg.Log)
	db, dialect, err := database.Open(cfg.DB)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, log: logger, db: db, dialect: dialect}, nil
}

func (e *env) services(pub queue.Publisher) *service.Services {
	return service.New(e.db, e.dialect, service.Options{
		Policy:    e.cfg.Policy,
		Publisher: pub,
		Logger:    e.log,
	})
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.db.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", e.cfg.DB.Driver)
			return nil
		},
	}
}

func newSeedCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create locations, requests and sessions from a YAML file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fh, err := os.Open(file)
			if err != nil {
				return err
			}
			defer fh.Close()
			doc, err := seed.Decode(fh)
			if err != nil {
				return err
			}
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.db.Close()
			res, err := seed.Apply(cmd.Context(), e.services(queue.NewNoop()), doc)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for key, id := range res.Locations {
				fmt.Fprintf(out, "location %s -> %s\n", key, id)
			}
			for key, id := range res.Requests {
				fmt.Fprintf(out, "request  %s -> %s\n", key, id)
			}
			for _, id := range res.Sessions {
				fmt.Fprintf(out, "session  %s\n", id)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "seed.yaml", "seed document")
	return cmd
}

func newAdvanceCmd() *cobra.Command {
	var every time.Duration
	cmd := &cobra.Command{
		Use:   "advance",
		Short: "Activate and complete sessions whose time has come",
		Long: "Activates SCHEDULED sessions whose start has passed and completes ACTIVE sessions whose end has passed.\n" +
			"With --every the command keeps running and advances on that interval until interrupted.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.db.Close()
			pub, err := queue.NewPublisher(e.cfg.Events)
			if err != nil {
				return err
			}
			defer pub.Close()
			svc := e.services(pub)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			tick := func() error {
				activated, completed, err := svc.Sessions.AdvanceDue(ctx)
				e.log.Info("advanced sessions", "activated", len(activated), "completed", len(completed))
				return err
			}
			if err := tick(); err != nil || every <= 0 {
				return err
			}
			t := time.NewTicker(every)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-t.C:
					if err := tick(); err != nil {
						e.log.Error("advance failed", "err", err)
					}
				}
			}
		},
	}
	cmd.Flags().DurationVar(&every, "every", 0, "repeat on this interval (0 runs once)")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development access token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !authz.Known(role) {
				return fmt.Errorf("unknown role %q", role)
			}
			cfg, err := config.Parse()
			if err != nil {
				return err
			}
			tok, err := utils.NewAccessToken(cfg.JWTSecret, subject, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok.Token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "sub", "", "participant id (token subject)")
	cmd.Flags().StringVar(&role, "role", "tester", "role claim: admin, manager, moderator, developer, tester or observer")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}
