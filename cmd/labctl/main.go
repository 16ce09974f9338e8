// Command labctl is the operator tool for the playtest service: schema
// migrations, fixture seeding, session auto-advance and dev tokens.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "labctl",
		Short:         "Operate the playtest session service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newMigrateCmd(), newSeedCmd(), newAdvanceCmd(), newTokenCmd())

	if err := root.Execute(); err != nil {
		slog.Error("labctl failed", "err", err)
		os.Exit(1)
	}
}
