// README: Operator CLI for the dispatch service: migrations, feed sync, rescoring, dry-run planning, fleet seeding.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tourdispatch/internal/cli"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "dispatchctl",
		Short: "Operate the pickup dispatch service",
		Long: `dispatchctl runs maintenance tasks against the dispatch database.
Configuration is read from .env in the working directory and the environment.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(cli.MigrateCmd())
	rootCmd.AddCommand(cli.SyncCmd())
	rootCmd.AddCommand(cli.RescoreCmd())
	rootCmd.AddCommand(cli.PlanCmd())
	rootCmd.AddCommand(cli.DriversCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
