package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"tourdispatch/internal/infra"
)

// MigrateCmd applies a SQL migration file to the configured database.
func MigrateCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the schema migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			if err := infra.ApplySQLFile(cmd.Context(), e.db, path); err != nil {
				return fmt.Errorf("apply %s: %w", path, err)
			}
			fmt.Printf("%s applied %s\n", color.New(color.FgGreen).Sprint("✓"), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "file", "migrations/0001_init.sql", "migration SQL file")
	return cmd
}
