package cli

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// RescoreCmd recomputes demand priorities, optionally as of a given time.
func RescoreCmd() *cobra.Command {
	var asOf string
	var maintain bool

	cmd := &cobra.Command{
		Use:   "rescore",
		Short: "Recompute priorities of demands still eligible for tours",
		Long: `Recompute priorities of every unassigned, non-terminal demand.

Examples:
  dispatchctl rescore
  dispatchctl rescore --as-of 2024-03-01T08:00:00Z
  dispatchctl rescore --maintain     # also expire overdue and purge old demands`,
		RunE: func(cmd *cobra.Command, args []string) error {
			at := time.Now()
			if asOf != "" {
				t, err := time.Parse(time.RFC3339, asOf)
				if err != nil {
					return fmt.Errorf("--as-of must be RFC3339: %w", err)
				}
				at = t
			}

			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			svc := e.demands()
			if maintain {
				svc.Maintain(cmd.Context())
				fmt.Println(color.New(color.FgGreen).Sprint("maintenance pass done"))
				return nil
			}
			n, err := svc.Rescore(cmd.Context(), at)
			if err != nil {
				return err
			}
			fmt.Printf("%s priorities changed\n", color.New(color.FgGreen).Sprint(n))
			return nil
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "score as of this RFC3339 time (default now)")
	cmd.Flags().BoolVar(&maintain, "maintain", false, "run the full maintenance pass instead")
	return cmd
}
