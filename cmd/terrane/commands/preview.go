package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPreviewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Show what apply would change",
		Long: `Plan every resource in the state file against recorded state and
report the resulting actions without performing any of them.`,
		Example: `  # Preview against the default state file
  terrane preview

  # Preview a specific file as JSON
  terrane preview -f prod.yaml --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := setup(ctx)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			goals, err := rt.doc.Goals()
			if err != nil {
				return err
			}
			decisions, err := planAll(ctx, rt.rec, goals)
			if err != nil {
				return err
			}

			if _, failed := reportPlan(decisions); failed {
				return fmt.Errorf("some resources have invalid inputs")
			}
			return nil
		},
	}
	return cmd
}
