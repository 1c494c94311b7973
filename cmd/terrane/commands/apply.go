package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newApplyCommand() *cobra.Command {
	var (
		autoApprove bool
		parallelism int
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Reconcile resources to match the state file",
		Long: `Plan every resource in the state file, show the resulting actions and,
after approval, execute them: create missing resources, update changed
ones in place and replace those whose immutable properties changed.`,
		Example: `  # Plan and apply with an approval prompt
  terrane apply

  # Apply without prompting
  terrane apply --auto-approve

  # Limit concurrent provider operations
  terrane apply --parallelism 4`,
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

			changes, failed := reportPlan(decisions)
			if failed {
				return fmt.Errorf("some resources have invalid inputs")
			}
			if changes == 0 {
				return nil
			}

			if !autoApprove {
				if !confirm(fmt.Sprintf("Apply %d changes?", changes)) {
					fmt.Println("Apply cancelled")
					return nil
				}
			}

			return applyAll(ctx, rt.rec, decisions, parallelism)
		},
	}

	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "skip approval prompt")
	cmd.Flags().IntVar(&parallelism, "parallelism", 10, "max concurrent provider operations")

	return cmd
}

// confirm prompts on stdin and accepts yes or y.
func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
