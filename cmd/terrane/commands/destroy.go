package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDestroyCommand() *cobra.Command {
	var autoApprove bool

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Tear down every recorded resource",
		Long: `Delete every resource in the snapshot store through the provider and
drop its snapshot. Snapshots survive failed deletes so destroy can be
retried.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := setup(ctx)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			snaps, err := rt.store.List(ctx)
			if err != nil {
				return err
			}
			if len(snaps) == 0 {
				fmt.Println("Nothing to destroy")
				return nil
			}

			if !jsonOutput {
				for _, snap := range snaps {
					fmt.Printf("  - %s (%s)\n", snap.URN, snap.ID)
				}
			}
			if !autoApprove {
				if !confirm(fmt.Sprintf("Destroy %d resources?", len(snaps))) {
					fmt.Println("Destroy cancelled")
					return nil
				}
			}

			var firstErr error
			for _, snap := range snaps {
				if err := rt.rec.Destroy(ctx, snap); err != nil {
					fmt.Printf("  %s: failed: %v\n", snap.URN, err)
					if firstErr == nil {
						firstErr = err
					}
					continue
				}
				if !jsonOutput {
					fmt.Printf("  %s: destroyed\n", snap.URN)
				}
			}
			return firstErr
		},
	}

	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "skip approval prompt")
	return cmd
}
