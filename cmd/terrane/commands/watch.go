package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/terrane-dev/terrane/pkg/statefile"
)

func newWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-preview whenever the state file changes",
		Long: `Watch the state file and print a fresh preview after every change.
Nothing is applied; stop with Ctrl-C.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := setup(ctx)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			preview := func(doc *statefile.Document) error {
				goals, err := doc.Goals()
				if err != nil {
					return err
				}
				decisions, err := planAll(ctx, rt.rec, goals)
				if err != nil {
					return err
				}
				reportPlan(decisions)
				return nil
			}

			// Initial preview, then once per change.
			if err := preview(rt.doc); err != nil {
				return err
			}
			fmt.Printf("Watching %s for changes...\n", stateFile)

			watcher, err := statefile.NewWatcher(stateFile, rt.tel.Logger)
			if err != nil {
				return err
			}
			err = watcher.Watch(ctx, preview)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	return cmd
}
