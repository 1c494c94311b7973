package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/terrane-dev/terrane/pkg/provider"
)

// driftReport is the reportable outcome of one refresh.
type driftReport struct {
	URN     provider.URN `json:"urn"`
	Status  string       `json:"status"`
	Drifted []string     `json:"drifted,omitempty"`
}

func newRefreshCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Detect drift between recorded and live state",
		Long: `Read the live state of every recorded resource. Resources that no
longer exist are dropped from the snapshot store; live values of
drifted resources are recorded.`,
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

			reports := make([]driftReport, 0, len(snaps))
			for _, snap := range snaps {
				result, err := rt.rec.Refresh(ctx, snap)
				if err != nil {
					return fmt.Errorf("refresh %s: %w", snap.URN, err)
				}

				report := driftReport{URN: snap.URN, Status: "in-sync"}
				switch {
				case result.Gone:
					report.Status = "gone"
				case result.Drift != nil:
					report.Status = "drifted"
					report.Drifted = result.Drift.Keys()
				}
				reports = append(reports, report)
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(reports)
			}
			for _, r := range reports {
				if len(r.Drifted) > 0 {
					fmt.Printf("  %s: %s %v\n", r.URN, r.Status, r.Drifted)
				} else {
					fmt.Printf("  %s: %s\n", r.URN, r.Status)
				}
			}
			return nil
		},
	}
	return cmd
}
