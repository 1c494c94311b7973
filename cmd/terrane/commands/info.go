package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newInfoCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show provider plugin information",
		Long:  `Ask the provider named by the state file for its name, version and functions.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := setup(ctx)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			info, err := rt.prov.Info(ctx)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}

			fmt.Printf("Name:        %s\n", info.Name)
			fmt.Printf("Version:     %s\n", info.Version)
			if info.Description != "" {
				fmt.Printf("Description: %s\n", info.Description)
			}
			for _, fn := range info.Functions {
				fmt.Printf("Function:    %s\n", fn)
			}
			return nil
		},
	}
	return cmd
}
