package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/terrane-dev/terrane/pkg/property"
	"github.com/terrane-dev/terrane/pkg/provider"
)

func newInvokeCommand() *cobra.Command {
	var argsJSON string

	cmd := &cobra.Command{
		Use:   "invoke <token> [key=value ...]",
		Short: "Call a provider function",
		Long: `Call a provider-defined function by its token. Arguments are given as
key=value pairs or as a JSON object via --args.`,
		Example: `  # List objects with a prefix
  terrane invoke memory:index:list prefix=web-

  # Same call with JSON arguments
  terrane invoke memory:index:list --args '{"prefix":"web-"}'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := setup(ctx)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			fnArgs, err := parseInvokeArgs(args[1:], argsJSON)
			if err != nil {
				return err
			}

			resp, err := rt.prov.Invoke(ctx, provider.InvokeRequest{
				Tok:  args[0],
				Args: fnArgs,
			})
			if err != nil {
				return fmt.Errorf("invoke %s: %w", args[0], err)
			}

			if len(resp.Failures) > 0 {
				for _, f := range resp.Failures {
					fmt.Fprintf(os.Stderr, "  %s: %s\n", f.Property, f.Reason)
				}
				return fmt.Errorf("invalid arguments for %s", args[0])
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(resp.Return)
		},
	}

	cmd.Flags().StringVar(&argsJSON, "args", "", "function arguments as a JSON object")
	return cmd
}

// parseInvokeArgs builds the argument bag from key=value pairs or a
// JSON object. Values from pairs are strings.
func parseInvokeArgs(pairs []string, argsJSON string) (property.Map, error) {
	if argsJSON != "" {
		if len(pairs) > 0 {
			return nil, fmt.Errorf("use either key=value arguments or --args, not both")
		}
		var out property.Map
		if err := json.Unmarshal([]byte(argsJSON), &out); err != nil {
			return nil, fmt.Errorf("invalid --args: %w", err)
		}
		return out, nil
	}

	out := property.Map{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid argument %q, want key=value", pair)
		}
		out[key] = property.String(value)
	}
	return out, nil
}
