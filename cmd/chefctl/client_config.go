// File: cmd/chefctl/client_config.go
// Brief: CLI command wiring and implementation for 'client-config'.

package main

import (
	"fmt"
	"strings"

	"github.com/example/chefctl/internal/cookbook"
	"github.com/example/chefctl/internal/gitinfo"
	"github.com/spf13/cobra"
)

func newClientConfigCommand(ro *rootOptions) *cobra.Command {
	var (
		output    string
		writePath string
	)
	cmd := &cobra.Command{
		Use:   "client-config",
		Short: "Resolve the chef repo layout into chef-client settings (client.rb)",
		Long: "client-config resolves the chef repo root ($CHEF_REPO or the platform default), lists the\n" +
			"cookbook directories under <repo>/cookbooks and prints the resulting local-mode client.rb.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver := cookbook.Resolver{Platform: ro.platform, Diag: cmd.ErrOrStderr()}
			cfg, err := resolver.Resolve()
			if err != nil {
				return err
			}
			if rev := gitinfo.Revision(cmd.Context(), cfg.RepoRoot); rev != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Chef repo revision: %s\n", rev)
			}
			if writePath != "" {
				if err := cfg.WriteFile(writePath); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", writePath)
				return nil
			}
			switch strings.ToLower(output) {
			case "text", "":
				return cfg.Render(cmd.OutOrStdout())
			case "json":
				return cfg.JSON(cmd.OutOrStdout())
			default:
				return fmt.Errorf("unknown output format %q (expected text or json)", output)
			}
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format (text, json)")
	cmd.Flags().StringVar(&writePath, "write", "", "Atomically replace this client.rb instead of printing")
	decorateCommandHelp(cmd, "")
	return cmd
}
