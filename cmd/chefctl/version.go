// File: cmd/chefctl/version.go
// Brief: CLI command wiring and implementation for 'version'.

package main

import (
	"encoding/json"
	"fmt"

	"github.com/example/chefctl/internal/version"
	"github.com/spf13/cobra"
)

func newVersionCommand() *cobra.Command {
	var (
		short  bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:           "version",
		Short:         "Print the chefctl version information",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Get()
			w := cmd.OutOrStdout()
			if short {
				fmt.Fprintln(w, info.Version)
				return nil
			}
			if asJSON {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}
			fmt.Fprintf(w, "Version: %s\n", info.Version)
			if info.GitCommit != "" {
				fmt.Fprintf(w, "GitCommit: %s\n", info.GitCommit)
			}
			if info.BuildDate != "" {
				fmt.Fprintf(w, "BuildDate: %s\n", info.BuildDate)
			}
			fmt.Fprintf(w, "GoVersion: %s\n", info.GoVersion)
			fmt.Fprintf(w, "Platform: %s\n", info.Platform)
			return nil
		},
	}
	cmd.Flags().BoolVar(&short, "short", false, "Print just the version number")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the version information as JSON")
	decorateCommandHelp(cmd, "Version Flags")
	return cmd
}
