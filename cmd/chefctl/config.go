// File: cmd/chefctl/config.go
// Brief: CLI command wiring and implementation for 'config'.

package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/example/chefctl/internal/attrs"
	"github.com/example/chefctl/internal/plugin/jsonattrs"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCommand(ro *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "config",
		Short:         "Inspect the effective chefctl configuration",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newConfigShowCommand(ro), newConfigAttrsCommand(ro))
	decorateCommandHelp(cmd, "Config Flags")
	return cmd
}

func newConfigShowCommand(ro *rootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:           "show",
		Short:         "Print the settings after defaults, config file, environment and flags are applied",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, opts, err := ro.load(cmd)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			switch strings.ToLower(output) {
			case "yaml", "":
				if opts.ConfigFile != "" {
					fmt.Fprintf(w, "# config file: %s\n", opts.ConfigFile)
				} else {
					fmt.Fprintln(w, "# config file: none (built-in defaults)")
				}
				enc := yaml.NewEncoder(w)
				enc.SetIndent(2)
				if err := enc.Encode(opts); err != nil {
					return err
				}
				return enc.Close()
			case "json":
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(opts)
			default:
				return fmt.Errorf("unknown output format %q (expected yaml or json)", output)
			}
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "Output format (yaml, json)")
	decorateCommandHelp(cmd, "Show Flags")
	return cmd
}

func newConfigAttrsCommand(ro *rootOptions) *cobra.Command {
	var diff bool
	cmd := &cobra.Command{
		Use:           "attrs",
		Short:         "Print the merged JSON attributes the pre-run hook would pass with -j",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, opts, err := ro.load(cmd)
			if err != nil {
				return err
			}
			if !opts.JSONAttributes.Enabled {
				fmt.Fprintln(cmd.ErrOrStderr(), "note: json_attributes.enabled is false; chef-client runs without -j")
			}
			doc, err := attrs.Load(ctx, jsonattrs.Source(ctx, opts.JSONAttributes))
			if err != nil {
				return err
			}
			for _, frag := range doc.Fragments {
				fmt.Fprintf(cmd.ErrOrStderr(), "fragment: %s\n", frag)
			}
			w := cmd.OutOrStdout()
			if diff {
				out, err := attrs.Diff(doc, filepath.Base(opts.JSONAttributes.Base))
				if err != nil {
					return err
				}
				if out == "" {
					fmt.Fprintln(cmd.ErrOrStderr(), "no changes: fragments do not alter the base document")
					return nil
				}
				_, err = fmt.Fprint(w, out)
				return err
			}
			data, err := attrs.Encode(doc.Data)
			if err != nil {
				return err
			}
			_, err = w.Write(data)
			return err
		},
	}
	cmd.Flags().BoolVar(&diff, "diff", false, "Show a unified diff between the base document and the merged result")
	decorateCommandHelp(cmd, "Attrs Flags")
	return cmd
}
