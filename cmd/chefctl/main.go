// main.go bootstraps chefctl: it builds the root Cobra command and executes it with a signal-aware context.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/chefctl/internal/attrs"
	"github.com/example/chefctl/internal/featureflags"
	"github.com/example/chefctl/internal/history"
	"github.com/example/chefctl/internal/lock"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rootCmd := newRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	handleError(os.Stderr, err)
	if err != nil {
		os.Exit(exitCode(err))
	}
}

func newRootCommand() *cobra.Command {
	ro := newRootOptions()
	cmd := &cobra.Command{
		Use:   "chefctl [flags] [-- CHEF_CLIENT_ARGS...]",
		Short: "Run chef-client with locking, splay, retries and pre-run hooks",
		Long: "chefctl wraps chef-client: it waits a random splay, takes the host lock, merges the JSON\n" +
			"attribute fragments, runs chef-client with its output logged under log_dir, reruns it after\n" +
			"transient failures and records every run in the history database.",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			flags, err := featureflags.Resolve(ro.features, featureflags.EnabledFromEnv(nil))
			if err != nil {
				return err
			}
			cmd.SetContext(featureflags.ContextWithFlags(cmd.Context(), flags))
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChef(cmd, args, ro)
		},
	}
	pf := cmd.PersistentFlags()
	pf.StringVarP(&ro.configPath, "config", "C", "", "Path to the chefctl config file (default: platform path, or $CHEFCTL_CONFIG)")
	pf.StringVar(&ro.logLevel, "log-level", ro.logLevel, "Log level for chefctl diagnostics (debug, info, warn, error)")
	pf.StringSliceVar(&ro.features, "feature", nil, featureflags.Usage())
	ro.opts.BindFlags(pf)

	cmd.AddCommand(
		newRunCommand(ro),
		newConfigCommand(ro),
		newClientConfigCommand(ro),
		newHistoryCommand(ro),
		newVersionCommand(),
	)
	cmd.Example = `  # Interactive run without splay, doc formatter output
  chefctl -iH

  # Why-run a single recipe
  chefctl -i -w -- -o 'recipe[base::ssh]'

  # Show what the json_attributes hook would hand to chef-client
  chefctl config attrs --diff`
	decorateCommandHelp(cmd, "Run Flags")
	return cmd
}

func handleError(w io.Writer, err error) {
	if err == nil || errors.Is(err, pflag.ErrHelp) {
		return
	}
	var exitErr *exitStatusError
	if errors.As(err, &exitErr) {
		return
	}
	message := err.Error()
	switch {
	case errors.Is(err, lock.ErrTimeout):
		message = fmt.Sprintf("%s\nHint: another chefctl run holds the lock; follow it in chef.cur.out or raise --lock-time.", err)
	case errors.Is(err, attrs.ErrBaseMissing):
		message = fmt.Sprintf("%s\nHint: create the base attribute document or set json_attributes.enabled: false.", err)
	case errors.Is(err, history.ErrNoHistory):
		message = fmt.Sprintf("%s\nHint: history is written by 'chefctl run'; check history_db and log_dir.", err)
	case errors.Is(err, context.Canceled):
		message = fmt.Sprintf("%s\nHint: chefctl was interrupted; the last log is linked from chef.last.out.", err)
	}
	fmt.Fprintf(w, "Error: %s\n", message)
}

// exitStatusError carries chef-client's non-zero exit code out of Execute.
type exitStatusError struct {
	code int
}

func (e *exitStatusError) Error() string {
	return fmt.Sprintf("chef-client exited with status %d", e.code)
}

func exitCode(err error) int {
	var exitErr *exitStatusError
	if errors.As(err, &exitErr) && exitErr.code > 0 {
		return exitErr.code
	}
	return 1
}
