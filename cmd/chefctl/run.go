// File: cmd/chefctl/run.go
// Brief: CLI command wiring and implementation for 'run'.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/example/chefctl/internal/config"
	"github.com/example/chefctl/internal/cookbook"
	"github.com/example/chefctl/internal/featureflags"
	"github.com/example/chefctl/internal/gitinfo"
	"github.com/example/chefctl/internal/history"
	"github.com/example/chefctl/internal/plugin"
	"github.com/example/chefctl/internal/plugin/jsonattrs"
	"github.com/example/chefctl/internal/plugin/script"
	"github.com/example/chefctl/internal/plugin/transient"
	"github.com/example/chefctl/internal/runner"
	"github.com/example/chefctl/internal/version"
	"github.com/fatih/color"
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// historyKeep bounds the history database.
const historyKeep = 1000

func newRunCommand(ro *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "run [flags] [-- CHEF_CLIENT_ARGS...]",
		Short:         "Run chef-client (the default when no subcommand is given)",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChef(cmd, args, ro)
		},
	}
	decorateCommandHelp(cmd, "Run Flags")
	return cmd
}

func runChef(cmd *cobra.Command, args []string, ro *rootOptions) error {
	extra, err := chefClientArgs(cmd, args)
	if err != nil {
		return err
	}
	ctx, opts, err := ro.load(cmd)
	if err != nil {
		return err
	}
	opts.ExtraArgs = extra
	log := logr.FromContextOrDiscard(ctx)

	if names := featureflags.FromContext(ctx).Names(); len(names) > 0 {
		log.V(1).Info("features enabled", "features", names)
	}
	plugins, attrsPlugin := buildPlugins(ctx, opts)
	registry, err := plugin.NewRegistry(plugins...)
	if err != nil {
		return err
	}
	log.V(1).Info("plugins registered", "plugins", registry.Names())

	r := &runner.Runner{
		Opts:     opts,
		Registry: registry,
		Console:  cmd.OutOrStdout(),
		Banner:   version.Get().Banner(),
	}
	repo := cookbook.Resolver{Platform: opts.Platform}.RepoRoot()
	if rev := gitinfo.Revision(ctx, repo); rev != "" {
		log.V(1).Info("chef repo revision", "repo", repo, "revision", rev)
		r.RepoRevision = rev
	}
	if attrsPlugin != nil {
		r.AttrsDigest = func() string { return attrsPlugin.Last.Digest.String() }
	}
	store, err := history.Open(ctx, opts.HistoryDB, false)
	if err != nil {
		log.Error(err, "run history unavailable", "path", opts.HistoryDB)
	} else {
		defer store.Close()
		r.History = store
	}

	out, runErr := r.Run(ctx)
	if store != nil {
		if _, err := store.Prune(context.WithoutCancel(ctx), historyKeep); err != nil {
			log.Error(err, "prune run history")
		}
	}
	printSummary(cmd.ErrOrStderr(), out, runErr)
	if line := out.Timing.Line(); line != "" {
		log.V(1).Info(line)
	}
	if runErr != nil {
		return runErr
	}
	if out.ExitCode != 0 {
		return &exitStatusError{code: out.ExitCode}
	}
	return nil
}

// chefClientArgs accepts positional arguments only after "--".
func chefClientArgs(cmd *cobra.Command, args []string) ([]string, error) {
	if len(args) == 0 {
		return nil, nil
	}
	dash := cmd.ArgsLenAtDash()
	if dash != 0 {
		return nil, fmt.Errorf("unexpected argument %q (pass chef-client arguments after --)", args[0])
	}
	return args, nil
}

// buildPlugins returns the plugins in invocation order. The JSON attribute
// hook runs first so script hooks see the final -j argument.
func buildPlugins(ctx context.Context, opts *config.Options) ([]plugin.Plugin, *jsonattrs.Plugin) {
	var (
		plugins []plugin.Plugin
		attrsP  *jsonattrs.Plugin
	)
	if opts.JSONAttributes.Enabled {
		attrsP = jsonattrs.New(opts.JSONAttributes)
		plugins = append(plugins, attrsP)
	}
	if hooks := script.New(opts.Hooks); hooks != nil {
		plugins = append(plugins, hooks)
	}
	if featureflags.FromContext(ctx).Enabled(featureflags.FeatureTransientRerun) {
		plugins = append(plugins, transient.New())
	}
	return plugins, attrsP
}

func printSummary(w io.Writer, out *runner.Outcome, err error) {
	if out == nil || out.Attempts == 0 {
		return
	}
	useColor(w)
	status := color.New(color.FgGreen, color.Bold).Sprint("succeeded")
	if err != nil || out.ExitCode != 0 {
		status = color.New(color.FgRed, color.Bold).Sprint("failed")
	}
	attempts := "attempt"
	if out.Attempts != 1 {
		attempts = "attempts"
	}
	fmt.Fprintf(w, "chefctl: run %s %s after %d %s in %s (exit %d), log %s\n",
		out.RunID, status, out.Attempts, attempts, out.Finished.Sub(out.Started).Round(time.Second), out.ExitCode, out.LogFile)
}

// useColor enables color only when w is a terminal.
func useColor(w io.Writer) {
	f, ok := w.(*os.File)
	color.NoColor = !ok || !term.IsTerminal(int(f.Fd())) || os.Getenv("NO_COLOR") != ""
}
