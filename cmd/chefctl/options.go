package main

import (
	"context"
	"fmt"
	"io"

	"github.com/example/chefctl/internal/config"
	"github.com/example/chefctl/internal/logging"
	"github.com/example/chefctl/internal/platform"
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
)

// rootOptions holds the persistent flag values shared by every subcommand.
type rootOptions struct {
	configPath string
	logLevel   string
	features   []string
	platform   platform.Platform
	// opts only carries flag values; the effective settings come from load.
	opts *config.Options
}

func newRootOptions() *rootOptions {
	p := platform.Detect()
	return &rootOptions{
		logLevel: "info",
		platform: p,
		opts:     config.NewOptions(p),
	}
}

// load resolves the configuration for cmd and attaches a logger to the
// returned context.
func (ro *rootOptions) load(cmd *cobra.Command) (context.Context, *config.Options, error) {
	opts, err := config.Loader{
		Platform:   ro.platform,
		ConfigPath: ro.configPath,
		Flags:      cmd.Flags(),
	}.Load()
	if err != nil {
		return nil, nil, err
	}
	if f := cmd.Flags().Lookup("preserve-temp"); f != nil && f.Changed {
		opts.PreserveTemp = ro.opts.PreserveTemp
	}
	if err := opts.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger, err := newLogger(ro.logLevel, opts.Verbose, cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}
	if opts.ConfigFile != "" {
		logger.V(1).Info("loaded config", "path", opts.ConfigFile)
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return logr.NewContext(ctx, logger), opts, nil
}

func newLogger(level string, verbose bool, w io.Writer) (logr.Logger, error) {
	return logging.New(logging.Level(level, verbose), w)
}
