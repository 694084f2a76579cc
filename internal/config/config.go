// File: internal/config/config.go
// Brief: Run configuration document for chefctl.

// Package config defines the chefctl run configuration: the typed settings
// registry, its platform defaults, and the flag plumbing that lets a single
// invocation override what the config file says.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/example/chefctl/internal/platform"
	"github.com/spf13/pflag"
)

// Options holds every setting chefctl reads before launching chef-client.
type Options struct {
	Color            bool           `mapstructure:"color" yaml:"color" json:"color"`
	Verbose          bool           `mapstructure:"verbose" yaml:"verbose" json:"verbose"`
	Debug            bool           `mapstructure:"debug" yaml:"debug" json:"debug"`
	Human            bool           `mapstructure:"human" yaml:"human" json:"human"`
	Immediate        bool           `mapstructure:"immediate" yaml:"immediate" json:"immediate"`
	Quiet            bool           `mapstructure:"quiet" yaml:"quiet" json:"quiet"`
	WhyRun           bool           `mapstructure:"whyrun" yaml:"whyrun" json:"whyrun"`
	SymlinkOutput    bool           `mapstructure:"symlink_output" yaml:"symlink_output" json:"symlink_output"`
	ChefClient       string         `mapstructure:"chef_client" yaml:"chef_client" json:"chef_client"`
	ChefOptions      []string       `mapstructure:"chef_options" yaml:"chef_options" json:"chef_options"`
	LockFile         string         `mapstructure:"lock_file" yaml:"lock_file" json:"lock_file"`
	LockTime         int            `mapstructure:"lock_time" yaml:"lock_time" json:"lock_time"`
	LogDir           string         `mapstructure:"log_dir" yaml:"log_dir" json:"log_dir"`
	Splay            int            `mapstructure:"splay" yaml:"splay" json:"splay"`
	MaxRetries       int            `mapstructure:"max_retries" yaml:"max_retries" json:"max_retries"`
	TestingTimestamp string         `mapstructure:"testing_timestamp" yaml:"testing_timestamp" json:"testing_timestamp"`
	Path             []string       `mapstructure:"path" yaml:"path" json:"path"`
	HistoryDB        string         `mapstructure:"history_db" yaml:"history_db" json:"history_db"`
	JSONAttributes   JSONAttributes `mapstructure:"json_attributes" yaml:"json_attributes" json:"json_attributes"`
	Hooks            []HookSpec     `mapstructure:"hooks" yaml:"hooks,omitempty" json:"hooks,omitempty"`

	// Set per invocation, never read from the config file.
	ConfigFile   string            `mapstructure:"-" yaml:"-" json:"-"`
	ExtraArgs    []string          `mapstructure:"-" yaml:"-" json:"-"`
	PreserveTemp bool              `mapstructure:"-" yaml:"-" json:"-"`
	Platform     platform.Platform `mapstructure:"-" yaml:"-" json:"-"`
}

// JSONAttributes configures the pre-run hook that merges config.json with
// the fragments under config.json.d and hands the result to chef-client via -j.
type JSONAttributes struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Base        string `mapstructure:"base" yaml:"base" json:"base"`
	FragmentDir string `mapstructure:"fragment_dir" yaml:"fragment_dir" json:"fragment_dir"`
	Pattern     string `mapstructure:"pattern" yaml:"pattern" json:"pattern"`
	TempDir     string `mapstructure:"temp_dir" yaml:"temp_dir,omitempty" json:"temp_dir,omitempty"`
}

// HookSpec declares an external command run at one lifecycle phase.
type HookSpec struct {
	Name    string        `mapstructure:"name" yaml:"name" json:"name"`
	Phase   string        `mapstructure:"phase" yaml:"phase" json:"phase"`
	Command []string      `mapstructure:"command" yaml:"command" json:"command"`
	When    string        `mapstructure:"when" yaml:"when,omitempty" json:"when,omitempty"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Retry   int           `mapstructure:"retry" yaml:"retry,omitempty" json:"retry,omitempty"`
}

const (
	DefaultLockTime    = 1800
	DefaultSplay       = 870
	DefaultMaxRetries  = 1
	DefaultHookTimeout = 5 * time.Minute

	historyFileName = "chefctl-history.sqlite"
)

// Hook phases, in the order the runner reaches them.
const (
	PhasePreStart = "pre_start"
	PhasePreRun   = "pre_run"
	PhasePostRun  = "post_run"
	PhasePostEnd  = "post_end"
)

// DefaultChefOptions mirrors the stock local-mode invocation.
func DefaultChefOptions(p platform.Platform) []string {
	return []string{"--no-fork", "-c", platform.Defaults(p).ClientRBConfig, "-z"}
}

// NewOptions returns Options with the defaults for p applied.
func NewOptions(p platform.Platform) *Options {
	paths := platform.Defaults(p)
	return &Options{
		SymlinkOutput:    true,
		ChefClient:       DefaultChefClient(p, dirExists),
		ChefOptions:      DefaultChefOptions(p),
		LockFile:         paths.LockFile,
		LockTime:         DefaultLockTime,
		LogDir:           paths.LogDir,
		Splay:            DefaultSplay,
		MaxRetries:       DefaultMaxRetries,
		TestingTimestamp: paths.ChefConfigDir + "/test_timestamp",
		Path:             append([]string(nil), paths.SearchPath...),
		JSONAttributes: JSONAttributes{
			Enabled:     true,
			Base:        paths.ChefConfigDir + "/config.json",
			FragmentDir: paths.ChefConfigDir + "/config.json.d",
			Pattern:     "*.json",
		},
		Platform: p,
	}
}

// DefaultChefClient picks <root>/bin/chef-client, falling back to the
// workstation layout (<root>dk) when only that is installed.
func DefaultChefClient(p platform.Platform, exists func(string) bool) string {
	paths := platform.Defaults(p)
	root := paths.ClientRoot
	switch {
	case exists(root):
	case exists(root + "dk"):
		root += "dk"
	}
	return root + "/bin/" + paths.ClientBinary
}

func dirExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

// FlagKeys maps CLI flag names to the config keys they override.
var FlagKeys = map[string]string{
	"color":       "color",
	"verbose":     "verbose",
	"debug":       "debug",
	"human":       "human",
	"immediate":   "immediate",
	"quiet":       "quiet",
	"whyrun":      "whyrun",
	"splay":       "splay",
	"lock-time":   "lock_time",
	"lock-file":   "lock_file",
	"max-retries": "max_retries",
	"log-dir":     "log_dir",
	"chef-client": "chef_client",
}

// BindFlags attaches the run flags to fs and returns the flag names. The
// flag defaults are placeholders: viper resolves the effective value from
// the config file unless a flag was set explicitly.
func (o *Options) BindFlags(fs *pflag.FlagSet) []string {
	var names []string
	fs.BoolVar(&o.Color, "color", o.Color, "Allow chef-client to produce colored output")
	names = append(names, "color")
	fs.BoolVarP(&o.Verbose, "verbose", "v", o.Verbose, "Verbose chefctl logging")
	names = append(names, "verbose")
	fs.BoolVarP(&o.Debug, "debug", "d", o.Debug, "Run chef-client with debug logging")
	names = append(names, "debug")
	fs.BoolVarP(&o.Human, "human", "H", o.Human, "Human-readable chef-client output (doc formatter, fatal log level)")
	names = append(names, "human")
	fs.BoolVarP(&o.Immediate, "immediate", "i", o.Immediate, "Skip the splay; intended for interactive runs")
	names = append(names, "immediate")
	fs.BoolVarP(&o.Quiet, "quiet", "q", o.Quiet, "Do not copy the chef-client log to stdout")
	names = append(names, "quiet")
	fs.BoolVarP(&o.WhyRun, "whyrun", "w", o.WhyRun, "Run chef-client in why-run mode")
	names = append(names, "whyrun")
	fs.IntVarP(&o.Splay, "splay", "s", o.Splay, "Maximum random delay in seconds before running")
	names = append(names, "splay")
	fs.IntVarP(&o.LockTime, "lock-time", "l", o.LockTime, "Seconds to wait for the chefctl lock")
	names = append(names, "lock-time")
	fs.StringVar(&o.LockFile, "lock-file", o.LockFile, "Lock file guarding concurrent chefctl runs")
	names = append(names, "lock-file")
	fs.IntVarP(&o.MaxRetries, "max-retries", "r", o.MaxRetries, "chef-client reruns a plugin may request after a failure")
	names = append(names, "max-retries")
	fs.StringVar(&o.LogDir, "log-dir", o.LogDir, "Directory for per-run chef-client logs")
	names = append(names, "log-dir")
	fs.StringVar(&o.ChefClient, "chef-client", o.ChefClient, "Path to the chef-client executable")
	names = append(names, "chef-client")
	fs.BoolVar(&o.PreserveTemp, "preserve-temp", false, "Keep temporary files (merged JSON attributes) after the run")
	names = append(names, "preserve-temp")
	return names
}

// Validate normalizes derived fields and rejects incoherent settings.
func (o *Options) Validate() error {
	if strings.TrimSpace(o.ChefClient) == "" {
		return fmt.Errorf("chef_client must not be empty")
	}
	if o.LockTime < 0 {
		return fmt.Errorf("lock_time must be >= 0 (got %d)", o.LockTime)
	}
	if o.Splay < 0 {
		return fmt.Errorf("splay must be >= 0 (got %d)", o.Splay)
	}
	if o.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0 (got %d)", o.MaxRetries)
	}
	if o.Quiet && o.Verbose {
		return fmt.Errorf("quiet and verbose are mutually exclusive")
	}
	if strings.TrimSpace(o.LogDir) == "" {
		return fmt.Errorf("log_dir must not be empty")
	}
	if strings.TrimSpace(o.HistoryDB) == "" {
		o.HistoryDB = filepath.Join(o.LogDir, historyFileName)
	}
	if o.JSONAttributes.Enabled && strings.TrimSpace(o.JSONAttributes.Base) == "" {
		return fmt.Errorf("json_attributes.base must be set when json_attributes.enabled is true")
	}
	if strings.TrimSpace(o.JSONAttributes.Pattern) == "" {
		o.JSONAttributes.Pattern = "*.json"
	}
	if err := ValidateHooks(o.Hooks); err != nil {
		return err
	}
	return nil
}

// ClientArgs returns the chef-client argument list before any plugin runs.
func (o *Options) ClientArgs() []string {
	args := append([]string(nil), o.ChefOptions...)
	switch {
	case o.Debug:
		args = append(args, "-l", "debug")
	case o.Human:
		args = append(args, "-l", "fatal", "-F", "doc")
	}
	if o.WhyRun {
		args = append(args, "--why-run")
	}
	if !o.Color {
		args = append(args, "--no-color")
	}
	return append(args, o.ExtraArgs...)
}

// LockWait is LockTime as a duration.
func (o *Options) LockWait() time.Duration {
	return time.Duration(o.LockTime) * time.Second
}

// SplayWindow is Splay as a duration.
func (o *Options) SplayWindow() time.Duration {
	return time.Duration(o.Splay) * time.Second
}

// PathEnv joins Path into a PATH value for the chef-client environment.
func (o *Options) PathEnv() string {
	return strings.Join(o.Path, o.Platform.PathListSeparator())
}
