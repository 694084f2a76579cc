package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/example/chefctl/internal/platform"
	"github.com/go-viper/mapstructure/v2"
	"github.com/mattn/go-shellwords"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix namespaces environment overrides (CHEFCTL_SPLAY=0, CHEFCTL_JSON_ATTRIBUTES_BASE=...).
	EnvPrefix = "CHEFCTL"
	// ConfigEnvVar points chefctl at a config file when -C/--config is not given.
	ConfigEnvVar = "CHEFCTL_CONFIG"
)

// Loader resolves Options from defaults, the YAML config file, the
// environment and explicitly set flags, in increasing precedence.
type Loader struct {
	Platform   platform.Platform
	ConfigPath string
	Flags      *pflag.FlagSet
}

// Load reads the configuration. A missing default config file is fine; a
// missing file named by -C/--config or CHEFCTL_CONFIG is an error.
func (l Loader) Load() (*Options, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	setDefaults(v, NewOptions(l.Platform))

	path, strict, err := l.configFile()
	if err != nil {
		return nil, err
	}
	if err := readConfigFile(v, path, strict); err != nil {
		return nil, err
	}
	if l.Flags != nil {
		for name, key := range FlagKeys {
			f := l.Flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	opts := &Options{}
	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		shellwordsHook(),
	)
	if err := v.Unmarshal(opts, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	opts.Platform = l.Platform
	opts.ConfigFile = v.ConfigFileUsed()
	if err := opts.expandPaths(); err != nil {
		return nil, err
	}
	return opts, nil
}

func (l Loader) configFile() (path string, strict bool, err error) {
	path = strings.TrimSpace(l.ConfigPath)
	if path == "" {
		path = strings.TrimSpace(os.Getenv(ConfigEnvVar))
	}
	if path != "" {
		strict = true
	} else {
		path = platform.Defaults(l.Platform).ConfigFile
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", false, fmt.Errorf("expand config path %q: %w", path, err)
	}
	return expanded, strict, nil
}

func readConfigFile(v *viper.Viper, path string, strict bool) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && !strict {
			return nil
		}
		return fmt.Errorf("config file %s: %w", path, err)
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

func setDefaults(v *viper.Viper, d *Options) {
	v.SetDefault("color", d.Color)
	v.SetDefault("verbose", d.Verbose)
	v.SetDefault("debug", d.Debug)
	v.SetDefault("human", d.Human)
	v.SetDefault("immediate", d.Immediate)
	v.SetDefault("quiet", d.Quiet)
	v.SetDefault("whyrun", d.WhyRun)
	v.SetDefault("symlink_output", d.SymlinkOutput)
	v.SetDefault("chef_client", d.ChefClient)
	v.SetDefault("chef_options", d.ChefOptions)
	v.SetDefault("lock_file", d.LockFile)
	v.SetDefault("lock_time", d.LockTime)
	v.SetDefault("log_dir", d.LogDir)
	v.SetDefault("splay", d.Splay)
	v.SetDefault("max_retries", d.MaxRetries)
	v.SetDefault("testing_timestamp", d.TestingTimestamp)
	v.SetDefault("path", d.Path)
	v.SetDefault("history_db", d.HistoryDB)
	v.SetDefault("json_attributes.enabled", d.JSONAttributes.Enabled)
	v.SetDefault("json_attributes.base", d.JSONAttributes.Base)
	v.SetDefault("json_attributes.fragment_dir", d.JSONAttributes.FragmentDir)
	v.SetDefault("json_attributes.pattern", d.JSONAttributes.Pattern)
	v.SetDefault("json_attributes.temp_dir", d.JSONAttributes.TempDir)
}

// shellwordsHook lets list settings (chef_options, path, hook commands) be
// written as one shell-quoted string.
func shellwordsHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to.Kind() != reflect.Slice || to.Elem().Kind() != reflect.String {
			return data, nil
		}
		raw, _ := data.(string)
		if strings.TrimSpace(raw) == "" {
			return []string{}, nil
		}
		words, err := shellwords.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", raw, err)
		}
		return words, nil
	}
}

func (o *Options) expandPaths() error {
	fields := []*string{
		&o.ChefClient,
		&o.LockFile,
		&o.LogDir,
		&o.TestingTimestamp,
		&o.HistoryDB,
		&o.JSONAttributes.Base,
		&o.JSONAttributes.FragmentDir,
		&o.JSONAttributes.TempDir,
	}
	for _, f := range fields {
		if *f == "" {
			continue
		}
		expanded, err := homedir.Expand(*f)
		if err != nil {
			return fmt.Errorf("expand %q: %w", *f, err)
		}
		*f = expanded
	}
	return nil
}
