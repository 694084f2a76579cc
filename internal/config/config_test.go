// config_test.go covers defaults, file/env/flag layering and validation of the run configuration.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/example/chefctl/internal/platform"
	"github.com/google/go-cmp/cmp"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/pflag"
)

var linux = platform.ForGOOS("linux")

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chefctl-config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestNewOptionsDefaults(t *testing.T) {
	opts := NewOptions(linux)
	if opts.LockTime != 1800 || opts.Splay != 870 || opts.MaxRetries != 1 {
		t.Fatalf("unexpected numeric defaults: %+v", opts)
	}
	if !opts.SymlinkOutput {
		t.Fatalf("symlink_output should default to true")
	}
	if opts.LockFile != "/var/lock/subsys/chefctl" || opts.LogDir != "/var/chef/outputs" {
		t.Fatalf("unexpected posix paths: %s %s", opts.LockFile, opts.LogDir)
	}
	want := []string{"--no-fork", "-c", "/etc/chef/client.rb", "-z"}
	if diff := cmp.Diff(want, opts.ChefOptions); diff != "" {
		t.Fatalf("chef_options mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"/usr/sbin", "/usr/bin"}, opts.Path); diff != "" {
		t.Fatalf("path mismatch (-want +got):\n%s", diff)
	}
}

func TestWindowsDefaults(t *testing.T) {
	opts := NewOptions(platform.ForGOOS("windows"))
	for _, p := range []string{opts.LockFile, opts.LogDir, opts.ChefClient, opts.JSONAttributes.Base, opts.TestingTimestamp} {
		if !strings.HasPrefix(p, "C:/") {
			t.Fatalf("expected windows path, got %q", p)
		}
	}
	if opts.ChefClient != "C:/opscode/chef/bin/chef-client" && opts.ChefClient != "C:/opscode/chefdk/bin/chef-client" {
		t.Fatalf("unexpected windows client %q", opts.ChefClient)
	}
	if got := opts.PathEnv(); got != "C:/Windows/System32" {
		t.Fatalf("unexpected PATH %q", got)
	}
}

func TestDefaultChefClientFallsBackToWorkstation(t *testing.T) {
	exists := func(path string) bool { return path == "/opt/chefdk" }
	if got := DefaultChefClient(linux, exists); got != "/opt/chefdk/bin/chef-client" {
		t.Fatalf("expected chefdk client, got %q", got)
	}
	both := func(string) bool { return true }
	if got := DefaultChefClient(linux, both); got != "/opt/chef/bin/chef-client" {
		t.Fatalf("expected chef root to win, got %q", got)
	}
	none := func(string) bool { return false }
	if got := DefaultChefClient(linux, none); got != "/opt/chef/bin/chef-client" {
		t.Fatalf("expected default client path, got %q", got)
	}
}

func TestLoadMissingDefaultFileIsFine(t *testing.T) {
	t.Setenv(ConfigEnvVar, "")
	l := Loader{Platform: linux}
	// The default /etc path is absent in test sandboxes; make sure we never read it.
	if _, err := os.Stat(platform.Defaults(l.Platform).ConfigFile); err == nil {
		t.Skip("host has a real chefctl config")
	}
	opts, err := l.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if opts.ConfigFile != "" {
		t.Fatalf("expected no config file, got %q", opts.ConfigFile)
	}
	if opts.Splay != DefaultSplay {
		t.Fatalf("expected default splay, got %d", opts.Splay)
	}
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	l := Loader{Platform: linux, ConfigPath: filepath.Join(t.TempDir(), "nope.yaml")}
	if _, err := l.Load(); err == nil {
		t.Fatalf("expected error for missing explicit config")
	}
}

func TestLoadFileEnvAndFlagLayering(t *testing.T) {
	path := writeConfig(t, `
verbose: true
splay: 30
lock_time: 60
chef_options: "--no-fork -c '/etc/chef/client with space.rb'"
log_dir: /tmp/chef-outputs
json_attributes:
  base: /srv/chef/config.json
hooks:
  - name: notify
    phase: post_end
    command: "/usr/local/bin/notify --channel ops"
    when: always
    timeout: 45s
`)
	t.Setenv("CHEFCTL_LOCK_TIME", "90")
	t.Setenv("CHEFCTL_JSON_ATTRIBUTES_PATTERN", "host-*.json")

	fs := pflag.NewFlagSet("chefctl", pflag.ContinueOnError)
	base := NewOptions(linux)
	base.BindFlags(fs)
	if err := fs.Parse([]string{"--splay", "0"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	opts, err := Loader{Platform: linux, ConfigPath: path, Flags: fs}.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if opts.ConfigFile != path {
		t.Fatalf("config file used %q, want %q", opts.ConfigFile, path)
	}
	if !opts.Verbose {
		t.Fatalf("verbose from file not applied")
	}
	if opts.Splay != 0 {
		t.Fatalf("explicit flag should win, got splay=%d", opts.Splay)
	}
	if opts.LockTime != 90 {
		t.Fatalf("env should override file, got lock_time=%d", opts.LockTime)
	}
	if opts.JSONAttributes.Base != "/srv/chef/config.json" || opts.JSONAttributes.Pattern != "host-*.json" {
		t.Fatalf("unexpected json_attributes %+v", opts.JSONAttributes)
	}
	if !opts.JSONAttributes.Enabled {
		t.Fatalf("json_attributes.enabled default lost when the block is partially set")
	}
	wantOpts := []string{"--no-fork", "-c", "/etc/chef/client with space.rb"}
	if diff := cmp.Diff(wantOpts, opts.ChefOptions); diff != "" {
		t.Fatalf("chef_options mismatch (-want +got):\n%s", diff)
	}
	if len(opts.Hooks) != 1 {
		t.Fatalf("expected one hook, got %d", len(opts.Hooks))
	}
	h := opts.Hooks[0]
	if h.Timeout != 45*time.Second {
		t.Fatalf("hook timeout %s", h.Timeout)
	}
	if diff := cmp.Diff([]string{"/usr/local/bin/notify", "--channel", "ops"}, h.Command); diff != "" {
		t.Fatalf("hook command mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadExpandsHomeDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	homedir.DisableCache = true
	t.Cleanup(func() { homedir.DisableCache = false })
	path := writeConfig(t, "log_dir: ~/outputs\n")
	opts, err := Loader{Platform: linux, ConfigPath: path}.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if opts.LogDir != filepath.Join(home, "outputs") {
		t.Fatalf("expected expanded log dir, got %q", opts.LogDir)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Options)
		ok     bool
	}{
		{"defaults", func(*Options) {}, true},
		{"negative splay", func(o *Options) { o.Splay = -1 }, false},
		{"negative lock time", func(o *Options) { o.LockTime = -5 }, false},
		{"negative retries", func(o *Options) { o.MaxRetries = -1 }, false},
		{"quiet and verbose", func(o *Options) { o.Quiet, o.Verbose = true, true }, false},
		{"empty client", func(o *Options) { o.ChefClient = " " }, false},
		{"attrs without base", func(o *Options) { o.JSONAttributes.Base = "" }, false},
		{"attrs disabled without base", func(o *Options) {
			o.JSONAttributes.Enabled = false
			o.JSONAttributes.Base = ""
		}, true},
		{"bad hook phase", func(o *Options) {
			o.Hooks = []HookSpec{{Phase: "mid_run", Command: []string{"true"}}}
		}, false},
		{"pre_start hook with a condition", func(o *Options) {
			o.Hooks = []HookSpec{{Phase: PhasePreStart, When: "failure", Command: []string{"true"}}}
		}, false},
		{"pre_run hook on failure", func(o *Options) {
			o.Hooks = []HookSpec{{Phase: PhasePreRun, When: "failure", Command: []string{"true"}}}
		}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts := NewOptions(linux)
			tc.mutate(opts)
			err := opts.Validate()
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestValidateDerivesHistoryDB(t *testing.T) {
	opts := NewOptions(linux)
	opts.LogDir = "/var/chef/outputs"
	if err := opts.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if opts.HistoryDB != filepath.Join("/var/chef/outputs", "chefctl-history.sqlite") {
		t.Fatalf("unexpected history db %q", opts.HistoryDB)
	}
}

func TestClientArgs(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Options)
		want   []string
	}{
		{
			name:   "defaults",
			mutate: func(*Options) {},
			want:   []string{"--no-fork", "-c", "/etc/chef/client.rb", "-z", "--no-color"},
		},
		{
			name: "debug wins over human",
			mutate: func(o *Options) {
				o.Debug, o.Human, o.Color = true, true, true
			},
			want: []string{"--no-fork", "-c", "/etc/chef/client.rb", "-z", "-l", "debug"},
		},
		{
			name: "human whyrun extra",
			mutate: func(o *Options) {
				o.Human, o.WhyRun = true, true
				o.ExtraArgs = []string{"-o", "recipe[base]"}
			},
			want: []string{"--no-fork", "-c", "/etc/chef/client.rb", "-z", "-l", "fatal", "-F", "doc", "--why-run", "--no-color", "-o", "recipe[base]"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts := NewOptions(linux)
			tc.mutate(opts)
			if diff := cmp.Diff(tc.want, opts.ClientArgs()); diff != "" {
				t.Fatalf("args mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestHookDefaults(t *testing.T) {
	hooks := []HookSpec{
		{Phase: " PRE_RUN ", Command: []string{"/usr/bin/true"}},
		{Name: "report", Phase: "post_run", Command: []string{"/usr/bin/report"}},
	}
	if err := ValidateHooks(hooks); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if hooks[0].Phase != PhasePreRun || hooks[0].EffectiveWhen() != "always" {
		t.Fatalf("pre hook normalized wrong: %+v when=%s", hooks[0], hooks[0].EffectiveWhen())
	}
	if hooks[1].EffectiveWhen() != "success" {
		t.Fatalf("post hook should default to success")
	}
	if hooks[0].DisplayName() != "true" || hooks[1].DisplayName() != "report" {
		t.Fatalf("display names: %s %s", hooks[0].DisplayName(), hooks[1].DisplayName())
	}
}

func TestValidateHooksRejectsDuplicates(t *testing.T) {
	hooks := []HookSpec{
		{Name: "a", Phase: PhasePreRun, Command: []string{"x"}},
		{Name: "a", Phase: PhasePostRun, Command: []string{"y"}},
	}
	if err := ValidateHooks(hooks); err == nil {
		t.Fatalf("expected duplicate name error")
	}
}

func TestHookSpecMarshalsDurationAsString(t *testing.T) {
	h := HookSpec{Name: "notify", Phase: PhasePostEnd, Command: []string{"notify"}, Timeout: 90 * time.Second}
	data, err := h.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"timeout":"1m30s"`) || !strings.Contains(string(data), `"when":"success"`) {
		t.Fatalf("unexpected json %s", data)
	}
}
