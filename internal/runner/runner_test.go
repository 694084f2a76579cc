package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/example/chefctl/internal/config"
	"github.com/example/chefctl/internal/history"
	"github.com/example/chefctl/internal/lock"
	"github.com/example/chefctl/internal/platform"
	"github.com/example/chefctl/internal/plugin"
	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"github.com/google/go-cmp/cmp"
)

type memHistory struct{ entries []history.Entry }

func (m *memHistory) Record(_ context.Context, e history.Entry) error {
	m.entries = append(m.entries, e)
	return nil
}

type alwaysRerun struct{}

func (alwaysRerun) Name() string { return "always-rerun" }
func (alwaysRerun) RerunChef(context.Context, *plugin.Run, plugin.Result) bool {
	return true
}

type appendArgs struct{ args []string }

func (a appendArgs) Name() string { return "append-args" }
func (a appendArgs) PreRun(_ context.Context, run *plugin.Run) error {
	run.AppendArgs(a.args...)
	return nil
}

type failPreRun struct{}

func (failPreRun) Name() string { return "fail-pre-run" }
func (failPreRun) PreRun(context.Context, *plugin.Run) error { return errors.New("no attributes") }

// previousSeen records the previous attempt's exit code at each pre_run, or
// "none" on the first attempt.
type previousSeen struct{ seen *[]string }

func (p previousSeen) Name() string { return "previous-seen" }
func (p previousSeen) PreRun(_ context.Context, run *plugin.Run) error {
	if run.Previous == nil {
		*p.seen = append(*p.seen, "none")
		return nil
	}
	*p.seen = append(*p.seen, fmt.Sprintf("%d:%s", run.Previous.ExitCode, filepath.Base(run.Previous.LogFile)))
	return nil
}

// fakeClient writes a shell script standing in for chef-client.
func fakeClient(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake chef-client is a shell script")
	}
	path := filepath.Join(t.TempDir(), "chef-client")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake client: %v", err)
	}
	return path
}

func testOptions(t *testing.T, client string) *config.Options {
	t.Helper()
	dir := t.TempDir()
	opts := config.NewOptions(platform.ForGOOS(runtime.GOOS))
	opts.ChefClient = client
	opts.ChefOptions = []string{"--no-fork"}
	opts.LogDir = filepath.Join(dir, "outputs")
	opts.LockFile = filepath.Join(dir, "chefctl.lock")
	opts.TestingTimestamp = ""
	opts.Immediate = true
	opts.Path = []string{"/usr/bin", "/bin"}
	opts.JSONAttributes.Enabled = false
	if err := opts.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	return opts
}

func newRunner(t *testing.T, opts *config.Options, console *bytes.Buffer, plugins ...plugin.Plugin) (*Runner, *memHistory) {
	t.Helper()
	reg, err := plugin.NewRegistry(plugins...)
	if err != nil {
		t.Fatal(err)
	}
	h := &memHistory{}
	return &Runner{
		Opts:     opts,
		Registry: reg,
		Console:  console,
		History:  h,
		Owner:    "tester@host:1",
		Backoff:  func(int) time.Duration { return 0 },
		NewID:    func() string { return "run-id" },
	}, h
}

func TestRunSuccess(t *testing.T) {
	client := fakeClient(t, `echo "args: $*"; echo "run=$CHEFCTL_RUN_ID attempt=$CHEFCTL_ATTEMPT"; echo "to stderr" >&2`)
	opts := testOptions(t, client)
	var console bytes.Buffer
	r, h := newRunner(t, opts, &console, appendArgs{args: []string{"-j", "/tmp/attrs.json"}})

	out, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.ExitCode != 0 || out.Attempts != 1 || out.Status() != "success" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	logged, err := os.ReadFile(out.LogFile)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	for _, want := range []string{"args: --no-fork --no-color -j /tmp/attrs.json", "run=run-id attempt=1", "to stderr"} {
		if !strings.Contains(string(logged), want) {
			t.Fatalf("log missing %q:\n%s", want, logged)
		}
		if !strings.Contains(console.String(), want) {
			t.Fatalf("console missing %q:\n%s", want, console.String())
		}
	}
	if !strings.HasPrefix(filepath.Base(out.LogFile), "chef.") || !strings.HasSuffix(out.LogFile, ".out") {
		t.Fatalf("unexpected log name %s", out.LogFile)
	}
	for _, link := range []string{curLogName, lastLogName} {
		target, err := os.Readlink(filepath.Join(opts.LogDir, link))
		if err != nil || target != out.LogFile {
			t.Fatalf("%s -> %q (%v), want %s", link, target, err, out.LogFile)
		}
	}
	for _, phase := range []string{"lock", "chef-client", "pre_run", "post_run", "post_end"} {
		if _, ok := out.Timing.Phases[phase]; !ok {
			t.Fatalf("timing missing phase %s: %v", phase, out.Timing.Phases)
		}
	}
	if out.Timing.Attempts != 1 {
		t.Fatalf("timing attempts %d", out.Timing.Attempts)
	}
	if len(h.entries) != 1 || h.entries[0].Status != "success" || h.entries[0].Owner != "tester@host:1" {
		t.Fatalf("unexpected history %+v", h.entries)
	}
}

func TestRunRerunsWithoutAccumulatingArgs(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "ran-once")
	client := fakeClient(t, `echo "args: $*"
if [ -f "`+marker+`" ]; then exit 0; fi
touch "`+marker+`"
exit 2`)
	opts := testOptions(t, client)
	opts.MaxRetries = 2
	var console bytes.Buffer
	r, h := newRunner(t, opts, &console, appendArgs{args: []string{"-j", "/tmp/a.json"}}, alwaysRerun{})

	out, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Attempts != 2 || out.ExitCode != 0 {
		t.Fatalf("expected success on attempt 2, got %+v", out)
	}
	if n := strings.Count(console.String(), "args: --no-fork --no-color -j /tmp/a.json\n"); n != 2 {
		t.Fatalf("expected identical args on both attempts, console:\n%s", console.String())
	}
	if diff := cmp.Diff([]string{"--no-fork", "--no-color", "-j", "/tmp/a.json"}, out.Args); diff != "" {
		t.Fatalf("args mismatch (-want +got):\n%s", diff)
	}
	if h.entries[0].Attempts != 2 {
		t.Fatalf("history attempts %d", h.entries[0].Attempts)
	}
}

func TestRunFailureWithoutRerunPlugin(t *testing.T) {
	client := fakeClient(t, `exit 3`)
	opts := testOptions(t, client)
	opts.MaxRetries = 5
	var console bytes.Buffer
	r, h := newRunner(t, opts, &console)

	out, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("a non-zero chef-client exit is not a run error: %v", err)
	}
	if out.ExitCode != 3 || out.Attempts != 1 || out.Status() != "failure" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if h.entries[0].ExitCode != 3 || h.entries[0].Status != "failure" {
		t.Fatalf("unexpected history %+v", h.entries[0])
	}
}

func TestRunStopsAtMaxRetries(t *testing.T) {
	client := fakeClient(t, `exit 1`)
	opts := testOptions(t, client)
	opts.MaxRetries = 2
	var console bytes.Buffer
	r, _ := newRunner(t, opts, &console, alwaysRerun{})
	out, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if out.Attempts != 3 || out.ExitCode != 1 {
		t.Fatalf("expected 3 attempts, got %+v", out)
	}
	entries, err := os.ReadDir(opts.LogDir)
	if err != nil {
		t.Fatal(err)
	}
	logs := 0
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), ".out") {
			logs++
		}
	}
	if logs != 3 {
		t.Fatalf("expected one log per attempt, found %d in %v", logs, entries)
	}
}

func TestRunExposesPreviousAttemptToPreRun(t *testing.T) {
	client := fakeClient(t, `exit 1`)
	opts := testOptions(t, client)
	opts.MaxRetries = 1
	var console bytes.Buffer
	var seen []string
	r, _ := newRunner(t, opts, &console, previousSeen{seen: &seen}, alwaysRerun{})
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 2 || seen[0] != "none" || !strings.HasPrefix(seen[1], "1:chef.") {
		t.Fatalf("unexpected previous results %v", seen)
	}
}

func TestRunLogsClientEnvironment(t *testing.T) {
	client := fakeClient(t, `exit 0`)
	opts := testOptions(t, client)
	var console bytes.Buffer
	r, _ := newRunner(t, opts, &console)
	var logged []string
	log := funcr.New(func(prefix, args string) { logged = append(logged, args) }, funcr.Options{Verbosity: 1})
	if _, err := r.Run(logr.NewContext(context.Background(), log)); err != nil {
		t.Fatal(err)
	}
	for _, line := range logged {
		if strings.Contains(line, `"msg"="chef-client environment"`) && strings.Contains(line, "PATH=/usr/bin:/bin") {
			return
		}
	}
	t.Fatalf("environment not logged:\n%s", strings.Join(logged, "\n"))
}

func TestRunPreRunFailureSkipsClient(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "ran")
	client := fakeClient(t, `touch "`+marker+`"`)
	opts := testOptions(t, client)
	var console bytes.Buffer
	r, h := newRunner(t, opts, &console, failPreRun{})

	_, err := r.Run(context.Background())
	var pe *plugin.PhaseError
	if !errors.As(err, &pe) || pe.Phase != "pre_run" {
		t.Fatalf("expected pre_run PhaseError, got %v", err)
	}
	if _, statErr := os.Stat(marker); !os.IsNotExist(statErr) {
		t.Fatalf("chef-client should not have run")
	}
	if len(h.entries) != 1 || h.entries[0].Status != "failure" || !strings.Contains(h.entries[0].Error, "no attributes") {
		t.Fatalf("failed run should still be recorded: %+v", h.entries)
	}
}

func TestRunQuietKeepsConsoleClean(t *testing.T) {
	client := fakeClient(t, `echo hello`)
	opts := testOptions(t, client)
	opts.Quiet = true
	var console bytes.Buffer
	r, _ := newRunner(t, opts, &console)
	out, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if console.Len() != 0 {
		t.Fatalf("quiet run wrote to console: %q", console.String())
	}
	logged, _ := os.ReadFile(out.LogFile)
	if string(logged) != "hello\n" {
		t.Fatalf("log content %q", logged)
	}
}

func TestRunSplaysUnlessImmediate(t *testing.T) {
	client := fakeClient(t, `exit 0`)
	opts := testOptions(t, client)
	opts.Immediate = false
	opts.Splay = 30
	var console bytes.Buffer
	r, _ := newRunner(t, opts, &console)
	var slept []time.Duration
	r.Splay = func(window time.Duration) time.Duration {
		if window != 30*time.Second {
			t.Fatalf("splay window %s", window)
		}
		return 7 * time.Second
	}
	r.Sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]time.Duration{7 * time.Second}, slept); diff != "" {
		t.Fatalf("sleep mismatch (-want +got):\n%s", diff)
	}

	opts.Immediate = true
	slept = nil
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(slept) != 0 {
		t.Fatalf("immediate run should not splay, slept %v", slept)
	}
}

func TestRunLockTimeout(t *testing.T) {
	client := fakeClient(t, `exit 0`)
	opts := testOptions(t, client)
	opts.LockTime = 0
	held, err := lock.Acquire(context.Background(), opts.LockFile, 0, "other@host:9")
	if err != nil {
		t.Fatal(err)
	}
	defer held.Release()

	var console bytes.Buffer
	r, h := newRunner(t, opts, &console)
	_, err = r.Run(context.Background())
	if !errors.Is(err, lock.ErrTimeout) {
		t.Fatalf("expected lock timeout, got %v", err)
	}
	if len(h.entries) != 0 {
		t.Fatalf("a run that never held the lock should not be recorded")
	}
}

func TestRunMissingClient(t *testing.T) {
	opts := testOptions(t, filepath.Join(t.TempDir(), "no-such-chef-client"))
	var console bytes.Buffer
	r, _ := newRunner(t, opts, &console)
	out, err := r.Run(context.Background())
	if err == nil || out.ExitCode != -1 {
		t.Fatalf("expected start failure, got err=%v outcome=%+v", err, out)
	}
}

func TestTestingTimestampNotice(t *testing.T) {
	client := fakeClient(t, `exit 0`)
	opts := testOptions(t, client)
	opts.TestingTimestamp = filepath.Join(t.TempDir(), "test_timestamp")
	if err := os.WriteFile(opts.TestingTimestamp, []byte("2026-11-01T00:00:00Z\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	var console bytes.Buffer
	r, _ := newRunner(t, opts, &console)
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(console.String(), "testing timestamp") || !strings.Contains(console.String(), "2026-11-01T00:00:00Z") {
		t.Fatalf("missing testing notice: %q", console.String())
	}
}
