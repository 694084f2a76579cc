package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/example/chefctl/internal/fsutil"
	"github.com/example/chefctl/internal/plugin"
	"github.com/example/chefctl/internal/telemetry"
	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
)

const (
	curLogName  = "chef.cur.out"
	lastLogName = "chef.last.out"
)

// attempt runs pre_run hooks, chef-client and post_run hooks once. The
// returned error is set when a hook fails or the log cannot be opened;
// chef-client failures are reported through the Result.
func (r *Runner) attempt(ctx context.Context, run *plugin.Run, n int, timer *telemetry.PhaseTimer) (plugin.Result, error) {
	log := logr.FromContextOrDiscard(ctx).WithValues("attempt", n)
	opts := r.Opts
	res := plugin.Result{Attempt: n, ExitCode: -1}

	logFile, err := r.openLog()
	if err != nil {
		return res, err
	}
	defer logFile.Close()
	res.LogFile = logFile.Name()
	if r.Banner != "" {
		fmt.Fprintf(logFile, "%s run %s attempt %d\n", r.Banner, run.ID, n)
	}
	if opts.SymlinkOutput {
		if err := symlinkLog(res.LogFile, opts.LogDir, curLogName); err != nil {
			log.Error(err, "update current log symlink")
		}
	}

	var sink io.Writer = logFile
	if !opts.Quiet {
		sink = io.MultiWriter(logFile, r.Console)
	}
	out := &lockedWriter{w: sink}
	run.BeginAttempt(n, out)

	if err := timer.Track("pre_run", func() error { return r.Registry.PreRun(ctx, run) }); err != nil {
		res.Err = err
		return res, err
	}

	args := run.Args()
	log.Info("starting chef-client", "path", opts.ChefClient, "args", strings.Join(args, " "), "log", res.LogFile)
	start := r.Now()
	res.ExitCode, res.Err = r.exec(ctx, opts.ChefClient, args, run.Environ(), out)
	res.Duration = r.Now().Sub(start)
	timer.Add("chef-client", res.Duration)
	if res.Err != nil {
		log.Error(res.Err, "chef-client did not run")
	} else {
		log.Info("chef-client finished", "exitCode", res.ExitCode, "duration", res.Duration.Round(time.Millisecond).String())
	}

	if err := timer.Track("post_run", func() error { return r.Registry.PostRun(ctx, run, res) }); err != nil {
		return res, err
	}
	return res, nil
}

// exec runs chef-client with stdout and stderr copied into out. A non-zero
// exit is returned as the exit code with a nil error.
func (r *Runner) exec(ctx context.Context, path string, args, extraEnv []string, out io.Writer) (int, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Env = r.environ(extraEnv)
	logr.FromContextOrDiscard(ctx).V(1).Info("chef-client environment", "env", cmd.Env)
	cmd.WaitDelay = 10 * time.Second
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return -1, err
	}
	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("start %s: %w", path, err)
	}

	var g errgroup.Group
	g.Go(func() error { _, err := io.Copy(out, stdout); return err })
	g.Go(func() error { _, err := io.Copy(out, stderr); return err })
	copyErr := g.Wait()
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return -1, fmt.Errorf("chef-client interrupted: %w", ctx.Err())
	}
	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
	case errors.As(waitErr, &exitErr):
		code := exitErr.ExitCode()
		if code < 0 {
			return -1, fmt.Errorf("chef-client terminated: %w", waitErr)
		}
		return code, nil
	default:
		return -1, waitErr
	}
	if copyErr != nil && !errors.Is(copyErr, os.ErrClosed) {
		return 0, fmt.Errorf("copy chef-client output: %w", copyErr)
	}
	return 0, nil
}

// environ is the process environment with PATH taken from the config and
// the run's extra variables layered on top.
func (r *Runner) environ(extra []string) []string {
	env := make([]string, 0, len(os.Environ())+len(extra)+1)
	for _, kv := range os.Environ() {
		if k, _, ok := strings.Cut(kv, "="); ok && strings.EqualFold(k, "PATH") {
			continue
		}
		env = append(env, kv)
	}
	if p := r.Opts.PathEnv(); p != "" {
		env = append(env, "PATH="+p)
	}
	return append(env, extra...)
}

// openLog creates <log_dir>/chef.<YYYYMMDD.HHMM.unix>.out, adding the
// attempt suffix when a file with that name already exists.
func (r *Runner) openLog() (*os.File, error) {
	dir := r.Opts.LogDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir %s: %w", dir, err)
	}
	now := r.Now()
	stamp := now.Format("20060102.1504") + "." + strconv.FormatInt(now.Unix(), 10)
	for i := 0; ; i++ {
		name := "chef." + stamp + ".out"
		if i > 0 {
			name = "chef." + stamp + "." + strconv.Itoa(i) + ".out"
		}
		f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, os.ErrExist) || i >= 100 {
			return nil, fmt.Errorf("create chef-client log: %w", err)
		}
	}
}

func symlinkLog(target, dir, name string) error {
	return fsutil.Symlink(target, filepath.Join(dir, name))
}

// lockedWriter serializes the stdout and stderr copiers and hook output.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
