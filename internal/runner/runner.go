// File: internal/runner/runner.go
// Brief: One chefctl run: splay, lock, plugin phases and chef-client attempts.

// Package runner drives a chefctl run from splay to lock release, invoking
// the plugin registry around each chef-client attempt.
package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/example/chefctl/internal/config"
	"github.com/example/chefctl/internal/history"
	"github.com/example/chefctl/internal/lock"
	"github.com/example/chefctl/internal/plugin"
	"github.com/example/chefctl/internal/telemetry"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
)

// Recorder persists a finished run.
type Recorder interface {
	Record(ctx context.Context, e history.Entry) error
}

// Runner executes chef-client according to Opts.
type Runner struct {
	Opts     *config.Options
	Registry *plugin.Registry
	// Console receives chef-client output unless Opts.Quiet.
	Console io.Writer
	History Recorder
	// AttrsDigest reports the digest of the attribute document handed to
	// chef-client, when one was written.
	AttrsDigest func() string
	Owner       string
	// Banner is written at the top of every attempt log.
	Banner string
	// RepoRevision is the chef repo commit the run used, if known.
	RepoRevision string

	Now     func() time.Time
	Sleep   func(ctx context.Context, d time.Duration) error
	Splay   func(window time.Duration) time.Duration
	Backoff func(attempt int) time.Duration
	NewID   func() string
}

// Outcome summarizes a finished run.
type Outcome struct {
	RunID    string
	ExitCode int
	Attempts int
	LogFile  string
	Started  time.Time
	Finished time.Time
	Args     []string
	Err      error
	Timing   telemetry.Summary
}

// Status is "success" or "failure".
func (o *Outcome) Status() string {
	if o.Err == nil && o.ExitCode == 0 {
		return "success"
	}
	return "failure"
}

func (r *Runner) defaults() {
	if r.Now == nil {
		r.Now = time.Now
	}
	if r.Sleep == nil {
		r.Sleep = sleepContext
	}
	if r.Splay == nil {
		r.Splay = Splay
	}
	if r.Backoff == nil {
		r.Backoff = Backoff
	}
	if r.NewID == nil {
		r.NewID = uuid.NewString
	}
	if r.Console == nil {
		r.Console = os.Stdout
	}
	if r.Owner == "" {
		r.Owner = lock.DefaultOwner()
	}
	if r.Registry == nil {
		r.Registry, _ = plugin.NewRegistry()
	}
}

// Run performs one chefctl run. The Outcome carries chef-client's exit
// code; a non-zero exit alone is not an error. err is set when the run
// could not complete (lock timeout, hook failure, chef-client failing to
// start, cancellation).
func (r *Runner) Run(ctx context.Context) (*Outcome, error) {
	r.defaults()
	opts := r.Opts
	log := logr.FromContextOrDiscard(ctx)

	out := &Outcome{RunID: r.NewID(), ExitCode: -1}
	timer := telemetry.NewPhaseTimer(r.Now)
	defer func() { out.Timing = timer.Summary(out.Attempts) }()
	log = log.WithValues("runID", out.RunID)
	ctx = logr.NewContext(ctx, log)

	r.testingNotice(ctx)

	if !opts.Immediate && opts.Splay > 0 {
		d := r.Splay(opts.SplayWindow())
		log.Info("splaying before run", "delay", d.Round(time.Second).String(), "window", opts.SplayWindow().String())
		if err := timer.Track("splay", func() error { return r.Sleep(ctx, d) }); err != nil {
			return out, fmt.Errorf("splay interrupted: %w", err)
		}
	}

	log.V(1).Info("acquiring lock", "path", opts.LockFile, "wait", opts.LockWait().String())
	var held *lock.Lock
	err := timer.Track("lock", func() error {
		var err error
		held, err = lock.Acquire(ctx, opts.LockFile, opts.LockWait(), r.Owner)
		return err
	})
	if err != nil {
		return out, err
	}
	defer func() {
		if err := held.Release(); err != nil {
			log.Error(err, "release lock")
		}
	}()

	out.Started = r.Now()
	run := plugin.NewRun(out.RunID, opts.ClientArgs(), r.Console)
	defer func() {
		kept, err := run.Cleanup(opts.PreserveTemp)
		if err != nil {
			log.Error(err, "remove temporary files")
		}
		for _, path := range kept {
			log.Info("preserved temporary file", "path", path)
		}
	}()

	if err := timer.Track("pre_start", func() error { return r.Registry.PreStart(ctx, run) }); err != nil {
		out.Err = err
		r.finish(ctx, run, out, timer)
		return out, err
	}

	var last plugin.Result
	maxAttempts := opts.MaxRetries + 1
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res, err := r.attempt(ctx, run, attempt, timer)
		last = res
		prev := res
		run.Previous = &prev
		out.Attempts = attempt
		out.LogFile = res.LogFile
		out.ExitCode = res.ExitCode
		out.Args = run.Args()
		out.Err = res.Err
		if err != nil {
			out.Err = err
			break
		}
		if res.Success() || ctx.Err() != nil || attempt == maxAttempts {
			break
		}
		if !r.Registry.RerunChef(ctx, run, res) {
			log.V(1).Info("no plugin requested a rerun", "attempt", attempt, "exitCode", res.ExitCode)
			break
		}
		wait := r.Backoff(attempt)
		log.Info("rerunning chef-client", "attempt", attempt, "maxAttempts", maxAttempts, "backoff", wait.String())
		if err := timer.Track("backoff", func() error { return r.Sleep(ctx, wait) }); err != nil {
			out.Err = err
			break
		}
	}

	if last.LogFile != "" && opts.SymlinkOutput {
		if err := symlinkLog(last.LogFile, opts.LogDir, lastLogName); err != nil {
			log.Error(err, "update last log symlink")
		}
	}
	r.finish(ctx, run, out, timer)
	return out, out.Err
}

// finish runs post_end hooks and records the run.
func (r *Runner) finish(ctx context.Context, run *plugin.Run, out *Outcome, timer *telemetry.PhaseTimer) {
	log := logr.FromContextOrDiscard(ctx)
	res := plugin.Result{Attempt: out.Attempts, ExitCode: out.ExitCode, Err: out.Err, LogFile: out.LogFile}
	// post_end still runs after cancellation so hooks can report it.
	endCtx := context.WithoutCancel(ctx)
	if err := timer.Track("post_end", func() error { return r.Registry.PostEnd(endCtx, run, res) }); err != nil {
		log.Error(err, "post_end hooks failed")
		if out.Err == nil {
			out.Err = err
		}
	}
	out.Finished = r.Now()
	if out.Started.IsZero() {
		out.Started = out.Finished
	}
	if r.History == nil {
		return
	}
	entry := history.Entry{
		ID:         out.RunID,
		StartedAt:  out.Started,
		FinishedAt: out.Finished,
		Status:     out.Status(),
		ExitCode:   out.ExitCode,
		Attempts:   out.Attempts,
		LogFile:    out.LogFile,
		RepoRev:    r.RepoRevision,
		Owner:      r.Owner,
		Args:       out.Args,
	}
	if r.AttrsDigest != nil {
		entry.AttrsDigest = r.AttrsDigest()
	}
	if out.Err != nil {
		entry.Error = out.Err.Error()
	}
	if err := r.History.Record(endCtx, entry); err != nil {
		log.Error(err, "record run history")
	}
}

func (r *Runner) testingNotice(ctx context.Context) {
	path := r.Opts.TestingTimestamp
	if path == "" {
		return
	}
	fi, err := os.Stat(path)
	if err != nil {
		return
	}
	log := logr.FromContextOrDiscard(ctx)
	data, _ := os.ReadFile(path)
	until := strings.TrimSpace(string(data))
	if until == "" {
		until = fi.ModTime().Format(time.RFC3339)
	}
	log.Info("host is in testing mode; chef-client will run against the test repo", "timestamp", path, "until", until)
	fmt.Fprintf(r.Console, "chefctl: testing timestamp %s present (until %s)\n", path, until)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
