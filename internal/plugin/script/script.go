// Package script runs the external commands configured under `hooks:` at
// their lifecycle phase.
package script

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/example/chefctl/internal/config"
	"github.com/example/chefctl/internal/plugin"
	"github.com/go-logr/logr"
)

const Name = "script-hooks"

// Plugin dispatches configured hooks by phase.
type Plugin struct {
	hooks []config.HookSpec
	// backoff between retries of one hook; tests shorten it.
	backoff func(try int) time.Duration
}

// New returns nil when there is nothing to run, so callers can skip registration.
func New(hooks []config.HookSpec) *Plugin {
	if len(hooks) == 0 {
		return nil
	}
	return &Plugin{
		hooks:   append([]config.HookSpec(nil), hooks...),
		backoff: func(try int) time.Duration { return time.Duration(try) * 500 * time.Millisecond },
	}
}

func (p *Plugin) Name() string { return Name }

func (p *Plugin) PreStart(ctx context.Context, run *plugin.Run) error {
	return p.runPhase(ctx, run, config.PhasePreStart, plugin.Result{})
}

// PreRun hooks see the previous attempt's status, exit code and log, so a
// `when: failure` pre_run hook runs only before a rerun.
func (p *Plugin) PreRun(ctx context.Context, run *plugin.Run) error {
	res := plugin.Result{Attempt: run.Attempt}
	if run.Previous != nil {
		res = *run.Previous
	}
	return p.runPhase(ctx, run, config.PhasePreRun, res)
}

func (p *Plugin) PostRun(ctx context.Context, run *plugin.Run, res plugin.Result) error {
	return p.runPhase(ctx, run, config.PhasePostRun, res)
}

func (p *Plugin) PostEnd(ctx context.Context, run *plugin.Run, res plugin.Result) error {
	return p.runPhase(ctx, run, config.PhasePostEnd, res)
}

func (p *Plugin) runPhase(ctx context.Context, run *plugin.Run, phase string, res plugin.Result) error {
	log := logr.FromContextOrDiscard(ctx)
	for _, hook := range p.hooks {
		if hook.Phase != phase {
			continue
		}
		if !shouldRun(hook, res.Status()) {
			log.V(1).Info("hook skipped", "hook", hook.DisplayName(), "phase", phase, "when", hook.EffectiveWhen(), "status", res.Status())
			continue
		}
		if err := p.runHook(ctx, run, hook, res); err != nil {
			return err
		}
	}
	return nil
}

func shouldRun(h config.HookSpec, status string) bool {
	switch h.EffectiveWhen() {
	case "always":
		return true
	case "success":
		return status == "success"
	case "failure":
		return status == "failure"
	default:
		return false
	}
}

func (p *Plugin) runHook(ctx context.Context, run *plugin.Run, hook config.HookSpec, res plugin.Result) error {
	log := logr.FromContextOrDiscard(ctx)
	name := hook.DisplayName()
	maxAttempts := hook.Retry
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	timeout := hook.Timeout
	if timeout <= 0 {
		timeout = config.DefaultHookTimeout
	}

	var lastErr error
	for try := 1; try <= maxAttempts; try++ {
		tryCtx, cancel := context.WithTimeout(ctx, timeout)
		lastErr = runCommand(tryCtx, run, hook, res)
		cancel()
		if lastErr == nil {
			log.V(1).Info("hook succeeded", "hook", name, "phase", hook.Phase, "try", try)
			return nil
		}
		if try < maxAttempts {
			wait := p.backoff(try)
			log.Info("hook failed, retrying", "hook", name, "phase", hook.Phase, "try", try, "maxAttempts", maxAttempts, "backoff", wait.String(), "error", lastErr.Error())
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}
	return fmt.Errorf("hook %s: %w", name, lastErr)
}

func runCommand(ctx context.Context, run *plugin.Run, hook config.HookSpec, res plugin.Result) error {
	cmd := exec.CommandContext(ctx, hook.Command[0], hook.Command[1:]...)
	env := append(os.Environ(), run.Environ()...)
	env = append(env,
		"CHEFCTL_PHASE="+hook.Phase,
		"CHEFCTL_STATUS="+res.Status(),
		"CHEFCTL_EXIT_CODE="+strconv.Itoa(res.ExitCode),
		"CHEFCTL_LOG_FILE="+res.LogFile,
	)
	cmd.Env = env
	out, err := cmd.CombinedOutput()
	emitOutput(run.Output, hook.DisplayName(), out)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%s: timed out: %w", strings.Join(hook.Command, " "), err)
		}
		return fmt.Errorf("%s: %w", strings.Join(hook.Command, " "), err)
	}
	return nil
}

func emitOutput(w io.Writer, name string, output []byte) {
	if w == nil || len(output) == 0 {
		return
	}
	text := strings.ReplaceAll(string(output), "\r\n", "\n")
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, " \t\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		var b bytes.Buffer
		fmt.Fprintf(&b, "hook %s: %s\n", name, line)
		_, _ = w.Write(b.Bytes())
	}
}

var (
	_ plugin.PreStarter = (*Plugin)(nil)
	_ plugin.PreRunner  = (*Plugin)(nil)
	_ plugin.PostRunner = (*Plugin)(nil)
	_ plugin.PostEnder  = (*Plugin)(nil)
)
