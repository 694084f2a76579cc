package plugin

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
)

// Run is the per-invocation builder every hook receives. Hooks extend the
// pending chef-client arguments and environment through it and register
// temporary files the orchestrator removes once the run is over.
type Run struct {
	ID      string
	Attempt int
	// Output is the run's log stream (the per-attempt log file, teed to the
	// console unless quiet).
	Output io.Writer
	// TempDir is where TempFile creates files; empty means os.TempDir.
	TempDir string
	// Previous is the result of the attempt before the current one; nil
	// during the first attempt.
	Previous *Result

	baseArgs []string
	args     []string
	env      map[string]string
	temps    []string
}

// NewRun returns a Run whose argument list starts as baseArgs.
func NewRun(id string, baseArgs []string, out io.Writer) *Run {
	if out == nil {
		out = io.Discard
	}
	r := &Run{
		ID:       id,
		Output:   out,
		baseArgs: append([]string(nil), baseArgs...),
		env:      map[string]string{},
	}
	r.args = append([]string(nil), r.baseArgs...)
	return r
}

// BeginAttempt resets the argument list to the base arguments so arguments
// appended by pre_run hooks never pile up across reruns.
func (r *Run) BeginAttempt(n int, out io.Writer) {
	r.Attempt = n
	if out != nil {
		r.Output = out
	}
	r.args = append([]string(nil), r.baseArgs...)
}

// Args returns a copy of the pending chef-client arguments.
func (r *Run) Args() []string {
	return append([]string(nil), r.args...)
}

// AppendArgs adds arguments to the pending chef-client invocation.
func (r *Run) AppendArgs(args ...string) {
	r.args = append(r.args, args...)
}

// SetEnv sets an extra environment variable for chef-client and later hooks.
func (r *Run) SetEnv(key, value string) {
	r.env[key] = value
}

// Environ returns the extra environment as sorted KEY=VALUE pairs.
func (r *Run) Environ() []string {
	keys := make([]string, 0, len(r.env))
	for k := range r.env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys)+2)
	for _, k := range keys {
		out = append(out, k+"="+r.env[k])
	}
	out = append(out, "CHEFCTL_RUN_ID="+r.ID, "CHEFCTL_ATTEMPT="+strconv.Itoa(r.Attempt))
	return out
}

// TempFile creates a temporary file registered for cleanup.
func (r *Run) TempFile(pattern string) (*os.File, error) {
	f, err := os.CreateTemp(r.TempDir, pattern)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	r.temps = append(r.temps, f.Name())
	return f, nil
}

// TempFiles lists the registered temporary files.
func (r *Run) TempFiles() []string {
	return append([]string(nil), r.temps...)
}

// Cleanup removes registered temporary files unless preserve is set, in
// which case they are left for debugging and returned.
func (r *Run) Cleanup(preserve bool) ([]string, error) {
	if preserve {
		return r.TempFiles(), nil
	}
	var errs []error
	for _, path := range r.temps {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	r.temps = nil
	return nil, errors.Join(errs...)
}
