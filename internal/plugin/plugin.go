// File: internal/plugin/plugin.go
// Brief: Lifecycle hooks and the ordered plugin registry.

// Package plugin defines the chefctl lifecycle contract. A plugin implements
// Name plus any subset of the phase interfaces; the Registry invokes them in
// registration order and hands every hook the same *Run builder instead of
// shared global state.
package plugin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"
)

// Plugin is anything registered with the orchestrator.
type Plugin interface {
	Name() string
}

// PreStarter runs once, after the lock is taken and before the first attempt.
type PreStarter interface {
	PreStart(ctx context.Context, run *Run) error
}

// PreRunner runs before every chef-client attempt.
type PreRunner interface {
	PreRun(ctx context.Context, run *Run) error
}

// PostRunner runs after every chef-client attempt.
type PostRunner interface {
	PostRun(ctx context.Context, run *Run, res Result) error
}

// Rerunner decides whether a failed attempt should be retried.
type Rerunner interface {
	RerunChef(ctx context.Context, run *Run, res Result) bool
}

// PostEnder runs once after the final attempt, before the lock is released.
type PostEnder interface {
	PostEnd(ctx context.Context, run *Run, res Result) error
}

// Result describes one chef-client attempt.
type Result struct {
	Attempt  int
	ExitCode int
	Err      error
	LogFile  string
	Duration time.Duration
}

// Success reports whether chef-client exited cleanly.
func (r Result) Success() bool {
	return r.Err == nil && r.ExitCode == 0
}

// Status is "success" or "failure", the vocabulary hook conditions use.
func (r Result) Status() string {
	if r.Success() {
		return "success"
	}
	return "failure"
}

// PhaseError wraps a hook failure with the plugin and phase it came from.
type PhaseError struct {
	Plugin string
	Phase  string
	Err    error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("plugin %s %s: %v", e.Plugin, e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

// Registry is the ordered set of plugins owned by the orchestrator.
type Registry struct {
	plugins []Plugin
}

// NewRegistry registers plugins in the given order.
func NewRegistry(plugins ...Plugin) (*Registry, error) {
	r := &Registry{}
	for _, p := range plugins {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register appends p. Names must be unique.
func (r *Registry) Register(p Plugin) error {
	if p == nil {
		return fmt.Errorf("plugin is nil")
	}
	name := strings.TrimSpace(p.Name())
	if name == "" {
		return fmt.Errorf("plugin name is required")
	}
	for _, existing := range r.plugins {
		if existing.Name() == name {
			return fmt.Errorf("plugin %q already registered", name)
		}
	}
	r.plugins = append(r.plugins, p)
	return nil
}

// Plugins returns the registered plugins in invocation order.
func (r *Registry) Plugins() []Plugin {
	return append([]Plugin(nil), r.plugins...)
}

// Names returns the plugin names in invocation order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.plugins))
	for _, p := range r.plugins {
		names = append(names, p.Name())
	}
	return names
}

func (r *Registry) PreStart(ctx context.Context, run *Run) error {
	for _, p := range r.plugins {
		h, ok := p.(PreStarter)
		if !ok {
			continue
		}
		logr.FromContextOrDiscard(ctx).V(1).Info("plugin hook", "plugin", p.Name(), "phase", "pre_start")
		if err := h.PreStart(ctx, run); err != nil {
			return &PhaseError{Plugin: p.Name(), Phase: "pre_start", Err: err}
		}
	}
	return nil
}

func (r *Registry) PreRun(ctx context.Context, run *Run) error {
	for _, p := range r.plugins {
		h, ok := p.(PreRunner)
		if !ok {
			continue
		}
		logr.FromContextOrDiscard(ctx).V(1).Info("plugin hook", "plugin", p.Name(), "phase", "pre_run", "attempt", run.Attempt)
		if err := h.PreRun(ctx, run); err != nil {
			return &PhaseError{Plugin: p.Name(), Phase: "pre_run", Err: err}
		}
	}
	return nil
}

func (r *Registry) PostRun(ctx context.Context, run *Run, res Result) error {
	for _, p := range r.plugins {
		h, ok := p.(PostRunner)
		if !ok {
			continue
		}
		logr.FromContextOrDiscard(ctx).V(1).Info("plugin hook", "plugin", p.Name(), "phase", "post_run", "attempt", res.Attempt)
		if err := h.PostRun(ctx, run, res); err != nil {
			return &PhaseError{Plugin: p.Name(), Phase: "post_run", Err: err}
		}
	}
	return nil
}

// RerunChef asks every Rerunner; any single yes wins.
func (r *Registry) RerunChef(ctx context.Context, run *Run, res Result) bool {
	rerun := false
	for _, p := range r.plugins {
		h, ok := p.(Rerunner)
		if !ok {
			continue
		}
		if h.RerunChef(ctx, run, res) {
			logr.FromContextOrDiscard(ctx).Info("plugin requested chef-client rerun", "plugin", p.Name(), "attempt", res.Attempt)
			rerun = true
		}
	}
	return rerun
}

// PostEnd runs every PostEnder even if one fails and returns the first error.
func (r *Registry) PostEnd(ctx context.Context, run *Run, res Result) error {
	var first error
	for _, p := range r.plugins {
		h, ok := p.(PostEnder)
		if !ok {
			continue
		}
		logr.FromContextOrDiscard(ctx).V(1).Info("plugin hook", "plugin", p.Name(), "phase", "post_end")
		if err := h.PostEnd(ctx, run, res); err != nil {
			logr.FromContextOrDiscard(ctx).Error(err, "post_end hook failed", "plugin", p.Name())
			if first == nil {
				first = &PhaseError{Plugin: p.Name(), Phase: "post_end", Err: err}
			}
		}
	}
	return first
}
