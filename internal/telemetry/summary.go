// Package telemetry times the phases of a chefctl run.
package telemetry

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
)

// Summary is the timing report attached to a finished run.
type Summary struct {
	Total    time.Duration
	Phases   map[string]time.Duration
	Attempts int
	Reruns   int
}

// Line renders the summary for the debug log, e.g.
// "Timing: total=4m2s · phases chef-client=3m58s, lock=1s · attempts=2 reruns=1".
func (s Summary) Line() string {
	var parts []string
	if s.Total > 0 {
		parts = append(parts, fmt.Sprintf("total=%s", formatDuration(s.Total)))
	}
	if len(s.Phases) > 0 {
		parts = append(parts, fmt.Sprintf("phases %s", formatPhases(s.Phases)))
	}
	if s.Attempts > 0 {
		parts = append(parts, fmt.Sprintf("attempts=%d reruns=%d", s.Attempts, s.Reruns))
	}
	if len(parts) == 0 {
		return ""
	}
	return "Timing: " + strings.Join(parts, " · ")
}

func formatPhases(phases map[string]time.Duration) string {
	parts := make([]string, 0, len(phases))
	for _, key := range slices.Sorted(maps.Keys(phases)) {
		parts = append(parts, key+"="+formatDuration(phases[key]))
	}
	return strings.Join(parts, ", ")
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	rounded := d.Round(10 * time.Millisecond)
	if rounded <= 0 {
		rounded = d
	}
	return rounded.String()
}

// PhaseTimer accumulates wall time per phase. A nil *PhaseTimer runs the
// tracked functions without timing them.
type PhaseTimer struct {
	mu      sync.Mutex
	now     func() time.Time
	started time.Time
	phases  map[string]time.Duration
}

func NewPhaseTimer(now func() time.Time) *PhaseTimer {
	if now == nil {
		now = time.Now
	}
	return &PhaseTimer{
		now:     now,
		started: now(),
		phases:  map[string]time.Duration{},
	}
}

// Track runs fn and charges its wall time to the named phase.
func (t *PhaseTimer) Track(name string, fn func() error) error {
	if t == nil {
		return fn()
	}
	start := t.now()
	err := fn()
	t.Add(name, t.now().Sub(start))
	return err
}

func (t *PhaseTimer) Add(name string, d time.Duration) {
	if t == nil {
		return
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	t.mu.Lock()
	t.phases[name] += d
	t.mu.Unlock()
}

// Snapshot copies the per-phase durations recorded so far.
func (t *PhaseTimer) Snapshot() map[string]time.Duration {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return maps.Clone(t.phases)
}

func (t *PhaseTimer) Total() time.Duration {
	if t == nil || t.started.IsZero() {
		return 0
	}
	return t.now().Sub(t.started)
}

// Summary snapshots the timer.
func (t *PhaseTimer) Summary(attempts int) Summary {
	s := Summary{Total: t.Total(), Phases: t.Snapshot(), Attempts: attempts}
	if attempts > 1 {
		s.Reruns = attempts - 1
	}
	return s
}
