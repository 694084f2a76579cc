package config

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ValidateHooks checks every configured hook and normalizes phase/when casing.
func ValidateHooks(hooks []HookSpec) error {
	seen := make(map[string]struct{}, len(hooks))
	for i := range hooks {
		h := &hooks[i]
		where := fmt.Sprintf("hooks[%d]", i)
		if name := strings.TrimSpace(h.Name); name != "" {
			where = fmt.Sprintf("hooks[%d] (%s)", i, name)
			if _, dup := seen[name]; dup {
				return fmt.Errorf("%s: duplicate hook name", where)
			}
			seen[name] = struct{}{}
		}
		if err := validateHookSpec(h, where); err != nil {
			return err
		}
	}
	return nil
}

func validateHookSpec(h *HookSpec, where string) error {
	h.Phase = strings.ToLower(strings.TrimSpace(h.Phase))
	switch h.Phase {
	case PhasePreStart, PhasePreRun, PhasePostRun, PhasePostEnd:
	case "":
		return fmt.Errorf("%s: phase is required (pre_start|pre_run|post_run|post_end)", where)
	default:
		return fmt.Errorf("%s: unknown phase %q (expected pre_start|pre_run|post_run|post_end)", where, h.Phase)
	}
	if len(h.Command) == 0 || strings.TrimSpace(h.Command[0]) == "" {
		return fmt.Errorf("%s: command is required", where)
	}
	h.When = strings.ToLower(strings.TrimSpace(h.When))
	switch h.When {
	case "", "success", "failure", "always":
	default:
		return fmt.Errorf("%s: when must be success|failure|always (got %q)", where, h.When)
	}
	if h.Phase == PhasePreStart && h.When != "" && h.When != "always" {
		return fmt.Errorf("%s: pre_start hooks run before chef-client and only accept when: always (got %q)", where, h.When)
	}
	if h.Retry < 0 {
		return fmt.Errorf("%s: retry must be >= 1 (got %d)", where, h.Retry)
	}
	if h.Timeout < 0 {
		return fmt.Errorf("%s: timeout must be > 0 (got %s)", where, h.Timeout)
	}
	return nil
}

// EffectiveWhen resolves the default condition: pre_* hooks always run,
// post_* hooks run only after a successful chef-client run. For pre_run the
// condition is checked against the previous attempt, which counts as a
// success on the first attempt.
func (h HookSpec) EffectiveWhen() string {
	if h.When != "" {
		return h.When
	}
	if strings.HasPrefix(h.Phase, "pre_") {
		return "always"
	}
	return "success"
}

// DisplayName is the hook name, falling back to the command basename.
func (h HookSpec) DisplayName() string {
	if name := strings.TrimSpace(h.Name); name != "" {
		return name
	}
	if len(h.Command) > 0 {
		cmd := h.Command[0]
		if idx := strings.LastIndexAny(cmd, `/\`); idx >= 0 {
			cmd = cmd[idx+1:]
		}
		return cmd
	}
	return "hook"
}

// hookView renders Timeout as a duration string instead of nanoseconds.
type hookView struct {
	Name    string   `yaml:"name,omitempty" json:"name,omitempty"`
	Phase   string   `yaml:"phase" json:"phase"`
	Command []string `yaml:"command" json:"command"`
	When    string   `yaml:"when" json:"when"`
	Timeout string   `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Retry   int      `yaml:"retry,omitempty" json:"retry,omitempty"`
}

func (h HookSpec) view() hookView {
	v := hookView{Name: h.Name, Phase: h.Phase, Command: h.Command, When: h.EffectiveWhen(), Retry: h.Retry}
	if h.Timeout > 0 {
		v.Timeout = h.Timeout.String()
	}
	return v
}

func (h HookSpec) MarshalYAML() (any, error) { return h.view(), nil }

func (h HookSpec) MarshalJSON() ([]byte, error) { return json.Marshal(h.view()) }
