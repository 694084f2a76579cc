// Package featureflags resolves experimental chefctl behavior toggles from
// --feature values and CHEFCTL_FEATURE_* environment variables.
package featureflags

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
)

// Name is the kebab-case identifier of a feature.
type Name string

const (
	// FeatureAttrsArrayReplace makes list values in JSON attribute fragments
	// replace the base list instead of being unioned into it.
	FeatureAttrsArrayReplace Name = "attrs-array-replace"
	// FeatureTransientRerun registers the log classifier that asks for a
	// chef-client rerun after transient failures.
	FeatureTransientRerun Name = "transient-rerun"
)

const envPrefix = "CHEFCTL_FEATURE_"

// ErrUnknownFeature is returned for a name that is not in Known.
var ErrUnknownFeature = errors.New("unknown feature flag")

// Feature describes one toggle.
type Feature struct {
	Name        Name
	Description string
}

// Known lists every feature chefctl understands, sorted by name.
var Known = []Feature{
	{FeatureAttrsArrayReplace, "replace lists from config.json.d fragments instead of unioning them"},
	{FeatureTransientRerun, "rerun chef-client when a failed run's log shows a transient network or lock failure"},
}

// EnvVar is the variable that switches the feature on, e.g.
// CHEFCTL_FEATURE_TRANSIENT_RERUN=1.
func (f Feature) EnvVar() string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(string(f.Name), "-", "_"))
}

// Usage renders the --feature flag help text.
func Usage() string {
	var b strings.Builder
	b.WriteString("Enable an experimental feature (repeatable or comma separated):")
	for _, f := range Known {
		fmt.Fprintf(&b, "\n  %s: %s", f.Name, f.Description)
	}
	return b.String()
}

// Flags is the resolved feature set for one invocation.
type Flags map[Name]bool

// Enabled reports whether name is on.
func (f Flags) Enabled(name Name) bool { return f[name] }

// Names returns the enabled features in sorted order.
func (f Flags) Names() []string {
	var out []string
	for name, on := range f {
		if on {
			out = append(out, string(name))
		}
	}
	slices.Sort(out)
	return out
}

// Resolve turns raw tokens (flag values, env-derived names) into Flags.
func Resolve(sources ...[]string) (Flags, error) {
	flags := Flags{}
	for _, source := range sources {
		for _, value := range source {
			for _, token := range strings.Split(value, ",") {
				token = strings.TrimSpace(token)
				if token == "" {
					continue
				}
				name := Name(strings.ReplaceAll(strings.ToLower(token), "_", "-"))
				if !known(name) {
					return nil, fmt.Errorf("%w: %s", ErrUnknownFeature, token)
				}
				flags[name] = true
			}
		}
	}
	return flags, nil
}

func known(name Name) bool {
	return slices.ContainsFunc(Known, func(f Feature) bool { return f.Name == name })
}

// EnabledFromEnv returns the feature names switched on by truthy
// CHEFCTL_FEATURE_* entries in environ, or in the process environment when
// environ is nil.
func EnabledFromEnv(environ []string) []string {
	if environ == nil {
		environ = os.Environ()
	}
	var out []string
	for _, entry := range environ {
		key, val, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasPrefix(key, envPrefix) {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "y", "yes", "on":
			out = append(out, strings.TrimPrefix(key, envPrefix))
		}
	}
	return out
}

type ctxKey struct{}

// ContextWithFlags stores flags on ctx.
func ContextWithFlags(ctx context.Context, flags Flags) context.Context {
	return context.WithValue(ctx, ctxKey{}, flags)
}

// FromContext returns the flags stored on ctx; none are enabled when nothing
// was stored.
func FromContext(ctx context.Context) Flags {
	if ctx == nil {
		return nil
	}
	flags, _ := ctx.Value(ctxKey{}).(Flags)
	return flags
}
