package featureflags

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestResolve(t *testing.T) {
	cases := []struct {
		name string
		in   []string
		want []string
	}{
		{"empty", nil, nil},
		{"single", []string{"attrs-array-replace"}, []string{"attrs-array-replace"}},
		{"comma and case", []string{"attrs_array_replace, Transient-Rerun"}, []string{"attrs-array-replace", "transient-rerun"}},
		{"repeated", []string{"transient-rerun", "transient-rerun,"}, []string{"transient-rerun"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			flags, err := Resolve(tc.in)
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if diff := cmp.Diff(tc.want, flags.Names()); diff != "" {
				t.Fatalf("names mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestResolveUnknown(t *testing.T) {
	_, err := Resolve([]string{"not-a-real-flag"})
	if !errors.Is(err, ErrUnknownFeature) {
		t.Fatalf("expected ErrUnknownFeature, got %v", err)
	}
}

func TestEnabledFromEnv(t *testing.T) {
	env := []string{
		"CHEFCTL_FEATURE_TRANSIENT_RERUN=1",
		"SOME_OTHER=value",
		"CHEFCTL_FEATURE_ATTRS_ARRAY_REPLACE=0",
	}
	flags, err := Resolve(EnabledFromEnv(env))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !flags.Enabled(FeatureTransientRerun) || flags.Enabled(FeatureAttrsArrayReplace) {
		t.Fatalf("unexpected flags %v", flags.Names())
	}
}

func TestEnabledFromEnvUsesProcessEnv(t *testing.T) {
	t.Setenv("CHEFCTL_FEATURE_ATTRS_ARRAY_REPLACE", "yes")
	flags, err := Resolve(EnabledFromEnv(nil))
	if err != nil {
		t.Fatal(err)
	}
	if !flags.Enabled(FeatureAttrsArrayReplace) {
		t.Fatalf("expected process env to enable the flag")
	}
}

func TestContextHelpers(t *testing.T) {
	flags, err := Resolve([]string{"transient-rerun"})
	if err != nil {
		t.Fatal(err)
	}
	ctx := ContextWithFlags(context.Background(), flags)
	if !FromContext(ctx).Enabled(FeatureTransientRerun) {
		t.Fatalf("expected flag to survive the context")
	}
	if FromContext(context.Background()).Enabled(FeatureTransientRerun) {
		t.Fatalf("bare context should not enable anything")
	}
}

func TestKnownFeatures(t *testing.T) {
	for _, f := range Known {
		if !strings.HasPrefix(f.EnvVar(), "CHEFCTL_FEATURE_") || strings.Contains(f.EnvVar(), "-") {
			t.Fatalf("bad env var %q", f.EnvVar())
		}
		if !strings.Contains(Usage(), string(f.Name)) {
			t.Fatalf("usage does not mention %s", f.Name)
		}
	}
	if got := Known[1].EnvVar(); got != "CHEFCTL_FEATURE_TRANSIENT_RERUN" {
		t.Fatalf("unexpected env var %q", got)
	}
}
