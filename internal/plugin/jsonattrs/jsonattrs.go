// Package jsonattrs is the pre-run hook that merges config.json with the
// fragments in config.json.d and passes the result to chef-client as -j.
package jsonattrs

import (
	"context"
	"fmt"

	"github.com/example/chefctl/internal/attrs"
	"github.com/example/chefctl/internal/config"
	"github.com/example/chefctl/internal/featureflags"
	"github.com/example/chefctl/internal/plugin"
	"github.com/go-logr/logr"
	"github.com/opencontainers/go-digest"
)

const Name = "json-attributes"

// Plugin implements plugin.PreRunner.
type Plugin struct {
	cfg config.JSONAttributes

	// Last holds the digest and path of the most recent document written.
	Last struct {
		Path   string
		Digest digest.Digest
	}
}

func New(cfg config.JSONAttributes) *Plugin {
	return &Plugin{cfg: cfg}
}

func (p *Plugin) Name() string { return Name }

// PreRun writes the merged document to a fresh temp file and appends
// "-j <path>" to the pending chef-client arguments.
func (p *Plugin) PreRun(ctx context.Context, run *plugin.Run) error {
	doc, err := attrs.Load(ctx, Source(ctx, p.cfg))
	if err != nil {
		return err
	}
	if p.cfg.TempDir != "" {
		run.TempDir = p.cfg.TempDir
	}
	f, err := run.TempFile("chefctl-attrs-*.json")
	if err != nil {
		return err
	}
	defer f.Close()
	dg, err := attrs.WriteTo(f, doc.Data)
	if err != nil {
		return err
	}
	p.Last.Path = f.Name()
	p.Last.Digest = dg
	logr.FromContextOrDiscard(ctx).V(1).Info("merged json attributes",
		"base", p.cfg.Base, "fragments", len(doc.Fragments), "path", f.Name(), "digest", dg.String())
	fmt.Fprintf(run.Output, "chefctl: json attributes %s (%d fragments, %s)\n", f.Name(), len(doc.Fragments), dg.Encoded()[:12])
	run.AppendArgs("-j", f.Name())
	return nil
}

// Source maps the json_attributes settings and the active feature flags to
// an attrs.Source.
func Source(ctx context.Context, cfg config.JSONAttributes) attrs.Source {
	return attrs.Source{
		Base:        cfg.Base,
		FragmentDir: cfg.FragmentDir,
		Pattern:     cfg.Pattern,
		Merge: attrs.MergeOptions{
			ReplaceLists: featureflags.FromContext(ctx).Enabled(featureflags.FeatureAttrsArrayReplace),
		},
	}
}

var _ plugin.PreRunner = (*Plugin)(nil)
